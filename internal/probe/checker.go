// Package probe reports dependency health over HTTP and the gRPC health protocol.
package probe

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

// Result is the outcome of one check.
type Result struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Latency  string `json:"latency"`
}

// Report aggregates one run of every check.
type Report struct {
	// Healthy is false when any critical check failed.
	Healthy bool     `json:"healthy"`
	Checks  []Result `json:"checks"`
}

type check struct {
	name     string
	fn       CheckFunc
	critical bool
}

// Checker runs registered checks concurrently, each bounded by a timeout.
type Checker struct {
	timeout time.Duration

	mu     sync.RWMutex
	checks []check
}

// NewChecker creates a Checker.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{timeout: timeout}
}

// Add registers a check. Non-critical failures are reported but do not make
// the service unhealthy.
func (c *Checker) Add(name string, fn CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check{name: name, fn: fn, critical: critical})
}

// Names lists registered checks in registration order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.checks))
	for i, ch := range c.checks {
		out[i] = ch.name
	}
	return out
}

// Run executes every check and returns results in registration order.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]check(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, ch := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			start := time.Now()
			err := ch.fn(cctx)
			res := Result{
				Name:     ch.name,
				Healthy:  err == nil,
				Critical: ch.critical,
				Latency:  time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Healthy: true, Checks: results}
	for _, r := range results {
		if r.Critical && !r.Healthy {
			report.Healthy = false
		}
	}
	return report
}
