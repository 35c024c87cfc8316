// Package janitor prunes stored conversations past the retention window.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"github.com/SidGoyal2014/gah-final-submission/internal/shared"
)

// Pruner deletes turns older than a window and returns what it removed.
type Pruner interface {
	PruneTurns(ctx context.Context, olderThan time.Duration) (turns, sessions int64, err error)
}

// Janitor runs Sweep on a cron schedule.
type Janitor struct {
	repo      Pruner
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	backoff   func() retry.Backoff

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Janitor. schedule accepts standard cron specs and
// descriptors such as "@every 1h".
func New(repo Pruner, retention time.Duration, schedule string, logger *slog.Logger) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	j := &Janitor{
		repo:      repo,
		retention: retention,
		logger:    logger,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))
		},
	}
	j.ctx, j.cancel = context.WithCancel(context.Background())

	if _, err := j.cron.AddFunc(schedule, func() {
		if _, _, err := j.Sweep(j.ctx); err != nil {
			j.logger.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.logger.Info("retention janitor started", "retention", j.retention)
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep or ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	j.cancel()
	select {
	case <-j.cron.Stop().Done():
		j.logger.Info("retention janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep prunes once, retrying while SQLite reports busy or locked.
func (j *Janitor) Sweep(ctx context.Context) (int64, int64, error) {
	var turns, sessions int64
	attempt := 0
	err := retry.Do(ctx, j.backoff(), func(ctx context.Context) error {
		attempt++
		var err error
		turns, sessions, err = j.repo.PruneTurns(ctx, j.retention)
		if err != nil && shared.IsSQLiteConflictError(err) {
			j.logger.Debug("retention sweep hit a busy database, retrying", "attempt", attempt)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			j.logger.Debug("retention sweep cancelled", "error", err)
			return turns, sessions, nil
		}
		return turns, sessions, fmt.Errorf("prune after %d attempts: %w", attempt, err)
	}
	if turns > 0 || sessions > 0 {
		j.logger.Info("retention sweep completed", "turns", turns, "sessions", sessions)
	}
	return turns, sessions, nil
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
