package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/SidGoyal2014/gah-final-submission/internal/upstream"
)

// DefaultTimeout bounds a single capability call.
const DefaultTimeout = 10 * time.Second

// Invoker runs capability calls with a deadline and converts every error
// into a typed Failure. It never returns an error to its caller.
type Invoker struct {
	sources map[Kind]Source
	timeout time.Duration
	logger  *slog.Logger

	calls   metric.Int64Counter
	latency metric.Float64Histogram
}

// NewInvoker creates an Invoker over the given sources.
func NewInvoker(timeout time.Duration, logger *slog.Logger, sources ...Source) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invoker{
		sources: make(map[Kind]Source, len(sources)),
		timeout: timeout,
		logger:  logger,
	}
	for _, s := range sources {
		inv.sources[s.Kind()] = s
	}

	var err error
	inv.calls, err = meter.Int64Counter("capability.calls",
		metric.WithDescription("Capability invocations by kind and outcome."))
	if err != nil {
		logger.Warn("capability call counter unavailable", "error", err)
	}
	inv.latency, err = meter.Float64Histogram("capability.duration",
		metric.WithDescription("Capability call latency."), metric.WithUnit("s"))
	if err != nil {
		logger.Warn("capability latency histogram unavailable", "error", err)
	}
	return inv
}

// Timeout returns the per-call deadline.
func (i *Invoker) Timeout() time.Duration { return i.timeout }

type fetchOutcome struct {
	payload any
	err     error
}

// Invoke runs call on behalf of userID.
func (i *Invoker) Invoke(ctx context.Context, userID string, call Call) Result {
	kind := call.Kind()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "capability "+string(kind), trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("capability.kind", string(kind)))

	res := Result{Kind: kind, Call: call}

	src, ok := i.sources[kind]
	if !ok {
		res.Failure = &Failure{Reason: FailureUnconfigured, Detail: "no source registered"}
		return i.finish(ctx, userID, res, start)
	}

	callCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan fetchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchOutcome{err: fmt.Errorf("source panic: %v", r)}
			}
		}()
		payload, err := src.Fetch(callCtx, call)
		done <- fetchOutcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			res.Failure = classify(callCtx, out.err)
		} else {
			res.Payload = out.payload
		}
	case <-callCtx.Done():
		res.Failure = classify(callCtx, callCtx.Err())
	}

	if res.Failure != nil {
		span.RecordError(res.Failure)
		span.SetStatus(codes.Error, string(res.Failure.Reason))
	}
	return i.finish(ctx, userID, res, start)
}

func (i *Invoker) finish(ctx context.Context, userID string, res Result, start time.Time) Result {
	res.Elapsed = time.Since(start)
	outcome := "ok"
	if res.Failure != nil {
		outcome = string(res.Failure.Reason)
		i.logger.Warn("capability failed",
			"user_id", userID,
			"capability", res.Kind,
			"reason", res.Failure.Reason,
			"error", res.Failure.Detail,
			"elapsed", res.Elapsed)
	} else {
		i.logger.Debug("capability succeeded", "user_id", userID, "capability", res.Kind, "elapsed", res.Elapsed)
	}

	attrs := metric.WithAttributes(
		attribute.String("capability.kind", string(res.Kind)),
		attribute.String("capability.outcome", outcome),
	)
	if i.calls != nil {
		i.calls.Add(ctx, 1, attrs)
	}
	if i.latency != nil {
		i.latency.Record(ctx, res.Elapsed.Seconds(), attrs)
	}
	return res
}

// classify maps an error to a failure reason.
func classify(callCtx context.Context, err error) *Failure {
	f := &Failure{Detail: err.Error()}
	switch {
	case errors.Is(err, ErrUnconfigured):
		f.Reason = FailureUnconfigured
	case errors.Is(err, ErrEmpty):
		f.Reason = FailureEmpty
	case errors.Is(err, upstream.ErrMalformed):
		f.Reason = FailureMalformed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		f.Reason = FailureTimeout
	default:
		f.Reason = FailureUpstream
	}
	return f
}
