// Package dispatch fans agent invocations out over a bounded worker pool and
// collects results back in submission order.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/TheLazyLemur/agentorch/internal/telemetry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	MinWorkers     = 1
	MaxWorkers     = 10
	DefaultWorkers = 5
)

// ClampWorkers bounds n to [MinWorkers, MaxWorkers].
func ClampWorkers(n int) int {
	return max(MinWorkers, min(n, MaxWorkers))
}

// Batch is an ordered list of requests dispatched together.
type Batch struct {
	// ID tags the batch in logs; one is generated when empty.
	ID       string
	Requests []core.Request
	// SharedSystem is prefixed to every request's own system text.
	SharedSystem core.Content
	MaxWorkers   int
	Observer     Observer
}

// Dispatcher runs batches against an Invoker.
type Dispatcher struct {
	invoker      core.Invoker
	metrics      *telemetry.Metrics
	checkBackend func(name string) error
}

// New creates a dispatcher.
func New(invoker core.Invoker) *Dispatcher {
	return &Dispatcher{invoker: invoker}
}

// WithMetrics records batch outcomes on m.
func (d *Dispatcher) WithMetrics(m *telemetry.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// WithBackendCheck rejects a batch up front when check fails for any
// request's backend name.
func (d *Dispatcher) WithBackendCheck(check func(name string) error) *Dispatcher {
	d.checkBackend = check
	return d
}

// DispatchAll runs every request and returns outputs in request order. If any
// unit fails it still waits for all of them, then returns a *core.BatchError
// naming the lowest failing index. Outputs of successful units are discarded
// in that case.
func (d *Dispatcher) DispatchAll(ctx context.Context, b Batch) ([]string, error) {
	reqs, err := d.prepare(b)
	if err != nil {
		return nil, err
	}

	workers := ClampWorkers(b.MaxWorkers)
	obs := observerOf(b)
	batchID := batchIDOf(b)

	ctx, span := startBatchSpan(ctx, "all", len(reqs), workers)
	defer span.End()

	slog.Info("dispatching batch", "batch", batchID, "size", len(reqs), "workers", workers)
	start := time.Now()

	results := make([]core.Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range reqs {
		i := i
		g.Go(func() error {
			results[i] = d.runUnit(ctx, i, reqs[i], obs)
			return nil
		})
	}
	_ = g.Wait()

	var batchErr *core.BatchError
	for i, res := range results {
		if res.Err == nil {
			continue
		}
		if batchErr == nil {
			batchErr = &core.BatchError{FirstIndex: i, Cause: res.Err, TotalCount: len(reqs)}
		}
		batchErr.FailedCount++
	}

	if batchErr != nil {
		span.SetAttributes(attribute.Int("agentorch.failed", batchErr.FailedCount))
		span.SetStatus(codes.Error, "batch failed")
		d.metrics.RecordBatch(ctx, "all", "failed", 0)
		slog.Warn("batch failed", "batch", batchID, "first", batchErr.FirstIndex,
			"failed", batchErr.FailedCount, "elapsed", time.Since(start))
		return nil, batchErr
	}

	outputs := make([]string, len(results))
	for i, res := range results {
		outputs[i] = res.Output
	}

	d.metrics.RecordBatch(ctx, "all", "ok", 0)
	slog.Info("batch finished", "batch", batchID, "size", len(reqs), "elapsed", time.Since(start))
	return outputs, nil
}

func (d *Dispatcher) runUnit(ctx context.Context, index int, req core.Request, obs Observer) core.Result {
	obs.Started(index)
	out, err := d.invoker.Invoke(ctx, req)
	res := core.Result{Output: out, Err: err}
	obs.Finished(index, res)
	return res
}

// prepare validates the batch and composes the shared system text into each
// request. Nothing is scheduled when it fails.
func (d *Dispatcher) prepare(b Batch) ([]core.Request, error) {
	if len(b.Requests) == 0 {
		return nil, core.NewInvocationError(core.KindInvalidRequest, "", "batch must contain at least one request")
	}

	shared := core.Flatten(b.SharedSystem)
	reqs := make([]core.Request, len(b.Requests))
	for i, req := range b.Requests {
		if err := req.Validate(); err != nil {
			return nil, errors.Wrapf(err, "requests[%d]", i)
		}
		if d.checkBackend != nil {
			if err := d.checkBackend(req.Backend); err != nil {
				return nil, errors.Wrapf(err, "requests[%d]", i)
			}
		}
		req.System = core.JoinSections(shared, req.System)
		reqs[i] = req
	}
	return reqs, nil
}

func batchIDOf(b Batch) string {
	if b.ID != "" {
		return b.ID
	}
	return uuid.NewString()
}

func observerOf(b Batch) Observer {
	if b.Observer == nil {
		return nopObserver{}
	}
	return b.Observer
}

func startBatchSpan(ctx context.Context, mode string, size, workers int) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, "agentorch.dispatch", trace.WithAttributes(
		attribute.String("agentorch.mode", mode),
		attribute.Int("agentorch.size", size),
		attribute.Int("agentorch.workers", workers),
	))
}
