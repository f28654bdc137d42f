package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DispatchInterruptible runs the batch like DispatchAll but honours token.
//
// A worker checks the token right before invoking and records nothing if it
// is set. The submit loop checks it again each time a worker slot frees up and
// stops scheduling once it is set. Running invocations are never killed.
//
// The returned slice has one entry per request; nil means the unit never ran.
// Invocation failures are reported in Result.Err rather than as an error. The
// error return is only for batch validation.
func (d *Dispatcher) DispatchInterruptible(ctx context.Context, b Batch, token *InterruptToken) ([]*core.Result, error) {
	reqs, err := d.prepare(b)
	if err != nil {
		return nil, err
	}

	workers := ClampWorkers(b.MaxWorkers)
	obs := observerOf(b)
	batchID := batchIDOf(b)

	ctx, span := startBatchSpan(ctx, "interruptible", len(reqs), workers)
	defer span.End()

	slog.Info("dispatching interruptible batch", "batch", batchID, "size", len(reqs), "workers", workers)
	start := time.Now()

	results := make([]*core.Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(workers)

	submitted := 0
	for i := range reqs {
		// Go blocks until a slot is free, so this runs once per finished unit
		if token.IsInterrupted() {
			break
		}
		submitted++
		i := i
		g.Go(func() error {
			if token.IsInterrupted() {
				obs.Skipped(i)
				return nil
			}
			res := d.runUnit(ctx, i, reqs[i], obs)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	for i := submitted; i < len(reqs); i++ {
		obs.Skipped(i)
	}

	var skipped, failed int
	for _, res := range results {
		switch {
		case res == nil:
			skipped++
		case res.Err != nil:
			failed++
		}
	}

	outcome := "ok"
	switch {
	case skipped > 0:
		outcome = "interrupted"
	case failed > 0:
		outcome = "partial_failure"
	}

	span.SetAttributes(
		attribute.Int("agentorch.skipped", skipped),
		attribute.Int("agentorch.failed", failed),
	)
	d.metrics.RecordBatch(ctx, "interruptible", outcome, skipped)
	slog.Info("interruptible batch finished", "batch", batchID, "outcome", outcome,
		"skipped", skipped, "failed", failed, "elapsed", time.Since(start))

	return results, nil
}
