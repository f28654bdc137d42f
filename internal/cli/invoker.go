package cli

import (
	"context"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/TheLazyLemur/agentorch/internal/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout applies when neither the request nor the invoker sets one.
const DefaultTimeout = 300 * time.Second

var _ core.Invoker = (*Invoker)(nil)

// Invoker runs one agent executable per request, non-interactively.
type Invoker struct {
	resolver       *Resolver
	spawner        ProcessSpawner
	defaultTimeout time.Duration
	dirs           DirPolicy
	metrics        *telemetry.Metrics
}

// NewInvoker creates an invoker. defaultTimeout of 0 means requests without
// their own timeout never time out.
func NewInvoker(resolver *Resolver, spawner ProcessSpawner, defaultTimeout time.Duration) *Invoker {
	if spawner == nil {
		spawner = NewRealProcessSpawner()
	}
	return &Invoker{resolver: resolver, spawner: spawner, defaultTimeout: defaultTimeout}
}

// WithMetrics records invocation counts and latency on m.
func (i *Invoker) WithMetrics(m *telemetry.Metrics) *Invoker {
	i.metrics = m
	return i
}

// WithDirPolicy rejects requests whose WorkDir falls outside p.
func (i *Invoker) WithDirPolicy(p DirPolicy) *Invoker {
	i.dirs = p
	return i
}

// Invoke validates req, resolves its backend and runs the executable to
// completion, returning stdout with surrounding whitespace trimmed.
func (i *Invoker) Invoke(ctx context.Context, req core.Request) (string, error) {
	// nothing is resolved or spawned for an empty prompt
	if strings.TrimSpace(req.Prompt) == "" {
		return "", core.ErrEmptyPrompt()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !i.dirs.Allows(req.WorkDir) {
		return "", core.NewInvocationError(core.KindInvalidRequest, "",
			"workdir %q is outside the allowed directories", req.WorkDir)
	}

	backend, err := i.resolver.Resolve(req.Backend)
	if err != nil {
		return "", err
	}

	return i.run(ctx, backend, req)
}

func (i *Invoker) run(ctx context.Context, backend BackendInfo, req core.Request) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "agentorch.invoke", trace.WithAttributes(
		attribute.String("agentorch.backend", backend.Name),
		attribute.String("agentorch.executable", backend.Executable),
	))
	defer span.End()

	timeout := i.timeoutFor(req)
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := Command{
		Executable: backend.Executable,
		Args:       BuildArgs(req),
		Dir:        req.WorkDir,
	}

	slog.Debug("spawning agent", "backend", backend.Name, "dir", cmd.Dir, "timeout", timeout)
	start := time.Now()
	out, spawnErr := i.spawner.Spawn(runCtx, cmd)
	elapsed := time.Since(start)

	result, err := classify(ctx, runCtx, backend, timeout, out, spawnErr)

	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("agentorch.outcome", outcome))
	i.metrics.RecordInvocation(ctx, backend.Name, outcome, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		slog.Warn("agent invocation failed", "backend", backend.Name, "outcome", outcome, "elapsed", elapsed, "error", err)
		return "", err
	}

	slog.Debug("agent finished", "backend", backend.Name, "elapsed", elapsed, "bytes", len(result))
	return result, nil
}

func (i *Invoker) timeoutFor(req core.Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return i.defaultTimeout
}

func classify(parent, runCtx context.Context, backend BackendInfo, timeout time.Duration, out ProcessOutput, spawnErr error) (string, error) {
	exe := backend.Executable

	if spawnErr != nil {
		switch {
		case parent.Err() != nil:
			return "", errors.Wrapf(parent.Err(), "%s invocation canceled", exe)
		case timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return "", core.NewInvocationError(core.KindTimeout, strings.TrimSpace(out.Stderr),
				"%s timed out after %s", exe, timeout)
		case isNotFound(spawnErr):
			return "", core.NewInvocationError(core.KindBackendNotFound, "",
				"%s not found on PATH", exe)
		}
		return "", errors.Wrapf(spawnErr, "running %s", exe)
	}

	if out.ExitCode != 0 {
		return "", core.NonZeroExit(exe, out.ExitCode, failureDetail(out))
	}

	return strings.TrimSpace(out.Stdout), nil
}

func failureDetail(out ProcessOutput) string {
	if s := strings.TrimSpace(out.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(out.Stdout); s != "" {
		return s
	}
	return "no output"
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := core.KindOf(err); ok {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

// BuildArgs returns the argv (without the executable) for req:
// -p <prompt> --output-format <fmt> [--mode=<mode>] [extra...].
func BuildArgs(req core.Request) []string {
	format, err := core.ParseOutputFormat(string(req.OutputFormat))
	if err != nil {
		format = core.OutputText
	}

	args := []string{"-p", req.FullPrompt(), "--output-format", string(format)}
	if req.Mode != "" {
		args = append(args, "--mode="+req.Mode)
	}
	return append(args, req.ExtraArgs...)
}
