package cli

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the
// process has been killed.
const waitDelay = 2 * time.Second

// Command is one child process to run to completion.
type Command struct {
	Executable string
	Args       []string
	Dir        string
}

// ProcessOutput is what a finished (or killed) child wrote.
type ProcessOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProcessSpawner abstracts process creation for testing.
//
// Spawn blocks until the child has been reaped. A child that ran and exited,
// whatever its code, yields a nil error. A non-nil error means the child
// could not start or was killed because ctx ended; output captured so far is
// still returned.
type ProcessSpawner interface {
	Spawn(ctx context.Context, cmd Command) (ProcessOutput, error)
}

var _ ProcessSpawner = (*RealProcessSpawner)(nil)

// RealProcessSpawner wraps exec.Cmd.
type RealProcessSpawner struct{}

func NewRealProcessSpawner() *RealProcessSpawner {
	return &RealProcessSpawner{}
}

func (RealProcessSpawner) Spawn(ctx context.Context, c Command) (ProcessOutput, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.Executable, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	out := ProcessOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		out.ExitCode = -1
		return out, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		out.ExitCode = -1
		return out, err
	}
	return out, nil
}
