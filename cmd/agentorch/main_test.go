package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/TheLazyLemur/agentorch/internal/cli"
	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// echoSpawner replies "re: <prompt>" and fails prompts starting with "fail".
type echoSpawner struct {
	mu    sync.Mutex
	calls []cli.Command
}

func (s *echoSpawner) Spawn(_ context.Context, c cli.Command) (cli.ProcessOutput, error) {
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()

	prompt := c.Args[1]
	if strings.HasPrefix(prompt, "fail") {
		return cli.ProcessOutput{Stderr: "refused", ExitCode: 1}, nil
	}
	return cli.ProcessOutput{Stdout: "re: " + prompt + "\n"}, nil
}

func (s *echoSpawner) commands() []cli.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cli.Command(nil), s.calls...)
}

func onPath(executables ...string) cli.LookupFunc {
	return func(file string) (string, error) {
		for _, e := range executables {
			if e == file {
				return "/opt/bin/" + file, nil
			}
		}
		return "", &exec.Error{Name: file, Err: exec.ErrNotFound}
	}
}

type harness struct {
	spawner *echoSpawner
	env     map[string]string
	path    cli.LookupFunc
	stdin   string
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

func newHarness() *harness {
	return &harness{
		spawner: &echoSpawner{},
		env:     map[string]string{},
		path:    onPath("claude", "agent"),
	}
}

func (h *harness) run(args ...string) error {
	d := deps{env: h.env, spawner: h.spawner, lookPath: h.path}
	return execute(d, args, strings.NewReader(h.stdin), &h.stdout, &h.stderr)
}

func TestRun_PromptFromArgs(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	h := newHarness()

	// when
	err := h.run("run", "--system", "be brief", "hello", "world")

	// then
	r.NoError(err)
	a.Equal("re: be brief\n\nhello world\n", h.stdout.String())
	cmds := h.spawner.commands()
	r.Len(cmds, 1)
	a.Equal("claude", cmds[0].Executable)
	a.Equal([]string{"-p", "be brief\n\nhello world", "--output-format", "text"}, cmds[0].Args)
}

func TestRun_TraceConsoleKeepsStdoutClean(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	h := newHarness()
	h.env["AGENTORCH_TRACE_CONSOLE"] = "true"

	// when
	err := h.run("run", "hello")

	// then
	r.NoError(err)
	a.Equal("re: hello\n", h.stdout.String())
	a.Contains(h.stderr.String(), "agentorch.invoke")
}

func TestRun_PromptFromStdin(t *testing.T) {
	h := newHarness()
	h.stdin = "from stdin\n"

	err := h.run("run")

	require.NoError(t, err)
	assert.Equal(t, "re: from stdin\n", h.stdout.String())
}

func TestRun_EmptyPromptSpawnsNothing(t *testing.T) {
	a := assert.New(t)

	h := newHarness()
	h.stdin = "   \n"

	err := h.run("run")

	a.True(core.IsKind(err, core.KindEmptyPrompt))
	a.Empty(h.spawner.commands())
}

func TestRun_FlagsOverrideEnv(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	h := newHarness()
	h.env = map[string]string{
		"AGENTORCH_BACKEND": "cursor",
		"AGENTORCH_MODE":    "ask",
	}

	// when
	r.NoError(h.run("run", "q"))
	r.NoError(h.run("run", "--backend", "claude", "--mode", "plan", "--output-format", "json", "-C", "/repo", "q"))

	// then
	cmds := h.spawner.commands()
	r.Len(cmds, 2)
	a.Equal("agent", cmds[0].Executable)
	a.Contains(cmds[0].Args, "--mode=ask")
	a.Equal("claude", cmds[1].Executable)
	a.Contains(cmds[1].Args, "--mode=plan")
	a.Contains(cmds[1].Args, "json")
	a.Equal("/repo", cmds[1].Dir)
}

func TestRun_MissingBackend(t *testing.T) {
	h := newHarness()
	h.path = onPath()

	err := h.run("run", "q")

	assert.True(t, core.IsKind(err, core.KindBackendNotFound))
}

func TestBatch_InlinePromptsJSON(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	h := newHarness()

	// when
	err := h.run("batch", "--json", "-w", "3", "-p", "one", "-p", "two", "-p", "three")

	// then
	r.NoError(err)
	var units []unitOutput
	r.NoError(json.Unmarshal(h.stdout.Bytes(), &units))
	r.Len(units, 3)
	a.Equal("re: one", units[0].Output)
	a.Equal("re: two", units[1].Output)
	a.Equal("re: three", units[2].Output)
}

func TestBatch_PromptFilesWithSharedSystem(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	dir := t.TempDir()
	r.NoError(os.WriteFile(filepath.Join(dir, "01-a.md"), []byte("---\nname: alpha\nsystem: be strict\n---\nreview a\n"), 0o644))
	r.NoError(os.WriteFile(filepath.Join(dir, "02-b.md"), []byte("---\nname: beta\nbackend: cursor\n---\nreview b\n"), 0o644))
	h := newHarness()

	// when
	err := h.run("batch", "--shared-system", "repo: agentorch", dir)

	// then
	r.NoError(err)
	out := h.stdout.String()
	a.Contains(out, "=== [0] alpha ===")
	a.Contains(out, "=== [1] beta ===")
	a.Less(strings.Index(out, "alpha"), strings.Index(out, "beta"))

	prompts := map[string]string{}
	for _, c := range h.spawner.commands() {
		prompts[c.Executable] = c.Args[1]
	}
	a.Equal("repo: agentorch\n\nbe strict\n\nreview a", prompts["claude"])
	a.Equal("repo: agentorch\n\nreview b", prompts["agent"])
}

func TestBatch_UnknownBackendSpawnsNothing(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	dir := t.TempDir()
	r.NoError(os.WriteFile(filepath.Join(dir, "01-a.md"), []byte("---\nname: alpha\n---\nreview a\n"), 0o644))
	r.NoError(os.WriteFile(filepath.Join(dir, "02-b.md"), []byte("---\nname: beta\nbackend: bogus\n---\nreview b\n"), 0o644))

	for _, args := range [][]string{
		{"batch", dir},
		{"batch", "--interruptible", dir},
	} {
		h := newHarness()

		// when
		err := h.run(args...)

		// then
		a.True(core.IsKind(err, core.KindInvalidBackend), "args %v", args)
		a.Contains(err.Error(), "requests[1]")
		a.Empty(h.spawner.commands())
		a.Empty(h.stdout.String())
	}
}

func TestBatch_FailureReportsAggregate(t *testing.T) {
	a := assert.New(t)

	h := newHarness()

	err := h.run("batch", "-p", "ok", "-p", "fail now", "-p", "fail later")

	a.Error(err)
	a.Contains(err.Error(), "invocation 1 failed")
	a.Contains(err.Error(), "2 of 3 invocations failed")
	a.Empty(h.stdout.String())
	a.Len(h.spawner.commands(), 3)
}

func TestBatch_InterruptibleReportsPerUnit(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	h := newHarness()

	// when
	err := h.run("batch", "--interruptible", "--json", "-p", "ok", "-p", "fail")

	// then
	r.Error(err)
	a.Contains(err.Error(), "1 of 2 invocations failed")
	var units []unitOutput
	r.NoError(json.Unmarshal(h.stdout.Bytes(), &units))
	r.Len(units, 2)
	a.Equal("re: ok", units[0].Output)
	a.Contains(units[1].Error, "refused")
}

func TestBatch_EmptyIsInvalid(t *testing.T) {
	h := newHarness()

	err := h.run("batch")

	assert.True(t, core.IsKind(err, core.KindInvalidRequest))
}

func TestChat_ConversationCommands(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	// given
	h := newHarness()
	h.stdin = "hi\nmore\n/turns\n/reset\n/turns\n/exit\nnever sent\n"

	// when
	err := h.run("chat")

	// then
	r.NoError(err)
	out := h.stdout.String()
	a.Contains(out, "re: hi")
	a.Contains(out, "re: User: hi\n\nAssistant: re: hi\n\nUser: more")
	a.Contains(out, "> 2\n")
	a.Contains(out, "conversation reset")
	a.Contains(out, "> 0\n")
	a.Len(h.spawner.commands(), 2)
}

func TestChat_ErrorKeepsGoing(t *testing.T) {
	a := assert.New(t)

	h := newHarness()
	h.stdin = "fail once\nhello\n"

	err := h.run("chat")

	a.NoError(err)
	a.Contains(h.stderr.String(), "error:")
	a.Contains(h.stdout.String(), "re: User: fail once\n\nUser: hello")
}

func TestBackends_ListsAvailability(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	h := newHarness()
	h.path = onPath("claude")

	r.NoError(h.run("backends"))

	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	r.Len(lines, 3)
	a.Contains(lines[1], "claude")
	a.Contains(lines[1], "/opt/bin/claude")
	a.Contains(lines[2], "cursor")
	a.Contains(lines[2], "not found")
}

func TestDashboard_StartsAndStops(t *testing.T) {
	h := newHarness()

	err := h.run("--dashboard", "127.0.0.1:0", "batch", "-p", "one", "-p", "two")

	require.NoError(t, err)
	assert.Contains(t, h.stdout.String(), "re: two")
}

func TestInvalidFlagValue(t *testing.T) {
	h := newHarness()

	err := h.run("--output-format", "xml", "run", "q")

	assert.True(t, core.IsKind(err, core.KindInvalidRequest))
}
