// Package conversation keeps a multi-turn exchange with an agent by replaying
// the whole transcript on every send.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/google/uuid"
)

// Thread is an in-memory conversation. Each Send is a fresh, stateless
// invocation carrying the full history. Safe for concurrent use; sends are
// serialized.
type Thread struct {
	invoker core.Invoker
	system  string
	base    core.Request

	mu    sync.Mutex
	id    string
	turns []core.Turn
}

// New creates an empty thread. base supplies backend, timeout and the other
// per-invocation settings; its Prompt and System are ignored.
func New(invoker core.Invoker, system core.Content, base core.Request) *Thread {
	return &Thread{
		invoker: invoker,
		system:  core.Flatten(system),
		base:    base,
		id:      uuid.NewString(),
	}
}

// Send appends msg as a user turn, invokes the agent with the transcript and
// appends the reply as an assistant turn.
//
// On failure the user turn stays in the log and no assistant turn is added.
// An empty message is rejected before anything is recorded.
func (t *Thread) Send(ctx context.Context, msg core.Content) (string, error) {
	text := core.Flatten(msg)
	if strings.TrimSpace(text) == "" {
		return "", core.ErrEmptyPrompt()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.turns = append(t.turns, core.Turn{Role: core.RoleUser, Content: text})

	req := t.base
	req.Prompt = transcript(t.turns)
	req.System = t.system

	slog.Debug("thread send", "thread", t.id, "turn", len(t.turns))
	reply, err := t.invoker.Invoke(ctx, req)
	if err != nil {
		slog.Warn("thread send failed", "thread", t.id, "error", err)
		return "", err
	}

	t.turns = append(t.turns, core.Turn{Role: core.RoleAssistant, Content: reply})
	return reply, nil
}

// TurnCount returns the number of completed exchanges.
func (t *Thread) TurnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns) / 2
}

// Turns returns a copy of the log.
func (t *Thread) Turns() []core.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Reset empties the log and gives the thread a new ID.
func (t *Thread) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = nil
	t.id = uuid.NewString()
}

// ID identifies the thread in logs.
func (t *Thread) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// transcript renders the log as the prompt. A lone user turn is sent as-is.
func transcript(turns []core.Turn) string {
	if len(turns) == 1 {
		return turns[0].Content
	}
	parts := make([]string, len(turns))
	for i, turn := range turns {
		parts[i] = turn.String()
	}
	return strings.Join(parts, "\n\n")
}
