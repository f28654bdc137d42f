package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BackendAuto asks the resolver to pick the first discoverable backend.
const BackendAuto = "auto"

// OutputFormat is passed through to the agent executable.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a format name. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", NewInvocationError(KindInvalidRequest, "", "invalid output format %q: must be text or json", s)
}

// ParseTimeout accepts a Go duration ("90s", "5m") or a bare number of
// seconds. Zero disables the timeout.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	var d time.Duration
	if secs, err := strconv.Atoi(s); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, NewInvocationError(KindInvalidRequest, "", "invalid timeout %q", s)
		}
	}
	if d < 0 {
		return 0, NewInvocationError(KindInvalidRequest, "", "timeout must not be negative, got %s", d)
	}
	return d, nil
}

// Request describes one invocation of an agent executable.
type Request struct {
	Prompt       string
	System       string
	Backend      string
	OutputFormat OutputFormat
	Mode         string
	Timeout      time.Duration
	WorkDir      string
	ExtraArgs    []string
}

// Validate checks the request shape without touching the filesystem.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt()
	}
	if _, err := ParseOutputFormat(string(r.OutputFormat)); err != nil {
		return err
	}
	if r.Timeout < 0 {
		return NewInvocationError(KindInvalidRequest, "", "timeout must not be negative, got %s", r.Timeout)
	}
	return nil
}

// FullPrompt returns the text actually sent to the executable. The agent CLIs
// have no separate system channel so the system prompt is prefixed.
func (r Request) FullPrompt() string {
	if r.System == "" {
		return r.Prompt
	}
	return r.System + "\n\n" + r.Prompt
}

// Result is the outcome of one unit of work.
type Result struct {
	Output string
	Err    error
}

// OK reports whether the unit succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation log.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (t Turn) String() string {
	switch t.Role {
	case RoleUser:
		return "User: " + t.Content
	case RoleAssistant:
		return "Assistant: " + t.Content
	}
	return fmt.Sprintf("%s: %s", t.Role, t.Content)
}
