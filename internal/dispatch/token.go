package dispatch

import "sync/atomic"

// InterruptToken is a cooperative cancellation flag shared between a
// dispatcher and whoever decides to stop it. A nil token is never set.
type InterruptToken struct {
	interrupted atomic.Bool
}

// NewInterruptToken returns a cleared token.
func NewInterruptToken() *InterruptToken {
	return &InterruptToken{}
}

// Interrupt sets the flag.
func (t *InterruptToken) Interrupt() {
	t.interrupted.Store(true)
}

// IsInterrupted reports whether the flag is set.
func (t *InterruptToken) IsInterrupted() bool {
	return t != nil && t.interrupted.Load()
}

// Reset clears the flag so the token can be reused.
func (t *InterruptToken) Reset() {
	t.interrupted.Store(false)
}
