package dashboard

import (
	"sync"

	"github.com/TheLazyLemur/agentorch/internal/core"
	"github.com/TheLazyLemur/agentorch/internal/dispatch"
)

var _ dispatch.Observer = (*Observer)(nil)

// Observer streams one batch's progress to dashboard clients. The batch
// summary is sticky so clients connecting mid-batch see where it stands.
type Observer struct {
	hub   *Hub
	batch string
	mode  string
	size  int

	// mu orders summaries so the sticky copy never moves backwards
	mu      sync.Mutex
	done    int
	failed  int
	skipped int
}

// NewObserver announces a batch of size units and returns its observer.
func NewObserver(hub *Hub, batchID, mode string, size int) *Observer {
	o := &Observer{hub: hub, batch: batchID, mode: mode, size: size}
	o.mu.Lock()
	o.publishSummary("batch_started")
	o.mu.Unlock()
	return o
}

func (o *Observer) Started(index int) {
	o.hub.Broadcast(Message{Type: "unit_started", Batch: o.batch, Index: &index})
}

func (o *Observer) Finished(index int, res core.Result) {
	msg := Message{Type: "unit_finished", Batch: o.batch, Index: &index, Bytes: len(res.Output)}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	o.hub.Broadcast(msg)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.done++
	if res.Err != nil {
		o.failed++
	}
	o.publishSummary("batch_progress")
}

func (o *Observer) Skipped(index int) {
	o.hub.Broadcast(Message{Type: "unit_skipped", Batch: o.batch, Index: &index})

	o.mu.Lock()
	o.skipped++
	o.mu.Unlock()
}

// Close publishes the final summary.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.publishSummary("batch_finished")
}

// publishSummary must be called with mu held.
func (o *Observer) publishSummary(typ string) {
	o.hub.BroadcastSticky(Message{
		Type:    typ,
		Batch:   o.batch,
		Mode:    o.mode,
		Size:    o.size,
		Done:    o.done,
		Failed:  o.failed,
		Skipped: o.skipped,
	})
}
