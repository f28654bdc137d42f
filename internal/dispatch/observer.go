package dispatch

import "github.com/TheLazyLemur/agentorch/internal/core"

// Observer is notified as units of work move through a dispatcher. Methods
// are called from worker goroutines and must be safe for concurrent use.
type Observer interface {
	Started(index int)
	Finished(index int, res core.Result)
	Skipped(index int)
}

// ObserverFuncs adapts optional callbacks to Observer.
type ObserverFuncs struct {
	OnStarted  func(index int)
	OnFinished func(index int, res core.Result)
	OnSkipped  func(index int)
}

func (o ObserverFuncs) Started(index int) {
	if o.OnStarted != nil {
		o.OnStarted(index)
	}
}

func (o ObserverFuncs) Finished(index int, res core.Result) {
	if o.OnFinished != nil {
		o.OnFinished(index, res)
	}
}

func (o ObserverFuncs) Skipped(index int) {
	if o.OnSkipped != nil {
		o.OnSkipped(index)
	}
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (obs Observers) Started(index int) {
	for _, o := range obs {
		o.Started(index)
	}
}

func (obs Observers) Finished(index int, res core.Result) {
	for _, o := range obs {
		o.Finished(index, res)
	}
}

func (obs Observers) Skipped(index int) {
	for _, o := range obs {
		o.Skipped(index)
	}
}

type nopObserver struct{}

func (nopObserver) Started(int)               {}
func (nopObserver) Finished(int, core.Result) {}
func (nopObserver) Skipped(int)               {}
