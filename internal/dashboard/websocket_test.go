package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_Broadcast_EvictsSlowClient(t *testing.T) {
	a := assert.New(t)

	hub := runHub(t)

	// register a client with a full send buffer (capacity 1)
	slow := &Client{
		hub:  hub,
		send: make(chan []byte, 1),
	}
	a.True(hub.join(slow))

	// fill the buffer so next broadcast can't deliver
	slow.send <- []byte("fill")

	done := make(chan struct{})
	go func() {
		hub.Broadcast(Message{Type: "test"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on slow client")
	}

	time.Sleep(20 * time.Millisecond)
	_, open := <-slow.send // buffered "fill"
	a.True(open)
	_, open = <-slow.send
	a.False(open)
}

func TestHub_NewClientReceivesSticky(t *testing.T) {
	a := assert.New(t)

	hub := runHub(t)
	a.Nil(hub.Sticky())

	hub.BroadcastSticky(Message{Type: "batch_started", Batch: "b1", Size: 3})
	time.Sleep(10 * time.Millisecond)

	late := &Client{hub: hub, send: make(chan []byte, 4)}
	a.True(hub.join(late))

	select {
	case data := <-late.send:
		a.Contains(string(data), `"batch":"b1"`)
	case <-time.After(time.Second):
		t.Fatal("late client never got sticky message")
	}
}

func TestHub_BroadcastWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(Message{Type: "log"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked with no hub loop")
	}
}

func TestHub_Broadcast_ConcurrentDoesNotDeadlock(t *testing.T) {
	hub := runHub(t)

	for i := 0; i < 5; i++ {
		hub.join(&Client{hub: hub, send: make(chan []byte, 1)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.Broadcast(Message{Type: "test"})
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent broadcasts deadlocked")
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	a := assert.New(t)

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	c := &Client{hub: hub, send: make(chan []byte, 1)}
	a.True(hub.join(c))

	cancel()
	<-hub.done

	_, open := <-c.send
	a.False(open)
	a.False(hub.join(&Client{hub: hub, send: make(chan []byte, 1)}))
}
