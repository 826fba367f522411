package eventbus

import (
	"sync"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/utils"
)

// Callback is the local in-process subscriber signature (spec §6's native
// callback: event_json, data_json, both UTF-8 strings the callee must copy).
type Callback func(eventJSON, dataJSON string)

// RemoteSink delivers an event to one remote peer (WebSocket or TCP,
// spec §4.F). Implementations must not block the bus beyond their own
// retry/backoff policy.
type RemoteSink interface {
	Send(e Event) error
	Close() error
}

// Bus is the single per-Downloader fan-out channel (spec §4.F). Events are
// published from worker/executor goroutines and delivered to the local
// callback and remote sink from one dedicated goroutine, so publishers
// never block on slow subscribers beyond the bounded ring.
type Bus struct {
	name     string
	showName string
	id       string

	callback Callback
	remote   RemoteSink

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closed  bool
	drained chan struct{}
}

// New creates a Bus for one task/download, identified by name/showName/id
// (carried in every event's Metadata per spec §6).
func New(name, showName, id string, callback Callback, remote RemoteSink) *Bus {
	b := &Bus{
		name:     name,
		showName: showName,
		id:       id,
		callback: callback,
		remote:   remote,
		drained:  make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Publish enqueues an event for delivery, applying the ring's backpressure
// policy (spec §4.F): when full, the oldest update event is evicted first;
// lifecycle events are never dropped.
func (b *Bus) Publish(typ Type, data any) {
	e := Event{Metadata: Metadata{Type: typ, Name: b.name, ShowName: b.showName, ID: b.id}, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if len(b.queue) >= types.EventBusRingSize {
		if !b.evictOldestUpdate() && typ == TypeUpdate {
			// Ring is full of lifecycle events only; drop this update rather
			// than a lifecycle event.
			return
		}
	}
	b.queue = append(b.queue, e)
	b.cond.Signal()
}

func (b *Bus) evictOldestUpdate() bool {
	for i, e := range b.queue {
		if e.Metadata.Type == TypeUpdate {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Close stops the bus after delivering whatever is currently queued, and
// closes the remote sink if one is attached. Safe to call once the
// terminal event (end/err) has been published.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cond.Signal()
	b.mu.Unlock()

	<-b.drained
	if b.remote != nil {
		if err := b.remote.Close(); err != nil {
			utils.Debug("eventbus[%s]: remote close: %v", b.id, err)
		}
	}
}

func (b *Bus) run() {
	defer close(b.drained)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.deliver(e)
	}
}

func (b *Bus) deliver(e Event) {
	if b.callback != nil {
		eventJSON, dataJSON, err := e.MarshalWire()
		if err != nil {
			utils.Debug("eventbus[%s]: marshal for callback failed: %v", b.id, err)
		} else {
			b.callback(eventJSON, dataJSON)
		}
	}
	if b.remote != nil {
		if err := b.remote.Send(e); err != nil {
			utils.Debug("eventbus[%s]: remote send failed: %v", b.id, err)
		}
	}
}
