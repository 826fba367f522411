// Package registry implements spec §4.E: the process-wide table mapping
// a monotonically assigned positive integer handle to its Downloader,
// and the pause/resume/stop dispatch that looks one up and delegates to
// it. Grounded on the teacher's WorkerPool (internal/download/pool.go),
// generalized from a string-UUID-keyed worker pool to the spec's
// monotonic-integer-handle registry with per-entity locking.
package registry

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tthsd/tthsd/internal/engine/types"
)

// Downloader is the lifecycle surface the registry dispatches to. The
// executor package's implementation satisfies this.
type Downloader interface {
	Pause() int
	Resume() int
	Stop() int
	State() types.State
}

// Registry is the process-wide ID -> Downloader table (spec §4.E). ID 0
// is reserved and never assigned; valid handles start at 1.
type Registry struct {
	creationMu sync.Mutex // serializes ID-assignment + insertion as one atomic step
	nextID     atomic.Int64

	mu      sync.RWMutex
	entries map[int64]Downloader
}

// New creates an empty registry with its ID counter starting at 1.
func New() *Registry {
	r := &Registry{entries: make(map[int64]Downloader)}
	r.nextID.Store(1)
	return r
}

// Reserve allocates the next monotonic ID and inserts build's result under
// it atomically, so no other caller can observe a gap between allocation
// and registration. build receives the assigned ID to stamp into the
// Downloader it constructs.
func (r *Registry) Reserve(build func(id int64) Downloader) int64 {
	r.creationMu.Lock()
	defer r.creationMu.Unlock()

	id := r.nextID.Add(1) - 1
	d := build(id)

	r.mu.Lock()
	r.entries[id] = d
	r.mu.Unlock()

	return id
}

// Get returns the Downloader for id, if it exists.
func (r *Registry) Get(id int64) (Downloader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[id]
	return d, ok
}

// Unregister removes id from the table once its terminal event has been
// delivered (spec §4.D: "Stopped is terminal; memory is released and the
// ID becomes unusable once its final event has been delivered").
func (r *Registry) Unregister(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Pause looks up id and delegates, returning -1 for an unknown id (spec §6).
func (r *Registry) Pause(id int64) int {
	d, ok := r.Get(id)
	if !ok {
		return -1
	}
	return d.Pause()
}

// Resume looks up id and delegates, returning -1 for an unknown id.
func (r *Registry) Resume(id int64) int {
	d, ok := r.Get(id)
	if !ok {
		return -1
	}
	return d.Resume()
}

// Stop looks up id and delegates, returning -1 for an unknown id.
func (r *Registry) Stop(id int64) int {
	d, ok := r.Get(id)
	if !ok {
		return -1
	}
	return d.Stop()
}

// ParseID validates and converts a caller-supplied id string (spec §6
// FFI surface passes ids around as strings in TaskDescriptor, but the
// handle returned by start_download is an integer).
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("arg.invalid: %w", err)
	}
	return id, nil
}

// Global is the process-wide registry instance used by the public API
// surface (spec §4.E: "process-wide" table).
var Global = New()
