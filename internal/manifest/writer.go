package manifest

import (
	"sync"
	"time"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/utils"
)

// Writer serializes manifest persistence for one download onto a single
// background goroutine, gated by spec §6's thresholds: flush at most every
// ManifestWriteInterval, or immediately once ManifestWriteBytes of new
// progress has accumulated, or on an explicit Flush (pause/stop).
type Writer struct {
	savePath string

	mu           sync.Mutex
	pending      *Manifest
	bytesSince   int64
	lastFlush    time.Time
	dirty        bool
	requestC     chan struct{}
	stopC        chan struct{}
	doneC        chan struct{}
}

// NewWriter starts the background persistence goroutine for savePath.
func NewWriter(savePath string) *Writer {
	w := &Writer{
		savePath:  savePath,
		lastFlush: time.Now(),
		requestC:  make(chan struct{}, 1),
		stopC:     make(chan struct{}),
		doneC:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Update records the current manifest snapshot and the number of newly
// written bytes since the last call, flushing immediately if the byte
// threshold is crossed.
func (w *Writer) Update(m *Manifest, newBytes int64) {
	w.mu.Lock()
	w.pending = m
	w.dirty = true
	w.bytesSince += newBytes
	shouldFlushNow := w.bytesSince >= types.ManifestWriteBytes
	w.mu.Unlock()

	if shouldFlushNow {
		select {
		case w.requestC <- struct{}{}:
		default:
		}
	}
}

// Flush forces an immediate synchronous write of the latest snapshot.
func (w *Writer) Flush() error {
	w.mu.Lock()
	m := w.pending
	dirty := w.dirty
	w.mu.Unlock()
	if !dirty || m == nil {
		return nil
	}
	if err := Save(w.savePath, m); err != nil {
		return err
	}
	w.mu.Lock()
	w.dirty = false
	w.bytesSince = 0
	w.lastFlush = time.Now()
	w.mu.Unlock()
	return nil
}

// Close stops the background goroutine after a final flush.
func (w *Writer) Close() error {
	close(w.stopC)
	<-w.doneC
	return w.Flush()
}

func (w *Writer) run() {
	defer close(w.doneC)
	ticker := time.NewTicker(types.ManifestWriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				utils.Debug("manifest writer: periodic flush failed: %v", err)
			}
		case <-w.requestC:
			if err := w.Flush(); err != nil {
				utils.Debug("manifest writer: threshold flush failed: %v", err)
			}
		case <-w.stopC:
			return
		}
	}
}
