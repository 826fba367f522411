// Package sink implements spec §4.C: the on-disk file sink a download's
// workers write into. It owns the working file, the completed-range
// bitmap, and driving the resume manifest's gated persistence.
package sink

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/manifest"
	"github.com/tthsd/tthsd/internal/utils"
)

// Sink owns the single shared file handle for one download and tracks how
// much of it has been written.
type Sink struct {
	savePath    string
	workingPath string

	file *os.File

	bytesWritten atomic.Int64

	mu       sync.Mutex
	manifest *manifest.Manifest
	writer   *manifest.Writer

	unbounded bool // true when total size was unknown at plan time
}

// Open creates (or reopens) the working file at savePath+IncompleteSuffix,
// pre-allocating it via Truncate when the total size is known (spec §4.C).
// When resuming, pass the manifest carried over from the planner so
// persistence continues gated against the same bitmap.
func Open(savePath string, total int64, m *manifest.Manifest) (*Sink, error) {
	workingPath := savePath + types.IncompleteSuffix

	f, err := os.OpenFile(workingPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("sink: create working file: %w", err)
	}

	unbounded := total < 0
	if !unbounded {
		if err := f.Truncate(total); err != nil {
			f.Close()
			return nil, fmt.Errorf("sink: preallocate: %w", err)
		}
	}

	s := &Sink{
		savePath:    savePath,
		workingPath: workingPath,
		file:        f,
		manifest:    m,
		writer:      manifest.NewWriter(savePath),
		unbounded:   unbounded,
	}
	return s, nil
}

// WriteAt writes buf at the given offset of the working file and tracks
// the new byte count. Safe for concurrent use by multiple workers, since
// each worker writes to a disjoint region.
func (s *Sink) WriteAt(buf []byte, offset int64) error {
	n, err := s.file.WriteAt(buf, offset)
	if err != nil {
		return fmt.Errorf("sink: write at %d: %w", offset, err)
	}
	s.bytesWritten.Add(int64(n))
	return nil
}

// BytesWritten returns the total bytes written so far (spec §4.D progress counter).
func (s *Sink) BytesWritten() int64 {
	return s.bytesWritten.Load()
}

// MarkRangeDone records a completed range in the manifest and schedules a
// gated persistence flush (spec §6).
func (s *Sink) MarkRangeDone(idx int, rangeBytes int64) {
	s.mu.Lock()
	if s.manifest != nil {
		s.manifest.MarkDone(idx)
	}
	snapshot := s.manifest
	s.mu.Unlock()

	if snapshot != nil {
		s.writer.Update(snapshot, rangeBytes)
	}
}

// FlushManifest forces an immediate manifest write, used on pause (spec §4.D).
func (s *Sink) FlushManifest() error {
	return s.writer.Flush()
}

// Finalize fsyncs the working file, closes it, renames it to its final
// save path, and deletes the resume manifest (spec §4.C, §6).
func (s *Sink) Finalize() error {
	if err := s.writer.Close(); err != nil {
		utils.Debug("sink: manifest writer close failed: %v", err)
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sink: sync: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("sink: close: %w", err)
	}
	if err := os.Rename(s.workingPath, s.savePath); err != nil {
		return fmt.Errorf("sink: rename to final path: %w", err)
	}
	if err := manifest.Delete(s.savePath); err != nil {
		utils.Debug("sink: manifest cleanup failed: %v", err)
	}
	return nil
}

// Close releases the file handle and background writer without renaming or
// deleting anything, for the pause/stop paths where the working file and
// manifest must survive (spec §4.D).
func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		utils.Debug("sink: manifest writer close failed: %v", err)
	}
	return s.file.Close()
}

// WorkingPath returns the path of the in-progress file.
func (s *Sink) WorkingPath() string {
	return s.workingPath
}
