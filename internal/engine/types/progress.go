package types

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProgressState is the shared, lock-light counters for one running task
// (spec §3: "per-task progress counters"). Downloaded is updated with a
// relaxed atomic add by workers; the progress sampler reads it with an
// acquire load so published progress is eventually consistent but never
// regresses (spec §5).
type ProgressState struct {
	ID         string
	Downloaded atomic.Int64
	TotalSize  int64 // -1 if unknown
	StartTime  time.Time

	ActiveWorkers atomic.Int32
	Done          atomic.Bool
	Paused        atomic.Bool

	lastSampleTime  time.Time
	lastSampleBytes int64
	mu              sync.Mutex
}

func NewProgressState(id string, totalSize int64) *ProgressState {
	now := time.Now()
	return &ProgressState{
		ID:             id,
		TotalSize:      totalSize,
		StartTime:      now,
		lastSampleTime: now,
	}
}

// Sample computes instantaneous speed as delta-bytes / delta-time since the
// previous call, per the progress sampler's contract (spec §4.D item 3).
func (ps *ProgressState) Sample() (downloaded, total int64, speed float64) {
	downloaded = ps.Downloaded.Load()
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(ps.lastSampleTime).Seconds()
	if elapsed > 0 {
		speed = float64(downloaded-ps.lastSampleBytes) / elapsed
	}
	ps.lastSampleTime = now
	ps.lastSampleBytes = downloaded
	return downloaded, ps.TotalSize, speed
}

func (ps *ProgressState) SetTotalSize(size int64) {
	ps.mu.Lock()
	ps.TotalSize = size
	ps.mu.Unlock()
}

func (ps *ProgressState) Pause()        { ps.Paused.Store(true) }
func (ps *ProgressState) Resume()       { ps.Paused.Store(false) }
func (ps *ProgressState) IsPaused() bool { return ps.Paused.Load() }
