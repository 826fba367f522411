// Package executor implements spec §4.D: the per-task state machine that
// turns a planned range list into a running worker pool, and spec §4.E's
// batch orchestration across a Downloader's file list. Grounded on the
// teacher's ConcurrentDownloader/worker (internal/engine/concurrent),
// with the dynamic balancer and slow-worker health monitor dropped per
// the "adaptive concurrency tuning" Non-goal: ranges are planned once and
// never re-split or stolen while a run is in flight.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/eventbus"
	"github.com/tthsd/tthsd/internal/history"
	"github.com/tthsd/tthsd/internal/httpclient"
	"github.com/tthsd/tthsd/internal/manifest"
	"github.com/tthsd/tthsd/internal/planner"
	"github.com/tthsd/tthsd/internal/sink"
	"github.com/tthsd/tthsd/internal/utils"
)

// fileTask drives one entry of a Downloader's task list through its full
// lifecycle: probe, plan, fetch, and terminal reporting (spec §4.D).
type fileTask struct {
	descriptor types.TaskDescriptor
	cfg        *types.RuntimeConfig
	client     *httpclient.Client
	bus        *eventbus.Bus

	mu            sync.Mutex
	cond          *sync.Cond
	state         types.State
	paused        bool
	stopping      bool
	parkedCount   int
	workerCount   int
	activeCancels map[int]context.CancelFunc

	queue    *RangeQueue
	sink     *sink.Sink
	progress *types.ProgressState

	runCtx    context.Context
	runCancel context.CancelFunc
	fatalOnce sync.Once

	historyID string
}

func newFileTask(desc types.TaskDescriptor, cfg *types.RuntimeConfig, client *httpclient.Client, bus *eventbus.Bus) *fileTask {
	t := &fileTask{
		descriptor:    desc,
		cfg:           cfg,
		client:        client,
		bus:           bus,
		state:         types.StateIdle,
		activeCancels: make(map[int]context.CancelFunc),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// run drives this file's full lifecycle. workerCount is this file's share
// of the Downloader's overall worker budget. fileIndex/batchTotal (both
// 1-based/positive) position this file within its Downloader's batch for
// the endOne event.
func (t *fileTask) run(ctx context.Context, workerCount int, fileIndex, batchTotal int) error {
	t.setState(types.StateRunning)

	t.runCtx, t.runCancel = context.WithCancel(ctx)
	defer t.runCancel()

	head, err := t.client.Head(t.runCtx, t.descriptor.URL)
	if err != nil {
		return t.fail(err)
	}

	existing, err := manifest.Load(t.descriptor.SavePath)
	if err != nil {
		utils.Debug("fileTask %s: manifest.corrupt, replanning from scratch: %v", t.descriptor.ID, err)
		existing = nil
	}

	result := planner.Resolve(t.descriptor.URL, head, t.cfg, workerCount, existing)

	s, err := sink.Open(t.descriptor.SavePath, head.TotalSize, result.Manifest)
	if err != nil {
		return t.fail(err)
	}
	t.sink = s

	if id, err := history.Begin(t.descriptor.URL, t.descriptor.SavePath, head.TotalSize); err != nil {
		utils.Debug("fileTask %s: history.Begin failed, continuing without a history record: %v", t.descriptor.ID, err)
	} else {
		t.historyID = id
	}

	alreadyDone := head.TotalSize
	for _, r := range result.Ranges {
		if r.Length() > 0 {
			alreadyDone -= r.Length()
		}
	}
	if alreadyDone < 0 {
		alreadyDone = 0
	}

	t.progress = types.NewProgressState(t.descriptor.ID, head.TotalSize)
	t.progress.Downloaded.Store(alreadyDone)

	totalRanges := result.Manifest.NumChunks()
	if totalRanges == 0 {
		totalRanges = len(result.Ranges)
	}
	for _, r := range result.Ranges {
		t.bus.Publish(eventbus.TypeStartOne, eventbus.StartOneData{
			URL: t.descriptor.URL, SavePath: t.descriptor.SavePath, ShowName: t.descriptor.ShowName,
			Index: r.Index + 1, Total: totalRanges,
		})
	}

	if workerCount < 1 {
		workerCount = 1
	}
	if workerCount > len(result.Ranges) {
		workerCount = len(result.Ranges)
	}
	t.workerCount = workerCount

	t.queue = NewRangeQueue(result.Ranges)

	samplerDone := make(chan struct{})
	go t.sampleProgress(samplerDone)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go t.workerLoop(i, &wg)
	}
	wg.Wait()
	close(samplerDone)

	st := t.getState()
	switch st {
	case types.StateFailed:
		return errors.New("fileTask: failed")
	case types.StateStopping, types.StateStopped:
		if err := t.sink.Close(); err != nil {
			utils.Debug("fileTask %s: close on stop: %v", t.descriptor.ID, err)
		}
		t.setState(types.StateStopped)
		t.recordHistoryFinish(types.StateStopped)
		t.bus.Publish(eventbus.TypeEndOne, eventbus.StartOneData{
			URL: t.descriptor.URL, SavePath: t.descriptor.SavePath, ShowName: t.descriptor.ShowName,
			Index: fileIndex, Total: batchTotal,
		})
		return nil
	default:
		if err := t.sink.Finalize(); err != nil {
			return t.fail(err)
		}
		t.setState(types.StateDone)
		t.recordHistoryFinish(types.StateDone)
		t.bus.Publish(eventbus.TypeEndOne, eventbus.StartOneData{
			URL: t.descriptor.URL, SavePath: t.descriptor.SavePath, ShowName: t.descriptor.ShowName,
			Index: fileIndex, Total: batchTotal,
		})
		return nil
	}
}

func (t *fileTask) sampleProgress(done <-chan struct{}) {
	ticker := time.NewTicker(types.ProgressSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			downloaded, total, speed := t.progress.Sample()
			t.bus.Publish(eventbus.TypeUpdate, eventbus.UpdateData{Downloaded: downloaded, Total: total, Speed: speed})
		}
	}
}

func (t *fileTask) workerLoop(id int, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		t.mu.Lock()
		if t.stopping {
			t.mu.Unlock()
			return
		}
		if t.paused {
			t.parkedCount++
			t.cond.Broadcast()
			for t.paused && !t.stopping {
				t.cond.Wait()
			}
			t.parkedCount--
			stopping := t.stopping
			t.mu.Unlock()
			if stopping {
				return
			}
			continue
		}
		t.mu.Unlock()

		r, ok := t.queue.Pop()
		if !ok {
			return
		}

		workerCtx, cancel := context.WithCancel(t.runCtx)
		t.mu.Lock()
		t.activeCancels[id] = cancel
		t.mu.Unlock()

		popStart := r.Start
		err := t.processRange(workerCtx, &r)

		t.mu.Lock()
		delete(t.activeCancels, id)
		t.mu.Unlock()
		cancel()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				if r.Length() != 0 {
					t.queue.Push(r)
				}
				continue
			}
			t.fail(err)
			return
		}
		t.sink.MarkRangeDone(r.Index, r.Start-popStart)
		t.queue.MarkDone()
	}
}

// processRange streams r's bytes into the sink, advancing r.Start as each
// chunk lands so a cancellation mid-flight leaves r describing exactly
// the remaining work.
func (t *fileTask) processRange(ctx context.Context, r *types.Range) error {
	cursor := r.Start
	err := t.client.GetRangeWithRetry(ctx, t.descriptor.URL, r.Start, r.End, t.cfg.GetMaxTaskRetries(), func(b []byte) error {
		if werr := t.sink.WriteAt(b, cursor); werr != nil {
			return werr
		}
		n := int64(len(b))
		cursor += n
		r.Start = cursor
		t.progress.Downloaded.Add(n)
		return nil
	})
	return err
}

func (t *fileTask) fail(err error) error {
	t.fatalOnce.Do(func() {
		t.setState(types.StateFailed)
		t.stopAllWorkers()
		t.recordHistoryFinish(types.StateFailed)
		code, retryable := classifyError(err)
		t.bus.Publish(eventbus.TypeErr, eventbus.ErrData{Error: code, Retryable: retryable})
	})
	return err
}

// recordHistoryFinish writes the terminal row for this run's history
// record, if one was opened. Best-effort: a failure here is logged, not
// propagated, since the download's own outcome has already been decided.
func (t *fileTask) recordHistoryFinish(status types.State) {
	if t.historyID == "" {
		return
	}
	if err := history.Finish(t.historyID, status, t.descriptor.SavePath); err != nil {
		utils.Debug("fileTask %s: history.Finish failed: %v", t.descriptor.ID, err)
	}
}

func (t *fileTask) stopAllWorkers() {
	t.mu.Lock()
	t.stopping = true
	for _, cancel := range t.activeCancels {
		cancel()
	}
	t.cond.Broadcast()
	t.mu.Unlock()
	if t.queue != nil {
		t.queue.Close()
	}
	if t.runCancel != nil {
		t.runCancel()
	}
}

// pause implements spec §4.D's pause protocol for a single file: cancel
// in-flight workers, wait for all of them to park, then persist and
// announce.
func (t *fileTask) pause() int {
	t.mu.Lock()
	switch t.state {
	case types.StatePaused:
		t.mu.Unlock()
		return 0
	case types.StateRunning:
		t.paused = true
		for _, cancel := range t.activeCancels {
			cancel()
		}
		t.mu.Unlock()
	default:
		t.mu.Unlock()
		return -1
	}

	t.waitAllParked()
	t.setState(types.StatePaused)
	if err := t.sink.FlushManifest(); err != nil {
		utils.Debug("fileTask %s: pause flush failed: %v", t.descriptor.ID, err)
	}
	t.bus.Publish(eventbus.TypeMsg, eventbus.MsgData{Text: "paused"})
	return 0
}

func (t *fileTask) waitAllParked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.parkedCount < t.workerCount && !t.stopping {
		t.cond.Wait()
	}
}

func (t *fileTask) resume() int {
	t.mu.Lock()
	switch t.state {
	case types.StateRunning:
		t.mu.Unlock()
		return 0
	case types.StatePaused:
		t.paused = false
		t.cond.Broadcast()
		t.mu.Unlock()
		t.setState(types.StateRunning)
		return 0
	default:
		t.mu.Unlock()
		return -1
	}
}

func (t *fileTask) stop() int {
	t.mu.Lock()
	switch t.state {
	case types.StateStopped, types.StateStopping:
		t.mu.Unlock()
		return 0
	case types.StateDone, types.StateFailed, types.StateIdle:
		t.mu.Unlock()
		return -1
	default:
		t.state = types.StateStopping
		t.mu.Unlock()
	}
	t.stopAllWorkers()
	return 0
}

func (t *fileTask) setState(s types.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *fileTask) getState() types.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// classifyError maps an error to spec §7's stable machine-readable prefix
// and whether it falls within the retry budget's definition of retryable.
func classifyError(err error) (code string, retryable bool) {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http.status:%d", statusErr.Code), statusErr.Retryable()
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "net.dns", true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "net.timeout", true
		}
		return "net.connect", true
	}

	return "io.write", false
}
