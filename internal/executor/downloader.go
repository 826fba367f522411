package executor

import (
	"context"
	"sync"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/eventbus"
	"github.com/tthsd/tthsd/internal/httpclient"
	"github.com/tthsd/tthsd/internal/registry"
)

// Downloader is the Engine-registered entity behind one process-wide
// handle (spec §4.E, §3): a list of one or more file tasks, a shared
// worker budget, and a single Event Bus they all fan out through.
type Downloader struct {
	id          int64
	descriptors []types.TaskDescriptor
	cfg         *types.RuntimeConfig
	bus         *eventbus.Bus
	client      *httpclient.Client

	mu     sync.Mutex
	state  types.State
	tasks  []*fileTask
	doneWG sync.WaitGroup
}

// New builds a Downloader for id, ready to be started sequentially or in
// parallel. callback/remote wiring lives in the bus the caller constructs.
func New(id int64, descriptors []types.TaskDescriptor, cfg *types.RuntimeConfig, bus *eventbus.Bus) *Downloader {
	d := &Downloader{
		id:          id,
		descriptors: descriptors,
		cfg:         cfg,
		bus:         bus,
		client:      httpclient.New(cfg.GetWorkerCount(), cfg.GetUserAgent()),
		state:       types.StateIdle,
	}
	d.tasks = make([]*fileTask, len(descriptors))
	for i, desc := range descriptors {
		d.tasks[i] = newFileTask(desc, cfg, d.client, bus)
	}
	return d
}

// StartSequential runs each file to completion before starting the next,
// each getting the full worker budget (spec §4.E "Start sequentially").
func (d *Downloader) StartSequential(ctx context.Context, onTerminal func(*registry.Registry, int64)) {
	d.setState(types.StateRunning)
	d.bus.Publish(eventbus.TypeStart, nil)

	d.doneWG.Add(1)
	go func() {
		defer d.doneWG.Done()
		budget := d.cfg.GetWorkerCount()
		for i, t := range d.tasks {
			if d.getState() == types.StateStopping {
				break
			}
			t.run(ctx, budget, i+1, len(d.tasks))
		}
		d.finish(onTerminal)
	}()
}

// StartParallel runs every file concurrently, splitting the Downloader's
// worker budget across them via floor-division with the remainder given
// to the first files (spec §4.D "sequential vs parallel batch
// orchestration").
func (d *Downloader) StartParallel(ctx context.Context, onTerminal func(*registry.Registry, int64)) {
	d.setState(types.StateRunning)
	d.bus.Publish(eventbus.TypeStart, nil)

	d.doneWG.Add(1)
	go func() {
		defer d.doneWG.Done()
		budgets := splitWorkerBudget(d.cfg.GetWorkerCount(), len(d.tasks))

		var wg sync.WaitGroup
		for i, t := range d.tasks {
			wg.Add(1)
			go func(i int, t *fileTask) {
				defer wg.Done()
				t.run(ctx, budgets[i], i+1, len(d.tasks))
			}(i, t)
		}
		wg.Wait()
		d.finish(onTerminal)
	}()
}

// splitWorkerBudget divides total workers across n files by floor
// division, handing the remainder to the first files one at a time.
func splitWorkerBudget(total, n int) []int {
	if n <= 0 {
		return nil
	}
	base := total / n
	remainder := total % n
	budgets := make([]int, n)
	for i := range budgets {
		budgets[i] = base
		if i < remainder {
			budgets[i]++
		}
		if budgets[i] < 1 {
			budgets[i] = 1
		}
	}
	return budgets
}

func (d *Downloader) finish(onTerminal func(*registry.Registry, int64)) {
	anyFailed := false
	for _, t := range d.tasks {
		if t.getState() == types.StateFailed {
			anyFailed = true
		}
	}
	if anyFailed {
		d.setState(types.StateFailed)
	} else if d.getState() != types.StateStopping {
		d.setState(types.StateDone)
		d.bus.Publish(eventbus.TypeEnd, nil)
	} else {
		d.setState(types.StateStopped)
		d.bus.Publish(eventbus.TypeEnd, nil)
	}
	d.bus.Close()
	if onTerminal != nil {
		onTerminal(registry.Global, d.id)
	}
}

// Pause implements registry.Downloader: pauses every file task.
func (d *Downloader) Pause() int {
	if d.getState() != types.StateRunning {
		if d.getState() == types.StatePaused {
			return 0
		}
		return -1
	}
	result := 0
	for _, t := range d.tasks {
		if rc := t.pause(); rc != 0 {
			result = rc
		}
	}
	if result == 0 {
		d.setState(types.StatePaused)
	}
	return result
}

// Resume implements registry.Downloader: resumes every file task.
func (d *Downloader) Resume() int {
	if d.getState() != types.StatePaused {
		if d.getState() == types.StateRunning {
			return 0
		}
		return -1
	}
	result := 0
	for _, t := range d.tasks {
		if rc := t.resume(); rc != 0 {
			result = rc
		}
	}
	if result == 0 {
		d.setState(types.StateRunning)
	}
	return result
}

// Stop implements registry.Downloader: stops every file task.
func (d *Downloader) Stop() int {
	st := d.getState()
	if st == types.StateStopped || st == types.StateStopping {
		return 0
	}
	if st == types.StateDone || st == types.StateFailed || st == types.StateIdle {
		return -1
	}
	d.setState(types.StateStopping)
	for _, t := range d.tasks {
		t.stop()
	}
	return 0
}

// State implements registry.Downloader.
func (d *Downloader) State() types.State {
	return d.getState()
}

func (d *Downloader) setState(s types.State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Downloader) getState() types.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
