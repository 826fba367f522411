// Package api is the public surface spec §6 describes as the library's
// FFI boundary: primitive types and JSON strings in, primitive types
// out. It is the only package that constructs an executor.Downloader and
// registers it with the Engine (internal/registry), and the only place
// that turns the error taxonomy of spec §7 into the -1 return codes a
// foreign caller can act on without touching a Go error value.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/eventbus"
	"github.com/tthsd/tthsd/internal/executor"
	"github.com/tthsd/tthsd/internal/registry"
)

// Callback is the native callback signature of spec §6: both arguments
// are UTF-8 JSON strings the callee must copy before returning.
type Callback func(eventJSON, dataJSON string)

// RemoteEndpoint configures the optional remote fan-out sink (spec §6
// "Remote callback protocol"). A nil endpoint means local-callback-only.
type RemoteEndpoint struct {
	URL       string
	UseSocket bool // true selects the raw TCP sink; false selects WebSocket
}

// Request is the decoded form of start_download/get_downloader's
// parameter list. ChunkSizeMB <= 0 takes the planner's default.
type Request struct {
	Tasks         []types.TaskDescriptor
	TaskCount     int
	ThreadCount   int
	ChunkSizeMB   int
	Callback      Callback
	UserAgent     string
	Remote        *RemoteEndpoint
}

// ParseTasksJSON decodes spec §6's tasks-JSON array and validates it
// against taskCount, returning arg.invalid as a plain error so callers
// can map it to -1 without inspecting error text.
func ParseTasksJSON(tasksJSON string, taskCount int) ([]types.TaskDescriptor, error) {
	var tasks []types.TaskDescriptor
	if err := json.Unmarshal([]byte(tasksJSON), &tasks); err != nil {
		return nil, fmt.Errorf("arg.invalid: malformed tasks json: %w", err)
	}
	if len(tasks) != taskCount {
		return nil, fmt.Errorf("arg.invalid: task_count %d does not match %d decoded tasks", taskCount, len(tasks))
	}
	for _, t := range tasks {
		if t.URL == "" || t.SavePath == "" {
			return nil, fmt.Errorf("arg.invalid: task missing url or save_path")
		}
	}
	return tasks, nil
}

func buildRuntimeConfig(req Request) (*types.RuntimeConfig, error) {
	if req.ThreadCount < 0 {
		return nil, fmt.Errorf("arg.invalid: negative thread count")
	}
	cfg := &types.RuntimeConfig{
		WorkerCount: req.ThreadCount,
		UserAgent:   req.UserAgent,
	}
	if req.ChunkSizeMB > 0 {
		cfg.TargetChunkSize = int64(req.ChunkSizeMB) * types.MB
		cfg.MinChunkSize = cfg.TargetChunkSize
		cfg.MaxChunkSize = cfg.TargetChunkSize
	}
	return cfg, nil
}

func buildRemoteSink(r *RemoteEndpoint) eventbus.RemoteSink {
	if r == nil || r.URL == "" {
		return nil
	}
	if r.UseSocket {
		return eventbus.NewTCPSink(r.URL)
	}
	return eventbus.NewWebSocketSink(r.URL)
}

// create builds a registered Downloader from req, without starting it.
// Returns -1 (as a Go error, for GetDownloader/StartDownload to map) on
// any arg.invalid condition.
func create(req Request) (int64, *executor.Downloader, error) {
	cfg, err := buildRuntimeConfig(req)
	if err != nil {
		return -1, nil, err
	}

	var id int64
	var d *executor.Downloader
	id = registry.Global.Reserve(func(reservedID int64) registry.Downloader {
		name := fmt.Sprintf("downloader-%d", reservedID)
		showName := name
		if len(req.Tasks) == 1 {
			showName = req.Tasks[0].ShowName
		}
		bus := eventbus.New(name, showName, fmt.Sprintf("%d", reservedID), eventbus.Callback(req.Callback), buildRemoteSink(req.Remote))
		d = executor.New(reservedID, req.Tasks, cfg, bus)
		return d
	})
	return id, d, nil
}

// GetDownloader implements spec §6's get_downloader: create only, return
// the handle without starting any work.
func GetDownloader(req Request) int64 {
	id, _, err := create(req)
	if err != nil {
		return -1
	}
	return id
}

// StartDownload implements spec §6's start_download: create and start.
// isMultiple selects parallel batch orchestration over sequential.
func StartDownload(ctx context.Context, req Request, isMultiple bool) int64 {
	id, d, err := create(req)
	if err != nil {
		return -1
	}
	if isMultiple {
		d.StartParallel(ctx, onTerminal)
	} else {
		d.StartSequential(ctx, onTerminal)
	}
	return id
}

// StartDownloadID implements spec §6's start_download_id: start an
// already-created (via get_downloader) Downloader sequentially.
func StartDownloadID(ctx context.Context, id int64) int {
	return startByID(ctx, id, false)
}

// StartMultipleDownloadsID implements spec §6's start_multiple_downloads_id.
func StartMultipleDownloadsID(ctx context.Context, id int64) int {
	return startByID(ctx, id, true)
}

func startByID(ctx context.Context, id int64, multiple bool) int {
	dl, ok := registry.Global.Get(id)
	if !ok {
		return -1
	}
	d, ok := dl.(*executor.Downloader)
	if !ok {
		return -1
	}
	if d.State() != types.StateIdle {
		return -1
	}
	if multiple {
		d.StartParallel(ctx, onTerminal)
	} else {
		d.StartSequential(ctx, onTerminal)
	}
	return 0
}

// PauseDownload implements spec §6's pause_download.
func PauseDownload(id int64) int {
	return registry.Global.Pause(id)
}

// ResumeDownload implements spec §6's resume_download.
func ResumeDownload(id int64) int {
	return registry.Global.Resume(id)
}

// StopDownload implements spec §6's stop_download.
func StopDownload(id int64) int {
	return registry.Global.Stop(id)
}

// onTerminal unregisters a Downloader once its terminal event has been
// delivered, per spec §9's "stop() must run the terminal event before
// unregistering" ownership rule: the bus is already closed (and so has
// already delivered `end`/`err`) by the time finish() calls this.
func onTerminal(reg *registry.Registry, id int64) {
	reg.Unregister(id)
}
