package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tthsd/tthsd/internal/api"
	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/eventbus"
	"github.com/tthsd/tthsd/internal/tui"
	"github.com/tthsd/tthsd/internal/utils"
)

var (
	flagOutput      string
	flagWorkers     int
	flagChunkMB     int
	flagHeadless    bool
	flagRemoteURL   string
	flagUseSocket   bool
)

var getCmd = &cobra.Command{
	Use:   "get <url> [url...]",
	Short: "Download one or more URLs",
	Long: `Download one or more URLs concurrently via range requests.

A single URL runs sequentially by default; multiple URLs run as a
parallel batch, splitting the worker budget across files.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks := make([]types.TaskDescriptor, len(args))
		for i, u := range args {
			savePath, err := destinationFor(u, flagOutput)
			if err != nil {
				return err
			}
			tasks[i] = types.TaskDescriptor{
				URL:      u,
				SavePath: savePath,
				ShowName: filepath.Base(savePath),
				ID:       uuid.New().String(),
			}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		sigC := make(chan os.Signal, 1)
		signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigC)

		var remote *api.RemoteEndpoint
		if flagRemoteURL != "" {
			remote = &api.RemoteEndpoint{URL: flagRemoteURL, UseSocket: flagUseSocket}
		}

		if flagHeadless {
			return runHeadless(ctx, cancel, sigC, tasks, remote)
		}
		return runTUI(ctx, cancel, sigC, tasks, remote)
	},
}

func init() {
	getCmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "destination directory")
	getCmd.Flags().IntVarP(&flagWorkers, "workers", "w", 4, "worker count (split across files for batches)")
	getCmd.Flags().IntVarP(&flagChunkMB, "chunk-size-mb", "c", 0, "chunk size in MiB (0 = planner default)")
	getCmd.Flags().BoolVar(&flagHeadless, "headless", false, "print progress to stderr instead of the TUI")
	getCmd.Flags().StringVar(&flagRemoteURL, "remote-url", "", "fan events out to this WebSocket or TCP endpoint")
	getCmd.Flags().BoolVar(&flagUseSocket, "use-socket", false, "treat --remote-url as a raw TCP endpoint instead of WebSocket")
}

func destinationFor(rawURL, outDir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("arg.invalid: %w", err)
	}
	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return filepath.Join(outDir, name), nil
}

// runHeadless prints coarse progress to stderr, grounded on the teacher's
// runHeadless in cmd/get.go but sourced from internal/api's JSON events
// instead of an internal channel of typed messages.
func runHeadless(ctx context.Context, cancel context.CancelFunc, sigC <-chan os.Signal, tasks []types.TaskDescriptor, remote *api.RemoteEndpoint) error {
	start := time.Now()
	doneC := make(chan struct{})

	cb := func(eventJSON, dataJSON string) {
		var meta eventbus.Metadata
		if err := json.Unmarshal([]byte(eventJSON), &meta); err != nil {
			return
		}
		switch meta.Type {
		case eventbus.TypeStartOne:
			var d eventbus.StartOneData
			json.Unmarshal([]byte(dataJSON), &d)
			fmt.Fprintf(os.Stderr, "[%s] range %d/%d queued\n", d.ShowName, d.Index, d.Total)
		case eventbus.TypeUpdate:
			var d eventbus.UpdateData
			json.Unmarshal([]byte(dataJSON), &d)
			fmt.Fprintf(os.Stderr, "  %s / %s  (%s/s)\n",
				utils.ConvertBytesToHumanReadable(d.Downloaded),
				humanTotal(d.Total),
				utils.ConvertBytesToHumanReadable(int64(d.Speed)))
		case eventbus.TypeEndOne:
			var d eventbus.StartOneData
			json.Unmarshal([]byte(dataJSON), &d)
			fmt.Fprintf(os.Stderr, "[%s] done (%d/%d)\n", d.ShowName, d.Index, d.Total)
		case eventbus.TypeErr:
			var d eventbus.ErrData
			json.Unmarshal([]byte(dataJSON), &d)
			fmt.Fprintf(os.Stderr, "error: %s (retryable=%v)\n", d.Error, d.Retryable)
		case eventbus.TypeEnd:
			fmt.Fprintf(os.Stderr, "batch complete in %s\n", time.Since(start).Round(time.Millisecond))
			close(doneC)
		}
	}

	req := api.Request{
		Tasks: tasks, TaskCount: len(tasks), ThreadCount: flagWorkers,
		ChunkSizeMB: flagChunkMB, Callback: cb, Remote: remote,
	}
	id := api.StartDownload(ctx, req, len(tasks) > 1)
	if id < 1 {
		return fmt.Errorf("arg.invalid: could not start download")
	}

	select {
	case <-doneC:
		return nil
	case <-sigC:
		api.StopDownload(id)
		cancel()
		<-doneC
		return nil
	}
}

func humanTotal(total int64) string {
	if total < 0 {
		return "?"
	}
	return utils.ConvertBytesToHumanReadable(total)
}

// runTUI drives the same batch through a bubbletea program, feeding
// events from the api.Callback into it as tea.Msg values and wiring its
// keybindings straight onto the three control operations.
func runTUI(ctx context.Context, cancel context.CancelFunc, sigC <-chan os.Signal, tasks []types.TaskDescriptor, remote *api.RemoteEndpoint) error {
	var id int64 = -1

	controls := tui.Controls{
		Pause:  func() { api.PauseDownload(id) },
		Resume: func() { api.ResumeDownload(id) },
		Stop:   func() { api.StopDownload(id) },
	}
	model := tui.NewModel(tasks, controls)
	program := tea.NewProgram(model)

	cb := func(eventJSON, dataJSON string) {
		if msg, ok := tui.DecodeEventMsg(eventJSON, dataJSON); ok {
			program.Send(msg)
		}
	}

	req := api.Request{
		Tasks: tasks, TaskCount: len(tasks), ThreadCount: flagWorkers,
		ChunkSizeMB: flagChunkMB, Callback: cb, Remote: remote,
	}
	id = api.StartDownload(ctx, req, len(tasks) > 1)
	if id < 1 {
		return fmt.Errorf("arg.invalid: could not start download")
	}

	go func() {
		<-sigC
		api.StopDownload(id)
		cancel()
		program.Quit()
	}()

	_, err := program.Run()
	return err
}
