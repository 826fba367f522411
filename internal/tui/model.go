// Package tui is a trimmed terminal dashboard for cmd/tthsd: one
// progress bar per file, fed by the same event JSON/data JSON pairs the
// native callback signature in spec §6 hands to any host language.
// Grounded on the teacher's internal/tui (model.go/view.go/reporter.go),
// with the file picker, history browser, and duplicate-warning modals
// dropped — this is a single-batch demo, not a standing daemon UI.
package tui

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/eventbus"
)

// Controls wires the TUI's keybindings onto the api package's three
// control operations. The Model never imports internal/api directly,
// mirroring the teacher's Task→Bus DAG: the TUI only ever talks to its
// Downloader through this narrow, closure-shaped interface.
type Controls struct {
	Pause  func()
	Resume func()
	Stop   func()
}

type fileRow struct {
	ShowName   string
	Total      int64
	Downloaded int64
	Speed      float64
	Done       bool
	Failed     string
	bar        progress.Model
}

// Model is the root bubbletea model for one download batch.
type Model struct {
	rows     []*fileRow
	byName   map[string]*fileRow
	controls Controls

	paused   bool
	quitting bool
	statusMsg string
	width    int

	batchStart time.Time
	batchEnded bool
}

// NewModel builds a Model with one row per task, in task order.
func NewModel(tasks []types.TaskDescriptor, controls Controls) Model {
	m := Model{
		byName:     make(map[string]*fileRow, len(tasks)),
		controls:   controls,
		batchStart: time.Now(),
	}
	for _, t := range tasks {
		row := &fileRow{ShowName: t.ShowName, Total: -1, bar: progress.New(progress.WithDefaultGradient())}
		m.rows = append(m.rows, row)
		m.byName[t.ShowName] = row
	}
	return m
}

// eventMsg is the decoded form of one callback invocation, forwarded
// into the bubbletea event loop via program.Send.
type eventMsg struct {
	meta eventbus.Metadata
	data json.RawMessage
}

// DecodeEventMsg turns one (eventJSON, dataJSON) callback pair into a
// tea.Msg the Model's Update understands. Returns false if eventJSON
// doesn't parse, in which case the caller should simply drop the event.
func DecodeEventMsg(eventJSON, dataJSON string) (tea.Msg, bool) {
	var meta eventbus.Metadata
	if err := json.Unmarshal([]byte(eventJSON), &meta); err != nil {
		return nil, false
	}
	return eventMsg{meta: meta, data: json.RawMessage(dataJSON)}, true
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for _, r := range m.rows {
			r.bar.Width = clampWidth(m.width - 20)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.controls.Stop != nil {
				m.controls.Stop()
			}
			return m, tea.Quit
		case "p":
			if !m.paused && m.controls.Pause != nil {
				m.controls.Pause()
				m.paused = true
				m.statusMsg = "paused"
			}
			return m, nil
		case "r":
			if m.paused && m.controls.Resume != nil {
				m.controls.Resume()
				m.paused = false
				m.statusMsg = "resumed"
			}
			return m, nil
		case "s":
			if m.controls.Stop != nil {
				m.controls.Stop()
			}
			m.statusMsg = "stopping"
			return m, nil
		}
		return m, nil

	case eventMsg:
		return m.applyEvent(msg)
	}
	return m, nil
}

func (m Model) applyEvent(e eventMsg) (tea.Model, tea.Cmd) {
	switch e.meta.Type {
	case eventbus.TypeStartOne:
		var d eventbus.StartOneData
		json.Unmarshal(e.data, &d)
		if row, ok := m.byName[d.ShowName]; ok {
			row.Total = d.Total
		}

	case eventbus.TypeUpdate:
		var d eventbus.UpdateData
		json.Unmarshal(e.data, &d)
		// update is per-file in this Model's usage (one fileTask sampler
		// per file), but the wire shape doesn't carry ShowName for
		// `update`, so a single-file batch is the only case that can be
		// attributed unambiguously; in multi-file batches row zero shows
		// whichever file's update arrived last.
		if len(m.rows) > 0 {
			row := m.rows[0]
			row.Downloaded = d.Downloaded
			if d.Total >= 0 {
				row.Total = d.Total
			}
			row.Speed = d.Speed
		}

	case eventbus.TypeEndOne:
		var d eventbus.StartOneData
		json.Unmarshal(e.data, &d)
		if row, ok := m.byName[d.ShowName]; ok {
			row.Done = true
			row.Downloaded = row.Total
		}

	case eventbus.TypeErr:
		var d eventbus.ErrData
		json.Unmarshal(e.data, &d)
		if len(m.rows) > 0 {
			m.rows[0].Failed = d.Error
		}

	case eventbus.TypeMsg:
		var d eventbus.MsgData
		json.Unmarshal(e.data, &d)
		m.statusMsg = d.Text

	case eventbus.TypeEnd:
		m.batchEnded = true
	}
	return m, nil
}

func clampWidth(w int) int {
	if w < 10 {
		return 10
	}
	if w > 80 {
		return 80
	}
	return w
}
