package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tthsd/tthsd/internal/engine/types"
)

func testTasks() []types.TaskDescriptor {
	return []types.TaskDescriptor{
		{URL: "https://example.com/a.bin", SavePath: "/tmp/a.bin", ShowName: "a.bin", ID: "1"},
	}
}

func TestDecodeEventMsg_ParsesValidEvent(t *testing.T) {
	msg, ok := DecodeEventMsg(`{"Type":"start","Name":"n","ShowName":"n","ID":"1"}`, `{}`)
	require.True(t, ok)
	em, ok := msg.(eventMsg)
	require.True(t, ok)
	assert.Equal(t, "start", string(em.meta.Type))
}

func TestDecodeEventMsg_RejectsMalformedJSON(t *testing.T) {
	_, ok := DecodeEventMsg(`not json`, `{}`)
	assert.False(t, ok)
}

func TestModel_StartOneSetsTotal(t *testing.T) {
	m := NewModel(testTasks(), Controls{})
	msg, ok := DecodeEventMsg(`{"Type":"startOne"}`, `{"URL":"u","SavePath":"p","ShowName":"a.bin","Index":1,"Total":4}`)
	require.True(t, ok)

	updated, _ := m.Update(msg)
	mm := updated.(Model)
	assert.Equal(t, int64(4), mm.byName["a.bin"].Total)
}

func TestModel_EndOneMarksDone(t *testing.T) {
	m := NewModel(testTasks(), Controls{})
	m.byName["a.bin"].Total = 10
	msg, ok := DecodeEventMsg(`{"Type":"endOne"}`, `{"URL":"u","SavePath":"p","ShowName":"a.bin","Index":1,"Total":1}`)
	require.True(t, ok)

	updated, _ := m.Update(msg)
	mm := updated.(Model)
	assert.True(t, mm.byName["a.bin"].Done)
	assert.Equal(t, int64(10), mm.byName["a.bin"].Downloaded)
}

func TestModel_PauseKeyInvokesControl(t *testing.T) {
	called := false
	m := NewModel(testTasks(), Controls{Pause: func() { called = true }})

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	mm := updated.(Model)
	assert.True(t, called)
	assert.True(t, mm.paused)
}

func TestModel_QuitKeyTriggersStopAndQuit(t *testing.T) {
	stopped := false
	m := NewModel(testTasks(), Controls{Stop: func() { stopped = true }})

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	mm := updated.(Model)
	assert.True(t, stopped)
	assert.True(t, mm.quitting)
	require.NotNil(t, cmd)
}

func TestModel_ViewRendersWithoutPanicking(t *testing.T) {
	m := NewModel(testTasks(), Controls{})
	assert.NotPanics(t, func() {
		_ = m.View()
	})
}
