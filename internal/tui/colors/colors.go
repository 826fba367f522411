// Package colors is tthsd's terminal palette, carried over from the
// teacher's cyberpunk theme.
package colors

import "github.com/charmbracelet/lipgloss"

var (
	NeonPurple = lipgloss.Color("#bd93f9")
	Gray       = lipgloss.Color("#44475a")
	LightGray  = lipgloss.Color("#a9b1d6")
)

var (
	StateError  = lipgloss.Color("#ff5555")
	StatePaused = lipgloss.Color("#ffb86c")
	StateDone   = lipgloss.Color("#bd93f9")
)
