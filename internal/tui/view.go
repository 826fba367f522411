package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tthsd/tthsd/internal/tui/colors"
	"github.com/tthsd/tthsd/internal/utils"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(colors.NeonPurple).Bold(true)
	doneStyle   = lipgloss.NewStyle().Foreground(colors.StateDone)
	errStyle    = lipgloss.NewStyle().Foreground(colors.StateError)
	pausedStyle = lipgloss.NewStyle().Foreground(colors.StatePaused)
	dimStyle    = lipgloss.NewStyle().Foreground(colors.LightGray)
	helpStyle   = lipgloss.NewStyle().Foreground(colors.Gray)
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tthsd") + " — " + fmt.Sprintf("%d file(s)", len(m.rows)) + "\n\n")

	for _, row := range m.rows {
		b.WriteString(renderRow(row) + "\n")
	}

	if m.statusMsg != "" {
		b.WriteString("\n" + pausedStyle.Render(m.statusMsg) + "\n")
	}
	if m.batchEnded {
		b.WriteString("\n" + doneStyle.Render("batch complete") + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("p pause · r resume · s stop · q quit") + "\n")
	return b.String()
}

func renderRow(row *fileRow) string {
	pct := 0.0
	if row.Total > 0 {
		pct = float64(row.Downloaded) / float64(row.Total)
	}

	label := row.ShowName
	switch {
	case row.Failed != "":
		label = errStyle.Render(label + " [" + row.Failed + "]")
	case row.Done:
		label = doneStyle.Render(label + " [done]")
	}

	bar := row.bar.ViewAs(pct)
	stats := fmt.Sprintf("%s / %s  %s/s",
		utils.ConvertBytesToHumanReadable(row.Downloaded),
		totalLabel(row.Total),
		utils.ConvertBytesToHumanReadable(int64(row.Speed)))

	return fmt.Sprintf("%-24s %s  %s", label, bar, dimStyle.Render(stats))
}

func totalLabel(total int64) string {
	if total < 0 {
		return "?"
	}
	return utils.ConvertBytesToHumanReadable(total)
}
