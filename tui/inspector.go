package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taku-k/mysrv/highlight"
)

func (m Model) updateInspect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit
	case "q":
		m.view = viewList
		if m.follow {
			m.cursor = max(len(m.matched)-1, 0)
		}
		return m, nil
	case "c":
		return m.copyQuery()
	case "j", "down":
		maxScroll := max(len(m.inspectLines())-m.inspectVisibleRows(), 0)
		if m.inspectScroll < maxScroll {
			m.inspectScroll++
		}
		return m, nil
	case "k", "up":
		if m.inspectScroll > 0 {
			m.inspectScroll--
		}
		return m, nil
	}
	return m, nil
}

func (m Model) inspectLines() []string {
	ev := m.cursorEvent()
	if ev == nil {
		return nil
	}

	var lines []string
	lines = append(lines, "Conn:     "+formatConnID(ev.ConnID))
	lines = append(lines, "Op:       "+ev.Kind)

	if ev.Query != "" {
		lines = append(lines, "Query:")
		for l := range strings.SplitSeq(ev.Query, "\n") {
			lines = append(lines, "  "+highlight.SQL(strings.TrimSpace(l)))
		}
	}

	if ev.Kind == "alert" {
		lines = append(lines, fmt.Sprintf("Count:    %d", ev.Count))
	}

	lines = append(lines, "Duration: "+formatDuration(ev.duration()))
	lines = append(lines, "Time:     "+formatTimeFull(ev.At))

	if ev.Error != "" {
		lines = append(lines, "Error:    "+ev.Error)
	}

	return lines
}

func (m Model) inspectVisibleRows() int {
	return max(m.height-2, 3) // -2 for top/bottom border
}

func (m Model) renderInspector() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.inspectVisibleRows()

	lines := m.inspectLines()
	if lines == nil {
		return ""
	}

	maxScroll := max(len(lines)-visibleRows, 0)
	if m.inspectScroll > maxScroll {
		m.inspectScroll = maxScroll
	}

	end := min(m.inspectScroll+visibleRows, len(lines))
	visible := lines[m.inspectScroll:end]
	content := strings.Join(visible, "\n")

	borderColor := lipgloss.Color("240")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(borderColor).
		Render(content)

	boxLines := strings.Split(box, "\n")
	if len(boxLines) > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		titleStyle := lipgloss.NewStyle().Bold(true)
		title := " Inspector "
		dashes := max(innerWidth-len([]rune(title)), 0)
		boxLines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
	}

	if n := len(boxLines); n > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		help := " q: back  j/k: scroll  c: copy query "
		dashes := max(innerWidth-len([]rune(help)), 0)
		boxLines[n-1] = borderFg.Render("╰") +
			lipgloss.NewStyle().Faint(true).Render(help) +
			borderFg.Render(strings.Repeat("─", dashes)+"╯")
	}

	return strings.Join(boxLines, "\n")
}
