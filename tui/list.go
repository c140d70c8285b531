package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/taku-k/mysrv/highlight"
)

func eventStatus(ev event) string {
	if ev.Kind == "alert" {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")).Render("N+1")
	}
	if ev.Error != "" {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).Render("E")
	}
	if ev.duration() > 100*time.Millisecond {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).Render("SLOW")
	}
	return ""
}

// Column widths.
const (
	colMarker   = 2 // "▶ " or "  "
	colOp       = 9
	colDuration = 10
	colTime     = 12
	colStatus   = 4
)

func (m Model) renderList(maxRows int) string {
	innerWidth := max(m.width-4, 20)
	colQuery := max(innerWidth-colMarker-colOp-colDuration-colTime-colStatus-4, 10)

	var title string
	if m.searchQuery != "" || m.filterQuery != "" {
		title = fmt.Sprintf(" mysrv monitor (%d/%d commands) ", len(m.matched), len(m.events))
	} else {
		title = fmt.Sprintf(" mysrv monitor (%d commands) ", len(m.events))
	}
	if m.sortMode == sortDuration {
		title += "[slow] "
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth)

	dataRows := max(maxRows-1, 1) // -1 for header row

	start := 0
	if len(m.matched) > dataRows {
		start = max(m.cursor-dataRows/2, 0)
		if start+dataRows > len(m.matched) {
			start = len(m.matched) - dataRows
		}
	}
	end := min(start+dataRows, len(m.matched))

	header := fmt.Sprintf("  %-*s %-*s %*s %*s %-*s",
		colOp, "Op",
		colQuery, "Query",
		colDuration, "Duration",
		colTime, "Time",
		colStatus, "",
	)

	var rows []string
	rows = append(rows, lipgloss.NewStyle().Bold(true).Render(header))
	for i := start; i < end; i++ {
		rows = append(rows, m.renderEventRow(m.matched[i], i == m.cursor, colQuery))
	}

	borderColor := lipgloss.Color("240")
	border = border.BorderForeground(borderColor)
	content := strings.Join(rows, "\n")

	box := border.Render(content)
	lines := strings.Split(box, "\n")
	if len(lines) > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		titleStyle := lipgloss.NewStyle().Bold(true)
		dashes := max(innerWidth-len([]rune(title)), 0)
		lines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
		box = strings.Join(lines, "\n")
	}

	return box
}

func (m Model) renderEventRow(evIdx int, isCursor bool, colQuery int) string {
	ev := m.events[evIdx]
	marker := "  "
	if isCursor {
		marker = "▶ "
	}

	dur := formatDuration(ev.duration())
	t := formatTime(ev.At)

	q := truncate(ev.Query, colQuery)
	if q == "" {
		q = "-"
	}

	status := eventStatus(ev)

	row := fmt.Sprintf("%s%-*s %-*s %*s %*s",
		marker,
		colOp, ev.Kind,
		colQuery, q,
		colDuration, dur,
		colTime, t,
	) + " " + status
	if isCursor {
		row = lipgloss.NewStyle().Bold(true).Render(row)
	}
	return row
}

func (m Model) renderPreview() string {
	innerWidth := max(m.width-4, 20)

	ev := m.cursorEvent()
	if ev == nil {
		return ""
	}

	var lines []string
	lines = append(lines, "Conn:     "+formatConnID(ev.ConnID))
	lines = append(lines, "Op:       "+ev.Kind)

	if ev.Query != "" {
		maxQueryLen := max(innerWidth-10, 20) // 10 = len("Query:    ")
		lines = append(lines, "Query:    "+highlight.SQL(truncate(ev.Query, maxQueryLen)))
	}

	lines = append(lines, "Duration: "+formatDuration(ev.duration()))

	if ev.Error != "" {
		lines = append(lines, "Error:    "+ev.Error)
	}

	content := strings.Join(lines, "\n")

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240"))

	return border.Render(content)
}
