package tui

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

func formatTimeFull(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(time.Local).Format("15:04:05") //nolint:gosmopolitan // TUI displays local time
}

func padRight(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func padLeft(s string, width int) string {
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return strings.Repeat(" ", width-w) + s
}

var reSpaces = regexp.MustCompile(`\s+`)

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return s[:maxLen]
	}
	return s[:maxLen-1] + "…"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return formatDurationValue(d)
}

func formatDurationValue(dur time.Duration) string {
	switch {
	case dur < time.Millisecond:
		us := float64(dur.Microseconds())
		return fmt.Sprintf("%.0fµs", us)
	case dur < time.Second:
		ms := float64(dur.Microseconds()) / 1000
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.2fs", dur.Seconds())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(time.Local).Format("15:04:05.000") //nolint:gosmopolitan // TUI displays local time
}

// renderInputWithCursor renders a text input with a block cursor at the given rune position.
func renderInputWithCursor(text string, cursorPos int) string {
	runes := []rune(text)
	if cursorPos >= len(runes) {
		return text + "█"
	}
	return string(runes[:cursorPos]) + "█" + string(runes[cursorPos:])
}

func friendlyError(err error, width int) string {
	text := "Error: " + err.Error()
	return lipgloss.NewStyle().Width(width).Render(text)
}
