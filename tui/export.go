package tui

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type exportFormat int

const (
	exportJSON exportFormat = iota
	exportMarkdown
)

func (f exportFormat) ext() string {
	if f == exportMarkdown {
		return "md"
	}
	return "json"
}

type exportAnalyticsRow struct {
	Query   string  `json:"query"`
	Count   int     `json:"count"`
	TotalMs float64 `json:"total_ms"`
	AvgMs   float64 `json:"avg_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
}

type exportQuery struct {
	Time       string  `json:"time"`
	Conn       string  `json:"conn"`
	Op         string  `json:"op"`
	Query      string  `json:"query"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error"`
}

type exportData struct {
	Captured int    `json:"captured"`
	Exported int    `json:"exported"`
	Filter   string `json:"filter"`
	Search   string `json:"search"`
	Period   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"period"`
	Queries   []exportQuery        `json:"queries"`
	Analytics []exportAnalyticsRow `json:"analytics"`
}

// filteredEvents returns the subset of events matching filter and search.
func filteredEvents(events []event, filterQuery, searchQuery string) []event {
	var conds []filterCondition
	if filterQuery != "" {
		conds = parseFilter(filterQuery)
	}
	searchLower := strings.ToLower(searchQuery)

	result := make([]event, 0, len(events))
	for _, ev := range events {
		if len(conds) > 0 && !matchAllConditions(ev, conds) {
			continue
		}
		if searchLower != "" && !strings.Contains(strings.ToLower(ev.Query), searchLower) {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// buildExportAnalytics aggregates query metrics from the given events,
// reusing the same grouping Model's analytics view uses.
func buildExportAnalytics(events []event) []exportAnalyticsRow {
	m := Model{events: events}
	rows := make([]exportAnalyticsRow, 0)
	for _, r := range m.buildAnalyticsRows() {
		rows = append(rows, exportAnalyticsRow{
			Query:   r.query,
			Count:   r.count,
			TotalMs: float64(r.totalDuration.Microseconds()) / 1000,
			AvgMs:   float64(r.avgDuration.Microseconds()) / 1000,
			P95Ms:   float64(r.p95Duration.Microseconds()) / 1000,
			MaxMs:   float64(r.maxDuration.Microseconds()) / 1000,
		})
	}
	return rows
}

func buildExportData(allEvents []event, filterQuery, searchQuery string) exportData {
	exported := filteredEvents(allEvents, filterQuery, searchQuery)

	var d exportData
	d.Captured = len(allEvents)
	d.Exported = len(exported)
	d.Filter = filterQuery
	d.Search = searchQuery

	if len(exported) > 0 {
		//nolint:gosmopolitan // export uses local time
		d.Period.Start = exported[0].At.In(time.Local).Format("15:04:05")
		//nolint:gosmopolitan // export uses local time
		d.Period.End = exported[len(exported)-1].At.In(time.Local).Format("15:04:05")
	}

	d.Queries = make([]exportQuery, 0, len(exported))
	for _, ev := range exported {
		//nolint:gosmopolitan // export uses local time
		ts := ev.At.In(time.Local)
		d.Queries = append(d.Queries, exportQuery{
			Time:       ts.Format("15:04:05.000"),
			Conn:       formatConnID(ev.ConnID),
			Op:         ev.Kind,
			Query:      ev.Query,
			DurationMs: float64(ev.duration().Microseconds()) / 1000,
			Error:      ev.Error,
		})
	}

	d.Analytics = buildExportAnalytics(exported)
	return d
}

func renderJSON(allEvents []event, filterQuery, searchQuery string) (string, error) {
	d := buildExportData(allEvents, filterQuery, searchQuery)
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(b) + "\n", nil
}

func renderMarkdown(allEvents []event, filterQuery, searchQuery string) string {
	d := buildExportData(allEvents, filterQuery, searchQuery)

	var sb strings.Builder
	sb.WriteString("# mysrv monitor export\n\n")

	fmt.Fprintf(&sb, "- Captured: %d commands\n", d.Captured)
	exportLine := fmt.Sprintf("- Exported: %d commands", d.Exported)
	if d.Filter != "" || d.Search != "" {
		var parts []string
		if d.Filter != "" {
			parts = append(parts, "filter: "+d.Filter)
		}
		if d.Search != "" {
			parts = append(parts, "search: "+d.Search)
		}
		exportLine += " (" + strings.Join(parts, ", ") + ")"
	}
	sb.WriteString(exportLine + "\n")
	if d.Period.Start != "" {
		fmt.Fprintf(&sb, "- Period: %s — %s\n", d.Period.Start, d.Period.End)
	}

	sb.WriteString("\n## Commands\n\n")
	sb.WriteString("| # | Time | Conn | Op | Duration | Query | Error |\n")
	sb.WriteString("|---|------|------|----|----------|-------|-------|\n")
	for i, q := range d.Queries {
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s | %s |\n",
			i+1, q.Time, q.Conn, q.Op,
			formatDurationMs(q.DurationMs),
			escapeMarkdownPipe(q.Query),
			escapeMarkdownPipe(q.Error),
		)
	}

	if len(d.Analytics) > 0 {
		sb.WriteString("\n## Analytics\n\n")
		sb.WriteString("| Query | Count | Avg | P95 | Max | Total |\n")
		sb.WriteString("|-------|-------|-----|-----|-----|-------|\n")
		for _, a := range d.Analytics {
			fmt.Fprintf(&sb, "| %s | %d | %s | %s | %s | %s |\n",
				escapeMarkdownPipe(a.Query),
				a.Count,
				formatDurationMs(a.AvgMs),
				formatDurationMs(a.P95Ms),
				formatDurationMs(a.MaxMs),
				formatDurationMs(a.TotalMs),
			)
		}
	}

	return sb.String()
}

func formatDurationMs(ms float64) string {
	switch {
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.1fms", ms)
	default:
		return fmt.Sprintf("%.2fs", ms/1000)
	}
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// writeExport writes filtered events to a file and returns the path.
// dir specifies the output directory; if empty, the current directory is used.
func writeExport(
	allEvents []event,
	filterQuery, searchQuery string,
	format exportFormat,
	dir string,
) (string, error) {
	var content string
	var err error

	switch format {
	case exportJSON:
		content, err = renderJSON(allEvents, filterQuery, searchQuery)
		if err != nil {
			return "", err
		}
	case exportMarkdown:
		content = renderMarkdown(allEvents, filterQuery, searchQuery)
	}

	filename := fmt.Sprintf("mysrv-monitor-%s.%s",
		time.Now().Format("20060102-150405"), format.ext())
	if dir != "" {
		filename = filepath.Join(dir, filename)
	}

	if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return filename, nil
}
