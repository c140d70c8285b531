package tui

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func makeExportEvent(kind, query string, dur time.Duration, at time.Time) event {
	return event{
		ConnID:     "conn-1",
		Kind:       kind,
		Query:      query,
		DurationMs: float64(dur.Microseconds()) / 1000,
		At:         at,
	}
}

func testEvents() []event {
	base := time.Date(2026, 2, 20, 15, 4, 5, 123000000, time.UTC)
	return []event{
		makeExportEvent("query",
			"SELECT id FROM users WHERE email = 'alice@example.com'",
			152300*time.Microsecond, base),
		makeExportEvent("query",
			"SELECT id FROM users WHERE email = 'bob@example.com'",
			203100*time.Microsecond, base.Add(time.Second)),
		makeExportEvent("execute",
			"INSERT INTO orders (user_id) VALUES (1)",
			50*time.Millisecond, base.Add(2*time.Second)),
	}
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	events := testEvents()
	md := renderMarkdown(events, "", "")

	checks := []string{
		"# mysrv monitor export",
		"- Captured: 3 commands",
		"- Exported: 3 commands",
		"## Commands",
		"| # | Time | Conn | Op | Duration | Query | Error |",
		"SELECT id FROM users WHERE email",
		"INSERT INTO orders",
		"## Analytics",
		"| Query | Count | Avg | P95 | Max | Total |",
	}

	for _, want := range checks {
		if !strings.Contains(md, want) {
			t.Errorf("renderMarkdown output missing %q\n\nGot:\n%s",
				want, md)
		}
	}
}

func TestRenderMarkdownFiltered(t *testing.T) {
	t.Parallel()

	events := testEvents()
	md := renderMarkdown(events, "op:query", "")

	if !strings.Contains(md, "- Captured: 3 commands") {
		t.Error("should show total captured count")
	}
	if !strings.Contains(md, "- Exported: 2 commands") {
		t.Error("should show filtered exported count")
	}
	if !strings.Contains(md, "(filter: op:query)") {
		t.Error("should show active filter")
	}
	if strings.Contains(md, "INSERT INTO orders") {
		t.Error("should not include non-matching events")
	}
}

func TestRenderJSON(t *testing.T) {
	t.Parallel()

	events := testEvents()
	out, err := renderJSON(events, "op:query", "users")
	if err != nil {
		t.Fatalf("renderJSON error: %v", err)
	}

	var d exportData
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("JSON decode error: %v", err)
	}

	if d.Captured != 3 {
		t.Errorf("captured = %d, want 3", d.Captured)
	}
	if d.Exported != 2 {
		t.Errorf("exported = %d, want 2", d.Exported)
	}
	if d.Filter != "op:query" {
		t.Errorf("filter = %q, want %q", d.Filter, "op:query")
	}
	if d.Search != "users" {
		t.Errorf("search = %q, want %q", d.Search, "users")
	}
	if len(d.Queries) != 2 {
		t.Errorf("queries count = %d, want 2", len(d.Queries))
	}
	if len(d.Analytics) != 1 {
		t.Errorf("analytics count = %d, want 1", len(d.Analytics))
	}
	if len(d.Analytics) > 0 && d.Analytics[0].Count != 2 {
		t.Errorf("analytics[0].count = %d, want 2",
			d.Analytics[0].Count)
	}
}

func TestRenderJSONNoError(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 20, 15, 0, 0, 0, time.UTC)
	events := []event{
		makeExportEvent("query", "SELECT 1", 10*time.Millisecond, base),
	}

	out, err := renderJSON(events, "", "")
	if err != nil {
		t.Fatalf("renderJSON error: %v", err)
	}

	var d exportData
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatalf("JSON decode error: %v", err)
	}

	if d.Queries[0].Error != "" {
		t.Errorf("error = %q, want empty", d.Queries[0].Error)
	}
}

func TestWriteExport(t *testing.T) {
	t.Parallel()

	events := testEvents()
	dir := t.TempDir()

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()
		path, err := writeExport(events, "", "",
			exportMarkdown, dir)
		if err != nil {
			t.Fatalf("writeExport error: %v", err)
		}
		if !strings.HasSuffix(path, ".md") {
			t.Errorf("path %q should end with .md", path)
		}

		data, err := os.ReadFile(path) //nolint:gosec // test file
		if err != nil {
			t.Fatalf("read file error: %v", err)
		}
		if !strings.Contains(string(data), "# mysrv monitor export") {
			t.Error("written file should contain markdown header")
		}
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		path, err := writeExport(events, "", "",
			exportJSON, dir)
		if err != nil {
			t.Fatalf("writeExport error: %v", err)
		}
		if !strings.HasSuffix(path, ".json") {
			t.Errorf("path %q should end with .json", path)
		}

		data, err := os.ReadFile(path) //nolint:gosec // test file
		if err != nil {
			t.Fatalf("read file error: %v", err)
		}
		var d exportData
		if err := json.Unmarshal(data, &d); err != nil {
			t.Fatalf("JSON decode error: %v", err)
		}
		if d.Captured != 3 {
			t.Errorf("captured = %d, want 3", d.Captured)
		}
	})
}

func TestBuildExportAnalytics(t *testing.T) {
	t.Parallel()

	events := testEvents()
	rows := buildExportAnalytics(events)

	if len(rows) != 2 {
		t.Fatalf("analytics rows = %d, want 2", len(rows))
	}

	// First row is the SELECT template (it appears first in the events slice).
	if rows[0].Count != 2 {
		t.Errorf("rows[0].count = %d, want 2", rows[0].Count)
	}
	if !strings.Contains(rows[0].Query, "SELECT") {
		t.Errorf("rows[0].query = %q, want SELECT query",
			rows[0].Query)
	}

	// Second row is the INSERT template.
	if rows[1].Count != 1 {
		t.Errorf("rows[1].count = %d, want 1", rows[1].Count)
	}
}

func TestEscapeMarkdownPipe(t *testing.T) {
	t.Parallel()

	got := escapeMarkdownPipe("a | b | c")
	want := "a \\| b \\| c"
	if got != want {
		t.Errorf("escapeMarkdownPipe = %q, want %q", got, want)
	}
}
