// Package tui is a Bubble Tea dashboard that subscribes to a broker.Broker
// in-process and renders commands as they arrive: a live list, a
// per-command inspector, and a query-template analytics view.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taku-k/mysrv/broker"
	"github.com/taku-k/mysrv/clipboard"
)

type viewMode int

const (
	viewList viewMode = iota
	viewInspect
	viewAnalytics
)

type sortMode int

const (
	sortChronological sortMode = iota
	sortDuration
)

// Model is the Bubble Tea model for the mysrv monitor viewer.
type Model struct {
	broker      *broker.Broker
	ch          <-chan broker.Event
	unsubscribe func()

	events  []event
	matched []int // indices into events that pass the current filter/search
	cursor  int
	follow  bool
	width   int
	height  int
	err     error
	view    viewMode

	searchMode   bool
	searchQuery  string
	searchCursor int
	filterMode   bool
	filterQuery  string
	filterCursor int
	sortMode     sortMode

	alert string

	inspectScroll int

	analyticsRows     []analyticsRow
	analyticsCursor   int
	analyticsHScroll  int
	analyticsSortMode analyticsSortMode
}

// New creates a new Model that will subscribe to b once started.
func New(b *broker.Broker) Model {
	return Model{
		broker: b,
		follow: true,
	}
}

// Init subscribes to the broker.
func (m Model) Init() tea.Cmd {
	return subscribe(m.broker)
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case subscribedMsg:
		m.ch = msg.ch
		m.unsubscribe = msg.unsubscribe
		return m, waitForEvent(msg.ch)

	case eventMsg:
		m.events = append(m.events, msg.Event)

		var alertCmd tea.Cmd
		if msg.Event.Kind == "alert" {
			var c tea.Cmd
			m, c = m.showAlert(fmt.Sprintf("N+1 suspected: %s (%dx)", truncate(msg.Event.Query, 60), msg.Event.Count))
			alertCmd = c
		}

		if m.view != viewList {
			return m, tea.Batch(waitForEvent(m.ch), alertCmd)
		}
		m.rebuild()
		if m.follow {
			m.cursor = max(len(m.matched)-1, 0)
		}
		return m, tea.Batch(waitForEvent(m.ch), alertCmd)

	case closedMsg:
		m.err = errBrokerClosed
		return m, nil

	case alertClearMsg:
		if m.alert == string(msg) {
			m.alert = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case viewInspect:
			return m.updateInspect(msg)
		case viewAnalytics:
			return m.updateAnalytics(msg)
		case viewList:
			return m.updateList(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	if m.err != nil {
		return friendlyError(m.err, m.width)
	}

	if len(m.events) == 0 {
		return "Waiting for commands..."
	}

	switch m.view {
	case viewInspect:
		return m.renderInspector()
	case viewAnalytics:
		return m.renderAnalytics()
	case viewList:
	}

	var footer string
	switch {
	case m.searchMode:
		footer = "  / " + renderInputWithCursor(m.searchQuery, m.searchCursor)
	case m.filterMode:
		footer = "  filter: " + renderInputWithCursor(m.filterQuery, m.filterCursor)
	default:
		items := []string{
			"q: quit", "j/k: navigate",
			"enter: inspect", "a: analytics",
			"c: copy", "w: export",
			"/: search", "f: filter", "s: sort",
		}
		footer = wrapFooterItems(items, m.width)
		if m.filterQuery != "" {
			footer += "\n  " + fmt.Sprintf("[filter: %s]", describeFilter(m.filterQuery))
		}
		if m.searchQuery != "" || m.filterQuery != "" {
			footer += "  esc: clear"
		}
		if m.sortMode == sortDuration {
			footer += "  [sorted: duration]"
		}
		if m.alert != "" {
			footer += "  " + m.alert
		}
	}

	footerLines := strings.Count(footer, "\n") + 1
	listHeight := m.listHeight(footerLines)

	return strings.Join([]string{
		m.renderList(listHeight),
		m.renderPreview(),
		footer,
	}, "\n")
}

func (m Model) listHeight(footerLines int) int {
	extra := max(footerLines-1, 0)
	return max(m.height-12-extra, 3)
}

// rebuild recomputes m.matched from m.events against the current filter
// and search query, and sorts it per m.sortMode.
func (m *Model) rebuild() {
	var conds []filterCondition
	if m.filterQuery != "" {
		conds = parseFilter(m.filterQuery)
	}
	searchLower := strings.ToLower(m.searchQuery)

	m.matched = m.matched[:0]
	for i, ev := range m.events {
		if len(conds) > 0 && !matchAllConditions(ev, conds) {
			continue
		}
		if searchLower != "" && !strings.Contains(strings.ToLower(ev.Query), searchLower) {
			continue
		}
		m.matched = append(m.matched, i)
	}

	if m.sortMode == sortDuration {
		sort.SliceStable(m.matched, func(a, b int) bool {
			return m.events[m.matched[a]].duration() > m.events[m.matched[b]].duration()
		})
	}
}

func (m Model) cursorEvent() *event {
	if m.cursor < 0 || m.cursor >= len(m.matched) {
		return nil
	}
	return &m.events[m.matched[m.cursor]]
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searchMode {
		return m.updateSearch(msg)
	}
	if m.filterMode {
		return m.updateFilter(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit
	case "enter":
		if len(m.matched) > 0 {
			m.view = viewInspect
			m.inspectScroll = 0
		}
		return m, nil
	case "c":
		return m.copyQuery()
	case "w":
		return m.exportCmd()
	case "/":
		m.searchMode = true
		m.searchQuery = ""
		m.searchCursor = 0
		return m, nil
	case "f":
		m.filterMode = true
		m.filterQuery = ""
		m.filterCursor = 0
		return m, nil
	case "s":
		return m.toggleSort(), nil
	case "a":
		return m.enterAnalytics(), nil
	case "esc":
		return m.clearFilter(), nil
	case "j", "down":
		return m.navigateCursor(msg.String()), nil
	case "k", "up":
		return m.navigateCursor(msg.String()), nil
	case "ctrl+d", "pgdown":
		return m.pageScroll(msg.String()), nil
	case "ctrl+u", "pgup":
		return m.pageScroll(msg.String()), nil
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		return m, nil
	case "esc":
		m.searchMode = false
		m.searchQuery = ""
		m.rebuild()
		m.cursor = min(m.cursor, max(len(m.matched)-1, 0))
		return m, nil
	case "backspace":
		if m.searchCursor > 0 {
			runes := []rune(m.searchQuery)
			m.searchQuery = string(runes[:m.searchCursor-1]) + string(runes[m.searchCursor:])
			m.searchCursor--
			m.rebuild()
			m.cursor = min(m.cursor, max(len(m.matched)-1, 0))
		}
		return m, nil
	case "ctrl+c":
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit
	case "left":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil
	case "right":
		if m.searchCursor < len([]rune(m.searchQuery)) {
			m.searchCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}

	runes := []rune(m.searchQuery)
	m.searchQuery = string(runes[:m.searchCursor]) + string(r) + string(runes[m.searchCursor:])
	m.searchCursor += len(r)
	m.rebuild()
	m.cursor = min(m.cursor, max(len(m.matched)-1, 0))
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filterMode = false
		return m, nil
	case "esc":
		m.filterMode = false
		m.filterQuery = ""
		m.rebuild()
		m.cursor = min(m.cursor, max(len(m.matched)-1, 0))
		return m, nil
	case "backspace":
		if m.filterCursor > 0 {
			runes := []rune(m.filterQuery)
			m.filterQuery = string(runes[:m.filterCursor-1]) + string(runes[m.filterCursor:])
			m.filterCursor--
			m.rebuild()
			m.cursor = min(m.cursor, max(len(m.matched)-1, 0))
		}
		return m, nil
	case "ctrl+c":
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit
	case "left":
		if m.filterCursor > 0 {
			m.filterCursor--
		}
		return m, nil
	case "right":
		if m.filterCursor < len([]rune(m.filterQuery)) {
			m.filterCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}

	runes := []rune(m.filterQuery)
	m.filterQuery = string(runes[:m.filterCursor]) + string(r) + string(runes[m.filterCursor:])
	m.filterCursor += len(r)
	m.rebuild()
	m.cursor = min(m.cursor, max(len(m.matched)-1, 0))
	return m, nil
}

func (m Model) pageScroll(key string) Model {
	half := max(m.listHeight(1)/2, 1)
	switch key {
	case "ctrl+d", "pgdown":
		m.cursor = min(m.cursor+half, max(len(m.matched)-1, 0))
		if len(m.matched) > 0 && m.cursor == len(m.matched)-1 {
			m.follow = true
		}
	case "ctrl+u", "pgup":
		m.cursor = max(m.cursor-half, 0)
		m.follow = false
	}
	return m
}

func (m Model) navigateCursor(key string) Model {
	switch key {
	case "up":
		if m.cursor > 0 {
			m.cursor--
			m.follow = false
		}
	case "down":
		if len(m.matched) > 0 && m.cursor < len(m.matched)-1 {
			m.cursor++
		}
		if len(m.matched) > 0 && m.cursor == len(m.matched)-1 {
			m.follow = true
		}
	}
	return m
}

func (m Model) copyQuery() (Model, tea.Cmd) {
	ev := m.cursorEvent()
	if ev == nil || ev.Query == "" {
		return m, nil
	}
	_ = clipboard.Copy(context.Background(), ev.Query)
	return m.showAlert("copied!")
}

func (m Model) exportCmd() (Model, tea.Cmd) {
	path, err := writeExport(m.events, m.filterQuery, m.searchQuery, exportJSON, "")
	if err != nil {
		return m.showAlert("export failed: " + err.Error())
	}
	return m.showAlert("exported to " + path)
}

type alertClearMsg string

func (m Model) showAlert(msg string) (Model, tea.Cmd) {
	m.alert = msg
	return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return alertClearMsg(msg) })
}

func (m Model) toggleSort() Model {
	switch m.sortMode {
	case sortChronological:
		m.sortMode = sortDuration
		m.follow = false
	case sortDuration:
		m.sortMode = sortChronological
	}
	m.rebuild()
	m.cursor = 0
	return m
}

func (m Model) enterAnalytics() Model {
	m.analyticsRows = m.buildAnalyticsRows()
	sortAnalyticsRows(m.analyticsRows, m.analyticsSortMode)
	m.analyticsCursor = 0
	m.analyticsHScroll = 0
	m.view = viewAnalytics
	return m
}

func (m Model) clearFilter() Model {
	changed := false
	if m.searchQuery != "" {
		m.searchQuery = ""
		changed = true
	}
	if m.filterQuery != "" {
		m.filterQuery = ""
		changed = true
	}
	if changed {
		m.rebuild()
		m.cursor = min(m.cursor, max(len(m.matched)-1, 0))
	}
	return m
}
