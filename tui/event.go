package tui

import (
	"errors"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/taku-k/mysrv/broker"
)

// errBrokerClosed is surfaced when the broker subscription channel closes,
// e.g. because the server shut the broker down while the dashboard was
// still attached.
var errBrokerClosed = errors.New("broker connection closed")

// event is the dashboard's own view of a broker.Event: plain strings and a
// millisecond duration, shaped for rendering and filtering.
type event struct {
	ConnID     string
	Kind       string
	Query      string
	Count      int
	DurationMs float64
	Error      string
	At         time.Time
}

func (e event) duration() time.Duration {
	return time.Duration(e.DurationMs * float64(time.Millisecond))
}

func fromBrokerEvent(be broker.Event) event {
	var errMsg string
	if be.Err != nil {
		errMsg = be.Err.Error()
	}
	return event{
		ConnID:     be.ConnID.String(),
		Kind:       kindString(be.Kind),
		Query:      be.Query,
		Count:      be.Count,
		DurationMs: float64(be.Duration.Microseconds()) / 1000,
		Error:      errMsg,
		At:         be.At,
	}
}

func kindString(k broker.Kind) string {
	switch k {
	case broker.KindConnect:
		return "connect"
	case broker.KindDisconnect:
		return "disconnect"
	case broker.KindQuery:
		return "query"
	case broker.KindPrepare:
		return "prepare"
	case broker.KindExecute:
		return "execute"
	case broker.KindError:
		return "error"
	case broker.KindAlert:
		return "alert"
	}
	return "unknown"
}

// subscribedMsg carries the live broker subscription once established.
type subscribedMsg struct {
	ch          <-chan broker.Event
	unsubscribe func()
}

// eventMsg carries one event read off the broker subscription.
type eventMsg struct{ Event event }

// closedMsg arrives once the broker closes the subscriber channel, e.g.
// because the server shut the broker down.
type closedMsg struct{}

func subscribe(b *broker.Broker) tea.Cmd {
	return func() tea.Msg {
		ch, unsubscribe := b.Subscribe()
		return subscribedMsg{ch: ch, unsubscribe: unsubscribe}
	}
}

func waitForEvent(ch <-chan broker.Event) tea.Cmd {
	return func() tea.Msg {
		be, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg{Event: fromBrokerEvent(be)}
	}
}

func formatConnID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseDurationToken parses tokens like "100ms", "1.5s" into a duration,
// accepting the same units query filters use.
func parseDurationToken(numStr, unit string) (time.Duration, bool) {
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	var scale time.Duration
	switch unit {
	case "us", "µs":
		scale = time.Microsecond
	case "ms":
		scale = time.Millisecond
	case "s":
		scale = time.Second
	case "m":
		scale = time.Minute
	default:
		return 0, false
	}
	return time.Duration(n * float64(scale)), true
}
