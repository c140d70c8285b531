package tui

import (
	"regexp"
	"strings"
	"time"
)

type filterKind int

const (
	filterText     filterKind = iota // plain text substring match
	filterDuration                   // d>100ms, d<10ms
	filterError                      // "error" keyword
	filterOp                         // op:query, op:prepare, etc.
)

type durationOp int

const (
	durGT durationOp = iota // >
	durLT                   // <
)

type filterCondition struct {
	kind filterKind

	// filterText
	text string

	// filterDuration
	durOp    durationOp
	durValue time.Duration

	// filterOp — matched against the event kind
	opPattern string
}

var reDuration = regexp.MustCompile(`^d([><])(\d+(?:\.\d+)?)(us|µs|ms|s|m)$`)

func parseFilter(input string) []filterCondition {
	tokens := strings.Fields(input)
	conds := make([]filterCondition, 0, len(tokens))

	for _, tok := range tokens {
		if c, ok := parseDuration(tok); ok {
			conds = append(conds, c)
			continue
		}
		if strings.ToLower(tok) == "error" {
			conds = append(conds, filterCondition{kind: filterError})
			continue
		}
		if c, ok := parseOp(tok); ok {
			conds = append(conds, c)
			continue
		}
		conds = append(conds, filterCondition{
			kind: filterText,
			text: strings.ToLower(tok),
		})
	}
	return conds
}

func parseDuration(tok string) (filterCondition, bool) {
	m := reDuration.FindStringSubmatch(tok)
	if m == nil {
		return filterCondition{}, false
	}
	op := durGT
	if m[1] == "<" {
		op = durLT
	}
	d, ok := parseDurationToken(m[2], m[3])
	if !ok {
		return filterCondition{}, false
	}
	return filterCondition{
		kind:     filterDuration,
		durOp:    op,
		durValue: d,
	}, true
}

func parseOp(tok string) (filterCondition, bool) {
	lower := strings.ToLower(tok)
	if !strings.HasPrefix(lower, "op:") {
		return filterCondition{}, false
	}
	pattern := lower[3:]
	if pattern == "" {
		return filterCondition{}, false
	}
	return filterCondition{
		kind:      filterOp,
		opPattern: pattern,
	}, true
}

func (c filterCondition) matchesEvent(ev event) bool {
	switch c.kind {
	case filterText:
		return strings.Contains(strings.ToLower(ev.Query), c.text)
	case filterDuration:
		dur := ev.duration()
		switch c.durOp {
		case durGT:
			return dur > c.durValue
		case durLT:
			return dur < c.durValue
		}
	case filterError:
		return ev.Error != ""
	case filterOp:
		return strings.EqualFold(ev.Kind, c.opPattern)
	}
	return false
}

func matchAllConditions(ev event, conds []filterCondition) bool {
	for _, c := range conds {
		if !c.matchesEvent(ev) {
			return false
		}
	}
	return true
}

func describeFilter(input string) string {
	conds := parseFilter(input)
	if len(conds) == 0 {
		return input
	}
	var parts []string
	for _, c := range conds {
		switch c.kind {
		case filterText:
			parts = append(parts, "text:"+c.text)
		case filterDuration:
			op := ">"
			if c.durOp == durLT {
				op = "<"
			}
			parts = append(parts, "d"+op+c.durValue.String())
		case filterError:
			parts = append(parts, "error")
		case filterOp:
			parts = append(parts, "op:"+c.opPattern)
		}
	}
	return strings.Join(parts, " ")
}

// wrapFooterItems arranges items into lines that fit within the given width.
// Each line starts with "  " and items are separated by "  ".
func wrapFooterItems(items []string, width int) string {
	if width <= 0 {
		return "  " + strings.Join(items, "  ")
	}

	const prefix = "  "
	const sep = "  "

	var lines []string
	line := prefix

	for _, item := range items {
		switch {
		case line == prefix:
			line += item
		case len(line)+len(sep)+len(item) <= width:
			line += sep + item
		default:
			lines = append(lines, line)
			line = prefix + item
		}
	}
	if line != prefix {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
