// Package highlight renders SQL text with ANSI terminal syntax
// highlighting, for display in the TUI dashboard.
package highlight

import (
	"bytes"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var (
	lexer     chroma.Lexer
	formatter chroma.Formatter
	style     *chroma.Style
)

func init() {
	lexer = lexers.Get("sql")
	formatter = formatters.Get("terminal256")
	style = styles.Get("monokai")
}

// SQL returns the input with ANSI terminal syntax highlighting applied.
// On error or empty input, the original string is returned unchanged.
func SQL(s string) string {
	if s == "" {
		return s
	}

	iterator, err := lexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return s
	}

	return strings.TrimRight(buf.String(), "\n")
}
