// Package serializer renders a merged EnhancedNode inventory as the
// LLM-facing text block a caller reads the page through. It is a pure
// function of its input: it never mutates the nodes it's given and never
// talks to the browser.
package serializer

import (
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"

	"github.com/agentdom/browserstate/internal/merger"
)

// defaultMaxTextLen is the ~80-char truncation budget for a node's text
// field.
const defaultMaxTextLen = 80

// Options configures Render. FrameDepth, if set, maps a node's FrameID to
// a nesting depth used for indentation; nodes whose frame is absent from
// the map are treated as depth 0.
type Options struct {
	MaxTextLen int
	FrameDepth map[cdp.FrameID]int
}

// DefaultOptions matches the documented ~80-char text truncation budget.
func DefaultOptions() Options {
	return Options{MaxTextLen: defaultMaxTextLen}
}

func (o Options) withDefaults() Options {
	if o.MaxTextLen <= 0 {
		o.MaxTextLen = defaultMaxTextLen
	}
	return o
}

// Render produces one line per node, in the order given (the merger
// already ranked it): `[<i>]<tag> role="<role>" name="<name>"
// text="<truncated>" action=<action_type>`, 1-based index, with
// frame-nesting indicated by leading indentation.
func Render(nodes []*merger.EnhancedNode, opts Options) string {
	opts = opts.withDefaults()

	var b strings.Builder
	for i, n := range nodes {
		indent := strings.Repeat("  ", opts.FrameDepth[n.FrameID])
		b.WriteString(indent)
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("]")
		b.WriteString(n.Tag)
		b.WriteString(` role="`)
		b.WriteString(escape(n.Role))
		b.WriteString(`" name="`)
		b.WriteString(escape(n.Name))
		b.WriteString(`" text="`)
		b.WriteString(escape(truncate(n.Text, opts.MaxTextLen)))
		b.WriteString(`" action=`)
		b.WriteString(string(n.ActionType))
		b.WriteByte('\n')
	}
	return b.String()
}

// truncate trims s to at most max runes, appending an ellipsis marker
// when it had to cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

// escape keeps a rendered line single-line and its quoted fields
// unambiguous: embedded quotes and newlines would otherwise break the
// fixed line format a caller parses back into indices.
func escape(s string) string {
	s = strings.ReplaceAll(s, `"`, "'")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return s
}
