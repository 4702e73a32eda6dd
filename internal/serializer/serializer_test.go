package serializer

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"

	"github.com/agentdom/browserstate/internal/merger"
)

func TestRenderFormatsOneLinePerNode(t *testing.T) {
	nodes := []*merger.EnhancedNode{
		{Tag: "button", Role: "button", Name: "Go", Text: "Go", ActionType: merger.ActionClick},
		{Tag: "input", Role: "textbox", Name: "Search", Text: "", ActionType: merger.ActionInput},
	}

	out := Render(nodes, DefaultOptions())
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Len(t, lines, 2)
	assert.Equal(t, `[1]button role="button" name="Go" text="Go" action=click`, lines[0])
	assert.Equal(t, `[2]input role="textbox" name="Search" text="" action=input`, lines[1])
}

func TestRenderTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 120)
	nodes := []*merger.EnhancedNode{
		{Tag: "div", ActionType: merger.ActionClick, Text: long},
	}

	out := Render(nodes, DefaultOptions())
	assert.Contains(t, out, strings.Repeat("x", 80)+"…")
	assert.NotContains(t, out, strings.Repeat("x", 81))
}

func TestRenderEscapesQuotesAndNewlines(t *testing.T) {
	nodes := []*merger.EnhancedNode{
		{Tag: "a", Name: `say "hi"`, Text: "line1\nline2", ActionType: merger.ActionClick},
	}

	out := Render(nodes, DefaultOptions())
	assert.Contains(t, out, `name="say 'hi'"`)
	assert.NotContains(t, out, "\nline2")
}

func TestRenderIndentsByFrameDepth(t *testing.T) {
	outer := cdp.FrameID("outer")
	inner := cdp.FrameID("inner")
	nodes := []*merger.EnhancedNode{
		{Tag: "button", FrameID: outer, ActionType: merger.ActionClick},
		{Tag: "button", FrameID: inner, ActionType: merger.ActionClick},
	}

	opts := DefaultOptions()
	opts.FrameDepth = map[cdp.FrameID]int{outer: 0, inner: 1}

	out := Render(nodes, opts)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.False(t, strings.HasPrefix(lines[0], " "))
	assert.True(t, strings.HasPrefix(lines[1], "  "))
}
