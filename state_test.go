package browserstate

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdom/browserstate/internal/cdperr"
	"github.com/agentdom/browserstate/internal/merger"
)

// emptyPageResponder answers every command GetState issues against a page
// with no interactive elements: an empty document, an empty snapshot/AX
// tree, and canned Runtime.evaluate results keyed off the expression text.
func emptyPageResponder(url, title string) func(*cdproto.Message) *cdproto.Message {
	return func(msg *cdproto.Message) *cdproto.Message {
		switch msg.Method {
		case cdproto.CommandDOMGetDocument:
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"root":{"nodeId":1,"backendNodeId":1,"nodeName":"#document","nodeType":9}}`)}
		case cdproto.CommandDOMSnapshotCaptureSnapshot:
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"documents":[],"strings":[]}`)}
		case cdproto.CommandAccessibilityGetFullAXTree:
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"nodes":[]}`)}
		case cdproto.CommandRuntimeEvaluate:
			switch {
			case strings.Contains(string(msg.Params), "devicePixelRatio"):
				return &cdproto.Message{ID: msg.ID, Result: []byte(`{"result":{"type":"number","value":1}}`)}
			case strings.Contains(string(msg.Params), "location.href"):
				return &cdproto.Message{ID: msg.ID, Result: []byte(`{"result":{"type":"string","value":"` + url + `"}}`)}
			case strings.Contains(string(msg.Params), "document.title"):
				return &cdproto.Message{ID: msg.ID, Result: []byte(`{"result":{"type":"string","value":"` + title + `"}}`)}
			}
		}
		return &cdproto.Message{ID: msg.ID, Result: []byte(`{}`)}
	}
}

func newTestState(t *testing.T, responder func(*cdproto.Message) *cdproto.Message, cfg Config) (*State, target.SessionID) {
	t.Helper()
	c := newTestClient(t, responder)
	go c.readLoop(context.Background())

	sid := target.SessionID("s1")
	tid := target.ID("t1")
	c.reg.addTarget(tid, "page", "https://example.com/")
	c.reg.attachSession(sid, tid)

	return NewState(c, cfg), sid
}

func TestGetStateFetchesURLAndTitle(t *testing.T) {
	responder := emptyPageResponder("https://example.com/page", "Example Page")
	s, sid := newTestState(t, responder, DefaultConfig())

	state, err := s.GetState(context.Background(), sid, false)
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, "https://example.com/page", state.URL)
	assert.Equal(t, "Example Page", state.Title)
	assert.Empty(t, state.SelectorMap)
	assert.Equal(t, 0, state.ElementCount)
	assert.Nil(t, state.ScreenshotBytes, "screenshot bytes must be absent unless explicitly requested")
}

func TestGetStatePropagatesPartialCollectorFailure(t *testing.T) {
	responder := func(msg *cdproto.Message) *cdproto.Message {
		if msg.Method == cdproto.CommandDOMSnapshotCaptureSnapshot {
			return &cdproto.Message{ID: msg.ID, Error: &cdproto.Error{Code: -32000, Message: "snapshot failed"}}
		}
		return emptyPageResponder("https://example.com/", "Example")(msg)
	}
	s, sid := newTestState(t, responder, DefaultConfig())

	state, err := s.GetState(context.Background(), sid, false)
	require.Error(t, err, "a degraded collector result is still a reportable error, alongside a usable state")
	require.NotNil(t, state)
	assert.Equal(t, "https://example.com/", state.URL)
}

func TestActionByIndexOutOfRangeReturnsNotFound(t *testing.T) {
	s := &State{cfg: DefaultConfig()}
	sel := []SelectorEntry{{ActionType: merger.ActionClick}}

	for _, idx := range []int{0, -1, 2, 99} {
		res := s.ClickByIndex(context.Background(), sel, idx)
		assert.False(t, res.Success)
		assert.Equal(t, "not_found", res.ErrorKind)
		assert.Equal(t, idx, res.ElementIndex)
	}
}

func TestClickByIndexDrivesTheResolvedNode(t *testing.T) {
	var clicked bool
	responder := func(msg *cdproto.Message) *cdproto.Message {
		switch msg.Method {
		case cdproto.CommandDOMScrollIntoViewIfNeeded:
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{}`)}
		case cdproto.CommandDOMGetBoxModel:
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"model":{"content":[0,0,10,0,10,10,0,10]}}`)}
		case cdproto.CommandInputDispatchMouseEvent:
			clicked = true
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{}`)}
		}
		return &cdproto.Message{ID: msg.ID, Result: []byte(`{}`)}
	}
	s, sid := newTestState(t, responder, DefaultConfig())

	sel := []SelectorEntry{{SessionID: sid, BackendNodeID: 7, ActionType: merger.ActionClick}}
	res := s.ClickByIndex(context.Background(), sel, 1)

	assert.True(t, res.Success)
	assert.True(t, clicked)
	assert.Equal(t, merger.ActionClick, res.ActionType)
}

func TestClickByIndexShortCircuitsOccludedEntry(t *testing.T) {
	var clicked bool
	responder := func(msg *cdproto.Message) *cdproto.Message {
		if msg.Method == cdproto.CommandInputDispatchMouseEvent {
			clicked = true
		}
		return &cdproto.Message{ID: msg.ID, Result: []byte(`{}`)}
	}
	s, sid := newTestState(t, responder, DefaultConfig())

	sel := []SelectorEntry{{SessionID: sid, BackendNodeID: 7, ActionType: merger.ActionClick, Occluded: true}}
	res := s.ClickByIndex(context.Background(), sel, 1)

	assert.False(t, res.Success)
	assert.Equal(t, "occluded", res.ErrorKind)
	assert.False(t, clicked, "an occluded entry must never reach ClickNode")
}

func TestErrorKindMapsTaxonomyToStrings(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", cdperr.ErrNotFound), "not_found"},
		{fmt.Errorf("wrap: %w", cdperr.ErrOccluded), "occluded"},
		{fmt.Errorf("wrap: %w", cdperr.ErrNotVisible), "not_visible"},
		{fmt.Errorf("wrap: %w", cdperr.ErrInputRejected), "input_rejected"},
		{fmt.Errorf("wrap: %w", cdperr.ErrSessionLost), "session_lost"},
		{fmt.Errorf("wrap: %w", cdperr.ErrTimeout), "timeout"},
		{fmt.Errorf("wrap: %w", cdperr.ErrConnection), "protocol_error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorKind(tc.err))
	}
}
