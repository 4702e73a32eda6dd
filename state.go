package browserstate

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"golang.org/x/sync/errgroup"

	"github.com/agentdom/browserstate/internal/cdperr"
	"github.com/agentdom/browserstate/internal/merger"
	"github.com/agentdom/browserstate/internal/serializer"
)

// SelectorEntry is what the selector map stores per LLM-visible index
// (§3): everything an action-by-index call needs to re-find and drive the
// element the text inventory described it as, without re-running the
// merge.
type SelectorEntry struct {
	BackendNodeID cdp.BackendNodeID
	SessionID     target.SessionID
	Bounds        merger.Rect
	ClickPoint    merger.Point
	ActionType    merger.ActionType
	Tag           string
	Label         string // accessible name, falling back to visible text
	Occluded      bool   // another node covers >90% of Bounds; see §7 Occluded
}

// BrowserState is one observation cycle's immutable result (§3): the
// text inventory an LLM reads, and the selector map a follow-up action
// call resolves an index against.
type BrowserState struct {
	URL             string
	Title           string
	DOMText         string
	SelectorMap     []SelectorEntry
	ScreenshotBytes []byte
	ViewportWidth   int
	ViewportHeight  int
	ElementCount    int
}

// ActionResult is the uniform shape every action-by-index primitive
// returns (§6), regardless of which underlying CDP primitive it drove.
type ActionResult struct {
	Success       bool
	ActionType    merger.ActionType
	ElementIndex  int
	ErrorKind     string
	ScreenshotRef string
}

// State is the orchestrator (component H / §4.H) sitting on top of the
// collector, merger, serializer and action primitives: the facade a
// caller actually drives the browser through.
type State struct {
	client *Client
	cfg    Config
}

// NewState binds an orchestrator to an already-connected Client and a
// validated Config. It immediately records cfg's viewport dimensions on
// client, so every page session Start's auto-attach discovers from here
// gets the emulated viewport applied on attach.
func NewState(client *Client, cfg Config) *State {
	client.SetViewport(cfg.ViewportWidth, cfg.ViewportHeight)
	return &State{client: client, cfg: cfg}
}

// GetState performs one full observation cycle: collect raw DOM/snapshot/
// AX data, merge and rank it, render the text inventory, and — per §4.H —
// concurrently fetch the current URL, page title, and (if requested) a
// screenshot. Those three round trips use errgroup rather than collector.go's
// plain WaitGroup: a collector source failing is tolerated and surfaced as
// partial data, but a failure fetching URL/title/screenshot here means the
// whole call failed, so fail-fast cancellation is the right behavior.
func (s *State) GetState(ctx context.Context, sessionID target.SessionID, includeScreenshot bool) (*BrowserState, error) {
	obs, obsErr := s.client.Collect(ctx, sessionID, s.cfg.DOMFetchTimeout)
	if obs == nil {
		return nil, obsErr
	}

	dpr, err := s.devicePixelRatio(ctx, sessionID)
	if err != nil {
		dpr = 1
	}

	nodes := merger.Merge(obs.Document, obs.Snapshot, obs.AXNodes, merger.Options{
		DevicePixelRatio: dpr,
		MinConfidence:    s.cfg.MinConfidence,
	})

	var url, title string
	var shot []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.client.CurrentURL(gctx, sessionID)
		url = u
		return err
	})
	g.Go(func() error {
		t, err := s.client.PageTitle(gctx, sessionID)
		title = t
		return err
	})
	if includeScreenshot {
		g.Go(func() error {
			b, err := s.client.CaptureViewportScreenshot(gctx, sessionID, s.cfg.ScreenshotFormat, s.cfg.ScreenshotQuality)
			shot = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	depths := s.frameDepths(nodes)
	text := serializer.Render(nodes, serializer.Options{FrameDepth: depths})
	selMap := s.buildSelectorMap(nodes)

	state := &BrowserState{
		URL:            url,
		Title:          title,
		DOMText:        text,
		SelectorMap:    selMap,
		ViewportWidth:  s.cfg.ViewportWidth,
		ViewportHeight: s.cfg.ViewportHeight,
		ElementCount:   len(selMap),
	}
	if includeScreenshot {
		state.ScreenshotBytes = shot
	}
	if obsErr != nil {
		return state, obsErr
	}
	return state, nil
}

func (s *State) buildSelectorMap(nodes []*merger.EnhancedNode) []SelectorEntry {
	out := make([]SelectorEntry, 0, len(nodes))
	for _, n := range nodes {
		sid, ok := s.client.reg.sessionForFrame(n.FrameID)
		if !ok {
			sid, _ = s.client.RootSession()
		}
		label := n.Name
		if label == "" {
			label = n.Text
		}
		out = append(out, SelectorEntry{
			BackendNodeID: n.BackendNodeID,
			SessionID:     sid,
			Bounds:        n.Bounds,
			ClickPoint:    n.ClickPoint,
			ActionType:    n.ActionType,
			Tag:           n.Tag,
			Label:         label,
			Occluded:      n.Occluded,
		})
	}
	return out
}

func (s *State) frameDepths(nodes []*merger.EnhancedNode) map[cdp.FrameID]int {
	depths := make(map[cdp.FrameID]int)
	for _, n := range nodes {
		if _, ok := depths[n.FrameID]; !ok {
			depths[n.FrameID] = s.client.reg.frameDepth(n.FrameID)
		}
	}
	return depths
}

func (s *State) devicePixelRatio(ctx context.Context, sessionID target.SessionID) (float64, error) {
	eval := runtime.Evaluate("window.devicePixelRatio").WithReturnByValue(true)
	var res runtime.EvaluateReturns
	if err := s.client.Send(ctx, sessionID, cdproto.CommandRuntimeEvaluate, eval, &res); err != nil {
		return 0, err
	}
	var dpr float64
	if res.Result != nil {
		_ = json.Unmarshal(res.Result.Value, &dpr)
	}
	if dpr == 0 {
		dpr = 1
	}
	return dpr, nil
}

// errorKind maps an error from the cdperr taxonomy (§7) to the short
// string ActionResult.ErrorKind reports, so a caller can branch on it
// without importing cdperr itself.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, cdperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, cdperr.ErrOccluded):
		return "occluded"
	case errors.Is(err, cdperr.ErrNotVisible):
		return "not_visible"
	case errors.Is(err, cdperr.ErrInputRejected):
		return "input_rejected"
	case errors.Is(err, cdperr.ErrSessionLost):
		return "session_lost"
	case errors.Is(err, cdperr.ErrTimeout):
		return "timeout"
	default:
		return "protocol_error"
	}
}

// resolve validates index against sel (a SelectorMap from a prior
// GetState call) and returns the entry it names. Index is 1-based,
// matching the inventory line a caller read. An out-of-range index
// yields a *cdperr.NotFoundError, which unwraps to cdperr.ErrNotFound.
func resolve(sel []SelectorEntry, index int) (SelectorEntry, error) {
	if index < 1 || index > len(sel) {
		return SelectorEntry{}, &cdperr.NotFoundError{Index: index}
	}
	return sel[index-1], nil
}

// ClickByIndex drives a click/toggle element named by a prior GetState
// call's index. Per scenario S3, an entry the merger flagged Occluded
// never reaches ClickNode: the pre-action occlusion check is the
// caller's responsibility ClickNode's own doc comment calls out, and
// this is that caller.
func (s *State) ClickByIndex(ctx context.Context, sel []SelectorEntry, index int) ActionResult {
	entry, err := resolve(sel, index)
	if err != nil {
		return ActionResult{ElementIndex: index, ErrorKind: errorKind(err)}
	}
	if entry.Occluded {
		return ActionResult{ActionType: entry.ActionType, ElementIndex: index, ErrorKind: errorKind(cdperr.ErrOccluded)}
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	clickErr := s.client.ClickNode(actx, entry.SessionID, entry.BackendNodeID)
	return ActionResult{Success: clickErr == nil, ActionType: entry.ActionType, ElementIndex: index, ErrorKind: errorKind(clickErr)}
}

// TypeByIndex focuses and types into an input/textarea element named by a
// prior GetState call's index.
func (s *State) TypeByIndex(ctx context.Context, sel []SelectorEntry, index int, text string) ActionResult {
	entry, err := resolve(sel, index)
	if err != nil {
		return ActionResult{ElementIndex: index, ErrorKind: errorKind(err)}
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	typeErr := s.client.TypeText(actx, entry.SessionID, entry.BackendNodeID, text)
	return ActionResult{Success: typeErr == nil, ActionType: entry.ActionType, ElementIndex: index, ErrorKind: errorKind(typeErr)}
}

// SelectByIndex sets a <select> element's value, named by a prior
// GetState call's index.
func (s *State) SelectByIndex(ctx context.Context, sel []SelectorEntry, index int, value string) ActionResult {
	entry, err := resolve(sel, index)
	if err != nil {
		return ActionResult{ElementIndex: index, ErrorKind: errorKind(err)}
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	selErr := s.client.SelectOption(actx, entry.SessionID, entry.BackendNodeID, value)
	return ActionResult{Success: selErr == nil, ActionType: entry.ActionType, ElementIndex: index, ErrorKind: errorKind(selErr)}
}

// ToggleByIndex flips a checkbox/radio/switch element named by a prior
// GetState call's index: a toggle is a click, since CDP has no native
// "set checked" input and dispatching one is how a real user does it.
// Routing through ClickByIndex also gets it the same occlusion check.
func (s *State) ToggleByIndex(ctx context.Context, sel []SelectorEntry, index int) ActionResult {
	return s.ClickByIndex(ctx, sel, index)
}

// PressKeyByIndex dispatches a named key at an element named by a prior
// GetState call's index.
func (s *State) PressKeyByIndex(ctx context.Context, sel []SelectorEntry, index int, key string, modifiers ...string) ActionResult {
	entry, err := resolve(sel, index)
	if err != nil {
		return ActionResult{ElementIndex: index, ErrorKind: errorKind(err)}
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	keyErr := s.client.PressKey(actx, entry.SessionID, entry.BackendNodeID, key, modifiers...)
	return ActionResult{Success: keyErr == nil, ActionType: entry.ActionType, ElementIndex: index, ErrorKind: errorKind(keyErr)}
}

// ScreenshotByIndex captures just the element named by a prior GetState
// call's index and persists it to a temp file, returning the path rather
// than the bytes: screenshots are never embedded in long-lived history.
func (s *State) ScreenshotByIndex(ctx context.Context, sel []SelectorEntry, index int) ActionResult {
	entry, err := resolve(sel, index)
	if err != nil {
		return ActionResult{ElementIndex: index, ErrorKind: errorKind(err)}
	}
	actx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()

	data, shotErr := s.client.CaptureNodeScreenshot(actx, entry.SessionID, entry.BackendNodeID, s.cfg.ScreenshotFormat, s.cfg.ScreenshotQuality)
	if shotErr != nil {
		return ActionResult{ActionType: entry.ActionType, ElementIndex: index, ErrorKind: errorKind(shotErr)}
	}

	ref, writeErr := writeScreenshotTemp(data, s.cfg.ScreenshotFormat)
	if writeErr != nil {
		return ActionResult{ActionType: entry.ActionType, ElementIndex: index, ErrorKind: "protocol_error"}
	}
	return ActionResult{Success: true, ActionType: entry.ActionType, ElementIndex: index, ScreenshotRef: ref}
}
