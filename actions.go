package browserstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/overlay"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/agentdom/browserstate/internal/cdperr"
	"github.com/agentdom/browserstate/internal/keys"
)

// isCouldNotComputeBoxModelError reports whether err is Chrome's "the node
// has no box" protocol error, meaning the node is not currently rendered
// (display:none, detached, etc).
func isCouldNotComputeBoxModelError(err error) bool {
	pe, ok := err.(*cdperr.ProtocolError)
	return ok && pe.Code == -32000 && pe.Message == "Could not compute box model."
}

// boxCenter resolves the clickable center point of a node's content quad,
// in CSS pixels relative to the viewport. Per §3's EnhancedNode invariant,
// this is the same point actions dispatch mouse events at.
func boxCenter(box *dom.BoxModel) (x, y float64) {
	q := box.Content
	if len(q) < 8 {
		return 0, 0
	}
	minX, maxX := q[0], q[0]
	minY, maxY := q[1], q[1]
	for i := 0; i < len(q); i += 2 {
		if q[i] < minX {
			minX = q[i]
		}
		if q[i] > maxX {
			maxX = q[i]
		}
		if q[i+1] < minY {
			minY = q[i+1]
		}
		if q[i+1] > maxY {
			maxY = q[i+1]
		}
	}
	return (minX + maxX) / 2, (minY + maxY) / 2
}

// boxRect resolves the bounding rectangle of a node's content quad, in
// CSS pixels relative to the viewport.
func boxRect(box *dom.BoxModel) (x, y, w, h float64) {
	q := box.Content
	if len(q) < 8 {
		return 0, 0, 0, 0
	}
	minX, maxX := q[0], q[0]
	minY, maxY := q[1], q[1]
	for i := 0; i < len(q); i += 2 {
		if q[i] < minX {
			minX = q[i]
		}
		if q[i] > maxX {
			maxX = q[i]
		}
		if q[i+1] < minY {
			minY = q[i+1]
		}
		if q[i+1] > maxY {
			maxY = q[i+1]
		}
	}
	return minX, minY, maxX - minX, maxY - minY
}

// GetBoxModel fetches the current content-quad geometry of a node,
// returning cdperr.ErrNotVisible if Chrome reports the node unrenderable.
// Keyed by backend node ID rather than the session-local node ID, since
// that's the identity a selector map entry carries across the gap between
// when it was built and when the caller acts on it.
func (c *Client) GetBoxModel(ctx context.Context, sessionID target.SessionID, backendNodeID cdp.BackendNodeID) (*dom.BoxModel, error) {
	var res dom.GetBoxModelReturns
	err := c.Send(ctx, sessionID, cdproto.CommandDOMGetBoxModel, dom.GetBoxModel().WithBackendNodeID(backendNodeID), &res)
	if err != nil {
		if isCouldNotComputeBoxModelError(err) {
			return nil, fmt.Errorf("%w: node %d has no box model", cdperr.ErrNotVisible, backendNodeID)
		}
		return nil, err
	}
	return res.Model, nil
}

// ClickNode scrolls a node into view, recomputes its geometry (in case
// scrolling moved it), and dispatches a synthetic left-button click at its
// center point. Per §4.D, the caller is responsible for the occlusion
// check (internal/merger) before calling this.
func (c *Client) ClickNode(ctx context.Context, sessionID target.SessionID, backendNodeID cdp.BackendNodeID) error {
	scroll := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(backendNodeID)
	if err := c.Send(ctx, sessionID, cdproto.CommandDOMScrollIntoViewIfNeeded, scroll, nil); err != nil {
		return err
	}

	box, err := c.GetBoxModel(ctx, sessionID, backendNodeID)
	if err != nil {
		return err
	}
	x, y := boxCenter(box)

	press := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	if err := c.Send(ctx, sessionID, cdproto.CommandInputDispatchMouseEvent, press, nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}

	release := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	if err := c.Send(ctx, sessionID, cdproto.CommandInputDispatchMouseEvent, release, nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}
	return nil
}

// TypeText focuses a node and inserts text as a single synthetic input
// event, rather than one dispatchKeyEvent per character: insertText is
// what real paste/IME input looks like to a page, and is an order of
// magnitude fewer round trips for long strings.
func (c *Client) TypeText(ctx context.Context, sessionID target.SessionID, backendNodeID cdp.BackendNodeID, text string) error {
	focus := dom.Focus().WithBackendNodeID(backendNodeID)
	if err := c.Send(ctx, sessionID, cdproto.CommandDOMFocus, focus, nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}
	if err := c.Send(ctx, sessionID, cdproto.CommandInputInsertText, input.InsertText(text), nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}
	return nil
}

// PressKey dispatches a named, non-printable key (see internal/keys) with
// optional modifiers, as a keyDown followed by a keyUp.
func (c *Client) PressKey(ctx context.Context, sessionID target.SessionID, backendNodeID cdp.BackendNodeID, name string, modifiers ...string) error {
	k, ok := keys.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: unknown key %q", cdperr.ErrInputRejected, name)
	}
	mask, err := keys.ModifierMask(modifiers...)
	if err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}

	focus := dom.Focus().WithBackendNodeID(backendNodeID)
	if err := c.Send(ctx, sessionID, cdproto.CommandDOMFocus, focus, nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}

	down := input.DispatchKeyEvent(input.KeyDown).
		WithKey(k.Key).
		WithCode(k.Code).
		WithWindowsVirtualKeyCode(k.WindowsVirtualKeyCode).
		WithNativeVirtualKeyCode(k.NativeVirtualKeyCode).
		WithModifiers(input.Modifier(mask))
	if err := c.Send(ctx, sessionID, cdproto.CommandInputDispatchKeyEvent, down, nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}

	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey(k.Key).
		WithCode(k.Code).
		WithWindowsVirtualKeyCode(k.WindowsVirtualKeyCode).
		WithNativeVirtualKeyCode(k.NativeVirtualKeyCode).
		WithModifiers(input.Modifier(mask))
	if err := c.Send(ctx, sessionID, cdproto.CommandInputDispatchKeyEvent, up, nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}
	return nil
}

// selectOptionScript sets a <select>'s value and fires the "input" and
// "change" events frameworks listen for, since setting .value alone is
// invisible to React/Vue-style controlled inputs.
const selectOptionScript = `function(value) {
	if (this.tagName !== 'SELECT') { throw new Error('not a <select>'); }
	let found = false;
	for (const opt of this.options) {
		if (opt.value === value) { found = true; break; }
	}
	if (!found) { throw new Error('value not in options'); }
	this.value = value;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
}`

// SelectOption sets the value of a <select> node, rejecting values that
// aren't among the element's options.
func (c *Client) SelectOption(ctx context.Context, sessionID target.SessionID, backendNodeID cdp.BackendNodeID, value string) error {
	var resolved runtime.RemoteObject
	res := &dom.ResolveNodeReturns{Object: &resolved}
	resolve := dom.ResolveNode().WithBackendNodeID(backendNodeID)
	if err := c.Send(ctx, sessionID, cdproto.CommandDOMResolveNode, resolve, res); err != nil {
		return err
	}
	if res.Object == nil || res.Object.ObjectID == "" {
		return fmt.Errorf("%w: could not resolve node %d", cdperr.ErrNotFound, backendNodeID)
	}

	args := []*runtime.CallArgument{{Value: []byte(`"` + value + `"`)}}
	call := runtime.CallFunctionOn(selectOptionScript).
		WithObjectID(res.Object.ObjectID).
		WithArguments(args)
	var callRes runtime.CallFunctionOnReturns
	if err := c.Send(ctx, sessionID, cdproto.CommandRuntimeCallFunctionOn, call, &callRes); err != nil {
		return err
	}
	if callRes.ExceptionDetails != nil {
		return fmt.Errorf("%w: %s", cdperr.ErrInputRejected, callRes.ExceptionDetails.Text)
	}
	return nil
}

// Scroll dispatches a synthetic mouse wheel event at (x, y), the same
// mechanism real trackpad/mouse scrolling produces, so listeners on
// "wheel" fire the way they would for a human.
func (c *Client) Scroll(ctx context.Context, sessionID target.SessionID, x, y, deltaX, deltaY float64) error {
	wheel := input.DispatchMouseEvent(input.MouseWheel, x, y).
		WithDeltaX(deltaX).
		WithDeltaY(deltaY)
	if err := c.Send(ctx, sessionID, cdproto.CommandInputDispatchMouseEvent, wheel, nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrInputRejected, err)
	}
	return nil
}

// ScrollDirection names the four directions the scroll primitive accepts.
type ScrollDirection string

const (
	ScrollDown  ScrollDirection = "down"
	ScrollUp    ScrollDirection = "up"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// ScrollViewport dispatches a wheel event at the viewport center for
// amount CSS pixels in direction, the page-level counterpart to Scroll's
// caller-chosen wheel point.
func (c *Client) ScrollViewport(ctx context.Context, sessionID target.SessionID, viewportWidth, viewportHeight, amount float64, dir ScrollDirection) error {
	var dx, dy float64
	switch dir {
	case ScrollDown:
		dy = amount
	case ScrollUp:
		dy = -amount
	case ScrollRight:
		dx = amount
	case ScrollLeft:
		dx = -amount
	default:
		return fmt.Errorf("%w: unknown scroll direction %q", cdperr.ErrInputRejected, dir)
	}
	return c.Scroll(ctx, sessionID, viewportWidth/2, viewportHeight/2, dx, dy)
}

// CurrentURL evaluates location.href in the page's JS context.
func (c *Client) CurrentURL(ctx context.Context, sessionID target.SessionID) (string, error) {
	var res runtime.EvaluateReturns
	eval := runtime.Evaluate("location.href").WithReturnByValue(true)
	if err := c.Send(ctx, sessionID, cdproto.CommandRuntimeEvaluate, eval, &res); err != nil {
		return "", err
	}
	var url string
	if res.Result != nil {
		_ = json.Unmarshal(res.Result.Value, &url)
	}
	return url, nil
}

// PageTitle evaluates document.title in the page's JS context.
func (c *Client) PageTitle(ctx context.Context, sessionID target.SessionID) (string, error) {
	var res runtime.EvaluateReturns
	eval := runtime.Evaluate("document.title").WithReturnByValue(true)
	if err := c.Send(ctx, sessionID, cdproto.CommandRuntimeEvaluate, eval, &res); err != nil {
		return "", err
	}
	var title string
	if res.Result != nil {
		_ = json.Unmarshal(res.Result.Value, &title)
	}
	return title, nil
}

// GoBack navigates one entry back in the session's history.
func (c *Client) GoBack(ctx context.Context, sessionID target.SessionID) error {
	return c.navigateHistory(ctx, sessionID, -1)
}

// GoForward navigates one entry forward in the session's history.
func (c *Client) GoForward(ctx context.Context, sessionID target.SessionID) error {
	return c.navigateHistory(ctx, sessionID, 1)
}

func (c *Client) navigateHistory(ctx context.Context, sessionID target.SessionID, delta int) error {
	var hist page.GetNavigationHistoryReturns
	if err := c.Send(ctx, sessionID, cdproto.CommandPageGetNavigationHistory, page.GetNavigationHistory(), &hist); err != nil {
		return err
	}
	idx := hist.CurrentIndex + int64(delta)
	if idx < 0 || int(idx) >= len(hist.Entries) {
		return fmt.Errorf("%w: no history entry at offset %d", cdperr.ErrNotFound, delta)
	}
	nav := page.NavigateToHistoryEntry(hist.Entries[idx].ID)
	if err := c.Send(ctx, sessionID, cdproto.CommandPageNavigateToHistoryEntry, nav, nil); err != nil {
		return err
	}
	_, err := c.WaitForEvent(ctx, sessionID, cdproto.EventPageLoadEventFired)
	return err
}

// Refresh reloads the current page and waits for it to finish loading.
func (c *Client) Refresh(ctx context.Context, sessionID target.SessionID) error {
	if err := c.Send(ctx, sessionID, cdproto.CommandPageReload, page.Reload(), nil); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrConnection, err)
	}
	_, err := c.WaitForEvent(ctx, sessionID, cdproto.EventPageLoadEventFired)
	return err
}

// Navigate sends Page.navigate and waits for the load event (or ctx) to
// confirm the new page is at least minimally ready.
func (c *Client) Navigate(ctx context.Context, sessionID target.SessionID, url string) error {
	var res page.NavigateReturns
	if err := c.Send(ctx, sessionID, cdproto.CommandPageNavigate, page.Navigate(url), &res); err != nil {
		return fmt.Errorf("%w: %v", cdperr.ErrConnection, err)
	}
	if res.ErrorText != "" {
		return fmt.Errorf("%w: %s", cdperr.ErrConnection, res.ErrorText)
	}
	_, err := c.WaitForEvent(ctx, sessionID, cdproto.EventPageLoadEventFired)
	return err
}

// WaitForLoad blocks until document.readyState is "complete", polling
// rather than relying solely on Page.loadEventFired, since a load event
// that fired before this call subscribed would otherwise hang it forever.
func (c *Client) WaitForLoad(ctx context.Context, sessionID target.SessionID, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		var res runtime.EvaluateReturns
		eval := runtime.Evaluate("document.readyState").WithReturnByValue(true)
		if err := c.Send(ctx, sessionID, cdproto.CommandRuntimeEvaluate, eval, &res); err == nil && res.Result != nil {
			var state string
			if json.Unmarshal(res.Result.Value, &state) == nil && state == "complete" {
				return nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", cdperr.ErrTimeout, ctx.Err())
		}
	}
}

// HighlightNode draws Chrome's built-in overlay outline around a node for
// duration, then clears it. Used for debugging/tooling, not by the merger
// itself.
func (c *Client) HighlightNode(ctx context.Context, sessionID target.SessionID, backendNodeID cdp.BackendNodeID, duration time.Duration) error {
	if err := c.ensureOverlay(ctx, sessionID); err != nil {
		return err
	}

	cfg := &overlay.HighlightConfig{
		ContentColor: &cdp.RGBA{R: 111, G: 168, B: 220, A: 0.5},
		BorderColor:  &cdp.RGBA{R: 59, G: 91, B: 219, A: 0.8},
	}
	highlight := overlay.HighlightNode(cfg).WithBackendNodeID(backendNodeID)
	if err := c.Send(ctx, sessionID, cdproto.CommandOverlayHighlightNode, highlight, nil); err != nil {
		return err
	}

	go func() {
		t := time.NewTimer(duration)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		_ = c.Send(context.Background(), sessionID, cdproto.CommandOverlayHideHighlight, nil, nil)
	}()
	return nil
}
