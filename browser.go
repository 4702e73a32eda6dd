package browserstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/overlay"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/agentdom/browserstate/internal/cdperr"
)

var emptyObj = easyjson.RawMessage(`{}`)

// pendingCmd is one in-flight command, tracked by the dispatch loop so a
// detached session can fail every command still waiting on it (invariant
// 2: no pending command outlives the session it was addressed to).
type pendingCmd struct {
	sessionID target.SessionID
	resp      chan *cdproto.Message
}

// Client is the multiplexed CDP connection: one WebSocket shared by every
// attached target session (component A's wire codec and component D's
// dispatch loop, combined the way the teacher combines them in Browser).
// The pending-command table is the codec's; session/frame bookkeeping is
// delegated to the registry (component C).
type Client struct {
	conn Transport
	reg  *registry
	log  *slog.Logger

	next int64

	mu      sync.Mutex
	pending map[int64]pendingCmd

	overlayMu      sync.Mutex
	overlayEnabled map[target.SessionID]bool

	viewportMu     sync.Mutex
	viewportWidth  int64
	viewportHeight int64

	waiterMu sync.Mutex
	waiters  []*eventWaiter

	done chan struct{}
}

// eventWaiter is a one-shot subscription for wait_for_load and similar
// primitives that need to block until a specific session emits a specific
// event, without building a general pub/sub event bus.
type eventWaiter struct {
	sessionID target.SessionID
	method    cdproto.MethodType
	ch        chan *cdproto.Message
}

// WaitForEvent blocks until sessionID emits method, or ctx is done.
func (c *Client) WaitForEvent(ctx context.Context, sessionID target.SessionID, method cdproto.MethodType) (*cdproto.Message, error) {
	w := &eventWaiter{sessionID: sessionID, method: method, ch: make(chan *cdproto.Message, 1)}

	c.waiterMu.Lock()
	c.waiters = append(c.waiters, w)
	c.waiterMu.Unlock()

	defer c.removeWaiter(w)

	select {
	case msg := <-w.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", cdperr.ErrTimeout, ctx.Err())
	}
}

func (c *Client) removeWaiter(w *eventWaiter) {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	for i, cur := range c.waiters {
		if cur == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// notifyWaiters delivers msg to (and removes) every waiter subscribed to
// this sessionID+method pair.
func (c *Client) notifyWaiters(sessionID target.SessionID, method cdproto.MethodType, msg *cdproto.Message) {
	c.waiterMu.Lock()
	var remaining []*eventWaiter
	for _, w := range c.waiters {
		if w.sessionID == sessionID && w.method == method {
			select {
			case w.ch <- msg:
			default:
			}
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.waiterMu.Unlock()
}

// NewClient dials the browser's DevTools WebSocket endpoint and returns a
// Client that has not yet started its dispatch loop; call Start to begin
// reading events and auto-attaching to targets.
func NewClient(ctx context.Context, urlstr string, log *slog.Logger, opts ...DialOption) (*Client, error) {
	conn, err := DialContext(ctx, ForceIP(urlstr), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cdperr.ErrConnection, err)
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		conn:           conn,
		reg:            newRegistry(),
		log:            log,
		pending:        make(map[int64]pendingCmd),
		overlayEnabled: make(map[target.SessionID]bool),
		done:           make(chan struct{}),
	}
	c.reg.onSessionDetached = c.failPendingForSession
	return c, nil
}

// Start begins the read loop and turns on target auto-attach, so every
// existing and future page (and its OOPIF children) gets a session and its
// required domains enabled without the caller enumerating targets itself.
func (c *Client) Start(ctx context.Context) error {
	go c.readLoop(ctx)

	if err := c.Send(ctx, "", cdproto.CommandTargetSetDiscoverTargets, target.SetDiscoverTargets(true), nil); err != nil {
		return fmt.Errorf("%w: enabling target discovery: %v", cdperr.ErrConnection, err)
	}
	attach := target.SetAutoAttach(true, false).WithFlatten(true)
	if err := c.Send(ctx, "", cdproto.CommandTargetSetAutoAttach, attach, nil); err != nil {
		return fmt.Errorf("%w: enabling auto-attach: %v", cdperr.ErrConnection, err)
	}
	return nil
}

// Close closes the underlying connection and fails every pending command.
func (c *Client) Close() error {
	close(c.done)
	c.mu.Lock()
	for id, p := range c.pending {
		if p.resp != nil {
			close(p.resp)
		}
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return c.conn.Close()
}

// Send dispatches one command, optionally scoped to sessionID, and decodes
// the result into res. Per §9's session-recovery design: a SessionLost
// failure triggers exactly one bypass-registry retry attempt before giving
// up, never an unbounded loop.
func (c *Client) Send(ctx context.Context, sessionID target.SessionID, method cdproto.MethodType, params json.Marshaler, res json.Unmarshaler) error {
	err := c.trySend(ctx, sessionID, method, params, res, true)
	if err == nil || sessionID == "" {
		return err
	}
	if !isSessionLost(err) {
		return err
	}
	// RecoverOnce: bypass the liveness check once, since the registry may
	// have already tombstoned the session from a racing detach event that
	// arrived before this command's response did.
	if recErr := c.trySend(ctx, sessionID, method, params, res, false); recErr == nil {
		return nil
	}
	return err
}

func (c *Client) trySend(ctx context.Context, sessionID target.SessionID, method cdproto.MethodType, params json.Marshaler, res json.Unmarshaler, checkLive bool) error {
	if checkLive && sessionID != "" && !c.reg.isActive(sessionID) {
		return fmt.Errorf("%w: session %s", cdperr.ErrSessionLost, sessionID)
	}

	paramsMsg := emptyObj
	if params != nil {
		raw, err := params.MarshalJSON()
		if err != nil {
			return err
		}
		paramsMsg = raw
	}

	id := atomic.AddInt64(&c.next, 1)
	ch := make(chan *cdproto.Message, 1)

	c.mu.Lock()
	c.pending[id] = pendingCmd{sessionID: sessionID, resp: ch}
	c.mu.Unlock()

	msg := &cdproto.Message{
		ID:     id,
		Method: method,
		Params: paramsMsg,
	}
	if sessionID != "" {
		msg.SessionID = sessionID
	}

	if err := c.conn.Write(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", cdperr.ErrConnection, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok || reply == nil {
			// A detach closes the channel via failPendingForSession after
			// tombstoning the session; Close leaves the session active.
			if sessionID != "" && !c.reg.isActive(sessionID) {
				return fmt.Errorf("%w: session %s detached", cdperr.ErrSessionLost, sessionID)
			}
			return fmt.Errorf("%w: %v", cdperr.ErrConnection, errChannelClosed)
		}
		if reply.Error != nil {
			return &cdperr.ProtocolError{Method: string(method), Code: reply.Error.Code, Message: reply.Error.Message}
		}
		if res != nil && len(reply.Result) > 0 {
			return res.UnmarshalJSON(reply.Result)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", cdperr.ErrTimeout, ctx.Err())
	}
}

func isSessionLost(err error) bool {
	return errors.Is(err, cdperr.ErrSessionLost)
}

// failPendingForSession fails every pending command addressed to
// sessionID with ErrSessionLost, invoked by the registry's detach cascade.
func (c *Client) failPendingForSession(sessionID target.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		if p.sessionID == sessionID && p.resp != nil {
			close(p.resp)
			delete(c.pending, id)
		}
	}
}

// readLoop owns the single reader goroutine for the connection, decoding
// target-flattened messages and routing browser-level target/page
// lifecycle events into the registry.
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg := new(cdproto.Message)
		if err := c.conn.Read(msg); err != nil {
			c.log.Error("cdp read failed", "error", err)
			return
		}

		switch {
		case msg.Method != "":
			c.handleEvent(ctx, msg)
		case msg.ID != 0:
			c.mu.Lock()
			p, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.mu.Unlock()
			if !ok {
				c.log.Warn("cdp response for unknown id", "id", msg.ID)
				continue
			}
			if p.resp != nil {
				p.resp <- msg
				close(p.resp)
			}
		default:
			c.log.Warn("cdp message missing both id and method")
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, msg *cdproto.Message) {
	c.notifyWaiters(msg.SessionID, msg.Method, msg)

	switch msg.Method {
	case cdproto.EventTargetTargetCreated:
		ev := new(target.EventTargetCreated)
		if err := json.Unmarshal(msg.Params, ev); err == nil && ev.TargetInfo != nil {
			c.reg.addTarget(ev.TargetInfo.TargetID, string(ev.TargetInfo.Type), ev.TargetInfo.URL)
		}

	case cdproto.EventTargetTargetDestroyed:
		ev := new(target.EventTargetDestroyed)
		if err := json.Unmarshal(msg.Params, ev); err == nil {
			c.reg.removeTarget(ev.TargetID)
		}

	case cdproto.EventTargetAttachedToTarget:
		ev := new(target.EventAttachedToTarget)
		if err := json.Unmarshal(msg.Params, ev); err == nil && ev.TargetInfo != nil {
			c.reg.attachSession(ev.SessionID, ev.TargetInfo.TargetID)
			go c.onSessionAttached(ctx, ev.SessionID, string(ev.TargetInfo.Type))
		}

	case cdproto.EventTargetDetachedFromTarget:
		ev := new(target.EventDetachedFromTarget)
		if err := json.Unmarshal(msg.Params, ev); err == nil {
			c.reg.detachSession(ev.SessionID)
		}

	case cdproto.EventTargetReceivedMessageFromTarget:
		// Only reachable with flatten disabled; auto-attach is started
		// with WithFlatten(true), so this is dead in normal operation
		// but handled defensively in case Chrome ever ignores the flag.
		ev := new(target.EventReceivedMessageFromTarget)
		if err := json.Unmarshal(msg.Params, ev); err != nil {
			return
		}
		inner := new(cdproto.Message)
		if err := json.Unmarshal([]byte(ev.Message), inner); err != nil {
			return
		}
		inner.SessionID = ev.SessionID
		c.handleEvent(ctx, inner)

	case cdproto.EventPageFrameAttached:
		ev := new(page.EventFrameAttached)
		if err := json.Unmarshal(msg.Params, ev); err == nil {
			if tid, ok := c.reg.targetOf(msg.SessionID); ok {
				c.reg.upsertFrame(ev.FrameID, tid, ev.ParentFrameID, "")
			}
		}

	case cdproto.EventPageFrameNavigated:
		ev := new(page.EventFrameNavigated)
		if err := json.Unmarshal(msg.Params, ev); err == nil && ev.Frame != nil {
			if tid, ok := c.reg.targetOf(msg.SessionID); ok {
				c.reg.upsertFrame(ev.Frame.ID, tid, ev.Frame.ParentID, ev.Frame.URL)
			}
		}

	case cdproto.EventPageFrameDetached:
		ev := new(page.EventFrameDetached)
		if err := json.Unmarshal(msg.Params, ev); err == nil {
			c.reg.removeFrame(ev.FrameID)
		}

	case cdproto.EventPageJavascriptDialogOpening:
		ev := new(page.EventJavascriptDialogOpening)
		if err := json.Unmarshal(msg.Params, ev); err == nil {
			c.log.Info("javascript dialog opened, auto-dismissing", "type", ev.Type, "message", ev.Message)
			go func(sessionID target.SessionID) {
				_ = c.Send(context.Background(), sessionID, cdproto.CommandPageHandleJavaScriptDialog,
					page.HandleJavaScriptDialog(false), nil)
			}(msg.SessionID)
		}
	}
}

// onSessionAttached enables the domains every page-typed session needs for
// observation and action, per §4.D. Worker/other-typed sessions are left
// alone: they can't host a DOM to enumerate.
func (c *Client) onSessionAttached(ctx context.Context, sessionID target.SessionID, targetType string) {
	if targetType != "page" && targetType != "iframe" {
		return
	}

	cmds := []struct {
		method cdproto.MethodType
		params json.Marshaler
	}{
		{cdproto.CommandPageEnable, page.Enable()},
		{cdproto.CommandDOMEnable, dom.Enable()},
		{cdproto.CommandRuntimeEnable, runtime.Enable()},
		{cdproto.CommandNetworkEnable, network.Enable()},
		{cdproto.CommandAccessibilityEnable, accessibility.Enable()},
	}
	for _, cmd := range cmds {
		if err := c.Send(ctx, sessionID, cmd.method, cmd.params, nil); err != nil {
			c.log.Warn("failed to enable domain on attach", "session", sessionID, "method", cmd.method, "error", err)
		}
	}

	if targetType == "page" {
		c.applyViewport(ctx, sessionID)
	}

	nested := target.SetAutoAttach(true, false).WithFlatten(true)
	if err := c.Send(ctx, sessionID, cdproto.CommandTargetSetAutoAttach, nested, nil); err != nil {
		c.log.Warn("failed to enable nested auto-attach", "session", sessionID, "error", err)
	}
}

// SetViewport records the dimensions onSessionAttached applies to every
// page session it attaches from here on, via Emulation.setDeviceMetricsOverride
// (the same call the teacher's EmulateViewport wraps). NewState calls this
// once, before Start, with Config's ViewportWidth/ViewportHeight.
func (c *Client) SetViewport(width, height int) {
	c.viewportMu.Lock()
	c.viewportWidth, c.viewportHeight = int64(width), int64(height)
	c.viewportMu.Unlock()
}

func (c *Client) viewport() (width, height int64) {
	c.viewportMu.Lock()
	defer c.viewportMu.Unlock()
	return c.viewportWidth, c.viewportHeight
}

// applyViewport issues Emulation.setDeviceMetricsOverride for sessionID's
// page, once per new page session per SPEC_FULL.md. A zero width/height
// (no SetViewport call yet) leaves the browser's real viewport alone.
func (c *Client) applyViewport(ctx context.Context, sessionID target.SessionID) {
	width, height := c.viewport()
	if width <= 0 || height <= 0 {
		return
	}
	cmd := emulation.SetDeviceMetricsOverride(width, height, 1.0, false)
	if err := c.Send(ctx, sessionID, cdproto.CommandEmulationSetDeviceMetricsOverride, cmd, nil); err != nil {
		c.log.Warn("failed to set device metrics override", "session", sessionID, "error", err)
	}
}

// ensureOverlay lazily enables the Overlay domain the first time a
// session needs highlight_node (Overlay is the one page-lifecycle domain
// not worth enabling on every attach, since most observations never call
// highlight_node).
func (c *Client) ensureOverlay(ctx context.Context, sessionID target.SessionID) error {
	c.overlayMu.Lock()
	enabled := c.overlayEnabled[sessionID]
	c.overlayMu.Unlock()
	if enabled {
		return nil
	}

	if err := c.Send(ctx, sessionID, cdproto.CommandOverlayEnable, overlay.Enable(), nil); err != nil {
		return err
	}

	c.overlayMu.Lock()
	c.overlayEnabled[sessionID] = true
	c.overlayMu.Unlock()
	return nil
}

// RootSession returns the session attached to the top-level page, per
// §4.C's root_page_session.
func (c *Client) RootSession() (target.SessionID, bool) {
	return c.reg.rootPageSession()
}
