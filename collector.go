package browserstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domsnapshot"
	"github.com/chromedp/cdproto/target"

	"github.com/agentdom/browserstate/internal/cdperr"
)

// snapshotComputedStyles is the minimal style subset the merger needs to
// classify visibility and interactivity (§4.F), not the full computed
// style set CSS.getComputedStyleForNode would return.
var snapshotComputedStyles = []string{
	"cursor", "pointer-events", "visibility", "display", "opacity", "user-select", "z-index",
}

// RawObservation is the unmerged output of one observation pass: the live
// DOM tree, the paint-order/geometry snapshot, and the accessibility
// tree — the three sources internal/merger combines into EnhancedNodes.
type RawObservation struct {
	Document *dom.Node
	Snapshot *domsnapshot.CaptureSnapshotReturns
	AXNodes  []*accessibility.Node

	// Errs holds one entry per source that failed to load. A non-empty
	// Errs alongside a non-nil RawObservation means the merger should run
	// on whatever subset succeeded (§4.E, §7 ErrPartialData).
	Errs []error
}

// Collect fetches DOM.getDocument, DOMSnapshot.captureSnapshot, and
// Accessibility.getFullAXTree concurrently, bounded by timeout. Each
// source's failure is recorded independently rather than aborting the
// other two — a plain sync.WaitGroup rather than errgroup.Group, since
// errgroup's first-error cancellation is exactly the fail-together
// behavior this operation must not have.
func (c *Client) Collect(ctx context.Context, sessionID target.SessionID, timeout time.Duration) (*RawObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	obs := &RawObservation{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		var res dom.GetDocumentReturns
		cmd := dom.GetDocument().WithDepth(-1).WithPierce(true)
		err := c.Send(ctx, sessionID, cdproto.CommandDOMGetDocument, cmd, &res)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			obs.Errs = append(obs.Errs, fmt.Errorf("dom.getDocument: %w", err))
			return
		}
		obs.Document = res.Root
	}()

	go func() {
		defer wg.Done()
		var res domsnapshot.CaptureSnapshotReturns
		cmd := domsnapshot.CaptureSnapshot(snapshotComputedStyles).
			WithIncludePaintOrder(true).
			WithIncludeDOMRects(true)
		err := c.Send(ctx, sessionID, cdproto.CommandDOMSnapshotCaptureSnapshot, cmd, &res)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			obs.Errs = append(obs.Errs, fmt.Errorf("domsnapshot.captureSnapshot: %w", err))
			return
		}
		obs.Snapshot = &res
	}()

	go func() {
		defer wg.Done()
		var res accessibility.GetFullAXTreeReturns
		err := c.Send(ctx, sessionID, cdproto.CommandAccessibilityGetFullAXTree, accessibility.GetFullAXTree(), &res)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			obs.Errs = append(obs.Errs, fmt.Errorf("accessibility.getFullAXTree: %w", err))
			return
		}
		obs.AXNodes = res.Nodes
	}()

	wg.Wait()

	switch {
	case len(obs.Errs) == 3:
		return nil, fmt.Errorf("%w: all observation sources failed: %v", cdperr.ErrConnection, obs.Errs)
	case len(obs.Errs) > 0:
		return obs, fmt.Errorf("%w: %v", cdperr.ErrPartialData, obs.Errs)
	default:
		return obs, nil
	}
}
