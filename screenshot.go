package browserstate

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/google/uuid"

	"github.com/agentdom/browserstate/internal/cdperr"
)

// ScreenshotFormat selects the wire image format CaptureScreenshot
// requests, per Config's screenshot_format setting.
type ScreenshotFormat string

const (
	ScreenshotFormatPNG  ScreenshotFormat = "png"
	ScreenshotFormatJPEG ScreenshotFormat = "jpeg"
)

func (f ScreenshotFormat) cdpFormat() page.CaptureScreenshotFormat {
	if f == ScreenshotFormatJPEG {
		return page.CaptureScreenshotFormatJpeg
	}
	return page.CaptureScreenshotFormatPng
}

// CaptureViewportScreenshot captures exactly the current viewport, the
// cheap default get_state(include_screenshot=true) uses.
func (c *Client) CaptureViewportScreenshot(ctx context.Context, sessionID target.SessionID, format ScreenshotFormat, quality int) ([]byte, error) {
	cap := page.CaptureScreenshot().
		WithFormat(format.cdpFormat()).
		WithCaptureBeyondViewport(false)
	if format == ScreenshotFormatJPEG {
		cap = cap.WithQuality(int64(quality))
	}

	var res page.CaptureScreenshotReturns
	if err := c.Send(ctx, sessionID, cdproto.CommandPageCaptureScreenshot, cap, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// CaptureFullPageScreenshot captures the entire scrollable page, clipped
// to the document's content size from Page.getLayoutMetrics.
func (c *Client) CaptureFullPageScreenshot(ctx context.Context, sessionID target.SessionID, format ScreenshotFormat, quality int) ([]byte, error) {
	var metrics page.GetLayoutMetricsReturns
	if err := c.Send(ctx, sessionID, cdproto.CommandPageGetLayoutMetrics, page.GetLayoutMetrics(), &metrics); err != nil {
		return nil, err
	}

	// Protocol v90 renamed contentSize -> cssContentSize; prefer the new
	// field when present.
	contentSize := metrics.ContentSize
	if metrics.CSSContentSize != nil {
		contentSize = metrics.CSSContentSize
	}
	if contentSize == nil {
		return nil, fmt.Errorf("%w: layout metrics missing content size", cdperr.ErrProtocol)
	}

	clip := &page.Viewport{X: 0, Y: 0, Width: contentSize.Width, Height: contentSize.Height, Scale: 1}
	cap := page.CaptureScreenshot().
		WithFormat(format.cdpFormat()).
		WithCaptureBeyondViewport(true).
		WithClip(clip)
	if format == ScreenshotFormatJPEG {
		cap = cap.WithQuality(int64(quality))
	}

	var res page.CaptureScreenshotReturns
	if err := c.Send(ctx, sessionID, cdproto.CommandPageCaptureScreenshot, cap, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// writeScreenshotTemp persists screenshot bytes to a uniquely named file
// under os.TempDir and returns its path. The caller keeps the reference
// in long-lived history, not the bytes themselves.
func writeScreenshotTemp(data []byte, format ScreenshotFormat) (string, error) {
	ext := "png"
	if format == ScreenshotFormatJPEG {
		ext = "jpg"
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("browserstate-%s.%s", uuid.NewString(), ext))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// CaptureNodeScreenshot screenshots a single node's content box. The
// "Capture node screenshot" CDP command doesn't handle fractional
// dimensions properly, so the clip is aligned the way puppeteer aligns
// it: round the origin first, then derive width/height from the rounded
// origin rather than rounding width/height independently, so the clip
// rect doesn't drift by a sub-pixel from the node's true edge.
func (c *Client) CaptureNodeScreenshot(ctx context.Context, sessionID target.SessionID, backendNodeID cdp.BackendNodeID, format ScreenshotFormat, quality int) ([]byte, error) {
	box, err := c.GetBoxModel(ctx, sessionID, backendNodeID)
	if err != nil {
		return nil, err
	}
	bx, by, bw, bh := boxRect(box)

	x, y := math.Round(bx), math.Round(by)
	w, h := math.Round(bw+bx-x), math.Round(bh+by-y)

	clip := &page.Viewport{X: x, Y: y, Width: w, Height: h, Scale: 1}
	cap := page.CaptureScreenshot().
		WithFormat(format.cdpFormat()).
		WithCaptureBeyondViewport(true).
		WithClip(clip)
	if format == ScreenshotFormatJPEG {
		cap = cap.WithQuality(int64(quality))
	}

	var res page.CaptureScreenshotReturns
	if err := c.Send(ctx, sessionID, cdproto.CommandPageCaptureScreenshot, cap, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}
