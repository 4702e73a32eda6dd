package browserstate

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/target"
	"github.com/orisano/pixelmatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedClip struct {
	Clip struct {
		X, Y, Width, Height, Scale float64
	} `json:"clip"`
	CaptureBeyondViewport bool `json:"captureBeyondViewport"`
}

func TestCaptureFullPageScreenshotClipsToCSSContentSize(t *testing.T) {
	var got capturedClip
	responder := func(msg *cdproto.Message) *cdproto.Message {
		switch msg.Method {
		case cdproto.CommandPageGetLayoutMetrics:
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"cssContentSize":{"x":0,"y":0,"width":1200,"height":3000},"contentSize":{"x":0,"y":0,"width":999,"height":999}}`)}
		case cdproto.CommandPageCaptureScreenshot:
			require.NoError(t, json.Unmarshal(msg.Params, &got))
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"data":""}`)}
		}
		return &cdproto.Message{ID: msg.ID, Result: []byte(`{}`)}
	}
	c := newTestClient(t, responder)
	go c.readLoop(context.Background())

	_, err := c.CaptureFullPageScreenshot(context.Background(), target.SessionID("s1"), ScreenshotFormatPNG, 80)
	require.NoError(t, err)

	assert.Equal(t, 1200.0, got.Clip.Width, "cssContentSize must win over the legacy contentSize field")
	assert.Equal(t, 3000.0, got.Clip.Height)
	assert.True(t, got.CaptureBeyondViewport)
}

func TestCaptureNodeScreenshotRoundsClipLikePuppeteer(t *testing.T) {
	var got capturedClip
	responder := func(msg *cdproto.Message) *cdproto.Message {
		switch msg.Method {
		case cdproto.CommandDOMGetBoxModel:
			// A fractional box: origin (10.4, 10.6), size (50.2, 20.4).
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"model":{"content":[10.4,10.6,60.6,10.6,60.6,31.0,10.4,31.0]}}`)}
		case cdproto.CommandPageCaptureScreenshot:
			require.NoError(t, json.Unmarshal(msg.Params, &got))
			return &cdproto.Message{ID: msg.ID, Result: []byte(`{"data":""}`)}
		}
		return &cdproto.Message{ID: msg.ID, Result: []byte(`{}`)}
	}
	c := newTestClient(t, responder)
	go c.readLoop(context.Background())

	_, err := c.CaptureNodeScreenshot(context.Background(), target.SessionID("s1"), 7, ScreenshotFormatPNG, 80)
	require.NoError(t, err)

	// Origin rounds first (10, 11), then width/height are derived from the
	// rounded origin rather than rounded independently.
	assert.Equal(t, 10.0, got.Clip.X)
	assert.Equal(t, 11.0, got.Clip.Y)
	assert.Equal(t, 51.0, got.Clip.Width)
	assert.Equal(t, 20.0, got.Clip.Height)
}

// TestMatchPixelDetectsDivergingRegion exercises the teacher's own
// screenshot-regression tool (pixelmatch) directly: two otherwise
// identical images that differ in one block must report a nonzero diff,
// and two identical images must report zero.
func TestMatchPixelDetectsDivergingRegion(t *testing.T) {
	base := solidImage(20, 20, color.RGBA{R: 255, A: 255})

	identical := solidImage(20, 20, color.RGBA{R: 255, A: 255})
	diff, err := pixelmatch.MatchPixel(base, identical, pixelmatch.Threshold(0.1))
	require.NoError(t, err)
	assert.Equal(t, 0, diff)

	altered := solidImage(20, 20, color.RGBA{R: 255, A: 255})
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			altered.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	diff, err = pixelmatch.MatchPixel(base, altered, pixelmatch.Threshold(0.1))
	require.NoError(t, err)
	assert.Equal(t, 25, diff, "the 5x5 altered block must be exactly the reported diff count")
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
