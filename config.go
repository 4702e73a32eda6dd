package browserstate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Config enumerates every externally tunable knob the downstream
// CLI/agent layer can set before starting a Client; nothing here is
// inferred from the environment except the user data dir default.
type Config struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int

	Host string
	Port int

	PageLoadTimeout time.Duration
	ActionTimeout   time.Duration
	DOMFetchTimeout time.Duration

	ScreenshotFormat  ScreenshotFormat
	ScreenshotQuality int

	MinConfidence float64

	// UserDataDir defaults to a per-instance temp path with a random
	// suffix, so parallel instances never collide on the same profile.
	UserDataDir string
}

// DefaultConfig returns the documented defaults; UserDataDir is assigned
// a fresh per-instance path each call.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		Host:              "localhost",
		Port:              9222,
		PageLoadTimeout:   30 * time.Second,
		ActionTimeout:     10 * time.Second,
		DOMFetchTimeout:   30 * time.Second,
		ScreenshotFormat:  ScreenshotFormatPNG,
		ScreenshotQuality: 80,
		MinConfidence:     0.3,
		UserDataDir:       defaultUserDataDir(),
	}
}

// defaultUserDataDir builds a per-instance temp directory path (not yet
// created on disk; the launcher this package doesn't own is responsible
// for creating it before handing Chrome the flag).
func defaultUserDataDir() string {
	return filepath.Join(os.TempDir(), "browserstate-"+uuid.NewString())
}

// Validate reports a configuration error per §6's exit-code 2 case:
// malformed or out-of-range values the caller should fail fast on,
// before ever dialing the browser.
func (c Config) Validate() error {
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("config: viewport dimensions must be positive, got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence must be in [0, 1], got %v", c.MinConfidence)
	}
	if c.ScreenshotFormat != ScreenshotFormatPNG && c.ScreenshotFormat != ScreenshotFormatJPEG {
		return fmt.Errorf("config: unknown screenshot format %q", c.ScreenshotFormat)
	}
	if c.ScreenshotQuality < 0 || c.ScreenshotQuality > 100 {
		return fmt.Errorf("config: screenshot_quality must be in [0, 100], got %d", c.ScreenshotQuality)
	}
	return nil
}

// DebuggerURL is the /json/version HTTP endpoint NewClient's caller
// resolves to a WebSocket URL before dialing.
func (c Config) DebuggerURL() string {
	return fmt.Sprintf("http://%s:%d/json/version", c.Host, c.Port)
}
