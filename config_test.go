package browserstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidateRejectsBadViewport(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ViewportWidth = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ViewportHeight = -10
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsOutOfRangeMinConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = -0.1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinConfidence = 1.1
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsUnknownScreenshotFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScreenshotFormat = ScreenshotFormat("gif")
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRejectsOutOfRangeQuality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ScreenshotQuality = -1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ScreenshotQuality = 101
	assert.Error(t, cfg.Validate())
}

func TestDebuggerURLFormatting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9333
	assert.Equal(t, "http://127.0.0.1:9333/json/version", cfg.DebuggerURL())
}

func TestDefaultConfigUserDataDirIsUnique(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.NotEqual(t, a.UserDataDir, b.UserDataDir, "parallel instances must not collide on the same profile dir")
}
