package gpu

import (
	"fmt"
	"regexp"

	"github.com/grafana/xk6-compositor/log"
)

// WebGLVersion selects the context version to request.
type WebGLVersion int

// WebGL versions.
const (
	WebGL2 WebGLVersion = 2
	WebGL1 WebGLVersion = 1
)

// WebGLConfig configures WebGL context creation.
type WebGLConfig struct {
	Enabled               bool         `mapstructure:"enabled" yaml:"enabled"`
	Version               WebGLVersion `mapstructure:"version" yaml:"version" validate:"oneof=1 2"`
	AllowSoftwareFallback bool         `mapstructure:"software_fallback" yaml:"software_fallback"`
	// MaxTextureSize of 0 keeps the driver default.
	MaxTextureSize uint32 `mapstructure:"max_texture_size" yaml:"max_texture_size"`
}

// DefaultWebGLConfig enables WebGL 2 with software fallback.
func DefaultWebGLConfig() WebGLConfig {
	return WebGLConfig{Enabled: true, Version: WebGL2, AllowSoftwareFallback: true}
}

// WebGLDriver creates GL contexts. It returns the renderer string on success.
type WebGLDriver interface {
	CreateContext(v WebGLVersion) (renderer string, err error)
}

// WebGLStatus is the outcome of InitWebGL.
type WebGLStatus int

// WebGL init outcomes.
const (
	WebGLDisabled WebGLStatus = iota
	WebGLSuccess
	WebGLFailed
)

func (s WebGLStatus) String() string {
	switch s {
	case WebGLSuccess:
		return "success"
	case WebGLFailed:
		return "failed"
	default:
		return "disabled"
	}
}

// WebGLInitResult describes what InitWebGL managed to set up.
type WebGLInitResult struct {
	Status   WebGLStatus
	Version  WebGLVersion
	Renderer string
	Reason   string
}

// BlocklistEntry matches GPUs that must not run WebGL.
type BlocklistEntry struct {
	VendorPattern string
	DevicePattern string
	Reason        string
}

// Blocked reports whether the renderer string matches an entry, returning
// that entry's reason. Entries with invalid patterns are skipped.
func Blocked(renderer string, blocklist []BlocklistEntry) (string, bool) {
	for _, e := range blocklist {
		vendor, err := regexp.Compile(e.VendorPattern)
		if err != nil {
			continue
		}
		device, err := regexp.Compile(e.DevicePattern)
		if err != nil {
			continue
		}
		if vendor.MatchString(renderer) && device.MatchString(renderer) {
			return e.Reason, true
		}
	}
	return "", false
}

// InitWebGL tries the configured version and falls back to WebGL 1.
// A nil driver means WebGL support is not available in this build.
func InitWebGL(cfg WebGLConfig, driver WebGLDriver, blocklist []BlocklistEntry, logger *log.Logger) WebGLInitResult {
	if !cfg.Enabled {
		logger.Infof("WebGL:init", "disabled by configuration")
		return WebGLInitResult{Status: WebGLDisabled}
	}
	if driver == nil {
		logger.Infof("WebGL:init", "no GL driver available")
		return WebGLInitResult{Status: WebGLDisabled, Reason: "no driver"}
	}

	versions := []WebGLVersion{WebGL1}
	if cfg.Version == WebGL2 {
		versions = []WebGLVersion{WebGL2, WebGL1}
	}

	var lastErr error
	for _, v := range versions {
		renderer, err := driver.CreateContext(v)
		if err != nil {
			logger.Warnf("WebGL:init", "WebGL %d failed: %v", v, err)
			lastErr = err
			continue
		}
		if reason, blocked := Blocked(renderer, blocklist); blocked {
			logger.Warnf("WebGL:init", "GPU %q is blocklisted: %s", renderer, reason)
			return WebGLInitResult{Status: WebGLFailed, Renderer: renderer, Reason: reason}
		}
		logger.Infof("WebGL:init", "WebGL %d initialized on %s", v, renderer)
		return WebGLInitResult{Status: WebGLSuccess, Version: v, Renderer: renderer}
	}

	return WebGLInitResult{Status: WebGLFailed, Reason: fmt.Sprintf("%v", lastErr)}
}
