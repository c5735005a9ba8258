package gpu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/grafana/xk6-compositor/log"
)

// ErrBackendUnavailable is returned when a required media backend cannot
// be initialized.
var ErrBackendUnavailable = errors.New("media backend unavailable")

// MediaBackend is the requested media backend.
type MediaBackend int

// Requested media backends.
const (
	MediaAuto MediaBackend = iota
	MediaGStreamer
	MediaDummy
)

// ParseMediaBackend accepts "auto", "gstreamer" and "dummy".
func ParseMediaBackend(s string) (MediaBackend, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return MediaAuto, nil
	case "gstreamer":
		return MediaGStreamer, nil
	case "dummy", "none":
		return MediaDummy, nil
	}
	return MediaAuto, fmt.Errorf("unknown media backend %q", s)
}

func (b MediaBackend) String() string {
	switch b {
	case MediaGStreamer:
		return "gstreamer"
	case MediaDummy:
		return "dummy"
	default:
		return "auto"
	}
}

// MediaConfig selects a media backend. It is built once by the caller and
// handed to whatever needs playback.
type MediaConfig struct {
	Backend MediaBackend `mapstructure:"-" yaml:"-"`
	Name    string       `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=auto gstreamer dummy none"`
}

// Resolve parses Name into Backend.
func (c *MediaConfig) Resolve() error {
	b, err := ParseMediaBackend(c.Name)
	if err != nil {
		return err
	}
	c.Backend = b
	return nil
}

// MediaCapabilities lists what the chosen backend can play.
type MediaCapabilities struct {
	Audio bool
	Video bool
}

// MediaInitResult records the backend actually in use.
type MediaInitResult struct {
	Backend      MediaBackend
	Message      string
	Capabilities MediaCapabilities
}

// Playback reports whether anything can be played.
func (r MediaInitResult) Playback() bool {
	return r.Capabilities.Audio || r.Capabilities.Video
}

// Init initializes the configured backend. probe starts GStreamer and
// returns an error when it is missing; a nil probe means GStreamer is not
// compiled in. Requesting GStreamer explicitly fails with
// ErrBackendUnavailable instead of falling back.
func (c MediaConfig) Init(probe func() error, logger *log.Logger) (MediaInitResult, error) {
	if probe == nil {
		probe = func() error { return errors.New("GStreamer support not compiled in") }
	}

	dummy := func(msg string) MediaInitResult {
		logger.Infof("Media:init", "%s", msg)
		return MediaInitResult{Backend: MediaDummy, Message: msg}
	}

	switch c.Backend {
	case MediaDummy:
		return dummy("dummy media backend initialized (no audio/video playback)"), nil
	case MediaGStreamer:
		if err := probe(); err != nil {
			logger.Errorf("Media:init", "GStreamer required but failed: %v", err)
			return MediaInitResult{}, fmt.Errorf("initializing gstreamer: %w: %v", ErrBackendUnavailable, err)
		}
		return gstreamer(logger), nil
	default:
		if err := probe(); err != nil {
			logger.Warnf("Media:init", "GStreamer unavailable (%v), falling back to dummy backend", err)
			return dummy(fmt.Sprintf("dummy media backend initialized (GStreamer unavailable: %v)", err)), nil
		}
		return gstreamer(logger), nil
	}
}

func gstreamer(logger *log.Logger) MediaInitResult {
	logger.Infof("Media:init", "GStreamer media backend initialized")
	return MediaInitResult{
		Backend:      MediaGStreamer,
		Message:      "GStreamer media backend initialized",
		Capabilities: MediaCapabilities{Audio: true, Video: true},
	}
}
