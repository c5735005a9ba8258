package common

import (
	"errors"
	"fmt"

	"github.com/grafana/xk6-compositor/memory"
	"github.com/grafana/xk6-compositor/pacing"
	"github.com/grafana/xk6-compositor/scroll"
)

// Default compositor settings.
const (
	DefaultInboxSize        = 256
	DefaultMaxPendingFrames = 2
	DefaultMinPinchZoom     = 1.0
	DefaultMaxPinchZoom     = 10.0
)

// Options configures a Compositor.
type Options struct {
	Pacing pacing.Config
	Scroll scroll.Config
	Memory memory.Config

	// InboxSize bounds the number of queued messages.
	InboxSize int
	// MaxPendingFrames is how many frames may be in flight in the renderer
	// before further composites are skipped. Zero means no limit.
	MaxPendingFrames int
	// Headless composites every new frame with ReasonHeadless.
	Headless bool

	MinPinchZoom float32
	MaxPinchZoom float32
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		Pacing:           pacing.DefaultConfig(),
		Scroll:           scroll.DefaultConfig(),
		Memory:           memory.DefaultConfig(),
		InboxSize:        DefaultInboxSize,
		MaxPendingFrames: DefaultMaxPendingFrames,
		MinPinchZoom:     DefaultMinPinchZoom,
		MaxPinchZoom:     DefaultMaxPinchZoom,
	}
}

// Validate validates the compositor options.
func (o *Options) Validate() error {
	if err := o.Memory.Validate(); err != nil {
		return fmt.Errorf("validating memory options: %w", err)
	}
	if o.InboxSize < 0 {
		return fmt.Errorf("invalid inbox size %d", o.InboxSize)
	}
	if o.MaxPendingFrames < 0 {
		return fmt.Errorf("invalid max pending frames %d", o.MaxPendingFrames)
	}
	if !(o.MinPinchZoom > 0) || o.MaxPinchZoom < o.MinPinchZoom {
		return errors.New("pinch zoom range must satisfy 0 < min <= max")
	}
	return nil
}
