package compositor

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"gopkg.in/guregu/null.v3"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/pacing"
)

// jsOptions are the options accepted by newCompositor. Unset fields keep
// the compositor defaults.
type jsOptions struct {
	RefreshRate      null.Float
	Vsync            null.String
	Adaptive         null.Bool
	Headless         null.Bool
	InboxSize        null.Int
	MaxPendingFrames null.Int

	ScrollCoalescing null.Bool
	ScrollMaxEvents  null.Int
	ScrollMaxHold    null.Int

	MinPinchZoom null.Float
	MaxPinchZoom null.Float

	MemoryWarning       null.Float
	MemoryCritical      null.Float
	MemoryCheckInterval null.Int

	LogLevel          null.String
	LogCategoryFilter null.String
	Tracing           null.Bool

	Tags map[string]string
}

func gojaValueExists(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

// parseOptions reads the newCompositor options object.
func parseOptions(rt *goja.Runtime, opts goja.Value) (*jsOptions, error) {
	o := &jsOptions{}
	if !gojaValueExists(opts) {
		return o, nil
	}

	obj := opts.ToObject(rt)
	for _, k := range obj.Keys() {
		v := obj.Get(k)
		if !gojaValueExists(v) {
			continue
		}
		switch k {
		case "refreshRate":
			o.RefreshRate = null.FloatFrom(v.ToFloat())
		case "vsync":
			o.Vsync = null.StringFrom(v.String())
		case "adaptive":
			o.Adaptive = null.BoolFrom(v.ToBoolean())
		case "headless":
			o.Headless = null.BoolFrom(v.ToBoolean())
		case "inboxSize":
			o.InboxSize = null.IntFrom(v.ToInteger())
		case "maxPendingFrames":
			o.MaxPendingFrames = null.IntFrom(v.ToInteger())
		case "scrollCoalescing":
			o.ScrollCoalescing = null.BoolFrom(v.ToBoolean())
		case "scrollMaxEvents":
			o.ScrollMaxEvents = null.IntFrom(v.ToInteger())
		case "scrollMaxHold":
			o.ScrollMaxHold = null.IntFrom(v.ToInteger())
		case "minPinchZoom":
			o.MinPinchZoom = null.FloatFrom(v.ToFloat())
		case "maxPinchZoom":
			o.MaxPinchZoom = null.FloatFrom(v.ToFloat())
		case "memoryWarning":
			o.MemoryWarning = null.FloatFrom(v.ToFloat())
		case "memoryCritical":
			o.MemoryCritical = null.FloatFrom(v.ToFloat())
		case "memoryCheckInterval":
			o.MemoryCheckInterval = null.IntFrom(v.ToInteger())
		case "logLevel":
			o.LogLevel = null.StringFrom(v.String())
		case "logCategoryFilter":
			o.LogCategoryFilter = null.StringFrom(v.String())
		case "tracing":
			o.Tracing = null.BoolFrom(v.ToBoolean())
		case "tags":
			tags := v.ToObject(rt)
			o.Tags = make(map[string]string, len(tags.Keys()))
			for _, tk := range tags.Keys() {
				o.Tags[tk] = tags.Get(tk).String()
			}
		}
	}

	return o, nil
}

// compositorOptions applies the set fields on top of the defaults.
func (o *jsOptions) compositorOptions() (*common.Options, error) {
	opts := common.NewOptions()

	if o.RefreshRate.Valid {
		opts.Pacing.RefreshRate = o.RefreshRate.Float64
	}
	if o.Vsync.Valid {
		m, err := pacing.ParseVsyncMode(o.Vsync.String)
		if err != nil {
			return nil, fmt.Errorf("parsing vsync option: %w", err)
		}
		opts.Pacing.Vsync = m
	}
	if o.Adaptive.Valid {
		opts.Pacing.Adaptive = o.Adaptive.Bool
	}
	if o.Headless.Valid {
		opts.Headless = o.Headless.Bool
	}
	if o.InboxSize.Valid {
		opts.InboxSize = int(o.InboxSize.Int64)
	}
	if o.MaxPendingFrames.Valid {
		opts.MaxPendingFrames = int(o.MaxPendingFrames.Int64)
	}
	if o.ScrollCoalescing.Valid {
		opts.Scroll.Enabled = o.ScrollCoalescing.Bool
	}
	if o.ScrollMaxEvents.Valid {
		if o.ScrollMaxEvents.Int64 <= 0 {
			return nil, fmt.Errorf("invalid scrollMaxEvents %d", o.ScrollMaxEvents.Int64)
		}
		opts.Scroll.MaxEvents = uint32(o.ScrollMaxEvents.Int64)
	}
	if o.ScrollMaxHold.Valid {
		opts.Scroll.MaxHold = time.Duration(o.ScrollMaxHold.Int64) * time.Millisecond
	}
	if o.MinPinchZoom.Valid {
		opts.MinPinchZoom = float32(o.MinPinchZoom.Float64)
	}
	if o.MaxPinchZoom.Valid {
		opts.MaxPinchZoom = float32(o.MaxPinchZoom.Float64)
	}
	if o.MemoryWarning.Valid {
		opts.Memory.WarningThreshold = o.MemoryWarning.Float64
	}
	if o.MemoryCritical.Valid {
		opts.Memory.CriticalThreshold = o.MemoryCritical.Float64
	}
	if o.MemoryCheckInterval.Valid {
		opts.Memory.CheckInterval = time.Duration(o.MemoryCheckInterval.Int64) * time.Millisecond
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}
