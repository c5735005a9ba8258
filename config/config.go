// Package config loads the options of the compositor service from a YAML
// file and XK6_COMPOSITOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/gpu"
	"github.com/grafana/xk6-compositor/memory"
	"github.com/grafana/xk6-compositor/otel"
	"github.com/grafana/xk6-compositor/pacing"
	"github.com/grafana/xk6-compositor/scroll"
)

// EnvPrefix prefixes the environment variables that override the file.
const EnvPrefix = "XK6_COMPOSITOR"

// ErrInvalid is returned for options that fail validation.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New() //nolint:gochecknoglobals

// Options is everything the compositor service can be configured with.
type Options struct {
	Compositor Compositor               `mapstructure:"compositor" yaml:"compositor"`
	Pacing     Pacing                   `mapstructure:"pacing" yaml:"pacing"`
	Scroll     Scroll                   `mapstructure:"scroll" yaml:"scroll"`
	Memory     Memory                   `mapstructure:"memory" yaml:"memory"`
	Media      gpu.MediaConfig          `mapstructure:"media" yaml:"media"`
	Shaders    gpu.ShaderPrecacheConfig `mapstructure:"shaders" yaml:"shaders"`
	WebGL      gpu.WebGLConfig          `mapstructure:"webgl" yaml:"webgl"`
	Log        Log                      `mapstructure:"log" yaml:"log"`
	Server     Server                   `mapstructure:"server" yaml:"server"`
	Tracing    otel.Config              `mapstructure:"tracing" yaml:"tracing"`
}

// Compositor holds the orchestrator settings.
type Compositor struct {
	InboxSize        int     `mapstructure:"inbox_size" yaml:"inbox_size" validate:"gte=0"`
	MaxPendingFrames int     `mapstructure:"max_pending_frames" yaml:"max_pending_frames" validate:"gte=0"`
	Headless         bool    `mapstructure:"headless" yaml:"headless"`
	MinPinchZoom     float32 `mapstructure:"min_pinch_zoom" yaml:"min_pinch_zoom" validate:"gt=0"`
	MaxPinchZoom     float32 `mapstructure:"max_pinch_zoom" yaml:"max_pinch_zoom" validate:"gtefield=MinPinchZoom"`
}

// Pacing holds the frame pacer settings.
type Pacing struct {
	// RefreshRate overrides the display rate. Unset waits for the
	// display to report one.
	RefreshRate   null.Float `mapstructure:"-" yaml:"refresh_rate"`
	Vsync         string     `mapstructure:"vsync" yaml:"vsync" validate:"oneof=on off adaptive mailbox enabled disabled"`
	Adaptive      bool       `mapstructure:"adaptive" yaml:"adaptive"`
	Window        int        `mapstructure:"window" yaml:"window" validate:"gte=1"`
	DropThreshold float64    `mapstructure:"drop_threshold" yaml:"drop_threshold" validate:"gt=1"`
}

// Scroll holds the coalescer settings.
type Scroll struct {
	Coalescing      bool          `mapstructure:"coalescing" yaml:"coalescing"`
	MaxEvents       uint32        `mapstructure:"max_events" yaml:"max_events" validate:"gte=1"`
	MaxHold         time.Duration `mapstructure:"max_hold" yaml:"max_hold" validate:"gte=0"`
	CursorThreshold float32       `mapstructure:"cursor_threshold" yaml:"cursor_threshold" validate:"gte=0"`
}

// Memory holds the memory pressure thresholds, in percent of system memory.
type Memory struct {
	WarningThreshold    float64       `mapstructure:"warning_threshold" yaml:"warning_threshold" validate:"gt=0,lte=100"`
	CriticalThreshold   float64       `mapstructure:"critical_threshold" yaml:"critical_threshold" validate:"gtefield=WarningThreshold,lte=100"`
	CheckInterval       time.Duration `mapstructure:"check_interval" yaml:"check_interval" validate:"gte=0"`
	WarningCacheFactor  float64       `mapstructure:"warning_cache_factor" yaml:"warning_cache_factor" validate:"gt=0,lte=1"`
	CriticalCacheFactor float64       `mapstructure:"critical_cache_factor" yaml:"critical_cache_factor" validate:"gt=0,lte=1"`
}

// Log holds the logger settings.
type Log struct {
	Level          string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	CategoryFilter string `mapstructure:"category_filter" yaml:"category_filter,omitempty"`
}

// Server holds the CDP endpoint settings.
type Server struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	Path string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`
	// Report is where the session report is written on exit. Empty
	// disables the report.
	Report string `mapstructure:"report" yaml:"report,omitempty"`
}

// Default returns the options used when nothing is configured.
func Default() *Options {
	pc := pacing.DefaultConfig()
	sc := scroll.DefaultConfig()
	mc := memory.DefaultConfig()

	return &Options{
		Compositor: Compositor{
			InboxSize:        common.DefaultInboxSize,
			MaxPendingFrames: common.DefaultMaxPendingFrames,
			MinPinchZoom:     common.DefaultMinPinchZoom,
			MaxPinchZoom:     common.DefaultMaxPinchZoom,
		},
		Pacing: Pacing{
			Vsync:         pc.Vsync.String(),
			Adaptive:      pc.Adaptive,
			Window:        pc.Window,
			DropThreshold: pc.DropThreshold,
		},
		Scroll: Scroll{
			Coalescing:      sc.Enabled,
			MaxEvents:       sc.MaxEvents,
			MaxHold:         sc.MaxHold,
			CursorThreshold: sc.CursorThreshold,
		},
		Memory: Memory{
			WarningThreshold:    mc.WarningThreshold,
			CriticalThreshold:   mc.CriticalThreshold,
			CheckInterval:       mc.CheckInterval,
			WarningCacheFactor:  mc.WarningCacheFactor,
			CriticalCacheFactor: mc.CriticalCacheFactor,
		},
		Media:   gpu.MediaConfig{Name: gpu.MediaAuto.String()},
		Shaders: gpu.BalancedShaderPrecache(),
		WebGL:   gpu.DefaultWebGLConfig(),
		Log:     Log{Level: "info"},
		Server:  Server{Addr: "localhost:9333", Path: "/devtools/compositor"},
		Tracing: otel.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper, o *Options) {
	v.SetDefault("compositor.inbox_size", o.Compositor.InboxSize)
	v.SetDefault("compositor.max_pending_frames", o.Compositor.MaxPendingFrames)
	v.SetDefault("compositor.headless", o.Compositor.Headless)
	v.SetDefault("compositor.min_pinch_zoom", o.Compositor.MinPinchZoom)
	v.SetDefault("compositor.max_pinch_zoom", o.Compositor.MaxPinchZoom)
	v.SetDefault("pacing.vsync", o.Pacing.Vsync)
	v.SetDefault("pacing.adaptive", o.Pacing.Adaptive)
	v.SetDefault("pacing.window", o.Pacing.Window)
	v.SetDefault("pacing.drop_threshold", o.Pacing.DropThreshold)
	v.SetDefault("scroll.coalescing", o.Scroll.Coalescing)
	v.SetDefault("scroll.max_events", o.Scroll.MaxEvents)
	v.SetDefault("scroll.max_hold", o.Scroll.MaxHold)
	v.SetDefault("scroll.cursor_threshold", o.Scroll.CursorThreshold)
	v.SetDefault("memory.warning_threshold", o.Memory.WarningThreshold)
	v.SetDefault("memory.critical_threshold", o.Memory.CriticalThreshold)
	v.SetDefault("memory.check_interval", o.Memory.CheckInterval)
	v.SetDefault("memory.warning_cache_factor", o.Memory.WarningCacheFactor)
	v.SetDefault("memory.critical_cache_factor", o.Memory.CriticalCacheFactor)
	v.SetDefault("media.backend", o.Media.Name)
	v.SetDefault("shaders.strategy", o.Shaders.StrategyName)
	v.SetDefault("shaders.optimized", o.Shaders.OptimizedShaders)
	v.SetDefault("shaders.dir", o.Shaders.ShaderDir)
	v.SetDefault("webgl.enabled", o.WebGL.Enabled)
	v.SetDefault("webgl.version", int(o.WebGL.Version))
	v.SetDefault("webgl.software_fallback", o.WebGL.AllowSoftwareFallback)
	v.SetDefault("webgl.max_texture_size", o.WebGL.MaxTextureSize)
	v.SetDefault("log.level", o.Log.Level)
	v.SetDefault("log.category_filter", o.Log.CategoryFilter)
	v.SetDefault("server.addr", o.Server.Addr)
	v.SetDefault("server.path", o.Server.Path)
	v.SetDefault("server.report", o.Server.Report)
	v.SetDefault("tracing.enabled", o.Tracing.Enabled)
	v.SetDefault("tracing.proto", o.Tracing.Proto)
	v.SetDefault("tracing.endpoint", o.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", o.Tracing.Insecure)
	v.SetDefault("tracing.sampling", o.Tracing.Sampling)
}

// Load reads the options from path, if it is not empty, and from the
// environment. A missing file is an error only when path was given.
func Load(path string) (*Options, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Options, error) {
	o := Default()
	setDefaults(v, o)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// not defaulted, so it must be bound to be seen
	if err := v.BindEnv("pacing.refresh_rate"); err != nil {
		return nil, fmt.Errorf("binding refresh rate: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
	}

	if err := v.Unmarshal(o); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if v.IsSet("pacing.refresh_rate") && v.GetString("pacing.refresh_rate") != "" {
		o.Pacing.RefreshRate = null.FloatFrom(v.GetFloat64("pacing.refresh_rate"))
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	if err := o.resolve(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks every field.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if rr := o.Pacing.RefreshRate; rr.Valid && !(rr.Float64 > 0 && rr.Float64 <= pacing.MaxRefreshRate) {
		return fmt.Errorf("%w: refresh rate %v out of range", ErrInvalid, rr.Float64)
	}
	return nil
}

func (o *Options) resolve() error {
	if err := o.Media.Resolve(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := o.Shaders.Resolve(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// CompositorOptions returns the options of common.NewCompositor.
func (o *Options) CompositorOptions() (*common.Options, error) {
	vsync, err := pacing.ParseVsyncMode(o.Pacing.Vsync)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	opts := common.NewOptions()
	opts.InboxSize = o.Compositor.InboxSize
	opts.MaxPendingFrames = o.Compositor.MaxPendingFrames
	opts.Headless = o.Compositor.Headless
	opts.MinPinchZoom = o.Compositor.MinPinchZoom
	opts.MaxPinchZoom = o.Compositor.MaxPinchZoom

	if o.Pacing.RefreshRate.Valid {
		opts.Pacing.RefreshRate = o.Pacing.RefreshRate.Float64
	}
	opts.Pacing.Vsync = vsync
	opts.Pacing.Adaptive = o.Pacing.Adaptive
	opts.Pacing.Window = o.Pacing.Window
	opts.Pacing.DropThreshold = o.Pacing.DropThreshold

	opts.Scroll = scroll.Config{
		MaxEvents:       o.Scroll.MaxEvents,
		MaxHold:         o.Scroll.MaxHold,
		CursorThreshold: o.Scroll.CursorThreshold,
		Enabled:         o.Scroll.Coalescing,
	}
	opts.Memory = memory.Config{
		WarningThreshold:    o.Memory.WarningThreshold,
		CriticalThreshold:   o.Memory.CriticalThreshold,
		CheckInterval:       o.Memory.CheckInterval,
		WarningCacheFactor:  o.Memory.WarningCacheFactor,
		CriticalCacheFactor: o.Memory.CriticalCacheFactor,
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return opts, nil
}

// YAML encodes the options the way a config file spells them.
func (o *Options) YAML() ([]byte, error) {
	out, err := yaml.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}
