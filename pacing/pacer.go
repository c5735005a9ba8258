// Package pacing decides when the compositor should produce the next frame
// and keeps frame timing statistics.
package pacing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grafana/xk6-compositor/log"
)

// MaxRefreshRate is the highest refresh rate, in Hz, the pacer accepts.
const MaxRefreshRate = 360.0

// ErrInvalidRefreshRate is returned for rates outside (0, MaxRefreshRate].
var ErrInvalidRefreshRate = errors.New("invalid refresh rate")

// VsyncMode selects how presentation is synchronised with the display.
type VsyncMode int

// Vsync modes.
const (
	// VsyncOn waits for the vertical blank.
	VsyncOn VsyncMode = iota
	// VsyncOff presents immediately and may tear.
	VsyncOff
	// VsyncAdaptive waits unless the frame is late.
	VsyncAdaptive
	// VsyncMailbox replaces the queued frame with the newest one.
	VsyncMailbox
)

func (m VsyncMode) String() string {
	switch m {
	case VsyncOn:
		return "on"
	case VsyncOff:
		return "off"
	case VsyncAdaptive:
		return "adaptive"
	case VsyncMailbox:
		return "mailbox"
	}
	return fmt.Sprintf("vsync(%d)", int(m))
}

// ParseVsyncMode parses the textual form of a VsyncMode.
func ParseVsyncMode(s string) (VsyncMode, error) {
	switch strings.ToLower(s) {
	case "on", "enabled", "":
		return VsyncOn, nil
	case "off", "disabled":
		return VsyncOff, nil
	case "adaptive":
		return VsyncAdaptive, nil
	case "mailbox":
		return VsyncMailbox, nil
	}
	return VsyncOn, fmt.Errorf("unknown vsync mode %q", s)
}

// Config holds the pacing parameters.
type Config struct {
	RefreshRate   float64
	Adaptive      bool
	Window        int
	DropThreshold float64
	Vsync         VsyncMode
}

// DefaultConfig returns 60Hz adaptive pacing.
func DefaultConfig() Config {
	return Config{
		RefreshRate:   60,
		Adaptive:      true,
		Window:        30,
		DropThreshold: 1.5,
		Vsync:         VsyncOn,
	}
}

// Stats is a snapshot of frame timing.
type Stats struct {
	RefreshRate    float64
	TargetFrame    time.Duration
	AverageFrame   time.Duration
	FramesPresent  uint64
	FramesDropped  uint64
	FramesSkipped  uint64
	BehindSchedule bool
}

// FPS returns the frame rate implied by the average frame time.
func (s Stats) FPS() float64 {
	if s.AverageFrame <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.AverageFrame)
}

// DropPercentage returns dropped frames as a share of presented frames.
func (s Stats) DropPercentage() float64 {
	if s.FramesPresent == 0 {
		return 0
	}
	return float64(s.FramesDropped) / float64(s.FramesPresent) * 100
}

// Acceptable reports whether fewer than 5% of frames were dropped.
func (s Stats) Acceptable() bool {
	return s.DropPercentage() < 5
}

func (s Stats) String() string {
	return fmt.Sprintf("%.1f fps (target %.0fHz), %d/%d dropped (%.1f%%)",
		s.FPS(), s.RefreshRate, s.FramesDropped, s.FramesPresent, s.DropPercentage())
}

// Pacer tracks presented frames against a target refresh rate.
// It is owned by the compositor goroutine and is not safe for concurrent use.
type Pacer struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	target    time.Duration
	last      time.Time
	presented bool
	history   []time.Duration
	next      int
	sum       time.Duration
	average   time.Duration
	behind    bool

	frames  uint64
	dropped uint64
	skipped uint64
}

// Option configures a Pacer.
type Option func(*Pacer)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pacer) { p.now = now }
}

// New creates a pacer. An invalid refresh rate in cfg falls back to the
// default rate.
func New(cfg Config, logger *log.Logger, opts ...Option) *Pacer {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if !(cfg.DropThreshold > 1) {
		cfg.DropThreshold = def.DropThreshold
	}
	if !validRate(cfg.RefreshRate) {
		logger.Warnf("Pacer:New", "refresh rate %v out of range, using %v", cfg.RefreshRate, def.RefreshRate)
		cfg.RefreshRate = def.RefreshRate
	}
	p := &Pacer{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		target:  frameDuration(cfg.RefreshRate),
		history: make([]time.Duration, 0, cfg.Window),
	}
	for _, o := range opts {
		o(p)
	}
	p.last = p.now()
	return p
}

func validRate(hz float64) bool {
	return hz > 0 && hz <= MaxRefreshRate
}

func frameDuration(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

// RefreshRate returns the target rate in Hz.
func (p *Pacer) RefreshRate() float64 { return p.cfg.RefreshRate }

// TargetFrameDuration returns the time budget for one frame.
func (p *Pacer) TargetFrameDuration() time.Duration { return p.target }

// Config returns the active configuration.
func (p *Pacer) Config() Config { return p.cfg }

// SetRefreshRate changes the target rate. Invalid rates are rejected and
// the previous rate is kept.
func (p *Pacer) SetRefreshRate(hz float64) error {
	if !validRate(hz) {
		p.logger.Warnf("Pacer:SetRefreshRate", "rejecting refresh rate %v, keeping %v", hz, p.cfg.RefreshRate)
		return fmt.Errorf("setting refresh rate to %v: %w", hz, ErrInvalidRefreshRate)
	}
	p.cfg.RefreshRate = hz
	p.target = frameDuration(hz)
	p.logger.Debugf("Pacer:SetRefreshRate", "refresh rate %vHz target:%v", hz, p.target)
	return nil
}

// DetectRefreshRate applies a rate reported by the display in millihertz.
func (p *Pacer) DetectRefreshRate(millihertz uint32) error {
	return p.SetRefreshRate(float64(millihertz) / 1000)
}

// SetVsyncMode changes the vsync mode.
func (p *Pacer) SetVsyncMode(m VsyncMode) { p.cfg.Vsync = m }

// ShouldGenerateFrame reports whether a frame is due now.
func (p *Pacer) ShouldGenerateFrame() bool {
	if p.cfg.Adaptive && p.behind {
		return true
	}
	if p.cfg.Vsync == VsyncOff {
		return true
	}
	return p.now().Sub(p.last) >= p.target
}

// TimeUntilNextFrame returns how long to wait before the next frame is due.
func (p *Pacer) TimeUntilNextFrame() time.Duration {
	if p.cfg.Adaptive && p.behind {
		return 0
	}
	if p.cfg.Vsync == VsyncOff {
		return 0
	}
	wait := p.target - p.now().Sub(p.last)
	if wait < 0 {
		return 0
	}
	return wait
}

// OnFramePresented records that a frame reached the screen.
func (p *Pacer) OnFramePresented() {
	now := p.now()
	frame := now.Sub(p.last)
	p.last = now
	p.frames++

	// behind holds only until the next frame that makes its deadline
	p.behind = float64(frame) > p.cfg.DropThreshold*float64(p.target)
	if p.behind {
		p.dropped++
		p.logger.Debugf("Pacer:OnFramePresented", "dropped frame took:%v target:%v", frame, p.target)
	}

	if len(p.history) < p.cfg.Window {
		p.history = append(p.history, frame)
	} else {
		p.sum -= p.history[p.next]
		p.history[p.next] = frame
		p.next = (p.next + 1) % p.cfg.Window
	}
	p.sum += frame
	p.average = p.sum / time.Duration(len(p.history))
}

// OnFrameSkipped records a frame that was due but not produced.
func (p *Pacer) OnFrameSkipped() {
	p.skipped++
}

// Stats returns a snapshot of the frame counters.
func (p *Pacer) Stats() Stats {
	return Stats{
		RefreshRate:    p.cfg.RefreshRate,
		TargetFrame:    p.target,
		AverageFrame:   p.average,
		FramesPresent:  p.frames,
		FramesDropped:  p.dropped,
		FramesSkipped:  p.skipped,
		BehindSchedule: p.behind,
	}
}

// ResetStats clears the timing window and counters.
func (p *Pacer) ResetStats() {
	p.history = p.history[:0]
	p.next = 0
	p.sum = 0
	p.average = 0
	p.behind = false
	p.frames, p.dropped, p.skipped = 0, 0, 0
	p.last = p.now()
}
