// Package memory classifies system memory usage into pressure levels that
// caches use to size themselves.
package memory

import (
	"fmt"
	"time"

	"github.com/grafana/xk6-compositor/log"
)

// Level is a memory pressure classification.
type Level int

// Pressure levels, ordered by severity.
const (
	Normal Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Config holds thresholds, in percent of total memory, and cache factors.
type Config struct {
	WarningThreshold    float64
	CriticalThreshold   float64
	CheckInterval       time.Duration
	WarningCacheFactor  float64
	CriticalCacheFactor float64
}

// DefaultConfig returns the 70%/90% thresholds checked every 5 seconds.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:    70,
		CriticalThreshold:   90,
		CheckInterval:       5 * time.Second,
		WarningCacheFactor:  0.5,
		CriticalCacheFactor: 0.25,
	}
}

// Validate checks that thresholds are ordered and within range.
func (c Config) Validate() error {
	if !(c.WarningThreshold > 0 && c.WarningThreshold <= 100) {
		return fmt.Errorf("warning threshold %v must be in (0, 100]", c.WarningThreshold)
	}
	if !(c.CriticalThreshold >= c.WarningThreshold && c.CriticalThreshold <= 100) {
		return fmt.Errorf("critical threshold %v must be in [%v, 100]", c.CriticalThreshold, c.WarningThreshold)
	}
	if c.CheckInterval < 0 {
		return fmt.Errorf("check interval %v must not be negative", c.CheckInterval)
	}
	return nil
}

// LevelFor classifies a usage percentage.
func (c Config) LevelFor(usage float64) Level {
	switch {
	case usage >= c.CriticalThreshold:
		return Critical
	case usage >= c.WarningThreshold:
		return Warning
	default:
		return Normal
	}
}

// CacheFactor returns the multiplier caches apply to their capacity at l.
func (c Config) CacheFactor(l Level) float64 {
	switch l {
	case Warning:
		return c.WarningCacheFactor
	case Critical:
		return c.CriticalCacheFactor
	default:
		return 1
	}
}

// Sampler reports the share of system memory in use, in percent.
type Sampler interface {
	UsagePercent() (float64, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() (float64, error)

// UsagePercent calls f.
func (f SamplerFunc) UsagePercent() (float64, error) { return f() }

// Monitor samples memory usage at most once per check interval.
// It is owned by the compositor goroutine and is not safe for concurrent use.
type Monitor struct {
	cfg     Config
	sampler Sampler
	logger  *log.Logger
	now     func() time.Time

	lastCheck time.Time
	checked   bool
	level     Level
	usage     float64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor. A nil sampler uses DefaultSampler.
func New(cfg Config, sampler Sampler, logger *log.Logger, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("creating memory monitor: %w", err)
	}
	if sampler == nil {
		sampler = DefaultSampler()
	}
	m := &Monitor{
		cfg:     cfg,
		sampler: sampler,
		logger:  logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Check samples usage when the interval has elapsed since the previous
// sample and returns the current level. The first call always samples.
// A failing sampler keeps the previous level.
func (m *Monitor) Check() Level {
	now := m.now()
	if m.checked && now.Sub(m.lastCheck) < m.cfg.CheckInterval {
		return m.level
	}
	m.lastCheck = now
	m.checked = true

	usage, err := m.sampler.UsagePercent()
	if err != nil {
		m.logger.Warnf("MemoryMonitor:Check", "sampling memory usage: %v", err)
		return m.level
	}
	m.usage = usage
	level := m.cfg.LevelFor(usage)
	if level != m.level {
		m.logger.Debugf("MemoryMonitor:Check", "memory pressure %s -> %s usage:%.1f%%", m.level, level, usage)
	}
	m.level = level
	return level
}

// CurrentLevel returns the level from the last sample.
func (m *Monitor) CurrentLevel() Level { return m.level }

// Usage returns the last sampled usage percentage.
func (m *Monitor) Usage() float64 { return m.usage }

// CacheFactor returns the cache multiplier for the current level.
func (m *Monitor) CacheFactor() float64 { return m.cfg.CacheFactor(m.level) }

// Config returns the active configuration.
func (m *Monitor) Config() Config { return m.cfg }
