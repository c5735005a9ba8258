// Package scroll coalesces bursts of wheel, touch and pinch input into a
// small number of batches so that one frame applies one scroll per region.
package scroll

import (
	"math"
	"time"

	"github.com/grafana/xk6-compositor/log"
)

// Vector is a 2D displacement in device pixels.
type Vector struct {
	X, Y float32
}

// Add returns v+o.
func (v Vector) Add(o Vector) Vector { return Vector{X: v.X + o.X, Y: v.Y + o.Y} }

// Scale returns v*s.
func (v Vector) Scale(s float32) Vector { return Vector{X: v.X * s, Y: v.Y * s} }

// Point is an integer device position of the cursor.
type Point struct {
	X, Y int32
}

func (p Point) distSq(o Point) float32 {
	dx := float32(p.X - o.X)
	dy := float32(p.Y - o.Y)
	return dx*dx + dy*dy
}

// Config bounds how aggressively events are merged.
type Config struct {
	// MaxEvents is the number of events after which a batch is closed.
	MaxEvents uint32
	// MaxHold is the age after which a batch is closed.
	MaxHold time.Duration
	// CursorThreshold is the largest cursor movement, in device pixels,
	// that still counts as the same scroll target.
	CursorThreshold float32
	// Enabled turns merging on. When off every event is its own batch.
	Enabled bool
}

// DefaultConfig returns the default coalescing limits.
func DefaultConfig() Config {
	return Config{
		MaxEvents:       10,
		MaxHold:         16 * time.Millisecond,
		CursorThreshold: 10,
		Enabled:         true,
	}
}

// Batch is a run of scroll events that share a target.
type Batch struct {
	Delta      Vector
	Cursor     Point
	EventCount uint32
	FirstEvent time.Time
	LastEvent  time.Time
}

// AverageDelta returns the mean delta of the merged events.
func (b Batch) AverageDelta() Vector {
	if b.EventCount == 0 {
		return Vector{}
	}
	return b.Delta.Scale(1 / float32(b.EventCount))
}

// Stats counts merged input.
type Stats struct {
	EventsReceived  uint64
	BatchesEmitted  uint64
	EventsSaved     uint64
	ZoomEvents      uint64
	ZoomBatches     uint64
	PendingBatches  int
	CoalescingRatio float64
}

// Coalescer merges scroll and zoom input between frames.
// It is owned by the compositor goroutine and is not safe for concurrent use.
type Coalescer struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	pending   []*Batch
	zoom      float32
	zoomCount uint32

	eventsReceived uint64
	batchesEmitted uint64
	zoomEvents     uint64
	zoomBatches    uint64
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coalescer) { c.now = now }
}

// New creates a coalescer. Zero limits are replaced by the defaults.
func New(cfg Config, logger *log.Logger, opts ...Option) *Coalescer {
	def := DefaultConfig()
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = def.MaxHold
	}
	if !(cfg.CursorThreshold >= 0) {
		cfg.CursorThreshold = def.CursorThreshold
	}
	c := &Coalescer{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		zoom:   1,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the active limits.
func (c *Coalescer) Config() Config { return c.cfg }

// SetEnabled toggles merging. Pending batches are kept.
func (c *Coalescer) SetEnabled(enabled bool) { c.cfg.Enabled = enabled }

// AddScroll merges delta into the first open batch whose cursor is close
// enough, or opens a new batch.
func (c *Coalescer) AddScroll(delta Vector, cursor Point) {
	now := c.now()
	c.eventsReceived++

	if c.cfg.Enabled {
		for _, b := range c.pending {
			if c.canMerge(b, cursor, now) {
				b.Delta = b.Delta.Add(delta)
				b.EventCount++
				b.LastEvent = now
				c.logger.Tracef("Coalescer:AddScroll", "merged into batch count:%d delta:%v", b.EventCount, b.Delta)
				return
			}
		}
	}

	c.pending = append(c.pending, &Batch{
		Delta:      delta,
		Cursor:     cursor,
		EventCount: 1,
		FirstEvent: now,
		LastEvent:  now,
	})
}

func (c *Coalescer) canMerge(b *Batch, cursor Point, now time.Time) bool {
	if b.Cursor.distSq(cursor) > c.cfg.CursorThreshold*c.cfg.CursorThreshold {
		return false
	}
	if b.EventCount >= c.cfg.MaxEvents {
		return false
	}
	return now.Sub(b.FirstEvent) < c.cfg.MaxHold
}

func (c *Coalescer) ready(b *Batch, now time.Time) bool {
	return b.EventCount >= c.cfg.MaxEvents || now.Sub(b.FirstEvent) >= c.cfg.MaxHold
}

// AddZoom multiplies factor into the pending zoom. Factors that are not
// finite and positive are ignored.
func (c *Coalescer) AddZoom(factor float32) {
	if !(factor > 0) || math.IsInf(float64(factor), 0) {
		c.logger.Warnf("Coalescer:AddZoom", "ignoring zoom factor %v", factor)
		return
	}
	c.zoomEvents++
	c.zoom *= factor
	c.zoomCount++
}

// TakeZoom returns the accumulated zoom factor and resets it.
// ok is false when no zoom arrived since the last call.
func (c *Coalescer) TakeZoom() (factor float32, ok bool) {
	if c.zoomCount == 0 {
		return 1, false
	}
	factor = c.zoom
	c.zoom, c.zoomCount = 1, 0
	c.zoomBatches++
	return factor, true
}

// Flush returns the batches that reached their count or age limit, in
// arrival order. The rest stay pending.
func (c *Coalescer) Flush() []Batch {
	now := c.now()
	var (
		out  []Batch
		keep = c.pending[:0]
	)
	for _, b := range c.pending {
		if c.ready(b, now) {
			out = append(out, *b)
			continue
		}
		keep = append(keep, b)
	}
	c.pending = keep
	c.batchesEmitted += uint64(len(out))
	return out
}

// FlushAll returns every pending batch regardless of limits.
func (c *Coalescer) FlushAll() []Batch {
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]Batch, 0, len(c.pending))
	for _, b := range c.pending {
		out = append(out, *b)
	}
	c.pending = c.pending[:0]
	c.batchesEmitted += uint64(len(out))
	return out
}

// HasPending reports whether scroll or zoom input is waiting.
func (c *Coalescer) HasPending() bool {
	return len(c.pending) > 0 || c.zoomCount > 0
}

// Stats returns a snapshot of the counters.
func (c *Coalescer) Stats() Stats {
	s := Stats{
		EventsReceived: c.eventsReceived,
		BatchesEmitted: c.batchesEmitted,
		ZoomEvents:     c.zoomEvents,
		ZoomBatches:    c.zoomBatches,
		PendingBatches: len(c.pending),
	}
	if s.EventsReceived > s.BatchesEmitted {
		s.EventsSaved = s.EventsReceived - s.BatchesEmitted
	}
	if s.BatchesEmitted > 0 {
		s.CoalescingRatio = float64(s.EventsReceived) / float64(s.BatchesEmitted)
	}
	return s
}
