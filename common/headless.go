package common

import (
	"context"
	"sync"

	"github.com/grafana/xk6-compositor/log"
)

// RendererStats counts what a HeadlessRenderer received.
type RendererStats struct {
	Transactions     int
	Frames           int
	ReleasedKeys     int
	ScrollUpdates    int
	DisplayLists     int
	LastCacheFactor  float64
	LastPinchZoom    float32
	LastFrameRequest FrameRequest
}

// HeadlessRenderer is a Renderer that draws nothing. Every generated frame
// is reported back to the compositor as presented with the requested
// epochs.
type HeadlessRenderer struct {
	ctx    context.Context
	logger *log.Logger

	mu    sync.Mutex
	stats RendererStats
	inbox chan<- Msg
}

var _ Renderer = (*HeadlessRenderer)(nil)

// NewHeadlessRenderer creates a headless renderer.
func NewHeadlessRenderer(ctx context.Context, logger *log.Logger) *HeadlessRenderer {
	return &HeadlessRenderer{ctx: ctx, logger: logger, stats: RendererStats{LastCacheFactor: 1}}
}

// Attach sets the inbox presented frames are reported to.
func (r *HeadlessRenderer) Attach(inbox chan<- Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = inbox
}

// SendTransaction implements Renderer.
func (r *HeadlessRenderer) SendTransaction(tx Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Transactions++
	if tx.Cleanup != nil {
		r.stats.ReleasedKeys += tx.Cleanup.Len()
	}
	if tx.DisplayList != nil {
		r.stats.DisplayLists++
	}
	if tx.MemoryPressure != nil {
		r.stats.LastCacheFactor = tx.MemoryPressure.CacheFactor
	}
	if tx.PinchZoom != 0 {
		r.stats.LastPinchZoom = tx.PinchZoom
	}
	r.stats.ScrollUpdates += len(tx.ScrollOffsets)
	r.logger.Tracef("HeadlessRenderer:SendTransaction", "tx:%s", tx.ID)
}

// GenerateFrame implements Renderer.
func (r *HeadlessRenderer) GenerateFrame(req FrameRequest) {
	r.mu.Lock()
	r.stats.Frames++
	r.stats.LastFrameRequest = req
	inbox := r.inbox
	r.mu.Unlock()

	if inbox == nil {
		return
	}
	// The compositor goroutine is the caller, so the reply must not be
	// sent from here.
	go func() {
		select {
		case inbox <- MsgFramePresented{Epochs: req.Epochs}:
		case <-r.ctx.Done():
		}
	}()
}

// Stats returns a snapshot of the counters.
func (r *HeadlessRenderer) Stats() RendererStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
