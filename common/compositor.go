/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/grafana/xk6-compositor/log"
	"github.com/grafana/xk6-compositor/memory"
	"github.com/grafana/xk6-compositor/pacing"
	"github.com/grafana/xk6-compositor/resource"
	"github.com/grafana/xk6-compositor/scroll"
	"github.com/grafana/xk6-compositor/trace"
)

// Stats is a snapshot of the compositor counters.
type Stats struct {
	Pipelines            int
	WebViews             int
	Composites           uint64
	PaintMetricsSent     uint64
	AnimationTicks       uint64
	DroppedAfterShutdown uint64
	UnknownPipeline      uint64
	StaleDisplayLists    uint64
	PendingFrames        int
	CompositePending     bool
	PinchZoom            float32
	MemoryLevel          memory.Level
	ShutdownState        ShutdownState
	Pacing               pacing.Stats
	Scroll               scroll.Stats
}

// Compositor owns the pipeline registry and decides when to composite.
//
// A Compositor is owned by one goroutine, normally the one calling Run.
// Other goroutines talk to it through the inbox returned by Inbox.
type Compositor struct {
	ctx    context.Context
	opts   *Options
	logger *log.Logger
	now    func() time.Time

	renderer        Renderer
	constellation   Constellation
	pressureHandler MemoryPressureHandler
	tracer          *trace.Tracer
	sampler         memory.Sampler

	state   ShutdownState
	reg     registry
	request compositionRequest

	coalescer    *scroll.Coalescer
	pacer        *pacing.Pacer
	monitor      *memory.Monitor
	lastPressure memory.Level

	viewport          Size
	pinchZoom         float32
	lastAnimationTick time.Time
	pendingFrames     int

	inbox chan Msg

	composites       uint64
	paintMetricsSent uint64
	animationTicks   uint64
	dropped          uint64
	unknown          uint64
	stale            uint64
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithClock replaces the wall clock of the compositor and its pacer,
// coalescer and memory monitor.
func WithClock(now func() time.Time) Option {
	return func(c *Compositor) { c.now = now }
}

// WithConstellation sets the receiver of paint metrics, animation ticks
// and scroll states.
func WithConstellation(cs Constellation) Option {
	return func(c *Compositor) { c.constellation = cs }
}

// WithMemoryPressureHandler sets the receiver of memory level changes.
func WithMemoryPressureHandler(h MemoryPressureHandler) Option {
	return func(c *Compositor) { c.pressureHandler = h }
}

// WithTracer enables tracing of pipelines and composites.
func WithTracer(t *trace.Tracer) Option {
	return func(c *Compositor) { c.tracer = t }
}

// WithSampler replaces the system memory sampler.
func WithSampler(s memory.Sampler) Option {
	return func(c *Compositor) { c.sampler = s }
}

// NewCompositor creates a compositor that sends scene updates to renderer.
func NewCompositor(
	ctx context.Context, opts *Options, renderer Renderer, logger *log.Logger, options ...Option,
) (*Compositor, error) {
	if renderer == nil {
		return nil, errors.New("creating compositor: renderer is required")
	}
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("creating compositor: %w", err)
	}

	c := &Compositor{
		ctx:       ctx,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		renderer:  renderer,
		reg:       newRegistry(),
		pinchZoom: opts.MinPinchZoom,
		inbox:     make(chan Msg, opts.InboxSize),
	}
	for _, o := range options {
		o(c)
	}

	c.coalescer = scroll.New(opts.Scroll, logger, scroll.WithClock(c.now))
	c.pacer = pacing.New(opts.Pacing, logger, pacing.WithClock(c.now))
	monitor, err := memory.New(opts.Memory, c.sampler, logger, memory.WithClock(c.now))
	if err != nil {
		return nil, fmt.Errorf("creating compositor: %w", err)
	}
	c.monitor = monitor

	return c, nil
}

// Inbox returns the channel other goroutines send messages on.
func (c *Compositor) Inbox() chan<- Msg { return c.inbox }

// Post queues msg, waiting for room in the inbox or for ctx to be done.
func (c *Compositor) Post(ctx context.Context, msg Msg) error {
	select {
	case c.inbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("posting %s: %w", msg.msgName(), ctx.Err())
	}
}

// Pacer returns the frame pacer.
func (c *Compositor) Pacer() *pacing.Pacer { return c.pacer }

// Coalescer returns the scroll coalescer.
func (c *Compositor) Coalescer() *scroll.Coalescer { return c.coalescer }

// ShutdownState returns the lifecycle state.
func (c *Compositor) ShutdownState() ShutdownState { return c.state }

// accept reports whether a mutating operation may run in the current
// state. Cleanup operations keep running while shutting down.
func (c *Compositor) accept(op string, cleanup bool) bool {
	switch c.state {
	case NotShuttingDown:
		return true
	case ShuttingDown:
		if cleanup {
			return true
		}
	}
	c.dropped++
	c.logger.Debugf("Compositor:"+op, "dropping in state %s", c.state)
	return false
}

func (c *Compositor) unknownPipeline(op string, id PipelineID) {
	c.unknown++
	c.logger.Warnf("Compositor:"+op, "unknown pipeline %q", id)
}

// RegisterWebView maps a webview to its root pipeline. Registering a known
// webview is a no-op.
func (c *Compositor) RegisterWebView(id WebViewID, pipeline PipelineID) {
	if !c.accept("RegisterWebView", false) {
		return
	}
	if _, ok := c.reg.webViews[id]; ok {
		c.logger.Debugf("Compositor:RegisterWebView", "webview %q already registered", id)
		return
	}
	c.reg.webViews[id] = pipeline
	c.logger.Debugf("Compositor:RegisterWebView", "webview %q root pipeline %q", id, pipeline)
}

// SetFrameTree points a webview at a new root pipeline, registering it if
// needed.
func (c *Compositor) SetFrameTree(id WebViewID, pipeline PipelineID) {
	if !c.accept("SetFrameTree", false) {
		return
	}
	c.reg.webViews[id] = pipeline
	c.RequestComposite(ReasonNewWebRenderFrame)
}

// RemoveWebView forgets a webview and retires its pipeline tree.
func (c *Compositor) RemoveWebView(id WebViewID) {
	if !c.accept("RemoveWebView", true) {
		return
	}
	root, ok := c.reg.webViews[id]
	if !ok {
		c.logger.Warnf("Compositor:RemoveWebView", "unknown webview %q", id)
		return
	}
	delete(c.reg.webViews, id)

	ids := c.reg.descendants(root)
	for i := len(ids) - 1; i >= 0; i-- {
		c.retire(ids[i])
	}
	if _, ok := c.reg.pipelines[root]; ok {
		c.retire(root)
	}
}

// AttachPipeline creates the pipeline if it is unknown, or updates its
// parent and handle. A pipeline created here starts with both paint
// metrics Waiting, including ids that were retired before.
func (c *Compositor) AttachPipeline(id PipelineID, parent *PipelineID, handle *PipelineHandle) {
	if !c.accept("AttachPipeline", false) {
		return
	}
	d, ok := c.reg.pipelines[id]
	if !ok {
		d = newPipelineDetails(id)
		c.reg.pipelines[id] = d

		attrs := []attribute.KeyValue{}
		if handle != nil {
			attrs = append(attrs, attribute.String("webview.id", string(handle.WebView)))
			if handle.URL != "" {
				attrs = append(attrs, attribute.String("pipeline.url", handle.URL))
			}
		}
		c.tracer.TracePipeline(c.ctx, string(id), attrs...)
	}
	if parent != nil {
		p := *parent
		d.parent = &p
	} else {
		d.parent = nil
	}
	d.handle = handle

	c.logger.Debugf("Compositor:AttachPipeline", "pipeline %q new:%t parent:%v", id, !ok, d.parent)
}

// RetirePipeline removes a pipeline and hands its resources to the
// renderer for deletion. Unknown pipelines are ignored.
func (c *Compositor) RetirePipeline(id PipelineID) {
	if !c.accept("RetirePipeline", true) {
		return
	}
	if _, ok := c.reg.pipelines[id]; !ok {
		c.unknownPipeline("RetirePipeline", id)
		return
	}
	c.retire(id)
}

func (c *Compositor) retire(id PipelineID) {
	d := c.reg.pipelines[id]
	cleanup := d.resources.Drain()
	if !cleanup.Empty() {
		tx := newTransaction()
		tx.Cleanup = &cleanup
		tx.CleanupFor = id
		c.renderer.SendTransaction(tx)
	}

	delete(c.reg.pipelines, id)
	for _, other := range c.reg.pipelines {
		if other.parent != nil && *other.parent == id {
			other.parent = nil
		}
	}
	for wv, root := range c.reg.webViews {
		if root == id {
			delete(c.reg.webViews, wv)
		}
	}
	c.tracer.EndPipeline(string(id))

	c.logger.Debugf("Compositor:retire", "pipeline %q released:%d", id, cleanup.Len())
}

// NoteDisplayListReceived records a new display list. It rebuilds the hit
// test list and scroll tree of the pipeline, forwards the payload to the
// renderer, moves Waiting paint metrics to Seen and requests a composite.
// Display lists whose epoch is not newer than the last one are ignored.
// The ScrollTree in dl is owned by the compositor afterwards.
func (c *Compositor) NoteDisplayListReceived(dl DisplayList) {
	if !c.accept("NoteDisplayListReceived", false) {
		return
	}
	d, ok := c.reg.pipelines[dl.Pipeline]
	if !ok {
		c.unknownPipeline("NoteDisplayListReceived", dl.Pipeline)
		return
	}
	if d.hasDisplayList && dl.Epoch <= d.mostRecentEpoch {
		c.stale++
		c.logger.Warnf("Compositor:NoteDisplayListReceived",
			"stale display list for %q epoch:%d latest:%d", dl.Pipeline, dl.Epoch, d.mostRecentEpoch)
		return
	}
	d.mostRecentEpoch = dl.Epoch
	d.hasDisplayList = true

	d.hitTestItems = dl.HitTestItems
	tree := dl.ScrollTree
	if tree == nil {
		tree = &ScrollTree{}
	}
	tree.carryOffsets(d.scrollTree)
	d.scrollTree = tree

	if d.firstPaint.see(dl.Epoch, dl.FirstReflow) {
		c.logger.Debugf("Compositor:NoteDisplayListReceived", "first paint seen %q epoch:%d", dl.Pipeline, dl.Epoch)
	}
	if dl.Contentful && d.firstContentfulPaint.see(dl.Epoch, dl.FirstReflow) {
		c.logger.Debugf("Compositor:NoteDisplayListReceived", "first contentful paint seen %q epoch:%d", dl.Pipeline, dl.Epoch)
	}

	tx := newTransaction()
	tx.DisplayList = &DisplayListUpdate{Pipeline: dl.Pipeline, Epoch: dl.Epoch, Payload: dl.Payload}
	c.renderer.SendTransaction(tx)

	if c.opts.Headless {
		c.RequestComposite(ReasonHeadless)
		return
	}
	c.RequestComposite(ReasonNewWebRenderFrame)
}

// NoteFramePresented is called with the epochs contained in a presented
// frame. Seen paint metrics whose epoch made it to the screen are sent.
func (c *Compositor) NoteFramePresented(epochs map[PipelineID]Epoch) {
	if !c.accept("NoteFramePresented", false) {
		return
	}
	c.pacer.OnFramePresented()
	if c.pendingFrames > 0 {
		c.pendingFrames--
	}

	now := c.now()
	for _, id := range sortedEpochKeys(epochs) {
		d, ok := c.reg.pipelines[id]
		if !ok {
			c.logger.Debugf("Compositor:NoteFramePresented", "presented pipeline %q is gone", id)
			continue
		}
		presented := epochs[id]
		c.sendPaintMetric(d, FirstPaint, &d.firstPaint, presented, now)
		c.sendPaintMetric(d, FirstContentfulPaint, &d.firstContentfulPaint, presented, now)
	}
}

func (c *Compositor) sendPaintMetric(
	d *pipelineDetails, kind PaintMetricKind, s *PaintMetricState, presented Epoch, now time.Time,
) {
	if !s.present(presented) {
		return
	}
	c.paintMetricsSent++
	ev := PaintMetricEvent{
		Pipeline:    d.id,
		WebView:     d.webView(),
		Kind:        kind,
		Epoch:       s.Epoch(),
		FirstReflow: s.FirstReflow(),
		Time:        now,
	}
	c.tracer.TraceEvent(string(d.id), kind.String(),
		attribute.Int64("epoch", int64(ev.Epoch)), attribute.Bool("first_reflow", ev.FirstReflow))
	c.logger.Debugf("Compositor:sendPaintMetric", "%s for %q epoch:%d", kind, d.id, ev.Epoch)
	if c.constellation != nil {
		c.constellation.PaintMetric(ev)
	}
}

func sortedEpochKeys(m map[PipelineID]Epoch) []PipelineID {
	ids := make([]PipelineID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RequestComposite asks for a composite on the next due frame. Only the
// most recent reason is kept. Requests are ignored once shutdown began.
func (c *Compositor) RequestComposite(reason CompositingReason) {
	if c.state != NotShuttingDown {
		return
	}
	c.request = compositionRequest{pending: true, reason: reason}
}

// PendingComposite returns the reason of the pending composite, if any.
func (c *Compositor) PendingComposite() (CompositingReason, bool) {
	return c.request.reason, c.request.pending
}

// SetAnimationState records that a pipeline's animations started or stopped.
func (c *Compositor) SetAnimationState(id PipelineID, s AnimationState) {
	if !c.accept("SetAnimationState", false) {
		return
	}
	d, ok := c.reg.pipelines[id]
	if !ok {
		c.unknownPipeline("SetAnimationState", id)
		return
	}
	d.setAnimationState(s)
}

// SetThrottled backgrounds a pipeline. Throttled pipelines get no
// animation ticks.
func (c *Compositor) SetThrottled(id PipelineID, throttled bool) {
	if !c.accept("SetThrottled", false) {
		return
	}
	d, ok := c.reg.pipelines[id]
	if !ok {
		c.unknownPipeline("SetThrottled", id)
		return
	}
	d.throttled = throttled
	d.pressureThrottled = false
}

// IsAnimating reports whether any unthrottled pipeline is animating.
func (c *Compositor) IsAnimating() bool {
	for _, d := range c.reg.pipelines {
		if d.animating() {
			return true
		}
	}
	return false
}

// AddScroll queues a scroll event for coalescing.
func (c *Compositor) AddScroll(delta scroll.Vector, cursor scroll.Point) {
	if !c.accept("AddScroll", false) {
		return
	}
	c.coalescer.AddScroll(delta, cursor)
}

// AddZoom queues a pinch zoom factor.
func (c *Compositor) AddZoom(factor float32) {
	if !c.accept("AddZoom", false) {
		return
	}
	c.coalescer.AddZoom(factor)
}

// Resize sets the viewport and requests a composite.
func (c *Compositor) Resize(viewport Size) {
	if !c.accept("Resize", false) {
		return
	}
	c.viewport = viewport
	tx := newTransaction()
	tx.Viewport = &viewport
	c.renderer.SendTransaction(tx)
	c.RequestComposite(ReasonResize)
}

// SetRefreshRate applies a refresh rate reported by the display.
func (c *Compositor) SetRefreshRate(millihertz uint32) error {
	if !c.accept("SetRefreshRate", false) {
		return nil
	}
	return c.pacer.DetectRefreshRate(millihertz)
}

// ResourceAdded tracks a resource allocated for a pipeline. Resources for
// unknown pipelines are released right away.
func (c *Compositor) ResourceAdded(id PipelineID, kind resource.Kind, key uint64) {
	if !c.accept("ResourceAdded", false) {
		return
	}
	d, ok := c.reg.pipelines[id]
	if !ok {
		c.unknownPipeline("ResourceAdded", id)
		c.release(id, resource.Single(kind, key))
		return
	}
	if err := d.resources.Track(kind, key); err != nil {
		c.logger.Warnf("Compositor:ResourceAdded", "%v", err)
	}
}

// ResourceDeleted forgets a resource and deletes it in the renderer. Keys
// the pipeline does not track are ignored.
func (c *Compositor) ResourceDeleted(id PipelineID, kind resource.Kind, key uint64) {
	if !c.accept("ResourceDeleted", true) {
		return
	}
	d, ok := c.reg.pipelines[id]
	if !ok {
		return
	}
	before := d.resources.Len()
	if err := d.resources.Untrack(kind, key); err != nil {
		c.logger.Warnf("Compositor:ResourceDeleted", "%v", err)
		return
	}
	if d.resources.Len() == before {
		c.logger.Debugf("Compositor:ResourceDeleted", "pipeline %q does not track %s %d", id, kind, key)
		return
	}
	c.release(id, resource.Single(kind, key))
}

func (c *Compositor) release(id PipelineID, cleanup resource.Cleanup) {
	if cleanup.Empty() {
		return
	}
	tx := newTransaction()
	tx.Cleanup = &cleanup
	tx.CleanupFor = id
	c.renderer.SendTransaction(tx)
}

// ScrollStateAck applies scroll offsets content has settled on.
func (c *Compositor) ScrollStateAck(id PipelineID, states []ScrollState) {
	if !c.accept("ScrollStateAck", false) {
		return
	}
	d, ok := c.reg.pipelines[id]
	if !ok {
		c.unknownPipeline("ScrollStateAck", id)
		return
	}
	for _, st := range states {
		if !d.scrollTree.SetOffset(st.ExternalID, st.Offset) {
			c.logger.Debugf("Compositor:ScrollStateAck", "pipeline %q has no scroll node %d", id, st.ExternalID)
		}
	}
}

// HitTest returns the topmost hit-test item of pipeline under p.
func (c *Compositor) HitTest(pipeline PipelineID, p DevicePoint) (HitTestResult, bool) {
	d, ok := c.reg.pipelines[pipeline]
	if !ok {
		return HitTestResult{}, false
	}
	return hitTest(pipeline, d.hitTestItems, d.scrollTree, p)
}

// HitTestAll hit tests every pipeline and returns the hit in the most
// deeply nested one. Ties go to the lowest pipeline id.
func (c *Compositor) HitTestAll(p DevicePoint) (HitTestResult, bool) {
	var (
		best      HitTestResult
		bestDepth = -1
	)
	for _, id := range c.reg.sortedIDs() {
		d := c.reg.pipelines[id]
		res, ok := hitTest(id, d.hitTestItems, d.scrollTree, p)
		if !ok {
			continue
		}
		if depth := c.reg.depth(id); depth > bestDepth {
			best, bestDepth = res, depth
		}
	}
	return best, bestDepth >= 0
}

// Tick runs one iteration of frame work: memory pressure, pending scroll
// and zoom, animation ticks, and the composite if one is pending and the
// pacer says a frame is due.
func (c *Compositor) Tick() {
	if c.state == FinishedShuttingDown {
		return
	}
	c.checkMemoryPressure()
	if c.state != NotShuttingDown {
		return
	}

	frameDue := c.pacer.ShouldGenerateFrame()
	batches := c.coalescer.Flush()
	if frameDue {
		batches = append(batches, c.coalescer.FlushAll()...)
		c.applyZoom()
	}
	c.applyScroll(batches)
	c.tickAnimations()

	if !c.request.pending || !frameDue {
		return
	}
	if limit := c.opts.MaxPendingFrames; limit > 0 && c.pendingFrames >= limit {
		c.pacer.OnFrameSkipped()
		c.logger.Debugf("Compositor:Tick", "skipping frame, %d pending", c.pendingFrames)
		return
	}
	c.composite()
}

func (c *Compositor) composite() {
	req := FrameRequest{
		ID:     uuid.New(),
		Reason: c.request.reason,
		Epochs: c.currentEpochs(),
		Time:   c.now(),
	}
	span := c.tracer.TraceComposite(c.ctx, req.Reason.String(), attribute.Int("pipelines", len(req.Epochs)))
	defer span.End()

	c.request = compositionRequest{}
	c.pendingFrames++
	c.composites++
	c.renderer.GenerateFrame(req)
}

func (c *Compositor) currentEpochs() map[PipelineID]Epoch {
	epochs := make(map[PipelineID]Epoch, len(c.reg.pipelines))
	for id, d := range c.reg.pipelines {
		if d.hasDisplayList {
			epochs[id] = d.mostRecentEpoch
		}
	}
	return epochs
}

func (c *Compositor) applyZoom() {
	factor, ok := c.coalescer.TakeZoom()
	if !ok {
		return
	}
	zoom := c.pinchZoom * factor
	if zoom < c.opts.MinPinchZoom {
		zoom = c.opts.MinPinchZoom
	}
	if zoom > c.opts.MaxPinchZoom {
		zoom = c.opts.MaxPinchZoom
	}
	if zoom == c.pinchZoom {
		return
	}
	c.pinchZoom = zoom
	tx := newTransaction()
	tx.PinchZoom = zoom
	c.renderer.SendTransaction(tx)
	c.RequestComposite(ReasonNewWebRenderFrame)
}

func (c *Compositor) applyScroll(batches []scroll.Batch) {
	if len(batches) == 0 {
		return
	}
	var (
		updates []ScrollOffsetUpdate
		touched = map[PipelineID]bool{}
	)
	for _, b := range batches {
		cursor := DevicePoint{X: float32(b.Cursor.X), Y: float32(b.Cursor.Y)}
		hit, ok := c.HitTestAll(cursor)
		if !ok {
			c.logger.Tracef("Compositor:applyScroll", "nothing under %s", cursor)
			continue
		}
		d := c.reg.pipelines[hit.Pipeline]
		ext, off, moved := d.scrollTree.ScrollNodeOrAncestor(hit.ScrollNode, b.Delta)
		if !moved {
			continue
		}
		updates = append(updates, ScrollOffsetUpdate{Pipeline: hit.Pipeline, ExternalID: ext, Offset: off})
		touched[hit.Pipeline] = true
	}
	if len(updates) == 0 {
		return
	}

	tx := newTransaction()
	tx.ScrollOffsets = updates
	c.renderer.SendTransaction(tx)

	if c.constellation != nil {
		for _, id := range c.reg.sortedIDs() {
			if touched[id] {
				c.constellation.ScrollStates(id, c.reg.pipelines[id].scrollTree.States())
			}
		}
	}
	c.RequestComposite(ReasonNewWebRenderFrame)
}

// tickAnimations ticks animating pipelines at most once per target frame.
func (c *Compositor) tickAnimations() {
	now := c.now()
	if !c.lastAnimationTick.IsZero() && now.Sub(c.lastAnimationTick) < c.pacer.TargetFrameDuration() {
		return
	}

	var ticked, css bool
	for _, id := range c.reg.sortedIDs() {
		d := c.reg.pipelines[id]
		if !d.animating() {
			continue
		}
		var typ AnimationTickType
		if d.animationsRunning {
			typ |= TickCSSAnimations
			css = true
		}
		if d.animationCallbacksRunning {
			typ |= TickAnimationFrameCallbacks
		}
		if c.constellation != nil {
			c.constellation.AnimationTick(id, typ)
		}
		c.animationTicks++
		ticked = true
	}
	if ticked {
		c.lastAnimationTick = now
	}
	if css {
		c.RequestComposite(ReasonAnimation)
	}
}

func (c *Compositor) checkMemoryPressure() {
	level := c.monitor.Check()
	if level == c.lastPressure {
		return
	}
	prev := c.lastPressure
	c.lastPressure = level
	factor := c.monitor.CacheFactor()
	c.logger.Infof("Compositor:checkMemoryPressure", "memory pressure %s -> %s cache factor:%v", prev, level, factor)

	tx := newTransaction()
	tx.MemoryPressure = &MemoryPressureUpdate{Level: level, CacheFactor: factor}
	c.renderer.SendTransaction(tx)
	if c.pressureHandler != nil {
		c.pressureHandler.HandleMemoryPressure(level, factor)
	}

	switch level {
	case memory.Critical:
		for id, d := range c.reg.pipelines {
			if !d.throttled && !c.reg.isRoot(id) {
				d.throttled, d.pressureThrottled = true, true
			}
		}
	case memory.Normal:
		for _, d := range c.reg.pipelines {
			if d.pressureThrottled {
				d.throttled, d.pressureThrottled = false, false
			}
		}
	}
}

// BeginShutdown stops accepting new work. Pending scroll input is applied,
// a pending composite is abandoned, and cleanup operations keep running
// until FinishShutdown.
func (c *Compositor) BeginShutdown() {
	if c.state != NotShuttingDown {
		return
	}
	c.applyScroll(c.coalescer.FlushAll())
	c.state = ShuttingDown
	c.request = compositionRequest{}
	c.logger.Debugf("Compositor:BeginShutdown", "pipelines:%d", len(c.reg.pipelines))
}

// FinishShutdown retires every remaining pipeline and rejects all further
// mutating operations.
func (c *Compositor) FinishShutdown() {
	if c.state == FinishedShuttingDown {
		return
	}
	if c.state == NotShuttingDown {
		c.BeginShutdown()
	}
	for _, id := range c.reg.sortedIDs() {
		c.retire(id)
	}
	c.tracer.EndAll()
	c.state = FinishedShuttingDown
	c.logger.Infof("Compositor:FinishShutdown", "composites:%d paint metrics:%d dropped:%d",
		c.composites, c.paintMetricsSent, c.dropped)
}

// StableImage reports whether every pipeline with a display list has
// presented its first paint and no frame is pending.
func (c *Compositor) StableImage() bool {
	if c.request.pending || c.pendingFrames > 0 {
		return false
	}
	for _, d := range c.reg.pipelines {
		if d.hasDisplayList && d.firstPaint.Phase() != PaintMetricSent {
			return false
		}
	}
	return true
}

// PaintMetricStates returns the first paint and first contentful paint
// states of a pipeline.
func (c *Compositor) PaintMetricStates(id PipelineID) (fp, fcp PaintMetricState, ok bool) {
	d, ok := c.reg.pipelines[id]
	if !ok {
		return PaintMetricState{}, PaintMetricState{}, false
	}
	return d.firstPaint, d.firstContentfulPaint, true
}

// WebViewPipeline returns the root pipeline of a webview.
func (c *Compositor) WebViewPipeline(id WebViewID) (PipelineID, bool) {
	p, ok := c.reg.webViews[id]
	return p, ok
}

// HasPipeline reports whether id is live.
func (c *Compositor) HasPipeline(id PipelineID) bool {
	_, ok := c.reg.pipelines[id]
	return ok
}

// Throttled reports whether a pipeline is throttled.
func (c *Compositor) Throttled(id PipelineID) bool {
	d, ok := c.reg.pipelines[id]
	return ok && d.throttled
}

// Stats returns a snapshot of the counters.
func (c *Compositor) Stats() Stats {
	return Stats{
		Pipelines:            len(c.reg.pipelines),
		WebViews:             len(c.reg.webViews),
		Composites:           c.composites,
		PaintMetricsSent:     c.paintMetricsSent,
		AnimationTicks:       c.animationTicks,
		DroppedAfterShutdown: c.dropped,
		UnknownPipeline:      c.unknown,
		StaleDisplayLists:    c.stale,
		PendingFrames:        c.pendingFrames,
		CompositePending:     c.request.pending,
		PinchZoom:            c.pinchZoom,
		MemoryLevel:          c.lastPressure,
		ShutdownState:        c.state,
		Pacing:               c.pacer.Stats(),
		Scroll:               c.coalescer.Stats(),
	}
}
