package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/grafana/xk6-compositor/cdp"
	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/log"
	"github.com/grafana/xk6-compositor/scroll"
	"github.com/grafana/xk6-compositor/trace"
)

// mapping is a type for mapping our module API to goja.
// It acts like a bridge and allows adding wildcard methods
// and customization over the module API.
type mapping = map[string]any

// sessionQueue holds messages from CDP sessions until the VU goroutine
// applies them. Post never waits on the VU, so a session keeps reading
// from the browser while the script is busy.
type sessionQueue struct {
	mu   sync.Mutex
	msgs []common.Msg
}

func (q *sessionQueue) Post(ctx context.Context, msg common.Msg) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	q.mu.Lock()
	q.msgs = append(q.msgs, msg)
	q.mu.Unlock()
	return nil
}

func (q *sessionQueue) take() []common.Msg {
	q.mu.Lock()
	defer q.mu.Unlock()
	msgs := q.msgs
	q.msgs = nil
	return msgs
}

// vuCompositor is a compositor driven from the VU goroutine. Messages from
// CDP sessions queue up until the script calls tick.
type vuCompositor struct {
	vu        moduleVU
	c         *common.Compositor
	renderer  *common.HeadlessRenderer
	metering  *meteringConstellation
	events    *common.EventConstellation
	logger    *log.Logger
	lastStats common.Stats
	queue     sessionQueue

	sessionsMu sync.Mutex
	sessions   []*cdp.Session
}

func newLogger(o *jsOptions) (*log.Logger, error) {
	logger := log.New(logrus.New(), uuid.NewString())
	level := "warn"
	if o.LogLevel.Valid {
		level = o.LogLevel.String
	}
	if err := logger.SetLevel(level); err != nil {
		return nil, fmt.Errorf("parsing logLevel option: %w", err)
	}
	if o.LogCategoryFilter.Valid {
		if err := logger.SetCategoryFilter(o.LogCategoryFilter.String); err != nil {
			return nil, fmt.Errorf("parsing logCategoryFilter option: %w", err)
		}
	}
	return logger, nil
}

// newCompositor creates a compositor for the calling VU and maps it to a
// JS object. The compositor lives as long as the iteration that created
// it.
func newCompositor(vu moduleVU, opts goja.Value) (*goja.Object, error) {
	rt := vu.Runtime()
	jo, err := parseOptions(rt, opts)
	if err != nil {
		return nil, fmt.Errorf("parsing newCompositor options: %w", err)
	}
	copts, err := jo.compositorOptions()
	if err != nil {
		return nil, fmt.Errorf("parsing newCompositor options: %w", err)
	}
	logger, err := newLogger(jo)
	if err != nil {
		return nil, err
	}

	ctx := vu.Context()
	events := common.NewEventConstellation(ctx)
	metering := newMeteringConstellation(ctx, vu.metrics, events, jo.Tags)
	renderer := common.NewHeadlessRenderer(ctx, logger)

	options := []common.Option{
		common.WithConstellation(metering),
		common.WithMemoryPressureHandler(metering),
	}
	if jo.Tracing.Bool {
		options = append(options, common.WithTracer(trace.NewTracer(logger.Logger, otel.GetTracerProvider(), jo.Tags)))
	}
	c, err := common.NewCompositor(ctx, copts, renderer, logger, options...)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	renderer.Attach(c.Inbox())

	vc := &vuCompositor{
		vu:        vu,
		c:         c,
		renderer:  renderer,
		metering:  metering,
		events:    events,
		logger:    logger,
		lastStats: c.Stats(),
	}

	return rt.ToValue(mapCompositor(vc)).ToObject(rt), nil
}

// mapCompositor to the JS module.
func mapCompositor(vc *vuCompositor) mapping { //nolint:funlen
	rt := vc.vu.Runtime()

	return mapping{
		"registerWebView": func(webViewID, pipelineID string) error {
			return vc.send(cdp.MethodRegisterWebView, mapping{"webViewId": webViewID, "pipelineId": pipelineID})
		},
		"setFrameTree": func(webViewID, pipelineID string) error {
			return vc.send(cdp.MethodSetFrameTree, mapping{"webViewId": webViewID, "pipelineId": pipelineID})
		},
		"removeWebView": func(webViewID string) error {
			return vc.send(cdp.MethodRemoveWebView, mapping{"webViewId": webViewID})
		},
		"attachPipeline": func(pipelineID string, opts goja.Value) error {
			params := exportObject(opts)
			params["pipelineId"] = pipelineID
			if err := vc.send(cdp.MethodAttachPipeline, params); err != nil {
				return err
			}
			vc.metering.noteAttach(common.PipelineID(pipelineID), time.Now())
			return nil
		},
		"retirePipeline": func(pipelineID string) error {
			return vc.send(cdp.MethodRetirePipeline, mapping{"pipelineId": pipelineID})
		},
		"displayList": func(pipelineID string, dl goja.Value) error {
			params := exportObject(dl)
			params["pipelineId"] = pipelineID
			return vc.send(cdp.MethodDisplayList, params)
		},
		"resourceAdded": func(pipelineID, kind string, key int64) error {
			return vc.send(cdp.MethodResourceAdded, mapping{"pipelineId": pipelineID, "kind": kind, "key": key})
		},
		"resourceDeleted": func(pipelineID, kind string, key int64) error {
			return vc.send(cdp.MethodResourceDeleted, mapping{"pipelineId": pipelineID, "kind": kind, "key": key})
		},
		"animationState": func(pipelineID, state string) error {
			return vc.send(cdp.MethodAnimationState, mapping{"pipelineId": pipelineID, "state": state})
		},
		"throttle": func(pipelineID string, throttled bool) error {
			return vc.send(cdp.MethodThrottle, mapping{"pipelineId": pipelineID, "throttled": throttled})
		},
		"scroll": func(dx, dy, x, y float64) {
			vc.c.HandleMsg(common.MsgScroll{
				Delta:  scroll.Vector{X: float32(dx), Y: float32(dy)},
				Cursor: scroll.Point{X: int32(x), Y: int32(y)},
			})
		},
		"zoom": func(factor float64) error {
			return vc.send(cdp.MethodZoom, mapping{"factor": factor})
		},
		"resize": func(width, height float64) error {
			if width <= 0 || height <= 0 {
				return fmt.Errorf("invalid viewport %gx%g", width, height)
			}
			vc.c.HandleMsg(common.MsgResize{Viewport: common.Size{Width: float32(width), Height: float32(height)}})
			return nil
		},
		"scrollStateAck": func(pipelineID string, states goja.Value) error {
			return vc.send(cdp.MethodScrollStateAck, mapping{"pipelineId": pipelineID, "states": exportArg(states)})
		},
		"framePresented": func(epochs goja.Value) error {
			return vc.send(cdp.MethodFramePresented, mapping{"epochs": exportArg(epochs)})
		},
		"refreshRate": func(millihertz int64) error {
			return vc.send(cdp.MethodRefreshRate, mapping{"millihertz": millihertz})
		},
		"send": func(method string, params goja.Value) error {
			if !strings.Contains(method, ".") {
				method = "Compositor." + method
			}
			return vc.send(cdproto.MethodType(method), exportObject(params))
		},
		"tick": vc.tick,
		"hitTest": func(x, y float64, pipelineID goja.Value) any {
			p := common.DevicePoint{X: float32(x), Y: float32(y)}
			var (
				res common.HitTestResult
				ok  bool
			)
			if gojaValueExists(pipelineID) {
				res, ok = vc.c.HitTest(common.PipelineID(pipelineID.String()), p)
			} else {
				res, ok = vc.c.HitTestAll(p)
			}
			if !ok {
				return nil
			}
			return mapping{
				"pipelineId": string(res.Pipeline),
				"node":       res.Node,
				"scrollNode": int(res.ScrollNode),
				"cursor":     res.Cursor,
				"x":          res.Point.X,
				"y":          res.Point.Y,
			}
		},
		"paintMetrics": func(pipelineID string) any {
			fp, fcp, ok := vc.c.PaintMetricStates(common.PipelineID(pipelineID))
			if !ok {
				return nil
			}
			return mapping{
				"firstPaint":           mapPaintMetricState(fp),
				"firstContentfulPaint": mapPaintMetricState(fcp),
			}
		},
		"paintEvents": func() *goja.Object {
			evs := vc.metering.paintEvents()
			out := make([]any, 0, len(evs))
			for _, ev := range evs {
				out = append(out, mapping{
					"pipelineId":  string(ev.Pipeline),
					"webViewId":   string(ev.WebView),
					"name":        ev.Kind.String(),
					"epoch":       uint32(ev.Epoch),
					"firstReflow": ev.FirstReflow,
					"time":        ev.Time.UnixNano() / int64(time.Millisecond),
				})
			}
			return rt.NewArray(out...)
		},
		"throttled": func(pipelineID string) bool {
			return vc.c.Throttled(common.PipelineID(pipelineID))
		},
		"stableImage": vc.c.StableImage,
		"stats":       vc.stats,
		"connect":     vc.connect,
		"shutdown":    vc.shutdown,
	}
}

func mapPaintMetricState(s common.PaintMetricState) mapping {
	return mapping{
		"phase":       s.Phase().String(),
		"epoch":       uint32(s.Epoch()),
		"firstReflow": s.FirstReflow(),
	}
}

// send translates a Compositor domain command the way a CDP session does
// and applies it right away.
func (vc *vuCompositor) send(method cdproto.MethodType, params mapping) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling %s params: %w", method, err)
	}
	msg, err := cdp.Translate(&cdproto.Message{Method: method, Params: raw})
	if err != nil {
		return err //nolint:wrapcheck
	}
	if msg != nil {
		vc.c.HandleMsg(msg)
	}
	return nil
}

// tick applies queued messages, runs one frame of work and pushes the
// frame metrics. It returns the number of queued messages applied.
func (vc *vuCompositor) tick() int {
	n := vc.applyQueued()
	n += vc.c.Drain()
	cur := vc.c.Stats()
	vc.metering.pushCounters(vc.lastStats, cur)
	vc.lastStats = cur
	return n
}

func (vc *vuCompositor) applyQueued() int {
	msgs := vc.queue.take()
	for _, msg := range msgs {
		vc.c.HandleMsg(msg)
	}
	return len(msgs)
}

func (vc *vuCompositor) stats() mapping {
	s := vc.c.Stats()
	rs := vc.renderer.Stats()
	return mapping{
		"pipelines":            s.Pipelines,
		"webViews":             s.WebViews,
		"composites":           s.Composites,
		"paintMetricsSent":     s.PaintMetricsSent,
		"animationTicks":       s.AnimationTicks,
		"droppedAfterShutdown": s.DroppedAfterShutdown,
		"unknownPipeline":      s.UnknownPipeline,
		"staleDisplayLists":    s.StaleDisplayLists,
		"pendingFrames":        s.PendingFrames,
		"compositePending":     s.CompositePending,
		"pinchZoom":            s.PinchZoom,
		"memoryLevel":          s.MemoryLevel.String(),
		"shutdownState":        s.ShutdownState.String(),
		"framesPresented":      s.Pacing.FramesPresent,
		"framesDropped":        s.Pacing.FramesDropped,
		"framesSkipped":        s.Pacing.FramesSkipped,
		"fps":                  s.Pacing.FPS(),
		"scrollEvents":         s.Scroll.EventsReceived,
		"scrollBatches":        s.Scroll.BatchesEmitted,
		"zoomEvents":           s.Scroll.ZoomEvents,
		"transactions":         rs.Transactions,
		"releasedKeys":         rs.ReleasedKeys,
		"ticksDelivered":       vc.metering.animationTicks(),
		"sessions":             vc.sessionCount(),
	}
}

// connect follows the frames of the browser at wsURL. Frame changes are
// queued and applied by tick.
func (vc *vuCompositor) connect(wsURL string) error {
	s, err := cdp.Attach(vc.vu.Context(), wsURL, &vc.queue, vc.events, vc.logger)
	if err != nil {
		return fmt.Errorf("connecting to %q: %w", wsURL, err)
	}
	vc.sessionsMu.Lock()
	defer vc.sessionsMu.Unlock()
	vc.sessions = append(vc.sessions, s)
	return nil
}

func (vc *vuCompositor) sessionCount() int {
	vc.sessionsMu.Lock()
	defer vc.sessionsMu.Unlock()
	n := 0
	for _, s := range vc.sessions {
		select {
		case <-s.Done():
		default:
			n++
		}
	}
	return n
}

// shutdown closes the CDP sessions and runs the shutdown sequence,
// applying the cleanup messages that are already queued.
func (vc *vuCompositor) shutdown() {
	vc.sessionsMu.Lock()
	for _, s := range vc.sessions {
		s.Close()
	}
	vc.sessions = nil
	vc.sessionsMu.Unlock()

	vc.applyQueued()
	vc.c.BeginShutdown()
	vc.c.Drain()
	vc.c.FinishShutdown()
	vc.tick()
}

// exportArg exports the value and returns it.
// It returns nil if the value is undefined or null.
func exportArg(gv goja.Value) any {
	if !gojaValueExists(gv) {
		return nil
	}
	return gv.Export()
}

// exportObject exports a JS object as a map. Anything else becomes an
// empty map.
func exportObject(gv goja.Value) mapping {
	if m, ok := exportArg(gv).(map[string]any); ok {
		return m
	}
	return mapping{}
}
