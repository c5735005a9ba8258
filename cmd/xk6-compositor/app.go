package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/grafana/xk6-compositor/common"
	"github.com/grafana/xk6-compositor/compositor"
	"github.com/grafana/xk6-compositor/config"
	"github.com/grafana/xk6-compositor/gpu"
	"github.com/grafana/xk6-compositor/log"
	"github.com/grafana/xk6-compositor/otel"
	"github.com/grafana/xk6-compositor/storage"
	"github.com/grafana/xk6-compositor/trace"
)

const shutdownTimeout = 10 * time.Second

// paintRecorder keeps the sent paint metrics for the session report.
type paintRecorder struct {
	*common.EventConstellation

	mu     sync.Mutex
	paints []common.PaintMetricEvent
}

func (r *paintRecorder) PaintMetric(ev common.PaintMetricEvent) {
	r.mu.Lock()
	r.paints = append(r.paints, ev)
	r.mu.Unlock()

	r.EventConstellation.PaintMetric(ev)
}

func (r *paintRecorder) recorded() []common.PaintMetricEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]common.PaintMetricEvent, len(r.paints))
	copy(out, r.paints)
	return out
}

// app is a compositor with everything it reports to.
type app struct {
	cfg    *config.Options
	logger *log.Logger
	tp     otel.TraceProvider
	c      *common.Compositor
	events *paintRecorder

	// cancel ends the event emitter and the renderer. They outlive the
	// run so notifications sent while shutting down still go out.
	cancel context.CancelFunc

	started  time.Time
	finished time.Time
}

func newApp(ctx context.Context, cfg *config.Options, logw io.Writer, tracingAttrs map[string]string) (*app, error) {
	logger, err := newLogger(cfg.Log, logw)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.CompositorOptions()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if err := initGPU(cfg, logger); err != nil {
		return nil, err
	}

	tp, err := otel.New(ctx, cfg.Tracing, compositor.Version)
	if err != nil {
		return nil, fmt.Errorf("starting tracing: %w", err)
	}

	evCtx, cancel := context.WithCancel(context.Background())
	events := &paintRecorder{EventConstellation: common.NewEventConstellation(evCtx)}
	renderer := common.NewHeadlessRenderer(evCtx, logger)

	options := []common.Option{
		common.WithConstellation(events),
		common.WithMemoryPressureHandler(events),
	}
	if cfg.Tracing.Enabled {
		options = append(options, common.WithTracer(trace.NewTracer(logger.Logger, tp, tracingAttrs)))
	}
	c, err := common.NewCompositor(evCtx, opts, renderer, logger, options...)
	if err != nil {
		cancel()
		_ = tp.Shutdown(ctx)
		return nil, err //nolint:wrapcheck
	}
	renderer.Attach(c.Inbox())

	return &app{
		cfg:    cfg,
		logger: logger,
		tp:     tp,
		c:      c,
		events: events,
		cancel: cancel,
	}, nil
}

// run drives the compositor until ctx is done. A cancelled ctx is the
// normal way to stop and is not an error.
func (a *app) run(ctx context.Context) error {
	a.started = time.Now()
	err := a.c.Run(ctx)
	a.finished = time.Now()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err //nolint:wrapcheck
}

// close writes the session report when one is configured and stops
// tracing. It must be called after run returned.
func (a *app) close() error {
	defer a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var reportErr error
	if path := a.cfg.Server.Report; path != "" {
		r := storage.NewReport(a.started, a.finished, a.c.Stats(), a.events.recorded())
		reportErr = storage.WriteReport(ctx, &storage.LocalFilePersister{}, path, r)
		if reportErr == nil {
			a.logger.Infof("app:close", "wrote session report to %q", path)
		}
	}
	if err := a.tp.Shutdown(ctx); err != nil {
		a.logger.Warnf("app:close", "shutting down tracing: %v", err)
	}
	return reportErr //nolint:wrapcheck
}

func initGPU(cfg *config.Options, logger *log.Logger) error {
	if _, err := cfg.Media.Init(nil, logger); err != nil {
		return err //nolint:wrapcheck
	}
	gpu.InitWebGL(cfg.WebGL, nil, nil, logger)

	switch cfg.Shaders.Strategy {
	case gpu.ShaderPrecacheNone:
		return nil
	case gpu.ShaderPrecacheAsync:
		go loadShaders(cfg.Shaders.ShaderDir, logger)
		return nil
	default:
		loadShaders(cfg.Shaders.ShaderDir, logger)
		return nil
	}
}

var shaderExts = map[string]bool{".glsl": true, ".vert": true, ".frag": true, ".wgsl": true, ".spv": true} //nolint:gochecknoglobals

// loadShaders reads every shader source in dir so the first composite
// does not wait on the disk. Empty or unreadable sources count as failed.
func loadShaders(dir string, logger *log.Logger) *gpu.CompilationProgress {
	if dir == "" {
		return gpu.NewCompilationProgress(0, logger)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warnf("ShaderPrecache:load", "reading shader dir %q: %v", dir, err)
		return gpu.NewCompilationProgress(0, logger)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && shaderExts[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	progress := gpu.NewCompilationProgress(uint32(len(paths)), logger)
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil || len(src) == 0 {
			progress.OnFailed()
			continue
		}
		progress.OnCompiled()
	}
	return progress
}
