package k6ext

import (
	"context"
	"time"

	"go.k6.io/k6/stats"
)

// CustomMetrics are the custom k6 metrics used by xk6-compositor.
type CustomMetrics struct {
	FirstPaint           *stats.Metric
	FirstContentfulPaint *stats.Metric
	Frames               *stats.Metric
	FramesDropped        *stats.Metric
	ScrollBatches        *stats.Metric
}

// NewCustomMetrics creates our custom metrics. They are meant to be
// created once per test run and shared by every VU.
func NewCustomMetrics() *CustomMetrics {
	return &CustomMetrics{
		FirstPaint:           stats.New("compositor_first_paint", stats.Trend, stats.Time),
		FirstContentfulPaint: stats.New("compositor_first_contentful_paint", stats.Trend, stats.Time),
		Frames:               stats.New("compositor_frames", stats.Counter),
		FramesDropped:        stats.New("compositor_frames_dropped", stats.Counter),
		ScrollBatches:        stats.New("compositor_scroll_batches", stats.Counter),
	}
}

// PushIfNotDone is a helper function to push a sample to a channel if the
// context is not done. It returns true if the sample was pushed, false if the
// context was done.
func PushIfNotDone(ctx context.Context, output chan<- stats.SampleContainer, sample stats.SampleContainer) bool {
	select {
	case <-ctx.Done():
		return false
	case output <- sample:
		return true
	}
}

// NewSample builds a sample of metric with a copy of tags.
func NewSample(metric *stats.Metric, t time.Time, value float64, tags map[string]string) stats.Sample {
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	return stats.Sample{
		Metric: metric,
		Tags:   stats.IntoSampleTags(&cp),
		Time:   t,
		Value:  value,
	}
}

// PushSample pushes a sample to the samples channel of the VU attached to
// ctx. It is a no-op when there is no VU state, as in the init context.
func PushSample(ctx context.Context, sample stats.Sample) bool {
	state := State(ctx)
	if state == nil || state.Samples == nil {
		return false
	}
	return PushIfNotDone(ctx, state.Samples, sample)
}
