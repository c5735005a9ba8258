package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/grafana/xk6-compositor/common"
)

// Report summarizes one compositor session.
type Report struct {
	SessionID  string        `yaml:"session"`
	StartedAt  time.Time     `yaml:"started"`
	FinishedAt time.Time     `yaml:"finished"`
	Counters   Counters      `yaml:"counters"`
	Pacing     PacingSummary `yaml:"pacing"`
	Paints     []PaintRecord `yaml:"paints,omitempty"`
}

// Counters are the compositor totals at the end of the session.
type Counters struct {
	Composites           uint64 `yaml:"composites"`
	PaintMetricsSent     uint64 `yaml:"paintMetricsSent"`
	AnimationTicks       uint64 `yaml:"animationTicks"`
	DroppedAfterShutdown uint64 `yaml:"droppedAfterShutdown"`
	UnknownPipeline      uint64 `yaml:"unknownPipeline"`
	StaleDisplayLists    uint64 `yaml:"staleDisplayLists"`
	ScrollEvents         uint64 `yaml:"scrollEvents"`
	ScrollBatches        uint64 `yaml:"scrollBatches"`
	ZoomEvents           uint64 `yaml:"zoomEvents"`
}

// PacingSummary is the frame pacing at the end of the session.
type PacingSummary struct {
	RefreshRate    float64       `yaml:"refreshRate"`
	AverageFrame   time.Duration `yaml:"averageFrame"`
	FramesPresent  uint64        `yaml:"framesPresented"`
	FramesDropped  uint64        `yaml:"framesDropped"`
	FramesSkipped  uint64        `yaml:"framesSkipped"`
	DropPercentage float64       `yaml:"dropPercentage"`
}

// PaintRecord is one sent paint metric.
type PaintRecord struct {
	Pipeline    string    `yaml:"pipeline"`
	WebView     string    `yaml:"webView,omitempty"`
	Name        string    `yaml:"name"`
	Epoch       uint32    `yaml:"epoch"`
	FirstReflow bool      `yaml:"firstReflow"`
	Time        time.Time `yaml:"time"`
}

// NewReport builds a report with a fresh session id.
func NewReport(started, finished time.Time, stats common.Stats, paints []common.PaintMetricEvent) *Report {
	r := &Report{
		SessionID:  uuid.NewString(),
		StartedAt:  started,
		FinishedAt: finished,
		Counters: Counters{
			Composites:           stats.Composites,
			PaintMetricsSent:     stats.PaintMetricsSent,
			AnimationTicks:       stats.AnimationTicks,
			DroppedAfterShutdown: stats.DroppedAfterShutdown,
			UnknownPipeline:      stats.UnknownPipeline,
			StaleDisplayLists:    stats.StaleDisplayLists,
			ScrollEvents:         stats.Scroll.EventsReceived,
			ScrollBatches:        stats.Scroll.BatchesEmitted,
			ZoomEvents:           stats.Scroll.ZoomEvents,
		},
		Pacing: PacingSummary{
			RefreshRate:    stats.Pacing.RefreshRate,
			AverageFrame:   stats.Pacing.AverageFrame,
			FramesPresent:  stats.Pacing.FramesPresent,
			FramesDropped:  stats.Pacing.FramesDropped,
			FramesSkipped:  stats.Pacing.FramesSkipped,
			DropPercentage: stats.Pacing.DropPercentage(),
		},
	}
	for _, ev := range paints {
		r.Paints = append(r.Paints, PaintRecord{
			Pipeline:    string(ev.Pipeline),
			WebView:     string(ev.WebView),
			Name:        ev.Kind.String(),
			Epoch:       uint32(ev.Epoch),
			FirstReflow: ev.FirstReflow,
			Time:        ev.Time,
		})
	}
	return r
}

// WriteReport encodes r as YAML and persists it at path.
func WriteReport(ctx context.Context, p FilePersister, path string, r *Report) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return p.Persist(ctx, path, &buf) //nolint:wrapcheck
}

// ReadReport decodes a report written by WriteReport.
func ReadReport(data []byte) (*Report, error) {
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &r, nil
}
