package common

import (
	"fmt"
	"time"
)

// PaintMetricPhase is the state of one paint metric of one pipeline.
type PaintMetricPhase int

// Paint metric phases. Sent is terminal until the pipeline is re-attached.
const (
	PaintMetricWaiting PaintMetricPhase = iota
	PaintMetricSeen
	PaintMetricSent
)

func (p PaintMetricPhase) String() string {
	switch p {
	case PaintMetricWaiting:
		return "waiting"
	case PaintMetricSeen:
		return "seen"
	case PaintMetricSent:
		return "sent"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// PaintMetricKind names the metric.
type PaintMetricKind int

// Paint metrics.
const (
	FirstPaint PaintMetricKind = iota
	FirstContentfulPaint
)

func (k PaintMetricKind) String() string {
	if k == FirstContentfulPaint {
		return "first-contentful-paint"
	}
	return "first-paint"
}

// PaintMetricState tracks one metric from the display list that could
// trigger it to the presented frame that proves it reached the screen.
type PaintMetricState struct {
	phase       PaintMetricPhase
	epoch       Epoch
	firstReflow bool
}

// Phase returns the current phase.
func (s PaintMetricState) Phase() PaintMetricPhase { return s.phase }

// Epoch returns the epoch recorded when the metric was seen.
func (s PaintMetricState) Epoch() Epoch { return s.epoch }

// FirstReflow reports whether the triggering display list came from the
// first reflow.
func (s PaintMetricState) FirstReflow() bool { return s.firstReflow }

// see moves Waiting to Seen. It returns false in any other phase, so the
// first triggering epoch is kept.
func (s *PaintMetricState) see(epoch Epoch, firstReflow bool) bool {
	if s.phase != PaintMetricWaiting {
		return false
	}
	s.phase, s.epoch, s.firstReflow = PaintMetricSeen, epoch, firstReflow
	return true
}

// present moves Seen to Sent once a frame at or after the seen epoch has
// been presented.
func (s *PaintMetricState) present(presented Epoch) bool {
	if s.phase != PaintMetricSeen || presented < s.epoch {
		return false
	}
	s.phase = PaintMetricSent
	return true
}

// PaintMetricEvent is delivered to the constellation when a metric is sent.
type PaintMetricEvent struct {
	Pipeline    PipelineID
	WebView     WebViewID
	Kind        PaintMetricKind
	Epoch       Epoch
	FirstReflow bool
	Time        time.Time
}
