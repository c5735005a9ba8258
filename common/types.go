package common

import (
	"fmt"

	"github.com/grafana/xk6-compositor/scroll"
)

// PipelineID identifies one content pipeline: a document in a frame.
type PipelineID string

// WebViewID identifies a top-level browsing surface.
type WebViewID string

// Epoch numbers the display lists of a pipeline. It only grows.
type Epoch uint32

// DevicePoint is a position in device pixels.
type DevicePoint struct {
	X, Y float32
}

func (p DevicePoint) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// Sub translates p by -v.
func (p DevicePoint) Sub(v scroll.Vector) DevicePoint {
	return DevicePoint{X: p.X - v.X, Y: p.Y - v.Y}
}

// Size is a width and height in device pixels.
type Size struct {
	Width, Height float32
}

// Rect is an axis aligned rectangle.
type Rect struct {
	Origin DevicePoint
	Size   Size
}

// Contains reports whether p lies inside r. The right and bottom edges are
// exclusive.
func (r Rect) Contains(p DevicePoint) bool {
	return p.X >= r.Origin.X && p.X < r.Origin.X+r.Size.Width &&
		p.Y >= r.Origin.Y && p.Y < r.Origin.Y+r.Size.Height
}

// PipelineHandle is the live connection to a content pipeline.
type PipelineHandle struct {
	ID      PipelineID
	WebView WebViewID
	// URL is informational and only used in logs and traces.
	URL string
}
