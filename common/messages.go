package common

import (
	"github.com/grafana/xk6-compositor/resource"
	"github.com/grafana/xk6-compositor/scroll"
)

// Msg is anything the compositor inbox accepts.
type Msg interface {
	msgName() string
}

// MsgRegisterWebView registers a webview with its root pipeline.
type MsgRegisterWebView struct {
	WebView  WebViewID
	Pipeline PipelineID
}

// MsgSetFrameTree points a webview at a new root pipeline.
type MsgSetFrameTree struct {
	WebView  WebViewID
	Pipeline PipelineID
}

// MsgRemoveWebView removes a webview and retires its pipelines.
type MsgRemoveWebView struct {
	WebView WebViewID
}

// MsgAttachPipeline creates or updates a pipeline.
type MsgAttachPipeline struct {
	Pipeline PipelineID
	Parent   *PipelineID
	Handle   *PipelineHandle
}

// MsgRetirePipeline removes a pipeline and releases its resources.
type MsgRetirePipeline struct {
	Pipeline PipelineID
}

// DisplayList is a new scene for a pipeline.
type DisplayList struct {
	Pipeline    PipelineID
	Epoch       Epoch
	FirstReflow bool
	// Contentful is set when the list paints text, images or canvas.
	Contentful   bool
	HitTestItems []HitTestItem
	ScrollTree   *ScrollTree
	Payload      []byte
}

// MsgDisplayList carries a new display list.
type MsgDisplayList struct {
	DisplayList
}

// MsgResourceAdded records a resource allocation.
type MsgResourceAdded struct {
	Pipeline PipelineID
	Kind     resource.Kind
	Key      uint64
}

// MsgResourceDeleted records an explicit resource deletion.
type MsgResourceDeleted struct {
	Pipeline PipelineID
	Kind     resource.Kind
	Key      uint64
}

// MsgAnimationState reports an animation change.
type MsgAnimationState struct {
	Pipeline PipelineID
	State    AnimationState
}

// MsgThrottle backgrounds or foregrounds a pipeline.
type MsgThrottle struct {
	Pipeline  PipelineID
	Throttled bool
}

// MsgScroll is one wheel or touch scroll event.
type MsgScroll struct {
	Delta  scroll.Vector
	Cursor scroll.Point
}

// MsgZoom is one pinch zoom event.
type MsgZoom struct {
	Factor float32
}

// MsgResize changes the viewport.
type MsgResize struct {
	Viewport Size
}

// MsgScrollStateAck applies scroll offsets content settled on.
type MsgScrollStateAck struct {
	Pipeline PipelineID
	States   []ScrollState
}

// MsgFramePresented is sent by the renderer after presenting a frame.
type MsgFramePresented struct {
	Epochs map[PipelineID]Epoch
}

// MsgRefreshRate reports the display refresh rate in millihertz.
type MsgRefreshRate struct {
	Millihertz uint32
}

// MsgShutdown starts an orderly shutdown.
type MsgShutdown struct{}

func (MsgRegisterWebView) msgName() string { return "registerWebView" }
func (MsgSetFrameTree) msgName() string    { return "setFrameTree" }
func (MsgRemoveWebView) msgName() string   { return "removeWebView" }
func (MsgAttachPipeline) msgName() string  { return "attachPipeline" }
func (MsgRetirePipeline) msgName() string  { return "retirePipeline" }
func (MsgDisplayList) msgName() string     { return "displayList" }
func (MsgResourceAdded) msgName() string   { return "resourceAdded" }
func (MsgResourceDeleted) msgName() string { return "resourceDeleted" }
func (MsgAnimationState) msgName() string  { return "animationState" }
func (MsgThrottle) msgName() string        { return "throttle" }
func (MsgScroll) msgName() string          { return "scroll" }
func (MsgZoom) msgName() string            { return "zoom" }
func (MsgResize) msgName() string          { return "resize" }
func (MsgScrollStateAck) msgName() string  { return "scrollStateAck" }
func (MsgFramePresented) msgName() string  { return "framePresented" }
func (MsgRefreshRate) msgName() string     { return "refreshRate" }
func (MsgShutdown) msgName() string        { return "shutdown" }

// MsgName returns a short name for logs and traces.
func MsgName(m Msg) string { return m.msgName() }
