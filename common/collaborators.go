package common

import (
	"time"

	"github.com/google/uuid"

	"github.com/grafana/xk6-compositor/memory"
	"github.com/grafana/xk6-compositor/resource"
	"github.com/grafana/xk6-compositor/scroll"
)

// ScrollOffsetUpdate moves one scroll node in the renderer's scene.
type ScrollOffsetUpdate struct {
	Pipeline   PipelineID
	ExternalID ExternalScrollID
	Offset     scroll.Vector
}

// DisplayListUpdate forwards a built display list to the renderer.
type DisplayListUpdate struct {
	Pipeline PipelineID
	Epoch    Epoch
	Payload  []byte
}

// MemoryPressureUpdate asks the renderer to resize its caches.
type MemoryPressureUpdate struct {
	Level       memory.Level
	CacheFactor float64
}

// Transaction is a batch of scene updates handed to the renderer by value.
type Transaction struct {
	ID             uuid.UUID
	DisplayList    *DisplayListUpdate
	ScrollOffsets  []ScrollOffsetUpdate
	PinchZoom      float32
	Viewport       *Size
	Cleanup        *resource.Cleanup
	CleanupFor     PipelineID
	MemoryPressure *MemoryPressureUpdate
}

func newTransaction() Transaction {
	return Transaction{ID: uuid.New()}
}

// FrameRequest asks the renderer to build and present a frame.
type FrameRequest struct {
	ID     uuid.UUID
	Reason CompositingReason
	// Epochs is the newest display list of every pipeline at request time.
	Epochs map[PipelineID]Epoch
	Time   time.Time
}

// Renderer receives scene updates. Implementations must not block the
// caller on GPU work; presented frames come back as MsgFramePresented.
type Renderer interface {
	SendTransaction(Transaction)
	GenerateFrame(FrameRequest)
}

// AnimationTickType says which kind of animation a tick drives.
type AnimationTickType int

// Tick types, combinable.
const (
	TickCSSAnimations AnimationTickType = 1 << iota
	TickAnimationFrameCallbacks
)

// Constellation is the content-side coordinator that receives
// notifications. Implementations must not block.
type Constellation interface {
	PaintMetric(PaintMetricEvent)
	AnimationTick(PipelineID, AnimationTickType)
	ScrollStates(PipelineID, []ScrollState)
}

// MemoryPressureHandler is told when the memory level changes so that
// caches outside the compositor can shrink or grow.
type MemoryPressureHandler interface {
	HandleMemoryPressure(level memory.Level, cacheFactor float64)
}
