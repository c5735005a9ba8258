package common

import "fmt"

// CompositingReason says why a composite was requested.
type CompositingReason int

// Compositing reasons.
const (
	ReasonHeadless CompositingReason = iota
	ReasonAnimation
	ReasonNewWebRenderFrame
	ReasonResize
)

func (r CompositingReason) String() string {
	switch r {
	case ReasonHeadless:
		return "headless"
	case ReasonAnimation:
		return "animation"
	case ReasonNewWebRenderFrame:
		return "new-webrender-frame"
	case ReasonResize:
		return "resize"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// compositionRequest is either nothing or a composite with the latest reason.
type compositionRequest struct {
	pending bool
	reason  CompositingReason
}

// ShutdownState is the lifecycle of the compositor.
type ShutdownState int64

// Shutdown states, in order.
const (
	NotShuttingDown ShutdownState = iota
	ShuttingDown
	FinishedShuttingDown
)

func (s ShutdownState) String() string {
	switch s {
	case NotShuttingDown:
		return "running"
	case ShuttingDown:
		return "shutting-down"
	case FinishedShuttingDown:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int64(s))
}
