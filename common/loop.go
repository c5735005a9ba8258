package common

import (
	"context"
	"time"
)

const (
	// minWait keeps the loop from spinning when a frame is overdue.
	minWait = time.Millisecond
	// idleWait is how long the loop sleeps when nothing is pending.
	idleWait = 100 * time.Millisecond
)

// HandleMsg applies one inbox message.
func (c *Compositor) HandleMsg(msg Msg) {
	switch m := msg.(type) {
	case MsgRegisterWebView:
		c.RegisterWebView(m.WebView, m.Pipeline)
	case MsgSetFrameTree:
		c.SetFrameTree(m.WebView, m.Pipeline)
	case MsgRemoveWebView:
		c.RemoveWebView(m.WebView)
	case MsgAttachPipeline:
		c.AttachPipeline(m.Pipeline, m.Parent, m.Handle)
	case MsgRetirePipeline:
		c.RetirePipeline(m.Pipeline)
	case MsgDisplayList:
		c.NoteDisplayListReceived(m.DisplayList)
	case MsgResourceAdded:
		c.ResourceAdded(m.Pipeline, m.Kind, m.Key)
	case MsgResourceDeleted:
		c.ResourceDeleted(m.Pipeline, m.Kind, m.Key)
	case MsgAnimationState:
		c.SetAnimationState(m.Pipeline, m.State)
	case MsgThrottle:
		c.SetThrottled(m.Pipeline, m.Throttled)
	case MsgScroll:
		c.AddScroll(m.Delta, m.Cursor)
	case MsgZoom:
		c.AddZoom(m.Factor)
	case MsgResize:
		c.Resize(m.Viewport)
	case MsgScrollStateAck:
		c.ScrollStateAck(m.Pipeline, m.States)
	case MsgFramePresented:
		c.NoteFramePresented(m.Epochs)
	case MsgRefreshRate:
		if err := c.SetRefreshRate(m.Millihertz); err != nil {
			c.logger.Warnf("Compositor:HandleMsg", "%v", err)
		}
	case MsgShutdown:
		c.BeginShutdown()
	default:
		c.logger.Warnf("Compositor:HandleMsg", "unhandled message %T", msg)
	}
}

// Run is the compositor's message loop. It waits for a message or until
// the pacer says the next frame is due, whichever comes first, and then
// ticks. It returns after a MsgShutdown, or with ctx's error once ctx is
// done. Either way the queued messages are drained and FinishShutdown has
// run before it returns.
func (c *Compositor) Run(ctx context.Context) error {
	timer := time.NewTimer(c.nextWake())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case msg := <-c.inbox:
			c.HandleMsg(msg)
			if _, ok := msg.(MsgShutdown); ok {
				c.shutdown()
				return nil
			}
		case <-timer.C:
		}
		c.Tick()
		timer.Reset(c.nextWake())
	}
}

func (c *Compositor) nextWake() time.Duration {
	if !c.request.pending && !c.coalescer.HasPending() && !c.IsAnimating() {
		return idleWait
	}
	wait := c.pacer.TimeUntilNextFrame()
	if wait < minWait {
		return minWait
	}
	return wait
}

// shutdown runs the whole shutdown sequence, applying cleanup messages
// that were already queued.
func (c *Compositor) shutdown() {
	c.BeginShutdown()
	for {
		select {
		case msg := <-c.inbox:
			c.HandleMsg(msg)
		default:
			c.FinishShutdown()
			return
		}
	}
}

// Drain applies every queued message without blocking and then ticks once.
// It is the alternative to Run for callers that drive the compositor from
// their own goroutine. It returns the number of messages applied.
func (c *Compositor) Drain() int {
	n := 0
	for {
		select {
		case msg := <-c.inbox:
			c.HandleMsg(msg)
			n++
		default:
			c.Tick()
			return n
		}
	}
}
