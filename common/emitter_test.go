package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/grafana/xk6-compositor/memory"
)

func TestEventConstellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ec := NewEventConstellation(ctx)
	metrics := make(chan Event, 1)
	all := make(chan Event, 8)
	ec.On(ctx, []string{EventPaintMetric}, metrics)
	ec.OnAll(ctx, all)

	ec.PaintMetric(PaintMetricEvent{Pipeline: "P", Kind: FirstPaint, Epoch: 2})
	ec.AnimationTick("P", TickCSSAnimations|TickAnimationFrameCallbacks)
	ec.ScrollStates("P", []ScrollState{{ExternalID: 1}})
	ec.HandleMemoryPressure(memory.Warning, 0.5)

	select {
	case ev := <-metrics:
		assert.Equal(t, EventPaintMetric, ev.Type)
		assert.Equal(t, Epoch(2), ev.Data.(PaintMetricEvent).Epoch) //nolint:forcetypeassert
	case <-ctx.Done():
		t.Fatal("no paint metric event")
	}

	var types []string
	for len(types) < 4 {
		select {
		case ev := <-all:
			types = append(types, ev.Type)
		case <-ctx.Done():
			t.Fatalf("got only %v", types)
		}
	}
	assert.Equal(t, []string{EventPaintMetric, EventAnimationTick, EventScrollStates, EventMemoryPressure}, types)
}

func TestEventEmitterDropsDoneHandlers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	emitter := NewBaseEventEmitter(ctx)
	hctx, hcancel := context.WithCancel(ctx)
	ch := make(chan Event)
	emitter.On(hctx, []string{"a"}, ch)
	hcancel()

	emitter.Emit("a", nil)
	var left int
	emitter.sync(func() { left = len(emitter.handlers["a"]) })
	assert.Zero(t, left)
}
