// Package k6test provides a k6 VU for tests of the JS module.
package k6test

import (
	"context"
	"testing"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/grafana/xk6-compositor/k6ext"

	k6common "go.k6.io/k6/js/common"
	k6modules "go.k6.io/k6/js/modules"
	k6lib "go.k6.io/k6/lib"
	"go.k6.io/k6/stats"
)

// VU is a k6 VU instance for tests. It starts in the init context; call
// MoveToVUContext to give it a state.
type VU struct {
	// methods the tests never reach are left to the embedded nil VU.
	k6modules.VU

	CtxField     context.Context
	RuntimeField *goja.Runtime
	StateField   *k6lib.State

	// Samples receives the samples pushed once the VU has a state.
	Samples chan stats.SampleContainer
}

// Context returns the VU context with the VU attached.
func (v *VU) Context() context.Context { return k6ext.WithVU(v.CtxField, v) }

// Runtime returns the goja runtime of the VU.
func (v *VU) Runtime() *goja.Runtime { return v.RuntimeField }

// State returns the VU state, which is nil in the init context.
func (v *VU) State() *k6lib.State { return v.StateField }

// ToGojaValue is a convenience method for converting any value to a goja
// value.
func (v *VU) ToGojaValue(i any) goja.Value { return v.RuntimeField.ToValue(i) }

// MoveToVUContext gives the VU the state it has while iterating.
func (v *VU) MoveToVUContext() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	v.StateField = &k6lib.State{
		Logger:  logger,
		Samples: v.Samples,
	}
}

// RunJS runs a script in the VU runtime.
func (v *VU) RunJS(script string) (goja.Value, error) {
	return v.RuntimeField.RunString(script) //nolint:wrapcheck
}

// NewVU returns a VU in the init context whose runtime maps field names
// the way k6 does.
func NewVU(tb testing.TB) *VU {
	tb.Helper()

	rt := goja.New()
	rt.SetFieldNameMapper(k6common.FieldNameMapper{})

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	return &VU{
		CtxField:     ctx,
		RuntimeField: rt,
		Samples:      make(chan stats.SampleContainer, 1000),
	}
}

// CollectSamples returns the samples pushed so far without blocking.
func (v *VU) CollectSamples() []stats.Sample {
	var out []stats.Sample
	for {
		select {
		case sc := <-v.Samples:
			out = append(out, sc.GetSamples()...)
		default:
			return out
		}
	}
}
