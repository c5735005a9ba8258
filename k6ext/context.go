// Package k6ext holds the glue between the compositor and k6 internals.
package k6ext

import (
	"context"

	"github.com/dop251/goja"

	k6modules "go.k6.io/k6/js/modules"
	k6lib "go.k6.io/k6/lib"
)

type ctxKey int

const (
	ctxKeyVU ctxKey = iota
)

// WithVU returns a new context based on ctx with the k6 VU instance attached.
func WithVU(ctx context.Context, vu k6modules.VU) context.Context {
	return context.WithValue(ctx, ctxKeyVU, vu)
}

// GetVU returns the attached k6 VU instance from ctx, which can be used to
// retrieve the goja runtime and other k6 objects relevant to the currently
// executing VU.
func GetVU(ctx context.Context) k6modules.VU {
	v := ctx.Value(ctxKeyVU)
	if vu, ok := v.(k6modules.VU); ok {
		return vu
	}
	return nil
}

// Runtime is a convenience function for getting a k6 VU runtime.
func Runtime(ctx context.Context) *goja.Runtime {
	if vu := GetVU(ctx); vu != nil {
		return vu.Runtime()
	}
	return nil
}

// State returns the VU state, which is nil in the init context.
func State(ctx context.Context) *k6lib.State {
	if vu := GetVU(ctx); vu != nil {
		return vu.State()
	}
	return nil
}
