// Package compositor provides the k6/x/compositor JS module.
package compositor

import (
	"context"
	"errors"
	"os"

	"github.com/dop251/goja"

	"github.com/grafana/xk6-compositor/k6ext"

	k6common "go.k6.io/k6/js/common"
	k6modules "go.k6.io/k6/js/modules"
)

// Version of the compositor module.
const Version = "0.1.0"

type (
	// RootModule is the global module instance that will create module
	// instances for each VU.
	RootModule struct {
		metrics *k6ext.CustomMetrics
	}

	// JSModule exposes the properties available to the JS script.
	JSModule struct {
		NewCompositor func(goja.Value) *goja.Object `js:"newCompositor"`
		Version       string                        `js:"version"`
	}

	// ModuleInstance represents an instance of the JS module.
	ModuleInstance struct {
		mod *JSModule
	}
)

// moduleVU carries module specific VU information.
type moduleVU struct {
	k6modules.VU

	metrics *k6ext.CustomMetrics
}

func (vu moduleVU) Context() context.Context {
	// samples pushed from inside the compositor need the VU to reach the
	// k6 state.
	return k6ext.WithVU(vu.VU.Context(), vu.VU)
}

var (
	_ k6modules.Module   = &RootModule{}
	_ k6modules.Instance = &ModuleInstance{}
)

// New returns a pointer to a new RootModule instance.
func New() *RootModule {
	return &RootModule{
		metrics: k6ext.NewCustomMetrics(),
	}
}

// NewModuleInstance implements the k6modules.Module interface to return
// a new instance for each VU.
func (m *RootModule) NewModuleInstance(vu k6modules.VU) k6modules.Instance {
	if _, ok := os.LookupEnv("K6_COMPOSITOR_DISABLE_RUN"); ok {
		msg := "Disable run flag enabled, compositor test run aborted."
		if m, ok := os.LookupEnv("K6_COMPOSITOR_DISABLE_RUN_MSG"); ok {
			msg = m
		}

		k6common.Throw(vu.Runtime(), errors.New(msg))
	}

	mvu := moduleVU{VU: vu, metrics: m.metrics}

	return &ModuleInstance{
		mod: &JSModule{
			NewCompositor: func(opts goja.Value) *goja.Object {
				obj, err := newCompositor(mvu, opts)
				if err != nil {
					k6common.Throw(vu.Runtime(), err)
				}
				return obj
			},
			Version: Version,
		},
	}
}

// Exports returns the exports of the JS module so that it can be used in test
// scripts.
func (mi *ModuleInstance) Exports() k6modules.Exports {
	return k6modules.Exports{Default: mi.mod}
}
