// Package compositor registers the k6/x/compositor extension.
package compositor

import (
	"github.com/grafana/xk6-compositor/compositor"

	k6modules "go.k6.io/k6/js/modules"
)

func init() {
	k6modules.Register("k6/x/compositor", compositor.New())
}
