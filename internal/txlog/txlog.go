// Package txlog provides the module's shared hclog.Logger, mirroring the
// teacher's internal/logging.HCLogger() accessor: a single root logger
// built once with sync.OnceValue and named per component from there.
package txlog

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var root = sync.OnceValue(func() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:            "txengine",
		Level:           hclog.Info,
		Output:          os.Stderr,
		IncludeLocation: false,
	})
})

// HCLogger returns the module's root logger, constructing it on first
// use.
func HCLogger() hclog.Logger {
	return root()
}

// Named returns a child of the root logger scoped to component, the way
// the engine scopes its own logger as "engine".
func Named(component string) hclog.Logger {
	return HCLogger().Named(component)
}
