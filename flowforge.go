// Package flowforge provides a top-level convenience entry point around
// the process-wide operation registry.
//
// Usage:
//
//	import "github.com/flowforge/flowforge"
//
//	flowforge.MustRegister(desc, fn)
//	ws, err := flowforge.CreateWorkspace("/data/project")
//
// This is a thin wrapper over [op.Registry] and [workspace.Create]; code
// that needs several registries or custom wiring should use those
// packages directly.
package flowforge

import (
	"sync"

	"github.com/flowforge/flowforge/op"
	"github.com/flowforge/flowforge/workspace"
)

var (
	defaultOnce sync.Once
	defaultReg  *op.Registry
)

// Default returns the process-wide operation registry.
func Default() *op.Registry {
	defaultOnce.Do(func() {
		defaultReg = op.NewRegistry(nil)
	})
	return defaultReg
}

// Register adds an operation to the default registry.
func Register(desc *op.Descriptor, fn op.Func) error {
	return Default().Register(desc, fn, false)
}

// MustRegister is Register for statically known-good operations.
func MustRegister(desc *op.Descriptor, fn op.Func) {
	Default().MustRegister(desc, fn)
}

// CreateWorkspace initializes a workspace in dir backed by the default
// registry.
func CreateWorkspace(dir string) (*workspace.Workspace, error) {
	return workspace.Create(dir, workspace.Options{Registry: Default()})
}

// OpenWorkspace opens the workspace persisted in dir backed by the
// default registry.
func OpenWorkspace(dir string) (*workspace.Workspace, error) {
	return workspace.Open(dir, workspace.Options{Registry: Default()})
}
