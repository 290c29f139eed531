// Package analysis defines the boundary to the external static-analysis
// and fix engine. The collaboration core treats the engine as an opaque,
// time-bounded call; everything about how issues are detected or fixed
// lives on the other side of this interface.
package analysis

import "context"

// Request describes one analysis pass over the shared buffer.
type Request struct {
	Code     string         `json:"code"`
	Filename string         `json:"filename"`
	DryRun   bool           `json:"dryRun"`
	Layers   []int          `json:"layers,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// Result is the engine's verdict. Transformed is only meaningful when
// Success is true and the run was not a dry run.
type Result struct {
	Success        bool   `json:"success"`
	Transformed    string `json:"transformed,omitempty"`
	DetectedIssues any    `json:"detectedIssues,omitempty"`
	AppliedFixes   any    `json:"appliedFixes,omitempty"`
}

// Engine runs an analysis pass. Implementations must honor the context
// deadline; the caller races every run against a timeout.
type Engine interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, req Request) (*Result, error)

func (f EngineFunc) Run(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
