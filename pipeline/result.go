package pipeline

import (
	"context"
	"time"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
)

// StageResult is the outcome of one stage
type StageResult struct {
	Err       error
	Artifacts []artifact.Artifact
	Stage     State
	Duration  time.Duration
}

// Succeeded builds a successful result.
func Succeeded(stage State, artifacts ...artifact.Artifact) StageResult {
	return StageResult{Stage: stage, Artifacts: artifacts}
}

// Failed builds a failed result.
func Failed(stage State, err error) StageResult {
	return StageResult{Stage: stage, Err: err}
}

// OK reports whether the stage succeeded
func (r StageResult) OK() bool {
	return r.Err == nil
}

// Diagnostic returns the failing tool's captured output, verbatim.
func (r StageResult) Diagnostic() string {
	return errors.DiagnosticOf(r.Err)
}

// ExitCode returns the failing tool's exit status, 0 if it never ran or succeeded.
func (r StageResult) ExitCode() int {
	var e *errors.Error
	if errors.As(r.Err, &e) {
		return e.ExitCode
	}
	return 0
}

// Stage interfaces. Implementations write their outputs into the layout
// derived from the configuration and must leave it untouched on failure.

// Compiler produces the raw module from source.
type Compiler interface {
	Compile(ctx context.Context, cfg *config.Build) StageResult
}

// BindingGenerator rewrites the raw module in place and writes loader glue.
type BindingGenerator interface {
	Bind(ctx context.Context, cfg *config.Build) StageResult
}

// SizeOptimizer rewrites the bound module in place for size.
type SizeOptimizer interface {
	Optimize(ctx context.Context, cfg *config.Build) StageResult
}

// Preflighter is implemented by stages that can check their tool before any
// stage runs. A preflight error aborts the run while still NotStarted.
type Preflighter interface {
	Preflight(ctx context.Context, cfg *config.Build) error
}
