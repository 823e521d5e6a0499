package pipeline

import (
	"time"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/wasm"
)

// Report is the aggregate outcome of a run
type Report struct {
	Err       error
	Binary    artifact.Info // final binary; zero unless State is Done
	Glue      artifact.Info // zero unless State is Done
	Entries   []wasm.Entry  // exported entry points of the bound binary
	Results   []StageResult
	BoundSize int64 // binary size before optimization
	State     State
	FailedIn  State // state the run failed from; meaningful only when State is Failed
	Optimized bool
}

// Succeeded reports whether the run reached Done
func (r *Report) Succeeded() bool {
	return r.State == StateDone
}

// Result returns the result of the given stage, if it ran.
func (r *Report) Result(stage State) (StageResult, bool) {
	for _, res := range r.Results {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}

// Saved returns the bytes removed by the optimizer.
func (r *Report) Saved() int64 {
	if !r.Optimized || r.State != StateDone {
		return 0
	}
	return r.BoundSize - r.Binary.Size
}

// Duration is the total time spent in stages.
func (r *Report) Duration() time.Duration {
	var d time.Duration
	for _, res := range r.Results {
		d += res.Duration
	}
	return d
}
