package toolchain

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/pipeline"
	"github.com/wippyai/wasm-release/toolexec"
)

// WasmOpt is the size optimizer stage
type WasmOpt struct {
	Runner toolexec.Runner
}

// NewWasmOpt creates the size optimizer stage.
func NewWasmOpt(r toolexec.Runner) *WasmOpt {
	return &WasmOpt{Runner: r}
}

// Preflight checks that wasm-opt is available.
func (o *WasmOpt) Preflight(ctx context.Context, cfg *config.Build) error {
	return preflight(ctx, o.Runner, errors.PhaseOptimize, cfg.Tools().Optimizer)
}

// Args returns the wasm-opt command line writing to output.
func (o *WasmOpt) Args(cfg *config.Build, output string) []string {
	opt := cfg.Optimize()
	args := []string{"-" + opt.Level}
	for _, f := range opt.Features {
		args = append(args, "--enable-"+f)
	}
	if opt.StripDebug {
		args = append(args, "--strip-debug")
	}
	return append(args, "-o", output, cfg.Layout().BinaryPath())
}

// Optimize rewrites the bound binary in place. The glue is never read.
func (o *WasmOpt) Optimize(ctx context.Context, cfg *config.Build) pipeline.StageResult {
	tool := cfg.Tools().Optimizer
	layout := cfg.Layout()
	bound := layout.Binary(artifact.RoleBound)
	if err := bound.Require(errors.PhaseOptimize); err != nil {
		return pipeline.Failed(pipeline.StateOptimizing, err)
	}
	before, err := os.Stat(bound.Path)
	if err != nil {
		return pipeline.Failed(pipeline.StateOptimizing, errors.ArtifactMalformed(errors.PhaseOptimize, string(bound.Role), bound.Path, err))
	}

	scratch, err := layout.Scratch("optimize")
	if err != nil {
		return pipeline.Failed(pipeline.StateOptimizing, errors.Wrap(errors.PhaseOptimize, errors.KindStageFailure, err, "prepare optimizer output"))
	}
	defer os.RemoveAll(scratch)

	out := artifact.Artifact{Role: "optimizer output", Path: filepath.Join(scratch, filepath.Base(layout.BinaryPath()))}
	cmd := toolexec.Command{Program: tool.Program, Args: o.Args(cfg, out.Path)}
	if err := run(ctx, o.Runner, errors.PhaseOptimize, cmd); err != nil {
		return pipeline.Failed(pipeline.StateOptimizing, err)
	}
	if err := out.Require(errors.PhaseOptimize); err != nil {
		return pipeline.Failed(pipeline.StateOptimizing, err)
	}
	if err := artifact.Commit(out.Path, layout.BinaryPath()); err != nil {
		return pipeline.Failed(pipeline.StateOptimizing, errors.Wrap(errors.PhaseOptimize, errors.KindStageFailure, err, "stage optimized binary"))
	}

	optimized := layout.Binary(artifact.RoleOptimized)
	after, err := os.Stat(optimized.Path)
	if err == nil {
		Logger().Info("optimized",
			zap.Stringer("artifact", optimized),
			zap.Int64("before", before.Size()),
			zap.Int64("after", after.Size()))
	}
	return pipeline.Succeeded(pipeline.StateOptimizing, optimized)
}
