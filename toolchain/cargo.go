package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/pipeline"
	"github.com/wippyai/wasm-release/toolexec"
)

// Cargo is the compiler stage
type Cargo struct {
	Runner toolexec.Runner
}

// NewCargo creates the compiler stage.
func NewCargo(r toolexec.Runner) *Cargo {
	return &Cargo{Runner: r}
}

// Preflight checks that cargo is available.
func (c *Cargo) Preflight(ctx context.Context, cfg *config.Build) error {
	return preflight(ctx, c.Runner, errors.PhaseCompile, cfg.Tools().Compiler)
}

// Args returns the cargo command line for cfg.
func (c *Cargo) Args(cfg *config.Build) []string {
	args := []string{"build", "--target", cfg.Target()}
	args = append(args, cfg.Profile().CargoArgs()...)
	if features := cfg.Features(); len(features) > 0 {
		args = append(args, "--features", strings.Join(features, ","))
	}
	if cfg.NoDefaultFeatures() {
		args = append(args, "--no-default-features")
	}
	crate := cfg.Crate()
	if crate.ManifestPath != "" {
		args = append(args, "--manifest-path", crate.ManifestPath)
	}
	if crate.TargetDir != "" {
		args = append(args, "--target-dir", crate.TargetDir)
	}
	return args
}

// OutputPath is where cargo leaves the compiled module for cfg.
func (c *Cargo) OutputPath(cfg *config.Build) string {
	crate := cfg.Crate()
	targetDir := crate.TargetDir
	if targetDir == "" {
		targetDir = "target"
	}
	stem := crate.ArtifactName
	if stem == "" {
		stem = cfg.Name()
	}
	return filepath.Join(targetDir, cfg.Target(), cfg.Profile().OutputDir(), stem+".wasm")
}

// Compile runs cargo and stages its output as the raw binary.
func (c *Cargo) Compile(ctx context.Context, cfg *config.Build) pipeline.StageResult {
	tool := cfg.Tools().Compiler
	cmd := toolexec.Command{
		Program: tool.Program,
		Args:    c.Args(cfg),
		Dir:     cfg.Crate().Dir,
	}
	if err := run(ctx, c.Runner, errors.PhaseCompile, cmd); err != nil {
		return pipeline.Failed(pipeline.StateCompiling, err)
	}

	layout := cfg.Layout()
	src := c.OutputPath(cfg)
	out := artifact.Artifact{Role: "compiler output", Path: src}
	if err := out.Require(errors.PhaseCompile); err != nil {
		return pipeline.Failed(pipeline.StateCompiling, err)
	}

	scratch, err := layout.Scratch("compile")
	if err != nil {
		return pipeline.Failed(pipeline.StateCompiling, errors.Wrap(errors.PhaseCompile, errors.KindStageFailure, err, "stage compiler output"))
	}
	defer os.RemoveAll(scratch)

	staged, err := artifact.CopyInto(src, scratch, filepath.Base(layout.BinaryPath()))
	if err != nil {
		return pipeline.Failed(pipeline.StateCompiling, errors.Wrap(errors.PhaseCompile, errors.KindStageFailure, err, "stage compiler output"))
	}
	if err := artifact.Commit(staged, layout.BinaryPath()); err != nil {
		return pipeline.Failed(pipeline.StateCompiling, errors.Wrap(errors.PhaseCompile, errors.KindStageFailure, err, "stage compiler output"))
	}

	raw := layout.Binary(artifact.RoleRaw)
	Logger().Info("compiled", zap.String("from", src), zap.Stringer("artifact", raw))
	return pipeline.Succeeded(pipeline.StateCompiling, raw)
}
