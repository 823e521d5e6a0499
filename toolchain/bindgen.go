package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/pipeline"
	"github.com/wippyai/wasm-release/toolexec"
	"github.com/wippyai/wasm-release/wasm"
)

// File names wasm-bindgen derives from --out-name.
const (
	bindgenBinarySuffix = "_bg.wasm"
	bindgenGlueSuffix   = ".js"
)

// snippetsDir holds the JS files of inline_js and module imports. The glue
// imports them relative to itself, and each crate gets its own subdirectory.
const snippetsDir = "snippets"

// WasmBindgen is the binding generator stage
type WasmBindgen struct {
	Runner toolexec.Runner
}

// NewWasmBindgen creates the binding generator stage.
func NewWasmBindgen(r toolexec.Runner) *WasmBindgen {
	return &WasmBindgen{Runner: r}
}

// Preflight checks that wasm-bindgen is available.
func (b *WasmBindgen) Preflight(ctx context.Context, cfg *config.Build) error {
	return preflight(ctx, b.Runner, errors.PhaseBind, cfg.Tools().Binder)
}

// Args returns the wasm-bindgen command line writing into outDir.
func (b *WasmBindgen) Args(cfg *config.Build, outDir string) []string {
	return []string{
		"--no-typescript",
		"--target", cfg.Host(),
		"--out-dir", outDir,
		"--out-name", cfg.Name(),
		cfg.Layout().BinaryPath(),
	}
}

// Bind runs wasm-bindgen over the raw binary, then replaces it with the
// bound binary and writes the glue next to it.
func (b *WasmBindgen) Bind(ctx context.Context, cfg *config.Build) pipeline.StageResult {
	tool := cfg.Tools().Binder
	layout := cfg.Layout()
	raw := layout.Binary(artifact.RoleRaw)

	data, err := raw.Read(errors.PhaseBind)
	if err != nil {
		return pipeline.Failed(pipeline.StateBinding, err)
	}
	m, err := wasm.ParseModule(data)
	if err != nil {
		return pipeline.Failed(pipeline.StateBinding, errors.ArtifactMalformed(errors.PhaseBind, string(raw.Role), raw.Path, err))
	}
	if len(m.Entries()) == 0 {
		return pipeline.Failed(pipeline.StateBinding, errors.New(errors.PhaseBind, errors.KindStageFailure).
			Tool(tool.Program).
			Path(raw.Path).
			Detail("module exports no bindable entry points").
			Build())
	}

	scratch, err := layout.Scratch("bind")
	if err != nil {
		return pipeline.Failed(pipeline.StateBinding, errors.Wrap(errors.PhaseBind, errors.KindStageFailure, err, "prepare binding output"))
	}
	defer os.RemoveAll(scratch)

	cmd := toolexec.Command{Program: tool.Program, Args: b.Args(cfg, scratch)}
	if err := run(ctx, b.Runner, errors.PhaseBind, cmd); err != nil {
		return pipeline.Failed(pipeline.StateBinding, err)
	}

	boundOut := artifact.Artifact{Role: "binder output", Path: filepath.Join(scratch, cfg.Name()+bindgenBinarySuffix)}
	glueOut := artifact.Artifact{Role: "binder glue", Path: filepath.Join(scratch, cfg.Name()+bindgenGlueSuffix)}
	for _, out := range []artifact.Artifact{boundOut, glueOut} {
		if err := out.Require(errors.PhaseBind); err != nil {
			return pipeline.Failed(pipeline.StateBinding, err)
		}
	}

	support, err := commitSupport(scratch, layout.Dir, boundOut.Path, glueOut.Path)
	if err != nil {
		return pipeline.Failed(pipeline.StateBinding, errors.Wrap(errors.PhaseBind, errors.KindStageFailure, err, "stage glue support files"))
	}

	// Glue first: until the binary is replaced the staging directory still
	// holds a raw module, which the next run discards.
	if err := artifact.Commit(glueOut.Path, layout.GluePath()); err != nil {
		return pipeline.Failed(pipeline.StateBinding, errors.Wrap(errors.PhaseBind, errors.KindStageFailure, err, "stage glue"))
	}
	if err := artifact.Commit(boundOut.Path, layout.BinaryPath()); err != nil {
		return pipeline.Failed(pipeline.StateBinding, errors.Wrap(errors.PhaseBind, errors.KindStageFailure, err, "stage bound binary"))
	}

	bound := layout.Binary(artifact.RoleBound)
	Logger().Info("bound",
		zap.Stringer("artifact", bound),
		zap.String("glue", layout.GluePath()),
		zap.Int("entries", len(m.Entries())),
		zap.Strings("support", support))
	return pipeline.Succeeded(pipeline.StateBinding, bound, layout.Glue())
}

// commitSupport moves everything wasm-bindgen wrote besides the binary and
// the glue into dir: snippet trees per crate, and extra modules such as the
// bundler host's <name>_bg.js. It returns the committed paths, relative to dir.
func commitSupport(scratch, dir string, skip ...string) ([]string, error) {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return nil, err
	}
	var committed []string
	for _, e := range entries {
		src := filepath.Join(scratch, e.Name())
		if slices.Contains(skip, src) {
			continue
		}
		if e.Name() != snippetsDir || !e.IsDir() {
			if err := artifact.CommitTree(src, filepath.Join(dir, e.Name())); err != nil {
				return nil, err
			}
			committed = append(committed, e.Name())
			continue
		}
		crates, err := os.ReadDir(src)
		if err != nil {
			return nil, err
		}
		for _, c := range crates {
			rel := filepath.Join(snippetsDir, c.Name())
			if err := artifact.CommitTree(filepath.Join(src, c.Name()), filepath.Join(dir, rel)); err != nil {
				return nil, err
			}
			committed = append(committed, rel)
		}
	}
	return committed, nil
}
