package toolchain

import (
	"context"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/toolexec"
)

// versionRe finds the first dotted version number in --version output:
// "cargo 1.83.0 (5ffbef321 2024-10-29)", "wasm-bindgen 0.2.95",
// "wasm-opt version 119 (version_119)".
var versionRe = regexp.MustCompile(`\d+(?:\.\d+){0,2}`)

// ParseVersion extracts the tool version from its --version output.
func ParseVersion(out string) (*semver.Version, error) {
	m := versionRe.FindString(out)
	if m == "" {
		return nil, errors.New(errors.PhaseConfig, errors.KindToolInvocation).
			Detail("no version in %q", strings.TrimSpace(out)).
			Build()
	}
	return semver.NewVersion(m)
}

// preflight resolves the tool and checks its version constraint.
func preflight(ctx context.Context, r toolexec.Runner, phase errors.Phase, tool config.Tool) error {
	path, err := r.LookPath(tool.Program)
	if err != nil {
		return errors.ToolNotFound(phase, tool.Program, err)
	}
	log := Logger().With(zap.String("tool", tool.Program), zap.String("path", path))
	if tool.Constraint == nil {
		log.Debug("tool resolved")
		return nil
	}

	res, err := r.Run(ctx, toolexec.Command{Program: path, Args: []string{"--version"}})
	if err != nil {
		return errors.ToolNotFound(phase, tool.Program, err)
	}
	if res.ExitCode != 0 {
		return errors.New(phase, errors.KindToolInvocation).
			Tool(tool.Program).
			ExitCode(res.ExitCode).
			Diagnostic(res.Diagnostic()).
			Detail("--version failed").
			Build()
	}
	v, err := ParseVersion(res.Stdout + res.Stderr)
	if err != nil {
		return errors.New(phase, errors.KindToolInvocation).
			Tool(tool.Program).
			Detail("cannot determine version").
			Cause(err).
			Build()
	}
	if !tool.Constraint.Check(v) {
		return errors.New(phase, errors.KindToolInvocation).
			Tool(tool.Program).
			Detail("version %s does not satisfy %s", v, tool.Version).
			Build()
	}
	log.Debug("tool resolved", zap.Stringer("version", v))
	return nil
}

// run executes cmd and maps its outcome to the stage error taxonomy: a tool
// that cannot start is a tool invocation error, a non-zero exit or a
// cancelled run is a stage failure carrying the captured output.
func run(ctx context.Context, r toolexec.Runner, phase errors.Phase, cmd toolexec.Command) error {
	Logger().Info("running tool", zap.Stringer("command", cmd), zap.String("dir", cmd.Dir))

	res, err := r.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			b := errors.New(phase, errors.KindStageFailure).
				Tool(cmd.Program).
				Detail("interrupted").
				Cause(err)
			if res != nil {
				b = b.Diagnostic(res.Diagnostic())
			}
			return b.Build()
		}
		return errors.ToolNotFound(phase, cmd.Program, err)
	}
	if res.ExitCode != 0 {
		return errors.StageFailed(phase, cmd.Program, res.ExitCode, res.Diagnostic())
	}
	return nil
}
