package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	wasmrelease "github.com/wippyai/wasm-release"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/pipeline"
	"github.com/wippyai/wasm-release/toolchain"
	"github.com/wippyai/wasm-release/toolexec"
	"github.com/wippyai/wasm-release/wasm"
)

const defaultConfigFile = "wasm-release.toml"

// Progress output modes.
const (
	progressAuto  = "auto"
	progressTUI   = "tui"
	progressPlain = "plain"
)

type options struct {
	configFile string
	progress   string
	verbose    bool
	noValidate bool

	// set records which flags were given, so only those override the config.
	set               map[string]bool
	target            string
	features          string
	noDefaultFeatures bool
	profile           string
	outDir            string
	name              string
	manifest          string
	noOptimize        bool
	optLevel          string
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", defaultConfigFile, "Path to TOML config file (optional)")
	flag.StringVar(&opts.target, "target", "", "Cross-compilation target")
	flag.StringVar(&opts.features, "features", "", "Crate features to enable (comma-separated)")
	flag.BoolVar(&opts.noDefaultFeatures, "no-default-features", false, "Disable the crate's default features")
	flag.StringVar(&opts.profile, "profile", "", "Cargo profile (release, debug or a custom profile)")
	flag.StringVar(&opts.outDir, "out-dir", "", "Staging directory for the artifacts")
	flag.StringVar(&opts.name, "name", "", "Output base name (defaults to the crate name)")
	flag.StringVar(&opts.manifest, "manifest", "", "Path to Cargo.toml")
	flag.BoolVar(&opts.noOptimize, "no-optimize", false, "Skip the size optimizer")
	flag.StringVar(&opts.optLevel, "opt-level", "", "Optimizer level (O, O1-O4, Os, Oz)")
	flag.StringVar(&opts.progress, "progress", progressAuto, "Progress output: auto, tui or plain")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose logging and live tool output")
	flag.BoolVar(&opts.noValidate, "no-validate", false, "Only parse artifacts instead of compiling them with wazero")
	flag.Parse()

	opts.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	if flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: wasm-release [-config wasm-release.toml] [-target t] [-features a,b] [-out-dir dir] [-name app]")
		fmt.Fprintln(os.Stderr, "       wasm-release -h  (all flags)")
		os.Exit(errors.ExitConfiguration)
	}

	os.Exit(run(opts, os.Stdout, os.Stderr))
}

func run(opts options, stdout, stderr io.Writer) int {
	params, err := config.LoadFile(opts.configFile)
	if err != nil {
		return fail(stderr, errors.Wrap(errors.PhaseConfig, errors.KindConfiguration, err, "load config"))
	}
	opts.apply(&params)

	cfg, err := config.New(params)
	if err != nil {
		return fail(stderr, err)
	}

	mode, err := progressMode(opts.progress, term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return fail(stderr, err)
	}

	logger := zap.NewNop()
	if mode == progressPlain {
		logger = newLogger(stderr, opts.verbose)
	}
	defer logger.Sync()
	pipeline.SetLogger(logger)
	toolchain.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	release, err := acquireLock(cfg.Layout())
	if err != nil {
		return fail(stderr, err)
	}
	defer release()

	runner := &toolexec.Exec{}
	if opts.verbose && mode == progressPlain {
		runner.Stdout = stderr
		runner.Stderr = stderr
	}
	stages := wasmrelease.DefaultStages(cfg, runner)

	var pipeOpts []pipeline.Option
	if !opts.noValidate {
		v := wasm.NewValidator(ctx)
		defer v.Close(context.Background())
		pipeOpts = append(pipeOpts, pipeline.WithValidator(v))
	}

	var report *pipeline.Report
	if mode == progressTUI {
		report, err = runWithProgress(ctx, cfg, stages, pipeOpts, stderr)
	} else {
		pipeOpts = append(pipeOpts, pipeline.WithObserver(plainObserver(stderr, cfg)))
		var p *pipeline.Pipeline
		p, err = pipeline.New(cfg, stages, pipeOpts...)
		if err == nil {
			report, err = p.Run(ctx)
		}
	}
	if err != nil {
		return fail(stderr, err)
	}

	printReport(stdout, cfg, report)
	return errors.ExitOK
}

// apply overrides params with the flags that were given on the command line.
func (o options) apply(p *config.Params) {
	if o.set["target"] {
		p.Build.Target = o.target
	}
	if o.set["features"] {
		p.Build.Features = splitList(o.features)
	}
	if o.set["no-default-features"] {
		p.Build.NoDefaultFeatures = o.noDefaultFeatures
	}
	if o.set["profile"] {
		p.Build.Profile = o.profile
	}
	if o.set["out-dir"] {
		p.Build.OutDir = o.outDir
	}
	if o.set["name"] {
		p.Build.Name = o.name
	}
	if o.set["manifest"] {
		p.Crate.Manifest = o.manifest
	}
	if o.set["no-optimize"] {
		enabled := !o.noOptimize
		p.Optimize.Enabled = &enabled
	}
	if o.set["opt-level"] {
		p.Optimize.Level = o.optLevel
	}
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func progressMode(mode string, tty bool) (string, error) {
	switch mode {
	case progressAuto:
		if tty {
			return progressTUI, nil
		}
		return progressPlain, nil
	case progressTUI, progressPlain:
		return mode, nil
	default:
		return "", errors.Configuration("progress", "unknown mode %q (supported: auto, tui, plain)", mode)
	}
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

// fail prints err and the failing tool's output, verbatim, and returns the
// exit status for err.
func fail(w io.Writer, err error) int {
	fmt.Fprintf(w, "Error: %v\n", err)
	if diag := errors.DiagnosticOf(err); diag != "" {
		fmt.Fprintf(w, "\n--- tool output ---\n%s", diag)
		if !strings.HasSuffix(diag, "\n") {
			fmt.Fprintln(w)
		}
	}
	return errors.ExitStatus(err)
}

func printReport(w io.Writer, cfg *config.Build, r *pipeline.Report) {
	fmt.Fprintf(w, "binary  %s  %d bytes  sha256:%s\n", r.Binary.Path, r.Binary.Size, r.Binary.Digest)
	fmt.Fprintf(w, "glue    %s  %d bytes  sha256:%s\n", r.Glue.Path, r.Glue.Size, r.Glue.Digest)
	if r.Optimized {
		fmt.Fprintf(w, "saved   %d bytes (%s -%s)\n", r.Saved(), cfg.Tools().Optimizer.Program, cfg.Optimize().Level)
	}
	names := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		names[i] = e.String()
	}
	fmt.Fprintf(w, "exports %s\n", strings.Join(names, ", "))
}

// plainObserver reports stage progress as one line per transition.
func plainObserver(w io.Writer, cfg *config.Build) pipeline.Observer {
	tools := cfg.Tools()
	toolFor := map[pipeline.State]string{
		pipeline.StateCompiling:  tools.Compiler.Program,
		pipeline.StateBinding:    tools.Binder.Program,
		pipeline.StateOptimizing: tools.Optimizer.Program,
	}
	return func(e pipeline.Event) {
		if r := e.Result; r != nil && r.OK() {
			fmt.Fprintf(w, "    %s finished in %s\n", e.From, r.Duration.Round(time.Millisecond))
		}
		switch e.To {
		case pipeline.StateCompiling, pipeline.StateBinding, pipeline.StateOptimizing:
			fmt.Fprintf(w, "==> %s (%s)\n", e.To, toolFor[e.To])
		case pipeline.StateDone:
			fmt.Fprintln(w, "==> Done")
		case pipeline.StateFailed:
			fmt.Fprintf(w, "==> Failed in %s\n", e.From)
		}
	}
}
