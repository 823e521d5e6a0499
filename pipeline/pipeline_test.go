package pipeline_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/glue"
	"github.com/wippyai/wasm-release/internal/wasmtest"
	"github.com/wippyai/wasm-release/pipeline"
	"github.com/wippyai/wasm-release/wasm"
)

var (
	i32 = wasm.ValI32

	logImport = wasmtest.Func{Module: "wbg", Name: "__wbg_log", Params: []wasm.ValType{i32, i32}}
	entries   = []wasmtest.Func{
		wasmtest.Fn("main", nil),
		wasmtest.Fn("add", []wasm.ValType{i32, i32}, i32),
	}

	rawModule = wasmtest.Module{Exports: entries, Unexported: 4}.Encode()
	boundModule = wasmtest.Module{
		Imports:      []wasmtest.Func{logImport},
		Exports:      entries,
		Unexported:   4,
		ExportMemory: true,
	}.Encode()
	optimizedModule = wasmtest.Module{
		Imports:      []wasmtest.Func{logImport},
		Exports:      entries,
		ExportMemory: true,
	}.Encode()
)

const loaderGlue = `let wasm;
const imports = {};
imports.wbg = {};
imports.wbg.__wbg_log = function(arg0, arg1) { console.log(arg0, arg1); };
export function add(a, b) { return wasm.add(a, b); }
export function main() { wasm.main(); }
export default async function init(input) { return input; }
`

// fakeStages writes canned artifacts the way real tools would.
type fakeStages struct {
	raw, bound, optimized []byte
	glue                  string

	preflightErr error
	compileErr   error
	bindErr      error
	optimizeErr  error
	touchGlue    bool

	calls []string
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		raw:       rawModule,
		bound:     boundModule,
		optimized: optimizedModule,
		glue:      loaderGlue,
	}
}

func write(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func (f *fakeStages) Preflight(ctx context.Context, cfg *config.Build) error {
	f.calls = append(f.calls, "preflight")
	return f.preflightErr
}

func (f *fakeStages) Compile(ctx context.Context, cfg *config.Build) pipeline.StageResult {
	f.calls = append(f.calls, "compile")
	if f.compileErr != nil {
		return pipeline.Failed(pipeline.StateCompiling, f.compileErr)
	}
	if f.raw != nil {
		if err := write(cfg.Layout().BinaryPath(), f.raw); err != nil {
			return pipeline.Failed(pipeline.StateCompiling, err)
		}
	}
	return pipeline.Succeeded(pipeline.StateCompiling, cfg.Layout().Binary(artifact.RoleRaw))
}

func (f *fakeStages) Bind(ctx context.Context, cfg *config.Build) pipeline.StageResult {
	f.calls = append(f.calls, "bind")
	if f.bindErr != nil {
		return pipeline.Failed(pipeline.StateBinding, f.bindErr)
	}
	l := cfg.Layout()
	if err := write(l.GluePath(), []byte(f.glue)); err != nil {
		return pipeline.Failed(pipeline.StateBinding, err)
	}
	if err := write(l.BinaryPath(), f.bound); err != nil {
		return pipeline.Failed(pipeline.StateBinding, err)
	}
	return pipeline.Succeeded(pipeline.StateBinding, l.Binary(artifact.RoleBound), l.Glue())
}

func (f *fakeStages) Optimize(ctx context.Context, cfg *config.Build) pipeline.StageResult {
	f.calls = append(f.calls, "optimize")
	if f.optimizeErr != nil {
		return pipeline.Failed(pipeline.StateOptimizing, f.optimizeErr)
	}
	l := cfg.Layout()
	if f.touchGlue {
		if err := write(l.GluePath(), []byte(f.glue+"\n// rewritten\n")); err != nil {
			return pipeline.Failed(pipeline.StateOptimizing, err)
		}
	}
	if err := write(l.BinaryPath(), f.optimized); err != nil {
		return pipeline.Failed(pipeline.StateOptimizing, err)
	}
	return pipeline.Succeeded(pipeline.StateOptimizing, l.Binary(artifact.RoleOptimized))
}

func (f *fakeStages) stages() pipeline.Stages {
	return pipeline.Stages{Compiler: f, Binder: f, Optimizer: f}
}

func newBuild(t *testing.T, outDir string, mutate func(*config.Params)) *config.Build {
	t.Helper()
	p := config.Defaults()
	p.Crate.Manifest = ""
	p.Build.OutDir = outDir
	p.Build.Name = "app"
	if mutate != nil {
		mutate(&p)
	}
	cfg, err := config.New(p)
	if err != nil {
		t.Fatalf("config.New error: %v", err)
	}
	return cfg
}

func run(t *testing.T, cfg *config.Build, stages pipeline.Stages, opts ...pipeline.Option) (*pipeline.Report, error) {
	t.Helper()
	p, err := pipeline.New(cfg, stages, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return p.Run(context.Background())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestRun_Success(t *testing.T) {
	cfg := newBuild(t, t.TempDir(), nil)
	f := newFakeStages()

	var events []pipeline.Event
	report, err := run(t, cfg, f.stages(), pipeline.WithObserver(func(e pipeline.Event) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if want := []string{"preflight", "preflight", "preflight", "compile", "bind", "optimize"}; !slices.Equal(f.calls, want) {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
	if !report.Succeeded() || report.State != pipeline.StateDone {
		t.Errorf("State = %s", report.State)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected 3 stage results, got %d", len(report.Results))
	}
	for i, s := range []pipeline.State{pipeline.StateCompiling, pipeline.StateBinding, pipeline.StateOptimizing} {
		if report.Results[i].Stage != s || !report.Results[i].OK() {
			t.Errorf("result %d = %s ok=%v", i, report.Results[i].Stage, report.Results[i].OK())
		}
	}

	var transitions []string
	for _, e := range events {
		transitions = append(transitions, e.From.String()+"->"+e.To.String())
	}
	want := []string{"NotStarted->Compiling", "Compiling->Binding", "Binding->Optimizing", "Optimizing->Done"}
	if !slices.Equal(transitions, want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
	if events[0].Result != nil {
		t.Error("first transition carries no result")
	}
	if r := events[3].Result; r == nil || r.Stage != pipeline.StateOptimizing {
		t.Error("last transition must carry the optimizer result")
	}

	if report.Binary.Path != cfg.Layout().BinaryPath() || report.Binary.Role != artifact.RoleOptimized {
		t.Errorf("Binary = %+v", report.Binary)
	}
	if report.Binary.Size != int64(len(optimizedModule)) || report.BoundSize != int64(len(boundModule)) {
		t.Errorf("sizes = %d/%d", report.Binary.Size, report.BoundSize)
	}
	if report.Saved() <= 0 {
		t.Errorf("Saved = %d, want > 0", report.Saved())
	}
	if len(report.Binary.Digest) != 64 || report.Glue.Path != cfg.Layout().GluePath() {
		t.Errorf("Binary digest %q, Glue %+v", report.Binary.Digest, report.Glue)
	}
	var names []string
	for _, e := range report.Entries {
		names = append(names, e.String())
	}
	if !slices.Equal(names, []string{"add(i32, i32) -> i32", "main()"}) {
		t.Errorf("Entries = %v", names)
	}
}

func TestRun_FixedNames(t *testing.T) {
	out := t.TempDir()
	cfg := newBuild(t, out, func(p *config.Params) {
		p.Layout.BinarySuffix = ".bin"
		p.Layout.GlueSuffix = ".glue"
	})

	report, err := run(t, cfg, newFakeStages().stages())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if errors.ExitStatus(err) != errors.ExitOK {
		t.Errorf("exit status = %d", errors.ExitStatus(err))
	}
	if report.Binary.Path != filepath.Join(out, "app.bin") || report.Glue.Path != filepath.Join(out, "app.glue") {
		t.Errorf("paths = %s, %s", report.Binary.Path, report.Glue.Path)
	}
	dir, _ := os.ReadDir(out)
	var names []string
	for _, e := range dir {
		names = append(names, e.Name())
	}
	if !slices.Equal(names, []string{"app.bin", "app.glue"}) {
		t.Errorf("staging directory = %v", names)
	}
}

func TestRun_Deterministic(t *testing.T) {
	out := t.TempDir()

	first, err := run(t, newBuild(t, out, nil), newFakeStages().stages())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := run(t, newBuild(t, out, nil), newFakeStages().stages())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Binary.Digest != second.Binary.Digest || first.Glue.Digest != second.Glue.Digest {
		t.Error("runs against clean staging produced different artifacts")
	}
}

func TestRun_CompileFailure(t *testing.T) {
	out := t.TempDir()
	cfg := newBuild(t, out, nil)

	// Leftovers from an earlier run must not survive a failed one.
	if err := write(cfg.Layout().BinaryPath(), optimizedModule); err != nil {
		t.Fatal(err)
	}
	if err := write(cfg.Layout().GluePath(), []byte(loaderGlue)); err != nil {
		t.Fatal(err)
	}

	diag := "error: expected one of `!` or `::`, found `fn`\n --> src/main.rs:1:5\n"
	f := newFakeStages()
	f.compileErr = errors.StageFailed(errors.PhaseCompile, "cargo", 101, diag)

	var last pipeline.Event
	report, err := run(t, cfg, f.stages(), pipeline.WithObserver(func(e pipeline.Event) { last = e }))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.ExitStatus(err) == errors.ExitOK {
		t.Error("exit status must be non-zero")
	}
	if slices.Contains(f.calls, "bind") || slices.Contains(f.calls, "optimize") {
		t.Errorf("downstream stages ran: %v", f.calls)
	}
	if report.State != pipeline.StateFailed || report.FailedIn != pipeline.StateCompiling {
		t.Errorf("State = %s, FailedIn = %s", report.State, report.FailedIn)
	}
	if exists(cfg.Layout().BinaryPath()) || exists(cfg.Layout().GluePath()) {
		t.Error("binary and glue must be absent after a failed compile")
	}
	if !strings.Contains(errors.DiagnosticOf(err), "expected one of") {
		t.Errorf("diagnostic = %q", errors.DiagnosticOf(err))
	}
	if res, ok := report.Result(pipeline.StateCompiling); !ok || res.ExitCode() != 101 || res.Diagnostic() != diag {
		t.Errorf("compile result = %+v", res)
	}
	if last.To != pipeline.StateFailed || last.Err == nil || last.Result == nil {
		t.Errorf("last event = %+v", last)
	}
}

func TestRun_SkipOptimizer(t *testing.T) {
	cfg := newBuild(t, t.TempDir(), func(p *config.Params) {
		disabled := false
		p.Optimize.Enabled = &disabled
	})
	f := newFakeStages()

	var transitions []string
	report, err := run(t, cfg, pipeline.Stages{Compiler: f, Binder: f}, pipeline.WithObserver(func(e pipeline.Event) {
		transitions = append(transitions, e.To.String())
	}))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if slices.Contains(f.calls, "optimize") {
		t.Error("optimizer ran while disabled")
	}
	if !slices.Equal(transitions, []string{"Compiling", "Binding", "Done"}) {
		t.Errorf("transitions = %v", transitions)
	}
	if report.Optimized || report.Saved() != 0 || report.Binary.Role != artifact.RoleBound {
		t.Errorf("report = %+v", report)
	}
	got, _ := os.ReadFile(cfg.Layout().BinaryPath())
	if !bytes.Equal(got, boundModule) {
		t.Error("final binary must be the bound module")
	}
}

func TestRun_ArtifactConsistency(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(f *fakeStages)
		phase    errors.Phase
		failedIn pipeline.State
	}{
		{
			name:     "compiler produced nothing",
			mutate:   func(f *fakeStages) { f.raw = nil },
			phase:    errors.PhaseCompile,
			failedIn: pipeline.StateCompiling,
		},
		{
			name:     "compiler produced garbage",
			mutate:   func(f *fakeStages) { f.raw = []byte("MZ\x90\x00") },
			phase:    errors.PhaseBind,
			failedIn: pipeline.StateBinding,
		},
		{
			name:     "glue calls a missing export",
			mutate:   func(f *fakeStages) { f.glue += "export function run() { wasm.run(); }\n" },
			phase:    errors.PhaseBind,
			failedIn: pipeline.StateBinding,
		},
		{
			name:     "glue lacks an import",
			mutate:   func(f *fakeStages) { f.glue = strings.Replace(f.glue, "imports.wbg.__wbg_log =", "imports.wbg.__wbg_warn =", 1) },
			phase:    errors.PhaseBind,
			failedIn: pipeline.StateBinding,
		},
		{
			name:     "glue imports a missing snippet",
			mutate:   func(f *fakeStages) { f.glue = "import { beep } from './snippets/app-1a2b/inline0.js';\n" + f.glue },
			phase:    errors.PhaseBind,
			failedIn: pipeline.StateBinding,
		},
		{
			name: "optimizer dropped an export",
			mutate: func(f *fakeStages) {
				f.optimized = wasmtest.Module{Imports: []wasmtest.Func{logImport}, Exports: entries[:1]}.Encode()
			},
			phase:    errors.PhaseOptimize,
			failedIn: pipeline.StateOptimizing,
		},
		{
			name: "optimizer changed a signature",
			mutate: func(f *fakeStages) {
				f.optimized = wasmtest.Module{
					Imports: []wasmtest.Func{logImport},
					Exports: []wasmtest.Func{entries[0], wasmtest.Fn("add", []wasm.ValType{i32}, i32)},
				}.Encode()
			},
			phase:    errors.PhaseOptimize,
			failedIn: pipeline.StateOptimizing,
		},
		{
			name:     "optimizer produced garbage",
			mutate:   func(f *fakeStages) { f.optimized = []byte{0x00, 0x61, 0x73, 0x6d, 0x02} },
			phase:    errors.PhaseOptimize,
			failedIn: pipeline.StateOptimizing,
		},
		{
			name:     "optimizer touched the glue",
			mutate:   func(f *fakeStages) { f.touchGlue = true },
			phase:    errors.PhaseOptimize,
			failedIn: pipeline.StateOptimizing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStages()
			tt.mutate(f)
			report, err := run(t, newBuild(t, t.TempDir(), nil), f.stages())

			target := errors.New(tt.phase, errors.KindArtifactConsistency).Build()
			if !errors.Is(err, target) {
				t.Fatalf("expected %s artifact consistency error, got %v", tt.phase, err)
			}
			if errors.ExitStatus(err) != errors.ExitArtifactConsistency {
				t.Errorf("exit status = %d", errors.ExitStatus(err))
			}
			if report.State != pipeline.StateFailed || report.FailedIn != tt.failedIn {
				t.Errorf("State = %s, FailedIn = %s", report.State, report.FailedIn)
			}
		})
	}
}

func TestRun_RawBinaryNotBoundWhenMalformed(t *testing.T) {
	f := newFakeStages()
	f.raw = []byte("not a module")
	_, err := run(t, newBuild(t, t.TempDir(), nil), f.stages())
	if err == nil {
		t.Fatal("expected error")
	}
	if slices.Contains(f.calls, "bind") {
		t.Error("binder must not run on a malformed input")
	}
}

func TestRun_PreflightFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	f := newFakeStages()
	f.preflightErr = errors.ToolNotFound(errors.PhaseBind, "wasm-bindgen", os.ErrNotExist)

	report, err := run(t, newBuild(t, out, nil), f.stages())
	if errors.KindOf(err) != errors.KindToolInvocation {
		t.Fatalf("expected tool invocation error, got %v", err)
	}
	if report.FailedIn != pipeline.StateNotStarted || len(report.Results) != 0 {
		t.Errorf("FailedIn = %s, results = %d", report.FailedIn, len(report.Results))
	}
	if !slices.Equal(f.calls, []string{"preflight"}) {
		t.Errorf("calls = %v", f.calls)
	}
	if exists(out) {
		t.Error("staging directory must not be created before preflight passes")
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFakeStages()
	p, err := pipeline.New(newBuild(t, t.TempDir(), nil), f.stages())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) || errors.KindOf(err) != errors.KindStageFailure {
		t.Fatalf("expected cancelled stage failure, got %v", err)
	}
	if slices.Contains(f.calls, "compile") {
		t.Error("no stage may start after cancellation")
	}
	if report.FailedIn != pipeline.StateCompiling {
		t.Errorf("FailedIn = %s", report.FailedIn)
	}
}

func TestRun_Once(t *testing.T) {
	p, err := pipeline.New(newBuild(t, t.TempDir(), nil), newFakeStages().stages())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	report, err := p.Run(context.Background())
	if err != pipeline.ErrAlreadyRun || report != nil {
		t.Errorf("second Run = %v, %v", report, err)
	}
	if p.State() != pipeline.StateDone {
		t.Errorf("State = %s", p.State())
	}
}

func TestRun_FeaturesChangeBinaryNotShape(t *testing.T) {
	out := t.TempDir()

	build := func(features ...string) *pipeline.Report {
		cfg := newBuild(t, out, func(p *config.Params) { p.Build.Features = features })
		f := newFakeStages()
		// More features, more code; the exported surface stays the same.
		extra := len(cfg.Features()) * 3
		f.optimized = wasmtest.Module{
			Imports:      []wasmtest.Func{logImport},
			Exports:      entries,
			Unexported:   extra,
			ExportMemory: true,
		}.Encode()
		report, err := run(t, cfg, f.stages())
		if err != nil {
			t.Fatalf("Run(%v) error: %v", features, err)
		}
		glueSrc, err := os.ReadFile(report.Glue.Path)
		if err != nil {
			t.Fatal(err)
		}
		if !glue.Parse(glueSrc).Equal(glue.Parse([]byte(loaderGlue))) {
			t.Errorf("glue surface changed for features %v", features)
		}
		return report
	}

	plain := build()
	audio := build("audio", "webgl2")
	if plain.Binary.Digest == audio.Binary.Digest {
		t.Error("different feature sets must produce different binaries")
	}
	if plain.Binary.Path != audio.Binary.Path || plain.Glue.Path != audio.Glue.Path {
		t.Error("artifact names must not depend on features")
	}
	if wasm.DiffEntries(plain.Entries, audio.Entries) != nil {
		t.Error("exported entry points must not depend on features")
	}
}

func TestRun_WithValidator(t *testing.T) {
	ctx := context.Background()
	v := wasm.NewValidator(ctx)
	defer v.Close(ctx)

	report, err := run(t, newBuild(t, t.TempDir(), nil), newFakeStages().stages(), pipeline.WithValidator(v))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !report.Succeeded() {
		t.Errorf("State = %s", report.State)
	}
}

func TestNew_Validation(t *testing.T) {
	f := newFakeStages()
	cfg := newBuild(t, t.TempDir(), nil)

	tests := []struct {
		name   string
		cfg    *config.Build
		stages pipeline.Stages
	}{
		{"nil config", nil, f.stages()},
		{"no compiler", cfg, pipeline.Stages{Binder: f, Optimizer: f}},
		{"no binder", cfg, pipeline.Stages{Compiler: f, Optimizer: f}},
		{"no optimizer", cfg, pipeline.Stages{Compiler: f, Binder: f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.New(tt.cfg, tt.stages)
			if errors.KindOf(err) != errors.KindConfiguration {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestUnsupportedTarget_NoToolInvoked(t *testing.T) {
	p := config.Defaults()
	p.Crate.Manifest = ""
	p.Build.Target = "x86_64-unknown-linux-gnu"
	p.Build.OutDir = t.TempDir()

	_, err := config.New(p)
	if errors.KindOf(err) != errors.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if errors.ExitStatus(err) != errors.ExitConfiguration {
		t.Errorf("exit status = %d", errors.ExitStatus(err))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to pipeline.State
		want     bool
	}{
		{pipeline.StateNotStarted, pipeline.StateCompiling, true},
		{pipeline.StateNotStarted, pipeline.StateBinding, false},
		{pipeline.StateNotStarted, pipeline.StateFailed, true},
		{pipeline.StateCompiling, pipeline.StateBinding, true},
		{pipeline.StateCompiling, pipeline.StateOptimizing, false},
		{pipeline.StateBinding, pipeline.StateOptimizing, true},
		{pipeline.StateBinding, pipeline.StateDone, true},
		{pipeline.StateOptimizing, pipeline.StateDone, true},
		{pipeline.StateOptimizing, pipeline.StateFailed, true},
		{pipeline.StateDone, pipeline.StateFailed, false},
		{pipeline.StateFailed, pipeline.StateNotStarted, false},
	}
	for _, tt := range tests {
		if got := pipeline.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Phase(t *testing.T) {
	if pipeline.StateBinding.Phase() != errors.PhaseBind || pipeline.StateDone.Phase() != errors.PhaseConfig {
		t.Error("unexpected phase mapping")
	}
	if !pipeline.StateDone.Terminal() || !pipeline.StateFailed.Terminal() || pipeline.StateBinding.Terminal() {
		t.Error("unexpected terminal states")
	}
}
