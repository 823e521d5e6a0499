package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/errors"
	"github.com/wippyai/wasm-release/pipeline"
)

func TestOptions_Apply(t *testing.T) {
	p := config.Defaults()
	p.Build.Features = []string{"audio"}
	p.Optimize.Level = "Os"

	opts := options{
		set:        map[string]bool{"features": true, "no-optimize": true, "name": true},
		features:   "webgl2, gamepad",
		noOptimize: true,
		name:       "game",
		target:     "ignored-because-not-set",
	}
	opts.apply(&p)

	if !slices.Equal(p.Build.Features, []string{"webgl2", "gamepad"}) {
		t.Errorf("Features = %v", p.Build.Features)
	}
	if p.Optimize.OptimizeEnabled() {
		t.Error("optimizer should be disabled")
	}
	if p.Build.Name != "game" {
		t.Errorf("Name = %q", p.Build.Name)
	}
	if p.Build.Target != config.DefaultTarget || p.Optimize.Level != "Os" {
		t.Errorf("unset flags must not override: target %q level %q", p.Build.Target, p.Optimize.Level)
	}
}

func TestProgressMode(t *testing.T) {
	tests := []struct {
		mode    string
		tty     bool
		want    string
		wantErr bool
	}{
		{"auto", true, progressTUI, false},
		{"auto", false, progressPlain, false},
		{"plain", true, progressPlain, false},
		{"tui", false, progressTUI, false},
		{"fancy", true, "", true},
	}
	for _, tt := range tests {
		got, err := progressMode(tt.mode, tt.tty)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("progressMode(%q, %v) = %q, %v", tt.mode, tt.tty, got, err)
		}
	}
}

func TestAcquireLock(t *testing.T) {
	l := artifact.NewLayout(filepath.Join(t.TempDir(), "out"), "app")
	path := filepath.Join(l.Dir, ".app.lock")

	release, err := acquireLock(l)
	if err != nil {
		t.Fatalf("acquireLock error: %v", err)
	}
	if _, err := acquireLock(l); errors.KindOf(err) != errors.KindConfiguration {
		t.Errorf("second lock: expected configuration error, got %v", err)
	}
	other := flock.New(path)
	if locked, err := other.TryLock(); err != nil || locked {
		t.Errorf("TryLock while held = %v, %v", locked, err)
	}

	sibling := artifact.NewLayout(l.Dir, "other")
	releaseSibling, err := acquireLock(sibling)
	if err != nil {
		t.Errorf("a different base name must not conflict: %v", err)
	} else {
		releaseSibling()
	}

	release()
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock after release = %v, %v", locked, err)
	}
	other.Unlock()
}

func TestAcquireLock_LeftoverFile(t *testing.T) {
	l := artifact.NewLayout(t.TempDir(), "app")
	// a lock file left by a killed run holds no lock
	if err := os.WriteFile(filepath.Join(l.Dir, ".app.lock"), []byte("4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	release, err := acquireLock(l)
	if err != nil {
		t.Fatalf("acquireLock error: %v", err)
	}
	release()
}

func TestRun_ConfigurationError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	opts := options{
		configFile: filepath.Join(t.TempDir(), "missing.toml"),
		progress:   progressPlain,
		set:        map[string]bool{"target": true},
		target:     "x86_64-pc-windows-msvc",
	}

	code := run(opts, &stdout, &stderr)
	if code != errors.ExitConfiguration {
		t.Errorf("exit = %d, want %d", code, errors.ExitConfiguration)
	}
	if !strings.Contains(stderr.String(), "unsupported target") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestFail_PrintsDiagnostic(t *testing.T) {
	var buf bytes.Buffer
	diag := "error[E0308]: mismatched types"
	code := fail(&buf, errors.StageFailed(errors.PhaseCompile, "cargo", 101, diag))

	if code != errors.ExitStageFailure {
		t.Errorf("exit = %d", code)
	}
	out := buf.String()
	if !strings.Contains(out, "Error: [compile]") || !strings.HasSuffix(out, diag+"\n") {
		t.Errorf("output = %q", out)
	}
}

func newTestBuild(t *testing.T) *config.Build {
	t.Helper()
	p := config.Defaults()
	p.Crate.Manifest = ""
	p.Build.OutDir = t.TempDir()
	p.Build.Name = "app"
	cfg, err := config.New(p)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestPlainObserver(t *testing.T) {
	var buf bytes.Buffer
	observe := plainObserver(&buf, newTestBuild(t))

	compiled := pipeline.StageResult{Stage: pipeline.StateCompiling, Duration: 1500 * time.Millisecond}
	observe(pipeline.Event{From: pipeline.StateNotStarted, To: pipeline.StateCompiling})
	observe(pipeline.Event{From: pipeline.StateCompiling, To: pipeline.StateBinding, Result: &compiled})
	observe(pipeline.Event{From: pipeline.StateBinding, To: pipeline.StateFailed, Err: errors.StageFailed(errors.PhaseBind, "wasm-bindgen", 1, "")})

	want := "==> Compiling (cargo)\n" +
		"    Compiling finished in 1.5s\n" +
		"==> Binding (wasm-bindgen)\n" +
		"==> Failed in Binding\n"
	if buf.String() != want {
		t.Errorf("output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestProgressModel_Apply(t *testing.T) {
	m := newProgressModel(newTestBuild(t))

	compiled := pipeline.StageResult{Stage: pipeline.StateCompiling, Duration: time.Second}
	m.apply(pipeline.Event{From: pipeline.StateNotStarted, To: pipeline.StateCompiling})
	if m.rows[0].status != statusRunning {
		t.Errorf("compile status = %v", m.rows[0].status)
	}
	m.apply(pipeline.Event{From: pipeline.StateCompiling, To: pipeline.StateBinding, Result: &compiled})
	if m.rows[0].status != statusDone || m.rows[0].duration != time.Second || m.rows[1].status != statusRunning {
		t.Errorf("rows = %+v", m.rows)
	}
	m.apply(pipeline.Event{From: pipeline.StateBinding, To: pipeline.StateFailed})
	if m.rows[1].status != statusFailed || m.rows[2].status != statusPending {
		t.Errorf("rows = %+v", m.rows)
	}

	view := m.View()
	for _, s := range []string{"Compiling", "Binding", "Optimizing", "wasm-bindgen", "1s"} {
		if !strings.Contains(view, s) {
			t.Errorf("view missing %q:\n%s", s, view)
		}
	}
}

func TestProgressModel_SkippedOptimizer(t *testing.T) {
	p := config.Defaults()
	p.Crate.Manifest = ""
	p.Build.OutDir = t.TempDir()
	p.Build.Name = "app"
	disabled := false
	p.Optimize.Enabled = &disabled
	cfg, err := config.New(p)
	if err != nil {
		t.Fatal(err)
	}

	m := newProgressModel(cfg)
	if m.rows[2].status != statusSkipped {
		t.Errorf("optimizer row = %v", m.rows[2].status)
	}
	if !strings.Contains(m.View(), "skipped") {
		t.Error("view must mark the optimizer as skipped")
	}
}
