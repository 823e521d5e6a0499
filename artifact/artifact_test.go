package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/wasm-release/errors"
)

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/out", "app")
	if got := l.BinaryPath(); got != filepath.Join("/out", "app_bg.wasm") {
		t.Errorf("BinaryPath = %q", got)
	}
	if got := l.GluePath(); got != filepath.Join("/out", "app.js") {
		t.Errorf("GluePath = %q", got)
	}

	custom := Layout{Dir: "/out", Name: "app", BinarySuffix: ".bin", GlueSuffix: ".glue"}
	if got := custom.BinaryPath(); got != filepath.Join("/out", "app.bin") {
		t.Errorf("BinaryPath = %q", got)
	}
	if got := custom.GluePath(); got != filepath.Join("/out", "app.glue") {
		t.Errorf("GluePath = %q", got)
	}

	raw := l.Binary(RoleRaw)
	if raw.As(RoleOptimized).Path != raw.Path {
		t.Error("role change must keep the path")
	}
}

func TestArtifact_Require(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full")
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(full, []byte{1}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"present", full, false},
		{"empty", empty, true},
		{"missing", filepath.Join(dir, "nope"), true},
		{"directory", dir, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Artifact{Role: RoleRaw, Path: tt.path}.Require(errors.PhaseBind)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Require error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, &errors.Error{Phase: errors.PhaseBind, Kind: errors.KindArtifactConsistency}) {
				t.Errorf("expected artifact consistency error, got %v", err)
			}
		})
	}
}

func TestLayout_PrepareRemovesStaleState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	l := NewLayout(dir, "app")
	if err := l.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	scratch, err := l.Scratch("optimize")
	if err != nil {
		t.Fatalf("Scratch: %v", err)
	}
	for _, p := range []string{l.BinaryPath(), l.GluePath(), filepath.Join(scratch, "partial")} {
		if err := os.WriteFile(p, []byte("stale"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	other := filepath.Join(dir, "index.html")
	if err := os.WriteFile(other, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := l.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for _, p := range []string{l.BinaryPath(), l.GluePath(), scratch} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed", p)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestCommitAndStat(t *testing.T) {
	dir := t.TempDir()
	l := NewLayout(dir, "app")
	scratch, err := l.Scratch("compile")
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "source.wasm")
	if err := os.WriteFile(src, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	copied, err := CopyInto(src, scratch, "out.wasm")
	if err != nil {
		t.Fatalf("CopyInto: %v", err)
	}
	if err := Commit(copied, l.BinaryPath()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	info, err := l.Binary(RoleRaw).Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 3 {
		t.Errorf("Size = %d, want 3", info.Size)
	}
	// sha256("abc")
	if info.Digest != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("Digest = %s", info.Digest)
	}
}
