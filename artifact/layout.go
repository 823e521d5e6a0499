package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Default suffixes follow wasm-bindgen's own output names.
const (
	DefaultBinarySuffix = "_bg.wasm"
	DefaultGlueSuffix   = ".js"
)

// Layout is the naming convention for one run's staging directory
type Layout struct {
	Dir          string
	Name         string
	BinarySuffix string
	GlueSuffix   string
}

// NewLayout returns a layout with the default suffixes.
func NewLayout(dir, name string) Layout {
	return Layout{
		Dir:          dir,
		Name:         name,
		BinarySuffix: DefaultBinarySuffix,
		GlueSuffix:   DefaultGlueSuffix,
	}
}

// BinaryPath is shared by the raw, bound and optimized roles.
func (l Layout) BinaryPath() string {
	return filepath.Join(l.Dir, l.Name+l.binarySuffix())
}

// GluePath is the loader glue sibling of the binary.
func (l Layout) GluePath() string {
	return filepath.Join(l.Dir, l.Name+l.glueSuffix())
}

// Binary returns the binary artifact under the given role.
func (l Layout) Binary(role Role) Artifact {
	return Artifact{Role: role, Path: l.BinaryPath()}
}

// Glue returns the loader glue artifact.
func (l Layout) Glue() Artifact {
	return Artifact{Role: RoleGlue, Path: l.GluePath()}
}

func (l Layout) binarySuffix() string {
	if l.BinarySuffix == "" {
		return DefaultBinarySuffix
	}
	return l.BinarySuffix
}

func (l Layout) glueSuffix() string {
	if l.GlueSuffix == "" {
		return DefaultGlueSuffix
	}
	return l.GlueSuffix
}

func (l Layout) scratchPrefix() string {
	return "." + l.Name + ".scratch-"
}

// Prepare creates the staging directory and removes every artifact and
// scratch directory a previous run left behind for this base name, including
// a binary corrupted by an interrupted stage. Unrelated files are left alone.
func (l Layout) Prepare() error {
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	for _, p := range []string{l.BinaryPath(), l.GluePath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale artifact: %w", err)
		}
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return fmt.Errorf("read staging directory: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), l.scratchPrefix()) {
			if err := os.RemoveAll(filepath.Join(l.Dir, e.Name())); err != nil {
				return fmt.Errorf("remove stale scratch directory: %w", err)
			}
		}
	}
	return nil
}

// Scratch creates a private working directory inside the staging directory.
// It lives on the same file system as the artifacts so Commit can rename.
// The caller removes it when the stage ends.
func (l Layout) Scratch(stage string) (string, error) {
	dir, err := os.MkdirTemp(l.Dir, l.scratchPrefix()+stage+"-")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

// Commit moves a finished file from a scratch directory over dst.
func Commit(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("commit %s: %w", filepath.Base(dst), err)
	}
	return nil
}

// CommitTree moves a finished file or directory from a scratch directory
// over dst, replacing whatever dst held.
func CommitTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(dst), err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("commit %s: %w", filepath.Base(dst), err)
	}
	return Commit(src, dst)
}

// CopyInto copies src into dir under the given name and returns the new path.
// Used to bring a file produced outside the staging directory into a scratch
// directory before it is committed.
func CopyInto(src, dir, name string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst := filepath.Join(dir, name)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return dst, out.Close()
}
