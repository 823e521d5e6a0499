package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/wippyai/wasm-release/errors"
)

// Role is the logical meaning of an artifact at a point in the pipeline
type Role string

const (
	RoleRaw       Role = "raw"       // compiled module, straight from the compiler
	RoleBound     Role = "bound"     // module rewritten by the binding generator
	RoleOptimized Role = "optimized" // final, size-optimized module
	RoleGlue      Role = "glue"      // loader glue for the host runtime
)

// Artifact is a named file produced by one stage and consumed by the next
type Artifact struct {
	Role Role
	Path string
}

func (a Artifact) String() string {
	return fmt.Sprintf("%s(%s)", a.Role, a.Path)
}

// As returns the same file under a new role. Used when a stage rewrites the
// binary in place.
func (a Artifact) As(role Role) Artifact {
	return Artifact{Role: role, Path: a.Path}
}

// Require checks that the artifact exists, is a regular file and is not empty.
// Violations are reported as artifact consistency errors attributed to phase.
func (a Artifact) Require(phase errors.Phase) error {
	info, err := os.Stat(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.ArtifactMissing(phase, string(a.Role), a.Path)
		}
		return errors.ArtifactMalformed(phase, string(a.Role), a.Path, err)
	}
	if !info.Mode().IsRegular() {
		return errors.ArtifactMalformed(phase, string(a.Role), a.Path, fmt.Errorf("not a regular file: %s", info.Mode()))
	}
	if info.Size() == 0 {
		return errors.ArtifactEmpty(phase, string(a.Role), a.Path)
	}
	return nil
}

// Read requires the artifact and returns its contents.
func (a Artifact) Read(phase errors.Phase) ([]byte, error) {
	if err := a.Require(phase); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, errors.ArtifactMalformed(phase, string(a.Role), a.Path, err)
	}
	return data, nil
}

// Info describes an artifact on disk
type Info struct {
	Artifact
	Size   int64
	Digest string // hex sha256
}

// Stat returns the size and sha256 digest of the artifact.
func (a Artifact) Stat() (Info, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Info{}, fmt.Errorf("digest %s: %w", a.Path, err)
	}
	return Info{
		Artifact: a,
		Size:     n,
		Digest:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}
