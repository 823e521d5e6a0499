package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// Crate is what the pipeline needs to know about the crate being compiled
type Crate struct {
	ManifestPath string
	Dir          string
	Name         string   // package name
	ArtifactName string   // file stem of the compiled module
	Features     []string // declared optional features, sorted
	CrateTypes   []string // lib crate types
	TargetDir    string   // cargo's output root
}

type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Lib *struct {
		Name      string   `toml:"name"`
		CrateType []string `toml:"crate-type"`
	} `toml:"lib"`
	Features     map[string][]string       `toml:"features"`
	Dependencies map[string]toml.Primitive `toml:"dependencies"`
}

type dependencySpec struct {
	Optional bool `toml:"optional"`
}

// ReadCrate parses the Cargo.toml at manifestPath. targetDir overrides the
// cargo output root; when empty CARGO_TARGET_DIR or <crate>/target is used.
func ReadCrate(manifestPath, targetDir string) (Crate, error) {
	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return Crate{}, err
	}
	var m cargoManifest
	md, err := toml.DecodeFile(abs, &m)
	if err != nil {
		return Crate{}, fmt.Errorf("parse %s: %w", manifestPath, err)
	}
	if m.Package.Name == "" {
		return Crate{}, fmt.Errorf("%s: missing package.name", manifestPath)
	}

	c := Crate{
		ManifestPath: abs,
		Dir:          filepath.Dir(abs),
		Name:         m.Package.Name,
		ArtifactName: m.Package.Name,
	}

	// A cdylib is named after the lib target, with hyphens normalized;
	// a bin keeps the package name as is.
	if m.Lib != nil {
		c.CrateTypes = slices.Clone(m.Lib.CrateType)
		if slices.Contains(m.Lib.CrateType, "cdylib") {
			name := m.Lib.Name
			if name == "" {
				name = m.Package.Name
			}
			c.ArtifactName = strings.ReplaceAll(name, "-", "_")
		}
	}

	explicitDeps := map[string]bool{}
	for name, values := range m.Features {
		c.Features = append(c.Features, name)
		for _, v := range values {
			if dep, ok := strings.CutPrefix(v, "dep:"); ok {
				explicitDeps[dep] = true
			}
		}
	}
	// Optional dependencies define an implicit feature of the same name
	// unless some feature refers to them with the dep: prefix.
	for name, prim := range m.Dependencies {
		var spec dependencySpec
		if err := md.PrimitiveDecode(prim, &spec); err != nil {
			continue // plain version string
		}
		_, declared := m.Features[name]
		if spec.Optional && !explicitDeps[name] && !declared {
			c.Features = append(c.Features, name)
		}
	}
	slices.Sort(c.Features)

	switch {
	case targetDir != "":
		c.TargetDir, err = filepath.Abs(targetDir)
		if err != nil {
			return Crate{}, err
		}
	case os.Getenv("CARGO_TARGET_DIR") != "":
		c.TargetDir, err = filepath.Abs(os.Getenv("CARGO_TARGET_DIR"))
		if err != nil {
			return Crate{}, err
		}
	default:
		c.TargetDir = filepath.Join(c.Dir, "target")
	}
	return c, nil
}

// Declares reports whether feature is a declared feature of the crate.
// "default" is always accepted.
func (c Crate) Declares(feature string) bool {
	if feature == "default" {
		return true
	}
	_, found := slices.BinarySearch(c.Features, feature)
	return found
}
