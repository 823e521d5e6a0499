package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// BuildParams selects what to compile and where the artifacts go
type BuildParams struct {
	Target            string   `toml:"target"`
	Profile           string   `toml:"profile"`
	Features          []string `toml:"features"`
	NoDefaultFeatures bool     `toml:"no_default_features"`
	OutDir            string   `toml:"out_dir"`
	Name              string   `toml:"name"`
}

// CrateParams locates the crate being built
type CrateParams struct {
	Manifest  string `toml:"manifest"`
	TargetDir string `toml:"target_dir"`
}

// BindgenParams configures the binding generator
type BindgenParams struct {
	Host string `toml:"host"`
}

// OptimizeParams configures the size optimizer. Enabled is a pointer so an
// absent key keeps the default.
type OptimizeParams struct {
	Enabled    *bool    `toml:"enabled"`
	Level      string   `toml:"level"`
	Features   []string `toml:"features"`
	StripDebug bool     `toml:"strip_debug"`
}

// LayoutParams overrides artifact file name suffixes.
//
// The generated glue locates the binary by wasm-bindgen's own name,
// <name>_bg.wasm. With another BinarySuffix the web and no-modules hosts
// load the pair only when the caller passes the binary's URL to init; the
// other hosts import the binary by name and cannot load it at all. Build
// reports this through Warnings.
type LayoutParams struct {
	BinarySuffix string `toml:"binary_suffix"`
	GlueSuffix   string `toml:"glue_suffix"`
}

// ToolParams names a tool and the versions it must satisfy
type ToolParams struct {
	Program string `toml:"program"`
	Version string `toml:"version"`
}

// ToolsParams holds one ToolParams per stage
type ToolsParams struct {
	Compiler  ToolParams `toml:"compiler"`
	Binder    ToolParams `toml:"binder"`
	Optimizer ToolParams `toml:"optimizer"`
}

// Params is the mutable, caller-facing input to New
type Params struct {
	Build    BuildParams    `toml:"build"`
	Crate    CrateParams    `toml:"crate"`
	Bindgen  BindgenParams  `toml:"bindgen"`
	Optimize OptimizeParams `toml:"optimize"`
	Layout   LayoutParams   `toml:"layout"`
	Tools    ToolsParams    `toml:"tools"`
}

// Default values.
const (
	DefaultTarget    = TargetWasm32Unknown
	DefaultProfile   = "release"
	DefaultOutDir    = "out"
	DefaultManifest  = "Cargo.toml"
	DefaultHost      = "web"
	DefaultOptLevel  = "Oz"
	DefaultCompiler  = "cargo"
	DefaultBinder    = "wasm-bindgen"
	DefaultOptimizer = "wasm-opt"
)

// Environment variables that override file values.
const (
	EnvTarget  = "WASM_RELEASE_TARGET"
	EnvProfile = "WASM_RELEASE_PROFILE"
	EnvOutDir  = "WASM_RELEASE_OUT_DIR"
	EnvName    = "WASM_RELEASE_NAME"
)

// Defaults returns the parameters used when nothing else is configured.
func Defaults() Params {
	return Params{
		Build: BuildParams{
			Target:  DefaultTarget,
			Profile: DefaultProfile,
			OutDir:  DefaultOutDir,
		},
		Crate:    CrateParams{Manifest: DefaultManifest},
		Bindgen:  BindgenParams{Host: DefaultHost},
		Optimize: OptimizeParams{Level: DefaultOptLevel},
		Tools: ToolsParams{
			Compiler:  ToolParams{Program: DefaultCompiler},
			Binder:    ToolParams{Program: DefaultBinder},
			Optimizer: ToolParams{Program: DefaultOptimizer},
		},
	}
}

// LoadFile reads parameters from the given TOML file on top of Defaults.
// If the file does not exist, defaults are returned without error.
// Environment variables always take precedence over file values:
//   - WASM_RELEASE_TARGET  overrides build.target
//   - WASM_RELEASE_PROFILE overrides build.profile
//   - WASM_RELEASE_OUT_DIR overrides build.out_dir
//   - WASM_RELEASE_NAME    overrides build.name
func LoadFile(path string) (Params, error) {
	p := Defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			md, err := toml.DecodeFile(path, &p)
			if err != nil {
				return Params{}, fmt.Errorf("parse %s: %w", path, err)
			}
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				sort.Strings(keys)
				return Params{}, fmt.Errorf("parse %s: unknown keys: %s", path, strings.Join(keys, ", "))
			}
		}
	}
	applyEnvOverrides(&p)
	return p, nil
}

func applyEnvOverrides(p *Params) {
	if v := os.Getenv(EnvTarget); v != "" {
		p.Build.Target = v
	}
	if v := os.Getenv(EnvProfile); v != "" {
		p.Build.Profile = v
	}
	if v := os.Getenv(EnvOutDir); v != "" {
		p.Build.OutDir = v
	}
	if v := os.Getenv(EnvName); v != "" {
		p.Build.Name = v
	}
}

// OptimizeEnabled reports the effective optimizer switch.
func (p OptimizeParams) OptimizeEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}
