package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/wippyai/wasm-release/artifact"
	"github.com/wippyai/wasm-release/errors"
)

// Supported cross-compilation targets.
const (
	TargetWasm32Unknown = "wasm32-unknown-unknown"
	TargetWasm32WASIp1  = "wasm32-wasip1"
)

var supportedTargets = []string{TargetWasm32Unknown, TargetWasm32WASIp1}

// SupportedTargets lists the targets New accepts.
func SupportedTargets() []string {
	return slices.Clone(supportedTargets)
}

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)
	profileRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	featureRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_+./-]*$`)
	optFlagRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

	optLevels = []string{"O", "O0", "O1", "O2", "O3", "O4", "Os", "Oz"}
	hosts     = []string{"web", "bundler", "no-modules", "nodejs", "deno", "experimental-nodejs-module"}
)

// Profile is a cargo build profile
type Profile string

const (
	ProfileRelease Profile = "release"
	ProfileDebug   Profile = "debug"
)

// CargoArgs returns the cargo flags selecting the profile.
func (p Profile) CargoArgs() []string {
	switch p {
	case ProfileRelease:
		return []string{"--release"}
	case ProfileDebug:
		return nil
	default:
		return []string{"--profile", string(p)}
	}
}

// OutputDir is the directory name cargo uses under target/<triple>/.
func (p Profile) OutputDir() string {
	if p == ProfileDebug || p == "dev" {
		return "debug"
	}
	return string(p)
}

// Tool is a validated tool reference
type Tool struct {
	Program    string
	Constraint *semver.Constraints // nil means any version
	Version    string              // constraint as written
}

// Tools holds the tool behind each stage
type Tools struct {
	Compiler  Tool
	Binder    Tool
	Optimizer Tool
}

// Optimize is the validated optimizer configuration
type Optimize struct {
	Enabled    bool
	Level      string
	Features   []string
	StripDebug bool
}

// Build is the immutable configuration of one pipeline run. It is created by
// New and never modified; accessors return copies.
type Build struct {
	target            string
	features          []string
	noDefaultFeatures bool
	profile           Profile
	layout            artifact.Layout
	host              string
	optimize          Optimize
	crate             Crate
	tools             Tools
}

// New validates p and returns the build configuration. Every error is a
// configuration error; nothing is executed.
func New(p Params) (*Build, error) {
	b := &Build{
		noDefaultFeatures: p.Build.NoDefaultFeatures,
	}

	if !slices.Contains(supportedTargets, p.Build.Target) {
		return nil, errors.Configuration("target", "unsupported target %q (supported: %s)",
			p.Build.Target, strings.Join(supportedTargets, ", "))
	}
	b.target = p.Build.Target

	if !profileRe.MatchString(p.Build.Profile) {
		return nil, errors.Configuration("profile", "invalid profile %q", p.Build.Profile)
	}
	b.profile = Profile(p.Build.Profile)

	if p.Crate.Manifest != "" {
		crate, err := ReadCrate(p.Crate.Manifest, p.Crate.TargetDir)
		if err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindConfiguration).
				Path(p.Crate.Manifest).Detail("crate.manifest: cannot read crate").Cause(err).Build()
		}
		b.crate = crate
	}

	features, err := validateFeatures(p.Build.Features, b.crate)
	if err != nil {
		return nil, err
	}
	b.features = features

	name := p.Build.Name
	if name == "" {
		name = strings.ReplaceAll(b.crate.Name, "-", "_")
	}
	if name == "" || name == "." || name == ".." || !nameRe.MatchString(name) {
		return nil, errors.Configuration("name", "invalid output base name %q", name)
	}

	if p.Build.OutDir == "" {
		return nil, errors.Configuration("out_dir", "output directory is required")
	}
	outDir, err := filepath.Abs(p.Build.OutDir)
	if err != nil {
		return nil, errors.Configuration("out_dir", "%v", err)
	}

	layout, err := validateLayout(outDir, name, p.Layout)
	if err != nil {
		return nil, err
	}
	b.layout = layout

	if !slices.Contains(hosts, p.Bindgen.Host) {
		return nil, errors.Configuration("bindgen.host", "unsupported host %q (supported: %s)",
			p.Bindgen.Host, strings.Join(hosts, ", "))
	}
	b.host = p.Bindgen.Host

	opt, err := validateOptimize(p.Optimize)
	if err != nil {
		return nil, err
	}
	b.optimize = opt

	tools, err := validateTools(p.Tools)
	if err != nil {
		return nil, err
	}
	b.tools = tools

	return b, nil
}

func validateFeatures(in []string, crate Crate) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if !featureRe.MatchString(f) {
			return nil, errors.Configuration("features", "invalid feature name %q", f)
		}
		// Without a manifest there is nothing to check membership against.
		if crate.ManifestPath != "" && !crate.Declares(f) {
			return nil, errors.Configuration("features", "feature %q is not declared by crate %s", f, crate.Name)
		}
		out = append(out, f)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func validateLayout(dir, name string, p LayoutParams) (artifact.Layout, error) {
	l := artifact.NewLayout(dir, name)
	if p.BinarySuffix != "" {
		l.BinarySuffix = p.BinarySuffix
	}
	if p.GlueSuffix != "" {
		l.GlueSuffix = p.GlueSuffix
	}
	for _, s := range []string{l.BinarySuffix, l.GlueSuffix} {
		if strings.ContainsAny(s, `/\`) {
			return artifact.Layout{}, errors.Configuration("layout", "suffix %q must not contain a path separator", s)
		}
	}
	if l.BinarySuffix == l.GlueSuffix {
		return artifact.Layout{}, errors.Configuration("layout", "binary and glue suffixes must differ")
	}
	return l, nil
}

func validateOptimize(p OptimizeParams) (Optimize, error) {
	o := Optimize{
		Enabled:    p.OptimizeEnabled(),
		Level:      strings.TrimPrefix(p.Level, "-"),
		StripDebug: p.StripDebug,
	}
	if o.Level == "" {
		o.Level = DefaultOptLevel
	}
	if !slices.Contains(optLevels, o.Level) {
		return Optimize{}, errors.Configuration("optimize.level", "unsupported level %q (supported: %s)",
			p.Level, strings.Join(optLevels, ", "))
	}
	for _, f := range p.Features {
		if !optFlagRe.MatchString(f) {
			return Optimize{}, errors.Configuration("optimize.features", "invalid feature %q", f)
		}
		o.Features = append(o.Features, f)
	}
	return o, nil
}

func validateTools(p ToolsParams) (Tools, error) {
	var t Tools
	for _, item := range []struct {
		key      string
		in       ToolParams
		fallback string
		out      *Tool
	}{
		{"tools.compiler", p.Compiler, DefaultCompiler, &t.Compiler},
		{"tools.binder", p.Binder, DefaultBinder, &t.Binder},
		{"tools.optimizer", p.Optimizer, DefaultOptimizer, &t.Optimizer},
	} {
		tool := Tool{Program: item.in.Program, Version: item.in.Version}
		if tool.Program == "" {
			tool.Program = item.fallback
		}
		if tool.Version != "" {
			c, err := semver.NewConstraint(tool.Version)
			if err != nil {
				return Tools{}, errors.Configuration(item.key, "invalid version constraint %q: %v", tool.Version, err)
			}
			tool.Constraint = c
		}
		*item.out = tool
	}
	return t, nil
}

// Target returns the cross-compilation target triple.
func (b *Build) Target() string { return b.target }

// Features returns the enabled crate features, sorted.
func (b *Build) Features() []string { return slices.Clone(b.features) }

// NoDefaultFeatures reports whether the crate's default features are disabled.
func (b *Build) NoDefaultFeatures() bool { return b.noDefaultFeatures }

// Profile returns the cargo profile.
func (b *Build) Profile() Profile { return b.profile }

// OutDir returns the absolute staging directory.
func (b *Build) OutDir() string { return b.layout.Dir }

// Name returns the output base name.
func (b *Build) Name() string { return b.layout.Name }

// Layout returns the artifact naming convention for this run.
func (b *Build) Layout() artifact.Layout { return b.layout }

// Host returns the binding generator's host runtime mode.
func (b *Build) Host() string { return b.host }

// Warnings lists settings that are valid but leave the artifact pair harder
// to use than the defaults would.
func (b *Build) Warnings() []string {
	if b.layout.BinarySuffix == artifact.DefaultBinarySuffix {
		return nil
	}
	bin := filepath.Base(b.layout.BinaryPath())
	switch b.host {
	case "web", "no-modules":
		return []string{fmt.Sprintf("glue for host %q loads %s%s by default; pass %s to init explicitly",
			b.host, b.layout.Name, artifact.DefaultBinarySuffix, bin)}
	default:
		return []string{fmt.Sprintf("glue for host %q imports %s%s by name and will not find %s",
			b.host, b.layout.Name, artifact.DefaultBinarySuffix, bin)}
	}
}

// Optimize returns the optimizer settings.
func (b *Build) Optimize() Optimize {
	o := b.optimize
	o.Features = slices.Clone(o.Features)
	return o
}

// Crate returns the crate metadata. Zero when no manifest was configured.
func (b *Build) Crate() Crate {
	c := b.crate
	c.Features = slices.Clone(c.Features)
	c.CrateTypes = slices.Clone(c.CrateTypes)
	return c
}

// Tools returns the tool references.
func (b *Build) Tools() Tools { return b.tools }
