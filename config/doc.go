// Package config turns caller-supplied parameters into the immutable build
// configuration one pipeline run uses.
//
// Parameters come from, in increasing precedence: Defaults, a TOML file
// (LoadFile), WASM_RELEASE_* environment variables, and whatever the caller
// sets afterwards (CLI flags). New validates the result against the crate's
// Cargo.toml and returns a Build, or a configuration error before any tool
// has been started.
//
// Example file:
//
//	[build]
//	target = "wasm32-unknown-unknown"
//	profile = "release"
//	features = ["webgl2"]
//	out_dir = "dist"
//	name = "game"
//
//	[optimize]
//	level = "Oz"
//
//	[tools.binder]
//	version = "^0.2.92"
package config
