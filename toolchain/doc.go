// Package toolchain implements the pipeline stages on top of the standard
// Rust to WebAssembly tools: cargo, wasm-bindgen and wasm-opt.
//
// Every stage runs its tool through a toolexec.Runner, writes the tool's
// output into a scratch directory inside the staging directory and renames
// the result into place, so a failed stage leaves no partial artifact under
// the final name. Each stage also implements pipeline.Preflighter: the tool
// must resolve on PATH and, when the configuration carries a version
// constraint, report a matching version.
package toolchain
