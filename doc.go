// Package wasmrelease builds a Rust crate into a deployable WebAssembly
// release: one binary and the loader glue a web host needs to call it.
//
// A release is a fixed, linear sequence of three external tools over a single
// staging directory:
//
//	cargo build --target <t>     -> <out>/<name>_bg.wasm   (raw)
//	wasm-bindgen --no-typescript -> <out>/<name>_bg.wasm   (bound)
//	                                <out>/<name>.js        (glue)
//	wasm-opt -Oz                 -> <out>/<name>_bg.wasm   (optimized)
//
// The first failure stops the run; nothing is retried.
//
// # Architecture Overview
//
//	wasmrelease/          Root package wiring the default toolchain
//	├── config/           Params, TOML loading and the immutable Build
//	├── pipeline/         Stage interfaces, state machine and driver
//	├── toolchain/        cargo, wasm-bindgen and wasm-opt stages
//	├── toolexec/         External process execution with captured output
//	├── artifact/         Artifact roles, staging layout and atomic commits
//	├── wasm/             Core module parsing and wazero validation
//	├── glue/             Loader glue surface extraction and checks
//	├── errors/           Structured error taxonomy and exit statuses
//	└── cmd/wasm-release  Command line front end
//
// # Quick Start
//
//	params, err := config.LoadFile("wasm-release.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.New(params)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := pipeline.New(cfg, wasmrelease.DefaultStages(cfg, &toolexec.Exec{}))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := p.Run(ctx)
//	if err != nil {
//	    fmt.Fprintln(os.Stderr, errors.DiagnosticOf(err))
//	    os.Exit(errors.ExitStatus(err))
//	}
//	fmt.Println(report.Binary.Path, report.Glue.Path)
//
// # Artifact Guarantees
//
// Every stage writes into a scratch directory next to the artifacts and
// renames its output into place, so the staging directory holds either the
// previous stage's output or the new one. The driver checks inputs before a
// stage starts and outputs after it ends; the optimized binary must export
// the same entry points, with the same signatures, as the bound one.
//
// # Thread Safety
//
// A Pipeline runs once, on one goroutine. Runs sharing an output directory
// and base name must be serialized by the caller; the command line front end
// does this with a lock file.
package wasmrelease
