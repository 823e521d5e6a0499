// Package pipeline drives a release build through its three stages:
// compile, bind and optimize.
//
// Each stage is a capability interface with a single method taking the
// build configuration and returning a StageResult, so toolchains and test
// doubles plug in without touching the driver:
//
//	p, err := pipeline.New(cfg, pipeline.Stages{
//	    Compiler:  toolchain.NewCargo(runner),
//	    Binder:    toolchain.NewWasmBindgen(runner),
//	    Optimizer: toolchain.NewWasmOpt(runner),
//	})
//	report, err := p.Run(ctx)
//
// # State Machine
//
//	NotStarted -> Compiling -> Binding -> Optimizing -> Done
//	                  |           |            |
//	                  +-----------+------------+--> Failed
//
// Binding goes straight to Done when the optimizer is disabled. Done and
// Failed are terminal and a Pipeline runs once; build a new one to retry.
//
// # Artifact Checks
//
// Before a stage starts, every artifact it reads must exist, be non-empty
// and parse as a module. After binding, the exported entry points and the
// glue surface are recorded; after optimizing, the binary must validate and
// export exactly the same entry points, and the glue must still resolve
// against it. Violations are artifact consistency errors.
//
// # Concurrency
//
// Run is sequential and blocks on each tool. The staging directory must be
// owned by one run: callers serialize runs sharing an output directory and
// base name. The pipeline takes no locks.
package pipeline
