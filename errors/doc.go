// Package errors provides structured error types for the release pipeline.
//
// Errors are categorized by Phase (which pipeline step raised the error) and
// Kind (configuration, tool invocation, stage failure, artifact consistency).
// Every kind is fatal to the current run; nothing here is retried.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBind, errors.KindStageFailure).
//		Tool("wasm-bindgen").
//		ExitCode(1).
//		Diagnostic(stderr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Configuration("target", "unsupported target %q", target)
//	err := errors.ArtifactMissing(errors.PhaseOptimize, "bound", path)
//
// All errors implement the standard error interface and support errors.Is/As.
// A target with an empty Phase matches errors of that Kind raised in any phase.
package errors
