package wasmrelease

import (
	"github.com/wippyai/wasm-release/config"
	"github.com/wippyai/wasm-release/pipeline"
	"github.com/wippyai/wasm-release/toolchain"
	"github.com/wippyai/wasm-release/toolexec"
)

// DefaultStages returns the cargo, wasm-bindgen and wasm-opt stages running
// through r. The optimizer is left out when cfg disables it.
func DefaultStages(cfg *config.Build, r toolexec.Runner) pipeline.Stages {
	stages := pipeline.Stages{
		Compiler: toolchain.NewCargo(r),
		Binder:   toolchain.NewWasmBindgen(r),
	}
	if cfg.Optimize().Enabled {
		stages.Optimizer = toolchain.NewWasmOpt(r)
	}
	return stages
}
