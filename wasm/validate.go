package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Validator fully validates modules by compiling them with wazero.
// Nothing is instantiated; imports are not resolved.
type Validator struct {
	mu      sync.Mutex
	runtime wazero.Runtime
}

// NewValidator creates a validator accepting the WebAssembly 2.0 feature set.
func NewValidator(ctx context.Context) *Validator {
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2)
	return &Validator{runtime: wazero.NewRuntimeWithConfig(ctx, cfg)}
}

// Validate parses data, compiles it with wazero and checks that both agree
// on the exported function signatures.
func (v *Validator) Validate(ctx context.Context, data []byte) (*Module, error) {
	m, err := ParseModule(data)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	compiled, err := v.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	defer compiled.Close(ctx)

	defs := compiled.ExportedFunctions()
	for _, e := range m.Entries() {
		def, ok := defs[e.Name]
		if !ok {
			return nil, fmt.Errorf("export %q not visible to runtime", e.Name)
		}
		if !sameTypes(def.ParamTypes(), e.Type.Params) || !sameTypes(def.ResultTypes(), e.Type.Results) {
			return nil, fmt.Errorf("export %q: signature mismatch", e.Name)
		}
	}
	return m, nil
}

// Close releases the underlying runtime.
func (v *Validator) Close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}

func sameTypes(rt []api.ValueType, vt []ValType) bool {
	if len(rt) != len(vt) {
		return false
	}
	for i := range rt {
		if byte(rt[i]) != byte(vt[i]) {
			return false
		}
	}
	return true
}
