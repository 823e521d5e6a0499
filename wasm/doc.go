// Package wasm inspects WebAssembly core module binaries produced by the
// release pipeline.
//
// ParseModule walks the section structure of a module: it checks the header
// and canonical section order, decodes the type, import, function and export
// sections, records custom section names, and skips the rest by size. That is
// enough to answer the questions the pipeline asks between stages: is this a
// well-formed module, and which entry points does it export with which
// signatures.
//
// Validator goes further and compiles the module with wazero, which performs
// full validation of function bodies.
//
//	m, err := wasm.ParseModule(data)
//	for _, e := range m.Entries() {
//	    fmt.Println(e) // greet(i32, i32) -> i32
//	}
//
// GC proposal type definitions (rec groups, struct and array types) are not
// supported and are reported as ErrUnsupportedType.
package wasm
