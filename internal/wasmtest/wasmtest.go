// Package wasmtest encodes small, valid core modules for tests.
package wasmtest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/wippyai/wasm-release/wasm"
)

// Func is a function signature with a name. Defined functions return zero
// values; imported functions use Module as their import module.
type Func struct {
	Module  string
	Name    string
	Params  []wasm.ValType
	Results []wasm.ValType
}

// Custom is a custom section
type Custom struct {
	Name string
	Data []byte
}

// Module describes the module to encode
type Module struct {
	Imports      []Func
	Exports      []Func
	Unexported   int // extra defined functions that are not exported
	ExportMemory bool
	Custom       []Custom
}

// Fn is shorthand for an exported function.
func Fn(name string, params []wasm.ValType, results ...wasm.ValType) Func {
	return Func{Name: name, Params: params, Results: results}
}

// Build encodes a module exporting funcs.
func Build(funcs ...Func) []byte {
	return Module{Exports: funcs}.Encode()
}

// Encode returns the module binary.
func (m Module) Encode() []byte {
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, wasm.Magic)
	binary.Write(&out, binary.LittleEndian, wasm.Version)

	defined := append([]Func(nil), m.Exports...)
	for i := 0; i < m.Unexported; i++ {
		defined = append(defined, Func{Name: fmt.Sprintf("internal%d", i)})
	}

	var types writer
	types.u32(uint32(len(m.Imports) + len(defined)))
	for _, f := range append(append([]Func(nil), m.Imports...), defined...) {
		types.byte(wasm.FuncTypeByte)
		types.valTypes(f.Params)
		types.valTypes(f.Results)
	}
	section(&out, wasm.SectionType, types.Bytes())

	if len(m.Imports) > 0 {
		var imports writer
		imports.u32(uint32(len(m.Imports)))
		for i, f := range m.Imports {
			imports.name(f.Module)
			imports.name(f.Name)
			imports.byte(wasm.KindFunc)
			imports.u32(uint32(i))
		}
		section(&out, wasm.SectionImport, imports.Bytes())
	}

	var funcs writer
	funcs.u32(uint32(len(defined)))
	for i := range defined {
		funcs.u32(uint32(len(m.Imports) + i))
	}
	section(&out, wasm.SectionFunction, funcs.Bytes())

	if m.ExportMemory {
		var mem writer
		mem.u32(1)
		mem.byte(0x00)
		mem.u32(1)
		section(&out, wasm.SectionMemory, mem.Bytes())
	}

	var exports writer
	count := len(m.Exports)
	if m.ExportMemory {
		count++
	}
	exports.u32(uint32(count))
	for i, f := range m.Exports {
		exports.name(f.Name)
		exports.byte(wasm.KindFunc)
		exports.u32(uint32(len(m.Imports) + i))
	}
	if m.ExportMemory {
		exports.name("memory")
		exports.byte(wasm.KindMemory)
		exports.u32(0)
	}
	section(&out, wasm.SectionExport, exports.Bytes())

	var code writer
	code.u32(uint32(len(defined)))
	for _, f := range defined {
		var body writer
		body.u32(0) // no locals
		for _, r := range f.Results {
			body.zero(r)
		}
		body.byte(0x0b) // end
		code.u32(uint32(body.Len()))
		code.Write(body.Bytes())
	}
	section(&out, wasm.SectionCode, code.Bytes())

	for _, c := range m.Custom {
		var cs writer
		cs.name(c.Name)
		cs.Write(c.Data)
		section(&out, wasm.SectionCustom, cs.Bytes())
	}

	return out.Bytes()
}

func section(out *bytes.Buffer, id byte, payload []byte) {
	var w writer
	w.byte(id)
	w.u32(uint32(len(payload)))
	w.Write(payload)
	out.Write(w.Bytes())
}

type writer struct {
	bytes.Buffer
}

func (w *writer) byte(b byte) {
	w.WriteByte(b)
}

func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.WriteString(s)
}

func (w *writer) valTypes(vts []wasm.ValType) {
	w.u32(uint32(len(vts)))
	for _, vt := range vts {
		w.byte(byte(vt))
	}
}

// zero pushes the zero value of vt.
func (w *writer) zero(vt wasm.ValType) {
	switch vt {
	case wasm.ValI32:
		w.Write([]byte{0x41, 0x00})
	case wasm.ValI64:
		w.Write([]byte{0x42, 0x00})
	case wasm.ValF32:
		w.byte(0x43)
		w.Write(make([]byte, 4))
	case wasm.ValF64:
		w.byte(0x44)
		w.Write(make([]byte, 8))
	default:
		panic(fmt.Sprintf("wasmtest: no zero value for %s", vt))
	}
}
