package wasm

import (
	"fmt"
	"slices"
	"strings"
)

// ValType is a WebAssembly value type
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	case ValRefNull:
		return "ref null"
	case ValRef:
		return "ref"
	default:
		return fmt.Sprintf("0x%02x", byte(v))
	}
}

// FuncType is a function signature
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (f FuncType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range f.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	switch len(f.Results) {
	case 0:
	case 1:
		b.WriteString(" -> ")
		b.WriteString(f.Results[0].String())
	default:
		b.WriteString(" -> (")
		for i, r := range f.Results {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(r.String())
		}
		b.WriteByte(')')
	}
	return b.String()
}

// Equal reports whether two signatures are identical
func (f FuncType) Equal(o FuncType) bool {
	return slices.Equal(f.Params, o.Params) && slices.Equal(f.Results, o.Results)
}

// Import is an entry of the import section
type Import struct {
	Module string
	Name   string
	Kind   byte
}

// Export is an entry of the export section
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Module holds the parts of a core module the pipeline inspects
type Module struct {
	Types          []FuncType
	Imports        []Import
	ImportedFuncs  []uint32 // type indices of imported functions, in import order
	Funcs          []uint32 // type indices of defined functions
	Exports        []Export
	CustomSections []string // names, in file order
	HasCode        bool
}

// FuncTypeAt returns the signature of the function at idx in the function
// index space (imports first, then defined functions).
func (m *Module) FuncTypeAt(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	switch {
	case int(idx) < len(m.ImportedFuncs):
		typeIdx = m.ImportedFuncs[idx]
	case int(idx)-len(m.ImportedFuncs) < len(m.Funcs):
		typeIdx = m.Funcs[int(idx)-len(m.ImportedFuncs)]
	default:
		return FuncType{}, false
	}
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// Entry is an exported function with its signature
type Entry struct {
	Name string
	Type FuncType
}

func (e Entry) String() string {
	return e.Name + e.Type.String()
}

// Entries returns the exported functions sorted by name.
func (m *Module) Entries() []Entry {
	var out []Entry
	for _, exp := range m.Exports {
		if exp.Kind != KindFunc {
			continue
		}
		ft, _ := m.FuncTypeAt(exp.Idx)
		out = append(out, Entry{Name: exp.Name, Type: ft})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// ExportNames returns the names of all exports of any kind, sorted.
func (m *Module) ExportNames() []string {
	names := make([]string, 0, len(m.Exports))
	for _, exp := range m.Exports {
		names = append(names, exp.Name)
	}
	slices.Sort(names)
	return names
}

// HasExport reports whether the module exports name with any kind.
func (m *Module) HasExport(name string) bool {
	for _, exp := range m.Exports {
		if exp.Name == name {
			return true
		}
	}
	return false
}

// DiffEntries lists the differences between two export sets: entries that
// disappeared, appeared, or changed signature. Empty means identical.
func DiffEntries(before, after []Entry) []string {
	index := make(map[string]FuncType, len(after))
	for _, e := range after {
		index[e.Name] = e.Type
	}
	var diffs []string
	seen := make(map[string]bool, len(before))
	for _, e := range before {
		seen[e.Name] = true
		got, ok := index[e.Name]
		switch {
		case !ok:
			diffs = append(diffs, fmt.Sprintf("removed %s", e))
		case !got.Equal(e.Type):
			diffs = append(diffs, fmt.Sprintf("changed %s to %s%s", e, e.Name, got))
		}
	}
	for _, e := range after {
		if !seen[e.Name] {
			diffs = append(diffs, fmt.Sprintf("added %s", e))
		}
	}
	return diffs
}
