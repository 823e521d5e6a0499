package wasm

import (
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-release/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic    = errors.New("invalid wasm magic number")
	ErrInvalidVersion  = errors.New("invalid wasm version")
	ErrUnsupportedType = errors.New("unsupported type definition")
)

// ParseModule parses the section structure of a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}

	// Section IDs are not in canonical order: Tag(13) sits between Memory and
	// Global, DataCount(12) between Element and Code.
	var lastSectionOrder int

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, r.WrapError("section header", fmt.Errorf("unknown section ID: 0x%02x", sectionID))
			}
			if order <= lastSectionOrder {
				return nil, r.WrapError("section header", fmt.Errorf("section 0x%02x out of order", sectionID))
			}
			lastSectionOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sr, err := r.Sub(int(size))
		if err != nil {
			return nil, r.WrapError("section body", err)
		}

		var parse func(*binary.Reader, *Module) error
		name := sectionName(sectionID)
		switch sectionID {
		case SectionCustom:
			parse = parseCustomSection
		case SectionType:
			parse = parseTypeSection
		case SectionImport:
			parse = parseImportSection
		case SectionFunction:
			parse = parseFunctionSection
		case SectionExport:
			parse = parseExportSection
		case SectionCode:
			m.HasCode = size > 0
			continue
		default:
			continue
		}

		if err := parse(sr, m); err != nil {
			return nil, fmt.Errorf("%s section: %w", name, err)
		}
		if sectionID != SectionCustom && sr.Len() != 0 {
			return nil, sr.WrapError(name+" section", fmt.Errorf("%d trailing bytes", sr.Len()))
		}
	}

	if err := m.checkIndices(); err != nil {
		return nil, err
	}
	return m, nil
}

// sectionOrder returns the canonical ordering for a section ID, 0 if unknown.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}

func sectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionExport:
		return "export"
	default:
		return fmt.Sprintf("section 0x%02x", id)
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, name)
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("type count %d exceeds section size", count)
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: form 0x%02x: %w", i, form, ErrUnsupportedType)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if int(count) > r.Len() {
		return nil, fmt.Errorf("value type count %d exceeds section size", count)
	}
	out := make([]ValType, count)
	for i := range out {
		vt, err := readValType(r)
		if err != nil {
			return nil, err
		}
		out[i] = vt
	}
	return out, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	vt := ValType(b)
	if vt == ValRefNull || vt == ValRef {
		// heap type, s33
		if _, err := r.ReadS64(); err != nil {
			return 0, err
		}
	}
	return vt, nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("import count %d exceeds section size", count)
	}
	for i := uint32(0); i < count; i++ {
		mod, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch kind {
		case KindFunc:
			idx, err := r.ReadU32()
			if err != nil {
				return err
			}
			m.ImportedFuncs = append(m.ImportedFuncs, idx)
		case KindTable:
			if _, err := readValType(r); err != nil {
				return err
			}
			if err := skipLimits(r); err != nil {
				return err
			}
		case KindMemory:
			if err := skipLimits(r); err != nil {
				return err
			}
		case KindGlobal:
			if _, err := readValType(r); err != nil {
				return err
			}
			if _, err := r.ReadByte(); err != nil {
				return err
			}
		case KindTag:
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid import kind: 0x%02x", kind)
		}
		m.Imports = append(m.Imports, Import{Module: mod, Name: name, Kind: kind})
	}
	return nil
}

func skipLimits(r *binary.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if _, err := r.ReadU64(); err != nil {
		return err
	}
	if flags&limitsHasMax != 0 {
		if _, err := r.ReadU64(); err != nil {
			return err
		}
	}
	if flags&limitsPageSize != 0 {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) > r.Len() {
		return fmt.Errorf("function count %d exceeds section size", count)
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Funcs[i] = idx
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	// each export takes at least three bytes: name length, kind, index
	if int(count) > r.Len()/3 {
		return fmt.Errorf("export count %d exceeds section size", count)
	}
	seen := make(map[string]bool, count)
	m.Exports = make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("duplicate export name %q", name)
		}
		seen[name] = true
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func (m *Module) checkIndices() error {
	for i, t := range m.ImportedFuncs {
		if int(t) >= len(m.Types) {
			return fmt.Errorf("imported function %d: type index %d out of range", i, t)
		}
	}
	for i, t := range m.Funcs {
		if int(t) >= len(m.Types) {
			return fmt.Errorf("function %d: type index %d out of range", i, t)
		}
	}
	if len(m.Funcs) > 0 && !m.HasCode {
		return fmt.Errorf("%d functions declared without a code section", len(m.Funcs))
	}
	total := len(m.ImportedFuncs) + len(m.Funcs)
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc && int(exp.Idx) >= total {
			return fmt.Errorf("export %q: function index %d out of range", exp.Name, exp.Idx)
		}
	}
	return nil
}
