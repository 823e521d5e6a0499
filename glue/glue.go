// Package glue reads the structural surface of generated loader glue: the
// entry points it offers the host, the module exports it calls into, and the
// imports it provides to the module. Verify checks that surface against a
// module binary, which is how the pipeline proves the glue is still valid
// after the binary has been rewritten.
package glue

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/wippyai/wasm-release/wasm"
)

var (
	exportDeclRe = regexp.MustCompile(`(?m)^export\s+(?:async\s+)?(?:function\*?|class|const|let|var)\s+([A-Za-z_$][\w$]*)`)
	exportListRe = regexp.MustCompile(`(?m)^export\s*\{([^}]*)\}`)
	exportDefRe  = regexp.MustCompile(`(?m)^export\s+default\b`)
	wasmRefRe    = regexp.MustCompile(`\bwasm\.([A-Za-z_$][\w$]*)`)
	providedRe   = regexp.MustCompile(`\bimports\.([A-Za-z_$][\w$]*)\.([A-Za-z_$][\w$]*)\s*=`)
	localRe      = regexp.MustCompile(`\b(?:from|import)\s*\(?\s*['"](\.\.?/[^'"]+)['"]`)
)

// Surface is what the glue exposes and expects
type Surface struct {
	Exports  []string            // host-facing names, sorted
	WasmRefs []string            // module exports referenced as wasm.<name>, sorted
	Provided map[string][]string // import module -> names the glue supplies
	Local    []string            // relative module specifiers the glue imports, sorted
}

// Parse extracts the surface from loader glue source.
func Parse(src []byte) Surface {
	text := string(src)
	s := Surface{Provided: map[string][]string{}}

	for _, m := range exportDeclRe.FindAllStringSubmatch(text, -1) {
		s.Exports = append(s.Exports, m[1])
	}
	for _, m := range exportListRe.FindAllStringSubmatch(text, -1) {
		for _, item := range strings.Split(m[1], ",") {
			fields := strings.Fields(item)
			if len(fields) == 0 {
				continue
			}
			// "a as b" exports b
			s.Exports = append(s.Exports, fields[len(fields)-1])
		}
	}
	if exportDefRe.MatchString(text) {
		s.Exports = append(s.Exports, "default")
	}

	for _, m := range wasmRefRe.FindAllStringSubmatch(text, -1) {
		s.WasmRefs = append(s.WasmRefs, m[1])
	}
	for _, m := range providedRe.FindAllStringSubmatch(text, -1) {
		s.Provided[m[1]] = append(s.Provided[m[1]], m[2])
	}

	for _, m := range localRe.FindAllStringSubmatch(text, -1) {
		s.Local = append(s.Local, m[1])
	}

	s.Exports = sortedUnique(s.Exports)
	s.Local = sortedUnique(s.Local)
	s.WasmRefs = sortedUnique(s.WasmRefs)
	for k, v := range s.Provided {
		s.Provided[k] = sortedUnique(v)
	}
	return s
}

func sortedUnique(in []string) []string {
	slices.Sort(in)
	return slices.Compact(in)
}

// Equal reports whether two surfaces are structurally identical
func (s Surface) Equal(o Surface) bool {
	if !slices.Equal(s.Exports, o.Exports) || !slices.Equal(s.WasmRefs, o.WasmRefs) || !slices.Equal(s.Local, o.Local) {
		return false
	}
	if len(s.Provided) != len(o.Provided) {
		return false
	}
	for k, v := range s.Provided {
		if !slices.Equal(v, o.Provided[k]) {
			return false
		}
	}
	return true
}

// MismatchError lists where the glue and the module disagree
type MismatchError struct {
	Unresolved []string // wasm.<name> references with no module export
	Missing    []string // module imports from a glue-provided namespace that the glue lacks
}

func (e *MismatchError) Error() string {
	var parts []string
	if len(e.Unresolved) > 0 {
		parts = append(parts, fmt.Sprintf("glue references missing exports: %s", strings.Join(e.Unresolved, ", ")))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("module imports not provided by glue: %s", strings.Join(e.Missing, ", ")))
	}
	return strings.Join(parts, "; ")
}

// Verify checks that every module export the glue calls exists, and that
// every function the module imports from a namespace the glue populates is
// actually provided. Imports from namespaces the glue never mentions are
// left to the host.
func (s Surface) Verify(m *wasm.Module) error {
	var e MismatchError
	for _, ref := range s.WasmRefs {
		if !m.HasExport(ref) {
			e.Unresolved = append(e.Unresolved, ref)
		}
	}
	for _, imp := range m.Imports {
		names, ok := s.Provided[imp.Module]
		if !ok {
			continue
		}
		if _, found := slices.BinarySearch(names, imp.Name); !found {
			e.Missing = append(e.Missing, imp.Module+"."+imp.Name)
		}
	}
	if len(e.Unresolved) == 0 && len(e.Missing) == 0 {
		return nil
	}
	return &e
}

// MissingFiles returns the relative imports that do not resolve to a file
// under dir, the directory holding the glue.
func (s Surface) MissingFiles(dir string) []string {
	var missing []string
	for _, spec := range s.Local {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(spec)))
		if err != nil || info.IsDir() {
			missing = append(missing, spec)
		}
	}
	return missing
}
