package irpass

import (
	"bufio"
	"fmt"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/exp/slices"
)

// DefaultSchemaPath and DefaultSrc2BasicBlockPath mirror util.h's
// SCHEMA_FILE/SRC2BASICBLOCK_FILE macros. Emitter writes only the schema
// file; nothing in this package writes DefaultSrc2BasicBlockPath.
const (
	DefaultSchemaPath         = "/tmp/knob_profiler/schema.txt"
	DefaultSrc2BasicBlockPath = "/tmp/knob_profiler/src2basicblock.txt"
	DefaultSourceSuffix       = ".go"
)

// Emitter writes a Result out as the schema.txt line format SaveResult and
// SaveGlobalResult produce, one line per surviving variable:
//
//	directory filename function line name type tag
//
// consumed downstream by config.go's LoadConfig (by way of whatever
// converts schema.txt into the /tmp/vprof/info.txt wire format — see
// SPEC_FULL.md §4.H).
type Emitter struct {
	FileSet      *token.FileSet
	SchemaPath   string
	SourceSuffix string
}

// NewEmitter returns an Emitter with the package defaults.
func NewEmitter(fset *token.FileSet) *Emitter {
	return &Emitter{
		FileSet:      fset,
		SchemaPath:   DefaultSchemaPath,
		SourceSuffix: DefaultSourceSuffix,
	}
}

// Write appends res's variables and globals to e.SchemaPath, skipping any
// variable whose source file doesn't end in e.SourceSuffix, mirroring
// SaveResult's hasSuffix(filename, ".cc") filter.
func (e *Emitter) Write(res *Result) error {
	if err := os.MkdirAll(filepath.Dir(e.SchemaPath), 0o755); err != nil {
		return fmt.Errorf("irpass: create schema dir: %w", err)
	}
	f, err := os.OpenFile(e.SchemaPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("irpass: open schema file: %w", err)
	}
	defer f.Close()

	// sorted for deterministic output across runs (map-ordered SCC/worklist
	// traversal would otherwise reorder lines between identical analyses).
	vars := append([]Variable(nil), res.Variables...)
	slices.SortFunc(vars, func(a, b Variable) bool {
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
		return a.Name < b.Name
	})

	w := bufio.NewWriter(f)
	for _, v := range vars {
		if err := e.writeVariable(w, v); err != nil {
			return err
		}
	}

	globals := append([]GlobalRef(nil), res.Globals...)
	slices.SortFunc(globals, func(a, b GlobalRef) bool { return a.Name < b.Name })
	for _, g := range globals {
		e.writeGlobal(w, g)
	}
	return w.Flush()
}

func (e *Emitter) writeVariable(w *bufio.Writer, v Variable) error {
	if v.Pos == token.NoPos {
		return nil
	}
	pos := e.FileSet.Position(v.Pos)
	if e.SourceSuffix != "" && !strings.HasSuffix(pos.Filename, e.SourceSuffix) {
		return nil
	}

	dir, file := filepath.Split(pos.Filename)
	name := demangleName(v.Function)
	tag := mergeTags(v.Tags)

	_, err := fmt.Fprintf(w, "%s %s %s %d %s %s %s\n",
		dir, file, name, pos.Line, v.Name, sanitizeType(v.Type), tag)
	return err
}

func (e *Emitter) writeGlobal(w *bufio.Writer, g GlobalRef) {
	// Globals carry no file/line in this repository's Go-native source of
	// truth (go/types.Object positions are resolved per use site, not per
	// declaration in a way that matches "#global"'s original semantics),
	// so the directory/filename columns are left blank.
	fmt.Fprintf(w, "%s %s %s %d %s %s %s\n",
		"", "", "#global", 0, g.Name, sanitizeType(g.Type), "globalvar")
}

// demangleName mirrors cxxabi_demangle: try to demangle, trim anything
// from the first '(' onward, and fall back to the raw name on failure.
// Go symbols are never C++-mangled, but this repository's build may still
// link against cgo-exported C++ units whose call sites end up named in
// the schema, so the demangler is kept in the path rather than dropped.
func demangleName(name string) string {
	out, err := demangle.ToString(name)
	if err != nil {
		return name
	}
	if i := strings.IndexByte(out, '('); i >= 0 {
		out = out[:i]
	}
	return out
}

func sanitizeType(t string) string {
	t = strings.ReplaceAll(t, " ", "#")
	if t == "" || t == "#" {
		return "uintptr"
	}
	return t
}

func mergeTags(tags map[string]bool) string {
	if len(tags) == 0 {
		return "unknown"
	}
	var parts []string
	for _, want := range []string{"loop", "cond", "arg"} {
		if tags[want] {
			parts = append(parts, want)
		}
	}
	return strings.Join(parts, "|")
}
