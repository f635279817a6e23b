package irpass

import (
	"fmt"
	"go/token"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Program is the built whole-module SSA representation that taint.go and
// callgraph.go operate over, the Go-native stand-in for an LLVM Module
// with attached debug info. Variables carry their own go/types.Object and
// token.Position, so no separate debug-info side table is needed.
type Program struct {
	SSA  *ssa.Program
	Pkgs []*ssa.Package
	Fset *token.FileSet
}

// Load resolves patterns (package import paths or "./..."-style paths)
// with go/packages, builds the corresponding SSA program with debug-ref
// instructions retained, and builds every function body so the taint
// analysis can walk instructions immediately.
func Load(dir string, patterns ...string) (*Program, error) {
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
			packages.NeedSyntax | packages.NeedTypesInfo,
		Dir:  dir,
		Fset: fset,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("irpass: load packages: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("irpass: errors loading %v", patterns)
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.BuilderMode(ssa.GlobalDebug))
	prog.Build()

	var built []*ssa.Package
	for _, p := range ssaPkgs {
		if p != nil {
			built = append(built, p)
		}
	}

	return &Program{SSA: prog, Pkgs: built, Fset: fset}, nil
}

// Functions returns every package-level function of every loaded package,
// each followed by its anonymous functions. Methods are not included, and
// the order follows map iteration over each package's Members, so it is
// not stable between calls.
func (p *Program) Functions() []*ssa.Function {
	var out []*ssa.Function
	seen := map[*ssa.Function]bool{}
	var walk func(*ssa.Function)
	walk = func(f *ssa.Function) {
		if f == nil || seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
		for _, anon := range f.AnonFuncs {
			walk(anon)
		}
	}
	for _, pkg := range p.Pkgs {
		for _, m := range pkg.Members {
			if f, ok := m.(*ssa.Function); ok {
				walk(f)
			}
		}
	}
	return out
}
