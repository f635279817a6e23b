package irpass

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// MaxOperandDepth bounds operandClosure's walk, matching
// KnobDependencyPass::max_depth in the original.
const MaxOperandDepth = 8

// Variable is one surviving interesting variable: a debug-declared source
// variable reachable (through the operand closure) from a loop induction,
// branch condition, or call argument inside a seed-reachable function.
type Variable struct {
	Function string
	Pos      token.Pos // resolved to file:line by the emitter, which carries the FileSet
	Name     string
	Type     string
	Tags     map[string]bool // "loop", "cond", "arg" — merged with '|' on emit
}

// GlobalRef records a package-level variable read by a seed function,
// mirroring knob_deps_pass.cc's gloab_vars set, emitted separately by
// SaveGlobalResult in the original.
type GlobalRef struct {
	Name string
	Type string
}

// Result is the taint pass's output: every surviving variable plus every
// referenced global, the direct input to the emitter (Component H).
type Result struct {
	Variables []Variable
	Globals   []GlobalRef
	SeedFuncs []string
}

// Run executes the whole pass: SCC-ordered seed detection, then a
// worklist expansion from every seed function through its direct callees,
// mirroring knob_deps_pass.cc::runOnModule.
func Run(prog *Program, seeds *SeedSet, filter EnvSchemaFilter) *Result {
	g := BuildCallGraph(prog.SSA)
	sccs := SCCs(g)

	res := &Result{}
	visited := map[*ssa.Function]bool{}
	var worklist []*ssa.Function
	globalsSeen := map[string]bool{}

	// Phase 1: SCC-ordered seed detection, bottom-up (callees first), same
	// traversal order as the original's scc_begin/scc_end loop.
	for _, scc := range sccs {
		for _, fn := range scc {
			if fn == nil || fn.Blocks == nil {
				continue
			}
			if filter.substrings != nil && !filter.Match(packagePath(fn)) {
				continue
			}
			if globals, isSeed := checkOnMVAndEGV(fn, seeds); isSeed {
				res.SeedFuncs = append(res.SeedFuncs, fn.String())
				worklist = append(worklist, fn)
				for _, gv := range globals {
					if !globalsSeen[gv.Name] {
						globalsSeen[gv.Name] = true
						res.Globals = append(res.Globals, gv)
					}
				}
				continue
			}

			// cheap pre-check: even a non-seed function may already carry
			// a taint-matching variable name reachable from its own loops
			// or branches, in which case it is enqueued too.
			idx := buildDebugIndex(fn)
			cheap := collectLoop(fn, idx)
			cheap = append(cheap, collectBranchesAndCalls(fn, idx)...)
			for _, v := range cheap {
				if seeds.Match(v.Name) {
					worklist = append(worklist, fn)
					break
				}
			}
		}
	}

	// Phase 2: worklist expansion through direct callees.
	for len(worklist) > 0 {
		fn := worklist[0]
		worklist = worklist[1:]
		if visited[fn] {
			continue
		}
		visited[fn] = true

		idx := buildDebugIndex(fn)
		vars := collectLoop(fn, idx)
		vars = append(vars, collectBranchesAndCalls(fn, idx)...)
		vars = mergeVariables(vars)
		for i := range vars {
			vars[i].Function = fn.String()
		}
		res.Variables = append(res.Variables, vars...)

		for _, callee := range DirectCallees(g, fn) {
			if callee != nil && !visited[callee] {
				worklist = append(worklist, callee)
			}
		}
	}

	return res
}

func packagePath(fn *ssa.Function) string {
	if fn.Pkg == nil || fn.Pkg.Pkg == nil {
		return ""
	}
	return fn.Pkg.Pkg.Path()
}

// checkOnMVAndEGV scans fn for (a) loads of an externally linked,
// package-level global whose name matches a seed, and (b) field accesses
// (FieldAddr/Field) into a struct whose field name matches a seed. It
// returns every matched global (for Result.Globals) and whether fn is a
// seed function at all.
func checkOnMVAndEGV(fn *ssa.Function, seeds *SeedSet) ([]GlobalRef, bool) {
	var globals []GlobalRef
	isSeed := false

	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			switch v := instr.(type) {
			case *ssa.UnOp:
				if g, ok := v.X.(*ssa.Global); ok {
					name := g.Object().Name()
					if seeds.Match(name) {
						isSeed = true
						globals = append(globals, GlobalRef{Name: name, Type: g.Type().String()})
					}
				}
			case *ssa.FieldAddr:
				if name, ok := structFieldName(v.X.Type(), v.Field); ok && seeds.Match(name) {
					isSeed = true
				}
			case *ssa.Field:
				if name, ok := structFieldName(v.X.Type(), v.Field); ok && seeds.Match(name) {
					isSeed = true
				}
			}
		}
	}
	return globals, isSeed
}

func structFieldName(t types.Type, index int) (string, bool) {
	for {
		if p, ok := t.Underlying().(*types.Pointer); ok {
			t = p.Elem()
			continue
		}
		break
	}
	st, ok := t.Underlying().(*types.Struct)
	if !ok || index < 0 || index >= st.NumFields() {
		return "", false
	}
	return st.Field(index).Name(), true
}

// collectLoop marks (a) every block-header Phi inside a natural loop as
// the induction-variable analogue, and (b) the non-constant operand of an
// Add/Sub/Mul/Quo/Rem binop whose other operand is a constant, mirroring
// knob_deps_pass.cc::collectOnLoop. Go SSA has no ScalarEvolution, so the
// AddRec/loop-invariant PHI cases from the original collapse into "any
// Phi reachable from a loop back-edge".
func collectLoop(fn *ssa.Function, idx debugIndex) []Variable {
	var out []Variable
	for _, edge := range backEdges(fn) {
		loop := naturalLoopBlocks(edge.tail, edge.header)
		for b := range loop {
			for _, instr := range b.Instrs {
				switch v := instr.(type) {
				case *ssa.Phi:
					out = append(out, resolveVariable(v, idx, "loop")...)
				case *ssa.BinOp:
					switch v.Op {
					case token.ADD, token.SUB, token.MUL, token.QUO, token.REM:
						out = append(out, collectNonConstOperand(v, idx, "loop")...)
					}
				}
			}
		}
	}
	return out
}

// collectBranchesAndCalls marks the condition operand of every branch
// whose successors contain further branching/calls, and every call
// argument, mirroring collectOnMultiple.
func collectBranchesAndCalls(fn *ssa.Function, idx debugIndex) []Variable {
	var out []Variable
	for _, b := range fn.Blocks {
		if iff, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); ok && brNeedCheck(b) {
			out = append(out, resolveVariable(iff.Cond, idx, "cond")...)
		}
		for _, instr := range b.Instrs {
			call, ok := instr.(*ssa.Call)
			if !ok {
				continue
			}
			for _, arg := range call.Call.Args {
				out = append(out, resolveVariable(arg, idx, "arg")...)
			}
		}
	}
	return out
}

// brNeedCheck reports whether b ends in a conditional branch and at least
// one of its successors contains a further branch, call, or invoke instruction,
// mirroring util.h's brNeedCheck.
func brNeedCheck(b *ssa.BasicBlock) bool {
	if len(b.Succs) < 2 {
		return false
	}
	for _, s := range b.Succs {
		for _, instr := range s.Instrs {
			switch instr.(type) {
			case *ssa.If, *ssa.Call:
				return true
			}
		}
	}
	return false
}

func collectNonConstOperand(v *ssa.BinOp, idx debugIndex, tag string) []Variable {
	_, xConst := v.X.(*ssa.Const)
	_, yConst := v.Y.(*ssa.Const)
	switch {
	case xConst && !yConst:
		return resolveVariable(v.Y, idx, tag)
	case yConst && !xConst:
		return resolveVariable(v.X, idx, tag)
	default:
		return nil
	}
}

type backEdge struct{ tail, header *ssa.BasicBlock }

func backEdges(fn *ssa.Function) []backEdge {
	var edges []backEdge
	for _, b := range fn.Blocks {
		for _, s := range b.Succs {
			if s.Dominates(b) {
				edges = append(edges, backEdge{tail: b, header: s})
			}
		}
	}
	return edges
}

// naturalLoopBlocks computes the natural loop for back edge tail->header
// by walking predecessors backward from tail until header is reached,
// the standard textbook construction (no analogue needed in the original,
// which gets this for free from LLVM's LoopInfo).
func naturalLoopBlocks(tail, header *ssa.BasicBlock) map[*ssa.BasicBlock]bool {
	loop := map[*ssa.BasicBlock]bool{header: true}
	stack := []*ssa.BasicBlock{tail}
	loop[tail] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range b.Preds {
			if !loop[p] {
				loop[p] = true
				stack = append(stack, p)
			}
		}
	}
	return loop
}

// debugIndex maps an SSA value to the source-level debug variable it was
// produced for, built once per function from its DebugRef instructions
// (present because ssabuild.go builds with ssa.GlobalDebug).
type debugIndex map[ssa.Value]types.Object

func buildDebugIndex(fn *ssa.Function) debugIndex {
	idx := debugIndex{}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if dr, ok := instr.(*ssa.DebugRef); ok && dr.Object != nil {
				idx[dr.X] = dr.Object
			}
		}
	}
	return idx
}

// resolveVariable walks v's operand closure up to MaxOperandDepth looking
// for a debug-declared source variable, mirroring
// knob_deps_pass.cc::extractVarMetaData + getOperand. Debug variables
// named "this" are skipped, the literal parity kept with the original's
// skip of C++'s implicit receiver.
func resolveVariable(v ssa.Value, idx debugIndex, tag string) []Variable {
	found := map[types.Object]bool{}
	operandClosure(v, idx, 0, map[ssa.Value]bool{}, found)

	var out []Variable
	for obj := range found {
		if obj.Name() == "this" {
			continue
		}
		out = append(out, Variable{
			Name: obj.Name(),
			Type: obj.Type().String(),
			Pos:  obj.Pos(),
			Tags: map[string]bool{tag: true},
		})
	}
	return out
}

func operandClosure(v ssa.Value, idx debugIndex, depth int, seen map[ssa.Value]bool, found map[types.Object]bool) {
	if v == nil || depth > MaxOperandDepth || seen[v] {
		return
	}
	seen[v] = true

	if obj, ok := idx[v]; ok {
		found[obj] = true
		return
	}

	instr, ok := v.(ssa.Instruction)
	if !ok {
		return
	}
	for _, op := range instr.Operands(nil) {
		if op == nil || *op == nil {
			continue
		}
		operandClosure(*op, idx, depth+1, seen, found)
	}
}

// mergeVariables combines Variable entries that share a declaration
// position (token.Pos) and Name, unioning their Tags maps, mirroring extractVarMetaData's
// "merge var_type into existing entries with a '|' separator".
func mergeVariables(vars []Variable) []Variable {
	type key struct {
		pos  token.Pos
		name string
	}
	merged := map[key]*Variable{}
	var order []key
	for _, v := range vars {
		k := key{v.Pos, v.Name}
		if existing, ok := merged[k]; ok {
			for t := range v.Tags {
				existing.Tags[t] = true
			}
			continue
		}
		cp := v
		cp.Tags = map[string]bool{}
		for t := range v.Tags {
			cp.Tags[t] = true
		}
		merged[k] = &cp
		order = append(order, k)
	}
	out := make([]Variable, 0, len(order))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out
}
