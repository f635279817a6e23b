package irpass

import (
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/ssa"
)

// BuildCallGraph constructs the whole-program call graph with class
// hierarchy analysis (CHA) — the Go-native choice for an LLVM
// ModulePass's own conservative CallGraph analysis (see SPEC_FULL.md
// §4.G): CHA over-approximates interface/method dispatch rather than
// resolving it precisely, which is acceptable here because the taint pass
// only needs SCC order and direct-callee edges, not call-site precision.
func BuildCallGraph(prog *ssa.Program) *callgraph.Graph {
	return cha.CallGraph(prog)
}

// SCCs returns every strongly-connected component of g's function call
// graph, ordered callee-before-caller (bottom-up), the same traversal
// order LLVM's CallGraphSCCPass / scc_iterator gives a ModulePass: a
// function's callees are always fully processed before the function
// itself. Computed with Tarjan's algorithm, which naturally produces SCCs
// in reverse topological order.
func SCCs(g *callgraph.Graph) [][]*ssa.Function {
	t := &tarjan{
		index:   map[*ssa.Function]int{},
		lowlink: map[*ssa.Function]int{},
		onStack: map[*ssa.Function]bool{},
	}
	for fn, node := range g.Nodes {
		if fn == nil {
			continue
		}
		if _, ok := t.index[fn]; !ok {
			t.strongconnect(node)
		}
	}
	return t.sccs
}

type tarjan struct {
	next    int
	index   map[*ssa.Function]int
	lowlink map[*ssa.Function]int
	onStack map[*ssa.Function]bool
	stack   []*ssa.Function
	sccs    [][]*ssa.Function
}

func (t *tarjan) strongconnect(node *callgraph.Node) {
	fn := node.Func
	t.index[fn] = t.next
	t.lowlink[fn] = t.next
	t.next++
	t.stack = append(t.stack, fn)
	t.onStack[fn] = true

	for _, edge := range node.Out {
		calleeFn := edge.Callee.Func
		if calleeFn == nil {
			continue
		}
		if _, visited := t.index[calleeFn]; !visited {
			t.strongconnect(edge.Callee)
			if t.lowlink[calleeFn] < t.lowlink[fn] {
				t.lowlink[fn] = t.lowlink[calleeFn]
			}
		} else if t.onStack[calleeFn] {
			if t.index[calleeFn] < t.lowlink[fn] {
				t.lowlink[fn] = t.index[calleeFn]
			}
		}
	}

	if t.lowlink[fn] == t.index[fn] {
		var scc []*ssa.Function
		for {
			n := len(t.stack) - 1
			top := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[top] = false
			scc = append(scc, top)
			if top == fn {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

// DirectCallees returns every direct callee of fn in g, the equivalent of
// the original's dependency_graph edge set recorded per seed function.
func DirectCallees(g *callgraph.Graph, fn *ssa.Function) []*ssa.Function {
	node := g.Nodes[fn]
	if node == nil {
		return nil
	}
	var out []*ssa.Function
	seen := map[*ssa.Function]bool{}
	for _, edge := range node.Out {
		if edge.Callee.Func != nil && !seen[edge.Callee.Func] {
			seen[edge.Callee.Func] = true
			out = append(out, edge.Callee.Func)
		}
	}
	return out
}
