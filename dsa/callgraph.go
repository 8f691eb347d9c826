package dsa

import (
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
)

// buildCallGraph returns the graph of the static call sites recorded by the
// local pass.
func buildCallGraph(funs []*ssa.Function, graphs map[*ssa.Function]*Graph) *callgraph.Graph {
	cg := callgraph.New(nil)
	for _, fun := range funs {
		n := cg.CreateNode(fun)
		for _, cs := range graphs[fun].calls {
			callgraph.AddEdge(n, cs.Instr, cg.CreateNode(cs.Callee))
		}
	}
	return cg
}

// postOrder lists the analysed functions such that callees precede their
// callers, except along cycles.
func postOrder(funs []*ssa.Function, cg *callgraph.Graph) []*ssa.Function {
	order := make([]*ssa.Function, 0, len(funs))
	seen := make(map[*ssa.Function]bool, len(funs))

	var visit func(n *callgraph.Node)
	visit = func(n *callgraph.Node) {
		seen[n.Func] = true
		for _, e := range n.Out {
			if !seen[e.Callee.Func] {
				visit(e.Callee)
			}
		}
		order = append(order, n.Func)
	}

	for _, fun := range funs {
		if !seen[fun] {
			visit(cg.Nodes[fun])
		}
	}
	return order
}

// addressTaken returns the functions that are used as values, and may
// therefore be called from places the static call graph does not know.
func addressTaken(funs []*ssa.Function) map[*ssa.Function]bool {
	taken := make(map[*ssa.Function]bool)
	var rands []*ssa.Value
	for _, fun := range funs {
		for _, block := range fun.Blocks {
			for _, insn := range block.Instrs {
				var callee *ssa.Value
				if call, ok := insn.(ssa.CallInstruction); ok {
					callee = &call.Common().Value
				}

				rands = insn.Operands(rands[:0])
				for _, rand := range rands {
					if f, ok := (*rand).(*ssa.Function); ok && rand != callee {
						taken[f] = true
					}
				}
			}
		}
	}
	return taken
}

// hasKnownCallers reports whether every call of fun is a static call site in
// the analysed program.
func (a *state) hasKnownCallers(fun *ssa.Function) bool {
	switch {
	case fun.Pkg == nil,
		fun.Signature.Recv() != nil,
		a.addressTaken[fun],
		fun.Parent() == nil && (fun.Name() == "main" || isInit(fun)):
		return false
	}

	if !a.config.ClosedWorld {
		if obj := fun.Object(); obj != nil && obj.Exported() {
			return false
		}
	}

	return true
}

func isInit(fun *ssa.Function) bool {
	name := fun.Name()
	return name == "init" || len(name) > 5 && name[:5] == "init#"
}
