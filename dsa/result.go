package dsa

import (
	"fmt"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
)

// Result holds the graphs of the bottom-up and top-down passes.
type Result struct {
	BottomUp *DataStructures
	TopDown  *DataStructures

	// Static call graph between analysed functions.
	CallGraph *callgraph.Graph
}

// DataStructures is the set of graphs produced by one pass.
type DataStructures struct {
	name    string
	graphs  map[*ssa.Function]*Graph
	globals *Graph
}

func (ds *DataStructures) Name() string { return ds.name }

// Graph returns the graph of fun, or nil if fun was not analysed.
func (ds *DataStructures) Graph(fun *ssa.Function) *Graph {
	return ds.graphs[fun]
}

func (ds *DataStructures) GlobalsGraph() *Graph { return ds.globals }

// Functions returns the analysed functions in a deterministic order.
func (ds *DataStructures) Functions() []*ssa.Function {
	funs := make([]*ssa.Function, 0, len(ds.graphs))
	for fun := range ds.graphs {
		funs = append(funs, fun)
	}
	sortFuncs(funs)
	return funs
}

// owners returns the graphs that may hold a cell for v.
func (ds *DataStructures) owners(v ssa.Value) []*Graph {
	switch v.(type) {
	case ssa.Instruction, *ssa.Parameter, *ssa.FreeVar:
		if g := ds.graphs[v.Parent()]; g != nil {
			return []*Graph{g}
		}
		return nil
	}

	owners := make([]*Graph, 0, len(ds.graphs)+1)
	for _, g := range ds.graphs {
		owners = append(owners, g)
	}
	return append(owners, ds.globals)
}

// DeleteValue removes v from every graph of the pass.
func (ds *DataStructures) DeleteValue(v ssa.Value) {
	for _, g := range ds.owners(v) {
		g.DeleteValue(v)
	}
}

// CopyValue gives to the cell of from in every graph that holds from. Cells
// do not cross function graphs: if to belongs to another function than from,
// that function's graph is left unchanged and keeps whatever cell it had for
// to.
func (ds *DataStructures) CopyValue(from, to ssa.Value) {
	if from == to {
		return
	}
	for _, g := range ds.owners(from) {
		g.CopyValue(from, to)
	}
}

// PointsTo returns the allocation sites that the pointer-like value v may
// refer to, as seen by the graph of v's function. Globals are resolved in the
// globals graph. The second result is false if the node of v is incomplete,
// in which case the sites are a lower bound.
func (ds *DataStructures) PointsTo(v ssa.Value) ([]ssa.Value, bool) {
	if !PointerLike(v.Type()) {
		panic(fmt.Errorf("the type of %v is not pointer-like", v))
	}

	g := ds.globals
	if fun := v.Parent(); fun != nil {
		if g = ds.graphs[fun]; g == nil {
			return nil, false
		}
	}

	h, found := g.Lookup(v)
	if !found {
		return nil, false
	}
	n := h.Node()
	if n == nil {
		return nil, true
	}

	sites := make([]ssa.Value, 0, len(n.sites)+len(n.globals))
	sites = append(sites, n.sites...)
	for _, gv := range n.globals {
		sites = append(sites, gv)
	}
	return sites, n.IsComplete()
}
