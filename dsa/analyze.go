// Package dsa implements Data Structure Analysis over go/ssa: a
// field-sensitive, unification-based points-to analysis that partitions the
// memory of a program into nodes and records, per function, which node and
// offset every pointer value refers to.
//
// Graphs are built in three passes. The local pass summarises each function
// on its own. The bottom-up pass inlines callee graphs into their callers.
// The top-down pass inlines caller contexts into callees whose call sites are
// all known. A node is complete when no code outside the graph can reach it.
package dsa

import (
	"errors"
	"go/types"

	"go.uber.org/zap"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
	"golang.org/x/tools/go/types/typeutil"
)

var ErrNotImplemented = errors.New("not implemented")

type Config struct {
	Program *ssa.Program

	// Functions to analyse. When nil, every function of Program is analysed.
	// Calls to functions outside the set are treated as unknown code.
	Functions []*ssa.Function

	// Data layout used to compute field offsets. Defaults to gc/amd64.
	Sizes types.Sizes

	// When ClosedWorld is true, exported functions and variables are assumed
	// to be used only by the analysed functions.
	ClosedWorld bool

	Logger *zap.Logger
}

type state struct {
	config Config
	logger *zap.SugaredLogger
	layout *layout

	funs         []*ssa.Function
	analysed     map[*ssa.Function]bool
	addressTaken map[*ssa.Function]bool
	cg           *callgraph.Graph
}

// Analyze runs the local, bottom-up and top-down passes.
func Analyze(config Config) *Result {
	if config.Sizes == nil {
		config.Sizes = types.SizesFor("gc", "amd64")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	funs := config.Functions
	if funs == nil {
		for fun := range ssautil.AllFunctions(config.Program) {
			funs = append(funs, fun)
		}
	}

	a := &state{
		config:   config,
		logger:   config.Logger.Sugar(),
		layout:   newLayout(config.Sizes, typeutil.MakeHasher()),
		analysed: make(map[*ssa.Function]bool),
	}

	for _, fun := range funs {
		// Generic functions are analysed through their instantiations.
		if len(fun.Blocks) == 0 || fun.TypeParams().Len() > len(fun.TypeArgs()) ||
			a.analysed[fun] {
			continue
		}
		a.analysed[fun] = true
		a.funs = append(a.funs, fun)
	}
	sortFuncs(a.funs)

	local := a.local()
	a.cg = buildCallGraph(a.funs, local)
	a.addressTaken = addressTaken(a.funs)

	order := postOrder(a.funs, a.cg)
	bu := a.bottomUp(order, local)
	td := a.topDown(order, bu)

	a.logger.Debugw("dsa: analysis done", "functions", len(a.funs))

	return &Result{BottomUp: bu, TopDown: td, CallGraph: a.cg}
}

func (a *state) local() map[*ssa.Function]*Graph {
	graphs := make(map[*ssa.Function]*Graph, len(a.funs))
	for _, fun := range a.funs {
		b := &localBuilder{
			g:        newGraph(fun),
			layout:   a.layout,
			analysed: func(f *ssa.Function) bool { return a.analysed[f] },
			logger:   a.logger,
		}
		b.build(fun)
		graphs[fun] = b.g
	}
	return graphs
}

// boundary returns the handles through which a function exchanges memory
// with its callers.
func (g *Graph) boundary() []Handle {
	return append(append([]Handle(nil), g.formals...), g.ret)
}

func (a *state) bottomUp(order []*ssa.Function, graphs map[*ssa.Function]*Graph) *DataStructures {
	done := make(map[*ssa.Function]bool, len(order))
	for _, fun := range order {
		g := graphs[fun]
		for _, cs := range g.calls {
			if !done[cs.Callee] {
				a.logger.Debugw("dsa: recursive call left unresolved",
					"caller", fun.String(), "callee", cs.Callee.String())
				for _, h := range cs.args {
					g.mark(h, External)
				}
				g.mark(cs.ret, External)
				continue
			}

			callee := graphs[cs.Callee]
			pairs := make([][2]Handle, 0, len(cs.args)+1)
			for i, h := range cs.args {
				if i < len(callee.formals) {
					pairs = append(pairs, [2]Handle{h, callee.formals[i]})
				}
			}
			pairs = append(pairs, [2]Handle{cs.ret, callee.ret})
			g.inline(callee, pairs, Incomplete, true)
			cs.resolved = true
		}

		g.unmodelled = g.newNode(Global)
		g.markIncomplete(External|Unknown|Global, g.boundary()...)
		g.finalize()
		done[fun] = true
	}

	return &DataStructures{
		name:    "bottom-up",
		graphs:  graphs,
		globals: a.globalsGraph(order, graphs),
	}
}

type callerContext struct {
	graph *Graph
	site  *CallSite
}

// callers returns the top-down contexts of every call of fun, or false if
// some caller is unknown or not yet processed.
func (a *state) callers(fun *ssa.Function, graphs map[*ssa.Function]*Graph) ([]callerContext, bool) {
	if !a.hasKnownCallers(fun) {
		return nil, false
	}

	var ctxs []callerContext
	for _, e := range a.cg.Nodes[fun].In {
		g := graphs[e.Caller.Func]
		if g == nil {
			return nil, false
		}
		cs := g.sites[e.Site]
		if cs == nil || !cs.resolved {
			return nil, false
		}
		ctxs = append(ctxs, callerContext{g, cs})
	}
	return ctxs, true
}

func (a *state) topDown(order []*ssa.Function, bu *DataStructures) *DataStructures {
	graphs := make(map[*ssa.Function]*Graph, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		fun := order[i]
		g := bu.graphs[fun].clone(Incomplete)

		if ctxs, known := a.callers(fun, graphs); known {
			for _, ctx := range ctxs {
				pairs := make([][2]Handle, 0, len(g.formals)+1)
				for i, h := range g.formals {
					if i < len(ctx.site.args) {
						pairs = append(pairs, [2]Handle{h, ctx.site.args[i]})
					}
				}
				pairs = append(pairs, [2]Handle{g.ret, ctx.site.ret})
				g.inline(ctx.graph, pairs, 0, false)
			}
		} else {
			for _, h := range g.boundary() {
				g.mark(h, External)
			}
		}

		g.unmodelled = g.newNode(Global)
		g.markIncomplete(External | Unknown | Global | Incomplete)
		g.finalize()
		graphs[fun] = g
	}

	return &DataStructures{
		name:    "top-down",
		graphs:  graphs,
		globals: a.globalsGraph(order, graphs),
	}
}

// globalsGraph merges the cells of every global known to the given graphs.
func (a *state) globalsGraph(order []*ssa.Function, graphs map[*ssa.Function]*Graph) *Graph {
	gg := newGraph(nil)
	for _, fun := range order {
		g := graphs[fun]
		c := newCloner(g, gg, Incomplete)
		for v, h := range g.scalars {
			if _, ok := v.(*ssa.Global); ok {
				c.handle(h)
			}
		}
		c.run()
		c.unifyGlobals()
	}

	if !a.config.ClosedWorld {
		for v, h := range gg.scalars {
			if obj := v.(*ssa.Global).Object(); obj != nil && obj.Exported() {
				gg.mark(h, External)
			}
		}
	}

	gg.markIncomplete(External | Unknown)
	gg.finalize()
	return gg
}
