package dsa_test

import (
	"fmt"
	"go/constant"
	"go/types"
	"testing"

	"github.com/BarrensZeppelin/dsaa/dsa"
	"github.com/BarrensZeppelin/dsaa/pkgutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/tools/go/ssa"
)

// PPValue pretty-prints the given value.
func PPValue(v ssa.Value) string {
	return fmt.Sprintf("%v: %s = %v", v.Parent(), v.Name(), v)
}

func analyze(t *testing.T, closedWorld bool, source string) (*dsa.Result, *ssa.Package) {
	t.Helper()
	prog, pkg, err := pkgutil.ProgramFromSource(source)
	require.NoError(t, err)

	var funs []*ssa.Function
	for _, mem := range pkg.Members {
		if fun, ok := mem.(*ssa.Function); ok && fun.Name() != "init" {
			funs = append(funs, fun)
		}
	}

	return dsa.Analyze(dsa.Config{
		Program:     prog,
		Functions:   funs,
		ClosedWorld: closedWorld,
		Logger:      zaptest.NewLogger(t),
	}), pkg
}

// instrs returns the values of type T in fun, in order.
func instrs[T ssa.Value](fun *ssa.Function) []T {
	var res []T
	for _, block := range fun.Blocks {
		for _, insn := range block.Instrs {
			if v, ok := insn.(T); ok {
				res = append(res, v)
			}
		}
	}
	return res
}

func lookup(t *testing.T, g *dsa.Graph, v ssa.Value) dsa.Handle {
	t.Helper()
	require.NotNil(t, g)
	h, found := g.Lookup(v)
	require.True(t, found, "%s should have a cell", PPValue(v))
	require.NotNil(t, h.Node(), "%s should have a node", PPValue(v))
	return h
}

func TestAnalyze(t *testing.T) {
	t.Run("DistinctAllocations", func(t *testing.T) {
		res, pkg := analyze(t, false, `
			package main

			type T struct{ a, b *int }

			func main() {
				x := new(int)
				y := new(int)
				*x, *y = 1, 2
				t := &T{}
				t.a = x
				println(*x, *y, t.b)
			}`)

		main := pkg.Func("main")
		g := res.TopDown.Graph(main)
		allocs := instrs[*ssa.Alloc](main)
		require.Len(t, allocs, 3)

		hx, hy := lookup(t, g, allocs[0]), lookup(t, g, allocs[1])
		assert.NotSame(t, hx.Node(), hy.Node(), "x and y should be distinct nodes")
		assert.True(t, hx.Node().IsComplete())
		assert.True(t, hy.Node().IsComplete())
		assert.True(t, hx.Node().Flags()&dsa.Heap != 0)

		fields := instrs[*ssa.FieldAddr](main)
		require.Len(t, fields, 2)
		ha, hb := lookup(t, g, fields[0]), lookup(t, g, fields[1])
		assert.Same(t, ha.Node(), hb.Node(), "fields should share the struct's node")
		assert.EqualValues(t, 0, ha.Offset())
		assert.EqualValues(t, 8, hb.Offset())

		links := ha.Node().Links()
		require.NotEmpty(t, links)
		assert.EqualValues(t, 0, links[0].Offset)
		assert.Same(t, hx.Node(), links[0].Target.Node(), "t.a should point to x")
	})

	t.Run("OpenWorldParameters", func(t *testing.T) {
		const src = `
			package main

			func Exported(p, q *int) { *p = *q }

			func main() {}`

		res, pkg := analyze(t, false, src)
		fun := pkg.Func("Exported")
		g := res.TopDown.Graph(fun)
		hp := lookup(t, g, fun.Params[0])
		assert.False(t, hp.Node().IsComplete(),
			"parameters of exported functions should be incomplete")
		assert.True(t, hp.Node().Flags()&dsa.External != 0)

		res, pkg = analyze(t, true, src)
		fun = pkg.Func("Exported")
		g = res.TopDown.Graph(fun)
		assert.True(t, lookup(t, g, fun.Params[0]).Node().IsComplete(),
			"a closed world without callers should not make parameters incomplete")
	})

	t.Run("SingleCallerSamePointer", func(t *testing.T) {
		res, pkg := analyze(t, false, `
			package main

			func f(p, q *int) { *p = 1; *q = 2 }

			func main() {
				x := new(int)
				f(x, x)
			}`)

		fun := pkg.Func("f")
		td := res.TopDown.Graph(fun)
		hp, hq := lookup(t, td, fun.Params[0]), lookup(t, td, fun.Params[1])
		assert.Same(t, hp.Node(), hq.Node(), "p and q should be merged by the calling context")
		assert.True(t, hp.Node().IsComplete())

		bu := res.BottomUp.Graph(fun)
		hp, hq = lookup(t, bu, fun.Params[0]), lookup(t, bu, fun.Params[1])
		assert.NotSame(t, hp.Node(), hq.Node())
		assert.False(t, hp.Node().IsComplete(), "formals are incomplete bottom-up")
	})

	t.Run("DistinctArguments", func(t *testing.T) {
		res, pkg := analyze(t, false, `
			package main

			func g(p, q *int) { *p = *q }

			func main() {
				a := new(int)
				b := new(int)
				g(a, b)
			}`)

		fun := pkg.Func("g")
		td := res.TopDown.Graph(fun)
		hp, hq := lookup(t, td, fun.Params[0]), lookup(t, td, fun.Params[1])
		assert.NotSame(t, hp.Node(), hq.Node())
		assert.True(t, hp.Node().IsComplete())
		assert.True(t, hq.Node().IsComplete())
		assert.True(t, hp.Node().IsModified(), "the callee writes through p")

		// The callee's write is visible in the caller.
		main := pkg.Func("main")
		allocs := instrs[*ssa.Alloc](main)
		require.Len(t, allocs, 2)
		assert.True(t, lookup(t, res.BottomUp.Graph(main), allocs[0]).Node().IsModified())
	})

	t.Run("Globals", func(t *testing.T) {
		res, pkg := analyze(t, false, `
			package main

			var G *int

			func main() {
				x := new(int)
				G = x
				y := new(int)
				println(*G, *y)
			}`)

		main := pkg.Func("main")
		g := res.TopDown.Graph(main)
		allocs := instrs[*ssa.Alloc](main)
		require.Len(t, allocs, 2)

		hx, hy := lookup(t, g, allocs[0]), lookup(t, g, allocs[1])
		assert.False(t, hx.Node().IsComplete(), "x is reachable from a global")
		assert.True(t, hy.Node().IsComplete())

		global := pkg.Var("G")
		hg := lookup(t, res.TopDown.GlobalsGraph(), global)
		assert.Contains(t, hg.Node().Globals(), global)
		links := hg.Node().Links()
		require.Len(t, links, 1)
		assert.Contains(t, links[0].Target.Node().Sites(), ssa.Value(allocs[0]),
			"the globals graph should know what G points to")

		sites, complete := res.TopDown.PointsTo(global)
		assert.Contains(t, sites, ssa.Value(global))
		assert.False(t, complete)
	})

	t.Run("UnmodelledGlobal", func(t *testing.T) {
		res, pkg := analyze(t, true, `
			package main

			var G, H int

			func f() *int { return &G }

			func main() { println(*f(), H) }`)

		main := pkg.Func("main")
		g := res.TopDown.Graph(main)
		h := lookup(t, g, pkg.Var("G"))
		assert.False(t, h.Node().IsComplete())

		h2, found := res.TopDown.Graph(pkg.Func("f")).Lookup(pkg.Var("H"))
		require.True(t, found, "globals unknown to a graph should still resolve")
		assert.False(t, h2.Node().IsComplete())
	})

	t.Run("Recursion", func(t *testing.T) {
		res, pkg := analyze(t, true, `
			package main

			type list struct {
				next *list
				val  *int
			}

			func walk(l *list, n int) *int {
				if n == 0 || l.next == nil {
					return l.val
				}
				return walk(l.next, n-1)
			}

			func main() {
				l := &list{val: new(int)}
				l.next = &list{val: new(int)}
				println(*walk(l, 2))
			}`)

		fun := pkg.Func("walk")
		bu := res.BottomUp.Graph(fun)
		for _, cs := range bu.Calls() {
			assert.False(t, cs.Resolved(), "recursive calls stay unresolved")
		}
		hl := lookup(t, bu, fun.Params[0])
		assert.False(t, hl.Node().IsComplete())
	})

	t.Run("Closures", func(t *testing.T) {
		res, pkg := analyze(t, true, `
			package main

			func main() {
				x := new(int)
				f := func() { *x = 1 }
				f()
				y := new(int)
				println(*x, *y)
			}`)

		main := pkg.Func("main")
		g := res.TopDown.Graph(main)
		closure := instrs[*ssa.MakeClosure](main)
		require.Len(t, closure, 1)
		hc := lookup(t, g, closure[0])
		assert.False(t, hc.Node().IsComplete(), "captured variables escape to the closure body")
	})

	t.Run("UnsafeConversionCollapses", func(t *testing.T) {
		res, pkg := analyze(t, true, `
			package main

			import "unsafe"

			type T struct{ a, b int }

			func main() {
				t := new(T)
				p := (*int)(unsafe.Pointer(t))
				*p = 1
				println(t.b)
			}`)

		main := pkg.Func("main")
		allocs := instrs[*ssa.Alloc](main)
		require.Len(t, allocs, 1)
		h := lookup(t, res.TopDown.Graph(main), allocs[0])
		assert.True(t, h.Node().IsCollapsed())
	})
}

func TestDataStructures(t *testing.T) {
	res, pkg := analyze(t, true, `
		package main

		func id(p *int) *int { return p }

		func main() {
			x := new(int)
			y := id(x)
			*y = 1
		}`)

	main := pkg.Func("main")
	assert.Equal(t, []*ssa.Function{pkg.Func("id"), main}, res.TopDown.Functions())
	assert.Equal(t, "top-down", res.TopDown.Name())
	assert.Equal(t, "bottom-up", res.BottomUp.Name())
	assert.Nil(t, res.TopDown.Graph(pkg.Func("init")), "init was not analysed")

	calls := instrs[*ssa.Call](main)
	require.Len(t, calls, 1)
	allocs := instrs[*ssa.Alloc](main)
	require.Len(t, allocs, 1)

	g := res.TopDown.Graph(main)
	assert.Same(t, lookup(t, g, allocs[0]).Node(), lookup(t, g, calls[0]).Node(),
		"the result of id should be its argument")

	sites, complete := res.TopDown.PointsTo(calls[0])
	assert.Equal(t, []ssa.Value{allocs[0]}, sites)
	assert.True(t, complete)

	res.TopDown.CopyValue(calls[0], calls[0])
	res.TopDown.DeleteValue(calls[0])
	_, found := g.Lookup(calls[0])
	assert.False(t, found)
	_, found = res.TopDown.Graph(pkg.Func("id")).Lookup(calls[0])
	assert.False(t, found)

	res.TopDown.CopyValue(allocs[0], calls[0])
	h, found := g.Lookup(calls[0])
	require.True(t, found, "a copied value should take the source's cell")
	assert.Same(t, lookup(t, g, allocs[0]).Node(), h.Node())

	// Cells do not move into the graph of another function.
	param := pkg.Func("id").Params[0]
	before := lookup(t, res.TopDown.Graph(pkg.Func("id")), param)
	res.TopDown.CopyValue(allocs[0], param)
	after := lookup(t, res.TopDown.Graph(pkg.Func("id")), param)
	assert.Equal(t, before, after)
	_, found = g.Lookup(param)
	assert.True(t, found, "the copy lands in the graph holding the source")

	assert.Panics(t, func() {
		res.TopDown.PointsTo(ssa.NewConst(constant.MakeInt64(1), types.Typ[types.Int]))
	})
	assert.Len(t, res.CallGraph.Nodes[pkg.Func("id")].In, 1)
}
