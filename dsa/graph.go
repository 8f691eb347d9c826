package dsa

import (
	"fmt"
	"io"
	"sort"

	"github.com/BarrensZeppelin/dsaa/internal/maps"
	"github.com/BarrensZeppelin/dsaa/internal/queue"
	"golang.org/x/tools/go/ssa"
)

// CallSite is a static call to an analysed function, recorded by the local
// pass and consumed by the bottom-up and top-down passes.
type CallSite struct {
	Instr  ssa.CallInstruction
	Callee *ssa.Function

	// Cells of the actual arguments, parallel to Callee.Params.
	args []Handle
	// Tuple node holding the results, laid out like the callee's result tuple.
	ret Handle
	// Set when the callee's bottom-up graph has been inlined at this site.
	resolved bool
}

func (cs *CallSite) Resolved() bool { return cs.resolved }

// Graph is a DS graph: the memory model of one function, or of the program's
// globals when Func returns nil.
type Graph struct {
	fn      *ssa.Function
	scalars map[ssa.Value]Handle
	formals []Handle
	ret     Handle
	calls   []*CallSite
	sites   map[ssa.CallInstruction]*CallSite

	nodes  []*Node
	nextID int

	// Shared cell for globals the graph never saw. Only function graphs have
	// one.
	unmodelled *Node
	removed    map[*ssa.Global]bool
}

func newGraph(fn *ssa.Function) *Graph {
	return &Graph{
		fn:      fn,
		scalars: make(map[ssa.Value]Handle),
		sites:   make(map[ssa.CallInstruction]*CallSite),
		removed: make(map[*ssa.Global]bool),
	}
}

func (g *Graph) Func() *ssa.Function { return g.fn }

// Lookup returns the cell the graph assigns to v. The node of the returned
// handle is nil when v is known to point nowhere (nil constants).
func (g *Graph) Lookup(v ssa.Value) (Handle, bool) {
	if h, found := g.scalars[v]; found {
		return h.resolve(), true
	}

	if gv, ok := v.(*ssa.Global); ok && g.unmodelled != nil && !g.removed[gv] {
		return Handle{node: g.unmodelled}, true
	}

	return Handle{}, false
}

// DeleteValue forgets v. Subsequent lookups of v fail.
func (g *Graph) DeleteValue(v ssa.Value) {
	delete(g.scalars, v)
	if gv, ok := v.(*ssa.Global); ok {
		g.removed[gv] = true
	}
}

// CopyValue makes to share the cell of from. Nothing happens if from has no
// cell.
func (g *Graph) CopyValue(from, to ssa.Value) {
	if from == to {
		return
	}

	if h, found := g.scalars[from]; found {
		g.scalars[to] = h
		if gv, ok := to.(*ssa.Global); ok {
			delete(g.removed, gv)
		}
	}
}

// Nodes returns the live nodes of the graph.
func (g *Graph) Nodes() []*Node {
	var live []*Node
	for _, n := range g.nodes {
		if n.forward == nil {
			live = append(live, n)
		}
	}
	return live
}

// Calls returns the static call sites of the graph's function.
func (g *Graph) Calls() []*CallSite { return g.calls }

func (g *Graph) newNode(flags NodeFlags) *Node {
	g.nextID++
	n := &Node{id: g.nextID, flags: flags}
	g.nodes = append(g.nodes, n)
	return n
}

func (g *Graph) mark(h Handle, flags NodeFlags) {
	if n := h.Node(); n != nil {
		n.flags |= flags
	}
}

// link returns the target of the pointer stored at h, creating a fresh node
// if nothing has been stored there yet.
func (g *Graph) link(h Handle) Handle {
	h = h.resolve()
	if h.node == nil {
		return h
	}

	if l, found := h.node.links[h.offset]; found {
		return l.resolve()
	}

	l := Handle{node: g.newNode(0)}
	g.addLink(h, l)
	return l
}

func (g *Graph) addLink(h, target Handle) {
	h = h.resolve()
	if h.node == nil || target.node == nil {
		return
	}

	if l, found := h.node.links[h.offset]; found {
		g.merge(l, target)
		return
	}

	if h.node.links == nil {
		h.node.links = make(map[int64]Handle)
	}
	h.node.links[h.offset] = target
}

// merge unifies the memory denoted by a and b such that both handles denote
// the same byte afterwards.
func (g *Graph) merge(a, b Handle) Handle {
	for {
		a, b = a.resolve(), b.resolve()
		switch {
		case b.node == nil:
			return a
		case a.node == nil:
			return b
		}

		if a.node == b.node {
			if a.offset != b.offset {
				g.collapse(a.node)
			}
			return a.resolve()
		}

		// A collapsed node can only absorb collapsed nodes. Collapsing may
		// merge nodes on its own, so both handles are resolved again.
		if a.node.IsCollapsed() != b.node.IsCollapsed() {
			g.collapse(a.node)
			g.collapse(b.node)
			continue
		}
		break
	}

	// b's node is placed inside a's node at a non-negative delta.
	if a.offset < b.offset {
		a, b = b, a
	}
	into, from := a.node, b.node
	delta := a.offset - b.offset

	from.forward, from.fwdOff = into, delta
	into.flags |= from.flags
	into.globals = append(into.globals, from.globals...)
	into.sites = append(into.sites, from.sites...)

	// Links are moved after forwarding so that recursive merges see a
	// consistent picture.
	links := from.links
	from.links, from.globals, from.sites = nil, nil, nil
	for off, l := range links {
		g.addLink(Handle{into, off + delta}, l)
	}

	return a.resolve()
}

// collapse folds every offset of n onto offset 0.
func (g *Graph) collapse(n *Node) {
	n, _ = n.find()
	if n.IsCollapsed() {
		return
	}

	n.flags |= Collapsed
	links := n.links
	n.links = nil
	for _, l := range links {
		g.addLink(Handle{n, 0}, l)
	}
}

// markIncomplete flags every node reachable from a node carrying one of the
// source flags, or from one of the roots.
func (g *Graph) markIncomplete(sources NodeFlags, roots ...Handle) {
	var work queue.Queue[*Node]
	visit := func(n *Node) {
		if n != nil && n.flags&Incomplete == 0 {
			n.flags |= Incomplete
			work.Push(n)
		}
	}

	nodes := g.Nodes()
	var srcs []*Node
	for _, n := range nodes {
		if n.flags&sources != 0 {
			srcs = append(srcs, n)
		}
		n.flags &^= Incomplete
	}
	for _, n := range srcs {
		visit(n)
	}
	for _, h := range roots {
		visit(h.Node())
	}

	for !work.Empty() {
		for _, l := range work.Pop().links {
			visit(l.Node())
		}
	}
}

// finalize resolves every handle held by the graph and drops forwarded
// nodes. After finalize, lookups do not write to the graph.
func (g *Graph) finalize() {
	for v, h := range g.scalars {
		g.scalars[v] = h.resolve()
	}
	for i, h := range g.formals {
		g.formals[i] = h.resolve()
	}
	g.ret = g.ret.resolve()
	for _, cs := range g.calls {
		for i, h := range cs.args {
			cs.args[i] = h.resolve()
		}
		cs.ret = cs.ret.resolve()
	}

	g.nodes = g.Nodes()
	for _, n := range g.nodes {
		for off, l := range n.links {
			n.links[off] = l.resolve()
		}
	}
}

// cloner copies nodes of src into dst. Cloned nodes are fresh, so links can
// be copied verbatim before any merging takes place.
type cloner struct {
	src, dst *Graph
	strip    NodeFlags
	nodes    map[*Node]*Node
	work     queue.Queue[*Node]
}

func newCloner(src, dst *Graph, strip NodeFlags) *cloner {
	return &cloner{src: src, dst: dst, strip: strip, nodes: make(map[*Node]*Node)}
}

func (c *cloner) handle(h Handle) Handle {
	h = h.resolve()
	if h.node == nil {
		return h
	}
	return Handle{c.node(h.node), h.offset}
}

func (c *cloner) node(n *Node) *Node {
	if m, found := c.nodes[n]; found {
		return m
	}

	m := c.dst.newNode(n.flags &^ c.strip)
	m.globals = append([]*ssa.Global(nil), n.globals...)
	m.sites = append([]ssa.Value(nil), n.sites...)
	c.nodes[n] = m
	c.work.Push(n)
	return m
}

func (c *cloner) run() {
	for !c.work.Empty() {
		n := c.work.Pop()
		m := c.nodes[n]
		for off, l := range n.links {
			if m.links == nil {
				m.links = make(map[int64]Handle, len(n.links))
			}
			m.links[off] = c.handle(l)
		}
	}
}

// unifyGlobals merges every cloned global with the destination's cell for
// the same global.
func (c *cloner) unifyGlobals() {
	for n := range c.nodes {
		for _, gv := range n.globals {
			h, found := c.src.scalars[gv]
			if !found {
				continue
			}

			cloned := c.handle(h)
			if own, found := c.dst.scalars[gv]; found {
				c.dst.merge(own, cloned)
			} else {
				c.dst.scalars[gv] = cloned
			}
		}
	}
}

// inline clones the part of src reachable from the second component of each
// pair (and from every global src knows, if allGlobals is set) into g, and
// merges the clones with the first component.
func (g *Graph) inline(src *Graph, pairs [][2]Handle, strip NodeFlags, allGlobals bool) {
	c := newCloner(src, g, strip)
	cloned := make([]Handle, len(pairs))
	for i, p := range pairs {
		cloned[i] = c.handle(p[1])
	}
	if allGlobals {
		for v, h := range src.scalars {
			if _, ok := v.(*ssa.Global); ok {
				c.handle(h)
			}
		}
	}
	c.run()

	for i, p := range pairs {
		g.merge(p[0], cloned[i])
	}
	c.unifyGlobals()
}

// clone returns a full copy of g.
func (g *Graph) clone(strip NodeFlags) *Graph {
	ng := newGraph(g.fn)
	c := newCloner(g, ng, strip)
	for v, h := range g.scalars {
		ng.scalars[v] = c.handle(h)
	}
	for _, h := range g.formals {
		ng.formals = append(ng.formals, c.handle(h))
	}
	ng.ret = c.handle(g.ret)
	for _, cs := range g.calls {
		ncs := &CallSite{
			Instr:    cs.Instr,
			Callee:   cs.Callee,
			ret:      c.handle(cs.ret),
			resolved: cs.resolved,
		}
		for _, h := range cs.args {
			ncs.args = append(ncs.args, c.handle(h))
		}
		ng.calls = append(ng.calls, ncs)
		ng.sites[cs.Instr] = ncs
	}
	for gv := range g.removed {
		ng.removed[gv] = true
	}
	c.run()
	return ng
}

// Fprint writes a human readable rendering of the graph to w.
func (g *Graph) Fprint(w io.Writer) {
	if g.fn != nil {
		fmt.Fprintf(w, "graph %s\n", g.fn)
	} else {
		fmt.Fprintln(w, "globals graph")
	}

	for _, n := range g.Nodes() {
		fmt.Fprintf(w, "  %v", n)
		for _, gv := range n.globals {
			fmt.Fprintf(w, " %s", gv.Name())
		}
		for _, site := range n.sites {
			fmt.Fprintf(w, " %s", siteName(site))
		}
		fmt.Fprintln(w)
		for _, l := range n.Links() {
			fmt.Fprintf(w, "    +%d -> %v\n", l.Offset, l.Target)
		}
	}

	vals := maps.SortedKeys(g.scalars, func(a, b ssa.Value) bool {
		if a.Pos() != b.Pos() {
			return a.Pos() < b.Pos()
		}
		return a.Name() < b.Name()
	})
	for _, v := range vals {
		fmt.Fprintf(w, "  %s: %v\n", v.Name(), g.scalars[v])
	}
}

func siteName(v ssa.Value) string {
	if fn, ok := v.(*ssa.Function); ok {
		return fn.String()
	}
	return fmt.Sprintf("%s@%s", v.Name(), v.Parent())
}

func sortFuncs(funs []*ssa.Function) {
	sort.Slice(funs, func(i, j int) bool { return funs[i].String() < funs[j].String() })
}
