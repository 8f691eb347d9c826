// Package dsaa answers alias queries between memory accesses using the
// graphs built by Data Structure Analysis (package dsa).
//
// Only queries that the graphs can settle soundly are answered locally. All
// other queries are delegated to a fallback oracle.
package dsaa

import (
	"fmt"
	"go/types"
	"math"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/tools/go/ssa"
)

// UnknownSize is the size of an access whose extent is not known.
const UnknownSize = math.MaxUint64

// Location is a memory access: Size bytes starting at the address Ptr.
// An access of size 0 touches no memory.
type Location struct {
	Ptr  ssa.Value
	Size uint64
}

func (l Location) String() string {
	if l.Ptr == nil {
		return "<nil>"
	}
	if l.Size == UnknownSize {
		return fmt.Sprintf("%s[?]", l.Ptr.Name())
	}
	return fmt.Sprintf("%s[%d]", l.Ptr.Name(), l.Size)
}

type AliasResult uint8

const (
	MayAlias AliasResult = iota
	NoAlias
	MustAlias
)

func (r AliasResult) String() string {
	switch r {
	case MayAlias:
		return "MayAlias"
	case NoAlias:
		return "NoAlias"
	case MustAlias:
		return "MustAlias"
	default:
		return fmt.Sprintf("AliasResult(%d)", uint8(r))
	}
}

// Node is an equivalence class of memory objects. Nodes are compared by
// interface equality.
type Node interface {
	IsComplete() bool
}

// Cell is the node and byte offset a graph assigns to a pointer. Node is nil
// for pointers the graph knows to refer to no modelled storage.
type Cell struct {
	Node   Node
	Offset int64
}

// Graph is the scalar map of a points-to graph. Implementations must be
// comparable.
type Graph interface {
	Scalar(v ssa.Value) (Cell, bool)
}

type GraphProvider interface {
	// Graph returns nil if fn has no graph.
	Graph(fn *ssa.Function) Graph
	GlobalsGraph() Graph
}

// ValueTracker is notified when the client deletes or renames values.
type ValueTracker interface {
	DeleteValue(v ssa.Value)
	CopyValue(from, to ssa.Value)
}

// Oracle answers alias queries.
type Oracle interface {
	Alias(a, b Location) AliasResult
}

type Config struct {
	Graphs GraphProvider

	// Upstream trackers are notified, in order, after the oracle has
	// invalidated its own state.
	Upstream []ValueTracker

	// Consulted for every query the graphs cannot decide. Defaults to
	// Conservative.
	Fallback Oracle

	Observer Observer
	Logger   *zap.Logger

	DisableCache bool
}

// AliasAnalysis is an Oracle backed by points-to graphs. It is safe for
// concurrent use; DeleteValue and CopyValue exclude concurrent queries.
type AliasAnalysis struct {
	graphs   GraphProvider
	upstream []ValueTracker
	fallback Oracle
	observer Observer
	logger   *zap.Logger

	mu    sync.RWMutex
	cache *cache
}

func New(config Config) *AliasAnalysis {
	if config.Graphs == nil {
		panic(errors.New("dsaa: Config.Graphs is required"))
	}

	aa := &AliasAnalysis{
		graphs:   config.Graphs,
		upstream: config.Upstream,
		fallback: config.Fallback,
		observer: config.Observer,
		logger:   config.Logger,
	}
	if aa.fallback == nil {
		aa.fallback = Conservative{}
	}
	if aa.observer == nil {
		aa.observer = nopObserver{}
	}
	if aa.logger == nil {
		aa.logger = zap.NewNop()
	}
	if !config.DisableCache {
		aa.cache = newCache()
	}
	return aa
}

// Alias reports whether a and b may access overlapping memory.
func (aa *AliasAnalysis) Alias(a, b Location) AliasResult {
	aa.observer.Query(a, b)

	if a.Size == 0 || b.Size == 0 {
		return NoAlias
	}

	pa, pb := stripPointerCasts(a.Ptr), stripPointerCasts(b.Ptr)
	if !isPointer(pa) || !isPointer(pb) {
		return NoAlias
	}
	if pa == pb {
		return MustAlias
	}

	aa.mu.RLock()
	o := aa.outcome(a, b, pa, pb)
	aa.mu.RUnlock()

	if o.incomplete {
		aa.observer.Incomplete(a, b, o.sameNode)
	}
	if !o.delegate {
		return o.result
	}

	aa.observer.Delegated(a, b, o.reason)
	return aa.fallback.Alias(a, b)
}

// outcome is what the graphs say about a query.
type outcome struct {
	result AliasResult

	delegate bool
	reason   Reason

	incomplete bool
	sameNode   bool
}

func delegate(reason Reason) outcome {
	return outcome{delegate: true, reason: reason}
}

// outcome must be called with aa.mu held for reading.
func (aa *AliasAnalysis) outcome(a, b Location, pa, pb ssa.Value) outcome {
	if o, found := aa.cache.get(a, b); found {
		return o
	}

	o := aa.decide(a, b, pa, pb)
	if o.reason != CrossGraph {
		aa.cache.put(a, b, o, pa, pb)
	}
	return o
}

func (aa *AliasAnalysis) decide(a, b Location, pa, pb ssa.Value) outcome {
	ga, ownedA := aa.graphFor(pa)
	gb, ownedB := aa.graphFor(pb)

	var g Graph
	switch {
	case ownedA && ga == nil, ownedB && gb == nil:
		return delegate(MissingGraph)

	case ga != nil && gb != nil && ga != gb:
		if debug {
			panic(errors.Errorf("dsaa: alias query across graphs of %v and %v",
				pa.Parent(), pb.Parent()))
		}
		aa.logger.Warn("alias query across function graphs",
			zap.Stringer("a", a), zap.Stringer("fa", pa.Parent()),
			zap.Stringer("b", b), zap.Stringer("fb", pb.Parent()))
		return delegate(CrossGraph)

	case ga != nil:
		g = ga
	case gb != nil:
		g = gb
	default:
		g = aa.graphs.GlobalsGraph()
	}

	ca, foundA := g.Scalar(pa)
	cb, foundB := g.Scalar(pb)
	if !foundA || !foundB {
		return outcome{result: NoAlias}
	}

	n1, n2 := ca.Node, cb.Node
	if n1 == nil || n2 == nil {
		return delegate(NullNode)
	}

	if !n1.IsComplete() && !n2.IsComplete() {
		o := delegate(IncompleteNodes)
		o.incomplete, o.sameNode = true, n1 == n2
		return o
	}

	if n1 != n2 {
		return outcome{result: NoAlias}
	}

	o1, s1, o2 := ca.Offset, a.Size, cb.Offset
	if o1 > o2 {
		o1, s1, o2 = o2, b.Size, o1
	}
	if o1 != o2 && s1 <= uint64(o2-o1) {
		return outcome{result: NoAlias}
	}

	return delegate(Undecided)
}

// graphFor returns the graph of the function that defines v. The second
// result is false for values that belong to no function.
func (aa *AliasAnalysis) graphFor(v ssa.Value) (Graph, bool) {
	var fn *ssa.Function
	switch v := v.(type) {
	case ssa.Instruction:
		fn = v.Parent()
	case *ssa.Parameter:
		fn = v.Parent()
	case *ssa.FreeVar:
		fn = v.Parent()
	default:
		return nil, false
	}

	if fn == nil {
		return nil, false
	}
	return aa.graphs.Graph(fn), true
}

// stripPointerCasts returns the value underneath conversions that do not
// change the address a pointer holds.
func stripPointerCasts(v ssa.Value) ssa.Value {
	for {
		switch c := v.(type) {
		case *ssa.ChangeType:
			v = c.X
		case *ssa.Convert:
			if !isPointer(c) || !isPointer(c.X) {
				return v
			}
			v = c.X
		default:
			return v
		}
	}
}

func isPointer(v ssa.Value) bool {
	if v == nil {
		return false
	}
	switch t := v.Type().Underlying().(type) {
	case *types.Pointer:
		return true
	case *types.Basic:
		return t.Kind() == types.UnsafePointer
	default:
		return false
	}
}
