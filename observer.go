package dsaa

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
)

// Reason tells why a query was delegated to the fallback oracle.
type Reason uint8

const (
	// One of the pointers refers to no modelled storage.
	NullNode Reason = iota
	// Both pointers refer to incomplete nodes.
	IncompleteNodes
	// The pointers may overlap within one node.
	Undecided
	// The pointers belong to the graphs of different functions.
	CrossGraph
	// A pointer belongs to a function without a graph.
	MissingGraph

	numReasons
)

var reasonNames = [numReasons]string{
	"null-node", "incomplete-nodes", "undecided", "cross-graph", "missing-graph",
}

func (r Reason) String() string {
	if r < numReasons {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", uint8(r))
}

// Observer is notified of the decisions taken for each query. Methods may be
// called concurrently.
type Observer interface {
	Query(a, b Location)
	// Incomplete is called when both pointers refer to incomplete nodes.
	Incomplete(a, b Location, sameNode bool)
	Delegated(a, b Location, reason Reason)
}

type nopObserver struct{}

func (nopObserver) Query(a, b Location)                     {}
func (nopObserver) Incomplete(a, b Location, sameNode bool) {}
func (nopObserver) Delegated(a, b Location, reason Reason)  {}

// Observers fans events out to several observers.
type Observers []Observer

func (os Observers) Query(a, b Location) {
	for _, o := range os {
		o.Query(a, b)
	}
}

func (os Observers) Incomplete(a, b Location, sameNode bool) {
	for _, o := range os {
		o.Incomplete(a, b, sameNode)
	}
}

func (os Observers) Delegated(a, b Location, reason Reason) {
	for _, o := range os {
		o.Delegated(a, b, reason)
	}
}

// Stats counts queries and their outcomes.
type Stats struct {
	queries            atomic.Int64
	incomplete         atomic.Int64
	incompleteSameNode atomic.Int64
	delegated          [numReasons]atomic.Int64
}

func (s *Stats) Query(a, b Location) { s.queries.Inc() }

func (s *Stats) Incomplete(a, b Location, sameNode bool) {
	s.incomplete.Inc()
	if sameNode {
		s.incompleteSameNode.Inc()
	}
}

func (s *Stats) Delegated(a, b Location, reason Reason) {
	if reason < numReasons {
		s.delegated[reason].Inc()
	}
}

func (s *Stats) Queries() int64 { return s.queries.Load() }

// Incompletes returns the number of queries on two incomplete nodes, and how
// many of those were on the same node.
func (s *Stats) Incompletes() (total, sameNode int64) {
	return s.incomplete.Load(), s.incompleteSameNode.Load()
}

func (s *Stats) Delegations(reason Reason) int64 {
	if reason >= numReasons {
		return 0
	}
	return s.delegated[reason].Load()
}

// TotalDelegations returns the number of queries answered by the fallback.
func (s *Stats) TotalDelegations() int64 {
	var total int64
	for r := Reason(0); r < numReasons; r++ {
		total += s.delegated[r].Load()
	}
	return total
}

func (s *Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("queries", s.Queries())
	total, same := s.Incompletes()
	enc.AddInt64("incomplete", total)
	enc.AddInt64("incomplete-same-node", same)
	enc.AddInt64("delegated", s.TotalDelegations())
	for r := Reason(0); r < numReasons; r++ {
		enc.AddInt64("delegated-"+r.String(), s.Delegations(r))
	}
	return nil
}
