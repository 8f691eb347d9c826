package dsaa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

type countingObserver struct {
	queries, incomplete, delegated int
	reasons                        []Reason
}

func (o *countingObserver) Query(a, b Location) { o.queries++ }

func (o *countingObserver) Incomplete(a, b Location, sameNode bool) { o.incomplete++ }

func (o *countingObserver) Delegated(a, b Location, reason Reason) {
	o.delegated++
	o.reasons = append(o.reasons, reason)
}

func TestStats(t *testing.T) {
	stats := new(Stats)
	counter := new(countingObserver)
	fx := newFixture(t, Config{Observer: Observers{stats, counter}})

	p, q, r, s := fx.param(0), fx.param(1), fx.param(2), fx.param(3)
	shared := &fakeNode{}
	fx.set(p, shared, 0)
	fx.set(q, shared, 8)
	fx.set(r, &fakeNode{}, 0)
	fx.set(s, nil, 0)

	fx.aa.Alias(loc(p, 8), loc(q, 8)) // incomplete, same node
	fx.aa.Alias(loc(p, 8), loc(r, 8)) // incomplete
	fx.aa.Alias(loc(r, 8), loc(p, 8)) // incomplete, cached
	fx.aa.Alias(loc(p, 8), loc(s, 8)) // null node
	fx.aa.Alias(loc(p, 0), loc(s, 8)) // zero size
	fx.aa.Alias(loc(p, 8), loc(p, 8)) // identical

	assert.EqualValues(t, 6, stats.Queries())
	total, same := stats.Incompletes()
	assert.EqualValues(t, 3, total)
	assert.EqualValues(t, 1, same)
	assert.EqualValues(t, 3, stats.Delegations(IncompleteNodes))
	assert.EqualValues(t, 1, stats.Delegations(NullNode))
	assert.Zero(t, stats.Delegations(Undecided))
	assert.EqualValues(t, 4, stats.TotalDelegations())
	assert.Zero(t, stats.Delegations(numReasons))

	assert.Equal(t, 6, counter.queries)
	assert.Equal(t, 3, counter.incomplete)
	assert.Equal(t, []Reason{IncompleteNodes, IncompleteNodes, IncompleteNodes, NullNode}, counter.reasons)
	assert.Equal(t, 4, fx.fb.count())

	enc := zapcore.NewMapObjectEncoder()
	assert.NoError(t, stats.MarshalLogObject(enc))
	assert.EqualValues(t, 6, enc.Fields["queries"])
	assert.EqualValues(t, 4, enc.Fields["delegated"])
	assert.EqualValues(t, 1, enc.Fields["delegated-null-node"])
	assert.EqualValues(t, 1, enc.Fields["incomplete-same-node"])
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "incomplete-nodes", IncompleteNodes.String())
	assert.Equal(t, "cross-graph", CrossGraph.String())
	assert.Equal(t, "Reason(9)", Reason(9).String())
}
