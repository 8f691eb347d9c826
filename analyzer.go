package dsaa

import (
	"reflect"

	"github.com/BarrensZeppelin/dsaa/dsa"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/ssa"
)

// Analyzer provides an *AliasAnalysis over the top-down graphs of the
// package's functions.
var Analyzer = &analysis.Analyzer{
	Name:       "dsaa",
	Doc:        "alias oracle backed by Data Structure Analysis",
	Requires:   []*analysis.Analyzer{dsa.Analyzer},
	ResultType: reflect.TypeOf((*AliasAnalysis)(nil)),
	Run: func(pass *analysis.Pass) (interface{}, error) {
		res := pass.ResultOf[dsa.Analyzer].(*dsa.Result)
		return FromResult(res, Config{}), nil
	},
}

// Requires returns the analyses that must run before the oracle is queried.
func (aa *AliasAnalysis) Requires() []*analysis.Analyzer {
	return Analyzer.Requires
}

// FromResult returns an oracle over the top-down graphs of res. Deletions and
// renames are forwarded to the bottom-up and top-down graphs after any
// trackers already present in config.
func FromResult(res *dsa.Result, config Config) *AliasAnalysis {
	config.Graphs = dsaGraphs{res.TopDown}
	config.Upstream = append(config.Upstream[:len(config.Upstream):len(config.Upstream)],
		res.BottomUp, res.TopDown)
	return New(config)
}

type dsaGraphs struct {
	ds *dsa.DataStructures
}

func (p dsaGraphs) Graph(fn *ssa.Function) Graph {
	if g := p.ds.Graph(fn); g != nil {
		return dsaGraph{g}
	}
	return nil
}

func (p dsaGraphs) GlobalsGraph() Graph {
	return dsaGraph{p.ds.GlobalsGraph()}
}

type dsaGraph struct {
	g *dsa.Graph
}

func (g dsaGraph) Scalar(v ssa.Value) (Cell, bool) {
	h, found := g.g.Lookup(v)
	if !found {
		return Cell{}, false
	}
	if n := h.Node(); n != nil {
		return Cell{n, h.Offset()}, true
	}
	return Cell{}, true
}
