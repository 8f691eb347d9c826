package dsa

import (
	"reflect"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
	"golang.org/x/tools/go/ssa"
)

// Analyzer runs Data Structure Analysis over the source functions of a
// package and provides the *Result. Functions of other packages are unknown
// code.
var Analyzer = &analysis.Analyzer{
	Name:       "dsa",
	Doc:        "build Data Structure Analysis points-to graphs",
	Run:        run,
	Requires:   []*analysis.Analyzer{buildssa.Analyzer},
	ResultType: reflect.TypeOf((*Result)(nil)),
}

func run(pass *analysis.Pass) (interface{}, error) {
	ssainfo := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)
	return Analyze(Config{
		Program:   ssainfo.Pkg.Prog,
		Functions: append([]*ssa.Function{}, ssainfo.SrcFuncs...),
		Sizes:     pass.TypesSizes,
	}), nil
}
