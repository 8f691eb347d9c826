package pkgutil

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Should be equivalent to packages.LoadAllSyntax (which is deprecated)
const LoadMode = packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypes |
	packages.NeedTypesSizes | packages.NeedImports | packages.NeedName |
	packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedDeps

var ErrLoad = errors.New("errors encountered while loading packages")

func LoadPackagesFromSource(source string) ([]*packages.Package, error) {
	// We use the Overlay mechanism to allow the tool to load a non-existent file.
	config := &packages.Config{
		Mode:  LoadMode,
		Tests: false,
		Dir:   "",
		Env:   append(os.Environ(), "GO111MODULE=off", "GOPATH=/fake"),
		Overlay: map[string][]byte{
			"/fake/testpackage/main.go": []byte(source),
		},
	}

	return LoadPackagesWithConfig(config, "/fake/testpackage/main.go")
}

func LoadPackagesWithConfig(config *packages.Config, queries ...string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(config, queries...)
	switch {
	case err != nil:
		return nil, errors.Wrap(err, "loading packages")
	case packages.PrintErrors(pkgs) > 0:
		return pkgs, ErrLoad
	default:
		return pkgs, nil
	}
}

// BuildProgram builds SSA for pkgs and their dependencies. Generic functions
// are instantiated. The second result holds the SSA packages of pkgs.
func BuildProgram(pkgs []*packages.Package, mode ssa.BuilderMode) (*ssa.Program, []*ssa.Package) {
	prog, spkgs := ssautil.AllPackages(pkgs, mode|ssa.InstantiateGenerics)
	prog.Build()
	return prog, spkgs
}

// ProgramFromSource loads a single main package from source and builds it.
func ProgramFromSource(source string) (*ssa.Program, *ssa.Package, error) {
	pkgs, err := LoadPackagesFromSource(source)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "test program")
	}

	prog, spkgs := BuildProgram(pkgs, ssa.SanityCheckFunctions)
	if len(spkgs) == 0 || spkgs[0] == nil {
		return nil, nil, errors.Errorf("no package built from source")
	}
	return prog, spkgs[0], nil
}
