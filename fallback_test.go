package dsaa

import (
	"testing"

	"github.com/BarrensZeppelin/dsaa/pkgutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
)

func TestConservative(t *testing.T) {
	assert.Equal(t, MayAlias, Conservative{}.Alias(Location{}, Location{}))
}

func TestTypeBased(t *testing.T) {
	_, pkg, err := pkgutil.ProgramFromSource(`
		package main

		import "unsafe"

		type inner struct{ x, y int64 }
		type outer struct {
			in  inner
			arr [2]float64
		}
		type alias = inner
		type named inner

		func f(i *inner, o *outer, n *int, fl *float64, u unsafe.Pointer, a *alias, m *named, s *string) {}

		func pun(b *[8]byte) int64 {
			p := (*int64)(unsafe.Pointer(b))
			return *p + int64(b[0])
		}

		func main() {}`)
	require.NoError(t, err)

	params := map[string]ssa.Value{}
	for _, p := range pkg.Func("f").Params {
		params[p.Name()] = p
	}
	tbaa := TypeBased{}
	alias := func(a, b string) AliasResult {
		ab := tbaa.Alias(loc(params[a], 8), loc(params[b], 8))
		assert.Equal(t, ab, tbaa.Alias(loc(params[b], 8), loc(params[a], 8)), "%s %s", a, b)
		return ab
	}

	assert.Equal(t, MustAlias, alias("i", "i"))
	assert.Equal(t, MayAlias, alias("i", "o"), "outer contains inner")
	assert.Equal(t, MayAlias, alias("fl", "o"), "outer contains float64 array elements")
	assert.Equal(t, NoAlias, alias("n", "o"), "int does not occur in outer")
	assert.Equal(t, NoAlias, alias("n", "fl"))
	assert.Equal(t, NoAlias, alias("s", "i"))
	assert.Equal(t, MayAlias, alias("u", "n"), "unsafe.Pointer may point anywhere")
	assert.Equal(t, MayAlias, alias("a", "i"))
	assert.Equal(t, MayAlias, alias("m", "i"), "named types may be converted to each other")
	assert.Equal(t, NoAlias, tbaa.Alias(loc(params["i"], 0), loc(params["i"], 8)))
	assert.Equal(t, MayAlias, tbaa.Alias(Location{nil, 8}, loc(params["i"], 8)))

	// Conversions in the use-def chain are looked through.
	pun := pkg.Func("pun")
	var conv ssa.Value
	for _, block := range pun.Blocks {
		for _, insn := range block.Instrs {
			if c, ok := insn.(*ssa.Convert); ok && c.Type().String() == "*int64" {
				conv = c
			}
		}
	}
	require.NotNil(t, conv)
	assert.Equal(t, MustAlias, tbaa.Alias(loc(conv, 8), loc(pun.Params[0], 8)))
}
