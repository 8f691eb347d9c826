package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestAlias(t *testing.T) {
	out := run(t, "alias", "--no-colour", "--func", `prog\.local$`, "./testdata/prog")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "prog.local: 4 accesses")
	assert.Len(t, lines, 1+6)
	assert.Contains(t, out, "NoAlias", "p and q are distinct allocations")
}

func TestAliasFallback(t *testing.T) {
	rootCmd.SetArgs([]string{"alias", "--fallback", "bogus", "./testdata/prog"})
	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	assert.Error(t, rootCmd.Execute())

	out := run(t, "alias", "--no-colour", "--fallback", "tbaa", "--func", `prog\.move$`, "./testdata/prog")
	assert.Contains(t, out, "prog.move: 4 accesses")
	assert.Contains(t, out, "MayAlias", "p comes from calls with a global argument")
}

func TestGraph(t *testing.T) {
	out := run(t, "graph", "--no-colour", "--globals", "--func", `prog\.main$`, "./testdata/prog")
	assert.Contains(t, out, "graph")
	assert.Contains(t, out, "globals graph")
	assert.Contains(t, out, "origin")
}
