package main

import (
	"fmt"
	"go/token"
	"go/types"
	"io"

	"github.com/BarrensZeppelin/dsaa"
	"github.com/BarrensZeppelin/dsaa/internal/slices"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/tools/go/ssa"
)

var (
	fmtNo   = color.New(color.FgGreen).SprintFunc()
	fmtMay  = color.New(color.FgRed).SprintFunc()
	fmtMust = color.New(color.FgCyan, color.Bold).SprintFunc()
	fmtFunc = color.New(color.FgYellow, color.Italic).SprintFunc()
)

var aliasCmd = &cobra.Command{
	Use:   "alias packages...",
	Short: "Print alias verdicts between the loads and stores of each function",
	RunE: func(cmd *cobra.Command, args []string) error {
		fallback, err := newFallback(viper.GetString("fallback"))
		if err != nil {
			return err
		}

		res, funs, err := analyse(args)
		if err != nil {
			return err
		}

		stats := new(dsaa.Stats)
		aa := dsaa.FromResult(res, dsaa.Config{
			Fallback: fallback,
			Observer: stats,
			Logger:   logger,
		})

		sizes := types.SizesFor("gc", viper.GetString("arch"))
		out := cmd.OutOrStdout()
		for _, fun := range funs {
			printAliases(out, aa, fun, accesses(fun, sizes))
		}

		if viper.GetBool("stats") {
			logger.Info("alias queries", zap.Object("stats", stats))
		}
		return nil
	},
}

func init() {
	aliasCmd.Flags().String("fallback", "none", "oracle for undecided queries (none, tbaa)")
	aliasCmd.Flags().Bool("stats", false, "log query statistics")
	for _, name := range []string{"fallback", "stats"} {
		if err := viper.BindPFlag(name, aliasCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(aliasCmd)
}

func newFallback(name string) (dsaa.Oracle, error) {
	switch name {
	case "none", "":
		return dsaa.Conservative{}, nil
	case "tbaa":
		return dsaa.TypeBased{}, nil
	default:
		return nil, errors.Errorf("unknown fallback %q", name)
	}
}

// accesses returns the memory locations loaded from or stored to by fun.
func accesses(fun *ssa.Function, sizes types.Sizes) []dsaa.Location {
	var ptrs []ssa.Value
	for _, block := range fun.Blocks {
		for _, insn := range block.Instrs {
			switch insn := insn.(type) {
			case *ssa.Store:
				ptrs = append(ptrs, insn.Addr)
			case *ssa.UnOp:
				if insn.Op == token.MUL {
					ptrs = append(ptrs, insn.X)
				}
			}
		}
	}

	return slices.Map(ptrs, func(ptr ssa.Value) dsaa.Location {
		elem := ptr.Type().Underlying().(*types.Pointer).Elem()
		return dsaa.Location{Ptr: ptr, Size: uint64(sizes.Sizeof(elem))}
	})
}

func printAliases(w io.Writer, aa *dsaa.AliasAnalysis, fun *ssa.Function, locs []dsaa.Location) {
	fmt.Fprintf(w, "%s: %d accesses\n", fmtFunc(fun), len(locs))
	for i, a := range locs {
		for _, b := range locs[i+1:] {
			fmt.Fprintf(w, "  %-9s %s %s\n", verdict(aa.Alias(a, b)), a, b)
		}
	}
}

func verdict(r dsaa.AliasResult) string {
	switch r {
	case dsaa.NoAlias:
		return fmtNo(r)
	case dsaa.MustAlias:
		return fmtMust(r)
	default:
		return fmtMay(r)
	}
}
