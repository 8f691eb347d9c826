package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var graphCmd = &cobra.Command{
	Use:   "graph packages...",
	Short: "Print the DSA graphs of the selected functions",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, funs, err := analyse(args)
		if err != nil {
			return err
		}

		ds := res.TopDown
		if viper.GetBool("bottom-up") {
			ds = res.BottomUp
		}

		out := cmd.OutOrStdout()
		for _, fun := range funs {
			ds.Graph(fun).Fprint(out)
		}
		if viper.GetBool("globals") {
			ds.GlobalsGraph().Fprint(out)
		}
		return nil
	},
}

func init() {
	graphCmd.Flags().Bool("bottom-up", false, "print bottom-up instead of top-down graphs")
	graphCmd.Flags().Bool("globals", false, "also print the globals graph")
	for _, name := range []string{"bottom-up", "globals"} {
		if err := viper.BindPFlag(name, graphCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(graphCmd)
}
