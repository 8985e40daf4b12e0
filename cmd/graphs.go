package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentic-research/graphsite/internal/store"
)

var (
	graphsStore   string
	graphsMembers bool
)

var graphsCmd = &cobra.Command{
	Use:   "graphs [graph ...]",
	Short: "List the graphs of a SQLite store and how many resources each touches",
	Long: `List the change index of a store. With graph arguments, only those graphs
are listed; --members prints the resources a change-scoped publish of
the graph would rewrite.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.OpenSQLite(graphsStore)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ctx := cmd.Context()
		graphs := args
		if len(graphs) == 0 {
			if graphs, err = st.Graphs(ctx); err != nil {
				return err
			}
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, g := range graphs {
			members, err := st.Members(ctx, g)
			if err != nil {
				return err
			}
			name := g
			if name == "" {
				name = "(default)"
			}
			fmt.Fprintf(tw, "%s\t%d\n", name, len(members))
			if graphsMembers {
				for _, m := range members {
					fmt.Fprintf(tw, "  %s\t\n", m)
				}
			}
		}
		return tw.Flush()
	},
}

func init() {
	graphsCmd.Flags().StringVar(&graphsStore, "store", "graphsite.db", "SQLite store to inspect")
	graphsCmd.Flags().BoolVar(&graphsMembers, "members", false, "Also list the resources of each graph")
	rootCmd.AddCommand(graphsCmd)
}
