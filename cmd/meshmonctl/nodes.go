package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rippleFCL/meshmon/config"
)

func nodesCmd(dataRoot *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Inspect a network's configured node list",
	}
	cmd.AddCommand(nodesListCmd(dataRoot))
	return cmd
}

func nodesListCmd(dataRoot *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <network-dir>",
		Short: "List the nodes configured for a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.LoadNetworkRootConfig(filepath.Join(*dataRoot, args[0], "config.yml"))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "NODE_ID\tURL\tPOLL_RATE\tRETRY")
			for _, n := range root.NodeConfig {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", n.NodeID, orDash(n.URL), n.PollRate, n.Retry)
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
