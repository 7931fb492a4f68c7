package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/node"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored chain, authorities and shard map",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := node.New(cfg, db, zap.NewNop(), nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !n.HasGenesis() {
			fmt.Fprintln(out, "no chain")
			return nil
		}
		tip, err := n.GetLatestBlock()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "height:       %d\n", tip.Header.Height)
		fmt.Fprintf(out, "tip:          %s\n", tip.Hash)
		fmt.Fprintf(out, "transactions: %d\n", n.GetTotalTransactions())
		fmt.Fprintf(out, "shards:       %v\n", n.Shards())
		fmt.Fprintf(out, "schedule:     %d slots\n\n", len(n.Schedule()))

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AUTHORITY\tNAME\tCATEGORY\tSTAKE\tREPUTATION\tPRODUCED\tMISSED\tACTIVE")
		for _, a := range n.Authorities() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%d\t%d\t%t\n",
				a.ID, a.Name, a.Category, a.Stake, a.Reputation, a.BlocksProduced, a.BlocksMissed, a.Active)
		}
		return w.Flush()
	},
}
