package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show checkpointed partitions and the latest recorded outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()

			ids, err := a.store.IDs()
			if err != nil {
				return err
			}
			done := 0
			for _, id := range ids {
				if a.store.HasData(id) {
					done++
				}
			}
			fmt.Fprintf(out, "%s: %d partition files, %d with data\n", a.store.Dir(), len(ids), done)

			if err := a.openLedger(); err != nil {
				return err
			}
			if a.ledger == nil {
				return nil
			}
			latest, err := a.ledger.Latest(cmd.Context())
			if err != nil {
				return err
			}

			counts := map[string]int{}
			for _, o := range latest {
				counts[o.Status]++
			}
			fmt.Fprintf(out, "ledger: %d partitions recorded (completed %d, skipped %d, abandoned %d)\n",
				len(latest), counts["completed"], counts["skipped"], counts["abandoned"])

			if !verbose {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARTITION\tSTATUS\tROWS\tOFFSET\tPAGE\tRUN")
			for _, o := range latest {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", o.PartitionID, o.Status, o.Rows, o.FinalOffset, o.PageSize, o.RunID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every recorded partition")
	return cmd
}
