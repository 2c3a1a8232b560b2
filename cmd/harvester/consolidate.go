package main

import (
	"fmt"

	"github.com/Sternrassler/wdqs-harvester/pkg/checkpoint"
	"github.com/Sternrassler/wdqs-harvester/pkg/config"
	"github.com/Sternrassler/wdqs-harvester/pkg/consolidate"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/spf13/cobra"
)

func newConsolidateCmd(opts *options) *cobra.Command {
	var (
		lower, upper int
		output       string
	)

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge partition files into one filtered dataset",
		Long: `consolidate reads every partition file holding at least one record and
writes the records whose lifespan overlaps the year range, plus those with no
usable death date, to a single CSV file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("lower-year") {
				cfg.Consolidate.LowerYear = lower
			}
			if f.Changed("upper-year") {
				cfg.Consolidate.UpperYear = upper
			}
			if f.Changed("output") {
				cfg.Consolidate.Output = output
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			store, err := checkpoint.NewStore(cfg.Storage.RawDir, record.PeopleMapping.Schema())
			if err != nil {
				return err
			}
			return runConsolidate(cmd, cfg, store)
		},
	}

	cmd.Flags().IntVar(&lower, "lower-year", 1800, "earliest death year kept")
	cmd.Flags().IntVar(&upper, "upper-year", 1901, "latest birth year kept")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output CSV (default <processed-dir>/scholars.csv)")
	return cmd
}

func runConsolidate(cmd *cobra.Command, cfg *config.Config, store *checkpoint.Store) error {
	c, err := consolidate.New(store, consolidate.Config{
		Lower:       cfg.Consolidate.LowerYear,
		Upper:       cfg.Consolidate.UpperYear,
		BirthField:  "birth",
		DeathField:  "death",
		DropColumns: cfg.Consolidate.DropColumns,
		OutputPath:  cfg.ConsolidatedPath(),
	})
	if err != nil {
		return err
	}

	ids, err := store.IDs()
	if err != nil {
		return err
	}
	sum, err := c.Consolidate(cmd.Context(), ids)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "consolidated %d partitions (%d empty): %d of %d records kept -> %s\n",
		sum.Partitions, sum.Empty, sum.Kept, sum.Read, sum.Output)
	return nil
}
