package main

import (
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/wdqs-harvester/pkg/config"
	"github.com/Sternrassler/wdqs-harvester/pkg/harvest"
	"github.com/Sternrassler/wdqs-harvester/pkg/logging"
	"github.com/Sternrassler/wdqs-harvester/pkg/metrics"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type harvestOptions struct {
	workers       int
	pageSize      int
	minPageSize   int
	pageDelay     time.Duration
	metricsAddr   string
	refresh       bool
	noConsolidate bool
}

func newHarvestCmd(opts *options) *cobra.Command {
	hopts := &harvestOptions{}

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest every partition, then consolidate",
		Example: `  # Harvest with defaults (partitions enumerated remotely)
  harvester harvest

  # Two workers sharing one cooldown through Redis
  harvester harvest --workers 2 --redis-addr localhost:6379

  # Expose Prometheus metrics while harvesting
  harvester harvest --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := applyHarvestFlags(cmd, hopts, cfg); err != nil {
				return err
			}
			return runHarvest(cmd, cfg, hopts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&hopts.workers, "workers", 1, "partitions harvested concurrently")
	f.IntVar(&hopts.pageSize, "page-size", 2000, "initial page size")
	f.IntVar(&hopts.minPageSize, "min-page-size", 500, "page size floor when degrading")
	f.DurationVar(&hopts.pageDelay, "page-delay", time.Second, "pause between pages")
	f.StringVar(&hopts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&hopts.refresh, "refresh-partitions", false, "enumerate partitions even if the descriptor file exists")
	f.BoolVar(&hopts.noConsolidate, "no-consolidate", false, "skip consolidation after harvesting")
	return cmd
}

func applyHarvestFlags(cmd *cobra.Command, hopts *harvestOptions, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("workers") {
		cfg.Harvest.Workers = hopts.workers
	}
	if f.Changed("page-size") {
		cfg.Harvest.PageSize = hopts.pageSize
	}
	if f.Changed("min-page-size") {
		cfg.Harvest.MinPageSize = hopts.minPageSize
	}
	if f.Changed("page-delay") {
		cfg.Harvest.PageDelay = hopts.pageDelay
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = hopts.metricsAddr
	}
	return cfg.Validate()
}

func runHarvest(cmd *cobra.Command, cfg *config.Config, hopts *harvestOptions) error {
	ctx := cmd.Context()
	runID := uuid.NewString()
	logger := logging.ForRun("cli", runID)

	if cfg.MetricsAddr != "" {
		ln, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		go func() {
			if err := metrics.Serve(ctx, ln); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openLedger(); err != nil {
		return err
	}

	tmpl, err := a.peopleTemplate()
	if err != nil {
		return err
	}
	parts, err := a.partitions(ctx, hopts.refresh)
	if err != nil {
		return err
	}

	h, err := harvest.New(a.client, a.store, harvest.Config{
		Policy: harvest.Policy{
			PageSize:    cfg.Harvest.PageSize,
			MinPageSize: cfg.Harvest.MinPageSize,
			MaxFailures: cfg.Harvest.MaxFailures,
			Cooldown:    cfg.Harvest.Cooldown,
		},
		Template:  tmpl,
		Mapping:   record.PeopleMapping,
		PageDelay: cfg.Harvest.PageDelay,
	})
	if err != nil {
		return err
	}

	var recorder harvest.Recorder
	if a.ledger != nil {
		recorder = a.ledger
	}
	runner := harvest.NewRunner(h, harvest.RunnerConfig{
		Workers:  cfg.Harvest.Workers,
		RunID:    runID,
		Recorder: recorder,
	})

	logger.Info().
		Int("partitions", len(parts)).
		Int("workers", cfg.Harvest.Workers).
		Str("endpoint", cfg.Endpoint).
		Msg("Starting harvest")

	report, runErr := runner.Run(ctx, parts)

	if len(report.Abandoned) > 0 {
		path := cfg.FailureReportPath()
		if err := harvest.WriteFailureReport(path, report); err != nil {
			logger.Error().Err(err).Msg("Failed to write failure report")
		} else {
			logger.Warn().Str("path", path).Int("abandoned", len(report.Abandoned)).Msg("Wrote failure report")
		}
	}
	printReport(cmd.OutOrStdout(), report)

	if runErr != nil {
		return runErr
	}
	if hopts.noConsolidate {
		return nil
	}
	return runConsolidate(cmd, cfg, a.store)
}

func printReport(w io.Writer, r harvest.Report) {
	fmt.Fprintf(w, "run %s: %d completed, %d skipped, %d abandoned, %d rows in %s\n",
		r.RunID, len(r.Completed), len(r.Skipped), len(r.Abandoned), r.Rows(), r.Duration.Round(time.Millisecond))
	for _, res := range r.Abandoned {
		fmt.Fprintf(w, "  abandoned %s (%s) at offset %d, page size %d\n",
			res.Partition.ID, res.Partition.Label, res.Offset, res.PageSize)
	}
}
