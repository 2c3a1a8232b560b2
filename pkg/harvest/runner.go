package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/wdqs-harvester/pkg/ledger"
	"github.com/Sternrassler/wdqs-harvester/pkg/partition"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// PartitionHarvester harvests one partition. *Harvester implements it.
type PartitionHarvester interface {
	Harvest(ctx context.Context, p partition.Partition) (Result, error)
}

// Recorder stores partition outcomes. *ledger.Ledger implements it.
type Recorder interface {
	Record(ctx context.Context, o ledger.Outcome) error
}

// RunnerConfig holds run driver configuration.
type RunnerConfig struct {
	// Workers bounds concurrent partitions. 1 harvests sequentially.
	Workers int

	// RunID tags logs and ledger rows. Empty generates a UUID.
	RunID string

	// Recorder receives every partition outcome. Optional.
	Recorder Recorder
}

// Report summarises a run.
type Report struct {
	RunID     string
	Completed []Result
	Skipped   []Result
	Abandoned []Result
	Duration  time.Duration
}

// Rows returns the number of records written during the run.
func (r Report) Rows() int {
	n := 0
	for _, res := range r.Completed {
		n += res.Rows
	}
	for _, res := range r.Abandoned {
		n += res.Rows
	}
	return n
}

// AbandonedPartitions returns the abandoned partitions in run order.
func (r Report) AbandonedPartitions() []partition.Partition {
	out := make([]partition.Partition, len(r.Abandoned))
	for i, res := range r.Abandoned {
		out[i] = res.Partition
	}
	return out
}

// Runner drives a harvest across partitions.
type Runner struct {
	harvester PartitionHarvester
	config    RunnerConfig
	logger    zerolog.Logger
}

// NewRunner creates a run driver.
func NewRunner(h PartitionHarvester, cfg RunnerConfig) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return &Runner{
		harvester: h,
		config:    cfg,
		logger:    log.With().Str("component", "runner").Str("run_id", cfg.RunID).Logger(),
	}
}

// RunID returns the run identifier.
func (r *Runner) RunID() string {
	return r.config.RunID
}

// Run harvests every partition once. Partitions with a repeated ID are
// dispatched only once. The first fatal error cancels the remaining work and
// is returned; cancellation of ctx returns ctx.Err(). The report covers the
// partitions that finished either way.
func (r *Runner) Run(ctx context.Context, parts []partition.Partition) (Report, error) {
	start := time.Now()
	parts = partition.Dedupe(parts)

	ctx, span := tracer.Start(ctx, "harvest.run",
		trace.WithAttributes(
			attribute.String("run.id", r.config.RunID),
			attribute.Int("run.partitions", len(parts)),
			attribute.Int("run.workers", r.config.Workers),
		),
	)
	defer span.End()

	r.logger.Info().
		Int("partitions", len(parts)).
		Int("workers", r.config.Workers).
		Msg("Starting harvest run")

	results := make([]*Result, len(parts))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)

	for i, p := range parts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			activeWorkers.Inc()
			defer activeWorkers.Dec()

			res, err := r.harvester.Harvest(gctx, p)
			if err != nil {
				return err
			}

			mu.Lock()
			results[i] = &res
			mu.Unlock()

			r.record(ctx, res)
			return nil
		})
	}
	err := g.Wait()

	report := Report{RunID: r.config.RunID, Duration: time.Since(start)}
	for _, res := range results {
		if res == nil {
			continue
		}
		switch res.Status {
		case StatusSkipped:
			report.Skipped = append(report.Skipped, *res)
		case StatusAbandoned:
			report.Abandoned = append(report.Abandoned, *res)
		default:
			report.Completed = append(report.Completed, *res)
		}
	}

	if ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var fatal *FatalError
		if errors.As(err, &fatal) {
			r.logger.Error().
				Err(err).
				Str("partition_id", fatal.PartitionID).
				Int("offset", fatal.Offset).
				Int("page_size", fatal.PageSize).
				Msg("Harvest run aborted")
		} else {
			r.logger.Warn().Err(err).Msg("Harvest run stopped")
		}
		return report, err
	}

	r.logger.Info().
		Int("completed", len(report.Completed)).
		Int("skipped", len(report.Skipped)).
		Int("abandoned", len(report.Abandoned)).
		Int("rows", report.Rows()).
		Dur("duration", report.Duration).
		Msg("Harvest run complete")
	return report, nil
}

func (r *Runner) record(ctx context.Context, res Result) {
	if r.config.Recorder == nil {
		return
	}
	err := r.config.Recorder.Record(context.WithoutCancel(ctx), ledger.Outcome{
		RunID:       r.config.RunID,
		PartitionID: res.Partition.ID,
		Label:       res.Partition.Label,
		Status:      string(res.Status),
		Rows:        res.Rows,
		FinalOffset: res.Offset,
		PageSize:    res.PageSize,
		Failures:    res.Failures,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("partition_id", res.Partition.ID).Msg("Failed to record outcome")
	}
}

// WriteFailureReport writes the abandoned partitions as occ_id,occ_label.
func WriteFailureReport(path string, report Report) error {
	if err := partition.WriteFile(path, report.AbandonedPartitions()); err != nil {
		return fmt.Errorf("write failure report: %w", err)
	}
	return nil
}
