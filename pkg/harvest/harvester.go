package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/wdqs-harvester/pkg/checkpoint"
	"github.com/Sternrassler/wdqs-harvester/pkg/pagination"
	"github.com/Sternrassler/wdqs-harvester/pkg/partition"
	"github.com/Sternrassler/wdqs-harvester/pkg/query"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("wdqs-harvester/harvest")

// Status is the final result of one partition.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusAbandoned Status = "abandoned"

	// StatusFailed and StatusInterrupted accompany a non-nil error.
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Result reports how a partition ended.
type Result struct {
	Partition partition.Partition
	Status    Status
	Rows      int
	Offset    int
	PageSize  int
	Failures  int
	Duration  time.Duration
}

// FatalError aborts the run. It names the partition and window in progress.
type FatalError struct {
	PartitionID string
	Offset      int
	PageSize    int
	Err         error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("partition %s failed at offset %d (page size %d): %v",
		e.PartitionID, e.Offset, e.PageSize, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Config holds harvester configuration.
type Config struct {
	Policy Policy

	// Template is the paged query; {OCC_ID} is replaced per partition.
	Template query.Template

	// Mapping converts bindings to records. Columns occ_id and occ_label
	// without a variable are filled from the partition.
	Mapping record.Mapping

	// PageDelay is the politeness pause between non-empty pages.
	PageDelay time.Duration
}

// DefaultConfig returns the people-by-occupation configuration.
func DefaultConfig() Config {
	return Config{
		Policy:    DefaultPolicy(),
		Template:  query.PeopleByOccupation,
		Mapping:   record.PeopleMapping,
		PageDelay: time.Second,
	}
}

// Harvester fetches partitions into a checkpoint store.
type Harvester struct {
	executor pagination.Executor
	store    *checkpoint.Store
	config   Config
	logger   zerolog.Logger
}

// New creates a harvester.
func New(executor pagination.Executor, store *checkpoint.Store, cfg Config) (*Harvester, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if !cfg.Template.Paged() {
		return nil, fmt.Errorf("harvest template: %w", query.ErrMissingToken)
	}
	if len(cfg.Mapping.Columns) == 0 {
		return nil, fmt.Errorf("record mapping is required")
	}

	return &Harvester{
		executor: executor,
		store:    store,
		config:   cfg,
		logger:   log.With().Str("component", "harvester").Logger(),
	}, nil
}

// WithLogger returns a copy of h that logs through logger.
func (h *Harvester) WithLogger(logger zerolog.Logger) *Harvester {
	cp := *h
	cp.logger = logger
	return &cp
}

// Harvest fetches one partition. It returns a *FatalError for failures that
// must stop the run and ctx.Err() when cancelled; capacity exhaustion is
// reported as StatusAbandoned with a nil error.
func (h *Harvester) Harvest(ctx context.Context, p partition.Partition) (res Result, err error) {
	start := time.Now()
	policy := h.config.Policy
	state := Start(policy)
	logger := h.logger.With().Str("partition_id", p.ID).Logger()

	ctx, span := tracer.Start(ctx, "harvest.partition",
		trace.WithAttributes(
			attribute.String("partition.id", p.ID),
			attribute.String("partition.label", p.Label),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer func() {
		res = h.result(p, state, time.Since(start))
		span.SetAttributes(
			attribute.String("partition.status", string(res.Status)),
			attribute.Int("partition.rows", res.Rows),
			attribute.Int("partition.failures", res.Failures),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
			partitionsTotal.WithLabelValues(string(res.Status)).Inc()
		}
		span.End()
		partitionDuration.Observe(res.Duration.Seconds())
	}()

	if h.store.HasData(p.ID) {
		state = Transition(state, Event{Kind: EventCheckpointHit}, policy)
		logger.Info().
			Str("path", h.store.Path(p.ID)).
			Msg("Checkpoint exists, skipping partition")
		return res, nil
	}

	tmpl, err := h.config.Template.ForPartition(p.ID)
	if err != nil {
		state = Transition(state, Event{Kind: EventFatal}, policy)
		return res, &FatalError{PartitionID: p.ID, Offset: state.Offset, PageSize: state.Limit, Err: err}
	}

	state = Transition(state, Event{Kind: EventCheckpointMiss}, policy)
	logger.Info().
		Str("label", p.Label).
		Int("page_size", state.Limit).
		Msg("Harvesting partition")

	pager := pagination.New(h.executor, pagination.Config{
		Delay:   h.config.PageDelay,
		Mapping: h.config.Mapping,
		Fixed:   map[string]string{partition.ColumnID: p.ID, partition.ColumnLabel: p.Label},
	}).WithLogger(logger)

	err = h.store.WithWriter(p.ID, func(w *checkpoint.Writer) error {
		for {
			_, werr := pager.Walk(ctx, tmpl, pagination.Window{Offset: state.Offset, Limit: state.Limit}, func(page pagination.Page) error {
				if err := w.Write(page.Records); err != nil {
					return err
				}
				rowsWrittenTotal.Add(float64(len(page.Records)))
				state = Transition(state, Event{Kind: EventPage, Rows: len(page.Records)}, policy)
				return nil
			})
			if werr == nil {
				state = Transition(state, Event{Kind: EventEnd}, policy)
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			var pageErr *pagination.PageError
			if !errors.As(werr, &pageErr) || !pageErr.Retryable() {
				state = Transition(state, Event{Kind: EventFatal}, policy)
				return &FatalError{PartitionID: p.ID, Offset: state.Offset, PageSize: state.Limit, Err: werr}
			}

			prevLimit := state.Limit
			state = Transition(state, Event{Kind: EventCapacityFailure}, policy)
			if state.Phase == PhaseAbandoned {
				logger.Warn().
					Err(werr).
					Int("offset", state.Offset).
					Int("page_size", state.Limit).
					Int("failures", state.Failures).
					Int("rows", state.Rows).
					Msg("Partition abandoned after consecutive failures")
				return nil
			}

			degradationsTotal.Inc()
			logger.Warn().
				Err(werr).
				Str("error_class", string(pageErr.Outcome.Class)).
				Int("offset", state.Offset).
				Int("previous_page_size", prevLimit).
				Int("page_size", state.Limit).
				Int("failures", state.Failures).
				Dur("cooldown", policy.Cooldown).
				Msg("Capacity failure, reducing page size")

			if err := sleep(ctx, policy.Cooldown); err != nil {
				return err
			}
			state = Transition(state, Event{Kind: EventResume}, policy)
		}
	})
	if err != nil {
		var fatal *FatalError
		switch {
		case errors.As(err, &fatal):
			logger.Error().
				Err(fatal.Err).
				Int("offset", fatal.Offset).
				Int("page_size", fatal.PageSize).
				Msg("Fatal error, aborting run")
		case ctx.Err() != nil:
			logger.Warn().
				Int("offset", state.Offset).
				Int("page_size", state.Limit).
				Int("rows", state.Rows).
				Msg("Harvest interrupted")
			err = ctx.Err()
		default:
			state = Transition(state, Event{Kind: EventFatal}, policy)
			err = &FatalError{PartitionID: p.ID, Offset: state.Offset, PageSize: state.Limit, Err: err}
			logger.Error().Err(err).Msg("Fatal error, aborting run")
		}
		return res, err
	}

	if state.Phase == PhaseCompleted {
		logger.Info().
			Int("rows", state.Rows).
			Int("offset", state.Offset).
			Msg("Partition completed")
	}
	return res, nil
}

func (h *Harvester) result(p partition.Partition, s State, d time.Duration) Result {
	status := StatusCompleted
	switch {
	case s.Skipped:
		status = StatusSkipped
	case s.Phase == PhaseAbandoned:
		status = StatusAbandoned
	case s.Phase == PhaseFailed:
		status = StatusFailed
	case !s.Phase.Terminal():
		status = StatusInterrupted
	}
	return Result{
		Partition: p,
		Status:    status,
		Rows:      s.Rows,
		Offset:    s.Offset,
		PageSize:  s.Limit,
		Failures:  s.Failures,
		Duration:  d,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
