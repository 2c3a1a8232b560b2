package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/wdqs-harvester/pkg/client"
	"github.com/Sternrassler/wdqs-harvester/pkg/query"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrInvalidWindow is returned for a negative offset or non-positive limit.
var ErrInvalidWindow = errors.New("invalid page window")

// Executor runs one query. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, query string) client.Outcome
}

// Window is one offset/limit slice of a result set.
type Window struct {
	Offset int
	Limit  int
}

// Next returns the window following w with the same limit.
func (w Window) Next() Window {
	return Window{Offset: w.Offset + w.Limit, Limit: w.Limit}
}

// Page is one non-empty window of records.
type Page struct {
	Window
	Records []record.Record
}

// PageError reports a failed window together with the query outcome.
type PageError struct {
	Window
	Outcome client.Outcome
}

// Error implements the error interface.
func (e *PageError) Error() string {
	return fmt.Sprintf("page offset=%d limit=%d: %s failure (%s): %v",
		e.Offset, e.Limit, e.Outcome.Kind, e.Outcome.Class, e.Outcome.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Outcome.Err
}

// Retryable reports whether the window may succeed if tried again, possibly
// smaller.
func (e *PageError) Retryable() bool {
	return e.Outcome.Kind == client.OutcomeRetryable
}

// Config holds paginator configuration.
type Config struct {
	// Delay is the politeness pause after each non-empty page.
	Delay time.Duration

	// Mapping converts bindings to records.
	Mapping record.Mapping

	// Fixed supplies values for mapping columns without a variable.
	Fixed map[string]string
}

// Paginator walks a template window by window.
type Paginator struct {
	executor Executor
	config   Config
	logger   zerolog.Logger
}

// New creates a paginator.
func New(executor Executor, cfg Config) *Paginator {
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Paginator{
		executor: executor,
		config:   cfg,
		logger:   log.With().Str("component", "paginator").Logger(),
	}
}

// WithLogger returns a copy of p that logs through logger.
func (p *Paginator) WithLogger(logger zerolog.Logger) *Paginator {
	cp := *p
	cp.logger = logger
	return &cp
}

// Walk fetches windows of tmpl starting at start until a page comes back
// empty, calling emit for every non-empty page in offset order. It returns
// the window it stopped at: the empty terminal window on success, or the
// failing window alongside a *PageError. An error from emit stops the walk
// and is returned wrapped.
func (p *Paginator) Walk(ctx context.Context, tmpl query.Template, start Window, emit func(Page) error) (Window, error) {
	if err := tmpl.Validate(); err != nil {
		return start, err
	}
	if start.Offset < 0 || start.Limit <= 0 {
		return start, fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidWindow, start.Offset, start.Limit)
	}

	w := start
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return w, err
		}

		out := p.executor.Execute(ctx, tmpl.Render(w.Offset, w.Limit))
		if !out.OK() {
			if out.Class == client.ErrorClassCanceled && ctx.Err() != nil {
				return w, ctx.Err()
			}
			return w, &PageError{Window: w, Outcome: out}
		}

		if len(out.Rows) == 0 {
			p.logger.Debug().
				Int("offset", w.Offset).
				Int("page_size", w.Limit).
				Int("pages", pages).
				Msg("Empty page, walk complete")
			return w, nil
		}

		page := Page{Window: w, Records: make([]record.Record, len(out.Rows))}
		for i, b := range out.Rows {
			page.Records[i] = p.config.Mapping.Map(b, p.config.Fixed)
		}
		if err := emit(page); err != nil {
			return w, fmt.Errorf("emit page at offset %d: %w", w.Offset, err)
		}
		pages++

		p.logger.Debug().
			Int("offset", w.Offset).
			Int("page_size", w.Limit).
			Int("rows", len(page.Records)).
			Msg("Page fetched")

		w = w.Next()

		if err := sleep(ctx, p.config.Delay); err != nil {
			return w, err
		}
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
