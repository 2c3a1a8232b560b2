// Package consolidate merges partition files into one dataset, keeping the
// records whose lifespan overlaps a year range.
//
// Records are not deduplicated across partitions: a person holding two
// occupations appears once per partition.
package consolidate

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/wdqs-harvester/pkg/checkpoint"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harvester_consolidated_records_total",
	Help: "Records read during consolidation by outcome",
}, []string{"outcome"})

// Config holds consolidation configuration.
type Config struct {
	// Lower and Upper bound the year range, inclusive.
	Lower int
	Upper int

	// BirthField and DeathField name the date columns.
	BirthField string
	DeathField string

	// DropColumns are removed by case-insensitive exact name.
	DropColumns []string

	// OutputPath is the merged CSV file.
	OutputPath string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Lower:       1800,
		Upper:       1901,
		BirthField:  "birth",
		DeathField:  "death",
		DropColumns: []string{"field"},
		OutputPath:  filepath.Join("data", "processed", "scholars.csv"),
	}
}

// Summary reports what a consolidation did.
type Summary struct {
	Partitions int
	Empty      int
	Read       int
	Kept       int
	Dropped    int
	Truncated  int
	Output     string
	Columns    []string
}

// Consolidator merges the files of a checkpoint store.
type Consolidator struct {
	store  *checkpoint.Store
	config Config
	logger zerolog.Logger
}

// New creates a consolidator.
func New(store *checkpoint.Store, cfg Config) (*Consolidator, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if cfg.OutputPath == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if cfg.Lower > cfg.Upper {
		return nil, fmt.Errorf("lower year %d is after upper year %d", cfg.Lower, cfg.Upper)
	}
	return &Consolidator{
		store:  store,
		config: cfg,
		logger: log.With().Str("component", "consolidator").Logger(),
	}, nil
}

// Keep reports whether a record belongs in the dataset: its lifespan
// overlaps [Lower, Upper], or its death year is absent or unparseable.
func (c *Consolidator) Keep(rec record.Record) bool {
	death, ok := Year(rec.Get(c.config.DeathField))
	if !ok {
		return true
	}
	birth, ok := Year(rec.Get(c.config.BirthField))
	if !ok {
		return false
	}
	return birth <= c.config.Upper && death >= c.config.Lower
}

// Consolidate merges the listed partitions in order. Partitions without a
// data row are skipped. The output columns are the union of the input
// headers, in first-seen order, minus the dropped columns; with no data at
// all they fall back to the store schema. A partition whose last row was
// cut off by a crash contributes the rows before it.
func (c *Consolidator) Consolidate(ctx context.Context, ids []string) (Summary, error) {
	start := time.Now()
	sum := Summary{Output: c.config.OutputPath}

	var (
		present []string
		columns record.Schema
		seen    = map[string]bool{}
	)
	for _, id := range ids {
		if !c.store.HasData(id) {
			sum.Empty++
			continue
		}
		r, err := c.store.Open(id)
		if err != nil {
			return sum, err
		}
		for _, name := range r.Header() {
			if !seen[name] {
				seen[name] = true
				columns = append(columns, name)
			}
		}
		r.Close()
		present = append(present, id)
	}
	if len(present) == 0 {
		columns = c.store.Schema()
	}
	columns = columns.Without(c.config.DropColumns)
	sum.Columns = columns

	if err := os.MkdirAll(filepath.Dir(c.config.OutputPath), 0o755); err != nil {
		return sum, fmt.Errorf("create output dir: %w", err)
	}
	tmp := c.config.OutputPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return sum, fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(tmp)

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		f.Close()
		return sum, fmt.Errorf("write header: %w", err)
	}

	for _, id := range present {
		if err := ctx.Err(); err != nil {
			f.Close()
			return sum, err
		}
		if err := c.mergeOne(id, columns, w, &sum); err != nil {
			f.Close()
			return sum, err
		}
		sum.Partitions++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return sum, fmt.Errorf("flush output: %w", err)
	}
	if err := f.Close(); err != nil {
		return sum, fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp, c.config.OutputPath); err != nil {
		return sum, fmt.Errorf("move output into place: %w", err)
	}

	c.logger.Info().
		Int("partitions", sum.Partitions).
		Int("empty", sum.Empty).
		Int("read", sum.Read).
		Int("kept", sum.Kept).
		Int("dropped", sum.Dropped).
		Int("truncated", sum.Truncated).
		Str("output", sum.Output).
		Dur("duration", time.Since(start)).
		Msg("Consolidation complete")
	return sum, nil
}

func (c *Consolidator) mergeOne(id string, columns record.Schema, w *csv.Writer, sum *Summary) error {
	r, err := c.store.Open(id)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			// A row left unterminated by a crash runs to the end of file.
			if _, next := r.Next(); errors.Is(next, io.EOF) {
				sum.Truncated++
				c.logger.Warn().
					Err(err).
					Str("partition", id).
					Msg("Partition ends in a truncated row, ignoring that row")
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("read partition %s: %w", id, err)
		}
		sum.Read++

		if !c.Keep(rec) {
			sum.Dropped++
			recordsTotal.WithLabelValues("dropped").Inc()
			continue
		}
		if err := w.Write(columns.Row(rec)); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		sum.Kept++
		recordsTotal.WithLabelValues("kept").Inc()
	}
}

var yearPrefix = regexp.MustCompile(`^(\d{4})(?:-|$)`)

// Year extracts a calendar year from an ISO 8601 date or datetime value,
// including Wikidata's year-precision form "1850-00-00T00:00:00Z". Empty,
// negative (BCE) and unrecognised values report false.
func Year(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.Year(), true
	}
	if m := yearPrefix.FindStringSubmatch(value); m != nil {
		y, err := strconv.Atoi(m[1])
		if err == nil {
			return y, true
		}
	}
	return 0, false
}
