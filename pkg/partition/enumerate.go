package partition

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/wdqs-harvester/pkg/cache"
	"github.com/Sternrassler/wdqs-harvester/pkg/client"
	"github.com/Sternrassler/wdqs-harvester/pkg/query"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bindings read from the enumeration query.
const (
	VarID    = "occ"
	VarLabel = "lblEN"
)

// Executor runs one query. *client.Client implements it.
type Executor interface {
	Execute(ctx context.Context, query string) client.Outcome
}

// EnumeratorConfig configures an Enumerator.
type EnumeratorConfig struct {
	// Query lists partitions. It must not contain window tokens.
	Query query.Template

	// Endpoint keys the cache. Optional.
	Endpoint string

	// Cache holds enumeration results for CacheTTL. Nil disables caching.
	Cache    *cache.Manager
	CacheTTL time.Duration
}

// Enumerator lists partitions from the remote service.
type Enumerator struct {
	executor Executor
	config   EnumeratorConfig
	logger   zerolog.Logger
}

// NewEnumerator creates an enumerator. An empty query selects query.Occupations.
func NewEnumerator(executor Executor, cfg EnumeratorConfig) *Enumerator {
	if cfg.Query == "" {
		cfg.Query = query.Occupations
	}
	return &Enumerator{
		executor: executor,
		config:   cfg,
		logger:   log.With().Str("component", "enumerator").Logger(),
	}
}

// Enumerate runs the enumeration query once and returns the partitions
// sorted by ID. Bindings without an ID are skipped and duplicates dropped.
func (e *Enumerator) Enumerate(ctx context.Context) ([]Partition, error) {
	text := e.config.Query.String()

	fetch := func() ([]byte, error) {
		out := e.executor.Execute(ctx, text)
		if !out.OK() {
			return nil, fmt.Errorf("enumerate partitions: %s failure (%s): %w", out.Kind, out.Class, out.Err)
		}
		return json.Marshal(out.Rows)
	}

	var (
		data []byte
		hit  bool
		err  error
	)
	if e.config.Cache != nil {
		key := cache.CacheKey{Endpoint: e.config.Endpoint, Query: text}
		data, hit, err = e.config.Cache.Remember(ctx, key, e.config.CacheTTL, fetch)
	} else {
		data, err = fetch()
	}
	if err != nil {
		return nil, err
	}

	var rows []record.Binding
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode enumeration result: %w", err)
	}

	parts := make([]Partition, 0, len(rows))
	for _, b := range rows {
		id := b.LocalName(VarID)
		if id == "" {
			continue
		}
		parts = append(parts, Partition{ID: id, Label: b.Value(VarLabel)})
	}
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	parts = Dedupe(parts)

	e.logger.Info().
		Int("partitions", len(parts)).
		Bool("cache_hit", hit).
		Msg("Partitions enumerated")
	return parts, nil
}
