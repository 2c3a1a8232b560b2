package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/wdqs-harvester/pkg/cache"
	"github.com/Sternrassler/wdqs-harvester/pkg/checkpoint"
	"github.com/Sternrassler/wdqs-harvester/pkg/client"
	"github.com/Sternrassler/wdqs-harvester/pkg/config"
	"github.com/Sternrassler/wdqs-harvester/pkg/ledger"
	"github.com/Sternrassler/wdqs-harvester/pkg/partition"
	"github.com/Sternrassler/wdqs-harvester/pkg/query"
	"github.com/Sternrassler/wdqs-harvester/pkg/ratelimit"
	"github.com/Sternrassler/wdqs-harvester/pkg/record"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app holds the components shared by the commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	redis  *redis.Client
	cache  *cache.Manager
	client *client.Client
	store  *checkpoint.Store
	ledger *ledger.Ledger
}

// newApp builds the query client and checkpoint store. Redis and the ledger
// are optional and only opened when configured.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: log.With().Str("component", "cli").Logger(),
	}

	var cooldowns ratelimit.Store
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
		cooldowns = ratelimit.NewRedisStore(a.redis)
		a.cache = cache.NewManager(a.redis)
	}

	ccfg := client.DefaultConfig(cfg.Endpoint, cfg.UserAgent)
	ccfg.Timeout = cfg.Client.RequestTimeout
	ccfg.MaxAttempts = cfg.Client.MaxAttempts
	ccfg.Limiter = ratelimit.NewLimiter(cfg.Client.RequestsPerSecond, cfg.Client.Burst)
	ccfg.Tracker = ratelimit.NewTracker(cooldowns, log.With().Str("component", "cooldown").Logger())

	c, err := client.New(ccfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create query client: %w", err)
	}
	a.client = c

	store, err := checkpoint.NewStore(cfg.Storage.RawDir, record.PeopleMapping.Schema())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	return a, nil
}

// openLedger opens the run ledger if one is configured.
func (a *app) openLedger() error {
	if a.cfg.Storage.LedgerPath == "" || a.ledger != nil {
		return nil
	}
	l, err := ledger.Open(a.cfg.Storage.LedgerPath)
	if err != nil {
		return err
	}
	a.ledger = l
	return nil
}

// peopleTemplate returns the configured paged query.
func (a *app) peopleTemplate() (query.Template, error) {
	if a.cfg.Storage.PeopleTemplate == "" {
		return query.PeopleByOccupation, nil
	}
	return query.Load(a.cfg.Storage.PeopleTemplate)
}

// partitions returns the descriptor file's partitions when it exists, and
// otherwise enumerates them remotely. With refresh the file is ignored. A
// freshly enumerated list is written to the descriptor file, or to
// occupations.csv in the raw directory when none is configured.
func (a *app) partitions(ctx context.Context, refresh bool) ([]partition.Partition, error) {
	path := a.cfg.Storage.PartitionsFile
	if path != "" && !refresh {
		parts, err := partition.LoadFile(path)
		if err == nil {
			a.logger.Info().Str("path", path).Int("partitions", len(parts)).Msg("Loaded partitions")
			return parts, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	tmpl := query.Occupations
	if a.cfg.Storage.PartitionsTemplate != "" {
		t, err := query.Load(a.cfg.Storage.PartitionsTemplate)
		if err != nil {
			return nil, err
		}
		tmpl = t
	}

	enum := partition.NewEnumerator(a.client, partition.EnumeratorConfig{
		Query:    tmpl,
		Endpoint: a.cfg.Endpoint,
		Cache:    a.cache,
		CacheTTL: a.cfg.Client.CacheTTL,
	})
	parts, err := enum.Enumerate(ctx)
	if err != nil {
		return nil, err
	}

	out := a.enumeratedPath()
	if err := partition.WriteFile(out, parts); err != nil {
		return nil, err
	}
	a.logger.Info().Str("path", out).Int("partitions", len(parts)).Msg("Wrote partitions")
	return parts, nil
}

func (a *app) enumeratedPath() string {
	if a.cfg.Storage.PartitionsFile != "" {
		return a.cfg.Storage.PartitionsFile
	}
	return filepath.Join(a.cfg.Storage.RawDir, "occupations.csv")
}

// Close releases Redis and the ledger.
func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close ledger")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
