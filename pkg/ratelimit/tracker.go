package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limiting.
var (
	cooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_cooldowns_total",
		Help: "Total number of shared cooldowns requested by the remote service, by status",
	}, []string{"status"})

	cooldownWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_cooldown_wait_seconds",
		Help:    "Time spent waiting for a shared cooldown to end",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120},
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_rate_limit_wait_seconds",
		Help:    "Time spent waiting on the process-wide request rate limiter",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
	})
)

// Limiter is a process-wide token bucket shared by all workers.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a limiter allowing rps requests per second with the
// given burst. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a request is allowed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	return err
}

// Tracker gates requests on the cooldown shared through its Store.
type Tracker struct {
	store  Store
	logger zerolog.Logger
}

// NewTracker creates a tracker. A nil store falls back to a MemoryStore.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		logger: logger,
	}
}

// GetState returns the current cooldown state.
func (t *Tracker) GetState(ctx context.Context) (*CooldownState, error) {
	return t.store.Get(ctx)
}

// Block requests that every worker pause for d. Shorter requests never
// shorten an active cooldown.
func (t *Tracker) Block(ctx context.Context, d time.Duration, status int) error {
	if d <= 0 {
		return nil
	}

	state, err := t.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("get cooldown state: %w", err)
	}
	if !state.Extend(time.Now().Add(d), status) {
		return nil
	}
	if err := t.store.Set(ctx, state); err != nil {
		return err
	}

	cooldownsTotal.WithLabelValues(fmt.Sprintf("%d", status)).Inc()
	t.logger.Warn().
		Int("status", status).
		Dur("cooldown", d).
		Time("blocked_until", state.BlockedUntil).
		Msg("Remote service requested cooldown")
	return nil
}

// Wait blocks while a cooldown is active. It returns ctx.Err() if the
// context ends first.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.store.Get(ctx)
	if err != nil {
		// A broken store must not stall the harvest; fall through.
		t.logger.Warn().Err(err).Msg("Cooldown state unavailable")
		return nil
	}
	if !state.Active() {
		return nil
	}

	wait := state.Remaining()
	t.logger.Debug().Dur("wait", wait).Msg("Waiting for shared cooldown")

	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		cooldownWaitSeconds.Observe(time.Since(start).Seconds())
		return nil
	}
}
