package client

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// BackoffPolicy computes the wait before a retry. It is immutable and pure.
type BackoffPolicy struct {
	// Base is the delay for attempt 0.
	Base time.Duration

	// Multiplier is applied once per attempt.
	Multiplier float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// MaxHint caps a server-provided delay.
	MaxHint time.Duration
}

// DefaultBackoffPolicy returns the default policy: 2s, 4s, 8s, ... capped at 30s.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       1 * time.Second,
		Multiplier: 2.0,
		MaxDelay:   30 * time.Second,
		MaxHint:    120 * time.Second,
	}
}

// NextDelay returns Base*Multiplier^attempt clamped to MaxDelay. A positive
// hint overrides the computed value and is clamped to MaxHint.
func (p BackoffPolicy) NextDelay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		if p.MaxHint > 0 && hint > p.MaxHint {
			return p.MaxHint
		}
		return hint
	}
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 0)) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// parseRetryAfter reads a Retry-After value in delta-seconds or HTTP-date
// form. It returns 0 when absent or unparseable.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// sleep waits for d or until ctx is done.
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
