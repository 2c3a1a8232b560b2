// Package ratelimit keeps the aggregate request rate of all harvest workers
// within the remote service's tolerance. It combines a process-wide token
// bucket with a cooldown shared by every worker (and, with Redis, every
// process) whenever the service answers with a wait hint such as Retry-After.
package ratelimit

import (
	"time"
)

// Redis keys for cooldown state storage.
const (
	RedisKeyBlockedUntil = "wdqs:cooldown:blocked_until"
	RedisKeyLastStatus   = "wdqs:cooldown:last_status"
	RedisKeyLastUpdate   = "wdqs:cooldown:last_update"
)

// CooldownState is the shared pause requested by the remote service.
type CooldownState struct {
	// BlockedUntil is when requests may resume. Zero means no cooldown.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastStatus is the HTTP status that caused the latest cooldown.
	LastStatus int `json:"last_status"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// Active reports whether requests should currently wait.
func (s *CooldownState) Active() bool {
	return time.Now().Before(s.BlockedUntil)
}

// Remaining returns the time left until requests may resume, or 0.
func (s *CooldownState) Remaining() time.Duration {
	d := time.Until(s.BlockedUntil)
	if d < 0 {
		return 0
	}
	return d
}

// Extend moves BlockedUntil forward to until if that is later. It never
// shortens an existing cooldown.
func (s *CooldownState) Extend(until time.Time, status int) bool {
	if !until.After(s.BlockedUntil) {
		return false
	}
	s.BlockedUntil = until
	s.LastStatus = status
	s.LastUpdate = time.Now()
	return true
}
