package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists the cooldown state shared by workers.
type Store interface {
	Get(ctx context.Context) (*CooldownState, error)
	Set(ctx context.Context, state *CooldownState) error
}

// MemoryStore keeps cooldown state in process.
type MemoryStore struct {
	mu    sync.RWMutex
	state CooldownState
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns a copy of the current state.
func (m *MemoryStore) Get(_ context.Context) (*CooldownState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	return &s, nil
}

// Set replaces the current state.
func (m *MemoryStore) Set(_ context.Context, state *CooldownState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = *state
	return nil
}

// RedisStore shares cooldown state between harvester processes.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// Get reads the state from Redis. Missing keys yield an inactive state.
func (r *RedisStore) Get(ctx context.Context) (*CooldownState, error) {
	vals, err := r.redis.MGet(ctx, RedisKeyBlockedUntil, RedisKeyLastStatus, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get cooldown state: %w", err)
	}

	state := &CooldownState{}
	if ms, ok, err := parseInt(vals[0]); err != nil {
		return nil, fmt.Errorf("parse blocked_until: %w", err)
	} else if ok {
		state.BlockedUntil = time.UnixMilli(ms)
	}
	if status, ok, err := parseInt(vals[1]); err != nil {
		return nil, fmt.Errorf("parse last_status: %w", err)
	} else if ok {
		state.LastStatus = int(status)
	}
	if ms, ok, err := parseInt(vals[2]); err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	} else if ok {
		state.LastUpdate = time.UnixMilli(ms)
	}
	return state, nil
}

// Set writes the state. Keys expire when the cooldown ends so stale pauses
// never outlive the process that requested them.
func (r *RedisStore) Set(ctx context.Context, state *CooldownState) error {
	ttl := state.Remaining()
	if ttl <= 0 {
		return nil
	}

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyBlockedUntil, state.BlockedUntil.UnixMilli(), ttl)
	pipe.Set(ctx, RedisKeyLastStatus, state.LastStatus, ttl)
	pipe.Set(ctx, RedisKeyLastUpdate, state.LastUpdate.UnixMilli(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store cooldown state in redis: %w", err)
	}
	return nil
}

func parseInt(v interface{}) (int64, bool, error) {
	if v == nil {
		return 0, false, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, false, errors.New("unexpected redis value type")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
