// Package snapshot persists last-known-good per-instrument state so a failed
// worker can be restarted without losing its outcome window.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/apexguard/guardian/internal/domain"
)

// WorkerState is one instrument's recoverable state.
type WorkerState struct {
	Instrument string                `json:"instrument"`
	Outcomes   []domain.TradeOutcome `json:"outcomes"`
	Paused     bool                  `json:"paused"`
	PausedRule string                `json:"paused_rule,omitempty"`
	SavedAt    time.Time             `json:"saved_at"`
}

// Store saves and loads worker state. Load returns (nil, nil) when no
// snapshot exists.
type Store interface {
	Save(ctx context.Context, state WorkerState) error
	Load(ctx context.Context, instrument string) (*WorkerState, error)
}

const keyPrefix = "guardian:snapshot:"

// RedisStore keeps snapshots in Redis with a bounded TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing client. A zero ttl means snapshots never
// expire.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, state WorkerState) error {
	state.SavedAt = time.Now().UTC()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+state.Instrument, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", state.Instrument, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, instrument string) (*WorkerState, error) {
	payload, err := s.client.Get(ctx, keyPrefix+instrument).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", instrument, err)
	}
	var state WorkerState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", instrument, err)
	}
	return &state, nil
}

// MemoryStore is the in-process fallback used when Redis is not configured.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]WorkerState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]WorkerState)}
}

func (s *MemoryStore) Save(_ context.Context, state WorkerState) error {
	state.SavedAt = time.Now().UTC()
	s.mu.Lock()
	s.states[state.Instrument] = state
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, instrument string) (*WorkerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[instrument]
	if !ok {
		return nil, nil
	}
	return &state, nil
}
