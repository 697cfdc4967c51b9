package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentfi/agentfi-social-agent/internal/agent"
)

// KV is the subset of *redis.Client used for state snapshots.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStateStore keeps one JSON snapshot per agent.
type RedisStateStore struct {
	kv KV
}

// NewRedisStateStore creates a state store on kv.
func NewRedisStateStore(kv KV) *RedisStateStore {
	return &RedisStateStore{kv: kv}
}

// SaveState overwrites the snapshot of agentName.
func (r *RedisStateStore) SaveState(ctx context.Context, agentName string, snap agent.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	if err := r.kv.Set(ctx, stateKey(agentName), data, 0).Err(); err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	return nil
}

// LoadState returns the snapshot of agentName. ok is false when none exists.
func (r *RedisStateStore) LoadState(ctx context.Context, agentName string) (snap agent.Snapshot, ok bool, err error) {
	data, err := r.kv.Get(ctx, stateKey(agentName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return agent.Snapshot{}, false, nil
	}
	if err != nil {
		return agent.Snapshot{}, false, fmt.Errorf("store: load state: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return agent.Snapshot{}, false, fmt.Errorf("store: decode state: %w", err)
	}
	return snap, true, nil
}

func stateKey(agentName string) string {
	return "socialagent:state:" + agentName
}
