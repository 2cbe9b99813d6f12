// Package store is the persistent key-value layer under the cache, health
// and ruleset state. Values are read and written whole; there is no
// field-level update. Oversized writes fail with a typed QUOTA_EXCEEDED
// error so callers can retry with a degraded payload.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/bnema/ublock-dnr-engine/internal/errx"
)

// Store persists JSON-encoded values under logical keys.
type Store interface {
	// Get decodes the value at key into out. The bool is false when the
	// key does not exist.
	Get(ctx context.Context, key string, out any) (bool, error)
	// Set encodes and stores value under key, replacing any prior value.
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Logical storage keys.
const (
	KeyHealth       = "filterlist:health"
	KeyCosmetic     = "cosmetic:rules"
	KeyRulesetState = "ruleset:state"
	KeyTrustedSites = "exceptions:sites"
)

// KeyListCache returns the cache key for one list URL.
func KeyListCache(url string) string { return "filterlist:cache:" + url }

// KeyLastKnownGood returns the last-known-good key for one list URL.
func KeyLastKnownGood(url string) string { return "filterlist:lkg:" + url }

// MemoryStore is an in-memory Store used by tests and dry runs. A
// non-zero MaxValueBytes makes it enforce the same quota semantics as the
// persistent store.
type MemoryStore struct {
	mu            sync.RWMutex
	values        map[string][]byte
	MaxValueBytes int
}

// NewMemoryStore creates an empty in-memory store with no quota.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *MemoryStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.MaxValueBytes > 0 && len(raw) > m.MaxValueBytes {
		return errx.Newf(errx.CodeQuotaExceeded,
			"value for %q is %d bytes, quota is %d", key, len(raw), m.MaxValueBytes)
	}
	m.mu.Lock()
	m.values[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}
