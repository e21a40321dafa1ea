package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

// SessionStore keeps editing sessions for a limited time. Every Put refreshes
// the expiry.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.EditingSession, error)
	Put(ctx context.Context, s *models.EditingSession) error
	Delete(ctx context.Context, id string) error
}

const sessionKeyPrefix = "workflowplus:session:"

// redisSessionStore stores each session as JSON under
// workflowplus:session:<id> with SET ... EX <ttl>.
type redisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) SessionStore {
	return &redisSessionStore{client: client, ttl: ttl, prefix: sessionKeyPrefix}
}

var _ SessionStore = (*redisSessionStore)(nil)

func (r *redisSessionStore) key(id string) string {
	return r.prefix + id
}

func (r *redisSessionStore) Get(ctx context.Context, id string) (*models.EditingSession, error) {
	payload, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var s models.EditingSession
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (r *redisSessionStore) Put(ctx context.Context, s *models.EditingSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (r *redisSessionStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis DEL failed: %w", err)
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// memorySessionStore is used when Redis is not configured. Sessions are
// stored as JSON so callers never share state with the store.
type memorySessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemorySessionStore creates an in-process session store.
func NewMemorySessionStore(ttl time.Duration) SessionStore {
	return &memorySessionStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

var _ SessionStore = (*memorySessionStore)(nil)

func (m *memorySessionStore) Get(_ context.Context, id string) (*models.EditingSession, error) {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if ok && !m.now().Before(entry.expiresAt) {
		delete(m.entries, id)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return nil, apperrors.ErrNotFound
	}
	var s models.EditingSession
	if err := json.Unmarshal(entry.payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (m *memorySessionStore) Put(_ context.Context, s *models.EditingSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	m.entries[s.ID] = memoryEntry{payload: payload, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *memorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

// sweep drops expired entries. Callers hold m.mu.
func (m *memorySessionStore) sweep() {
	now := m.now()
	for id, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, id)
		}
	}
}
