package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SwitchRecord is one entry of a principal's tenant switch history
type SwitchRecord struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	Slug       string    `json:"slug"`
	SwitchedAt time.Time `json:"switched_at"`
}

// Store persists the per-session tenant binding, the pending return-to
// target and the switch history
type Store interface {
	CurrentTenant(ctx context.Context, sessionID string) (uuid.UUID, bool, error)
	SetCurrentTenant(ctx context.Context, sessionID string, tenantID uuid.UUID) error
	ClearCurrentTenant(ctx context.Context, sessionID string) error
	// DeleteReturnTo evicts any stale post-login redirect target; it must
	// not survive a tenant switch
	DeleteReturnTo(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]SwitchRecord, error)
	SetHistory(ctx context.Context, sessionID string, records []SwitchRecord) error
}

const (
	currentTenantKeyPrefix = "session:tenant:"
	historyKeyPrefix       = "session:tenant_history:"
	returnToKeyPrefix      = "session:return_to:"

	sessionTTL = 24 * time.Hour
)

// RedisStore is the production session store
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CurrentTenant returns the session's bound tenant, if any
func (s *RedisStore) CurrentTenant(ctx context.Context, sessionID string) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, currentTenantKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("session tenant read: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// SetCurrentTenant persists the session's tenant binding
func (s *RedisStore) SetCurrentTenant(ctx context.Context, sessionID string, tenantID uuid.UUID) error {
	return s.client.Set(ctx, currentTenantKeyPrefix+sessionID, tenantID.String(), sessionTTL).Err()
}

// ClearCurrentTenant removes the session's tenant binding
func (s *RedisStore) ClearCurrentTenant(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, currentTenantKeyPrefix+sessionID).Err()
}

// DeleteReturnTo evicts the stored redirect target
func (s *RedisStore) DeleteReturnTo(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, returnToKeyPrefix+sessionID).Err()
}

// History returns the session's switch history, oldest first
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]SwitchRecord, error) {
	data, err := s.client.Get(ctx, historyKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session history read: %w", err)
	}
	var records []SwitchRecord
	if err := json.Unmarshal(data, &records); err != nil {
		// Corrupt history is dropped rather than surfaced
		return nil, nil
	}
	return records, nil
}

// SetHistory replaces the session's switch history
func (s *RedisStore) SetHistory(ctx context.Context, sessionID string, records []SwitchRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("session history encode: %w", err)
	}
	return s.client.Set(ctx, historyKeyPrefix+sessionID, data, sessionTTL).Err()
}

// MemoryStore is an in-process session store used in tests and when Redis
// is unavailable
type MemoryStore struct {
	mu       sync.RWMutex
	current  map[string]uuid.UUID
	history  map[string][]SwitchRecord
	returnTo map[string]string
}

// NewMemoryStore creates an in-process session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		current:  make(map[string]uuid.UUID),
		history:  make(map[string][]SwitchRecord),
		returnTo: make(map[string]string),
	}
}

func (s *MemoryStore) CurrentTenant(ctx context.Context, sessionID string) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.current[sessionID]
	return id, ok, nil
}

func (s *MemoryStore) SetCurrentTenant(ctx context.Context, sessionID string, tenantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[sessionID] = tenantID
	return nil
}

func (s *MemoryStore) ClearCurrentTenant(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, sessionID)
	return nil
}

func (s *MemoryStore) DeleteReturnTo(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.returnTo, sessionID)
	return nil
}

// SetReturnTo stores a redirect target; exists so tests can verify eviction
func (s *MemoryStore) SetReturnTo(ctx context.Context, sessionID, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.returnTo[sessionID] = target
	return nil
}

// ReturnTo reads back a stored redirect target
func (s *MemoryStore) ReturnTo(ctx context.Context, sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.returnTo[sessionID]
	return target, ok
}

func (s *MemoryStore) History(ctx context.Context, sessionID string) ([]SwitchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]SwitchRecord, len(s.history[sessionID]))
	copy(records, s.history[sessionID])
	return records, nil
}

func (s *MemoryStore) SetHistory(ctx context.Context, sessionID string, records []SwitchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = records
	return nil
}
