package store

import (
	"context"
	"errors"
	"sync"

	"github.com/go-training/fitbit-mcp/pkg/core"
)

var (
	// ErrTokenNotFound is returned when no token record has been stored.
	ErrTokenNotFound = errors.New("token record not found")
	// ErrNilToken is returned when attempting to save a nil token record.
	ErrNilToken = errors.New("token record cannot be nil")
	// ErrEmptyAccessToken is returned when the record has no access token.
	ErrEmptyAccessToken = errors.New("access token cannot be empty")
)

// validate checks the invariants every store enforces on save.
func validate(record *core.TokenRecord) error {
	if record == nil {
		return ErrNilToken
	}
	if record.AccessToken == "" {
		return ErrEmptyAccessToken
	}
	return nil
}

// MemoryStore implements the core.TokenStore interface in process memory.
// Records do not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	record *core.TokenRecord
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of the record, replacing any previous one.
func (m *MemoryStore) Save(ctx context.Context, record *core.TokenRecord) error {
	if err := validate(record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.record = record.Clone()
	return nil
}

// Load returns a copy of the stored record or ErrTokenNotFound.
func (m *MemoryStore) Load(ctx context.Context) (*core.TokenRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.record == nil {
		return nil, ErrTokenNotFound
	}
	return m.record.Clone(), nil
}

// Delete drops the stored record.
func (m *MemoryStore) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record = nil
	return nil
}
