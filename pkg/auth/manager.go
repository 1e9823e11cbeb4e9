package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/go-training/fitbit-mcp/pkg/store"

	"golang.org/x/sync/singleflight"
)

// ErrInvalidRecord is returned by Adopt for a record without an access token.
var ErrInvalidRecord = errors.New("token record has no access token")

// Refresher renews a token record with its refresh token.
type Refresher interface {
	Refresh(ctx context.Context, record *core.TokenRecord) (*core.TokenRecord, error)
}

// Status is a point-in-time view of the held token, safe to display.
type Status struct {
	Authenticated bool
	Expired       bool
	ExpiresAt     time.Time
	Scope         []string
	UserID        string
}

// Manager owns the single in-memory token record. It loads the record at
// startup, hands the access token to API callers, and persists every
// replacement to the token store in the background.
type Manager struct {
	store     core.TokenStore
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time
	margin    time.Duration

	mu     sync.RWMutex
	record *core.TokenRecord

	persistMu sync.Mutex
	persistWG sync.WaitGroup
	refresh   singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRefreshMargin enables just-in-time refresh on Token when the held
// token expires within d. Zero disables it.
func WithRefreshMargin(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.margin = d
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager backed by the given store and refresher.
func NewManager(s core.TokenStore, r Refresher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     s,
		refresher: r,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads the persisted record. An expired record is refreshed
// before returning; if that fails the record is dropped and the manager
// stays unauthenticated. Initialize never fails the process.
func (m *Manager) Initialize(ctx context.Context) {
	record, err := m.store.Load(ctx)
	if err != nil {
		var corrupt *store.CorruptError
		switch {
		case errors.Is(err, store.ErrTokenNotFound):
			m.logger.Info("no stored token, authorization required")
		case errors.As(err, &corrupt):
			m.logger.Warn("stored token is unreadable, authorization required", "error", err)
		default:
			m.logger.Warn("failed to load stored token", "error", err)
		}
		return
	}

	if !record.Expired(m.now()) {
		m.set(record)
		m.logger.Info("loaded stored token",
			"expires_at", record.ExpiresAt,
			"scope", record.ScopeString(),
		)
		return
	}

	m.logger.Info("stored token expired, refreshing", "expired_at", record.ExpiresAt)
	renewed, err := m.refresher.Refresh(ctx, record)
	if err != nil {
		m.logger.Error("failed to refresh stored token, authorization required", "error", err)
		m.forget(ctx, err)
		return
	}

	if err := m.Adopt(ctx, renewed); err != nil {
		m.logger.Error("refreshed token rejected", "error", err)
		return
	}
	m.logger.Info("refreshed stored token", "expires_at", renewed.ExpiresAt)
}

// forget removes a stored record whose refresh token the provider refused.
func (m *Manager) forget(ctx context.Context, err error) {
	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) || !exchangeErr.Rejected() {
		return
	}
	if err := m.store.Delete(ctx); err != nil {
		m.logger.Warn("failed to delete rejected token", "error", err)
	}
}

// Adopt replaces the held record and persists it asynchronously. A persist
// failure is logged and does not affect the in-memory token.
func (m *Manager) Adopt(ctx context.Context, record *core.TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return ErrInvalidRecord
	}
	m.set(record)
	m.persist(ctx)
	return nil
}

func (m *Manager) set(record *core.TokenRecord) {
	m.mu.Lock()
	m.record = record.Clone()
	m.mu.Unlock()
}

func (m *Manager) current() *core.TokenRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.record.Clone()
}

// persist writes the latest record in the background. Writes are serialized,
// so a slow earlier write cannot overwrite a newer record.
func (m *Manager) persist(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	m.persistWG.Add(1)
	go func() {
		defer m.persistWG.Done()
		m.persistMu.Lock()
		defer m.persistMu.Unlock()

		record := m.current()
		if record == nil {
			return
		}
		if err := m.store.Save(ctx, record); err != nil {
			m.logger.Error("failed to persist token", "error", err)
			return
		}
		m.logger.Debug("persisted token", "access_token", core.MaskToken(record.AccessToken))
	}()
}

// Wait blocks until every pending persist has finished.
func (m *Manager) Wait() {
	m.persistWG.Wait()
}

// AccessToken returns the held access token. It never performs I/O.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.record == nil {
		return "", false
	}
	return m.record.AccessToken, true
}

// Token returns the access token for an API call. With a refresh margin
// set, a token close to expiry is renewed first; concurrent callers share
// one refresh.
func (m *Manager) Token(ctx context.Context) (string, bool) {
	if m.margin <= 0 {
		return m.AccessToken()
	}

	record := m.current()
	if record == nil {
		return "", false
	}
	if !record.ExpiresWithin(m.now(), m.margin) {
		return record.AccessToken, true
	}

	_, err, _ := m.refresh.Do("refresh", func() (any, error) {
		latest := m.current()
		if latest == nil || !latest.ExpiresWithin(m.now(), m.margin) {
			return nil, nil
		}
		renewed, err := m.refresher.Refresh(context.WithoutCancel(ctx), latest)
		if err != nil {
			return nil, err
		}
		return nil, m.Adopt(ctx, renewed)
	})
	if err != nil {
		log := core.LoggerFromCtx(ctx)
		var exchangeErr *ExchangeError
		if errors.As(err, &exchangeErr) && exchangeErr.Rejected() {
			log.Error("refresh token rejected, authorization required", "error", err)
			m.Invalidate(record.AccessToken, "refresh token rejected")
			return "", false
		}
		log.Warn("just-in-time refresh failed, using held token", "error", err)
	}
	return m.AccessToken()
}

// Invalidate drops the held record from memory if token is still its access
// token. A rejection of a token that was already replaced changes nothing.
// The persisted copy is left alone.
func (m *Manager) Invalidate(token, reason string) {
	m.mu.Lock()
	held := m.record != nil && m.record.AccessToken == token
	if held {
		m.record = nil
	}
	m.mu.Unlock()

	if held {
		m.logger.Warn("access token invalidated, authorization required", "reason", reason)
		return
	}
	m.logger.Debug("ignored invalidation of a token no longer held", "reason", reason)
}

// Status returns a snapshot of the held record without its secrets.
func (m *Manager) Status() Status {
	record := m.current()
	if record == nil {
		return Status{}
	}
	return Status{
		Authenticated: true,
		Expired:       record.Expired(m.now()),
		ExpiresAt:     record.ExpiresAt,
		Scope:         record.Scope,
		UserID:        record.UserID,
	}
}
