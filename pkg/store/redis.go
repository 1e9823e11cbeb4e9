package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-training/fitbit-mcp/pkg/core"
	"github.com/redis/rueidis"
)

// DefaultRedisKey is the key holding the token record in Redis.
const DefaultRedisKey = "fitbit-mcp:token"

// RedisStore implements the core.TokenStore interface using Redis via rueidis.
// The record is stored under a single key without expiry: the refresh token
// outlives the access token.
type RedisStore struct {
	client rueidis.Client
	key    string
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		key:    DefaultRedisKey,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Key overrides DefaultRedisKey.
	Key string
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	s, err := NewRedisStoreFromClientOption(clientOpts)
	if err != nil {
		return nil, err
	}
	if opts.Key != "" {
		s.key = opts.Key
	}
	return s, nil
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// Save stores the record as JSON, replacing any previous one.
func (r *RedisStore) Save(ctx context.Context, record *core.TokenRecord) error {
	if err := validate(record); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	cmd := r.client.B().Set().Key(r.key).Value(string(data)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save token record to redis: %w", err)
	}
	return nil
}

// Load returns the stored record, ErrTokenNotFound, or a *CorruptError when
// the value cannot be decoded.
func (r *RedisStore) Load(ctx context.Context) (*core.TokenRecord, error) {
	cmd := r.client.B().Get().Key(r.key).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token record from redis: %w", err)
	}

	var record core.TokenRecord
	if err := json.Unmarshal([]byte(result), &record); err != nil {
		return nil, &CorruptError{Path: "redis:" + r.key, Err: err}
	}
	if record.AccessToken == "" {
		return nil, &CorruptError{Path: "redis:" + r.key, Err: ErrEmptyAccessToken}
	}
	return &record, nil
}

// Delete removes the stored record.
func (r *RedisStore) Delete(ctx context.Context) error {
	cmd := r.client.B().Del().Key(r.key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete token record from redis: %w", err)
	}
	return nil
}
