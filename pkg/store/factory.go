package store

import (
	"fmt"
	"strings"

	"github.com/go-training/fitbit-mcp/pkg/core"
)

// StoreType represents the type of store backend.
type StoreType string

const (
	// StoreTypeFile represents a JSON token file on local disk.
	StoreTypeFile StoreType = "file"
	// StoreTypeMemory represents in-memory storage.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeRedis represents Redis storage.
	StoreTypeRedis StoreType = "redis"
)

// Config contains configuration for creating a store.
type Config struct {
	// Type specifies the store type (file, memory or redis).
	Type StoreType
	// File contains file-specific configuration.
	File FileOptions
	// Redis contains Redis-specific configuration.
	Redis RedisOptions
}

// Factory creates store instances based on configuration.
type Factory struct {
	config Config
}

// NewFactory creates a new store factory with the provided configuration.
func NewFactory(config Config) *Factory {
	return &Factory{
		config: config,
	}
}

// Create creates and returns a new store instance based on the factory configuration.
// Returns an error if the store type is invalid or if store creation fails.
func (f *Factory) Create() (core.TokenStore, error) {
	switch f.config.Type {
	case StoreTypeFile:
		return NewFileStore(f.config.File.Path), nil
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStoreFromOptions(f.config.Redis)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", f.config.Type)
	}
}

// NewStore is a convenience function that creates a store directly from configuration.
// It's equivalent to NewFactory(config).Create().
func NewStore(config Config) (core.TokenStore, error) {
	return NewFactory(config).Create()
}

// ParseStoreType parses a string into a StoreType.
// Returns StoreTypeFile for invalid inputs.
func ParseStoreType(s string) StoreType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory":
		return StoreTypeMemory
	case "redis":
		return StoreTypeRedis
	default:
		return StoreTypeFile
	}
}

// String returns the string representation of a StoreType.
func (t StoreType) String() string {
	return string(t)
}

// IsValid returns true if the StoreType is valid.
func (t StoreType) IsValid() bool {
	switch t {
	case StoreTypeFile, StoreTypeMemory, StoreTypeRedis:
		return true
	default:
		return false
	}
}

// DefaultConfig returns the default store configuration (token file).
func DefaultConfig() Config {
	return FileConfig(DefaultTokenFile)
}

// FileConfig creates a file store configuration for the given path.
func FileConfig(path string) Config {
	return Config{
		Type: StoreTypeFile,
		File: FileOptions{Path: path},
	}
}

// RedisConfig creates a Redis store configuration with the provided options.
func RedisConfig(redisOpts RedisOptions) Config {
	return Config{
		Type:  StoreTypeRedis,
		Redis: redisOpts,
	}
}

// MemoryConfig creates a memory store configuration.
func MemoryConfig() Config {
	return Config{
		Type: StoreTypeMemory,
	}
}
