package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-training/fitbit-mcp/pkg/core"

	"github.com/google/uuid"
)

// DefaultTokenFile is the token file used when none is configured.
// Relative paths resolve against the process working directory.
const DefaultTokenFile = ".fitbit-token.json"

// CorruptError reports a token file that exists but cannot be decoded.
// It is distinct from ErrTokenNotFound so callers can tell the two apart.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("token file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// FileStore implements the core.TokenStore interface as a single JSON file.
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so readers never observe a partial record.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// FileOptions contains configuration for the file store.
type FileOptions struct {
	Path string
}

// NewFileStore creates a FileStore writing to path, or DefaultTokenFile if empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultTokenFile
	}
	return &FileStore{path: path}
}

// Path returns the token file location.
func (f *FileStore) Path() string {
	return f.path
}

// Save serializes the record and atomically replaces the token file.
func (f *FileStore) Save(ctx context.Context, record *core.TokenRecord) error {
	if err := validate(record); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(f.path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return fmt.Errorf("failed to rename temp token file: %w (cleanup: %v)", err, removeErr)
		}
		return fmt.Errorf("failed to rename temp token file: %w", err)
	}
	return nil
}

// Load reads the token file. A missing file yields ErrTokenNotFound and an
// undecodable one yields a *CorruptError.
func (f *FileStore) Load(ctx context.Context) (*core.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var record core.TokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &CorruptError{Path: f.path, Err: err}
	}
	if record.AccessToken == "" {
		return nil, &CorruptError{Path: f.path, Err: ErrEmptyAccessToken}
	}
	return &record, nil
}

// Delete removes the token file. Deleting a missing file is not an error.
func (f *FileStore) Delete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}
