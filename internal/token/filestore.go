package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the tokens directory.
const DirPerms = 0o700

// fileToken is the on-disk JSON shape. Durations are stored in seconds so
// the file stays readable and editable by hand.
type fileToken struct {
	AccessValue   string    `json:"access_value"`
	RefreshValue  string    `json:"refresh_value,omitempty"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	WindowSeconds int64     `json:"window_seconds"`
}

// FileStore is a Store backed by a single JSON file, written atomically
// (write-to-temp + rename) with 0600 permissions. Never logs token values.
type FileStore struct {
	path string
}

// NewFileStore creates a store persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context) (*Token, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("token: reading %s: %w", f.path, err)
	}

	var ft fileToken
	if err := json.Unmarshal(data, &ft); err != nil {
		return nil, fmt.Errorf("token: decoding %s: %w", f.path, err)
	}

	if ft.AccessValue == "" {
		return nil, fmt.Errorf("token: %s missing access value (re-login required)", f.path)
	}

	return &Token{
		AccessValue:  ft.AccessValue,
		RefreshValue: ft.RefreshValue,
		AcquiredAt:   ft.AcquiredAt,
		ExpiresAt:    ft.ExpiresAt,
		Window:       time.Duration(ft.WindowSeconds) * time.Second,
	}, nil
}

func (f *FileStore) Save(_ context.Context, tok *Token) error {
	ft := fileToken{
		AccessValue:   tok.AccessValue,
		RefreshValue:  tok.RefreshValue,
		AcquiredAt:    tok.AcquiredAt,
		ExpiresAt:     tok.ExpiresAt,
		WindowSeconds: int64(tok.Window / time.Second),
	}

	data, err := json.MarshalIndent(ft, "", "  ")
	if err != nil {
		return fmt.Errorf("token: encoding: %w", err)
	}

	dir := filepath.Dir(f.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("token: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("token: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("token: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("token: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial token file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("token: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("token: closing: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("token: renaming: %w", err)
	}

	success = true

	return nil
}
