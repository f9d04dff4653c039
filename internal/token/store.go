package token

import (
	"context"
	"sync"
)

// Store persists the single current token for a principal. Save supersedes
// the previous record at once — implementations must never apply fields
// individually, so a reader can never observe a mismatched access value and
// expiry.
type Store interface {
	// Load returns the current token, or (nil, nil) when none is stored.
	Load(ctx context.Context) (*Token, error)
	// Save replaces the stored token with tok.
	Save(ctx context.Context, tok *Token) error
}

// MemoryStore is a Store for tests and single-process use.
type MemoryStore struct {
	mu  sync.Mutex
	tok *Token
}

// NewMemoryStore creates an empty in-memory store, optionally seeded.
func NewMemoryStore(tok *Token) *MemoryStore {
	return &MemoryStore{tok: tok}
}

func (m *MemoryStore) Load(_ context.Context) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tok == nil {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	cp := *m.tok

	return &cp, nil
}

func (m *MemoryStore) Save(_ context.Context, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tok
	m.tok = &cp

	return nil
}
