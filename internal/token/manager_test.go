package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expertdocs/drivescope/internal/gdrive"
)

// countingStore wraps MemoryStore and counts Save calls.
type countingStore struct {
	MemoryStore
	saves atomic.Int32
}

func (c *countingStore) Save(ctx context.Context, tok *Token) error {
	c.saves.Add(1)
	return c.MemoryStore.Save(ctx, tok)
}

// fakeProber returns a fixed probe error.
type fakeProber struct {
	err error
}

func (f *fakeProber) About(_ context.Context) error {
	return f.err
}

// newRefreshServer returns an httptest server acting as the token endpoint,
// counting exchanges and handing out sequentially numbered access values.
func newRefreshServer(t *testing.T, exchanges *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.NotEmpty(t, r.Form.Get("refresh_token"))

		n := exchanges.Add(1)
		fmt.Fprintf(w, `{"access_token": "access-%d", "expires_in": 3600}`, n)
	}))
}

func newTestManager(t *testing.T, store Store, tokenURL string) *Manager {
	t.Helper()

	return NewManager(store, http.DefaultClient, tokenURL, "client-id", "", time.Hour, DefaultRefreshMargin, testLogger())
}

func TestExpiryBoundaryIsClosed(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	tok := &Token{AccessValue: "a", ExpiresAt: now, Window: time.Hour}

	assert.True(t, tok.Expired(now), "a token expiring exactly now is expired, not valid")
	assert.False(t, tok.Expired(now.Add(-time.Nanosecond)))
	assert.True(t, tok.Expired(now.Add(time.Nanosecond)))
}

func TestStateFor(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		remaining time.Duration
		window    time.Duration
		want      State
	}{
		{"plenty left", 50 * time.Minute, time.Hour, StateValid},
		{"under absolute margin", 4 * time.Minute, time.Hour, StateExpiringSoon},
		{"under relative fraction", 30 * time.Minute, 24 * time.Hour, StateExpiringSoon},
		{"exactly now", 0, time.Hour, StateExpired},
		{"already expired", -time.Minute, time.Hour, StateExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &Token{ExpiresAt: now.Add(tt.remaining), Window: tt.window}
			assert.Equal(t, tt.want, stateFor(tok, now, DefaultRefreshMargin))
		})
	}
}

func TestConfiguredMarginDrivesRefresh(t *testing.T) {
	// Window 20m keeps the relative floor at 2m, so the absolute margin
	// decides: 3m remaining is fine under a 2m margin and stale under 5m.
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	tok := &Token{ExpiresAt: now.Add(3 * time.Minute), Window: 20 * time.Minute}

	assert.False(t, needsRefresh(tok, now, 2*time.Minute))
	assert.True(t, needsRefresh(tok, now, 5*time.Minute))
}

func TestGetOrRefreshHonorsConfiguredMargin(t *testing.T) {
	var exchanges atomic.Int32

	server := newRefreshServer(t, &exchanges)
	defer server.Close()

	now := time.Now()
	freshFor := func() *Token {
		return &Token{
			AccessValue: "current", RefreshValue: "r1",
			AcquiredAt: now.Add(-17 * time.Minute), ExpiresAt: now.Add(3 * time.Minute),
			Window: 20 * time.Minute,
		}
	}

	// Margin below the remaining validity: no exchange.
	tight := NewManager(NewMemoryStore(freshFor()), http.DefaultClient, server.URL,
		"client-id", "", 20*time.Minute, 2*time.Minute, testLogger())

	tok, err := tight.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "current", tok.AccessValue)
	assert.Equal(t, int32(0), exchanges.Load())

	// Margin above the remaining validity: the same token gets refreshed.
	wide := NewManager(NewMemoryStore(freshFor()), http.DefaultClient, server.URL,
		"client-id", "", 20*time.Minute, 5*time.Minute, testLogger())

	tok, err = wide.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessValue)
	assert.Equal(t, int32(1), exchanges.Load())
}

func TestGetOrRefreshReturnsFreshTokenWithoutExchange(t *testing.T) {
	var exchanges atomic.Int32

	server := newRefreshServer(t, &exchanges)
	defer server.Close()

	now := time.Now()
	store := NewMemoryStore(&Token{
		AccessValue: "fresh", RefreshValue: "r1",
		AcquiredAt: now, ExpiresAt: now.Add(time.Hour), Window: time.Hour,
	})

	m := newTestManager(t, store, server.URL)

	tok, err := m.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessValue)
	assert.Equal(t, int32(0), exchanges.Load())
	assert.Equal(t, StateValid, m.State())
}

func TestGetOrRefreshRefreshesExpiringToken(t *testing.T) {
	var exchanges atomic.Int32

	server := newRefreshServer(t, &exchanges)
	defer server.Close()

	now := time.Now()
	store := &countingStore{}
	require.NoError(t, store.MemoryStore.Save(context.Background(), &Token{
		AccessValue: "stale", RefreshValue: "r1",
		AcquiredAt: now.Add(-59 * time.Minute), ExpiresAt: now.Add(time.Minute), Window: time.Hour,
	}))

	m := newTestManager(t, store, server.URL)

	tok, err := m.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessValue)
	assert.Equal(t, "r1", tok.RefreshValue, "refresh value is kept when the provider does not rotate it")
	assert.Equal(t, int32(1), exchanges.Load())
	assert.Equal(t, int32(1), store.saves.Load(), "one refresh persists exactly one superseding record")
	assert.Equal(t, StateValid, m.State())

	// The store holds the new record, not a partially applied one.
	persisted, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", persisted.AccessValue)
	assert.True(t, persisted.ExpiresAt.After(now.Add(50*time.Minute)))
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	var exchanges atomic.Int32

	server := newRefreshServer(t, &exchanges)
	defer server.Close()

	now := time.Now()
	store := &countingStore{}
	require.NoError(t, store.MemoryStore.Save(context.Background(), &Token{
		AccessValue: "stale", RefreshValue: "r1",
		AcquiredAt: now.Add(-time.Hour), ExpiresAt: now.Add(30 * time.Second), Window: time.Hour,
	}))

	m := newTestManager(t, store, server.URL)

	const callers = 16

	var wg sync.WaitGroup

	results := make([]*Token, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i], errs[i] = m.GetOrRefresh(context.Background())
		}()
	}

	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", results[i].AccessValue, "every caller receives the same superseding token")
	}

	assert.Equal(t, int32(1), exchanges.Load(), "concurrent callers must share one in-flight exchange")
	assert.Equal(t, int32(1), store.saves.Load())
}

func TestRefreshWithoutRefreshTokenIsFatal(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(&Token{
		AccessValue: "stale", RefreshValue: "",
		AcquiredAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour), Window: time.Hour,
	})

	m := newTestManager(t, store, "http://unused.invalid")

	_, err := m.GetOrRefresh(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, StateInvalid, m.State())
}

func TestRefreshRejectedByProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant"}`)
	}))
	defer server.Close()

	now := time.Now()
	store := NewMemoryStore(&Token{
		AccessValue: "stale", RefreshValue: "dead",
		AcquiredAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour), Window: time.Hour,
	})

	m := newTestManager(t, store, server.URL)

	_, err := m.GetOrRefresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshRejected)
	assert.Equal(t, StateInvalid, m.State())
}

func TestGetOrRefreshWithEmptyStore(t *testing.T) {
	m := newTestManager(t, NewMemoryStore(nil), "http://unused.invalid")

	_, err := m.GetOrRefresh(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
}

func TestValidateAuthFailureMarksInvalid(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(&Token{
		AccessValue: "a", RefreshValue: "r1",
		AcquiredAt: now, ExpiresAt: now.Add(time.Hour), Window: time.Hour,
	})

	m := newTestManager(t, store, "http://unused.invalid")

	probeErr := &gdrive.DriveError{StatusCode: 401, Message: "Invalid Credentials", Err: gdrive.ErrUnauthorized}

	ok, err := m.Validate(context.Background(), &fakeProber{err: probeErr})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateInvalid, m.State())
}

func TestValidateTransientFailureDoesNotInvalidate(t *testing.T) {
	// A timeout or server error says nothing about the token; the state
	// stays time-derived and the error surfaces to the caller.
	now := time.Now()
	store := NewMemoryStore(&Token{
		AccessValue: "a", RefreshValue: "r1",
		AcquiredAt: now, ExpiresAt: now.Add(time.Hour), Window: time.Hour,
	})

	m := newTestManager(t, store, "http://unused.invalid")

	probeErr := &gdrive.DriveError{StatusCode: 503, Message: "backend error", Err: gdrive.ErrServerError}

	ok, err := m.Validate(context.Background(), &fakeProber{err: probeErr})
	require.Error(t, err)
	assert.ErrorIs(t, err, gdrive.ErrServerError)
	assert.False(t, ok)
	assert.Equal(t, StateValid, m.State())
}

func TestValidateProbeSuccess(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore(&Token{
		AccessValue: "a", RefreshValue: "r1",
		AcquiredAt: now, ExpiresAt: now.Add(time.Hour), Window: time.Hour,
	})

	m := newTestManager(t, store, "http://unused.invalid")

	ok, err := m.Validate(context.Background(), &fakeProber{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateValid, m.State())
}

func TestNewTokenDerivesExpiryFromWindow(t *testing.T) {
	acquired := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	tok := NewToken("a", "r", acquired, 0, 2*time.Hour)
	assert.Equal(t, acquired.Add(2*time.Hour), tok.ExpiresAt)

	tok = NewToken("a", "r", acquired, 30*time.Minute, 2*time.Hour)
	assert.Equal(t, acquired.Add(30*time.Minute), tok.ExpiresAt)
}
