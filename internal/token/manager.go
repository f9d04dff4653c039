package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/expertdocs/drivescope/internal/gdrive"
)

// DefaultRefreshMargin is the absolute remaining-validity floor below which
// a refresh is triggered before handing out the token.
const DefaultRefreshMargin = 5 * time.Minute

// refreshFraction is the relative floor: refresh when less than this share
// of the validity window remains.
const refreshFraction = 0.10

// probeTimeout bounds the validation probe, separately from any budget the
// caller's context carries.
const probeTimeout = 5 * time.Second

// Prober issues the minimal authenticated request used to validate a token
// against the provider. gdrive.Client satisfies it via About.
type Prober interface {
	About(ctx context.Context) error
}

// refreshResponse mirrors the OAuth2 token endpoint JSON for
// grant_type=refresh_token.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Manager owns the token lifecycle: Unknown → Valid → ExpiringSoon →
// Expired/Invalid, with Refreshing as a transient state during renewal.
// Concurrent callers observing an expiring token share a single in-flight
// refresh; every successful refresh supersedes the stored record at once.
type Manager struct {
	store        Store
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	window       time.Duration
	margin       time.Duration
	logger       *slog.Logger

	// now is injectable for boundary tests.
	now func() time.Time

	sf singleflight.Group

	mu    sync.Mutex
	cur   *Token
	state State
}

// NewManager creates a Manager persisting through store and exchanging
// refresh tokens at tokenURL. window <= 0 falls back to DefaultWindow,
// margin <= 0 to DefaultRefreshMargin.
func NewManager(
	store Store,
	httpClient *http.Client,
	tokenURL, clientID, clientSecret string,
	window, margin time.Duration,
	logger *slog.Logger,
) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if window <= 0 {
		window = DefaultWindow
	}

	if margin <= 0 {
		margin = DefaultRefreshMargin
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:        store,
		httpClient:   httpClient,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		window:       window,
		margin:       margin,
		logger:       logger,
		now:          time.Now,
		state:        StateUnknown,
	}
}

// State returns the last observed lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// current loads the token from the store on first use and caches it.
// Callers hold no lock; current takes it.
func (m *Manager) current(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		return m.cur, nil
	}

	tok, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: loading stored token: %w", err)
	}

	if tok == nil {
		return nil, ErrNoToken
	}

	if tok.Window <= 0 {
		tok.Window = m.window
	}

	m.cur = tok
	m.state = stateFor(tok, m.now(), m.margin)

	return tok, nil
}

// stateFor classifies a token's lifecycle position at the given instant.
func stateFor(tok *Token, now time.Time, margin time.Duration) State {
	if tok.Expired(now) {
		return StateExpired
	}

	if needsRefresh(tok, now, margin) {
		return StateExpiringSoon
	}

	return StateValid
}

// needsRefresh reports whether remaining validity fell under the absolute
// margin or the relative fraction of the window.
func needsRefresh(tok *Token, now time.Time, margin time.Duration) bool {
	remaining := tok.Remaining(now)
	if remaining < margin {
		return true
	}

	return float64(remaining) < refreshFraction*float64(tok.Window)
}

// Validate probes the provider with the current token. A non-success
// authentication status maps to Invalid; success re-derives
// Valid/ExpiringSoon from elapsed time. A transient probe failure (timeout,
// server error) says nothing about the token itself: the time-derived state
// is kept and the error is returned for the caller to retry.
func (m *Manager) Validate(ctx context.Context, prober Prober) (bool, error) {
	tok, err := m.current(ctx)
	if err != nil {
		return false, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if probeErr := prober.About(probeCtx); probeErr != nil {
		if gdrive.IsAuth(probeErr) {
			m.logger.Warn("token rejected by provider",
				slog.String("error", probeErr.Error()),
			)

			m.mu.Lock()
			m.state = StateInvalid
			m.mu.Unlock()

			return false, nil
		}

		m.mu.Lock()
		m.state = stateFor(tok, m.now(), m.margin)
		m.mu.Unlock()

		return false, fmt.Errorf("token: validation probe: %w", probeErr)
	}

	m.mu.Lock()
	m.state = stateFor(tok, m.now(), m.margin)
	m.mu.Unlock()

	m.logger.Debug("token validated",
		slog.Time("expires_at", tok.ExpiresAt),
		slog.String("state", string(m.State())),
	)

	return true, nil
}

// GetOrRefresh returns the current token, refreshing first when remaining
// validity is under the configured margin or under 10% of the window.
// Concurrent callers share one in-flight refresh: exactly one exchange
// request is made and every caller receives the same superseding token.
func (m *Manager) GetOrRefresh(ctx context.Context) (*Token, error) {
	tok, err := m.current(ctx)
	if err != nil {
		return nil, err
	}

	if !needsRefresh(tok, m.now(), m.margin) {
		return tok, nil
	}

	return m.Refresh(ctx)
}

// Refresh exchanges the refresh value for a new access value and expiry.
// The result supersedes the previous record in the store in one Save.
// Fails fatally with ErrNoRefreshToken when no refresh value exists.
func (m *Manager) Refresh(ctx context.Context) (*Token, error) {
	result, err, _ := m.sf.Do("refresh", func() (any, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}

	tok, ok := result.(*Token)
	if !ok {
		return nil, fmt.Errorf("token: unexpected refresh result type %T", result)
	}

	return tok, nil
}

// doRefresh performs the actual exchange. Runs at most once per in-flight
// refresh; duplicate concurrent callers wait on the singleflight result.
func (m *Manager) doRefresh(ctx context.Context) (*Token, error) {
	// Re-check under the flight: a caller that queued behind a completed
	// refresh must not trigger a second exchange.
	m.mu.Lock()
	cur := m.cur
	if cur != nil && !needsRefresh(cur, m.now(), m.margin) {
		m.mu.Unlock()
		return cur, nil
	}

	if cur == nil {
		m.mu.Unlock()
		return nil, ErrNoToken
	}

	if cur.RefreshValue == "" {
		m.state = StateInvalid
		m.mu.Unlock()

		return nil, ErrNoRefreshToken
	}

	m.state = StateRefreshing
	refreshValue := cur.RefreshValue
	m.mu.Unlock()

	m.logger.Info("refreshing access token",
		slog.Time("old_expiry", cur.ExpiresAt),
	)

	newTok, err := m.exchange(ctx, refreshValue)
	if err != nil {
		m.mu.Lock()
		m.state = StateInvalid
		m.mu.Unlock()

		return nil, err
	}

	// Persist the whole record before publishing it, so a concurrent reader
	// of the store never sees a new access value with an old expiry.
	if saveErr := m.store.Save(ctx, newTok); saveErr != nil {
		return nil, fmt.Errorf("token: persisting refreshed token: %w", saveErr)
	}

	m.mu.Lock()
	m.cur = newTok
	m.state = StateValid
	m.mu.Unlock()

	m.logger.Info("access token refreshed",
		slog.Time("new_expiry", newTok.ExpiresAt),
	)

	return newTok, nil
}

// exchange posts grant_type=refresh_token to the token endpoint.
func (m *Manager) exchange(ctx context.Context, refreshValue string) (*Token, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshValue)
	form.Set("client_id", m.clientID)

	if m.clientSecret != "" {
		form.Set("client_secret", m.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("token: building refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token: refresh exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		// 4xx means the provider rejected the grant — a dead refresh token,
		// not a transient failure.
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRefreshRejected, resp.StatusCode, string(body))
		}

		return nil, fmt.Errorf("token: refresh exchange HTTP %d: %s", resp.StatusCode, string(body))
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("token: decoding refresh response: %w", err)
	}

	if rr.AccessToken == "" {
		return nil, fmt.Errorf("token: refresh response missing access_token")
	}

	// Providers typically do not rotate the refresh token on this grant;
	// keep the old one unless a new one is supplied.
	newRefresh := rr.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshValue
	}

	return NewToken(
		rr.AccessToken,
		newRefresh,
		m.now(),
		time.Duration(rr.ExpiresIn)*time.Second,
		m.window,
	), nil
}

// Token implements gdrive.TokenSource: it returns the current access value,
// refreshing if needed.
func (m *Manager) Token(ctx context.Context) (string, error) {
	tok, err := m.GetOrRefresh(ctx)
	if err != nil {
		return "", err
	}

	return tok.AccessValue, nil
}
