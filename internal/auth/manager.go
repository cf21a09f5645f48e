// Package auth implements the OAuth2 authorization-code flow with PKCE
// against the Kroger identity endpoints, plus token persistence and
// refresh. The manager is the single source of bearer tokens for the
// rest of the module.
package auth

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

	"kroger-cart/internal/model"
)

// expiryMargin is how early a token is treated as expired so in-flight
// requests never ride a token that lapses mid-call.
const expiryMargin = 60 * time.Second

// defaultExpiresIn is used when the token response omits expires_in.
const defaultExpiresIn = 1800 * time.Second

// authorizeTimeout bounds how long the interactive flow waits for the
// user to approve in the browser.
const authorizeTimeout = 5 * time.Minute

// Options configures a Manager. AuthURL and TokenURL point at the Kroger
// identity endpoints for the selected environment.
type Options struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURI  string
	Scopes       string
	Store        CredentialStore
	Logger       *slog.Logger

	// HTTPClient overrides the client used for token endpoint calls.
	HTTPClient *http.Client
}

// Manager owns the token lifecycle. Safe for concurrent use; concurrent
// refreshes collapse into a single upstream call.
type Manager struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	token *Token

	refresh singleflight.Group
}

// NewManager creates a token manager. Store and ClientID are required.
func NewManager(opts Options) (*Manager, error) {
	if opts.ClientID == "" {
		return nil, model.NewConfigError("client id is required")
	}
	if opts.Store == nil {
		return nil, model.NewConfigError("credential store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{
		opts:       opts,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Token returns a bearer token that is valid for at least the expiry
// margin, refreshing if necessary. It never starts the interactive flow:
// when no usable credential exists the caller gets an auth error and the
// user must run the authorization command.
func (m *Manager) Token(ctx context.Context) (string, error) {
	tok, err := m.current()
	if err != nil {
		return "", err
	}
	if tok != nil && !tok.ExpiresWithin(expiryMargin) {
		return tok.AccessToken, nil
	}
	if tok == nil || tok.RefreshToken == "" {
		return "", model.NewAuthError("no stored credentials, run the auth command first")
	}
	return m.refreshShared(ctx, tok.RefreshToken)
}

// ForceRefresh discards the cached access token and refreshes, regardless
// of the recorded expiry. Used when the upstream rejects a token the
// manager still believed valid.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	tok, err := m.current()
	if err != nil {
		return "", err
	}
	if tok == nil || tok.RefreshToken == "" {
		return "", model.NewAuthError("no stored credentials, run the auth command first")
	}
	return m.refreshShared(ctx, tok.RefreshToken)
}

// current returns the in-memory token, loading from the store on first use.
func (m *Manager) current() (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil {
		return m.token, nil
	}
	tok, err := m.opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading stored token: %w", err)
	}
	m.token = tok
	return tok, nil
}

// refreshShared funnels concurrent refresh calls into one token request.
// The refresh token is sampled before entering the flight, so a caller
// that lands just after a completed flight would replay the old, possibly
// rotated token. Providers that invalidate rotated refresh tokens would
// kill the credential, so the flight re-checks against the current token
// and hands back the fresh access token instead.
func (m *Manager) refreshShared(ctx context.Context, refreshToken string) (string, error) {
	v, err, _ := m.refresh.Do("refresh", func() (any, error) {
		m.mu.Lock()
		cur := m.token
		m.mu.Unlock()
		if cur != nil && cur.RefreshToken != "" && cur.RefreshToken != refreshToken {
			return cur.AccessToken, nil
		}
		return m.doRefresh(ctx, refreshToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) doRefresh(ctx context.Context, refreshToken string) (string, error) {
	m.logger.Debug("refreshing access token")

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	tok, err := m.tokenRequest(ctx, form)
	if err != nil {
		// A dead refresh token means the whole credential is dead.
		// Clear it so the next run reports a clean auth error instead
		// of retrying a doomed refresh.
		m.mu.Lock()
		m.token = nil
		m.mu.Unlock()
		if clearErr := m.opts.Store.Clear(); clearErr != nil {
			m.logger.Warn("clearing stored credentials", slog.Any("error", clearErr))
		}
		return "", model.NewAuthError(fmt.Sprintf("token refresh failed: %v", err))
	}

	if err := m.persist(tok); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Authorize runs the interactive authorization-code flow. openBrowser is
// called with the authorization URL; the caller decides how to present it
// (open a browser, print it). Blocks until the redirect arrives or the
// flow times out.
func (m *Manager) Authorize(ctx context.Context, openBrowser func(url string) error) error {
	pkce, err := GeneratePkce()
	if err != nil {
		return err
	}
	state, err := secureRandomString(16)
	if err != nil {
		return fmt.Errorf("generate state: %w", err)
	}

	port, err := redirectPort(m.opts.RedirectURI)
	if err != nil {
		return err
	}
	server, err := NewCallbackServer(port)
	if err != nil {
		return err
	}
	defer server.Close()

	authURL := m.buildAuthURL(pkce, state)
	m.logger.Info("waiting for authorization", slog.String("url", authURL))
	if err := openBrowser(authURL); err != nil {
		return fmt.Errorf("opening authorization url: %w", err)
	}

	code, gotState, err := server.Wait(ctx, authorizeTimeout)
	if err != nil {
		return err
	}
	if gotState != state {
		return model.NewAuthError("authorization state mismatch")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.opts.RedirectURI)
	form.Set("code_verifier", pkce.Verifier)

	tok, err := m.tokenRequest(ctx, form)
	if err != nil {
		return model.NewAuthError(fmt.Sprintf("code exchange failed: %v", err))
	}
	if err := m.persist(tok); err != nil {
		return err
	}

	m.logger.Info("authorization complete", slog.Time("expires_at", tok.ExpiresAt))
	return nil
}

func (m *Manager) buildAuthURL(pkce *PkceChallenge, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.opts.ClientID)
	q.Set("redirect_uri", m.opts.RedirectURI)
	q.Set("scope", m.opts.Scopes)
	q.Set("state", state)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", pkce.Method)
	return m.opts.AuthURL + "?" + q.Encode()
}

// tokenResponse is the wire shape of the token endpoint reply.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// tokenRequest posts a form to the token endpoint with client basic auth
// and converts the response into a Token with an absolute expiry.
func (m *Manager) tokenRequest(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(m.opts.ClientID, m.opts.ClientSecret)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    time.Now().Add(expiresIn),
	}, nil
}

func (m *Manager) persist(tok *Token) error {
	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()
	if err := m.opts.Store.Save(tok); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// redirectPort extracts the loopback port from the registered redirect URI.
func redirectPort(redirectURI string) (int, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return 0, model.NewConfigError(fmt.Sprintf("invalid redirect uri: %v", err))
	}
	if p := u.Port(); p != "" {
		var port int
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
			return 0, model.NewConfigError(fmt.Sprintf("invalid redirect uri port %q", p))
		}
		return port, nil
	}
	return 80, nil
}
