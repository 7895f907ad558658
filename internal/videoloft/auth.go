package videoloft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/retry"
)

// Session is the authenticated vendor session
type Session struct {
	AccessToken    string
	RefreshPayload json.RawMessage
	Region         string
	ExpiresAt      time.Time
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Location string `json:"location"`
	Result   struct {
		AuthToken string          `json:"authToken"`
		WebLogin  json.RawMessage `json:"webLogin"`
		Region    string          `json:"region"`
	} `json:"result"`
}

// redirectError carries the auth host the entry point told us to use
type redirectError struct {
	location string
}

func (e *redirectError) Error() string {
	return "login redirected to " + e.location
}

// TokenManager owns the vendor session. Refreshes are serialized so that
// concurrent callers holding an expired token cause a single network call.
type TokenManager struct {
	cfg    config.VideoloftConfig
	http   *resty.Client
	logger *logger.Logger
	policy retry.Policy

	mu      sync.Mutex
	session *Session
	now     func() time.Time
}

// NewTokenManager creates a token manager for the configured account
func NewTokenManager(cfg config.VideoloftConfig, log *logger.Logger) *TokenManager {
	httpClient := resty.New().
		SetTimeout(cfg.AuthTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent)

	attempts := cfg.AuthAttempts
	if attempts < 1 {
		attempts = 3
	}

	return &TokenManager{
		cfg:    cfg,
		http:   httpClient,
		logger: log.Named("auth"),
		policy: retry.Policy{
			MaxAttempts: attempts,
			Backoff:     retry.Exponential(time.Second, 8*time.Second),
			Retryable: func(err error) bool {
				return !IsAuthError(err)
			},
		},
		now: time.Now,
	}
}

// Authenticate performs a full login, following entry point redirects
func (tm *TokenManager) Authenticate(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.authenticateLocked(ctx)
}

// GetToken returns a valid access token, refreshing the session when expired
func (tm *TokenManager) GetToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.session != nil && tm.session.AccessToken != "" && !tm.now().After(tm.session.ExpiresAt) {
		return tm.session.AccessToken, nil
	}

	tm.logger.Debug("Token expired or missing, refreshing")
	if err := tm.refreshLocked(ctx); err != nil {
		return "", err
	}
	return tm.session.AccessToken, nil
}

// Region returns the region of the current session
func (tm *TokenManager) Region() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.session == nil {
		return ""
	}
	return tm.session.Region
}

// Authenticated reports whether a session exists, expired or not
func (tm *TokenManager) Authenticated() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.session != nil
}

// ExpiresAt returns the expiry of the current session
func (tm *TokenManager) ExpiresAt() time.Time {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.session == nil {
		return time.Time{}
	}
	return tm.session.ExpiresAt
}

// Close invalidates the session
func (tm *TokenManager) Close() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.session = nil
}

// RegionURL returns the regional auth base URL for region
func (tm *TokenManager) RegionURL(region string) string {
	return strings.TrimRight(strings.ReplaceAll(tm.cfg.RegionAuthURL, "{region}", region), "/")
}

func (tm *TokenManager) authenticateLocked(ctx context.Context) error {
	host := strings.TrimRight(tm.cfg.AuthServer, "/")

	err := tm.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		session, err := tm.login(ctx, host)
		if err != nil {
			if redirect, ok := err.(*redirectError); ok {
				tm.logger.Info("Login redirected", "location", redirect.location, "attempt", attempt)
				host = tm.normalizeHost(redirect.location)
				return err
			}
			tm.logger.Warn("Login attempt failed", "attempt", attempt, "error", err)
			return err
		}
		tm.session = session
		return nil
	})
	if err != nil {
		if redirect, ok := err.(*redirectError); ok {
			return &AuthError{Reason: "too many login redirects", Err: redirect}
		}
		return err
	}

	tm.logger.Info("Authenticated", "region", tm.session.Region)
	return nil
}

func (tm *TokenManager) login(ctx context.Context, host string) (*Session, error) {
	resp, err := tm.http.R().
		SetContext(ctx).
		SetBody(loginRequest{Email: tm.cfg.Email, Password: tm.cfg.Password}).
		Post(host + "/login")
	if err != nil {
		return nil, &ConnectivityError{Op: "login", Err: err}
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("credentials rejected (status %d)", resp.StatusCode())}
	case resp.IsError():
		return nil, &UpstreamError{Op: "login", StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var body loginResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, &DataIntegrityError{What: "login response", Err: err}
	}
	if body.Location != "" {
		return nil, &redirectError{location: body.Location}
	}

	r := body.Result
	if r.AuthToken == "" || len(r.WebLogin) == 0 || string(r.WebLogin) == "null" || r.Region == "" {
		return nil, &AuthError{Reason: "login response missing authToken, webLogin or region"}
	}

	return &Session{
		AccessToken:    r.AuthToken,
		RefreshPayload: r.WebLogin,
		Region:         r.Region,
		ExpiresAt:      tm.now().Add(tm.cfg.TokenTTL),
	}, nil
}

// refreshLocked uses the refresh endpoint when possible and falls back to a
// full login when there is no refresh payload or the payload was rejected
func (tm *TokenManager) refreshLocked(ctx context.Context) error {
	if tm.session == nil || len(tm.session.RefreshPayload) == 0 || tm.session.Region == "" {
		return tm.authenticateLocked(ctx)
	}

	resp, err := tm.http.R().
		SetContext(ctx).
		SetBody([]byte(tm.session.RefreshPayload)).
		Post(tm.RegionURL(tm.session.Region) + "/login/refresh")
	if err != nil {
		return &ConnectivityError{Op: "token refresh", Err: err}
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		tm.logger.Warn("Refresh payload rejected, logging in again", "status", resp.StatusCode())
		return tm.authenticateLocked(ctx)
	}
	if resp.IsError() {
		return &UpstreamError{Op: "token refresh", StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var body loginResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return &DataIntegrityError{What: "refresh response", Err: err}
	}
	if body.Result.AuthToken == "" || len(body.Result.WebLogin) == 0 {
		tm.logger.Warn("Refresh response incomplete, logging in again")
		return tm.authenticateLocked(ctx)
	}

	tm.session = &Session{
		AccessToken:    body.Result.AuthToken,
		RefreshPayload: body.Result.WebLogin,
		Region:         tm.session.Region,
		ExpiresAt:      tm.now().Add(tm.cfg.TokenTTL),
	}
	tm.logger.Debug("Token refreshed")
	return nil
}

func (tm *TokenManager) normalizeHost(location string) string {
	location = strings.TrimRight(location, "/")
	if strings.Contains(location, "://") {
		return location
	}
	return tm.cfg.Scheme + "://" + location
}
