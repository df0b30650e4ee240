// Package analytics provides the session to the web-analytics source and
// the pure aggregation over its ranked rows.
//
// The session is constructed once at process startup and passed by
// reference into everything that queries the source; there is no ambient
// global credential state.
package analytics

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	defaultAPIBase  = "https://www.googleapis.com/analytics/v3/data/ga"
	readonlyScope   = "https://www.googleapis.com/auth/analytics.readonly"

	// Refresh the access token this long before it actually expires.
	tokenExpirySlack = time.Minute
)

// QueryParams describe one read against the analytics source. Zero-value
// fields are omitted from the request.
type QueryParams struct {
	Metrics    string
	Dimensions string
	Filters    string
	StartDate  string
	EndDate    string
	Sort       string
	MaxResults int
}

// Session is an authenticated connection to the analytics reporting API.
// It exchanges a signed service-account assertion for a bearer token and
// refreshes it transparently when it nears expiry. Safe for concurrent use.
type Session struct {
	email      string
	key        *rsa.PrivateKey
	profileID  string
	tokenURL   string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// SessionConfig holds the settings for constructing a Session.
// TokenURL, APIBase and HTTPClient are optional.
type SessionConfig struct {
	Email      string
	KeyPEM     []byte
	ProfileID  string
	TokenURL   string
	APIBase    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewSession parses the service-account key and returns a session. No
// network call is made until the first query.
func NewSession(cfg SessionConfig) (*Session, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse service account key: %w", err)
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Session{
		email:      cfg.Email,
		key:        key,
		profileID:  cfg.ProfileID,
		tokenURL:   tokenURL,
		apiBase:    apiBase,
		httpClient: hc,
		logger:     cfg.Logger,
	}, nil
}

// ProfileID returns the fixed analytics profile this session reads.
func (s *Session) ProfileID() string { return s.profileID }

// Query runs one read against the reporting API and returns the raw ranked
// rows, each a fixed-width sequence of string fields positioned by the
// requested dimensions and metrics.
func (s *Session) Query(ctx context.Context, p QueryParams) ([][]string, error) {
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("ids", "ga:"+s.profileID)
	q.Set("metrics", p.Metrics)
	q.Set("start-date", p.StartDate)
	q.Set("end-date", p.EndDate)
	if p.Dimensions != "" {
		q.Set("dimensions", p.Dimensions)
	}
	if p.Filters != "" {
		q.Set("filters", p.Filters)
	}
	if p.Sort != "" {
		q.Set("sort", p.Sort)
	}
	if p.MaxResults > 0 {
		q.Set("max-results", strconv.Itoa(p.MaxResults))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBase+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("analytics: build query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("analytics: query status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Rows [][]string `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("analytics: decode query result: %w", err)
	}
	return result.Rows, nil
}

// accessToken returns a valid bearer token, exchanging a fresh assertion
// when the cached one is missing or close to expiry.
func (s *Session) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry.Add(-tokenExpirySlack)) {
		return s.token, nil
	}

	assertion, err := s.signAssertion(time.Now())
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("analytics: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("analytics: exchange token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("analytics: token exchange status %d: %s", resp.StatusCode, body)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("analytics: decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("analytics: token exchange returned empty access_token")
	}

	s.token = tok.AccessToken
	s.expiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if s.logger != nil {
		s.logger.Debug("analytics: refreshed access token", "expires_in", tok.ExpiresIn)
	}
	return s.token, nil
}

// signAssertion builds the RS256 service-account assertion for the OAuth
// JWT bearer grant.
func (s *Session) signAssertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":   s.email,
		"scope": readonlyScope,
		"aud":   s.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("analytics: sign assertion: %w", err)
	}
	return signed, nil
}
