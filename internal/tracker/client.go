package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/civicsignal/gotissues/internal/model"
)

// ErrResolveFailed marks a resolution that failed for one issue: a non-200
// response or a malformed body. Callers treat it as a per-row failure and
// continue the batch.
var ErrResolveFailed = errors.New("tracker: resolve failed")

const defaultAPIBase = "https://api.github.com/repos/"

// Client talks to the tracking API. It performs one authenticated read per
// resolution with no retries; retry policy belongs to the injected transport.
type Client struct {
	apiBase    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientConfig holds the settings for constructing a Client.
// APIBase and HTTPClient are optional.
type ClientConfig struct {
	APIBase    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a tracking API client.
func NewClient(cfg ClientConfig) *Client {
	base := cfg.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		apiBase:    base,
		token:      cfg.Token,
		httpClient: hc,
		logger:     cfg.Logger,
	}
}

// GetIssue fetches the raw issue record addressed by a normalized resource
// path (e.g. "codeforamerica/gotissues/issues/8"). A non-200 status or an
// undecodable body yields an error wrapping ErrResolveFailed.
func (c *Client) GetIssue(ctx context.Context, path string) (model.RawIssue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return model.RawIssue{}, fmt.Errorf("tracker: build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.RawIssue{}, fmt.Errorf("tracker: get %s: %v: %w", path, err, ErrResolveFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return model.RawIssue{}, fmt.Errorf("tracker: get %s: status %d: %w", path, resp.StatusCode, ErrResolveFailed)
	}

	var issue model.RawIssue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return model.RawIssue{}, fmt.Errorf("tracker: decode %s: %v: %w", path, err, ErrResolveFailed)
	}
	return issue, nil
}
