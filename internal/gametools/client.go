// Package gametools fetches server status from the gametools.network API and
// normalizes it into a status.ServerStatus.
package gametools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/foxzi/serverbot/internal/game"
	"github.com/foxzi/serverbot/internal/metrics"
	"github.com/foxzi/serverbot/internal/status"
)

const (
	// DefaultBaseURL is the public API endpoint
	DefaultBaseURL = "https://api.gametools.network"

	// attempts is one call plus a single retry
	attempts    = 2
	searchLimit = "10"
	maxBodySize = 4 << 20
)

// Config contains the server identity and API settings
type Config struct {
	BaseURL     string
	Variant     game.Variant
	ServerName  string
	Lang        string
	OwnerID     string // empty disables owner selection
	ServerID    string // empty disables guid selection
	FakePlayers bool
	Timeout     time.Duration
	RetryDelay  time.Duration
}

// Client is a gametools.network API client
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new API client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Budget is the longest a Fetch may take: search and detailed lookup, each
// with every attempt timing out and the longest backoff in between
func (c *Client) Budget() time.Duration {
	perCall := attempts*c.cfg.Timeout + c.newBackoff().Max
	return 2 * perCall
}

func (c *Client) newBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.cfg.RetryDelay,
		Max:    10 * c.cfg.RetryDelay,
		Factor: 2,
		Jitter: true,
	}
}

// Fetch resolves the configured server and returns its current status.
// prevSessionID is kept when the search result does not identify the server.
func (c *Client) Fetch(ctx context.Context, prevSessionID string) (status.ServerStatus, error) {
	list, err := c.searchServers(ctx)
	if err != nil {
		return status.ServerStatus{}, err
	}

	entry, found, err := c.selectServer(list)
	if err != nil {
		return status.ServerStatus{}, err
	}

	sessionID := prevSessionID
	if found && entry.GameID != "" {
		sessionID = string(entry.GameID)
	}

	var st status.ServerStatus
	if c.cfg.Variant.Legacy() {
		if sessionID == "" {
			return status.ServerStatus{}, fmt.Errorf("%w: no game id for %q", ErrNotFound, c.cfg.ServerName)
		}
		detail, err := c.detailedServer(ctx, sessionID)
		if err != nil {
			return status.ServerStatus{}, err
		}
		st = detail.toStatus(c.cfg.FakePlayers && c.cfg.Variant.SupportsFakePlayers())
	} else {
		if !found {
			return status.ServerStatus{}, fmt.Errorf("%w: %q", ErrNotFound, c.cfg.ServerName)
		}
		st = entry.toStatus()
	}

	st.SessionID = sessionID
	return st, nil
}

// selectServer picks the target entry by owner id, guid or list order
func (c *Client) selectServer(list *listResponse) (MainInfo, bool, error) {
	var match func(MainInfo) bool
	switch {
	case c.cfg.OwnerID != "" && c.cfg.Variant.SupportsOwnerID():
		match = func(m MainInfo) bool { return string(m.OwnerID) == c.cfg.OwnerID }
	case c.cfg.ServerID != "":
		match = func(m MainInfo) bool { return string(m.ServerID) == c.cfg.ServerID }
	default:
		if len(list.Servers) == 0 {
			return MainInfo{}, false, nil
		}
		var first MainInfo
		if err := json.Unmarshal(list.Servers[0], &first); err != nil {
			return MainInfo{}, false, fmt.Errorf("%w: server entry: %v", ErrDecode, err)
		}
		return first, true, nil
	}

	if list.Servers == nil {
		return MainInfo{}, false, fmt.Errorf("%w: server list missing", ErrDecode)
	}

	for _, raw := range list.Servers {
		var m MainInfo
		if err := json.Unmarshal(raw, &m); err != nil {
			return MainInfo{}, false, fmt.Errorf("%w: server entry: %v", ErrDecode, err)
		}
		if match(m) {
			return m, true, nil
		}
	}
	return MainInfo{}, false, nil
}

// searchServers lists servers matching the configured name
func (c *Client) searchServers(ctx context.Context) (*listResponse, error) {
	query := url.Values{}
	query.Set("name", c.cfg.ServerName)
	query.Set("lang", c.cfg.Lang)
	query.Set("limit", searchLimit)

	var resp listResponse
	err := retry(ctx, attempts, c.cfg.Timeout, c.newBackoff(), func(ctx context.Context) error {
		resp = listResponse{}
		if err := c.get(ctx, "servers", query, &resp); err != nil {
			return err
		}
		if resp.failed() {
			return fmt.Errorf("%w: search returned errors: %s", errTransient, resp.Errors)
		}
		return nil
	})
	c.record("servers", err)
	if err != nil {
		return nil, fmt.Errorf("search servers: %w", err)
	}
	return &resp, nil
}

// detailedServer looks up a legacy server by game id
func (c *Client) detailedServer(ctx context.Context, gameID string) (*DetailedInfo, error) {
	query := url.Values{}
	query.Set("gameid", gameID)
	query.Set("lang", c.cfg.Lang)

	var raw json.RawMessage
	err := retry(ctx, attempts, c.cfg.Timeout, c.newBackoff(), func(ctx context.Context) error {
		raw = nil
		if err := c.get(ctx, "detailedserver", query, &raw); err != nil {
			return err
		}
		var env errorEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("%w: detailed server: %v", ErrDecode, err)
		}
		if env.failed() {
			return fmt.Errorf("%w: detailed lookup returned errors: %s", errTransient, env.Errors)
		}
		return nil
	})
	c.record("detailedserver", err)
	if err != nil {
		return nil, fmt.Errorf("detailed server %s: %w", gameID, err)
	}

	var detail DetailedInfo
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, fmt.Errorf("%w: detailed server: %v", ErrDecode, err)
	}
	return &detail, nil
}

// get performs one GET request against {base}/{slug}/{endpoint}/
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, result any) error {
	u := fmt.Sprintf("%s/%s/%s/?%s", c.cfg.BaseURL, c.cfg.Variant.Slug(), endpoint, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "serverbot")

	c.logger.Debug("upstream request", "endpoint", endpoint, "url", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("upstream request failed", "endpoint", endpoint, "error", err)
		return fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errTransient, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("upstream returned error status", "endpoint", endpoint, "status", resp.StatusCode)
		return fmt.Errorf("%w: HTTP %d", errTransient, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s: HTTP %d", ErrUpstreamUnavailable, endpoint, resp.StatusCode)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, endpoint, err)
	}
	return nil
}

func (c *Client) record(endpoint string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.IncUpstreamRequests(endpoint, result)
}
