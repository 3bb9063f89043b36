// Package sim is the client for the SIM directory API, the external
// identity collaborator of the enrichment stage.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Record is the subset of a directory entry the pipeline uses.
type Record struct {
	User      string
	Email     string
	FirstName string
	LastName  string
	Gender    string
	Status    string
	Project   string
}

// Lookup resolves one user's directory record. Implementations report
// every failure mode (network, non-200, malformed body) as an error;
// callers decide whether that drops the user or aborts the run.
type Lookup interface {
	LookupUser(ctx context.Context, user string) (Record, error)
}

type Config struct {
	BaseURL string

	// Username/Password take precedence; when empty, credentials are
	// read from NetrcPath for the API host, matching how the service
	// is usually provisioned on login nodes.
	Username  string
	Password  string
	NetrcPath string

	Timeout           time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	username       string
	password       string
	limiter        *rate.Limiter
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("directory base URL is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse directory base URL: %w", err)
	}

	username, password := cfg.Username, cfg.Password
	if username == "" && cfg.NetrcPath != "" {
		username, password, err = netrcCredentials(cfg.NetrcPath, parsed.Hostname())
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        base,
		username:       username,
		password:       password,
		limiter:        rate.NewLimiter(limit, 1),
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}, nil
}

func (c *Client) LookupUser(ctx context.Context, user string) (Record, error) {
	endpoint := c.baseURL + "/user/" + url.PathEscape(user)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Record{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return Record{}, fmt.Errorf("build directory request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		rec, retryable, err := c.do(req, user)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !retryable || attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = minDuration(backoff*2, c.maxBackoff)
	}

	return Record{}, fmt.Errorf("directory lookup for %s: %w", user, lastErr)
}

// do performs one attempt. Server-side and transport errors are
// retryable; client errors and unparsable bodies are not.
func (c *Client) do(req *http.Request, user string) (Record, bool, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Record{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return Record{}, true, fmt.Errorf("directory returned status=%d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Record{}, false, fmt.Errorf("directory returned status=%d", resp.StatusCode)
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Record{}, false, fmt.Errorf("decode directory response: %w", err)
	}
	return payload.record(user), false, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
