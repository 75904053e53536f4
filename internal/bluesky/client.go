package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultPDS = "https://bsky.social"

	defaultRate  = 10
	defaultBurst = 10
)

// Client is a minimal AT Protocol XRPC client for the read-only calls a
// collector needs. It is safe for concurrent use.
type Client struct {
	pds        string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *zap.Logger

	mu         sync.RWMutex
	accessJwt  string
	refreshJwt string
	did        string
	handle     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second. A non-positive rps
// disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithRetryPolicy replaces the retry policy for transient failures.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithLogger sets the logger used for retries.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.Named("bluesky")
		}
	}
}

// NewClient creates a new API client. If pds is empty, it defaults to
// https://bsky.social.
func NewClient(pds string, opts ...Option) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	c := &Client{
		pds: strings.TrimRight(pds, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(defaultRate, defaultBurst),
		retry:   DefaultRetryPolicy(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates with the PDS and stores the session tokens. Use an App
// Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp sessionResponse
	if err := c.call(ctx, http.MethodPost, "com.atproto.server.createSession", nil, body, &resp, false); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	c.setSession(resp)
	c.logger.Info("session created", zap.String("did", resp.DID), zap.String("handle", resp.Handle))
	return nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.did
}

// Handle returns the authenticated user's handle. Only valid after Login.
func (c *Client) Handle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

func (c *Client) setSession(s sessionResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessJwt = s.AccessJwt
	c.refreshJwt = s.RefreshJwt
	c.did = s.DID
	c.handle = s.Handle
}

func (c *Client) token(refresh bool) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if refresh {
		return c.refreshJwt
	}
	return c.accessJwt
}

// refresh exchanges the refresh token for a new session.
func (c *Client) refresh(ctx context.Context) error {
	if c.token(true) == "" {
		return ErrNotAuthenticated
	}
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "com.atproto.server.refreshSession", nil, nil, &resp, c.token(true)); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	c.setSession(resp)
	c.logger.Debug("session refreshed")
	return nil
}

// get performs an authenticated query.
func (c *Client) get(ctx context.Context, nsid string, params url.Values, result any) error {
	if c.token(false) == "" {
		return ErrNotAuthenticated
	}
	return c.call(ctx, http.MethodGet, nsid, params, nil, result, true)
}

// call applies rate limiting and the retry policy to one XRPC request. An
// expired access token is refreshed once.
func (c *Client) call(ctx context.Context, method, nsid string, params url.Values, body, result any, authed bool) error {
	refreshed := false
	return c.retry.Execute(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		token := ""
		if authed {
			token = c.token(false)
		}
		err := c.do(ctx, method, nsid, params, body, result, token)

		var apiErr *APIError
		if authed && !refreshed && errors.As(err, &apiErr) && apiErr.Name == errExpiredToken {
			refreshed = true
			if rerr := c.refresh(ctx); rerr != nil {
				return rerr
			}
			return c.do(ctx, method, nsid, params, body, result, c.token(false))
		}
		return err
	}, func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("request failed, retrying",
			zap.String("nsid", nsid),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})
}

func (c *Client) do(ctx context.Context, method, nsid string, params url.Values, body, result any, token string) error {
	endpoint := c.pds + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := gojson.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var xe xrpcError
		if gojson.Unmarshal(respBody, &xe) == nil && (xe.Error != "" || xe.Message != "") {
			apiErr.Name = xe.Error
			apiErr.Message = xe.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := gojson.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}
