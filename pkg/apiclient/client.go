// Package apiclient is the single outbound client for the marketplace REST
// API. It attaches the bearer token, unwraps the response envelope and, on a
// 401, refreshes the access token once and retries the request once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Skotchmaster/blytz_client/pkg/models"
	"github.com/Skotchmaster/blytz_client/pkg/transport"
)

const (
	DefaultTimeout = 10 * time.Second
	RefreshPath    = "/auth/refresh"

	maxBodyBytes = 10 << 20
	refreshKey   = "refresh"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	timeout    time.Duration
	log        *slog.Logger

	refreshGroup singleflight.Group

	mu        sync.Mutex
	onExpired []func()
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds every single attempt, including the refresh call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithSessionExpired(fn func()) Option {
	return func(c *Client) { c.onExpired = append(c.onExpired, fn) }
}

func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	c.log = c.log.With("component", "apiclient")
	return c
}

// OnSessionExpired registers fn to run after a failed refresh has cleared
// the stored tokens.
func (c *Client) OnSessionExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = append(c.onExpired, fn)
}

func (c *Client) Tokens() TokenStore {
	return c.tokens
}

type request struct {
	method  string
	path    string
	payload []byte
	auth    bool
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// PostPublic sends a request without the bearer token and never refreshes on
// 401. Login and register go through it so bad credentials cannot end the
// current session.
func (c *Client) PostPublic(ctx context.Context, path string, body, out any) error {
	payload, err := encodeBody(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	env, _, err := c.send(ctx, request{method: http.MethodPost, path: path, payload: payload})
	if err != nil {
		return err
	}
	return decodeData(env, out)
}

// Do sends body as JSON and decodes the envelope's data into out.
// out may be nil when the payload is not needed.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.DoWithMeta(ctx, method, path, body, out)
	return err
}

func (c *Client) DoWithMeta(ctx context.Context, method, path string, body, out any) (*transport.Meta, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req := request{method: method, path: path, payload: payload, auth: true}

	env, used, err := c.send(ctx, req)
	if isUnauthorized(err) {
		env, err = c.retryUnauthorized(ctx, req, used, err)
	}
	if err != nil {
		return nil, err
	}
	if err := decodeData(env, out); err != nil {
		return nil, err
	}
	return env.Meta, nil
}

// retryUnauthorized runs at most once per request: the retried attempt goes
// through send directly, so a second 401 is returned to the caller as is.
func (c *Client) retryUnauthorized(ctx context.Context, req request, used string, orig error) (*transport.Envelope, error) {
	l := c.log.With("method", req.method, "path", req.path)

	if _, err := c.refresh(ctx, used); err != nil {
		if ctx.Err() != nil {
			return nil, &NetworkError{Method: req.method, URL: c.url(req.path), Err: ctx.Err()}
		}
		l.Warn("session_expired", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, orig)
	}

	l.Info("request_retry_after_refresh")
	env, _, err := c.send(ctx, req)
	return env, err
}

// refresh shares one in-flight refresh between concurrent callers. A caller
// whose failed token has already been replaced gets the new one without a
// second refresh call.
func (c *Client) refresh(ctx context.Context, used string) (string, error) {
	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		bg := context.WithoutCancel(ctx)
		current, err := c.tokens.AccessToken(bg)
		if err == nil && current != "" && current != used {
			return current, nil
		}
		return c.doRefresh(bg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	access, err := c.exchangeRefresh(ctx)
	if err != nil {
		c.log.Warn("token_refresh_failed", "error", err)
		c.expireSession(ctx)
		return "", err
	}
	c.log.Info("token_refreshed")
	return access, nil
}

func (c *Client) exchangeRefresh(ctx context.Context) (string, error) {
	refresh, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if refresh == "" {
		return "", ErrNoRefreshToken
	}

	payload, err := json.Marshal(models.RefreshRequest{RefreshToken: refresh})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	env, _, err := c.send(ctx, request{method: http.MethodPost, path: RefreshPath, payload: payload})
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}

	var pair models.TokenPair
	if err := decodeData(env, &pair); err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	if pair.AccessToken == "" {
		return "", errors.New("refresh: empty access token")
	}

	next := pair.RefreshToken
	if next == "" {
		next = refresh
	}
	if err := c.tokens.SetTokens(ctx, pair.AccessToken, next); err != nil {
		return "", fmt.Errorf("store tokens: %w", err)
	}
	return pair.AccessToken, nil
}

func (c *Client) expireSession(ctx context.Context) {
	if err := c.tokens.Clear(ctx); err != nil {
		c.log.Error("token_clear_failed", "error", err)
	}

	c.mu.Lock()
	hooks := append([]func(){}, c.onExpired...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// send performs one HTTP attempt and returns the access token it carried.
func (c *Client) send(ctx context.Context, r request) (*transport.Envelope, string, error) {
	target := c.url(r.path)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.payload != nil {
		body = bytes.NewReader(r.payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rid := uuid.NewString()
	req.Header.Set("X-Request-ID", rid)

	var token string
	if r.auth {
		token, err = c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("read access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	l := c.log.With("method", r.method, "path", r.path, "request_id", rid)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		l.Warn("request_failed", "error", err)
		return nil, token, &NetworkError{Method: r.method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		l.Warn("request_failed", "status", resp.StatusCode, "error", err)
		return nil, token, &NetworkError{Method: r.method, URL: target, Err: err}
	}

	l = l.With("status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp.StatusCode, raw)
		apiErr.RequestID = rid
		l.Warn("request_completed", "code", apiErr.Code)
		return nil, token, apiErr
	}

	env, err := parseEnvelope(resp.StatusCode, raw)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.RequestID = rid
		}
		l.Warn("request_completed", "error", err)
		return nil, token, err
	}

	l.Debug("request_completed")
	return env, token, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	return json.Marshal(body)
}

// parseEnvelope accepts a bare JSON body as data when it is not an envelope.
func parseEnvelope(status int, raw []byte) (*transport.Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &transport.Envelope{Success: true}, nil
	}

	var env transport.Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		if json.Valid(trimmed) {
			return &transport.Envelope{Success: true, Data: json.RawMessage(trimmed)}, nil
		}
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Success && env.Error != nil {
		return nil, &APIError{
			Status:  status,
			Code:    env.Error.Code,
			Message: env.Error.Message,
			Details: env.Error.Details,
		}
	}
	if !env.Success && env.Data == nil {
		env.Success = true
		env.Data = json.RawMessage(trimmed)
	}
	return &env, nil
}

func parseError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status, Code: codeForStatus(status)}

	var env transport.Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		if env.Error.Code != "" {
			apiErr.Code = env.Error.Code
		}
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
		return apiErr
	}

	var plain struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &plain); err == nil && (plain.Error != "" || plain.Message != "") {
		apiErr.Message = plain.Error
		if apiErr.Message == "" {
			apiErr.Message = plain.Message
		}
		return apiErr
	}

	apiErr.Message = http.StatusText(status)
	return apiErr
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return transport.CodeValidation
	case status == http.StatusUnauthorized:
		return transport.CodeUnauthorized
	case status == http.StatusForbidden:
		return transport.CodeForbidden
	case status == http.StatusNotFound:
		return transport.CodeNotFound
	case status == http.StatusConflict:
		return transport.CodeConflict
	case status >= 500:
		return transport.CodeInternal
	}
	return ""
}

func decodeData(env *transport.Envelope, out any) error {
	if out == nil || env == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
