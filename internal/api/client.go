package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Retry and backoff constants for transient failures.
const (
	maxRetries       = 3
	baseBackoff      = 500 * time.Millisecond
	maxBackoff       = 30 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	defaultUserAgent = "filebox/0.1"
	requestIDHeader  = "X-Request-ID"
)

// errNoRefreshToken is the refresh failure when the session holds no
// refresh token at all.
var errNoRefreshToken = errors.New("no refresh token")

// errSessionEnded is the failure for a request whose token was cleared by a
// failed refresh cycle it did not take part in.
var errSessionEnded = errors.New("session already ended")

// TokenStore is the session state the client reads and mutates. Defined at
// the consumer; *session.Store satisfies it.
type TokenStore interface {
	AccessToken() string
	RefreshToken() string
	SetTokens(ctx context.Context, access, refresh string) error
	Logout(ctx context.Context) error
}

// Client is an HTTP client for the filebox API. It attaches the current
// access token to every authenticated request and, when the server answers
// 401, refreshes the session once and replays the request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
	logger     *slog.Logger
	userAgent  string
	refresher  *refresher

	// onSessionExpired is called after an unrecoverable 401 has logged the
	// session out. The CLI uses it to point the user at `filebox login`.
	onSessionExpired func(error)

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. baseURL is the server origin, e.g.
// "http://localhost:8080"; paths such as "/api/files/" are appended to it.
func NewClient(baseURL string, httpClient *http.Client, tokens TokenStore, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		userAgent:  userAgent,
		refresher:  &refresher{},
		sleepFunc:  timeSleep,
	}
}

// OnSessionExpired registers fn to be called once per failed refresh cycle,
// after the session has been logged out.
func (c *Client) OnSessionExpired(fn func(error)) {
	c.onSessionExpired = fn
}

// request describes one logical API call. body is a factory so the call can
// be replayed after a token refresh or a transient failure.
type request struct {
	method      string
	path        string
	query       url.Values
	contentType string
	body        func() (io.ReadCloser, error)

	// anonymous requests never carry a token and never trigger a refresh:
	// a 401 from login means bad credentials, not an expired session.
	anonymous bool

	// retried is set once the request has been replayed after a 401. A
	// second 401 is then final.
	retried bool
}

// jsonBody returns a body factory that re-encodes v on every attempt.
func jsonBody(v any) (func() (io.ReadCloser, error), error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encoding request body: %w", err)
	}

	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

// do executes req, handling 401 refresh-and-replay and transient retries.
// On success (2xx) the caller owns the response body.
func (c *Client) do(ctx context.Context, req *request) (*http.Response, error) {
	for {
		res, err := c.doRetry(ctx, req)
		if err != nil {
			return nil, err
		}

		if res.resp.StatusCode >= http.StatusOK && res.resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", res.resp.StatusCode),
				slog.String("request_id", res.requestID),
			)

			return res.resp, nil
		}

		apiErr := c.readError(res)

		if res.resp.StatusCode != http.StatusUnauthorized || req.anonymous {
			return nil, apiErr
		}

		if req.retried {
			c.logger.Warn("request rejected again after token refresh",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.String("request_id", res.requestID),
			)

			return nil, apiErr
		}

		req.retried = true

		if err := c.recoverSession(ctx, res.token); err != nil {
			return nil, err
		}

		c.logger.Debug("replaying request with current token",
			slog.String("method", req.method),
			slog.String("path", req.path),
		)
	}
}

// recoverSession runs (or waits for) a refresh cycle after a 401 for a
// request that was sent with sentToken. Returns nil when the request should
// be replayed.
func (c *Client) recoverSession(ctx context.Context, sentToken string) error {
	settled := func() (bool, error) {
		current := c.tokens.AccessToken()

		switch {
		case current != "" && current != sentToken:
			// Replaced by an earlier cycle: replay with the current token.
			return true, nil
		case current == "" && sentToken != "":
			// An earlier cycle failed and logged out; it already notified.
			return true, errSessionEnded
		}

		return false, nil
	}

	// The refresh runs to completion even if the initiator's ctx is canceled;
	// queued callers depend on its outcome.
	refreshCtx := context.WithoutCancel(ctx)

	initiated, err := c.refresher.run(ctx, settled, func() error {
		err := c.refreshSession(refreshCtx)
		if err != nil {
			// Logged out before queued callers are released.
			c.endSession(refreshCtx, err)
		}

		return err
	})
	if err == nil {
		return nil
	}

	// A waiter whose own context ended never learned the outcome.
	if !initiated && ctx.Err() != nil {
		return fmt.Errorf("api: waiting for token refresh: %w", err)
	}

	return fmt.Errorf("%w: %w", ErrSessionExpired, err)
}

// refreshSession exchanges the refresh token for a new pair and stores it.
func (c *Client) refreshSession(ctx context.Context) error {
	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		c.logger.Warn("access token rejected and no refresh token available")
		return errNoRefreshToken
	}

	c.logger.Info("access token rejected, refreshing session")

	tr, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		c.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		return err
	}

	if err := c.tokens.SetTokens(ctx, tr.AccessToken, tr.RefreshToken); err != nil {
		return fmt.Errorf("api: storing refreshed tokens: %w", err)
	}

	c.logger.Info("session refreshed", slog.Int("expires_in", tr.ExpiresIn))

	return nil
}

// endSession logs the session out after a failed refresh and notifies the
// registered handler.
func (c *Client) endSession(ctx context.Context, cause error) {
	if err := c.tokens.Logout(ctx); err != nil {
		c.logger.Warn("failed to clear session after refresh failure", slog.String("error", err.Error()))
	}

	c.logger.Warn("session expired", slog.String("cause", cause.Error()))

	if c.onSessionExpired != nil {
		c.onSessionExpired(cause)
	}
}

// attemptResult carries one HTTP exchange and what was sent with it.
type attemptResult struct {
	resp      *http.Response
	token     string
	requestID string
}

// doRetry sends req, retrying network errors and transient statuses with
// exponential backoff. Only idempotent methods are retried. Any final HTTP
// response, successful or not, is returned to the caller.
func (c *Client) doRetry(ctx context.Context, req *request) (*attemptResult, error) {
	var attempt int

	for {
		res, err := c.doOnce(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			if !idempotent(req.method) || attempt >= maxRetries {
				return nil, fmt.Errorf("api: %s %s: %w", req.method, req.path, err)
			}

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after network error",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		if isRetryable(res.resp.StatusCode) && idempotent(req.method) && attempt < maxRetries {
			backoff := c.retryBackoff(res.resp, attempt)
			drainAndClose(res.resp.Body)

			c.logger.Warn("retrying after HTTP error",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", res.resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return res, nil
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, req *request) (*attemptResult, error) {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.ReadCloser = http.NoBody

	if req.body != nil {
		b, err := req.body()
		if err != nil {
			return nil, fmt.Errorf("opening request body: %w", err)
		}

		body = b
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("creating request: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, requestID)

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	var token string

	if !req.anonymous {
		token = c.tokens.AccessToken()
		if token != "" {
			(&oauth2.Token{AccessToken: token}).SetAuthHeader(httpReq)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	return &attemptResult{resp: resp, token: token, requestID: requestID}, nil
}

// readError consumes and closes a non-2xx response and builds an APIError.
func (c *Client) readError(res *attemptResult) *APIError {
	defer res.resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(res.resp.Body, 64*1024))
	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	apiErr := &APIError{
		StatusCode: res.resp.StatusCode,
		RequestID:  res.requestID,
		Detail:     parseDetail(body),
		Err:        classifyStatus(res.resp.StatusCode),
	}

	c.logger.Debug("request failed",
		slog.Int("status", apiErr.StatusCode),
		slog.String("request_id", apiErr.RequestID),
		slog.String("detail", apiErr.Detail),
	)

	return apiErr
}

// idempotent reports whether a method may be re-sent after a transient failure.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	default:
		return false
	}
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// drainAndClose discards the rest of a body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	body.Close()
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
