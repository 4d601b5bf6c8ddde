package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filebox/internal/localstore"
	"github.com/tonimelisma/filebox/internal/session"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newTestStore returns an initialized in-memory session holding the given
// tokens. Empty strings leave the session unauthenticated.
func newTestStore(t *testing.T, access, refresh string) *session.Store {
	t.Helper()

	ctx := context.Background()
	s := session.NewStore(localstore.NewMemoryStorage(), testLogger(t))
	s.Initialize(ctx)

	if access != "" || refresh != "" {
		require.NoError(t, s.SetTokens(ctx, access, refresh))
	}

	return s
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps for fast tests.
func newTestClient(t *testing.T, url string, tokens TokenStore) *Client {
	t.Helper()

	c := NewClient(url, http.DefaultClient, tokens, testLogger(t), "test-agent")
	c.sleepFunc = noopSleep

	return c
}

func TestDo_AttachesBearerToken(t *testing.T) {
	var gotAuth, gotUA, gotRequestID, gotAccept string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get(requestIDHeader)
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "access-1", "refresh-1"))

	resp, err := c.do(context.Background(), &request{method: http.MethodGet, path: "/api/files/"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer access-1", gotAuth)
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "application/json", gotAccept)
	assert.Len(t, gotRequestID, 36)
}

func TestDo_NoTokenNoHeader(t *testing.T) {
	var hadAuth atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hadAuth.Store(r.Header.Get("Authorization") != "")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "", ""))

	resp, err := c.do(context.Background(), &request{method: http.MethodGet, path: "/"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.False(t, hadAuth.Load())
}

func TestDo_AnonymousNeverCarriesToken(t *testing.T) {
	var hadAuth atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hadAuth.Store(r.Header.Get("Authorization") != "")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "access-1", "refresh-1"))

	resp, err := c.do(context.Background(), &request{method: http.MethodPost, path: "/api/auth/login", anonymous: true})
	require.NoError(t, err)
	resp.Body.Close()

	assert.False(t, hadAuth.Load())
}

func TestDo_QueryEncoded(t *testing.T) {
	var gotQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "a", "r"))

	resp, err := c.do(context.Background(), &request{
		method: http.MethodGet,
		path:   "/api/files/",
		query:  map[string][]string{"page": {"2"}, "page_size": {"5"}},
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "page=2&page_size=5", gotQuery)
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		sentinel error
	}{
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnprocessableEntity, ErrBadRequest},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusRequestEntityTooLarge, ErrTooLarge},
		{http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"detail":"nope"}`)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, newTestStore(t, "a", "r"))

			_, err := c.do(context.Background(), &request{method: http.MethodPost, path: "/x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "nope", apiErr.Detail)
			assert.NotEmpty(t, apiErr.RequestID)
			assert.Contains(t, apiErr.Error(), apiErr.RequestID)
		})
	}
}

func TestDo_RetriesTransientForGet(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "a", "r"))

	resp, err := c.do(context.Background(), &request{method: http.MethodGet, path: "/"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "a", "r"))

	_, err := c.do(context.Background(), &request{method: http.MethodGet, path: "/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDo_NoRetryForPost(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "a", "r"))

	_, err := c.do(context.Background(), &request{method: http.MethodPost, path: "/"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_RetryAfterHonored(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "a", "r"))

	var slept []time.Duration
	c.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp, err := c.do(context.Background(), &request{method: http.MethodGet, path: "/"})
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, slept, 1)
	assert.Equal(t, 7*time.Second, slept[0])
}

func TestDo_NetworkErrorCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close()

	c := newTestClient(t, srv.URL, newTestStore(t, "a", "r"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.do(ctx, &request{method: http.MethodGet, path: "/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := newTestClient(t, "http://unused", newTestStore(t, "", ""))

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestParseDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string", `{"detail":"File not found"}`, "File not found"},
		{
			"validation",
			`{"detail":[{"loc":["body","userName"],"msg":"field required"},{"loc":["query","page"],"msg":"must be >= 1"}]}`,
			"userName: field required; page: must be >= 1",
		},
		{"validation without loc", `{"detail":[{"msg":"bad"}]}`, "bad"},
		{"plain text", "Internal Server Error\n", "Internal Server Error"},
		{"empty", "", ""},
		{"object detail", `{"detail":{"code":1}}`, `{"code":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDetail([]byte(tt.body)))
		})
	}
}

func TestParseDetail_Truncates(t *testing.T) {
	long := make([]byte, maxDetailLen*2)
	for i := range long {
		long[i] = 'x'
	}

	got := parseDetail(long)
	assert.Len(t, got, maxDetailLen+3)
}

func TestIsRetryable(t *testing.T) {
	for _, code := range []int{408, 429, 502, 503, 504} {
		assert.True(t, isRetryable(code), code)
	}

	for _, code := range []int{400, 401, 404, 500} {
		assert.False(t, isRetryable(code), code)
	}
}
