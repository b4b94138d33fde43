package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRotator struct {
	calls atomic.Int32
	err   error
}

func (r *countingRotator) Rotate(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

// TestRequestJSONRetryThenFail makes exactly MaxAttempts requests before giving up.
func TestRequestJSONRetryThenFail(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rot := &countingRotator{}
	c := newTestClient(t, Options{Retry: RetryPolicy{MaxAttempts: 4}, Rotator: rot})

	var out map[string]any
	err := c.RequestJSON(context.Background(), http.MethodPost, srv.URL, map[string]int{"page": 1}, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, int32(3), rot.calls.Load(), "rotation precedes every re-attempt")
}

// TestRequestJSONRecovers succeeds once the server stops failing.
func TestRequestJSONRecovers(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		if hits.Add(1) < 3 {
			_, _ = w.Write([]byte("not json"))
			return
		}
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "echo": body["page"]})
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Retry: RetryPolicy{MaxAttempts: 5}})
	var out struct {
		Echo float64 `json:"echo"`
	}
	require.NoError(t, c.RequestJSON(context.Background(), http.MethodPost, srv.URL, map[string]int{"page": 7}, &out))
	assert.Equal(t, float64(7), out.Echo)
	assert.Equal(t, int32(3), hits.Load())
}

// TestRequestJSONRotationFailureIsFatal stops the chain when rotation fails.
func TestRequestJSONRotationFailureIsFatal(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rot := &countingRotator{err: errors.New("no addresses left")}
	c := newTestClient(t, Options{Retry: RetryPolicy{MaxAttempts: 5}, Rotator: rot})

	err := c.RequestJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.ErrorContains(t, err, "no addresses left")
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, int32(1), hits.Load())
}

// TestRequestJSONPerAttemptTimeout retries attempts that exceed the timeout.
func TestRequestJSONPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(t, Options{Timeout: 20 * time.Millisecond, Retry: RetryPolicy{MaxAttempts: 2}})
	err := c.RequestJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(2), hits.Load())
}

// TestRequestJSONCanceled never retries a canceled context.
func TestRequestJSONCanceled(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(t, Options{Retry: RetryPolicy{MaxAttempts: 5}})
	err := c.RequestJSON(ctx, http.MethodGet, srv.URL, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, hits.Load(), int32(1))
}

// TestNewRejectsBadProxy validates the proxy scheme.
func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	_, err := New(Options{ProxyURL: "ftp://proxy:21"})
	require.Error(t, err)

	_, err = New(Options{ProxyURL: "socks5://127.0.0.1:1080", InsecureSkipVerify: true})
	require.NoError(t, err)
}

// TestRetryPolicyBackoffBounds keeps delays inside the configured range.
func TestRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	for range 50 {
		d := p.Backoff()
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
	assert.False(t, p.ShouldRetry(errors.New("x"), 5))
	assert.True(t, p.ShouldRetry(errors.New("x"), 4))
	assert.False(t, p.ShouldRetry(context.Canceled, 1))
	assert.False(t, RetryPolicy{}.ShouldRetry(errors.New("x"), 1))
}
