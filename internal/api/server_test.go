package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sro-registry-crawler/internal/runner"
)

func newTestServer(results ...runner.Result) *Server {
	h := runner.NewHistory()
	for _, r := range results {
		h.Record(r)
	}
	return NewServer(h, nil)
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	_ = serve(s, "/healthz")
	rec := serve(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

// TestServer_LastRuns lists the latest result of every service.
func TestServer_LastRuns(t *testing.T) {
	t.Parallel()

	s := newTestServer(
		runner.Result{RunID: "b", Service: "nostroy", Status: runner.StatusSucceeded, RowsWritten: 7},
		runner.Result{RunID: "a", Service: "nopriz", Status: runner.StatusFailed, Error: "boom"},
	)
	rec := serve(s, "/runs/last")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runner.Result `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "nopriz", body.Runs[0].Service)
	assert.Equal(t, 7, body.Runs[1].RowsWritten)

	rec = serve(s, "/runs/last/nostroy")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"b"`)

	rec = serve(s, "/runs/last/egrul")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_LastRunsEmpty(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(), "/runs/last")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

type panicHistory struct{}

func (panicHistory) Last() []runner.Result { panic("history unavailable") }

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	rec := serve(NewServer(panicHistory{}, nil), "/runs/last")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestServer_ListenAndServeShutsDown stops on context cancellation.
func TestServer_ListenAndServeShutsDown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestServer().ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
