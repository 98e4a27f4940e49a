package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lumenchat/switchboard/internal/config"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(config.Config{ListenAddr: "127.0.0.1:0"}, logger, BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	// Serve sets readiness before accepting; give it a moment to start.
	base := "http://" + ln.Addr().String()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if resp, err := http.Get(base + "/healthz"); err == nil {
			resp.Body.Close()
			return srv, base
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never came up")
	return nil, ""
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthAndVersionEndpoints(t *testing.T) {
	_, base := newTestServer(t)

	var health map[string]bool
	if resp := getJSON(t, base+"/healthz", &health); resp.StatusCode != http.StatusOK || !health["ok"] {
		t.Fatalf("healthz: status=%d body=%v", resp.StatusCode, health)
	}

	var ready map[string]bool
	if resp := getJSON(t, base+"/readyz", &ready); resp.StatusCode != http.StatusOK || !ready["ready"] {
		t.Fatalf("readyz: status=%d body=%v", resp.StatusCode, ready)
	}

	var build BuildInfo
	if resp := getJSON(t, base+"/version", &build); resp.StatusCode != http.StatusOK || build.Commit != "abc123" {
		t.Fatalf("version: status=%d body=%+v", resp.StatusCode, build)
	}
}

func TestRequestIDHeader(t *testing.T) {
	_, base := newTestServer(t)

	resp := getJSON(t, base+"/healthz", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected generated X-Request-ID")
	}

	req, _ := http.NewRequest("GET", base+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("X-Request-ID=%q, want req-42", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), recoverMiddleware(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

func TestStatusWriterKeepsHijacker(t *testing.T) {
	// The logging middleware wraps the ResponseWriter; an upgradeable route
	// behind it must still reach the connection.
	var hijackable bool
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hijackable = w.(http.Hijacker)
		w.WriteHeader(http.StatusNoContent)
	}), requestLoggerMiddleware(logger))

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if !hijackable {
		t.Fatalf("wrapped ResponseWriter lost http.Hijacker")
	}
}

func TestShutdownFlipsReadiness(t *testing.T) {
	srv, base := newTestServer(t)

	if resp := getJSON(t, base+"/readyz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz before shutdown: %d", resp.StatusCode)
	}

	srv.ready.Store(false)
	if resp := getJSON(t, base+"/readyz", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz after draining: %d, want 503", resp.StatusCode)
	}
}
