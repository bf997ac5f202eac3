package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voicewire/parley/pkg/gateway/config"
)

func testConfig() config.Config {
	return config.Config{
		Addr:                "127.0.0.1:0",
		CORSAllowedOrigins:  map[string]struct{}{},
		BackendURL:          "http://127.0.0.1:9/turn",
		BackendRetries:      1,
		BackendRetryBase:    10 * time.Millisecond,
		GeminiAPIKey:        "test-key",
		Language:            "en",
		WakePhrases:         []string{"hey parley"},
		DefaultMode:         "wake_gated",
		Greeting:            "Greet the user briefly.",
		SampleRate:          16000,
		AmplitudeThreshold:  0.02,
		SilenceTimeout:      3 * time.Second,
		MinSegmentMs:        250,
		MaxSegmentMs:        60000,
		UnmuteDelay:         time.Second,
		TapThreshold:        400 * time.Millisecond,
		WatchdogDelay:       2 * time.Second,
		MaxAudioFrameBytes:  8192,
		MaxJSONMessageBytes: 64 * 1024,
		WSPingInterval:      20 * time.Second,
		WSWriteTimeout:      5 * time.Second,
		HandshakeTimeout:    5 * time.Second,
		MaxSessionDuration:  time.Minute,
		OutboundQueueSize:   64,
		ReadHeaderTimeout:   10 * time.Second,
		ShutdownGracePeriod: 5 * time.Second,
		MetricsNamespace:    "parley_test",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(testConfig(), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"code":"not_found"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthRoutes_Reachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/healthz status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/readyz status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_MetricsRoute_Reachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
}

func TestServer_LiveRoute_Reachable(t *testing.T) {
	s := newTestServer(t)

	// Not a websocket upgrade; anything but 404 proves the route is wired.
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rr.Code == http.StatusNotFound {
		t.Fatalf("/live unexpectedly returned 404")
	}
}

func TestServer_RequestIDHeaderSet(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID header")
	}
}

func TestServer_Draining_ReadyzUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.SetDraining(true)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	if rr.Code != 529 {
		t.Fatalf("/live status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_WaitLiveCalls_EmptyTrackerReturns(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.WaitLiveCalls(ctx) {
		t.Fatalf("expected drained=true with no open calls")
	}
	if n := s.LiveCallCount(); n != 0 {
		t.Fatalf("LiveCallCount=%d", n)
	}
}
