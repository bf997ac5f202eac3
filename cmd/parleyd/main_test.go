package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/voicewire/parley/pkg/gateway/config"
	gatewayserver "github.com/voicewire/parley/pkg/gateway/server"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newGateway: func(cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != 0 {
		t.Fatalf("ReadTimeout=%v, want 0 for long-lived websockets", srv.ReadTimeout)
	}
}

func TestGatewayHandlerStack_Smoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := gatewayserver.New(config.Config{
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
		MetricsNamespace:    "parley_main_test",
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}
