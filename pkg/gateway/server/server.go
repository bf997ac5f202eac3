// Package server assembles the voice gateway: shared collaborators,
// routes, and the middleware chain around them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/voicewire/parley/pkg/call"
	"github.com/voicewire/parley/pkg/convo"
	"github.com/voicewire/parley/pkg/gateway/config"
	"github.com/voicewire/parley/pkg/gateway/handlers"
	"github.com/voicewire/parley/pkg/gateway/lifecycle"
	"github.com/voicewire/parley/pkg/gateway/live/sessions"
	"github.com/voicewire/parley/pkg/gateway/metrics"
	"github.com/voicewire/parley/pkg/gateway/mw"
	"github.com/voicewire/parley/pkg/voice/stt"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics   *metrics.Metrics
	lifecycle *lifecycle.Lifecycle
	live      *sessions.Tracker

	backend     *convo.Client
	transcriber call.Transcriber
}

func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	backend := convo.NewClient(cfg.BackendURL,
		convo.WithAPIKey(cfg.BackendAPIKey),
		convo.WithHTTPClient(httpClient),
		convo.WithLogger(logger),
		convo.WithRetry(uint64(cfg.BackendRetries), cfg.BackendRetryBase),
	)

	provider, err := stt.NewGemini(context.Background(), cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("init transcription provider: %w", err)
	}
	transcriber := stt.NewSegmentTranscriber(provider, stt.TranscribeOptions{
		Model:    cfg.GeminiModel,
		Language: cfg.Language,
		Format:   "wav",
	})

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		mux:         http.NewServeMux(),
		metrics:     metrics.New(cfg.MetricsNamespace),
		lifecycle:   &lifecycle.Lifecycle{},
		live:        sessions.NewTracker(),
		backend:     backend,
		transcriber: transcriber,
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/live", handlers.LiveHandler{
		Config:      s.cfg,
		Logger:      s.logger,
		Metrics:     s.metrics,
		Lifecycle:   s.lifecycle,
		Live:        s.live,
		Backend:     s.backend,
		Transcriber: s.transcriber,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.metrics.Middleware(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips the drain flag. While draining /live refuses new
// calls and /readyz reports not-ready.
func (s *Server) SetDraining(draining bool) {
	s.lifecycle.SetDraining(draining)
}

// LiveCallCount reports how many live calls are open right now.
func (s *Server) LiveCallCount() int {
	return s.live.Count()
}

// WarnLiveCalls pushes a warning frame to every open call, typically
// right before shutdown.
func (s *Server) WarnLiveCalls(code, message string) int {
	return s.live.WarnAll(code, message)
}

// WaitLiveCalls blocks until every live call closes or ctx expires.
// It reports whether the tracker fully drained.
func (s *Server) WaitLiveCalls(ctx context.Context) bool {
	return s.live.Wait(ctx)
}

// CancelLiveCalls force-closes every open call.
func (s *Server) CancelLiveCalls() int {
	return s.live.CancelAll()
}
