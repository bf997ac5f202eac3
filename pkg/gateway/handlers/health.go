package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/voicewire/parley/pkg/gateway/config"
	"github.com/voicewire/parley/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		WakeEnabled  bool     `json:"wake_enabled"`
		IdleListener string   `json:"idle_listener"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.BackendURL == "" {
		issues = append(issues, "backend url is not configured")
	}
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "gemini api key is not configured")
	}
	if len(h.Config.WakePhrases) == 0 {
		issues = append(issues, "no wake phrases configured")
	}
	if h.Config.SampleRate <= 0 {
		issues = append(issues, "sample rate must be > 0")
	}
	if h.Config.MaxAudioFrameBytes <= 0 || h.Config.MaxJSONMessageBytes <= 0 {
		issues = append(issues, "frame limits must be > 0")
	}
	if h.Config.SilenceTimeout <= 0 || h.Config.WatchdogDelay <= 0 {
		issues = append(issues, "capture timeouts must be > 0")
	}
	if h.Config.WSPingInterval <= 0 || h.Config.WSWriteTimeout <= 0 {
		issues = append(issues, "websocket timings must be > 0")
	}
	if h.Config.ShutdownGracePeriod <= 0 {
		issues = append(issues, "shutdown grace period must be > 0")
	}

	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	idleListener := "client_push"
	if h.Config.CartesiaAPIKey != "" {
		idleListener = "cartesia"
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		Draining:     draining,
		WakeEnabled:  len(h.Config.WakePhrases) > 0,
		IdleListener: idleListener,
		Issues:       issues,
	})
}
