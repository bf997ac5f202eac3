// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of the voice gateway process.
type Config struct {
	Addr string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Conversation backend (NDJSON turn endpoint).
	BackendURL       string
	BackendAPIKey    string
	BackendRetries   int
	BackendRetryBase time.Duration

	// Speech providers.
	GeminiAPIKey   string // segment transcription
	GeminiModel    string // empty => provider default
	CartesiaAPIKey string // idle phrase stream; empty => client-pushed wake text
	Language       string

	// Wake gate and call behavior.
	WakePhrases      []string
	DefaultMode      string
	BoundControl     string
	RequireIdentity  bool
	Greeting         string
	TTSProvider      string
	Voice            string
	AgentID          string
	UIContext        string
	MaxResponseChars int
	Directives       []string // empty => built-in vocabulary

	// Capture tuning.
	SampleRate         int
	AmplitudeThreshold float64
	SilenceTimeout     time.Duration
	MinSegmentMs       int
	MaxSegmentMs       int
	UnmuteDelay        time.Duration
	TapThreshold       time.Duration
	WatchdogDelay      time.Duration

	// Live WebSocket limits (/live).
	MaxAudioFrameBytes     int
	MaxJSONMessageBytes    int64
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int

	// Live WebSocket timings.
	WSPingInterval     time.Duration
	WSWriteTimeout     time.Duration
	HandshakeTimeout   time.Duration
	MaxSessionDuration time.Duration
	OutboundQueueSize  int

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
	MetricsNamespace    string
	Debug               bool
}

var validModes = map[string]struct{}{
	"auto":         {},
	"wake_gated":   {},
	"push_to_talk": {},
	"listen_only":  {},
	"disabled":     {},
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("PARLEY_ADDR", ":8085"),
		CORSAllowedOrigins:     make(map[string]struct{}),
		BackendURL:             envOr("PARLEY_BACKEND_URL", ""),
		BackendAPIKey:          envOr("PARLEY_BACKEND_API_KEY", ""),
		BackendRetries:         envIntOr("PARLEY_BACKEND_RETRIES", 2),
		BackendRetryBase:       envDurationOr("PARLEY_BACKEND_RETRY_BASE", 400*time.Millisecond),
		GeminiAPIKey:           envOr("PARLEY_GEMINI_API_KEY", ""),
		GeminiModel:            envOr("PARLEY_GEMINI_MODEL", ""),
		CartesiaAPIKey:         envOr("PARLEY_CARTESIA_API_KEY", ""),
		Language:               envOr("PARLEY_LANGUAGE", "en"),
		DefaultMode:            envOr("PARLEY_DEFAULT_MODE", "wake_gated"),
		BoundControl:           envOr("PARLEY_BOUND_CONTROL", ""),
		RequireIdentity:        envBoolOr("PARLEY_REQUIRE_IDENTITY", false),
		Greeting:               envOr("PARLEY_GREETING", "Greet the user briefly."),
		TTSProvider:            envOr("PARLEY_TTS_PROVIDER", ""),
		Voice:                  envOr("PARLEY_VOICE", ""),
		AgentID:                envOr("PARLEY_AGENT_ID", ""),
		UIContext:              envOr("PARLEY_UI_CONTEXT", ""),
		MaxResponseChars:       envIntOr("PARLEY_MAX_RESPONSE_CHARS", 0),
		SampleRate:             envIntOr("PARLEY_SAMPLE_RATE", 16000),
		AmplitudeThreshold:     envFloat64Or("PARLEY_AMPLITUDE_THRESHOLD", 0.02),
		SilenceTimeout:         envDurationOr("PARLEY_SILENCE_TIMEOUT", 3*time.Second),
		MinSegmentMs:           envIntOr("PARLEY_MIN_SEGMENT_MS", 250),
		MaxSegmentMs:           envIntOr("PARLEY_MAX_SEGMENT_MS", 60000),
		UnmuteDelay:            envDurationOr("PARLEY_UNMUTE_DELAY", time.Second),
		TapThreshold:           envDurationOr("PARLEY_TAP_THRESHOLD", 400*time.Millisecond),
		WatchdogDelay:          envDurationOr("PARLEY_WATCHDOG_DELAY", 2*time.Second),
		MaxAudioFrameBytes:     envIntOr("PARLEY_MAX_AUDIO_FRAME_BYTES", 8192),
		MaxJSONMessageBytes:    envInt64Or("PARLEY_MAX_JSON_MESSAGE_BYTES", 64*1024),
		MaxAudioFPS:            envIntOr("PARLEY_MAX_AUDIO_FPS", 120),
		MaxAudioBytesPerSecond: envInt64Or("PARLEY_MAX_AUDIO_BPS", 128*1024),
		InboundBurstSeconds:    envIntOr("PARLEY_INBOUND_BURST_SECONDS", 2),
		WSPingInterval:         envDurationOr("PARLEY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         envDurationOr("PARLEY_WS_WRITE_TIMEOUT", 5*time.Second),
		HandshakeTimeout:       envDurationOr("PARLEY_HANDSHAKE_TIMEOUT", 5*time.Second),
		MaxSessionDuration:     envDurationOr("PARLEY_WS_MAX_DURATION", 2*time.Hour),
		OutboundQueueSize:      envIntOr("PARLEY_OUTBOUND_QUEUE_SIZE", 128),
		ReadHeaderTimeout:      envDurationOr("PARLEY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    envDurationOr("PARLEY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		MetricsNamespace:       envOr("PARLEY_METRICS_NAMESPACE", "parley"),
		Debug:                  envBoolOr("PARLEY_DEBUG", false),
	}

	for _, origin := range splitCSV(os.Getenv("PARLEY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	cfg.WakePhrases = splitCSV(os.Getenv("PARLEY_WAKE_PHRASES"))
	if len(cfg.WakePhrases) == 0 {
		cfg.WakePhrases = []string{"hey parley"}
	}
	cfg.Directives = splitCSV(os.Getenv("PARLEY_DIRECTIVES"))

	if strings.TrimSpace(cfg.BackendURL) == "" {
		return Config{}, fmt.Errorf("PARLEY_BACKEND_URL must be set")
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("PARLEY_GEMINI_API_KEY must be set")
	}
	if cfg.BackendRetries < 0 {
		return Config{}, fmt.Errorf("PARLEY_BACKEND_RETRIES must be >= 0")
	}
	if cfg.BackendRetryBase <= 0 {
		return Config{}, fmt.Errorf("PARLEY_BACKEND_RETRY_BASE must be > 0")
	}
	if _, ok := validModes[cfg.DefaultMode]; !ok {
		return Config{}, fmt.Errorf("PARLEY_DEFAULT_MODE must be one of auto|wake_gated|push_to_talk|listen_only|disabled")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SAMPLE_RATE must be > 0")
	}
	if cfg.AmplitudeThreshold <= 0 || cfg.AmplitudeThreshold > 1 {
		return Config{}, fmt.Errorf("PARLEY_AMPLITUDE_THRESHOLD must be in (0, 1]")
	}
	if cfg.SilenceTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SILENCE_TIMEOUT must be > 0")
	}
	if cfg.MinSegmentMs <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MIN_SEGMENT_MS must be > 0")
	}
	if cfg.MaxSegmentMs <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_SEGMENT_MS must be > 0")
	}
	if cfg.MinSegmentMs > cfg.MaxSegmentMs {
		return Config{}, fmt.Errorf("PARLEY_MIN_SEGMENT_MS must be <= PARLEY_MAX_SEGMENT_MS")
	}
	if cfg.UnmuteDelay < 0 {
		return Config{}, fmt.Errorf("PARLEY_UNMUTE_DELAY must be >= 0")
	}
	if cfg.TapThreshold <= 0 {
		return Config{}, fmt.Errorf("PARLEY_TAP_THRESHOLD must be > 0")
	}
	if cfg.WatchdogDelay <= 0 {
		return Config{}, fmt.Errorf("PARLEY_WATCHDOG_DELAY must be > 0")
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.MaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.MaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("PARLEY_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.InboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("PARLEY_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.MaxAudioFPS > 0 || cfg.MaxAudioBytesPerSecond > 0) && cfg.InboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("PARLEY_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("PARLEY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.MaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("PARLEY_WS_MAX_DURATION must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("PARLEY_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if strings.TrimSpace(cfg.MetricsNamespace) == "" {
		return Config{}, fmt.Errorf("PARLEY_METRICS_NAMESPACE must not be empty")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
