package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"PARLEY_ADDR",
	"PARLEY_CORS_ORIGINS",
	"PARLEY_BACKEND_URL",
	"PARLEY_BACKEND_API_KEY",
	"PARLEY_BACKEND_RETRIES",
	"PARLEY_BACKEND_RETRY_BASE",
	"PARLEY_GEMINI_API_KEY",
	"PARLEY_GEMINI_MODEL",
	"PARLEY_CARTESIA_API_KEY",
	"PARLEY_LANGUAGE",
	"PARLEY_WAKE_PHRASES",
	"PARLEY_DEFAULT_MODE",
	"PARLEY_BOUND_CONTROL",
	"PARLEY_REQUIRE_IDENTITY",
	"PARLEY_GREETING",
	"PARLEY_TTS_PROVIDER",
	"PARLEY_VOICE",
	"PARLEY_AGENT_ID",
	"PARLEY_UI_CONTEXT",
	"PARLEY_MAX_RESPONSE_CHARS",
	"PARLEY_DIRECTIVES",
	"PARLEY_SAMPLE_RATE",
	"PARLEY_AMPLITUDE_THRESHOLD",
	"PARLEY_SILENCE_TIMEOUT",
	"PARLEY_MIN_SEGMENT_MS",
	"PARLEY_MAX_SEGMENT_MS",
	"PARLEY_UNMUTE_DELAY",
	"PARLEY_TAP_THRESHOLD",
	"PARLEY_WATCHDOG_DELAY",
	"PARLEY_MAX_AUDIO_FRAME_BYTES",
	"PARLEY_MAX_JSON_MESSAGE_BYTES",
	"PARLEY_MAX_AUDIO_FPS",
	"PARLEY_MAX_AUDIO_BPS",
	"PARLEY_INBOUND_BURST_SECONDS",
	"PARLEY_WS_PING_INTERVAL",
	"PARLEY_WS_WRITE_TIMEOUT",
	"PARLEY_HANDSHAKE_TIMEOUT",
	"PARLEY_WS_MAX_DURATION",
	"PARLEY_OUTBOUND_QUEUE_SIZE",
	"PARLEY_READ_HEADER_TIMEOUT",
	"PARLEY_SHUTDOWN_GRACE_PERIOD",
	"PARLEY_METRICS_NAMESPACE",
	"PARLEY_DEBUG",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("PARLEY_BACKEND_URL", "https://backend.example/converse")
	t.Setenv("PARLEY_GEMINI_API_KEY", "g-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8085" {
		t.Fatalf("Addr = %q, want :8085", cfg.Addr)
	}
	if cfg.BackendRetries != 2 {
		t.Fatalf("BackendRetries = %d, want 2", cfg.BackendRetries)
	}
	if cfg.BackendRetryBase != 400*time.Millisecond {
		t.Fatalf("BackendRetryBase = %v, want 400ms", cfg.BackendRetryBase)
	}
	if cfg.Language != "en" {
		t.Fatalf("Language = %q, want en", cfg.Language)
	}
	if len(cfg.WakePhrases) != 1 || cfg.WakePhrases[0] != "hey parley" {
		t.Fatalf("WakePhrases = %v, want [hey parley]", cfg.WakePhrases)
	}
	if cfg.DefaultMode != "wake_gated" {
		t.Fatalf("DefaultMode = %q, want wake_gated", cfg.DefaultMode)
	}
	if cfg.RequireIdentity {
		t.Fatalf("RequireIdentity = true, want false")
	}
	if cfg.Greeting != "Greet the user briefly." {
		t.Fatalf("Greeting = %q", cfg.Greeting)
	}
	if cfg.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.AmplitudeThreshold != 0.02 {
		t.Fatalf("AmplitudeThreshold = %v, want 0.02", cfg.AmplitudeThreshold)
	}
	if cfg.SilenceTimeout != 3*time.Second {
		t.Fatalf("SilenceTimeout = %v, want 3s", cfg.SilenceTimeout)
	}
	if cfg.MinSegmentMs != 250 || cfg.MaxSegmentMs != 60000 {
		t.Fatalf("segment bounds = %d/%d, want 250/60000", cfg.MinSegmentMs, cfg.MaxSegmentMs)
	}
	if cfg.UnmuteDelay != time.Second {
		t.Fatalf("UnmuteDelay = %v, want 1s", cfg.UnmuteDelay)
	}
	if cfg.TapThreshold != 400*time.Millisecond {
		t.Fatalf("TapThreshold = %v, want 400ms", cfg.TapThreshold)
	}
	if cfg.WatchdogDelay != 2*time.Second {
		t.Fatalf("WatchdogDelay = %v, want 2s", cfg.WatchdogDelay)
	}
	if cfg.MaxAudioFrameBytes != 8192 {
		t.Fatalf("MaxAudioFrameBytes = %d, want 8192", cfg.MaxAudioFrameBytes)
	}
	if cfg.MaxJSONMessageBytes != 64*1024 {
		t.Fatalf("MaxJSONMessageBytes = %d, want 65536", cfg.MaxJSONMessageBytes)
	}
	if cfg.MaxAudioFPS != 120 {
		t.Fatalf("MaxAudioFPS = %d, want 120", cfg.MaxAudioFPS)
	}
	if cfg.MaxAudioBytesPerSecond != 128*1024 {
		t.Fatalf("MaxAudioBytesPerSecond = %d, want %d", cfg.MaxAudioBytesPerSecond, int64(128*1024))
	}
	if cfg.InboundBurstSeconds != 2 {
		t.Fatalf("InboundBurstSeconds = %d, want 2", cfg.InboundBurstSeconds)
	}
	if cfg.WSPingInterval != 20*time.Second {
		t.Fatalf("WSPingInterval = %v, want 20s", cfg.WSPingInterval)
	}
	if cfg.WSWriteTimeout != 5*time.Second {
		t.Fatalf("WSWriteTimeout = %v, want 5s", cfg.WSWriteTimeout)
	}
	if cfg.HandshakeTimeout != 5*time.Second {
		t.Fatalf("HandshakeTimeout = %v, want 5s", cfg.HandshakeTimeout)
	}
	if cfg.MaxSessionDuration != 2*time.Hour {
		t.Fatalf("MaxSessionDuration = %v, want 2h", cfg.MaxSessionDuration)
	}
	if cfg.OutboundQueueSize != 128 {
		t.Fatalf("OutboundQueueSize = %d, want 128", cfg.OutboundQueueSize)
	}
	if cfg.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v, want 10s", cfg.ReadHeaderTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.MetricsNamespace != "parley" {
		t.Fatalf("MetricsNamespace = %q, want parley", cfg.MetricsNamespace)
	}
	if cfg.Debug {
		t.Fatalf("Debug = true, want false")
	}
	if len(cfg.Directives) != 0 {
		t.Fatalf("Directives = %v, want empty (built-in vocabulary)", cfg.Directives)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("PARLEY_ADDR", ":9191")
	t.Setenv("PARLEY_BACKEND_URL", "https://b.example/converse")
	t.Setenv("PARLEY_BACKEND_API_KEY", "bk")
	t.Setenv("PARLEY_BACKEND_RETRIES", "5")
	t.Setenv("PARLEY_BACKEND_RETRY_BASE", "250ms")
	t.Setenv("PARLEY_GEMINI_API_KEY", "gk")
	t.Setenv("PARLEY_GEMINI_MODEL", "gemini-2.0-flash")
	t.Setenv("PARLEY_CARTESIA_API_KEY", "ck")
	t.Setenv("PARLEY_LANGUAGE", "de")
	t.Setenv("PARLEY_DEFAULT_MODE", "auto")
	t.Setenv("PARLEY_BOUND_CONTROL", "Space")
	t.Setenv("PARLEY_REQUIRE_IDENTITY", "true")
	t.Setenv("PARLEY_GREETING", "Say hi.")
	t.Setenv("PARLEY_TTS_PROVIDER", "cartesia")
	t.Setenv("PARLEY_VOICE", "sage")
	t.Setenv("PARLEY_AGENT_ID", "agent-7")
	t.Setenv("PARLEY_UI_CONTEXT", "kiosk")
	t.Setenv("PARLEY_MAX_RESPONSE_CHARS", "600")
	t.Setenv("PARLEY_SAMPLE_RATE", "24000")
	t.Setenv("PARLEY_AMPLITUDE_THRESHOLD", "0.05")
	t.Setenv("PARLEY_SILENCE_TIMEOUT", "2s")
	t.Setenv("PARLEY_MIN_SEGMENT_MS", "300")
	t.Setenv("PARLEY_MAX_SEGMENT_MS", "30000")
	t.Setenv("PARLEY_UNMUTE_DELAY", "750ms")
	t.Setenv("PARLEY_TAP_THRESHOLD", "300ms")
	t.Setenv("PARLEY_WATCHDOG_DELAY", "4s")
	t.Setenv("PARLEY_MAX_AUDIO_FRAME_BYTES", "4096")
	t.Setenv("PARLEY_MAX_JSON_MESSAGE_BYTES", "32768")
	t.Setenv("PARLEY_MAX_AUDIO_FPS", "60")
	t.Setenv("PARLEY_MAX_AUDIO_BPS", "65536")
	t.Setenv("PARLEY_INBOUND_BURST_SECONDS", "3")
	t.Setenv("PARLEY_WS_PING_INTERVAL", "15s")
	t.Setenv("PARLEY_WS_WRITE_TIMEOUT", "4s")
	t.Setenv("PARLEY_HANDSHAKE_TIMEOUT", "7s")
	t.Setenv("PARLEY_WS_MAX_DURATION", "90m")
	t.Setenv("PARLEY_OUTBOUND_QUEUE_SIZE", "64")
	t.Setenv("PARLEY_READ_HEADER_TIMEOUT", "8s")
	t.Setenv("PARLEY_SHUTDOWN_GRACE_PERIOD", "20s")
	t.Setenv("PARLEY_METRICS_NAMESPACE", "voice")
	t.Setenv("PARLEY_DEBUG", "true")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9191" || cfg.BackendURL != "https://b.example/converse" || cfg.BackendAPIKey != "bk" {
		t.Fatalf("addr/backend mismatch: %q/%q/%q", cfg.Addr, cfg.BackendURL, cfg.BackendAPIKey)
	}
	if cfg.BackendRetries != 5 || cfg.BackendRetryBase != 250*time.Millisecond {
		t.Fatalf("backend retry mismatch: %d/%v", cfg.BackendRetries, cfg.BackendRetryBase)
	}
	if cfg.GeminiModel != "gemini-2.0-flash" || cfg.CartesiaAPIKey != "ck" || cfg.Language != "de" {
		t.Fatalf("provider mismatch: %q/%q/%q", cfg.GeminiModel, cfg.CartesiaAPIKey, cfg.Language)
	}
	if cfg.DefaultMode != "auto" || cfg.BoundControl != "Space" || !cfg.RequireIdentity {
		t.Fatalf("mode mismatch: %q/%q/%v", cfg.DefaultMode, cfg.BoundControl, cfg.RequireIdentity)
	}
	if cfg.Greeting != "Say hi." || cfg.TTSProvider != "cartesia" || cfg.Voice != "sage" {
		t.Fatalf("turn mismatch: %q/%q/%q", cfg.Greeting, cfg.TTSProvider, cfg.Voice)
	}
	if cfg.AgentID != "agent-7" || cfg.UIContext != "kiosk" || cfg.MaxResponseChars != 600 {
		t.Fatalf("turn routing mismatch: %q/%q/%d", cfg.AgentID, cfg.UIContext, cfg.MaxResponseChars)
	}
	if cfg.SampleRate != 24000 || cfg.AmplitudeThreshold != 0.05 || cfg.SilenceTimeout != 2*time.Second {
		t.Fatalf("capture mismatch: %d/%v/%v", cfg.SampleRate, cfg.AmplitudeThreshold, cfg.SilenceTimeout)
	}
	if cfg.MinSegmentMs != 300 || cfg.MaxSegmentMs != 30000 {
		t.Fatalf("segment bounds mismatch: %d/%d", cfg.MinSegmentMs, cfg.MaxSegmentMs)
	}
	if cfg.UnmuteDelay != 750*time.Millisecond || cfg.TapThreshold != 300*time.Millisecond || cfg.WatchdogDelay != 4*time.Second {
		t.Fatalf("timing mismatch: %v/%v/%v", cfg.UnmuteDelay, cfg.TapThreshold, cfg.WatchdogDelay)
	}
	if cfg.MaxAudioFrameBytes != 4096 || cfg.MaxJSONMessageBytes != 32768 {
		t.Fatalf("size limits mismatch: %d/%d", cfg.MaxAudioFrameBytes, cfg.MaxJSONMessageBytes)
	}
	if cfg.MaxAudioFPS != 60 || cfg.MaxAudioBytesPerSecond != 65536 || cfg.InboundBurstSeconds != 3 {
		t.Fatalf("inbound limits mismatch: %d/%d/%d", cfg.MaxAudioFPS, cfg.MaxAudioBytesPerSecond, cfg.InboundBurstSeconds)
	}
	if cfg.WSPingInterval != 15*time.Second || cfg.WSWriteTimeout != 4*time.Second || cfg.HandshakeTimeout != 7*time.Second {
		t.Fatalf("ws timing mismatch: %v/%v/%v", cfg.WSPingInterval, cfg.WSWriteTimeout, cfg.HandshakeTimeout)
	}
	if cfg.MaxSessionDuration != 90*time.Minute || cfg.OutboundQueueSize != 64 {
		t.Fatalf("session limits mismatch: %v/%d", cfg.MaxSessionDuration, cfg.OutboundQueueSize)
	}
	if cfg.ReadHeaderTimeout != 8*time.Second || cfg.ShutdownGracePeriod != 20*time.Second {
		t.Fatalf("server timing mismatch: %v/%v", cfg.ReadHeaderTimeout, cfg.ShutdownGracePeriod)
	}
	if cfg.MetricsNamespace != "voice" || !cfg.Debug {
		t.Fatalf("operational mismatch: %q/%v", cfg.MetricsNamespace, cfg.Debug)
	}
}

func TestLoadFromEnv_ParsesCSVLists(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("PARLEY_BACKEND_URL", "https://b.example")
	t.Setenv("PARLEY_GEMINI_API_KEY", "gk")
	t.Setenv("PARLEY_WAKE_PHRASES", "hey parley, okay parley,,")
	t.Setenv("PARLEY_CORS_ORIGINS", "https://one.example, https://two.example,,")
	t.Setenv("PARLEY_DIRECTIVES", "navigate, end_call")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if len(cfg.WakePhrases) != 2 || cfg.WakePhrases[1] != "okay parley" {
		t.Fatalf("WakePhrases = %v", cfg.WakePhrases)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len = %d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://two.example"]; !ok {
		t.Fatalf("missing https://two.example")
	}
	if len(cfg.Directives) != 2 || cfg.Directives[0] != "navigate" {
		t.Fatalf("Directives = %v", cfg.Directives)
	}
}

func TestLoadFromEnv_RequiredFields(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "missing backend url",
			env:       map[string]string{"PARLEY_GEMINI_API_KEY": "gk"},
			errSubstr: "PARLEY_BACKEND_URL",
		},
		{
			name:      "missing gemini key",
			env:       map[string]string{"PARLEY_BACKEND_URL": "https://b.example"},
			errSubstr: "PARLEY_GEMINI_API_KEY",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}

func TestLoadFromEnv_InvalidBounds(t *testing.T) {
	required := map[string]string{
		"PARLEY_BACKEND_URL":    "https://b.example",
		"PARLEY_GEMINI_API_KEY": "gk",
	}

	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "invalid mode",
			env:       map[string]string{"PARLEY_DEFAULT_MODE": "shouting"},
			errSubstr: "PARLEY_DEFAULT_MODE",
		},
		{
			name:      "amplitude threshold above one",
			env:       map[string]string{"PARLEY_AMPLITUDE_THRESHOLD": "1.5"},
			errSubstr: "PARLEY_AMPLITUDE_THRESHOLD",
		},
		{
			name:      "zero silence timeout",
			env:       map[string]string{"PARLEY_SILENCE_TIMEOUT": "0s"},
			errSubstr: "PARLEY_SILENCE_TIMEOUT",
		},
		{
			name: "min segment above max",
			env: map[string]string{
				"PARLEY_MIN_SEGMENT_MS": "5000",
				"PARLEY_MAX_SEGMENT_MS": "1000",
			},
			errSubstr: "PARLEY_MIN_SEGMENT_MS must be <=",
		},
		{
			name: "burst seconds zero with limits enabled",
			env: map[string]string{
				"PARLEY_MAX_AUDIO_FPS":         "10",
				"PARLEY_INBOUND_BURST_SECONDS": "0",
			},
			errSubstr: "PARLEY_INBOUND_BURST_SECONDS",
		},
		{
			name:      "zero shutdown grace",
			env:       map[string]string{"PARLEY_SHUTDOWN_GRACE_PERIOD": "0s"},
			errSubstr: "PARLEY_SHUTDOWN_GRACE_PERIOD",
		},
		{
			name:      "zero outbound queue",
			env:       map[string]string{"PARLEY_OUTBOUND_QUEUE_SIZE": "0"},
			errSubstr: "PARLEY_OUTBOUND_QUEUE_SIZE",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			for key, value := range required {
				t.Setenv(key, value)
			}
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
