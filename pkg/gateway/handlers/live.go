package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/parley/pkg/call"
	"github.com/voicewire/parley/pkg/gateway/config"
	"github.com/voicewire/parley/pkg/gateway/lifecycle"
	"github.com/voicewire/parley/pkg/gateway/live/bridge"
	"github.com/voicewire/parley/pkg/gateway/live/protocol"
	"github.com/voicewire/parley/pkg/gateway/live/sessions"
	"github.com/voicewire/parley/pkg/gateway/metrics"
	"github.com/voicewire/parley/pkg/gateway/mw"
	"github.com/voicewire/parley/pkg/voice/stt"
)

// RecognizerFactory builds the idle phrase recognizer for one call. The
// post function funnels recognizer callbacks onto the call's loop.
type RecognizerFactory func(post func(fn func())) call.PhraseRecognizer

// LiveHandler upgrades /live requests and runs one call per connection.
type LiveHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Live      *sessions.Tracker

	Backend     call.Backend
	Transcriber call.Transcriber

	// Identifier is optional. When nil, calls skip the identity check even
	// if the wake config asks for one.
	Identifier call.Identifier

	// NewRecognizer overrides recognizer construction, mainly for tests.
	// Nil picks by config: a phrase stream when a Cartesia key is set,
	// otherwise client-pushed wake text.
	NewRecognizer RecognizerFactory
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeErrorJSON(w, r, 529, "draining", "gateway is draining")
		return
	}
	if !h.originAllowed(r) {
		writeErrorJSON(w, r, http.StatusForbidden, "forbidden", "origin is not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxJSONMessageBytes)
	}

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", true)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return
	}

	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		h.writeWSError(conn, "bad_request", "invalid hello frame", true)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", true)
		return
	}
	if strings.TrimSpace(hello.ProtocolVersion) != protocol.ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", true)
		return
	}
	if strings.TrimSpace(hello.Audio.Encoding) != "pcm_s16le" || hello.Audio.SampleRateHz != h.Config.SampleRate || hello.Audio.Channels != 1 {
		h.writeWSError(conn, "unsupported", fmt.Sprintf("audio must be pcm_s16le @%dHz mono", h.Config.SampleRate), true)
		return
	}

	playback := strings.TrimSpace(hello.Features.Playback)
	if playback == "" {
		playback = protocol.PlaybackStream
	}
	mode := strings.TrimSpace(hello.Mode)
	if mode == "" {
		mode = h.Config.DefaultMode
	}
	boundControl := strings.TrimSpace(hello.BoundControl)
	if boundControl == "" {
		boundControl = h.Config.BoundControl
	}

	b, err := bridge.New(bridge.Dependencies{
		Conn:          conn,
		Logger:        h.Logger,
		Metrics:       h.Metrics,
		Backend:       h.Backend,
		Transcriber:   h.Transcriber,
		Identifier:    h.Identifier,
		NewRecognizer: h.recognizerFactory(),
		CallConfig:    h.callConfig(mode, boundControl),
		Config: bridge.Config{
			MaxAudioFrameBytes:  h.Config.MaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.MaxJSONMessageBytes,
			MaxAudioFPS:         h.Config.MaxAudioFPS,
			MaxAudioBPS:         h.Config.MaxAudioBytesPerSecond,
			InboundBurstSeconds: h.Config.InboundBurstSeconds,
			PingInterval:        h.Config.WSPingInterval,
			WriteTimeout:        h.Config.WSWriteTimeout,
			MaxSessionDuration:  h.Config.MaxSessionDuration,
			OutboundQueueSize:   h.Config.OutboundQueueSize,
			Playback:            playback,
			ClientMarks:         hello.Features.PlaybackMarks,
			Debug:               h.Config.Debug || hello.Features.Debug,
		},
		RequestID: requestIDFromContext(r.Context()),
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live call", true)
		return
	}

	ack := protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       b.SessionID(),
		Mode:            mode,
		Audio:           hello.Audio,
		Playback:        playback,
		BoundControl:    boundControl,
		Limits: &protocol.HelloAckLimits{
			MaxAudioFrameBytes:  h.Config.MaxAudioFrameBytes,
			MaxJSONMessageBytes: h.Config.MaxJSONMessageBytes,
		},
	}
	if h.Config.MaxAudioFPS > 0 {
		ack.Limits.MaxAudioFPS = h.Config.MaxAudioFPS
	}
	if h.Config.MaxAudioBytesPerSecond > 0 {
		ack.Limits.MaxAudioBPS = h.Config.MaxAudioBytesPerSecond
	}
	if (h.Config.MaxAudioFPS > 0 || h.Config.MaxAudioBytesPerSecond > 0) && h.Config.InboundBurstSeconds > 0 {
		ack.Limits.InboundBurstSeconds = h.Config.InboundBurstSeconds
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	unregister := func() {}
	if h.Live != nil {
		unregister = h.Live.Register(b.SessionID(), sessions.Handle{
			Cancel: b.Cancel,
			Warn:   b.SendWarning,
		})
	}
	defer unregister()

	if err := b.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live call ended with error", "session_id", b.SessionID(), "request_id", requestIDFromContext(r.Context()), "error", err)
		}
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// callConfig maps gateway configuration onto one call's configuration,
// starting from the call defaults.
func (h LiveHandler) callConfig(mode, boundControl string) call.Config {
	cfg := call.DefaultConfig()
	cfg.Audio.SampleRate = h.Config.SampleRate
	cfg.Capture.AmplitudeThreshold = h.Config.AmplitudeThreshold
	cfg.Capture.SilenceTimeout = h.Config.SilenceTimeout
	cfg.Capture.MinSegmentMs = h.Config.MinSegmentMs
	cfg.Capture.MaxSegmentMs = h.Config.MaxSegmentMs
	cfg.Input.InitialMode = call.ParseMode(mode)
	cfg.Input.TapThreshold = h.Config.TapThreshold
	cfg.Input.BoundControl = boundControl
	cfg.Wake.Phrases = h.Config.WakePhrases
	cfg.Wake.RequireIdentity = h.Config.RequireIdentity
	cfg.Playback.UnmuteDelay = h.Config.UnmuteDelay
	cfg.Turn.TTSProvider = h.Config.TTSProvider
	cfg.Turn.Voice = h.Config.Voice
	cfg.Turn.AgentID = h.Config.AgentID
	cfg.Turn.MaxResponseChars = h.Config.MaxResponseChars
	cfg.Turn.UIContext = h.Config.UIContext
	cfg.Turn.Greeting = h.Config.Greeting
	if len(h.Config.Directives) > 0 {
		cfg.Turn.Directives = h.Config.Directives
	}
	cfg.Turn.WatchdogDelay = h.Config.WatchdogDelay
	return cfg
}

func (h LiveHandler) recognizerFactory() RecognizerFactory {
	if h.NewRecognizer != nil {
		return h.NewRecognizer
	}
	apiKey := strings.TrimSpace(h.Config.CartesiaAPIKey)
	if apiKey == "" {
		// No idle transcription provider; the client pushes wake text.
		return nil
	}
	return func(post func(fn func())) call.PhraseRecognizer {
		cfg := stt.DefaultPhraseStreamConfig(apiKey)
		cfg.Language = h.Config.Language
		cfg.SampleRate = h.Config.SampleRate
		cfg.HandshakeTimeout = h.Config.HandshakeTimeout
		return stt.NewStreamRecognizer(cfg, post, h.Logger)
	}
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, close bool) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: close})
	if close {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
	}
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
