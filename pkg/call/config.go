package call

import (
	"encoding/json"
	"time"
)

// State represents the current state of the call session.
type State int

const (
	// StateIdleWake is the idle state before any call, with the wake gate
	// listening when the mode allows it.
	StateIdleWake State = iota
	// StateIdentifying is the optional identity check between wake match and call start.
	StateIdentifying
	// StateGreeting is the opening turn of a call.
	StateGreeting
	// StateListening is when speech capture is armed for the user.
	StateListening
	// StateProcessing is when an utterance has been submitted and the response stream is open.
	StateProcessing
	// StateSpeaking is when synthesized audio is playing.
	StateSpeaking
	// StateEnded is the terminal state of a call before control returns to the wake gate.
	StateEnded
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdleWake:
		return "IDLE_WAKE_LISTENING"
	case StateIdentifying:
		return "IDENTIFYING"
	case StateGreeting:
		return "GREETING"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateSpeaking:
		return "SPEAKING"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON writes the state name so serialized events stay readable.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Mode selects which capture mechanism is armed. Exactly one is active at a time.
type Mode int

const (
	// ModeAuto keeps voice-activity capture armed for the whole call.
	ModeAuto Mode = iota
	// ModeWakeGated listens for a trigger phrase while idle and arms capture only in-call.
	ModeWakeGated
	// ModePushToTalk opens the mic only while the talk control is held.
	ModePushToTalk
	// ModeListenOnly captures and transcribes but never submits to the backend.
	ModeListenOnly
	// ModeDisabled releases the mic entirely.
	ModeDisabled
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeWakeGated:
		return "wake_gated"
	case ModePushToTalk:
		return "push_to_talk"
	case ModeListenOnly:
		return "listen_only"
	case ModeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ParseMode converts a wire name into a Mode. Unknown names fall back to ModeAuto.
func ParseMode(s string) Mode {
	switch s {
	case "auto":
		return ModeAuto
	case "wake_gated":
		return ModeWakeGated
	case "push_to_talk":
		return ModePushToTalk
	case "listen_only":
		return ModeListenOnly
	case "disabled":
		return ModeDisabled
	default:
		return ModeAuto
	}
}

// Config holds all tunables for a call session.
type Config struct {
	// Audio describes the capture audio format.
	Audio AudioConfig `json:"audio"`

	// Capture configures voice-activity detection and segment recording.
	Capture CaptureConfig `json:"capture"`

	// Input configures mode arbitration and push-to-talk.
	Input InputConfig `json:"input"`

	// Wake configures the idle trigger-phrase gate.
	Wake WakeConfig `json:"wake"`

	// Playback configures the clip queue and the passive mute cycle.
	Playback PlaybackConfig `json:"playback"`

	// Turn configures backend submissions and per-turn supervision.
	Turn TurnConfig `json:"turn"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Audio:    DefaultAudioConfig(),
		Capture:  DefaultCaptureConfig(),
		Input:    DefaultInputConfig(),
		Wake:     DefaultWakeConfig(),
		Playback: DefaultPlaybackConfig(),
		Turn:     DefaultTurnConfig(),
	}
}

// CaptureConfig configures amplitude-based voice activity detection.
type CaptureConfig struct {
	// AmplitudeThreshold is the peak amplitude above which a frame counts as speech.
	// Range: 0.0 to 1.0. Default: 0.02
	AmplitudeThreshold float64 `json:"amplitude_threshold"`

	// SilenceTimeout is how long after speech ends before the segment is finalized.
	// Default: 3s
	SilenceTimeout time.Duration `json:"silence_timeout"`

	// MinSegmentMs is the minimum recording length worth transcribing.
	// Shorter segments are discarded without a network call.
	// Default: 250
	MinSegmentMs int `json:"min_segment_ms"`

	// MaxSegmentMs caps the recording buffer; older audio is trimmed beyond it.
	// Default: 60000
	MaxSegmentMs int `json:"max_segment_ms"`
}

// DefaultCaptureConfig returns a CaptureConfig with sensible defaults.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		AmplitudeThreshold: 0.02,
		SilenceTimeout:     3 * time.Second,
		MinSegmentMs:       250,
		MaxSegmentMs:       60000,
	}
}

// InputConfig configures the mode controller.
type InputConfig struct {
	// InitialMode is the mode armed when the session starts.
	// Default: ModeWakeGated
	InitialMode Mode `json:"initial_mode"`

	// TapThreshold separates a mode-toggling tap from a hold-to-talk press.
	// Default: 400ms
	TapThreshold time.Duration `json:"tap_threshold"`

	// BoundControl names a physical key or pointer button carrying hold
	// semantics. The client is told to suppress its default action while bound.
	// Empty means no binding.
	BoundControl string `json:"bound_control,omitempty"`
}

// DefaultInputConfig returns an InputConfig with sensible defaults.
func DefaultInputConfig() InputConfig {
	return InputConfig{
		InitialMode:  ModeWakeGated,
		TapThreshold: 400 * time.Millisecond,
	}
}

// WakeConfig configures the idle trigger-phrase gate.
type WakeConfig struct {
	// Phrases are the trigger phrases matched against recognizer output,
	// compared case- and punctuation-insensitively.
	Phrases []string `json:"phrases"`

	// RequireIdentity gates wake-triggered starts on a successful identity check.
	// Manual starts are never gated.
	RequireIdentity bool `json:"require_identity"`

	// MinConfidence is the identity confidence floor when RequireIdentity is set.
	// Default: 0.6
	MinConfidence float64 `json:"min_confidence"`

	// IdentifyTimeout bounds the identity lookup.
	// Default: 4s
	IdentifyTimeout time.Duration `json:"identify_timeout"`
}

// DefaultWakeConfig returns a WakeConfig with sensible defaults.
func DefaultWakeConfig() WakeConfig {
	return WakeConfig{
		Phrases:         []string{"hey parley"},
		MinConfidence:   0.6,
		IdentifyTimeout: 4 * time.Second,
	}
}

// PlaybackConfig configures the clip queue and mute cycle.
type PlaybackConfig struct {
	// UnmuteDelay is how long after the queue drains before the mic reopens,
	// so the tail of played speech cannot re-enter capture as an utterance.
	// Default: 1s
	UnmuteDelay time.Duration `json:"unmute_delay"`

	// EstimatePadding is added to duration estimates when the client sends no
	// playback marks, covering decode and device latency.
	// Default: 350ms
	EstimatePadding time.Duration `json:"estimate_padding"`

	// DefaultBitrateKbps is the assumed bitrate for compressed clips whose
	// format tag carries none, used only for duration estimates.
	// Default: 128
	DefaultBitrateKbps int `json:"default_bitrate_kbps"`

	// BargeInIgnoreWindow coalesces explicit barge-in controls that arrive
	// within this window of the previous barge-in, so a double-tap does not
	// interrupt the turn the first tap just set up. Zero disables the guard.
	// Default: 300ms
	BargeInIgnoreWindow time.Duration `json:"barge_in_ignore_window"`
}

// DefaultPlaybackConfig returns a PlaybackConfig with sensible defaults.
func DefaultPlaybackConfig() PlaybackConfig {
	return PlaybackConfig{
		UnmuteDelay:         time.Second,
		EstimatePadding:     350 * time.Millisecond,
		DefaultBitrateKbps:  128,
		BargeInIgnoreWindow: 300 * time.Millisecond,
	}
}

// TurnConfig configures backend submissions.
type TurnConfig struct {
	// TTSProvider and Voice select synthesis on the backend.
	TTSProvider string `json:"tts_provider,omitempty"`
	Voice       string `json:"voice,omitempty"`

	// AgentID optionally routes the turn to a specific backend agent.
	AgentID string `json:"agent_id,omitempty"`

	// MaxResponseChars asks the backend to cap response length. Zero means no cap.
	MaxResponseChars int `json:"max_response_chars,omitempty"`

	// UIContext is ambient context forwarded verbatim with every turn.
	UIContext string `json:"ui_context,omitempty"`

	// Greeting is submitted as the opening turn of a call. Empty skips the
	// greeting and goes straight to listening.
	Greeting string `json:"greeting,omitempty"`

	// Directives are the bracketed control markers recognized in assistant
	// text. Unregistered bracketed text passes through as prose.
	// Default: DefaultDirectives.
	Directives []string `json:"directives,omitempty"`

	// FarewellDirective names the directive that ends the call once its
	// turn finishes playing.
	// Default: "end_call"
	FarewellDirective string `json:"farewell_directive,omitempty"`

	// WatchdogDelay is how long after a stream ends without a terminal audio
	// event before capture is forced open.
	// Default: 2s
	WatchdogDelay time.Duration `json:"watchdog_delay"`
}

// DefaultDirectives returns the built-in directive vocabulary.
func DefaultDirectives() []string {
	return []string{
		"navigate",
		"play_music",
		"pause_music",
		"generate_song",
		"register_face",
		"end_call",
	}
}

// DefaultTurnConfig returns a TurnConfig with sensible defaults.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		Greeting:          "Greet the user briefly.",
		Directives:        DefaultDirectives(),
		FarewellDirective: "end_call",
		WatchdogDelay:     2 * time.Second,
	}
}

// AudioConfig specifies capture audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultAudioConfig returns the standard capture configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
