// Package protocol defines the JSON wire format of the /live WebSocket.
//
// The client speaks JSON text frames plus raw binary frames for mic
// audio. The server answers with typed JSON frames; synthesized clips
// travel as a JSON header frame followed by one binary frame.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voicewire/parley/pkg/call"
)

const (
	ProtocolVersion1 = "1"

	PlaybackStream = "stream"
	PlaybackClip   = "clip"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes the mic audio the client will stream.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type HelloFeatures struct {
	// Playback selects the clip delivery strategy: "stream" feeds one
	// persistent audio graph, "clip" plays each clip as a disposable
	// element. Empty means "stream".
	Playback string `json:"playback,omitempty"`
	// PlaybackMarks is set when the client reports playback progress,
	// which lets the server settle clips on real marks instead of
	// estimated durations.
	PlaybackMarks bool `json:"playback_marks,omitempty"`
	Debug         bool `json:"debug,omitempty"`
}

type ClientHello struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Client          HelloClient   `json:"client,omitempty"`
	Mode            string        `json:"mode,omitempty"`
	BoundControl    string        `json:"bound_control,omitempty"`
	Audio           AudioFormat   `json:"audio"`
	Features        HelloFeatures `json:"features,omitempty"`
}

type ClientPlaybackMark struct {
	Type     string `json:"type"`
	ClipID   string `json:"clip_id"`
	PlayedMS int    `json:"played_ms"`
	Ended    bool   `json:"ended,omitempty"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

type ClientSetMode struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type ClientControlPress struct {
	Type    string `json:"type"`
	Control string `json:"control,omitempty"`
}

type ClientControlRelease struct {
	Type    string `json:"type"`
	Control string `json:"control,omitempty"`
}

type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientWakeText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var wireModes = map[string]struct{}{
	"auto":         {},
	"wake_gated":   {},
	"push_to_talk": {},
	"listen_only":  {},
	"disabled":     {},
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "playback_mark":
		var msg ClientPlaybackMark
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid playback_mark", "")
		}
		if strings.TrimSpace(msg.ClipID) == "" {
			return nil, badRequest("playback_mark.clip_id is required", "clip_id")
		}
		if msg.PlayedMS < 0 {
			return nil, badRequest("playback_mark.played_ms must be >= 0", "played_ms")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "start_call", "hangup", "barge_in", "press_talk", "release_talk", "mic_denied":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	case "set_mode":
		var msg ClientSetMode
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_mode", "")
		}
		mode := strings.TrimSpace(msg.Mode)
		if mode == "" {
			return nil, badRequest("set_mode.mode is required", "mode")
		}
		if _, ok := wireModes[mode]; !ok {
			return nil, unsupported("unsupported mode", "mode")
		}
		msg.Mode = mode
		return msg, nil
	case "control_press":
		var msg ClientControlPress
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control_press", "")
		}
		return msg, nil
	case "control_release":
		var msg ClientControlRelease
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control_release", "")
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "wake_text":
		var msg ClientWakeText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid wake_text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("wake_text.text is required", "text")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.Audio.Encoding) == "" {
		return badRequest("hello.audio.encoding is required", "audio.encoding")
	}
	if msg.Audio.SampleRateHz <= 0 {
		return badRequest("hello.audio.sample_rate_hz must be > 0", "audio.sample_rate_hz")
	}
	if msg.Audio.Channels <= 0 {
		return badRequest("hello.audio.channels must be > 0", "audio.channels")
	}
	if mode := strings.TrimSpace(msg.Mode); mode != "" {
		if _, ok := wireModes[mode]; !ok {
			return unsupported("unsupported mode", "mode")
		}
	}
	switch strings.TrimSpace(msg.Features.Playback) {
	case "", PlaybackStream, PlaybackClip:
		return nil
	default:
		return unsupported("unsupported playback strategy", "features.playback")
	}
}

type HelloAckLimits struct {
	MaxAudioFrameBytes  int   `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int64 `json:"max_json_message_bytes"`
	MaxAudioFPS         int   `json:"max_audio_fps,omitempty"`
	MaxAudioBPS         int64 `json:"max_audio_bps,omitempty"`
	InboundBurstSeconds int   `json:"inbound_burst_seconds,omitempty"`
}

type ServerHelloAck struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Mode            string          `json:"mode"`
	Audio           AudioFormat     `json:"audio"`
	Playback        string          `json:"playback"`
	BoundControl    string          `json:"bound_control,omitempty"`
	Limits          *HelloAckLimits `json:"limits,omitempty"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerClipHeader announces a synthesized clip. The next binary frame
// on the socket carries exactly Bytes bytes of clip data. Type is
// "audio.append" under the stream strategy and "clip.play" under the
// clip strategy.
type ServerClipHeader struct {
	Type   string `json:"type"`
	ClipID string `json:"clip_id"`
	TurnID string `json:"turn_id,omitempty"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}

// ServerAudioReset tells a streaming client to tear down its audio graph
// and discard everything buffered.
type ServerAudioReset struct {
	Type string `json:"type"`
}

// ServerClipStop tells a clip-strategy client to stop one clip element.
type ServerClipStop struct {
	Type   string `json:"type"`
	ClipID string `json:"clip_id"`
}

// ServerEvent encodes a session event as a typed JSON frame, injecting
// the event name as the frame type.
func ServerEvent(e call.Event) ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"] = e.EventType()
	return json.Marshal(fields)
}
