// Package convo is the conversation backend client: it submits utterances
// and decodes the newline-delimited JSON response stream, scans assistant
// text for control directives, and classifies synthesis failures.
package convo

import (
	"encoding/json"
	"fmt"
)

// StreamEvent is the interface for all response stream events.
type StreamEvent interface {
	EventType() string
}

// DeltaEvent carries an incremental piece of assistant text.
type DeltaEvent struct {
	Type string `json:"type"` // "delta"
	Text string `json:"text"`
}

func (e DeltaEvent) EventType() string { return "delta" }

// ActionEvent is an activity notice with no conversational effect.
type ActionEvent struct {
	Type    string `json:"type"` // "action"
	Message string `json:"message"`
}

func (e ActionEvent) EventType() string { return "action" }

// TextDoneEvent carries the finalized text for the turn. Exactly one is
// expected per request.
type TextDoneEvent struct {
	Type string `json:"type"` // "text_done"
	Text string `json:"text"`
}

func (e TextDoneEvent) EventType() string { return "text_done" }

// AudioEvent carries one synthesized clip.
type AudioEvent struct {
	Type   string `json:"type"`   // "audio"
	Format string `json:"format"` // e.g. "audio/mpeg", "pcm_s16le;rate=24000"
	Data   []byte `json:"data"`   // base64 on the wire
}

func (e AudioEvent) EventType() string { return "audio" }

// NoAudioEvent says the turn has nothing to speak.
type NoAudioEvent struct {
	Type string `json:"type"` // "no_audio"
}

func (e NoAudioEvent) EventType() string { return "no_audio" }

// TTSErrorEvent says text succeeded but synthesis failed.
type TTSErrorEvent struct {
	Type    string `json:"type"` // "tts_error"
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e TTSErrorEvent) EventType() string { return "tts_error" }

// SessionResetEvent is informational: the backend rotated its internal session.
type SessionResetEvent struct {
	Type string `json:"type"` // "session_reset"
}

func (e SessionResetEvent) EventType() string { return "session_reset" }

// ErrorEvent is a generic backend failure for this turn.
type ErrorEvent struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e ErrorEvent) EventType() string { return "error" }

// UnknownEventError reports a stream line whose type is not in the union.
// Consumers skip these to stay forward compatible.
type UnknownEventError struct {
	Type string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown stream event type %q", e.Type)
}

// UnmarshalStreamEvent decodes one stream line into its typed event.
func UnmarshalStreamEvent(data []byte) (StreamEvent, error) {
	var typeHolder struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &typeHolder); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	switch typeHolder.Type {
	case "delta":
		var event DeltaEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case "action":
		var event ActionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case "text_done":
		var event TextDoneEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case "audio":
		var event AudioEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case "no_audio":
		var event NoAudioEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case "tts_error":
		var event TTSErrorEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case "session_reset":
		var event SessionResetEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case "error":
		var event ErrorEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		return event, nil
	default:
		return nil, &UnknownEventError{Type: typeHolder.Type}
	}
}

// TurnRequest is one utterance submission.
type TurnRequest struct {
	Message          string `json:"message"`
	TTSProvider      string `json:"tts_provider,omitempty"`
	Voice            string `json:"voice,omitempty"`
	SessionID        string `json:"session_id"`
	UIContext        string `json:"ui_context,omitempty"`
	IdentifiedPerson string `json:"identified_person,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
	MaxResponseChars int    `json:"max_response_chars,omitempty"`
}

// Stream delivers decoded events for one request until io.EOF.
type Stream interface {
	Next() (StreamEvent, error)
	Close() error
}
