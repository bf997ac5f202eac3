package call

import (
	"time"
)

// Event is the interface for all call session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionStartedEvent is emitted once when the session begins running.
type SessionStartedEvent struct {
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
}

func (e *SessionStartedEvent) EventType() string { return "session.started" }

// SessionClosedEvent is emitted when the session stops for good.
type SessionClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }

// StateChangedEvent is emitted on every transition of the composite state machine.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// WakeMatchedEvent is emitted when the wake gate hears a trigger phrase.
type WakeMatchedEvent struct {
	Phrase     string `json:"phrase"`
	Transcript string `json:"transcript"`
}

func (e *WakeMatchedEvent) EventType() string { return "wake.matched" }

// IdentifiedEvent reports the identity check outcome during IDENTIFYING.
type IdentifiedEvent struct {
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`
	Passed     bool    `json:"passed"`
}

func (e *IdentifiedEvent) EventType() string { return "identity.checked" }

// CallStartedEvent is emitted when a call begins.
type CallStartedEvent struct {
	CallID  string `json:"call_id"`
	Trigger string `json:"trigger"` // "wake" or "manual"
	Person  string `json:"person,omitempty"`
}

func (e *CallStartedEvent) EventType() string { return "call.started" }

// CallEndedEvent is emitted when a call ends for any reason.
type CallEndedEvent struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"` // "hangup", "farewell", "mic_permission", "fatal", "mode_change"
}

func (e *CallEndedEvent) EventType() string { return "call.ended" }

// ModeChangedEvent is emitted when the capture mode switches.
type ModeChangedEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (e *ModeChangedEvent) EventType() string { return "mode.changed" }

// SpeakingChangedEvent is emitted when the VAD speaking flag toggles.
type SpeakingChangedEvent struct {
	Speaking bool `json:"speaking"`
}

func (e *SpeakingChangedEvent) EventType() string { return "vad.speaking" }

// TranscriptInterimEvent carries in-progress recognizer text for live captions.
type TranscriptInterimEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptInterimEvent) EventType() string { return "transcript.interim" }

// UtteranceEvent is emitted when a finalized utterance is ready.
type UtteranceEvent struct {
	Text      string `json:"text"`
	Submitted bool   `json:"submitted"`
}

func (e *UtteranceEvent) EventType() string { return "utterance" }

// PTTEvent reports push-to-talk activity.
type PTTEvent struct {
	Action string `json:"action"` // "toggle_on", "toggle_off", "hold_start", "hold_end"
}

func (e *PTTEvent) EventType() string { return "ptt" }

// TurnStartedEvent is emitted when an utterance is submitted and its
// response stream opens.
type TurnStartedEvent struct {
	TurnID string `json:"turn_id"`
}

func (e *TurnStartedEvent) EventType() string { return "turn.started" }

// TurnDeltaEvent carries an incremental display update for the active turn.
// Text is the full cleaned text so far; Delta is the cleaned increment.
type TurnDeltaEvent struct {
	TurnID string `json:"turn_id"`
	Delta  string `json:"delta"`
	Text   string `json:"text"`
}

func (e *TurnDeltaEvent) EventType() string { return "turn.delta" }

// TurnFinalizedEvent is emitted when the turn's text is final.
type TurnFinalizedEvent struct {
	TurnID    string `json:"turn_id"`
	Text      string `json:"text"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (e *TurnFinalizedEvent) EventType() string { return "turn.finalized" }

// ActivityEvent forwards a backend action notice to the activity log.
type ActivityEvent struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (e *ActivityEvent) EventType() string { return "activity" }

// DirectiveEvent is emitted exactly once per control directive per turn.
type DirectiveEvent struct {
	TurnID string `json:"turn_id"`
	Name   string `json:"name"`
	Arg    string `json:"arg,omitempty"`
	Raw    string `json:"raw"`
}

func (e *DirectiveEvent) EventType() string { return "directive" }

// ClipQueuedEvent is emitted when a synthesized clip joins the playback queue.
type ClipQueuedEvent struct {
	ClipID string `json:"clip_id"`
	TurnID string `json:"turn_id"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}

func (e *ClipQueuedEvent) EventType() string { return "clip.queued" }

// ClipStartedEvent is emitted when a clip begins playing.
type ClipStartedEvent struct {
	ClipID string `json:"clip_id"`
}

func (e *ClipStartedEvent) EventType() string { return "clip.started" }

// ClipFinishedEvent is emitted when a clip finishes or is stopped.
type ClipFinishedEvent struct {
	ClipID string `json:"clip_id"`
}

func (e *ClipFinishedEvent) EventType() string { return "clip.finished" }

// MicStateEvent is emitted whenever the mic mutes or unmutes.
type MicStateEvent struct {
	Muted  bool   `json:"muted"`
	Reason string `json:"reason,omitempty"`
}

func (e *MicStateEvent) EventType() string { return "mic.state" }

// BargeInEvent is emitted when a barge-in interrupts playback.
type BargeInEvent struct{}

func (e *BargeInEvent) EventType() string { return "barge_in" }

// SynthesisErrorEvent is emitted when the backend reports a tts_error.
type SynthesisErrorEvent struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

func (e *SynthesisErrorEvent) EventType() string { return "synthesis.error" }

// WatchdogFiredEvent is emitted when a truncated stream forces capture open.
type WatchdogFiredEvent struct {
	TurnID string `json:"turn_id"`
}

func (e *WatchdogFiredEvent) EventType() string { return "watchdog.fired" }

// BackendResetEvent mirrors an informational session_reset from the backend.
type BackendResetEvent struct{}

func (e *BackendResetEvent) EventType() string { return "backend.reset" }

// ErrorEvent is emitted for non-fatal and fatal faults alike.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// DebugEvent is emitted for debugging information when debug is enabled.
type DebugEvent struct {
	Category string `json:"category"` // CAPTURE, WAKE, INPUT, TURN, PLAYBACK, SESSION
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }
