package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/voicewire/parley/pkg/convo"
)

// Backend submits finished utterances and streams the assistant's reply.
type Backend interface {
	Submit(ctx context.Context, req convo.TurnRequest) (convo.Stream, error)
}

// Identifier resolves who is present after a wake match.
type Identifier interface {
	// Identify returns the recognized person and a confidence in [0,1].
	Identify(ctx context.Context) (person string, confidence float64, err error)
}

// Deps are the collaborators a Session needs. Backend, Transcriber, and
// Player are required. Recognizer enables the idle wake gate; Identifier
// enables the identity check after a wake match.
type Deps struct {
	Backend     Backend
	Transcriber Transcriber
	Player      Player
	Recognizer  PhraseRecognizer
	Identifier  Identifier
	Logger      *slog.Logger
	Now         func() time.Time
}

// Mic ownership markers. Only one consumer reads microphone audio at a time.
const (
	micOwnerWake    = "wake"
	micOwnerCapture = "capture"
)

// Session is the orchestrator for one voice conversation endpoint. It owns
// the composite state machine across idle wake listening, identity checks,
// greeting, listening, processing, and speaking, and it arbitrates the
// microphone between the wake gate and speech capture.
//
// All internal state is confined to a single loop goroutine. Public methods
// post onto that loop and return; timers and network completions funnel back
// through it, which is why the components carry no locks. Session itself
// implements Scheduler for them.
type Session struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// Collaborators
	backend    Backend
	trans      Transcriber
	recognizer PhraseRecognizer
	identifier Identifier
	player     Player

	// Components
	capture *SpeechCapture
	wake    *WakeWordGate
	input   *InputModeController
	queue   *PlaybackQueue

	// Loop
	loop    chan func()
	events  chan Event
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	// State, loop-confined
	state           State
	stateAtomic     atomic.Int32
	sessionID       string
	source          CaptureSource
	micHolder       string
	muted           bool
	callID          string
	person          string
	lastFinalized   string
	pendingFarewell bool
	turn            *turnState
	unmuteTimer     Timer
	lastBargeIn     time.Time

	debugEnabled bool
}

// turnState tracks one backend response from submission until its last clip.
type turnState struct {
	id        string
	greeting  bool
	cancel    context.CancelFunc
	scanner   *convo.DirectiveScanner
	text      strings.Builder
	finalized bool
	// suppressed is set when a duplicate text_done ends rendering for the
	// turn; the rest of the stream drains without display or playback.
	suppressed bool
	// audioDone is set by any terminal audio signal: a clip, an explicit
	// no_audio, or a tts_error.
	audioDone   bool
	clips       int
	streamEnded bool
	watchdog    Timer
}

// NewSession creates a session. Call Start before any other method.
func NewSession(cfg Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Session{
		cfg:        cfg,
		logger:     logger,
		now:        now,
		backend:    deps.Backend,
		trans:      deps.Transcriber,
		recognizer: deps.Recognizer,
		identifier: deps.Identifier,
		player:     deps.Player,
		loop:       make(chan func(), 256),
		events:     make(chan Event, 100),
		done:       make(chan struct{}),
		state:      StateIdleWake,
		sessionID:  newID("sess"),
	}
}

// EnableDebug enables debug event emission.
func (s *Session) EnableDebug() {
	s.debugEnabled = true
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string {
	return s.sessionID
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.stateAtomic.Load())
}

// Events returns the channel for receiving session events.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Start begins the session: the loop runs, the initial mode's listener arms,
// and the machine sits in IDLE_WAKE_LISTENING.
func (s *Session) Start(ctx context.Context) error {
	if s.started.Swap(true) {
		return fmt.Errorf("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.initComponents()

	go s.run()

	s.Post(func() {
		s.armMode(s.input.Mode())
		s.emit(&SessionStartedEvent{
			SessionID: s.sessionID,
			Mode:      s.input.Mode().String(),
		})
	})
	return nil
}

func (s *Session) initComponents() {
	s.capture = NewSpeechCapture(s.ctx, s.cfg.Capture, s.cfg.Audio, s.trans, s, s.logger)
	s.capture.OnUtterance = s.onUtterance
	s.capture.OnSpeaking = s.onSpeaking
	s.capture.OnError = s.onTranscribeError

	s.wake = NewWakeWordGate(s.cfg.Wake, s.recognizer, s.logger)
	s.wake.OnMatch = s.onWakeMatch
	s.wake.OnText = func(text string) {
		s.emit(&TranscriptInterimEvent{Text: text})
	}

	s.input = NewInputModeController(s.cfg.Input, s, s.logger, s.now)
	s.input.OnTeardown = s.teardownMode
	s.input.OnArm = s.armMode
	s.input.OnModeChanged = func(old, new Mode) {
		s.emit(&ModeChangedEvent{From: old.String(), To: new.String()})
	}
	s.input.OnHoldStart = s.onHoldStart
	s.input.OnHoldEnd = s.onHoldEnd
	s.input.OnToggle = func(on bool) {
		action := "toggle_off"
		if on {
			action = "toggle_on"
		}
		s.emit(&PTTEvent{Action: action})
	}

	s.queue = NewPlaybackQueue(s.player, s.logger)
	s.queue.OnActive = s.onPlaybackActive
	s.queue.OnClipStart = func(clip AudioClip) {
		s.emit(&ClipStartedEvent{ClipID: clip.ID})
	}
	s.queue.OnClipDone = func(clip AudioClip) {
		s.emit(&ClipFinishedEvent{ClipID: clip.ID})
	}
}

// run is the session loop. Every piece of session and component state is
// touched only from here.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.loop:
			fn()
		}
	}
}

// Post runs fn on the session loop. Safe from any goroutine; posts after
// Close are dropped.
func (s *Session) Post(fn func()) {
	if s.closed.Load() {
		return
	}
	select {
	case s.loop <- fn:
	case <-s.done:
	}
}

// AfterFunc runs fn on the session loop once d has elapsed.
func (s *Session) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { s.Post(fn) })
}

// Close shuts the session down: playback flushed, listeners stopped,
// in-flight work cancelled, and the events channel closed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if !s.started.Load() {
		close(s.done)
		close(s.events)
		return nil
	}

	s.cancel()

	finished := make(chan struct{})
	s.loop <- func() {
		s.shutdown()
		close(finished)
	}
	<-finished

	close(s.done)
	close(s.events)
	return nil
}

func (s *Session) shutdown() {
	stopTimer(&s.unmuteTimer)
	s.abandonTurn("session_closed")
	s.queue.Flush()
	s.capture.Stop()
	s.wake.Stop()
	if s.source != nil {
		_ = s.source.Stop()
		s.source = nil
	}
	s.micHolder = ""
	s.setState(StateEnded)
	s.emit(&SessionClosedEvent{Reason: "closed"})
	s.logger.Info("session closed", "session_id", s.sessionID)
}

// --- Public verbs. Each posts onto the loop. ---

// ProcessFrame consumes one PCM16LE frame of microphone audio. The session
// takes ownership of the slice.
func (s *Session) ProcessFrame(frame []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.Post(func() { s.processFrame(frame) })
	return nil
}

// AttachSource connects a local capture source whose frames feed the session
// exactly like client-pushed audio. ErrPermissionDenied from Start is fatal
// the same way the client's permission error is.
func (s *Session) AttachSource(src CaptureSource) error {
	if src == nil {
		return fmt.Errorf("capture source is required")
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if err := src.Start(func(frame []byte) { _ = s.ProcessFrame(frame) }); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			s.PermissionDenied()
		}
		return err
	}
	s.Post(func() {
		if s.source != nil {
			_ = s.source.Stop()
		}
		s.source = src
	})
	return nil
}

// WakeText injects recognized idle-state text, for clients that run their
// own recognizer and relay results.
func (s *Session) WakeText(text string) {
	s.Post(func() { s.wake.HearText(text) })
}

// SubmitText submits typed text as a complete user turn, bypassing capture.
// While idle it starts a call carrying the text as its first turn.
func (s *Session) SubmitText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.Post(func() {
		if s.inCall() {
			s.submitUtterance(text)
			return
		}
		if s.state == StateIdleWake {
			s.startCallWithUtterance(text)
		}
	})
}

// StartCall starts a call manually. Manual starts never wait on the
// identity gate.
func (s *Session) StartCall() {
	s.Post(func() {
		if s.state != StateIdleWake {
			return
		}
		s.beginCall("manual")
	})
}

// Hangup ends the active call and returns the mic to the idle listener.
func (s *Session) Hangup() {
	s.Post(func() {
		if s.state == StateIdentifying {
			s.setState(StateIdleWake)
			s.armMode(s.input.Mode())
			return
		}
		if s.inCall() {
			s.endCall("hangup")
		}
	})
}

// BargeIn interrupts playback explicitly: stop the clip, drop the queue,
// abandon the in-flight turn, and reopen the mic in one step. A second
// control inside the ignore window is treated as a double-tap and dropped.
func (s *Session) BargeIn() {
	s.Post(func() {
		if w := s.cfg.Playback.BargeInIgnoreWindow; w > 0 && !s.lastBargeIn.IsZero() && s.now().Sub(s.lastBargeIn) < w {
			return
		}
		if s.queue.Active() || s.turn != nil {
			s.bargeInNow("explicit")
		}
	})
}

// SetMode switches the capture mode.
func (s *Session) SetMode(m Mode) {
	s.Post(func() { s.input.SetMode(m) })
}

// PressTalk records the talk control going down.
func (s *Session) PressTalk() {
	s.Post(func() { s.input.Press() })
}

// ReleaseTalk records the talk control going up.
func (s *Session) ReleaseTalk() {
	s.Post(func() { s.input.Release() })
}

// ControlPress routes a bound physical control press.
func (s *Session) ControlPress(control string) {
	s.Post(func() { s.input.ControlPress(control) })
}

// ControlRelease routes a bound physical control release.
func (s *Session) ControlRelease(control string) {
	s.Post(func() { s.input.ControlRelease(control) })
}

// MarkPlayed consumes a client playback progress mark.
func (s *Session) MarkPlayed(clipID string, playedMS int, ended bool) {
	s.Post(func() {
		if mr, ok := s.player.(MarkReceiver); ok {
			mr.MarkPlayed(clipID, playedMS, ended)
		}
	})
}

// PermissionDenied reports that the client denied microphone access. Fatal
// to the active call; idle listening cannot resume until access returns.
func (s *Session) PermissionDenied() {
	s.Post(func() {
		s.emit(&ErrorEvent{Code: "mic_permission", Message: ErrPermissionDenied.Error(), Fatal: true})
		s.logger.Error("microphone permission denied")
		if s.state == StateIdentifying {
			s.setState(StateIdleWake)
			return
		}
		if s.inCall() {
			s.endCall("mic_permission")
		}
	})
}

// --- Frame routing ---

func (s *Session) processFrame(frame []byte) {
	switch s.micHolder {
	case micOwnerWake:
		s.wake.ProcessFrame(frame)
	case micOwnerCapture:
		if s.muted && !s.input.Holding() {
			// Speaker is live; passive capture stays shut.
			return
		}
		s.capture.ProcessFrame(frame)
	default:
		s.debug("AUDIO", "frame dropped, no mic owner")
	}
}

// --- Mic ownership and mode arbitration ---

func (s *Session) acquireMic(owner string) bool {
	if s.micHolder != "" && s.micHolder != owner {
		return false
	}
	s.micHolder = owner
	return true
}

func (s *Session) releaseMic(owner string) {
	if s.micHolder == owner {
		s.micHolder = ""
	}
}

// armMode arms the listener the mode calls for, given whether a call is
// active. Push-to-talk keeps the mic shut until a hold opens it.
func (s *Session) armMode(m Mode) {
	switch m {
	case ModeWakeGated:
		if s.inCall() {
			s.armCapture()
		} else if s.state == StateIdleWake {
			s.armWake()
		}
	case ModeAuto, ModeListenOnly:
		if s.inCall() || s.state == StateIdleWake {
			s.armCapture()
		}
	case ModePushToTalk, ModeDisabled:
		// Nothing armed.
	}
}

// teardownMode fully stops whatever the old mode had listening. It completes
// synchronously before the next mode arms.
func (s *Session) teardownMode(Mode) {
	if s.wake.Active() {
		s.wake.Stop()
		s.releaseMic(micOwnerWake)
	}
	s.capture.Stop()
	s.releaseMic(micOwnerCapture)
}

func (s *Session) armWake() {
	if !s.acquireMic(micOwnerWake) {
		s.logger.Warn("wake arm blocked", "holder", s.micHolder)
		return
	}
	if err := s.wake.Start(); err != nil {
		s.releaseMic(micOwnerWake)
		s.logger.Error("wake recognizer start failed", "error", err)
		s.emit(&ErrorEvent{Code: "wake_start", Message: err.Error()})
	}
}

func (s *Session) armCapture() {
	if s.muted || s.capture.Armed() {
		return
	}
	if !s.acquireMic(micOwnerCapture) {
		s.logger.Warn("capture arm blocked", "holder", s.micHolder)
		return
	}
	s.capture.Arm()
}

// --- Wake and identity ---

func (s *Session) onWakeMatch(phrase, transcript string) {
	if s.state != StateIdleWake {
		return
	}
	s.emit(&WakeMatchedEvent{Phrase: phrase, Transcript: transcript})
	s.beginCall("wake")
}

func (s *Session) beginCall(trigger string) {
	// The idle listener stops completely before any call audio flows.
	s.teardownMode(s.input.Mode())

	if trigger == "wake" && s.cfg.Wake.RequireIdentity && s.identifier != nil {
		s.identify()
		return
	}
	s.startCall(trigger, "")
}

func (s *Session) identify() {
	s.setState(StateIdentifying)
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Wake.IdentifyTimeout)
	go func() {
		person, confidence, err := s.identifier.Identify(ctx)
		cancel()
		s.Post(func() { s.identifyDone(person, confidence, err) })
	}()
}

func (s *Session) identifyDone(person string, confidence float64, err error) {
	if s.state != StateIdentifying {
		return
	}
	passed := err == nil && person != "" && confidence >= s.cfg.Wake.MinConfidence
	if err != nil {
		s.logger.Warn("identity check failed", "error", err)
	}
	name := ""
	if passed {
		name = person
	}
	s.emit(&IdentifiedEvent{Name: name, Confidence: confidence, Passed: passed})

	if !passed {
		// Unknown speaker: no call, back to idle listening.
		s.setState(StateIdleWake)
		s.armMode(s.input.Mode())
		return
	}
	s.startCall("wake", person)
}

func (s *Session) startCall(trigger, person string) {
	s.callID = newID("call")
	s.person = person
	s.lastFinalized = ""
	s.pendingFarewell = false
	s.emit(&CallStartedEvent{CallID: s.callID, Trigger: trigger, Person: person})
	s.logger.Info("call started", "call_id", s.callID, "trigger", trigger, "person", person)

	greeting := strings.TrimSpace(s.cfg.Turn.Greeting)
	if greeting == "" {
		s.setState(StateListening)
		s.armMode(s.input.Mode())
		return
	}
	s.setState(StateGreeting)
	// Capture arms during the greeting too, so the user can pre-empt it.
	s.armMode(s.input.Mode())
	s.submitTurn(greeting, true)
}

// startCallWithUtterance starts a call from idle speech or typed text in
// auto or push-to-talk mode: no greeting, the utterance is the first turn.
func (s *Session) startCallWithUtterance(text string) {
	s.callID = newID("call")
	s.person = ""
	s.lastFinalized = ""
	s.pendingFarewell = false
	s.emit(&CallStartedEvent{CallID: s.callID, Trigger: "voice"})
	s.logger.Info("call started", "call_id", s.callID, "trigger", "voice")
	s.setState(StateListening)
	s.submitUtterance(text)
}

func (s *Session) endCall(reason string) {
	stopTimer(&s.unmuteTimer)
	s.abandonTurn(reason)
	s.queue.Flush()
	s.setState(StateEnded)
	s.setMuted(false, "call_ended")
	s.capture.Stop()
	s.releaseMic(micOwnerCapture)
	s.pendingFarewell = false

	s.emit(&CallEndedEvent{CallID: s.callID, Reason: reason})
	s.logger.Info("call ended", "call_id", s.callID, "reason", reason)
	s.callID = ""
	s.person = ""
	s.lastFinalized = ""

	// Hand the mic straight back to the idle listener.
	s.setState(StateIdleWake)
	s.armMode(s.input.Mode())
}

// --- Utterances and turns ---

func (s *Session) onSpeaking(speaking bool) {
	s.emit(&SpeakingChangedEvent{Speaking: speaking})
}

func (s *Session) onTranscribeError(err error) {
	// Non-fatal: capture has already re-armed for the next utterance.
	s.emit(&ErrorEvent{Code: "transcription", Message: err.Error()})
}

func (s *Session) onUtterance(u Utterance) {
	mode := s.input.Mode()
	if mode == ModeListenOnly {
		s.emit(&UtteranceEvent{Text: u.Text, Submitted: false})
		return
	}
	if !s.inCall() {
		if s.state == StateIdleWake && (mode == ModeAuto || mode == ModePushToTalk) {
			s.startCallWithUtterance(u.Text)
		}
		return
	}
	s.submitUtterance(u.Text)
}

func (s *Session) submitUtterance(text string) {
	s.emit(&UtteranceEvent{Text: text, Submitted: true})

	// A new utterance always supersedes whatever is in flight or audible.
	if s.turn != nil || s.queue.Active() {
		s.bargeInNow("utterance")
	}
	s.lastFinalized = ""
	s.submitTurn(text, false)
}

func (s *Session) submitTurn(text string, greeting bool) {
	ctx, cancel := context.WithCancel(s.ctx)
	t := &turnState{
		id:       newID("turn"),
		greeting: greeting,
		cancel:   cancel,
		scanner:  convo.NewDirectiveScanner(s.directiveNames()),
	}
	s.turn = t

	if !greeting {
		s.setState(StateProcessing)
	}
	s.emit(&TurnStartedEvent{TurnID: t.id})

	req := convo.TurnRequest{
		Message:          text,
		TTSProvider:      s.cfg.Turn.TTSProvider,
		Voice:            s.cfg.Turn.Voice,
		SessionID:        s.sessionID,
		UIContext:        s.cfg.Turn.UIContext,
		IdentifiedPerson: s.person,
		AgentID:          s.cfg.Turn.AgentID,
		MaxResponseChars: s.cfg.Turn.MaxResponseChars,
	}
	go s.consumeTurn(ctx, t, req)
}

// consumeTurn reads the response stream on its own goroutine and posts each
// event back onto the loop. Handlers ignore events from superseded turns.
func (s *Session) consumeTurn(ctx context.Context, t *turnState, req convo.TurnRequest) {
	stream, err := s.backend.Submit(ctx, req)
	if err != nil {
		s.Post(func() { s.turnSubmitFailed(t, err) })
		return
	}
	defer stream.Close()

	for {
		event, err := stream.Next()
		if err != nil {
			eof := errors.Is(err, io.EOF)
			s.Post(func() { s.turnStreamEnded(t, err, eof) })
			return
		}
		ev := event
		s.Post(func() { s.handleTurnEvent(t, ev) })
	}
}

func (s *Session) turnSubmitFailed(t *turnState, err error) {
	if s.turn != t {
		return
	}
	s.turn = nil
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Warn("turn submit failed", "turn_id", t.id, "error", err)
	s.emit(&ErrorEvent{Code: "backend_submit", Message: err.Error()})
	s.backToListening()
}

func (s *Session) handleTurnEvent(t *turnState, ev convo.StreamEvent) {
	if s.turn != t || t.suppressed {
		return
	}

	switch e := ev.(type) {
	case convo.DeltaEvent:
		clean, fired := t.scanner.Feed(e.Text)
		for _, d := range fired {
			s.fireDirective(t, d)
		}
		if clean != "" {
			t.text.WriteString(clean)
			s.emit(&TurnDeltaEvent{TurnID: t.id, Delta: clean, Text: t.text.String()})
		}

	case convo.ActionEvent:
		s.emit(&ActivityEvent{Message: e.Message, At: s.now()})

	case convo.TextDoneEvent:
		s.finalizeText(t, e.Text)

	case convo.AudioEvent:
		t.audioDone = true
		t.clips++
		clip := AudioClip{ID: newID("clip"), TurnID: t.id, Format: e.Format, Data: e.Data}
		s.emit(&ClipQueuedEvent{ClipID: clip.ID, TurnID: t.id, Format: clip.Format, Bytes: len(clip.Data)})
		s.queue.Enqueue(clip)

	case convo.NoAudioEvent:
		t.audioDone = true

	case convo.TTSErrorEvent:
		t.audioDone = true
		class := convo.ClassifySynthesisError(e.Code, e.Message)
		s.logger.Warn("synthesis failed", "turn_id", t.id, "class", string(class), "message", e.Message)
		s.emit(&SynthesisErrorEvent{Class: string(class), Message: class.Notice()})

	case convo.SessionResetEvent:
		s.emit(&BackendResetEvent{})

	case convo.ErrorEvent:
		code := e.Code
		if code == "" {
			code = "backend"
		}
		s.logger.Warn("backend turn error", "turn_id", t.id, "code", code, "message", e.Message)
		s.emit(&ErrorEvent{Code: code, Message: e.Message})
	}
}

func (s *Session) finalizeText(t *turnState, raw string) {
	clean, fired := t.scanner.Finalize(raw)
	for _, d := range fired {
		s.fireDirective(t, d)
	}
	clean = strings.TrimSpace(clean)

	if t.finalized || (clean != "" && clean == s.lastFinalized) {
		// The backend repeats finalized text now and then. Render one copy
		// and swallow the rest of the stream so the reply is not re-spoken.
		t.suppressed = true
		t.audioDone = true
		s.emit(&TurnFinalizedEvent{TurnID: t.id, Text: clean, Duplicate: true})
		return
	}
	t.finalized = true
	s.lastFinalized = clean
	s.emit(&TurnFinalizedEvent{TurnID: t.id, Text: clean})
}

func (s *Session) fireDirective(t *turnState, d convo.Directive) {
	s.logger.Info("directive", "turn_id", t.id, "name", d.Name, "arg", d.Arg)
	s.emit(&DirectiveEvent{TurnID: t.id, Name: d.Name, Arg: d.Arg, Raw: d.Raw})
	if d.Name == s.farewellName() {
		s.pendingFarewell = true
	}
}

func (s *Session) turnStreamEnded(t *turnState, err error, eof bool) {
	if s.turn != t {
		return
	}
	t.streamEnded = true

	if !eof {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("turn stream failed", "turn_id", t.id, "error", err)
		s.emit(&ErrorEvent{Code: "backend_stream", Message: err.Error()})
	}

	if !t.suppressed {
		// Drain a trailing fragment the scanner was still holding.
		if tail := t.scanner.Flush(); tail != "" {
			t.text.WriteString(tail)
			s.emit(&TurnDeltaEvent{TurnID: t.id, Delta: tail, Text: t.text.String()})
		}
		if eof && !t.finalized && t.text.Len() > 0 {
			// Stream ended without text_done; finalize what was streamed.
			s.finalizeText(t, t.text.String())
		}
	}

	s.settleTurn(t)
}

// settleTurn decides what happens now that the stream is closed. Playback
// owns the transition while clips remain; otherwise a terminal audio signal
// ends the turn directly, and its absence starts the watchdog.
func (s *Session) settleTurn(t *turnState) {
	if s.queue.Active() {
		return
	}
	if t.audioDone {
		s.finishTurn(t)
		return
	}
	t.watchdog = s.AfterFunc(s.cfg.Turn.WatchdogDelay, func() {
		t.watchdog = nil
		if s.turn != t {
			return
		}
		s.logger.Warn("turn ended without audio outcome", "turn_id", t.id)
		s.emit(&WatchdogFiredEvent{TurnID: t.id})
		s.finishTurn(t)
	})
}

func (s *Session) finishTurn(t *turnState) {
	if s.turn == t {
		s.turn = nil
	}
	stopTimer(&t.watchdog)
	if t.cancel != nil {
		t.cancel()
	}
	s.logger.Debug("turn finished", "turn_id", t.id, "clips", t.clips)

	if s.pendingFarewell {
		s.endCall("farewell")
		return
	}
	s.backToListening()
}

func (s *Session) abandonTurn(reason string) {
	t := s.turn
	if t == nil {
		return
	}
	s.turn = nil
	stopTimer(&t.watchdog)
	if t.cancel != nil {
		t.cancel()
	}
	s.logger.Debug("turn abandoned", "turn_id", t.id, "reason", reason)
}

func (s *Session) backToListening() {
	if !s.inCall() {
		return
	}
	s.setState(StateListening)
	s.armMode(s.input.Mode())
}

// --- Playback and the mute cycle ---

func (s *Session) onPlaybackActive(active bool) {
	if active {
		stopTimer(&s.unmuteTimer)
		s.setMuted(true, "playback")
		if s.inCall() && s.state != StateGreeting {
			s.setState(StateSpeaking)
		}
		return
	}

	// Queue drained: hold the mic shut briefly so the played speech tail
	// cannot re-enter capture as an utterance.
	stopTimer(&s.unmuteTimer)
	s.unmuteTimer = s.AfterFunc(s.cfg.Playback.UnmuteDelay, func() {
		s.unmuteTimer = nil
		s.playbackSettled()
	})
}

func (s *Session) playbackSettled() {
	if s.queue.Active() {
		return
	}
	s.setMuted(false, "drained")

	t := s.turn
	if t != nil && t.streamEnded {
		s.finishTurn(t)
		return
	}
	if t != nil {
		// Stream still open; more clips may follow.
		if s.state == StateSpeaking {
			s.setState(StateProcessing)
		}
		s.armMode(s.input.Mode())
		return
	}
	if s.pendingFarewell {
		s.endCall("farewell")
		return
	}
	s.backToListening()
}

func (s *Session) setMuted(muted bool, reason string) {
	if s.muted == muted {
		return
	}
	s.muted = muted
	s.emit(&MicStateEvent{Muted: muted, Reason: reason})

	if muted {
		// Passive capture yields while the speaker is live. An open
		// push-to-talk hold keeps its frames flowing.
		if s.capture.Armed() && !s.input.Holding() {
			s.capture.Stop()
			s.releaseMic(micOwnerCapture)
		}
		return
	}
	if s.inCall() {
		s.armMode(s.input.Mode())
	}
}

// bargeInNow atomically silences the speaker and opens the floor: stop the
// active clip, drop the queue, abandon the in-flight turn, cancel the
// pending unmute, unmute, and re-arm capture for the current mode.
func (s *Session) bargeInNow(source string) {
	s.lastBargeIn = s.now()
	stopTimer(&s.unmuteTimer)
	s.abandonTurn("barge_in")
	s.queue.Flush()
	s.setMuted(false, "barge_in")
	s.emit(&BargeInEvent{})
	s.logger.Debug("barge-in", "source", source)

	if s.inCall() {
		s.setState(StateListening)
		s.armMode(s.input.Mode())
	}
}

// --- Push-to-talk holds ---

func (s *Session) onHoldStart() {
	s.emit(&PTTEvent{Action: "hold_start"})
	if s.queue.Active() || (s.inCall() && s.turn != nil) {
		s.bargeInNow("ptt")
	}
	s.armCapture()
}

func (s *Session) onHoldEnd() {
	s.emit(&PTTEvent{Action: "hold_end"})
	s.capture.FinishNow()
	// Between holds the mic stays shut; a transcription already in flight
	// still delivers.
	s.capture.Stop()
	s.releaseMic(micOwnerCapture)
}

// --- Shared helpers ---

func (s *Session) inCall() bool {
	switch s.state {
	case StateGreeting, StateListening, StateProcessing, StateSpeaking:
		return true
	}
	return false
}

func (s *Session) setState(newState State) {
	oldState := s.state
	if oldState == newState {
		return
	}
	s.state = newState
	s.stateAtomic.Store(int32(newState))
	s.logger.Debug("state changed", "from", oldState.String(), "to", newState.String())
	s.emit(&StateChangedEvent{From: oldState, To: newState})
}

// emit sends an event to the events channel, dropping when the consumer
// lags.
func (s *Session) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}

func (s *Session) debug(category, message string) {
	if !s.debugEnabled {
		return
	}
	s.logger.Debug(message, "category", category)
	s.emit(&DebugEvent{Category: category, Message: message})
}

func (s *Session) directiveNames() []string {
	if len(s.cfg.Turn.Directives) > 0 {
		return s.cfg.Turn.Directives
	}
	return DefaultDirectives()
}

func (s *Session) farewellName() string {
	if s.cfg.Turn.FarewellDirective != "" {
		return s.cfg.Turn.FarewellDirective
	}
	return "end_call"
}

// newID creates a prefixed unique identifier.
func newID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}
