// Package bridge ties one websocket connection to one call session.
// Inbound frames become session verbs, and session events and synthesized
// clips flow back as outbound frames through a writer that favors control
// traffic over audio.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/parley/pkg/call"
	"github.com/voicewire/parley/pkg/gateway/live/protocol"
	"github.com/voicewire/parley/pkg/gateway/metrics"
)

const (
	// maxCanceledClipIDs bounds the memory of clips dropped by a barge-in.
	maxCanceledClipIDs = 64

	// outboundPriorityQueueSize caps the always-small queue of control frames.
	outboundPriorityQueueSize = 8
)

var errBackpressure = errors.New("live outbound backpressure")

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	MaxAudioFPS         int
	MaxAudioBPS         int64
	InboundBurstSeconds int
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	MaxSessionDuration  time.Duration
	OutboundQueueSize   int

	// Playback selects the clip delivery strategy negotiated in the hello,
	// protocol.PlaybackStream or protocol.PlaybackClip.
	Playback    string
	ClientMarks bool
	Debug       bool
}

type Dependencies struct {
	Conn        *websocket.Conn
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Backend     call.Backend
	Transcriber call.Transcriber
	Identifier  call.Identifier

	// NewRecognizer builds the idle phrase recognizer with a post function
	// that funnels its callbacks onto the session loop. Nil means the client
	// pushes wake text itself.
	NewRecognizer func(post func(func())) call.PhraseRecognizer

	CallConfig call.Config
	Config     Config
	RequestID  string
	Now        func() time.Time
}

// Bridge runs one live call over one websocket connection.
type Bridge struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
	requestID string
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	sess *call.Session

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	canceledClips atomic.Value // canceledClipState
	limiter       *inboundLimiter
}

type canceledClipState struct {
	set   map[string]struct{}
	order []string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		// Unregistered registry; counts are kept but never scraped.
		deps.Metrics = metrics.New("parley")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if deps.Config.MaxSessionDuration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), deps.Config.MaxSessionDuration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	b := &Bridge{
		conn:             deps.Conn,
		logger:           deps.Logger,
		metrics:          deps.Metrics,
		cfg:              deps.Config,
		requestID:        deps.RequestID,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}
	b.canceledClips.Store(canceledClipState{set: make(map[string]struct{}), order: nil})
	b.limiter = newInboundLimiter(deps.Now, deps.Config.MaxAudioFPS, deps.Config.MaxAudioBPS, deps.Config.InboundBurstSeconds)

	// The bridge is the session's scheduler and the player's transport. The
	// session is constructed below, before Start, and no player or recognizer
	// callback fires until the session loop runs.
	var player call.Player
	if deps.Config.Playback == protocol.PlaybackClip {
		player = call.NewClipPlayer(&clipSink{b: b}, b, deps.CallConfig.Playback, deps.Config.ClientMarks, deps.Logger)
	} else {
		player = call.NewStreamPlayer(&graphSink{b: b}, b, deps.CallConfig.Playback, deps.Config.ClientMarks, deps.Logger)
	}

	var recognizer call.PhraseRecognizer
	if deps.NewRecognizer != nil {
		recognizer = deps.NewRecognizer(b.Post)
	} else {
		recognizer = call.NewPushRecognizer()
	}

	b.sess = call.NewSession(deps.CallConfig, call.Deps{
		Backend:     deps.Backend,
		Transcriber: deps.Transcriber,
		Player:      player,
		Recognizer:  recognizer,
		Identifier:  deps.Identifier,
		Logger:      deps.Logger,
		Now:         deps.Now,
	})
	if deps.Config.Debug {
		b.sess.EnableDebug()
	}
	return b, nil
}

// Post runs fn on the session loop.
func (b *Bridge) Post(fn func()) {
	b.sess.Post(fn)
}

// AfterFunc runs fn on the session loop once d has elapsed.
func (b *Bridge) AfterFunc(d time.Duration, fn func()) call.Timer {
	return b.sess.AfterFunc(d, fn)
}

// SessionID reports the session identifier minted for this call.
func (b *Bridge) SessionID() string {
	return b.sess.SessionID()
}

// Cancel aborts the session context. The writer then flushes priority
// frames and closes the socket, which unblocks the read loop.
func (b *Bridge) Cancel() {
	if b == nil || b.cancel == nil {
		return
	}
	b.cancel()
}

// SendWarning delivers a non-fatal warning frame, best effort.
func (b *Bridge) SendWarning(code, message string) error {
	if b == nil {
		return nil
	}
	return b.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

// Run drives the call until the client disconnects, a fatal protocol
// violation closes it, or the session context ends.
func (b *Bridge) Run() error {
	defer b.cancel()

	start := b.now()
	status := "ok"
	if b.metrics != nil {
		b.metrics.RecordSessionStart()
		defer func() {
			b.metrics.RecordSessionEnd(status, b.now().Sub(start))
		}()
	}

	if b.cfg.MaxJSONMessageBytes > 0 {
		b.conn.SetReadLimit(b.cfg.MaxJSONMessageBytes)
	}
	readTimeout := b.readTimeout()
	if readTimeout > 0 {
		_ = b.conn.SetReadDeadline(time.Now().Add(readTimeout))
		b.conn.SetPongHandler(func(string) error {
			return b.conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
	}

	if err := b.sess.Start(b.ctx); err != nil {
		status = "error"
		return err
	}
	relayDone := make(chan struct{})
	go b.relayEvents(relayDone)
	defer func() {
		b.cancel()
		_ = b.sess.Close()
		<-relayDone
	}()

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go b.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:         b.conn,
			ctx:        b.ctx,
			cfg:        b.cfg,
			priority:   b.outboundPriority,
			normal:     b.outboundNormal,
			isCanceled: b.isClipCanceled,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	flushAndClose := func() error {
		b.cancel()
		wait := 100 * time.Millisecond
		if b.cfg.WriteTimeout > 0 && b.cfg.WriteTimeout < wait {
			wait = b.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		return nil
	}

	for {
		select {
		case <-b.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				status = "error"
			}
			return err
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				return nil
			}
			switch frame.messageType {
			case websocket.BinaryMessage:
				if b.cfg.MaxAudioFrameBytes > 0 && len(frame.data) > b.cfg.MaxAudioFrameBytes {
					_ = b.sendError("bad_request", "audio frame exceeds max size", true)
					return flushAndClose()
				}
				if b.limiter != nil && !b.limiter.Allow(len(frame.data)) {
					status = "rate_limited"
					_ = b.sendError("rate_limited", "inbound audio rate limit exceeded", true)
					return flushAndClose()
				}
				if b.metrics != nil {
					b.metrics.RecordAudio("in", len(frame.data))
				}
				_ = b.sess.ProcessFrame(frame.data)
			case websocket.TextMessage:
				if err := b.handleText(frame.data); err != nil {
					return flushAndClose()
				}
			}
		}
	}
}

// readTimeout covers two ping intervals plus one write timeout, so a
// healthy client always has a pong in flight before the deadline.
func (b *Bridge) readTimeout() time.Duration {
	ping := b.cfg.PingInterval
	if ping <= 0 {
		ping = 20 * time.Second
	}
	wt := b.cfg.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}
	return 2*ping + wt
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-b.ctx.Done():
			return
		}
	}
}

// handleText dispatches one decoded client frame onto the session. A
// non-nil return means the connection must close.
func (b *Bridge) handleText(data []byte) error {
	msg, decErr := protocol.DecodeClientMessage(data)
	if decErr != nil {
		code := "bad_request"
		var de *protocol.DecodeError
		if errors.As(decErr, &de) {
			code = de.Code
		}
		_ = b.sendError(code, decErr.Error(), true)
		return decErr
	}

	switch m := msg.(type) {
	case protocol.ClientHello:
		_ = b.sendError("bad_request", "hello already received", false)
	case protocol.ClientPlaybackMark:
		b.sess.MarkPlayed(m.ClipID, m.PlayedMS, m.Ended)
	case protocol.ClientControl:
		switch m.Op {
		case "start_call":
			b.sess.StartCall()
		case "hangup":
			b.sess.Hangup()
		case "barge_in":
			b.sess.BargeIn()
		case "press_talk":
			b.sess.PressTalk()
		case "release_talk":
			b.sess.ReleaseTalk()
		case "mic_denied":
			b.sess.PermissionDenied()
		}
	case protocol.ClientSetMode:
		b.sess.SetMode(call.ParseMode(m.Mode))
	case protocol.ClientControlPress:
		b.sess.ControlPress(m.Control)
	case protocol.ClientControlRelease:
		b.sess.ControlRelease(m.Control)
	case protocol.ClientText:
		b.sess.SubmitText(m.Text)
	case protocol.ClientWakeText:
		b.sess.WakeText(m.Text)
	}
	return nil
}

// relayEvents forwards session events to the client and folds the
// operational ones into metrics. It exits when the session closes its
// events channel.
func (b *Bridge) relayEvents(done chan<- struct{}) {
	defer close(done)
	for ev := range b.sess.Events() {
		b.recordEvent(ev)
		payload, err := protocol.ServerEvent(ev)
		if err != nil {
			b.logger.Warn("event encode failed", "type", ev.EventType(), "error", err)
			continue
		}
		if err := b.enqueueNormal(outboundFrame{textPayload: payload}); err != nil {
			b.logger.Warn("event dropped under backpressure", "type", ev.EventType())
		}
	}
}

func (b *Bridge) recordEvent(ev call.Event) {
	if b.metrics == nil {
		return
	}
	switch e := ev.(type) {
	case *call.CallStartedEvent:
		b.metrics.RecordCallStart(e.Trigger)
	case *call.CallEndedEvent:
		b.metrics.RecordCallEnd(e.Reason)
	case *call.TurnStartedEvent:
		b.metrics.RecordTurn()
	case *call.BargeInEvent:
		b.metrics.RecordBargeIn()
	case *call.WatchdogFiredEvent:
		b.metrics.RecordWatchdogFire()
	case *call.SynthesisErrorEvent:
		b.metrics.RecordSynthesisError(e.Class)
	}
}

func (b *Bridge) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.enqueueNormal(outboundFrame{textPayload: payload})
}

func (b *Bridge) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.enqueuePriority(outboundFrame{textPayload: payload})
}

func (b *Bridge) sendError(code, message string, close bool) error {
	msg := protocol.ServerError{Type: "error", Code: code, Message: message, Close: close}
	if close {
		return b.sendJSONPriority(msg)
	}
	return b.sendJSON(msg)
}

// enqueueClip queues a clip header and its bytes for delivery. Under
// backpressure the clip is dropped; the playback watch timer keeps the
// session advancing without it.
func (b *Bridge) enqueueClip(clipID string, header, data []byte) {
	err := b.enqueueNormal(outboundFrame{
		isClipAudio: true,
		clipID:      clipID,
		binaryPair:  &binaryPair{header: header, data: data},
	})
	if err != nil {
		b.logger.Warn("clip dropped under backpressure", "clip_id", clipID, "bytes", len(data))
		return
	}
	if b.metrics != nil {
		b.metrics.RecordAudio("out", len(data))
	}
}

func (b *Bridge) enqueueNormal(frame outboundFrame) error {
	if frame.isClipAudio && b.isClipCanceled(frame.clipID) {
		return nil
	}
	select {
	case b.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (b *Bridge) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case b.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-b.outboundPriority:
		default:
		}
	}
	select {
	case b.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// cancelClip marks a clip so frames for it still in the queues are
// discarded instead of written. Only the session loop stores; the writer
// goroutine reads through the atomic value.
func (b *Bridge) cancelClip(clipID string) {
	if clipID == "" {
		return
	}

	raw := b.canceledClips.Load()
	state, ok := raw.(canceledClipState)
	if !ok {
		state = canceledClipState{set: make(map[string]struct{}), order: nil}
	}
	if _, exists := state.set[clipID]; exists {
		return
	}

	nextSet := make(map[string]struct{}, len(state.set)+1)
	for k := range state.set {
		nextSet[k] = struct{}{}
	}
	nextOrder := make([]string, 0, len(state.order)+1)
	nextOrder = append(nextOrder, state.order...)
	nextOrder = append(nextOrder, clipID)
	nextSet[clipID] = struct{}{}

	for len(nextOrder) > maxCanceledClipIDs {
		evict := nextOrder[0]
		nextOrder = nextOrder[1:]
		delete(nextSet, evict)
	}

	b.canceledClips.Store(canceledClipState{set: nextSet, order: nextOrder})
}

func (b *Bridge) isClipCanceled(clipID string) bool {
	if clipID == "" {
		return false
	}
	raw := b.canceledClips.Load()
	state, ok := raw.(canceledClipState)
	if !ok || state.set == nil {
		return false
	}
	_, exists := state.set[clipID]
	return exists
}
