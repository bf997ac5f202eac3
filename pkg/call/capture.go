package call

import (
	"context"
	"log/slog"
	"strings"
)

// CaptureSource delivers live microphone audio as PCM16LE frames.
// Start returns ErrPermissionDenied when the user denied microphone access.
type CaptureSource interface {
	Start(onFrame func(frame []byte)) error
	Stop() error
}

// Transcriber converts a finished recording into text.
type Transcriber interface {
	// Transcribe returns the transcript for a WAV-encoded segment.
	// ok is false when the provider produced no usable transcript.
	Transcribe(ctx context.Context, wavData []byte) (transcript string, ok bool, err error)
}

// Utterance is one finalized piece of user speech, consumed once.
type Utterance struct {
	Text      string
	Interim   string
	SawSpeech bool
}

// SpeechCapture turns live microphone audio into finalized utterances.
//
// It watches per-frame peak amplitude against a threshold to maintain a
// speaking flag; once speech has been seen and silence holds past the
// timeout, the recorded segment is transcribed and delivered through
// OnUtterance. Segments that are too short or never contained speech are
// discarded without a network call. All methods and callbacks run on the
// session's scheduling context.
type SpeechCapture struct {
	cfg    CaptureConfig
	audio  AudioConfig
	sched  Scheduler
	trans  Transcriber
	logger *slog.Logger
	ctx    context.Context

	armed     bool
	stopped   bool
	speaking  bool
	sawSpeech bool

	// Guards against silence-timer double fire and duplicate submission.
	stopping     bool
	transcribing bool

	buf          *SegmentBuffer
	silenceTimer Timer

	// OnUtterance receives each finalized utterance.
	OnUtterance func(u Utterance)
	// OnSpeaking fires on every speaking flag toggle.
	OnSpeaking func(speaking bool)
	// OnError receives non-fatal transcription failures after capture re-arms.
	OnError func(err error)
}

// NewSpeechCapture creates a SpeechCapture. The context bounds in-flight
// transcription requests; cancel it to abandon them.
func NewSpeechCapture(ctx context.Context, cfg CaptureConfig, audio AudioConfig, trans Transcriber, sched Scheduler, logger *slog.Logger) *SpeechCapture {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &SpeechCapture{
		cfg:    cfg,
		audio:  audio,
		sched:  sched,
		trans:  trans,
		logger: logger,
		ctx:    ctx,
		buf:    NewSegmentBuffer(audio, cfg.MaxSegmentMs),
	}
}

// Arm starts a fresh recording cycle. It clears the explicit stop so capture
// re-arms itself after each transcription until Stop is called again.
func (c *SpeechCapture) Arm() {
	c.stopped = false
	c.startRecording()
}

// Stop ends capture explicitly: no further frames are consumed and no re-arm
// happens until the next Arm. A transcription already in flight still
// delivers its utterance.
func (c *SpeechCapture) Stop() {
	c.stopped = true
	c.armed = false
	stopTimer(&c.silenceTimer)
	c.buf.Clear()
	if c.speaking {
		c.speaking = false
		if c.OnSpeaking != nil {
			c.OnSpeaking(false)
		}
	}
	c.sawSpeech = false
	c.stopping = false
}

// Armed reports whether capture is currently consuming frames.
func (c *SpeechCapture) Armed() bool { return c.armed }

// Speaking reports the current VAD speaking flag.
func (c *SpeechCapture) Speaking() bool { return c.speaking }

// Transcribing reports whether a transcription request is in flight.
func (c *SpeechCapture) Transcribing() bool { return c.transcribing }

// ProcessFrame consumes one PCM16LE frame of microphone audio.
func (c *SpeechCapture) ProcessFrame(frame []byte) {
	if !c.armed || c.stopped {
		return
	}

	c.buf.Write(frame)

	amp := CalculatePeakAmplitude(frame)
	if amp >= c.cfg.AmplitudeThreshold {
		if !c.speaking {
			c.speaking = true
			c.sawSpeech = true
			stopTimer(&c.silenceTimer)
			if c.OnSpeaking != nil {
				c.OnSpeaking(true)
			}
		}
		return
	}

	if c.speaking {
		c.speaking = false
		if c.OnSpeaking != nil {
			c.OnSpeaking(false)
		}
		stopTimer(&c.silenceTimer)
		c.silenceTimer = c.sched.AfterFunc(c.cfg.SilenceTimeout, func() {
			c.silenceTimer = nil
			c.finishSegment("silence")
		})
	}
}

// FinishNow finalizes the current recording immediately, bypassing the
// silence timeout. Used by push-to-talk release.
func (c *SpeechCapture) FinishNow() {
	c.finishSegment("hold_release")
}

func (c *SpeechCapture) finishSegment(reason string) {
	if c.stopping || c.transcribing {
		return
	}
	if !c.armed {
		return
	}
	c.stopping = true
	c.armed = false
	stopTimer(&c.silenceTimer)
	if c.speaking {
		c.speaking = false
		if c.OnSpeaking != nil {
			c.OnSpeaking(false)
		}
	}

	segment := c.buf.Bytes()
	minBytes := c.audio.BytesForDurationMs(c.cfg.MinSegmentMs)
	if !c.sawSpeech || len(segment) < minBytes {
		c.logger.Debug("discarding segment",
			"reason", reason,
			"bytes", len(segment),
			"saw_speech", c.sawSpeech)
		c.stopping = false
		c.startRecording()
		return
	}

	wavData, err := EncodeWAV(segment, c.audio)
	if err != nil {
		c.logger.Warn("segment encode failed", "error", err)
		c.stopping = false
		c.startRecording()
		return
	}

	c.transcribing = true
	c.stopping = false
	c.logger.Debug("transcribing segment", "reason", reason, "bytes", len(segment))

	go func() {
		transcript, ok, err := c.trans.Transcribe(c.ctx, wavData)
		c.sched.Post(func() {
			c.transcribeDone(transcript, ok, err)
		})
	}()
}

func (c *SpeechCapture) transcribeDone(transcript string, ok bool, err error) {
	c.transcribing = false

	// Re-arm before delivery so a handler that wants capture stopped can
	// still call Stop afterward.
	c.startRecording()

	if err != nil {
		c.logger.Warn("transcription failed", "error", err)
		if c.OnError != nil {
			c.OnError(err)
		}
		return
	}

	text := strings.TrimSpace(transcript)
	if !ok || text == "" {
		c.logger.Debug("transcription produced no text")
		return
	}

	if c.OnUtterance != nil {
		c.OnUtterance(Utterance{Text: text, SawSpeech: true})
	}
}

func (c *SpeechCapture) startRecording() {
	if c.stopped {
		return
	}
	c.armed = true
	c.buf.Clear()
	c.speaking = false
	c.sawSpeech = false
	stopTimer(&c.silenceTimer)
}
