package stt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// StreamRecognizer feeds idle microphone audio to a live transcription
// stream and relays recognized text for wake-phrase matching. Recognition
// completes on the socket's read goroutine, so text is handed back through
// the post function; callers pass the session's Post method. If the socket
// drops it redials with backoff, and gives up after the retry budget.
//
// Start, ProcessFrame, and Stop are expected on the session loop.
type StreamRecognizer struct {
	dial   func(ctx context.Context) (*PhraseStream, error)
	post   func(fn func())
	logger *slog.Logger

	redialRetries uint64
	redialBase    time.Duration

	mu     sync.Mutex
	stream *PhraseStream
	cancel context.CancelFunc
}

// NewStreamRecognizer creates a recognizer that dials cfg's endpoint on
// Start. post must schedule its callback onto the session loop.
func NewStreamRecognizer(cfg PhraseStreamConfig, post func(fn func()), logger *slog.Logger) *StreamRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamRecognizer{
		dial: func(ctx context.Context) (*PhraseStream, error) {
			return DialPhraseStream(ctx, cfg, logger)
		},
		post:          post,
		logger:        logger,
		redialRetries: 5,
		redialBase:    500 * time.Millisecond,
	}
}

// Start dials the stream and begins relaying recognized text.
func (r *StreamRecognizer) Start(onText func(text string)) error {
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := r.dial(ctx)
	if err != nil {
		cancel()
		return err
	}
	r.mu.Lock()
	r.stream = stream
	r.cancel = cancel
	r.mu.Unlock()
	go r.forward(ctx, stream, onText)
	return nil
}

// ProcessFrame pushes one idle PCM frame. Frames arriving while the
// stream is reconnecting are dropped; idle audio is best effort.
func (r *StreamRecognizer) ProcessFrame(frame []byte) {
	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.SendAudio(frame); err != nil && !errors.Is(err, ErrStreamClosed) {
		r.logger.Debug("idle frame dropped", "error", err)
	}
}

// Stop tears the stream down. Text already posted may still be delivered
// afterwards; the wake gate drops text while disarmed.
func (r *StreamRecognizer) Stop() error {
	r.mu.Lock()
	stream := r.stream
	cancel := r.cancel
	r.stream = nil
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		return stream.Close()
	}
	return nil
}

// forward relays deltas to onText and redials when the socket drops.
func (r *StreamRecognizer) forward(ctx context.Context, stream *PhraseStream, onText func(text string)) {
	for {
		for delta := range stream.Deltas() {
			if delta.Text == "" {
				continue
			}
			text := delta.Text
			r.post(func() { onText(text) })
		}
		stream.Close()
		if ctx.Err() != nil {
			return
		}

		var next *PhraseStream
		backoff := retry.WithMaxRetries(r.redialRetries, retry.NewExponential(r.redialBase))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			s, err := r.dial(ctx)
			if err != nil {
				return retry.RetryableError(err)
			}
			next = s
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("idle transcription stream lost", "error", err)
			}
			return
		}

		r.mu.Lock()
		if r.cancel == nil {
			// Stopped while redialing.
			r.mu.Unlock()
			next.Close()
			return
		}
		r.stream = next
		r.mu.Unlock()

		r.logger.Info("idle transcription stream redialed")
		stream = next
	}
}
