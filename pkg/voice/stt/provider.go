// Package stt provides speech-to-text for the voice call pipeline.
//
// Two collaborators come out of this package: a segment transcriber that
// turns finished recordings into clean text, and a streaming recognizer
// that produces rough transcripts of idle audio for wake-phrase matching.
package stt

import (
	"bytes"
	"context"
	"io"
	"strings"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts a complete audio segment to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model    string // provider-specific model (empty selects the provider default)
	Language string // ISO language code (default: "en")
	Format   string // audio format hint (wav, mp3, webm, ...)
	Prompt   string // optional instruction to steer recognition
}

// Transcript is the result of transcription.
type Transcript struct {
	Text     string  // full transcribed text
	Language string  // detected or specified language
	Duration float64 // audio duration in seconds, when the provider reports it
}

// PhraseDelta is a rough streaming transcript update.
type PhraseDelta struct {
	Text    string // partial transcript
	IsFinal bool   // true when this segment will not be revised
}

// SegmentTranscriber adapts a Provider to the transcriber port of the
// call session: WAV bytes in, trimmed transcript out. A blank result
// reports ok=false so the session discards the segment without a turn.
type SegmentTranscriber struct {
	provider Provider
	opts     TranscribeOptions
}

// NewSegmentTranscriber wraps provider with fixed transcription options.
func NewSegmentTranscriber(provider Provider, opts TranscribeOptions) *SegmentTranscriber {
	if opts.Format == "" {
		opts.Format = "wav"
	}
	return &SegmentTranscriber{provider: provider, opts: opts}
}

// Transcribe returns the transcript for a WAV-encoded segment.
func (s *SegmentTranscriber) Transcribe(ctx context.Context, wavData []byte) (string, bool, error) {
	t, err := s.provider.Transcribe(ctx, bytes.NewReader(wavData), s.opts)
	if err != nil {
		return "", false, err
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}
