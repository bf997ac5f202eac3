package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaStreamURL = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion   = "2025-04-16"
)

// ErrStreamClosed is returned for writes to a closed phrase stream.
var ErrStreamClosed = errors.New("stt: stream closed")

// PhraseStreamConfig configures a live transcription socket.
type PhraseStreamConfig struct {
	// URL is the websocket endpoint. Empty selects the Cartesia STT socket.
	URL string

	// APIKey authenticates the stream.
	APIKey string

	// Model is the streaming recognition model.
	Model string

	// Language is the ISO code of the language to recognize.
	Language string

	// SampleRate is the rate of pushed PCM16LE frames, in Hz.
	SampleRate int

	// MinVolume drops audio quieter than this level (0..1) server-side,
	// keeping room noise out of idle transcripts.
	MinVolume float64

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

// DefaultPhraseStreamConfig returns the stock streaming configuration.
func DefaultPhraseStreamConfig(apiKey string) PhraseStreamConfig {
	return PhraseStreamConfig{
		URL:              cartesiaStreamURL,
		APIKey:           apiKey,
		Model:            "ink-whisper",
		Language:         "en",
		SampleRate:       16000,
		MinVolume:        0.01,
		HandshakeTimeout: 10 * time.Second,
	}
}

// PhraseStream is a live transcription session over a websocket. Raw PCM
// frames go in through SendAudio; rough transcript deltas come out on
// Deltas. The delta channel closes when the stream ends for any reason.
type PhraseStream struct {
	conn    *websocket.Conn
	deltas  chan PhraseDelta
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// DialPhraseStream opens a streaming transcription session.
func DialPhraseStream(ctx context.Context, cfg PhraseStreamConfig, logger *slog.Logger) (*PhraseStream, error) {
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = cartesiaStreamURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse stream URL: %w", err)
	}

	q := u.Query()
	model := cfg.Model
	if model == "" {
		model = "ink-whisper"
	}
	q.Set("model", model)
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	q.Set("language", language)
	// The capture pipeline produces PCM16LE; the socket wants it declared.
	q.Set("encoding", "pcm_s16le")
	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	if cfg.MinVolume > 0 {
		q.Set("min_volume", fmt.Sprintf("%g", cfg.MinVolume))
	}
	q.Set("api_key", cfg.APIKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", cfg.APIKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("stream connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("stream connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &PhraseStream{
		conn:   conn,
		deltas: make(chan PhraseDelta, 100),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	go s.readLoop()
	return s, nil
}

func (s *PhraseStream) readLoop() {
	defer func() {
		close(s.deltas)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("phrase stream read ended", "error", err)
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			delta := PhraseDelta{Text: msg.Text, IsFinal: msg.IsFinal}
			select {
			case s.deltas <- delta:
			case <-s.ctx.Done():
				return
			}

		case "flush_done":
			// Acknowledgment of a finalize command.
			continue

		case "done":
			return

		case "error":
			s.logger.Warn("phrase stream error", "error", msg.Error)
			return
		}
	}
}

type streamMessage struct {
	Type     string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text     string  `json:"text"`
	IsFinal  bool    `json:"is_final"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// SendAudio pushes one PCM frame. The frame must match the encoding and
// sample rate declared at dial time.
func (s *PhraseStream) SendAudio(frame []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Finalize flushes buffered audio server-side without closing the stream.
func (s *PhraseStream) Finalize() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("finalize"))
}

// Deltas returns the channel of transcript updates.
func (s *PhraseStream) Deltas() <-chan PhraseDelta {
	return s.deltas
}

// Done returns a channel closed once the stream has fully shut down.
func (s *PhraseStream) Done() <-chan struct{} {
	return s.done
}

// Close shuts the stream down. Safe to call more than once.
func (s *PhraseStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
