package convo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultUserAgent = "parley/0.1"

// Client submits utterances to the conversation backend and returns the
// decoded response stream. Retries cover connect failures and throttled
// or 5xx responses before any stream byte arrives; once a stream is open
// the request is never replayed.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries uint64
	retryBase  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIKey sets the bearer credential sent on each request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRetry tunes pre-stream retries: attempts beyond the first, and the
// base for exponential backoff.
func WithRetry(max uint64, base time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBase = base
	}
}

// NewClient builds a Client for the given submit endpoint URL.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			// No overall timeout: streams stay open for the whole turn.
			Timeout: 0,
		},
		logger:     slog.Default(),
		maxRetries: 2,
		retryBase:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-stream failure from the backend, decoded from the
// response body where possible.
type Error struct {
	Status  int
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("backend %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// Submit posts one turn request and returns its event stream. Cancel ctx
// to abort the turn; the stream's reads fail and Close releases the
// connection.
func (c *Client) Submit(ctx context.Context, req TurnRequest) (Stream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode turn request: %w", err)
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.retryBase))

	var resp *http.Response
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/x-ndjson")
		httpReq.Header.Set("User-Agent", defaultUserAgent)
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		r, doErr := c.httpClient.Do(httpReq)
		if doErr != nil {
			c.logger.Warn("backend connect failed", "error", doErr)
			return retry.RetryableError(doErr)
		}
		if r.StatusCode == http.StatusOK {
			resp = r
			return nil
		}

		apiErr := decodeHTTPError(r)
		r.Body.Close()
		if transientStatus(r.StatusCode) {
			c.logger.Warn("backend transient status", "status", r.StatusCode)
			return retry.RetryableError(apiErr)
		}
		return apiErr
	})
	if err != nil {
		return nil, err
	}

	return &ndjsonStream{
		body:   resp.Body,
		reader: bufio.NewReaderSize(resp.Body, 64<<10),
	}, nil
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// decodeHTTPError reads a non-200 body into an Error. The backend's error
// envelope is {"type":"error","error":{"type":...,"message":...}}; raw
// text bodies are kept verbatim.
func decodeHTTPError(r *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(r.Body, 8<<10))

	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return &Error{Status: r.StatusCode, Kind: envelope.Error.Type, Message: envelope.Error.Message}
	}
	msg := string(bytes.TrimSpace(body))
	if msg == "" {
		msg = http.StatusText(r.StatusCode)
	}
	return &Error{Status: r.StatusCode, Message: msg}
}

// ndjsonStream decodes one JSON event per line from the response body.
type ndjsonStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

// Next returns the next event, or io.EOF when the backend finishes the
// stream. Lines with unknown event types are skipped.
func (s *ndjsonStream) Next() (StreamEvent, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}

		event, decodeErr := UnmarshalStreamEvent(line)
		if decodeErr != nil {
			var unknown *UnknownEventError
			if errors.As(decodeErr, &unknown) {
				if err != nil {
					return nil, err
				}
				continue
			}
			return nil, decodeErr
		}
		return event, nil
	}
}

func (s *ndjsonStream) Close() error {
	return s.body.Close()
}
