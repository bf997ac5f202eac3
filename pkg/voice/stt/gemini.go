package stt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"

	// An empty reply is how the model reports a segment with no usable
	// speech, which SegmentTranscriber maps to ok=false.
	transcribePrompt = "Transcribe this audio verbatim. Reply with the transcript text only, " +
		"no commentary. If the audio contains no intelligible speech, reply with nothing at all."
)

// GeminiProvider implements Provider using the Gemini API for one-shot
// segment transcription.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini STT provider.
func NewGemini(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	return NewGeminiWithConfig(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewGeminiWithConfig creates a Gemini STT provider from a full client
// configuration, for custom transports or endpoints.
func NewGeminiWithConfig(ctx context.Context, cc *genai.ClientConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: defaultGeminiModel}, nil
}

// Name returns the provider identifier.
func (g *GeminiProvider) Name() string {
	return "gemini"
}

// Transcribe converts an audio segment to text with a single generate call.
func (g *GeminiProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = g.model
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = transcribePrompt
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, audioMIMEType(opts.Format)),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini transcribe: %w", err)
	}

	return &Transcript{
		Text:     strings.TrimSpace(resp.Text()),
		Language: opts.Language,
	}, nil
}

// audioMIMEType returns the MIME type for the given audio format hint.
func audioMIMEType(format string) string {
	switch format {
	case "mp3", "mpeg", "mpga":
		return "audio/mpeg"
	case "ogg", "oga":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "webm":
		return "audio/webm"
	case "aac":
		return "audio/aac"
	default:
		return "audio/wav"
	}
}
