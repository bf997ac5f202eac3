package call

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}

// SegmentBuffer accumulates PCM audio for one recording with a maximum size.
// It is owned by the session's single scheduling context and is not safe for
// concurrent use.
type SegmentBuffer struct {
	data     []byte
	maxBytes int
	config   AudioConfig
}

// NewSegmentBuffer creates a buffer that holds up to maxDurationMs of audio.
func NewSegmentBuffer(config AudioConfig, maxDurationMs int) *SegmentBuffer {
	maxBytes := config.BytesForDurationMs(maxDurationMs)
	return &SegmentBuffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio data to the buffer.
// If the buffer would exceed maxBytes, older data is discarded.
func (b *SegmentBuffer) Write(data []byte) {
	b.data = append(b.data, data...)
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Bytes returns a copy of all buffered audio data.
func (b *SegmentBuffer) Bytes() []byte {
	result := make([]byte, len(b.data))
	copy(result, b.data)
	return result
}

// Len returns the current buffer size in bytes.
func (b *SegmentBuffer) Len() int {
	return len(b.data)
}

// DurationMs returns the current buffer duration in milliseconds.
func (b *SegmentBuffer) DurationMs() int {
	return b.config.DurationMs(len(b.data))
}

// Clear empties the buffer.
func (b *SegmentBuffer) Clear() {
	b.data = b.data[:0]
}

// seekBuffer is a minimal in-memory io.WriteSeeker for the WAV encoder,
// which rewinds to patch the header after the data chunk is written.
type seekBuffer struct {
	data []byte
	pos  int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if grow := s.pos + len(p) - len(s.data); grow > 0 {
		s.data = append(s.data, make([]byte, grow)...)
	}
	copy(s.data[s.pos:], p)
	s.pos += len(p)
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = s.pos + int(offset)
	case io.SeekEnd:
		next = len(s.data) + int(offset)
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	s.pos = next
	return int64(next), nil
}

// EncodeWAV wraps raw 16-bit little-endian PCM in a WAV container so the
// segment can be handed to a transcription provider as a regular file upload.
func EncodeWAV(pcm []byte, cfg AudioConfig) ([]byte, error) {
	if cfg.BitsPerSample != 16 {
		return nil, fmt.Errorf("encode wav: unsupported bit depth %d", cfg.BitsPerSample)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(pcm[2*i]) | int16(pcm[2*i+1])<<8)
	}

	buf := &seekBuffer{}
	enc := wav.NewEncoder(buf, cfg.SampleRate, cfg.BitsPerSample, cfg.Channels, 1)
	ib := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{NumChannels: cfg.Channels, SampleRate: cfg.SampleRate},
		SourceBitDepth: cfg.BitsPerSample,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return buf.data, nil
}

// EstimateClipDuration guesses how long a clip will take to play from its
// format tag and size. It is the fallback when the client sends no playback
// marks; EstimatePadding is added on top by the player.
//
// Recognized tags: "pcm_s16le;rate=24000;ch=1", "wav", "audio/wav",
// "mp3"/"audio/mpeg" with an optional ";kbps=" parameter.
func EstimateClipDuration(format string, size int, cfg PlaybackConfig) time.Duration {
	kind, params := parseFormatTag(format)

	switch kind {
	case "pcm_s16le", "pcm":
		rate := paramInt(params, "rate", 24000)
		ch := paramInt(params, "ch", 1)
		bps := rate * ch * 2
		if bps <= 0 {
			return 0
		}
		return time.Duration(size) * time.Second / time.Duration(bps)
	case "wav", "audio/wav", "audio/x-wav":
		rate := paramInt(params, "rate", 24000)
		ch := paramInt(params, "ch", 1)
		bps := rate * ch * 2
		data := size - 44 // standard header
		if data < 0 {
			data = 0
		}
		if bps <= 0 {
			return 0
		}
		return time.Duration(data) * time.Second / time.Duration(bps)
	default:
		// Compressed audio: estimate from bitrate.
		kbps := paramInt(params, "kbps", cfg.DefaultBitrateKbps)
		if kbps <= 0 {
			kbps = 128
		}
		return time.Duration(size*8) * time.Second / time.Duration(kbps*1000)
	}
}

func parseFormatTag(format string) (string, map[string]string) {
	parts := strings.Split(strings.TrimSpace(strings.ToLower(format)), ";")
	params := make(map[string]string)
	for _, p := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		}
	}
	return strings.TrimSpace(parts[0]), params
}

func paramInt(params map[string]string, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
