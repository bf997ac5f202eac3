package call

import (
	"bytes"
	"math"
	"testing"

	"github.com/go-audio/wav"
)

func TestCalculateRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		pcm      []byte
		expected float64
	}{
		{name: "Empty input", pcm: nil, expected: 0},
		{name: "Silence", pcm: pcmFrame(0, 160), expected: 0},
		{name: "Constant half amplitude", pcm: pcmFrame(0.5, 160), expected: 0.5},
		{name: "Constant full scale", pcm: pcmFrame(1.0, 160), expected: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateRMSEnergy(tt.pcm)
			if math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("Expected %.3f, got %.3f", tt.expected, got)
			}
		})
	}
}

func TestCalculatePeakAmplitude(t *testing.T) {
	quiet := pcmFrame(0.01, 160)
	loud := pcmFrame(0.8, 2)
	frame := append(append([]byte{}, quiet...), loud...)

	got := CalculatePeakAmplitude(frame)
	if math.Abs(got-0.8) > 0.01 {
		t.Errorf("Expected peak near 0.8, got %.3f", got)
	}

	if got := CalculatePeakAmplitude(nil); got != 0 {
		t.Errorf("Expected 0 for empty input, got %.3f", got)
	}
}

func TestSegmentBuffer_TrimsOldestBeyondCap(t *testing.T) {
	cfg := DefaultAudioConfig() // 32000 bytes/sec
	buf := NewSegmentBuffer(cfg, 10)

	if max := cfg.BytesForDurationMs(10); max != 320 {
		t.Fatalf("Expected 320-byte cap, got %d", max)
	}

	data := make([]byte, 400)
	for i := range data {
		data[i] = byte(i % 251)
	}
	buf.Write(data)

	if buf.Len() != 320 {
		t.Fatalf("Expected buffer trimmed to 320 bytes, got %d", buf.Len())
	}
	got := buf.Bytes()
	if !bytes.Equal(got, data[80:]) {
		t.Error("Expected the oldest bytes dropped, newest kept")
	}
}

func TestSegmentBuffer_DurationAndClear(t *testing.T) {
	buf := NewSegmentBuffer(DefaultAudioConfig(), 60000)

	buf.Write(make([]byte, 320))
	if buf.DurationMs() != 10 {
		t.Errorf("Expected 10ms of audio, got %dms", buf.DurationMs())
	}

	buf.Clear()
	if buf.Len() != 0 || buf.DurationMs() != 0 {
		t.Errorf("Expected empty buffer after clear, got %d bytes", buf.Len())
	}
}

func TestEncodeWAV_RoundTrip(t *testing.T) {
	cfg := DefaultAudioConfig()
	pcm := pcmFrame(0.25, 160)

	out, err := EncodeWAV(pcm, cfg)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(out))
	if !dec.IsValidFile() {
		t.Fatal("Expected a valid WAV container")
	}

	ib, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}
	if ib.Format.SampleRate != cfg.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", cfg.SampleRate, ib.Format.SampleRate)
	}
	if ib.Format.NumChannels != cfg.Channels {
		t.Errorf("Expected %d channel(s), got %d", cfg.Channels, ib.Format.NumChannels)
	}
	if len(ib.Data) != 160 {
		t.Fatalf("Expected 160 samples back, got %d", len(ib.Data))
	}
	amp := 0.25
	want := int(int16(amp * 32767))
	if ib.Data[0] != want {
		t.Errorf("Expected sample value %d, got %d", want, ib.Data[0])
	}
}

func TestEncodeWAV_RejectsUnsupportedBitDepth(t *testing.T) {
	cfg := DefaultAudioConfig()
	cfg.BitsPerSample = 8

	if _, err := EncodeWAV(pcmFrame(0.1, 160), cfg); err == nil {
		t.Error("Expected an error for 8-bit input")
	}
}
