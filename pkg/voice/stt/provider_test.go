package stt

import (
	"context"
	"errors"
	"io"
	"testing"
)

type fakeProvider struct {
	transcript *Transcript
	err        error
	gotAudio   []byte
	gotOpts    TranscribeOptions
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, err
	}
	f.gotAudio = data
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.transcript, nil
}

func TestSegmentTranscriber_TrimsAndReportsOK(t *testing.T) {
	fake := &fakeProvider{transcript: &Transcript{Text: "  Hello there.  \n"}}
	st := NewSegmentTranscriber(fake, TranscribeOptions{Language: "en"})

	text, ok, err := st.Transcribe(context.Background(), []byte("RIFFdata"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok for a non-empty transcript")
	}
	if text != "Hello there." {
		t.Fatalf("text = %q, want %q", text, "Hello there.")
	}
	if string(fake.gotAudio) != "RIFFdata" {
		t.Fatalf("provider received %q, want the segment bytes", fake.gotAudio)
	}
	if fake.gotOpts.Format != "wav" {
		t.Fatalf("format = %q, want the wav default", fake.gotOpts.Format)
	}
}

func TestSegmentTranscriber_BlankTranscriptIsNotOK(t *testing.T) {
	fake := &fakeProvider{transcript: &Transcript{Text: "   "}}
	st := NewSegmentTranscriber(fake, TranscribeOptions{})

	text, ok, err := st.Transcribe(context.Background(), []byte{0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || text != "" {
		t.Fatalf("got (%q, %v), want an empty transcript and ok=false", text, ok)
	}
}

func TestSegmentTranscriber_PropagatesErrors(t *testing.T) {
	wantErr := errors.New("backend down")
	fake := &fakeProvider{err: wantErr}
	st := NewSegmentTranscriber(fake, TranscribeOptions{})

	_, ok, err := st.Transcribe(context.Background(), []byte{0, 1})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if ok {
		t.Fatal("expected ok=false on error")
	}
}
