package bridge

import (
	"encoding/json"

	"github.com/voicewire/parley/pkg/call"
	"github.com/voicewire/parley/pkg/gateway/live/protocol"
)

// graphSink streams clips into the client's persistent audio graph.
// Sink calls arrive on the session loop, one at a time.
type graphSink struct {
	b        *Bridge
	appended []string
}

func (s *graphSink) Append(clip call.AudioClip) error {
	header, err := json.Marshal(protocol.ServerClipHeader{
		Type:   "audio.append",
		ClipID: clip.ID,
		TurnID: clip.TurnID,
		Format: clip.Format,
		Bytes:  len(clip.Data),
	})
	if err != nil {
		return err
	}

	s.appended = append(s.appended, clip.ID)
	// Only the newest entries matter: the cancel set evicts at the same cap.
	if len(s.appended) > maxCanceledClipIDs {
		n := copy(s.appended, s.appended[len(s.appended)-maxCanceledClipIDs:])
		s.appended = s.appended[:n]
	}

	s.b.enqueueClip(clip.ID, header, clip.Data)
	return nil
}

// Reset marks everything appended since the last reset as canceled so
// queued frames are dropped, then tells the client to rebuild its graph.
func (s *graphSink) Reset() error {
	for _, id := range s.appended {
		s.b.cancelClip(id)
	}
	s.appended = s.appended[:0]
	return s.b.sendJSONPriority(protocol.ServerAudioReset{Type: "audio.reset"})
}

// clipSink plays each clip through a disposable client-side player.
type clipSink struct {
	b *Bridge
}

func (s *clipSink) PlayClip(clip call.AudioClip) error {
	header, err := json.Marshal(protocol.ServerClipHeader{
		Type:   "clip.play",
		ClipID: clip.ID,
		TurnID: clip.TurnID,
		Format: clip.Format,
		Bytes:  len(clip.Data),
	})
	if err != nil {
		return err
	}
	s.b.enqueueClip(clip.ID, header, clip.Data)
	return nil
}

func (s *clipSink) StopClip(clipID string) error {
	s.b.cancelClip(clipID)
	return s.b.sendJSONPriority(protocol.ServerClipStop{Type: "clip.stop", ClipID: clipID})
}
