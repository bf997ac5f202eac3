package call

import (
	"log/slog"
	"strings"
)

// PhraseRecognizer produces rough transcripts of idle-state audio for
// trigger-phrase matching. Implementations may run audio server-side
// (ProcessFrame feeds them PCM) or relay text recognized on the client
// (ProcessFrame is then a no-op). Implementations that complete recognition
// on a foreign goroutine must deliver onText through Scheduler.Post.
type PhraseRecognizer interface {
	Start(onText func(text string)) error
	ProcessFrame(frame []byte)
	Stop() error
}

// WakeWordGate listens for trigger phrases while no call is active.
// It is mutually exclusive with speech capture over the microphone; the
// session's ownership flag enforces that, never timing.
type WakeWordGate struct {
	cfg    WakeConfig
	rec    PhraseRecognizer
	logger *slog.Logger

	active bool

	// OnMatch fires on the scheduling context with the matched phrase and
	// the transcript that contained it.
	OnMatch func(phrase, transcript string)
	// OnText fires for every recognized snippet, matched or not.
	OnText func(text string)
}

// NewWakeWordGate creates a gate over the given recognizer.
func NewWakeWordGate(cfg WakeConfig, rec PhraseRecognizer, logger *slog.Logger) *WakeWordGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeWordGate{cfg: cfg, rec: rec, logger: logger}
}

// Start arms the recognizer. The caller must hold the mic ownership flag.
func (g *WakeWordGate) Start() error {
	if g.active {
		return nil
	}
	if g.rec == nil {
		g.active = true
		return nil
	}
	if err := g.rec.Start(g.handleText); err != nil {
		return err
	}
	g.active = true
	g.logger.Debug("wake gate armed", "phrases", g.cfg.Phrases)
	return nil
}

// Stop fully stops the recognizer. It must complete before any call starts.
func (g *WakeWordGate) Stop() {
	if !g.active {
		return
	}
	g.active = false
	if g.rec != nil {
		if err := g.rec.Stop(); err != nil {
			g.logger.Warn("wake recognizer stop failed", "error", err)
		}
	}
}

// Active reports whether the gate is armed.
func (g *WakeWordGate) Active() bool { return g.active }

// ProcessFrame forwards idle-state audio to the recognizer.
func (g *WakeWordGate) ProcessFrame(frame []byte) {
	if !g.active || g.rec == nil {
		return
	}
	g.rec.ProcessFrame(frame)
}

// HearText injects recognized text directly, for clients that run their own
// recognizer and relay results.
func (g *WakeWordGate) HearText(text string) {
	g.handleText(text)
}

func (g *WakeWordGate) handleText(text string) {
	if !g.active {
		return
	}
	if g.OnText != nil {
		g.OnText(text)
	}
	phrase, ok := g.matchPhrase(text)
	if !ok {
		return
	}
	g.logger.Debug("wake phrase matched", "phrase", phrase)
	if g.OnMatch != nil {
		g.OnMatch(phrase, text)
	}
}

func (g *WakeWordGate) matchPhrase(text string) (string, bool) {
	heard := normalizePhrase(text)
	if heard == "" {
		return "", false
	}
	for _, p := range g.cfg.Phrases {
		want := normalizePhrase(p)
		if want != "" && strings.Contains(heard, want) {
			return p, true
		}
	}
	return "", false
}

// normalizePhrase lowercases and strips punctuation so "Hey, Parley!" matches
// the configured "hey parley".
func normalizePhrase(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// PushRecognizer is a PhraseRecognizer fed by text pushed from elsewhere,
// typically a recognizer running in the client. ProcessFrame is a no-op.
type PushRecognizer struct {
	onText func(string)
}

// NewPushRecognizer creates an idle text relay.
func NewPushRecognizer() *PushRecognizer { return &PushRecognizer{} }

// Start begins accepting pushed text.
func (p *PushRecognizer) Start(onText func(string)) error {
	p.onText = onText
	return nil
}

// ProcessFrame satisfies PhraseRecognizer; audio is ignored.
func (p *PushRecognizer) ProcessFrame([]byte) {}

// Stop stops accepting pushed text.
func (p *PushRecognizer) Stop() error {
	p.onText = nil
	return nil
}

// Push delivers recognized text. Dropped unless started.
func (p *PushRecognizer) Push(text string) {
	if p.onText != nil {
		p.onText(text)
	}
}
