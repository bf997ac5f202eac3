// Package call implements turn-taking orchestration for live voice
// conversations.
//
// A Session owns the floor: it decides when the user is speaking, when the
// assistant replies, and who holds the microphone at every moment.
//
// # Architecture
//
// The package provides several core components:
//
//   - Session: the composite state machine coordinating everything below
//   - SpeechCapture: amplitude VAD, silence-timeout segmentation, transcription
//   - WakeWordGate: idle trigger-phrase listening before any call
//   - InputModeController: auto / wake-gated / push-to-talk / listen-only / disabled
//   - PlaybackQueue: strict FIFO clip playback with two output strategies
//
// # Data Flow
//
//	Audio In → SpeechCapture → Transcriber → Backend (NDJSON stream)
//	                                              │
//	Audio Out ← PlaybackQueue ← audio events ←────┘
//
// # State Machine
//
// The session progresses through these states:
//
//	IDLE_WAKE_LISTENING → [IDENTIFYING] → GREETING → LISTENING → PROCESSING → SPEAKING
//	          ↑                                          ↑                        │
//	          └────────────── ENDED ←────────────────────┴────────────────────────┘
//
// # Scheduling
//
// Everything runs on one loop goroutine. Public methods post onto it; timers
// and network completions funnel back through it. Components therefore carry
// no locks, and a cancelled timer can never fire into newer state.
//
// # Usage
//
//	cfg := call.DefaultConfig()
//	cfg.Wake.Phrases = []string{"hey parley"}
//
//	session := call.NewSession(cfg, call.Deps{
//	    Backend:     backendClient,
//	    Transcriber: transcriber,
//	    Player:      player,
//	    Recognizer:  recognizer,
//	})
//	session.Start(ctx)
//	defer session.Close()
//
//	// Feed microphone frames
//	session.ProcessFrame(pcm)
//
//	// Receive events
//	for event := range session.Events() {
//	    switch e := event.(type) {
//	    case *call.TurnDeltaEvent:
//	        render(e.Text)
//	    case *call.ClipQueuedEvent:
//	        // audio is already on its way to the player
//	    }
//	}
package call
