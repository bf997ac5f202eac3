package call

import (
	"log/slog"
)

// AudioClip is one synthesized clip awaiting playback, in arrival order.
type AudioClip struct {
	ID     string
	TurnID string
	Format string
	Data   []byte
}

// Player realizes clip playback for one output strategy.
type Player interface {
	// Play begins the clip. done runs on the scheduling context exactly once
	// when the clip ends; after Stop returns, no done callback fires.
	Play(clip AudioClip, done func()) error
	// Stop interrupts the active clip and discards audio buffered downstream.
	Stop()
}

// MarkReceiver is implemented by players that consume client playback marks.
type MarkReceiver interface {
	MarkPlayed(clipID string, playedMS int, ended bool)
}

// PlaybackQueue plays synthesized clips strictly in arrival order. A clip is
// dequeued only after the previous one finished; new arrivals append, never
// interleave. All methods and callbacks run on the scheduling context.
type PlaybackQueue struct {
	player Player
	logger *slog.Logger

	queue   []AudioClip
	playing bool
	current *AudioClip

	// OnActive fires with true when the first clip of a busy period starts,
	// and with false when the queue drains.
	OnActive func(active bool)
	// OnClipStart fires as each clip begins.
	OnClipStart func(clip AudioClip)
	// OnClipDone fires as each clip finishes normally.
	OnClipDone func(clip AudioClip)
}

// NewPlaybackQueue creates an empty queue over the given player.
func NewPlaybackQueue(player Player, logger *slog.Logger) *PlaybackQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaybackQueue{player: player, logger: logger}
}

// Active reports whether a clip is playing or queued.
func (q *PlaybackQueue) Active() bool { return q.playing }

// Pending returns the number of queued clips excluding the active one.
func (q *PlaybackQueue) Pending() int { return len(q.queue) }

// Enqueue appends a clip; playback starts immediately if the queue was idle.
func (q *PlaybackQueue) Enqueue(clip AudioClip) {
	q.queue = append(q.queue, clip)
	if !q.playing {
		q.startNext()
	}
}

// Flush stops the active clip and drops everything queued. It fires no
// callbacks: the caller owns the surrounding transition.
func (q *PlaybackQueue) Flush() {
	wasPlaying := q.playing
	q.queue = nil
	q.current = nil
	q.playing = false
	if wasPlaying {
		q.player.Stop()
	}
}

func (q *PlaybackQueue) startNext() {
	if len(q.queue) == 0 {
		if q.playing {
			q.playing = false
			q.current = nil
			if q.OnActive != nil {
				q.OnActive(false)
			}
		}
		return
	}

	clip := q.queue[0]
	q.queue = q.queue[1:]

	wasIdle := !q.playing
	q.playing = true
	cur := clip
	q.current = &cur

	// Busy notification precedes Play so the mic is muted before the first
	// byte reaches the speaker.
	if wasIdle && q.OnActive != nil {
		q.OnActive(true)
	}
	if q.OnClipStart != nil {
		q.OnClipStart(clip)
	}

	if err := q.player.Play(clip, func() { q.clipDone(clip) }); err != nil {
		q.logger.Warn("clip playback failed", "clip_id", clip.ID, "error", err)
		q.clipDone(clip)
	}
}

func (q *PlaybackQueue) clipDone(clip AudioClip) {
	// Ignore a stale completion arriving after a flush or for an older clip.
	if q.current == nil || q.current.ID != clip.ID {
		return
	}
	q.current = nil
	if q.OnClipDone != nil {
		q.OnClipDone(clip)
	}
	q.startNext()
}

// clipWatch drives clip completion: a client "finished" mark ends the clip
// when marks are available, with a generous timer as the fallback; without
// marks the timer alone fires at the estimated duration.
type clipWatch struct {
	sched    Scheduler
	cfg      PlaybackConfig
	useMarks bool

	clipID string
	done   func()
	timer  Timer
}

func (w *clipWatch) begin(clip AudioClip, done func()) {
	w.clipID = clip.ID
	w.done = done

	est := EstimateClipDuration(clip.Format, len(clip.Data), w.cfg) + w.cfg.EstimatePadding
	if w.useMarks {
		est = 2*est + w.cfg.EstimatePadding
	}
	w.timer = w.sched.AfterFunc(est, func() {
		w.timer = nil
		w.fire(w.clipID)
	})
}

func (w *clipWatch) markEnded(clipID string) {
	w.fire(clipID)
}

func (w *clipWatch) fire(clipID string) {
	if w.done == nil || w.clipID != clipID {
		return
	}
	stopTimer(&w.timer)
	done := w.done
	w.done = nil
	w.clipID = ""
	done()
}

func (w *clipWatch) cancel() {
	stopTimer(&w.timer)
	w.done = nil
	w.clipID = ""
}

// GraphSink is the output path of a persistent, pre-unlocked playback graph:
// one long-lived destination established during the user's initiating
// gesture, required where autonomous programmatic playback is restricted.
type GraphSink interface {
	// Append adds the clip's audio to the graph in order.
	Append(clip AudioClip) error
	// Reset discards whatever the graph still buffers.
	Reset() error
}

// StreamPlayer plays clips through a persistent graph sink.
type StreamPlayer struct {
	sink   GraphSink
	logger *slog.Logger
	watch  clipWatch
}

// NewStreamPlayer creates the persistent-graph strategy. clientMarks says
// whether the client reports per-clip playback marks.
func NewStreamPlayer(sink GraphSink, sched Scheduler, cfg PlaybackConfig, clientMarks bool, logger *slog.Logger) *StreamPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamPlayer{
		sink:   sink,
		logger: logger,
		watch:  clipWatch{sched: sched, cfg: cfg, useMarks: clientMarks},
	}
}

// Play appends the clip to the graph and watches for completion.
func (p *StreamPlayer) Play(clip AudioClip, done func()) error {
	if err := p.sink.Append(clip); err != nil {
		return err
	}
	p.watch.begin(clip, done)
	return nil
}

// Stop cancels the pending completion and resets the graph.
func (p *StreamPlayer) Stop() {
	p.watch.cancel()
	if err := p.sink.Reset(); err != nil {
		p.logger.Warn("graph reset failed", "error", err)
	}
}

// MarkPlayed consumes a client playback mark.
func (p *StreamPlayer) MarkPlayed(clipID string, playedMS int, ended bool) {
	if ended {
		p.watch.markEnded(clipID)
	}
}

// ClipSink plays one addressed clip per call, for platforms without playback
// restrictions where a disposable player per clip is simplest.
type ClipSink interface {
	PlayClip(clip AudioClip) error
	StopClip(clipID string) error
}

// ClipPlayer plays each clip through its own disposable player.
type ClipPlayer struct {
	sink   ClipSink
	logger *slog.Logger
	watch  clipWatch

	currentID string
}

// NewClipPlayer creates the disposable per-clip strategy.
func NewClipPlayer(sink ClipSink, sched Scheduler, cfg PlaybackConfig, clientMarks bool, logger *slog.Logger) *ClipPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClipPlayer{
		sink:   sink,
		logger: logger,
		watch:  clipWatch{sched: sched, cfg: cfg, useMarks: clientMarks},
	}
}

// Play hands the whole clip to a fresh player and watches for completion.
func (p *ClipPlayer) Play(clip AudioClip, done func()) error {
	if err := p.sink.PlayClip(clip); err != nil {
		return err
	}
	p.currentID = clip.ID
	p.watch.begin(clip, done)
	return nil
}

// Stop cancels the pending completion and stops the active clip's player.
func (p *ClipPlayer) Stop() {
	p.watch.cancel()
	if p.currentID == "" {
		return
	}
	if err := p.sink.StopClip(p.currentID); err != nil {
		p.logger.Warn("clip stop failed", "clip_id", p.currentID, "error", err)
	}
	p.currentID = ""
}

// MarkPlayed consumes a client playback mark.
func (p *ClipPlayer) MarkPlayed(clipID string, playedMS int, ended bool) {
	if ended {
		p.watch.markEnded(clipID)
	}
}
