package bridge

import "time"

// inboundLimiter bounds mic audio by frame rate and byte rate. A nil
// limiter allows everything.
type inboundLimiter struct {
	now    func() time.Time
	frames bucket
	bytes  bucket
}

type bucket struct {
	rate   int64
	tokens int64
	max    int64
	last   time.Time
}

// refill only advances last when at least one whole token accrued, so
// fractional progress from sub-token intervals is never lost.
func (k *bucket) refill(now time.Time) {
	if k.rate <= 0 {
		return
	}
	elapsed := now.Sub(k.last)
	if elapsed <= 0 {
		return
	}
	add := (elapsed.Nanoseconds() * k.rate) / int64(time.Second)
	if add <= 0 {
		return
	}
	k.tokens += add
	if k.tokens > k.max {
		k.tokens = k.max
	}
	k.last = now
}

func newInboundLimiter(now func() time.Time, fps int, bps int64, burstSeconds int) *inboundLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	start := now()
	l := &inboundLimiter{now: now}
	if fps > 0 {
		l.frames = bucket{rate: int64(fps), max: int64(fps) * int64(burstSeconds), last: start}
		l.frames.tokens = l.frames.max
	}
	if bps > 0 {
		l.bytes = bucket{rate: bps, max: bps * int64(burstSeconds), last: start}
		l.bytes.tokens = l.bytes.max
	}
	return l
}

func (l *inboundLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	if frameBytes < 0 {
		frameBytes = 0
	}

	now := l.now()
	l.frames.refill(now)
	l.bytes.refill(now)

	if l.frames.rate > 0 && l.frames.tokens < 1 {
		return false
	}
	if l.bytes.rate > 0 && l.bytes.tokens < int64(frameBytes) {
		return false
	}
	if l.frames.rate > 0 {
		l.frames.tokens--
	}
	if l.bytes.rate > 0 {
		l.bytes.tokens -= int64(frameBytes)
	}
	return true
}
