package call

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSched is a deterministic Scheduler for component tests: posted
// callbacks queue until drain runs them on the test goroutine, and timers
// fire only when the test says so.
type fakeSched struct {
	mu     sync.Mutex
	posted []func()
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (ft *fakeTimer) Stop() bool {
	if ft.stopped || ft.fired {
		return false
	}
	ft.stopped = true
	return true
}

func (s *fakeSched) AfterFunc(d time.Duration, fn func()) Timer {
	ft := &fakeTimer{d: d, fn: fn}
	s.mu.Lock()
	s.timers = append(s.timers, ft)
	s.mu.Unlock()
	return ft
}

func (s *fakeSched) Post(fn func()) {
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()
}

// drain runs queued callbacks on the caller's goroutine until none remain.
func (s *fakeSched) drain() {
	for {
		s.mu.Lock()
		if len(s.posted) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.posted[0]
		s.posted = s.posted[1:]
		s.mu.Unlock()
		fn()
	}
}

// fireTimers fires every pending timer once, in creation order, and returns
// how many fired.
func (s *fakeSched) fireTimers() int {
	s.mu.Lock()
	pending := make([]*fakeTimer, 0, len(s.timers))
	for _, ft := range s.timers {
		if !ft.stopped && !ft.fired {
			ft.fired = true
			pending = append(pending, ft)
		}
	}
	s.mu.Unlock()

	for _, ft := range pending {
		ft.fn()
	}
	return len(pending)
}

// pendingTimers counts timers that are armed and unfired.
func (s *fakeSched) pendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ft := range s.timers {
		if !ft.stopped && !ft.fired {
			n++
		}
	}
	return n
}

// pcmFrame builds a mono PCM16LE frame with every sample at the given
// normalized amplitude.
func pcmFrame(amplitude float64, samples int) []byte {
	v := int16(amplitude * 32767)
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}
