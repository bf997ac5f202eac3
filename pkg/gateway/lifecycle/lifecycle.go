// Package lifecycle tracks process-wide state shared across handlers.
package lifecycle

import "sync/atomic"

// Lifecycle flags the drain phase of a graceful shutdown. While draining
// the gateway refuses new /live sessions and reports not-ready.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
