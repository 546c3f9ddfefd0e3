package manager

import (
	"sync"

	"github.com/five82/tally/internal/signals"
)

// listeners owns the subscriptions to the connectivity and visibility signals.
// attach and detach are idempotent; nil signals are skipped.
type listeners struct {
	mu       sync.Mutex
	attached bool
	handles  []func()
}

func (l *listeners) attach(conn signals.Connectivity, vis signals.Visibility, onOnline, onVisible func(bool)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attached {
		return false
	}
	if conn != nil {
		l.handles = append(l.handles, conn.Subscribe(onOnline))
	}
	if vis != nil {
		l.handles = append(l.handles, vis.Subscribe(onVisible))
	}
	l.attached = true
	return true
}

func (l *listeners) detach() {
	l.mu.Lock()
	handles := l.handles
	l.handles = nil
	l.attached = false
	l.mu.Unlock()
	for _, h := range handles {
		h()
	}
}
