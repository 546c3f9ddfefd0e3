// Package signals reports connectivity and visibility to the data manager.
//
// Connectivity comes from a Probe that polls the API health endpoint.
// Visibility comes from Focus, which the TUI drives with terminal focus and
// blur events. Both are optional: the manager treats a nil signal as always
// online and always visible.
package signals

import (
	"sync"
)

// Connectivity reports whether the API is reachable.
type Connectivity interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Visibility reports whether the user is looking at the client.
type Visibility interface {
	Visible() bool
	Subscribe(fn func(visible bool)) (unsubscribe func())
}

// flag is a bool with change notification.
type flag struct {
	mu     sync.Mutex
	value  bool
	nextID int
	subs   map[int]func(bool)
}

func newFlag(initial bool) *flag {
	return &flag{value: initial, subs: make(map[int]func(bool))}
}

func (f *flag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// set stores v and notifies subscribers if it changed.
func (f *flag) set(v bool) bool {
	f.mu.Lock()
	if f.value == v {
		f.mu.Unlock()
		return false
	}
	f.value = v
	fns := make([]func(bool), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
	return true
}

func (f *flag) subscribe(fn func(bool)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Focus is a Visibility driven by terminal focus events.
type Focus struct {
	flag *flag
}

// NewFocus returns a Focus that starts visible.
func NewFocus() *Focus {
	return &Focus{flag: newFlag(true)}
}

// Visible implements Visibility.
func (f *Focus) Visible() bool { return f.flag.get() }

// Subscribe implements Visibility.
func (f *Focus) Subscribe(fn func(bool)) func() { return f.flag.subscribe(fn) }

// SetVisible records a focus (true) or blur (false) event.
func (f *Focus) SetVisible(v bool) { f.flag.set(v) }
