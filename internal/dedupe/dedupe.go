// Package dedupe collapses concurrent identical operations into one call.
//
// A Group is shared process-wide. While an operation for a key is in flight,
// later callers with the same key join it instead of starting their own; every
// caller observes the same value or error and the operation's side effects fire
// once. The key is released when the operation returns or panics, so a failed
// operation never leaves its key blocked.
package dedupe

import (
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Group is a keyed table of in-flight operations. The zero value is ready to use.
type Group struct {
	flight   singleflight.Group
	shared   atomic.Int64
	onShared func(key string)
}

// Option configures a Group.
type Option func(*Group)

// WithSharedHook registers fn to run whenever a caller receives a result that
// was shared with another caller.
func WithSharedHook(fn func(key string)) Option {
	return func(g *Group) { g.onShared = fn }
}

// New returns a Group configured by opts.
func New(opts ...Option) *Group {
	g := &Group{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do runs fn under key, or joins the call already in flight for key.
func Do[R any](g *Group, key string, fn func() (R, error)) (R, error) {
	v, _, err := DoShared(g, key, fn)
	return v, err
}

// DoShared is Do that also reports whether the result was handed to more than
// one caller.
func DoShared[R any](g *Group, key string, fn func() (R, error)) (R, bool, error) {
	v, err, shared := g.flight.Do(key, func() (any, error) {
		return fn()
	})
	if shared {
		g.shared.Add(1)
		if g.onShared != nil {
			g.onShared(key)
		}
	}
	var out R
	if v != nil {
		out = v.(R)
	}
	return out, shared, err
}

// Forget drops key so the next call starts a fresh operation even if one is
// still running. Callers already waiting keep waiting on the old one.
func (g *Group) Forget(key string) {
	g.flight.Forget(key)
}

// Shared reports how many calls received a shared result.
func (g *Group) Shared() int64 {
	return g.shared.Load()
}
