package state

import (
	"context"
	"fmt"

	"github.com/five82/tally/internal/api"
)

// DocumentAPI is the remote side of a single-object resource.
type DocumentAPI[T any] interface {
	Get(ctx context.Context) (T, error)
	Update(ctx context.Context, patch api.Patch) (T, error)
}

const documentKey = "document"

// Singleton is an entity store for a single object such as the profile.
type Singleton[T any] struct {
	*Store[T]
	remote DocumentAPI[T]
}

// NewSingleton builds a singleton store backed by remote.
func NewSingleton[T any](opts Options, remote DocumentAPI[T]) *Singleton[T] {
	s := &Singleton[T]{remote: remote}
	s.Store = newStore(opts, remote.Get, nil)
	return s
}

// Update applies patch locally, sends it, and replaces the document with the
// server's version on success.
func (s *Singleton[T]) Update(ctx context.Context, patch api.Patch) (T, error) {
	var zero T
	var prior T

	t, err := s.apply("update", documentKey, func(cur T) (T, error) {
		if !s.state.HasData {
			return cur, ErrNotLoaded
		}
		patched, err := api.ApplyPatch(cur, patch)
		if err != nil {
			return cur, fmt.Errorf("apply patch: %w", err)
		}
		prior = cur
		return patched, nil
	})
	if err != nil {
		return zero, err
	}

	updated, err := s.remote.Update(ctx, patch)
	if err != nil {
		s.rollback(ctx, t, func(T) T { return prior }, err)
		return zero, fmt.Errorf("update %s: %w", s.name, err)
	}

	s.confirm(t, false, func(T) T { return updated })
	return updated, nil
}
