package state

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/five82/tally/internal/api"
)

// Identifiable is an entity that can be re-keyed. Optimistic creates use it to
// carry a temporary id until the server assigns the real one.
type Identifiable[E any] interface {
	api.Entity
	WithID(id string) E
}

// CollectionAPI is the remote side of a list resource.
type CollectionAPI[E any] interface {
	List(ctx context.Context) ([]E, error)
	Create(ctx context.Context, input E) (E, error)
	Update(ctx context.Context, id string, patch api.Patch) (E, error)
	Delete(ctx context.Context, id string) error
}

// TempIDPrefix marks ids assigned locally to entities the server has not
// confirmed yet.
const TempIDPrefix = "tmp-"

// Collection is an entity store for a list resource such as events or tasks.
type Collection[E Identifiable[E]] struct {
	*Store[[]E]
	remote CollectionAPI[E]
}

// NewCollection builds a collection store backed by remote.
func NewCollection[E Identifiable[E]](opts Options, remote CollectionAPI[E]) *Collection[E] {
	c := &Collection[E]{remote: remote}
	c.Store = newStore(opts, remote.List, slices.Clone[[]E])
	return c
}

// Get returns the cached entity with id.
func (c *Collection[E]) Get(id string) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := indexOf(c.state.Data, id); i >= 0 {
		return c.state.Data[i], true
	}
	var zero E
	return zero, false
}

// IsTemporary reports whether id was assigned locally by Create.
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Create appends input under a temporary id, posts it, and swaps in the
// server's entity on success. On failure the temporary entity is removed.
func (c *Collection[E]) Create(ctx context.Context, input E) (E, error) {
	tempID := TempIDPrefix + uuid.NewString()
	tentative := input.WithID(tempID)

	t, err := c.apply("create", tempID, func(cur []E) ([]E, error) {
		return append(slices.Clone(cur), tentative), nil
	})
	if err != nil {
		var zero E
		return zero, err
	}

	created, err := c.remote.Create(ctx, input)
	if err != nil {
		c.rollback(ctx, t, func(cur []E) []E {
			return removeID(cur, tempID)
		}, err)
		var zero E
		return zero, fmt.Errorf("create %s: %w", c.name, err)
	}

	// The server entity is added even if the temporary one was replaced by a
	// fetch or a later edit; it is the only record of the new id.
	c.confirm(t, true, func(cur []E) []E {
		next := removeID(cur, tempID)
		if i := indexOf(next, created.EntityID()); i >= 0 {
			next[i] = created
			return next
		}
		return append(next, created)
	})
	return created, nil
}

// Update applies patch locally, sends it, and replaces the entity with the
// server's version on success.
func (c *Collection[E]) Update(ctx context.Context, id string, patch api.Patch) (E, error) {
	var zero E
	var prior E
	var priorIndex int

	t, err := c.apply("update", id, func(cur []E) ([]E, error) {
		i := indexOf(cur, id)
		if i < 0 {
			return nil, fmt.Errorf("%s %q not cached", c.name, id)
		}
		patched, err := api.ApplyPatch(cur[i], patch)
		if err != nil {
			return nil, fmt.Errorf("apply patch: %w", err)
		}
		prior, priorIndex = cur[i], i
		next := slices.Clone(cur)
		next[i] = patched
		return next, nil
	})
	if err != nil {
		return zero, err
	}

	updated, err := c.remote.Update(ctx, id, patch)
	if err != nil {
		c.rollback(ctx, t, func(cur []E) []E {
			return restoreAt(cur, prior, priorIndex)
		}, err)
		return zero, fmt.Errorf("update %s %q: %w", c.name, id, err)
	}

	c.confirm(t, false, func(cur []E) []E {
		next := slices.Clone(cur)
		if i := indexOf(next, id); i >= 0 {
			next[i] = updated
		}
		return next
	})
	return updated, nil
}

// Delete removes the entity locally, then on the server. On failure it is put
// back where it was.
func (c *Collection[E]) Delete(ctx context.Context, id string) error {
	var prior E
	var priorIndex int

	t, err := c.apply("delete", id, func(cur []E) ([]E, error) {
		i := indexOf(cur, id)
		if i < 0 {
			return nil, fmt.Errorf("%s %q not cached", c.name, id)
		}
		prior, priorIndex = cur[i], i
		return removeID(cur, id), nil
	})
	if err != nil {
		return err
	}

	if err := c.remote.Delete(ctx, id); err != nil {
		c.rollback(ctx, t, func(cur []E) []E {
			return restoreAt(cur, prior, priorIndex)
		}, err)
		return fmt.Errorf("delete %s %q: %w", c.name, id, err)
	}

	c.confirm(t, false, func(cur []E) []E {
		return removeID(cur, id)
	})
	return nil
}

func indexOf[E api.Entity](items []E, id string) int {
	return slices.IndexFunc(items, func(e E) bool { return e.EntityID() == id })
}

func removeID[E api.Entity](items []E, id string) []E {
	return slices.DeleteFunc(slices.Clone(items), func(e E) bool { return e.EntityID() == id })
}

// restoreAt puts prior back, replacing a same-id entity or reinserting it at
// its old position.
func restoreAt[E api.Entity](items []E, prior E, index int) []E {
	next := slices.Clone(items)
	if i := indexOf(next, prior.EntityID()); i >= 0 {
		next[i] = prior
		return next
	}
	if index > len(next) {
		index = len(next)
	}
	return slices.Insert(next, index, prior)
}
