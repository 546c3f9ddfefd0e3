package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entity is any payload addressable by a string id.
type Entity interface {
	EntityID() string
}

// Envelope mirrors every response body served by the tracker API.
type Envelope[T any] struct {
	Data  *T     `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Patch is a shallow JSON merge patch: top-level keys replace the
// corresponding fields, a nil value clears them.
type Patch map[string]any

// Profile mirrors /api/profile.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Gold      int       `json:"gold"`
	Exp       int       `json:"exp"`
	Level     int       `json:"level"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntityID implements Entity.
func (p Profile) EntityID() string { return p.ID }

// Event is a calendar entry.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Location  string    `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntityID implements Entity.
func (e Event) EntityID() string { return e.ID }

// WithID returns a copy carrying id.
func (e Event) WithID(id string) Event {
	e.ID = id
	return e
}

// Task is a to-do item that awards gold and exp on completion.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Done      bool       `json:"done"`
	Gold      int        `json:"gold"`
	Exp       int        `json:"exp"`
	Due       *time.Time `json:"due,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// EntityID implements Entity.
func (t Task) EntityID() string { return t.ID }

// WithID returns a copy carrying id.
func (t Task) WithID(id string) Task {
	t.ID = id
	return t
}

// Sanction is a penalty that deducts gold while active.
type Sanction struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Reason    string    `json:"reason,omitempty"`
	Gold      int       `json:"gold"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntityID implements Entity.
func (s Sanction) EntityID() string { return s.ID }

// WithID returns a copy carrying id.
func (s Sanction) WithID(id string) Sanction {
	s.ID = id
	return s
}

// ApplyPatch returns a copy of v with patch merged over its JSON form. It is
// how optimistic updates are applied locally before the server answers.
func ApplyPatch[T any](v T, patch Patch) (T, error) {
	if len(patch) == 0 {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v, fmt.Errorf("encode entity: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return v, fmt.Errorf("entity is not an object: %w", err)
	}
	for key, value := range patch {
		if value == nil {
			delete(fields, key)
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return v, fmt.Errorf("encode patch field %q: %w", key, err)
		}
		fields[key] = encoded
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return v, fmt.Errorf("encode merged entity: %w", err)
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return v, fmt.Errorf("decode merged entity: %w", err)
	}
	return out, nil
}
