// Package cache holds the in-memory ordered collection of event records the
// UI renders. It is owned exclusively by the synchronization engine; readers
// only ever see snapshots, so local optimism can never leak a mutable
// reference out of the cache.
package cache

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"calagent/internal/models"
)

// ErrNotFound reports a cache miss on an ID-based operation. In correct
// flows this is a logic error: callers log it and move on.
var ErrNotFound = errors.New("event not found in cache")

// Cache is an ordered collection of event records supporting optimistic
// local mutation and replace-from-server refresh
type Cache struct {
	mu     sync.RWMutex
	events []models.Event
}

// New creates an empty cache
func New() *Cache {
	return &Cache{}
}

// ReplaceAll atomically swaps the whole collection with the authoritative
// server state. Pending optimistic rows are dropped: the refresh always
// wins over local predictions.
func (c *Cache) ReplaceAll(events []models.Event) {
	replacement := make([]models.Event, 0, len(events))
	for _, e := range events {
		replacement = append(replacement, e.Clone())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = replacement
}

// InsertOptimistic appends a record that has no server-assigned identity
// yet and returns a locally-scoped handle for later reconciliation. The
// record is not addressable through ID-based operations until the next
// refresh replaces it with the confirmed server row.
func (c *Cache) InsertOptimistic(draft models.EventDraft) string {
	handle := "pending-" + uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, models.Event{
		Title:       draft.Title,
		Description: draft.Description,
		Start:       draft.Start,
		End:         draft.End,
		PendingID:   handle,
	})
	return handle
}

// DiscardOptimistic removes a pending record whose create call failed
func (c *Cache) DiscardOptimistic(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.events {
		if e.PendingID == handle {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return
		}
	}
}

// UpdateByID applies a field-level change to the record matching the
// server-assigned identity. Pending rows are never matched.
func (c *Cache) UpdateByID(id string, mutate func(*models.Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.events {
		if c.events[i].ID == id && !c.events[i].Pending() {
			mutate(&c.events[i])
			return nil
		}
	}
	return ErrNotFound
}

// GetByID returns a copy of the record matching the given identity
func (c *Cache) GetByID(id string) (models.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.events {
		if c.events[i].ID == id && !c.events[i].Pending() {
			return c.events[i].Clone(), nil
		}
	}
	return models.Event{}, ErrNotFound
}

// RemoveByID removes the record matching the given identity and returns it
// so a failed delete can restore it
func (c *Cache) RemoveByID(id string) (models.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.events {
		if c.events[i].ID == id && !c.events[i].Pending() {
			removed := c.events[i]
			c.events = append(c.events[:i], c.events[i+1:]...)
			return removed, nil
		}
	}
	return models.Event{}, ErrNotFound
}

// Insert appends a confirmed record, typically one just returned by a
// create call before the normalizing refresh lands
func (c *Cache) Insert(event models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event.Clone())
}

// Restore re-inserts a previously removed record, used to roll back an
// optimistic delete after the server rejected it
func (c *Cache) Restore(event models.Event) {
	c.Insert(event)
}

// Snapshot returns an immutable deep copy of the collection for rendering
func (c *Cache) Snapshot() []models.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Event, 0, len(c.events))
	for i := range c.events {
		out = append(out, c.events[i].Clone())
	}
	return out
}

// Len returns the number of records, pending rows included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Clear empties the cache, used on session termination
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
