package models

import (
	"fmt"
	"time"
)

// Event represents a single calendar entry as rendered by the client
type Event struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	OwnerID       string     `json:"owner_id"`
	OwnerUsername string     `json:"owner_username"`
	Attendees     []Attendee `json:"attendees,omitempty"`

	// PendingID is set on optimistically inserted records that have no
	// server-assigned identity yet. A record with a PendingID is never
	// addressable through ID-based operations.
	PendingID string `json:"-"`
}

// Attendee identifies a user invited to an event
type Attendee struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Profile holds the identity of the logged-in user
type Profile struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// EventDraft carries the user-supplied fields for a new event before the
// server has assigned an identity
type EventDraft struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// EventPatch carries the editable fields of an existing event
type EventPatch struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// ValidationError reports malformed user input rejected before any remote
// call is made
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Validate checks the draft invariants: a non-empty title and start < end
func (d EventDraft) Validate() error {
	if d.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if d.Start.IsZero() || d.End.IsZero() {
		return &ValidationError{Field: "start/end", Reason: "must be set"}
	}
	if !d.Start.Before(d.End) {
		return &ValidationError{Field: "end", Reason: "must be after start"}
	}
	return nil
}

// Validate checks the patch invariants, which match the draft invariants
func (p EventPatch) Validate() error {
	return EventDraft{Title: p.Title, Start: p.Start, End: p.End}.Validate()
}

// Pending reports whether the event is an optimistic insert that has not
// been confirmed by the server yet
func (e *Event) Pending() bool {
	return e.PendingID != ""
}

// Duration returns the length of the event
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether two events share any span of time
func (e *Event) Overlaps(other *Event) bool {
	return e.Start.Before(other.End) && other.Start.Before(e.End)
}

// HasAttendee reports whether the given attendee id is on the event
func (e *Event) HasAttendee(attendeeID string) bool {
	for _, a := range e.Attendees {
		if a.ID == attendeeID {
			return true
		}
	}
	return false
}

// IsOwnedBy reports whether the event belongs to the given username
func (e *Event) IsOwnedBy(username string) bool {
	return e.OwnerUsername == username
}

// CanRemoveAttendee mirrors the server-side permission rule so the UI can
// hide the remove affordance: the owner may remove anyone, an attendee may
// remove themself, everyone else may not remove at all.
func (e *Event) CanRemoveAttendee(activeUsername string, attendee Attendee) bool {
	if activeUsername == "" {
		return false
	}
	if e.OwnerUsername == activeUsername {
		return true
	}
	return attendee.Username == activeUsername
}

// Clone returns a deep copy of the event, including the attendee list
func (e *Event) Clone() Event {
	out := *e
	if e.Attendees != nil {
		out.Attendees = make([]Attendee, len(e.Attendees))
		copy(out.Attendees, e.Attendees)
	}
	return out
}
