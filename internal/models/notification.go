package models

import "time"

// ChangeKind labels what happened to the local view
type ChangeKind string

const (
	ChangeCreated         ChangeKind = "created"
	ChangeRescheduled     ChangeKind = "rescheduled"
	ChangeEdited          ChangeKind = "edited"
	ChangeDeleted         ChangeKind = "deleted"
	ChangeAttendeeAdded   ChangeKind = "attendee_added"
	ChangeAttendeeRemoved ChangeKind = "attendee_removed"
	ChangeRefreshed       ChangeKind = "refreshed"
	ChangeSyncFailed      ChangeKind = "sync_failed"
	ChangeSessionEnded    ChangeKind = "session_ended"
)

// ChangeNotification is the message published after the engine resolves a
// mutation, for consumers such as desktop notifiers
type ChangeNotification struct {
	Kind    ChangeKind `json:"kind"`
	EventID string     `json:"event_id,omitempty"`
	Title   string     `json:"title,omitempty"`
	Start   time.Time  `json:"start,omitempty"`
	Detail  string     `json:"detail,omitempty"`
	At      time.Time  `json:"at"`
}

// NewChangeNotification stamps a notification with the current time
func NewChangeNotification(kind ChangeKind, eventID, title string) ChangeNotification {
	return ChangeNotification{
		Kind:    kind,
		EventID: eventID,
		Title:   title,
		At:      time.Now().UTC(),
	}
}
