package gateway

import (
	"time"

	"calagent/internal/models"
)

// Time crosses the API boundary as integer seconds since epoch. Conversion
// to time.Time happens here and nowhere else, so the rest of the client
// operates on a single representation.

type wireOwner struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type wireAttendee struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type wireEvent struct {
	ID          string         `json:"id"`
	Start       int64          `json:"start"`
	End         int64          `json:"end"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Owner       wireOwner      `json:"owner"`
	Attendees   []wireAttendee `json:"attendees"`
}

type newEventRequest struct {
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type editEventRequest struct {
	EventID     string `json:"event_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Start       int64  `json:"start"`
	Stop        int64  `json:"stop"`
}

type deleteEventRequest struct {
	EventID string `json:"event_id"`
}

type addAttendeeRequest struct {
	EventID     string `json:"event_id"`
	NewAttendee string `json:"new_attendee"`
}

type removeAttendeeRequest struct {
	EventID          string `json:"event_id"`
	RemovingAttendee string `json:"removing_attendee"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type profileResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type newUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (w wireEvent) toModel() models.Event {
	event := models.Event{
		ID:            w.ID,
		Title:         w.Title,
		Description:   w.Description,
		Start:         time.Unix(w.Start, 0).UTC(),
		End:           time.Unix(w.End, 0).UTC(),
		OwnerID:       w.Owner.ID,
		OwnerUsername: w.Owner.Username,
	}
	for _, a := range w.Attendees {
		event.Attendees = append(event.Attendees, models.Attendee{ID: a.ID, Username: a.Username})
	}
	return event
}

func fromWireEvents(wire []wireEvent) []models.Event {
	events := make([]models.Event, 0, len(wire))
	for _, w := range wire {
		events = append(events, w.toModel())
	}
	return events
}
