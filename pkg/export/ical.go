// Package export renders a cache snapshot as an iCalendar document so the
// local view can be handed to other calendar tooling.
package export

import (
	"fmt"
	"io"

	ics "github.com/arran4/golang-ical"

	"calagent/internal/models"
)

// WriteICS writes the given events as a VCALENDAR. Pending optimistic rows
// are skipped since they carry no stable identity.
func WriteICS(w io.Writer, events []models.Event) error {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//calagent//EN")

	for i := range events {
		event := &events[i]
		if event.Pending() {
			continue
		}

		ve := cal.AddEvent(event.ID)
		ve.SetSummary(event.Title)
		if event.Description != "" {
			ve.SetDescription(event.Description)
		}
		ve.SetStartAt(event.Start)
		ve.SetEndAt(event.End)
		if event.OwnerUsername != "" {
			ve.SetOrganizer(event.OwnerUsername, ics.WithCN(event.OwnerUsername))
		}
		for _, attendee := range event.Attendees {
			ve.AddAttendee(attendee.Username, ics.WithCN(attendee.Username))
		}
	}

	if err := cal.SerializeTo(w); err != nil {
		return fmt.Errorf("failed to serialize calendar: %w", err)
	}
	return nil
}
