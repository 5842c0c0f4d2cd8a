package engine

import (
	"context"
	"errors"

	"calagent/internal/models"
	"calagent/pkg/gateway"
)

// AttendeeManager is the mutation path scoped to a single event's attendee
// set. It reuses the engine's call-then-refresh pattern: no optimistic
// mutation of the attendee list, a mandatory refresh after success, and a
// cleared selection either way so the UI never operates on stale state.
type AttendeeManager struct {
	engine  *Engine
	eventID string
}

// Attendees returns the attendee mutation path for one event
func (e *Engine) Attendees(eventID string) *AttendeeManager {
	return &AttendeeManager{engine: e, eventID: eventID}
}

// Add invites a user, identified by username or id, to the event
func (m *AttendeeManager) Add(ctx context.Context, attendee string) error {
	if attendee == "" {
		return &models.ValidationError{Field: "attendee", Reason: "must not be empty"}
	}
	return m.mutate(ctx, "add attendee", models.ChangeAttendeeAdded, func(callCtx context.Context) error {
		return m.engine.gw.AddAttendee(callCtx, m.eventID, attendee)
	})
}

// Remove drops an attendee from the event
func (m *AttendeeManager) Remove(ctx context.Context, attendeeID string) error {
	if attendeeID == "" {
		return &models.ValidationError{Field: "attendee", Reason: "must not be empty"}
	}
	return m.mutate(ctx, "remove attendee", models.ChangeAttendeeRemoved, func(callCtx context.Context) error {
		return m.engine.gw.RemoveAttendee(callCtx, m.eventID, attendeeID)
	})
}

func (m *AttendeeManager) mutate(ctx context.Context, op string, kind models.ChangeKind, call func(context.Context) error) error {
	e := m.engine

	if err := e.requireSession(); err != nil {
		return err
	}
	if err := e.acquire(m.eventID); err != nil {
		return err
	}
	defer e.release(m.eventID)

	// The selection is stale the moment the membership changes, whether
	// the call succeeded or not.
	defer e.clearSelection()

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	if err := call(callCtx); err != nil {
		if !errors.Is(err, gateway.ErrUnauthenticated) {
			e.notifyFailure(ctx, m.eventID, "", op+" rejected")
		}
		return e.interpret(op, err)
	}

	if err := e.Refresh(ctx); err != nil {
		return err
	}

	e.logger.Info("Attendee list updated", "event_id", m.eventID, "operation", op)
	e.notify(ctx, models.NewChangeNotification(kind, m.eventID, ""))
	return nil
}
