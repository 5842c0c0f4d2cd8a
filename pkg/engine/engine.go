// Package engine orchestrates optimistic event-state synchronization: user
// intents mutate the local cache immediately, the corresponding remote call
// is issued, and the cache is reconciled with the authoritative response or
// rolled back on failure. The engine is also the only component that
// interprets gateway outcomes; an authentication failure from any call
// terminates the session and clears all local state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"calagent/internal/models"
	"calagent/pkg/cache"
	"calagent/pkg/gateway"
	"calagent/pkg/session"
)

// ErrMutationInFlight reports that a mutation for the same record has not
// resolved yet. Mutations to different records proceed independently.
var ErrMutationInFlight = errors.New("a mutation for this event is still in flight")

// Gateway is the remote capability surface the engine depends on. The
// concrete implementation lives in pkg/gateway; tests substitute fakes.
type Gateway interface {
	ListEvents(ctx context.Context) ([]models.Event, error)
	CreateEvent(ctx context.Context, draft models.EventDraft) (models.Event, error)
	EditEvent(ctx context.Context, id string, patch models.EventPatch) (models.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	AddAttendee(ctx context.Context, eventID, attendee string) error
	RemoveAttendee(ctx context.Context, eventID, attendeeID string) error
	Login(ctx context.Context, username, password string) (string, error)
	FetchProfile(ctx context.Context) (models.Profile, error)
}

// Notifier publishes change notifications after a mutation resolves. A nil
// notifier disables publishing.
type Notifier interface {
	Publish(ctx context.Context, notification models.ChangeNotification) error
}

// Config holds engine configuration
type Config struct {
	// MutationTimeout bounds every remote call issued by the engine. A
	// hung call resolves as Failed("timeout") instead of leaving the
	// record pending forever.
	MutationTimeout time.Duration `yaml:"mutation_timeout"`
}

// DefaultConfig returns a default engine configuration
func DefaultConfig() *Config {
	return &Config{MutationTimeout: 15 * time.Second}
}

// Engine owns the event cache and the credential store. All mutation is
// funneled through its operations; the UI layer only reads snapshots.
type Engine struct {
	gw       Gateway
	cache    *cache.Cache
	session  *session.Store
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	selected string
}

// New creates a synchronization engine
func New(config *Config, gw Gateway, c *cache.Cache, s *session.Store, notifier Notifier, logger *slog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		gw:       gw,
		cache:    c,
		session:  s,
		notifier: notifier,
		logger:   logger,
		timeout:  config.MutationTimeout,
		inflight: make(map[string]struct{}),
	}
}

// Snapshot returns the current renderable view of the cache
func (e *Engine) Snapshot() []models.Event {
	return e.cache.Snapshot()
}

// Login exchanges credentials for a bearer token, records the profile and
// loads the initial event list
func (e *Engine) Login(ctx context.Context, username, password string) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	token, err := e.gw.Login(callCtx, username, password)
	if err != nil {
		e.logger.Warn("Login failed", "username", username, "error", err)
		return err
	}
	e.session.SetToken(token)

	profile, err := e.gw.FetchProfile(callCtx)
	if err != nil {
		return e.interpret("fetch profile", err)
	}
	e.session.SetProfile(profile)

	e.logger.Info("Session established", "username", profile.Username)
	return e.Refresh(ctx)
}

// Profile returns the identity of the active session, fetching it from the
// server when the session was restored from a persisted token
func (e *Engine) Profile(ctx context.Context) (models.Profile, error) {
	if p := e.session.Profile(); p.Username != "" {
		return p, nil
	}
	if err := e.requireSession(); err != nil {
		return models.Profile{}, err
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	profile, err := e.gw.FetchProfile(callCtx)
	if err != nil {
		return models.Profile{}, e.interpret("fetch profile", err)
	}
	e.session.SetProfile(profile)
	return profile, nil
}

// Logout destroys the session and clears all local state
func (e *Engine) Logout(ctx context.Context) {
	e.session.Clear()
	e.cache.Clear()
	e.clearSelection()

	e.logger.Info("Session closed")
	e.notify(ctx, models.ChangeNotification{
		Kind:   models.ChangeSessionEnded,
		Detail: "logout",
		At:     time.Now().UTC(),
	})
}

// Refresh replaces the cache with the authoritative server state
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.requireSession(); err != nil {
		return err
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	events, err := e.gw.ListEvents(callCtx)
	if err != nil {
		return e.interpret("list events", err)
	}

	e.cache.ReplaceAll(events)
	e.logger.Debug("Cache reconciled from server", "event_count", len(events))
	return nil
}

// Create submits a new event. The draft is not inserted into the cache
// until the call returns: subsequent edit and delete need the
// server-assigned identity, so a record without one must never become
// addressable. On success the returned record is inserted and a refresh
// normalizes ordering.
func (e *Engine) Create(ctx context.Context, draft models.EventDraft) (models.Event, error) {
	if err := draft.Validate(); err != nil {
		return models.Event{}, err
	}
	if err := e.requireSession(); err != nil {
		return models.Event{}, err
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	created, err := e.gw.CreateEvent(callCtx, draft)
	if err != nil {
		if !errors.Is(err, gateway.ErrUnauthenticated) {
			e.notifyFailure(ctx, "", draft.Title, "create rejected")
		}
		return models.Event{}, e.interpret("create event", err)
	}

	e.cache.Insert(created)
	if err := e.Refresh(ctx); err != nil {
		return created, err
	}

	e.logger.Info("Event created", "event_id", created.ID, "title", created.Title)
	e.notify(ctx, models.NewChangeNotification(models.ChangeCreated, created.ID, created.Title))
	return created, nil
}

// Reschedule applies a drag or resize gesture: the proposed times are
// written to the cache before the remote call so the interaction feels
// instantaneous, and rolled back to the pre-gesture position if the server
// rejects the change.
func (e *Engine) Reschedule(ctx context.Context, id string, newStart, newEnd time.Time) error {
	if !newStart.Before(newEnd) {
		return &models.ValidationError{Field: "end", Reason: "must be after start"}
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	if err := e.acquire(id); err != nil {
		return err
	}
	defer e.release(id)

	prev, err := e.cache.GetByID(id)
	if err != nil {
		e.logger.Error("Reschedule target missing from cache", "event_id", id)
		return err
	}

	// Optimistic write first; the gesture has already moved the block on
	// screen and the cache must agree with what the user sees.
	_ = e.cache.UpdateByID(id, func(ev *models.Event) {
		ev.Start = newStart
		ev.End = newEnd
	})

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	_, err = e.gw.EditEvent(callCtx, id, models.EventPatch{
		Title:       prev.Title,
		Description: prev.Description,
		Start:       newStart,
		End:         newEnd,
	})
	if err != nil {
		if !errors.Is(err, gateway.ErrUnauthenticated) {
			// Roll back to the pre-gesture position so the cache never
			// keeps a prediction the server refused.
			_ = e.cache.UpdateByID(id, func(ev *models.Event) {
				ev.Start = prev.Start
				ev.End = prev.End
			})
			e.notifyFailure(ctx, id, prev.Title, "reschedule rejected")
		}
		return e.interpret("edit event", err)
	}

	if err := e.Refresh(ctx); err != nil {
		return err
	}

	e.logger.Info("Event rescheduled", "event_id", id, "start", newStart, "end", newEnd)
	e.notify(ctx, models.NewChangeNotification(models.ChangeRescheduled, id, prev.Title))
	return nil
}

// Edit applies a form-based patch. No optimistic write is needed since the
// form closes immediately; on success a refresh brings in the
// authoritative record, on failure the cache is left untouched and the
// error is surfaced.
func (e *Engine) Edit(ctx context.Context, id string, patch models.EventPatch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := e.requireSession(); err != nil {
		return err
	}
	if err := e.acquire(id); err != nil {
		return err
	}
	defer e.release(id)

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	if _, err := e.gw.EditEvent(callCtx, id, patch); err != nil {
		if !errors.Is(err, gateway.ErrUnauthenticated) {
			e.notifyFailure(ctx, id, patch.Title, "edit rejected")
		}
		return e.interpret("edit event", err)
	}

	if err := e.Refresh(ctx); err != nil {
		return err
	}

	e.logger.Info("Event edited", "event_id", id)
	e.notify(ctx, models.NewChangeNotification(models.ChangeEdited, id, patch.Title))
	return nil
}

// Delete removes the event optimistically and restores it if the server
// rejects the delete
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.requireSession(); err != nil {
		return err
	}
	if err := e.acquire(id); err != nil {
		return err
	}
	defer e.release(id)

	removed, err := e.cache.RemoveByID(id)
	if err != nil {
		e.logger.Error("Delete target missing from cache", "event_id", id)
		return err
	}

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	if err := e.gw.DeleteEvent(callCtx, id); err != nil {
		if !errors.Is(err, gateway.ErrUnauthenticated) {
			e.cache.Restore(removed)
			e.notifyFailure(ctx, id, removed.Title, "delete rejected")
		}
		return e.interpret("delete event", err)
	}

	if err := e.Refresh(ctx); err != nil {
		return err
	}

	e.logger.Info("Event deleted", "event_id", id, "title", removed.Title)
	e.notify(ctx, models.NewChangeNotification(models.ChangeDeleted, id, removed.Title))
	return nil
}

// Select records the event the UI is focused on
func (e *Engine) Select(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = id
}

// Selected returns the currently focused event id, empty when nothing is
// selected
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

func (e *Engine) clearSelection() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = ""
}

// requireSession fails fast while no credential is held; no authenticated
// call may be attempted in that state
func (e *Engine) requireSession() error {
	if !e.session.Active() {
		return fmt.Errorf("no active session: %w", gateway.ErrUnauthenticated)
	}
	return nil
}

// interpret is the single place gateway outcomes are turned into engine
// behavior. Authentication failures terminate the session; everything else
// is logged and surfaced.
func (e *Engine) interpret(op string, err error) error {
	if errors.Is(err, gateway.ErrUnauthenticated) {
		e.terminate(op)
		return err
	}

	var reqErr *gateway.RequestError
	if errors.As(err, &reqErr) {
		e.logger.Warn("Remote call failed",
			"operation", op,
			"reason", reqErr.Reason,
			"status", reqErr.StatusCode)
		return err
	}

	e.logger.Error("Unexpected error from gateway", "operation", op, "error", err)
	return err
}

// terminate destroys the session and all local state after the remote
// store rejected the credential
func (e *Engine) terminate(cause string) {
	e.session.Clear()
	e.cache.Clear()
	e.clearSelection()

	e.logger.Warn("Session terminated", "cause", cause)
	e.notify(context.Background(), models.ChangeNotification{
		Kind:   models.ChangeSessionEnded,
		Detail: cause,
		At:     time.Now().UTC(),
	})
}

// acquire rejects a mutation while another one for the same record is
// pending; mutations to different records are independent
func (e *Engine) acquire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[id]; busy {
		return fmt.Errorf("event %s: %w", id, ErrMutationInFlight)
	}
	e.inflight[id] = struct{}{}
	return nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Engine) notify(ctx context.Context, notification models.ChangeNotification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(ctx, notification); err != nil {
		e.logger.Warn("Failed to publish change notification",
			"kind", notification.Kind,
			"error", err)
	}
}

func (e *Engine) notifyFailure(ctx context.Context, eventID, title, detail string) {
	n := models.NewChangeNotification(models.ChangeSyncFailed, eventID, title)
	n.Detail = detail
	e.notify(ctx, n)
}
