// Package watcher polls the remote store through the engine and publishes
// a change notification for every difference between consecutive
// snapshots, so changes made elsewhere show up without user interaction.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"calagent/internal/models"
	"calagent/pkg/gateway"
)

// Refresher is the slice of the engine the watcher depends on
type Refresher interface {
	Refresh(ctx context.Context) error
	Snapshot() []models.Event
}

// Notifier publishes detected changes
type Notifier interface {
	Publish(ctx context.Context, notification models.ChangeNotification) error
}

// Config holds watcher configuration
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns a default watcher configuration
func DefaultConfig() *Config {
	return &Config{PollInterval: time.Minute}
}

// Watcher runs the periodic refresh loop
type Watcher struct {
	config    *Config
	refresher Refresher
	notifier  Notifier
	logger    *slog.Logger
}

// New creates a watcher. The notifier may be nil, in which case changes
// are only logged.
func New(config *Config, refresher Refresher, notifier Notifier, logger *slog.Logger) *Watcher {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		config:    config,
		refresher: refresher,
		notifier:  notifier,
		logger:    logger,
	}
}

// Run polls until the context is cancelled or the session ends. The first
// refresh establishes the baseline snapshot; later ones are diffed against
// it.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.refresher.Refresh(ctx); err != nil {
		return err
	}
	prev := index(w.refresher.Snapshot())

	w.logger.Info("Watching for remote changes",
		"poll_interval", w.config.PollInterval,
		"baseline_events", len(prev))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := w.refresher.Refresh(ctx); err != nil {
			if errors.Is(err, gateway.ErrUnauthenticated) {
				w.logger.Warn("Session ended, stopping watcher")
				return err
			}
			w.logger.Warn("Refresh failed, will retry on next tick", "error", err)
			continue
		}

		curr := index(w.refresher.Snapshot())
		for _, change := range Diff(prev, curr) {
			w.logger.Info("Remote change detected",
				"kind", change.Kind,
				"event_id", change.EventID,
				"title", change.Title)
			if w.notifier != nil {
				if err := w.notifier.Publish(ctx, change); err != nil {
					w.logger.Warn("Failed to publish change", "error", err)
				}
			}
		}
		prev = curr
	}
}

// Diff compares two indexed snapshots and reports what changed
func Diff(prev, curr map[string]models.Event) []models.ChangeNotification {
	var changes []models.ChangeNotification

	for id, event := range curr {
		before, existed := prev[id]
		if !existed {
			n := models.NewChangeNotification(models.ChangeCreated, id, event.Title)
			n.Start = event.Start
			changes = append(changes, n)
			continue
		}
		if !before.Start.Equal(event.Start) || !before.End.Equal(event.End) {
			n := models.NewChangeNotification(models.ChangeRescheduled, id, event.Title)
			n.Start = event.Start
			changes = append(changes, n)
		} else if before.Title != event.Title || before.Description != event.Description {
			changes = append(changes, models.NewChangeNotification(models.ChangeEdited, id, event.Title))
		}
	}

	for id, event := range prev {
		if _, exists := curr[id]; !exists {
			changes = append(changes, models.NewChangeNotification(models.ChangeDeleted, id, event.Title))
		}
	}

	return changes
}

func index(events []models.Event) map[string]models.Event {
	out := make(map[string]models.Event, len(events))
	for _, e := range events {
		if e.Pending() {
			continue
		}
		out[e.ID] = e
	}
	return out
}
