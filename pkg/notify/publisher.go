// Package notify publishes change notifications to NATS so external
// consumers (desktop notifiers, activity logs) can react to sync outcomes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"calagent/internal/models"
)

// Config holds NATS publisher configuration
type Config struct {
	URL            string        `yaml:"url"`
	Subject        string        `yaml:"subject"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// DefaultConfig returns a default NATS configuration
func DefaultConfig() *Config {
	return &Config{
		URL:            nats.DefaultURL,
		Subject:        "calagent.changes",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
	}
}

// Publisher publishes change notifications to a NATS subject. It satisfies
// the engine's Notifier interface.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewPublisher connects to NATS with the given configuration
func NewPublisher(config *Config, logger *slog.Logger) (*Publisher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	options := []nats.Option{
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(config.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}

	logger.Info("Change notifier connected",
		"url", config.URL,
		"subject", config.Subject)

	return &Publisher{
		conn:    conn,
		subject: config.Subject,
		logger:  logger,
	}, nil
}

// Publish sends a single change notification
func (p *Publisher) Publish(ctx context.Context, notification models.ChangeNotification) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}

	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.Debug("Published change notification",
		"subject", p.subject,
		"kind", notification.Kind,
		"event_id", notification.EventID)
	return nil
}

// Flush ensures all published messages have been sent
func (p *Publisher) Flush(timeout time.Duration) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("failed to flush NATS messages: %w", err)
	}
	return nil
}

// Close drains and closes the connection
func (p *Publisher) Close() {
	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}
}
