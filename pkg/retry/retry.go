// Package retry provides bounded retries with exponential backoff for
// read-only remote calls. Mutating calls must not go through this package
// since they are not idempotent.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Operation represents a retriable operation
type Operation func() error

// Retryer executes operations with exponential backoff
type Retryer struct {
	config *Config
	logger *slog.Logger
}

// NewRetryer creates a new Retryer with the given configuration
func NewRetryer(config *Config, logger *slog.Logger) *Retryer {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{config: config, logger: logger}
}

// Do executes an operation, retrying transient failures until the attempt
// budget is exhausted. Non-retriable errors are returned as-is so callers
// can match them with errors.Is/errors.As.
func (r *Retryer) Do(ctx context.Context, operation Operation) error {
	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.delay(attempt - 1)
			r.logger.Debug("Retrying after delay",
				"attempt", attempt,
				"max_attempts", r.config.MaxAttempts,
				"delay", delay,
				"last_error", lastErr)

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := operation()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"elapsed", time.Since(start))
			}
			return nil
		}

		if !Retriable(err) {
			return err
		}
		lastErr = err
	}

	r.logger.Warn("Max retry attempts reached",
		"attempts", r.config.MaxAttempts,
		"elapsed", time.Since(start),
		"last_error", lastErr)

	return fmt.Errorf("operation failed after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// delay calculates the backoff before the next attempt
func (r *Retryer) delay(attemptNumber int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attemptNumber-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}
	return time.Duration(delay)
}

// retriableStatuses are the HTTP statuses worth retrying: the request never
// reached a conclusive answer.
var retriableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Retriable reports whether an error is worth retrying. Context
// cancellation and definitive server answers (auth failures, 4xx) are not.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retriableStatuses[httpErr.StatusCode]
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Retriable(urlErr.Err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// HTTPError represents a non-2xx response with its status code, used by
// Retriable to distinguish transient statuses from definitive ones
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (URL: %s)", e.StatusCode, e.Status, e.URL)
}

// NewHTTPError creates a new HTTPError
func NewHTTPError(statusCode int, status, url string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Status: status, URL: url}
}
