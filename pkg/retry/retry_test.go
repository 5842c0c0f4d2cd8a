package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	retryer := NewRetryer(fastConfig(), nil)

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoRetriesTransientStatus(t *testing.T) {
	retryer := NewRetryer(fastConfig(), nil)

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return NewHTTPError(http.StatusServiceUnavailable, "503 Service Unavailable", "/api/event")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnNonRetriableError(t *testing.T) {
	retryer := NewRetryer(fastConfig(), nil)
	sentinel := errors.New("credential rejected")

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return sentinel
	})

	if !errors.Is(err, sentinel) {
		t.Errorf("Expected sentinel error to pass through, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected no retries for non-retriable error, got %d calls", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	retryer := NewRetryer(fastConfig(), nil)

	calls := 0
	err := retryer.Do(context.Background(), func() error {
		calls++
		return NewHTTPError(http.StatusBadGateway, "502 Bad Gateway", "/api/event")
	})

	if err == nil {
		t.Fatal("Expected failure after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Errorf("Expected wrapped HTTPError, got %v", err)
	}
}

func TestDoHonoursContextCancellation(t *testing.T) {
	retryer := NewRetryer(&Config{
		MaxAttempts:   5,
		InitialDelay:  time.Hour,
		MaxDelay:      time.Hour,
		BackoffFactor: 2.0,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := retryer.Do(ctx, func() error {
		calls++
		return NewHTTPError(http.StatusInternalServerError, "500", "/api/event")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single call before waiting on backoff, got %d", calls)
	}
}

func TestRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"503", NewHTTPError(http.StatusServiceUnavailable, "503", "/x"), true},
		{"429", NewHTTPError(http.StatusTooManyRequests, "429", "/x"), true},
		{"404", NewHTTPError(http.StatusNotFound, "404", "/x"), false},
		{"401", NewHTTPError(http.StatusUnauthorized, "401", "/x"), false},
		{"wrapped 502", fmt.Errorf("call failed: %w", NewHTTPError(http.StatusBadGateway, "502", "/x")), true},
		{"context deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retriable(tt.err); got != tt.want {
				t.Errorf("Retriable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
