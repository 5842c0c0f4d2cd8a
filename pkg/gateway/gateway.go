// Package gateway is the stateless request/response wrapper around the
// remote event API. Every authenticated call attaches the current bearer
// credential; outcomes are reported as typed errors so the engine can tell
// an authorization failure from a transient one.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calagent/internal/models"
	"calagent/pkg/retry"
)

// TokenSource supplies the current bearer credential. The session store
// satisfies this interface.
type TokenSource interface {
	Token() (string, bool)
}

// Config holds gateway configuration
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns a default gateway configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8000",
		RequestTimeout: 10 * time.Second,
	}
}

// Client talks to the remote event store. It holds no mutable state of its
// own; the credential comes from the token source on every call.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	retryer *retry.Retryer
	logger  *slog.Logger
}

// NewClient creates a gateway client. A nil retry config disables retries
// for read-only calls.
func NewClient(config *Config, tokens TokenSource, retryConfig *retry.Config, logger *slog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &http.Client{Timeout: config.RequestTimeout},
		tokens:  tokens,
		retryer: retry.NewRetryer(retryConfig, logger),
		logger:  logger,
	}
}

// ListEvents fetches every event visible to the logged-in user. Read-only,
// so transient failures are retried.
func (c *Client) ListEvents(ctx context.Context) ([]models.Event, error) {
	var wire []wireEvent
	err := c.retryer.Do(ctx, func() error {
		wire = nil
		return c.do(ctx, http.MethodGet, "/api/event", nil, &wire, true)
	})
	if err != nil {
		return nil, err
	}
	return fromWireEvents(wire), nil
}

// CreateEvent submits a new event draft and returns the created record with
// its server-assigned identity
func (c *Client) CreateEvent(ctx context.Context, draft models.EventDraft) (models.Event, error) {
	req := newEventRequest{
		Start:       draft.Start.Unix(),
		End:         draft.End.Unix(),
		Title:       draft.Title,
		Description: draft.Description,
	}

	var wire wireEvent
	if err := c.do(ctx, http.MethodPost, "/api/event/new", req, &wire, true); err != nil {
		return models.Event{}, err
	}
	return wire.toModel(), nil
}

// EditEvent applies a patch to an existing event and returns the updated
// record. Note the remote field name for the end time is "stop".
func (c *Client) EditEvent(ctx context.Context, id string, patch models.EventPatch) (models.Event, error) {
	req := editEventRequest{
		EventID:     id,
		Title:       patch.Title,
		Description: patch.Description,
		Start:       patch.Start.Unix(),
		Stop:        patch.End.Unix(),
	}

	var wire wireEvent
	if err := c.do(ctx, http.MethodPost, "/api/event/edit", req, &wire, true); err != nil {
		return models.Event{}, err
	}
	return wire.toModel(), nil
}

// DeleteEvent removes an event by its server-assigned identity
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/event/delete", deleteEventRequest{EventID: id}, nil, true)
}

// AddAttendee invites a user to the event
func (c *Client) AddAttendee(ctx context.Context, eventID, attendee string) error {
	req := addAttendeeRequest{EventID: eventID, NewAttendee: attendee}
	return c.do(ctx, http.MethodPost, "/api/event/attendees/add", req, nil, true)
}

// RemoveAttendee removes an attendee from the event
func (c *Client) RemoveAttendee(ctx context.Context, eventID, attendeeID string) error {
	req := removeAttendeeRequest{EventID: eventID, RemovingAttendee: attendeeID}
	return c.do(ctx, http.MethodPost, "/api/event/attendees/remove", req, nil, true)
}

// Login exchanges credentials for a bearer token using the form-encoded
// password grant the server expects
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("grant_type", "password")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &RequestError{Reason: "network", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token tokenResponse
	if err := c.send(req, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", &RequestError{Reason: "empty token in login response"}
	}
	return token.AccessToken, nil
}

// FetchProfile retrieves the identity of the logged-in user
func (c *Client) FetchProfile(ctx context.Context) (models.Profile, error) {
	var wire profileResponse
	err := c.retryer.Do(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/api/user/me", nil, &wire, true)
	})
	if err != nil {
		return models.Profile{}, err
	}
	return models.Profile{Username: wire.Username, Email: wire.Email}, nil
}

// Register creates a new user account. No credential is attached.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	req := newUserRequest{Username: username, Email: email, Password: password}
	return c.do(ctx, http.MethodPost, "/api/user/new", req, nil, false)
}

// CheckUsername reports whether the username is still available
func (c *Client) CheckUsername(ctx context.Context, username string) (bool, error) {
	return c.check(ctx, "/api/user/username/check", "username", username)
}

// CheckEmail reports whether the email is still available
func (c *Client) CheckEmail(ctx context.Context, email string) (bool, error) {
	return c.check(ctx, "/api/user/email/check", "email", email)
}

func (c *Client) check(ctx context.Context, path, key, value string) (bool, error) {
	var available bool
	target := fmt.Sprintf("%s?%s=%s", path, key, url.QueryEscape(value))
	if err := c.do(ctx, http.MethodPost, target, nil, &available, false); err != nil {
		return false, err
	}
	return available, nil
}

// do builds and sends a request. Authenticated calls fail fast with
// ErrUnauthenticated when no credential is held, without touching the
// network.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Reason: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RequestError{Reason: "network", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		token, ok := c.tokens.Token()
		if !ok {
			return fmt.Errorf("no credential held: %w", ErrUnauthenticated)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &RequestError{Reason: "timeout", Err: err}
		}
		return &RequestError{Reason: "network", Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("Remote call completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("remote rejected credential: %w", ErrUnauthenticated)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &RequestError{
			Reason:     http.StatusText(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Err:        retry.NewHTTPError(resp.StatusCode, resp.Status, req.URL.Path),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Reason: "malformed response", Err: err}
	}
	return nil
}
