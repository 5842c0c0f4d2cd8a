package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagent/internal/models"
	"calagent/pkg/retry"
)

type staticTokens struct {
	token string
}

func (s staticTokens) Token() (string, bool) {
	return s.token, s.token != ""
}

func newTestClient(t *testing.T, handler http.Handler, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(
		&Config{BaseURL: server.URL, RequestTimeout: 2 * time.Second},
		staticTokens{token: token},
		&retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
		nil,
	)
}

func TestListEventsAttachesBearerAndConvertsEpochs(t *testing.T) {
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/event", r.URL.Path)

		_ = json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":          "e1",
				"start":       1750000000,
				"end":         1750001800,
				"title":       "Standup",
				"description": "daily",
				"owner":       map[string]string{"id": "u1", "username": "alice"},
				"attendees":   []map[string]string{{"id": "u2", "username": "bob"}},
			},
		})
	})

	client := newTestClient(t, handler, "tok-1")
	events, err := client.ListEvents(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), events[0].Start)
	assert.Equal(t, time.Unix(1750001800, 0).UTC(), events[0].End)
	assert.Equal(t, "alice", events[0].OwnerUsername)
	require.Len(t, events[0].Attendees, 1)
	assert.Equal(t, "bob", events[0].Attendees[0].Username)
}

func TestAuthenticatedCallWithoutTokenFailsFast(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	client := newTestClient(t, handler, "")
	_, err := client.ListEvents(context.Background())

	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, called, "no network call should be issued without a credential")
}

func TestUnauthorizedStatusMapsToErrUnauthenticated(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client := newTestClient(t, handler, "stale-token")
	_, err := client.ListEvents(context.Background())

	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestServerErrorMapsToRequestError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	client := newTestClient(t, handler, "tok-1")
	err := client.DeleteEvent(context.Background(), "e1")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
}

func TestCreateEventSendsEpochSecondsAndReturnsRecord(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/event/new", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(start.Unix()), body["start"])
		assert.Equal(t, float64(end.Unix()), body["end"])
		assert.Equal(t, "Standup", body["title"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "e9",
			"start": start.Unix(),
			"end":   end.Unix(),
			"title": "Standup",
			"owner": map[string]string{"id": "u1", "username": "alice"},
		})
	})

	client := newTestClient(t, handler, "tok-1")
	created, err := client.CreateEvent(context.Background(), models.EventDraft{
		Title: "Standup",
		Start: start,
		End:   end,
	})

	require.NoError(t, err)
	assert.Equal(t, "e9", created.ID)
	assert.Equal(t, start, created.Start)
}

func TestEditEventUsesStopFieldOnTheWire(t *testing.T) {
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/event/edit", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "e1", body["event_id"])
		assert.Equal(t, float64(start.Unix()), body["start"])
		assert.Equal(t, float64(end.Unix()), body["stop"])
		assert.NotContains(t, body, "end")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "e1",
			"start": start.Unix(),
			"end":   end.Unix(),
			"title": body["title"],
			"owner": map[string]string{"id": "u1", "username": "alice"},
		})
	})

	client := newTestClient(t, handler, "tok-1")
	updated, err := client.EditEvent(context.Background(), "e1", models.EventPatch{
		Title: "Moved standup",
		Start: start,
		End:   end,
	})

	require.NoError(t, err)
	assert.Equal(t, "Moved standup", updated.Title)
}

func TestLoginSendsPasswordGrantForm(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/token", r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		assert.Equal(t, "pw", r.PostForm.Get("password"))
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-new"})
	})

	client := newTestClient(t, handler, "")
	token, err := client.Login(context.Background(), "alice", "pw")

	require.NoError(t, err)
	assert.Equal(t, "tok-new", token)
}

func TestLoginRejectionIsUnauthenticated(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client := newTestClient(t, handler, "")
	_, err := client.Login(context.Background(), "alice", "wrong")

	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestFetchProfile(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/user/me", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"username": "alice", "email": "alice@example.com"})
	})

	client := newTestClient(t, handler, "tok-1")
	profile, err := client.FetchProfile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.Profile{Username: "alice", Email: "alice@example.com"}, profile)
}

func TestAttendeeCalls(t *testing.T) {
	var paths []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "e1", body["event_id"])
	})

	client := newTestClient(t, handler, "tok-1")
	require.NoError(t, client.AddAttendee(context.Background(), "e1", "bob"))
	require.NoError(t, client.RemoveAttendee(context.Background(), "e1", "u2"))

	assert.Equal(t, []string{"/api/event/attendees/add", "/api/event/attendees/remove"}, paths)
}

func TestCheckUsername(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/user/username/check", r.URL.Path)
		require.Equal(t, "carol", r.URL.Query().Get("username"))
		_ = json.NewEncoder(w).Encode(true)
	})

	client := newTestClient(t, handler, "")
	available, err := client.CheckUsername(context.Background(), "carol")

	require.NoError(t, err)
	assert.True(t, available)
}

func TestListEventsRetriesTransientFailures(t *testing.T) {
	attempts := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{})
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(
		&Config{BaseURL: server.URL, RequestTimeout: 2 * time.Second},
		staticTokens{token: "tok-1"},
		&retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
		nil,
	)

	events, err := client.ListEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 2, attempts)
}

func TestTransportErrorIsFailedNetwork(t *testing.T) {
	client := NewClient(
		&Config{BaseURL: "http://127.0.0.1:1", RequestTimeout: time.Second},
		staticTokens{token: "tok-1"},
		&retry.Config{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1},
		nil,
	)

	err := client.DeleteEvent(context.Background(), "e1")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "network", reqErr.Reason)
	assert.False(t, errors.Is(err, ErrUnauthenticated))
}
