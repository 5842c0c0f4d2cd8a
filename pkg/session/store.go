// Package session holds the bearer credential and profile for the active
// login. It is the origin of truth for "is a session active" and carries no
// network or cache side effects; clearing dependent state is the
// synchronization engine's job.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"calagent/internal/models"
)

// Store is the credential store. The zero value is an inactive session.
// The token is replaced wholesale, never partially mutated, so concurrent
// reads only need the read lock.
type Store struct {
	mu      sync.RWMutex
	token   string
	profile models.Profile
}

// NewStore creates an empty, inactive credential store
func NewStore() *Store {
	return &Store{}
}

// SetToken stores the bearer credential and marks the session active
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetProfile records the identity of the logged-in user
func (s *Store) SetProfile(profile models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
}

// Token returns the current credential and whether one is held. It never
// fails; absence is reported through the boolean.
func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Profile returns the identity recorded for the active session
func (s *Store) Profile() models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Username is a convenience accessor for the active username; empty while
// logged out
func (s *Store) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Username
}

// Active reports whether a credential is currently held
func (s *Store) Active() bool {
	_, ok := s.Token()
	return ok
}

// Clear removes the credential and profile, marking the session inactive
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.profile = models.Profile{}
}

// tokenFile is the on-disk shape of the persisted session. The bearer token
// is the only state that survives across runs.
type tokenFile struct {
	Token string `json:"token"`
}

// SaveToFile persists the current token so a later run can resume the
// session without logging in again. A cleared store removes the file.
func (s *Store) SaveToFile(path string) error {
	token, ok := s.Token()
	if !ok {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove token file: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.Marshal(tokenFile{Token: token})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// LoadFromFile restores a persisted token. A missing file is not an error;
// the store is simply left inactive.
func (s *Store) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("failed to parse token file: %w", err)
	}

	if tf.Token != "" {
		s.SetToken(tf.Token)
	}
	return nil
}
