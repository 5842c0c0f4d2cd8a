package gateway

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated reports that the remote store rejected the credential,
// or that no credential was held when an authenticated call was attempted.
// The engine treats it as the universal session-termination signal.
var ErrUnauthenticated = errors.New("unauthenticated")

// RequestError covers every expected failure that is not an authentication
// failure: transport errors, timeouts and non-success statuses. Reason is a
// short stable label ("network", "timeout", or the HTTP status text).
type RequestError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request failed: %s (status %d)", e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("request failed: %s", e.Reason)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}
