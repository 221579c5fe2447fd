package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthTimeout is returned by identity collaborators when a sign-in
	// challenge is continued after its expiry.
	ErrAuthTimeout = errors.New("sign-in flow timed out")

	// ErrMissingDependency marks a broken deployment: a collaborator required
	// at construction time is absent.
	ErrMissingDependency = errors.New("missing dependency")

	// ErrInvalidActivity is returned when an activity lacks the addressing
	// needed to derive storage keys.
	ErrInvalidActivity = errors.New("invalid activity")

	// ErrNotFound is returned by lookups that found nothing.
	ErrNotFound = errors.New("not found")
)

// MissingDependency wraps ErrMissingDependency with the dependency name.
func MissingDependency(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingDependency, name)
}

// ConfigurationError reports an agent that cannot be dispatched to because
// its registration is incomplete. Message is shown to the user verbatim.
type ConfigurationError struct {
	Alias   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for alias %q: %s", e.Alias, e.Message)
}

// RemoteDispatchError is a non-success answer from a remote agent endpoint.
type RemoteDispatchError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *RemoteDispatchError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote dispatch failed with status %d", e.StatusCode)
	}
	return e.Message
}

// Transient reports whether the failure is worth another attempt.
func (e *RemoteDispatchError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// DecodeError is returned when a persisted record cannot be turned back into
// its typed form, either because of a kind mismatch or a malformed payload.
type DecodeError struct {
	Key  string
	Want string
	Got  string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode record %q as %s: %v", e.Key, e.Want, e.Err)
	}
	return fmt.Sprintf("decode record %q: want kind %s, got %s", e.Key, e.Want, e.Got)
}

func (e *DecodeError) Unwrap() error { return e.Err }
