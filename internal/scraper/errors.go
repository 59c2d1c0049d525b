package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrRateNotFound is returned when no valid energy charge could be located on the rates page
	ErrRateNotFound = errors.New("rate not found")

	// ErrAuthentication is the root of every SmartHub login failure
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotAuthenticated is returned when a usage request is made without a session
	ErrNotAuthenticated = fmt.Errorf("%w: no session established", ErrAuthentication)

	// ErrPollTimeout is returned when the usage report never leaves PENDING
	ErrPollTimeout = errors.New("usage poll timed out")

	// ErrNoUsageData is returned when a completed report has no electric meter entry
	ErrNoUsageData = errors.New("no ELECTRIC data found in response")

	// ErrSeriesNotFound is returned when no {x,y} series exists in the meter entry
	ErrSeriesNotFound = errors.New("could not find valid usage series in data")
)

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int    // HTTP status of the auth response, 0 if none
	Status     string // "status" field of the auth response, if any
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Status != "" {
		msg = fmt.Sprintf("%s [status %s]", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", msg)
}

// Is makes every AuthError match ErrAuthentication
func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// PollTimeoutError reports how many submissions were made before giving up
type PollTimeoutError struct {
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("poll timed out after %d attempts", e.Attempts)
}

func (e *PollTimeoutError) Is(target error) bool {
	return target == ErrPollTimeout
}

// PollStatusError is returned in strict mode for a status that is neither
// PENDING nor COMPLETE on a response without data.
type PollStatusError struct {
	Status  string
	Attempt int
}

func (e *PollStatusError) Error() string {
	return fmt.Sprintf("unexpected poll status %q on attempt %d", e.Status, e.Attempt)
}
