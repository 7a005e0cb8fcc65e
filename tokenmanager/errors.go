package tokenmanager

import (
	"errors"
	"fmt"
)

var (
	// ErrManagerClosed is returned by refresh attempts after Shutdown.
	ErrManagerClosed = errors.New("tokenmanager: manager is shut down")

	// ErrRefreshThrottled is returned when the provider rate limit denied an attempt.
	ErrRefreshThrottled = errors.New("tokenmanager: refresh throttled")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("tokenmanager: already started")
)

// TokenUnavailableError is returned to callers when no usable token exists
// and the refresh they waited for failed. Err carries the provider detail.
type TokenUnavailableError struct {
	Err error
}

func (e *TokenUnavailableError) Error() string {
	return fmt.Sprintf("tokenmanager: no valid access token available: %v", e.Err)
}

func (e *TokenUnavailableError) Unwrap() error {
	return e.Err
}
