package oauth2client

import (
	"context"
	"errors"
	"fmt"
)

// ProviderRequestError reports a failed call to the token endpoint: a
// network failure, a timeout or a non-2xx response. It is recoverable and
// never corrupts cached state.
type ProviderRequestError struct {
	StatusCode  int    // 0 when no response was received
	ErrorCode   string // OAuth2 "error" field, if any
	Description string // OAuth2 "error_description" field, if any
	Err         error
}

func (e *ProviderRequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("oauth2client: token request failed: %v", e.Err)
	}
	if e.ErrorCode != "" {
		if e.Description != "" {
			return fmt.Sprintf("oauth2client: token endpoint returned status %d: %s: %s", e.StatusCode, e.ErrorCode, e.Description)
		}
		return fmt.Sprintf("oauth2client: token endpoint returned status %d: %s", e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("oauth2client: token endpoint returned status %d", e.StatusCode)
}

// Detail describes the failure for relay callers: the HTTP status and the
// provider's OAuth2 error fields. Transport errors are summarized so that
// internal addresses do not leak.
func (e *ProviderRequestError) Detail() string {
	switch {
	case e.StatusCode != 0 && e.ErrorCode != "" && e.Description != "":
		return fmt.Sprintf("identity provider returned status %d: %s: %s", e.StatusCode, e.ErrorCode, e.Description)
	case e.StatusCode != 0 && e.ErrorCode != "":
		return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.ErrorCode)
	case e.StatusCode != 0:
		return fmt.Sprintf("identity provider returned status %d", e.StatusCode)
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "identity provider did not respond in time"
	default:
		return "identity provider could not be reached"
	}
}

func (e *ProviderRequestError) Unwrap() error {
	return e.Err
}

// ProviderResponseError reports a 2xx response whose body could not be used:
// malformed JSON, a missing access_token or a missing expires_in.
type ProviderResponseError struct {
	Err error
}

func (e *ProviderResponseError) Error() string {
	return fmt.Sprintf("oauth2client: malformed token response: %v", e.Err)
}

// Detail describes the unusable response for relay callers.
func (e *ProviderResponseError) Detail() string {
	return fmt.Sprintf("identity provider returned an unusable token response: %v", e.Err)
}

func (e *ProviderResponseError) Unwrap() error {
	return e.Err
}
