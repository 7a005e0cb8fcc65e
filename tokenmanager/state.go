package tokenmanager

import "time"

// State is the lifecycle state of the managed token.
type State int

const (
	// StateEmpty means no usable token is held: nothing was obtained yet, or
	// the held token passed its hard expiry.
	StateEmpty State = iota
	// StateValid means the token is outside the refresh margin.
	StateValid
	// StateStale means the token is inside the refresh margin but not expired.
	StateStale
	// StateRefreshing means an exchange is in flight.
	StateRefreshing
	// StateFailed means the latest exchange failed. A previously obtained
	// token is still served until its hard expiry.
	StateFailed
)

// String returns the lower-case state name used in health output.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateValid:
		return "valid"
	case StateStale:
		return "stale"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the manager for diagnostics.
type Status struct {
	State               State
	Servable            bool // a token could be handed out right now
	Expiry              time.Time
	ObtainedAt          time.Time
	ConsecutiveFailures int
	LastError           string
	RetryAt             time.Time
}
