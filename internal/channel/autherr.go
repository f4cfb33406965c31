package channel

import (
	"errors"
	"fmt"
	"strings"
)

// StatusError carries an HTTP status alongside a transport error, typically
// from a rejected websocket upgrade.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// IsAuthFailure reports whether err represents an expired or invalid
// credential, as opposed to a transient network or server error. The rules
// are evaluated in order, first match wins:
//
//  1. a usable HTTP status of 401,
//  2. an error message containing "401", "unauthorized" or "authentication"
//     (case-insensitive).
//
// Everything else is transient and must not trigger a forced logout; a
// flaky network blip logging the user out is worse than a stale session
// lingering one round-trip longer.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status == 401 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication")
}
