package mailbox

import (
	"errors"
	"fmt"
)

// AuthError indicates the server rejected the configured credentials.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ConnectError wraps a failure to reach, greet or select on the server.
type ConnectError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("imap %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsConnectError reports whether err (or any error in its chain) is a ConnectError.
func IsConnectError(err error) bool {
	var connErr *ConnectError
	return errors.As(err, &connErr)
}

var (
	// ErrLockTimeout is returned when the mailbox lock could not be
	// acquired before the deadline. No messages are fetched in that case.
	ErrLockTimeout = errors.New("mailbox lock timeout")

	// ErrMissingStream is returned when the server answers a fetch without
	// the requested message content.
	ErrMissingStream = errors.New("message stream missing")

	// ErrNotFound is returned when a referenced message no longer exists.
	ErrNotFound = errors.New("message not found")
)
