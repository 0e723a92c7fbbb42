package wsus

import (
	"errors"
	"fmt"
)

// ErrUnsupportedPlatform is returned by Connect on platforms without the
// WSUS administration API.
var ErrUnsupportedPlatform = errors.New("wsus administration API is only available on Windows")

// Causes attached to COM failures so callers can branch with errors.Is.
var (
	ErrAccessDenied      = errors.New("access denied")
	ErrAPINotInstalled   = errors.New("administration API not installed")
	ErrServerUnreachable = errors.New("server unreachable")
)

// ConnectError indicates the server could not be reached or the API is unavailable.
type ConnectError struct {
	Server string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to WSUS server %s: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// UpdateNotFoundError is returned when an operation names an update that was
// not part of the last enumeration.
type UpdateNotFoundError struct {
	ID string
}

func (e *UpdateNotFoundError) Error() string {
	return fmt.Sprintf("update %s not found", e.ID)
}
