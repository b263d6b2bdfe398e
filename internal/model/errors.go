package model

import "errors"

var (
	// ErrSessionNotFound is returned when no live session matches the requested ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned for operations on a session whose process has exited.
	ErrSessionClosed = errors.New("session is closed")

	// ErrShellRequired is returned when a terminal session is created without a shell.
	ErrShellRequired = errors.New("shell is required")

	// ErrMissingToken is returned at startup when no shared secret is configured.
	ErrMissingToken = errors.New("auth token is not configured")
)
