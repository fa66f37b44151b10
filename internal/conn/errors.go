package conn

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrCancelled reports a cooperative abort of a connection attempt.
	// Callers present it as a notice, not as a failure.
	ErrCancelled = errors.New("connection attempt cancelled")

	// ErrActive rejects starting an attempt while another one is in flight.
	ErrActive = errors.New("a connection attempt is already active")
)

// ConfigError reports an invalid server or mode combination, detected
// before orchestration has any side effect.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "config: " + e.Reason }

// configErrorf builds a ConfigError from a format string.
func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// LaunchError reports that a required session client could not be spawned.
// Fatal for the attempt; the VPN is still released.
type LaunchError struct {
	Client string // "rdp" or "ssh"
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s client: %v", e.Client, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
