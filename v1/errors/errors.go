// Package errors defines the error taxonomy shared by the relay packages.
//
// Callers distinguish three families: a ConnectionError means the store could
// not be reached (or was lost and could not be recovered), a CommandError means
// the store rejected a command, and a ConfigError is raised while building a
// client from an invalid configuration.
package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectionLost is returned when a lazy connect fails.
	ErrConnectionLost = errors.New("connection lost")
	// ErrRetriesExhausted is wrapped when the reconnect loop gives up.
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
)

// ConnectionError reports that the connection to the store could not be
// established or was lost.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("relay: connection error: %v", e.Err)
	}
	return fmt.Sprintf("relay: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError reports a command rejected by the store for reasons unrelated
// to connectivity.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("relay: command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("relay: invalid config %s: %s", e.Field, e.Reason)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a transport failure: the connection itself is
// suspected to be unusable. A nil err stays nil.
func Transient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsCommand reports whether err is a CommandError.
func IsCommand(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}

// FromContext maps a context error for callers: an expired deadline is
// reported as ErrTimeout, still matching context.DeadlineExceeded.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
