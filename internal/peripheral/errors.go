package peripheral

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected   ConnectionState = "not_connected"
	NotInitialized ConnectionState = "not_initialized"
	AlreadySetup   ConnectionState = "already_setup"
	BluetoothOff   ConnectionState = "bluetooth_off"
)

// ConnectionError represents any adapter state problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for adapter states
var (
	// ErrNotConnected is returned by SendNotification when no central is connected.
	// Callers are expected to log and skip; it is never fatal.
	ErrNotConnected = &ConnectionError{State: NotConnected}
	// ErrNotInitialized is returned when an operation needs the characteristic
	// handle before Setup has completed.
	ErrNotInitialized = &ConnectionError{State: NotInitialized}
	// ErrAlreadySetup is returned by a second Setup call.
	ErrAlreadySetup = &ConnectionError{State: AlreadySetup}
	// ErrBluetoothOff is returned when the radio is powered off or missing.
	ErrBluetoothOff = &ConnectionError{State: BluetoothOff}
)

// ErrInvalidUUID is returned when a service or characteristic UUID is malformed.
var ErrInvalidUUID = errors.New("invalid UUID")

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// NormalizeError maps known stack error strings to structured ConnectionError types.
// Stacks report "not connected" conditions as plain strings; mapping them keeps
// callers on errors.Is. The original error is wrapped to preserve context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "not initialized"), containsIgnoreCase(msg, "not enabled"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
