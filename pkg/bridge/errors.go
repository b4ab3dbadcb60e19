package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyEnabled indicates Enable is called on a controller
	// whose bridge has not been disabled.
	ErrAlreadyEnabled = errors.New("bridge already enabled")
	// ErrNotEnabled indicates the bridge handle is not (or no longer) enabled.
	ErrNotEnabled = errors.New("bridge not enabled")
)

// HardwareError is a failed call into a hardware collaborator.
type HardwareError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *HardwareError) Unwrap() error {
	return e.Err
}
