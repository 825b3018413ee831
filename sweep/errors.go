package sweep

import (
	"errors"
	"fmt"
)

var (
	// ErrSweepInProgress is generated when Run is called while a sweep is
	// already underway
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrNonpositiveStep is generated for a zero or negative step size
	ErrNonpositiveStep = errors.New("step must be positive")

	// ErrNonpositiveTau is generated for a zero or negative time constant
	ErrNonpositiveTau = errors.New("time constant must be positive")

	// ErrReversedRange is generated when the end wavelength precedes the start
	ErrReversedRange = errors.New("end wavelength precedes start wavelength")
)

// InitError is generated when the monochromator session cannot be
// established.  It is fatal and aborts the sweep before any steps run.
type InitError struct {
	Device string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s initialization failed: %v", e.Device, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ConnectError is generated when the lock-in session cannot be established
// or configured.  Like InitError, it aborts the sweep before any steps run.
type ConnectError struct {
	Device string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s connection failed: %v", e.Device, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AcquisitionError is generated when an instrument command fails mid-sweep.
// The sweep terminates, but records already collected are preserved.
type AcquisitionError struct {
	Wavelength float64
	Err        error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition failed at %.1f nm: %v", e.Wavelength, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
