/*Package sweep drives an automated optical-spectroscopy scan.

A sweep walks a monochromator across a wavelength range and reads a lock-in
amplifier at each step.  The engine corrects for two artifacts of the bench:
mechanical backlash in the grating drive (handled inside the monochromator
implementations) and input-stage overload in the lock-in (handled here, by a
single auto-sensitivity retry per step).

The two instruments are consumed through capability interfaces so the same
control flow runs against the hardware drivers (package bentham, package
sr7265) and the physics-approximating models in package sim.
*/
package sweep

import (
	"math"

	"github.com/oplab/spectro/mathx"
)

// Monochromator is one tunable optical element.  MoveTo returns the achieved
// wavelength, which hardware quantization may place slightly off the target;
// callers must use the achieved value and never assume it equals the request.
type Monochromator interface {
	// Initialize establishes the actuator session and readies the drive
	Initialize() error

	// MoveTo slews the grating to the target wavelength in nanometers and
	// returns the achieved wavelength
	MoveTo(nanometers float64) (float64, error)

	// Shutdown parks the grating and releases the session.  It is
	// idempotent and safe to call after a failed Initialize.
	Shutdown() error
}

// LockIn is a phase-sensitive detector.
type LockIn interface {
	// Connect establishes the instrument session
	Connect() error

	// Configure applies AC coupling, floating ground, the high impedance
	// input stage, and the filter time constant in seconds.  All four are
	// applied before Configure returns; acquisition before Configure is
	// undefined.
	Configure(tau float64) error

	// ReadXY returns one in-phase, quadrature pair for the filtered signal
	ReadXY() (x, y float64, err error)

	// Overloaded reports whether the input stage is currently clipped.
	// The answer is a function of the signal at the current wavelength and
	// is never cached.
	Overloaded() (bool, error)

	// AutoSensitivity adjusts the gain to bring the signal back into the
	// linear range.  The hardware needs a settling interval afterwards
	// before reads can be trusted; that wait belongs to the caller.
	AutoSensitivity() error

	// Disconnect releases the session; idempotent
	Disconnect() error
}

// Record is one acquired sample.  R is the Euclidean magnitude of (X, Y) and
// Phase the four-quadrant arctangent of (Y, X) in degrees.  Records are
// immutable once appended to a sweep's dataset.
type Record struct {
	Wavelength float64 `json:"wavelength"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	R          float64 `json:"r"`
	Phase      float64 `json:"phase"`
}

// NewRecord derives magnitude and phase from an in-phase, quadrature pair
func NewRecord(wavelength, x, y float64) Record {
	return Record{
		Wavelength: wavelength,
		X:          x,
		Y:          y,
		R:          math.Hypot(x, y),
		Phase:      mathx.Degrees(math.Atan2(y, x)),
	}
}

// Config holds the sweep parameters.  Wavelengths are nanometers, Tau is the
// lock-in filter time constant in seconds.
type Config struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
	Tau   float64 `json:"tau"`
}

// Validate checks the config for physical sanity
func (c Config) Validate() error {
	if c.Step <= 0 {
		return ErrNonpositiveStep
	}
	if c.Tau <= 0 {
		return ErrNonpositiveTau
	}
	if c.End < c.Start {
		return ErrReversedRange
	}
	return nil
}

// Steps returns the number of wavelengths in the sweep, start and end
// inclusive
func (c Config) Steps() int {
	return int(math.Floor((c.End-c.Start)/c.Step+1e-9)) + 1
}

// WavelengthAt returns the i-th requested wavelength
func (c Config) WavelengthAt(i int) float64 {
	return c.Start + c.Step*float64(i)
}
