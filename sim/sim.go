// Package sim provides physics-approximating models of the spectroscopy
// bench, satisfying the same capability interfaces as the hardware drivers.
// The models are deterministic for a given seed, which makes them usable
// both for development away from the lab and for end-to-end tests.
package sim

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/oplab/spectro/mathx"
)

// the synthetic spectrum: two emission peaks over a small baseline, with
// the larger peak hot enough to saturate the detector input stage at its
// default sensitivity
const (
	peak1Amplitude = 1.0e-3
	peak1Center    = 500.0
	peak1Width     = 200.0

	peak2Amplitude = 2.5e-3
	peak2Center    = 650.0
	peak2Width     = 100.0

	baseline   = 1.0e-4
	noiseSigma = 5.0e-5

	// overload window around the large peak, cleared once the gain backs off
	overloadLo = 640.0
	overloadHi = 660.0

	// Resolution is the wavelength quantum of the simulated grating drive
	Resolution = 0.025
)

// ErrNotConfigured is generated when the simulated detector is read before
// Configure
var ErrNotConfigured = errors.New("sim: detector not configured, call Configure first")

// Monochromator is a model of a grating monochromator.  Moves are instant;
// achieved wavelengths are quantized to the drive resolution, so the value
// reported back differs slightly from the request, as on the real bench.
type Monochromator struct {
	mu         sync.Mutex
	wavelength float64
	moved      bool
}

// NewMonochromator returns a model monochromator parked at nothing in
// particular
func NewMonochromator() *Monochromator {
	return &Monochromator{}
}

// Initialize readies the model; it cannot fail
func (m *Monochromator) Initialize() error {
	return nil
}

// MoveTo slews to the target and returns the achieved, quantized wavelength
func (m *Monochromator) MoveTo(nanometers float64) (float64, error) {
	achieved := mathx.Round(nanometers, Resolution)
	m.mu.Lock()
	m.wavelength = achieved
	m.moved = true
	m.mu.Unlock()
	return achieved, nil
}

// Wavelength returns the current grating position; ok is false before the
// first move
func (m *Monochromator) Wavelength() (nanometers float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wavelength, m.moved
}

// Shutdown parks the model; it cannot fail and may be called repeatedly
func (m *Monochromator) Shutdown() error {
	return nil
}

// LockIn is a model of a phase-sensitive detector looking at the light
// leaving a monochromator.  The source function reports the wavelength
// currently illuminating the input; NewBench wires it to a model
// monochromator.
type LockIn struct {
	source func() float64

	mu         sync.Mutex
	rng        *rand.Rand
	tau        float64
	configured bool
	attenuated bool
}

// NewLockIn returns a model lock-in watching the given wavelength source,
// with noise drawn from the given seed
func NewLockIn(source func() float64, seed int64) *LockIn {
	return &LockIn{source: source, rng: rand.New(rand.NewSource(seed))}
}

// NewBench wires a model monochromator and lock-in together the way the
// light path does on the real bench
func NewBench(seed int64) (*Monochromator, *LockIn) {
	mono := NewMonochromator()
	li := NewLockIn(func() float64 {
		wl, _ := mono.Wavelength()
		return wl
	}, seed)
	return mono, li
}

// Connect establishes nothing; the model is always reachable
func (li *LockIn) Connect() error {
	return nil
}

// Configure stores the filter time constant and arms acquisition
func (li *LockIn) Configure(tau float64) error {
	if tau <= 0 {
		return errors.New("sim: time constant must be positive")
	}
	li.mu.Lock()
	li.tau = tau
	li.configured = true
	li.mu.Unlock()
	return nil
}

// ReadXY synthesizes one in-phase, quadrature pair at the current wavelength
func (li *LockIn) ReadXY() (float64, float64, error) {
	li.mu.Lock()
	defer li.mu.Unlock()
	if !li.configured {
		return 0, 0, ErrNotConfigured
	}
	wl := li.source()
	noise := li.rng.NormFloat64() * noiseSigma
	x := mathx.Gaussian(wl, peak1Amplitude, peak1Center, peak1Width) +
		mathx.Gaussian(wl, peak2Amplitude, peak2Center, peak2Width) +
		baseline + noise
	y := noise * 0.5
	return x, y, nil
}

// Overloaded reports saturation: the large peak clips the input stage until
// an auto-sensitivity cycle has backed the gain off
func (li *LockIn) Overloaded() (bool, error) {
	li.mu.Lock()
	defer li.mu.Unlock()
	if li.attenuated {
		return false, nil
	}
	wl := li.source()
	return wl > overloadLo && wl < overloadHi, nil
}

// AutoSensitivity backs the gain off far enough that the synthetic spectrum
// no longer clips anywhere
func (li *LockIn) AutoSensitivity() error {
	li.mu.Lock()
	li.attenuated = true
	li.mu.Unlock()
	return nil
}

// Disconnect releases nothing; idempotent
func (li *LockIn) Disconnect() error {
	return nil
}

// Spectrum returns the noiseless synthetic signal at a wavelength; handy for
// asserting on what the models should produce
func Spectrum(wavelength float64) float64 {
	return mathx.Gaussian(wavelength, peak1Amplitude, peak1Center, peak1Width) +
		mathx.Gaussian(wavelength, peak2Amplitude, peak2Center, peak2Width) +
		baseline
}
