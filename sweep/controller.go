package sweep

import (
	"context"
	"log"
	"sync"
	"time"
)

// State labels where in the sweep state machine the controller currently is
type State int

// the states, in the order a healthy sweep passes through them
const (
	Idle State = iota
	Initializing
	Stepping
	Settling
	CheckingSaturation
	Rescaling
	Resettling
	Acquiring
	Finalizing
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Stepping:
		return "stepping"
	case Settling:
		return "settling"
	case CheckingSaturation:
		return "checking-saturation"
	case Rescaling:
		return "rescaling"
	case Resettling:
		return "resettling"
	case Acquiring:
		return "acquiring"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Status is a snapshot of a controller for observers
type Status struct {
	State      string  `json:"state"`
	Wavelength float64 `json:"wavelength"`
	Records    int     `json:"records"`
}

// Controller owns one monochromator and one lock-in for the duration of a
// sweep and drives the per-step state machine.  It is the only component
// which may issue commands to the instruments while a sweep runs.
type Controller struct {
	mono   Monochromator
	lockin LockIn

	// sleep performs the settling waits; swapped for a recorder in tests
	sleep func(time.Duration)

	// progress, if set, is invoked with each record as it is acquired
	progress func(Record)

	mu         sync.Mutex
	cfg        Config
	state      State
	wavelength float64
	records    []Record
}

// New returns a controller for the given instrument pair.  Which
// implementations to use (hardware or simulated) is the caller's decision,
// made once here; the sweep logic never branches on it.
func New(mono Monochromator, lockin LockIn, cfg Config) *Controller {
	return &Controller{
		mono:   mono,
		lockin: lockin,
		cfg:    cfg,
		sleep:  time.Sleep,
	}
}

// OnRecord registers a callback invoked after each sample is appended.
// It must not be called while a sweep is running.
func (c *Controller) OnRecord(fcn func(Record)) {
	c.progress = fcn
}

// Config returns the sweep parameters
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetConfig replaces the sweep parameters.  It fails with
// ErrSweepInProgress while a sweep is running; parameters are read-only
// during a sweep.
func (c *Controller) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running() {
		return ErrSweepInProgress
	}
	c.cfg = cfg
	return nil
}

// SettlingTime is the unconditional per-step wait: five time constants, the
// accepted rule for the output filter to come within 1% of steady state
func (c *Controller) SettlingTime() time.Duration {
	return time.Duration(5 * c.Config().Tau * float64(time.Second))
}

// Status returns a snapshot of the controller
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:      c.state.String(),
		Wavelength: c.wavelength,
		Records:    len(c.records),
	}
}

// Records returns a copy of the dataset collected so far, in sweep order
func (c *Controller) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// running reports whether a sweep owns the instruments.  Caller holds c.mu.
func (c *Controller) running() bool {
	return c.state != Idle && c.state != Done && c.state != Aborted
}

// Run executes one sweep.  It returns the ordered dataset, one record per
// requested wavelength; on error the records collected before the failure
// are still returned.  The context is only consulted between steps, never
// mid-step, so an abort can not leave a half-issued instrument command.
func (c *Controller) Run(ctx context.Context) ([]Record, error) {
	c.mu.Lock()
	if c.running() {
		c.mu.Unlock()
		return nil, ErrSweepInProgress
	}
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.records = nil
	c.state = Initializing
	c.wavelength = 0
	c.mu.Unlock()

	err := c.run(ctx, cfg)
	if err != nil {
		c.setState(Aborted)
	} else {
		c.setState(Done)
	}
	return c.Records(), err
}

func (c *Controller) run(ctx context.Context, cfg Config) error {
	if err := c.mono.Initialize(); err != nil {
		return &InitError{Device: "monochromator", Err: err}
	}
	// once a session is open its release is unconditional; every exit path
	// below passes through these
	defer func() {
		c.setState(Finalizing)
		if err := c.mono.Shutdown(); err != nil {
			log.Println("monochromator shutdown:", err)
		}
	}()

	if err := c.lockin.Connect(); err != nil {
		return &ConnectError{Device: "lock-in", Err: err}
	}
	defer func() {
		c.setState(Finalizing)
		if err := c.lockin.Disconnect(); err != nil {
			log.Println("lock-in disconnect:", err)
		}
	}()
	if err := c.lockin.Configure(cfg.Tau); err != nil {
		return &ConnectError{Device: "lock-in", Err: err}
	}

	settle := time.Duration(5 * cfg.Tau * float64(time.Second))
	steps := cfg.Steps()
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		target := cfg.WavelengthAt(i)
		c.transition(Stepping, target)
		achieved, err := c.mono.MoveTo(target)
		if err != nil {
			return &AcquisitionError{Wavelength: target, Err: err}
		}

		c.transition(Settling, achieved)
		c.sleep(settle)

		c.transition(CheckingSaturation, achieved)
		over, err := c.lockin.Overloaded()
		if err != nil {
			return &AcquisitionError{Wavelength: achieved, Err: err}
		}
		if over {
			// rescale exactly once and settle again; residual
			// saturation is not re-verified
			c.transition(Rescaling, achieved)
			if err := c.lockin.AutoSensitivity(); err != nil {
				return &AcquisitionError{Wavelength: achieved, Err: err}
			}
			c.transition(Resettling, achieved)
			c.sleep(settle)
		}

		c.transition(Acquiring, achieved)
		x, y, err := c.lockin.ReadXY()
		if err != nil {
			return &AcquisitionError{Wavelength: achieved, Err: err}
		}
		c.append(NewRecord(achieved, x, y))
	}
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) transition(s State, wavelength float64) {
	c.mu.Lock()
	c.state = s
	c.wavelength = wavelength
	c.mu.Unlock()
}

func (c *Controller) append(r Record) {
	c.mu.Lock()
	c.records = append(c.records, r)
	c.mu.Unlock()
	if c.progress != nil {
		c.progress(r)
	}
}
