// Package bentham provides control of Bentham TMc300 monochromators.
package bentham

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oplab/spectro/comm"
	"github.com/tarm/serial"
)

// TMc300 command primer
//
// the bench exposes the benhw SDK verbs over an ASCII bridge.  Commands are
// single CR-terminated lines, replies a single CR-terminated line:
//
//	INIT         load and build the system model; replies OK or Ennn
//	GOTO <nm>    slew the grating; replies the achieved wavelength
//	PARK         drive the grating to its rest position; replies OK
//
// nonzero SDK return codes come back as Ennn with the code in decimal.
const (
	// Overshoot is the backlash takeup margin in nanometers.  Decreasing
	// moves first overshoot below the target by this much so the gear
	// train always engages from the same side.
	Overshoot = 2.0

	// backlashSettle is the pause after the overshoot move, long enough
	// for the drive mechanics to come to rest before the approach move
	backlashSettle = 100 * time.Millisecond

	terminator = '\r'
)

var errmap = map[int]string{
	1: "hardware communication failure",
	2: "system model missing or malformed",
	3: "wavelength out of range",
	4: "grating drive stalled",
}

// ErrBenchCode is generated when the bridge replies Ennn
type ErrBenchCode struct {
	Code int
}

func (e ErrBenchCode) Error() string {
	if s, ok := errmap[e.Code]; ok {
		return fmt.Sprintf("bentham: E%d %s", e.Code, s)
	}
	return fmt.Sprintf("bentham: E%d unknown error code", e.Code)
}

// ErrBadResponse is generated when a reply is neither OK, Ennn, nor a number
type ErrBadResponse struct {
	Resp string
}

func (e ErrBadResponse) Error() string {
	return fmt.Sprintf("bentham: unexpected response %q", e.Resp)
}

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 10 * time.Second}
}

// Monochromator talks to a TMc300 and satisfies sweep.Monochromator.
// A slewing grating can take several seconds to arrive, hence the long
// timeout.
type Monochromator struct {
	pool    *comm.Pool
	timeout time.Duration

	mu sync.Mutex
	// last achieved wavelength; meaningless until moved is true
	wavelength float64
	moved      bool
	parked     bool
}

// NewMonochromator returns a new Monochromator.  addr is a host:port for a
// terminal server, or a serial device path if connectSerial is true.
func NewMonochromator(addr string, connectSerial bool) *Monochromator {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	pool := comm.NewPool(1, 30*time.Second, maker)
	return &Monochromator{pool: pool, timeout: 30 * time.Second}
}

func (m *Monochromator) writeRead(cmd string) (string, error) {
	conn, err := m.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { m.pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, m.timeout)
	if err != nil {
		return "", err
	}
	wrap = comm.NewTerminator(wrap, terminator, terminator)
	_, err = io.WriteString(wrap, cmd)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 80)
	n, err := wrap.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// expectOK sends a command whose only healthy reply is OK
func (m *Monochromator) expectOK(cmd string) error {
	resp, err := m.writeRead(cmd)
	if err != nil {
		return err
	}
	if resp == "OK" {
		return nil
	}
	if code, ok := benchCode(resp); ok {
		return ErrBenchCode{Code: code}
	}
	return ErrBadResponse{Resp: resp}
}

func benchCode(resp string) (int, bool) {
	if !strings.HasPrefix(resp, "E") {
		return 0, false
	}
	code, err := strconv.Atoi(resp[1:])
	if err != nil {
		return 0, false
	}
	return code, true
}

// selectWavelength commands a single slew and parses the achieved wavelength
func (m *Monochromator) selectWavelength(nanometers float64) (float64, error) {
	resp, err := m.writeRead(fmt.Sprintf("GOTO %.3f", nanometers))
	if err != nil {
		return 0, err
	}
	if code, ok := benchCode(resp); ok {
		return 0, ErrBenchCode{Code: code}
	}
	achieved, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, ErrBadResponse{Resp: resp}
	}
	return achieved, nil
}

// Initialize loads and builds the system model on the bench
func (m *Monochromator) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.expectOK("INIT")
	if err == nil {
		m.parked = false
	}
	return err
}

// MoveTo slews the grating to the target wavelength and returns the achieved
// one.  A decreasing move relative to the last achieved position is preceded
// by an overshoot to max(0, target-Overshoot) and a mechanical settle, so
// drive backlash never biases the final position.
func (m *Monochromator) MoveTo(nanometers float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.moved && nanometers < m.wavelength {
		if _, err := m.selectWavelength(math.Max(0, nanometers-Overshoot)); err != nil {
			return 0, err
		}
		time.Sleep(backlashSettle)
	}
	achieved, err := m.selectWavelength(nanometers)
	if err != nil {
		return 0, err
	}
	m.wavelength = achieved
	m.moved = true
	return achieved, nil
}

// Wavelength returns the last achieved wavelength; ok is false before the
// first move
func (m *Monochromator) Wavelength() (nanometers float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wavelength, m.moved
}

// Shutdown parks the grating and closes the connection pool.  It is
// idempotent and best-effort: a bench that was never initialized still has
// its pool torn down.
func (m *Monochromator) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.parked {
		return nil
	}
	m.parked = true
	err := m.expectOK("PARK")
	if cerr := m.pool.Close(); err == nil {
		err = cerr
	}
	return err
}
