// Package sr7265 provides control of Signal Recovery 7265 DSP lock-in
// amplifiers.
package sr7265

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oplab/spectro/comm"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

// SR7265 command primer, from Appendix F of the manual
//
// commands are short ASCII mnemonics, CR terminated.  The ones used here:
//
//	ID       identity; the 7265 replies "7265"
//	CP n     input coupling, 0 => AC
//	FLOAT n  1 => input connector shell floated off ground
//	FET n    1 => FET input stage (high impedance)
//	TC. s    filter time constant, floating point seconds
//	XY.      read the in-phase and quadrature outputs, "x,y"
//	ST       status byte; bit 4 set => input overload
//	AS       run an auto-sensitivity cycle
//
// the instrument sits behind a GPIB-LAN gateway or RS-232; either way it
// drops characters if commands arrive faster than about 20 per second, so
// all traffic passes through a rate limiter.
const (
	terminator = '\r'

	// overloadBit is bit 4 of the ST reply
	overloadBit = 0x10

	// commandsPerSecond bounds the command rate the instrument will accept
	commandsPerSecond = 20
)

var (
	// ErrNotConfigured is generated when reads are attempted before
	// Configure has run
	ErrNotConfigured = errors.New("sr7265: detector not configured, call Configure first")

	// ErrWrongInstrument is generated when the ID query returns something
	// other than 7265
	ErrWrongInstrument = errors.New("sr7265: instrument did not identify as a 7265")
)

// ErrBadReply is generated when a reply does not parse
type ErrBadReply struct {
	Cmd  string
	Resp string
}

func (e ErrBadReply) Error() string {
	return fmt.Sprintf("sr7265: unparseable reply to %s: %q", e.Cmd, e.Resp)
}

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 5 * time.Second}
}

// LockIn talks to an SR7265 and satisfies sweep.LockIn
type LockIn struct {
	pool    *comm.Pool
	limiter *rate.Limiter
	timeout time.Duration

	mu         sync.Mutex
	tau        float64
	configured bool
	closed     bool
}

// NewLockIn returns a new LockIn.  addr is a host:port for a GPIB-LAN
// gateway, or a serial device path if connectSerial is true.
func NewLockIn(addr string, connectSerial bool) *LockIn {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, 3*time.Second)
	}
	pool := comm.NewPool(1, 10*time.Second, maker)
	return &LockIn{
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(commandsPerSecond), 1),
		timeout: 5 * time.Second,
	}
}

func (li *LockIn) writeRead(cmd string) (string, error) {
	if d := li.limiter.Reserve().Delay(); d > 0 {
		time.Sleep(d)
	}
	conn, err := li.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { li.pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, li.timeout)
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

// write sends a set command; the 7265 acknowledges every command with a
// prompt line, which is drained and discarded
func (li *LockIn) write(cmd string) error {
	_, err := li.writeRead(cmd)
	return err
}

// Connect establishes the instrument session and verifies the identity of
// the thing on the other end
func (li *LockIn) Connect() error {
	resp, err := li.writeRead("ID")
	if err != nil {
		return err
	}
	if !strings.Contains(resp, "7265") {
		return ErrWrongInstrument
	}
	return nil
}

// Identification returns the raw reply to the ID query
func (li *LockIn) Identification() (string, error) {
	return li.writeRead("ID")
}

// Configure applies AC coupling, floating ground, the FET input stage, and
// the filter time constant, in that order.  All must land before any
// acquisition.
func (li *LockIn) Configure(tau float64) error {
	if tau <= 0 {
		return fmt.Errorf("sr7265: time constant must be positive, got %g", tau)
	}
	for _, cmd := range []string{"CP 0", "FLOAT 1", "FET 1"} {
		if err := li.write(cmd); err != nil {
			return err
		}
	}
	if err := li.write(fmt.Sprintf("TC. %g", tau)); err != nil {
		return err
	}
	li.mu.Lock()
	li.tau = tau
	li.configured = true
	li.mu.Unlock()
	return nil
}

// TimeConstant returns the configured filter time constant in seconds
func (li *LockIn) TimeConstant() (float64, error) {
	li.mu.Lock()
	defer li.mu.Unlock()
	if !li.configured {
		return 0, ErrNotConfigured
	}
	return li.tau, nil
}

// ReadXY returns one in-phase, quadrature pair.  There is no retry here;
// retries are the caller's concern.
func (li *LockIn) ReadXY() (float64, float64, error) {
	li.mu.Lock()
	configured := li.configured
	li.mu.Unlock()
	if !configured {
		return 0, 0, ErrNotConfigured
	}
	resp, err := li.writeRead("XY.")
	if err != nil {
		return 0, 0, err
	}
	pieces := strings.Split(resp, ",")
	if len(pieces) != 2 {
		return 0, 0, ErrBadReply{Cmd: "XY.", Resp: resp}
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(pieces[0]), 64)
	if err != nil {
		return 0, 0, ErrBadReply{Cmd: "XY.", Resp: resp}
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(pieces[1]), 64)
	if err != nil {
		return 0, 0, ErrBadReply{Cmd: "XY.", Resp: resp}
	}
	return x, y, nil
}

// Overloaded reports whether the input stage is clipped, bit 4 of the
// status byte
func (li *LockIn) Overloaded() (bool, error) {
	resp, err := li.writeRead("ST")
	if err != nil {
		return false, err
	}
	status, err := strconv.Atoi(resp)
	if err != nil {
		return false, ErrBadReply{Cmd: "ST", Resp: resp}
	}
	return status&overloadBit != 0, nil
}

// AutoSensitivity fires an auto-sensitivity cycle.  The gain change is
// asynchronous on the hardware; the caller must wait a settling interval
// before trusting subsequent reads.
func (li *LockIn) AutoSensitivity() error {
	return li.write("AS")
}

// Disconnect releases the session; idempotent
func (li *LockIn) Disconnect() error {
	li.mu.Lock()
	defer li.mu.Unlock()
	if li.closed {
		return nil
	}
	li.closed = true
	return li.pool.Close()
}
