package comm

import (
	"bufio"
	"io"
	"time"
)

// deadliner is any connection which supports deadlines (net.Conn does)
type deadliner interface {
	SetDeadline(t time.Time) error
}

type terminator struct {
	rw     io.ReadWriter
	reader *bufio.Reader
	rx, tx byte
}

// NewTerminator wraps rw such that writes have tx appended and reads consume
// through rx, which is stripped along with any preceding carriage return.
// The instruments this package is used with speak line-oriented ASCII; the
// wrapper lets drivers deal in naked payloads.
func NewTerminator(rw io.ReadWriter, rx, tx byte) io.ReadWriter {
	return &terminator{rw: rw, reader: bufio.NewReader(rw), rx: rx, tx: tx}
}

func (t *terminator) Write(b []byte) (int, error) {
	n, err := t.rw.Write(append(b, t.tx))
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

func (t *terminator) Read(b []byte) (int, error) {
	buf, err := t.reader.ReadBytes(t.rx)
	if err != nil {
		return copy(b, buf), err
	}
	buf = buf[:len(buf)-1]
	if len(buf) > 0 && buf[len(buf)-1] == '\r' {
		buf = buf[:len(buf)-1]
	}
	return copy(b, buf), nil
}

type timeoutRW struct {
	rw io.ReadWriter
	d  deadliner
	t  time.Duration
}

// NewTimeout wraps rw such that every Read and Write first pushes the
// connection deadline t into the future.  Connections that do not support
// deadlines (serial ports; their timeout lives in the serial config) are
// returned unwrapped.
func NewTimeout(rw io.ReadWriter, t time.Duration) (io.ReadWriter, error) {
	d, ok := rw.(deadliner)
	if !ok {
		return rw, nil
	}
	return &timeoutRW{rw: rw, d: d, t: t}, nil
}

func (t *timeoutRW) Read(b []byte) (int, error) {
	if err := t.d.SetDeadline(time.Now().Add(t.t)); err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

func (t *timeoutRW) Write(b []byte) (int, error) {
	if err := t.d.SetDeadline(time.Now().Add(t.t)); err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}
