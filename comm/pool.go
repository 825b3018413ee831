/*Package comm provides connection management primitives for lab hardware.

Instruments on the bench are reached over TCP (terminal servers, GPIB-LAN
gateways) or RS-232.  Both are modeled as io.ReadWriteCloser.  A Pool holds
one or more connections to a single device, closing them when idle and
re-opening them on demand; drivers Get a connection per transaction, wrap it
with Terminator/Timeout as their protocol requires, and return it with
ReturnWithError.
*/
package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the address and options needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a
// device that will be closed if they are not in use, and re-opened as needed.
// It is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= cap(conns)
	timeout time.Duration           // time after all conns are returned to free them
	conns   chan io.ReadWriteCloser // the circular buffer of connections
	timer   *time.Timer             // counts down to reclamation
	maker   CreationFunc

	reclaiming bool
	closed     bool
	mu         sync.Mutex
}

// NewPool creates a new Pool of up to maxSize connections made by maker,
// reclaimed after they have all been idle for timeout.
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		timer:   time.NewTimer(timeout),
		maker:   maker,
	}
	p.timer.Stop() // nothing to reclaim yet
	return p
}

// Get retrieves a connection from the pool, blocking until one is available
// if all are in use.  The consumer has exclusive use of the ReadWriter until
// it is returned with Put, ReturnWithError, or discarded with Destroy.
//
// If the error from Get is not nil, the ReadWriter must not be returned to
// the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	// short circuit: a connection is available, hand it out
	if len(p.conns) > 0 {
		ret := <-p.conns
		p.onLease++
		return ret, nil
	}
	if p.onLease == p.maxSize {
		// all given out; wait for one to come back
		p.mu.Unlock()
		ret := <-p.conns
		p.mu.Lock()
		p.onLease++
		return ret, nil
	}
	// none available and they aren't all out; make one and lease it.
	// only count the lease if we are giving out something other than garbage
	c, err := p.maker()
	if err == nil {
		p.onLease++
	}
	return c, err
}

// Put restores a connection to the pool.  It may be reused, or will be freed
// after all connections are returned and the timeout has elapsed.  Junk
// connections (ones that always error) should be Destroy()'d instead.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		rwc.Close()
		return
	}
	p.conns <- rwc
	p.onLease--
	if p.onLease == 0 {
		p.startReclaim()
	}
}

// Destroy immediately frees a connection.  Use instead of Put when the
// connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError sends the connection back to the pool with Put if err is
// nil, otherwise it Destroys it.  Intended for use in a deferred closure
// around a transaction.
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections currently given out.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close closes every idle connection and marks the pool closed; connections
// returned after Close are closed instead of pooled.  Safe to call more than
// once.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.timer.Stop()
	var err error
	for len(p.conns) > 0 {
		c := <-p.conns
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// startReclaim spawns a goroutine that closes all pooled connections after
// the idle timeout.  The caller must hold p.mu.
func (p *Pool) startReclaim() {
	if p.reclaiming {
		return
	}
	p.reclaiming = true
	p.timer.Reset(p.timeout)
	go func() {
		<-p.timer.C
		p.mu.Lock()
		for len(p.conns) > 0 {
			c := <-p.conns
			c.Close()
		}
		p.reclaiming = false
		p.mu.Unlock()
	}()
}
