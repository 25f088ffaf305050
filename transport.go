package statshard

import (
	"net"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

// Transport delivers one finished payload to a shard endpoint. Delivery is
// best effort: the client logs and swallows whatever Send returns, and no
// implementation should retry or block on a dead peer.
type Transport interface {
	Send(p []byte) error
}

// Dialer dials a network and address. net.Dial is a good default.
type Dialer func(network, address string) (net.Conn, error)

// ErrNotConnected is returned by ConnTransport.Send while no connection is
// available, typically between a failed dial and the next backoff attempt.
var ErrNotConnected = errors.New("statshard: no connection available")

// ConnTransport owns a single net.Conn to a shard and redials it as
// needed. A write error invalidates the connection and triggers an
// immediate redial; dial failures are retried with exponential backoff,
// capped at one minute. Send never waits for a connection: while the conn
// is down it fails fast with ErrNotConnected and the payload is lost,
// which is the intended fire-and-forget behavior.
type ConnTransport struct {
	dial    Dialer
	network string
	address string
	after   func(time.Duration) <-chan time.Time
	logger  log.Logger

	takec chan net.Conn
	putc  chan error
	quitc chan chan struct{}
}

// NewConnTransport returns a started ConnTransport for the given endpoint.
func NewConnTransport(dialer Dialer, network, address string, logger log.Logger) *ConnTransport {
	return newConnTransport(dialer, network, address, time.After, logger)
}

func newConnTransport(dialer Dialer, network, address string, after func(time.Duration) <-chan time.Time, logger log.Logger) *ConnTransport {
	t := &ConnTransport{
		dial:    dialer,
		network: network,
		address: address,
		after:   after,
		logger:  logger,

		takec: make(chan net.Conn),
		putc:  make(chan error),
		quitc: make(chan chan struct{}),
	}
	go t.loop()
	return t
}

// Send writes p as one payload on the managed connection.
func (t *ConnTransport) Send(p []byte) error {
	conn := <-t.takec
	if conn == nil {
		return ErrNotConnected
	}
	_, err := conn.Write(p)
	t.putc <- err
	return err
}

// Stop tears down the transport and closes any live connection. Send must
// not be called after Stop.
func (t *ConnTransport) Stop() {
	q := make(chan struct{})
	t.quitc <- q
	<-q
}

func (t *ConnTransport) loop() {
	var (
		conn       = t.dialOnce() // may block slightly
		connc      = make(chan net.Conn)
		reconnectc <-chan time.Time // initially nil
		backoff    = time.Second
	)

	for {
		select {
		case <-reconnectc:
			reconnectc = nil
			go func() { connc <- t.dialOnce() }()

		case conn = <-connc:
			if conn == nil {
				backoff = exponential(backoff)
				reconnectc = t.after(backoff)
			} else {
				backoff = time.Second
				reconnectc = nil
			}

		case t.takec <- conn:
			// might be nil

		case err := <-t.putc:
			if err != nil && conn != nil {
				t.logger.Log("during", "write", "addr", t.address, "err", err)
				conn = nil                            // connection is bad
				reconnectc = t.after(time.Nanosecond) // trigger immediately
			}

		case q := <-t.quitc:
			if conn != nil {
				conn.Close()
			}
			close(q)
			return
		}
	}
}

func (t *ConnTransport) dialOnce() net.Conn {
	conn, err := t.dial(t.network, t.address)
	if err != nil {
		t.logger.Log("during", "dial", "addr", t.address, "err", err)
		return nil
	}
	return conn
}

func exponential(d time.Duration) time.Duration {
	d *= 2
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// Discard is a Transport that drops every payload.
type Discard struct{}

// Send implements Transport.
func (Discard) Send([]byte) error { return nil }
