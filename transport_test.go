package statshard

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

func TestConnTransport(t *testing.T) {
	var (
		tickc    = make(chan time.Time)
		after    = func(time.Duration) <-chan time.Time { return tickc }
		dialconn = &mockConn{}
		dialerr  = error(nil)
		dialer   = func(string, string) (net.Conn, error) { return dialconn, dialerr }
		tr       = newConnTransport(dialer, "udp", "addr:8125", after, log.NewNopLogger())
	)

	// First send goes through.
	if err := tr.Send([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if want, have := uint64(3), atomic.LoadUint64(&dialconn.wr); want != have {
		t.Errorf("want %d bytes written, have %d", want, have)
	}

	// A write error invalidates the connection.
	dialconn.writeErr = errors.New("peer went away")
	if err := tr.Send([]byte{4}); err == nil {
		t.Fatal("want write error")
	}
	dialconn.writeErr = nil

	// Until the redial fires, sends fail fast.
	for i := 0; i < 10; i++ {
		if err := tr.Send([]byte{5}); err != ErrNotConnected {
			t.Fatalf("want ErrNotConnected, have %v", err)
		}
	}

	// Trigger the reconnect; sends should eventually succeed again.
	tickc <- time.Now()
	if !within(100*time.Millisecond, func() bool {
		return tr.Send([]byte{6}) == nil
	}) {
		t.Fatal("transport never recovered")
	}
	if want, have := uint64(4), atomic.LoadUint64(&dialconn.wr); want != have {
		t.Errorf("want %d bytes written, have %d", want, have)
	}
}

func TestConnTransportDialFailure(t *testing.T) {
	var (
		tickc  = make(chan time.Time)
		after  = func(time.Duration) <-chan time.Time { return tickc }
		dialer = func(string, string) (net.Conn, error) { return nil, errors.New("unreachable") }
		tr     = newConnTransport(dialer, "udp", "addr:8125", after, log.NewNopLogger())
	)

	// Keep the reconnects coming.
	done := make(chan struct{})
	go func() {
		timeout := time.After(100 * time.Millisecond)
		for {
			select {
			case tickc <- time.Now():
			case <-timeout:
				close(done)
				return
			}
		}
	}()

	// The dial never succeeds, so every send fails fast.
	if within(100*time.Millisecond, func() bool {
		return tr.Send([]byte{1}) == nil
	}) {
		t.Fatal("send succeeded despite failing dialer")
	}
	<-done
}

func TestConnTransportStopClosesConn(t *testing.T) {
	var (
		dialconn = &mockConn{}
		dialer   = func(string, string) (net.Conn, error) { return dialconn, nil }
		tr       = NewConnTransport(dialer, "udp", "addr:8125", log.NewNopLogger())
	)
	if err := tr.Send([]byte{1}); err != nil {
		t.Fatal(err)
	}
	tr.Stop()
	if atomic.LoadUint64(&dialconn.closed) != 1 {
		t.Error("Stop did not close the connection")
	}
}

type mockConn struct {
	wr       uint64
	closed   uint64
	writeErr error
}

func (c *mockConn) Read(b []byte) (int, error) { return len(b), nil }

func (c *mockConn) Write(b []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	atomic.AddUint64(&c.wr, uint64(len(b)))
	return len(b), nil
}

func (c *mockConn) Close() error {
	atomic.AddUint64(&c.closed, 1)
	return nil
}

func (c *mockConn) LocalAddr() net.Addr                { return nil }
func (c *mockConn) RemoteAddr() net.Addr               { return nil }
func (c *mockConn) SetDeadline(t time.Time) error      { return nil }
func (c *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func within(d time.Duration, f func() bool) bool {
	deadline := time.Now().Add(d)
	for {
		if time.Now().After(deadline) {
			return false
		}
		if f() {
			return true
		}
		time.Sleep(d / 10)
	}
}
