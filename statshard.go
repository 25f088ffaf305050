// Package statshard implements a sharded statsd client.
//
// Measurements are formatted into the statsd wire protocol, probabilistically
// sampled, and routed to one of several configured shards by a stable CRC-32
// hash of the sanitized stat name, so a given stat always lands on the same
// endpoint regardless of process or host. Shards may coalesce messages into
// larger datagrams, and a shard configured with a key authenticates every
// payload with an HMAC-SHA256 envelope.
//
// Delivery is fire-and-forget: transport failures are reported to the
// client's logger and swallowed, never returned to the measurement call
// site. The only setup-time error surface is AddShard, which rejects
// malformed addresses.
package statshard

import (
	cryptorand "crypto/rand"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
)

// DefaultBufferSize is the buffer capacity, in bytes, used by
// EnableBuffering when none is given. It fits comfortably in a single
// unfragmented UDP datagram on common networks.
const DefaultBufferSize = 512

const (
	typeCounter   = "c"
	typeTiming    = "ms"
	typeGauge     = "g"
	typeHistogram = "h"
)

// TransportFactory opens a Transport for one shard endpoint.
type TransportFactory func(host string, port int) Transport

// Client routes measurements to a set of statsd shards. Construct one with
// New and add shards before reporting traffic; the shard set must be stable
// while measurements flow, since routing depends on the shard count.
//
// All methods are safe for concurrent use: a single mutex guards the
// namespace, the shard list, the per-shard buffers, and the random source,
// since a metrics client is shared across goroutines in practice.
type Client struct {
	mtx          sync.Mutex
	logger       log.Logger
	namespace    string
	shards       []*Shard
	buffering    bool
	bufferSize   int
	randFloat    func() float64
	now          func() time.Time
	nonce        io.Reader
	newTransport TransportFactory
}

// Option changes some behavior of the Client. Applied at construction only.
type Option func(*Client)

// WithNamespace sets a prefix prepended (dot-separated) to every stat name
// at format time. The namespace does not participate in shard selection.
func WithNamespace(namespace string) Option {
	return func(c *Client) { c.namespace = namespace }
}

// WithTransport overrides how shard transports are constructed. The default
// dials UDP to the shard's host and port. Primarily useful for tests.
func WithTransport(f TransportFactory) Option {
	return func(c *Client) { c.newTransport = f }
}

// WithRandom overrides the uniform [0,1) source consulted by the sampling
// gate. The default is a client-owned seeded source. Primarily useful for
// tests that need to force or suppress delivery.
func WithRandom(f func() float64) Option {
	return func(c *Client) { c.randFloat = f }
}

// WithNow overrides the clock used for signing timestamps and by Time.
func WithNow(f func() time.Time) Option {
	return func(c *Client) { c.now = f }
}

// WithNonceReader overrides the source of signing nonces. The default is
// crypto/rand.
func WithNonceReader(r io.Reader) Option {
	return func(c *Client) { c.nonce = r }
}

// New returns a Client with no shards. The logger receives transport
// failures; use log.NewNopLogger to discard them.
func New(logger log.Logger, options ...Option) *Client {
	c := &Client{
		logger:     logger,
		bufferSize: DefaultBufferSize,
		randFloat:  rand.New(rand.NewSource(time.Now().UnixNano())).Float64,
		now:        time.Now,
		nonce:      cryptorand.Reader,
	}
	c.newTransport = func(host string, port int) Transport {
		return NewConnTransport(net.Dial, "udp", net.JoinHostPort(host, strconv.Itoa(port)), logger)
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// AddShard appends a shard endpoint. The key, when non-nil, enables payload
// signing for that shard. Returns a ConfigError for a malformed host or an
// out-of-range port.
func (c *Client) AddShard(host string, port int, key []byte) error {
	if err := validateHost(host); err != nil {
		return &ConfigError{Spec: host, Err: err}
	}
	if err := validatePort(port); err != nil {
		return &ConfigError{Spec: net.JoinHostPort(host, strconv.Itoa(port)), Err: err}
	}
	s := &Shard{
		host:      host,
		port:      port,
		key:       append([]byte(nil), key...),
		logger:    c.logger,
		transport: c.newTransport(host, port),
	}
	if len(s.key) > 0 {
		s.signer = &signer{key: s.key, now: c.now, nonce: c.nonce}
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.buffering {
		s.buf = newBuffer(c.bufferSize, s.deliver)
	}
	c.shards = append(c.shards, s)
	return nil
}

// AddShardSpec appends a shard from a "host[:port][:key]" descriptor. The
// port defaults to DefaultPort.
func (c *Client) AddShardSpec(desc string) error {
	host, port, key, err := parseShardSpec(desc)
	if err != nil {
		return &ConfigError{Spec: desc, Err: err}
	}
	if err := c.AddShard(host, port, key); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Spec = desc
		}
		return err
	}
	return nil
}

// SetNamespace changes the stat name prefix. The empty string clears it.
func (c *Client) SetNamespace(namespace string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.namespace = namespace
}

// EnableBuffering wraps every shard with a buffer of the given capacity in
// bytes, so multiple messages coalesce into one transport write. A
// capacity of zero or less means DefaultBufferSize. No-op when buffering
// is already enabled.
func (c *Client) EnableBuffering(capacity int) {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.buffering {
		return
	}
	c.buffering = true
	c.bufferSize = capacity
	for _, s := range c.shards {
		s.buf = newBuffer(capacity, s.deliver)
	}
}

// DisableBuffering flushes every buffer and returns shards to unbuffered
// delivery. No-op when buffering is not enabled.
func (c *Client) DisableBuffering() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.buffering {
		return
	}
	c.buffering = false
	for _, s := range c.shards {
		s.buf.flush()
		s.buf = nil
	}
}

// FlushAll forces every buffered shard to write its pending messages.
// No-op when buffering is disabled.
func (c *Client) FlushAll() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, s := range c.shards {
		if s.buf != nil {
			s.buf.flush()
		}
	}
}

// Increment counts one occurrence of stat.
func (c *Client) Increment(stat string, rate float64) {
	c.Count(stat, 1, rate)
}

// Decrement counts one fewer occurrence of stat.
func (c *Client) Decrement(stat string, rate float64) {
	c.Count(stat, -1, rate)
}

// Count adjusts stat by delta.
func (c *Client) Count(stat string, delta int64, rate float64) {
	c.emit(stat, strconv.FormatInt(delta, 10), typeCounter, rate)
}

// Gauge records an instantaneous value for stat. Gauges are not sampled:
// dropping an absolute reading would leave the server with a stale value.
func (c *Client) Gauge(stat string, value float64) {
	c.emit(stat, formatFloat(value), typeGauge, 1)
}

// Timing records a duration for stat, in milliseconds.
func (c *Client) Timing(stat string, ms int64, rate float64) {
	c.emit(stat, strconv.FormatInt(ms, 10), typeTiming, rate)
}

// Histogram records a value in stat's distribution.
func (c *Client) Histogram(stat string, value float64, rate float64) {
	c.emit(stat, formatFloat(value), typeHistogram, rate)
}

// Time runs fn, reports its wall-clock duration as a timing on stat with
// sub-millisecond precision, and returns fn's error verbatim. Reporting —
// or being sampled out — never affects the returned error.
func (c *Client) Time(stat string, rate float64, fn func() error) error {
	begin := c.now()
	err := fn()
	elapsed := c.now().Sub(begin)
	c.emit(stat, formatFloat(float64(elapsed)/float64(time.Millisecond)), typeTiming, rate)
	return err
}

// emit is the dispatch pipeline: sample gate, sanitize, format, shard
// select, then buffer or deliver. With no shards configured a measurement
// is a silent no-op, the same posture as a sampled-out measurement.
func (c *Client) emit(stat, value, typ string, rate float64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.sampled(rate) {
		return
	}
	if len(c.shards) == 0 {
		return
	}
	name := sanitizeStat(stat)
	s := c.shardFor(name)
	msg := c.message(name, value, typ, rate)
	if s.buf != nil {
		s.buf.add(msg)
		return
	}
	s.deliver(msg)
}

// message renders {namespace.}{name}:{value}|{type}[|@{rate}]. The rate
// suffix appears only for rates below one.
func (c *Client) message(name, value, typ string, rate float64) []byte {
	b := make([]byte, 0, len(c.namespace)+len(name)+len(value)+len(typ)+12)
	if c.namespace != "" {
		b = append(b, c.namespace...)
		b = append(b, '.')
	}
	b = append(b, name...)
	b = append(b, ':')
	b = append(b, value...)
	b = append(b, '|')
	b = append(b, typ...)
	if rate < 1 {
		b = append(b, '|', '@')
		b = append(b, formatFloat(rate)...)
	}
	return b
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
