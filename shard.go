package statshard

import (
	"fmt"
	"hash/crc32"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

// DefaultPort is the conventional statsd port, used when a shard
// descriptor names none.
const DefaultPort = 8125

// ConfigError reports a malformed shard descriptor or address at setup
// time. It indicates a programming or deployment mistake, and is the only
// error the client ever returns.
type ConfigError struct {
	Spec string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("statshard: bad shard %q: %v", e.Spec, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Shard is one configured destination endpoint. Immutable after AddShard;
// the buffer is attached and detached only by the Client under its lock.
type Shard struct {
	host      string
	port      int
	key       []byte
	logger    log.Logger
	transport Transport
	signer    *signer
	buf       *buffer
}

// Addr returns the shard's host:port.
func (s *Shard) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// deliver signs the payload when the shard is keyed and hands it to the
// transport. Send failures are logged and swallowed; delivery is best
// effort by design.
func (s *Shard) deliver(p []byte) {
	if s.signer != nil {
		p = s.signer.sign(p)
	}
	if err := s.transport.Send(p); err != nil {
		s.logger.Log("during", "send", "shard", s.Addr(), "err", err)
	}
}

// shardFor maps a sanitized, unprefixed stat name to a shard. A single
// shard is returned without hashing, which also insulates single-shard
// configurations from hash-function differences. Otherwise the index is
// the name's CRC-32 (the classic zlib polynomial, so routing is stable
// across processes and hosts) modulo the shard count.
//
// Callers hold c.mtx.
func (c *Client) shardFor(name string) *Shard {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	sum := crc32.ChecksumIEEE([]byte(name))
	return c.shards[int(sum%uint32(len(c.shards)))]
}

var hostnameRE = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)

func validateHost(host string) error {
	if host == "" {
		return errors.New("empty host")
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if !hostnameRE.MatchString(host) {
		return errors.Errorf("malformed host %q", host)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return errors.Errorf("port %d out of range", port)
	}
	return nil
}

// parseShardSpec splits a "host[:port][:key]" descriptor. An empty port
// segment ("host::key") keeps the default. The key is opaque bytes.
func parseShardSpec(desc string) (host string, port int, key []byte, err error) {
	parts := strings.SplitN(desc, ":", 3)
	host = parts[0]
	port = DefaultPort
	if len(parts) > 1 && parts[1] != "" {
		port, err = strconv.Atoi(parts[1])
		if err != nil {
			return "", 0, nil, errors.Wrapf(err, "invalid port %q", parts[1])
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		key = []byte(parts[2])
	}
	return host, port, key, nil
}
