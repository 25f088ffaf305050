package statshard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"
	"time"
)

const (
	digestSize = sha256.Size
	// envelope header: 8-byte little-endian unix timestamp, 4-byte nonce.
	envHeaderSize = 12
)

// signer authenticates payloads for one keyed shard. The MAC is built
// lazily on first use so unkeyed configurations never pay for the
// primitives, and is reused across calls, which is safe because signing
// happens under the client's lock.
type signer struct {
	key   []byte
	now   func() time.Time
	nonce io.Reader
	mac   hash.Hash
}

// sign wraps msg in an authenticated envelope:
//
//	HMAC-SHA256(key, envelope) || envelope
//	envelope = timestamp || nonce || msg
//
// The timestamp lets a verifying server reject stale payloads; the nonce
// is fresh per call to prevent replay correlation.
func (s *signer) sign(msg []byte) []byte {
	env := make([]byte, envHeaderSize, envHeaderSize+len(msg))
	binary.LittleEndian.PutUint64(env[:8], uint64(s.now().Unix()))
	// crypto/rand does not fail in practice; a short read leaves nonce
	// bytes zeroed rather than dropping the measurement.
	_, _ = io.ReadFull(s.nonce, env[8:envHeaderSize])
	env = append(env, msg...)
	if s.mac == nil {
		s.mac = hmac.New(sha256.New, s.key)
	}
	s.mac.Reset()
	s.mac.Write(env)
	out := make([]byte, 0, digestSize+len(env))
	out = s.mac.Sum(out)
	return append(out, env...)
}

// Verify reports whether payload is a well-formed signed envelope whose
// digest matches key. Suitable for the receiving side of keyed shards.
func Verify(key, payload []byte) bool {
	if len(payload) < digestSize+envHeaderSize {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload[digestSize:])
	return hmac.Equal(mac.Sum(nil), payload[:digestSize])
}
