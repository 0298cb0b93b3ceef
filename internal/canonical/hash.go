package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed hashing. The version suffix
// leaves room for algorithm migration without colliding with old hashes.
const (
	// DomainReplay scopes sequence-integrity hashes over replay envelopes.
	DomainReplay = "lightsout/replay/v1"
)

// Hash computes the domain-separated SHA-256 of v's canonical form and
// returns it hex encoded. Format: SHA256(domain || 0x00 || canonical).
// The null byte keeps the domain/payload boundary unambiguous.
func Hash(domain string, v Value) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: %w", err)
	}
	return HashBytes(domain, data), nil
}

// HashBytes hashes already-canonical bytes under a domain. Callers that
// did not produce data via Marshal get unstable hashes; use Hash.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MustHash is Hash but panics on error. Test helper; inputs built from
// literal Objects cannot fail to marshal.
func MustHash(domain string, v Value) string {
	s, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return s
}
