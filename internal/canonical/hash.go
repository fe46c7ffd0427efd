package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashAlgorithm names the digest function used for content identity.
type HashAlgorithm string

// SHA256 is the only supported algorithm. The version lives in the
// runpack manifest, so a future migration does not break old packs.
const SHA256 HashAlgorithm = "sha256"

// HashDigest is a self-describing digest as it appears on the wire.
type HashDigest struct {
	Algorithm HashAlgorithm `json:"algorithm"`
	Value     string        `json:"value"`
}

// String renders the digest as "algorithm:hex".
func (d HashDigest) String() string {
	return fmt.Sprintf("%s:%s", d.Algorithm, d.Value)
}

// IsZero reports whether the digest is unset.
func (d HashDigest) IsZero() bool {
	return d.Algorithm == "" && d.Value == ""
}

// Equal compares two digests. Both fields must match.
func (d HashDigest) Equal(other HashDigest) bool {
	return d.Algorithm == other.Algorithm && d.Value == other.Value
}

// HashBytes computes the SHA-256 digest of raw bytes.
func HashBytes(data []byte) HashDigest {
	sum := sha256.Sum256(data)
	return HashDigest{Algorithm: SHA256, Value: hex.EncodeToString(sum[:])}
}

// HashValue canonicalizes v and hashes the canonical bytes.
func HashValue(v any) (HashDigest, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return HashDigest{}, err
	}
	return HashBytes(data), nil
}

// MustHashValue is like HashValue but panics on error.
// Use only for values known to be canonicalizable (e.g. in tests).
func MustHashValue(v any) HashDigest {
	d, err := HashValue(v)
	if err != nil {
		panic(fmt.Sprintf("MustHashValue: %v", err))
	}
	return d
}

// VerifyBytes reports whether data hashes to want.
func VerifyBytes(data []byte, want HashDigest) (bool, error) {
	if want.Algorithm != SHA256 {
		return false, fmt.Errorf("unsupported hash algorithm %q", want.Algorithm)
	}
	return HashBytes(data).Equal(want), nil
}
