package identity

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// DigestLength is the size of every digest and cloud identifier.
const DigestLength = 32

// Digest is a BLAKE2b-256 hash.
type Digest [DigestLength]byte

// ZeroDigest is the well known previous digest of the genesis mutation.
var ZeroDigest Digest

// Hash returns the BLAKE2b-256 digest of the concatenated parts.
func Hash(parts ...[]byte) Digest {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}

	var d Digest
	copy(d[:], h.Sum(nil))

	return d
}

// ToDigest parses a 0x prefixed hex string into a digest.
func ToDigest(hex string) (Digest, error) {
	var d Digest
	if err := decodeFixed(hex, d[:]); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// IsZero reports if this is the zero digest.
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// String implements the fmt.Stringer interface.
func (d Digest) String() string {
	return hexutil.Encode(d[:])
}

// MarshalText implements the encoding.TextMarshaler interface.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (d *Digest) UnmarshalText(data []byte) error {
	return decodeFixed(string(data), d[:])
}

// =============================================================================

// CloudID is the public, shareable name of a cloud: the digest of the
// compressed signing public key.
type CloudID [DigestLength]byte

// ToCloudID parses a 0x prefixed hex string into a cloud id.
func ToCloudID(hex string) (CloudID, error) {
	var id CloudID
	if err := decodeFixed(hex, id[:]); err != nil {
		return CloudID{}, err
	}
	return id, nil
}

// String implements the fmt.Stringer interface.
func (id CloudID) String() string {
	return hexutil.Encode(id[:])
}

// Short returns an abbreviated form for logging.
func (id CloudID) Short() string {
	return id.String()[:10]
}

// MarshalText implements the encoding.TextMarshaler interface.
func (id CloudID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (id *CloudID) UnmarshalText(data []byte) error {
	return decodeFixed(string(data), id[:])
}

// Compare orders cloud ids bytewise.
func (id CloudID) Compare(other CloudID) int {
	return bytes.Compare(id[:], other[:])
}

// =============================================================================

// decodeFixed decodes a 0x prefixed hex string into dst which must be filled
// exactly.
func decodeFixed(hex string, dst []byte) error {
	b, err := hexutil.Decode(hex)
	if err != nil {
		return fmt.Errorf("decoding %q: %v: %w", hex, err, ErrMalformedInput)
	}

	if len(b) != len(dst) {
		return fmt.Errorf("decoded length %d, exp %d: %w", len(b), len(dst), ErrMalformedInput)
	}

	copy(dst, b)
	return nil
}
