package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardanlabs/encloud/foundation/cloud/codec"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxCiphertextSize bounds the ciphertext accepted in a record so a peer
// can't make us allocate unbounded memory from a length prefix.
const MaxCiphertextSize = 16 << 20

// Sizes of the fixed parts of the record layout.
const (
	indexSize     = 8
	lengthSize    = 4
	signatureSize = crypto.SignatureLength
	headerSize    = indexSize + codec.SaltLength + lengthSize
	trailerSize   = identity.DigestLength + signatureSize + identity.DigestLength
)

// ErrNotDisclosed is returned when opening a mutation that carries no
// disclosed key.
var ErrNotDisclosed = errors.New("mutation key not disclosed")

// =============================================================================

// Mutation is one signed, encrypted, chain linked record of a single
// authored change. Once created it is never modified. DisclosedKey sits
// outside the signed and digested encoding so attaching it never changes
// the identity of the record.
type Mutation struct {
	Index        uint64          `json:"index"`
	Salt         codec.Salt      `json:"salt"`
	Ciphertext   hexutil.Bytes   `json:"ciphertext"`
	PrevDigest   identity.Digest `json:"prev_digest"`
	Signature    hexutil.Bytes   `json:"signature"`
	DisclosedKey *codec.Key      `json:"disclosed_key,omitempty"`
}

// NewMutation encrypts the payload and signs the resulting record for the
// specified position in the chain. The salt must be fresh randomness.
func NewMutation(rs identity.RootSecret, id identity.Identity, index uint64, salt codec.Salt, prev identity.Digest, payload []byte) (Mutation, error) {
	sealed, err := codec.Seal(id, rs, index, salt, prev, payload)
	if err != nil {
		return Mutation{}, err
	}

	if len(sealed.Ciphertext) > MaxCiphertextSize {
		return Mutation{}, fmt.Errorf("ciphertext size %d exceeds %d: %w", len(sealed.Ciphertext), MaxCiphertextSize, identity.ErrMalformedInput)
	}

	m := Mutation{
		Index:      index,
		Salt:       salt,
		Ciphertext: sealed.Ciphertext,
		PrevDigest: prev,
		Signature:  sealed.Signature,
	}

	return m, nil
}

// SignedEncoding returns the canonical bytes the signature covers.
func (m Mutation) SignedEncoding() []byte {
	return codec.SignedEncoding(m.Index, m.Salt, m.Ciphertext, m.PrevDigest)
}

// Encoding returns the canonical bytes the digest covers: the signed
// encoding followed by the signature.
func (m Mutation) Encoding() []byte {
	return append(m.SignedEncoding(), m.Signature...)
}

// Digest returns the digest of the mutation's canonical encoding. It is the
// PrevDigest of the next mutation in the chain.
func (m Mutation) Digest() identity.Digest {
	return identity.Hash(m.Encoding())
}

// VerifySignature reports if the signature was produced by the key that owns
// the specified cloud.
func (m Mutation) VerifySignature(cloudID identity.CloudID) bool {
	return codec.VerifyCloud(m.SignedEncoding(), m.Signature, cloudID)
}

// Open decrypts the payload with the mutation key derived from the root
// secret.
func (m Mutation) Open(rs identity.RootSecret) ([]byte, error) {
	return codec.Decrypt(m.Ciphertext, codec.MutationKey(rs, m.Index, m.Salt))
}

// OpenDisclosed decrypts the payload with the disclosed mutation key.
func (m Mutation) OpenDisclosed() ([]byte, error) {
	if m.DisclosedKey == nil {
		return nil, ErrNotDisclosed
	}

	return codec.Decrypt(m.Ciphertext, *m.DisclosedKey)
}

// checkShape validates the fixed sizes of the record.
func (m Mutation) checkShape() error {
	if len(m.Signature) != signatureSize {
		return fmt.Errorf("signature length %d, exp %d: %w", len(m.Signature), signatureSize, identity.ErrMalformedInput)
	}

	if len(m.Ciphertext) > MaxCiphertextSize {
		return fmt.Errorf("ciphertext size %d exceeds %d: %w", len(m.Ciphertext), MaxCiphertextSize, identity.ErrMalformedInput)
	}

	return nil
}

// =============================================================================

// MarshalBinary implements the encoding.BinaryMarshaler interface using the
// persisted record layout: the digest encoding followed by the self digest.
func (m Mutation) MarshalBinary() ([]byte, error) {
	if err := m.checkShape(); err != nil {
		return nil, err
	}

	enc := m.Encoding()
	d := identity.Hash(enc)

	return append(enc, d[:]...), nil
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface. Any
// record that is truncated, over long, or whose self digest does not match
// its contents is rejected as malformed.
func (m *Mutation) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize+trailerSize {
		return fmt.Errorf("record length %d below minimum %d: %w", len(data), headerSize+trailerSize, identity.ErrMalformedInput)
	}

	n := binary.BigEndian.Uint32(data[indexSize+codec.SaltLength:])
	if n > MaxCiphertextSize {
		return fmt.Errorf("ciphertext size %d exceeds %d: %w", n, MaxCiphertextSize, identity.ErrMalformedInput)
	}

	if exp := headerSize + int(n) + trailerSize; len(data) != exp {
		return fmt.Errorf("record length %d, exp %d: %w", len(data), exp, identity.ErrMalformedInput)
	}

	var rec Mutation
	rec.Index = binary.BigEndian.Uint64(data)
	copy(rec.Salt[:], data[indexSize:])

	pos := headerSize
	rec.Ciphertext = append([]byte{}, data[pos:pos+int(n)]...)
	pos += int(n)

	copy(rec.PrevDigest[:], data[pos:])
	pos += identity.DigestLength

	rec.Signature = append([]byte{}, data[pos:pos+signatureSize]...)
	pos += signatureSize

	var self identity.Digest
	copy(self[:], data[pos:])

	if rec.Digest() != self {
		return fmt.Errorf("record self digest mismatch: %w", identity.ErrMalformedInput)
	}

	*m = rec
	return nil
}
