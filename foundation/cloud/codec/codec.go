// Package codec derives the per mutation encryption keys from the root
// secret, encrypts and decrypts operation payloads, and signs and verifies
// the encrypted records. Nothing in this package reads randomness; the salt
// is always supplied by the caller.
package codec

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltLength is the size of the random salt mixed into every mutation key.
const SaltLength = 32

// KeyLength is the size of a mutation key.
const KeyLength = chacha20poly1305.KeySize

// mutationKeyTag separates mutation key derivation from the signing key
// derivation that uses the same root secret.
const mutationKeyTag = "encloud/mutation-key/v1"

// ErrDecryption is returned when a ciphertext fails authentication under the
// supplied key: it was tampered with or the key is wrong.
var ErrDecryption = errors.New("decryption failed")

// zeroNonce is used for every seal. Each key encrypts exactly one payload,
// so the nonce never repeats under a key.
var zeroNonce [chacha20poly1305.NonceSize]byte

// =============================================================================

// Salt is the per mutation randomness.
type Salt [SaltLength]byte

// String implements the fmt.Stringer interface.
func (s Salt) String() string {
	return hexutil.Encode(s[:])
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s Salt) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *Salt) UnmarshalText(data []byte) error {
	return decodeFixed(string(data), s[:])
}

// Key is a one-way, per mutation symmetric key.
type Key [KeyLength]byte

// MarshalText implements the encoding.TextMarshaler interface.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(k[:])), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (k *Key) UnmarshalText(data []byte) error {
	return decodeFixed(string(data), k[:])
}

// MutationKey computes H(root_secret || index || salt) as a keyed BLAKE2b
// so knowledge of one mutation key says nothing about any other.
func MutationKey(rs identity.RootSecret, index uint64, salt Salt) Key {
	h, _ := blake2b.New256(rs[:])
	h.Write([]byte(mutationKeyTag))

	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	h.Write(idx[:])
	h.Write(salt[:])

	var key Key
	copy(key[:], h.Sum(nil))

	return key
}

// Encrypt seals the payload under the mutation key. The output carries the
// authentication tag so any change to it is detected on Decrypt.
func Encrypt(payload []byte, key Key) []byte {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {

		// New only fails on a wrong key size which the Key type prevents.
		panic(err)
	}

	return aead.Seal(nil, zeroNonce[:], payload, nil)
}

// Decrypt opens the ciphertext with the mutation key.
func Decrypt(ciphertext []byte, key Key) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aead.Overhead() {
		return nil, fmt.Errorf("ciphertext shorter than tag: %w", ErrDecryption)
	}

	payload, err := aead.Open(nil, zeroNonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}

	return payload, nil
}

// =============================================================================

// Sign produces a recoverable signature over the message.
func Sign(message []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	return identity.Sign(message, privateKey)
}

// Verify checks the signature over the message against the signing public key.
func Verify(message []byte, sig []byte, publicKey []byte) bool {
	return identity.VerifyWithKey(sig, message, publicKey)
}

// VerifyCloud checks the signature over the message against the cloud id,
// which is all a relay knows about a cloud.
func VerifyCloud(message []byte, sig []byte, cloudID identity.CloudID) bool {
	return identity.Verify(sig, message, cloudID)
}

// =============================================================================

// SignedEncoding returns the canonical bytes covered by a mutation signature:
// u64 index, salt, u32 ciphertext length, ciphertext, previous digest. All
// integers are big endian.
func SignedEncoding(index uint64, salt Salt, ciphertext []byte, prev identity.Digest) []byte {
	buf := make([]byte, 0, 8+SaltLength+4+len(ciphertext)+identity.DigestLength)

	buf = binary.BigEndian.AppendUint64(buf, index)
	buf = append(buf, salt[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ciphertext)))
	buf = append(buf, ciphertext...)
	buf = append(buf, prev[:]...)

	return buf
}

// Sealed is the output of Seal: the encrypted payload and the signature over
// its canonical encoding.
type Sealed struct {
	Ciphertext []byte
	Signature  []byte
}

// Seal encrypts the payload under the mutation key for index and salt and
// signs the resulting record with the identity's signing key.
func Seal(id identity.Identity, rs identity.RootSecret, index uint64, salt Salt, prev identity.Digest, payload []byte) (Sealed, error) {
	ciphertext := Encrypt(payload, MutationKey(rs, index, salt))

	sig, err := Sign(SignedEncoding(index, salt, ciphertext, prev), id.PrivateKey)
	if err != nil {
		return Sealed{}, fmt.Errorf("signing mutation %d: %w", index, err)
	}

	sealed := Sealed{
		Ciphertext: ciphertext,
		Signature:  sig,
	}

	return sealed, nil
}

// =============================================================================

// decodeFixed decodes a 0x prefixed hex string into dst which must be filled
// exactly.
func decodeFixed(hex string, dst []byte) error {
	b, err := hexutil.Decode(hex)
	if err != nil {
		return fmt.Errorf("decoding %q: %v: %w", hex, err, identity.ErrMalformedInput)
	}

	if len(b) != len(dst) {
		return fmt.Errorf("decoded length %d, exp %d: %w", len(b), len(dst), identity.ErrMalformedInput)
	}

	copy(dst, b)
	return nil
}
