// Package identity derives the signing identity of an encrypted cloud from
// its 32 byte root secret and provides the signature helpers that only need
// public material to verify.
package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SecretLength is the exact size of a root secret.
const SecretLength = 32

// signingKeyTag separates the signing key derivation from every other use
// of the root secret.
const signingKeyTag = "encloud/signing-key/v1"

// maxDerivationAttempts bounds the search for a valid secp256k1 scalar. The
// chance of a BLAKE2b output falling outside the curve order is ~2^-128, so
// this loop runs exactly once in practice.
const maxDerivationAttempts = 256

// ErrMalformedInput is returned when a key, identifier or record does not
// have the exact shape required. It is raised before any crypto operation.
var ErrMalformedInput = errors.New("malformed input")

// =============================================================================

// RootSecret is the sole source of authority for a cloud. It never leaves
// the devices that own the cloud.
type RootSecret [SecretLength]byte

// NewRootSecret generates a new random root secret.
func NewRootSecret() (RootSecret, error) {
	var rs RootSecret
	if _, err := rand.Read(rs[:]); err != nil {
		return RootSecret{}, fmt.Errorf("reading random: %w", err)
	}

	return rs, nil
}

// ParseRootSecret copies the raw bytes into a root secret. Anything other
// than exactly 32 bytes is rejected.
func ParseRootSecret(b []byte) (RootSecret, error) {
	if len(b) != SecretLength {
		return RootSecret{}, fmt.Errorf("root secret length %d, exp %d: %w", len(b), SecretLength, ErrMalformedInput)
	}

	var rs RootSecret
	copy(rs[:], b)

	return rs, nil
}

// LoadRootSecret reads a hex encoded root secret from the specified file.
func LoadRootSecret(path string) (RootSecret, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RootSecret{}, err
	}

	b, err := hexutil.Decode("0x" + strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
	if err != nil {
		return RootSecret{}, fmt.Errorf("decoding root secret: %v: %w", err, ErrMalformedInput)
	}

	return ParseRootSecret(b)
}

// SaveRootSecret writes the root secret hex encoded to the specified file
// readable only by the owner.
func SaveRootSecret(path string, rs RootSecret) error {
	return os.WriteFile(path, []byte(hexutil.Encode(rs[:])[2:]), 0600)
}

// =============================================================================

// Identity is the public and private signing material for a cloud. The same
// root secret always yields the same identity.
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  []byte
	CloudID    CloudID
}

// Derive computes the identity for the specified root secret.
func Derive(rs RootSecret) (Identity, error) {
	var counter [4]byte

	for attempt := uint32(0); attempt < maxDerivationAttempts; attempt++ {
		binary.BigEndian.PutUint32(counter[:], attempt)

		seed := Hash([]byte(signingKeyTag), rs[:], counter[:])

		privateKey, err := crypto.ToECDSA(seed[:])
		if err != nil {
			continue
		}

		publicKey := crypto.CompressPubkey(&privateKey.PublicKey)

		id := Identity{
			PrivateKey: privateKey,
			PublicKey:  publicKey,
			CloudID:    CloudIDFromPublicKey(publicKey),
		}

		return id, nil
	}

	return Identity{}, errors.New("unable to derive a signing key from root secret")
}

// Sign produces a recoverable signature over the message with the identity's
// signing key.
func (id Identity) Sign(message []byte) ([]byte, error) {
	return Sign(message, id.PrivateKey)
}

// =============================================================================

// CloudIDFromPublicKey returns the cloud identifier for a compressed public key.
func CloudIDFromPublicKey(publicKey []byte) CloudID {
	return CloudID(Hash(publicKey))
}

// Sign uses the specified private key to sign the message.
func Sign(message []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("missing private key: %w", ErrMalformedInput)
	}

	sig, err := crypto.Sign(stamp(message), privateKey)
	if err != nil {
		return nil, err
	}

	return sig, nil
}

// Verify checks the signature over the message was produced by the key that
// owns the specified cloud. Only public material is required since the
// public key is recovered from the signature itself.
func Verify(sig []byte, message []byte, cloudID CloudID) bool {
	if !validSignatureShape(sig) {
		return false
	}

	data := stamp(message)

	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return false
	}

	compressed := crypto.CompressPubkey(publicKey)
	if CloudIDFromPublicKey(compressed) != cloudID {
		return false
	}

	// VerifySignature rejects high S values so a signature can't be
	// re-encoded into a second valid form by a relay.
	return crypto.VerifySignature(compressed, data, sig[:crypto.RecoveryIDOffset])
}

// VerifyWithKey checks the signature over the message against the specified
// compressed or uncompressed public key.
func VerifyWithKey(sig []byte, message []byte, publicKey []byte) bool {
	if !validSignatureShape(sig) {
		return false
	}

	return crypto.VerifySignature(publicKey, stamp(message), sig[:crypto.RecoveryIDOffset])
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents the message with the
// encloud stamp embedded into the final hash.
func stamp(message []byte) []byte {

	// Hash the message into a 32 byte array. This will provide a data
	// length consistency with all messages.
	h := Hash(message)

	// This stamp is used so signatures we produce are always unique to
	// encloud and can't be replayed as an Ethereum or Ardan signature.
	stamp := []byte("\x19Encloud Signed Mutation:\n32")

	return crypto.Keccak256(stamp, h[:])
}

// validSignatureShape checks the length and recovery id of a signature.
func validSignatureShape(sig []byte) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}

	v := sig[crypto.RecoveryIDOffset]
	return v == 0 || v == 1
}
