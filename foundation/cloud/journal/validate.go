package journal

import (
	"fmt"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// Result is the outcome of validating an incoming mutation against the
// known tail of a journal.
type Result int

// Set of possible validation results.
const (
	Valid Result = iota
	InvalidSignature
	IndexMismatch
	ChainMismatch
)

var results = map[Result]string{
	Valid:            "valid",
	InvalidSignature: "invalid_signature",
	IndexMismatch:    "index_mismatch",
	ChainMismatch:    "chain_mismatch",
}

// String implements the fmt.Stringer interface.
func (r Result) String() string {
	if s, exists := results[r]; exists {
		return s
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// MarshalText implements the encoding.TextMarshaler interface.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (r *Result) UnmarshalText(data []byte) error {
	for k, v := range results {
		if v == string(data) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown result %q", data)
}

// =============================================================================

// Validate checks a candidate mutation against the tail digest and the next
// index of a journal. The signature is checked first since an unverifiable
// mutation is invalid regardless of where it claims to sit. A mutation for
// any index other than the next one is an IndexMismatch; the caller decides
// if it is a duplicate, a fork or should be buffered. A validly signed
// mutation for the next index that does not link to the tail proves the key
// signed a different predecessor and is a ChainMismatch.
func Validate(m Mutation, cloudID identity.CloudID, tailDigest identity.Digest, nextIndex uint64) Result {
	if m.checkShape() != nil || !m.VerifySignature(cloudID) {
		return InvalidSignature
	}

	if m.Index != nextIndex {
		return IndexMismatch
	}

	if m.PrevDigest != tailDigest {
		return ChainMismatch
	}

	return Valid
}

// VerifyChain validates the mutations as a complete journal starting from
// genesis. It returns the number of mutations that form a valid prefix and
// an error describing the first one that does not.
func VerifyChain(cloudID identity.CloudID, mutations []Mutation) (int, error) {
	tail := identity.ZeroDigest

	for i, m := range mutations {
		if r := Validate(m, cloudID, tail, uint64(i)); r != Valid {
			return i, fmt.Errorf("mutation[%d]: %s: %w", i, r, ErrInvalidChain)
		}
		tail = m.Digest()
	}

	return len(mutations), nil
}
