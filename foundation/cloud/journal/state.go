package journal

import (
	"fmt"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// MutationState represents where a mutation ended up after being offered
// to the journal.
//
//	Received -> SignatureChecked -> ChainLinked -> Accepted
//	Received -> Rejected
//	Received -> SignatureChecked -> Buffered
//	Accepted -> Compromised
type MutationState int

// Set of mutation states.
const (
	Received MutationState = iota
	SignatureChecked
	ChainLinked
	Accepted
	Rejected
	Buffered
	Duplicate
	Compromised
)

var mutationStates = map[MutationState]string{
	Received:         "received",
	SignatureChecked: "signature_checked",
	ChainLinked:      "chain_linked",
	Accepted:         "accepted",
	Rejected:         "rejected",
	Buffered:         "buffered",
	Duplicate:        "duplicate",
	Compromised:      "compromised",
}

// String implements the fmt.Stringer interface.
func (s MutationState) String() string {
	if v, exists := mutationStates[s]; exists {
		return v
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s MutationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *MutationState) UnmarshalText(data []byte) error {
	for k, v := range mutationStates {
		if v == string(data) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown mutation state %q", data)
}

// =============================================================================

// CloudState represents the health of a cloud's journal.
type CloudState int

// Set of cloud states. Compromised is terminal.
const (
	Active CloudState = iota
	CloudCompromised
)

// String implements the fmt.Stringer interface.
func (s CloudState) String() string {
	if s == CloudCompromised {
		return "compromised"
	}
	return "active"
}

// MarshalText implements the encoding.TextMarshaler interface.
func (s CloudState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (s *CloudState) UnmarshalText(data []byte) error {
	switch string(data) {
	case "active":
		*s = Active
	case "compromised":
		*s = CloudCompromised
	default:
		return fmt.Errorf("unknown cloud state %q", data)
	}
	return nil
}

// =============================================================================

// Outcome is the result of offering a single mutation to the journal.
type Outcome struct {
	Index  uint64          `json:"index"`
	Digest identity.Digest `json:"digest"`
	Result Result          `json:"result"`
	State  MutationState   `json:"state"`
	Reason string          `json:"reason,omitempty"`
}

// BatchReport summarizes the offering of a batch of mutations. Halted is set
// when an invalid signature or a chain mismatch stopped processing; the
// remaining mutations of the batch were discarded.
type BatchReport struct {
	Outcomes   []Outcome `json:"outcomes"`
	Accepted   int       `json:"accepted"`
	Buffered   int       `json:"buffered"`
	Duplicates int       `json:"duplicates"`
	Rejected   int       `json:"rejected"`
	Halted     bool      `json:"halted"`
	HaltedBy   Result    `json:"halted_by,omitempty"`
	Discarded  int       `json:"discarded"`
}

func (br *BatchReport) add(o Outcome) {
	br.Outcomes = append(br.Outcomes, o)

	switch o.State {
	case Accepted:
		br.Accepted++
	case Buffered:
		br.Buffered++
	case Duplicate:
		br.Duplicates++
	case Rejected:
		br.Rejected++
	}
}

// Status is the negotiation baseline of a journal. TailIndex is -1 for an
// empty journal, in which case TailDigest is the zero digest.
type Status struct {
	CloudID    identity.CloudID `json:"cloud_id"`
	Length     uint64           `json:"length"`
	TailIndex  int64            `json:"tail_index"`
	TailDigest identity.Digest  `json:"tail_digest"`
	State      CloudState       `json:"state"`
	Buffered   int              `json:"buffered"`
}
