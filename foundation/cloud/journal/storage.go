package journal

import (
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// Storage interface represents the behavior required to be implemented by
// any package providing support for persisting a cloud's journal. Write
// stores a mutation at its index, replacing any copy already held for that
// index; the journal only ever replaces a record to attach a disclosed key.
type Storage interface {
	Write(m Mutation) error
	Read(index uint64) (Mutation, error)
	ForEach() Iterator
	WriteEvidence(ev Evidence) error
	ReadEvidence() (Evidence, bool, error)
	Close() error
}

// Iterator interface represents the behavior required to be implemented by
// any package providing support to iterate over the stored mutations in
// index order. Next returns ErrEndOfJournal and Done reports true once the
// stored mutations are exhausted.
type Iterator interface {
	Next() (Mutation, error)
	Done() bool
}

// EvidenceKind names how the conflicting mutation contradicts what the
// journal already held.
type EvidenceKind string

// Set of evidence kinds.
const (
	// EvidenceFork is a mutation that differs from the one accepted at the
	// same index. KnownIndex equals Index.
	EvidenceFork EvidenceKind = "fork"

	// EvidenceBrokenLink is a mutation whose previous digest does not match
	// the accepted predecessor. KnownIndex is Index-1, or -1 for the genesis
	// link to the zero digest.
	EvidenceBrokenLink EvidenceKind = "broken_link"

	// EvidenceBufferFork is a mutation that differs from another validly
	// signed mutation buffered for the same index. Neither was accepted.
	EvidenceBufferFork EvidenceKind = "buffer_fork"
)

// Evidence is the proof that the cloud's key authored two histories: a
// digest the journal already held at KnownIndex and a validly signed
// mutation at Index that conflicts with it.
type Evidence struct {
	Kind        EvidenceKind    `json:"kind"`
	Index       uint64          `json:"index"`
	KnownIndex  int64           `json:"known_index"`
	Known       identity.Digest `json:"known"`
	Conflicting Mutation        `json:"conflicting"`
	DetectedAt  time.Time       `json:"detected_at"`
}
