// Package journal maintains the per cloud append-only hash chain of
// mutations, validates mutations offered by peers and detects equivocation.
package journal

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/codec"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// DefaultMaxBuffered is the number of out of order mutations held while
// waiting for the gap before them to fill.
const DefaultMaxBuffered = 1024

// EventHandler defines a function that is called when events occur in the
// processing of mutations.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to open a journal. Root is
// only set on devices that own the cloud; a relay opens journals with the
// cloud id alone. When Root is set and CloudID is zero, the cloud id is
// derived from it.
type Config struct {
	CloudID     identity.CloudID
	Root        *identity.RootSecret
	Storage     Storage
	EvHandler   EventHandler
	Rand        io.Reader
	MaxBuffered int
	Now         func() time.Time
}

type buffered struct {
	mutation Mutation
	digest   identity.Digest
	at       time.Time
}

// Journal is the ordered sequence of verified mutations for one cloud. All
// appends and merges are serialized on a single mutex and network I/O never
// happens while it is held.
type Journal struct {
	cloudID     identity.CloudID
	root        *identity.RootSecret
	id          *identity.Identity
	storage     Storage
	evHandler   EventHandler
	rand        io.Reader
	maxBuffered int
	now         func() time.Time

	mu        sync.Mutex
	digests   []identity.Digest
	salts     map[codec.Salt]struct{}
	disclosed map[uint64]bool
	buffer    map[uint64]buffered
	state     CloudState
	evidence  *Evidence
}

// New opens the journal held in storage. Every stored mutation is verified
// again from genesis before the journal is usable.
func New(cfg Config) (*Journal, error) {
	if cfg.Storage == nil {
		return nil, errors.New("journal: storage is required")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	j := Journal{
		cloudID:     cfg.CloudID,
		storage:     cfg.Storage,
		evHandler:   ev,
		rand:        cfg.Rand,
		maxBuffered: cfg.MaxBuffered,
		now:         cfg.Now,
		salts:       make(map[codec.Salt]struct{}),
		disclosed:   make(map[uint64]bool),
		buffer:      make(map[uint64]buffered),
	}

	if j.rand == nil {
		j.rand = rand.Reader
	}
	if j.maxBuffered <= 0 {
		j.maxBuffered = DefaultMaxBuffered
	}
	if j.now == nil {
		j.now = time.Now
	}

	if cfg.Root != nil {
		id, err := identity.Derive(*cfg.Root)
		if err != nil {
			return nil, err
		}

		var zero identity.CloudID
		switch {
		case j.cloudID == zero:
			j.cloudID = id.CloudID
		case j.cloudID != id.CloudID:
			return nil, fmt.Errorf("cloud %s: %w", j.cloudID.Short(), ErrWrongRootKey)
		}

		root := *cfg.Root
		j.root = &root
		j.id = &id
	}

	ev("journal: New: cloud[%s]: loading", j.cloudID.Short())

	iter := j.storage.ForEach()
	for m, err := iter.Next(); !iter.Done(); m, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		if r := Validate(m, j.cloudID, j.tailDigest(), j.length()); r != Valid {
			return nil, fmt.Errorf("cloud %s: mutation[%d]: %s: %w", j.cloudID.Short(), m.Index, r, ErrCorruptRecord)
		}

		j.link(m, m.Digest())
	}

	evidence, exists, err := j.storage.ReadEvidence()
	if err != nil {
		return nil, err
	}
	if exists {
		j.state = CloudCompromised
		j.evidence = &evidence
		ev("journal: New: cloud[%s]: compromised at mutation[%d]", j.cloudID.Short(), evidence.Index)
	}

	ev("journal: New: cloud[%s]: loaded: length[%d]", j.cloudID.Short(), j.length())

	return &j, nil
}

// Close closes the underlying storage.
func (j *Journal) Close() error {
	return j.storage.Close()
}

// CloudID returns the identifier of the cloud this journal holds.
func (j *Journal) CloudID() identity.CloudID {
	return j.cloudID
}

// IsKeyHolder reports if this journal was opened with the cloud's root secret.
func (j *Journal) IsKeyHolder() bool {
	return j.root != nil
}

// =============================================================================

// AppendLocal encrypts and signs the payload as the next mutation of the
// chain and appends it. Only the holder of the root secret can append. When
// appending releases a buffered mutation that turns out to conflict, the
// appended mutation is returned together with ErrCompromised.
func (j *Journal) AppendLocal(ctx context.Context, payload []byte) (Mutation, error) {
	if err := ctx.Err(); err != nil {
		return Mutation{}, err
	}

	if j.root == nil {
		return Mutation{}, ErrNotKeyHolder
	}

	var salt codec.Salt
	if _, err := io.ReadFull(j.rand, salt[:]); err != nil {
		return Mutation{}, fmt.Errorf("reading salt: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == CloudCompromised {
		return Mutation{}, ErrCompromised
	}

	if _, exists := j.salts[salt]; exists {
		return Mutation{}, ErrSaltReuse
	}

	index := j.length()

	m, err := NewMutation(*j.root, *j.id, index, salt, j.tailDigest(), payload)
	if err != nil {
		return Mutation{}, err
	}

	j.evHandler("journal: AppendLocal: cloud[%s]: mutation[%d]: signed", j.cloudID.Short(), index)

	if err := j.accept(m, m.Digest()); err != nil {
		return Mutation{}, err
	}

	j.evHandler("journal: AppendLocal: cloud[%s]: mutation[%d]: appended", j.cloudID.Short(), index)

	// The mutation is accepted but a buffered mutation it released
	// contradicts the chain.
	if j.state == CloudCompromised {
		return m, ErrCompromised
	}

	return m, nil
}

// Submit offers a single mutation to the journal.
func (j *Journal) Submit(m Mutation) (Outcome, error) {
	report, err := j.Merge([]Mutation{m})
	if len(report.Outcomes) == 0 {
		return Outcome{Index: m.Index, State: Received}, err
	}

	return report.Outcomes[0], err
}

// Merge offers a batch of mutations, in order, to the journal under a single
// hold of the lock. An invalid signature or a chain mismatch halts the batch
// and the rest of it is discarded. Re-offering accepted mutations changes
// nothing. ErrCompromised is returned when the cloud is compromised before
// or during the merge.
func (j *Journal) Merge(batch []Mutation) (BatchReport, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var report BatchReport

	if j.state == CloudCompromised {
		return report, ErrCompromised
	}

	for i, m := range batch {
		outcome, err := j.offer(m)
		if err != nil {
			return report, err
		}
		report.add(outcome)

		halt := outcome.Result
		if j.state == CloudCompromised {
			halt = ChainMismatch
		}

		if halt == InvalidSignature || halt == ChainMismatch {
			report.Halted = true
			report.HaltedBy = halt
			report.Discarded = len(batch) - i - 1

			j.evHandler("journal: Merge: cloud[%s]: halted: mutation[%d]: %s: discarded[%d]", j.cloudID.Short(), m.Index, halt, report.Discarded)
			break
		}
	}

	if j.state == CloudCompromised {
		return report, ErrCompromised
	}

	return report, nil
}

// offer runs one mutation through the state machine. The lock must be held.
func (j *Journal) offer(m Mutation) (Outcome, error) {
	cloud := j.cloudID.Short()
	outcome := Outcome{Index: m.Index, State: Received}

	j.evHandler("journal: offer: cloud[%s]: mutation[%d]: received", cloud, m.Index)

	result := Validate(m, j.cloudID, j.tailDigest(), j.length())
	outcome.Result = result

	if result == InvalidSignature {
		outcome.State = Rejected
		outcome.Reason = "signature does not verify against cloud"
		j.evHandler("journal: offer: cloud[%s]: mutation[%d]: rejected: invalid signature", cloud, m.Index)
		return outcome, nil
	}

	outcome.State = SignatureChecked
	outcome.Digest = m.Digest()

	switch result {
	case ChainMismatch:
		if err := j.compromise(EvidenceBrokenLink, int64(m.Index)-1, j.tailDigest(), m); err != nil {
			return outcome, err
		}
		outcome.State = Compromised
		outcome.Reason = "previous digest does not match accepted tail"
		return outcome, nil

	case IndexMismatch:
		return j.offerOutOfOrder(m, outcome)
	}

	outcome.State = ChainLinked
	j.evHandler("journal: offer: cloud[%s]: mutation[%d]: chain linked", cloud, m.Index)

	if err := j.accept(j.checkDisclosure(m), outcome.Digest); err != nil {
		return outcome, err
	}
	outcome.State = Accepted

	if j.state == CloudCompromised {
		outcome.Reason = "buffered mutation conflicts with accepted chain"
	}

	return outcome, nil
}

// offerOutOfOrder handles a signature checked mutation that is not for the
// next index. Either it is already accepted, it forks an accepted mutation,
// or it sits ahead of a gap and is buffered.
func (j *Journal) offerOutOfOrder(m Mutation, outcome Outcome) (Outcome, error) {
	cloud := j.cloudID.Short()

	if m.Index < j.length() {
		accepted := j.digests[m.Index]

		if accepted != outcome.Digest {
			if err := j.compromise(EvidenceFork, int64(m.Index), accepted, m); err != nil {
				return outcome, err
			}
			outcome.Result = ChainMismatch
			outcome.State = Compromised
			outcome.Reason = "differs from accepted mutation at same index"
			return outcome, nil
		}

		if err := j.learnDisclosure(m); err != nil {
			return outcome, err
		}

		outcome.Result = Valid
		outcome.State = Duplicate
		j.evHandler("journal: offer: cloud[%s]: mutation[%d]: duplicate", cloud, m.Index)
		return outcome, nil
	}

	if b, exists := j.buffer[m.Index]; exists {
		if b.digest != outcome.Digest {
			if err := j.compromise(EvidenceBufferFork, int64(m.Index), b.digest, m); err != nil {
				return outcome, err
			}
			outcome.Result = ChainMismatch
			outcome.State = Compromised
			outcome.Reason = "differs from buffered mutation at same index"
			return outcome, nil
		}

		outcome.State = Buffered
		return outcome, nil
	}

	if len(j.buffer) >= j.maxBuffered {
		outcome.State = Rejected
		outcome.Reason = "buffer full"
		j.evHandler("journal: offer: cloud[%s]: mutation[%d]: dropped: buffer full", cloud, m.Index)
		return outcome, nil
	}

	j.buffer[m.Index] = buffered{mutation: j.checkDisclosure(m), digest: outcome.Digest, at: j.now()}
	outcome.State = Buffered

	j.evHandler("journal: offer: cloud[%s]: mutation[%d]: buffered: next[%d]", cloud, m.Index, j.length())

	return outcome, nil
}

// accept persists a chain linked mutation, advances the tail and drains any
// buffered mutations that now link. The lock must be held.
func (j *Journal) accept(m Mutation, digest identity.Digest) error {
	if err := j.storage.Write(m); err != nil {
		return fmt.Errorf("storing mutation[%d]: %w", m.Index, err)
	}

	j.link(m, digest)

	if b, exists := j.buffer[m.Index]; exists {
		delete(j.buffer, m.Index)
		if b.digest != digest {
			return j.compromise(EvidenceFork, int64(m.Index), digest, b.mutation)
		}
	}

	for {
		b, exists := j.buffer[j.length()]
		if !exists {
			return nil
		}
		delete(j.buffer, b.mutation.Index)

		if b.mutation.PrevDigest != j.tailDigest() {
			return j.compromise(EvidenceBrokenLink, int64(b.mutation.Index)-1, j.tailDigest(), b.mutation)
		}

		if err := j.storage.Write(b.mutation); err != nil {
			return fmt.Errorf("storing mutation[%d]: %w", b.mutation.Index, err)
		}
		j.link(b.mutation, b.digest)

		j.evHandler("journal: accept: cloud[%s]: mutation[%d]: drained from buffer", j.cloudID.Short(), b.mutation.Index)
	}
}

// link records an accepted mutation in memory.
func (j *Journal) link(m Mutation, digest identity.Digest) {
	j.digests = append(j.digests, digest)
	j.salts[m.Salt] = struct{}{}
	if m.DisclosedKey != nil {
		j.disclosed[m.Index] = true
	}
}

// compromise moves the cloud to its terminal state and persists the proof.
// known is the digest held at knownIndex that the conflicting mutation
// contradicts.
func (j *Journal) compromise(kind EvidenceKind, knownIndex int64, known identity.Digest, conflicting Mutation) error {
	evidence := Evidence{
		Kind:        kind,
		Index:       conflicting.Index,
		KnownIndex:  knownIndex,
		Known:       known,
		Conflicting: conflicting,
		DetectedAt:  j.now().UTC(),
	}

	j.state = CloudCompromised
	j.evidence = &evidence
	j.buffer = make(map[uint64]buffered)

	j.evHandler("journal: compromise: cloud[%s]: mutation[%d]: EQUIVOCATION: %s: known[%d:%s] conflicting[%s]", j.cloudID.Short(), conflicting.Index, kind, knownIndex, known, conflicting.Digest())

	if err := j.storage.WriteEvidence(evidence); err != nil {
		return fmt.Errorf("storing evidence: %w", err)
	}

	return nil
}

// checkDisclosure strips a disclosed key that does not open the mutation.
func (j *Journal) checkDisclosure(m Mutation) Mutation {
	if m.DisclosedKey == nil {
		return m
	}

	if _, err := m.OpenDisclosed(); err != nil {
		j.evHandler("journal: checkDisclosure: cloud[%s]: mutation[%d]: dropping bad disclosed key", j.cloudID.Short(), m.Index)
		m.DisclosedKey = nil
	}

	return m
}

// learnDisclosure stores the disclosed key carried by a duplicate of an
// accepted mutation if we did not know it yet.
func (j *Journal) learnDisclosure(m Mutation) error {
	if m.DisclosedKey == nil || j.disclosed[m.Index] {
		return nil
	}

	m = j.checkDisclosure(m)
	if m.DisclosedKey == nil {
		return nil
	}

	if err := j.storage.Write(m); err != nil {
		return fmt.Errorf("storing disclosure[%d]: %w", m.Index, err)
	}
	j.disclosed[m.Index] = true

	j.evHandler("journal: learnDisclosure: cloud[%s]: mutation[%d]: key disclosed", j.cloudID.Short(), m.Index)

	return nil
}

// =============================================================================

// Disclose attaches the mutation key to the mutation at the specified index
// so anyone can decrypt that one payload. The digest does not change.
func (j *Journal) Disclose(index uint64) (Mutation, error) {
	if j.root == nil {
		return Mutation{}, ErrNotKeyHolder
	}

	m, err := j.Mutation(index)
	if err != nil {
		return Mutation{}, err
	}

	key := codec.MutationKey(*j.root, m.Index, m.Salt)
	m.DisclosedKey = &key

	if _, err := m.OpenDisclosed(); err != nil {
		return Mutation{}, fmt.Errorf("mutation[%d]: %w", index, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.storage.Write(m); err != nil {
		return Mutation{}, fmt.Errorf("storing disclosure[%d]: %w", index, err)
	}
	j.disclosed[index] = true

	j.evHandler("journal: Disclose: cloud[%s]: mutation[%d]: key disclosed", j.cloudID.Short(), index)

	return m, nil
}

// Open decrypts the payload of a mutation with the root secret.
func (j *Journal) Open(m Mutation) ([]byte, error) {
	if j.root == nil {
		return nil, ErrNotKeyHolder
	}

	return m.Open(*j.root)
}

// =============================================================================

// Status returns the current negotiation baseline of the journal.
func (j *Journal) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	return Status{
		CloudID:    j.cloudID,
		Length:     j.length(),
		TailIndex:  int64(j.length()) - 1,
		TailDigest: j.tailDigest(),
		State:      j.state,
		Buffered:   len(j.buffer),
	}
}

// Length returns the number of accepted mutations.
func (j *Journal) Length() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.length()
}

// State returns the health of the cloud.
func (j *Journal) State() CloudState {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

// Evidence returns the equivocation proof of a compromised cloud.
func (j *Journal) Evidence() (Evidence, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.evidence == nil {
		return Evidence{}, false
	}
	return *j.evidence, true
}

// Digest returns the accepted digest at the specified index.
func (j *Journal) Digest(index uint64) (identity.Digest, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if index >= j.length() {
		return identity.Digest{}, ErrNotFound
	}
	return j.digests[index], nil
}

// Mutation returns the accepted mutation at the specified index.
func (j *Journal) Mutation(index uint64) (Mutation, error) {
	if index >= j.Length() {
		return Mutation{}, ErrNotFound
	}

	return j.storage.Read(index)
}

// Range returns up to limit accepted mutations starting at from, in index
// order and without gaps. Accepted mutations never change so storage is read
// without holding the lock.
func (j *Journal) Range(from uint64, limit int) ([]Mutation, error) {
	length := j.Length()
	if from >= length || limit <= 0 {
		return nil, nil
	}

	to := length
	if uint64(limit) < to-from {
		to = from + uint64(limit)
	}

	mutations := make([]Mutation, 0, to-from)
	for i := from; i < to; i++ {
		m, err := j.storage.Read(i)
		if err != nil {
			return nil, fmt.Errorf("reading mutation[%d]: %w", i, err)
		}
		mutations = append(mutations, m)
	}

	return mutations, nil
}

// PruneBuffer drops buffered mutations held longer than the specified
// duration and returns how many were dropped.
func (j *Journal) PruneBuffer(olderThan time.Duration) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().Add(-olderThan)

	var pruned int
	for index, b := range j.buffer {
		if b.at.Before(cutoff) {
			delete(j.buffer, index)
			pruned++
		}
	}

	if pruned > 0 {
		j.evHandler("journal: PruneBuffer: cloud[%s]: pruned[%d]", j.cloudID.Short(), pruned)
	}

	return pruned
}

// Gaps returns the first missing index before the lowest buffered mutation
// and how many indexes are missing, or zero when nothing is buffered.
func (j *Journal) Gaps() (from uint64, missing uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.buffer) == 0 {
		return j.length(), 0
	}

	lowest := ^uint64(0)
	for index := range j.buffer {
		if index < lowest {
			lowest = index
		}
	}

	return j.length(), lowest - j.length()
}

// =============================================================================

func (j *Journal) length() uint64 {
	return uint64(len(j.digests))
}

func (j *Journal) tailDigest() identity.Digest {
	if len(j.digests) == 0 {
		return identity.ZeroDigest
	}
	return j.digests[len(j.digests)-1]
}
