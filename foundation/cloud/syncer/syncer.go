// Package syncer reconciles the journal views of two peers for the same
// cloud. Neither side needs to trust the other's data or be able to decrypt
// it: every mutation received is validated against the local journal.
package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/transport"
)

// Default values for the sync configuration.
const (
	DefaultBatchSize     = 128
	DefaultMaxGapRetries = 3
	MaxServedBatch       = 512
)

// MaxFrameSize bounds one sync message on the wire. A served batch stops
// short of it, and it always holds one mutation of MaxCiphertextSize hex
// encoded. Transports use it as their read limit.
const MaxFrameSize = 4 * journal.MaxCiphertextSize

// mutationOverhead covers the encoded fields of a mutation other than its
// ciphertext.
const mutationOverhead = 1024

// MaxInFlight caps the peer requests a session answers at once.
const MaxInFlight = 16

// ErrGapUnresolved is returned when a peer keeps failing to deliver the
// mutations needed to extend the local journal.
var ErrGapUnresolved = errors.New("gap unresolved, sync round abandoned")

// EventHandler defines a function that is called when events occur in the
// processing of sync rounds.
type EventHandler func(v string, args ...any)

// Journals interface represents the behavior required to find the journal
// of a cloud. Every cloud id is valid; an unknown one has an empty journal.
type Journals interface {
	Journal(cloudID identity.CloudID) (*journal.Journal, error)
}

// Remote interface represents the behavior required to read another peer's
// view of a cloud's journal.
type Remote interface {
	Status(ctx context.Context, cloudID identity.CloudID) (journal.Status, error)
	Fetch(ctx context.Context, cloudID identity.CloudID, from uint64, limit int) ([]journal.Mutation, error)
}

// Config represents the configuration of the sync engine.
type Config struct {
	Journals      Journals
	BatchSize     int
	MaxGapRetries int
	EvHandler     EventHandler
}

// Syncer runs sync rounds against remotes and serves the local journals to
// peers.
type Syncer struct {
	journals      Journals
	batchSize     int
	maxGapRetries int
	evHandler     EventHandler
}

// New constructs a sync engine.
func New(cfg Config) *Syncer {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	s := Syncer{
		journals:      cfg.Journals,
		batchSize:     cfg.BatchSize,
		maxGapRetries: cfg.MaxGapRetries,
		evHandler:     ev,
	}

	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.maxGapRetries <= 0 {
		s.maxGapRetries = DefaultMaxGapRetries
	}

	return &s
}

// Pull runs one sync round for the cloud against the remote peer. The round
// repeats the status exchange and range request until the local journal
// matches the remote, the remote's offering is halted by an invalid
// mutation, or the remote stops making progress. Transport errors leave the
// journal at its last accepted tail so the next round resumes from there.
func (s *Syncer) Pull(ctx context.Context, remote Remote, cloudID identity.CloudID, peer string) (Report, error) {
	j, err := s.journals.Journal(cloudID)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		CloudID: cloudID,
		Peer:    peer,
		Start:   j.Status(),
	}
	finish := func(err error) (Report, error) {
		report.Final = j.Status()
		return report, err
	}

	cloud := cloudID.Short()
	s.evHandler("syncer: Pull: cloud[%s]: peer[%s]: started: length[%d]", cloud, peer, report.Start.Length)

	var retries int

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		local := j.Status()
		if local.State == journal.CloudCompromised {
			return finish(journal.ErrCompromised)
		}

		remoteStatus, err := remote.Status(ctx, cloudID)
		if err != nil {
			return finish(fmt.Errorf("peer %s: status: %w", peer, err))
		}
		report.Rounds++

		var atTail identity.Digest
		if remoteStatus.TailIndex >= 0 && uint64(remoteStatus.TailIndex) < local.Length {
			atTail, _ = j.Digest(uint64(remoteStatus.TailIndex))
		}

		plan := PlanRound(local, remoteStatus, atTail)

		s.evHandler("syncer: Pull: cloud[%s]: peer[%s]: local[%d] remote[%d]: %s from[%d]", cloud, peer, local.Length, remoteStatus.Length, plan.Action, plan.From)

		if plan.Action == None {
			return finish(nil)
		}

		limit := s.batchSize
		if plan.Action == Probe {
			limit = 1
		}

		mutations, err := remote.Fetch(ctx, cloudID, plan.From, limit)
		if err != nil {
			return finish(fmt.Errorf("peer %s: fetch[%d]: %w", peer, plan.From, err))
		}

		conforming := isConforming(plan.From, mutations)
		if !conforming {
			s.evHandler("syncer: Pull: cloud[%s]: peer[%s]: batch from[%d] is not contiguous from the requested index", cloud, peer, plan.From)
		}

		br, err := j.Merge(mutations)
		report.addBatch(plan.From, len(mutations), conforming, br)

		if err != nil {
			s.evHandler("syncer: Pull: cloud[%s]: peer[%s]: ERROR: %s", cloud, peer, err)
			return finish(err)
		}

		if br.Halted {
			s.evHandler("syncer: Pull: cloud[%s]: peer[%s]: offering halted: %s", cloud, peer, br.HaltedBy)
			return finish(nil)
		}

		if plan.Action == Probe {
			return finish(nil)
		}

		if br.Accepted > 0 {
			retries = 0
			continue
		}

		retries++
		if retries > s.maxGapRetries {
			s.evHandler("syncer: Pull: cloud[%s]: peer[%s]: gap at[%d] unresolved after %d retries", cloud, peer, j.Length(), s.maxGapRetries)
			return finish(ErrGapUnresolved)
		}
	}
}

// Serve answers the peer's requests on the connection until it closes or
// the context is canceled. The local side can pull over the same connection
// through a Session instead.
func (s *Syncer) Serve(ctx context.Context, conn transport.Conn) error {
	return s.NewSession(conn).Run(ctx)
}

// isConforming reports if the batch starts at from and is contiguous.
func isConforming(from uint64, mutations []journal.Mutation) bool {
	for i, m := range mutations {
		if m.Index != from+uint64(i) {
			return false
		}
	}
	return true
}
