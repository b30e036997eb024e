package state

import (
	"context"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

// AppendLocal encrypts the payload as the next mutation of an owned cloud,
// shares it with the known peers and schedules a replay.
func (s *State) AppendLocal(ctx context.Context, cloudID identity.CloudID, payload []byte) (journal.Mutation, error) {
	j, err := s.Journal(cloudID)
	if err != nil {
		return journal.Mutation{}, err
	}

	if !j.IsKeyHolder() {
		return journal.Mutation{}, journal.ErrNotKeyHolder
	}

	before := j.Length()
	was := j.State()

	m, err := j.AppendLocal(ctx, payload)
	s.checkCompromised(j, was)
	if err != nil {
		if j.Length() > before {
			s.onMutated(j.Status())
		}
		return m, err
	}

	s.evHandler("state: AppendLocal: cloud[%s]: mutation[%d]: appended", cloudID.Short(), m.Index)

	s.onMutated(j.Status())

	if s.Worker != nil {
		s.Worker.SignalShareMutations(cloudID, []journal.Mutation{m})
		s.Worker.SignalReplay(cloudID)
	}

	return m, nil
}

// SubmitMutations offers mutations received from a client to the cloud's
// journal. Newly accepted mutations are shared with the known peers.
func (s *State) SubmitMutations(cloudID identity.CloudID, mutations []journal.Mutation) (journal.BatchReport, error) {
	return s.submit(cloudID, mutations, true)
}

// SubmitNodeMutations offers mutations received from a peer. They are not
// shared again since the peer already does that.
func (s *State) SubmitNodeMutations(cloudID identity.CloudID, mutations []journal.Mutation) (journal.BatchReport, error) {
	return s.submit(cloudID, mutations, false)
}

func (s *State) submit(cloudID identity.CloudID, mutations []journal.Mutation, share bool) (journal.BatchReport, error) {
	j, err := s.Journal(cloudID)
	if err != nil {
		return journal.BatchReport{}, err
	}

	before := j.Length()
	was := j.State()

	br, err := j.Merge(mutations)

	s.evHandler("state: submit: cloud[%s]: accepted[%d] buffered[%d] duplicates[%d] rejected[%d] halted[%t]", cloudID.Short(), br.Accepted, br.Buffered, br.Duplicates, br.Rejected, br.Halted)

	s.onMerged(cloudID, br)
	s.checkCompromised(j, was)
	s.grew(j, before, share)

	return br, err
}

// Disclose attaches the mutation key to a mutation of an owned cloud and
// shares the disclosed mutation.
func (s *State) Disclose(cloudID identity.CloudID, index uint64) (journal.Mutation, error) {
	j, err := s.Journal(cloudID)
	if err != nil {
		return journal.Mutation{}, err
	}

	m, err := j.Disclose(index)
	if err != nil {
		return journal.Mutation{}, err
	}

	if s.Worker != nil {
		s.Worker.SignalShareMutations(cloudID, []journal.Mutation{m})
	}

	return m, nil
}

// grew signals what follows from the journal advancing past before.
func (s *State) grew(j *journal.Journal, before uint64, share bool) {
	after := j.Length()
	if after <= before {
		return
	}

	s.onMutated(j.Status())

	if s.Worker == nil {
		return
	}

	if share {
		accepted, err := j.Range(before, int(after-before))
		if err != nil {
			s.evHandler("state: grew: cloud[%s]: ERROR: %s", j.CloudID().Short(), err)
		}
		if len(accepted) > 0 {
			s.Worker.SignalShareMutations(j.CloudID(), accepted)
		}
	}

	if j.IsKeyHolder() {
		s.Worker.SignalReplay(j.CloudID())
	}
}

// PruneBuffers drops out of order mutations that waited longer than the
// buffer TTL for their gap to fill and returns how many were dropped. A
// later sync round fetches them again in order.
func (s *State) PruneBuffers() int {
	var pruned int
	for _, j := range s.journals() {
		if from, missing := j.Gaps(); missing > 0 {
			s.evHandler("state: PruneBuffers: cloud[%s]: gap: from[%d] missing[%d]", j.CloudID().Short(), from, missing)
		}
		pruned += j.PruneBuffer(s.bufferTTL)
	}

	return pruned
}
