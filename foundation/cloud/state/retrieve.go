package state

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/peer"
	"github.com/ardanlabs/encloud/foundation/cloud/syncer"
)

// QueryLatest represents to query the latest mutation of a journal.
const QueryLatest = ^uint64(0) >> 1

// RetrieveHost returns a copy of host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.host)
}

// AddKnownPeer provides the ability to add a new peer to the known peer list.
func (s *State) AddKnownPeer(pr peer.Peer) bool {
	if pr.Match(s.host) {
		return false
	}
	return s.knownPeers.Add(pr)
}

// RemoveKnownPeer provides the ability to remove a peer from the known
// peer list.
func (s *State) RemoveKnownPeer(pr peer.Peer) {
	s.knownPeers.Remove(pr)
}

// =============================================================================

// RetrieveStatus returns the negotiation baseline of the cloud's journal.
func (s *State) RetrieveStatus(cloudID identity.CloudID) (journal.Status, error) {
	j, err := s.Journal(cloudID)
	if err != nil {
		return journal.Status{}, err
	}

	return j.Status(), nil
}

// RetrieveClouds returns the status of every cloud the node holds, ordered
// by cloud id. Clouds with an empty journal are left out.
func (s *State) RetrieveClouds() []journal.Status {
	var clouds []journal.Status
	for _, j := range s.journals() {
		if st := j.Status(); st.Length > 0 {
			clouds = append(clouds, st)
		}
	}
	return clouds
}

// RetrievePeerStatus returns what this node reports about itself to peers.
func (s *State) RetrievePeerStatus() peer.PeerStatus {
	return peer.PeerStatus{
		Host:       s.host,
		KnownPeers: s.RetrieveKnownPeers(),
		Clouds:     s.RetrieveClouds(),
	}
}

// IsOwned reports if the node holds the root secret of the cloud.
func (s *State) IsOwned(cloudID identity.CloudID) bool {
	_, owned := s.keyring.Lookup(cloudID)
	return owned
}

// RetrieveOwned returns the ids of the clouds the node owns.
func (s *State) RetrieveOwned() []identity.CloudID {
	var owned []identity.CloudID
	for _, j := range s.journals() {
		if j.IsKeyHolder() {
			owned = append(owned, j.CloudID())
		}
	}
	return owned
}

// RetrieveEvidence returns the proof of equivocation for a compromised cloud.
func (s *State) RetrieveEvidence(cloudID identity.CloudID) (journal.Evidence, bool, error) {
	j, err := s.Journal(cloudID)
	if err != nil {
		return journal.Evidence{}, false, err
	}

	ev, exists := j.Evidence()
	return ev, exists, nil
}

// QueryMutations returns the accepted mutations from and to the specified
// indexes inclusive, limited to a served batch. QueryLatest can be used for
// either bound.
func (s *State) QueryMutations(cloudID identity.CloudID, from uint64, to uint64) ([]journal.Mutation, error) {
	j, err := s.Journal(cloudID)
	if err != nil {
		return nil, err
	}

	length := j.Length()
	if length == 0 {
		return nil, nil
	}

	if from == QueryLatest {
		from = length - 1
	}
	if to == QueryLatest || to >= length {
		to = length - 1
	}

	if from > to {
		if from >= length {
			return nil, nil
		}
		return nil, errors.New("from greater than to")
	}

	limit := to - from + 1
	if limit > syncer.MaxServedBatch {
		limit = syncer.MaxServedBatch
	}

	mutations, err := j.Range(from, int(limit))
	if err != nil {
		return nil, fmt.Errorf("cloud %s: %w", cloudID.Short(), err)
	}

	return mutations, nil
}
