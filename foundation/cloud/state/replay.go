package state

import (
	"context"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/replay"
)

// Replay delivers the payloads of an owned cloud not yet applied to the
// configured replay store.
func (s *State) Replay(ctx context.Context, cloudID identity.CloudID) (replay.Result, error) {
	if s.replayStore == nil {
		return replay.Result{}, ErrNoReplayStore
	}

	j, err := s.Journal(cloudID)
	if err != nil {
		return replay.Result{}, err
	}

	result, err := s.replayer.Run(ctx, j, s.replayStore(cloudID))
	s.onReplayed(result, err)

	return result, err
}

// CanReplay reports if the node has a store to replay owned clouds into.
func (s *State) CanReplay() bool {
	return s.replayStore != nil
}
