package syncer

import (
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

// Action is what a sync round should do next.
type Action int

// Set of sync actions.
const (
	None Action = iota
	Pull
	Probe
)

// String implements the fmt.Stringer interface.
func (a Action) String() string {
	switch a {
	case Pull:
		return "pull"
	case Probe:
		return "probe"
	}
	return "none"
}

// Plan is the next request of a sync round.
type Plan struct {
	Action Action
	From   uint64
}

// PlanRound compares the local and remote status and decides what to
// request from the remote. localAtRemoteTail is the local digest at the
// remote's tail index and is only consulted when the remote is shorter.
//
// A longer remote is pulled from our next index. Equal lengths with
// different tails, or a shorter remote whose tail we disagree with, are
// probed by fetching the remote's tail mutation which surfaces the fork.
func PlanRound(local journal.Status, remote journal.Status, localAtRemoteTail identity.Digest) Plan {
	if local.State == journal.CloudCompromised {
		return Plan{Action: None}
	}

	switch {
	case remote.Length > local.Length:
		return Plan{Action: Pull, From: local.Length}

	case remote.Length == 0:
		return Plan{Action: None}

	case remote.Length == local.Length:
		if remote.TailDigest == local.TailDigest {
			return Plan{Action: None}
		}
		return Plan{Action: Probe, From: remote.Length - 1}

	default:
		if localAtRemoteTail == remote.TailDigest {
			return Plan{Action: None}
		}
		return Plan{Action: Probe, From: remote.Length - 1}
	}
}
