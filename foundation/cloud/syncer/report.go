package syncer

import (
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

// BatchSummary describes one batch received during a sync round.
type BatchSummary struct {
	From       uint64              `json:"from"`
	Received   int                 `json:"received"`
	Conforming bool                `json:"conforming"`
	Report     journal.BatchReport `json:"report"`
}

// Report is the outcome of a sync round against one peer. The engine does
// not judge the peer; callers apply their own reputation policy from it.
type Report struct {
	CloudID    identity.CloudID `json:"cloud_id"`
	Peer       string           `json:"peer"`
	Rounds     int              `json:"rounds"`
	Batches    []BatchSummary   `json:"batches"`
	Accepted   int              `json:"accepted"`
	Buffered   int              `json:"buffered"`
	Duplicates int              `json:"duplicates"`
	Rejected   int              `json:"rejected"`
	Halted     bool             `json:"halted"`
	HaltedBy   journal.Result   `json:"halted_by,omitempty"`
	Start      journal.Status   `json:"start"`
	Final      journal.Status   `json:"final"`
}

// Outcomes returns every per mutation outcome of the round in order.
func (r Report) Outcomes() []journal.Outcome {
	var outcomes []journal.Outcome
	for _, b := range r.Batches {
		outcomes = append(outcomes, b.Report.Outcomes...)
	}
	return outcomes
}

func (r *Report) addBatch(from uint64, received int, conforming bool, br journal.BatchReport) {
	r.Batches = append(r.Batches, BatchSummary{
		From:       from,
		Received:   received,
		Conforming: conforming,
		Report:     br,
	})

	r.Accepted += br.Accepted
	r.Buffered += br.Buffered
	r.Duplicates += br.Duplicates
	r.Rejected += br.Rejected

	if br.Halted {
		r.Halted = true
		r.HaltedBy = br.HaltedBy
	}
}
