package syncer

import (
	"encoding/json"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

// Set of message types exchanged over a sync session.
const (
	TypeStatusRequest = "status_request"
	TypeStatus        = "status"
	TypeRangeRequest  = "range_request"
	TypeBatch         = "batch"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
)

// Envelope frames every message on the wire. Responses carry the id of the
// request they answer.
type Envelope struct {
	ID      uint64           `json:"id"`
	Type    string           `json:"type"`
	CloudID identity.CloudID `json:"cloud_id"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// RangeRequest asks for mutations starting exactly at From.
type RangeRequest struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit"`
}

// Batch answers a RangeRequest with contiguous mutations in index order.
// More is set when the responder holds mutations past the batch.
type Batch struct {
	From      uint64             `json:"from"`
	Mutations []journal.Mutation `json:"mutations"`
	More      bool               `json:"more"`
}

// ErrorMessage answers a request that could not be served.
type ErrorMessage struct {
	Message string `json:"message"`
}

// isRequest reports if the message type expects a response.
func isRequest(typ string) bool {
	switch typ {
	case TypeStatusRequest, TypeRangeRequest, TypePing:
		return true
	}
	return false
}
