package public

import (
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

type cloud struct {
	journal.Status
	Name  string `json:"name,omitempty"`
	Owned bool   `json:"owned"`
}

type cloudStatus struct {
	cloud
	Evidence *journal.Evidence `json:"evidence,omitempty"`
}

type submitResponse struct {
	Status string              `json:"status"`
	Report journal.BatchReport `json:"report"`
}
