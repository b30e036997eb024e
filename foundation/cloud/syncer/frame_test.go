package syncer

import (
	"testing"

	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/stretchr/testify/assert"
)

func TestFitFrame(t *testing.T) {
	assert.Less(t, 2*journal.MaxCiphertextSize+mutationOverhead, MaxFrameSize, "one mutation of the largest size must fit a frame")

	small := make([]journal.Mutation, MaxServedBatch)
	for i := range small {
		small[i] = journal.Mutation{Index: uint64(i), Ciphertext: make([]byte, 64)}
	}
	assert.Len(t, fitFrame(small), MaxServedBatch)

	ciphertext := make([]byte, 8<<20)
	large := make([]journal.Mutation, 6)
	for i := range large {
		large[i] = journal.Mutation{Index: uint64(i), Ciphertext: ciphertext}
	}
	assert.Len(t, fitFrame(large), 3)

	largest := []journal.Mutation{
		{Index: 0, Ciphertext: make([]byte, journal.MaxCiphertextSize)},
		{Index: 1, Ciphertext: make([]byte, journal.MaxCiphertextSize)},
	}
	assert.Len(t, fitFrame(largest), 1)
}
