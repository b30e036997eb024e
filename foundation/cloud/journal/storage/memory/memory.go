// Package memory implements the ability to read and write a cloud's
// mutations to memory using a slice.
package memory

import (
	"fmt"
	"sync"

	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

// Memory represents the storage implementation for reading and storing
// mutations in memory using a slice. This implements the journal.Storage
// interface.
type Memory struct {
	mu        sync.RWMutex
	mutations []journal.Mutation
	evidence  *journal.Evidence
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Write stores the mutation in memory. A mutation may only replace the copy
// at its own index or extend the slice by one.
func (m *Memory) Write(mutation journal.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := uint64(len(m.mutations))

	switch {
	case mutation.Index < l:
		m.mutations[mutation.Index] = mutation
	case mutation.Index == l:
		m.mutations = append(m.mutations, mutation)
	default:
		return fmt.Errorf("mutation[%d] is out of order, next[%d]", mutation.Index, l)
	}

	return nil
}

// Read returns the mutation at the specified index.
func (m *Memory) Read(index uint64) (journal.Mutation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index >= uint64(len(m.mutations)) {
		return journal.Mutation{}, journal.ErrNotFound
	}

	return m.mutations[index], nil
}

// ForEach returns an iterator to walk through all the mutations starting
// with the genesis mutation.
func (m *Memory) ForEach() journal.Iterator {
	return &memoryIterator{storage: m}
}

// WriteEvidence records the proof of equivocation.
func (m *Memory) WriteEvidence(ev journal.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evidence = &ev
	return nil
}

// ReadEvidence returns the proof of equivocation if one was recorded.
func (m *Memory) ReadEvidence() (journal.Evidence, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.evidence == nil {
		return journal.Evidence{}, false, nil
	}
	return *m.evidence, true, nil
}

// =============================================================================

// memoryIterator represents the iteration implementation for walking
// through the mutations in memory. This implements the journal.Iterator
// interface.
type memoryIterator struct {
	storage *Memory
	current uint64
	done    bool
}

// Next retrieves the next mutation from memory.
func (mi *memoryIterator) Next() (journal.Mutation, error) {
	if mi.done {
		return journal.Mutation{}, journal.ErrEndOfJournal
	}

	m, err := mi.storage.Read(mi.current)
	if err != nil {
		mi.done = true
		return journal.Mutation{}, journal.ErrEndOfJournal
	}
	mi.current++

	return m, nil
}

// Done returns the end of journal value.
func (mi *memoryIterator) Done() bool {
	return mi.done
}
