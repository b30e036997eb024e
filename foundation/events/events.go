// Package events allows for the registering and receiving of events.
package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// TypeCloudMutated is the type of the event sent when a cloud's journal grew.
const TypeCloudMutated = "cloud_mutated"

// CloudMutated describes the new tail of a cloud's journal.
type CloudMutated struct {
	Type       string           `json:"type"`
	CloudID    identity.CloudID `json:"cloud_id"`
	Length     uint64           `json:"length"`
	TailDigest identity.Digest  `json:"tail_digest"`
}

// Events maintains a mapping of unique id and channels so goroutines
// can register and receive events.
type Events struct {
	m  map[string]chan string
	mu sync.RWMutex
}

// New constructs an events for registering and receiving events.
func New() *Events {
	return &Events{
		m: make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// the call to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.m {
		delete(evt.m, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if exists {
		return ch
	}

	// A message is dropped when the receiver is not ready, this buffer
	// gives a slow websocket writer room to catch up.
	const messageBuffer = 100

	evt.m[id] = make(chan string, messageBuffer)
	return evt.m[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.m[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.m, id)
	close(ch)
	return nil
}

// Send signals a message to every registered channel. Send will not block
// waiting for a receiver on any given channel.
func (evt *Events) Send(s string) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.m {
		select {
		case ch <- s:
		default:
		}
	}
}

// SendCloudMutated signals the new tail of a cloud as a JSON document.
func (evt *Events) SendCloudMutated(cloudID identity.CloudID, length uint64, tail identity.Digest) {
	data, err := json.Marshal(CloudMutated{
		Type:       TypeCloudMutated,
		CloudID:    cloudID,
		Length:     length,
		TailDigest: tail,
	})
	if err != nil {
		return
	}

	evt.Send(string(data))
}
