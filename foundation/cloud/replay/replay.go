// Package replay delivers the decrypted payloads of an owned cloud to an
// external store, once per index and in index order.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
)

// pageSize is the number of mutations read from the journal at a time.
const pageSize = 256

// ErrStore wraps failures reported by the store while applying a payload.
var ErrStore = errors.New("store apply failed")

// EventHandler defines a function that is called when events occur in the
// processing of a replay pass.
type EventHandler func(v string, args ...any)

// Store interface represents the behavior required of the system receiving
// the decrypted operations. Apply is called exactly once per index and in
// increasing index order.
type Store interface {
	Apply(ctx context.Context, payload []byte, index uint64) error
}

// AtomicStore interface represents a store that records its own progress
// in the same transaction as the operation. Such a store replaces the
// replayer's checkpoint so a crash can never apply an operation twice.
type AtomicStore interface {
	Store
	ApplyAt(ctx context.Context, cloudID identity.CloudID, payload []byte, index uint64) error
	Next(ctx context.Context, cloudID identity.CloudID) (uint64, error)
}

// Config represents the configuration of a replayer.
type Config struct {
	Checkpoint Checkpoint
	EvHandler  EventHandler
}

// Result describes a replay pass.
type Result struct {
	CloudID identity.CloudID `json:"cloud_id"`
	From    uint64           `json:"from"`
	Next    uint64           `json:"next"`
	Applied int              `json:"applied"`
}

// Replayer walks owned journals and delivers their payloads to stores.
// Passes over the same cloud run one at a time.
type Replayer struct {
	checkpoint Checkpoint
	evHandler  EventHandler

	mu     sync.Mutex
	passes map[identity.CloudID]chan struct{}
}

// New constructs a replayer. Without a checkpoint progress is kept in memory.
func New(cfg Config) *Replayer {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	r := Replayer{
		checkpoint: cfg.Checkpoint,
		evHandler:  ev,
		passes:     make(map[identity.CloudID]chan struct{}),
	}

	if r.checkpoint == nil {
		r.checkpoint = NewMemoryCheckpoint()
	}

	return &r
}

// Run applies every accepted mutation past the checkpoint to the store.
// Cancellation is checked between mutations only. A payload that does not
// decrypt under the root secret ends the pass with codec.ErrDecryption and
// the checkpoint left at that index.
func (r *Replayer) Run(ctx context.Context, j *journal.Journal, store Store) (Result, error) {
	if !j.IsKeyHolder() {
		return Result{}, journal.ErrNotKeyHolder
	}

	cloudID := j.CloudID()
	cloud := cloudID.Short()

	// Wait for any pass already running over this cloud so the checkpoint
	// is loaded after its last save.
	pass := r.pass(cloudID)
	select {
	case pass <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-pass }()

	if j.State() == journal.CloudCompromised {
		return Result{}, journal.ErrCompromised
	}

	atomic, isAtomic := store.(AtomicStore)

	var next uint64
	var err error
	switch {
	case isAtomic:
		next, err = atomic.Next(ctx, cloudID)
	default:
		next, err = r.checkpoint.Load(cloudID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("loading checkpoint: %w", err)
	}

	result := Result{
		CloudID: cloudID,
		From:    next,
		Next:    next,
	}

	length := j.Length()

	r.evHandler("replay: Run: cloud[%s]: started: from[%d] length[%d]", cloud, next, length)

	for result.Next < length {
		page, err := j.Range(result.Next, pageSize)
		if err != nil {
			return result, err
		}

		for _, m := range page {
			if err := ctx.Err(); err != nil {
				r.evHandler("replay: Run: cloud[%s]: canceled: next[%d]", cloud, result.Next)
				return result, err
			}

			payload, err := j.Open(m)
			if err != nil {
				r.evHandler("replay: Run: cloud[%s]: mutation[%d]: ERROR: %s", cloud, m.Index, err)
				return result, fmt.Errorf("mutation[%d]: %w", m.Index, err)
			}

			switch {
			case isAtomic:
				err = atomic.ApplyAt(ctx, cloudID, payload, m.Index)
			default:
				err = store.Apply(ctx, payload, m.Index)
			}
			if err != nil {
				return result, fmt.Errorf("mutation[%d]: %w: %w", m.Index, ErrStore, err)
			}

			result.Next = m.Index + 1
			result.Applied++

			if !isAtomic {
				if err := r.checkpoint.Save(cloudID, result.Next); err != nil {
					return result, fmt.Errorf("saving checkpoint[%d]: %w", result.Next, err)
				}
			}
		}
	}

	r.evHandler("replay: Run: cloud[%s]: completed: applied[%d] next[%d]", cloud, result.Applied, result.Next)

	return result, nil
}

// pass returns the token channel guarding replay passes over the cloud.
func (r *Replayer) pass(cloudID identity.CloudID) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	pass, exists := r.passes[cloudID]
	if !exists {
		pass = make(chan struct{}, 1)
		r.passes[cloudID] = pass
	}

	return pass
}
