// Package worker implements peer updates, journal syncing, mutation sharing,
// buffer pruning and replay of owned clouds for a node.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
)

// peerUpdateInterval represents the interval of finding new peer nodes
// and pulling the clouds they hold.
const peerUpdateInterval = time.Minute

// netTimeout bounds every network operation the worker runs.
const netTimeout = 30 * time.Second

// share is a batch of mutations to send to the known peers.
type share struct {
	cloudID   identity.CloudID
	mutations []journal.Mutation
}

// =============================================================================

// Worker manages the background workflows of the node.
type Worker struct {
	state     *state.State
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	ticker    *time.Ticker
	shut      chan struct{}
	startSync chan bool
	sharing   chan share
	replaying chan identity.CloudID
	evHandler state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes.
func Run(st *state.State, evHandler state.EventHandler) {
	ctx, cancel := context.WithCancel(context.Background())

	w := Worker{
		state:     st,
		ctx:       ctx,
		cancel:    cancel,
		ticker:    time.NewTicker(peerUpdateInterval),
		shut:      make(chan struct{}),
		startSync: make(chan bool, 1),
		sharing:   make(chan share, maxShareRequests),
		replaying: make(chan identity.CloudID, maxReplayRequests),
		evHandler: evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Update this node before starting any support G's.
	w.Sync()

	// Load the set of operations we need to run.
	operations := []func(){
		w.peerOperations,
		w.syncOperations,
		w.shareOperations,
		w.replayOperations,
		w.pruneOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	// Catch up the owned clouds with anything already stored.
	for _, cloudID := range st.RetrieveOwned() {
		w.SignalReplay(cloudID)
	}
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: stop ticker")
	w.ticker.Stop()

	w.evHandler("worker: shutdown: cancel network operations")
	w.cancel()

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalSync starts a sync with the known peers. If there is already a
// signal pending in the channel, just return since a sync will start.
func (w *Worker) SignalSync() {
	select {
	case w.startSync <- true:
	default:
	}
	w.evHandler("worker: SignalSync: sync signaled")
}

// SignalShareMutations signals a share operation. If maxShareRequests
// signals exist in the channel, the mutations won't be shared.
func (w *Worker) SignalShareMutations(cloudID identity.CloudID, mutations []journal.Mutation) {
	select {
	case w.sharing <- share{cloudID: cloudID, mutations: mutations}:
		w.evHandler("worker: SignalShareMutations: share signaled")
	default:
		w.evHandler("worker: SignalShareMutations: queue full, mutations won't be shared.")
	}
}

// SignalReplay signals a replay of an owned cloud. A dropped signal is
// recovered by the next one since replay resumes at its checkpoint.
func (w *Worker) SignalReplay(cloudID identity.CloudID) {
	if !w.state.CanReplay() {
		return
	}

	select {
	case w.replaying <- cloudID:
		w.evHandler("worker: SignalReplay: cloud[%s]: replay signaled", cloudID.Short())
	default:
		w.evHandler("worker: SignalReplay: cloud[%s]: queue full, replay deferred", cloudID.Short())
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
