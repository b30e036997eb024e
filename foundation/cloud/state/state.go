// Package state is the core API for a node hosting cloud journals. It owns
// the journals of every cloud the node has seen, the root secrets of the
// clouds it owns, and the set of known peers.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/peer"
	"github.com/ardanlabs/encloud/foundation/cloud/replay"
	"github.com/ardanlabs/encloud/foundation/cloud/syncer"
	"github.com/ardanlabs/encloud/foundation/keyring"
)

// DefaultBufferTTL is how long an out of order mutation waits for its gap
// to fill before it is dropped.
const DefaultBufferTTL = 10 * time.Minute

// ErrNoReplayStore is returned when a replay is asked of a node that has no
// store to replay into.
var ErrNoReplayStore = errors.New("replay store not configured")

// EventHandler defines a function that is called when events
// occur in the processing of mutations.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for peer updates, syncing, mutation sharing and
// replay.
type Worker interface {
	Shutdown()
	SignalSync()
	SignalShareMutations(cloudID identity.CloudID, mutations []journal.Mutation)
	SignalReplay(cloudID identity.CloudID)
}

// Storage interface represents the behavior required to persist the
// journals of many clouds.
type Storage interface {
	Journal(cloudID identity.CloudID) journal.Storage
	Clouds() ([]identity.CloudID, error)
}

// =============================================================================

// Config represents the configuration required to start the node.
type Config struct {
	Host        string
	Storage     Storage
	Keyring     *keyring.Keyring
	KnownPeers  *peer.PeerSet
	BatchSize   int
	MaxBuffered int
	BufferTTL   time.Duration
	ReplayStore func(cloudID identity.CloudID) replay.Store
	Checkpoint  replay.Checkpoint
	Now         func() time.Time
	EvHandler   EventHandler
	Hooks       Hooks
}

// Hooks are called as the node's journals change. Any of them can be nil.
type Hooks struct {
	OnMutated     func(status journal.Status)
	OnMerged      func(cloudID identity.CloudID, br journal.BatchReport)
	OnSynced      func(report syncer.Report, err error)
	OnCompromised func(cloudID identity.CloudID, evidence journal.Evidence)
	OnReplayed    func(result replay.Result, err error)
}

// State manages the journals hosted by the node.
type State struct {
	host        string
	storage     Storage
	keyring     *keyring.Keyring
	knownPeers  *peer.PeerSet
	maxBuffered int
	bufferTTL   time.Duration
	replayStore func(cloudID identity.CloudID) replay.Store
	now         func() time.Time
	evHandler   EventHandler
	hooks       Hooks

	syncer   *syncer.Syncer
	replayer *replay.Replayer

	mu     sync.Mutex
	clouds map[identity.CloudID]*journal.Journal

	Worker Worker
}

// New constructs the node state and opens every stored and owned journal.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	kr := cfg.Keyring
	if kr == nil {
		kr = keyring.Empty()
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	s := State{
		host:        cfg.Host,
		storage:     cfg.Storage,
		keyring:     kr,
		knownPeers:  knownPeers,
		maxBuffered: cfg.MaxBuffered,
		bufferTTL:   cfg.BufferTTL,
		replayStore: cfg.ReplayStore,
		now:         cfg.Now,
		evHandler:   ev,
		hooks:       cfg.Hooks,
		clouds:      make(map[identity.CloudID]*journal.Journal),
	}

	if s.bufferTTL <= 0 {
		s.bufferTTL = DefaultBufferTTL
	}

	s.syncer = syncer.New(syncer.Config{
		Journals:  &s,
		BatchSize: cfg.BatchSize,
		EvHandler: syncer.EventHandler(ev),
	})

	s.replayer = replay.New(replay.Config{
		Checkpoint: cfg.Checkpoint,
		EvHandler:  replay.EventHandler(ev),
	})

	stored, err := s.storage.Clouds()
	if err != nil {
		return nil, fmt.Errorf("listing stored clouds: %w", err)
	}

	for _, cloudID := range stored {
		if _, err := s.Journal(cloudID); err != nil {
			return nil, err
		}
	}

	for cloudID := range kr.Copy() {
		if _, err := s.Journal(cloudID); err != nil {
			return nil, err
		}
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &s, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all background activity before the journals close.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.clouds {
		j.Close()
	}

	return nil
}

// Journal returns the journal for the cloud, opening it on first use. Every
// cloud id is valid; a cloud never seen before starts empty. Owned clouds
// are opened with their root secret.
func (s *State) Journal(cloudID identity.CloudID) (*journal.Journal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, exists := s.clouds[cloudID]; exists {
		return j, nil
	}

	cfg := journal.Config{
		CloudID:     cloudID,
		Storage:     s.storage.Journal(cloudID),
		EvHandler:   journal.EventHandler(s.evHandler),
		MaxBuffered: s.maxBuffered,
		Now:         s.now,
	}

	if e, owned := s.keyring.Lookup(cloudID); owned {
		root := e.Root
		cfg.Root = &root
	}

	j, err := journal.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening cloud %s: %w", cloudID.Short(), err)
	}
	s.clouds[cloudID] = j

	return j, nil
}

// journals returns the opened journals ordered by cloud id.
func (s *State) journals() []*journal.Journal {
	s.mu.Lock()
	defer s.mu.Unlock()

	js := make([]*journal.Journal, 0, len(s.clouds))
	for _, j := range s.clouds {
		js = append(js, j)
	}

	sort.Slice(js, func(a, b int) bool {
		return js[a].CloudID().Compare(js[b].CloudID()) < 0
	})

	return js
}

// =============================================================================

func (s *State) onMutated(status journal.Status) {
	if s.hooks.OnMutated != nil {
		s.hooks.OnMutated(status)
	}
}

func (s *State) onMerged(cloudID identity.CloudID, br journal.BatchReport) {
	if s.hooks.OnMerged != nil {
		s.hooks.OnMerged(cloudID, br)
	}
}

func (s *State) onSynced(report syncer.Report, err error) {
	if s.hooks.OnSynced != nil {
		s.hooks.OnSynced(report, err)
	}
}

func (s *State) onReplayed(result replay.Result, err error) {
	if s.hooks.OnReplayed != nil {
		s.hooks.OnReplayed(result, err)
	}
}

// checkCompromised reports the evidence once when the journal turned
// compromised since the caller last looked at it.
func (s *State) checkCompromised(j *journal.Journal, was journal.CloudState) {
	if was == journal.CloudCompromised || j.State() != journal.CloudCompromised {
		return
	}

	evidence, _ := j.Evidence()
	s.evHandler("state: cloud[%s]: COMPROMISED: fork at index[%d]", j.CloudID().Short(), evidence.Index)

	if s.hooks.OnCompromised != nil {
		s.hooks.OnCompromised(j.CloudID(), evidence)
	}
}
