package replay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ardanlabs/encloud/foundation/cloud/codec"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/journal/storage/memory"
	"github.com/ardanlabs/encloud/foundation/cloud/replay"
	"github.com/spf13/afero"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// recorder is a store that remembers what it was given.
type recorder struct {
	payloads []string
	indexes  []uint64
	failAt   int
	cancel   func()
	cancelAt int
}

func (r *recorder) Apply(ctx context.Context, payload []byte, index uint64) error {
	if r.failAt > 0 && len(r.payloads) == r.failAt {
		return errors.New("disk full")
	}

	r.payloads = append(r.payloads, string(payload))
	r.indexes = append(r.indexes, index)

	if r.cancel != nil && len(r.payloads) == r.cancelAt {
		r.cancel()
	}

	return nil
}

func ownedJournal(t *testing.T, payloads ...string) (*journal.Journal, identity.RootSecret) {
	t.Helper()

	rs, err := identity.NewRootSecret()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a root secret: %v", failed, err)
	}

	j, err := journal.New(journal.Config{Root: &rs, Storage: memory.New()})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the journal: %v", failed, err)
	}

	for _, p := range payloads {
		if _, err := j.AppendLocal(context.Background(), []byte(p)); err != nil {
			t.Fatalf("\t%s\tShould be able to append %q: %v", failed, p, err)
		}
	}

	return j, rs
}

// =============================================================================

func Test_ReplayOwnerAndRelay(t *testing.T) {
	t.Log("Given the need to replay a cloud relayed through a peer without the root secret.")
	{
		owner, rs := ownedJournal(t, "P0", "P1")

		relay, err := journal.New(journal.Config{CloudID: owner.CloudID(), Storage: memory.New()})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open a relay journal: %v", failed, err)
		}

		all, _ := owner.Range(0, 2)
		if _, err := relay.Merge(all); err != nil || relay.Length() != 2 {
			t.Fatalf("\t%s\tShould relay both mutations: %d: %v", failed, relay.Length(), err)
		}
		t.Logf("\t%s\tShould relay both mutations.", success)

		r := replay.New(replay.Config{EvHandler: t.Logf})

		if _, err := r.Run(context.Background(), relay, &recorder{}); !errors.Is(err, journal.ErrNotKeyHolder) {
			t.Fatalf("\t%s\tShould refuse to replay on the relay: %v", failed, err)
		}
		t.Logf("\t%s\tShould refuse to replay on the relay.", success)

		relayed, _ := relay.Range(0, 2)
		for _, m := range relayed {
			var other identity.RootSecret
			other[0] = 1
			if _, err := m.Open(other); !errors.Is(err, codec.ErrDecryption) {
				t.Fatalf("\t%s\tShould not decrypt mutation[%d] without the root secret: %v", failed, m.Index, err)
			}
		}
		t.Logf("\t%s\tShould not decrypt without the root secret.", success)

		holder, err := journal.New(journal.Config{Root: &rs, Storage: memory.New()})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open a second owned journal: %v", failed, err)
		}
		if _, err := holder.Merge(relayed); err != nil {
			t.Fatalf("\t%s\tShould merge the relayed mutations: %v", failed, err)
		}

		var store recorder
		res, err := r.Run(context.Background(), holder, &store)
		if err != nil {
			t.Fatalf("\t%s\tShould replay on the key holder: %v", failed, err)
		}

		if fmt.Sprint(store.payloads) != "[P0 P1]" || fmt.Sprint(store.indexes) != "[0 1]" {
			t.Fatalf("\t%s\tShould deliver the payloads in order: %v %v", failed, store.payloads, store.indexes)
		}
		if res.Applied != 2 || res.Next != 2 {
			t.Fatalf("\t%s\tShould report the pass: %+v", failed, res)
		}
		t.Logf("\t%s\tShould deliver the payloads in order.", success)

		res, err = r.Run(context.Background(), holder, &store)
		if err != nil || res.Applied != 0 || len(store.payloads) != 2 {
			t.Fatalf("\t%s\tShould not apply anything twice: %+v: %v", failed, res, err)
		}
		t.Logf("\t%s\tShould not apply anything twice.", success)
	}
}

func Test_ReplayResume(t *testing.T) {
	t.Log("Given the need to resume an interrupted replay from a durable checkpoint.")
	{
		j, _ := ownedJournal(t, "a", "b", "c", "d", "e")

		fs := afero.NewMemMapFs()
		cp, err := replay.NewFileCheckpoint(fs, "/replay")
		if err != nil {
			t.Fatalf("\t%s\tShould be able to create the checkpoint: %v", failed, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		store := recorder{cancel: cancel, cancelAt: 2}

		res, err := replay.New(replay.Config{Checkpoint: cp}).Run(ctx, j, &store)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("\t%s\tShould stop on cancellation: %v", failed, err)
		}
		if res.Next != 2 || len(store.payloads) != 2 {
			t.Fatalf("\t%s\tShould stop at a mutation boundary: %+v", failed, res)
		}
		t.Logf("\t%s\tShould stop at a mutation boundary.", success)

		// A new replayer over the same files picks up where the first stopped.
		cp, _ = replay.NewFileCheckpoint(fs, "/replay")
		store.cancel = nil

		res, err = replay.New(replay.Config{Checkpoint: cp}).Run(context.Background(), j, &store)
		if err != nil {
			t.Fatalf("\t%s\tShould resume the replay: %v", failed, err)
		}
		if res.From != 2 || fmt.Sprint(store.payloads) != "[a b c d e]" {
			t.Fatalf("\t%s\tShould resume at the checkpoint: %+v %v", failed, res, store.payloads)
		}
		t.Logf("\t%s\tShould resume at the checkpoint.", success)

		next, err := cp.Load(j.CloudID())
		if err != nil || next != 5 {
			t.Fatalf("\t%s\tShould persist the next index: %d: %v", failed, next, err)
		}
		t.Logf("\t%s\tShould persist the next index.", success)
	}
}

func Test_ReplayStoreFailure(t *testing.T) {
	t.Log("Given a store that fails part way through a replay.")
	{
		j, _ := ownedJournal(t, "a", "b", "c")

		cp := replay.NewMemoryCheckpoint()
		store := recorder{failAt: 1}

		res, err := replay.New(replay.Config{Checkpoint: cp}).Run(context.Background(), j, &store)
		if !errors.Is(err, replay.ErrStore) {
			t.Fatalf("\t%s\tShould surface the store failure: %v", failed, err)
		}

		next, _ := cp.Load(j.CloudID())
		if res.Next != 1 || next != 1 {
			t.Fatalf("\t%s\tShould checkpoint only what was applied: %d %d", failed, res.Next, next)
		}
		t.Logf("\t%s\tShould checkpoint only what was applied.", success)
	}
}

func Test_ReplayDecryptionFailure(t *testing.T) {
	t.Log("Given a validly signed mutation encrypted under a key the root secret does not derive.")
	{
		rs, err := identity.NewRootSecret()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a root secret: %v", failed, err)
		}
		id, err := identity.Derive(rs)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive the identity: %v", failed, err)
		}

		var salt codec.Salt
		salt[0] = 7

		var wrong codec.Key
		wrong[0] = 9

		ct := codec.Encrypt([]byte("lost"), wrong)
		sig, err := id.Sign(codec.SignedEncoding(0, salt, ct, identity.ZeroDigest))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign: %v", failed, err)
		}

		m := journal.Mutation{
			Index:      0,
			Salt:       salt,
			Ciphertext: ct,
			PrevDigest: identity.ZeroDigest,
			Signature:  sig,
		}

		j, err := journal.New(journal.Config{Root: &rs, Storage: memory.New()})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the journal: %v", failed, err)
		}

		if o, err := j.Submit(m); err != nil || o.State != journal.Accepted {
			t.Fatalf("\t%s\tShould accept the signed mutation: %v: %v", failed, o.State, err)
		}
		t.Logf("\t%s\tShould accept the signed mutation.", success)

		var store recorder
		_, err = replay.New(replay.Config{}).Run(context.Background(), j, &store)
		if !errors.Is(err, codec.ErrDecryption) {
			t.Fatalf("\t%s\tShould fail the pass with a decryption error: %v", failed, err)
		}
		if len(store.payloads) != 0 {
			t.Fatalf("\t%s\tShould not apply anything: %v", failed, store.payloads)
		}
		t.Logf("\t%s\tShould fail the pass with a decryption error.", success)
	}
}

// tally is a store safe for concurrent use that counts deliveries per index.
type tally struct {
	mu       sync.Mutex
	applied  map[uint64]int
	outOfSeq int
	last     int64
}

func (ta *tally) Apply(ctx context.Context, payload []byte, index uint64) error {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	if int64(index) != ta.last+1 {
		ta.outOfSeq++
	}
	ta.last = int64(index)
	ta.applied[index]++

	return nil
}

func Test_ReplayConcurrentPasses(t *testing.T) {
	t.Log("Given the need to apply every index once when passes over a cloud overlap.")
	{
		const total = 200

		payloads := make([]string, total)
		for i := range payloads {
			payloads[i] = fmt.Sprintf("op-%d", i)
		}
		j, _ := ownedJournal(t, payloads...)

		r := replay.New(replay.Config{})
		store := tally{applied: make(map[uint64]int), last: -1}

		const passes = 4

		var wg sync.WaitGroup
		errs := make(chan error, passes)

		wg.Add(passes)
		for range passes {
			go func() {
				defer wg.Done()
				if _, err := r.Run(context.Background(), j, &store); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("\t%s\tShould run every pass: %v", failed, err)
		}
		t.Logf("\t%s\tShould run every pass.", success)

		var twice int
		for _, n := range store.applied {
			if n != 1 {
				twice++
			}
		}
		if len(store.applied) != total || twice != 0 {
			t.Fatalf("\t%s\tShould apply each of %d indexes once: applied %d, more than once %d.", failed, total, len(store.applied), twice)
		}
		t.Logf("\t%s\tShould apply each index exactly once.", success)

		if store.outOfSeq != 0 {
			t.Fatalf("\t%s\tShould apply the indexes in order: %d out of sequence.", failed, store.outOfSeq)
		}
		t.Logf("\t%s\tShould apply the indexes in order.", success)
	}
}
