package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/journal/storage/memory"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// owner is a device holding the root secret of a cloud.
type owner struct {
	root    identity.RootSecret
	id      identity.Identity
	journal *journal.Journal
	storage *memory.Memory
}

func newOwner(t *testing.T) owner {
	t.Helper()

	rs, err := identity.NewRootSecret()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a root secret: %v", failed, err)
	}

	id, err := identity.Derive(rs)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to derive the identity: %v", failed, err)
	}

	store := memory.New()

	j, err := journal.New(journal.Config{
		Root:    &rs,
		Storage: store,
		EvHandler: func(v string, args ...any) {
			t.Logf(v, args...)
		},
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the owner journal: %v", failed, err)
	}

	return owner{root: rs, id: id, journal: j, storage: store}
}

// appendPayloads appends each payload and returns the resulting mutations.
func (o owner) appendPayloads(t *testing.T, payloads ...string) []journal.Mutation {
	t.Helper()

	mutations := make([]journal.Mutation, len(payloads))
	for i, p := range payloads {
		m, err := o.journal.AppendLocal(context.Background(), []byte(p))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to append %q: %v", failed, p, err)
		}
		mutations[i] = m
	}

	return mutations
}

// fork produces a validly signed mutation for the index that differs from
// the one the owner journal accepted.
func (o owner) fork(t *testing.T, index uint64, prev identity.Digest, payload string) journal.Mutation {
	t.Helper()

	var salt [32]byte
	salt[0] = 0xff
	salt[1] = byte(index)

	m, err := journal.NewMutation(o.root, o.id, index, salt, prev, []byte(payload))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign a forked mutation: %v", failed, err)
	}

	return m
}

func newRelay(t *testing.T, cloudID identity.CloudID, opts ...func(*journal.Config)) (*journal.Journal, *memory.Memory) {
	t.Helper()

	store := memory.New()

	cfg := journal.Config{
		CloudID: cloudID,
		Storage: store,
		EvHandler: func(v string, args ...any) {
			t.Logf(v, args...)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	j, err := journal.New(cfg)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open the relay journal: %v", failed, err)
	}

	return j, store
}

// clock is a settable time source.
type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

// zeroReader always returns zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
