package journal_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sebdah/goldie/v2"
)

// fixedMutation has every field set to a known value so its encodings can
// be compared byte for byte.
func fixedMutation() journal.Mutation {
	var m journal.Mutation

	m.Index = 1
	for i := range m.Salt {
		m.Salt[i] = 0x01
	}
	m.Ciphertext = []byte{0xde, 0xad, 0xbe, 0xef}
	for i := range m.PrevDigest {
		m.PrevDigest[i] = 0x02
	}
	m.Signature = make([]byte, 65)
	for i := 0; i < 64; i++ {
		m.Signature[i] = 0x03
	}
	m.Signature[64] = 0x01

	return m
}

func Test_CanonicalEncoding(t *testing.T) {
	t.Log("Given the need for one fixed byte encoding of a mutation.")
	{
		g := goldie.New(t,
			goldie.WithFixtureDir("testdata"),
			goldie.WithNameSuffix(".golden"),
		)

		m := fixedMutation()

		record, err := m.MarshalBinary()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal the record: %v", failed, err)
		}

		g.Assert(t, "record", []byte(hexutil.Encode(record)))
		t.Logf("\t%s\tShould produce the persisted record layout.", success)

		g.Assert(t, "digest", []byte(m.Digest().String()))
		t.Logf("\t%s\tShould produce the known digest.", success)

		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal to JSON: %v", failed, err)
		}

		g.Assert(t, "mutation", data)
		t.Logf("\t%s\tShould produce the JSON wire form.", success)
	}
}

func Test_RecordDecoding(t *testing.T) {
	t.Log("Given the need to reject malformed persisted records.")
	{
		m := fixedMutation()

		record, err := m.MarshalBinary()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal the record: %v", failed, err)
		}

		var got journal.Mutation
		if err := got.UnmarshalBinary(record); err != nil {
			t.Fatalf("\t%s\tShould be able to decode the record: %v", failed, err)
		}

		if got.Digest() != m.Digest() {
			t.Fatalf("\t%s\tShould decode the same mutation.", failed)
		}
		t.Logf("\t%s\tShould decode the same mutation.", success)

		digestFlip := append([]byte{}, record...)
		digestFlip[len(digestFlip)-1] ^= 0x01

		lengthFlip := append([]byte{}, record...)
		lengthFlip[8+32+3] = 0x05

		tt := []struct {
			name string
			data []byte
		}{
			{name: "empty", data: nil},
			{name: "truncated", data: record[:len(record)-1]},
			{name: "header only", data: record[:44]},
			{name: "over long", data: append(append([]byte{}, record...), 0x00)},
			{name: "self digest", data: digestFlip},
			{name: "length prefix", data: lengthFlip},
		}

		for testID, tst := range tt {
			f := func(t *testing.T) {
				var m journal.Mutation
				if err := m.UnmarshalBinary(tst.data); !errors.Is(err, identity.ErrMalformedInput) {
					t.Fatalf("\t%s\tTest %d:\tShould reject the record as malformed: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould reject the record as malformed.", success, testID)
			}

			t.Run(tst.name, f)
		}

		short := fixedMutation()
		short.Signature = short.Signature[:64]
		if _, err := short.MarshalBinary(); !errors.Is(err, identity.ErrMalformedInput) {
			t.Fatalf("\t%s\tShould refuse to encode a short signature: %v", failed, err)
		}
		t.Logf("\t%s\tShould refuse to encode a short signature.", success)
	}
}

func Test_JSONRoundTrip(t *testing.T) {
	t.Log("Given the need to pass mutations between peers as JSON.")
	{
		o := newOwner(t)
		m := o.appendPayloads(t, "p0")[0]

		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal: %v", failed, err)
		}

		var got journal.Mutation
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("\t%s\tShould be able to unmarshal: %v", failed, err)
		}

		if got.Digest() != m.Digest() || !got.VerifySignature(o.id.CloudID) {
			t.Fatalf("\t%s\tShould get back a mutation that still verifies.", failed)
		}
		t.Logf("\t%s\tShould get back a mutation that still verifies.", success)

		if err := json.Unmarshal([]byte(`{"salt":"0x01"}`), &got); !errors.Is(err, identity.ErrMalformedInput) {
			t.Fatalf("\t%s\tShould reject a short salt: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a short salt.", success)
	}
}
