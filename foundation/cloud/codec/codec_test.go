package codec_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardanlabs/encloud/foundation/cloud/codec"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func salt(b byte) codec.Salt {
	var s codec.Salt
	for i := range s {
		s[i] = b
	}
	return s
}

// =============================================================================

func Test_RoundTrip(t *testing.T) {
	type table struct {
		name    string
		payload []byte
		index   uint64
	}

	tt := []table{
		{name: "empty", payload: []byte{}, index: 0},
		{name: "small", payload: []byte("insert {name: bill}"), index: 1},
		{name: "large", payload: bytes.Repeat([]byte{0xab}, 64*1024), index: 1 << 40},
	}

	rs, err := identity.NewRootSecret()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a root secret: %v", failed, err)
	}

	t.Log("Given the need to encrypt and decrypt payloads per mutation.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				key := codec.MutationKey(rs, tst.index, salt(byte(testID)))

				ct := codec.Encrypt(tst.payload, key)
				if bytes.Contains(ct, tst.payload) && len(tst.payload) > 0 {
					t.Fatalf("\t%s\tTest %d:\tShould not leak the payload into the ciphertext.", failed, testID)
				}

				pt, err := codec.Decrypt(ct, key)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to decrypt: %v", failed, testID, err)
				}

				if !bytes.Equal(pt, tst.payload) {
					t.Fatalf("\t%s\tTest %d:\tShould get back the same payload.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould get back the same payload.", success, testID)

				wrongIndex := codec.MutationKey(rs, tst.index+1, salt(byte(testID)))
				if _, err := codec.Decrypt(ct, wrongIndex); !errors.Is(err, codec.ErrDecryption) {
					t.Fatalf("\t%s\tTest %d:\tShould fail with a key for another index: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail with a key for another index.", success, testID)

				wrongSalt := codec.MutationKey(rs, tst.index, salt(byte(testID)+1))
				if _, err := codec.Decrypt(ct, wrongSalt); !errors.Is(err, codec.ErrDecryption) {
					t.Fatalf("\t%s\tTest %d:\tShould fail with a key for another salt: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail with a key for another salt.", success, testID)

				other, _ := identity.NewRootSecret()
				wrongRoot := codec.MutationKey(other, tst.index, salt(byte(testID)))
				if _, err := codec.Decrypt(ct, wrongRoot); !errors.Is(err, codec.ErrDecryption) {
					t.Fatalf("\t%s\tTest %d:\tShould fail with another root secret: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail with another root secret.", success, testID)

				tampered := append([]byte{}, ct...)
				tampered[0] ^= 0x01
				if _, err := codec.Decrypt(tampered, key); !errors.Is(err, codec.ErrDecryption) {
					t.Fatalf("\t%s\tTest %d:\tShould fail on a tampered ciphertext: %v", failed, testID, err)
				}
				t.Logf("\t%s\tTest %d:\tShould fail on a tampered ciphertext.", success, testID)
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_MutationKeyDeterministic(t *testing.T) {
	t.Log("Given the need to derive the same key for the same inputs.")
	{
		rs, _ := identity.NewRootSecret()

		k1 := codec.MutationKey(rs, 7, salt(3))
		k2 := codec.MutationKey(rs, 7, salt(3))
		if k1 != k2 {
			t.Fatalf("\t%s\tShould derive the same key twice.", failed)
		}
		t.Logf("\t%s\tShould derive the same key twice.", success)

		if k1 == codec.MutationKey(rs, 8, salt(3)) {
			t.Fatalf("\t%s\tShould derive a different key for another index.", failed)
		}
		t.Logf("\t%s\tShould derive a different key for another index.", success)
	}
}

func Test_SignVerify(t *testing.T) {
	t.Log("Given the need to sign encrypted records.")
	{
		rs, _ := identity.NewRootSecret()
		id, err := identity.Derive(rs)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive an identity: %v", failed, err)
		}

		msg := []byte("encrypted record")
		sig, err := codec.Sign(msg, id.PrivateKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign: %v", failed, err)
		}

		if !codec.Verify(msg, sig, id.PublicKey) {
			t.Fatalf("\t%s\tShould verify with the public key.", failed)
		}
		t.Logf("\t%s\tShould verify with the public key.", success)

		if !codec.VerifyCloud(msg, sig, id.CloudID) {
			t.Fatalf("\t%s\tShould verify with the cloud id.", failed)
		}
		t.Logf("\t%s\tShould verify with the cloud id.", success)

		msg[0] ^= 0xff
		if codec.Verify(msg, sig, id.PublicKey) {
			t.Fatalf("\t%s\tShould not verify a modified message.", failed)
		}
		t.Logf("\t%s\tShould not verify a modified message.", success)
	}
}

func Test_Seal(t *testing.T) {
	t.Log("Given the need to seal a payload into a signed record.")
	{
		rs, _ := identity.NewRootSecret()
		id, _ := identity.Derive(rs)

		payload := []byte("update {name: jill}")
		prev := identity.Hash([]byte("previous"))

		sealed, err := codec.Seal(id, rs, 3, salt(9), prev, payload)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to seal the payload: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to seal the payload.", success)

		msg := codec.SignedEncoding(3, salt(9), sealed.Ciphertext, prev)
		if !codec.VerifyCloud(msg, sealed.Signature, id.CloudID) {
			t.Fatalf("\t%s\tShould produce a signature over the canonical encoding.", failed)
		}
		t.Logf("\t%s\tShould produce a signature over the canonical encoding.", success)

		if codec.VerifyCloud(codec.SignedEncoding(4, salt(9), sealed.Ciphertext, prev), sealed.Signature, id.CloudID) {
			t.Fatalf("\t%s\tShould not verify when the index changes.", failed)
		}
		t.Logf("\t%s\tShould not verify when the index changes.", success)

		got, err := codec.Decrypt(sealed.Ciphertext, codec.MutationKey(rs, 3, salt(9)))
		if err != nil || !bytes.Equal(got, payload) {
			t.Fatalf("\t%s\tShould decrypt back to the payload: %v", failed, err)
		}
		t.Logf("\t%s\tShould decrypt back to the payload.", success)
	}
}
