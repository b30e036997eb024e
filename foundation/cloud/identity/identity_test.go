package identity_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const rootHex = "0x8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"

func mustRoot(t *testing.T, hex string) identity.RootSecret {
	t.Helper()

	d, err := identity.ToDigest(hex)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to decode the root secret: %v", failed, err)
	}

	rs, err := identity.ParseRootSecret(d[:])
	if err != nil {
		t.Fatalf("\t%s\tShould be able to parse the root secret: %v", failed, err)
	}

	return rs
}

// =============================================================================

func Test_DeriveDeterministic(t *testing.T) {
	t.Log("Given the need to derive the same identity from the same root secret.")
	{
		rs := mustRoot(t, rootHex)

		id1, err := identity.Derive(rs)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive an identity: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to derive an identity.", success)

		for i := 0; i < 5; i++ {
			id2, err := identity.Derive(rs)
			if err != nil {
				t.Fatalf("\t%s\tShould be able to derive an identity again: %v", failed, err)
			}

			if id1.CloudID != id2.CloudID || !bytes.Equal(id1.PublicKey, id2.PublicKey) {
				t.Logf("\t\tgot: %s", id2.CloudID)
				t.Logf("\t\texp: %s", id1.CloudID)
				t.Fatalf("\t%s\tShould get back the same identity.", failed)
			}

			if id1.PrivateKey.D.Cmp(id2.PrivateKey.D) != 0 {
				t.Fatalf("\t%s\tShould get back the same private key.", failed)
			}
		}
		t.Logf("\t%s\tShould get back the same identity every time.", success)

		if id1.CloudID != identity.CloudIDFromPublicKey(id1.PublicKey) {
			t.Fatalf("\t%s\tShould have a cloud id equal to the digest of the public key.", failed)
		}
		t.Logf("\t%s\tShould have a cloud id equal to the digest of the public key.", success)

		other, err := identity.NewRootSecret()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a root secret: %v", failed, err)
		}

		id3, err := identity.Derive(other)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive a second identity: %v", failed, err)
		}

		if id3.CloudID == id1.CloudID {
			t.Fatalf("\t%s\tShould get a different cloud id for a different root secret.", failed)
		}
		t.Logf("\t%s\tShould get a different cloud id for a different root secret.", success)
	}
}

func Test_ParseRootSecret(t *testing.T) {
	type table struct {
		name string
		size int
		ok   bool
	}

	tt := []table{
		{name: "empty", size: 0},
		{name: "short", size: 31},
		{name: "exact", size: 32, ok: true},
		{name: "long", size: 33},
		{name: "double", size: 64},
	}

	t.Log("Given the need to reject root secrets of the wrong length.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				_, err := identity.ParseRootSecret(make([]byte, tst.size))

				switch tst.ok {
				case true:
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould accept %d bytes: %v", failed, testID, tst.size, err)
					}
					t.Logf("\t%s\tTest %d:\tShould accept %d bytes.", success, testID, tst.size)

				default:
					if !errors.Is(err, identity.ErrMalformedInput) {
						t.Fatalf("\t%s\tTest %d:\tShould reject %d bytes as malformed: %v", failed, testID, tst.size, err)
					}
					t.Logf("\t%s\tTest %d:\tShould reject %d bytes as malformed.", success, testID, tst.size)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_SignVerify(t *testing.T) {
	t.Log("Given the need to verify signatures with only public material.")
	{
		id, err := identity.Derive(mustRoot(t, rootHex))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to derive an identity: %v", failed, err)
		}

		message := []byte("mutation bytes")

		sig, err := id.Sign(message)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to sign.", success)

		if !identity.Verify(sig, message, id.CloudID) {
			t.Fatalf("\t%s\tShould verify against the cloud id.", failed)
		}
		t.Logf("\t%s\tShould verify against the cloud id.", success)

		if !identity.VerifyWithKey(sig, message, id.PublicKey) {
			t.Fatalf("\t%s\tShould verify against the public key.", failed)
		}
		t.Logf("\t%s\tShould verify against the public key.", success)

		if identity.Verify(sig, []byte("other bytes"), id.CloudID) {
			t.Fatalf("\t%s\tShould not verify a different message.", failed)
		}
		t.Logf("\t%s\tShould not verify a different message.", success)

		other, _ := identity.NewRootSecret()
		otherID, _ := identity.Derive(other)
		if identity.Verify(sig, message, otherID.CloudID) {
			t.Fatalf("\t%s\tShould not verify against another cloud.", failed)
		}
		t.Logf("\t%s\tShould not verify against another cloud.", success)

		bad := append([]byte{}, sig...)
		bad[64] = 7
		if identity.Verify(bad, message, id.CloudID) {
			t.Fatalf("\t%s\tShould not verify with a bad recovery id.", failed)
		}
		t.Logf("\t%s\tShould not verify with a bad recovery id.", success)

		if identity.Verify(sig[:64], message, id.CloudID) {
			t.Fatalf("\t%s\tShould not verify a truncated signature.", failed)
		}
		t.Logf("\t%s\tShould not verify a truncated signature.", success)
	}
}

func Test_RootSecretFile(t *testing.T) {
	t.Log("Given the need to store a root secret on disk.")
	{
		rs, err := identity.NewRootSecret()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a root secret: %v", failed, err)
		}

		path := filepath.Join(t.TempDir(), "cloud.secret")
		if err := identity.SaveRootSecret(path, rs); err != nil {
			t.Fatalf("\t%s\tShould be able to save the root secret: %v", failed, err)
		}

		got, err := identity.LoadRootSecret(path)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the root secret: %v", failed, err)
		}

		if got != rs {
			t.Fatalf("\t%s\tShould get back the same root secret.", failed)
		}
		t.Logf("\t%s\tShould get back the same root secret.", success)
	}
}

func Test_TextEncoding(t *testing.T) {
	t.Log("Given the need to pass cloud ids as text.")
	{
		id, _ := identity.Derive(mustRoot(t, rootHex))

		text, err := id.CloudID.MarshalText()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to marshal the cloud id: %v", failed, err)
		}

		got, err := identity.ToCloudID(string(text))
		if err != nil {
			t.Fatalf("\t%s\tShould be able to parse the cloud id: %v", failed, err)
		}

		if got != id.CloudID {
			t.Fatalf("\t%s\tShould get back the same cloud id.", failed)
		}
		t.Logf("\t%s\tShould get back the same cloud id.", success)

		if _, err := identity.ToCloudID("0x1234"); !errors.Is(err, identity.ErrMalformedInput) {
			t.Fatalf("\t%s\tShould reject a short cloud id: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a short cloud id.", success)
	}
}
