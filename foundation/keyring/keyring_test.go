package keyring_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/keyring"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Keyring(t *testing.T) {
	t.Log("Given the need to load owned clouds from a folder.")
	{
		dir := t.TempDir()

		rs, err := identity.NewRootSecret()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a root secret: %v", failed, err)
		}
		if err := identity.SaveRootSecret(filepath.Join(dir, "notes.secret"), rs); err != nil {
			t.Fatalf("\t%s\tShould be able to save the root secret: %v", failed, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0600); err != nil {
			t.Fatalf("\t%s\tShould be able to write an unrelated file: %v", failed, err)
		}

		kr, err := keyring.New(dir)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the keyring: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to load the keyring.", success)

		id, _ := identity.Derive(rs)

		e, exists := kr.Lookup(id.CloudID)
		if !exists || e.Name != "notes" || e.Root != rs {
			t.Fatalf("\t%s\tShould find the cloud by id: %+v", failed, e)
		}
		t.Logf("\t%s\tShould find the cloud by id.", success)

		if e, exists := kr.Find("notes"); !exists || e.CloudID != id.CloudID {
			t.Fatalf("\t%s\tShould find the cloud by name.", failed)
		}
		t.Logf("\t%s\tShould find the cloud by name.", success)

		if len(kr.Copy()) != 1 {
			t.Fatalf("\t%s\tShould only load secret files: %v", failed, kr.Copy())
		}
		t.Logf("\t%s\tShould only load secret files.", success)

		var other identity.CloudID
		other[0] = 1
		if kr.Name(other) != other.Short() {
			t.Fatalf("\t%s\tShould name unknown clouds by short id.", failed)
		}
		t.Logf("\t%s\tShould name unknown clouds by short id.", success)
	}
}
