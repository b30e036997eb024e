package events_test

import (
	"encoding/json"
	"testing"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/events"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_Events(t *testing.T) {
	t.Log("Given the need to fan out events to subscribers.")
	{
		evts := events.New()

		a := evts.Acquire("a")
		b := evts.Acquire("b")

		evts.Send("hello")

		if <-a != "hello" || <-b != "hello" {
			t.Fatalf("\t%s\tShould deliver the message to every subscriber.", failed)
		}
		t.Logf("\t%s\tShould deliver the message to every subscriber.", success)

		var cloudID identity.CloudID
		cloudID[0] = 0xaa
		tail := identity.Hash([]byte("tail"))

		evts.SendCloudMutated(cloudID, 3, tail)

		var ev events.CloudMutated
		if err := json.Unmarshal([]byte(<-a), &ev); err != nil {
			t.Fatalf("\t%s\tShould deliver a JSON document: %v", failed, err)
		}
		if ev.Type != events.TypeCloudMutated || ev.CloudID != cloudID || ev.Length != 3 || ev.TailDigest != tail {
			t.Fatalf("\t%s\tShould describe the new tail: %+v", failed, ev)
		}
		t.Logf("\t%s\tShould describe the new tail.", success)

		if err := evts.Release("a"); err != nil {
			t.Fatalf("\t%s\tShould release the subscriber: %v", failed, err)
		}
		if err := evts.Release("a"); err == nil {
			t.Fatalf("\t%s\tShould fail to release an unknown subscriber.", failed)
		}
		t.Logf("\t%s\tShould release subscribers.", success)

		evts.Shutdown()

		<-b // drain the cloud_mutated message
		if _, open := <-b; open {
			t.Fatalf("\t%s\tShould close channels on shutdown.", failed)
		}
		t.Logf("\t%s\tShould close channels on shutdown.", success)
	}
}
