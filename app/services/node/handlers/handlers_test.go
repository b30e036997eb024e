package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/encloud/app/services/node/handlers"
	"github.com/ardanlabs/encloud/business/core/oplog"
	"github.com/ardanlabs/encloud/business/web/errs"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/journal/storage/sqlite"
	"github.com/ardanlabs/encloud/foundation/cloud/peer"
	"github.com/ardanlabs/encloud/foundation/cloud/replay"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/events"
	"github.com/ardanlabs/encloud/foundation/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type node struct {
	public  *httptest.Server
	private *httptest.Server
	owner   *httptest.Server
	cloudID identity.CloudID
}

func newNode(t *testing.T, host string, owned bool) node {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "encloud.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opLog, err := oplog.New(db.SQL())
	require.NoError(t, err)

	kr := keyring.Empty()

	var n node
	if owned {
		rs, err := identity.NewRootSecret()
		require.NoError(t, err)

		e, err := kr.Add("notes", rs)
		require.NoError(t, err)
		n.cloudID = e.CloudID
	}

	st, err := state.New(state.Config{
		Host:        host,
		Storage:     db,
		Keyring:     kr,
		ReplayStore: func(cloudID identity.CloudID) replay.Store { return opLog.Sink(cloudID) },
		EvHandler:   t.Logf,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Shutdown() })

	cfg := handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		State:    st,
		Keyring:  kr,
		OpLog:    opLog,
		Evts:     events.New(),
	}

	n.public = httptest.NewServer(handlers.PublicMux(cfg))
	t.Cleanup(n.public.Close)

	n.private = httptest.NewServer(handlers.PrivateMux(cfg))
	t.Cleanup(n.private.Close)

	n.owner = httptest.NewServer(handlers.OwnerMux(cfg))
	t.Cleanup(n.owner.Close)

	return n
}

func call(t *testing.T, method string, url string, body any, out any) int {
	t.Helper()

	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "%s %s", method, url)
	}

	return resp.StatusCode
}

// =============================================================================

func TestOwnerRoutes(t *testing.T) {
	owner := newNode(t, "owner:9080", true)
	base := fmt.Sprintf("%s/v1/clouds/%s", owner.public.URL, owner.cloudID)
	ownerBase := fmt.Sprintf("%s/v1/clouds/%s", owner.owner.URL, owner.cloudID)

	var m journal.Mutation
	status := call(t, http.MethodPost, ownerBase+"/append", map[string][]byte{"payload": []byte("hello")}, &m)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, uint64(0), m.Index)
	assert.True(t, m.VerifySignature(owner.cloudID))

	var er errs.Response
	status = call(t, http.MethodPost, ownerBase+"/append", map[string]string{}, &er)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, er.Fields, "payload")

	var clouds []struct {
		CloudID identity.CloudID `json:"cloud_id"`
		Length  uint64           `json:"length"`
		Name    string           `json:"name"`
		Owned   bool             `json:"owned"`
	}
	status = call(t, http.MethodGet, owner.public.URL+"/v1/clouds", nil, &clouds)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, clouds, 1)
	assert.Equal(t, owner.cloudID, clouds[0].CloudID)
	assert.Equal(t, "notes", clouds[0].Name)
	assert.True(t, clouds[0].Owned)
	assert.Equal(t, uint64(1), clouds[0].Length)

	status = call(t, http.MethodGet, owner.public.URL+"/v1/clouds/0xzz/status", nil, &er)
	assert.Equal(t, http.StatusBadRequest, status)

	var mutations []journal.Mutation
	status = call(t, http.MethodGet, base+"/mutations/0/latest", nil, &mutations)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, mutations, 1)
	assert.Equal(t, m.Digest(), mutations[0].Digest())

	status = call(t, http.MethodGet, base+"/mutations/5/latest", nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status = call(t, http.MethodGet, base+"/mutations/3/1", nil, &er)
	assert.Equal(t, http.StatusBadRequest, status)

	var res replay.Result
	status = call(t, http.MethodPost, ownerBase+"/replay", nil, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, res.Applied)

	var ops []oplog.Operation
	status = call(t, http.MethodGet, ownerBase+"/operations/0", nil, &ops)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, ops, 1)
	assert.Equal(t, "hello", string(ops[0].Payload))

	var disclosed journal.Mutation
	status = call(t, http.MethodPost, ownerBase+"/disclose/0", nil, &disclosed)
	require.Equal(t, http.StatusOK, status)
	payload, err := disclosed.OpenDisclosed()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(payload))

	status = call(t, http.MethodPost, ownerBase+"/disclose/7", nil, &er)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRelayRoutes(t *testing.T) {
	owner := newNode(t, "owner:9080", true)
	relay := newNode(t, "relay:9080", false)

	ownerBase := fmt.Sprintf("%s/v1/clouds/%s", owner.owner.URL, owner.cloudID)
	relayBase := fmt.Sprintf("%s/v1/clouds/%s", relay.public.URL, owner.cloudID)
	relayOwnerBase := fmt.Sprintf("%s/v1/clouds/%s", relay.owner.URL, owner.cloudID)

	var mutations []journal.Mutation
	for _, p := range []string{"a", "b"} {
		var m journal.Mutation
		status := call(t, http.MethodPost, ownerBase+"/append", map[string][]byte{"payload": []byte(p)}, &m)
		require.Equal(t, http.StatusCreated, status)
		mutations = append(mutations, m)
	}

	var resp struct {
		Status string              `json:"status"`
		Report journal.BatchReport `json:"report"`
	}
	status := call(t, http.MethodPost, relayBase+"/mutations", mutations, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, resp.Report.Accepted)

	forged := mutations[1]
	forged.Index = 2
	status = call(t, http.MethodPost, relayBase+"/mutations", []journal.Mutation{forged}, &resp)
	require.Equal(t, http.StatusNotAcceptable, status)
	assert.True(t, resp.Report.Halted)

	var er errs.Response
	status = call(t, http.MethodPost, relayOwnerBase+"/append", map[string][]byte{"payload": []byte("x")}, &er)
	assert.Equal(t, http.StatusForbidden, status)

	status = call(t, http.MethodGet, relayOwnerBase+"/operations/0", nil, &er)
	assert.Equal(t, http.StatusForbidden, status)

	var cs journal.Status
	status = call(t, http.MethodGet, fmt.Sprintf("%s/v1/node/clouds/%s/status", relay.private.URL, owner.cloudID), nil, &cs)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(2), cs.Length)
	assert.Equal(t, mutations[1].Digest(), cs.TailDigest)
}

func TestNodeRoutes(t *testing.T) {
	relay := newNode(t, "relay:9080", false)

	var er errs.Response
	status := call(t, http.MethodPost, relay.private.URL+"/v1/node/peers", peer.New("not a host"), &er)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, er.Fields, "host")

	status = call(t, http.MethodPost, relay.private.URL+"/v1/node/peers", peer.New("peer:9080"), nil)
	require.Equal(t, http.StatusNoContent, status)

	var ps peer.PeerStatus
	status = call(t, http.MethodGet, relay.private.URL+"/v1/node/status", nil, &ps)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "relay:9080", ps.Host)
	assert.Equal(t, []peer.Peer{peer.New("peer:9080")}, ps.KnownPeers)
}

func TestKeyholderRoutesNotExposed(t *testing.T) {
	owner := newNode(t, "owner:9080", true)

	type table struct {
		name   string
		method string
		path   string
	}

	tt := []table{
		{name: "append", method: http.MethodPost, path: "/append"},
		{name: "disclose", method: http.MethodPost, path: "/disclose/0"},
		{name: "replay", method: http.MethodPost, path: "/replay"},
		{name: "operations", method: http.MethodGet, path: "/operations/0"},
	}

	// Seed the cloud so a reachable route would have something to act on.
	status := call(t, http.MethodPost, fmt.Sprintf("%s/v1/clouds/%s/append", owner.owner.URL, owner.cloudID), map[string][]byte{"payload": []byte("secret")}, nil)
	require.Equal(t, http.StatusCreated, status)

	for _, tst := range tt {
		t.Run(tst.name, func(t *testing.T) {
			for _, srv := range []*httptest.Server{owner.public, owner.private} {
				url := fmt.Sprintf("%s/v1/clouds/%s%s", srv.URL, owner.cloudID, tst.path)

				var body any
				if tst.name == "append" {
					body = map[string][]byte{"payload": []byte("forged")}
				}

				status := call(t, tst.method, url, body, nil)
				assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, status, "%s %s", tst.method, url)
			}
		})
	}

	var mutations []journal.Mutation
	status = call(t, http.MethodGet, fmt.Sprintf("%s/v1/clouds/%s/mutations/0/latest", owner.public.URL, owner.cloudID), nil, &mutations)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, mutations, 1, "nothing was appended through the public host")
}
