package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/peer"
	"github.com/ardanlabs/encloud/foundation/cloud/syncer"
	"github.com/ardanlabs/encloud/foundation/cloud/transport"
)

const baseURL = "http://%s/v1/node"

// NetRequestPeerStatus asks the peer for its known peers and the status of
// the clouds it holds.
func (s *State) NetRequestPeerStatus(ctx context.Context, pr peer.Peer) (peer.PeerStatus, error) {
	s.evHandler("state: NetRequestPeerStatus: started: %s", pr)
	defer s.evHandler("state: NetRequestPeerStatus: completed: %s", pr)

	url := fmt.Sprintf("%s/status", fmt.Sprintf(baseURL, pr.Host))

	var ps peer.PeerStatus
	if err := send(ctx, http.MethodGet, url, nil, &ps); err != nil {
		return peer.PeerStatus{}, err
	}

	s.evHandler("state: NetRequestPeerStatus: peer-node[%s]: clouds[%d]: peer-list[%s]", pr, len(ps.Clouds), ps.KnownPeers)

	return ps, nil
}

// NetRequestAddPeer lets the peer know this node is available.
func (s *State) NetRequestAddPeer(ctx context.Context, pr peer.Peer) error {
	s.evHandler("state: NetRequestAddPeer: started: %s", pr)
	defer s.evHandler("state: NetRequestAddPeer: completed: %s", pr)

	url := fmt.Sprintf("%s/peers", fmt.Sprintf(baseURL, pr.Host))

	return send(ctx, http.MethodPost, url, peer.New(s.host), nil)
}

// NetSendMutationsToPeers shares mutations with the known peers.
func (s *State) NetSendMutationsToPeers(ctx context.Context, cloudID identity.CloudID, mutations []journal.Mutation) {
	s.evHandler("state: NetSendMutationsToPeers: started")
	defer s.evHandler("state: NetSendMutationsToPeers: completed")

	for _, pr := range s.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/clouds/%s/mutations", fmt.Sprintf(baseURL, pr.Host), cloudID)
		if err := send(ctx, http.MethodPost, url, mutations, nil); err != nil {
			s.evHandler("state: NetSendMutationsToPeers: %s: WARNING: %s", pr, err)
		}
	}
}

// PullFromPeer runs a sync round for the cloud against the peer over its
// private API.
func (s *State) PullFromPeer(ctx context.Context, pr peer.Peer, cloudID identity.CloudID) (syncer.Report, error) {
	return s.Pull(ctx, NewRemote(pr.Host), cloudID, pr.Host)
}

// Pull runs a sync round for the cloud against any remote.
func (s *State) Pull(ctx context.Context, remote syncer.Remote, cloudID identity.CloudID, name string) (syncer.Report, error) {
	j, err := s.Journal(cloudID)
	if err != nil {
		return syncer.Report{}, err
	}

	before := j.Length()
	was := j.State()

	report, err := s.syncer.Pull(ctx, remote, cloudID, name)

	for _, b := range report.Batches {
		s.onMerged(cloudID, b.Report)
	}
	s.onSynced(report, err)
	s.checkCompromised(j, was)
	s.grew(j, before, false)

	return report, err
}

// Serve answers a peer's sync requests over the connection until it closes.
func (s *State) Serve(ctx context.Context, conn transport.Conn) error {
	return s.syncer.Serve(ctx, conn)
}

// NewSession returns a sync session over the connection for pulling from
// and serving the peer at the same time.
func (s *State) NewSession(conn transport.Conn) *syncer.Session {
	return s.syncer.NewSession(conn)
}

// =============================================================================

// Remote reads another node's journals over its private API.
type Remote struct {
	host string
}

// NewRemote constructs a remote for the node at the specified host.
func NewRemote(host string) Remote {
	return Remote{host: host}
}

// Status implements the syncer.Remote interface.
func (r Remote) Status(ctx context.Context, cloudID identity.CloudID) (journal.Status, error) {
	url := fmt.Sprintf("%s/clouds/%s/status", fmt.Sprintf(baseURL, r.host), cloudID)

	var st journal.Status
	if err := send(ctx, http.MethodGet, url, nil, &st); err != nil {
		return journal.Status{}, err
	}

	return st, nil
}

// Fetch implements the syncer.Remote interface.
func (r Remote) Fetch(ctx context.Context, cloudID identity.CloudID, from uint64, limit int) ([]journal.Mutation, error) {
	if limit <= 0 {
		return nil, nil
	}

	to := from + uint64(limit) - 1
	url := fmt.Sprintf("%s/clouds/%s/mutations/%d/%d", fmt.Sprintf(baseURL, r.host), cloudID, from, to)

	var mutations []journal.Mutation
	if err := send(ctx, http.MethodGet, url, nil, &mutations); err != nil {
		return nil, err
	}

	return mutations, nil
}

// =============================================================================

// send is a helper function to send an HTTP request to a node.
func send(ctx context.Context, method string, url string, dataSend any, dataRecv any) error {
	var body io.Reader

	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}

	if dataSend != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
