// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/encloud/business/web/errs"
	"github.com/ardanlabs/encloud/business/web/params"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/peer"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/cloud/syncer"
	"github.com/ardanlabs/encloud/foundation/cloud/transport"
	"github.com/ardanlabs/encloud/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log       *zap.SugaredLogger
	State     *state.State
	WS        websocket.Upgrader
	Keepalive time.Duration
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrievePeerStatus(), http.StatusOK)
}

// SubmitPeer adds a peer to the node's list of known peers.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var pr peer.Peer
	if err := web.Decode(r, &pr); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	if !h.State.AddKnownPeer(pr) {
		h.Log.Infow("add peer", "traceid", v.TraceID, "host", pr.Host, "status", "known")
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	h.Log.Infow("add peer", "traceid", v.TraceID, "host", pr.Host, "status", "added")

	// A new peer may hold clouds this node has not seen.
	if h.State.Worker != nil {
		h.State.Worker.SignalSync()
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// CloudStatus returns the negotiation baseline of a cloud.
func (h Handlers) CloudStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	st, err := h.State.RetrieveStatus(cloudID)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, st, http.StatusOK)
}

// Mutations returns the accepted mutations of the cloud in the specified
// inclusive range.
func (h Handlers) Mutations(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	from, to, err := params.Range(r)
	if err != nil {
		return err
	}

	mutations, err := h.State.QueryMutations(cloudID, from, to)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if len(mutations) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, mutations, http.StatusOK)
}

// SubmitMutations takes mutations shared by a peer and offers them to the
// cloud. They are not shared again.
func (h Handlers) SubmitMutations(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	var mutations []journal.Mutation
	if err := web.Decode(r, &mutations); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	report, err := h.State.SubmitNodeMutations(cloudID, mutations)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, report, http.StatusOK)
}

// Sync upgrades the connection to a duplex sync session. The peer can pull
// any cloud from this node and this node can pull from the peer over it.
func (h Handlers) Sync(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := transport.NewWebsocket(c, syncer.MaxFrameSize)
	defer conn.Close()

	session := h.State.NewSession(conn)

	h.Log.Infow("sync session", "traceid", v.TraceID, "status", "started", "remoteaddr", r.RemoteAddr)
	defer h.Log.Infow("sync session", "traceid", v.TraceID, "status", "completed", "remoteaddr", r.RemoteAddr)

	if h.Keepalive > 0 {
		go func() {
			if err := session.Keepalive(ctx, h.Keepalive); err != nil {
				h.Log.Infow("sync session", "traceid", v.TraceID, "status", "keepalive failed", "ERROR", err)
				session.Close()
			}
		}()
	}

	return session.Run(ctx)
}
