// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ardanlabs/encloud/business/web/errs"
	"github.com/ardanlabs/encloud/business/web/params"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/events"
	"github.com/ardanlabs/encloud/foundation/keyring"
	"github.com/ardanlabs/encloud/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of cloud endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	State   *state.State
	Keyring *keyring.Keyring
	WS      websocket.Upgrader
	Evts    *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Clouds returns the status of every cloud held by the node.
func (h Handlers) Clouds(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	statuses := h.State.RetrieveClouds()

	clouds := make([]cloud, len(statuses))
	for i, st := range statuses {
		clouds[i] = h.toCloud(st)
	}

	return web.Respond(ctx, w, clouds, http.StatusOK)
}

// Status returns the status of the cloud and the proof of equivocation when
// the cloud is compromised.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	st, err := h.State.RetrieveStatus(cloudID)
	if err != nil {
		return err
	}

	resp := cloudStatus{
		cloud: h.toCloud(st),
	}

	evidence, exists, err := h.State.RetrieveEvidence(cloudID)
	if err != nil {
		return err
	}
	if exists {
		resp.Evidence = &evidence
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
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

// SubmitMutations offers signed mutations from a client to the cloud. The
// node needs no secret to accept them.
func (h Handlers) SubmitMutations(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	var mutations []journal.Mutation
	if err := web.Decode(r, &mutations); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("submit mutations", "traceid", v.TraceID, "cloud", cloudID.Short(), "mutations", len(mutations))

	report, err := h.State.SubmitMutations(cloudID, mutations)
	if err != nil {
		return err
	}

	resp := submitResponse{
		Status: "mutations offered",
		Report: report,
	}

	if report.Halted {
		resp.Status = "mutations halted"
		return web.Respond(ctx, w, resp, http.StatusNotAcceptable)
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

func (h Handlers) toCloud(st journal.Status) cloud {
	c := cloud{
		Status: st,
		Owned:  h.State.IsOwned(st.CloudID),
	}

	if c.Owned {
		c.Name = h.Keyring.Name(st.CloudID)
	}

	return c
}
