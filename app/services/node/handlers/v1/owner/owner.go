// Package owner maintains the group of handlers that act with the root
// secrets of the node's keyring. They are only served on the owner host.
package owner

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ardanlabs/encloud/business/core/oplog"
	"github.com/ardanlabs/encloud/business/web/errs"
	"github.com/ardanlabs/encloud/business/web/params"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/keyring"
	"github.com/ardanlabs/encloud/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of key holder endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	State   *state.State
	Keyring *keyring.Keyring
	OpLog   *oplog.Log
}

// Append encrypts and signs the payload as the next mutation of an owned
// cloud.
func (h Handlers) Append(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	var req appendRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	m, err := h.State.AppendLocal(ctx, cloudID, req.Payload)
	if err != nil {
		return err
	}

	h.Log.Infow("append", "traceid", v.TraceID, "cloud", h.Keyring.Name(cloudID), "index", m.Index, "digest", m.Digest())

	return web.Respond(ctx, w, m, http.StatusCreated)
}

// Disclose attaches the mutation key to a mutation of an owned cloud.
func (h Handlers) Disclose(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	index, err := params.Index(r, "index")
	if err != nil {
		return err
	}

	m, err := h.State.Disclose(cloudID, index)
	if err != nil {
		return err
	}

	h.Log.Infow("disclose", "traceid", v.TraceID, "cloud", h.Keyring.Name(cloudID), "index", m.Index)

	return web.Respond(ctx, w, m, http.StatusOK)
}

// Replay runs a replay pass of an owned cloud into the node's op log.
func (h Handlers) Replay(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	result, err := h.State.Replay(ctx, cloudID)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, result, http.StatusOK)
}

// Operations returns the decrypted operations replayed for an owned cloud.
func (h Handlers) Operations(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if h.OpLog == nil {
		return errs.NewTrusted(errors.New("op log not configured"), http.StatusNotImplemented)
	}

	cloudID, err := params.Cloud(r)
	if err != nil {
		return err
	}

	if !h.State.IsOwned(cloudID) {
		return errs.NewTrusted(journal.ErrNotKeyHolder, http.StatusForbidden)
	}

	from, err := params.Index(r, "from")
	if err != nil {
		return err
	}
	if from == state.QueryLatest {
		from = 0
	}

	ops, err := h.OpLog.Operations(ctx, cloudID, from, oplog.MaxOperations)
	if err != nil {
		return err
	}

	if len(ops) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, ops, http.StatusOK)
}
