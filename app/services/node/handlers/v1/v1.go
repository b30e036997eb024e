// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"
	"time"

	"github.com/ardanlabs/encloud/app/services/node/handlers/v1/owner"
	"github.com/ardanlabs/encloud/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/encloud/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/encloud/business/core/oplog"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/events"
	"github.com/ardanlabs/encloud/foundation/keyring"
	"github.com/ardanlabs/encloud/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log       *zap.SugaredLogger
	State     *state.State
	Keyring   *keyring.Keyring
	OpLog     *oplog.Log
	Evts      *events.Events
	Keepalive time.Duration
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		State:   cfg.State,
		Keyring: cfg.Keyring,
		WS:      websocket.Upgrader{},
		Evts:    cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/clouds", pbl.Clouds)
	app.Handle(http.MethodGet, version, "/clouds/:cloud/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/clouds/:cloud/mutations/:from/:to", pbl.Mutations)
	app.Handle(http.MethodPost, version, "/clouds/:cloud/mutations", pbl.SubmitMutations)
}

// OwnerRoutes binds all the version 1 routes that use the keyring.
func OwnerRoutes(app *web.App, cfg Config) {
	own := owner.Handlers{
		Log:     cfg.Log,
		State:   cfg.State,
		Keyring: cfg.Keyring,
		OpLog:   cfg.OpLog,
	}

	app.Handle(http.MethodPost, version, "/clouds/:cloud/append", own.Append)
	app.Handle(http.MethodPost, version, "/clouds/:cloud/disclose/:index", own.Disclose)
	app.Handle(http.MethodPost, version, "/clouds/:cloud/replay", own.Replay)
	app.Handle(http.MethodGet, version, "/clouds/:cloud/operations/:from", own.Operations)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:       cfg.Log,
		State:     cfg.State,
		WS:        websocket.Upgrader{},
		Keepalive: cfg.Keepalive,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodPost, version, "/node/peers", prv.SubmitPeer)
	app.Handle(http.MethodGet, version, "/node/clouds/:cloud/status", prv.CloudStatus)
	app.Handle(http.MethodGet, version, "/node/clouds/:cloud/mutations/:from/:to", prv.Mutations)
	app.Handle(http.MethodPost, version, "/node/clouds/:cloud/mutations", prv.SubmitMutations)
	app.Handle(http.MethodGet, version, "/node/sync", prv.Sync)
}
