package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/encloud/app/services/node/handlers"
	"github.com/ardanlabs/encloud/business/core/oplog"
	"github.com/ardanlabs/encloud/business/sys/metrics"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/journal/storage/sqlite"
	"github.com/ardanlabs/encloud/foundation/cloud/peer"
	"github.com/ardanlabs/encloud/foundation/cloud/replay"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/cloud/syncer"
	"github.com/ardanlabs/encloud/foundation/cloud/worker"
	"github.com/ardanlabs/encloud/foundation/events"
	"github.com/ardanlabs/encloud/foundation/keyring"
	"github.com/ardanlabs/encloud/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
			OwnerHost       string        `conf:"default:127.0.0.1:6080"`
			SyncKeepalive   time.Duration `conf:"default:30s"`
		}
		State struct {
			DBPath      string        `conf:"default:zcloud/encloud.db"`
			BatchSize   int           `conf:"default:128"`
			MaxBuffered int           `conf:"default:1024"`
			BufferTTL   time.Duration `conf:"default:10m"`
			KnownPeers  []string      `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
		}
		Keyring struct {
			Folder string `conf:"default:zcloud/clouds/"`
		}
		Replay struct {
			Enabled bool `conf:"default:true"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "encrypted cloud change log node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Keyring Support

	// The keyring holds the root secrets of the clouds this node owns. The
	// names come from the file names in the keyring folder. A node with an
	// empty keyring is a pure relay.
	if err := os.MkdirAll(cfg.Keyring.Folder, 0755); err != nil {
		return fmt.Errorf("unable to create keyring folder: %w", err)
	}

	kr, err := keyring.New(cfg.Keyring.Folder)
	if err != nil {
		return fmt.Errorf("unable to load keyring: %w", err)
	}

	// Logging the owned clouds for documentation in the logs.
	for cloudID, name := range kr.Copy() {
		log.Infow("startup", "status", "keyring", "name", name, "cloud", cloudID)
	}

	// =========================================================================
	// Storage Support

	log.Infow("startup", "status", "opening database", "path", cfg.State.DBPath)

	db, err := sqlite.Open(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer db.Close()

	// The op log receives the decrypted operations of the owned clouds and
	// lives in the same database as the journals.
	opLog, err := oplog.New(db.SQL())
	if err != nil {
		return fmt.Errorf("unable to construct op log: %w", err)
	}

	// =========================================================================
	// Cloud Support

	// A peer set is a collection of known nodes in the network so mutations
	// can be shared and clouds synced.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.State.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	// The cloud packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	var replayStore func(cloudID identity.CloudID) replay.Store
	if cfg.Replay.Enabled {
		replayStore = opLog.Sink
	}

	hooks := state.Hooks{
		OnMutated: func(st journal.Status) {
			evts.SendCloudMutated(st.CloudID, st.Length, st.TailDigest)
		},
		OnMerged: func(cloudID identity.CloudID, br journal.BatchReport) {
			metrics.Mutations(br.Accepted, br.Buffered, br.Duplicates, br.Rejected)
		},
		OnSynced: func(report syncer.Report, err error) {
			metrics.SyncRound(err)
		},
		OnCompromised: func(cloudID identity.CloudID, evidence journal.Evidence) {
			metrics.Compromised()
			log.Errorw("cloud compromised", "cloud", cloudID, "kind", evidence.Kind, "index", evidence.Index, "knownindex", evidence.KnownIndex, "known", evidence.Known, "conflicting", evidence.Conflicting.Digest())
		},
		OnReplayed: func(result replay.Result, err error) {
			metrics.Replayed(result.Applied)
		},
	}

	// The state value represents the node and manages the journals of every
	// cloud it holds and provides an API for application support.
	st, err := state.New(state.Config{
		Host:        cfg.Web.PrivateHost,
		Storage:     db,
		Keyring:     kr,
		KnownPeers:  peerSet,
		BatchSize:   cfg.State.BatchSize,
		MaxBuffered: cfg.State.MaxBuffered,
		BufferTTL:   cfg.State.BufferTTL,
		ReplayStore: replayStore,
		EvHandler:   ev,
		Hooks:       hooks,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the different workflows such as peer
	// updates, syncing, mutation sharing and replay. The worker will register
	// itself with the state.
	worker.Run(st, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 3)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Keyring:  kr,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown:  shutdown,
		Log:       log,
		State:     st,
		Keepalive: cfg.Web.SyncKeepalive,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Start Owner Service

	log.Infow("startup", "status", "initializing V1 owner API support")

	// Construct the mux for the calls that use the keyring. The owner host
	// defaults to the loopback interface since these calls sign, decrypt and
	// disclose without any other authentication.
	ownerMux := handlers.OwnerMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Keyring:  kr,
		OpLog:    opLog,
	})

	// Construct a server to service the requests against the mux.
	owner := http.Server{
		Addr:         cfg.Web.OwnerHost,
		Handler:      ownerMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "owner api router started", "host", owner.Addr)
		serverErrors <- owner.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelOwn := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelOwn()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown owner API started")
		if err := owner.Shutdown(ctx); err != nil {
			owner.Close()
			return fmt.Errorf("could not stop owner service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
