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
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/porchain/porchain/app/services/node/handlers"
	"github.com/porchain/porchain/foundation/events"
	"github.com/porchain/porchain/foundation/logger"
	"github.com/porchain/porchain/foundation/por/codec"
	"github.com/porchain/porchain/foundation/por/farmer"
	"github.com/porchain/porchain/foundation/por/genesis"
	"github.com/porchain/porchain/foundation/por/ledger"
	"github.com/porchain/porchain/foundation/por/peer"
	"github.com/porchain/porchain/foundation/por/plot"
	"github.com/porchain/porchain/foundation/por/plotter"
	"github.com/porchain/porchain/foundation/por/signature"
	"github.com/porchain/porchain/foundation/por/state"
	"github.com/porchain/porchain/foundation/por/worker"
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
		}
		Node struct {
			GenesisPath string   `conf:"default:zblock/genesis.json"`
			KeyPath     string   `conf:"default:zblock/farmer.ecdsa"`
			BlocksPath  string   `conf:"default:zblock/blocks"`
			PlotPath    string   `conf:"default:zblock/farmer.plot"`
			PoolSize    int      `conf:"default:4"`
			KnownPeers  []string `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
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

	fmt.Println(`  ____   ___  ____   ____ _   _    _    ___ _   _ `)
	fmt.Println(` |  _ \ / _ \|  _ \ / ___| | | |  / \  |_ _| \ | |`)
	fmt.Println(` | |_) | | | | |_) | |   | |_| | / _ \  | ||  \| |`)
	fmt.Println(` |  __/| |_| |  _ <| |___|  _  |/ ___ \ | || |\  |`)
	fmt.Println(` |_|    \___/|_| \_\\____|_| |_/_/   \_\___|_| \_|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Node Support

	// The genesis document fixes every protocol constant the network agrees
	// on: difficulty, encoding layers, and the starting piece set.
	gen, err := genesis.Load(cfg.Node.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis document: %w", err)
	}

	// Need to load the private key file for the configured farmer so blocks
	// can be produced under this identity.
	privateKey, err := crypto.LoadECDSA(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}
	farmerID := signature.FarmerID(privateKey)
	log.Infow("startup", "status", "farmer identity", "farmer", farmerID)

	// A peer set is a collection of known nodes in the network so blocks and
	// challenges can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.Node.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	// The por packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The codec performs the slow sequential encode and the fast decode
	// check with the layer count the network agreed on.
	cdc, err := codec.New(gen.EncodingLayers)
	if err != nil {
		return fmt.Errorf("unable to construct codec: %w", err)
	}

	// Every node derives the identical starting piece set from the genesis
	// document.
	pieces, err := state.NewPieceSet(gen)
	if err != nil {
		return fmt.Errorf("unable to derive piece set: %w", err)
	}

	// The ledger replays the persisted block tree, or bootstraps the
	// deterministic genesis block on first start.
	serializer, err := ledger.NewDisk(cfg.Node.BlocksPath)
	if err != nil {
		return fmt.Errorf("unable to open block storage: %w", err)
	}
	lgr, err := ledger.New(ledger.Config{
		Codec:      cdc,
		Pieces:     pieces,
		Genesis:    gen,
		Serializer: serializer,
		EvHandler:  ev,
	})
	if err != nil {
		return fmt.Errorf("unable to construct ledger: %w", err)
	}

	// The plot holds this farmer's encoded replicas on disk.
	plotStore, err := plot.NewDisk(cfg.Node.PlotPath)
	if err != nil {
		return fmt.Errorf("unable to open plot storage: %w", err)
	}

	farmerIDBytes, err := signature.FarmerIDBytes(farmerID)
	if err != nil {
		return fmt.Errorf("unable to decode farmer id: %w", err)
	}
	plt, err := plotter.New(plotter.Config{
		Codec:     cdc,
		Pieces:    pieces,
		Storage:   plotStore,
		FarmerID:  farmerIDBytes,
		PoolSize:  cfg.Node.PoolSize,
		EvHandler: ev,
	})
	if err != nil {
		return fmt.Errorf("unable to construct plotter: %w", err)
	}

	frm, err := farmer.New(farmer.Config{
		Storage:   plotStore,
		PoolSize:  cfg.Node.PoolSize,
		EvHandler: ev,
	})
	if err != nil {
		return fmt.Errorf("unable to construct farmer: %w", err)
	}

	// The state value represents the node and provides an API for
	// application support.
	st, err := state.New(state.Config{
		FarmerKey:  privateKey,
		Host:       cfg.Web.PrivateHost,
		Genesis:    gen,
		Ledger:     lgr,
		Farmer:     frm,
		Plot:       plotStore,
		Pieces:     pieces,
		KnownPeers: peerSet,
		EvHandler:  ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The worker package implements the different workflows such as
	// plotting, farming, and peer updates. The worker will register itself
	// with the state.
	worker.Run(st, plt, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
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
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
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

	log.Infow("startup", "status", "initializing private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
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
