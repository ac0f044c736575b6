package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"govledger/config"
	"govledger/dag"
	"govledger/db"
	"govledger/executor"
	"govledger/federation"
	"govledger/governance"
	"govledger/handlers"
	"govledger/logger"
	"govledger/models"
	"govledger/repository"
	"govledger/routers"
	"govledger/scheduler"
	"govledger/state"
)

func main() {
	// Load config
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		fmt.Println("Config file error:", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		fmt.Println("Failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Logger.Info("Starting governance ledger node...",
		zap.String("scope", cfg.Node.Scope),
		zap.String("network", cfg.Node.Network))

	// Connect to LevelDB
	ldb, err := db.NewLevelDB(cfg.LevelDB.Path)
	if err != nil {
		logger.Logger.Fatal("Failed to open leveldb", zap.Error(err))
	}
	defer ldb.Close()

	// Initialize repository and rebuild the DAG index
	repo := repository.NewLedgerRepository(ldb)
	store, err := dag.Open(repo)
	if err != nil {
		logger.Logger.Fatal("Failed to open DAG store", zap.Error(err))
	}

	// Node-local state (identity, proposal sequence, execution history)
	node, err := state.Load(repo, cfg.Node.Scope, cfg.Node.Network)
	if err != nil {
		logger.Logger.Fatal("Failed to load node state", zap.Error(err))
	}

	// Governance engine and execution recorder
	gov := governance.NewEngine(store, repo, cfg.Governance.EligibleVoters)
	recorder := executor.NewRecorder(store, gov, node)

	// Federation consistency checking
	client := federation.NewHTTPClient(cfg.Federation.PeerTimeout)
	checker := federation.NewChecker(client, store, federation.CheckerConfig{
		PerPeerTimeout: cfg.Federation.PeerTimeout,
		MaxConcurrent:  cfg.Federation.MaxConcurrent,
		MinPeers:       cfg.Federation.MinPeers,
	})
	sched := scheduler.New(checker, gov, cfg.Federation.Peers,
		cfg.Federation.CheckInterval, cfg.Governance.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	// Replicate every newly persisted vertex to the federation. Peers
	// that miss a push are caught by the consistency checker later.
	bcast := federation.NewBroadcaster(client, cfg.Federation.Peers, cfg.Federation.PeerTimeout)
	store.SetOnInsert(func(v *models.Vertex) {
		go bcast.Broadcast(ctx, v)
	})

	// External executor adapter: the configured command receives the
	// proposal program on stdin and its stdout becomes the result blob.
	var runner executor.RunFunc
	if cmd := cfg.Executor.Command; cmd != "" {
		runner = func(program string) (string, error) {
			c := exec.Command(cmd)
			c.Stdin = strings.NewReader(program)
			out, err := c.Output()
			return string(out), err
		}
	}

	// Initialize HTTP handlers and router
	h := handlers.NewHandler(store, gov, recorder, node, sched, runner)
	r := mux.NewRouter()
	routers.RegisterRoutes(r, h)

	// HTTP Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Logger.Info("Server stopped", zap.Error(err))
		}
	}()

	logger.Logger.Info("Server running on port",
		zap.Int("port", cfg.Server.Port),
		zap.String("node_id", node.NodeID()))

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")
	cancel()
	srv.Close()
}
