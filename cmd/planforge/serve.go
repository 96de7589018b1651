package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"planforge/pkg/config"
	"planforge/pkg/logx"
	"planforge/pkg/metrics"
	"planforge/pkg/persistence"
	"planforge/pkg/session"
	"planforge/pkg/state"
	"planforge/pkg/version"
	"planforge/pkg/webui"
)

var (
	serveAddr   string
	serveDryRun bool
	serveDB     string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "approve plans without writing repositories")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite file for session snapshots (overrides store.sqlite_path)")
}

// serveCmd runs the HTTP planning API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the planning session API over HTTP",
	Long: `Serve the planning session API over HTTP until SIGINT or SIGTERM.

Sessions idle for longer than server.session_ttl are disposed of every
server.sweep_interval. With store.sqlite_path or store.json_dir set, session
snapshots survive restarts.

Examples:
  # Serve on the configured address
  planforge serve

  # Serve with persistence on another port
  planforge serve --addr :9090 --db planforge.db`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := logx.NewLogger("serve")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveDryRun {
		cfg.Scaffold.DryRun = true
	}
	if serveDB != "" {
		cfg.Store.SQLitePath = serveDB
	}

	snapshots, closeSnapshots, err := openSnapshots(cfg.Store)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	var storeOpts []session.StoreOption
	if snapshots != nil {
		storeOpts = append(storeOpts, session.WithPersister(snapshots))
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.NewRegistry()
	}

	a, err := newApp(cfg, registry, storeOpts...)
	if err != nil {
		return err
	}

	if snapshots != nil {
		loaded, loadErr := snapshots.LoadAll()
		if loadErr != nil {
			return fmt.Errorf("failed to load persisted sessions: %w", loadErr)
		}
		logger.Info("Restored %d of %d persisted sessions", a.store.Restore(loaded), len(loaded))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go runJanitor(ctx, a.store, cfg.Server.SessionTTL, cfg.Server.SweepInterval)

	logger.Info("planforge %s: model %s, output root %s (dry-run: %t)",
		version.Info(), cfg.Model.Name, cfg.Scaffold.OutputRoot, cfg.Scaffold.DryRun)

	var gatherer prometheus.Gatherer
	if registry != nil {
		gatherer = registry
	}
	server := webui.NewServer(a.orch, gatherer)
	return server.StartServer(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
}

// snapshotStore is a session persister that can also reload what it saved.
type snapshotStore interface {
	session.Persister
	LoadAll() ([]session.Session, error)
}

// openSnapshots opens the configured persistence backend. It returns a nil
// store when sessions are memory-only.
func openSnapshots(cfg config.StoreConfig) (snapshotStore, func(), error) {
	logger := logx.NewLogger("serve")
	switch {
	case cfg.SQLitePath != "":
		db, err := persistence.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Persisting sessions to SQLite database %s", cfg.SQLitePath)
		return db, func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Error("Failed to close session database: %v", closeErr)
			}
		}, nil
	case cfg.JSONDir != "":
		files, err := state.NewStore(cfg.JSONDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Persisting sessions as JSON files in %s", cfg.JSONDir)
		return files, func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

// runJanitor sweeps idle sessions until ctx is cancelled.
func runJanitor(ctx context.Context, store *session.Store, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep(ttl)
		}
	}
}
