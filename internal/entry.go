// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/blink/internal/api"
	"github.com/starford/blink/internal/host"
	"github.com/starford/blink/internal/index"
	"github.com/starford/blink/internal/mcpserver"
	"github.com/starford/blink/internal/notes"
	"github.com/starford/blink/internal/noteservice"
	"github.com/starford/blink/internal/sse"
	"github.com/starford/blink/internal/storage"
	"github.com/starford/blink/internal/tracker"
	"github.com/starford/blink/internal/windows"
	"github.com/starford/blink/internal/workspace"
)

const (
	refreshThrottle = 2 * time.Second
	// attachGrace is how long the frontend gets to report its open windows
	// before the startup reconciliation runs.
	attachGrace   = 2 * time.Second
	attachPollInt = 500 * time.Millisecond
)

// core is the note stack shared by every command.
type core struct {
	db     *index.DB
	repo   *notes.Repository
	report *notes.LoadReport
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// openCore creates the notes directory, opens the index, migrates a legacy
// collection when configured and loads every note.
func openCore(ctx context.Context, cfg *Config, logger *slog.Logger) (*core, error) {
	if err := os.MkdirAll(cfg.Notes.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create notes dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath()), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Notes.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.IndexPath())
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	if v, err := db.SchemaVersion(); err == nil {
		logger.Debug("index opened", slog.String("path", cfg.IndexPath()), slog.Uint64("schema_version", uint64(v)))
	}

	repo := notes.New(store, db, tracker.New(), logger)

	if cfg.Notes.LegacyJSON != "" {
		n, err := repo.MigrateLegacyJSON(ctx, cfg.Notes.LegacyJSON)
		if err != nil {
			logger.Warn("legacy migration failed", slog.String("error", err.Error()))
		} else if n > 0 {
			logger.Info("legacy notes migrated", slog.Int("notes", n))
		}
	}

	_, report, err := repo.Load(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load notes: %w", err)
	}
	logger.Info("Notes loaded",
		slog.Int("notes", report.Loaded),
		slog.Bool("repaired", report.Repaired()),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("duplicate_ids", len(report.DuplicateIDs)),
		slog.Int("position_repairs", len(report.PositionRepairs)),
		slog.Int("synthesized", len(report.Synthesized)))
	if report.IndexError != "" {
		logger.Warn("index rebuild failed", slog.String("error", report.IndexError))
	}

	return &core{db: db, repo: repo, report: report}, nil
}

// Run starts the control API server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("notes_dir", cfg.Notes.Dir),
		slog.String("index_path", cfg.IndexPath()),
		slog.String("workspace_path", cfg.WorkspacePath()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := openCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	// SSE broker doubles as the channel to the desktop frontend.
	// Windows the frontend held are gone once its last stream closes.
	var bridge *host.Bridge
	broker := sse.NewBroker(refreshThrottle, sse.WithIdleHook(func() { bridge.Detach() }))
	defer broker.Close()
	bridge = host.NewBridge(broker, logger)

	ws := workspace.NewStore(cfg.WorkspacePath(), logger)
	mgr := windows.NewManager(bridge, c.repo, ws, logger,
		windows.WithSettings(cfg.Windows.Settings()),
		windows.WithNotifier(broker))
	if err := mgr.Restore(ctx); err != nil {
		logger.Warn("workspace restore failed", slog.String("error", err.Error()))
	}

	svc := noteservice.NewService(c.repo, c.db, logger,
		noteservice.WithWindows(mgr),
		noteservice.WithNotifier(broker))
	mcpSrv := mcpserver.New(svc, mgr)

	apiRouter := api.NewRouter(svc, mgr, bridge, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	// MCP over streamable HTTP, behind the same auth as the API.
	r.With(api.AuthMiddleware(cfg.Auth.AuthEnabled(), cfg.Auth.Token)).Handle("/mcp", mcpSrv.Handler())

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Report external edits to subscribers.
	if cfg.Notes.Watch {
		g.Go(func() error {
			if err := c.repo.Watch(gCtx, svc.HandleWatchEvent); err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Reconcile window records once the frontend has attached.
	g.Go(func() error {
		reconcileWhenAttached(gCtx, broker, mgr, cfg.Windows.RecreateMissing, logger)
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so background loops stop with the server.
var errShutdown = errors.New("shutdown")

// reconcileWhenAttached waits for a frontend subscriber, gives it
// attachGrace to register its windows and then reconciles once.
func reconcileWhenAttached(ctx context.Context, broker *sse.Broker, mgr *windows.Manager, recreate bool, logger *slog.Logger) {
	ticker := time.NewTicker(attachPollInt)
	defer ticker.Stop()
	for broker.ClientCount() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(attachGrace):
	}

	report, err := mgr.Reconcile(ctx, windows.ReconcileOptions{RecreateMissing: recreate})
	if err != nil {
		logger.Warn("startup reconciliation failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("startup reconciliation done",
		slog.Int("consistent", len(report.Consistent)),
		slog.Int("adopted", len(report.Adopted)),
		slog.Int("dropped", len(report.Dropped)),
		slog.Int("recreated", len(report.Recreated)),
		slog.Int("errors", len(report.Errors)))
}

// RunMCP serves the note tools over stdio. Logs go to stderr since stdout
// carries the protocol. Window tools are only available from Run, which
// owns the frontend connection.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	logger := newLogger(app.config, os.Stderr)

	c, err := openCore(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	svc := noteservice.NewService(c.repo, c.db, logger)
	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc, nil).ServeStdio()
}

// RunReconcile loads the notes directory once, which repairs duplicate
// ids and positions and rebuilds the index, and prints the load report
// as JSON.
func RunReconcile(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	logger := newLogger(app.config, os.Stderr)

	c, err := openCore(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
