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

	"github.com/starford/gitnote/internal/api"
	"github.com/starford/gitnote/internal/apperr"
	"github.com/starford/gitnote/internal/gitrepo"
	"github.com/starford/gitnote/internal/index"
	"github.com/starford/gitnote/internal/mcpserver"
	"github.com/starford/gitnote/internal/noteservice"
	"github.com/starford/gitnote/internal/notesync"
	"github.com/starford/gitnote/internal/prefs"
	"github.com/starford/gitnote/internal/sse"
)

var errConfigRequired = errors.New("config is required")

// rootPollInterval is how often the watcher checks whether the open
// repository changed.
const rootPollInterval = 2 * time.Second

// stack holds the wired components shared by every command.
type stack struct {
	gateway     *gitrepo.Gateway
	db          *index.DB
	rebuilder   *index.Rebuilder
	coordinator *notesync.Coordinator
	service     *noteservice.Service
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// openStack wires the gateway, cache and coordinator, then reopens the
// recorded repository or sets up the configured one.
func (a *application) openStack(ctx context.Context, logger *slog.Logger, notifier notesync.Notifier, onEvent noteservice.EventFunc) (*stack, error) {
	cfg := a.config

	for _, p := range []string{cfg.SQLite.Path, cfg.State.Path} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	gw := gitrepo.New(gitrepo.Options{
		Home:        cfg.Repo.Home,
		Branch:      cfg.Repo.Branch,
		MergeAuthor: cfg.Repo.Author,
		HTTPTimeout: cfg.Repo.HTTPTimeout,
		Logger:      logger,
	})
	store := prefs.NewFileStore(cfg.State.Path)
	rebuilder := index.NewRebuilder(db, gw, store, index.RebuilderOptions{
		Extensions:  cfg.Sync.Extensions,
		MaxFileSize: cfg.Sync.MaxFileSize,
		Logger:      logger,
	})
	coord := notesync.New(notesync.Options{
		Repo:          gw,
		Cache:         db,
		Rebuilder:     rebuilder,
		Prefs:         store,
		Notifier:      notifier,
		AuthorName:    cfg.Repo.Author,
		PushRetries:   cfg.Sync.PushRetries,
		RetryInterval: cfg.Sync.RetryInterval,
		Logger:        logger,
	})
	s := &stack{
		gateway:     gw,
		db:          db,
		rebuilder:   rebuilder,
		coordinator: coord,
		service:     noteservice.NewService(coord, db, onEvent),
	}

	resumed, err := coord.Resume(ctx)
	if err != nil {
		logger.Warn("could not reopen the recorded repository", slog.String("error", err.Error()))
	}
	if !resumed && cfg.Repo.Path != "" {
		logger.Info("Setting up repository",
			slog.String("mode", cfg.Repo.Mode),
			slog.String("path", cfg.Repo.Path))
		if err := coord.Bootstrap(ctx, cfg.Repo.Bootstrap()); err != nil {
			s.close()
			return nil, fmt.Errorf("set up repository: %w", err)
		}
	}
	return s, nil
}

func (s *stack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.gateway.Shutdown(ctx)
	_ = s.db.Close()
}

// Run starts the HTTP server with the background sync loops.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("repo_path", cfg.Repo.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("state_path", cfg.State.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(sse.Options{FoldersWindow: 2 * time.Second})
	defer broker.Close()

	st, err := app.openStack(ctx, logger, broker, broker.PublishNoteEvent)
	if err != nil {
		return err
	}
	defer st.close()

	apiRouter := api.NewRouter(st.service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if st.coordinator.Root() == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"no repository"}`))
			return
		}
		notes, folders, err := st.db.Stats(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"cache unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "notes": notes, "folders": folders})
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Sync state transitions go to SSE clients.
	states, unsubscribe := st.coordinator.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		broker.ForwardSyncState(gCtx, states)
		return nil
	})

	if cfg.Sync.Watch {
		g.Go(func() error {
			watchRepository(gCtx, st, cfg.Sync.WatchDebounce, logger)
			return nil
		})
	}

	if cfg.Sync.Interval > 0 {
		g.Go(func() error {
			syncPeriodically(gCtx, st.coordinator, cfg.Sync.Interval, logger)
			return nil
		})
	}

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
		// Stop the background loops started above.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, app.config.App.LogLevel)

	notifier := notesync.NotifierFunc(func(msg string) {
		logger.Warn("sync notification", slog.String("message", msg))
	})
	st, err := app.openStack(ctx, logger, notifier, nil)
	if err != nil {
		return err
	}
	defer st.close()

	logger.Info("Serving MCP on stdio", slog.String("root", st.coordinator.Root()))
	return mcpserver.New(st.service, app.version).ServeStdio()
}

// RunSync performs one full synchronization and exits.
func RunSync(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, app.config.App.LogLevel)

	var failures []string
	notifier := notesync.NotifierFunc(func(msg string) { failures = append(failures, msg) })
	st, err := app.openStack(ctx, logger, notifier, nil)
	if err != nil {
		return err
	}
	defer st.close()

	if err := st.coordinator.UpdateDatabaseAndRepo(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	state := st.coordinator.SyncState()
	logger.Info("Sync finished",
		slog.String("state", state.String()),
		slog.String("root", st.coordinator.Root()))
	if state.Kind == notesync.StateError {
		return fmt.Errorf("sync: %v", failures)
	}
	return nil
}

// watchRepository runs the file watcher on the open repository and
// restarts it whenever another repository is opened.
func watchRepository(ctx context.Context, st *stack, debounce time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(rootPollInterval)
	defer ticker.Stop()

	for {
		root := st.coordinator.Root()
		if root != "" {
			watchCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				err := index.Watch(watchCtx, root, index.WatchOptions{
					Supports: st.rebuilder.Supports,
					Debounce: debounce,
					Logger:   logger,
				}, func(ctx context.Context) {
					if err := st.coordinator.ReconcileLocal(ctx); err != nil && !errors.Is(err, apperr.ErrNoRepository) {
						logger.Warn("reconcile external edits failed", slog.String("error", err.Error()))
					}
				})
				if err != nil && watchCtx.Err() == nil {
					logger.Warn("watcher stopped", slog.String("root", root), slog.String("error", err.Error()))
				}
			}()

			for root == st.coordinator.Root() && ctx.Err() == nil {
				select {
				case <-ctx.Done():
				case <-ticker.C:
				}
			}
			cancel()
			<-done
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// syncPeriodically runs the full envelope on every tick.
func syncPeriodically(ctx context.Context, coord *notesync.Coordinator, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := coord.UpdateDatabaseAndRepo(ctx)
			switch {
			case err == nil, errors.Is(err, apperr.ErrNoRepository), ctx.Err() != nil:
			default:
				logger.Warn("background sync failed", slog.String("error", err.Error()))
			}
		}
	}
}
