// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/entbrowser/internal/api"
	"github.com/starford/entbrowser/internal/app"
	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/dbregistry"
	"github.com/starford/entbrowser/internal/entityservice"
	"github.com/starford/entbrowser/internal/mcpserver"
	"github.com/starford/entbrowser/internal/metrics"
	"github.com/starford/entbrowser/internal/sse"
	"github.com/starford/entbrowser/internal/storage"
	"github.com/starford/entbrowser/internal/watch"
)

const registryWatchID = "registry"

func newApplication(opts []Option) (*application, error) {
	a := &application{version: "dev", logOut: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return a, nil
}

// resources are what setup opens for both the server and the MCP command.
type resources struct {
	logger *slog.Logger
	files  *storage.FS
	dbs    *dbregistry.Registry
	roots  []*storage.FS
}

func (r *resources) close() {
	for _, fs := range r.roots {
		_ = fs.Close()
	}
}

// setup installs the logger and opens the data directory and the database
// registry.
func (a *application) setup() (*resources, error) {
	cfg := a.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	regDir, regFile := cfg.Data.RegistryPath()
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_dir", cfg.Data.Dir),
		slog.String("registry_file", filepath.Join(regDir, regFile)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	res := &resources{logger: logger}
	files, err := storage.NewFS(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	res.files = files
	res.roots = append(res.roots, files)

	regStore := files
	if abs, _ := filepath.Abs(regDir); abs != files.Root() {
		if regStore, err = storage.NewFS(regDir); err != nil {
			res.close()
			return nil, fmt.Errorf("init registry storage: %w", err)
		}
		res.roots = append(res.roots, regStore)
	}

	if res.dbs, err = dbregistry.Open(regStore, regFile); err != nil {
		res.close()
		return nil, fmt.Errorf("init database registry: %w", err)
	}
	return res, nil
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := a.config

	res, err := a.setup()
	if err != nil {
		return err
	}
	defer res.close()
	logger, files, dbs := res.logger, res.files, res.dbs

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// SSE broker.
	broker := sse.NewBroker(2*time.Second, m)

	watcher, err := watch.New(logger, watch.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	reg := app.New(app.Options{
		Databases:         dbs,
		Logger:            logger,
		Publisher:         broker,
		Watcher:           watcher,
		Metrics:           m,
		MaxConcurrentJobs: cfg.Jobs.MaxConcurrent,
		JobRetain:         cfg.Jobs.Retain,
	})

	// External edits of the registry file.
	if err := watcher.WatchFile(registryWatchID, dbs.Path(), func() {
		reloadRegistry(logger, reg, broker)
	}); err != nil {
		logger.Warn("watch registry file failed", slog.String("error", err.Error()))
	}

	reg.Restore(ctx)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(cfg.App.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.App.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}))
	}

	// Health check endpoints.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := os.Stat(dbs.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"registry unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(reg, files, broker, logger))

	if cfg.App.StaticDir != "" {
		r.Handle("/*", spaHandler(cfg.App.StaticDir))
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// File watcher for the registry and watch-readonly stores.
	g.Go(func() error {
		return watcher.Run(gCtx)
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

		// SSE streams end when the broker closes.
		broker.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		reg.StopAll()
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// reloadRegistry re-reads the registry file and closes open databases that
// are no longer registered.
func reloadRegistry(logger *slog.Logger, reg *app.Registry, broker *sse.Broker) {
	if err := reg.Databases().Reload(); err != nil {
		logger.Error("reload database registry failed", slog.String("error", err.Error()))
		return
	}
	for _, id := range reg.OpenIDs() {
		if _, err := reg.Databases().Find(id); errors.Is(err, apperr.ErrNotFound) {
			if err := reg.Stop(id); err != nil {
				logger.Error("stop database failed", slog.String("db", id), slog.String("error", err.Error()))
			}
		}
	}
	logger.Info("database registry reloaded")
	broker.Publish(sse.Event{Type: "dbs.reloaded"})
}

// spaHandler serves files from dir and falls back to index.html so client
// side routes resolve.
func spaHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(p); err != nil || info.IsDir() && r.URL.Path != "/" {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// RunMCP serves the MCP protocol on stdio for one registered database.
func RunMCP(ctx context.Context, dbID string, opts ...Option) error {
	a, err := newApplication(opts)
	if err != nil {
		return err
	}
	res, err := a.setup()
	if err != nil {
		return err
	}
	defer res.close()
	logger, dbs := res.logger, res.dbs

	d, err := dbs.Find(dbID)
	if err != nil {
		return err
	}
	store, err := entityservice.New(entityservice.Options{Database: d, Logger: logger})
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbID, err)
	}
	defer func() {
		if err := store.Stop(); err != nil {
			logger.Error("close database failed", slog.String("db", dbID), slog.String("error", err.Error()))
		}
	}()

	logger.Info("MCP server starting", slog.String("db", dbID), slog.String("location", d.Location))
	errCh := make(chan error, 1)
	go func() { errCh <- mcpserver.New(store, a.version).ServeStdio() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
