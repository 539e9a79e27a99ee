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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/sangmemo/internal/api"
	"github.com/starford/sangmemo/internal/assistant"
	"github.com/starford/sangmemo/internal/gemini"
	"github.com/starford/sangmemo/internal/images"
	"github.com/starford/sangmemo/internal/mcpserver"
	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/noteservice"
	"github.com/starford/sangmemo/internal/notify"
	"github.com/starford/sangmemo/internal/persist"
	"github.com/starford/sangmemo/internal/search"
	"github.com/starford/sangmemo/internal/sse"
	"github.com/starford/sangmemo/internal/storage"
)

// core is the wiring shared by the HTTP and MCP front ends.
type core struct {
	cfg       *Config
	logger    *slog.Logger
	adapter   *persist.Adapter
	watchFile string // empty when the driver cannot be watched
	svc       *noteservice.Service
	sched     *notify.Scheduler
	close     func() error
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// buildCore opens storage and constructs the services. svcOpts are appended
// to the defaults so the caller can subscribe to changes.
func buildCore(app *application, logger *slog.Logger, svcOpts ...noteservice.Option) (*core, error) {
	cfg := app.config
	c := &core{cfg: cfg, logger: logger, close: func() error { return nil }}

	var kv storage.Provider
	switch cfg.Storage.Driver {
	case StorageDriverSQLite:
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		kv, c.close = db, db.Close
	default:
		fs, err := storage.NewFS(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		kv = fs
		if cfg.Storage.Watch {
			if c.watchFile, err = fs.PathFor(persist.Key); err != nil {
				return nil, fmt.Errorf("init storage: %w", err)
			}
		}
	}
	c.adapter = persist.New(kv, logger)

	geminiOpts := []gemini.Option{
		gemini.WithModel(cfg.Gemini.Model),
		gemini.WithHTTPClient(&http.Client{Timeout: cfg.Gemini.Timeout}),
	}
	if cfg.Gemini.BaseURL != "" {
		geminiOpts = append(geminiOpts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}
	client := gemini.New(cfg.Gemini.APIKey, geminiOpts...)

	var ranker search.Ranker
	opts := []noteservice.Option{noteservice.WithLogger(logger)}
	if client.Configured() {
		asst := assistant.New(client, logger)
		opts = append(opts, noteservice.WithAssistant(asst))
		if cfg.Search.RemoteEnabled {
			ranker = asst
		}
	} else {
		logger.Warn("gemini api key not set, assistant features disabled")
	}
	opts = append(opts, noteservice.WithSearcher(search.New(cfg.Search.Engine(), ranker, logger)))
	opts = append(opts, svcOpts...)

	svc, err := noteservice.NewService(c.adapter, opts...)
	if err != nil {
		_ = c.close()
		return nil, fmt.Errorf("init notes: %w", err)
	}
	c.svc = svc
	return c, nil
}

// watch reloads the collection whenever the storage file is changed by
// another writer. It blocks until ctx is done.
func (c *core) watch(ctx context.Context) error {
	if c.watchFile == "" {
		return nil
	}
	err := persist.Watch(ctx, c.watchFile, c.logger, func() {
		changed, err := c.adapter.ChangedExternally()
		if err != nil {
			c.logger.Warn("external change check failed", slog.String("error", err.Error()))
			return
		}
		if !changed {
			return
		}
		if err := c.svc.Reload(ctx); err != nil {
			c.logger.Error("reload failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	return nil
}

func newLogger(app *application) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(app)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("auth_enabled", cfg.Auth.AuthEnabled()))

	// SSE broker.
	broker := sse.NewBroker(cfg.Notify.EventThrottle)
	defer broker.Close()

	c, err := buildCore(app, logger, noteservice.WithOnChange(func(kind noteservice.ChangeKind, n models.Note) {
		broker.PublishNoteEvent(kind, n)
	}))
	if err != nil {
		return err
	}
	defer c.close()

	schedOpts := []notify.Option{
		notify.WithInterval(cfg.Notify.Interval),
		notify.WithStaleAfter(cfg.Notify.StaleAfter),
		notify.WithLogger(logger),
	}
	if cfg.Notify.SystemPopups {
		schedOpts = append(schedOpts, notify.WithPopper(broker))
	}
	c.sched = notify.New(c.svc, schedOpts...)
	removeListener := c.sched.AddListener(broker.PublishNotifications)
	defer removeListener()

	apiRouter := api.NewRouter(api.RouterConfig{
		Service:     c.svc,
		Scheduler:   c.sched,
		Fetcher:     images.NewFetcher(),
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		SSE:         broker,
	})

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
		_, _ = fmt.Fprintf(w, `{"status":"ok","notes":%d,"sse_clients":%d}`, len(c.svc.Snapshot()), broker.ClientCount())
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	c.sched.Start(gCtx)
	defer c.sched.Stop()

	// Reload on external edits of the storage file.
	g.Go(func() error {
		return c.watch(gCtx)
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
		cancel()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the note tools over stdio until stdin closes or ctx ends.
// Logs go to stderr unless WithLogOutput says otherwise.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := newLogger(app)

	c, err := buildCore(app, logger)
	if err != nil {
		return err
	}
	defer c.close()

	c.sched = notify.New(c.svc,
		notify.WithInterval(app.config.Notify.Interval),
		notify.WithStaleAfter(app.config.Notify.StaleAfter),
		notify.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	c.sched.Start(gCtx)
	defer c.sched.Stop()

	g.Go(func() error {
		return c.watch(gCtx)
	})

	g.Go(func() error {
		defer cancel()
		logger.Info("Starting MCP stdio server")
		if err := mcpserver.New(c.svc, c.sched, images.NewFetcher()).ServeStdio(); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
