// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
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
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/vault/internal/api"
	"github.com/starford/vault/internal/background"
	"github.com/starford/vault/internal/highlightservice"
	"github.com/starford/vault/internal/index"
	"github.com/starford/vault/internal/mcpserver"
	"github.com/starford/vault/internal/messaging"
	"github.com/starford/vault/internal/reader"
	"github.com/starford/vault/internal/render"
	"github.com/starford/vault/internal/review"
	"github.com/starford/vault/internal/sse"
	"github.com/starford/vault/internal/storage"
)

// redisResyncInterval is how often the index is reconciled with a redis store,
// which has no change notifications.
const redisResyncInterval = 30 * time.Second

// components are the long-lived pieces every command shares.
type components struct {
	cfg       *Config
	logger    *slog.Logger
	store     storage.Provider
	storePath string
	db        *index.DB
	svc       *highlightservice.Service
	bus       *messaging.Bus
	coord     *background.Coordinator
	closers   []func() error
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup initializes logging, the store, the index, the service and the bus.
func setup(ctx context.Context, opts []Option) (*components, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("render_mode", cfg.Render.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c := &components{cfg: cfg, logger: logger}

	// Initialize storage.
	switch cfg.Store.Driver {
	case StoreDriverRedis:
		rs, err := storage.NewRedis(ctx, storage.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Key:      cfg.Store.Redis.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		c.store = rs
		c.closers = append(c.closers, rs.Close)
	default:
		fs, err := storage.NewFS(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		c.store = fs
		c.storePath = fs.Path()
	}

	// Initialize SQLite index.
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.Close()
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}
	c.db = db
	c.closers = append(c.closers, db.Close)

	// Run initial sync.
	if err := index.Sync(ctx, db, c.store, logger, nil); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	c.svc = highlightservice.NewService(c.store, db, logger)
	c.bus = messaging.NewBus(logger)
	c.coord = background.New(c.svc, c.bus, logger)
	return c, nil
}

func (c *components) newRenderer() (render.Renderer, func() error) {
	rc := c.cfg.Render
	if rc.Mode == RenderModeBrowser {
		b := render.NewBrowser(render.BrowserOptions{
			ControlURL: rc.Browser.ControlURL,
			Stealth:    rc.Browser.Stealth,
			Timeout:    rc.Timeout,
			RateLimit:  rc.RateLimit,
			Burst:      rc.Burst,
			Logger:     c.logger,
		})
		return b, b.Close
	}
	return render.NewStatic(render.StaticOptions{
		Timeout:       rc.Timeout,
		UserAgent:     rc.UserAgent,
		RateLimit:     rc.RateLimit,
		Burst:         rc.Burst,
		CacheTTL:      rc.CacheTTL,
		RespectRobots: rc.RespectRobots,
		Logger:        c.logger,
	}), func() error { return nil }
}

func (c *components) newReader() (*reader.Reader, func() error) {
	renderer, closeFn := c.newRenderer()
	return reader.New(renderer, c.bus, c.cfg.Highlight.PageConfig(), c.cfg.Render.SettleTimeout, c.logger), closeFn
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	c, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	cfg, logger := c.cfg, c.logger

	// SSE broker.
	broker := sse.NewBroker(2*time.Second, logger)
	defer broker.Close()
	c.svc.OnChange(broker.Publish)

	rd, closeRenderer := c.newReader()
	c.closers = append(c.closers, closeRenderer)

	apiRouter := api.NewRouter(api.Deps{
		Highlights:  c.svc,
		Coordinator: c.coord,
		Bus:         c.bus,
		Reader:      rd,
		Events:      broker,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := c.store.Get(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	var handler http.Handler = r
	if len(cfg.CORS.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Tab-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler(r)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Changes made outside this process reach subscribers through the index.
	onIndexEvent := index.EventCallback(broker.Publish)

	if c.storePath != "" {
		// Start file watcher with SSE callback.
		g.Go(func() error {
			if err := index.Watch(gCtx, c.db, c.store, c.storePath, logger, onIndexEvent); err != nil {
				logger.Warn("store watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	} else {
		g.Go(func() error {
			ticker := time.NewTicker(redisResyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					if err := index.Sync(gCtx, c.db, c.store, logger, onIndexEvent); err != nil {
						logger.Warn("resync failed", slog.String("error", err.Error()))
					}
				}
			}
		})
	}

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

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	c, err := setup(ctx, append(opts, WithLogOutput(os.Stderr)))
	if err != nil {
		return err
	}
	defer c.Close()

	c.logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.svc, c.coord).ServeStdio()
}

// RunList writes the highlights matching query and pageURL to w, one per line.
func RunList(ctx context.Context, w io.Writer, query, pageURL string, opts ...Option) error {
	c, err := setup(ctx, append(opts, WithLogOutput(io.Discard)))
	if err != nil {
		return err
	}
	defer c.Close()

	hs, err := c.svc.List(ctx, highlightservice.Query{})
	if err != nil {
		return err
	}
	st := review.NewState(hs)
	st.SetPage(pageURL)
	st.SetQuery(query)
	for _, h := range st.Visible() {
		title := review.DisplayTitle(h.Title)
		if title == "" {
			title = h.URL
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%q\n", h.ID, title, h.Text); err != nil {
			return err
		}
	}
	return nil
}

// RunExport writes every highlight to w in format.
func RunExport(ctx context.Context, w io.Writer, format string, opts ...Option) error {
	c, err := setup(ctx, append(opts, WithLogOutput(io.Discard)))
	if err != nil {
		return err
	}
	defer c.Close()

	hs, err := c.svc.List(ctx, highlightservice.Query{})
	if err != nil {
		return err
	}
	return review.Export(w, hs, format)
}

// RunApply renders pageURL with its stored highlights and writes the
// sanitized HTML to w.
func RunApply(ctx context.Context, w io.Writer, pageURL string, opts ...Option) error {
	c, err := setup(ctx, append(opts, WithLogOutput(os.Stderr)))
	if err != nil {
		return err
	}
	defer c.Close()

	rd, closeRenderer := c.newReader()
	defer func() { _ = closeRenderer() }()

	res, err := rd.Annotate(ctx, pageURL)
	if err != nil {
		return err
	}
	c.logger.Info("page annotated",
		slog.String("url", res.URL),
		slog.Int("markers", len(res.Markers)))
	_, err = io.WriteString(w, res.HTML)
	return err
}
