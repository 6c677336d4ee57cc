package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"icarus/internal/api"
	"icarus/internal/config"
	"icarus/internal/logging"
	"icarus/internal/quota"
	"icarus/internal/render"
	"icarus/internal/replicate"
	"icarus/internal/session"
	"icarus/internal/storage"
	"icarus/internal/web"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logging.New(os.Getenv("APP_ENV"))
		if errors.Is(err, config.ErrMissing) {
			l.Fatal().Err(err).Msg("API key and model endpoint are not set. Add REPLICATE_API_TOKEN and REPLICATE_MODEL_ENDPOINT to the environment or .env")
		}
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.AppEnv)

	if cfg.SessionSecretGenerated {
		logger.Warn().Msg("Generated new session secret. Set SESSION_SECRET to keep sessions across restarts.")
	}

	store, closeStore, err := openCounterStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open counter store")
	}
	defer closeStore()

	quotaService := quota.NewService(store, cfg.GlobalLimit, cfg.UserLimit)

	sessions, err := session.NewManager(cfg.SessionSecret, cfg.SecureCookies())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize sessions")
	}

	generator := replicate.NewClient(replicate.Options{
		BaseURL: cfg.ReplicateBaseURL,
		Model:   cfg.ModelEndpoint,
		Timeout: cfg.GenerationTimeout,
	})
	renderer := render.NewRenderer(render.NewFetcher(0))

	webServer, err := web.NewServer(sessions, quotaService, generator, renderer, cfg.ReplicateAPIToken, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize web server")
	}
	apiServer := api.NewServer(sessions, quotaService, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(logger, webServer, apiServer, cfg.StaticDir),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("base_url", cfg.BaseURL).
			Str("model", cfg.ModelEndpoint).
			Str("counter_backend", cfg.CounterBackend).
			Msg("starting Icarus server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

func openCounterStore(cfg *config.Config) (quota.Store, func(), error) {
	if cfg.CounterBackend == config.BackendSQLite {
		db, err := storage.NewDB(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	}

	fs, err := storage.NewFileStore(cfg.CounterDir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func newRouter(logger zerolog.Logger, webServer *web.Server, apiServer *api.Server, staticDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, logging.Middleware(logger))

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	r.Get("/health", apiServer.HandleHealth)
	r.Get("/api/usage", apiServer.HandleUsage)

	r.Get("/", webServer.HandleIndex)
	r.Post("/generate", webServer.HandleGenerate)

	return r
}
