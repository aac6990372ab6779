// Package main is the entry point for the Brewcast API server.
//
// It loads configuration, connects the observation store and the model blob
// store, builds the model registry and prediction service, mounts the HTTP
// handlers on the core chassis and serves until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brewcast/internal/api/handlers"
	"brewcast/internal/app"
	"brewcast/internal/cache"
	"brewcast/internal/config"
	"brewcast/internal/core"
	"brewcast/internal/external"
	"brewcast/internal/metrics"
	"brewcast/internal/predict"
	"brewcast/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(app.NewSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("brewcast API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"registry_mode", cfg.Model.RegistryMode,
		"model_store", cfg.Model.Store,
	)

	ctx := context.Background()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// dependencies are the external resources the server is assembled from.
type dependencies struct {
	store  app.DataStore
	driver string
	blobs  storage.BlobStore
	// cache is nil when REDIS_URL is unset.
	cache *cache.Redis
}

// buildServer opens every external resource and assembles the server.
// Resources are registered with srv.OnShutdown as they are opened.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	var (
		deps    dependencies
		closers []io.Closer
		err     error
	)
	fail := func(err error) (*core.Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	deps.store, deps.driver, err = app.OpenDataStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	closers = append(closers, deps.store)

	deps.blobs, err = app.OpenBlobStore(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("opening model store: %w", err))
	}
	logger.Info("model store ready", "location", deps.blobs.Location())

	if cfg.Cache.RedisURL.IsSet() {
		deps.cache, err = cache.Open(cfg.Cache.RedisURL.Unmask())
		if err != nil {
			return fail(fmt.Errorf("opening redis: %w", err))
		}
		closers = append(closers, deps.cache)
	}

	srv, err := assemble(ctx, cfg, logger, deps)
	if err != nil {
		return fail(err)
	}
	for _, c := range closers {
		srv.OnShutdown(c)
	}
	return srv, nil
}

// assemble builds the registry, prediction service, weather client and
// handlers on top of deps and mounts the routes.
func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps dependencies) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	collector := metrics.New()
	srv.Metrics = collector
	srv.MetricsHandler = collector.Handler()

	regs := app.NewRegistries(ctx, cfg.Model, deps.blobs, deps.store, deps.driver, collector, logger)
	svc := predict.NewService(regs.Active, logger, cfg.Model.BatchConcurrency, collector)

	srv.HealthProbes = []core.HealthProbe{
		core.HealthProbeFunc{ProbeName: "database", Fn: deps.store.Ping},
		core.HealthProbeFunc{ProbeName: "model_store", Fn: deps.blobs.Ping},
	}
	var readingCache external.ReadingCache
	if deps.cache != nil {
		readingCache = deps.cache
		srv.HealthProbes = append(srv.HealthProbes, core.HealthProbeFunc{ProbeName: "cache", Fn: deps.cache.Ping})
	}

	weather := external.NewWeatherClient(
		external.NewBaseClient(&http.Client{Timeout: cfg.Weather.Timeout}, "openweathermap",
			external.DefaultRetryPolicy(), "Brewcast/"+cfg.Build.Version),
		external.WeatherOptions{
			APIKey:   cfg.Weather.APIKey.Unmask(),
			BaseURL:  cfg.Weather.BaseURL,
			Lat:      cfg.Weather.Latitude,
			Lon:      cfg.Weather.Longitude,
			Location: cfg.Weather.LocationName,
			CacheTTL: cfg.Cache.WeatherTTL,
		},
		readingCache,
		logger,
	)
	if !weather.Configured() {
		logger.Warn("OPENWEATHER_API_KEY not set, current weather uses default conditions")
	}

	predictionHandler := handlers.NewPredictionHandler(svc, srv.Validator, logger)
	modelHandler := handlers.NewModelHandler(regs.Active, logger)
	beanHandler := handlers.NewBeanHandler(deps.store, logger)
	weatherHandler := handlers.NewWeatherHandler(weather)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		predictionHandler.RegisterRoutes,
		modelHandler.RegisterRoutes,
		beanHandler.RegisterRoutes,
		weatherHandler.RegisterRoutes,
	)
	srv.Info = serviceInfo(cfg, regs.Active.Mode(), deps.driver, deps.blobs)

	srv.MountRoutes()
	return srv, nil
}

func serviceInfo(cfg *config.Config, mode, driver string, blobs storage.BlobStore) map[string]any {
	return map[string]any{
		"registry_mode": mode,
		"database":      driver,
		"model_store":   blobs.Location(),
		"environment":   cfg.Environment,
	}
}

// runHTTPServer serves until a shutdown signal, then drains connections and
// closes registered resources.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// WriteTimeout exceeds the request timeout so on-demand training can
	// finish and report its own deadline error.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
