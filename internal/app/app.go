// Package app builds the components shared by the Brewcast binaries from a
// loaded configuration: the observation store, the model blob store and the
// model registry.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/jackc/pgx/v5/pgxpool"

	"brewcast/internal/config"
	"brewcast/internal/db"
	"brewcast/internal/db/gormstore"
	"brewcast/internal/forest"
	"brewcast/internal/registry"
	"brewcast/internal/seed"
	"brewcast/internal/storage"
	"brewcast/internal/types"
)

// DataStore is the union of the pgx and gorm store surfaces.
type DataStore interface {
	registry.ObservationSource
	seed.Writer
	BeanNamesWithData(ctx context.Context) ([]string, error)
	ListBeans(ctx context.Context) ([]types.Bean, error)
	ListUserBeans(ctx context.Context, userID int64) ([]types.Bean, error)
	Stats(ctx context.Context) (types.DatabaseStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// pgStore adds pool lifecycle to db.Store.
type pgStore struct {
	*db.Store
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

func (s *pgStore) Ping(ctx context.Context) error {
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}
	return s.pool.Ping(ctx)
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

// OpenDataStore connects to DATABASE_URL with the driver its scheme selects
// and verifies connectivity.
func OpenDataStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (DataStore, string, error) {
	driver, err := cfg.Driver()
	if err != nil {
		return nil, "", err
	}

	var store DataStore
	switch driver {
	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
		if err != nil {
			return nil, "", fmt.Errorf("parsing database url: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxConns)
		poolCfg.MinConns = int32(cfg.MinConns)
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, "", fmt.Errorf("creating database pool: %w", err)
		}
		store = &pgStore{Store: db.NewStore(pool), pool: pool, acquireTimeout: cfg.AcquireTimeout}
	case config.DriverMySQL:
		gs, err := gormstore.Open(cfg.URL.Unmask(), gormstore.Options{
			MaxOpenConns:    cfg.MaxConns,
			MaxIdleConns:    max(cfg.MinConns, 1),
			ConnMaxLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, "", err
		}
		store = gs
	}

	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, "", fmt.Errorf("pinging %s database: %w", driver, err)
	}
	logger.InfoContext(ctx, "database connected", "driver", driver)
	return store, driver, nil
}

// OpenBlobStore returns the model store selected by MODEL_STORE.
func OpenBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Model.Store {
	case config.ModelStoreS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		client := storage.NewS3Client(awsCfg, cfg.AWS.EndpointURL)
		return storage.NewS3Store(client, cfg.Model.Bucket, cfg.Model.Prefix), nil
	default:
		return storage.NewFSStore(cfg.Model.Dir)
	}
}

// NewSecretProvider returns the SSM provider outside the local environment.
func NewSecretProvider() config.SecretProvider {
	if env := os.Getenv("APP_ENV"); env == "" || env == "local" {
		return nil
	}
	return config.NewSSMProvider(os.Getenv("AWS_REGION"))
}

// NewTrainer configures training from MODEL_* settings.
func NewTrainer(cfg config.ModelConfig, dataSource string) *registry.Trainer {
	params := forest.DefaultParams()
	params.NTrees = cfg.NTrees
	params.Seed = cfg.Seed
	return registry.NewTrainer(params, cfg.TestFraction, cfg.MinTrainingSamples, dataSource)
}

// Registries holds the per-bean registry and the strategy selected by
// REGISTRY_MODE, which may be the same value.
type Registries struct {
	PerBean *registry.PerBean
	Active  registry.Registry
}

// NewRegistries builds the registry for cfg. In static mode the fixed model
// is loaded eagerly; a missing model is logged and left for on-demand
// training.
func NewRegistries(ctx context.Context, cfg config.ModelConfig, blobs storage.BlobStore, source registry.ObservationSource,
	dataSource string, observer registry.Observer, logger *slog.Logger) Registries {
	perBean := registry.NewPerBean(blobs, source, NewTrainer(cfg, dataSource), logger, registry.PerBeanOptions{
		AllowOnDemandTraining: cfg.AllowOnDemandTraining,
		WriteImportancePlot:   cfg.WriteImportancePlot,
		Observer:              observer,
	})

	if strings.EqualFold(cfg.RegistryMode, config.RegistryModeStatic) {
		static := registry.NewStatic(perBean, cfg.StaticKey, logger)
		_ = static.Load(ctx)
		return Registries{PerBean: perBean, Active: static}
	}
	return Registries{PerBean: perBean, Active: perBean}
}

// NewLogger creates a JSON slog.Logger for the given level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
