package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/asakaida/permatrix/internal/infrastructure/cache"
	"github.com/asakaida/permatrix/internal/infrastructure/config"
	"github.com/asakaida/permatrix/internal/infrastructure/database"
	"github.com/asakaida/permatrix/internal/infrastructure/metrics"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/asakaida/permatrix/internal/repositories/cached"
	"github.com/asakaida/permatrix/internal/repositories/postgres"
	"github.com/asakaida/permatrix/internal/script"
	"github.com/asakaida/permatrix/internal/services"
	"github.com/asakaida/permatrix/internal/services/matrix"
	"github.com/asakaida/permatrix/pkg/cache/memorycache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// backend bundles the repositories an engine session runs against
type backend struct {
	catalog  repositories.CatalogRepository
	records  repositories.RecordService
	parents  repositories.ParentService
	deployer repositories.RecordTypeDeployer

	save      config.SaveConfig
	collector *metrics.Collector
	exporter  *metrics.PrometheusExporter

	pg          *database.Postgres
	invalidator *cache.CatalogInvalidator
	server      *http.Server
	logger      *slog.Logger
}

// newFixtureBackend serves the catalog and records of a YAML fixture from memory
func newFixtureBackend(path string, save config.SaveConfig, logger *slog.Logger) (*backend, error) {
	fixture, err := script.LoadFixture(path)
	if err != nil {
		return nil, err
	}
	mem, err := fixture.Memory()
	if err != nil {
		return nil, fmt.Errorf("invalid fixture %s: %w", path, err)
	}

	collector := metrics.NewCollector()
	return &backend{
		catalog:   mem,
		records:   metrics.InstrumentRecordService(mem, collector),
		parents:   mem,
		deployer:  metrics.InstrumentDeployer(mem, collector),
		save:      save,
		collector: collector,
		logger:    logger,
	}, nil
}

// newPostgresBackend connects to the configured database. The catalog is
// cached in memory and kept fresh by LISTEN/NOTIFY when configured.
func newPostgresBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("connected to database",
		slog.String("user", cfg.Database.User),
		slog.String("host", cfg.Database.Host),
		slog.Int("port", cfg.Database.Port),
		slog.String("database", cfg.Database.Database))

	collector := metrics.NewCollector()
	catalogRepo := postgres.NewPostgresCatalogRepository(pg.DB)
	recordRepo := postgres.NewPostgresRecordRepository(pg.DB)

	b := &backend{
		catalog:   catalogRepo,
		records:   metrics.InstrumentRecordService(recordRepo, collector),
		parents:   catalogRepo,
		deployer:  metrics.InstrumentDeployer(recordRepo, collector),
		save:      cfg.Save,
		collector: collector,
		pg:        pg,
		logger:    logger,
	}

	if cfg.Cache.Enabled {
		c, err := memorycache.New(&memorycache.Config{
			MaxSizeBytes:  cfg.Cache.MaxMemoryBytes,
			DefaultTTL:    cfg.Cache.TTL(),
			EnableMetrics: true,
		})
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to create catalog cache: %w", err)
		}
		catalog := cached.NewCatalog(catalogRepo, c, cfg.Cache.TTL())
		b.catalog = catalog
		collector.SetCache(c)

		if cfg.Cache.ListenNotification {
			b.invalidator = cache.NewCatalogInvalidator(catalog, cfg.Database.ConnectionString(), cfg.Cache.RefreshTTL(), logger)
			if err := b.invalidator.Start(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("failed to start catalog invalidator: %w", err)
			}
		}
	}

	return b, nil
}

// service opens engine sessions with the configured save options
func (b *backend) service() *services.PermissionService {
	return services.NewPermissionService(b.catalog, b.records,
		matrix.WithLogger(b.logger),
		matrix.WithParentService(b.parents),
		matrix.WithRecordTypeDeployer(b.deployer),
		matrix.WithBatchSize(b.save.BatchSize),
		matrix.WithMaxConcurrentBatches(b.save.MaxConcurrentBatches),
		matrix.WithTouchParents(b.save.TouchParents),
		matrix.WithSaveRecorder(b.collector),
	)
}

// serveMetrics exposes the collector on addr under /metrics
func (b *backend) serveMetrics(addr string) {
	reg := prometheus.NewRegistry()
	b.exporter = metrics.NewPrometheusExporter(b.collector, reg)
	b.collector.SetExporter(b.exporter)

	mux := http.NewServeMux()
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.exporter.Update()
		handler.ServeHTTP(w, r)
	}))
	b.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		b.logger.Info("serving metrics", slog.String("addr", addr))
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()
}

// Close stops the metrics server and the invalidator, then closes the database
func (b *backend) Close() {
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.server.Shutdown(ctx); err != nil {
			b.logger.Warn("metrics server shutdown failed", slog.Any("error", err))
		}
	}
	if b.invalidator != nil {
		if err := b.invalidator.Stop(); err != nil {
			b.logger.Warn("failed to stop catalog invalidator", slog.Any("error", err))
		}
	}
	if b.pg != nil {
		if err := b.pg.Close(); err != nil {
			b.logger.Warn("failed to close database", slog.Any("error", err))
		}
	}
}
