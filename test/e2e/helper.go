package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/infrastructure/config"
	"github.com/asakaida/permatrix/internal/infrastructure/database"
	"github.com/asakaida/permatrix/internal/infrastructure/metrics"
	"github.com/asakaida/permatrix/internal/repositories/postgres"
	"github.com/asakaida/permatrix/internal/services"
	"github.com/asakaida/permatrix/internal/services/matrix"
)

// E2ETestEnv wires the postgres repositories the way permctl does
type E2ETestEnv struct {
	Config    *config.Config
	DB        *sql.DB
	Catalog   *postgres.PostgresCatalogRepository
	Records   *postgres.PostgresRecordRepository
	Collector *metrics.Collector
}

// SetupE2ETest connects to the test database, runs the migrations and
// removes existing data. The test is skipped without a database.
func SetupE2ETest(t *testing.T) *E2ETestEnv {
	t.Helper()

	if os.Getenv("DB_PASSWORD") == "" {
		t.Skip("requires a PostgreSQL database (set DB_PASSWORD)")
	}

	// Initialize config for test environment
	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("failed to init config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Connect to test database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if err := pg.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	// Clean up existing data
	cleanupDatabase(t, pg.DB)

	return &E2ETestEnv{
		Config:    cfg,
		DB:        pg.DB,
		Catalog:   postgres.NewPostgresCatalogRepository(pg.DB),
		Records:   postgres.NewPostgresRecordRepository(pg.DB),
		Collector: metrics.NewCollector(),
	}
}

// Teardown cleans up the E2E test environment
func (e *E2ETestEnv) Teardown(t *testing.T) {
	t.Helper()

	if e.DB != nil {
		cleanupDatabase(t, e.DB)
		e.DB.Close()
	}
}

// Service opens engines against the instrumented postgres repositories
func (e *E2ETestEnv) Service(opts ...matrix.Option) *services.PermissionService {
	base := []matrix.Option{
		matrix.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))),
		matrix.WithParentService(e.Catalog),
		matrix.WithRecordTypeDeployer(metrics.InstrumentDeployer(e.Records, e.Collector)),
		matrix.WithSaveRecorder(e.Collector),
	}
	return services.NewPermissionService(e.Catalog, metrics.InstrumentRecordService(e.Records, e.Collector), append(base, opts...)...)
}

// Seed registers catalog entities and parent identities
func (e *E2ETestEnv) Seed(t *testing.T, list []*entities.Entity, parents []*entities.ParentIdentity) {
	t.Helper()
	ctx := context.Background()

	for _, ent := range list {
		if err := e.Catalog.UpsertEntity(ctx, ent); err != nil {
			t.Fatalf("failed to seed entity %s: %v", ent.Key(), err)
		}
	}
	for _, p := range parents {
		if err := e.Catalog.UpsertParent(ctx, p); err != nil {
			t.Fatalf("failed to seed parent %s: %v", p.ID, err)
		}
	}
}

// Open opens an engine over the selection
func (e *E2ETestEnv) Open(t *testing.T, svc *services.PermissionService, sel *services.Selection) *matrix.Engine {
	t.Helper()

	engine, err := svc.Open(context.Background(), sel)
	if err != nil {
		t.Fatalf("failed to open engine: %v", err)
	}
	return engine
}

// confirmAll confirms every save
var confirmAll = matrix.ConfirmFunc(func(context.Context, *matrix.Summary) (bool, error) {
	return true, nil
})

// cellFlags returns the current flags of a cell
func cellFlags(t *testing.T, engine *matrix.Engine, kind entities.Kind, key, parentID string) (entities.FlagSet, string) {
	t.Helper()

	var (
		cell *entities.Cell
		err  error
	)
	engine.View(func(s *matrix.Store) {
		cell, err = s.Cell(kind, key, parentID)
	})
	if err != nil {
		t.Fatalf("failed to get cell %s/%s: %v", key, parentID, err)
	}
	return cell.Current, cell.ErrorMessage
}

// cleanupDatabase removes all data from test database
func cleanupDatabase(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Delete in correct order due to foreign key constraints
	tables := []string{
		"object_permissions", "field_permissions", "record_type_visibilities",
		"catalog_entities", "permission_parents",
	}
	for _, table := range tables {
		query := fmt.Sprintf("DELETE FROM %s", table)
		if _, err := db.ExecContext(ctx, query); err != nil {
			t.Logf("warning: failed to clean up table %s: %v", table, err)
		}
	}
}
