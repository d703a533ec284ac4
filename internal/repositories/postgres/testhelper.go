package postgres

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	"github.com/asakaida/permatrix/internal/infrastructure/config"
	"github.com/asakaida/permatrix/internal/infrastructure/database"
	_ "github.com/lib/pq"
)

// SetupTestDB creates a test database connection and runs migrations.
// The test is skipped when no database is configured (DB_PASSWORD unset).
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	if os.Getenv("DB_PASSWORD") == "" {
		t.Skip("requires a PostgreSQL database (set DB_PASSWORD)")
	}

	// Initialize test config
	if err := config.InitConfig("test"); err != nil {
		t.Fatalf("Failed to init config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := pg.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	truncate(t, pg.DB)
	return pg.DB
}

// CleanupTestDB closes the database connection and cleans up test data
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()

	truncate(t, db)

	if err := db.Close(); err != nil {
		t.Logf("Warning: Failed to close database: %v", err)
	}
}

func truncate(t *testing.T, db *sql.DB) {
	t.Helper()

	// Records first, they reference the catalog
	tables := []string{
		"object_permissions", "field_permissions", "record_type_visibilities",
		"catalog_entities", "permission_parents",
	}
	for _, table := range tables {
		_, err := db.Exec(fmt.Sprintf("DELETE FROM %s", table))
		if err != nil {
			t.Logf("Warning: Failed to clean up table %s: %v", table, err)
		}
	}
}
