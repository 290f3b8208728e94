package migrations

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping migration integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return pool
}

func runSQL(t *testing.T, pool *pgxpool.Pool, filename string) {
	t.Helper()
	sql, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		t.Fatalf("failed to execute %s: %v", filename, err)
	}
}

func tableExists(t *testing.T, pool *pgxpool.Pool, table string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(context.Background(),
		"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
	).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check table %s: %v", table, err)
	}
	return exists
}

func TestMigration_UpCreatesAllTables(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	for _, table := range []string{"embeddings", "metadata"} {
		if !tableExists(t, pool, table) {
			t.Errorf("table %s does not exist after up migration", table)
		}
	}
}

func TestMigration_UpIsIdempotent(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")
	runSQL(t, pool, "001_initial_schema.up.sql")
}

func TestMigration_DownAndUpCycle(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.down.sql")
	runSQL(t, pool, "001_initial_schema.up.sql")

	for _, table := range []string{"embeddings", "metadata"} {
		if !tableExists(t, pool, table) {
			t.Errorf("table %s does not exist after down+up cycle", table)
		}
	}
}

func TestMigration_VectorColumnExists(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	ctx := context.Background()
	var dataType string
	err := pool.QueryRow(ctx, `
		SELECT udt_name FROM information_schema.columns
		WHERE table_name = 'embeddings' AND column_name = 'embedding'
	`).Scan(&dataType)
	if err != nil {
		t.Fatalf("failed to check embedding column: %v", err)
	}
	if dataType != "vector" {
		t.Errorf("embedding column type = %q, want %q", dataType, "vector")
	}
}

func TestMigration_SchemaVersionIsSet(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")

	var version string
	err := pool.QueryRow(context.Background(), `SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&version)
	if err != nil {
		t.Fatalf("failed to read schema_version: %v", err)
	}
	if version != "2" {
		t.Errorf("schema_version = %q, want %q", version, "2")
	}
}

func TestMigration_CatalogSchema_UpCreatesAllTables(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")
	runSQL(t, pool, "002_catalog_schema.up.sql")

	tables := []string{"libraries", "collections", "items", "item_collections", "item_fulltext", "selected_items"}
	for _, table := range tables {
		if !tableExists(t, pool, table) {
			t.Errorf("table %s does not exist after catalog up migration", table)
		}
	}
}

func TestMigration_CatalogSchema_UpIsIdempotent(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")
	runSQL(t, pool, "002_catalog_schema.up.sql")
	runSQL(t, pool, "002_catalog_schema.up.sql")
}

func TestMigration_CatalogSchema_DownAndUpCycle(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")
	runSQL(t, pool, "002_catalog_schema.up.sql")
	runSQL(t, pool, "002_catalog_schema.down.sql")
	runSQL(t, pool, "002_catalog_schema.up.sql")

	for _, table := range []string{"libraries", "collections", "items", "item_collections", "item_fulltext", "selected_items"} {
		if !tableExists(t, pool, table) {
			t.Errorf("table %s does not exist after catalog down+up cycle", table)
		}
	}
}

func TestMigration_CatalogSchema_VersionIsSet(t *testing.T) {
	pool := getTestPool(t)
	defer pool.Close()

	runSQL(t, pool, "001_initial_schema.up.sql")
	runSQL(t, pool, "002_catalog_schema.up.sql")

	var version string
	err := pool.QueryRow(context.Background(), `SELECT value FROM metadata WHERE key = 'catalog_schema_version'`).Scan(&version)
	if err != nil {
		t.Fatalf("failed to read catalog_schema_version: %v", err)
	}
	if version != "1" {
		t.Errorf("catalog_schema_version = %q, want %q", version, "1")
	}
}
