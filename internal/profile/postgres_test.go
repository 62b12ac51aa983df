package profile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
	"testing/fstest"

	"github.com/gofrs/uuid/v5"
)

// Shared test connection; nil when TEST_DATABASE_URL is unset.
var testStore *PostgresStore

// TestMain connects to Postgres when TEST_DATABASE_URL is set and applies the
// embedded migrations. Without it the Postgres tests skip.
func TestMain(m *testing.M) {
	ctx := context.Background()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		ps, err := NewPostgresStore(ctx, url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
			os.Exit(1)
		}
		if err := ps.Migrate(ctx, Migrations()); err != nil {
			fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
			ps.Close()
			os.Exit(1)
		}
		testStore = ps
	}

	code := m.Run()
	if testStore != nil {
		testStore.Close()
	}
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testStore == nil {
		t.Skip("TEST_DATABASE_URL not set")
	}
}

func mustNewID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("failed to generate UUID: %v", err)
	}
	return id
}

func cleanupProfile(t *testing.T, ctx context.Context, id uuid.UUID) {
	t.Helper()
	t.Cleanup(func() { testStore.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id) })
}

func TestMigrations(t *testing.T) {
	files, err := fs.Glob(Migrations(), "*.sql")
	if err != nil {
		t.Fatalf("reading embedded migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
}

func TestMigrate(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	t.Run("applies migration and records version", func(t *testing.T) {
		testFS := fstest.MapFS{
			"900_test_migrate.sql": &fstest.MapFile{Data: []byte("CREATE TABLE test_migrate_tbl (id INT);")},
		}
		t.Cleanup(func() {
			testStore.pool.Exec(ctx, "DROP TABLE IF EXISTS test_migrate_tbl")
			testStore.pool.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", "900_test_migrate.sql")
		})

		if err := testStore.Migrate(ctx, testFS); err != nil {
			t.Fatalf("Migrate failed: %v", err)
		}
		var recorded bool
		err := testStore.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", "900_test_migrate.sql",
		).Scan(&recorded)
		if err != nil || !recorded {
			t.Errorf("expected migration recorded, got %v (err=%v)", recorded, err)
		}
	})

	t.Run("failed migration rolls back", func(t *testing.T) {
		testFS := fstest.MapFS{
			"901_test_broken.sql": &fstest.MapFile{Data: []byte("CREATE TABLE test_broken_tbl (id INT); SELECT nope FROM nowhere;")},
		}
		t.Cleanup(func() {
			testStore.pool.Exec(ctx, "DROP TABLE IF EXISTS test_broken_tbl")
		})
		if err := testStore.Migrate(ctx, testFS); err == nil {
			t.Fatal("expected error from broken migration")
		}
		var exists bool
		testStore.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = 'test_broken_tbl')",
		).Scan(&exists)
		if exists {
			t.Error("expected broken migration rolled back")
		}
	})
}

func TestCallSignupProfile(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	t.Run("creates profile readable by id", func(t *testing.T) {
		id := mustNewID(t)
		cleanupProfile(t, ctx, id)
		email := id.String()[:8] + "@example.com"

		err := testStore.CallSignupProfile(ctx, SignupParams{UserID: id, FirstName: "Ana", LastName: "Silva", Email: email, SignupToken: "tok"})
		if err != nil {
			t.Fatalf("CallSignupProfile failed: %v", err)
		}
		p, err := testStore.GetProfileByID(ctx, id)
		if err != nil {
			t.Fatalf("GetProfileByID failed: %v", err)
		}
		if p.ID != id || p.FirstName != "Ana" || p.Email != email {
			t.Errorf("unexpected profile %+v", p)
		}
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		id := mustNewID(t)
		cleanupProfile(t, ctx, id)
		params := SignupParams{UserID: id, FirstName: "Ana", LastName: "Silva", Email: id.String()[:8] + "@example.com", SignupToken: "tok"}
		testStore.CallSignupProfile(ctx, params)
		if err := testStore.CallSignupProfile(ctx, params); !errors.Is(err, ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		id := mustNewID(t)
		cleanupProfile(t, ctx, id)
		err := testStore.CallSignupProfile(ctx, SignupParams{UserID: id, FirstName: "Ana", LastName: "Silva", Email: "x@example.com"})
		if !errors.Is(err, ErrRejected) {
			t.Errorf("expected ErrRejected, got %v", err)
		}
	})
}

func TestGetProfileByIDNotFound(t *testing.T) {
	requireDB(t)
	if _, err := testStore.GetProfileByID(context.Background(), mustNewID(t)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	requireDB(t)
	if err := testStore.CheckHealth(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}
