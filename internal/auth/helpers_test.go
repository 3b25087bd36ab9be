package auth

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mbus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mbus/migrations"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!"

// testDB returns a migrated in-memory database.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// seedTestUser inserts an active user with password "password123".
func seedTestUser(t *testing.T, repo UserRepository, username string, role Role) *User {
	t.Helper()

	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	u := &User{Username: username, PasswordHash: hash, Role: role, IsActive: true}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	return u
}

type discardLogger struct{}

func (discardLogger) Info(string, ...any) {}
func (discardLogger) Warn(string, ...any) {}
