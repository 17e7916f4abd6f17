package repo

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// newTestDB returns a migrated in-memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(MemoryDSN)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestSqliteDSN(t *testing.T) {
	file := sqliteDSN("data/app.db")
	for _, p := range []string{"busy_timeout%285000%29", "foreign_keys%281%29", "journal_mode%28WAL%29"} {
		if !strings.Contains(file, p) {
			t.Errorf("file DSN %q missing %s", file, p)
		}
	}
	if !strings.HasPrefix(file, "data/app.db?_pragma=") {
		t.Errorf("file DSN = %q", file)
	}

	mem := sqliteDSN(MemoryDSN)
	if strings.Contains(mem, "journal_mode") || !strings.HasPrefix(mem, ":memory:?") {
		t.Errorf("memory DSN = %q", mem)
	}
	if got := sqliteDSN("file:x.db?mode=rwc"); !strings.HasPrefix(got, "file:x.db?mode=rwc&_pragma=") {
		t.Errorf("existing query not extended: %q", got)
	}
}

func TestOpenSQLite_MissingParentDir(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "nope", "app.db")
	db, err := OpenSQLite(bad)
	if db != nil || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("OpenSQLite(%q) = %v, %v", bad, db, err)
	}
}

func TestOpenSQLite_FileAppliesPragmasOnEveryConnection(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "rag.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	ctx := context.Background()
	// Hold two connections at once so the pool must open a second one.
	c1, err := sqlDB.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	c2, err := sqlDB.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	for i, c := range []*sql.Conn{c1, c2} {
		var fk, busy int
		if err := c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
			t.Fatalf("conn %d foreign_keys: %v", i, err)
		}
		if err := c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
			t.Fatalf("conn %d busy_timeout: %v", i, err)
		}
		if fk != 1 || busy != 5000 {
			t.Errorf("conn %d: foreign_keys=%d busy_timeout=%d", i, fk, busy)
		}
	}

	var mode string
	if err := db.Raw("PRAGMA journal_mode").Row().Scan(&mode); err != nil || !strings.EqualFold(mode, "wal") {
		t.Fatalf("journal_mode = %q, %v", mode, err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 10 {
		t.Fatalf("MaxOpenConnections = %d", got)
	}
}

func TestAutoMigrate_SchemaAndIndexes(t *testing.T) {
	db := newTestDB(t)

	if got, _ := db.DB(); got.Stats().MaxOpenConnections != 1 {
		t.Fatalf("memory database must use one connection")
	}
	m := db.Migrator()
	if !m.HasTable(&domain.Document{}) || !m.HasTable(&domain.Idempotency{}) {
		t.Fatalf("tables missing")
	}
	if !m.HasIndex(&domain.Document{}, "idx_user_docs") || !m.HasIndex(&domain.Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("composite indexes missing")
	}

	// Migrating twice is a no-op.
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}

	now := time.Now().UTC()
	rec := domain.Idempotency{ID: "i1", Key: "k", UserID: "u", Scope: "/api/v1/documents", ResourceID: "d1", Status: 201, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := rec
	dup.ID = "i2"
	if err := db.Create(&dup).Error; !isUniqueViolation(err) {
		t.Fatalf("duplicate (user, scope, key) should violate ux_user_scope_key, got %v", err)
	}
}
