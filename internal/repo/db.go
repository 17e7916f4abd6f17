// Package repo implements the data persistence layer for domain entities,
// backed by GORM on SQLite (pure Go driver, no cgo).
package repo

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-rag-backend/internal/domain"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// connPragmas run on every pooled connection. foreign_keys and busy_timeout
// are per connection in SQLite, so they belong in the DSN rather than in a
// one-off Exec.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// sqliteDSN appends the connection pragmas to path.
func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		if path == MemoryDSN && strings.HasPrefix(p, "journal_mode") {
			continue // WAL needs a file
		}
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// OpenSQLite opens (or creates) the database at path with the connection
// pragmas applied and the OpenTelemetry plugin installed, so queries show up
// as children of the request span. MemoryDSN is accepted for tests and
// throwaway CLI runs; it is pinned to a single connection because every
// in-memory connection is a separate database.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path != MemoryDSN {
		// A missing parent directory otherwise surfaces as "out of memory (14)".
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("open sqlite %s: %w", path, err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("sqlite tracing: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if path == MemoryDSN {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates the documents and idempotency tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Document{}, &domain.Idempotency{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
