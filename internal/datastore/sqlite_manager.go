package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteManager handles a single-file SQLite database.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens the SQLite file at path, creating its directory.
func NewSQLiteManager(path string, cfg Config) (*SQLiteManager, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	// Build DSN with recommended SQLite pragmas
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_foreign_keys=ON"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY under concurrent uploads
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteManager{db: db, dbPath: path}, nil
}

// Initialize creates the schema.
func (m *SQLiteManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB { return m.db }

// Location returns the database file path.
func (m *SQLiteManager) Location() string { return m.dbPath }

// Dialect returns DialectSQLite.
func (m *SQLiteManager) Dialect() Dialect { return DialectSQLite }

// Ping checks the connection.
func (m *SQLiteManager) Ping() error { return pingDB(m.db) }

// Close closes the database connection.
func (m *SQLiteManager) Close() error { return closeDB(m.db) }
