package datastore

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresManager handles a PostgreSQL database reached through lib/pq.
type PostgresManager struct {
	db       *gorm.DB
	location string
}

// NewPostgresManager opens a PostgreSQL connection pool.
func NewPostgresManager(target Target, cfg Config) (*PostgresManager, error) {
	sqlDB, err := sql.Open("postgres", target.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormConfig(cfg))
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	if err := configurePool(db); err != nil {
		return nil, err
	}

	return &PostgresManager{db: db, location: target.Location}, nil
}

// Initialize creates the schema.
func (m *PostgresManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *PostgresManager) DB() *gorm.DB { return m.db }

// Location returns host/database.
func (m *PostgresManager) Location() string { return m.location }

// Dialect returns DialectPostgres.
func (m *PostgresManager) Dialect() Dialect { return DialectPostgres }

// Ping checks the connection.
func (m *PostgresManager) Ping() error { return pingDB(m.db) }

// Close closes the database connection.
func (m *PostgresManager) Close() error { return closeDB(m.db) }
