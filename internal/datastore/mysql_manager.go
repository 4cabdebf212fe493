package datastore

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLManager handles a MySQL database.
type MySQLManager struct {
	db       *gorm.DB
	location string // host:port/database for display
}

// NewMySQLManager opens a MySQL connection pool.
func NewMySQLManager(target Target, cfg Config) (*MySQLManager, error) {
	db, err := gorm.Open(mysql.Open(target.DSN), gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := configurePool(db); err != nil {
		return nil, err
	}

	return &MySQLManager{db: db, location: target.Location}, nil
}

// configurePool applies the pool limits used for networked databases.
func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

// Initialize creates the schema.
func (m *MySQLManager) Initialize() error {
	return migrate(m.db)
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB { return m.db }

// Location returns host:port/database.
func (m *MySQLManager) Location() string { return m.location }

// Dialect returns DialectMySQL.
func (m *MySQLManager) Dialect() Dialect { return DialectMySQL }

// Ping checks the connection.
func (m *MySQLManager) Ping() error { return pingDB(m.db) }

// Close closes the database connection.
func (m *MySQLManager) Close() error { return closeDB(m.db) }
