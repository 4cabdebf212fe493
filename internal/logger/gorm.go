package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// maxLoggedSQL bounds statement text in logs. Scan writes inline image blobs
// into the rendered SQL.
const maxLoggedSQL = 512

// GormLogger routes GORM statements through a module logger. Statements go
// to TRACE, slow statements and failures to WARN, each tagged with the scan
// and correlation IDs of the context that issued it.
type GormLogger struct {
	log           Logger
	slowThreshold time.Duration
}

// NewGormLogger wraps log, or the global datastore logger when log is nil.
// A zero slowThreshold disables slow statement warnings.
func NewGormLogger(log Logger, slowThreshold time.Duration) *GormLogger {
	if log == nil {
		log = Global().Module("datastore")
	}
	return &GormLogger{log: log, slowThreshold: slowThreshold}
}

// LogMode is a no-op; the module level decides what is written.
func (g *GormLogger) LogMode(_ gorm_logger.LogLevel) gorm_logger.Interface {
	return g
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	g.log.WithContext(ctx).Debug(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	g.log.WithContext(ctx).Warn(fmt.Sprintf(msg, data...))
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	g.log.WithContext(ctx).Error(fmt.Sprintf(msg, data...))
}

// Trace logs one executed statement. Missing rows and duplicate keys are the
// normal outcome of dedup lookups and racing inserts and stay at TRACE.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	log := g.log.WithContext(ctx)
	fields := []Field{
		String("sql", clipSQL(sql)),
		Int64("rows_affected", rows),
		Duration("elapsed", elapsed),
	}

	expected := errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)
	switch {
	case err != nil && !expected:
		log.Warn("query error", append(fields, Error(err))...)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold:
		log.Warn("slow query", append(fields, Duration("threshold", g.slowThreshold))...)
	default:
		log.Trace("sql query", fields...)
	}
}

func clipSQL(sql string) string {
	if len(sql) <= maxLoggedSQL {
		return sql
	}
	return fmt.Sprintf("%s... (%d bytes)", sql[:maxLoggedSQL], len(sql))
}
