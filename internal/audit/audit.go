// Package audit persists a local operational history of sessions and
// channel activity to Postgres, for diagnostics only — nothing here
// gates or influences protocol behavior.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/ocx/aacore/internal/aoap"
)

// Log records session lifecycle and channel error events to Postgres.
// A Log with no database (constructed with NoOp) silently discards
// everything, so callers never need to check whether auditing is enabled.
type Log struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and ensures the audit tables exist.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Log{db: db}, nil
}

// NoOp returns a Log that discards every record; used when no audit
// DSN is configured.
func NoOp() *Log { return &Log{} }

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS session_events (
	id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	vendor_id INTEGER,
	product_id INTEGER,
	serial_number TEXT,
	bus_path TEXT,
	detail TEXT
);
CREATE TABLE IF NOT EXISTS channel_errors (
	id BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	channel TEXT NOT NULL,
	message TEXT NOT NULL
);
`)
	return err
}

// RecordConnected logs a successful AOAP connection along with the
// physical device identity, for "which unit connected when" queries.
func (l *Log) RecordConnected(ctx context.Context, dev aoap.DeviceDescriptor) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO session_events (occurred_at, event_type, vendor_id, product_id, serial_number, bus_path) VALUES ($1, 'connected', $2, $3, $4, $5)`,
		time.Now(), dev.VendorID, dev.ProductID, dev.SerialNumber, dev.BusPath,
	)
	return err
}

// RecordDisconnected logs the end of a session, with the reason if any.
func (l *Log) RecordDisconnected(ctx context.Context, reason error) error {
	if l.db == nil {
		return nil
	}
	detail := ""
	if reason != nil {
		detail = reason.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO session_events (occurred_at, event_type, detail) VALUES ($1, 'disconnected', $2)`,
		time.Now(), detail,
	)
	return err
}

// RecordChannelError logs a media-channel error observed by the
// circuit breaker.
func (l *Log) RecordChannelError(ctx context.Context, channel string, err error) error {
	if l.db == nil {
		return nil
	}
	_, execErr := l.db.ExecContext(ctx,
		`INSERT INTO channel_errors (occurred_at, channel, message) VALUES ($1, $2, $3)`,
		time.Now(), channel, err.Error(),
	)
	return execErr
}

// Close releases the underlying database connection, if any.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}
