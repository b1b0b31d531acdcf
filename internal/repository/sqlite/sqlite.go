// Package sqlite stores fetched days and prediction logs in a local SQLite
// file, for deployments without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

//go:embed schema.sql
var schemaSQL string

const timestampLayout = "2006-01-02T15:04:05"

// Repository implements domain.DataRepository on SQLite
type Repository struct {
	conn    *sql.DB
	writeMu sync.Mutex // SQLite allows a single writer
}

// Open opens path in WAL mode and ensures the schema
func Open(ctx context.Context, path string) (*Repository, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: failed to ping database: %w", err)
	}

	r := &Repository{conn: conn}
	if err := r.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

// EnsureSchema creates the tables if they don't exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.conn.Close()
}

// SaveDayRecords replaces the stored copy of one day
func (r *Repository) SaveDayRecords(ctx context.Context, resource string, day time.Time, records []domain.RawRecord) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	key := utils.FormatDay(day)
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM day_records WHERE resource = ? AND day = ?`, resource, key); err != nil {
		return fmt.Errorf("sqlite: failed to clear day records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO day_records (resource, day, seq, ts, name, count_in, count_out)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, resource, key, i, rec.Timestamp.Format(timestampLayout), rec.Name, rec.In, rec.Out); err != nil {
			return fmt.Errorf("sqlite: failed to insert day record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit day records: %w", err)
	}
	return nil
}

// GetDayRecords returns the stored copy of one day in its original order
func (r *Repository) GetDayRecords(ctx context.Context, resource string, day time.Time) ([]domain.RawRecord, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT ts, name, count_in, count_out
		FROM day_records
		WHERE resource = ? AND day = ?
		ORDER BY seq`, resource, utils.FormatDay(day))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query day records: %w", err)
	}
	defer rows.Close()

	var results []domain.RawRecord
	for rows.Next() {
		var (
			rec domain.RawRecord
			ts  string
		)
		if err := rows.Scan(&ts, &rec.Name, &rec.In, &rec.Out); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan day record: %w", err)
		}
		if rec.Timestamp, err = utils.ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("sqlite: corrupt day record: %w", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read day records: %w", err)
	}
	return results, nil
}

// SavePredictionLog persists a served prediction request
func (r *Repository) SavePredictionLog(ctx context.Context, entry domain.PredictionLog) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_, err := r.conn.ExecContext(ctx, `
		INSERT INTO prediction_logs (request_id, day, location, state, source, row_count, measured, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID.String(), utils.FormatDay(entry.Day), entry.Location, entry.State.String(),
		entry.Source, entry.Rows, entry.Measured, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: failed to save prediction log: %w", err)
	}
	return nil
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	if err := r.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health check failed: %w", err)
	}
	return nil
}
