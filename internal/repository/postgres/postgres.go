package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

//go:embed schema.sql
var schemaSQL string

// PostgresRepository implements domain.DataRepository
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Connect opens a pool and verifies it with a ping
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables if they don't exist
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return nil
}

// SaveDayRecords replaces the stored copy of one day
func (r *PostgresRepository) SaveDayRecords(ctx context.Context, resource string, day time.Time, records []domain.RawRecord) error {
	day = utils.TruncateDay(day)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM day_records WHERE resource = $1 AND day = $2`, resource, day); err != nil {
		return fmt.Errorf("postgres: failed to clear day records: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"day_records"},
		dayRecordColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return dayRecordRow(resource, day, i, records[i]), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to copy day records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: failed to commit day records: %w", err)
	}
	return nil
}

var dayRecordColumns = []string{"resource", "day", "seq", "ts", "name", "count_in", "count_out"}

// dayRecordRow is the COPY row of the i-th record of a day
func dayRecordRow(resource string, day time.Time, i int, rec domain.RawRecord) []any {
	return []any{resource, day, int32(i), rec.Timestamp, rec.Name, int64(rec.In), int64(rec.Out)}
}

// GetDayRecords returns the stored copy of one day in its original order
func (r *PostgresRepository) GetDayRecords(ctx context.Context, resource string, day time.Time) ([]domain.RawRecord, error) {
	query := `
		SELECT ts, name, count_in, count_out
		FROM day_records
		WHERE resource = $1 AND day = $2
		ORDER BY seq
	`

	rows, err := r.pool.Query(ctx, query, resource, utils.TruncateDay(day))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query day records: %w", err)
	}
	defer rows.Close()

	var results []domain.RawRecord
	for rows.Next() {
		var (
			rec     domain.RawRecord
			in, out int64
		)
		if err := rows.Scan(&rec.Timestamp, &rec.Name, &in, &out); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan day record: %w", err)
		}
		rec.Timestamp = utils.WallClock(rec.Timestamp)
		rec.In, rec.Out = int(in), int(out)
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read day records: %w", err)
	}

	return results, nil
}

// SavePredictionLog persists a served prediction request
func (r *PostgresRepository) SavePredictionLog(ctx context.Context, entry domain.PredictionLog) error {
	query := `
		INSERT INTO prediction_logs (
			request_id, day, location, state, source, row_count, measured, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.RequestID.String(), utils.TruncateDay(entry.Day), entry.Location, entry.State.String(),
		entry.Source, entry.Rows, entry.Measured, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save prediction log: %w", err)
	}

	return nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
