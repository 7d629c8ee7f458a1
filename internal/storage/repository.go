package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"meterlog/internal/core"
)

// pgUniqueViolation is the SQLSTATE Postgres reports when the UNIQUE
// constraint on the month column rejects an insert.
const pgUniqueViolation = "23505"

const readingColumns = `id, month, gas_kwh, water_m3, solar_kwh, pulse_count, tariff1_kwh, tariff2_kwh, created_at, updated_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to the database, verifies connectivity
// and brings the schema up to date. Any failure here is meant to be
// fatal for the caller: the service must not serve without a working
// store.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping reports store connectivity for the health endpoint.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ListReadings returns up to limit readings, newest month first.
func (r *PostgresRepository) ListReadings(ctx context.Context, limit int) ([]core.Reading, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+readingColumns+` FROM energy_readings ORDER BY month DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var readings []core.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}

	return readings, nil
}

// GetReading returns the reading for the given month, or core.ErrNotFound.
func (r *PostgresRepository) GetReading(ctx context.Context, month string) (core.Reading, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+readingColumns+` FROM energy_readings WHERE month = $1`, month)

	reading, err := scanReading(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Reading{}, core.ErrNotFound
		}
		return core.Reading{}, fmt.Errorf("get reading %s: %w", month, err)
	}

	return reading, nil
}

// CreateReading inserts a new monthly reading and returns the assigned id.
// A second insert for the same month yields core.ErrMonthExists.
func (r *PostgresRepository) CreateReading(ctx context.Context, reading core.Reading) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO energy_readings
		   (month, gas_kwh, water_m3, solar_kwh, pulse_count, tariff1_kwh, tariff2_kwh)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		reading.Month,
		reading.GasKWh,
		reading.WaterM3,
		reading.SolarKWh,
		reading.PulseCount,
		reading.Tariff1KWh,
		reading.Tariff2KWh,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, core.ErrMonthExists
		}
		return 0, fmt.Errorf("create reading %s: %w", reading.Month, err)
	}

	slog.InfoContext(ctx, "Reading saved",
		"id", id,
		"month", reading.Month,
		"gas_kwh", reading.GasKWh,
		"water_m3", reading.WaterM3,
		"solar_kwh", reading.SolarKWh,
		"pulse_count", reading.PulseCount,
		"tariff1_kwh", reading.Tariff1KWh,
		"tariff2_kwh", reading.Tariff2KWh)

	return id, nil
}

// UpdateReading overwrites every metric for the given month. This is a
// full overwrite, not a sparse patch: values absent from the request
// arrive here as zero and are stored as zero, mirroring create.
func (r *PostgresRepository) UpdateReading(ctx context.Context, month string, reading core.Reading) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE energy_readings
		 SET gas_kwh = $1, water_m3 = $2, solar_kwh = $3,
		     pulse_count = $4, tariff1_kwh = $5, tariff2_kwh = $6,
		     updated_at = now()
		 WHERE month = $7`,
		reading.GasKWh,
		reading.WaterM3,
		reading.SolarKWh,
		reading.PulseCount,
		reading.Tariff1KWh,
		reading.Tariff2KWh,
		month,
	)
	if err != nil {
		return fmt.Errorf("update reading %s: %w", month, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}

	slog.InfoContext(ctx, "Reading updated", "month", month)
	return nil
}

// DeleteReading removes the reading for the given month.
func (r *PostgresRepository) DeleteReading(ctx context.Context, month string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM energy_readings WHERE month = $1`, month)
	if err != nil {
		return fmt.Errorf("delete reading %s: %w", month, err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}

	slog.InfoContext(ctx, "Reading deleted", "month", month)
	return nil
}

func scanReading(row pgx.Row) (core.Reading, error) {
	var reading core.Reading
	err := row.Scan(
		&reading.ID,
		&reading.Month,
		&reading.GasKWh,
		&reading.WaterM3,
		&reading.SolarKWh,
		&reading.PulseCount,
		&reading.Tariff1KWh,
		&reading.Tariff2KWh,
		&reading.CreatedAt,
		&reading.UpdatedAt,
	)
	return reading, err
}

// isUniqueViolation recognizes the store-specific duplicate-key signal
// so the boundary can surface it as a conflict instead of a generic
// failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
