package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/tryon/internal/shade"
	"github.com/andresmejia3/tryon/internal/snapshot"
	"github.com/andresmejia3/tryon/internal/types"
)

// Store persists custom shades and snapshot records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Auto-migration
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS custom_shades (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			color_hex TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			id UUID PRIMARY KEY,
			path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			shade_id TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS snapshots_created_at_idx ON snapshots (created_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// ListCustomShades returns the saved custom shades in creation order.
func (s *Store) ListCustomShades(ctx context.Context) ([]types.Shade, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, color_hex FROM custom_shades ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shades []types.Shade
	for rows.Next() {
		sh := types.Shade{Category: shade.CustomCategory}
		if err := rows.Scan(&sh.ID, &sh.Name, &sh.ColorHex); err != nil {
			return nil, err
		}
		shades = append(shades, sh)
	}
	return shades, rows.Err()
}

// SaveCustomShade inserts sh, or updates its name and color if it exists.
func (s *Store) SaveCustomShade(ctx context.Context, sh types.Shade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO custom_shades (id, name, color_hex)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, color_hex = EXCLUDED.color_hex
	`, sh.ID, sh.Name, sh.ColorHex)
	return err
}

// DeleteCustomShade removes a custom shade. It reports whether a row existed.
func (s *Store) DeleteCustomShade(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM custom_shades WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecordSnapshot stores the metadata of an exported snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, rec snapshot.Record) error {
	var shadeID *string
	if rec.ShadeID != "" {
		shadeID = &rec.ShadeID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (id, path, width, height, shade_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Path, rec.Width, rec.Height, shadeID, rec.CreatedAt)
	return err
}

// GetSnapshot returns the record with the given id.
func (s *Store) GetSnapshot(ctx context.Context, id uuid.UUID) (snapshot.Record, bool, error) {
	rec, err := scanSnapshot(s.pool.QueryRow(ctx, `
		SELECT id, path, width, height, COALESCE(shade_id, ''), created_at
		FROM snapshots WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Record{}, false, nil
	}
	if err != nil {
		return snapshot.Record{}, false, err
	}
	return rec, true, nil
}

// ListSnapshots returns up to limit records, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]snapshot.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, path, width, height, COALESCE(shade_id, ''), created_at
		FROM snapshots ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []snapshot.Record
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanSnapshot(row pgx.Row) (snapshot.Record, error) {
	var rec snapshot.Record
	err := row.Scan(&rec.ID, &rec.Path, &rec.Width, &rec.Height, &rec.ShadeID, &rec.CreatedAt)
	return rec, err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS snapshots CASCADE;
		DROP TABLE IF EXISTS custom_shades CASCADE;
	`)
	return err
}
