package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStateStore persists actor state as one row per entity key in an
// actor_state table.
type PostgresStateStore struct {
	db *sql.DB
}

// ConnectPostgres opens and pings a PostgreSQL connection.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStateStore(db *sql.DB) (*PostgresStateStore, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS actor_state (
		entity_key TEXT PRIMARY KEY,
		state      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure actor_state table: %w", err)
	}
	return &PostgresStateStore{db: db}, nil
}

func (s *PostgresStateStore) Persist(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actor_state (entity_key, state, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (entity_key) DO UPDATE SET state = $2, updated_at = $3`,
		key, data, time.Now(),
	)
	return err
}

func (s *PostgresStateStore) Load(ctx context.Context, key string, out any) (bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM actor_state WHERE entity_key = $1", key,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStateStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM actor_state WHERE entity_key = $1", key)
	return err
}

// Cleanup truncates all persisted actor state.
func (s *PostgresStateStore) Cleanup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE actor_state")
	return err
}
