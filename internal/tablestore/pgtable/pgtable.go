// Package pgtable implements tablestore.Service on PostgreSQL. Every logical
// table shares one physical table keyed by (table_name, partition_key, row_key).
package pgtable

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-metadata-sync/internal/tablestore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// foreignKeyViolation is the SQLSTATE raised when a row references a table
// that was never created.
const foreignKeyViolation = "23503"

// Compile-time check: *Service implements tablestore.Service.
var _ tablestore.Service = (*Service)(nil)

// Service implements tablestore.Service using a pgx pool.
type Service struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL, applies pending migrations and returns a Service.
func Open(ctx context.Context, connString string) (*Service, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	if err := runMigrations(connString); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Close releases the pool.
func (s *Service) Close() {
	s.pool.Close()
}

// CreateTable implements tablestore.Service.
func (s *Service) CreateTable(ctx context.Context, name string) (tablestore.Table, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO store_tables (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("create table %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("create table %q: %w", name, tablestore.ErrTableExists)
	}
	return s.Table(name), nil
}

// Table implements tablestore.Service.
func (s *Service) Table(name string) tablestore.Table {
	return &table{pool: s.pool, name: name}
}

type table struct {
	pool *pgxpool.Pool
	name string
}

func (t *table) UpsertEntity(ctx context.Context, e tablestore.Entity) error {
	props, err := json.Marshal(nonNil(e.Properties))
	if err != nil {
		return fmt.Errorf("marshal entity %s/%s: %w", e.PartitionKey, e.RowKey, err)
	}

	// Replace, never merge: the stored property set is exactly the new one.
	_, err = t.pool.Exec(ctx,
		`INSERT INTO table_entities (table_name, partition_key, row_key, properties, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (table_name, partition_key, row_key)
		 DO UPDATE SET properties = EXCLUDED.properties, updated_at = NOW()`,
		t.name, e.PartitionKey, e.RowKey, props)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return fmt.Errorf("upsert %q: %w", t.name, tablestore.ErrTableNotFound)
		}
		return fmt.Errorf("upsert %q: %w", t.name, err)
	}
	return nil
}

func (t *table) GetEntity(ctx context.Context, partitionKey, rowKey string) (tablestore.Entity, error) {
	row := t.pool.QueryRow(ctx,
		`SELECT partition_key, row_key, properties FROM table_entities
		 WHERE table_name = $1 AND partition_key = $2 AND row_key = $3`,
		t.name, partitionKey, rowKey)

	e, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tablestore.Entity{}, tablestore.ErrEntityNotFound
	}
	if err != nil {
		return tablestore.Entity{}, fmt.Errorf("get %q: %w", t.name, err)
	}
	return e, nil
}

func (t *table) ListEntities(ctx context.Context, partitionKey string) ([]tablestore.Entity, error) {
	rows, err := t.pool.Query(ctx,
		`SELECT partition_key, row_key, properties FROM table_entities
		 WHERE table_name = $1 AND partition_key = $2 ORDER BY row_key`,
		t.name, partitionKey)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", t.name, err)
	}
	defer rows.Close()

	var entities []tablestore.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", t.name, err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanEntity(row pgx.Row) (tablestore.Entity, error) {
	var (
		e     tablestore.Entity
		props []byte
	)
	if err := row.Scan(&e.PartitionKey, &e.RowKey, &props); err != nil {
		return tablestore.Entity{}, err
	}
	if err := json.Unmarshal(props, &e.Properties); err != nil {
		return tablestore.Entity{}, fmt.Errorf("unmarshal properties: %w", err)
	}
	return e, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func runMigrations(connString string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(connString))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// pgx5URL swaps the postgres scheme for "pgx5://" so golang-migrate selects
// its pgx/v5 driver.
func pgx5URL(connString string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if rest, ok := strings.CutPrefix(connString, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return connString
}
