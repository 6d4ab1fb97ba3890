// Package postgres stores events and snapshots in PostgreSQL, one JSONB
// payload column and one type column per table, and compiles predicate
// queries into parameterized WHERE fragments over that pair.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/chronicle/chronicle-go/predicate"
	"github.com/chronicle/chronicle-go/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config configures the PostgreSQL store.
type Config struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxConnections  int           `yaml:"max_connections" json:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// AutoMigrate runs the embedded goose migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate"`
	// LogQueries logs every generated SELECT before it runs.
	LogQueries bool `yaml:"log_queries" json:"log_queries"`

	// TimestampConvert overrides the compiler's timestamp conversion
	// pattern, for databases that install a native ISO-8601 parser.
	TimestampConvert string `yaml:"timestamp_convert" json:"timestamp_convert"`
}

// Store is the PostgreSQL-backed event/snapshot store.
type Store struct {
	pool      *pgxpool.Pool
	config    *Config
	events    *Compiler
	snapshots *Compiler
}

// NewStore connects, pings, and optionally migrates the database.
func NewStore(ctx context.Context, config *Config) (*Store, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = time.Hour
	}
	if config.ConnMaxIdleTime == 0 {
		config.ConnMaxIdleTime = 30 * time.Minute
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		pool:      pool,
		config:    config,
		events:    NewCompiler("event_type", "event_data"),
		snapshots: NewCompiler("aggregate_type", "aggregate_data"),
	}
	if config.TimestampConvert != "" {
		s.events.TimestampConvert = config.TimestampConvert
		s.snapshots.TimestampConvert = config.TimestampConvert
	}

	if config.AutoMigrate {
		if err := s.runMigrations(); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return s, nil
}

// runMigrations applies the embedded migrations with goose, which wants a
// database/sql handle rather than a pgx pool.
func (s *Store) runMigrations() error {
	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SaveEvents appends events in a single transaction, preserving order.
func (s *Store) SaveEvents(ctx context.Context, events []storage.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		_, err := tx.Exec(ctx,
			"INSERT INTO events (event_type, event_data) VALUES ($1, $2)",
			e.Type, e.Data)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.Type, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// LoadEvents returns events matching the query in insertion order. The
// compiled clause narrows the scan in SQL; any residual predicate is
// re-checked in memory on the loaded rows.
func (s *Store) LoadEvents(ctx context.Context, query predicate.Predicate) ([]storage.Event, error) {
	sqlStr := "SELECT event_type, event_data FROM events"
	sqlStr, params, residual := s.applyQuery(sqlStr, s.events, query)
	sqlStr += " ORDER BY sequence_num ASC"
	if s.config.LogQueries {
		log.Printf("query: %s", sqlStr)
	}

	rows, err := s.pool.Query(ctx, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []storage.Event
	for rows.Next() {
		var e storage.Event
		if err := rows.Scan(&e.Type, &e.Data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if residual != nil && !predicate.Matches(residual, e.Type, e.Data) {
			continue
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// SaveSnapshots upserts snapshots by aggregate ID.
func (s *Store) SaveSnapshots(ctx context.Context, snaps []storage.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, snap := range snaps {
		_, err := tx.Exec(ctx, `
			INSERT INTO snapshots (aggregate_id, aggregate_type, aggregate_data)
			VALUES ($1, $2, $3)
			ON CONFLICT (aggregate_id) DO UPDATE SET
				aggregate_type = excluded.aggregate_type,
				aggregate_data = excluded.aggregate_data`,
			snap.ID, snap.Type, snap.Data)
		if err != nil {
			return fmt.Errorf("upsert snapshot %s: %w", snap.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshots: %w", err)
	}
	return nil
}

// LoadSnapshots returns snapshots matching the query in insertion order.
func (s *Store) LoadSnapshots(ctx context.Context, query predicate.Predicate) ([]storage.Snapshot, error) {
	sqlStr := "SELECT aggregate_id, aggregate_type, aggregate_data FROM snapshots"
	sqlStr, params, residual := s.applyQuery(sqlStr, s.snapshots, query)
	sqlStr += " ORDER BY sequence_num ASC"
	if s.config.LogQueries {
		log.Printf("query: %s", sqlStr)
	}

	rows, err := s.pool.Query(ctx, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []storage.Snapshot
	for rows.Next() {
		var snap storage.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Type, &snap.Data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if residual != nil && !predicate.Matches(residual, snap.Type, snap.Data) {
			continue
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	return snaps, nil
}

func (s *Store) applyQuery(sqlStr string, compiler *Compiler, query predicate.Predicate) (string, []any, predicate.Predicate) {
	if query == nil {
		return sqlStr, nil, nil
	}
	result := compiler.Compile(query)
	if result.Clause != "" {
		sqlStr += " WHERE " + result.Clause
	}
	return sqlStr, result.Params, result.Residual
}

// Close releases the connection pool.
func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

var _ storage.Store = (*Store)(nil)
