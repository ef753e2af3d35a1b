// Copyright (c) 2026 Keymaster Team
// kmring - PGP and SSH keyring synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/toeirei/kmring/internal/logging"
)

// entryModel maps the journal table.
type entryModel struct {
	bun.BaseModel `bun:"table:journal"`
	ID            string    `bun:"id,pk"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	Username      string    `bun:"username"`
	Action        string    `bun:"action"`
	Details       string    `bun:"details"`
	Outcome       string    `bun:"outcome"`
}

// Store is a bun-backed Journal on SQLite, PostgreSQL or MySQL.
type Store struct {
	bun *bun.DB
}

// Open returns the journal configured by dbType and dsn. The type "none" (or
// an empty type) disables journaling.
func Open(ctx context.Context, dbType, dsn string) (Journal, error) {
	switch dbType {
	case "", "none":
		return Nop{}, nil
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported journal type: '%s'", dbType)
	}

	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	start := time.Now()
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	// In-memory SQLite databases exist per connection.
	if dbType == "sqlite" && dsn == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	s := &Store{bun: createBunDB(sqlDB, dbType)}
	if _, err := s.bun.NewCreateTable().Model((*entryModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = s.bun.Close()
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}
	logging.Debugf("journal: opened %s driver in %s", driverName, time.Since(start))
	return s, nil
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// Record inserts e.
func (s *Store) Record(ctx context.Context, e Entry) error {
	m := &entryModel{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Username:  e.Username,
		Action:    e.Action,
		Details:   e.Details,
		Outcome:   e.Outcome,
	}
	if _, err := s.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Action, err)
	}
	return nil
}

// List retrieves entries ordered by timestamp desc.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	var ms []entryModel
	q := s.bun.NewSelect().Model(&ms).OrderExpr("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ms))
	for _, m := range ms {
		out = append(out, Entry{ID: m.ID, Timestamp: m.Timestamp, Username: m.Username, Action: m.Action, Details: m.Details, Outcome: m.Outcome})
	}
	return out, nil
}

func (s *Store) Close() error { return s.bun.Close() }
