/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sqlite is a single-file backend for local runs and tests. It keeps
// the same claim semantics as PostgreSQL by taking the database write lock at
// the start of every transaction, so processes sharing one file never double claim.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"

	"github.com/pigwatch/pigwatch/database"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

const defaultBusyTimeoutMs = 5000

var _ database.IDataSource = (*Datasource)(nil)

// Datasource is the SQLite implementation of database.IDataSource.
// Timestamps are stored as UTC unix nanoseconds so range scans compare integers.
type Datasource struct {
	Conn    *sql.DB
	LockTTL time.Duration
}

// Open connects to dsn, applies pending migrations and returns the datasource.
func Open(dsn string, lockTTL time.Duration) (*Datasource, error) {
	db, err := sql.Open("sqlite3", withDSNOptions(dsn))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	n, err := Migrate(db, migrate.Up)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if n > 0 {
		logrus.WithField("applied", n).Info("sqlite migrations applied")
	}
	return &Datasource{Conn: db, LockTTL: lockTTL}, nil
}

// Migrate runs the embedded schema migrations in the given direction.
func Migrate(db *sql.DB, dir migrate.MigrationDirection) (int, error) {
	source := &migrate.EmbedFileSystemMigrationSource{FileSystem: migrationFiles, Root: "sql"}
	n, err := migrate.Exec(db, "sqlite3", source, dir)
	if err != nil {
		return 0, fmt.Errorf("sqlite migrations: %w", err)
	}
	return n, nil
}

// withDSNOptions adds a busy timeout and immediate transactions unless dsn
// already sets them. BEGIN IMMEDIATE takes the write lock up front, so a
// concurrent writer waits on the busy timeout instead of failing a lock upgrade.
func withDSNOptions(dsn string) string {
	var opts []string
	if !strings.Contains(dsn, "_busy_timeout") && !strings.Contains(dsn, "_timeout") {
		opts = append(opts, fmt.Sprintf("_busy_timeout=%d", defaultBusyTimeoutMs))
	}
	if !strings.Contains(dsn, "_txlock") {
		opts = append(opts, "_txlock=immediate")
	}
	if len(opts) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(opts, "&")
}

func (d *Datasource) Ping(ctx context.Context) error {
	return d.Conn.PingContext(ctx)
}

func (d *Datasource) Close() error {
	return d.Conn.Close()
}

func (d *Datasource) lockTTL() time.Duration {
	if d.LockTTL > 0 {
		return d.LockTTL
	}
	return database.DefaultLockTTL
}

// storeErr marks busy and locked errors so callers treat them as transient.
func storeErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", database.ErrStoreBusy, err)
	}
	return err
}

func nanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
