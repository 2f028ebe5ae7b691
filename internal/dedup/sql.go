/*
Copyright (C) 2026  raftlog contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package dedup

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Backend is the storage contract Index satisfies. A cluster that wants the
// processed-batch/idempotence-key set queryable outside the raftlog process
// can swap in SQLIndex instead, which satisfies the same contract against an
// external MySQL or Postgres table.
type Backend interface {
	Seen(key string) bool
	InsertIfAbsent(key string) (bool, error)
	Close() error
}

var _ Backend = (*Index)(nil)
var _ Backend = (*SQLIndex)(nil)

// SQLDriver names the external-table backend SQLIndex speaks.
type SQLDriver string

const (
	MySQL    SQLDriver = "mysql"
	Postgres SQLDriver = "postgres"
)

// SQLConfig configures the external-table dedup backend.
type SQLConfig struct {
	Driver SQLDriver
	DSN    string
	// Table defaults to "raftlog_dedup_keys" if unset.
	Table string
}

// SQLIndex is a Backend backed by a single-column external SQL table instead
// of the local append-only file Index uses. Every InsertIfAbsent is one
// conditional insert; Seen is a point lookup. There is no in-memory mirror,
// so every call round-trips to the database — this backend trades latency
// for making the processed-key set queryable/auditable from outside the
// process, which the file-backed Index cannot offer.
type SQLIndex struct {
	db     *sql.DB
	table  string
	driver SQLDriver
}

// OpenSQL opens (or creates) cfg.Table on the database at cfg.DSN.
func OpenSQL(cfg SQLConfig) (*SQLIndex, error) {
	if cfg.Table == "" {
		cfg.Table = "raftlog_dedup_keys"
	}
	if cfg.Driver != MySQL && cfg.Driver != Postgres {
		return nil, fmt.Errorf("dedup: unsupported sql driver %q", cfg.Driver)
	}
	db, err := sql.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("dedup: open %s: %w", cfg.Driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dedup: ping %s: %w", cfg.Driver, err)
	}
	idx := &SQLIndex{db: db, table: cfg.Table, driver: cfg.Driver}
	if err := idx.ensureTable(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLIndex) ensureTable() error {
	var ddl string
	switch s.driver {
	case MySQL:
		ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (dedup_key VARCHAR(255) PRIMARY KEY)", s.table)
	case Postgres:
		ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (dedup_key VARCHAR(255) PRIMARY KEY)", s.table)
	}
	_, err := s.db.Exec(ddl)
	if err != nil {
		return fmt.Errorf("dedup: create table %s: %w", s.table, err)
	}
	return nil
}

// Seen reports whether key already has a row in the table.
func (s *SQLIndex) Seen(key string) bool {
	var placeholder = "?"
	if s.driver == Postgres {
		placeholder = "$1"
	}
	row := s.db.QueryRow(fmt.Sprintf("SELECT 1 FROM %s WHERE dedup_key = %s", s.table, placeholder), key)
	var one int
	return row.Scan(&one) == nil
}

// InsertIfAbsent inserts key, returning true only if this call created the
// row (mirrors Index.InsertIfAbsent's "newly added" semantics).
func (s *SQLIndex) InsertIfAbsent(key string) (bool, error) {
	var stmt string
	switch s.driver {
	case MySQL:
		stmt = fmt.Sprintf("INSERT IGNORE INTO %s (dedup_key) VALUES (?)", s.table)
	case Postgres:
		stmt = fmt.Sprintf("INSERT INTO %s (dedup_key) VALUES ($1) ON CONFLICT (dedup_key) DO NOTHING", s.table)
	}
	res, err := s.db.Exec(stmt, key)
	if err != nil {
		return false, fmt.Errorf("dedup: insert %s: %w", s.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup: rows affected: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying *sql.DB's connection pool.
func (s *SQLIndex) Close() error {
	return s.db.Close()
}
