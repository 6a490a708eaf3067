package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "botox/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// One connection: pragmas below are per connection and the bot writes
	// from a handful of goroutines at most.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	pragmas := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Warn("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	version, err := st.migrate(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate %s: %w", path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Int("schema", version))
	return st, nil
}

// migrate applies every embedded migration above PRAGMA user_version, each in
// its own transaction, and returns the resulting version. Files are applied
// in name order; the Nth file moves the schema to version N.
func (s *sqliteStore) migrate(ctx context.Context) (int, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return 0, err
	}
	sort.Strings(names)

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, err
	}
	if version > len(names) {
		return version, fmt.Errorf("database schema %d is newer than this build (%d)", version, len(names))
	}
	for i := version; i < len(names); i++ {
		body, err := migrationsFS.ReadFile(names[i])
		if err != nil {
			return version, err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return version, err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return version, fmt.Errorf("%s: %w", names[i], err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return version, err
		}
		if err := tx.Commit(); err != nil {
			return version, err
		}
		version = i + 1
		s.log.Info("schema migrated", logx.String("file", names[i]), logx.Int("version", version))
	}
	return version, nil
}

func (s *sqliteStore) RecordCommand(ctx context.Context, r CommandRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	if r.Outcome == "" {
		r.Outcome = OutcomeOK
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_log(at_ms, req_id, channel, sender, command, args, outcome, error, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.At.UnixMilli(), optional(r.ReqID), optional(r.Channel), r.Sender,
		r.Command, optional(r.Args), r.Outcome, optional(r.Error), r.TookMS,
	)
	return s.wrap(err)
}

func (s *sqliteStore) MarkSpoken(ctx context.Context, key LineKey, until time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spoken_line(line_key, until_ms) VALUES(?,?)
		 ON CONFLICT(line_key) DO UPDATE SET until_ms = excluded.until_ms`,
		key[:], until.UnixMilli(),
	)
	return s.wrap(err)
}

func (s *sqliteStore) SpokenUntil(ctx context.Context, key LineKey) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until_ms FROM spoken_line WHERE line_key = ?`, key[:]).Scan(&ms)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, s.wrap(err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) PruneSpoken(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM spoken_line WHERE until_ms <= ?`, now.UnixMilli())
	if err != nil {
		return 0, s.wrap(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// wrap maps the database/sql "closed" error to ErrClosed.
func (s *sqliteStore) wrap(err error) error {
	if err != nil && strings.Contains(err.Error(), "sql: database is closed") {
		return ErrClosed
	}
	return err
}

func optional(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
