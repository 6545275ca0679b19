package store

import (
	"bidwatch/internal/registry"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

type SQLiteOptions struct {
	// Path is a local database file, ":memory:" keeps it in memory.
	Path string `json:"path"`
	// Url points at a remote libsql server, it takes precedence over Path.
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// SQLite stores keys and the session snapshot in a sqlite database, either a
// local file or a remote libsql one.
type SQLite struct {
	db *sql.DB
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

func openDB(opts SQLiteOptions) (*sql.DB, error) {
	if opts.Url != "" {
		values := url.Values{}
		if opts.AuthToken != "" {
			values.Add("authToken", opts.AuthToken)
		}
		dsn := opts.Url
		if len(values) > 0 {
			dsn += "?" + values.Encode()
		}
		return sql.Open("libsql", dsn)
	}

	path := opts.Path
	if path == "" {
		path = "state/bidwatch.db"
	}
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0777)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite only supports a single writer, see
	// https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func OpenSQLite(ctx context.Context, opts SQLiteOptions) (SQLite, error) {
	db, err := openDB(opts)
	if err != nil {
		return SQLite{}, wrapOpenDB(err)
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			db.Close()
			return SQLite{}, wrapOpenDB(fmt.Errorf("apply schema: %w", err))
		}
	}
	return SQLite{db: db}, nil
}

func (s SQLite) LoadSession(ctx context.Context) (registry.Snapshot, bool, error) {
	var snapshot registry.Snapshot
	var savedAt int64
	err := s.db.QueryRowContext(
		ctx,
		"select csrf_token, captcha_text, cookie_header, saved_at from session_snapshot where id = 1",
	).Scan(&snapshot.CsrfToken, &snapshot.CaptchaText, &snapshot.CookieHeader, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Snapshot{}, false, nil
	}
	if err != nil {
		return registry.Snapshot{}, false, err
	}
	snapshot.Timestamp = time.UnixMilli(savedAt)
	return snapshot, true, nil
}

func (s SQLite) SaveSession(ctx context.Context, snapshot registry.Snapshot) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into session_snapshot(id, csrf_token, captcha_text, cookie_header, saved_at)
		values (1, ?, ?, ?, ?)
		on conflict(id) do update set
			csrf_token = excluded.csrf_token,
			captcha_text = excluded.captcha_text,
			cookie_header = excluded.cookie_header,
			saved_at = excluded.saved_at`,
		snapshot.CsrfToken,
		snapshot.CaptchaText,
		snapshot.CookieHeader,
		snapshot.Timestamp.UnixMilli(),
	)
	return err
}

func (s SQLite) HasKey(ctx context.Context, key string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, "select 1 from dedup_key where key = ?", key).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s SQLite) PutKey(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "insert into dedup_key(key) values (?) on conflict(key) do nothing", key)
	return err
}

func (s SQLite) DeleteKeys(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, key := range keys {
		_, err := tx.ExecContext(ctx, "delete from dedup_key where key = ?", key)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "select key from dedup_key order by key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLite) Close() error {
	return s.db.Close()
}
