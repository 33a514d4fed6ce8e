package blobstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "digestfanout/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	ns  string
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, ns: strings.TrimSpace(cfg.Namespace)}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.Provision(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Provision applies the embedded schema. It is idempotent.
func (s *sqliteStore) Provision(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) List(ctx context.Context, q Query) ([]Ref, error) {
	var (
		rows *sql.Rows
		err  error
	)
	switch {
	case q.Name != "":
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name FROM blobs WHERE namespace = ? AND name = ?`, s.ns, q.Name)
	case q.Prefix != "":
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name FROM blobs WHERE namespace = ? AND substr(name, 1, ?) = ? ORDER BY name`,
			s.ns, len(q.Prefix), q.Prefix)
	default:
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, name FROM blobs WHERE namespace = ? ORDER BY name`, s.ns)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ref
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Get(ctx context.Context, id string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM blobs WHERE namespace = ? AND id = ?`, s.ns, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *sqliteStore) Create(ctx context.Context, name string, body []byte) (Ref, error) {
	if err := validName(name); err != nil {
		return Ref{}, err
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs(id, namespace, name, body, created_at, updated_at) VALUES(?,?,?,?,?,?)`,
		id, s.ns, name, body, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Ref{}, ErrExists
		}
		return Ref{}, err
	}
	return Ref{ID: id, Name: name}, nil
}

func (s *sqliteStore) Update(ctx context.Context, id string, body []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE blobs SET body = ?, updated_at = ? WHERE namespace = ? AND id = ?`,
		body, now, s.ns, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Append(ctx context.Context, name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs(id, namespace, name, body, created_at, updated_at) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(namespace, name) DO UPDATE SET body = CAST(body || excluded.body AS BLOB), updated_at = excluded.updated_at`,
		uuid.NewString(), s.ns, name, data, now, now)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
