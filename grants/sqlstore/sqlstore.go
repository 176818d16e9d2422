package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-provider/grants"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const grantColumns = "key, kind, subject_id, session_id, client_id, creation_time, expiration, consumed_time, data"

var _ grants.Store = (*Store)(nil)

// Store persists grants in a SQLite database. Times are stored as unix nanoseconds.
type Store struct {
	db      *sql.DB
	nowTime func() time.Time
}

type Option func(*Store)

func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.nowTime = now
	}
}

// Open opens (or creates) the database at dsn and applies pending migrations. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore.Open] %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[sqlstore.Open] pragma: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, nowTime: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("[sqlstore.runMigrations] sub filesystem: %w", err)
	}
	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("[sqlstore.runMigrations] goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("[sqlstore.runMigrations] apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (*grants.PersistedGrant, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+grantColumns+" FROM persisted_grants WHERE key = ? AND (expiration IS NULL OR expiration > ?)",
		key, s.nowTime().UnixNano())
	g, err := scanGrant(row)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore.Get] %w", err)
	}
	return g, nil
}

func (s *Store) Set(ctx context.Context, g *grants.PersistedGrant) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO persisted_grants (`+grantColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET
    kind = excluded.kind,
    subject_id = excluded.subject_id,
    session_id = excluded.session_id,
    client_id = excluded.client_id,
    creation_time = excluded.creation_time,
    expiration = excluded.expiration,
    consumed_time = excluded.consumed_time,
    data = excluded.data`,
		g.Key, string(g.Kind), g.SubjectID, g.SessionID, g.ClientID,
		g.CreationTime.UnixNano(), nullableTime(g.Expiration), nullableTime(g.ConsumedTime), g.Data)
	if err != nil {
		return fmt.Errorf("[sqlstore.Set] %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM persisted_grants WHERE key = ?", key); err != nil {
		return fmt.Errorf("[sqlstore.Remove] %w", err)
	}
	return nil
}

// Take deletes the row and returns it in one statement. An expired row is deleted but
// reported as not found.
func (s *Store) Take(ctx context.Context, key string) (*grants.PersistedGrant, error) {
	row := s.db.QueryRowContext(ctx, "DELETE FROM persisted_grants WHERE key = ? RETURNING "+grantColumns, key)
	g, err := scanGrant(row)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore.Take] %w", err)
	}
	if g.Expired(s.nowTime()) {
		return nil, errors.ErrNotFound
	}
	return g, nil
}

func (s *Store) GetAll(ctx context.Context, filter grants.Filter) ([]*grants.PersistedGrant, error) {
	where, args, err := filterClause(filter)
	if err != nil {
		return nil, err
	}
	where += " AND (expiration IS NULL OR expiration > ?)"
	args = append(args, s.nowTime().UnixNano())

	rows, err := s.db.QueryContext(ctx, "SELECT "+grantColumns+" FROM persisted_grants WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore.GetAll] %w", err)
	}
	defer rows.Close()

	out := make([]*grants.PersistedGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("[sqlstore.GetAll] %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) RemoveAll(ctx context.Context, filter grants.Filter) (int, error) {
	where, args, err := filterClause(filter)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM persisted_grants WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("[sqlstore.RemoveAll] %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) RemoveExpired(ctx context.Context, batchSize int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM persisted_grants WHERE key IN (
    SELECT key FROM persisted_grants
    WHERE expiration IS NOT NULL AND expiration <= ?
    ORDER BY expiration
    LIMIT ?
)`, s.nowTime().UnixNano(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("[sqlstore.RemoveExpired] %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func filterClause(f grants.Filter) (string, []any, error) {
	if err := f.Validate(); err != nil {
		return "", nil, err
	}
	var conds []string
	var args []any
	add := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	add("subject_id", f.SubjectID)
	add("client_id", f.ClientID)
	add("session_id", f.SessionID)
	add("kind", string(f.Kind))
	return strings.Join(conds, " AND "), args, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(row scanner) (*grants.PersistedGrant, error) {
	var (
		g                    grants.PersistedGrant
		kind                 string
		created              int64
		expiration, consumed sql.NullInt64
	)
	err := row.Scan(&g.Key, &kind, &g.SubjectID, &g.SessionID, &g.ClientID, &created, &expiration, &consumed, &g.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Kind = grants.Kind(kind)
	g.CreationTime = time.Unix(0, created).UTC()
	g.Expiration = fromNullable(expiration)
	g.ConsumedTime = fromNullable(consumed)
	return &g, nil
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
