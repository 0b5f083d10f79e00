package policystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
)

// SQLiteStore is a durable Store backed by an embedded, CGo-free sqlite
// database (modernc.org/sqlite) — the single-node/CLI/test deployment
// shape the spec's DOMAIN STACK calls out alongside PostgresStore, for a
// node that wants durability across restarts without standing up a
// Postgres instance. Schema and semantics mirror PostgresStore exactly;
// only the placeholder syntax and driver name differ.
type SQLiteStore struct {
	db    *sql.DB
	inUse InUseChecker
}

// OpenSQLite opens (creating if absent) a sqlite database file at path and
// returns a SQLiteStore. Callers own the returned *sql.DB's lifecycle via
// Close.
func OpenSQLite(path string, inUse InUseChecker) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("policystore: failed to open sqlite connection: %w", err)
	}
	return &SQLiteStore{db: db, inUse: inUse}, nil
}

// NewSQLiteStore wraps an already-opened *sql.DB.
func NewSQLiteStore(db *sql.DB, inUse InUseChecker) *SQLiteStore {
	return &SQLiteStore{db: db, inUse: inUse}
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteSchemaDDL = `
CREATE TABLE IF NOT EXISTS policies (
	hrn            TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	source_text    TEXT NOT NULL,
	compiled_hash  TEXT NOT NULL,
	version        INTEGER NOT NULL,
	schema_version INTEGER NOT NULL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS policy_mutations (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	hrn         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Migrate applies the store's schema. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchemaDDL)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: sqlite migration failed", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, p *policy.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: begin tx", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM policies WHERE hrn = ?)`, p.HRN.String()).Scan(&exists); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: existence check failed", err)
	}
	if exists {
		return apierr.New(apierr.AlreadyExists, fmt.Sprintf("policy %s already exists", p.HRN))
	}

	p.Version = 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO policies (hrn, kind, source_text, compiled_hash, version, schema_version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		p.HRN.String(), string(p.Kind), p.SourceText, p.CompiledHash, p.Version, p.SchemaVersion)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: insert failed", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO policy_mutations (hrn, kind) VALUES (?, ?)`, p.HRN.String(), string(policy.MutationCreated)); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: mutation log insert failed", err)
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: commit failed", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, h hrn.HRN) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, source_text, compiled_hash, version, schema_version, created_at, updated_at
		 FROM policies WHERE hrn = ?`, h.String())

	p := &policy.Policy{HRN: h}
	var kind string
	if err := row.Scan(&kind, &p.SourceText, &p.CompiledHash, &p.Version, &p.SchemaVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.New(apierr.NotFound, fmt.Sprintf("policy %s not found", h))
		}
		return nil, apierr.Wrap(apierr.Transient, "policystore: get failed", err)
	}
	p.Kind = policy.Kind(kind)
	return p, nil
}

func (s *SQLiteStore) Update(ctx context.Context, h hrn.HRN, sourceText string, compiledForm policy.CompiledForm, compiledHash string, expectedVersion uint64) (*policy.Policy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE policies SET source_text = ?, compiled_hash = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE hrn = ? AND version = ?`,
		sourceText, compiledHash, h.String(), expectedVersion)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: update failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: rows affected check failed", err)
	}
	if n == 0 {
		var currentVersion sql.NullInt64
		_ = tx.QueryRowContext(ctx, `SELECT version FROM policies WHERE hrn = ?`, h.String()).Scan(&currentVersion)
		if !currentVersion.Valid {
			return nil, apierr.New(apierr.NotFound, fmt.Sprintf("policy %s not found", h))
		}
		return nil, apierr.New(apierr.VersionConflict, fmt.Sprintf("policy %s: expected version %d, found %d", h, expectedVersion, currentVersion.Int64))
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO policy_mutations (hrn, kind) VALUES (?, ?)`, h.String(), string(policy.MutationUpdated)); err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: mutation log insert failed", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: commit failed", err)
	}

	return s.Get(ctx, h)
}

func (s *SQLiteStore) Delete(ctx context.Context, h hrn.HRN, force bool) error {
	if !force && s.inUse != nil {
		inUse, err := s.inUse.InUse(h)
		if err != nil {
			return apierr.Wrap(apierr.Transient, "policystore: in-use check failed", err)
		}
		if inUse {
			return apierr.New(apierr.InUse, fmt.Sprintf("policy %s is still referenced; detach first or delete with force", h))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE hrn = ?`, h.String())
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: delete failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: rows affected check failed", err)
	}
	if n == 0 {
		return apierr.New(apierr.NotFound, fmt.Sprintf("policy %s not found", h))
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO policy_mutations (hrn, kind) VALUES (?, ?)`, h.String(), string(policy.MutationDeleted)); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: mutation log insert failed", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter, cursor string, limit int) ([]*policy.Policy, string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT hrn, kind, source_text, compiled_hash, version, schema_version, created_at, updated_at
	           FROM policies WHERE hrn > ?`
	args := []any{cursor}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	query += " ORDER BY hrn ASC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", apierr.Wrap(apierr.Transient, "policystore: list failed", err)
	}
	defer rows.Close()

	var out []*policy.Policy
	for rows.Next() {
		var hstr, kind string
		p := &policy.Policy{}
		if err := rows.Scan(&hstr, &kind, &p.SourceText, &p.CompiledHash, &p.Version, &p.SchemaVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, "", apierr.Wrap(apierr.Transient, "policystore: scan failed", err)
		}
		parsed, err := hrn.Parse(hstr)
		if err != nil {
			return nil, "", apierr.Wrap(apierr.EngineInvariantViolation, "policystore: stored HRN failed to parse", err)
		}
		p.HRN = parsed
		p.Kind = policy.Kind(kind)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", apierr.Wrap(apierr.Transient, "policystore: row iteration failed", err)
	}

	next := ""
	if len(out) > limit {
		next = out[limit-1].HRN.String()
		out = out[:limit]
	}
	return out, next, nil
}

// Watch is not supported by the sqlite backend: this backend is meant for
// single-node deployments, where there is no cross-node invalidation to
// propagate in the first place.
func (s *SQLiteStore) Watch(ctx context.Context) (<-chan policy.MutationEvent, error) {
	return nil, apierr.New(apierr.Validation, "policystore: SQLiteStore does not support Watch; it targets single-node deployments")
}

var _ Store = (*SQLiteStore)(nil)
