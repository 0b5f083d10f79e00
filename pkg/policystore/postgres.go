package policystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
)

// PostgresStore is a durable Store backed by Postgres. CompiledForm is not
// persisted — only source_text, compiled_hash, kind, and version; a node
// restart recompiles from source_text via the PolicyLanguage collaborator,
// since recompilation is pure and deterministic (§4.4).
type PostgresStore struct {
	db    *sql.DB
	inUse InUseChecker
}

// Open connects to Postgres at dsn and returns a PostgresStore. Callers own
// the returned *sql.DB's lifecycle via Close.
func Open(dsn string, inUse InUseChecker) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("policystore: failed to open connection: %w", err)
	}
	return &PostgresStore{db: db, inUse: inUse}, nil
}

// NewPostgresStore wraps an already-opened *sql.DB. Exposed primarily for
// injecting a sqlmock-backed *sql.DB in tests.
func NewPostgresStore(db *sql.DB, inUse InUseChecker) *PostgresStore {
	return &PostgresStore{db: db, inUse: inUse}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS policies (
	hrn            TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	source_text    TEXT NOT NULL,
	compiled_hash  TEXT NOT NULL,
	version        BIGINT NOT NULL,
	schema_version BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS policy_mutations (
	seq        BIGSERIAL PRIMARY KEY,
	hrn        TEXT NOT NULL,
	kind       TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the store's schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: migration failed", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, p *policy.Policy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: begin tx", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM policies WHERE hrn = $1)`, p.HRN.String()).Scan(&exists); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: existence check failed", err)
	}
	if exists {
		return apierr.New(apierr.AlreadyExists, fmt.Sprintf("policy %s already exists", p.HRN))
	}

	p.Version = 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO policies (hrn, kind, source_text, compiled_hash, version, schema_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		p.HRN.String(), string(p.Kind), p.SourceText, p.CompiledHash, p.Version, p.SchemaVersion)
	if err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: insert failed", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO policy_mutations (hrn, kind) VALUES ($1, $2)`, p.HRN.String(), string(policy.MutationCreated)); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: mutation log insert failed", err)
	}

	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: commit failed", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, h hrn.HRN) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, source_text, compiled_hash, version, schema_version, created_at, updated_at
		 FROM policies WHERE hrn = $1`, h.String())

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

func (s *PostgresStore) Update(ctx context.Context, h hrn.HRN, sourceText string, compiledForm policy.CompiledForm, compiledHash string, expectedVersion uint64) (*policy.Policy, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: begin tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE policies SET source_text = $1, compiled_hash = $2, version = version + 1, updated_at = now()
		 WHERE hrn = $3 AND version = $4`,
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
		_ = tx.QueryRowContext(ctx, `SELECT version FROM policies WHERE hrn = $1`, h.String()).Scan(&currentVersion)
		if !currentVersion.Valid {
			return nil, apierr.New(apierr.NotFound, fmt.Sprintf("policy %s not found", h))
		}
		return nil, apierr.New(apierr.VersionConflict, fmt.Sprintf("policy %s: expected version %d, found %d", h, expectedVersion, currentVersion.Int64))
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO policy_mutations (hrn, kind) VALUES ($1, $2)`, h.String(), string(policy.MutationUpdated)); err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: mutation log insert failed", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierr.Wrap(apierr.Transient, "policystore: commit failed", err)
	}

	return s.Get(ctx, h)
}

func (s *PostgresStore) Delete(ctx context.Context, h hrn.HRN, force bool) error {
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

	res, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE hrn = $1`, h.String())
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

	if _, err := tx.ExecContext(ctx, `INSERT INTO policy_mutations (hrn, kind) VALUES ($1, $2)`, h.String(), string(policy.MutationDeleted)); err != nil {
		return apierr.Wrap(apierr.Transient, "policystore: mutation log insert failed", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) List(ctx context.Context, filter Filter, cursor string, limit int) ([]*policy.Policy, string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT hrn, kind, source_text, compiled_hash, version, schema_version, created_at, updated_at
	           FROM policies WHERE hrn > $1`
	args := []any{cursor}
	argN := 2
	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argN)
		args = append(args, string(filter.Kind))
		argN++
	}
	query += fmt.Sprintf(" ORDER BY hrn ASC LIMIT $%d", argN)
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

// Watch is not supported by the Postgres backend directly: mutation
// propagation crosses nodes via the invalidation bus's external transport
// (Redis), not by polling this table. Callers composing a PostgresStore
// with cross-node invalidation should publish through invalidation.Bus
// themselves after each successful write.
func (s *PostgresStore) Watch(ctx context.Context) (<-chan policy.MutationEvent, error) {
	return nil, apierr.New(apierr.Validation, "policystore: PostgresStore does not support Watch; use the invalidation bus for cross-node propagation")
}

var _ Store = (*PostgresStore)(nil)
