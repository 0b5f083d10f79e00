package policystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(policyHRN("p1").String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO policies`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO policy_mutations`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store := policystore.NewPostgresStore(db, nil)
	p := &policy.Policy{HRN: policyHRN("p1"), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=*)"}
	require.NoError(t, store.Create(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs(policyHRN("p1").String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := policystore.NewPostgresStore(db, nil)
	p := &policy.Policy{HRN: policyHRN("p1"), Kind: policy.KindIdentity}
	err = store.Create(context.Background(), p)
	require.Error(t, err)
	require.Equal(t, apierr.AlreadyExists, apierr.KindOf(err))
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT kind, source_text`).WithArgs(policyHRN("ghost").String()).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "source_text", "compiled_hash", "version", "schema_version", "created_at", "updated_at"}))

	store := policystore.NewPostgresStore(db, nil)
	_, err = store.Get(context.Background(), policyHRN("ghost"))
	require.Error(t, err)
	require.Equal(t, apierr.NotFound, apierr.KindOf(err))
}

func TestPostgresStore_UpdateVersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE policies`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM policies`).WithArgs(policyHRN("p1").String()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))

	store := policystore.NewPostgresStore(db, nil)
	_, err = store.Update(context.Background(), policyHRN("p1"), "x", nil, "hash", 1)
	require.Error(t, err)
	require.Equal(t, apierr.VersionConflict, apierr.KindOf(err))
}

func TestPostgresStore_Get_RoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT kind, source_text`).WithArgs(policyHRN("p1").String()).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "source_text", "compiled_hash", "version", "schema_version", "created_at", "updated_at"}).
			AddRow("Identity", "permit(action=read, resource=*)", "abc123", int64(1), int64(1), now, now))

	store := policystore.NewPostgresStore(db, nil)
	got, err := store.Get(context.Background(), policyHRN("p1"))
	require.NoError(t, err)
	require.Equal(t, policy.KindIdentity, got.Kind)
	require.Equal(t, uint64(1), got.Version)
}
