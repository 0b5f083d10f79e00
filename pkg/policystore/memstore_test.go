package policystore_test

import (
	"context"
	"testing"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policy"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policyHRN(id string) hrn.HRN {
	return hrn.New("p", "policy", "acct1", "policy", id)
}

func TestMemStore_LifecycleProperty(t *testing.T) {
	ctx := context.Background()
	s := policystore.NewMemStore(nil)

	p := &policy.Policy{HRN: policyHRN("p1"), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=bucket/photos)"}
	require.NoError(t, s.Create(ctx, p))

	got, err := s.Get(ctx, policyHRN("p1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, p.SourceText, got.SourceText)

	updated, err := s.Update(ctx, policyHRN("p1"), "forbid(action=read, resource=bucket/photos)", nil, "newhash", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)

	got2, err := s.Get(ctx, policyHRN("p1"))
	require.NoError(t, err)
	assert.Equal(t, "forbid(action=read, resource=bucket/photos)", got2.SourceText)

	require.NoError(t, s.Delete(ctx, policyHRN("p1"), false))
	_, err = s.Get(ctx, policyHRN("p1"))
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.KindOf(err))

	require.NoError(t, s.Create(ctx, p))
	_, err = s.Get(ctx, policyHRN("p1"))
	require.NoError(t, err)
}

func TestMemStore_MonotonicVersioning(t *testing.T) {
	ctx := context.Background()
	s := policystore.NewMemStore(nil)
	p := &policy.Policy{HRN: policyHRN("p2"), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=*)"}
	require.NoError(t, s.Create(ctx, p))

	var lastVersion uint64 = 1
	for i := 0; i < 5; i++ {
		updated, err := s.Update(ctx, policyHRN("p2"), "permit(action=read, resource=*)", nil, "hash", lastVersion)
		require.NoError(t, err)
		assert.Greater(t, updated.Version, lastVersion)
		lastVersion = updated.Version
	}
}

func TestMemStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := policystore.NewMemStore(nil)
	p := &policy.Policy{HRN: policyHRN("p3"), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=*)"}
	require.NoError(t, s.Create(ctx, p))

	_, err := s.Update(ctx, policyHRN("p3"), "x", nil, "hash", 99)
	require.Error(t, err)
	assert.Equal(t, apierr.VersionConflict, apierr.KindOf(err))
}

func TestMemStore_CreateDuplicateRejected(t *testing.T) {
	ctx := context.Background()
	s := policystore.NewMemStore(nil)
	p := &policy.Policy{HRN: policyHRN("p4"), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=*)"}
	require.NoError(t, s.Create(ctx, p))

	err := s.Create(ctx, p)
	require.Error(t, err)
	assert.Equal(t, apierr.AlreadyExists, apierr.KindOf(err))
}

type alwaysInUse struct{}

func (alwaysInUse) InUse(h hrn.HRN) (bool, error) { return true, nil }

func TestMemStore_DeleteBlockedWhenInUse(t *testing.T) {
	ctx := context.Background()
	s := policystore.NewMemStore(alwaysInUse{})
	p := &policy.Policy{HRN: policyHRN("p5"), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=*)"}
	require.NoError(t, s.Create(ctx, p))

	err := s.Delete(ctx, policyHRN("p5"), false)
	require.Error(t, err)
	assert.Equal(t, apierr.InUse, apierr.KindOf(err))

	require.NoError(t, s.Delete(ctx, policyHRN("p5"), true))
}

func TestMemStore_WatchEmitsMutations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := policystore.NewMemStore(nil)
	ch, err := s.Watch(ctx)
	require.NoError(t, err)

	p := &policy.Policy{HRN: policyHRN("p6"), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=*)"}
	require.NoError(t, s.Create(ctx, p))

	ev := <-ch
	assert.Equal(t, policy.MutationCreated, ev.Kind)
	assert.Equal(t, policyHRN("p6"), ev.HRN)
}

func TestMemStore_ListPagination(t *testing.T) {
	ctx := context.Background()
	s := policystore.NewMemStore(nil)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(ctx, &policy.Policy{HRN: policyHRN(id), Kind: policy.KindIdentity, SourceText: "permit(action=read, resource=*)"}))
	}

	page1, cursor, err := s.List(ctx, policystore.Filter{}, "", 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.NotEmpty(t, cursor)

	page2, cursor2, err := s.List(ctx, policystore.Filter{}, cursor, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)
	assert.Empty(t, cursor2)
}
