package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopify_sync_v1/internal/model"
)

func seedStore(t *testing.T, repo StoreRepository, code string, active bool) *model.Store {
	t.Helper()
	s := &model.Store{
		Name:        "Store " + code,
		Domain:      code + ".myshopify.com",
		AccessToken: "shpat_" + code,
		StoreCode:   code,
		IsActive:    active,
	}
	require.NoError(t, repo.Create(context.Background(), s))
	return s
}

func TestStoreRepo_GetByIDsAndDomain(t *testing.T) {
	repo := NewStoreRepository(setupRepoTestDB(t))
	ctx := context.Background()
	a := seedStore(t, repo, "a", true)
	b := seedStore(t, repo, "b", true)
	seedStore(t, repo, "c", true)

	stores, err := repo.GetByIDs(ctx, []int64{a.ID, b.ID, 999})
	require.NoError(t, err)
	assert.Len(t, stores, 2)

	empty, err := repo.GetByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	got, err := repo.GetByDomain(ctx, "b.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestStoreRepo_ListAndActive(t *testing.T) {
	repo := NewStoreRepository(setupRepoTestDB(t))
	ctx := context.Background()
	seedStore(t, repo, "east", true)
	seedStore(t, repo, "west", true)
	off := seedStore(t, repo, "old", true)
	require.NoError(t, repo.UpdateFields(ctx, off.ID, map[string]interface{}{"is_active": false}))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	inactive := false
	list, total, err := repo.List(ctx, StoreFilter{IsActive: &inactive})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "old", list[0].StoreCode)

	_, total, err = repo.List(ctx, StoreFilter{Keyword: "west"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestStoreRepo_ReplaceLocations(t *testing.T) {
	repo := NewStoreRepository(setupRepoTestDB(t))
	ctx := context.Background()
	s := seedStore(t, repo, "a", true)

	require.NoError(t, repo.ReplaceLocations(ctx, s.ID, []model.StoreLocation{
		{RemoteID: "L1", Name: "One", IsActive: true},
		{RemoteID: "L2", Name: "Two", IsActive: true},
	}))
	require.NoError(t, repo.ReplaceLocations(ctx, s.ID, []model.StoreLocation{
		{RemoteID: "L2", Name: "Two Renamed", IsActive: true},
	}))

	locs, err := repo.ListLocations(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "L1", locs[0].RemoteID)
	assert.False(t, locs[0].IsActive)
	assert.Equal(t, "Two Renamed", locs[1].Name)
	assert.True(t, locs[1].IsActive)

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LocationsSyncedAt)
}
