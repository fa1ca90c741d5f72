package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"shopify_sync_v1/internal/api/dto"
	"shopify_sync_v1/internal/event"
	"shopify_sync_v1/internal/ledger"
	"shopify_sync_v1/internal/model"
)

func TestZeroInventory_LastVariantArchivesProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := env.seedStore(t, "S1")

	p, err := env.svc.CreateProduct(ctx, dto.CreateProductReq{
		UniqueReferenceCode: "SOLO",
		Title:               "Mug",
		Vendor:              "Cool Co",
		Status:              "published",
		StoreID:             s1.ID,
		Price:               decimal.NewFromInt(12),
		StockQuantity:       3,
	})
	require.NoError(t, err)
	res, err := env.sync.SyncProduct(ctx, p.ID, SyncRequest{})
	require.NoError(t, err)
	remoteID := res.Results[0].RemoteProductID

	require.NoError(t, env.svc.OnVariantStockChanged(ctx, p.Variants[0].ID, 0))
	env.zero.Wait()

	// 远端转为草稿，变体保留
	assert.GreaterOrEqual(t, env.api.indexOf(s1.ID, "setProductStatus", remoteID, model.RemoteStatusDraft), 0)
	assert.Equal(t, model.RemoteStatusDraft, env.api.remote(s1.ID, remoteID).Status)
	assert.Equal(t, 0, env.api.count(s1.ID, "deleteVariant"))

	graph := env.graph(t, p.ID)
	assert.Equal(t, model.ProductStatusDraft, graph.Status)
	require.Len(t, graph.Variants, 1)
	assert.Equal(t, 0, graph.Variants[0].StockQuantity)
	assert.Equal(t, model.RemoteStatusDraft, ledger.MustDecode[string](graph.ShopifyStatuses)[ledger.Key(s1.ID)])

	assert.Contains(t, env.publisher.types(), event.TypeProductPaused)
}

func TestZeroInventory_PrunesNonLastVariant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := env.seedStore(t, "S1")
	s2 := env.seedStore(t, "S2")
	p := createShirt(t, env, "P1", 0)

	res, err := env.sync.SyncProduct(ctx, p.ID, SyncRequest{StoreIDs: []int64{s1.ID, s2.ID}})
	require.NoError(t, err)
	require.Equal(t, "2/2", res.Summary())

	graph := env.graph(t, p.ID)
	target, sibling := graph.Variants[0], graph.Variants[1]
	remote1, _ := target.RemoteVariantIDs().Get(s1.ID)
	remote2, _ := target.RemoteVariantIDs().Get(s2.ID)
	product1, _ := graph.RemoteProductIDs().Get(s1.ID)
	product2, _ := graph.RemoteProductIDs().Get(s2.ID)

	// 一个店铺删除失败不影响其它店铺
	env.api.failDelete[s2.ID] = errors.New("throttled")

	require.NoError(t, env.svc.OnVariantStockChanged(ctx, target.ID, 0))
	env.zero.Wait()

	assert.GreaterOrEqual(t, env.api.indexOf(s1.ID, "deleteVariant", product1, remote1), 0)
	assert.GreaterOrEqual(t, env.api.indexOf(s2.ID, "deleteVariant", product2, remote2), 0)
	assert.Len(t, env.api.remote(s1.ID, product1).Variants, 1)
	assert.Equal(t, 0, env.api.count(s1.ID, "setProductStatus"))

	_, err = env.products.GetVariant(ctx, target.ID)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	_, err = env.products.GetVariant(ctx, sibling.ID)
	assert.NoError(t, err)

	after := env.graph(t, p.ID)
	assert.Equal(t, model.ProductStatusPublished, after.Status)
	assert.Len(t, after.Variants, 1)

	locs, err := env.products.ListLocations(ctx, p.ID)
	require.NoError(t, err)
	for _, l := range locs {
		assert.Equal(t, sibling.ID, l.VariantID)
	}

	assert.Contains(t, env.publisher.types(), event.TypeVariantPruned)
}

func TestZeroInventory_UnsyncedVariantDeletedLocally(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := createShirt(t, env, "P1", 0)

	require.NoError(t, env.svc.OnVariantStockChanged(ctx, p.Variants[1].ID, 0))
	env.zero.Wait()

	assert.Equal(t, 0, env.api.callCount())
	count, err := env.products.CountVariants(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestZeroInventory_HandleRequiresProduct(t *testing.T) {
	env := newTestEnv(t)
	err := env.zero.Handle(context.Background(), &model.ProductVariant{})
	assert.Error(t, err)
}

func TestOnVariantStockChanged_PushesQuantity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := env.seedStore(t, "S1")
	p := createShirt(t, env, "P1", s1.ID)

	_, err := env.sync.SyncProduct(ctx, p.ID, SyncRequest{})
	require.NoError(t, err)

	v := env.graph(t, p.ID).Variants[0]
	item, _ := v.RemoteInventoryItemIDs().Get(s1.ID)

	require.NoError(t, env.svc.OnVariantStockChanged(ctx, v.ID, 7))
	assert.GreaterOrEqual(t, env.api.indexOf(s1.ID, "set", item, mainLocation, "7"), 0)

	after, err := env.products.GetVariant(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, after.StockQuantity)

	locs, err := env.products.ListLocations(ctx, p.ID)
	require.NoError(t, err)
	for _, l := range locs {
		if l.VariantID == v.ID {
			assert.Equal(t, 7, l.StockQuantity)
		} else {
			assert.Equal(t, 5, l.StockQuantity)
		}
	}
}

func TestOnVariantStockChanged_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.svc.OnVariantStockChanged(ctx, 1, -1)
	assert.Equal(t, KindValidation, KindOf(err))

	err = env.svc.OnVariantStockChanged(ctx, 12345, 3)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, errors.Is(err, ErrVariantNotFound))
}

func TestZeroInventory_SiblingsZeroedTogetherKeepOneVariant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := env.seedStore(t, "S1")
	p := createShirt(t, env, "PAIR", 0)

	res, err := env.sync.SyncProduct(ctx, p.ID, SyncRequest{StoreIDs: []int64{s1.ID}})
	require.NoError(t, err)
	remoteID := res.Results[0].RemoteProductID

	// 两个变体先后归零，后台处理并发启动
	require.NoError(t, env.svc.OnVariantStockChanged(ctx, p.Variants[0].ID, 0))
	require.NoError(t, env.svc.OnVariantStockChanged(ctx, p.Variants[1].ID, 0))
	env.zero.Wait()

	graph := env.graph(t, p.ID)
	require.Len(t, graph.Variants, 1)
	assert.Equal(t, model.ProductStatusDraft, graph.Status)
	assert.Equal(t, 1, env.api.count(s1.ID, "deleteVariant"))
	assert.Equal(t, model.RemoteStatusDraft, env.api.remote(s1.ID, remoteID).Status)

	count, err := env.products.CountVariants(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
