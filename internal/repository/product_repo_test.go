package repository

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shopify_sync_v1/internal/ledger"
	"shopify_sync_v1/internal/model"
)

func setupRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}
	return db
}

// seedProduct 一个商品 + 两个变体
func seedProduct(t *testing.T, repo ProductRepository, ref string, storeID int64) *model.Product {
	t.Helper()
	ctx := context.Background()
	p := &model.Product{
		UniqueReferenceCode: ref,
		Title:               "Shirt " + ref,
		Status:              model.ProductStatusDraft,
		StoreID:             storeID,
	}
	require.NoError(t, repo.Create(ctx, p))

	variants := []model.ProductVariant{
		{ProductID: p.ID, Ordinal: 1, Title: "S", Price: decimal.NewFromInt(10)},
		{ProductID: p.ID, Ordinal: 2, Title: "M", Price: decimal.NewFromInt(10)},
	}
	require.NoError(t, repo.CreateVariants(ctx, variants))
	p.Variants = variants
	return p
}

func TestProductRepo_ApplyMapUpdateKeepsOtherStores(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, repo, "P1", 0)

	first := NewProductMapUpdate()
	first.ProductIDs.Set(1, "gid://shopify/Product/1")
	first.SetState(1, ledger.Synced("gid://shopify/Product/1", "shirt"))
	first.ProductIDs.Set(2, "gid://shopify/Product/2")
	require.NoError(t, repo.ApplyMapUpdate(ctx, p.ID, first))

	// 第二次只触及店铺 2
	second := NewProductMapUpdate()
	second.ProductIDs.Delete(2)
	second.SetState(2, ledger.Failed("boom", p.CreatedAt))
	require.NoError(t, repo.ApplyMapUpdate(ctx, p.ID, second))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	ids := got.RemoteProductIDs()
	assert.Equal(t, ledger.Map[string]{"1": "gid://shopify/Product/1"}, ids)

	statuses := ledger.MustDecode[string](got.SyncStatuses)
	assert.Equal(t, "synced", statuses["1"])
	assert.Equal(t, "failed", statuses["2"])

	errs := ledger.MustDecode[string](got.SyncErrors)
	assert.False(t, errs.Has(1))
	assert.Equal(t, "boom", errs["2"])

	assert.True(t, ledger.StateOf(got.States(), 1).IsSynced())
	assert.True(t, ledger.StateOf(got.States(), 2).IsFailed())
}

func TestProductRepo_ApplyVariantMapUpdateMergesTwice(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, repo, "P1", 0)
	vid := p.Variants[0].ID

	first := NewVariantMapUpdate()
	first.VariantIDs.Set(1, "gid://shopify/ProductVariant/11")
	first.StoreSKUs.Set(1, "SKU-S1")
	require.NoError(t, repo.ApplyVariantMapUpdate(ctx, vid, first))

	// 第二次合并读取的是第一次写入的列值
	second := NewVariantMapUpdate()
	second.VariantIDs.Set(2, "gid://shopify/ProductVariant/21")
	second.StoreSKUs.Set(2, "SKU-S2")
	second.MediaIDs.Set(2, "gid://shopify/MediaImage/5")
	require.NoError(t, repo.ApplyVariantMapUpdate(ctx, vid, second))

	third := NewVariantMapUpdate()
	third.StoreSKUs.Delete(1)
	require.NoError(t, repo.ApplyVariantMapUpdate(ctx, vid, third))

	got, err := repo.GetVariant(ctx, vid)
	require.NoError(t, err)
	assert.Equal(t, ledger.Map[string]{"2": "SKU-S2"}, got.StoreSKUs())
	assert.Equal(t, ledger.Map[string]{
		"1": "gid://shopify/ProductVariant/11",
		"2": "gid://shopify/ProductVariant/21",
	}, got.RemoteVariantIDs())
	assert.Equal(t, ledger.Map[string]{"2": "gid://shopify/MediaImage/5"}, got.RemoteMediaIDs())

	var raw string
	require.NoError(t, db.Table("product_variants").Select("store_specific_skus").Where("id = ?", vid).Row().Scan(&raw))
	assert.JSONEq(t, `{"2":"SKU-S2"}`, raw)

	// 兄弟变体未受影响
	sibling, err := repo.GetVariant(ctx, p.Variants[1].ID)
	require.NoError(t, err)
	assert.Empty(t, sibling.StoreSKUs())
}

func TestProductRepo_ApplyVariantMapUpdateMissingVariant(t *testing.T) {
	repo := NewProductRepository(setupRepoTestDB(t))
	upd := NewVariantMapUpdate()
	upd.StoreSKUs.Set(1, "SKU")
	err := repo.ApplyVariantMapUpdate(context.Background(), 999, upd)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestProductRepo_ListIDsBySyncStatus(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	ok := seedProduct(t, repo, "OK", 0)
	bad := seedProduct(t, repo, "BAD", 0)
	bad2 := seedProduct(t, repo, "BAD2", 0)
	seedProduct(t, repo, "NEW", 0)

	mark := func(id int64, kind string) {
		upd := NewProductMapUpdate()
		upd.SyncStatuses.Set(1, "synced")
		upd.SyncStatuses.Set(2, kind)
		require.NoError(t, repo.ApplyMapUpdate(ctx, id, upd))
	}
	mark(ok.ID, "synced")
	mark(bad.ID, "failed")
	mark(bad2.ID, "failed")

	ids, err := repo.ListIDsBySyncStatus(ctx, ledger.KindFailed, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{bad.ID, bad2.ID}, ids)

	ids, err = repo.ListIDsBySyncStatus(ctx, ledger.KindFailed, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{bad.ID}, ids)
}

func TestProductRepo_AddStoreIDs(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, repo, "P1", 0)

	require.NoError(t, repo.AddStoreIDs(ctx, p.ID, []int64{3, 1}))
	require.NoError(t, repo.AddStoreIDs(ctx, p.ID, []int64{1, 2}))

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, pq.Int64Array{3, 1, 2}, got.StoreIDs)
}

func TestProductRepo_ReplaceImagesKeepsVariantImages(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, repo, "P1", 0)
	vid := p.Variants[0].ID

	require.NoError(t, repo.CreateImages(ctx, []model.ProductImage{
		{ProductID: p.ID, OriginalURL: "a.jpg", DisplayOrder: 1},
		{ProductID: p.ID, VariantID: &vid, OriginalURL: "v.jpg"},
	}))
	require.NoError(t, repo.ReplaceImages(ctx, p.ID, []model.ProductImage{{OriginalURL: "b.jpg", DisplayOrder: 1}}))

	graph, err := repo.GetGraph(ctx, p.ID)
	require.NoError(t, err)
	urls := map[string]bool{}
	for _, img := range graph.Images {
		urls[img.OriginalURL] = true
	}
	assert.Equal(t, map[string]bool{"b.jpg": true, "v.jpg": true}, urls)

	// 变体图片替换
	require.NoError(t, repo.ReplaceVariantImage(ctx, p.ID, vid, "v2.jpg"))
	graph, err = repo.GetGraph(ctx, p.ID)
	require.NoError(t, err)
	var variantURLs []string
	for _, img := range graph.Images {
		if img.VariantID != nil {
			variantURLs = append(variantURLs, img.OriginalURL)
		}
	}
	assert.Equal(t, []string{"v2.jpg"}, variantURLs)
}

func TestProductRepo_UpsertLocation(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, repo, "P1", 0)
	vid := p.Variants[0].ID

	loc := &model.ProductLocation{ProductID: p.ID, VariantID: vid, StoreID: 1, LocationID: "L1", StockQuantity: 5}
	require.NoError(t, repo.UpsertLocation(ctx, loc))
	again := &model.ProductLocation{ProductID: p.ID, VariantID: vid, StoreID: 1, LocationID: "L1", StockQuantity: 9}
	require.NoError(t, repo.UpsertLocation(ctx, again))

	locs, err := repo.ListLocations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, 9, locs[0].StockQuantity)
}

func TestProductRepo_HardDeleteVariant(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, repo, "P1", 0)
	target, sibling := p.Variants[0].ID, p.Variants[1].ID

	require.NoError(t, repo.UpsertLocation(ctx, &model.ProductLocation{ProductID: p.ID, VariantID: target, StoreID: 1, LocationID: "L1"}))
	require.NoError(t, repo.UpsertLocation(ctx, &model.ProductLocation{ProductID: p.ID, VariantID: sibling, StoreID: 1, LocationID: "L1"}))

	require.NoError(t, repo.HardDeleteVariant(ctx, target))

	count, err := repo.CountVariants(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var raw int64
	require.NoError(t, db.Unscoped().Model(&model.ProductVariant{}).Where("id = ?", target).Count(&raw).Error)
	assert.Zero(t, raw)

	locs, err := repo.ListLocations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, sibling, locs[0].VariantID)
}

func TestProductRepo_HardDeleteVariantTwice(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	p := seedProduct(t, repo, "P1", 0)

	require.NoError(t, repo.HardDeleteVariant(ctx, p.Variants[0].ID))
	assert.ErrorIs(t, repo.HardDeleteVariant(ctx, p.Variants[0].ID), gorm.ErrRecordNotFound)

	// 同一个仓库实例连续删除，条件不会串到下一次
	require.NoError(t, repo.HardDeleteVariant(ctx, p.Variants[1].ID))
	count, err := repo.CountVariants(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestProductRepo_ListFilters(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()
	seedProduct(t, repo, "A", 1)
	seedProduct(t, repo, "B", 2)
	c := seedProduct(t, repo, "C", 2)
	require.NoError(t, repo.UpdateFields(ctx, c.ID, map[string]interface{}{"status": model.ProductStatusPublished}))

	list, total, err := repo.List(ctx, ProductFilter{StoreID: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	list, total, err = repo.List(ctx, ProductFilter{Status: model.ProductStatusPublished})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, c.ID, list[0].ID)

	_, total, err = repo.List(ctx, ProductFilter{Keyword: "shirt a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestProductRepo_TransactionRollback(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewProductRepository(db)
	ctx := context.Background()

	err := repo.Transaction(ctx, func(tx ProductRepository) error {
		p := &model.Product{UniqueReferenceCode: "TX", Title: "Tx"}
		if err := tx.Create(ctx, p); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = repo.GetByReferenceCode(ctx, "TX")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
