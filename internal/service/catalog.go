package service

import (
	"context"

	"go.uber.org/zap"

	"shopify_sync_v1/internal/ledger"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/pkg/shopify"
)

// ==================== 远端目录接口 ====================

// CatalogAPI 远端商品目录 (由 *shopify.Client 实现，测试中替换为假实现)
type CatalogAPI interface {
	CreateProduct(ctx context.Context, s shopify.Session, in shopify.ProductInput, media []shopify.MediaInput) (*shopify.ProductResult, error)
	UpdateProduct(ctx context.Context, s shopify.Session, productID string, in shopify.ProductInput) (*shopify.ProductResult, error)
	SetProductStatus(ctx context.Context, s shopify.Session, productID, status string) error
	GetProductDetails(ctx context.Context, s shopify.Session, productID string) (*shopify.ProductDetails, error)
	UpdateProductOption(ctx context.Context, s shopify.Session, productID, optionID, name string, position int, addValues []string) ([]shopify.RemoteOption, error)

	CreateVariants(ctx context.Context, s shopify.Session, productID string, variants []shopify.VariantInput, removeStandalone bool) (*shopify.VariantsResult, error)
	UpdateVariants(ctx context.Context, s shopify.Session, productID string, variants []shopify.VariantInput) ([]shopify.UpdatedVariant, error)
	DeleteVariant(ctx context.Context, s shopify.Session, productID, variantID string) error

	CreateMedia(ctx context.Context, s shopify.Session, productID string, media []shopify.MediaInput) (*shopify.MediaResult, error)
	GetMediaStatus(ctx context.Context, s shopify.Session, productID string) ([]shopify.Media, error)
	AttachMediaToVariants(ctx context.Context, s shopify.Session, productID string, links []shopify.VariantMedia) error
	DetachMediaFromVariants(ctx context.Context, s shopify.Session, productID string, links []shopify.VariantMedia) error
	DeleteMedia(ctx context.Context, s shopify.Session, productID string, mediaIDs []string) error

	EnableInventoryTracking(ctx context.Context, s shopify.Session, inventoryItemID string) error
	ActivateInventoryAtLocation(ctx context.Context, s shopify.Session, inventoryItemID, locationID string) error
	SetInventoryQuantity(ctx context.Context, s shopify.Session, inventoryItemID, locationID string, quantity int) error
	GetLocations(ctx context.Context, s shopify.Session) ([]shopify.Location, error)
}

var _ CatalogAPI = (*shopify.Client)(nil)

// SessionFor 店铺凭证
func SessionFor(store *model.Store) shopify.Session {
	return shopify.Session{StoreID: store.ID, Domain: store.Domain, AccessToken: store.AccessToken}
}

// ==================== 台账累积 ====================

// ledgerBatch 一次同步中所有实体的映射修改，最后每个实体只写一次
type ledgerBatch struct {
	product   *repository.ProductMapUpdate
	variants  map[int64]*repository.VariantMapUpdate
	options   map[int64]*ledger.Update[string]
	values    map[int64]*ledger.Update[string]
	images    map[int64]*ledger.Update[string]
	locations []model.ProductLocation
}

func newLedgerBatch() *ledgerBatch {
	return &ledgerBatch{
		product:  repository.NewProductMapUpdate(),
		variants: map[int64]*repository.VariantMapUpdate{},
		options:  map[int64]*ledger.Update[string]{},
		values:   map[int64]*ledger.Update[string]{},
		images:   map[int64]*ledger.Update[string]{},
	}
}

func (b *ledgerBatch) variant(id int64) *repository.VariantMapUpdate {
	u, ok := b.variants[id]
	if !ok {
		u = repository.NewVariantMapUpdate()
		b.variants[id] = u
	}
	return u
}

func updateFor(m map[int64]*ledger.Update[string], id int64) *ledger.Update[string] {
	u, ok := m[id]
	if !ok {
		u = ledger.NewUpdate[string]()
		m[id] = u
	}
	return u
}

func (b *ledgerBatch) option(id int64) *ledger.Update[string] { return updateFor(b.options, id) }
func (b *ledgerBatch) value(id int64) *ledger.Update[string]  { return updateFor(b.values, id) }
func (b *ledgerBatch) image(id int64) *ledger.Update[string]  { return updateFor(b.images, id) }

// flush 每个实体一次 read-merge-write
func (b *ledgerBatch) flush(ctx context.Context, repo repository.ProductRepository, productID int64) error {
	if err := repo.ApplyMapUpdate(ctx, productID, b.product); err != nil {
		return err
	}
	for id, u := range b.options {
		if u.Empty() {
			continue
		}
		if err := repo.ApplyOptionIDs(ctx, id, u); err != nil {
			return err
		}
	}
	for id, u := range b.values {
		if u.Empty() {
			continue
		}
		if err := repo.ApplyOptionValueIDs(ctx, id, u); err != nil {
			return err
		}
	}
	for id, u := range b.variants {
		if u.Empty() {
			continue
		}
		if err := repo.ApplyVariantMapUpdate(ctx, id, u); err != nil {
			return err
		}
	}
	for id, u := range b.images {
		if u.Empty() {
			continue
		}
		if err := repo.ApplyImageMediaIDs(ctx, id, u); err != nil {
			return err
		}
	}
	for i := range b.locations {
		if err := repo.UpsertLocation(ctx, &b.locations[i]); err != nil {
			return err
		}
	}
	return nil
}

// ==================== 单店铺同步上下文 ====================

// storeRun 一个商品在一个店铺上的同步过程
type storeRun struct {
	store     *model.Store
	session   shopify.Session
	locations []model.StoreLocation // 事务外预先解析

	product    *model.Product
	projection Projection
	skus       map[int64]string // variantID -> 店铺 SKU

	batch  *ledgerBatch
	result *StoreResult
	log    *zap.Logger
}

func (r *storeRun) storeID() int64 { return r.store.ID }

// remoteProductID 本次同步中已写入的优先，其次是库里已有的
func (r *storeRun) remoteProductID() string {
	if id, ok := r.batch.product.ProductIDs.Pending(r.storeID()); ok {
		return id
	}
	return r.product.RemoteProductID(r.storeID())
}

func (r *storeRun) remoteVariantID(v *model.ProductVariant) string {
	if u, ok := r.batch.variants[v.ID]; ok {
		if id, ok := u.VariantIDs.Pending(r.storeID()); ok {
			return id
		}
	}
	id, _ := v.RemoteVariantIDs().Get(r.storeID())
	return id
}

func (r *storeRun) inventoryItemID(v *model.ProductVariant) string {
	if u, ok := r.batch.variants[v.ID]; ok {
		if id, ok := u.InventoryItemIDs.Pending(r.storeID()); ok {
			return id
		}
	}
	id, _ := v.RemoteInventoryItemIDs().Get(r.storeID())
	return id
}

func (r *storeRun) variantMediaID(v *model.ProductVariant) string {
	if u, ok := r.batch.variants[v.ID]; ok {
		if id, ok := u.MediaIDs.Pending(r.storeID()); ok {
			return id
		}
	}
	id, _ := v.RemoteMediaIDs().Get(r.storeID())
	return id
}

func (r *storeRun) imageMediaID(img *model.ProductImage) string {
	if u, ok := r.batch.images[img.ID]; ok {
		if id, ok := u.Pending(r.storeID()); ok {
			return id
		}
	}
	id, _ := ledger.MustDecode[string](img.ShopifyMediaIDs).Get(r.storeID())
	return id
}
