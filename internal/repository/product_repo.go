package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopify_sync_v1/internal/ledger"
	"shopify_sync_v1/internal/model"
)

// ==================== 接口定义 ====================

// ProductRepository 商品仓储接口
type ProductRepository interface {
	// 基础 CRUD
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	GetByReferenceCode(ctx context.Context, code string) (*model.Product, error)
	GetGraph(ctx context.Context, id int64) (*model.Product, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error)
	ListIDsBySyncStatus(ctx context.Context, status ledger.StateKind, limit int) ([]int64, error)

	// 每店铺映射
	ApplyMapUpdate(ctx context.Context, productID int64, upd *ProductMapUpdate) error
	AddStoreIDs(ctx context.Context, productID int64, storeIDs []int64) error

	// 规格
	CreateOptions(ctx context.Context, options []model.ProductOption) error
	ApplyOptionIDs(ctx context.Context, optionID int64, upd *ledger.Update[string]) error
	ApplyOptionValueIDs(ctx context.Context, valueID int64, upd *ledger.Update[string]) error

	// 变体
	CreateVariants(ctx context.Context, variants []model.ProductVariant) error
	GetVariant(ctx context.Context, id int64) (*model.ProductVariant, error)
	CountVariants(ctx context.Context, productID int64) (int64, error)
	UpdateVariantFields(ctx context.Context, id int64, fields map[string]interface{}) error
	ApplyVariantMapUpdate(ctx context.Context, variantID int64, upd *VariantMapUpdate) error
	HardDeleteVariant(ctx context.Context, id int64) error

	// 图片
	CreateImages(ctx context.Context, images []model.ProductImage) error
	ReplaceImages(ctx context.Context, productID int64, images []model.ProductImage) error
	ApplyImageMediaIDs(ctx context.Context, imageID int64, upd *ledger.Update[string]) error
	ReplaceVariantImage(ctx context.Context, productID, variantID int64, url string) error

	// 库存台账
	UpsertLocation(ctx context.Context, loc *model.ProductLocation) error
	ListLocations(ctx context.Context, productID int64) ([]model.ProductLocation, error)

	// 事务
	WithTx(tx *gorm.DB) ProductRepository
	Transaction(ctx context.Context, fn func(txRepo ProductRepository) error) error
}

var errStopBatches = errors.New("stop batches")

// ==================== 过滤条件 ====================

// ProductFilter 商品过滤条件
type ProductFilter struct {
	StoreID  int64
	Status   model.ProductStatus
	Keyword  string
	Page     int
	PageSize int
}

// ==================== 仓储实现 ====================

type productRepo struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓储
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepo{db: db}
}

func (r *productRepo) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(product).Error
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) GetByReferenceCode(ctx context.Context, code string) (*model.Product, error) {
	var product model.Product
	if err := r.db.WithContext(ctx).Where("unique_reference_code = ?", code).First(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetGraph 加载完整商品图：规格/规格值/变体/变体规格/图片
func (r *productRepo) GetGraph(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	err := r.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Options.Values", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Variants", func(db *gorm.DB) *gorm.DB {
			return db.Order("ordinal ASC, id ASC")
		}).
		Preload("Variants.VariantOptions").
		Preload("Variants.VariantOptions.OptionValue").
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC, id ASC")
		}).
		First(&product, id).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *productRepo) List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Product{})

	if filter.StoreID > 0 {
		query = query.Where("store_id = ?", filter.StoreID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Keyword != "" {
		query = query.Where("LOWER(title) LIKE LOWER(?)", "%"+filter.Keyword+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	offset := (filter.Page - 1) * filter.PageSize
	err := query.
		Order("updated_at DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&products).Error

	return products, total, err
}

// ListIDsBySyncStatus 查找任一店铺处于指定状态的商品
// JSON 列在不同方言下的查询语法不一致，这里分批读取后在内存中过滤
func (r *productRepo) ListIDsBySyncStatus(ctx context.Context, status ledger.StateKind, limit int) ([]int64, error) {
	var (
		ids   []int64
		batch []model.Product
	)
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Select("id", "sync_statuses").
		Order("id ASC").
		FindInBatches(&batch, 200, func(tx *gorm.DB, _ int) error {
			for _, p := range batch {
				statuses := ledger.MustDecode[string](p.SyncStatuses)
				for _, s := range statuses {
					if s == string(status) {
						ids = append(ids, p.ID)
						break
					}
				}
				if limit > 0 && len(ids) >= limit {
					return errStopBatches
				}
			}
			return nil
		}).Error
	if err != nil && !errors.Is(err, errStopBatches) {
		return nil, err
	}
	return ids, nil
}

func (r *productRepo) ApplyMapUpdate(ctx context.Context, productID int64, upd *ProductMapUpdate) error {
	if upd == nil {
		return nil
	}
	return mergeJSONColumns(r.db.WithContext(ctx), model.Product{}.TableName(), productID, upd.columns())
}

// AddStoreIDs 合并目标店铺列表 (去重)
func (r *productRepo) AddStoreIDs(ctx context.Context, productID int64, storeIDs []int64) error {
	if len(storeIDs) == 0 {
		return nil
	}
	var p model.Product
	if err := r.db.WithContext(ctx).Select("id", "store_ids").First(&p, productID).Error; err != nil {
		return err
	}

	changed := false
	for _, id := range storeIDs {
		if !p.HasStore(id) {
			p.StoreIDs = append(p.StoreIDs, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", productID).
		Updates(map[string]interface{}{"store_ids": p.StoreIDs, "updated_at": time.Now()}).Error
}

// ==================== 规格 ====================

func (r *productRepo) CreateOptions(ctx context.Context, options []model.ProductOption) error {
	if len(options) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&options).Error
}

func (r *productRepo) ApplyOptionIDs(ctx context.Context, optionID int64, upd *ledger.Update[string]) error {
	return mergeJSONColumns(r.db.WithContext(ctx), model.ProductOption{}.TableName(), optionID,
		map[string]jsonMerger{"shopify_option_ids": upd})
}

func (r *productRepo) ApplyOptionValueIDs(ctx context.Context, valueID int64, upd *ledger.Update[string]) error {
	return mergeJSONColumns(r.db.WithContext(ctx), model.ProductOptionValue{}.TableName(), valueID,
		map[string]jsonMerger{"shopify_option_value_ids": upd})
}

// ==================== 变体 ====================

func (r *productRepo) CreateVariants(ctx context.Context, variants []model.ProductVariant) error {
	if len(variants) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Omit("Product").Create(&variants).Error
}

func (r *productRepo) GetVariant(ctx context.Context, id int64) (*model.ProductVariant, error) {
	var variant model.ProductVariant
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("VariantOptions").
		First(&variant, id).Error
	if err != nil {
		return nil, err
	}
	return &variant, nil
}

func (r *productRepo) CountVariants(ctx context.Context, productID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductVariant{}).
		Where("product_id = ?", productID).
		Count(&count).Error
	return count, err
}

func (r *productRepo) UpdateVariantFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.ProductVariant{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *productRepo) ApplyVariantMapUpdate(ctx context.Context, variantID int64, upd *VariantMapUpdate) error {
	if upd == nil {
		return nil
	}
	return mergeJSONColumns(r.db.WithContext(ctx), model.ProductVariant{}.TableName(), variantID, upd.columns())
}

// HardDeleteVariant 物理删除变体及其规格关联、变体图片、库存台账 (同一事务)
func (r *productRepo) HardDeleteVariant(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("variant_id = ?", id).Delete(&model.ProductVariantOption{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("variant_id = ?", id).Delete(&model.ProductImage{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("variant_id = ?", id).Delete(&model.ProductLocation{}).Error; err != nil {
			return err
		}
		res := tx.Unscoped().Where("id = ?", id).Delete(&model.ProductVariant{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// ==================== 图片 ====================

func (r *productRepo) CreateImages(ctx context.Context, images []model.ProductImage) error {
	if len(images) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&images).Error
}

// ReplaceImages 重建商品级图片，变体图片不受影响
func (r *productRepo) ReplaceImages(ctx context.Context, productID int64, images []model.ProductImage) error {
	if err := r.db.WithContext(ctx).Unscoped().
		Where("product_id = ? AND variant_id IS NULL", productID).
		Delete(&model.ProductImage{}).Error; err != nil {
		return err
	}
	for i := range images {
		images[i].ProductID = productID
	}
	return r.CreateImages(ctx, images)
}

func (r *productRepo) ApplyImageMediaIDs(ctx context.Context, imageID int64, upd *ledger.Update[string]) error {
	return mergeJSONColumns(r.db.WithContext(ctx), model.ProductImage{}.TableName(), imageID,
		map[string]jsonMerger{"shopify_media_ids": upd})
}

// ReplaceVariantImage 变体图片变更：旧图片行 (含远端媒体映射) 删除，按新地址重建
func (r *productRepo) ReplaceVariantImage(ctx context.Context, productID, variantID int64, url string) error {
	if err := r.db.WithContext(ctx).Unscoped().
		Where("variant_id = ?", variantID).
		Delete(&model.ProductImage{}).Error; err != nil {
		return err
	}
	if url == "" {
		return nil
	}
	vid := variantID
	return r.db.WithContext(ctx).Create(&model.ProductImage{
		ProductID:   productID,
		VariantID:   &vid,
		OriginalURL: url,
	}).Error
}

// ==================== 库存台账 ====================

func (r *productRepo) UpsertLocation(ctx context.Context, loc *model.ProductLocation) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "variant_id"}, {Name: "store_id"}, {Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"product_id", "variant_sku", "location_name", "stock_quantity", "updated_at",
		}),
	}).Create(loc).Error
}

func (r *productRepo) ListLocations(ctx context.Context, productID int64) ([]model.ProductLocation, error) {
	var locs []model.ProductLocation
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("variant_id ASC, store_id ASC, location_id ASC").
		Find(&locs).Error
	return locs, err
}

// ==================== 事务 ====================

func (r *productRepo) WithTx(tx *gorm.DB) ProductRepository {
	return &productRepo{db: tx}
}

func (r *productRepo) Transaction(ctx context.Context, fn func(txRepo ProductRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}
