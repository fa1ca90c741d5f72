package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopify_sync_v1/internal/model"
)

// ==================== 接口定义 ====================

// StoreRepository 店铺仓储接口
type StoreRepository interface {
	Create(ctx context.Context, store *model.Store) error
	GetByID(ctx context.Context, id int64) (*model.Store, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.Store, error)
	GetByDomain(ctx context.Context, domain string) (*model.Store, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	Delete(ctx context.Context, id int64) error

	// 列表查询
	List(ctx context.Context, filter StoreFilter) ([]model.Store, int64, error)
	ListActive(ctx context.Context) ([]model.Store, error)

	// 仓库
	ListLocations(ctx context.Context, storeID int64) ([]model.StoreLocation, error)
	ReplaceLocations(ctx context.Context, storeID int64, locations []model.StoreLocation) error
}

// ==================== 过滤条件 ====================

// StoreFilter 店铺过滤条件
type StoreFilter struct {
	Keyword  string
	IsActive *bool // nil 表示不筛选
	Page     int
	PageSize int
}

// ==================== 仓储实现 ====================

type storeRepo struct {
	db *gorm.DB
}

// NewStoreRepository 创建店铺仓储
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepo{db: db}
}

func (r *storeRepo) Create(ctx context.Context, store *model.Store) error {
	return r.db.WithContext(ctx).Omit("Locations").Create(store).Error
}

func (r *storeRepo) GetByID(ctx context.Context, id int64) (*model.Store, error) {
	var store model.Store
	if err := r.db.WithContext(ctx).First(&store, id).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepo) GetByIDs(ctx context.Context, ids []int64) ([]model.Store, error) {
	var stores []model.Store
	if len(ids) == 0 {
		return stores, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&stores).Error
	return stores, err
}

func (r *storeRepo) GetByDomain(ctx context.Context, domain string) (*model.Store, error) {
	var store model.Store
	if err := r.db.WithContext(ctx).Where("domain = ?", domain).First(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

func (r *storeRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.Store{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *storeRepo) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.Store{}, id).Error
}

func (r *storeRepo) List(ctx context.Context, filter StoreFilter) ([]model.Store, int64, error) {
	var stores []model.Store
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Store{})

	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		query = query.Where("name LIKE ? OR domain LIKE ?", like, like)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
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
		Order("id ASC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&stores).Error

	return stores, total, err
}

func (r *storeRepo) ListActive(ctx context.Context) ([]model.Store, error) {
	var stores []model.Store
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&stores).Error
	return stores, err
}

func (r *storeRepo) ListLocations(ctx context.Context, storeID int64) ([]model.StoreLocation, error) {
	var locs []model.StoreLocation
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("id ASC").
		Find(&locs).Error
	return locs, err
}

// ReplaceLocations 以远端结果为准刷新仓库缓存
// 远端已不存在的仓库标记为不活跃，而不是删除
func (r *storeRepo) ReplaceLocations(ctx context.Context, storeID int64, locations []model.StoreLocation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remoteIDs := make([]string, 0, len(locations))
		for i := range locations {
			locations[i].StoreID = storeID
			remoteIDs = append(remoteIDs, locations[i].RemoteID)
		}

		deactivate := tx.Model(&model.StoreLocation{}).Where("store_id = ?", storeID)
		if len(remoteIDs) > 0 {
			deactivate = deactivate.Where("remote_id NOT IN ?", remoteIDs)
		}
		if err := deactivate.Update("is_active", false).Error; err != nil {
			return err
		}

		if len(locations) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "store_id"}, {Name: "remote_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "is_active", "updated_at"}),
			}).Create(&locations).Error; err != nil {
				return err
			}
		}

		now := time.Now()
		return tx.Model(&model.Store{}).
			Where("id = ?", storeID).
			Update("locations_synced_at", &now).Error
	})
}
