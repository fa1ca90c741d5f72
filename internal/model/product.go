package model

import (
	"sort"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"shopify_sync_v1/internal/ledger"
)

// ProductStatus 本地商品状态
type ProductStatus string

const (
	ProductStatusDraft     ProductStatus = "draft"
	ProductStatusPublished ProductStatus = "published"
)

// Shopify 远端状态
const (
	RemoteStatusActive   = "ACTIVE"
	RemoteStatusDraft    = "DRAFT"
	RemoteStatusArchived = "ARCHIVED"
)

// RemoteStatus 本地状态映射为 Shopify 状态
func (s ProductStatus) RemoteStatus() string {
	if s == ProductStatusPublished {
		return RemoteStatusActive
	}
	return RemoteStatusDraft
}

type Product struct {
	BaseModel

	// --- 身份 ---
	UniqueReferenceCode string `gorm:"size:100;uniqueIndex;not null"`

	// --- 描述信息 ---
	Title       string         `gorm:"size:255;not null"`
	Description string         `gorm:"type:text"`
	Vendor      string         `gorm:"size:255"`
	ProductType string         `gorm:"size:255"`
	Tags        pq.StringArray `gorm:"type:text[]"`
	Status      ProductStatus  `gorm:"size:20;default:'draft';index"`

	// --- 目标店铺 ---
	StoreID  int64         `gorm:"index"` // 旧版单店铺字段，仅作兜底
	StoreIDs pq.Int64Array `gorm:"type:bigint[]"`

	// 商品图 + 变体图的并集，每次变更后重建
	AllImageURLs pq.StringArray `gorm:"column:all_image_urls;type:text[]"`

	// --- 每店铺映射 (key = storeId) ---
	ShopifyProductIDs datatypes.JSON `gorm:"type:jsonb"` // storeId -> gid
	ShopifyHandles    datatypes.JSON `gorm:"type:jsonb"` // storeId -> handle
	ShopifyStatuses   datatypes.JSON `gorm:"type:jsonb"` // storeId -> ACTIVE/DRAFT/ARCHIVED
	SyncStatuses      datatypes.JSON `gorm:"type:jsonb"` // storeId -> not_synced/synced/failed
	SyncErrors        datatypes.JSON `gorm:"type:jsonb"` // storeId -> error text
	SyncStates        datatypes.JSON `gorm:"type:jsonb"` // storeId -> ledger.SyncState

	// --- 关联关系 ---
	Options  []ProductOption  `gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Variants []ProductVariant `gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Images   []ProductImage   `gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (Product) TableName() string {
	return "products"
}

func (p *Product) RemoteProductIDs() ledger.Map[string] {
	return ledger.MustDecode[string](p.ShopifyProductIDs)
}

func (p *Product) RemoteHandles() ledger.Map[string] {
	return ledger.MustDecode[string](p.ShopifyHandles)
}

func (p *Product) States() ledger.Map[ledger.SyncState] {
	return ledger.MustDecode[ledger.SyncState](p.SyncStates)
}

// RemoteProductID 指定店铺的远端商品 ID
func (p *Product) RemoteProductID(storeID int64) string {
	id, _ := p.RemoteProductIDs().Get(storeID)
	return id
}

// HasStore 是否已在目标店铺列表中
func (p *Product) HasStore(storeID int64) bool {
	for _, id := range p.StoreIDs {
		if id == storeID {
			return true
		}
	}
	return false
}

// RebuildImageURLs 重建 AllImageURLs (商品图在前，按 DisplayOrder；变体图在后)
func (p *Product) RebuildImageURLs() {
	images := make([]ProductImage, len(p.Images))
	copy(images, p.Images)
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].DisplayOrder < images[j].DisplayOrder
	})

	seen := make(map[string]struct{})
	urls := make([]string, 0, len(images)+len(p.Variants))
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, img := range images {
		if img.VariantID == nil {
			add(img.SourceURL())
		}
	}
	for _, img := range images {
		if img.VariantID != nil {
			add(img.SourceURL())
		}
	}
	for _, v := range p.Variants {
		add(v.ImageURL)
	}
	p.AllImageURLs = urls
}

// ==================== 规格 ====================

type ProductOption struct {
	BaseModel
	ProductID        int64                `gorm:"index;not null"`
	Name             string               `gorm:"size:100;not null"`
	Position         int                  `gorm:"default:0"` // 决定远端选项顺序
	ShopifyOptionIDs datatypes.JSON       `gorm:"type:jsonb"`
	Values           []ProductOptionValue `gorm:"foreignKey:OptionID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (ProductOption) TableName() string {
	return "product_options"
}

// SortedValues 按 Position 排序的规格值
func (o *ProductOption) SortedValues() []ProductOptionValue {
	values := make([]ProductOptionValue, len(o.Values))
	copy(values, o.Values)
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].Position < values[j].Position
	})
	return values
}

type ProductOptionValue struct {
	BaseModel
	OptionID              int64          `gorm:"index;not null"`
	Value                 string         `gorm:"size:255;not null"`
	Position              int            `gorm:"default:0"`
	ShopifyOptionValueIDs datatypes.JSON `gorm:"type:jsonb"`
}

func (ProductOptionValue) TableName() string {
	return "product_option_values"
}

// ==================== 变体 ====================

type ProductVariant struct {
	BaseModel

	// --- 关联 ---
	ProductID int64    `gorm:"uniqueIndex:idx_variant_ordinal;not null"`
	Product   *Product `gorm:"foreignKey:ProductID"`

	// 变体序号 (从 1 开始)，参与 SKU 派生，创建后不变
	Ordinal int `gorm:"uniqueIndex:idx_variant_ordinal"`

	// --- 销售数据 ---
	SKU            string              `gorm:"size:100;index"`
	Title          string              `gorm:"size:255"`
	Price          decimal.Decimal     `gorm:"type:decimal(12,2)"`
	CompareAtPrice decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	StockQuantity  int                 `gorm:"default:0"`
	ImageURL       string              `gorm:"size:1024"`

	// --- 每店铺映射 ---
	ShopifyVariantIDs datatypes.JSON `gorm:"type:jsonb"`
	InventoryItemIDs  datatypes.JSON `gorm:"type:jsonb"`
	ShopifyMediaIDs   datatypes.JSON `gorm:"type:jsonb"`
	StoreSpecificSKUs datatypes.JSON `gorm:"column:store_specific_skus;type:jsonb"`
	SyncStatuses      datatypes.JSON `gorm:"type:jsonb"`

	VariantOptions []ProductVariantOption `gorm:"foreignKey:VariantID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (ProductVariant) TableName() string {
	return "product_variants"
}

func (v *ProductVariant) RemoteVariantIDs() ledger.Map[string] {
	return ledger.MustDecode[string](v.ShopifyVariantIDs)
}

func (v *ProductVariant) RemoteInventoryItemIDs() ledger.Map[string] {
	return ledger.MustDecode[string](v.InventoryItemIDs)
}

func (v *ProductVariant) RemoteMediaIDs() ledger.Map[string] {
	return ledger.MustDecode[string](v.ShopifyMediaIDs)
}

func (v *ProductVariant) StoreSKUs() ledger.Map[string] {
	return ledger.MustDecode[string](v.StoreSpecificSKUs)
}

// IsSyncedAnywhere 是否在任一店铺存在远端变体
func (v *ProductVariant) IsSyncedAnywhere() bool {
	for _, id := range v.RemoteVariantIDs() {
		if id != "" {
			return true
		}
	}
	return false
}

// ProductVariantOption 变体与规格值的关联 (join)
type ProductVariantOption struct {
	ID            int64               `gorm:"primaryKey;autoIncrement"`
	VariantID     int64               `gorm:"uniqueIndex:idx_variant_option_value;not null"`
	OptionValueID int64               `gorm:"uniqueIndex:idx_variant_option_value;not null"`
	OptionValue   *ProductOptionValue `gorm:"foreignKey:OptionValueID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (ProductVariantOption) TableName() string {
	return "product_variant_options"
}

// ==================== 图片 ====================

type ProductImage struct {
	BaseModel

	// --- 关联关系 ---
	ProductID int64  `gorm:"index;not null"`
	VariantID *int64 `gorm:"index"` // nil 表示商品级图片

	// --- 资源地址 ---
	OriginalURL string `gorm:"size:1024"`
	EnhancedURL string `gorm:"size:1024"`

	DisplayOrder int  `gorm:"default:0"`
	IsPrimary    bool `gorm:"default:false"`

	ShopifyMediaIDs datatypes.JSON `gorm:"type:jsonb"`
}

func (ProductImage) TableName() string {
	return "product_images"
}

// SourceURL 优先使用增强后的图片
func (i *ProductImage) SourceURL() string {
	if i.EnhancedURL != "" {
		return i.EnhancedURL
	}
	return i.OriginalURL
}

// ==================== 库存台账 ====================

// ProductLocation (变体, 店铺, 仓库) 维度的库存快照，只读模型
type ProductLocation struct {
	BaseModel
	ProductID     int64  `gorm:"index;not null"`
	VariantID     int64  `gorm:"uniqueIndex:idx_variant_store_location;not null"`
	VariantSKU    string `gorm:"size:100"`
	StoreID       int64  `gorm:"uniqueIndex:idx_variant_store_location;not null"`
	LocationID    string `gorm:"size:100;uniqueIndex:idx_variant_store_location;not null"`
	LocationName  string `gorm:"size:255"`
	StockQuantity int    `gorm:"default:0"`
}

func (ProductLocation) TableName() string {
	return "product_locations"
}

// AllModels 自动迁移使用
func AllModels() []interface{} {
	return []interface{}{
		&Store{}, &StoreLocation{},
		&Product{}, &ProductOption{}, &ProductOptionValue{},
		&ProductVariant{}, &ProductVariantOption{},
		&ProductImage{}, &ProductLocation{},
	}
}
