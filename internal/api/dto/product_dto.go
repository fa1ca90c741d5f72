package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ==================== 请求 DTO ====================

// OptionReq 规格定义，Values 的顺序即 Position
type OptionReq struct {
	Name   string   `json:"name" binding:"required"`
	Values []string `json:"values" binding:"required,min=1"`
}

// ImageReq 图片：URL 与 Base64 二选一
type ImageReq struct {
	URL          string `json:"url"`
	Base64       string `json:"base64"`
	DisplayOrder int    `json:"display_order"`
	IsPrimary    bool   `json:"is_primary"`
}

// VariantReq 导入时的变体；Options 为 规格名 -> 规格值
type VariantReq struct {
	SKU            string            `json:"sku"`
	Title          string            `json:"title"`
	Price          decimal.Decimal   `json:"price"`
	CompareAtPrice *decimal.Decimal  `json:"compare_at_price"`
	StockQuantity  int               `json:"stock_quantity" binding:"gte=0"`
	ImageURL       string            `json:"image_url"`
	ImageBase64    string            `json:"image_base64"`
	Options        map[string]string `json:"options"`
}

// IngestProductReq 完整导入：商品 + 规格 + 变体 + 图片
type IngestProductReq struct {
	UniqueReferenceCode string       `json:"unique_reference_code" binding:"required"`
	Title               string       `json:"title" binding:"required,max=255"`
	Description         string       `json:"description"`
	Vendor              string       `json:"vendor"`
	ProductType         string       `json:"product_type"`
	Tags                []string     `json:"tags"`
	Status              string       `json:"status" binding:"omitempty,oneof=draft published"`
	StoreID             int64        `json:"store_id"`
	StoreIDs            []int64      `json:"store_ids"`
	Options             []OptionReq  `json:"options" binding:"dive"`
	Variants            []VariantReq `json:"variants" binding:"required,min=1,dive"`
	Images              []ImageReq   `json:"images"`
}

// CreateProductReq 按规格笛卡尔积生成变体
type CreateProductReq struct {
	UniqueReferenceCode string           `json:"unique_reference_code" binding:"required"`
	Title               string           `json:"title" binding:"required,max=255"`
	Description         string           `json:"description"`
	Vendor              string           `json:"vendor"`
	ProductType         string           `json:"product_type"`
	Tags                []string         `json:"tags"`
	Status              string           `json:"status" binding:"omitempty,oneof=draft published"`
	StoreID             int64            `json:"store_id"`
	StoreIDs            []int64          `json:"store_ids"`
	Price               decimal.Decimal  `json:"price"`
	CompareAtPrice      *decimal.Decimal `json:"compare_at_price"`
	StockQuantity       int              `json:"stock_quantity" binding:"gte=0"`
	Options             []OptionReq      `json:"options" binding:"max=3,dive"`
	Images              []ImageReq       `json:"images"`
}

// VariantUpdateReq 变体局部更新，nil 表示不修改
type VariantUpdateReq struct {
	ID             int64            `json:"id" binding:"required"`
	Price          *decimal.Decimal `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price"`
	StockQuantity  *int             `json:"stock_quantity" binding:"omitempty,gte=0"`
	ImageURL       *string          `json:"image_url"`
}

// UpdateProductReq 商品局部更新；Images 非 nil 时整体替换商品级图片
type UpdateProductReq struct {
	Title       *string            `json:"title" binding:"omitempty,max=255"`
	Description *string            `json:"description"`
	Vendor      *string            `json:"vendor"`
	ProductType *string            `json:"product_type"`
	Tags        []string           `json:"tags"`
	Status      *string            `json:"status" binding:"omitempty,oneof=draft published"`
	Images      []ImageReq         `json:"images"`
	Variants    []VariantUpdateReq `json:"variants" binding:"dive"`
	Remote      *RemoteConfig      `json:"remote"`
}

// StoreTargetReq 目标店铺 + 可选仓库
type StoreTargetReq struct {
	StoreID    int64  `json:"store_id" binding:"required"`
	LocationID string `json:"location_id"`
}

// SyncReq 同步目标：stores > store_ids + location_id > store_id > 商品自身 store_id
type SyncReq struct {
	Stores     []StoreTargetReq `json:"stores" binding:"dive"`
	StoreIDs   []int64          `json:"store_ids"`
	StoreID    *int64           `json:"store_id"`
	LocationID string           `json:"location_id"`
}

// RemoteConfig 更新后立即同步
type RemoteConfig struct {
	SyncReq
}

// BulkSyncReq 批量同步
type BulkSyncReq struct {
	ProductIDs []int64 `json:"product_ids" binding:"required,min=1"`
	SyncReq
}

// StockUpdateReq 变体库存写入
type StockUpdateReq struct {
	Quantity *int `json:"quantity" binding:"required,gte=0"`
}

// ProductListReq 商品列表
type ProductListReq struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	StoreID  int64  `form:"store_id"`
	Status   string `form:"status"`
	Keyword  string `form:"keyword"`
}

// ==================== 响应 DTO ====================

type OptionResp struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Position int      `json:"position"`
	Values   []string `json:"values"`
}

type VariantResp struct {
	ID                int64             `json:"id"`
	Ordinal           int               `json:"ordinal"`
	SKU               string            `json:"sku"`
	Title             string            `json:"title"`
	Price             decimal.Decimal   `json:"price"`
	CompareAtPrice    *decimal.Decimal  `json:"compare_at_price,omitempty"`
	StockQuantity     int               `json:"stock_quantity"`
	ImageURL          string            `json:"image_url,omitempty"`
	StoreSKUs         map[string]string `json:"store_specific_skus"`
	ShopifyVariantIDs map[string]string `json:"shopify_variant_ids"`
	SyncStatuses      map[string]string `json:"sync_statuses"`
}

type ImageResp struct {
	ID           int64  `json:"id"`
	VariantID    *int64 `json:"variant_id,omitempty"`
	URL          string `json:"url"`
	DisplayOrder int    `json:"display_order"`
	IsPrimary    bool   `json:"is_primary"`
}

type ProductResp struct {
	ID                  int64             `json:"id"`
	UniqueReferenceCode string            `json:"unique_reference_code"`
	Title               string            `json:"title"`
	Description         string            `json:"description"`
	Vendor              string            `json:"vendor"`
	ProductType         string            `json:"product_type"`
	Tags                []string          `json:"tags"`
	Status              string            `json:"status"`
	StoreIDs            []int64           `json:"store_ids"`
	AllImageURLs        []string          `json:"all_image_urls"`
	ShopifyProductIDs   map[string]string `json:"shopify_product_ids"`
	ShopifyHandles      map[string]string `json:"shopify_handles"`
	SyncStatuses        map[string]string `json:"sync_statuses"`
	Options             []OptionResp      `json:"options,omitempty"`
	Variants            []VariantResp     `json:"variants,omitempty"`
	Images              []ImageResp       `json:"images,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

type ProductListResp struct {
	List     []ProductResp `json:"list"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// StoreSyncStatus 单店铺同步状态
type StoreSyncStatus struct {
	StoreID         int64      `json:"store_id"`
	Status          string     `json:"status"`
	RemoteProductID string     `json:"remote_product_id,omitempty"`
	Handle          string     `json:"handle,omitempty"`
	RemoteStatus    string     `json:"remote_status,omitempty"`
	Error           string     `json:"error,omitempty"`
	AttemptedAt     *time.Time `json:"attempted_at,omitempty"`
}

type SyncStatusResp struct {
	ProductID int64             `json:"product_id"`
	Stores    []StoreSyncStatus `json:"stores"`
}
