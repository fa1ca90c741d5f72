package dto

import "time"

// ================== Store DTO ==================

// CreateStoreReq 新增店铺
type CreateStoreReq struct {
	Name              string `json:"name"`
	Domain            string `json:"domain" binding:"required"`
	AccessToken       string `json:"access_token" binding:"required"`
	StoreCode         string `json:"store_code" binding:"required,max=20"`
	DefaultLocationID string `json:"default_location_id"`
}

// UpdateStoreReq nil 表示不修改
type UpdateStoreReq struct {
	Name              *string `json:"name"`
	AccessToken       *string `json:"access_token"`
	StoreCode         *string `json:"store_code" binding:"omitempty,max=20"`
	IsActive          *bool   `json:"is_active"`
	DefaultLocationID *string `json:"default_location_id"`
}

// StoreListReq 店铺列表
type StoreListReq struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Keyword  string `form:"keyword"`
	IsActive *bool  `form:"is_active"`
}

type LocationResp struct {
	ID       int64  `json:"id"`
	RemoteID string `json:"remote_id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// StoreResp 不返回 access token
type StoreResp struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	Domain            string         `json:"domain"`
	StoreCode         string         `json:"store_code"`
	IsActive          bool           `json:"is_active"`
	HasCredentials    bool           `json:"has_credentials"`
	DefaultLocationID string         `json:"default_location_id,omitempty"`
	LocationsSyncedAt *time.Time     `json:"locations_synced_at,omitempty"`
	Locations         []LocationResp `json:"locations,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type StoreListResp struct {
	List     []StoreResp `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}
