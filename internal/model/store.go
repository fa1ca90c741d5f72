package model

import (
	"time"
)

// Store Shopify 店铺
type Store struct {
	BaseModel

	// 1. 身份
	Name   string `gorm:"size:100"`
	Domain string `gorm:"size:255;uniqueIndex;not null"` // xxx.myshopify.com

	// 2. 凭证 (Admin API access token)
	AccessToken string `gorm:"size:255"`

	// 3. SKU 派生使用的店铺代码
	StoreCode string `gorm:"size:20;not null"`

	// 4. 状态
	IsActive          bool       `gorm:"index"`
	DefaultLocationID string     `gorm:"size:100"`
	LocationsSyncedAt *time.Time `gorm:"comment:最后同步仓库时间"`

	Locations []StoreLocation `gorm:"foreignKey:StoreID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// HasCredentials 凭证是否齐全
func (s *Store) HasCredentials() bool {
	return s.Domain != "" && s.AccessToken != ""
}

// StoreLocation 店铺远端仓库 (缓存)
type StoreLocation struct {
	BaseModel
	StoreID  int64  `gorm:"uniqueIndex:idx_store_location;not null"`
	RemoteID string `gorm:"size:100;uniqueIndex:idx_store_location;not null"` // gid://shopify/Location/xxx
	Name     string `gorm:"size:255"`
	IsActive bool
}

func (Store) TableName() string {
	return "stores"
}

func (StoreLocation) TableName() string {
	return "store_locations"
}
