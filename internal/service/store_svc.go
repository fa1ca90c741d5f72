package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shopify_sync_v1/internal/api/dto"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/pkg/logger"
)

// StoreService 店铺与仓库缓存管理
type StoreService struct {
	stores repository.StoreRepository
	api    CatalogAPI
	log    *zap.Logger
}

func NewStoreService(stores repository.StoreRepository, api CatalogAPI) *StoreService {
	return &StoreService{stores: stores, api: api, log: logger.Named("store")}
}

// CreateStore 域名统一为小写且不带协议
func (s *StoreService) CreateStore(ctx context.Context, req dto.CreateStoreReq) (*dto.StoreResp, error) {
	domain := normalizeDomain(req.Domain)
	if domain == "" {
		return nil, Validationf("domain is required")
	}
	code := strings.ToUpper(strings.TrimSpace(req.StoreCode))
	if code == "" {
		return nil, Validationf("store_code is required")
	}

	if _, err := s.stores.GetByDomain(ctx, domain); err == nil {
		return nil, newError(KindConflict, "create store", fmt.Errorf("domain %s already registered", domain))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	store := &model.Store{
		Name:              req.Name,
		Domain:            domain,
		AccessToken:       req.AccessToken,
		StoreCode:         code,
		IsActive:          true,
		DefaultLocationID: req.DefaultLocationID,
	}
	if err := s.stores.Create(ctx, store); err != nil {
		return nil, err
	}
	s.log.Info("店铺已创建", zap.Int64("store_id", store.ID), zap.String("domain", domain))

	resp := ToStoreResp(store)
	return &resp, nil
}

func (s *StoreService) GetStore(ctx context.Context, id int64) (*dto.StoreResp, error) {
	store, err := s.stores.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrStoreNotFound)
	}
	locs, err := s.stores.ListLocations(ctx, id)
	if err != nil {
		return nil, err
	}
	store.Locations = locs
	resp := ToStoreResp(store)
	return &resp, nil
}

func (s *StoreService) ListStores(ctx context.Context, req dto.StoreListReq) (*dto.StoreListResp, error) {
	stores, total, err := s.stores.List(ctx, repository.StoreFilter{
		Keyword:  req.Keyword,
		IsActive: req.IsActive,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		return nil, err
	}
	list := make([]dto.StoreResp, 0, len(stores))
	for i := range stores {
		list = append(list, ToStoreResp(&stores[i]))
	}
	return &dto.StoreListResp{List: list, Total: total, Page: req.Page, PageSize: req.PageSize}, nil
}

func (s *StoreService) UpdateStore(ctx context.Context, id int64, req dto.UpdateStoreReq) (*dto.StoreResp, error) {
	if _, err := s.stores.GetByID(ctx, id); err != nil {
		return nil, notFound(err, ErrStoreNotFound)
	}

	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.AccessToken != nil {
		fields["access_token"] = *req.AccessToken
	}
	if req.StoreCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.StoreCode))
		if code == "" {
			return nil, Validationf("store_code must not be empty")
		}
		fields["store_code"] = code
	}
	if req.IsActive != nil {
		fields["is_active"] = *req.IsActive
	}
	if req.DefaultLocationID != nil {
		fields["default_location_id"] = *req.DefaultLocationID
	}
	if len(fields) > 0 {
		if err := s.stores.UpdateFields(ctx, id, fields); err != nil {
			return nil, err
		}
	}
	return s.GetStore(ctx, id)
}

func (s *StoreService) DeleteStore(ctx context.Context, id int64) error {
	if _, err := s.stores.GetByID(ctx, id); err != nil {
		return notFound(err, ErrStoreNotFound)
	}
	return s.stores.Delete(ctx, id)
}

// RefreshLocations 从远端拉取仓库列表并刷新缓存
func (s *StoreService) RefreshLocations(ctx context.Context, id int64) ([]dto.LocationResp, error) {
	store, err := s.stores.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrStoreNotFound)
	}
	if !store.HasCredentials() {
		return nil, Validationf("store %d has no credentials", id)
	}
	if _, err := RefreshStoreLocations(ctx, s.api, s.stores, store); err != nil {
		return nil, err
	}

	locs, err := s.stores.ListLocations(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]dto.LocationResp, 0, len(locs))
	for _, l := range locs {
		out = append(out, dto.LocationResp{ID: l.ID, RemoteID: l.RemoteID, Name: l.Name, IsActive: l.IsActive})
	}
	return out, nil
}

// RefreshAllLocations 定时任务：逐个刷新活跃店铺，返回成功数量
func (s *StoreService) RefreshAllLocations(ctx context.Context) (int, error) {
	stores, err := s.stores.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	ok := 0
	for i := range stores {
		if !stores[i].HasCredentials() {
			continue
		}
		if _, err := RefreshStoreLocations(ctx, s.api, s.stores, &stores[i]); err != nil {
			s.log.Warn("刷新仓库失败", zap.Int64("store_id", stores[i].ID), zap.Error(err))
			continue
		}
		ok++
	}
	return ok, nil
}

func normalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

func ToStoreResp(s *model.Store) dto.StoreResp {
	resp := dto.StoreResp{
		ID:                s.ID,
		Name:              s.Name,
		Domain:            s.Domain,
		StoreCode:         s.StoreCode,
		IsActive:          s.IsActive,
		HasCredentials:    s.HasCredentials(),
		DefaultLocationID: s.DefaultLocationID,
		LocationsSyncedAt: s.LocationsSyncedAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
	for _, l := range s.Locations {
		resp.Locations = append(resp.Locations, dto.LocationResp{ID: l.ID, RemoteID: l.RemoteID, Name: l.Name, IsActive: l.IsActive})
	}
	return resp
}
