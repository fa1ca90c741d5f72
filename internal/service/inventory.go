package service

import (
	"context"

	"go.uber.org/zap"

	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/pkg/logger"
	"shopify_sync_v1/pkg/shopify"
)

// InventoryActivator 远端库存三步：开启跟踪 -> 仓库激活 -> 设置绝对数量
type InventoryActivator struct {
	api    CatalogAPI
	stores repository.StoreRepository
	log    *zap.Logger
}

func NewInventoryActivator(api CatalogAPI, stores repository.StoreRepository) *InventoryActivator {
	return &InventoryActivator{api: api, stores: stores, log: logger.Named("inventory")}
}

// Sync 对已同步的变体逐个执行库存协议，单个 (变体, 仓库) 失败不影响其它
// 仓库在事务外预先解析 (run.locations)
func (a *InventoryActivator) Sync(ctx context.Context, run *storeRun) {
	locations := run.locations
	if len(locations) == 0 {
		run.log.Warn("店铺没有可用仓库，跳过库存同步")
		return
	}

	for i := range run.product.Variants {
		v := &run.product.Variants[i]
		itemID := run.inventoryItemID(v)
		if itemID == "" {
			continue
		}

		// 1. 开启库存跟踪
		if err := a.api.EnableInventoryTracking(ctx, run.session, itemID); err != nil {
			run.log.Warn("开启库存跟踪失败", zap.Int64("variant_id", v.ID), zap.Error(err))
			run.result.InventoryFailed += len(locations)
			continue
		}

		for _, loc := range locations {
			// 2. 激活
			if err := a.api.ActivateInventoryAtLocation(ctx, run.session, itemID, loc.RemoteID); err != nil {
				run.log.Warn("仓库激活失败", zap.Int64("variant_id", v.ID), zap.String("location", loc.RemoteID), zap.Error(err))
				run.result.InventoryFailed++
				continue
			}
			// 3. 设置数量
			if err := a.api.SetInventoryQuantity(ctx, run.session, itemID, loc.RemoteID, v.StockQuantity); err != nil {
				run.log.Warn("设置库存失败", zap.Int64("variant_id", v.ID), zap.String("location", loc.RemoteID), zap.Error(err))
				run.result.InventoryFailed++
				continue
			}

			run.batch.locations = append(run.batch.locations, model.ProductLocation{
				ProductID:     run.product.ID,
				VariantID:     v.ID,
				VariantSKU:    run.skus[v.ID],
				StoreID:       run.storeID(),
				LocationID:    loc.RemoteID,
				LocationName:  loc.Name,
				StockQuantity: v.StockQuantity,
			})
			run.result.InventoryUpdated++
		}
	}
}

// ResolveLocations 指定仓库 (请求 > 店铺默认) 命中活跃仓库时只用它，否则使用全部活跃仓库
func (a *InventoryActivator) ResolveLocations(ctx context.Context, store *model.Store, requested string) ([]model.StoreLocation, error) {
	active, err := a.activeLocations(ctx, store)
	if err != nil {
		return nil, err
	}

	for _, want := range []string{requested, store.DefaultLocationID} {
		if want == "" {
			continue
		}
		gid := shopify.ToGID("Location", want)
		for _, loc := range active {
			if loc.RemoteID == gid {
				return []model.StoreLocation{loc}, nil
			}
		}
		if want == requested {
			a.log.Warn("指定仓库不可用，回退到全部活跃仓库",
				zap.Int64("store_id", store.ID), zap.String("location_id", want))
		}
	}
	return active, nil
}

// activeLocations 优先用本地缓存，为空时从远端拉取并刷新
func (a *InventoryActivator) activeLocations(ctx context.Context, store *model.Store) ([]model.StoreLocation, error) {
	cached, err := a.stores.ListLocations(ctx, store.ID)
	if err != nil {
		return nil, err
	}
	if len(cached) == 0 {
		cached, err = RefreshStoreLocations(ctx, a.api, a.stores, store)
		if err != nil {
			return nil, err
		}
	}

	active := make([]model.StoreLocation, 0, len(cached))
	for _, loc := range cached {
		if loc.IsActive {
			active = append(active, loc)
		}
	}
	return active, nil
}

// PushQuantity 把变体新库存写到已有台账记录的仓库
func (a *InventoryActivator) PushQuantity(ctx context.Context, store *model.Store, inventoryItemID string, locationIDs []string, quantity int) []string {
	session := SessionFor(store)
	var done []string
	for _, locID := range locationIDs {
		if err := a.api.SetInventoryQuantity(ctx, session, inventoryItemID, locID, quantity); err != nil {
			a.log.Warn("库存推送失败",
				zap.Int64("store_id", store.ID), zap.String("location_id", locID), zap.Error(err))
			continue
		}
		done = append(done, locID)
	}
	return done
}

// RefreshStoreLocations 拉取远端仓库并写入缓存
func RefreshStoreLocations(ctx context.Context, api CatalogAPI, stores repository.StoreRepository, store *model.Store) ([]model.StoreLocation, error) {
	remote, err := api.GetLocations(ctx, SessionFor(store))
	if err != nil {
		return nil, remoteError("getLocations", store.ID, err)
	}
	locs := make([]model.StoreLocation, 0, len(remote))
	for _, l := range remote {
		locs = append(locs, model.StoreLocation{StoreID: store.ID, RemoteID: l.ID, Name: l.Name, IsActive: l.IsActive})
	}
	if err := stores.ReplaceLocations(ctx, store.ID, locs); err != nil {
		return nil, err
	}
	return locs, nil
}
