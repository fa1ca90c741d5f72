package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"shopify_sync_v1/internal/event"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/pkg/logger"
)

// ZeroInventoryHandler 变体库存归零后的生命周期处理
//   - 唯一变体：各店铺商品改为 DRAFT，本地商品改为 draft，变体保留
//   - 其它情况：逐店铺删除远端变体，再物理删除本地变体
type ZeroInventoryHandler struct {
	products  repository.ProductRepository
	stores    repository.StoreRepository
	api       CatalogAPI
	publisher event.Publisher
	log       *zap.Logger

	timeout time.Duration
	wg      sync.WaitGroup
	locks   sync.Map // productID -> *sync.Mutex
}

func NewZeroInventoryHandler(products repository.ProductRepository, stores repository.StoreRepository, api CatalogAPI, publisher event.Publisher) *ZeroInventoryHandler {
	log := logger.Named("zero_inventory")
	if publisher == nil {
		publisher = event.NewNoopPublisher(log)
	}
	return &ZeroInventoryHandler{
		products:  products,
		stores:    stores,
		api:       api,
		publisher: publisher,
		log:       log,
		timeout:   2 * time.Minute,
	}
}

// Dispatch 后台执行，调用方不等待结果；错误与 panic 只记录日志
func (h *ZeroInventoryHandler) Dispatch(snapshot *model.ProductVariant) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("库存归零处理 panic", zap.Int64("variant_id", snapshot.ID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.Handle(ctx, snapshot); err != nil {
			h.log.Error("库存归零处理失败", zap.Int64("variant_id", snapshot.ID), zap.Error(err))
		}
	}()
}

// Wait 等待所有后台处理结束
func (h *ZeroInventoryHandler) Wait() {
	h.wg.Wait()
}

// Handle 同步执行；snapshot 必须是库存写入之前读取的变体 (含所属商品)
func (h *ZeroInventoryHandler) Handle(ctx context.Context, snapshot *model.ProductVariant) error {
	if snapshot == nil || snapshot.Product == nil {
		return fmt.Errorf("zero inventory: snapshot without product")
	}

	// 同一商品的归零处理串行执行，"是否最后一个变体" 的判断与删除之间不能交错
	unlock := h.lockProduct(snapshot.ProductID)
	defer unlock()

	if _, err := h.products.GetVariant(ctx, snapshot.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.log.Info("变体已删除，忽略", zap.Int64("variant_id", snapshot.ID))
			return nil
		}
		return err
	}

	count, err := h.products.CountVariants(ctx, snapshot.ProductID)
	if err != nil {
		return err
	}
	if count <= 1 {
		return h.archiveProduct(ctx, snapshot.Product)
	}
	return h.pruneVariant(ctx, snapshot)
}

func (h *ZeroInventoryHandler) lockProduct(productID int64) func() {
	v, _ := h.locks.LoadOrStore(productID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// archiveProduct 唯一变体：商品在每个已同步店铺改为 DRAFT
func (h *ZeroInventoryHandler) archiveProduct(ctx context.Context, product *model.Product) error {
	remoteIDs := product.RemoteProductIDs()
	stores, err := h.loadStores(ctx, remoteIDs.StoreIDs())
	if err != nil {
		return err
	}

	upd := repository.NewProductMapUpdate()
	for _, sid := range remoteIDs.StoreIDs() {
		store, ok := stores[sid]
		if !ok {
			h.log.Warn("店铺不可用，跳过下架", zap.Int64("product_id", product.ID), zap.Int64("store_id", sid))
			continue
		}
		remoteID, _ := remoteIDs.Get(sid)
		if err := h.api.SetProductStatus(ctx, SessionFor(store), remoteID, model.RemoteStatusDraft); err != nil {
			h.log.Warn("远端下架失败", zap.Int64("product_id", product.ID), zap.Int64("store_id", sid), zap.Error(err))
			continue
		}
		upd.Statuses.Set(sid, model.RemoteStatusDraft)
	}

	if !upd.Statuses.Empty() {
		if err := h.products.ApplyMapUpdate(ctx, product.ID, upd); err != nil {
			return err
		}
	}
	if err := h.products.UpdateFields(ctx, product.ID, map[string]interface{}{"status": model.ProductStatusDraft}); err != nil {
		return err
	}

	h.log.Info("最后一个变体库存归零，商品已转为草稿", zap.Int64("product_id", product.ID))
	h.publish(ctx, event.TypeProductPaused, product.ID, map[string]interface{}{"stores": remoteIDs.StoreIDs()})
	return nil
}

// pruneVariant 逐店铺删除远端变体 (互不影响)，然后删除本地变体
func (h *ZeroInventoryHandler) pruneVariant(ctx context.Context, v *model.ProductVariant) error {
	variantIDs := v.RemoteVariantIDs()
	if len(variantIDs) > 0 {
		stores, err := h.loadStores(ctx, variantIDs.StoreIDs())
		if err != nil {
			return err
		}
		for _, sid := range variantIDs.StoreIDs() {
			store, ok := stores[sid]
			if !ok {
				h.log.Warn("店铺不可用，跳过远端删除", zap.Int64("variant_id", v.ID), zap.Int64("store_id", sid))
				continue
			}
			remoteVariant, _ := variantIDs.Get(sid)
			if err := h.api.DeleteVariant(ctx, SessionFor(store), v.Product.RemoteProductID(sid), remoteVariant); err != nil {
				h.log.Warn("远端删除变体失败", zap.Int64("variant_id", v.ID), zap.Int64("store_id", sid), zap.Error(err))
			}
		}
	}

	if err := h.products.HardDeleteVariant(ctx, v.ID); err != nil {
		return err
	}

	// 删除后重建图片并集
	if graph, err := h.products.GetGraph(ctx, v.ProductID); err == nil {
		graph.RebuildImageURLs()
		if err := h.products.UpdateFields(ctx, graph.ID, map[string]interface{}{"all_image_urls": graph.AllImageURLs}); err != nil {
			h.log.Warn("重建图片列表失败", zap.Int64("product_id", graph.ID), zap.Error(err))
		}
	}

	h.log.Info("库存归零变体已删除", zap.Int64("product_id", v.ProductID), zap.Int64("variant_id", v.ID))
	h.publish(ctx, event.TypeVariantPruned, v.ProductID, map[string]interface{}{"variant_id": v.ID})
	return nil
}

func (h *ZeroInventoryHandler) loadStores(ctx context.Context, ids []int64) (map[int64]*model.Store, error) {
	out := make(map[int64]*model.Store, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := h.stores.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].HasCredentials() {
			out[list[i].ID] = &list[i]
		}
	}
	return out, nil
}

func (h *ZeroInventoryHandler) publish(ctx context.Context, eventType string, productID int64, payload map[string]interface{}) {
	if err := h.publisher.Publish(ctx, event.NewSyncEvent(eventType, productID, payload)); err != nil {
		h.log.Warn("事件发布失败", zap.String("event_type", eventType), zap.Error(err))
	}
}
