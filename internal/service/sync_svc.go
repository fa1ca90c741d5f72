package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shopify_sync_v1/internal/event"
	"shopify_sync_v1/internal/ledger"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/pkg/database"
	"shopify_sync_v1/pkg/logger"
)

// ==================== 请求/结果 ====================

// StoreTarget 目标店铺 (可选指定仓库)
type StoreTarget struct {
	StoreID    int64  `json:"storeId"`
	LocationID string `json:"locationId,omitempty"`
}

// SyncRequest 目标店铺解析优先级: Stores > StoreIDs+LocationID > StoreID > product.StoreID
type SyncRequest struct {
	Stores     []StoreTarget `json:"stores,omitempty"`
	StoreIDs   []int64       `json:"storeIds,omitempty"`
	StoreID    *int64        `json:"storeId,omitempty"`
	LocationID string        `json:"locationId,omitempty"`
}

// StoreResult 单店铺同步结果
type StoreResult struct {
	StoreID          int64  `json:"storeId"`
	Success          bool   `json:"success"`
	RemoteProductID  string `json:"remoteProductId,omitempty"`
	Handle           string `json:"handle,omitempty"`
	Status           string `json:"status,omitempty"`
	Error            string `json:"error,omitempty"`
	VariantsSynced   int    `json:"variantsSynced"`
	MediaAttached    int    `json:"mediaAttached"`
	MediaFailed      int    `json:"mediaFailed"`
	InventoryUpdated int    `json:"inventoryUpdated"`
	InventoryFailed  int    `json:"inventoryFailed"`
}

// SyncResult 部分失败是正常返回形态
type SyncResult struct {
	ProductID    int64         `json:"productId"`
	Results      []StoreResult `json:"results"`
	Total        int           `json:"total"`
	SuccessCount int           `json:"successCount"`
	FailureCount int           `json:"failureCount"`
}

// Summary "1/2"
func (r *SyncResult) Summary() string {
	return fmt.Sprintf("%d/%d", r.SuccessCount, r.Total)
}

// ProductOutcome 批量同步中单个商品的结果
type ProductOutcome struct {
	ProductID int64       `json:"productId"`
	Result    *SyncResult `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// BulkSyncResult 批量同步汇总
type BulkSyncResult struct {
	Products  []ProductOutcome `json:"products"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"` // 全部店铺成功
	Partial   int              `json:"partial"`
	Failed    int              `json:"failed"`
}

// SyncOptions 同步参数
type SyncOptions struct {
	BatchSize      int
	BatchDelay     time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// ==================== 服务实现 ====================

// SyncService 多店铺同步编排
type SyncService struct {
	products  repository.ProductRepository
	stores    repository.StoreRepository
	reconcile *Reconciler
	media     *MediaReconciler
	inventory *InventoryActivator
	publisher event.Publisher
	opts      SyncOptions
	log       *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSyncService 创建同步服务
func NewSyncService(
	products repository.ProductRepository,
	stores repository.StoreRepository,
	api CatalogAPI,
	media MediaOptions,
	publisher event.Publisher,
	opts SyncOptions,
) *SyncService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 3
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 200 * time.Millisecond
	}
	log := logger.Named("sync")
	if publisher == nil {
		publisher = event.NewNoopPublisher(log)
	}
	return &SyncService{
		products:  products,
		stores:    stores,
		reconcile: NewReconciler(api),
		media:     NewMediaReconciler(api, media),
		inventory: NewInventoryActivator(api, stores),
		publisher: publisher,
		opts:      opts,
		log:       log,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// ==================== 单商品同步 ====================

// SyncProduct 把一个商品同步到解析出的全部店铺
//  1. 事务外：加载商品图 (瞬时错误重试)、解析店铺、预取仓库
//  2. 事务内：逐店铺对账，结束后每个实体一次 read-merge-write
//  3. 事务失败：事务外尽力写入 failed 状态
func (s *SyncService) SyncProduct(ctx context.Context, productID int64, req SyncRequest) (*SyncResult, error) {
	// 1. 加载商品图
	var product *model.Product
	err := database.WithRetry(ctx, s.opts.RetryAttempts, s.opts.RetryBaseDelay, func() error {
		var err error
		product, err = s.products.GetGraph(ctx, productID)
		return err
	})
	if err != nil {
		if database.IsTransient(err) {
			return nil, newError(KindTransient, "load product", err)
		}
		return nil, notFound(err, ErrProductNotFound)
	}

	// 2. 解析目标店铺
	targets, err := ResolveTargets(product, req)
	if err != nil {
		return nil, err
	}
	runs, result, err := s.prepareRuns(ctx, product, targets)
	if err != nil {
		return nil, err
	}

	// 3. 事务内逐店铺处理 (串行，共享同一批台账修改)
	batch := newLedgerBatch()
	projection := ProjectOptions(product.Options, product.Variants, s.log.With(zap.Int64("product_id", productID)))

	txErr := s.products.Transaction(ctx, func(tx repository.ProductRepository) error {
		if err := tx.AddStoreIDs(ctx, productID, targetIDs(targets)); err != nil {
			return err
		}

		// 派生 SKU 并在任何远端调用前写入
		if err := s.persistSKUs(ctx, tx, product, runs); err != nil {
			return err
		}

		for _, run := range runs {
			if run.store == nil {
				batch.product.SetState(run.result.StoreID, ledger.Failed(run.result.Error, s.now()))
				continue
			}
			run.batch = batch
			run.projection = projection
			s.syncStore(ctx, run)
		}

		for _, r := range result.Results {
			if !r.Success {
				s.log.Warn("店铺同步失败", zap.Int64("product_id", productID),
					zap.Int64("store_id", r.StoreID), zap.String("error", r.Error))
			}
		}
		return batch.flush(ctx, tx, productID)
	})

	if txErr != nil {
		s.log.Error("同步事务回滚", zap.Int64("product_id", productID), zap.Error(txErr))
		s.markFailed(ctx, productID, targets, txErr)
		s.publish(ctx, event.NewSyncEvent(event.TypeSyncFailed, productID, map[string]interface{}{"error": txErr.Error()}))
		return nil, newError(KindInternal, "sync product", txErr)
	}

	result.tally()
	s.publish(ctx, event.NewSyncEvent(event.TypeSyncCompleted, productID, map[string]interface{}{
		"success": result.SuccessCount,
		"total":   result.Total,
	}))
	return result, nil
}

// prepareRuns 事务外解析店铺凭证与仓库；凭证缺失的店铺只记录失败，不中断整批
func (s *SyncService) prepareRuns(ctx context.Context, product *model.Product, targets []StoreTarget) ([]*storeRun, *SyncResult, error) {
	ids := targetIDs(targets)
	stores, err := s.stores.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]*model.Store, len(stores))
	for i := range stores {
		byID[stores[i].ID] = &stores[i]
	}

	result := &SyncResult{ProductID: product.ID, Results: make([]StoreResult, len(targets))}
	runs := make([]*storeRun, 0, len(targets))
	for i, t := range targets {
		result.Results[i] = StoreResult{StoreID: t.StoreID}
		run := &storeRun{
			product: product,
			result:  &result.Results[i],
			log:     s.log.With(zap.Int64("product_id", product.ID), zap.Int64("store_id", t.StoreID)),
		}

		store, ok := byID[t.StoreID]
		switch {
		case !ok:
			run.result.Error = ErrStoreNotFound.Error()
		case !store.IsActive:
			run.result.Error = "store is inactive"
		case !store.HasCredentials():
			run.result.Error = "store credentials missing"
		default:
			run.store = store
			run.session = SessionFor(store)
			locs, err := s.inventory.ResolveLocations(ctx, store, t.LocationID)
			if err != nil {
				run.log.Warn("仓库解析失败，本次跳过库存", zap.Error(err))
			}
			run.locations = locs
		}
		runs = append(runs, run)
	}
	return runs, result, nil
}

// persistSKUs 每个变体一次写入全部目标店铺的 SKU
func (s *SyncService) persistSKUs(ctx context.Context, tx repository.ProductRepository, product *model.Product, runs []*storeRun) error {
	for _, run := range runs {
		run.skus = map[int64]string{}
	}
	for i := range product.Variants {
		v := &product.Variants[i]
		upd := repository.NewVariantMapUpdate()
		existing := v.StoreSKUs()
		for _, run := range runs {
			if run.store == nil {
				continue
			}
			sku := DeriveSKU(product.Vendor, product.ID, v.Ordinal, run.store.StoreCode)
			run.skus[v.ID] = sku
			if current, ok := existing.Get(run.storeID()); !ok || current != sku {
				upd.StoreSKUs.Set(run.storeID(), sku)
			}
		}
		if upd.Empty() {
			continue
		}
		if err := tx.ApplyVariantMapUpdate(ctx, v.ID, upd); err != nil {
			return err
		}
	}
	return nil
}

// syncStore 单店铺：对账 -> 媒体 -> 库存；错误在店铺边界内转换为结果
func (s *SyncService) syncStore(ctx context.Context, run *storeRun) {
	sid := run.storeID()
	details, err := s.reconcile.Reconcile(ctx, run)
	if err != nil {
		run.log.Error("商品对账失败", zap.Error(err))
		state := ledger.Failed(err.Error(), s.now())
		run.batch.product.SetState(sid, state)
		run.result.Error = state.Error
		for i := range run.product.Variants {
			v := &run.product.Variants[i]
			if _, ok := run.batch.variant(v.ID).VariantIDs.Pending(sid); !ok {
				run.batch.variant(v.ID).SyncStatuses.Set(sid, string(ledger.KindFailed))
			}
		}
		return
	}

	s.media.Sync(ctx, run, details)
	s.inventory.Sync(ctx, run)

	run.batch.product.SetState(sid, ledger.Synced(run.remoteProductID(), run.result.Handle))
	run.result.Success = true
}

// markFailed 事务回滚后在事务外尽力记录失败
func (s *SyncService) markFailed(ctx context.Context, productID int64, targets []StoreTarget, cause error) {
	upd := repository.NewProductMapUpdate()
	state := ledger.Failed(cause.Error(), s.now())
	for _, t := range targets {
		upd.SetState(t.StoreID, state)
	}
	if err := s.products.ApplyMapUpdate(ctx, productID, upd); err != nil {
		s.log.Error("记录失败状态失败", zap.Int64("product_id", productID), zap.Error(err))
	}
}

func (s *SyncService) publish(ctx context.Context, evt event.SyncEvent) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Warn("事件发布失败", zap.String("event_type", evt.EventType), zap.Error(err))
	}
}

func (r *SyncResult) tally() {
	r.Total = len(r.Results)
	r.SuccessCount, r.FailureCount = 0, 0
	for _, res := range r.Results {
		if res.Success {
			r.SuccessCount++
		} else {
			r.FailureCount++
		}
	}
}

// ==================== 店铺解析 ====================

// ResolveTargets 按优先级解析目标店铺并去重；结果为空时返回 ErrStoreIDMissing
func ResolveTargets(product *model.Product, req SyncRequest) ([]StoreTarget, error) {
	var raw []StoreTarget
	switch {
	case len(req.Stores) > 0:
		raw = req.Stores
	case len(req.StoreIDs) > 0:
		for _, id := range req.StoreIDs {
			raw = append(raw, StoreTarget{StoreID: id, LocationID: req.LocationID})
		}
	case req.StoreID != nil && *req.StoreID > 0:
		raw = []StoreTarget{{StoreID: *req.StoreID, LocationID: req.LocationID}}
	case product != nil && product.StoreID > 0:
		raw = []StoreTarget{{StoreID: product.StoreID, LocationID: req.LocationID}}
	}

	seen := map[int64]struct{}{}
	targets := make([]StoreTarget, 0, len(raw))
	for _, t := range raw {
		if t.StoreID <= 0 {
			continue
		}
		if _, dup := seen[t.StoreID]; dup {
			continue
		}
		seen[t.StoreID] = struct{}{}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, newError(KindValidation, "", ErrStoreIDMissing)
	}
	return targets, nil
}

func targetIDs(targets []StoreTarget) []int64 {
	ids := make([]int64, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.StoreID)
	}
	return ids
}

// ==================== 批量同步 ====================

// BulkSync 固定批大小并发执行，批间固定间隔；单个商品失败不影响其它
func (s *SyncService) BulkSync(ctx context.Context, productIDs []int64, req SyncRequest) *BulkSyncResult {
	out := &BulkSyncResult{Products: make([]ProductOutcome, len(productIDs)), Total: len(productIDs)}

	for start := 0; start < len(productIDs); start += s.opts.BatchSize {
		if start > 0 && s.opts.BatchDelay > 0 {
			if err := s.sleep(ctx, s.opts.BatchDelay); err != nil {
				s.log.Warn("批量同步被取消", zap.Error(err))
				for i := start; i < len(productIDs); i++ {
					out.Products[i] = ProductOutcome{ProductID: productIDs[i], Error: err.Error()}
				}
				break
			}
		}

		end := start + s.opts.BatchSize
		if end > len(productIDs) {
			end = len(productIDs)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				outcome := ProductOutcome{ProductID: productIDs[i]}
				res, err := s.syncSafely(ctx, productIDs[i], req)
				if err != nil {
					outcome.Error = err.Error()
				}
				outcome.Result = res
				out.Products[i] = outcome
				return nil
			})
		}
		_ = g.Wait()

		s.log.Info("批次完成", zap.Int("from", start), zap.Int("to", end), zap.Int("total", len(productIDs)))
	}

	for _, p := range out.Products {
		switch {
		case p.Result == nil:
			out.Failed++
		case p.Result.FailureCount == 0:
			out.Succeeded++
		case p.Result.SuccessCount == 0:
			out.Failed++
		default:
			out.Partial++
		}
	}
	return out
}

// syncSafely 单个商品的 panic 不影响同批其它商品
func (s *SyncService) syncSafely(ctx context.Context, productID int64, req SyncRequest) (res *SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("同步 panic", zap.Int64("product_id", productID), zap.Any("panic", r))
			err = newError(KindInternal, "sync product", errors.New(fmt.Sprint(r)))
		}
	}()
	return s.SyncProduct(ctx, productID, req)
}

// RetryFailed 重新同步存在失败店铺的商品 (定时任务调用)，每个商品只重试失败的店铺
func (s *SyncService) RetryFailed(ctx context.Context, limit int) (*BulkSyncResult, error) {
	ids, err := s.products.ListIDsBySyncStatus(ctx, ledger.KindFailed, limit)
	if err != nil {
		return nil, err
	}

	out := &BulkSyncResult{}
	for _, id := range ids {
		p, err := s.products.GetByID(ctx, id)
		if err != nil {
			s.log.Warn("加载失败商品出错", zap.Int64("product_id", id), zap.Error(err))
			continue
		}
		states := p.States()
		var failed []int64
		for _, sid := range states.StoreIDs() {
			if ledger.StateOf(states, sid).IsFailed() {
				failed = append(failed, sid)
			}
		}
		if len(failed) == 0 {
			continue
		}

		res := s.BulkSync(ctx, []int64{id}, SyncRequest{StoreIDs: failed})
		out.Products = append(out.Products, res.Products...)
		out.Total += res.Total
		out.Succeeded += res.Succeeded
		out.Partial += res.Partial
		out.Failed += res.Failed
	}
	return out, nil
}
