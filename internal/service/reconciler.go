package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopify_sync_v1/internal/ledger"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/pkg/shopify"
)

// Reconciler 单店铺商品对账：决定创建或更新，并把远端 ID 写回台账
type Reconciler struct {
	api CatalogAPI
	now func() time.Time
}

func NewReconciler(api CatalogAPI) *Reconciler {
	return &Reconciler{api: api, now: time.Now}
}

// Reconcile 返回远端商品详情，供媒体/库存步骤复用
func (r *Reconciler) Reconcile(ctx context.Context, run *storeRun) (*shopify.ProductDetails, error) {
	remoteID := run.remoteProductID()
	if remoteID == "" {
		return r.create(ctx, run)
	}

	// 更新前先拉取远端当前结构 (选项 ID 可能已变化)
	details, err := r.api.GetProductDetails(ctx, run.session, remoteID)
	if err != nil {
		return nil, remoteError("getProductDetails", run.storeID(), err)
	}
	if details == nil {
		run.log.Warn("远端商品已不存在，重新创建", zap.String("remote_id", remoteID))
		return r.create(ctx, run)
	}
	return r.update(ctx, run, details)
}

// ==================== 创建 ====================

func (r *Reconciler) create(ctx context.Context, run *storeRun) (*shopify.ProductDetails, error) {
	p := run.product
	input := productInput(p)
	input.Options = run.projection.RemoteOptions()

	images := productLevelImages(p)
	media := make([]shopify.MediaInput, 0, len(images))
	var mediaImages []*model.ProductImage
	for _, img := range images {
		ok, reason := mediaSourceAllowed(img.SourceURL())
		if reason != "" {
			run.log.Warn("商品图片可能无法处理", zap.String("url", img.SourceURL()), zap.String("reason", reason))
		}
		if !ok {
			run.result.MediaFailed++
			continue
		}
		media = append(media, shopify.MediaInput{OriginalSource: img.SourceURL(), Alt: p.Title})
		mediaImages = append(mediaImages, img)
	}

	// 1. 创建商品；handle 冲突时用 slug-时间戳 重试一次
	res, err := r.api.CreateProduct(ctx, run.session, input, media)
	if err != nil && shopify.IsDuplicateHandle(err) {
		input.Handle = fmt.Sprintf("%s-%d", Slugify(p.Title), r.now().Unix())
		run.log.Warn("handle 冲突，使用新 handle 重试", zap.String("handle", input.Handle))
		res, err = r.api.CreateProduct(ctx, run.session, input, media)
	}
	if err != nil {
		return nil, remoteError("createProduct", run.storeID(), err)
	}

	r.recordProduct(run, res.ProductID, res.Handle, res.Status)
	for i, id := range res.MediaIDs {
		if i < len(mediaImages) {
			run.batch.image(mediaImages[i].ID).Set(run.storeID(), id)
		}
	}

	// 2. 读取远端结构 (自动生成的默认变体、选项 ID)
	details, err := r.api.GetProductDetails(ctx, run.session, res.ProductID)
	if err != nil {
		return nil, remoteError("getProductDetails", run.storeID(), err)
	}
	if details == nil {
		details = &shopify.ProductDetails{ID: res.ProductID, Handle: res.Handle, Status: res.Status}
	}
	r.recordOptions(run, details.Options)

	// 3. 变体
	if err := r.syncVariants(ctx, run, details, true); err != nil {
		return nil, err
	}
	return details, nil
}

// ==================== 更新 ====================

func (r *Reconciler) update(ctx context.Context, run *storeRun, details *shopify.ProductDetails) (*shopify.ProductDetails, error) {
	// 1. 描述字段 + 状态
	res, err := r.api.UpdateProduct(ctx, run.session, details.ID, productInput(run.product))
	if err != nil {
		return nil, remoteError("updateProduct", run.storeID(), err)
	}
	handle := res.Handle
	if handle == "" {
		handle = details.Handle
	}
	r.recordProduct(run, details.ID, handle, res.Status)

	// 2. 选项结构对齐远端
	options, err := r.reconcileOptions(ctx, run, details)
	if err != nil {
		return nil, err
	}
	details.Options = options
	r.recordOptions(run, options)

	// 3. 变体：已存在的更新，缺失的创建
	if err := r.syncVariants(ctx, run, details, false); err != nil {
		return nil, err
	}
	return details, nil
}

// reconcileOptions 按位置匹配远端选项，必要时改名/调整位置/追加规格值
func (r *Reconciler) reconcileOptions(ctx context.Context, run *storeRun, details *shopify.ProductDetails) ([]shopify.RemoteOption, error) {
	current := details.Options
	for i, opt := range run.projection.Options {
		remote := matchRemoteOption(current, opt, i)
		if remote == nil {
			run.log.Warn("远端缺少选项，跳过结构同步", zap.String("option", opt.Name))
			continue
		}

		existing := map[string]struct{}{}
		for _, v := range remote.Values {
			existing[strings.ToLower(v.Name)] = struct{}{}
		}
		var add []string
		for _, v := range opt.Values {
			if _, ok := existing[strings.ToLower(v.Value)]; !ok {
				add = append(add, v.Value)
			}
		}

		rename := !strings.EqualFold(remote.Name, opt.Name)
		move := remote.Position != opt.Position
		if !rename && !move && len(add) == 0 {
			continue
		}

		name := ""
		if rename {
			name = opt.Name
		}
		updated, err := r.api.UpdateProductOption(ctx, run.session, details.ID, remote.ID, name, opt.Position, add)
		if err != nil {
			return nil, remoteError("updateProductOption", run.storeID(), err)
		}
		if updated != nil {
			current = updated
		}
	}
	return current, nil
}

func matchRemoteOption(remote []shopify.RemoteOption, opt ProjectedOption, index int) *shopify.RemoteOption {
	for i := range remote {
		if strings.EqualFold(remote[i].Name, opt.Name) {
			return &remote[i]
		}
	}
	// 改名：同位置的远端选项
	for i := range remote {
		if remote[i].Position == opt.Position {
			return &remote[i]
		}
	}
	if index < len(remote) {
		return &remote[index]
	}
	return nil
}

// ==================== 变体 ====================

type variantPlan struct {
	variant *model.ProductVariant
	proj    ProjectedVariant
	remote  *shopify.RemoteVariant // 已存在的远端变体
}

// syncVariants 以签名识别远端已有变体，避免重复创建
func (r *Reconciler) syncVariants(ctx context.Context, run *storeRun, details *shopify.ProductDetails, fresh bool) error {
	byID := map[string]*shopify.RemoteVariant{}
	bySig := map[string]*shopify.RemoteVariant{}
	for i := range details.Variants {
		rv := &details.Variants[i]
		byID[rv.ID] = rv
		if _, dup := bySig[rv.Signature()]; !dup {
			bySig[rv.Signature()] = rv
		}
	}
	noOptions := len(run.projection.Options) == 0
	claimed := map[string]bool{}

	var updates, creates []variantPlan
	for i := range run.product.Variants {
		v := &run.product.Variants[i]
		pv, ok := run.projection.Variant(v.ID)
		if !ok {
			continue
		}
		plan := variantPlan{variant: v, proj: pv}

		if id := run.remoteVariantID(v); id != "" {
			if rv, ok := byID[id]; ok && !claimed[rv.ID] {
				plan.remote = rv
			}
		}
		if plan.remote == nil {
			if noOptions {
				// 无规格商品只有一个远端变体
				if len(details.Variants) > 0 && !claimed[details.Variants[0].ID] {
					plan.remote = &details.Variants[0]
				}
			} else if rv, ok := bySig[pv.Signature()]; ok && !claimed[rv.ID] {
				plan.remote = rv
			}
		}

		if plan.remote != nil {
			claimed[plan.remote.ID] = true
			updates = append(updates, plan)
			continue
		}
		if noOptions {
			run.log.Warn("无规格商品只能同步一个变体", zap.Int64("variant_id", v.ID))
			continue
		}
		creates = append(creates, plan)
	}

	// 1. 更新已存在的变体 (价格/店铺 SKU)
	if len(updates) > 0 {
		inputs := make([]shopify.VariantInput, 0, len(updates))
		for _, plan := range updates {
			in := r.variantInput(run, plan)
			in.ID = plan.remote.ID
			inputs = append(inputs, in)
		}
		if _, err := r.api.UpdateVariants(ctx, run.session, details.ID, inputs); err != nil {
			return remoteError("updateVariants", run.storeID(), err)
		}
		for _, plan := range updates {
			r.recordVariant(run, plan.variant, plan.remote.ID, plan.remote.InventoryItemID)
		}
	}

	// 2. 创建缺失的变体
	if len(creates) == 0 {
		return nil
	}
	inputs := make([]shopify.VariantInput, 0, len(creates))
	for _, plan := range creates {
		inputs = append(inputs, r.variantInput(run, plan))
	}
	removeStandalone := fresh && len(updates) == 0
	res, err := r.api.CreateVariants(ctx, run.session, details.ID, inputs, removeStandalone)
	if err != nil {
		if !shopify.IsAlreadyExists(err) {
			return remoteError("createVariants", run.storeID(), err)
		}
		// 重复请求导致的"已存在"：重新读取远端并按签名映射
		run.log.Info("变体已存在，读取远端补齐映射")
		return r.adoptExisting(ctx, run, details.ID, creates)
	}

	for _, plan := range creates {
		sku := run.skus[plan.variant.ID]
		id := res.VariantIDBySKU[sku]
		if id == "" {
			run.log.Warn("创建结果中缺少变体", zap.String("sku", sku))
			continue
		}
		r.recordVariant(run, plan.variant, id, res.InventoryItemIDBySKU[sku])
		details.Variants = append(details.Variants, shopify.RemoteVariant{
			ID: id, SKU: sku, InventoryItemID: res.InventoryItemIDBySKU[sku],
		})
	}
	return nil
}

func (r *Reconciler) adoptExisting(ctx context.Context, run *storeRun, productID string, plans []variantPlan) error {
	details, err := r.api.GetProductDetails(ctx, run.session, productID)
	if err != nil {
		return remoteError("getProductDetails", run.storeID(), err)
	}
	if details == nil {
		return remoteError("getProductDetails", run.storeID(), fmt.Errorf("product %s not found", productID))
	}
	bySig := map[string]shopify.RemoteVariant{}
	for _, rv := range details.Variants {
		bySig[rv.Signature()] = rv
	}
	for _, plan := range plans {
		rv, ok := bySig[plan.proj.Signature()]
		if !ok {
			return remoteError("createVariants", run.storeID(),
				fmt.Errorf("variant %d reported as existing but not found remotely", plan.variant.ID))
		}
		r.recordVariant(run, plan.variant, rv.ID, rv.InventoryItemID)
	}
	return nil
}

func (r *Reconciler) variantInput(run *storeRun, plan variantPlan) shopify.VariantInput {
	in := shopify.VariantInput{
		SKU:          run.skus[plan.variant.ID],
		Price:        plan.variant.Price,
		OptionValues: plan.proj.OptionValues(),
		Tracked:      true,
	}
	if plan.variant.CompareAtPrice.Valid {
		cmp := plan.variant.CompareAtPrice.Decimal
		in.CompareAtPrice = &cmp
	}
	return in
}

// ==================== 台账写入 ====================

func (r *Reconciler) recordProduct(run *storeRun, remoteID, handle, status string) {
	sid := run.storeID()
	run.batch.product.ProductIDs.Set(sid, remoteID)
	if handle != "" {
		run.batch.product.Handles.Set(sid, handle)
	}
	if status != "" {
		run.batch.product.Statuses.Set(sid, status)
	}
	run.result.RemoteProductID = remoteID
	run.result.Handle = handle
	run.result.Status = status
}

func (r *Reconciler) recordVariant(run *storeRun, v *model.ProductVariant, remoteID, inventoryItemID string) {
	sid := run.storeID()
	u := run.batch.variant(v.ID)
	u.VariantIDs.Set(sid, remoteID)
	if inventoryItemID != "" {
		u.InventoryItemIDs.Set(sid, inventoryItemID)
	}
	u.SyncStatuses.Set(sid, string(ledger.KindSynced))
	run.result.VariantsSynced++
}

// recordOptions 按名称把远端选项/规格值 ID 写回本地
func (r *Reconciler) recordOptions(run *storeRun, remote []shopify.RemoteOption) {
	sid := run.storeID()
	for _, opt := range run.projection.Options {
		for _, ro := range remote {
			if !strings.EqualFold(ro.Name, opt.Name) {
				continue
			}
			run.batch.option(opt.OptionID).Set(sid, ro.ID)
			for _, v := range opt.Values {
				for _, rv := range ro.Values {
					if strings.EqualFold(rv.Name, v.Value) {
						run.batch.value(v.ValueID).Set(sid, rv.ID)
						break
					}
				}
			}
			break
		}
	}
}

// ==================== 辅助 ====================

func productInput(p *model.Product) shopify.ProductInput {
	return shopify.ProductInput{
		Title:           p.Title,
		DescriptionHTML: p.Description,
		ProductType:     p.ProductType,
		Vendor:          p.Vendor,
		Tags:            p.Tags,
		Status:          p.Status.RemoteStatus(),
	}
}

func productLevelImages(p *model.Product) []*model.ProductImage {
	var out []*model.ProductImage
	for i := range p.Images {
		if p.Images[i].VariantID == nil && p.Images[i].SourceURL() != "" {
			out = append(out, &p.Images[i])
		}
	}
	return out
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify "Test Shirt!" -> "test-shirt"
func Slugify(s string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "product"
	}
	return slug
}
