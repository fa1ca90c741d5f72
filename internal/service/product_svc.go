package service

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"path"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"shopify_sync_v1/internal/api/dto"
	"shopify_sync_v1/internal/ledger"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/pkg/logger"
)

// ProductService 商品入口：本地写入 + 触发同步 + 库存变化
type ProductService struct {
	products  repository.ProductRepository
	stores    repository.StoreRepository
	storage   *StorageService
	sync      *SyncService
	zero      *ZeroInventoryHandler
	inventory *InventoryActivator
	log       *zap.Logger
}

func NewProductService(
	products repository.ProductRepository,
	stores repository.StoreRepository,
	storage *StorageService,
	sync *SyncService,
	zero *ZeroInventoryHandler,
	inventory *InventoryActivator,
) *ProductService {
	return &ProductService{
		products:  products,
		stores:    stores,
		storage:   storage,
		sync:      sync,
		zero:      zero,
		inventory: inventory,
		log:       logger.Named("product"),
	}
}

// ==================== 创建 ====================

// variantDraft 待写入的变体 + 规格选择
type variantDraft struct {
	variant   model.ProductVariant
	selection map[string]string // 规格名 -> 规格值
}

// IngestProduct 一次事务写入商品图，不做任何远端调用
func (s *ProductService) IngestProduct(ctx context.Context, req dto.IngestProductReq) (*model.Product, error) {
	if err := validateOptions(req.Options); err != nil {
		return nil, err
	}

	drafts := make([]variantDraft, 0, len(req.Variants))
	for i, vr := range req.Variants {
		if vr.Price.IsNegative() {
			return nil, Validationf("variants[%d]: price must not be negative", i)
		}
		if err := validateSelection(req.Options, vr.Options); err != nil {
			return nil, Validationf("variants[%d]: %v", i, err)
		}
		imageURL, err := s.resolveImage(ctx, vr.ImageURL, vr.ImageBase64, "variant")
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, variantDraft{
			variant: model.ProductVariant{
				SKU:            vr.SKU,
				Title:          vr.Title,
				Price:          vr.Price,
				CompareAtPrice: nullDecimal(vr.CompareAtPrice),
				StockQuantity:  vr.StockQuantity,
				ImageURL:       imageURL,
			},
			selection: vr.Options,
		})
	}

	images, err := s.resolveImages(ctx, req.Images)
	if err != nil {
		return nil, err
	}

	product := &model.Product{
		UniqueReferenceCode: req.UniqueReferenceCode,
		Title:               req.Title,
		Description:         req.Description,
		Vendor:              req.Vendor,
		ProductType:         req.ProductType,
		Tags:                pq.StringArray(req.Tags),
		Status:              productStatus(req.Status),
		StoreID:             req.StoreID,
		StoreIDs:            pq.Int64Array(req.StoreIDs),
	}
	if err := s.createGraph(ctx, product, req.Options, drafts, images); err != nil {
		return nil, err
	}
	return product, nil
}

// CreateProduct 规格值做笛卡尔积生成变体
func (s *ProductService) CreateProduct(ctx context.Context, req dto.CreateProductReq) (*model.Product, error) {
	if err := validateOptions(req.Options); err != nil {
		return nil, err
	}
	if req.Price.IsNegative() {
		return nil, Validationf("price must not be negative")
	}

	values := make([][]string, len(req.Options))
	for i, o := range req.Options {
		values[i] = o.Values
	}
	combos := CartesianProduct(values)
	if len(combos) == 0 {
		return nil, Validationf("options produce no variants")
	}

	drafts := make([]variantDraft, 0, len(combos))
	for _, combo := range combos {
		selection := make(map[string]string, len(combo))
		for i, v := range combo {
			selection[req.Options[i].Name] = v
		}
		title := strings.Join(combo, " / ")
		if title == "" {
			title = "Default Title"
		}
		drafts = append(drafts, variantDraft{
			variant: model.ProductVariant{
				Title:          title,
				Price:          req.Price,
				CompareAtPrice: nullDecimal(req.CompareAtPrice),
				StockQuantity:  req.StockQuantity,
			},
			selection: selection,
		})
	}

	images, err := s.resolveImages(ctx, req.Images)
	if err != nil {
		return nil, err
	}

	product := &model.Product{
		UniqueReferenceCode: req.UniqueReferenceCode,
		Title:               req.Title,
		Description:         req.Description,
		Vendor:              req.Vendor,
		ProductType:         req.ProductType,
		Tags:                pq.StringArray(req.Tags),
		Status:              productStatus(req.Status),
		StoreID:             req.StoreID,
		StoreIDs:            pq.Int64Array(req.StoreIDs),
	}
	if err := s.createGraph(ctx, product, req.Options, drafts, images); err != nil {
		return nil, err
	}
	return product, nil
}

// createGraph 商品/规格/变体/图片在同一事务中创建
func (s *ProductService) createGraph(ctx context.Context, product *model.Product, options []dto.OptionReq, drafts []variantDraft, images []model.ProductImage) error {
	if existing, err := s.products.GetByReferenceCode(ctx, product.UniqueReferenceCode); err == nil {
		return newError(KindConflict, "create product",
			fmt.Errorf("reference code %q already used by product %d", product.UniqueReferenceCode, existing.ID))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	err := s.products.Transaction(ctx, func(tx repository.ProductRepository) error {
		// 1. 商品
		if err := tx.Create(ctx, product); err != nil {
			return err
		}

		// 2. 规格 + 规格值
		opts := make([]model.ProductOption, len(options))
		for i, o := range options {
			opts[i] = model.ProductOption{ProductID: product.ID, Name: strings.TrimSpace(o.Name), Position: i + 1}
			for j, v := range o.Values {
				opts[i].Values = append(opts[i].Values, model.ProductOptionValue{Value: strings.TrimSpace(v), Position: j + 1})
			}
		}
		if err := tx.CreateOptions(ctx, opts); err != nil {
			return err
		}
		valueIDs := map[string]map[string]int64{}
		for _, o := range opts {
			valueIDs[o.Name] = map[string]int64{}
			for _, v := range o.Values {
				valueIDs[o.Name][v.Value] = v.ID
			}
		}

		// 3. 变体 (序号从 1 开始) + 规格关联
		variants := make([]model.ProductVariant, len(drafts))
		for i, d := range drafts {
			v := d.variant
			v.ProductID = product.ID
			v.Ordinal = i + 1
			for _, o := range opts {
				if id, ok := valueIDs[o.Name][strings.TrimSpace(d.selection[o.Name])]; ok {
					v.VariantOptions = append(v.VariantOptions, model.ProductVariantOption{OptionValueID: id})
				}
			}
			variants[i] = v
		}
		if err := tx.CreateVariants(ctx, variants); err != nil {
			return err
		}

		// 4. 商品级图片 + 变体图片
		all := make([]model.ProductImage, 0, len(images)+len(variants))
		for _, img := range images {
			img.ProductID = product.ID
			all = append(all, img)
		}
		for i := range variants {
			if variants[i].ImageURL == "" {
				continue
			}
			vid := variants[i].ID
			all = append(all, model.ProductImage{ProductID: product.ID, VariantID: &vid, OriginalURL: variants[i].ImageURL})
		}
		if err := tx.CreateImages(ctx, all); err != nil {
			return err
		}

		// 5. 图片并集
		product.Options, product.Variants, product.Images = opts, variants, all
		product.RebuildImageURLs()
		return tx.UpdateFields(ctx, product.ID, map[string]interface{}{"all_image_urls": product.AllImageURLs})
	})
	if err != nil {
		return newError(KindInternal, "create product", err)
	}

	s.log.Info("商品已创建",
		zap.Int64("product_id", product.ID),
		zap.Int("options", len(product.Options)),
		zap.Int("variants", len(product.Variants)))
	return nil
}

// ==================== 更新 ====================

// UpdateProduct 本地更新；req.Remote 非空时随后同步到指定店铺
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, req dto.UpdateProductReq) (*model.Product, *SyncResult, error) {
	product, err := s.products.GetGraph(ctx, id)
	if err != nil {
		return nil, nil, notFound(err, ErrProductNotFound)
	}

	variants := map[int64]*model.ProductVariant{}
	for i := range product.Variants {
		variants[product.Variants[i].ID] = &product.Variants[i]
	}
	for _, vu := range req.Variants {
		if _, ok := variants[vu.ID]; !ok {
			return nil, nil, newError(KindNotFound, "update product", fmt.Errorf("%w: %d", ErrVariantNotFound, vu.ID))
		}
		if vu.Price != nil && vu.Price.IsNegative() {
			return nil, nil, Validationf("variant %d: price must not be negative", vu.ID)
		}
	}

	var images []model.ProductImage
	if req.Images != nil {
		if images, err = s.resolveImages(ctx, req.Images); err != nil {
			return nil, nil, err
		}
	}

	// 库存归零前的快照
	var zeroed []*model.ProductVariant
	for _, vu := range req.Variants {
		if vu.StockQuantity == nil || *vu.StockQuantity != 0 || variants[vu.ID].StockQuantity == 0 {
			continue
		}
		snapshot, err := s.products.GetVariant(ctx, vu.ID)
		if err != nil {
			return nil, nil, notFound(err, ErrVariantNotFound)
		}
		zeroed = append(zeroed, snapshot)
	}

	err = s.products.Transaction(ctx, func(tx repository.ProductRepository) error {
		// 1. 商品字段
		fields := map[string]interface{}{}
		if req.Title != nil {
			fields["title"] = *req.Title
		}
		if req.Description != nil {
			fields["description"] = *req.Description
		}
		if req.Vendor != nil {
			fields["vendor"] = *req.Vendor
		}
		if req.ProductType != nil {
			fields["product_type"] = *req.ProductType
		}
		if req.Tags != nil {
			fields["tags"] = pq.StringArray(req.Tags)
		}
		if req.Status != nil {
			fields["status"] = productStatus(*req.Status)
		}
		if len(fields) > 0 {
			if err := tx.UpdateFields(ctx, id, fields); err != nil {
				return err
			}
		}

		// 2. 变体字段；图片变化时清空各店铺媒体映射
		for _, vu := range req.Variants {
			v := variants[vu.ID]
			vf := map[string]interface{}{}
			if vu.Price != nil {
				vf["price"] = *vu.Price
			}
			if vu.CompareAtPrice != nil {
				vf["compare_at_price"] = nullDecimal(vu.CompareAtPrice)
			}
			if vu.StockQuantity != nil {
				vf["stock_quantity"] = *vu.StockQuantity
			}
			if vu.ImageURL != nil && *vu.ImageURL != v.ImageURL {
				vf["image_url"] = *vu.ImageURL
				if err := tx.ReplaceVariantImage(ctx, id, v.ID, *vu.ImageURL); err != nil {
					return err
				}
				upd := repository.NewVariantMapUpdate()
				for _, sid := range v.RemoteMediaIDs().StoreIDs() {
					upd.MediaIDs.Delete(sid)
				}
				if err := tx.ApplyVariantMapUpdate(ctx, v.ID, upd); err != nil {
					return err
				}
			}
			if len(vf) > 0 {
				if err := tx.UpdateVariantFields(ctx, v.ID, vf); err != nil {
					return err
				}
			}
		}

		// 3. 商品级图片
		if req.Images != nil {
			if err := tx.ReplaceImages(ctx, id, images); err != nil {
				return err
			}
		}

		// 4. 重建图片并集
		graph, err := tx.GetGraph(ctx, id)
		if err != nil {
			return err
		}
		graph.RebuildImageURLs()
		if err := tx.UpdateFields(ctx, id, map[string]interface{}{"all_image_urls": graph.AllImageURLs}); err != nil {
			return err
		}
		product = graph
		return nil
	})
	if err != nil {
		return nil, nil, newError(KindInternal, "update product", err)
	}

	var result *SyncResult
	if req.Remote != nil {
		result, err = s.sync.SyncProduct(ctx, id, toSyncRequest(req.Remote.SyncReq))
		if err != nil {
			return product, nil, err
		}
	}

	for _, snapshot := range zeroed {
		s.zero.Dispatch(snapshot)
	}
	return product, result, nil
}

// ==================== 同步入口 ====================

func (s *ProductService) SyncProductToStore(ctx context.Context, id int64, req dto.SyncReq) (*SyncResult, error) {
	return s.sync.SyncProduct(ctx, id, toSyncRequest(req))
}

func (s *ProductService) BulkSyncProducts(ctx context.Context, req dto.BulkSyncReq) (*BulkSyncResult, error) {
	if len(req.ProductIDs) == 0 {
		return nil, Validationf("product_ids is required")
	}
	return s.sync.BulkSync(ctx, req.ProductIDs, toSyncRequest(req.SyncReq)), nil
}

func toSyncRequest(req dto.SyncReq) SyncRequest {
	out := SyncRequest{StoreIDs: req.StoreIDs, StoreID: req.StoreID, LocationID: req.LocationID}
	for _, t := range req.Stores {
		out.Stores = append(out.Stores, StoreTarget{StoreID: t.StoreID, LocationID: t.LocationID})
	}
	return out
}

// ==================== 库存变化 ====================

// OnVariantStockChanged 写入库存；归零交给后台处理，其它数量推送到已记录的仓库
func (s *ProductService) OnVariantStockChanged(ctx context.Context, variantID int64, quantity int) error {
	if quantity < 0 {
		return Validationf("quantity must not be negative")
	}

	// 1. 写入前快照
	snapshot, err := s.products.GetVariant(ctx, variantID)
	if err != nil {
		return notFound(err, ErrVariantNotFound)
	}

	// 2. 写入
	if err := s.products.UpdateVariantFields(ctx, variantID, map[string]interface{}{"stock_quantity": quantity}); err != nil {
		return err
	}

	// 3. 归零：后台处理，不影响本次写入结果
	if quantity == 0 {
		s.zero.Dispatch(snapshot)
		return nil
	}

	s.pushStock(ctx, snapshot, quantity)
	return nil
}

// pushStock 按库存台账推送到各店铺仓库，失败只记录日志
func (s *ProductService) pushStock(ctx context.Context, v *model.ProductVariant, quantity int) {
	if s.inventory == nil {
		return
	}
	locs, err := s.products.ListLocations(ctx, v.ProductID)
	if err != nil {
		s.log.Warn("读取库存台账失败", zap.Int64("variant_id", v.ID), zap.Error(err))
		return
	}

	byStore := map[int64][]model.ProductLocation{}
	for _, l := range locs {
		if l.VariantID == v.ID {
			byStore[l.StoreID] = append(byStore[l.StoreID], l)
		}
	}
	itemIDs := v.RemoteInventoryItemIDs()

	for sid, rows := range byStore {
		itemID, ok := itemIDs.Get(sid)
		if !ok || itemID == "" {
			continue
		}
		store, err := s.stores.GetByID(ctx, sid)
		if err != nil || !store.IsActive || !store.HasCredentials() {
			continue
		}

		locationIDs := make([]string, 0, len(rows))
		for _, r := range rows {
			locationIDs = append(locationIDs, r.LocationID)
		}
		done := s.inventory.PushQuantity(ctx, store, itemID, locationIDs, quantity)

		pushed := map[string]struct{}{}
		for _, id := range done {
			pushed[id] = struct{}{}
		}
		for i := range rows {
			if _, ok := pushed[rows[i].LocationID]; !ok {
				continue
			}
			rows[i].StockQuantity = quantity
			if err := s.products.UpsertLocation(ctx, &rows[i]); err != nil {
				s.log.Warn("更新库存台账失败", zap.Int64("variant_id", v.ID), zap.Error(err))
			}
		}
	}
}

// ==================== 查询 ====================

func (s *ProductService) GetProduct(ctx context.Context, id int64) (*dto.ProductResp, error) {
	product, err := s.products.GetGraph(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrProductNotFound)
	}
	resp := ToProductResp(product)
	return &resp, nil
}

func (s *ProductService) ListProducts(ctx context.Context, req dto.ProductListReq) (*dto.ProductListResp, error) {
	products, total, err := s.products.List(ctx, repository.ProductFilter{
		StoreID:  req.StoreID,
		Status:   model.ProductStatus(req.Status),
		Keyword:  req.Keyword,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		return nil, err
	}

	list := make([]dto.ProductResp, 0, len(products))
	for i := range products {
		list = append(list, ToProductResp(&products[i]))
	}
	return &dto.ProductListResp{List: list, Total: total, Page: req.Page, PageSize: req.PageSize}, nil
}

// GetSyncStatus 每个目标店铺的同步状态；旧数据没有显式状态时回退到 syncStatuses
func (s *ProductService) GetSyncStatus(ctx context.Context, id int64) (*dto.SyncStatusResp, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrProductNotFound)
	}

	states := p.States()
	legacy := ledger.MustDecode[string](p.SyncStatuses)
	remoteIDs := p.RemoteProductIDs()
	handles := p.RemoteHandles()
	remoteStatuses := ledger.MustDecode[string](p.ShopifyStatuses)

	seen := map[int64]struct{}{}
	var ids []int64
	for _, group := range [][]int64{p.StoreIDs, states.StoreIDs(), legacy.StoreIDs()} {
		for _, sid := range group {
			if _, ok := seen[sid]; !ok {
				seen[sid] = struct{}{}
				ids = append(ids, sid)
			}
		}
	}

	resp := &dto.SyncStatusResp{ProductID: id, Stores: make([]dto.StoreSyncStatus, 0, len(ids))}
	for _, sid := range ids {
		st := ledger.StateOf(states, sid)
		status := st.Status()
		if _, ok := states.Get(sid); !ok {
			if l, ok := legacy.Get(sid); ok {
				status = l
			}
		}
		item := dto.StoreSyncStatus{StoreID: sid, Status: status, Error: st.Error, AttemptedAt: st.AttemptedAt}
		item.RemoteProductID, _ = remoteIDs.Get(sid)
		item.Handle, _ = handles.Get(sid)
		item.RemoteStatus, _ = remoteStatuses.Get(sid)
		resp.Stores = append(resp.Stores, item)
	}
	return resp, nil
}

// ==================== 辅助 ====================

// resolveImages Base64 图片先上传到存储
func (s *ProductService) resolveImages(ctx context.Context, reqs []dto.ImageReq) ([]model.ProductImage, error) {
	images := make([]model.ProductImage, 0, len(reqs))
	for i, r := range reqs {
		url, err := s.resolveImage(ctx, r.URL, r.Base64, "product")
		if err != nil {
			return nil, err
		}
		if url == "" {
			return nil, Validationf("images[%d]: url or base64 is required", i)
		}
		order := r.DisplayOrder
		if order == 0 {
			order = i + 1
		}
		images = append(images, model.ProductImage{OriginalURL: url, DisplayOrder: order, IsPrimary: r.IsPrimary})
	}
	return images, nil
}

func (s *ProductService) resolveImage(ctx context.Context, url, base64Data, prefix string) (string, error) {
	if base64Data == "" {
		return s.rehostImage(ctx, strings.TrimSpace(url), prefix), nil
	}
	if s.storage == nil {
		return "", Validationf("image upload is not configured")
	}
	uploaded, err := s.storage.SaveBase64(ctx, base64Data, prefix)
	if err != nil {
		return "", newError(KindValidation, "upload image", err)
	}
	return uploaded, nil
}

// rehostImage 代理/缩略图地址转存到自有存储；失败时保留原地址
func (s *ProductService) rehostImage(ctx context.Context, raw, prefix string) string {
	if raw == "" || s.storage == nil {
		return raw
	}
	u, err := neturl.Parse(raw)
	if err != nil || !isProxyHost(u.Host) {
		return raw
	}
	uploaded, err := s.storage.UploadFromURL(ctx, raw, prefix+path.Ext(u.Path))
	if err != nil {
		s.log.Warn("图片转存失败，使用原地址", zap.String("url", raw), zap.Error(err))
		return raw
	}
	return uploaded
}

func validateOptions(options []dto.OptionReq) error {
	seen := map[string]struct{}{}
	for i, o := range options {
		name := strings.ToLower(strings.TrimSpace(o.Name))
		if name == "" {
			return Validationf("options[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return Validationf("options[%d]: duplicate option %q", i, o.Name)
		}
		seen[name] = struct{}{}

		values := map[string]struct{}{}
		for _, v := range o.Values {
			v = strings.TrimSpace(v)
			if v == "" {
				return Validationf("options[%d]: empty value", i)
			}
			if _, dup := values[v]; dup {
				return Validationf("options[%d]: duplicate value %q", i, v)
			}
			values[v] = struct{}{}
		}
	}
	return nil
}

// validateSelection 变体的规格选择必须引用已声明的规格和值；允许缺省
func validateSelection(options []dto.OptionReq, selection map[string]string) error {
	for name, value := range selection {
		var opt *dto.OptionReq
		for i := range options {
			if strings.TrimSpace(options[i].Name) == strings.TrimSpace(name) {
				opt = &options[i]
				break
			}
		}
		if opt == nil {
			return fmt.Errorf("unknown option %q", name)
		}
		found := false
		for _, v := range opt.Values {
			if strings.TrimSpace(v) == strings.TrimSpace(value) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown value %q for option %q", value, name)
		}
	}
	return nil
}

func productStatus(s string) model.ProductStatus {
	if model.ProductStatus(s) == model.ProductStatusPublished {
		return model.ProductStatusPublished
	}
	return model.ProductStatusDraft
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// ToProductResp 模型转响应；未预加载的关联为空
func ToProductResp(p *model.Product) dto.ProductResp {
	resp := dto.ProductResp{
		ID:                  p.ID,
		UniqueReferenceCode: p.UniqueReferenceCode,
		Title:               p.Title,
		Description:         p.Description,
		Vendor:              p.Vendor,
		ProductType:         p.ProductType,
		Tags:                p.Tags,
		Status:              string(p.Status),
		StoreIDs:            p.StoreIDs,
		AllImageURLs:        p.AllImageURLs,
		ShopifyProductIDs:   p.RemoteProductIDs(),
		ShopifyHandles:      p.RemoteHandles(),
		SyncStatuses:        ledger.MustDecode[string](p.SyncStatuses),
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}

	for _, o := range p.Options {
		or := dto.OptionResp{ID: o.ID, Name: o.Name, Position: o.Position}
		for _, v := range o.SortedValues() {
			or.Values = append(or.Values, v.Value)
		}
		resp.Options = append(resp.Options, or)
	}
	for _, v := range p.Variants {
		vr := dto.VariantResp{
			ID:                v.ID,
			Ordinal:           v.Ordinal,
			SKU:               v.SKU,
			Title:             v.Title,
			Price:             v.Price,
			StockQuantity:     v.StockQuantity,
			ImageURL:          v.ImageURL,
			StoreSKUs:         v.StoreSKUs(),
			ShopifyVariantIDs: v.RemoteVariantIDs(),
			SyncStatuses:      ledger.MustDecode[string](v.SyncStatuses),
		}
		if v.CompareAtPrice.Valid {
			compareAt := v.CompareAtPrice.Decimal
			vr.CompareAtPrice = &compareAt
		}
		resp.Variants = append(resp.Variants, vr)
	}
	for _, img := range p.Images {
		resp.Images = append(resp.Images, dto.ImageResp{
			ID:           img.ID,
			VariantID:    img.VariantID,
			URL:          img.SourceURL(),
			DisplayOrder: img.DisplayOrder,
			IsPrimary:    img.IsPrimary,
		})
	}
	return resp
}
