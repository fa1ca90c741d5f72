package controller

import (
	"context"

	"github.com/gin-gonic/gin"

	"shopify_sync_v1/internal/api/dto"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/service"
)

// ProductAPI 商品服务 (service.ProductService 实现)
type ProductAPI interface {
	IngestProduct(ctx context.Context, req dto.IngestProductReq) (*model.Product, error)
	CreateProduct(ctx context.Context, req dto.CreateProductReq) (*model.Product, error)
	UpdateProduct(ctx context.Context, id int64, req dto.UpdateProductReq) (*model.Product, *service.SyncResult, error)
	SyncProductToStore(ctx context.Context, id int64, req dto.SyncReq) (*service.SyncResult, error)
	BulkSyncProducts(ctx context.Context, req dto.BulkSyncReq) (*service.BulkSyncResult, error)
	OnVariantStockChanged(ctx context.Context, variantID int64, quantity int) error
	GetProduct(ctx context.Context, id int64) (*dto.ProductResp, error)
	ListProducts(ctx context.Context, req dto.ProductListReq) (*dto.ProductListResp, error)
	GetSyncStatus(ctx context.Context, id int64) (*dto.SyncStatusResp, error)
}

var _ ProductAPI = (*service.ProductService)(nil)

type ProductController struct {
	productService ProductAPI
}

func NewProductController(productService ProductAPI) *ProductController {
	return &ProductController{productService: productService}
}

// ==================== 写入接口 ====================

// IngestProduct 完整导入商品
// @Summary 导入商品 (规格 + 变体 + 图片)，不触发同步
// @Tags Product
// @Accept json
// @Produce json
// @Param body body dto.IngestProductReq true "商品"
// @Success 200 {object} dto.ProductResp
// @Failure 400 {object} map[string]interface{} "参数错误"
// @Failure 409 {object} map[string]interface{} "参考编码重复"
// @Router /api/products/ingest [post]
func (ctrl *ProductController) IngestProduct(c *gin.Context) {
	var req dto.IngestProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	product, err := ctrl.productService.IngestProduct(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, service.ToProductResp(product))
}

// CreateProduct 按规格生成变体
// @Summary 创建商品，变体由规格值笛卡尔积生成
// @Tags Product
// @Accept json
// @Produce json
// @Param body body dto.CreateProductReq true "商品"
// @Success 200 {object} dto.ProductResp
// @Router /api/products [post]
func (ctrl *ProductController) CreateProduct(c *gin.Context) {
	var req dto.CreateProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	product, err := ctrl.productService.CreateProduct(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, service.ToProductResp(product))
}

// UpdateProduct 更新商品
// @Summary 局部更新商品；remote 非空时随后同步
// @Tags Product
// @Accept json
// @Produce json
// @Param id path int true "商品ID"
// @Param body body dto.UpdateProductReq true "更新内容"
// @Success 200 {object} map[string]interface{}
// @Router /api/products/{id} [put]
func (ctrl *ProductController) UpdateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	product, result, err := ctrl.productService.UpdateProduct(c.Request.Context(), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	data := gin.H{"product": service.ToProductResp(product)}
	if result != nil {
		data["sync"] = result
	}
	success(c, data)
}

// UpdateVariantStock 写入变体库存
// @Summary 写入变体库存；归零时后台执行下架/删除
// @Tags Product
// @Accept json
// @Produce json
// @Param id path int true "变体ID"
// @Param body body dto.StockUpdateReq true "库存"
// @Success 200 {object} map[string]interface{}
// @Router /api/variants/{id}/stock [put]
func (ctrl *ProductController) UpdateVariantStock(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.StockUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	if err := ctrl.productService.OnVariantStockChanged(c.Request.Context(), id, *req.Quantity); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"variant_id": id, "quantity": *req.Quantity})
}

// ==================== 同步接口 ====================

// SyncProduct 同步到一个或多个店铺
// @Summary 同步商品到指定店铺，部分失败时仍返回 200
// @Tags Sync
// @Accept json
// @Produce json
// @Param id path int true "商品ID"
// @Param body body dto.SyncReq false "目标店铺"
// @Success 200 {object} service.SyncResult
// @Failure 429 {object} map[string]interface{} "同步冷却中"
// @Router /api/products/{id}/sync [post]
func (ctrl *ProductController) SyncProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.SyncReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	result, err := ctrl.productService.SyncProductToStore(c.Request.Context(), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

// BulkSync 批量同步
// @Summary 批量同步商品，固定批大小并发执行
// @Tags Sync
// @Accept json
// @Produce json
// @Param body body dto.BulkSyncReq true "商品与目标店铺"
// @Success 200 {object} service.BulkSyncResult
// @Router /api/products/bulk-sync [post]
func (ctrl *ProductController) BulkSync(c *gin.Context) {
	var req dto.BulkSyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	result, err := ctrl.productService.BulkSyncProducts(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, result)
}

// GetSyncStatus 每店铺同步状态
// @Summary 查询商品在各店铺的同步状态
// @Tags Sync
// @Produce json
// @Param id path int true "商品ID"
// @Success 200 {object} dto.SyncStatusResp
// @Router /api/products/{id}/sync-status [get]
func (ctrl *ProductController) GetSyncStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	status, err := ctrl.productService.GetSyncStatus(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, status)
}

// ==================== 查询接口 ====================

// GetProducts 商品列表
// @Summary 商品列表
// @Tags Product
// @Param store_id query int false "店铺ID"
// @Param status query string false "状态筛选"
// @Param keyword query string false "标题搜索"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} dto.ProductListResp
// @Router /api/products [get]
func (ctrl *ProductController) GetProducts(c *gin.Context) {
	var req dto.ProductListReq
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	list, err := ctrl.productService.ListProducts(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, list)
}

// GetProduct 商品详情
// @Summary 商品详情 (含规格、变体、图片)
// @Tags Product
// @Param id path int true "商品ID"
// @Success 200 {object} dto.ProductResp
// @Router /api/products/{id} [get]
func (ctrl *ProductController) GetProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	product, err := ctrl.productService.GetProduct(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, product)
}
