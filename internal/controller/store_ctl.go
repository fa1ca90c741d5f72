package controller

import (
	"context"

	"github.com/gin-gonic/gin"

	"shopify_sync_v1/internal/api/dto"
	"shopify_sync_v1/internal/service"
)

// StoreAPI 店铺服务 (service.StoreService 实现)
type StoreAPI interface {
	CreateStore(ctx context.Context, req dto.CreateStoreReq) (*dto.StoreResp, error)
	GetStore(ctx context.Context, id int64) (*dto.StoreResp, error)
	ListStores(ctx context.Context, req dto.StoreListReq) (*dto.StoreListResp, error)
	UpdateStore(ctx context.Context, id int64, req dto.UpdateStoreReq) (*dto.StoreResp, error)
	DeleteStore(ctx context.Context, id int64) error
	RefreshLocations(ctx context.Context, id int64) ([]dto.LocationResp, error)
}

var _ StoreAPI = (*service.StoreService)(nil)

type StoreController struct {
	storeService StoreAPI
}

func NewStoreController(storeService StoreAPI) *StoreController {
	return &StoreController{storeService: storeService}
}

// CreateStore 新增店铺
// @Summary 新增 Shopify 店铺
// @Tags Store
// @Accept json
// @Produce json
// @Param body body dto.CreateStoreReq true "店铺"
// @Success 200 {object} dto.StoreResp
// @Failure 409 {object} map[string]interface{} "域名已存在"
// @Router /api/stores [post]
func (ctrl *StoreController) CreateStore(c *gin.Context) {
	var req dto.CreateStoreReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	store, err := ctrl.storeService.CreateStore(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, store)
}

// GetStores 店铺列表
// @Summary 店铺列表
// @Tags Store
// @Param keyword query string false "名称/域名关键词"
// @Param is_active query bool false "是否启用"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} dto.StoreListResp
// @Router /api/stores [get]
func (ctrl *StoreController) GetStores(c *gin.Context) {
	var req dto.StoreListReq
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	list, err := ctrl.storeService.ListStores(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, list)
}

// GetStore 店铺详情
// @Summary 店铺详情 (含仓库缓存)
// @Tags Store
// @Param id path int true "店铺ID"
// @Success 200 {object} dto.StoreResp
// @Router /api/stores/{id} [get]
func (ctrl *StoreController) GetStore(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	store, err := ctrl.storeService.GetStore(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, store)
}

// UpdateStore 更新店铺
// @Summary 更新店铺凭证/状态/店铺代码
// @Tags Store
// @Accept json
// @Param id path int true "店铺ID"
// @Param body body dto.UpdateStoreReq true "更新内容"
// @Success 200 {object} dto.StoreResp
// @Router /api/stores/{id} [put]
func (ctrl *StoreController) UpdateStore(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateStoreReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	store, err := ctrl.storeService.UpdateStore(c.Request.Context(), id, req)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, store)
}

// DeleteStore 删除店铺
// @Summary 删除店铺 (软删除)
// @Tags Store
// @Param id path int true "店铺ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/stores/{id} [delete]
func (ctrl *StoreController) DeleteStore(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := ctrl.storeService.DeleteStore(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	success(c, nil)
}

// RefreshLocations 刷新仓库
// @Summary 从 Shopify 拉取仓库列表并刷新缓存
// @Tags Store
// @Param id path int true "店铺ID"
// @Success 200 {array} dto.LocationResp
// @Failure 429 {object} map[string]interface{} "刷新冷却中"
// @Router /api/stores/{id}/locations/refresh [post]
func (ctrl *StoreController) RefreshLocations(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	locs, err := ctrl.storeService.RefreshLocations(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, locs)
}
