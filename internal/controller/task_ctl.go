package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"shopify_sync_v1/internal/service"
	"shopify_sync_v1/internal/task"
)

// TaskAPI 后台任务 (task.TaskManager 实现)
type TaskAPI interface {
	TriggerRetry(ctx context.Context) (*service.BulkSyncResult, error)
	TriggerLocationRefresh(ctx context.Context) (int, error)
	Status() map[string]bool
}

var _ TaskAPI = (*task.TaskManager)(nil)

type TaskController struct {
	tasks TaskAPI
}

func NewTaskController(tasks TaskAPI) *TaskController {
	return &TaskController{tasks: tasks}
}

// GetTasks 任务状态
// @Summary 后台任务启用状态
// @Tags Task
// @Produce json
// @Success 200 {object} map[string]bool
// @Router /api/tasks [get]
func (ctrl *TaskController) GetTasks(c *gin.Context) {
	success(c, ctrl.tasks.Status())
}

// TriggerRetry 立即重试失败商品
// @Summary 立即执行一轮失败重试
// @Tags Task
// @Produce json
// @Success 200 {object} service.BulkSyncResult
// @Failure 409 {object} map[string]interface{} "任务未启用或执行中"
// @Failure 429 {object} map[string]interface{} "冷却中"
// @Router /api/tasks/retry [post]
func (ctrl *TaskController) TriggerRetry(c *gin.Context) {
	result, err := ctrl.tasks.TriggerRetry(c.Request.Context())
	if err != nil {
		taskFail(c, err)
		return
	}
	success(c, result)
}

// TriggerLocationRefresh 立即刷新全部店铺仓库
// @Summary 立即刷新所有店铺仓库缓存
// @Tags Task
// @Produce json
// @Success 200 {object} map[string]int
// @Failure 409 {object} map[string]interface{} "任务未启用"
// @Router /api/tasks/location-refresh [post]
func (ctrl *TaskController) TriggerLocationRefresh(c *gin.Context) {
	refreshed, err := ctrl.tasks.TriggerLocationRefresh(c.Request.Context())
	if err != nil {
		taskFail(c, err)
		return
	}
	success(c, gin.H{"refreshed": refreshed})
}

func taskFail(c *gin.Context, err error) {
	if errors.Is(err, task.ErrTaskDisabled) || errors.Is(err, task.ErrTaskRunning) {
		_ = c.Error(err)
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error()})
		return
	}
	fail(c, err)
}
