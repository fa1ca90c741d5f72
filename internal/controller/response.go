package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"shopify_sync_v1/internal/service"
	"shopify_sync_v1/pkg/logger"
)

// ==================== 统一响应 ====================

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message})
}

// statusOf 错误分类 -> HTTP 状态码
func statusOf(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindRemote:
		return http.StatusBadGateway
	case service.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 按错误分类返回；500 不暴露内部错误细节
func fail(c *gin.Context, err error) {
	status := statusOf(service.KindOf(err))
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Named("http").Error("请求处理失败",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		message = "internal error"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"code": status, "message": message})
}

// pathID 解析路径参数中的正整数 ID
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
