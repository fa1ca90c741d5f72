package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ==================== SyncRateLimiter 同步冷却 ====================

// SyncRateLimiter 同一资源在冷却期内只允许一次同步；同步失败时释放冷却，允许立即重试
type SyncRateLimiter struct {
	slots sync.Map // key -> *cooldown
	now   func() time.Time
}

type cooldown struct {
	mu    sync.Mutex
	gen   uint64
	until time.Time
}

// Slot 一次成功占用的冷却，用于失败后释放
type Slot struct {
	Key string
	gen uint64
}

var globalLimiter = NewSyncRateLimiter()

// GetLimiter 进程内共享的限流器
func GetLimiter() *SyncRateLimiter {
	return globalLimiter
}

func NewSyncRateLimiter() *SyncRateLimiter {
	return &SyncRateLimiter{now: time.Now}
}

// Acquire 冷却期外占用并开始新的冷却；冷却中返回剩余时间
func (r *SyncRateLimiter) Acquire(key string, interval time.Duration) (Slot, time.Duration, bool) {
	actual, _ := r.slots.LoadOrStore(key, &cooldown{})
	cd := actual.(*cooldown)

	cd.mu.Lock()
	defer cd.mu.Unlock()

	now := r.now()
	if now.Before(cd.until) {
		return Slot{}, cd.until.Sub(now), false
	}
	cd.gen++
	cd.until = now.Add(interval)
	return Slot{Key: key, gen: cd.gen}, 0, true
}

// Release 结束 slot 对应的冷却；之后重新占用的冷却不受影响
func (r *SyncRateLimiter) Release(slot Slot) {
	actual, ok := r.slots.Load(slot.Key)
	if !ok {
		return
	}
	cd := actual.(*cooldown)
	cd.mu.Lock()
	defer cd.mu.Unlock()
	if cd.gen == slot.gen {
		cd.until = time.Time{}
	}
}

// ==================== 限流键 ====================

// SyncType 同步类型
type SyncType string

const (
	SyncTypeProduct   SyncType = "product"
	SyncTypeBulk      SyncType = "bulk"
	SyncTypeLocations SyncType = "locations"
	SyncTypeRetry     SyncType = "retry"
)

// ResourceSyncKey "product:123:sync"
func ResourceSyncKey(id int64, syncType SyncType) string {
	return fmt.Sprintf("%s:%d:sync", syncType, id)
}

// GlobalSyncKey "global:bulk"
func GlobalSyncKey(syncType SyncType) string {
	return fmt.Sprintf("global:%s", syncType)
}

// DefaultIntervals 默认冷却间隔
var DefaultIntervals = map[SyncType]time.Duration{
	SyncTypeProduct:   5 * time.Second,
	SyncTypeBulk:      30 * time.Second,
	SyncTypeLocations: time.Minute,
	SyncTypeRetry:     time.Minute,
}

func GetInterval(syncType SyncType) time.Duration {
	if interval, ok := DefaultIntervals[syncType]; ok {
		return interval
	}
	return 5 * time.Second
}

// ==================== 同步限流中间件 ====================

// SyncRateLimit 按路径参数 :id 对单个资源限流
//
// 使用示例:
//
//	products.POST("/:id/sync",
//	    middleware.SyncRateLimit(limiter, middleware.SyncTypeProduct, 0),
//	    ctl.Sync,
//	)
//
// interval 为 0 时使用默认值
func SyncRateLimit(limiter *SyncRateLimiter, syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = GetInterval(syncType)
	}

	return func(c *gin.Context) {
		key := GlobalSyncKey(syncType)
		if idStr := c.Param("id"); idStr != "" {
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil || id <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"code":    400,
					"message": "invalid id",
				})
				return
			}
			key = ResourceSyncKey(id, syncType)
		}
		guard(c, limiter, key, syncType, interval)
	}
}

// GlobalSyncRateLimit 全局限流，用于批量同步等不带资源 ID 的操作
func GlobalSyncRateLimit(limiter *SyncRateLimiter, syncType SyncType, interval time.Duration) gin.HandlerFunc {
	if interval == 0 {
		interval = GetInterval(syncType)
	}

	return func(c *gin.Context) {
		guard(c, limiter, GlobalSyncKey(syncType), syncType, interval)
	}
}

// guard 占用冷却后执行后续处理；响应为错误状态时释放冷却
func guard(c *gin.Context, limiter *SyncRateLimiter, key string, syncType SyncType, interval time.Duration) {
	slot, retryAfter, ok := limiter.Acquire(key, interval)
	if !ok {
		seconds := int(retryAfter.Seconds()) + 1
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"code":    429,
			"message": formatRetryMessage(retryAfter),
			"data": gin.H{
				"retry_after": seconds,
				"sync_type":   syncType,
			},
		})
		return
	}

	c.Next()

	if c.Writer.Status() >= http.StatusBadRequest {
		limiter.Release(slot)
	}
}

// formatRetryMessage "sync cooling down, retry in 1m30s"
func formatRetryMessage(d time.Duration) string {
	seconds := int(d.Seconds()) + 1

	if seconds < 60 {
		return fmt.Sprintf("sync cooling down, retry in %ds", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60
	if remainingSeconds == 0 {
		return fmt.Sprintf("sync cooling down, retry in %dm", minutes)
	}
	return fmt.Sprintf("sync cooling down, retry in %dm%ds", minutes, remainingSeconds)
}
