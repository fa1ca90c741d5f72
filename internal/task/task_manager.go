package task

import (
	"context"

	"go.uber.org/zap"

	"shopify_sync_v1/internal/service"
	"shopify_sync_v1/pkg/logger"
)

// ==================== TaskManager 同步任务管理器 ====================

// TaskManager 统一管理后台定时任务
// 管理范围：失败重试、仓库缓存刷新
type TaskManager struct {
	retryTask    *RetrySyncTask
	locationTask *LocationRefreshTask
	log          *zap.Logger
}

// TaskManagerDeps 任务管理器依赖
type TaskManagerDeps struct {
	Retrier   FailedRetrier
	Refresher LocationRefresher
}

// TaskManagerConfig 任务管理器配置
type TaskManagerConfig struct {
	RetryEnabled bool
	RetrySpec    string
	RetryLimit   int

	LocationEnabled bool
	LocationSpec    string
}

// DefaultConfig 默认配置
func DefaultConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		RetryEnabled: true,
		RetrySpec:    "0 */10 * * * *",
		RetryLimit:   100,

		LocationEnabled: true,
		LocationSpec:    "0 0 */6 * * *",
	}
}

// NewTaskManager 创建任务管理器
func NewTaskManager(deps *TaskManagerDeps, cfg *TaskManagerConfig) *TaskManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	tm := &TaskManager{log: logger.Named("task")}

	// 失败重试任务
	if cfg.RetryEnabled && deps.Retrier != nil {
		tm.retryTask = NewRetrySyncTask(deps.Retrier, cfg.RetrySpec)
		if cfg.RetryLimit > 0 {
			tm.retryTask.limit = cfg.RetryLimit
		}
	}

	// 仓库刷新任务
	if cfg.LocationEnabled && deps.Refresher != nil {
		tm.locationTask = NewLocationRefreshTask(deps.Refresher, cfg.LocationSpec)
	}

	return tm
}

// ==================== 生命周期管理 ====================

// Start 启动所有任务；任一任务的 cron 表达式非法时返回错误
func (tm *TaskManager) Start() error {
	tm.log.Info("正在启动后台任务...")

	if tm.retryTask != nil {
		if err := tm.retryTask.Start(); err != nil {
			return err
		}
	}
	if tm.locationTask != nil {
		if err := tm.locationTask.Start(); err != nil {
			return err
		}
	}

	tm.log.Info("后台任务已全部启动")
	return nil
}

// Stop 停止所有任务
func (tm *TaskManager) Stop() {
	tm.log.Info("正在停止后台任务...")

	if tm.retryTask != nil {
		tm.retryTask.Stop()
	}
	if tm.locationTask != nil {
		tm.locationTask.Stop()
	}

	tm.log.Info("后台任务已全部停止")
}

// ==================== 手动触发接口 ====================

// TriggerRetry 立即执行一轮失败重试
func (tm *TaskManager) TriggerRetry(ctx context.Context) (*service.BulkSyncResult, error) {
	if tm.retryTask == nil {
		return nil, ErrTaskDisabled
	}
	return tm.retryTask.RunNow(ctx)
}

// TriggerLocationRefresh 立即刷新所有店铺仓库
func (tm *TaskManager) TriggerLocationRefresh(ctx context.Context) (int, error) {
	if tm.locationTask == nil {
		return 0, ErrTaskDisabled
	}
	return tm.locationTask.RunNow(ctx)
}

// ==================== 状态查询 ====================

// Status 获取任务状态
func (tm *TaskManager) Status() map[string]bool {
	return map[string]bool{
		"retry":    tm.retryTask != nil,
		"location": tm.locationTask != nil,
	}
}

// ==================== 错误定义 ====================

type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrTaskDisabled TaskError = "task is disabled"
	ErrTaskRunning  TaskError = "task is already running"
)
