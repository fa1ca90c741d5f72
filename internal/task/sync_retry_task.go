package task

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shopify_sync_v1/internal/service"
	"shopify_sync_v1/pkg/logger"
)

// ==================== RetrySyncTask 失败重试任务 ====================

// FailedRetrier 重新同步失败店铺
type FailedRetrier interface {
	RetryFailed(ctx context.Context, limit int) (*service.BulkSyncResult, error)
}

// RetrySyncTask 定时扫描存在失败店铺的商品并重试
// 每个商品只重试失败的店铺，已成功的店铺不会重复调用远端
type RetrySyncTask struct {
	retrier FailedRetrier
	cron    *cron.Cron
	spec    string
	limit   int
	timeout time.Duration
	running atomic.Bool
	log     *zap.Logger
}

// NewRetrySyncTask 创建失败重试任务
func NewRetrySyncTask(retrier FailedRetrier, spec string) *RetrySyncTask {
	return &RetrySyncTask{
		retrier: retrier,
		cron:    cron.New(cron.WithSeconds()),
		spec:    spec,
		limit:   100,
		timeout: 30 * time.Minute,
		log:     logger.Named("task.retry"),
	}
}

// SetLimit 设置单轮最多重试的商品数
func (t *RetrySyncTask) SetLimit(limit int, timeout time.Duration) {
	t.limit = limit
	t.timeout = timeout
}

// Start 启动定时任务
func (t *RetrySyncTask) Start() error {
	_, err := t.cron.AddFunc(t.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		_, _ = t.RunNow(ctx)
	})
	if err != nil {
		return err
	}

	t.cron.Start()
	t.log.Info("失败重试任务已启动", zap.String("spec", t.spec))
	return nil
}

// Stop 停止任务，等待执行中的一轮结束
func (t *RetrySyncTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	t.log.Info("失败重试任务已停止")
}

// RunNow 立即执行一轮；上一轮未结束时返回 ErrTaskRunning
func (t *RetrySyncTask) RunNow(ctx context.Context) (*service.BulkSyncResult, error) {
	if !t.running.CompareAndSwap(false, true) {
		t.log.Info("上一轮重试尚未结束，跳过")
		return nil, ErrTaskRunning
	}
	defer t.running.Store(false)

	start := time.Now()
	res, err := t.retrier.RetryFailed(ctx, t.limit)
	if err != nil {
		t.log.Error("查询失败商品出错", zap.Error(err))
		return nil, err
	}
	if res.Total == 0 {
		t.log.Debug("无失败商品需要重试")
		return res, nil
	}

	t.log.Info("失败重试完成",
		zap.Int("total", res.Total),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("partial", res.Partial),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}
