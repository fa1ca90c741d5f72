package task

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shopify_sync_v1/pkg/logger"
)

// ==================== LocationRefreshTask 仓库刷新任务 ====================

// LocationRefresher 刷新所有活跃店铺的仓库缓存
type LocationRefresher interface {
	RefreshAllLocations(ctx context.Context) (int, error)
}

// LocationRefreshTask 定时刷新店铺仓库列表
// 库存激活优先读取缓存，远端新增的仓库需要在这里被发现
type LocationRefreshTask struct {
	refresher    LocationRefresher
	cron         *cron.Cron
	spec         string
	initialDelay time.Duration
	log          *zap.Logger
}

// NewLocationRefreshTask 创建仓库刷新任务
func NewLocationRefreshTask(refresher LocationRefresher, spec string) *LocationRefreshTask {
	return &LocationRefreshTask{
		refresher:    refresher,
		cron:         cron.New(cron.WithSeconds()),
		spec:         spec,
		initialDelay: 30 * time.Second,
		log:          logger.Named("task.location"),
	}
}

// SetInitialDelay 首次执行延迟，0 表示不做首次执行
func (t *LocationRefreshTask) SetInitialDelay(d time.Duration) {
	t.initialDelay = d
}

// Start 启动定时任务
func (t *LocationRefreshTask) Start() error {
	_, err := t.cron.AddFunc(t.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		_, _ = t.RunNow(ctx)
	})
	if err != nil {
		return err
	}

	// 首次执行（延迟）
	if t.initialDelay > 0 {
		go func() {
			time.Sleep(t.initialDelay)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			_, _ = t.RunNow(ctx)
		}()
	}

	t.cron.Start()
	t.log.Info("仓库刷新任务已启动", zap.String("spec", t.spec))
	return nil
}

// Stop 停止任务
func (t *LocationRefreshTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	t.log.Info("仓库刷新任务已停止")
}

// RunNow 立即刷新，返回成功刷新的店铺数
func (t *LocationRefreshTask) RunNow(ctx context.Context) (int, error) {
	n, err := t.refresher.RefreshAllLocations(ctx)
	if err != nil {
		t.log.Error("刷新仓库失败", zap.Error(err))
		return 0, err
	}
	t.log.Info("仓库刷新完成", zap.Int("stores", n))
	return n, nil
}
