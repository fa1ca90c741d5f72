package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"shopify_sync_v1/internal/config"
	"shopify_sync_v1/internal/controller"
	"shopify_sync_v1/internal/event"
	"shopify_sync_v1/internal/middleware"
	"shopify_sync_v1/internal/model"
	"shopify_sync_v1/internal/repository"
	"shopify_sync_v1/internal/router"
	"shopify_sync_v1/internal/service"
	"shopify_sync_v1/internal/task"
	"shopify_sync_v1/pkg/database"
	"shopify_sync_v1/pkg/logger"
	"shopify_sync_v1/pkg/net"
	"shopify_sync_v1/pkg/shopify"
)

func main() {
	// 1. 加载配置 + 日志
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	zl, err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.Server.Mode == gin.DebugMode,
	})
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// 2. 初始化数据库
	db, err := database.InitDB(database.Options{
		DSN:             cfg.Database.DSN,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogLevel:        cfg.Database.LogLevel,
	}, zl, model.AllModels()...)
	if err != nil {
		zl.Fatal("数据库初始化失败", zap.Error(err))
	}

	// 3. 初始化依赖
	deps := initDependencies(cfg, db, zl)

	// 4. 后台任务 + 库存消息
	ctx, cancel := context.WithCancel(context.Background())
	initTasks(cfg, deps, zl)
	deps.Controllers.Task = controller.NewTaskController(deps.Tasks)
	initConsumers(ctx, cfg, deps, zl)

	// 5. 初始化路由
	gin.SetMode(cfg.Server.Mode)
	limiter := middleware.GetLimiter()
	r := router.New(router.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		Limiter:        limiter,
		Log:            logger.Named("http"),
	})
	router.InitRoutes(r, deps.Controllers, limiter)

	// 6. 启动服务
	startServer(cfg, r, zl)

	// 7. 依次关闭后台组件
	cancel()
	deps.shutdown(zl)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB          *gorm.DB
	Repos       *Repositories
	Dispatcher  net.Dispatcher
	Shopify     *shopify.Client
	Publisher   event.Publisher
	Services    *Services
	Controllers router.Controllers
	Tasks       *task.TaskManager
	Consumer    *event.StockConsumer
}

// Repositories 仓库集合
type Repositories struct {
	Product repository.ProductRepository
	Store   repository.StoreRepository
}

// Services 服务集合
type Services struct {
	Storage   *service.StorageService
	Sync      *service.SyncService
	Zero      *service.ZeroInventoryHandler
	Inventory *service.InventoryActivator
	Product   *service.ProductService
	Store     *service.StoreService
}

// ==================== 初始化函数 ====================

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, db *gorm.DB, zl *zap.Logger) *Dependencies {
	// -------- Repo 层 --------
	repos := &Repositories{
		Product: repository.NewProductRepository(db),
		Store:   repository.NewStoreRepository(db),
	}

	// -------- Shopify 客户端 --------
	dispatcher := net.NewDispatcher(
		net.NewRateLimitProvider(cfg.Shopify.RequestsPerSecond, cfg.Shopify.Burst),
		net.WithClient(&http.Client{Timeout: cfg.Shopify.Timeout}),
		net.WithMaxRetries(cfg.Shopify.MaxRetries),
	)
	client := shopify.NewClient(dispatcher, cfg.Shopify.APIVersion, logger.Named("shopify"))

	// -------- 事件发布 --------
	var publisher event.Publisher = event.NewNoopPublisher(logger.Named("event"))
	if cfg.Kafka.Enabled {
		publisher = event.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventTopic, logger.Named("event"))
	}

	// -------- 业务服务 --------
	services := &Services{Storage: initStorageService(cfg, zl)}
	services.Sync = service.NewSyncService(repos.Product, repos.Store, client, service.MediaOptions{
		PollTimeout:  cfg.Sync.MediaPollTimeout,
		PollInterval: cfg.Sync.MediaPollInterval,
		DeleteOrphan: cfg.Sync.DeleteDetachedMedia,
		Preflight:    cfg.Sync.MediaPreflight,
	}, publisher, service.SyncOptions{
		BatchSize:      cfg.Sync.BatchSize,
		BatchDelay:     cfg.Sync.BatchDelay,
		RetryAttempts:  cfg.Sync.RetryAttempts,
		RetryBaseDelay: cfg.Sync.RetryBaseDelay,
	})
	services.Zero = service.NewZeroInventoryHandler(repos.Product, repos.Store, client, publisher)
	services.Inventory = service.NewInventoryActivator(client, repos.Store)
	services.Product = service.NewProductService(
		repos.Product, repos.Store, services.Storage,
		services.Sync, services.Zero, services.Inventory,
	)
	services.Store = service.NewStoreService(repos.Store, client)

	// -------- Controller 层 --------
	controllers := router.Controllers{
		Product: controller.NewProductController(services.Product),
		Store:   controller.NewStoreController(services.Store),
	}

	return &Dependencies{
		DB:          db,
		Repos:       repos,
		Dispatcher:  dispatcher,
		Shopify:     client,
		Publisher:   publisher,
		Services:    services,
		Controllers: controllers,
	}
}

// initStorageService 初始化存储服务，失败时 base64 图片导入不可用
func initStorageService(cfg *config.Config, zl *zap.Logger) *service.StorageService {
	storageSvc, err := service.NewStorageService(service.StorageConfig{
		Provider:  cfg.Storage.Provider,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Endpoint:  cfg.Storage.Endpoint,
		CDNDomain: cfg.Storage.CDNDomain,
		BasePath:  cfg.Storage.BasePath,
	})
	if err != nil {
		zl.Warn("存储服务初始化失败", zap.Error(err))
		return nil
	}
	return storageSvc
}

// ==================== 后台任务 ====================

// initTasks 启动定时任务
func initTasks(cfg *config.Config, deps *Dependencies, zl *zap.Logger) {
	tcfg := task.DefaultConfig()
	tcfg.RetryEnabled = cfg.Sync.ScheduleEnabled
	tcfg.LocationEnabled = cfg.Sync.ScheduleEnabled
	if cfg.Sync.RetrySchedule != "" {
		tcfg.RetrySpec = cfg.Sync.RetrySchedule
	}
	if cfg.Sync.LocationRefresh != "" {
		tcfg.LocationSpec = cfg.Sync.LocationRefresh
	}

	deps.Tasks = task.NewTaskManager(&task.TaskManagerDeps{
		Retrier:   deps.Services.Sync,
		Refresher: deps.Services.Store,
	}, tcfg)
	if err := deps.Tasks.Start(); err != nil {
		zl.Fatal("定时任务启动失败", zap.Error(err))
	}
	zl.Info("定时任务已启动", zap.Any("status", deps.Tasks.Status()))
}

// initConsumers 启动库存变化消费者
func initConsumers(ctx context.Context, cfg *config.Config, deps *Dependencies, zl *zap.Logger) {
	if !cfg.Kafka.Enabled {
		return
	}
	deps.Consumer = event.NewStockConsumer(
		cfg.Kafka.Brokers, cfg.Kafka.StockTopic, cfg.Kafka.GroupID,
		deps.Services.Product, logger.Named("stock-consumer"),
	)
	go deps.Consumer.Start(ctx)
	zl.Info("库存消费者已启动", zap.String("topic", cfg.Kafka.StockTopic))
}

// shutdown 停止任务，等待零库存处理完成，关闭 Kafka 连接
func (d *Dependencies) shutdown(zl *zap.Logger) {
	if d.Tasks != nil {
		d.Tasks.Stop()
	}
	if d.Consumer != nil {
		if err := d.Consumer.Close(); err != nil {
			zl.Warn("关闭库存消费者失败", zap.Error(err))
		}
	}
	d.Services.Zero.Wait()
	if err := d.Publisher.Close(); err != nil {
		zl.Warn("关闭事件发布失败", zap.Error(err))
	}
	if sqlDB, err := d.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	zl.Info("服务已退出")
}

// ==================== 服务启动 ====================

// startServer 启动 HTTP 服务，收到退出信号后优雅关闭
func startServer(cfg *config.Config, r *gin.Engine, zl *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	// 异步启动服务
	go func() {
		zl.Info("服务启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("服务强制关闭", zap.Error(err))
	}
}
