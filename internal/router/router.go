package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"shopify_sync_v1/internal/controller"
	"shopify_sync_v1/internal/middleware"
)

// Controllers 路由依赖
type Controllers struct {
	Product *controller.ProductController
	Store   *controller.StoreController
	Task    *controller.TaskController
}

// Options 路由选项
type Options struct {
	AllowedOrigins []string
	Limiter        *middleware.SyncRateLimiter
	Log            *zap.Logger
}

// New 创建 gin 引擎并注册全局中间件
func New(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestContext())
	if opts.Log != nil {
		r.Use(middleware.AccessLog(opts.Log))
	}
	r.Use(Cors(opts.AllowedOrigins))
	return r
}

// Cors rs/cors 适配为 gin 中间件，预检请求直接返回 204
func Cors(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
		MaxAge:         600,
	})

	return func(ctx *gin.Context) {
		c.HandlerFunc(ctx.Writer, ctx.Request)
		if ctx.Request.Method == http.MethodOptions && ctx.GetHeader("Access-Control-Request-Method") != "" {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine, ctl Controllers, limiter *middleware.SyncRateLimiter) {
	if limiter == nil {
		limiter = middleware.GetLimiter()
	}

	// 1. Swagger 文档路由
	// 访问 http://localhost:8080/swagger/index.html 即可查看
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 2. API 路由组
	api := r.Group("/api")
	{
		// 商品
		products := api.Group("/products")
		{
			products.GET("", ctl.Product.GetProducts)
			products.POST("", ctl.Product.CreateProduct)
			products.POST("/ingest", ctl.Product.IngestProduct)
			products.POST("/bulk-sync",
				middleware.GlobalSyncRateLimit(limiter, middleware.SyncTypeBulk, 0),
				ctl.Product.BulkSync)

			products.GET("/:id", ctl.Product.GetProduct)
			products.PUT("/:id", ctl.Product.UpdateProduct)
			products.GET("/:id/sync-status", ctl.Product.GetSyncStatus)
			products.POST("/:id/sync",
				middleware.SyncRateLimit(limiter, middleware.SyncTypeProduct, 0),
				ctl.Product.SyncProduct)
		}

		// 变体库存
		api.PUT("/variants/:id/stock", ctl.Product.UpdateVariantStock)

		// 店铺
		stores := api.Group("/stores")
		{
			stores.GET("", ctl.Store.GetStores)
			stores.POST("", ctl.Store.CreateStore)
			stores.GET("/:id", ctl.Store.GetStore)
			stores.PUT("/:id", ctl.Store.UpdateStore)
			stores.DELETE("/:id", ctl.Store.DeleteStore)
			stores.POST("/:id/locations/refresh",
				middleware.SyncRateLimit(limiter, middleware.SyncTypeLocations, 0),
				ctl.Store.RefreshLocations)
		}

		// 后台任务
		if ctl.Task != nil {
			tasks := api.Group("/tasks")
			{
				tasks.GET("", ctl.Task.GetTasks)
				tasks.POST("/retry",
					middleware.GlobalSyncRateLimit(limiter, middleware.SyncTypeRetry, 0),
					ctl.Task.TriggerRetry)
				tasks.POST("/location-refresh",
					middleware.GlobalSyncRateLimit(limiter, middleware.SyncTypeLocations, 0),
					ctl.Task.TriggerLocationRefresh)
			}
		}
	}
}
