package handler

import (
	"bookmygas/internal/config"
	"bookmygas/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.PaymentGateway) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg, gw)

	// API 路由组，全部接口需要身份头
	api := r.Group("/api/v1")
	api.Use(IdentityMiddleware())
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.POST("/register", h.Register)
			account.GET("/profile", h.GetProfile)
			account.POST("/profile", h.UpdateProfile)
			account.GET("/quota-entries", h.ListQuotaEntries)
		}

		// 开户相关
		connection := api.Group("/connection")
		{
			connection.POST("/apply", h.ApplyConnection)
		}

		// 预订相关
		booking := api.Group("/booking")
		{
			booking.POST("/create", h.CreateBooking)
			booking.GET("/detail", h.GetBooking)
			booking.GET("/list", h.ListMyBookings)
		}

		// 支付相关
		payment := api.Group("/payment")
		{
			payment.POST("/order", h.CreatePaymentOrder)
		}

		// 管理员相关
		admin := api.Group("/admin")
		admin.Use(AdminOnlyMiddleware())
		{
			admin.GET("/requests", h.ListPendingRequests)
			admin.GET("/bookings", h.ListAllBookings)
			admin.POST("/booking/approve", h.ApproveBooking)
			admin.POST("/booking/reject", h.RejectBooking)
			admin.POST("/booking/deliver", h.DeliverBooking)

			admin.GET("/connections", h.ListConnectionRequests)
			admin.POST("/connection/review", h.ReviewConnection)
			admin.GET("/users", h.ListUsers)

			admin.GET("/settings/price", h.GetPrice)
			admin.PUT("/settings/price", h.UpdatePrice)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
