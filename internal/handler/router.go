package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/middleware"
	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/internal/service"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	"github.com/noah-isme/lms-commerce-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-commerce-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-commerce-api/pkg/middleware/requestid"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Courses       *CourseHandler
	Enrollments   *EnrollmentHandler
	Checkout      *CheckoutHandler
	Orders        *OrderHandler
	Chats         *ChatHandler
	Notifications *NotificationHandler
	Subscriptions *SubscriptionHandler
	Analytics     *AnalyticsHandler
	Metrics       *MetricsHandler
}

// NewRouter assembles the gin engine with all middleware and routes.
func NewRouter(cfg *config.Config, logr *zap.Logger, auth *service.AuthService, metrics *service.MetricsService, h Handlers) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", middleware.JWT(auth), middleware.RequireStaff(), h.Metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Public auth surface plus the gateway webhook, which authenticates by
	// HMAC signature instead of a bearer token.
	api.POST("/auth/register", h.Auth.Register)
	api.POST("/auth/login", h.Auth.Login)
	api.POST("/auth/refresh", h.Auth.Refresh)
	api.POST("/checkout/payment/confirm", h.Checkout.Webhook)

	// Catalog reads work anonymously but honor claims when present.
	catalog := api.Group("", middleware.OptionalJWT(auth))
	catalog.GET("/courses", h.Courses.List)
	catalog.GET("/courses/:slug", h.Courses.GetTree)
	catalog.GET("/lessons/:id", h.Courses.GetLesson)
	catalog.GET("/plans", h.Subscriptions.ListPlans)
	catalog.GET("/plans/:id/courses", h.Subscriptions.PlanCourses)

	authed := api.Group("", middleware.JWT(auth))

	authed.POST("/auth/logout", h.Auth.Logout)
	authed.POST("/auth/change-password", h.Auth.ChangePassword)
	authed.GET("/auth/me", h.Auth.Me)

	users := authed.Group("/users", middleware.RequirePermission(func(p models.Permissions) bool { return p.ManageUsers }))
	users.GET("", h.Users.List)
	users.POST("", h.Users.Create)
	users.POST("/search", h.Users.Search)
	users.PUT("/:id", h.Users.Update)
	users.DELETE("/:id", h.Users.Delete)

	// Reads of a single user admit the record owner as well as user admins.
	authed.GET("/users/:id",
		middleware.RequireRoles(middleware.AllowSelf, string(models.RoleAdmin), string(models.RoleCEO)),
		h.Users.Get)

	content := authed.Group("/admin", middleware.RequirePermission(func(p models.Permissions) bool { return p.ManageContent }))
	content.POST("/courses", h.Courses.Create)
	content.PUT("/courses/:id", h.Courses.Update)
	content.DELETE("/courses/:id", h.Courses.Delete)
	content.POST("/courses/:id/modules", h.Courses.AddModule)
	content.PUT("/courses/:id/modules/reorder", h.Courses.ReorderModules)
	content.PUT("/modules/:id", h.Courses.RenameModule)
	content.DELETE("/modules/:id", h.Courses.DeleteModule)
	content.POST("/modules/:id/lessons", h.Courses.AddLesson)
	content.PUT("/modules/:id/lessons/reorder", h.Courses.ReorderLessons)
	content.PUT("/lessons/:id", h.Courses.UpdateLesson)
	content.DELETE("/lessons/:id", h.Courses.DeleteLesson)
	content.POST("/plans", h.Subscriptions.CreatePlan)
	content.PUT("/plans/:id", h.Subscriptions.UpdatePlan)

	authed.GET("/enrollments", h.Enrollments.List)
	authed.GET("/enrollments/my-courses", h.Enrollments.MyCourses)
	grants := authed.Group("", middleware.RequirePermission(func(p models.Permissions) bool { return p.ManageUsers }))
	grants.POST("/enrollments", h.Enrollments.Grant)
	grants.DELETE("/enrollments/:id", h.Enrollments.Revoke)

	authed.POST("/checkout", h.Checkout.Checkout)

	authed.GET("/orders", h.Orders.List)
	authed.GET("/orders/:id", h.Orders.Get)
	authed.PUT("/orders/:id/status", h.Orders.UpdateStatus)
	authed.DELETE("/orders/:id", h.Orders.Delete)
	authed.GET("/orders/:id/receipt", h.Orders.Receipt)

	authed.POST("/chats", h.Chats.Open)
	authed.GET("/chats", h.Chats.List)
	authed.GET("/chats/unread-count", h.Chats.Unread)
	authed.GET("/chats/:id/messages", h.Chats.Messages)
	authed.POST("/chats/:id/messages", h.Chats.Send)
	authed.POST("/chats/:id/read", h.Chats.MarkRead)
	authed.GET("/chats/:id/typing", h.Chats.TypingState)
	authed.POST("/chats/:id/typing", h.Chats.Typing)
	authed.PUT("/chats/:id/status", h.Chats.UpdateStatus)

	authed.GET("/notifications", h.Notifications.List)
	authed.POST("/notifications",
		middleware.RequirePermission(func(p models.Permissions) bool { return p.ManageUsers }),
		h.Notifications.Create)
	authed.GET("/notifications/unread-count", h.Notifications.UnreadCount)
	authed.POST("/notifications/:id/read", h.Notifications.MarkRead)
	authed.POST("/notifications/read-all", h.Notifications.MarkAllRead)
	authed.POST("/notifications/broadcast",
		middleware.RequirePermission(func(p models.Permissions) bool { return p.ManageUsers }),
		h.Notifications.Broadcast)

	authed.POST("/subscriptions", h.Subscriptions.Subscribe)
	authed.GET("/subscriptions", h.Subscriptions.ListMine)
	authed.POST("/subscriptions/:id/cancel", h.Subscriptions.Cancel)
	authed.POST("/subscriptions/:id/renew",
		middleware.RequirePermission(func(p models.Permissions) bool { return p.ManageOrders }),
		h.Subscriptions.Renew)

	analytics := authed.Group("/analytics", middleware.RequireStaff())
	analytics.GET("/revenue", h.Analytics.Revenue)
	analytics.GET("/overview", h.Analytics.Overview)
	analytics.GET("/system", h.Analytics.System)
	analytics.GET("/revenue/export", h.Analytics.ExportRevenue)
	analytics.GET("/top-courses/export", h.Analytics.ExportTopCourses)

	return r
}
