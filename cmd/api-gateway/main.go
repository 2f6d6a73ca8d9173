package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-commerce-api/api/swagger"
	"github.com/noah-isme/lms-commerce-api/internal/handler"
	"github.com/noah-isme/lms-commerce-api/internal/repository"
	"github.com/noah-isme/lms-commerce-api/internal/service"
	"github.com/noah-isme/lms-commerce-api/pkg/cache"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	"github.com/noah-isme/lms-commerce-api/pkg/database"
	"github.com/noah-isme/lms-commerce-api/pkg/export"
	"github.com/noah-isme/lms-commerce-api/pkg/logger"
	"github.com/noah-isme/lms-commerce-api/pkg/payment"
)

// @title LMS Commerce API
// @version 1.0.0
// @description Course catalog, checkout and support platform
// @BasePath /api/v1
// @schemes http

const subscriptionSweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	chatRepo := repository.NewChatRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Analytics.CacheTTL, logr, redisClient != nil)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "lms-commerce-api",
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, enrollmentRepo, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, cfg.Notifications, validate, logr)
	gateway := payment.NewGateway(cfg.Payment)
	checkoutSvc := service.NewCheckoutService(orderRepo, courseRepo, enrollmentSvc, notificationSvc, gateway, userRepo, validate, logr)
	orderSvc := service.NewOrderService(orderRepo, userRepo, export.NewPDFExporter(), validate, logr)
	chatSvc := service.NewChatService(chatRepo, cacheRepo, cfg.Chat, validate, logr)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, enrollmentSvc, courseRepo, cfg.Subscriptions, validate, logr)
	analyticsSvc := service.NewAnalyticsService(analyticsRepo, chatRepo, subscriptionRepo, cacheSvc, metricsSvc, cfg.Analytics, logr)
	exportSvc := service.NewExportService(analyticsSvc, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	handlers := handler.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Users:         handler.NewUserHandler(userSvc),
		Courses:       handler.NewCourseHandler(courseSvc),
		Enrollments:   handler.NewEnrollmentHandler(enrollmentSvc),
		Checkout:      handler.NewCheckoutHandler(checkoutSvc),
		Orders:        handler.NewOrderHandler(orderSvc),
		Chats:         handler.NewChatHandler(chatSvc),
		Notifications: handler.NewNotificationHandler(notificationSvc),
		Subscriptions: handler.NewSubscriptionHandler(subscriptionSvc),
		Analytics:     handler.NewAnalyticsHandler(analyticsSvc, exportSvc),
		Metrics:       handler.NewMetricsHandler(metricsSvc, db),
	}

	r := handler.NewRouter(cfg, logr, authSvc, metricsSvc, handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	if cfg.Subscriptions.Enabled {
		go sweepSubscriptions(ctx, subscriptionSvc, logr)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// sweepSubscriptions periodically demotes subscriptions past their paid
// period so lapsed access expires without a billing webhook.
func sweepSubscriptions(ctx context.Context, subs *service.SubscriptionService, logr *zap.Logger) {
	ticker := time.NewTicker(subscriptionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := subs.SweepExpired(ctx)
			if err != nil {
				logr.Sugar().Errorw("subscription sweep failed", "error", err)
				continue
			}
			if count > 0 {
				logr.Sugar().Infow("subscriptions expired", "count", count)
			}
		}
	}
}
