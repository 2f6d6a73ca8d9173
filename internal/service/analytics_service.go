package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type analyticsRepository interface {
	RevenueTotals(ctx context.Context, filter models.RevenueFilter) (int64, int, error)
	RevenueByDay(ctx context.Context, filter models.RevenueFilter) ([]models.RevenuePoint, error)
	TopCourses(ctx context.Context, filter models.RevenueFilter, limit int) ([]models.CourseRevenue, error)
	SubscriptionRevenue(ctx context.Context, filter models.RevenueFilter) (int64, error)
	CountUsers(ctx context.Context) (int, int, error)
	CountOrders(ctx context.Context) (int, int, error)
	CountEnrollments(ctx context.Context) (int, error)
}

type analyticsChatCounter interface {
	CountByStatus(ctx context.Context, status models.ChatStatus) (int, error)
}

type analyticsSubscriptionCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// AnalyticsService composes the admin dashboards. The overview fans its
// aggregate queries out concurrently; sections the caller has no permission
// for are skipped and stay at their zero values.
type AnalyticsService struct {
	repo    analyticsRepository
	chats   analyticsChatCounter
	subs    analyticsSubscriptionCounter
	cache   *CacheService
	metrics *MetricsService
	cfg     config.AnalyticsConfig
	logger  *zap.Logger
}

// NewAnalyticsService constructs an AnalyticsService.
func NewAnalyticsService(repo analyticsRepository, chats analyticsChatCounter, subs analyticsSubscriptionCounter, cache *CacheService, metrics *MetricsService, cfg config.AnalyticsConfig, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{repo: repo, chats: chats, subs: subs, cache: cache, metrics: metrics, cfg: cfg, logger: logger}
}

// Revenue builds the revenue dashboard for a half-open [from, to) range.
// Requires the view-revenue permission; results are cached per range.
func (s *AnalyticsService) Revenue(ctx context.Context, filter models.RevenueFilter, claims *models.JWTClaims) (*models.RevenueSummary, error) {
	if claims == nil || !claims.Permissions.ViewRevenue {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "revenue requires the view-revenue permission")
	}
	if !filter.To.After(filter.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "range end must be after range start")
	}

	cacheKey := fmt.Sprintf("analytics:revenue:%d:%d", filter.From.Unix(), filter.To.Unix())
	var cached models.RevenueSummary
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		cached.CacheHit = true
		return &cached, nil
	}

	summary := &models.RevenueSummary{From: filter.From, To: filter.To, Currency: "USD"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(4)
	go func() {
		defer wg.Done()
		gross, orders, err := s.repo.RevenueTotals(ctx, filter)
		if err != nil {
			fail(err)
			return
		}
		mu.Lock()
		summary.GrossCents = gross
		summary.CompletedOrders = orders
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		points, err := s.repo.RevenueByDay(ctx, filter)
		if err != nil {
			fail(err)
			return
		}
		mu.Lock()
		summary.ByDay = points
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		top, err := s.repo.TopCourses(ctx, filter, 10)
		if err != nil {
			fail(err)
			return
		}
		mu.Lock()
		summary.TopCourses = top
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		recurring, err := s.repo.SubscriptionRevenue(ctx, filter)
		if err != nil {
			fail(err)
			return
		}
		active, err := s.subs.CountActive(ctx)
		if err != nil {
			fail(err)
			return
		}
		mu.Lock()
		summary.SubscriptionRevenue = recurring
		summary.ActiveSubscriptions = active
		mu.Unlock()
	}()
	wg.Wait()

	if firstErr != nil {
		return nil, appErrors.Wrap(firstErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build revenue summary")
	}
	if summary.CompletedOrders > 0 {
		summary.AverageOrderCents = summary.GrossCents / int64(summary.CompletedOrders)
	}

	if err := s.cache.Set(ctx, cacheKey, summary, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to cache revenue summary", zap.Error(err))
	}
	return summary, nil
}

// Overview builds the admin landing counts. Every section runs concurrently
// and is gated by the caller's permissions.
func (s *AnalyticsService) Overview(ctx context.Context, claims *models.JWTClaims) (*models.OverviewCounts, error) {
	if claims == nil || !claims.Role.Staff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "overview is staff only")
	}

	counts := &models.OverviewCounts{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	if claims.Permissions.ManageUsers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total, students, err := s.repo.CountUsers(ctx)
			if err != nil {
				fail(err)
				return
			}
			mu.Lock()
			counts.Users = total
			counts.Students = students
			mu.Unlock()
		}()
	}
	if claims.Permissions.ManageOrders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total, pending, err := s.repo.CountOrders(ctx)
			if err != nil {
				fail(err)
				return
			}
			mu.Lock()
			counts.Orders = total
			counts.PendingOrders = pending
			mu.Unlock()
		}()
	}
	if claims.Permissions.SupportChat {
		wg.Add(1)
		go func() {
			defer wg.Done()
			open, err := s.chats.CountByStatus(ctx, models.ChatStatusOpen)
			if err != nil {
				fail(err)
				return
			}
			mu.Lock()
			counts.OpenChats = open
			mu.Unlock()
		}()
	}
	if claims.Permissions.ManageContent || claims.Permissions.ManageUsers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enrollments, err := s.repo.CountEnrollments(ctx)
			if err != nil {
				fail(err)
				return
			}
			mu.Lock()
			counts.Enrollments = enrollments
			mu.Unlock()
		}()
	}
	if claims.Permissions.ViewRevenue {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			gross, _, err := s.repo.RevenueTotals(ctx, models.RevenueFilter{
				From: now.AddDate(0, 0, -30),
				To:   now,
			})
			if err != nil {
				fail(err)
				return
			}
			mu.Lock()
			counts.GrossCents = gross
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, appErrors.Wrap(firstErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build overview")
	}
	return counts, nil
}

// System returns the process metrics snapshot. CEO and admins only.
func (s *AnalyticsService) System(claims *models.JWTClaims) (*models.SystemMetrics, error) {
	if claims == nil || (!claims.Permissions.ManageUsers && claims.Role != models.RoleCEO) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "system metrics require admin access")
	}
	snapshot := s.metrics.Snapshot()
	return &snapshot, nil
}
