package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type mockAnalyticsRepo struct {
	gross       int64
	orders      int
	byDay       []models.RevenuePoint
	top         []models.CourseRevenue
	recurring   int64
	users       int
	students    int
	orderTotal  int
	pending     int
	enrollments int

	revenueCalls int
}

func (m *mockAnalyticsRepo) RevenueTotals(ctx context.Context, filter models.RevenueFilter) (int64, int, error) {
	m.revenueCalls++
	return m.gross, m.orders, nil
}

func (m *mockAnalyticsRepo) RevenueByDay(ctx context.Context, filter models.RevenueFilter) ([]models.RevenuePoint, error) {
	return m.byDay, nil
}

func (m *mockAnalyticsRepo) TopCourses(ctx context.Context, filter models.RevenueFilter, limit int) ([]models.CourseRevenue, error) {
	return m.top, nil
}

func (m *mockAnalyticsRepo) SubscriptionRevenue(ctx context.Context, filter models.RevenueFilter) (int64, error) {
	return m.recurring, nil
}

func (m *mockAnalyticsRepo) CountUsers(ctx context.Context) (int, int, error) {
	return m.users, m.students, nil
}

func (m *mockAnalyticsRepo) CountOrders(ctx context.Context) (int, int, error) {
	return m.orderTotal, m.pending, nil
}

func (m *mockAnalyticsRepo) CountEnrollments(ctx context.Context) (int, error) {
	return m.enrollments, nil
}

type mockChatCounter struct {
	open int
}

func (m *mockChatCounter) CountByStatus(ctx context.Context, status models.ChatStatus) (int, error) {
	return m.open, nil
}

type mockSubscriptionCounter struct {
	active int
}

func (m *mockSubscriptionCounter) CountActive(ctx context.Context) (int, error) {
	return m.active, nil
}

func ceoClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "ceo-1", Role: models.RoleCEO, Permissions: models.PermissionsForRole(models.RoleCEO)}
}

func newAnalyticsFixture() (*AnalyticsService, *mockAnalyticsRepo) {
	repo := &mockAnalyticsRepo{
		gross:       250000,
		orders:      25,
		byDay:       []models.RevenuePoint{{GrossCents: 10000, Orders: 1}},
		top:         []models.CourseRevenue{{CourseID: "c1", CourseTitle: "Go Basics", GrossCents: 50000, Units: 10}},
		recurring:   39800,
		users:       120,
		students:    110,
		orderTotal:  40,
		pending:     3,
		enrollments: 310,
	}
	cache := NewCacheService(nil, nil, time.Minute, nil, false)
	svc := NewAnalyticsService(repo, &mockChatCounter{open: 4}, &mockSubscriptionCounter{active: 20}, cache, NewMetricsService(), config.AnalyticsConfig{}, nil)
	return svc, repo
}

func analyticsWindow() models.RevenueFilter {
	to := time.Now().UTC()
	return models.RevenueFilter{From: to.AddDate(0, -1, 0), To: to}
}

func TestRevenueRequiresViewRevenuePermission(t *testing.T) {
	svc, _ := newAnalyticsFixture()

	_, err := svc.Revenue(context.Background(), analyticsWindow(), studentClaims("u1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestRevenueRejectsInvertedRange(t *testing.T) {
	svc, _ := newAnalyticsFixture()
	filter := analyticsWindow()
	filter.From, filter.To = filter.To, filter.From

	_, err := svc.Revenue(context.Background(), filter, financialClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestRevenueComposesSummaryWithAverage(t *testing.T) {
	svc, _ := newAnalyticsFixture()

	summary, err := svc.Revenue(context.Background(), analyticsWindow(), financialClaims("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(250000), summary.GrossCents)
	assert.Equal(t, 25, summary.CompletedOrders)
	assert.Equal(t, int64(10000), summary.AverageOrderCents)
	assert.Equal(t, int64(39800), summary.SubscriptionRevenue)
	assert.Equal(t, 20, summary.ActiveSubscriptions)
	require.Len(t, summary.TopCourses, 1)
	assert.Equal(t, "Go Basics", summary.TopCourses[0].CourseTitle)
}

func TestOverviewIsStaffOnly(t *testing.T) {
	svc, _ := newAnalyticsFixture()

	_, err := svc.Overview(context.Background(), studentClaims("u1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestOverviewSkipsSectionsWithoutPermission(t *testing.T) {
	svc, repo := newAnalyticsFixture()

	// FINANCIAL has manage-orders and view-revenue but no user management
	// or support chat, so those sections stay zero.
	counts, err := svc.Overview(context.Background(), financialClaims("staff-1"))
	require.NoError(t, err)
	assert.Equal(t, 40, counts.Orders)
	assert.Equal(t, 3, counts.PendingOrders)
	assert.Equal(t, int64(250000), counts.GrossCents)
	assert.Zero(t, counts.Users)
	assert.Zero(t, counts.OpenChats)
	assert.Zero(t, counts.Enrollments)
	assert.Equal(t, 1, repo.revenueCalls)
}

func TestOverviewForCEOFillsEverySection(t *testing.T) {
	svc, _ := newAnalyticsFixture()

	counts, err := svc.Overview(context.Background(), ceoClaims())
	require.NoError(t, err)
	assert.Equal(t, 120, counts.Users)
	assert.Equal(t, 110, counts.Students)
	assert.Equal(t, 40, counts.Orders)
	assert.Equal(t, 4, counts.OpenChats)
	assert.Equal(t, 310, counts.Enrollments)
	assert.Equal(t, int64(250000), counts.GrossCents)
}

func TestSystemMetricsRequireAdminAccess(t *testing.T) {
	svc, _ := newAnalyticsFixture()

	_, err := svc.System(financialClaims("staff-1"))
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	snapshot, err := svc.System(ceoClaims())
	require.NoError(t, err)
	assert.NotNil(t, snapshot)
}
