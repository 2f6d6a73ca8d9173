package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type mockSubscriptionRepo struct {
	plans       map[string]*models.SubscriptionPlan
	planCourses map[string][]string
	subs        map[string]*models.Subscription
	activeByKey map[string]*models.Subscription
	expiring    []models.Subscription
	statuses    map[string]models.SubscriptionStatus
	renewed     map[string][2]time.Time
}

func (m *mockSubscriptionRepo) ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	var out []models.SubscriptionPlan
	for _, p := range m.plans {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *mockSubscriptionRepo) FindPlanByID(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	if p, ok := m.plans[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	if plan.ID == "" {
		plan.ID = "plan-new"
	}
	if m.plans == nil {
		m.plans = make(map[string]*models.SubscriptionPlan)
	}
	clone := *plan
	m.plans[plan.ID] = &clone
	return nil
}

func (m *mockSubscriptionRepo) UpdatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	clone := *plan
	m.plans[plan.ID] = &clone
	return nil
}

func (m *mockSubscriptionRepo) PlanCourseIDs(ctx context.Context, planID string) ([]string, error) {
	return m.planCourses[planID], nil
}

func (m *mockSubscriptionRepo) SetPlanCourses(ctx context.Context, planID string, courseIDs []string) error {
	if m.planCourses == nil {
		m.planCourses = make(map[string][]string)
	}
	m.planCourses[planID] = courseIDs
	return nil
}

func (m *mockSubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = "sub-new"
	}
	if m.subs == nil {
		m.subs = make(map[string]*models.Subscription)
	}
	clone := *sub
	m.subs[sub.ID] = &clone
	return nil
}

func (m *mockSubscriptionRepo) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	if s, ok := m.subs[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) FindActiveByUserAndPlan(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	if s, ok := m.activeByKey[userID+":"+planID]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]models.SubscriptionDetail, error) {
	var out []models.SubscriptionDetail
	for _, s := range m.subs {
		if s.UserID == userID {
			out = append(out, models.SubscriptionDetail{Subscription: *s})
		}
	}
	return out, nil
}

func (m *mockSubscriptionRepo) UpdateStatus(ctx context.Context, id string, status models.SubscriptionStatus, canceledAt *time.Time) error {
	if m.statuses == nil {
		m.statuses = make(map[string]models.SubscriptionStatus)
	}
	m.statuses[id] = status
	return nil
}

func (m *mockSubscriptionRepo) Renew(ctx context.Context, id string, periodStart, periodEnd time.Time) error {
	if m.renewed == nil {
		m.renewed = make(map[string][2]time.Time)
	}
	m.renewed[id] = [2]time.Time{periodStart, periodEnd}
	return nil
}

func (m *mockSubscriptionRepo) ListExpiring(ctx context.Context, cutoff time.Time) ([]models.Subscription, error) {
	return m.expiring, nil
}

type mockSubscriptionGranter struct {
	granted []string
	ends    map[string]time.Time
}

func (m *mockSubscriptionGranter) EnsureFromSubscription(ctx context.Context, userID, courseID string, periodEnd time.Time) error {
	m.granted = append(m.granted, userID+":"+courseID)
	if m.ends == nil {
		m.ends = make(map[string]time.Time)
	}
	m.ends[userID+":"+courseID] = periodEnd
	return nil
}

const (
	planCourseA = "5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11"
	planCourseB = "9b2f1f57-64bd-4f7e-8c5a-0d4c8f1f2a33"
	planIDValid = "3a7bd3e2-4c11-4d22-8e33-9f44a0b1c2d3"
)

func newSubscriptionFixture() (*SubscriptionService, *mockSubscriptionRepo, *mockSubscriptionGranter) {
	repo := &mockSubscriptionRepo{
		plans: map[string]*models.SubscriptionPlan{
			planIDValid: {ID: planIDValid, Name: "All courses monthly", PriceCents: 1990, Currency: "USD", Interval: models.PlanIntervalMonth, Active: true},
		},
		planCourses: map[string][]string{
			planIDValid: {planCourseA, planCourseB},
		},
	}
	granter := &mockSubscriptionGranter{}
	courses := &mockCheckoutCourses{courses: map[string]models.Course{
		planCourseA: {ID: planCourseA, Title: "Go Basics", Published: true},
		planCourseB: {ID: planCourseB, Title: "Advanced SQL", Published: true},
	}}
	svc := NewSubscriptionService(repo, granter, courses, config.SubscriptionsConfig{Enabled: true, GracePeriod: 24 * time.Hour}, nil, nil)
	return svc, repo, granter
}

func TestSubscribeGrantsPeriodBoundedEnrollments(t *testing.T) {
	svc, repo, granter := newSubscriptionFixture()

	sub, err := svc.Subscribe(context.Background(), "u1", SubscribeRequest{PlanID: planIDValid})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.After(sub.CurrentPeriodStart))
	assert.ElementsMatch(t, []string{"u1:" + planCourseA, "u1:" + planCourseB}, granter.granted)
	assert.Equal(t, sub.CurrentPeriodEnd, granter.ends["u1:"+planCourseA])
	assert.NotNil(t, repo.subs[sub.ID])
}

func TestSubscribeRejectsDuplicateActiveSubscription(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	repo.activeByKey = map[string]*models.Subscription{
		"u1:" + planIDValid: {ID: "sub-1", UserID: "u1", PlanID: planIDValid, Status: models.SubscriptionStatusActive},
	}

	_, err := svc.Subscribe(context.Background(), "u1", SubscribeRequest{PlanID: planIDValid})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestSubscribeRejectsInactivePlan(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	repo.plans[planIDValid].Active = false

	_, err := svc.Subscribe(context.Background(), "u1", SubscribeRequest{PlanID: planIDValid})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestSubscribeDisabledFeatureFails(t *testing.T) {
	repo := &mockSubscriptionRepo{}
	svc := NewSubscriptionService(repo, &mockSubscriptionGranter{}, &mockCheckoutCourses{}, config.SubscriptionsConfig{Enabled: false}, nil, nil)

	_, err := svc.Subscribe(context.Background(), "u1", SubscribeRequest{PlanID: planIDValid})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestCancelKeepsAccessUntilPeriodEnd(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	end := time.Now().UTC().AddDate(0, 1, 0)
	repo.subs = map[string]*models.Subscription{
		"sub-1": {ID: "sub-1", UserID: "u1", PlanID: planIDValid, Status: models.SubscriptionStatusActive, CurrentPeriodEnd: end},
	}

	sub, err := svc.Cancel(context.Background(), "sub-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.NotNil(t, sub.CanceledAt)
	// The paid period is untouched.
	assert.Equal(t, end, sub.CurrentPeriodEnd)
}

func TestCancelIsIdempotent(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	repo.subs = map[string]*models.Subscription{
		"sub-1": {ID: "sub-1", UserID: "u1", PlanID: planIDValid, Status: models.SubscriptionStatusCanceled},
	}

	sub, err := svc.Cancel(context.Background(), "sub-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Empty(t, repo.statuses)
}

func TestCancelRejectsOtherUsers(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	repo.subs = map[string]*models.Subscription{
		"sub-1": {ID: "sub-1", UserID: "u1", PlanID: planIDValid, Status: models.SubscriptionStatusActive},
	}

	_, err := svc.Cancel(context.Background(), "sub-1", "u2")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestRenewExtendsPeriodAndEnrollments(t *testing.T) {
	svc, repo, granter := newSubscriptionFixture()
	end := time.Now().UTC().AddDate(0, 0, 10)
	repo.subs = map[string]*models.Subscription{
		"sub-1": {ID: "sub-1", UserID: "u1", PlanID: planIDValid, Status: models.SubscriptionStatusActive, CurrentPeriodEnd: end},
	}

	sub, err := svc.Renew(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, end, sub.CurrentPeriodStart)
	assert.True(t, sub.CurrentPeriodEnd.After(end))
	assert.Len(t, granter.granted, 2)
	window := repo.renewed["sub-1"]
	assert.Equal(t, end, window[0])
}

func TestRenewLapsedPeriodStartsFromNow(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	end := time.Now().UTC().AddDate(0, 0, -5)
	repo.subs = map[string]*models.Subscription{
		"sub-1": {ID: "sub-1", UserID: "u1", PlanID: planIDValid, Status: models.SubscriptionStatusExpired, CurrentPeriodEnd: end},
	}

	sub, err := svc.Renew(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.True(t, sub.CurrentPeriodStart.After(end))
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestRenewCanceledSubscriptionFails(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	repo.subs = map[string]*models.Subscription{
		"sub-1": {ID: "sub-1", UserID: "u1", PlanID: planIDValid, Status: models.SubscriptionStatusCanceled},
	}

	_, err := svc.Renew(context.Background(), "sub-1")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestSweepExpiredTransitionsLapsedSubscriptions(t *testing.T) {
	svc, repo, _ := newSubscriptionFixture()
	repo.expiring = []models.Subscription{
		{ID: "sub-1", Status: models.SubscriptionStatusActive},
		{ID: "sub-2", Status: models.SubscriptionStatusActive},
	}

	transitioned, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, transitioned)
	assert.Equal(t, models.SubscriptionStatusExpired, repo.statuses["sub-1"])
	assert.Equal(t, models.SubscriptionStatusExpired, repo.statuses["sub-2"])
}

func TestCreatePlanRejectsUnknownCourses(t *testing.T) {
	svc, _, _ := newSubscriptionFixture()

	_, err := svc.CreatePlan(context.Background(), PlanRequest{
		Name:       "Broken plan",
		PriceCents: 1000,
		Currency:   "USD",
		Interval:   models.PlanIntervalMonth,
		CourseIDs:  []string{"00000000-0000-4000-8000-000000000000"},
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
