package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/pkg/config"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
)

type subscriptionRepository interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error)
	FindPlanByID(ctx context.Context, id string) (*models.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error
	UpdatePlan(ctx context.Context, plan *models.SubscriptionPlan) error
	PlanCourseIDs(ctx context.Context, planID string) ([]string, error)
	SetPlanCourses(ctx context.Context, planID string, courseIDs []string) error
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
	FindActiveByUserAndPlan(ctx context.Context, userID, planID string) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]models.SubscriptionDetail, error)
	UpdateStatus(ctx context.Context, id string, status models.SubscriptionStatus, canceledAt *time.Time) error
	Renew(ctx context.Context, id string, periodStart, periodEnd time.Time) error
	ListExpiring(ctx context.Context, cutoff time.Time) ([]models.Subscription, error)
}

type subscriptionEnrollmentGranter interface {
	EnsureFromSubscription(ctx context.Context, userID, courseID string, periodEnd time.Time) error
}

type subscriptionCourseValidator interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Course, error)
}

// PlanRequest creates or updates a subscription plan.
type PlanRequest struct {
	Name       string              `json:"name" validate:"required,min=3,max=120"`
	PriceCents int64               `json:"price_cents" validate:"gt=0"`
	Currency   string              `json:"currency" validate:"required,len=3"`
	Interval   models.PlanInterval `json:"interval" validate:"required,oneof=MONTH YEAR"`
	Active     *bool               `json:"active"`
	CourseIDs  []string            `json:"course_ids" validate:"required,min=1,dive,uuid4"`
}

// SubscribeRequest starts a subscription to a plan.
type SubscribeRequest struct {
	PlanID string `json:"plan_id" validate:"required,uuid4"`
}

// SubscriptionService manages plans and recurring course access. Each
// billing period grants period-bounded enrollments for the plan's courses;
// the expiry sweep demotes lapsed subscriptions.
type SubscriptionService struct {
	repo        subscriptionRepository
	enrollments subscriptionEnrollmentGranter
	courses     subscriptionCourseValidator
	cfg         config.SubscriptionsConfig
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(repo subscriptionRepository, enrollments subscriptionEnrollmentGranter, courses subscriptionCourseValidator, cfg config.SubscriptionsConfig, validate *validator.Validate, logger *zap.Logger) *SubscriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SubscriptionService{repo: repo, enrollments: enrollments, courses: courses, cfg: cfg, validator: validate, logger: logger}
}

// ListPlans returns plans. Non-staff callers only see active ones.
func (s *SubscriptionService) ListPlans(ctx context.Context, claims *models.JWTClaims) ([]models.SubscriptionPlan, error) {
	activeOnly := claims == nil || !claims.Permissions.ManageContent
	plans, err := s.repo.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, nil
}

// PlanCourses returns the course ids bundled under a plan.
func (s *SubscriptionService) PlanCourses(ctx context.Context, planID string) ([]string, error) {
	if _, err := s.repo.FindPlanByID(ctx, planID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	ids, err := s.repo.PlanCourseIDs(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plan courses")
	}
	return ids, nil
}

// CreatePlan creates a plan with its course set.
func (s *SubscriptionService) CreatePlan(ctx context.Context, req PlanRequest) (*models.SubscriptionPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}
	if err := s.checkCourses(ctx, req.CourseIDs); err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	plan := &models.SubscriptionPlan{
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Currency:   req.Currency,
		Interval:   req.Interval,
		Active:     active,
	}
	if err := s.repo.CreatePlan(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}
	if err := s.repo.SetPlanCourses(ctx, plan.ID, req.CourseIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set plan courses")
	}
	return plan, nil
}

// UpdatePlan edits a plan and replaces its course set.
func (s *SubscriptionService) UpdatePlan(ctx context.Context, id string, req PlanRequest) (*models.SubscriptionPlan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan payload")
	}

	plan, err := s.repo.FindPlanByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if err := s.checkCourses(ctx, req.CourseIDs); err != nil {
		return nil, err
	}

	plan.Name = req.Name
	plan.PriceCents = req.PriceCents
	plan.Currency = req.Currency
	plan.Interval = req.Interval
	if req.Active != nil {
		plan.Active = *req.Active
	}
	if err := s.repo.UpdatePlan(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update plan")
	}
	if err := s.repo.SetPlanCourses(ctx, plan.ID, req.CourseIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set plan courses")
	}
	return plan, nil
}

func (s *SubscriptionService) checkCourses(ctx context.Context, courseIDs []string) error {
	courses, err := s.courses.FindByIDs(ctx, courseIDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan courses")
	}
	if len(courses) != len(courseIDs) {
		return appErrors.Clone(appErrors.ErrNotFound, "plan references an unknown course")
	}
	return nil
}

// Subscribe starts a subscription for the caller and grants period-bounded
// enrollments for every course in the plan.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID string, req SubscribeRequest) (*models.Subscription, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "subscriptions are disabled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subscribe payload")
	}

	plan, err := s.repo.FindPlanByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if !plan.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan is not available")
	}

	if _, err := s.repo.FindActiveByUserAndPlan(ctx, userID, plan.ID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already subscribed to this plan")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subscription")
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		UserID:             userID,
		PlanID:             plan.ID,
		Status:             models.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.PeriodEnd(now),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subscription")
	}

	if err := s.grantPlanCourses(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListMine returns the caller's subscriptions with plan context.
func (s *SubscriptionService) ListMine(ctx context.Context, userID string) ([]models.SubscriptionDetail, error) {
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subscriptions")
	}
	return subs, nil
}

// Cancel marks a subscription canceled. Access survives until the end of the
// already-paid period.
func (s *SubscriptionService) Cancel(ctx context.Context, id, userID string) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	if sub.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not your subscription")
	}
	if sub.Status == models.SubscriptionStatusCanceled || sub.Status == models.SubscriptionStatusExpired {
		return sub, nil
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, sub.ID, models.SubscriptionStatusCanceled, &now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel subscription")
	}
	sub.Status = models.SubscriptionStatusCanceled
	sub.CanceledAt = &now
	return sub, nil
}

// Renew advances an active subscription into its next billing period and
// extends its enrollments. Called after a successful recurring charge.
func (s *SubscriptionService) Renew(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subscription not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	if sub.Status == models.SubscriptionStatusCanceled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "canceled subscriptions cannot renew")
	}

	plan, err := s.repo.FindPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}

	start := sub.CurrentPeriodEnd
	if now := time.Now().UTC(); start.Before(now) {
		start = now
	}
	end := plan.PeriodEnd(start)
	if err := s.repo.Renew(ctx, sub.ID, start, end); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to renew subscription")
	}
	sub.Status = models.SubscriptionStatusActive
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = end

	if err := s.grantPlanCourses(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *SubscriptionService) grantPlanCourses(ctx context.Context, sub *models.Subscription) error {
	courseIDs, err := s.repo.PlanCourseIDs(ctx, sub.PlanID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plan courses")
	}
	for _, courseID := range courseIDs {
		if err := s.enrollments.EnsureFromSubscription(ctx, sub.UserID, courseID, sub.CurrentPeriodEnd); err != nil {
			s.logger.Error("failed to grant subscription enrollment",
				zap.String("subscription_id", sub.ID),
				zap.String("course_id", courseID),
				zap.Error(err))
		}
	}
	return nil
}

// SweepExpired demotes active subscriptions past their period end plus the
// configured grace. Returns how many were transitioned.
func (s *SubscriptionService) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.GracePeriod)
	expiring, err := s.repo.ListExpiring(ctx, cutoff)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list expiring subscriptions")
	}

	transitioned := 0
	for _, sub := range expiring {
		if err := s.repo.UpdateStatus(ctx, sub.ID, models.SubscriptionStatusExpired, nil); err != nil {
			s.logger.Error("failed to expire subscription", zap.String("subscription_id", sub.ID), zap.Error(err))
			continue
		}
		transitioned++
	}
	return transitioned, nil
}
