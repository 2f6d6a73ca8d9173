package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-commerce-api/internal/models"
)

// SubscriptionRepository handles persistence of plans and subscriptions.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository constructs the repository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const planColumns = `id, name, price_cents, currency, "interval", active, created_at, updated_at`

// ListPlans returns plans, optionally restricted to active ones.
func (r *SubscriptionRepository) ListPlans(ctx context.Context, activeOnly bool) ([]models.SubscriptionPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscription_plans`, planColumns)
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY price_cents ASC`
	var plans []models.SubscriptionPlan
	if err := r.db.SelectContext(ctx, &plans, query); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// FindPlanByID returns a plan by identifier.
func (r *SubscriptionRepository) FindPlanByID(ctx context.Context, id string) (*models.SubscriptionPlan, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscription_plans WHERE id = $1 LIMIT 1`, planColumns)
	var plan models.SubscriptionPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find plan by id: %w", err)
	}
	return &plan, nil
}

// CreatePlan inserts a plan.
func (r *SubscriptionRepository) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	const query = `INSERT INTO subscription_plans (id, name, price_cents, currency, "interval", active, created_at, updated_at)
        VALUES (:id, :name, :price_cents, :currency, :interval, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// UpdatePlan updates mutable plan fields.
func (r *SubscriptionRepository) UpdatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	plan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE subscription_plans SET name = :name, price_cents = :price_cents, currency = :currency,
        "interval" = :interval, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

// PlanCourseIDs returns the course ids bundled under a plan.
func (r *SubscriptionRepository) PlanCourseIDs(ctx context.Context, planID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT course_id FROM plan_courses WHERE plan_id = $1`, planID); err != nil {
		return nil, fmt.Errorf("list plan course ids: %w", err)
	}
	return ids, nil
}

// SetPlanCourses replaces the course set of a plan inside one transaction.
func (r *SubscriptionRepository) SetPlanCourses(ctx context.Context, planID string, courseIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan courses tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_courses WHERE plan_id = $1`, planID); err != nil {
		return fmt.Errorf("clear plan courses: %w", err)
	}
	for _, courseID := range courseIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO plan_courses (plan_id, course_id) VALUES ($1, $2)`, planID, courseID); err != nil {
			return fmt.Errorf("add plan course: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan courses tx: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, plan_id, status, current_period_start, current_period_end, canceled_at, created_at, updated_at`

// Create inserts a subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	const query = `INSERT INTO subscriptions (id, user_id, plan_id, status, current_period_start, current_period_end, canceled_at, created_at, updated_at)
        VALUES (:id, :user_id, :plan_id, :status, :current_period_start, :current_period_end, :canceled_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// FindByID returns a subscription by identifier.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1 LIMIT 1`, subscriptionColumns)
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription by id: %w", err)
	}
	return &sub, nil
}

// FindActiveByUserAndPlan returns the user's active subscription to a plan.
func (r *SubscriptionRepository) FindActiveByUserAndPlan(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE user_id = $1 AND plan_id = $2 AND status = $3 LIMIT 1`, subscriptionColumns)
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, userID, planID, models.SubscriptionStatusActive); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListByUser returns a user's subscriptions with plan context.
func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]models.SubscriptionDetail, error) {
	query := fmt.Sprintf(`SELECT s.%s, p.name AS plan_name
        FROM subscriptions s JOIN subscription_plans p ON p.id = s.plan_id
        WHERE s.user_id = $1 ORDER BY s.created_at DESC`,
		strings.ReplaceAll(subscriptionColumns, ", ", ", s."))
	var subs []models.SubscriptionDetail
	if err := r.db.SelectContext(ctx, &subs, query, userID); err != nil {
		return nil, fmt.Errorf("list user subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateStatus transitions a subscription, stamping canceled_at when set.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id string, status models.SubscriptionStatus, canceledAt *time.Time) error {
	const query = `UPDATE subscriptions SET status = $2, canceled_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, canceledAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update subscription status: %w", err)
	}
	return nil
}

// Renew advances the billing period bounds.
func (r *SubscriptionRepository) Renew(ctx context.Context, id string, periodStart, periodEnd time.Time) error {
	const query = `UPDATE subscriptions SET current_period_start = $2, current_period_end = $3, status = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, periodStart, periodEnd, models.SubscriptionStatusActive, time.Now().UTC()); err != nil {
		return fmt.Errorf("renew subscription: %w", err)
	}
	return nil
}

// ListExpiring returns active subscriptions whose period ended at or before
// the cutoff. Used by the expiry sweep.
func (r *SubscriptionRepository) ListExpiring(ctx context.Context, cutoff time.Time) ([]models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE status = $1 AND current_period_end <= $2`, subscriptionColumns)
	var subs []models.Subscription
	if err := r.db.SelectContext(ctx, &subs, query, models.SubscriptionStatusActive, cutoff); err != nil {
		return nil, fmt.Errorf("list expiring subscriptions: %w", err)
	}
	return subs, nil
}

// CountActive returns the number of currently active subscriptions.
func (r *SubscriptionRepository) CountActive(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM subscriptions WHERE status = $1`, models.SubscriptionStatusActive); err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}
	return total, nil
}
