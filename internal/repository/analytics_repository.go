package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-commerce-api/internal/models"
)

// AnalyticsRepository runs the aggregate queries behind the admin
// dashboards. Revenue queries count COMPLETED orders only, over the
// half-open range [from, to) on paid_at.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// RevenueTotals returns gross revenue and completed-order count in range.
func (r *AnalyticsRepository) RevenueTotals(ctx context.Context, filter models.RevenueFilter) (int64, int, error) {
	const query = `SELECT COALESCE(SUM(total_cents), 0) AS gross, COUNT(*) AS orders
        FROM orders WHERE status = $1 AND paid_at >= $2 AND paid_at < $3`
	var row struct {
		Gross  int64 `db:"gross"`
		Orders int   `db:"orders"`
	}
	if err := r.db.GetContext(ctx, &row, query, models.OrderStatusCompleted, filter.From, filter.To); err != nil {
		return 0, 0, fmt.Errorf("revenue totals: %w", err)
	}
	return row.Gross, row.Orders, nil
}

// RevenueByDay buckets completed-order revenue per day in range.
func (r *AnalyticsRepository) RevenueByDay(ctx context.Context, filter models.RevenueFilter) ([]models.RevenuePoint, error) {
	const query = `SELECT date_trunc('day', paid_at) AS day,
        COALESCE(SUM(total_cents), 0) AS gross_cents, COUNT(*) AS orders
        FROM orders WHERE status = $1 AND paid_at >= $2 AND paid_at < $3
        GROUP BY 1 ORDER BY 1 ASC`
	var points []models.RevenuePoint
	if err := r.db.SelectContext(ctx, &points, query, models.OrderStatusCompleted, filter.From, filter.To); err != nil {
		return nil, fmt.Errorf("revenue by day: %w", err)
	}
	return points, nil
}

// TopCourses ranks courses by completed-order revenue in range.
func (r *AnalyticsRepository) TopCourses(ctx context.Context, filter models.RevenueFilter, limit int) ([]models.CourseRevenue, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	query := fmt.Sprintf(`SELECT oi.course_id, oi.course_title,
        COALESCE(SUM(oi.unit_price_cents), 0) AS gross_cents, COUNT(*) AS units
        FROM order_items oi
        JOIN orders o ON o.id = oi.order_id
        WHERE o.status = $1 AND o.paid_at >= $2 AND o.paid_at < $3
        GROUP BY oi.course_id, oi.course_title
        ORDER BY gross_cents DESC LIMIT %d`, limit)
	var rows []models.CourseRevenue
	if err := r.db.SelectContext(ctx, &rows, query, models.OrderStatusCompleted, filter.From, filter.To); err != nil {
		return nil, fmt.Errorf("top courses: %w", err)
	}
	return rows, nil
}

// SubscriptionRevenue sums plan prices of subscriptions whose current period
// started in range. Approximates recurring revenue without invoice rows.
func (r *AnalyticsRepository) SubscriptionRevenue(ctx context.Context, filter models.RevenueFilter) (int64, error) {
	const query = `SELECT COALESCE(SUM(p.price_cents), 0)
        FROM subscriptions s JOIN subscription_plans p ON p.id = s.plan_id
        WHERE s.status = $1 AND s.current_period_start >= $2 AND s.current_period_start < $3`
	var total int64
	if err := r.db.GetContext(ctx, &total, query, models.SubscriptionStatusActive, filter.From, filter.To); err != nil {
		return 0, fmt.Errorf("subscription revenue: %w", err)
	}
	return total, nil
}

// CountUsers returns total and student user counts.
func (r *AnalyticsRepository) CountUsers(ctx context.Context) (int, int, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE role = $1) AS students
        FROM users WHERE active = TRUE`
	var row struct {
		Total    int `db:"total"`
		Students int `db:"students"`
	}
	if err := r.db.GetContext(ctx, &row, query, models.RoleStudent); err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return row.Total, row.Students, nil
}

// CountOrders returns total and pending order counts.
func (r *AnalyticsRepository) CountOrders(ctx context.Context) (int, int, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = $1) AS pending
        FROM orders`
	var row struct {
		Total   int `db:"total"`
		Pending int `db:"pending"`
	}
	if err := r.db.GetContext(ctx, &row, query, models.OrderStatusPending); err != nil {
		return 0, 0, fmt.Errorf("count orders: %w", err)
	}
	return row.Total, row.Pending, nil
}

// CountEnrollments returns the number of currently active enrollments.
func (r *AnalyticsRepository) CountEnrollments(ctx context.Context) (int, error) {
	var total int
	const query = `SELECT COUNT(*) FROM enrollments WHERE expires_at IS NULL OR expires_at > NOW()`
	if err := r.db.GetContext(ctx, &total, query); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return total, nil
}
