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

// OrderRepository handles persistence of orders and their items.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository constructs the repository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, user_id, status, total_cents, currency, gateway_session_id, paid_at, created_at, updated_at`

// List returns orders filtered by the provided criteria.
func (r *OrderRepository) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	baseQuery := `FROM orders WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]bool{"created_at": true, "total_cents": true, "paid_at": true}
	sortBy := filter.SortBy
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", orderColumns, baseQuery, sortBy, order, size, offset)
	var orders []models.Order
	if err := r.db.SelectContext(ctx, &orders, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	return orders, total, nil
}

// FindByID returns an order by identifier.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*models.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1 LIMIT 1`, orderColumns)
	var order models.Order
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find order by id: %w", err)
	}
	return &order, nil
}

// FindDetailByID returns an order with items and buyer context.
func (r *OrderRepository) FindDetailByID(ctx context.Context, id string) (*models.OrderDetail, error) {
	query := fmt.Sprintf(`SELECT o.%s, u.email AS user_email, u.full_name AS user_name
        FROM orders o JOIN users u ON u.id = o.user_id WHERE o.id = $1`,
		strings.ReplaceAll(orderColumns, ", ", ", o."))
	var detail models.OrderDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find order detail: %w", err)
	}
	items, err := r.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Items = items
	return &detail, nil
}

// ListItems returns the line items of an order.
func (r *OrderRepository) ListItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	const query = `SELECT id, order_id, course_id, course_title, unit_price_cents FROM order_items WHERE order_id = $1 ORDER BY course_title ASC`
	var items []models.OrderItem
	if err := r.db.SelectContext(ctx, &items, query, orderID); err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return items, nil
}

// CreatePendingWithItems creates a pending order and its items inside a
// transaction. When a pending order already exists it is returned unchanged
// and no new row is created, which keeps the at-most-one-pending-order
// invariant under concurrent submits.
func (r *OrderRepository) CreatePendingWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin checkout tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// FOR UPDATE cannot lock a row that does not exist yet, so two
	// first-time checkouts would both pass an empty scan. The per-user
	// advisory lock serializes them; it is released at commit/rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, order.UserID); err != nil {
		return nil, false, fmt.Errorf("acquire checkout lock: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM orders WHERE user_id = $1 AND status = $2 LIMIT 1 FOR UPDATE`, orderColumns)
	var existing models.Order
	err = tx.GetContext(ctx, &existing, query, order.UserID, models.OrderStatusPending)
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			return nil, false, fmt.Errorf("commit checkout tx: %w", commitErr)
		}
		return &existing, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("lock pending order: %w", err)
	}

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	order.Status = models.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now

	const insertOrder = `INSERT INTO orders (id, user_id, status, total_cents, currency, gateway_session_id, paid_at, created_at, updated_at)
        VALUES (:id, :user_id, :status, :total_cents, :currency, :gateway_session_id, :paid_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertOrder, order); err != nil {
		return nil, false, fmt.Errorf("create order: %w", err)
	}

	const insertItem = `INSERT INTO order_items (id, order_id, course_id, course_title, unit_price_cents)
        VALUES (:id, :order_id, :course_id, :course_title, :unit_price_cents)`
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		items[i].OrderID = order.ID
		if _, err := tx.NamedExecContext(ctx, insertItem, items[i]); err != nil {
			return nil, false, fmt.Errorf("create order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit checkout tx: %w", err)
	}
	return order, false, nil
}

// UpdateGatewaySession stores the gateway checkout session id on the order.
func (r *OrderRepository) UpdateGatewaySession(ctx context.Context, id, sessionID string) error {
	const query = `UPDATE orders SET gateway_session_id = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("update gateway session: %w", err)
	}
	return nil
}

// MarkCompleted transitions a pending order to COMPLETED setting paid_at.
// The status guard in the WHERE clause makes the transition idempotent:
// zero rows affected means the order was not pending.
func (r *OrderRepository) MarkCompleted(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	const query = `UPDATE orders SET status = $2, paid_at = $3, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, models.OrderStatusCompleted, paidAt, models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order completed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order completed rows: %w", err)
	}
	return affected > 0, nil
}

// MarkFailed transitions a pending order to FAILED.
func (r *OrderRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.db.ExecContext(ctx, query, id, models.OrderStatusFailed, time.Now().UTC(), models.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark order failed rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus overrides the order status without a pending guard. Reserved
// for audited admin corrections.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus, paidAt *time.Time) error {
	const query = `UPDATE orders SET status = $2, paid_at = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, paidAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// Delete removes an order and its items.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}
