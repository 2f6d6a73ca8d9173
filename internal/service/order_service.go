package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/export"
)

type orderRepository interface {
	List(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error)
	FindByID(ctx context.Context, id string) (*models.Order, error)
	FindDetailByID(ctx context.Context, id string) (*models.OrderDetail, error)
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, paidAt *time.Time) error
	Delete(ctx context.Context, id string) error
}

type orderAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type receiptRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// UpdateOrderStatusRequest is the admin status override payload.
type UpdateOrderStatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required,oneof=PENDING COMPLETED FAILED"`
	Reason string             `json:"reason" validate:"required,min=3,max=500"`
}

// OrderService exposes order listing, detail and audited admin overrides.
// Status overrides require the manage-orders permission; students only see
// their own orders.
type OrderService struct {
	repo      orderRepository
	auditor   orderAuditor
	receipts  receiptRenderer
	validator *validator.Validate
	logger    *zap.Logger
}

// NewOrderService constructs an OrderService.
func NewOrderService(repo orderRepository, auditor orderAuditor, receipts receiptRenderer, validate *validator.Validate, logger *zap.Logger) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &OrderService{repo: repo, auditor: auditor, receipts: receipts, validator: validate, logger: logger}
}

// List returns orders. Callers without the manage-orders permission are
// forced onto their own user id.
func (s *OrderService) List(ctx context.Context, filter models.OrderFilter, claims *models.JWTClaims) ([]models.Order, *models.Pagination, error) {
	if claims == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if !claims.Permissions.ManageOrders {
		filter.UserID = claims.UserID
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list orders")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return orders, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns an order detail visible to its owner or order managers.
func (s *OrderService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.OrderDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}
	if claims == nil || (detail.UserID != claims.UserID && !claims.Permissions.ManageOrders) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this order")
	}
	return detail, nil
}

// UpdateStatus overrides an order status. Requires manage-orders and records
// the actor plus reason in the audit log.
func (s *OrderService) UpdateStatus(ctx context.Context, id string, req UpdateOrderStatusRequest, claims *models.JWTClaims) (*models.Order, error) {
	if claims == nil || !claims.Permissions.ManageOrders {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "order status changes require the manage-orders permission")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}

	if order.Status == req.Status {
		return order, nil
	}

	var paidAt *time.Time
	if req.Status == models.OrderStatusCompleted {
		if order.PaidAt != nil {
			paidAt = order.PaidAt
		} else {
			now := time.Now().UTC()
			paidAt = &now
		}
	}
	if err := s.repo.UpdateStatus(ctx, id, req.Status, paidAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update order status")
	}

	old := order.Status
	order.Status = req.Status
	order.PaidAt = paidAt

	entry := &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionOrderStatus,
		Resource:   "orders",
		ResourceID: &id,
	}
	if raw, err := json.Marshal(map[string]interface{}{"status": old}); err == nil {
		entry.OldValues = raw
	}
	if raw, err := json.Marshal(map[string]interface{}{"status": req.Status, "reason": req.Reason}); err == nil {
		entry.NewValues = raw
	}
	if err := s.auditor.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record order status audit log", zap.Error(err))
	}

	return order, nil
}

// Delete removes an order and its items. Settled orders stay: completed
// rows back enrollments and revenue, failed rows back conversion reports,
// so only PENDING orders can go.
func (s *OrderService) Delete(ctx context.Context, id string, claims *models.JWTClaims) error {
	if claims == nil || !claims.Permissions.ManageOrders {
		return appErrors.Clone(appErrors.ErrForbidden, "order deletion requires the manage-orders permission")
	}

	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}
	if order.Status != models.OrderStatusPending {
		return appErrors.Clone(appErrors.ErrOrderNotPending, "only pending orders can be deleted")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete order")
	}

	entry := &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionDelete,
		Resource:   "orders",
		ResourceID: &id,
	}
	if raw, err := json.Marshal(map[string]interface{}{"status": order.Status, "total_cents": order.TotalCents}); err == nil {
		entry.OldValues = raw
	}
	if err := s.auditor.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record order deletion audit log", zap.Error(err))
	}
	return nil
}

// Receipt renders a PDF receipt for a completed order.
func (s *OrderService) Receipt(ctx context.Context, id string, claims *models.JWTClaims) ([]byte, error) {
	detail, err := s.Get(ctx, id, claims)
	if err != nil {
		return nil, err
	}
	if detail.Status != models.OrderStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "receipts are only available for completed orders")
	}

	rows := make([]map[string]string, 0, len(detail.Items))
	for _, item := range detail.Items {
		rows = append(rows, map[string]string{
			"Course": item.CourseTitle,
			"Price":  export.Money(item.UnitPriceCents, detail.Currency),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Course", "Price"},
		Rows:    rows,
		Totals: map[string]string{
			"Course": "Total",
			"Price":  export.Money(detail.TotalCents, detail.Currency),
		},
	}

	title := fmt.Sprintf("Receipt %s", detail.ID)
	payload, err := s.receipts.Render(dataset, title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	return payload, nil
}
