package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/payment"
)

type checkoutOrderRepository interface {
	FindByID(ctx context.Context, id string) (*models.Order, error)
	CreatePendingWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, bool, error)
	ListItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	UpdateGatewaySession(ctx context.Context, id, sessionID string) error
	MarkCompleted(ctx context.Context, id string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string) (bool, error)
}

type checkoutCourseRepository interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Course, error)
}

type checkoutEnrollmentGranter interface {
	EnsureFromPurchase(ctx context.Context, userID, courseID string) error
	ExistsActive(ctx context.Context, userID, courseID string) (bool, error)
}

type checkoutNotifier interface {
	NotifyPurchase(ctx context.Context, userID string, order *models.Order, items []models.OrderItem)
}

type checkoutGateway interface {
	CreatePreference(ctx context.Context, req payment.PreferenceRequest) (*payment.CheckoutSession, error)
	VerifySignature(body []byte, signature string) bool
	Sandbox() bool
}

type checkoutAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CheckoutRequest is the cart submitted for purchase.
type CheckoutRequest struct {
	CourseIDs []string `json:"course_ids" validate:"required,min=1,max=20,dive,uuid4"`
	Email     string   `json:"-"`
}

// WebhookEvent is the gateway's payment notification payload.
type WebhookEvent struct {
	Type              string `json:"type"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
	PaymentID         string `json:"payment_id"`
}

// CheckoutService turns carts into pending orders, hands the buyer to the
// gateway, and settles orders from webhook notifications.
type CheckoutService struct {
	orders      checkoutOrderRepository
	courses     checkoutCourseRepository
	enrollments checkoutEnrollmentGranter
	notifier    checkoutNotifier
	gateway     checkoutGateway
	auditor     checkoutAuditor
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCheckoutService constructs a CheckoutService.
func NewCheckoutService(orders checkoutOrderRepository, courses checkoutCourseRepository, enrollments checkoutEnrollmentGranter, notifier checkoutNotifier, gateway checkoutGateway, auditor checkoutAuditor, validate *validator.Validate, logger *zap.Logger) *CheckoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CheckoutService{
		orders:      orders,
		courses:     courses,
		enrollments: enrollments,
		notifier:    notifier,
		gateway:     gateway,
		auditor:     auditor,
		validator:   validate,
		logger:      logger,
	}
}

// Checkout validates the cart, creates (or returns) the caller's pending
// order and produces the gateway redirect URL. A caller with an open pending
// order gets that order back instead of a new one.
func (s *CheckoutService) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*models.CheckoutResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checkout payload")
	}

	unique := make(map[string]bool, len(req.CourseIDs))
	var courseIDs []string
	for _, id := range req.CourseIDs {
		if !unique[id] {
			unique[id] = true
			courseIDs = append(courseIDs, id)
		}
	}

	courses, err := s.courses.FindByIDs(ctx, courseIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cart courses")
	}
	if len(courses) != len(courseIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "cart references an unknown course")
	}

	currency := ""
	var total int64
	items := make([]models.OrderItem, 0, len(courses))
	for _, course := range courses {
		if !course.Published {
			return nil, appErrors.Clone(appErrors.ErrValidation, "cart references an unpublished course")
		}
		enrolled, err := s.enrollments.ExistsActive(ctx, userID, course.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
		}
		if enrolled {
			return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "cart contains a course the user already owns")
		}
		if currency == "" {
			currency = course.Currency
		} else if currency != course.Currency {
			return nil, appErrors.Clone(appErrors.ErrValidation, "cart mixes currencies")
		}
		total += course.PriceCents
		items = append(items, models.OrderItem{
			CourseID:       course.ID,
			CourseTitle:    course.Title,
			UnitPriceCents: course.PriceCents,
		})
	}
	if len(items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptyCart, "cart is empty")
	}

	order := &models.Order{UserID: userID, TotalCents: total, Currency: currency}
	order, existing, err := s.orders.CreatePendingWithItems(ctx, order, items)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create order")
	}

	if existing {
		redirect, err := s.sessionFor(ctx, order, req.Email)
		if err != nil {
			return nil, err
		}
		return &models.CheckoutResponse{Order: order, RedirectURL: redirect, Existing: true}, nil
	}

	redirect, err := s.sessionFor(ctx, order, req.Email)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, userID, models.AuditActionPayment, order.ID, map[string]interface{}{
		"status": order.Status,
		"total":  order.TotalCents,
	})

	return &models.CheckoutResponse{Order: order, RedirectURL: redirect, Existing: false}, nil
}

func (s *CheckoutService) sessionFor(ctx context.Context, order *models.Order, payerEmail string) (string, error) {
	items, err := s.orders.ListItems(ctx, order.ID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order items")
	}

	prefItems := make([]payment.PreferenceItem, 0, len(items))
	for _, item := range items {
		prefItems = append(prefItems, payment.PreferenceItem{
			Title:      item.CourseTitle,
			Quantity:   1,
			UnitPrice:  item.UnitPriceCents,
			CurrencyID: order.Currency,
		})
	}

	session, err := s.gateway.CreatePreference(ctx, payment.PreferenceRequest{
		ExternalReference: order.ID,
		Items:             prefItems,
		PayerEmail:        payerEmail,
	})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrPaymentGateway.Code, appErrors.ErrPaymentGateway.Status, "payment gateway rejected the checkout")
	}

	if err := s.orders.UpdateGatewaySession(ctx, order.ID, session.ID); err != nil {
		s.logger.Warn("failed to store gateway session id", zap.String("order_id", order.ID), zap.Error(err))
	}
	order.GatewaySessionID = session.ID
	return session.RedirectURL(s.gateway.Sandbox()), nil
}

// HandleWebhook settles an order from a signed gateway notification. Replayed
// notifications for already-settled orders are acknowledged without effect.
func (s *CheckoutService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.gateway.VerifySignature(body, signature) {
		return appErrors.Clone(appErrors.ErrInvalidSignature, "webhook signature mismatch")
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed webhook payload")
	}
	if event.ExternalReference == "" {
		return appErrors.Clone(appErrors.ErrValidation, "webhook missing order reference")
	}

	order, err := s.orders.FindByID(ctx, event.ExternalReference)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order")
	}

	switch event.Status {
	case "approved", "paid":
		return s.settleCompleted(ctx, order, event.PaymentID)
	case "rejected", "cancelled", "expired":
		return s.settleFailed(ctx, order)
	default:
		s.logger.Info("ignoring webhook status",
			zap.String("order_id", order.ID),
			zap.String("status", event.Status))
		return nil
	}
}

func (s *CheckoutService) settleCompleted(ctx context.Context, order *models.Order, paymentID string) error {
	paidAt := time.Now().UTC()
	transitioned, err := s.orders.MarkCompleted(ctx, order.ID, paidAt)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete order")
	}
	if !transitioned {
		// Replay of an already settled order.
		return nil
	}
	order.Status = models.OrderStatusCompleted
	order.PaidAt = &paidAt

	items, err := s.orders.ListItems(ctx, order.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load order items")
	}
	for _, item := range items {
		if err := s.enrollments.EnsureFromPurchase(ctx, order.UserID, item.CourseID); err != nil {
			s.logger.Error("failed to grant enrollment after payment",
				zap.String("order_id", order.ID),
				zap.String("course_id", item.CourseID),
				zap.Error(err))
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyPurchase(ctx, order.UserID, order, items)
	}

	s.audit(ctx, order.UserID, models.AuditActionPayment, order.ID, map[string]interface{}{
		"status":     models.OrderStatusCompleted,
		"payment_id": paymentID,
	})
	return nil
}

func (s *CheckoutService) settleFailed(ctx context.Context, order *models.Order) error {
	transitioned, err := s.orders.MarkFailed(ctx, order.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fail order")
	}
	if !transitioned {
		return nil
	}
	s.audit(ctx, order.UserID, models.AuditActionPayment, order.ID, map[string]interface{}{
		"status": models.OrderStatusFailed,
	})
	return nil
}

func (s *CheckoutService) audit(ctx context.Context, userID string, action models.AuditAction, resourceID string, values map[string]interface{}) {
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "orders",
		ResourceID: &resourceID,
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if raw, err := json.Marshal(values); err == nil {
		entry.NewValues = raw
	}
	if err := s.auditor.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record payment audit log", zap.Error(err))
	}
}
