package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/payment"
)

type mockCheckoutOrders struct {
	orders    map[string]*models.Order
	items     map[string][]models.OrderItem
	pending   *models.Order
	completed map[string]bool
	failed    map[string]bool
	sessions  map[string]string
}

func (m *mockCheckoutOrders) FindByID(ctx context.Context, id string) (*models.Order, error) {
	if o, ok := m.orders[id]; ok {
		copy := *o
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCheckoutOrders) CreatePendingWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, bool, error) {
	if m.pending != nil {
		return m.pending, true, nil
	}
	order.ID = "order-new"
	order.Status = models.OrderStatusPending
	if m.orders == nil {
		m.orders = make(map[string]*models.Order)
	}
	if m.items == nil {
		m.items = make(map[string][]models.OrderItem)
	}
	m.orders[order.ID] = order
	m.items[order.ID] = items
	return order, false, nil
}

func (m *mockCheckoutOrders) ListItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return m.items[orderID], nil
}

func (m *mockCheckoutOrders) UpdateGatewaySession(ctx context.Context, id, sessionID string) error {
	if m.sessions == nil {
		m.sessions = make(map[string]string)
	}
	m.sessions[id] = sessionID
	return nil
}

func (m *mockCheckoutOrders) MarkCompleted(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	if m.completed == nil {
		m.completed = make(map[string]bool)
	}
	if m.completed[id] {
		return false, nil
	}
	m.completed[id] = true
	return true, nil
}

func (m *mockCheckoutOrders) MarkFailed(ctx context.Context, id string) (bool, error) {
	if m.failed == nil {
		m.failed = make(map[string]bool)
	}
	if m.failed[id] {
		return false, nil
	}
	m.failed[id] = true
	return true, nil
}

type mockCheckoutCourses struct {
	courses map[string]models.Course
}

func (m *mockCheckoutCourses) FindByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	var out []models.Course
	for _, id := range ids {
		if c, ok := m.courses[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type mockCheckoutEnrollments struct {
	owned   map[string]bool
	granted []string
}

func (m *mockCheckoutEnrollments) EnsureFromPurchase(ctx context.Context, userID, courseID string) error {
	m.granted = append(m.granted, userID+":"+courseID)
	return nil
}

func (m *mockCheckoutEnrollments) ExistsActive(ctx context.Context, userID, courseID string) (bool, error) {
	return m.owned[userID+":"+courseID], nil
}

type mockCheckoutNotifier struct {
	purchases []string
}

func (m *mockCheckoutNotifier) NotifyPurchase(ctx context.Context, userID string, order *models.Order, items []models.OrderItem) {
	m.purchases = append(m.purchases, order.ID)
}

type mockCheckoutGateway struct {
	validSignature string
	sandbox        bool
	preferences    []payment.PreferenceRequest
}

func (m *mockCheckoutGateway) CreatePreference(ctx context.Context, req payment.PreferenceRequest) (*payment.CheckoutSession, error) {
	m.preferences = append(m.preferences, req)
	return &payment.CheckoutSession{
		ID:               "pref-1",
		InitPoint:        "https://gateway.test/pay/pref-1",
		SandboxInitPoint: "https://sandbox.gateway.test/pay/pref-1",
	}, nil
}

func (m *mockCheckoutGateway) VerifySignature(body []byte, signature string) bool {
	return signature == m.validSignature
}

func (m *mockCheckoutGateway) Sandbox() bool { return m.sandbox }

type mockCheckoutAuditor struct {
	logs []models.AuditLog
}

func (m *mockCheckoutAuditor) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, *log)
	return nil
}

func newCheckoutFixture() (*CheckoutService, *mockCheckoutOrders, *mockCheckoutEnrollments, *mockCheckoutNotifier, *mockCheckoutGateway) {
	orders := &mockCheckoutOrders{}
	courses := &mockCheckoutCourses{courses: map[string]models.Course{
		"5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11": {ID: "5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11", Title: "Go Basics", Published: true, PriceCents: 4990, Currency: "USD"},
		"9b2f1f57-64bd-4f7e-8c5a-0d4c8f1f2a33": {ID: "9b2f1f57-64bd-4f7e-8c5a-0d4c8f1f2a33", Title: "Advanced SQL", Published: true, PriceCents: 7990, Currency: "USD"},
		"1c0de8a2-3b44-4c55-9d66-7e88f99a0b11": {ID: "1c0de8a2-3b44-4c55-9d66-7e88f99a0b11", Title: "Draft Course", Published: false, PriceCents: 1000, Currency: "USD"},
		"2d1ef9b3-4c55-4d66-ae77-8f99a0b1c222": {ID: "2d1ef9b3-4c55-4d66-ae77-8f99a0b1c222", Title: "EUR Course", Published: true, PriceCents: 2000, Currency: "EUR"},
	}}
	enrollments := &mockCheckoutEnrollments{owned: map[string]bool{}}
	notifier := &mockCheckoutNotifier{}
	gateway := &mockCheckoutGateway{validSignature: "good-sig"}
	auditor := &mockCheckoutAuditor{}
	svc := NewCheckoutService(orders, courses, enrollments, notifier, gateway, auditor, nil, nil)
	return svc, orders, enrollments, notifier, gateway
}

func TestCheckoutCreatesPendingOrderWithTotals(t *testing.T) {
	svc, orders, _, _, gateway := newCheckoutFixture()

	res, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{
		CourseIDs: []string{"5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11", "9b2f1f57-64bd-4f7e-8c5a-0d4c8f1f2a33"},
		Email:     "buyer@example.com",
	})
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, int64(12980), res.Order.TotalCents)
	assert.Equal(t, "USD", res.Order.Currency)
	assert.Equal(t, "https://gateway.test/pay/pref-1", res.RedirectURL)
	assert.Equal(t, "pref-1", orders.sessions["order-new"])
	require.Len(t, gateway.preferences, 1)
	assert.Equal(t, "order-new", gateway.preferences[0].ExternalReference)
	assert.Equal(t, "buyer@example.com", gateway.preferences[0].PayerEmail)
}

func TestCheckoutDeduplicatesCartEntries(t *testing.T) {
	svc, orders, _, _, _ := newCheckoutFixture()

	res, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{
		CourseIDs: []string{"5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11", "5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4990), res.Order.TotalCents)
	assert.Len(t, orders.items["order-new"], 1)
}

func TestCheckoutReturnsExistingPendingOrder(t *testing.T) {
	svc, orders, _, _, _ := newCheckoutFixture()
	orders.pending = &models.Order{ID: "order-old", UserID: "u1", Status: models.OrderStatusPending, Currency: "USD"}
	orders.items = map[string][]models.OrderItem{
		"order-old": {{CourseID: "5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11", CourseTitle: "Go Basics", UnitPriceCents: 4990}},
	}

	res, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{
		CourseIDs: []string{"9b2f1f57-64bd-4f7e-8c5a-0d4c8f1f2a33"},
	})
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Equal(t, "order-old", res.Order.ID)
}

func TestCheckoutRejectsUnpublishedCourse(t *testing.T) {
	svc, _, _, _, _ := newCheckoutFixture()

	_, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{
		CourseIDs: []string{"1c0de8a2-3b44-4c55-9d66-7e88f99a0b11"},
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestCheckoutRejectsMixedCurrencies(t *testing.T) {
	svc, _, _, _, _ := newCheckoutFixture()

	_, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{
		CourseIDs: []string{"5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11", "2d1ef9b3-4c55-4d66-ae77-8f99a0b1c222"},
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestCheckoutRejectsAlreadyOwnedCourse(t *testing.T) {
	svc, _, enrollments, _, _ := newCheckoutFixture()
	enrollments.owned["u1:5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11"] = true

	_, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{
		CourseIDs: []string{"5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11"},
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErr.Code)
}

func TestCheckoutRejectsUnknownCourse(t *testing.T) {
	svc, _, _, _, _ := newCheckoutFixture()

	_, err := svc.Checkout(context.Background(), "u1", CheckoutRequest{
		CourseIDs: []string{"00000000-0000-4000-8000-000000000000"},
	})
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func webhookBody(t *testing.T, ref, status string) []byte {
	t.Helper()
	body, err := json.Marshal(WebhookEvent{
		Type:              "payment",
		ExternalReference: ref,
		Status:            status,
		PaymentID:         "pay-1",
	})
	require.NoError(t, err)
	return body
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc, _, _, _, _ := newCheckoutFixture()

	err := svc.HandleWebhook(context.Background(), webhookBody(t, "order-1", "approved"), "wrong-sig")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrInvalidSignature.Code, appErr.Code)
}

func TestHandleWebhookApprovedSettlesAndGrantsEnrollments(t *testing.T) {
	svc, orders, enrollments, notifier, _ := newCheckoutFixture()
	orders.orders = map[string]*models.Order{
		"order-1": {ID: "order-1", UserID: "u1", Status: models.OrderStatusPending},
	}
	orders.items = map[string][]models.OrderItem{
		"order-1": {
			{CourseID: "c1", CourseTitle: "Go Basics"},
			{CourseID: "c2", CourseTitle: "Advanced SQL"},
		},
	}

	require.NoError(t, svc.HandleWebhook(context.Background(), webhookBody(t, "order-1", "approved"), "good-sig"))
	assert.True(t, orders.completed["order-1"])
	assert.ElementsMatch(t, []string{"u1:c1", "u1:c2"}, enrollments.granted)
	assert.Equal(t, []string{"order-1"}, notifier.purchases)
}

func TestHandleWebhookReplayIsAcknowledgedWithoutEffect(t *testing.T) {
	svc, orders, enrollments, notifier, _ := newCheckoutFixture()
	orders.orders = map[string]*models.Order{
		"order-1": {ID: "order-1", UserID: "u1", Status: models.OrderStatusPending},
	}
	orders.items = map[string][]models.OrderItem{
		"order-1": {{CourseID: "c1", CourseTitle: "Go Basics"}},
	}

	body := webhookBody(t, "order-1", "approved")
	require.NoError(t, svc.HandleWebhook(context.Background(), body, "good-sig"))
	require.NoError(t, svc.HandleWebhook(context.Background(), body, "good-sig"))

	// Enrollment granted and notification sent exactly once.
	assert.Len(t, enrollments.granted, 1)
	assert.Len(t, notifier.purchases, 1)
}

func TestHandleWebhookRejectedMarksOrderFailed(t *testing.T) {
	svc, orders, enrollments, _, _ := newCheckoutFixture()
	orders.orders = map[string]*models.Order{
		"order-1": {ID: "order-1", UserID: "u1", Status: models.OrderStatusPending},
	}

	require.NoError(t, svc.HandleWebhook(context.Background(), webhookBody(t, "order-1", "rejected"), "good-sig"))
	assert.True(t, orders.failed["order-1"])
	assert.Empty(t, enrollments.granted)
}

func TestHandleWebhookUnknownOrderReturnsNotFound(t *testing.T) {
	svc, _, _, _, _ := newCheckoutFixture()

	err := svc.HandleWebhook(context.Background(), webhookBody(t, "order-missing", "approved"), "good-sig")
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestHandleWebhookIgnoresUnknownStatus(t *testing.T) {
	svc, orders, _, _, _ := newCheckoutFixture()
	orders.orders = map[string]*models.Order{
		"order-1": {ID: "order-1", UserID: "u1", Status: models.OrderStatusPending},
	}

	require.NoError(t, svc.HandleWebhook(context.Background(), webhookBody(t, "order-1", "in_process"), "good-sig"))
	assert.False(t, orders.completed["order-1"])
	assert.False(t, orders.failed["order-1"])
}
