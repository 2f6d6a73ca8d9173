package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-commerce-api/internal/middleware"
	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/internal/service"
	"github.com/noah-isme/lms-commerce-api/pkg/payment"
)

type stubCheckoutOrders struct {
	order     *models.Order
	items     []models.OrderItem
	completed bool
}

func (s *stubCheckoutOrders) FindByID(ctx context.Context, id string) (*models.Order, error) {
	if s.order != nil && s.order.ID == id {
		clone := *s.order
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubCheckoutOrders) CreatePendingWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, bool, error) {
	order.ID = "order-1"
	order.Status = models.OrderStatusPending
	s.order = order
	s.items = items
	return order, false, nil
}

func (s *stubCheckoutOrders) ListItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return s.items, nil
}

func (s *stubCheckoutOrders) UpdateGatewaySession(ctx context.Context, id, sessionID string) error {
	return nil
}

func (s *stubCheckoutOrders) MarkCompleted(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	if s.completed {
		return false, nil
	}
	s.completed = true
	return true, nil
}

func (s *stubCheckoutOrders) MarkFailed(ctx context.Context, id string) (bool, error) {
	return true, nil
}

type stubCheckoutCourses struct{}

func (stubCheckoutCourses) FindByIDs(ctx context.Context, ids []string) ([]models.Course, error) {
	out := make([]models.Course, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Course{ID: id, Title: "Go Basics", Published: true, PriceCents: 4990, Currency: "USD"})
	}
	return out, nil
}

type stubCheckoutEnrollments struct {
	granted []string
}

func (s *stubCheckoutEnrollments) EnsureFromPurchase(ctx context.Context, userID, courseID string) error {
	s.granted = append(s.granted, courseID)
	return nil
}

func (s *stubCheckoutEnrollments) ExistsActive(ctx context.Context, userID, courseID string) (bool, error) {
	return false, nil
}

type stubCheckoutNotifier struct{}

func (stubCheckoutNotifier) NotifyPurchase(ctx context.Context, userID string, order *models.Order, items []models.OrderItem) {
}

type stubCheckoutGateway struct {
	signature string
}

func (s stubCheckoutGateway) CreatePreference(ctx context.Context, req payment.PreferenceRequest) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "pref-1", InitPoint: "https://gateway.test/pay/pref-1"}, nil
}

func (s stubCheckoutGateway) VerifySignature(body []byte, signature string) bool {
	return signature == s.signature
}

func (s stubCheckoutGateway) Sandbox() bool { return false }

type stubCheckoutAuditor struct{}

func (stubCheckoutAuditor) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	return nil
}

func newCheckoutHandlerFixture(orders *stubCheckoutOrders) *CheckoutHandler {
	svc := service.NewCheckoutService(
		orders,
		stubCheckoutCourses{},
		&stubCheckoutEnrollments{},
		stubCheckoutNotifier{},
		stubCheckoutGateway{signature: "good-sig"},
		stubCheckoutAuditor{},
		nil,
		nil,
	)
	return NewCheckoutHandler(svc)
}

func authedContext(recorder *httptest.ResponseRecorder, req *http.Request) *gin.Context {
	c, _ := gin.CreateTestContext(recorder)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{
		UserID:      "u1",
		Email:       "buyer@example.com",
		Role:        models.RoleStudent,
		Permissions: models.PermissionsForRole(models.RoleStudent),
	})
	return c
}

func TestCheckoutHandlerCreatesOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckoutHandlerFixture(&stubCheckoutOrders{})

	payload, _ := json.Marshal(gin.H{"course_ids": []string{"5f6ad4d1-98ec-4f25-a9a5-86a53f9bfb11"}})
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c := authedContext(recorder, req)

	handler.Checkout(c)

	require.Equal(t, http.StatusCreated, recorder.Code)
	var envelope struct {
		Data models.CheckoutResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	assert.Equal(t, "order-1", envelope.Data.Order.ID)
	assert.Equal(t, "https://gateway.test/pay/pref-1", envelope.Data.RedirectURL)
}

func TestCheckoutHandlerRequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckoutHandlerFixture(&stubCheckoutOrders{})

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/checkout", bytes.NewReader([]byte(`{}`)))

	handler.Checkout(c)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestWebhookHandlerRejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newCheckoutHandlerFixture(&stubCheckoutOrders{})

	body := []byte(`{"type":"payment","external_reference":"order-1","status":"approved"}`)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment/confirm", bytes.NewReader(body))
	c.Request.Header.Set(SignatureHeader, "tampered")

	handler.Webhook(c)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestWebhookHandlerSettlesOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	orders := &stubCheckoutOrders{
		order: &models.Order{ID: "order-1", UserID: "u1", Status: models.OrderStatusPending},
		items: []models.OrderItem{{CourseID: "c1", CourseTitle: "Go Basics"}},
	}
	handler := newCheckoutHandlerFixture(orders)

	body := []byte(`{"type":"payment","external_reference":"order-1","status":"approved","payment_id":"pay-1"}`)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment/confirm", bytes.NewReader(body))
	c.Request.Header.Set(SignatureHeader, "good-sig")

	handler.Webhook(c)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.True(t, orders.completed)
	assert.Contains(t, recorder.Body.String(), `"received":true`)
}
