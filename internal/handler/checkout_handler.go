package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-commerce-api/internal/service"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/response"
)

// SignatureHeader carries the gateway's HMAC over the webhook body.
const SignatureHeader = "X-Gateway-Signature"

// CheckoutHandler wires HTTP endpoints to the checkout flow.
type CheckoutHandler struct {
	service *service.CheckoutService
}

// NewCheckoutHandler creates a new handler.
func NewCheckoutHandler(svc *service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{service: svc}
}

// Checkout godoc
// @Summary Start a checkout
// @Description Create (or return) the caller's pending order and the gateway redirect URL
// @Tags Checkout
// @Accept json
// @Produce json
// @Param payload body service.CheckoutRequest true "Cart"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /checkout [post]
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid checkout payload"))
		return
	}
	req.Email = claims.Email

	res, err := h.service.Checkout(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Existing {
		response.JSON(c, http.StatusOK, res, nil)
		return
	}
	response.Created(c, res)
}

// Webhook godoc
// @Summary Payment gateway webhook
// @Description Settle an order from a signed gateway notification
// @Tags Checkout
// @Accept json
// @Produce json
// @Param X-Gateway-Signature header string true "HMAC signature"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /checkout/payment/confirm [post]
func (h *CheckoutHandler) Webhook(c *gin.Context) {
	// The signature covers the raw body, so read it before any binding.
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable webhook body"))
		return
	}

	if err := h.service.HandleWebhook(c.Request.Context(), body, c.GetHeader(SignatureHeader)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
}
