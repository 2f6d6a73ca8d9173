package models

import "time"

// OrderStatus enumerates the purchase lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Terminal reports whether the status admits no further gateway transition.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

// Order is a purchase snapshot. TotalCents is the sum of its items at
// creation time; PaidAt is set on completion.
type Order struct {
	ID               string      `db:"id" json:"id"`
	UserID           string      `db:"user_id" json:"user_id"`
	Status           OrderStatus `db:"status" json:"status"`
	TotalCents       int64       `db:"total_cents" json:"total_cents"`
	Currency         string      `db:"currency" json:"currency"`
	GatewaySessionID string      `db:"gateway_session_id" json:"gateway_session_id,omitempty"`
	PaidAt           *time.Time  `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem references a course and its price at time of purchase.
type OrderItem struct {
	ID             string `db:"id" json:"id"`
	OrderID        string `db:"order_id" json:"order_id"`
	CourseID       string `db:"course_id" json:"course_id"`
	CourseTitle    string `db:"course_title" json:"course_title"`
	UnitPriceCents int64  `db:"unit_price_cents" json:"unit_price_cents"`
}

// OrderDetail is an order with its line items and buyer context.
type OrderDetail struct {
	Order
	Items     []OrderItem `json:"items"`
	UserEmail string      `db:"user_email" json:"user_email,omitempty"`
	UserName  string      `db:"user_name" json:"user_name,omitempty"`
}

// OrderFilter captures admin listing criteria.
type OrderFilter struct {
	UserID    string
	Status    OrderStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CheckoutResponse is returned by the checkout endpoint: the pending order
// plus the gateway redirect target.
type CheckoutResponse struct {
	Order       *Order `json:"order"`
	RedirectURL string `json:"redirect_url"`
	Existing    bool   `json:"existing"`
}
