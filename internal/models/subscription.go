package models

import "time"

// PlanInterval is the recurring billing period length.
type PlanInterval string

const (
	PlanIntervalMonth PlanInterval = "MONTH"
	PlanIntervalYear  PlanInterval = "YEAR"
)

// SubscriptionPlan bundles a set of courses under recurring billing.
type SubscriptionPlan struct {
	ID         string       `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	PriceCents int64        `db:"price_cents" json:"price_cents"`
	Currency   string       `db:"currency" json:"currency"`
	Interval   PlanInterval `db:"interval" json:"interval"`
	Active     bool         `db:"active" json:"active"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// PeriodLength converts the interval into a concrete duration from a start.
func (p SubscriptionPlan) PeriodEnd(start time.Time) time.Time {
	if p.Interval == PlanIntervalYear {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// SubscriptionStatus enumerates the recurring entitlement lifecycle.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
)

// Subscription is a user's recurring entitlement to a plan's course set.
type Subscription struct {
	ID                 string             `db:"id" json:"id"`
	UserID             string             `db:"user_id" json:"user_id"`
	PlanID             string             `db:"plan_id" json:"plan_id"`
	Status             SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodStart time.Time          `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `db:"current_period_end" json:"current_period_end"`
	CanceledAt         *time.Time         `db:"canceled_at" json:"canceled_at,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// SubscriptionDetail joins plan context.
type SubscriptionDetail struct {
	Subscription
	PlanName string `db:"plan_name" json:"plan_name"`
}
