package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Payment records a confirmed Stripe checkout. The unique constraint on
// StripeSessionID is the idempotency guard: one checkout session can never
// materialize more than one Payment row, no matter how many reconciliation
// attempts race for it. Amount is stored in major currency units.
type Payment struct {
	ID                    uint    `gorm:"primaryKey" json:"id"`
	UserID                uint    `gorm:"not null;index" json:"user_id"`
	EventID               uint    `gorm:"not null;index" json:"event_id"`
	StripeSessionID       string  `gorm:"unique;not null" json:"stripe_session_id"`
	StripePaymentIntentID string  `gorm:"index" json:"stripe_payment_intent_id"`
	Amount                float64 `gorm:"not null" json:"amount"`
	Currency              string  `gorm:"not null;default:'gbp'" json:"currency"`
	Status                string  `gorm:"not null;default:'pending'" json:"status"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
