package models

import "time"

const (
	TicketStatusValid          = "valid"
	TicketStatusUsed           = "used"
	TicketStatusCancelled      = "cancelled"
	TicketStatusExpired        = "expired"
	TicketStatusPendingPayment = "pending_payment"
)

// Ticket is the redeemable artifact proving a valid registration. TicketCode
// is a high-entropy token whose uniqueness is enforced by the database
// constraint; valid→used and valid→cancelled are terminal transitions.
type Ticket struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	EventID        uint       `gorm:"not null;index" json:"event_id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	RegistrationID uint       `gorm:"not null;index" json:"registration_id"`
	TicketCode     string     `gorm:"unique;not null" json:"ticket_code"`
	Paid           bool       `gorm:"not null;default:false" json:"paid"`
	Status         string     `gorm:"not null;default:'valid'" json:"status"`
	IssuedAt       time.Time  `gorm:"not null;autoCreateTime" json:"issued_at"`
	UsedAt         *time.Time `json:"used_at"`
	PaymentID      *uint      `json:"payment_id"`
	Event          *Event     `gorm:"foreignKey:EventID" json:"-"`
	User           *User      `gorm:"foreignKey:UserID" json:"-"`
}
