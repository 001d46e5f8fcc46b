package models

import "time"

const (
	RegistrationStatusRegistered = "registered"
	RegistrationStatusCancelled  = "cancelled"
	RegistrationStatusWaitlisted = "waitlisted"
	RegistrationStatusAttended   = "attended"
)

// EventRegistration is a user's claim on a seat at an event. At most one row
// exists per (event, user): cancelling and re-registering reactivates the
// existing row instead of inserting a duplicate, so rows persist for audit.
type EventRegistration struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	EventID          uint      `gorm:"not null;uniqueIndex:idx_event_user" json:"event_id"`
	UserID           uint      `gorm:"not null;uniqueIndex:idx_event_user" json:"user_id"`
	Status           string    `gorm:"not null;default:'registered'" json:"status"`
	RegistrationTime time.Time `gorm:"not null;autoCreateTime" json:"registration_time"`
	Event            *Event    `gorm:"foreignKey:EventID" json:"-"`
	User             *User     `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt        time.Time `json:"-"`
	UpdatedAt        time.Time `json:"-"`
}
