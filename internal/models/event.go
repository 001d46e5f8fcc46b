package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	EventStatusDraft     = "draft"
	EventStatusPublished = "published"
	EventStatusCancelled = "cancelled"
	EventStatusPast      = "past"
)

// Event is a schedulable, capacity-bounded activity users can register for.
//
// MaxAttendees and TicketsRemaining are independent counters: MaxAttendees is
// the attendee cap, TicketsRemaining is the sellable inventory. Both nil means
// unlimited. TicketsRemaining mirrors MaxAttendees at creation and is only
// ever mutated inside a locked transaction, one step per registration
// becoming active or inactive. It must never go negative.
type Event struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Status           string     `gorm:"not null;default:'draft'" json:"status"`
	Title            string     `gorm:"not null" json:"title"`
	Description      string     `json:"description"`
	EventImgURL      string     `json:"event_img_url"`
	Location         string     `json:"location"`
	StartTime        time.Time  `gorm:"not null" json:"start_time"`
	EndTime          time.Time  `gorm:"not null" json:"end_time"`
	MaxAttendees     *int       `json:"max_attendees"`
	TicketsRemaining *int       `json:"tickets_remaining"`
	Price            *float64   `json:"price"`
	Category         string     `json:"category"`
	IsPublic         bool       `gorm:"not null;default:true" json:"is_public"`
	TeamID           uint       `gorm:"not null;index" json:"team_id"`
	Team             *Team      `gorm:"foreignKey:TeamID" json:"-"`
	CreatedBy        uint       `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsFree reports whether registration requires no payment.
func (e Event) IsFree() bool {
	return e.Price == nil || *e.Price == 0
}
