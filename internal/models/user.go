package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID               uint    `gorm:"primaryKey" json:"id"`
	Username         string  `gorm:"unique;not null" json:"username"`
	Name             string  `gorm:"not null" json:"name"`
	Email            string  `gorm:"unique;not null" json:"email"`
	Password         string  `gorm:"not null" json:"-"`
	Role             string  `gorm:"not null;default:'user'" json:"role"`
	StripeCustomerID *string `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}
