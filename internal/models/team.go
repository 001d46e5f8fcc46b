package models

import (
	"time"

	"gorm.io/gorm"
)

// Team roles. Only team admins and event managers may create events for a
// team; only team admins may delete the team or its events.
const (
	TeamRoleAdmin        = "team_admin"
	TeamRoleEventManager = "event_manager"
	TeamRoleMember       = "member"
)

type Team struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"unique;not null" json:"name"`
	Description string `json:"description"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

type TeamMember struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	TeamID    uint   `gorm:"not null;uniqueIndex:idx_team_user" json:"team_id"`
	UserID    uint   `gorm:"not null;uniqueIndex:idx_team_user" json:"user_id"`
	Role      string `gorm:"not null;default:'member'" json:"role"`
	Team      *Team  `gorm:"foreignKey:TeamID" json:"-"`
	User      *User  `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanManageEvents reports whether this membership allows event creation and
// editing for the team.
func (m TeamMember) CanManageEvents() bool {
	return m.Role == TeamRoleAdmin || m.Role == TeamRoleEventManager
}
