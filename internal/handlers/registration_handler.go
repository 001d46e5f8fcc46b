package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/internal/helpers"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/registration"
	"go.uber.org/zap"
)

type RegisterForEventRequest struct {
	UserID *uint `json:"user_id"`
}

// RegisterForEvent claims a seat on an event for the authenticated user. Site
// admins may pass a user_id in the body to register someone else. A revived
// cancelled registration returns 200, a fresh one 201.
func RegisterForEvent(c *gin.Context) {
	eventID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req RegisterForEventRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.UserID != nil && *req.UserID != userID {
		role, _ := c.Get("user_role")
		if role != "admin" {
			helpers.RespondWithError(c, http.StatusForbidden, "You can only register yourself for events")
			return
		}
		userID = *req.UserID
	}

	svc := registration.NewService(middleware.GetDB(c), nil)
	result, err := svc.Register(c.Request.Context(), eventID, userID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	// Confirmation email is best effort: a mail failure never unwinds a
	// committed registration.
	if mailer := middleware.GetMailer(c); mailer != nil {
		if err := mailer.SendRegistrationConfirmation(c.Request.Context(), result.TicketInfo); err != nil {
			zap.L().Warn("confirmation email failed",
				zap.Uint("event_id", eventID),
				zap.Uint("user_id", userID),
				zap.Error(err))
		}
	}

	status := http.StatusCreated
	message := "Successfully registered for event."
	if result.Reactivated {
		status = http.StatusOK
		message = "Registration reactivated."
	}

	c.JSON(status, gin.H{
		"message":      message,
		"registration": result.Registration,
		"ticket_info":  result.TicketInfo,
	})
}

// CancelRegistration cancels the caller's registration, restoring inventory
// and retiring its tickets.
func CancelRegistration(c *gin.Context) {
	registrationID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid registration ID format")
		return
	}

	userID, _ := middleware.CurrentUserID(c)
	svc := registration.NewService(middleware.GetDB(c), nil)

	reg, err := svc.GetRegistration(c.Request.Context(), registrationID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	if reg.UserID != userID {
		role, _ := c.Get("user_role")
		if role != "admin" {
			helpers.RespondWithError(c, http.StatusForbidden, "You can only cancel your own registrations")
			return
		}
	}

	cancelled, err := svc.Cancel(c.Request.Context(), registrationID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Registration cancelled successfully.",
		"registration": cancelled,
	})
}

// ListEventRegistrations returns every registration for an event, for team
// members managing attendance.
func ListEventRegistrations(c *gin.Context) {
	eventID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	userID, _ := middleware.CurrentUserID(c)
	gormDB := middleware.GetDB(c)

	event, ok := loadEvent(c, gormDB, eventID)
	if !ok {
		return
	}
	if teamMembership(gormDB, event.TeamID, userID) == nil {
		helpers.RespondWithError(c, http.StatusForbidden, "You must be a team member to view registrations")
		return
	}

	var registrations []registrationWithUser
	err = gormDB.Table("event_registrations").
		Select("event_registrations.*, users.name AS user_name, users.email AS user_email").
		Joins("JOIN users ON users.id = event_registrations.user_id").
		Where("event_registrations.event_id = ?", eventID).
		Order("event_registrations.registration_time ASC").
		Scan(&registrations).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving registrations.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"registrations": registrations})
}

type registrationWithUser struct {
	ID               uint      `json:"id"`
	EventID          uint      `json:"event_id"`
	UserID           uint      `json:"user_id"`
	Status           string    `json:"status"`
	RegistrationTime time.Time `json:"registration_time"`
	UserName         string    `json:"user_name"`
	UserEmail        string    `json:"user_email"`
}
