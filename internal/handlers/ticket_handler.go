package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/internal/helpers"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/models"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

func loadEvent(c *gin.Context, gormDB *gorm.DB, eventID uint) (*models.Event, bool) {
	var event models.Event
	if err := gormDB.First(&event, eventID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			helpers.RespondWithError(c, http.StatusNotFound, "Event not found.")
		} else {
			helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving event.")
		}
		return nil, false
	}
	return &event, true
}

// GetUserTickets lists a user's tickets, newest first. Callers may only read
// their own unless they are a site admin.
func GetUserTickets(c *gin.Context) {
	userID, err := helpers.StringToUint(c.Param("userId"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	callerID, _ := middleware.CurrentUserID(c)
	if callerID != userID {
		role, _ := c.Get("user_role")
		if role != "admin" {
			helpers.RespondWithError(c, http.StatusForbidden, "You can only view your own tickets")
			return
		}
	}

	gormDB := middleware.GetDB(c)

	var tickets []models.Ticket
	err = gormDB.Where("user_id = ?", userID).Order("issued_at DESC").Find(&tickets).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving tickets.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// GetEventTickets lists every ticket for an event. Team members only.
func GetEventTickets(c *gin.Context) {
	eventID, err := helpers.StringToUint(c.Param("eventId"))
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
		helpers.RespondWithError(c, http.StatusForbidden, "You must be a team member to view event tickets")
		return
	}

	var tickets []models.Ticket
	err = gormDB.Where("event_id = ?", eventID).Order("issued_at ASC").Find(&tickets).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving tickets.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// VerifyTicket checks a ticket code at the door without consuming it.
func VerifyTicket(c *gin.Context) {
	code := c.Param("code")
	if !helpers.IsValidTicketCode(code) {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid ticket code format")
		return
	}

	gormDB := middleware.GetDB(c)

	var ticket models.Ticket
	err := gormDB.Where("ticket_code = ?", code).First(&ticket).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			helpers.RespondWithError(c, http.StatusNotFound, "Ticket not found.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving ticket.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":  ticket.Status == models.TicketStatusValid,
		"ticket": ticket,
	})
}

// UseTicket consumes a valid ticket, recording when it was scanned. Only
// members of the team running the event can scan tickets, and a ticket can
// only be used once.
func UseTicket(c *gin.Context) {
	code := c.Param("code")
	if !helpers.IsValidTicketCode(code) {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid ticket code format")
		return
	}

	userID, _ := middleware.CurrentUserID(c)
	gormDB := middleware.GetDB(c)

	var ticket models.Ticket
	err := gormDB.Where("ticket_code = ?", code).First(&ticket).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			helpers.RespondWithError(c, http.StatusNotFound, "Ticket not found.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving ticket.")
		return
	}

	event, ok := loadEvent(c, gormDB, ticket.EventID)
	if !ok {
		return
	}
	if teamMembership(gormDB, event.TeamID, userID) == nil {
		helpers.RespondWithError(c, http.StatusForbidden, "You must be a team member to use tickets")
		return
	}

	switch ticket.Status {
	case models.TicketStatusUsed:
		helpers.RespondWithError(c, http.StatusBadRequest, "Ticket has already been used")
		return
	case models.TicketStatusCancelled, models.TicketStatusExpired, models.TicketStatusPendingPayment:
		helpers.RespondWithError(c, http.StatusBadRequest, "Ticket is not valid for entry")
		return
	}

	now := time.Now()
	err = gormDB.Model(&ticket).Updates(map[string]interface{}{
		"status":  models.TicketStatusUsed,
		"used_at": now,
	}).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to use ticket.")
		return
	}

	ticket.Status = models.TicketStatusUsed
	ticket.UsedAt = &now

	c.JSON(http.StatusOK, gin.H{
		"message": "Ticket used successfully.",
		"ticket":  ticket,
	})
}

func signTicketPayload(ticketCode string, eventID, userID uint, secret string) string {
	data := fmt.Sprintf("%s:%d:%d", ticketCode, eventID, userID)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateTicketQR renders the caller's ticket as a PNG QR code. The payload
// carries an HMAC signature so a scanner can verify it offline.
func GenerateTicketQR(c *gin.Context) {
	ticketID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid ticket ID format")
		return
	}

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	gormDB := middleware.GetDB(c)
	cfg := middleware.GetConfig(c)

	var ticket models.Ticket
	if err := gormDB.First(&ticket, ticketID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			helpers.RespondWithError(c, http.StatusNotFound, "Ticket not found.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving ticket.")
		return
	}

	if ticket.UserID != userID {
		helpers.RespondWithError(c, http.StatusForbidden, "You can only view your own tickets")
		return
	}

	signature := signTicketPayload(ticket.TicketCode, ticket.EventID, ticket.UserID, cfg.JWTSecret)
	payload := fmt.Sprintf("ticket:%s;event:%d;signature:%s", ticket.TicketCode, ticket.EventID, signature)

	qrImage, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	c.Data(http.StatusOK, "image/png", qrImage)
}
