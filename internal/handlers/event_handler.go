package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/internal/helpers"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/models"
	"github.com/markw53/mt-api/internal/registration"
	"gorm.io/gorm"
)

var validSortColumns = map[string]string{
	"start_time":    "start_time",
	"price":         "price",
	"location":      "location",
	"max_attendees": "max_attendees",
}

// ListEvents returns published, not-yet-started events, paginated and
// optionally filtered by category.
func ListEvents(c *gin.Context) {
	gormDB := middleware.GetDB(c)

	sortBy := c.DefaultQuery("sort_by", "start_time")
	order := c.DefaultQuery("order", "asc")
	category := c.Query("category")

	column, ok := validSortColumns[sortBy]
	if !ok {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid sort_by query: "+sortBy+" is not a valid sort parameter")
		return
	}
	if order != "asc" && order != "desc" {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid order query: "+order+" is not a valid order parameter")
		return
	}

	pageNum, err := helpers.StringToInt(c.DefaultQuery("page", "1"))
	if err != nil || pageNum <= 0 {
		helpers.RespondWithError(c, http.StatusBadRequest, "Limit and page must be positive numbers")
		return
	}
	limitNum, err := helpers.StringToInt(c.DefaultQuery("limit", "10"))
	if err != nil || limitNum <= 0 {
		helpers.RespondWithError(c, http.StatusBadRequest, "Limit and page must be positive numbers")
		return
	}

	query := gormDB.Model(&models.Event{}).
		Where("status = ? AND start_time > ?", models.EventStatusPublished, time.Now())
	if category != "" {
		query = query.Where("category = ?", category)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving events.")
		return
	}

	var events []models.Event
	offset := (pageNum - 1) * limitNum
	err = query.Order(column + " " + order).Offset(offset).Limit(limitNum).Find(&events).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving events.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":       events,
		"total_events": totalCount,
		"total_pages":  (totalCount + int64(limitNum) - 1) / int64(limitNum),
		"page":         pageNum,
		"limit":        limitNum,
	})
}

// ListPastEvents returns published events whose end time has passed.
func ListPastEvents(c *gin.Context) {
	gormDB := middleware.GetDB(c)

	var events []models.Event
	err := gormDB.
		Where("status = ? AND end_time <= ?", models.EventStatusPublished, time.Now()).
		Order("start_time DESC").
		Find(&events).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving events.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListCategories returns the distinct categories in use by published events.
func ListCategories(c *gin.Context) {
	gormDB := middleware.GetDB(c)

	var categories []string
	err := gormDB.Model(&models.Event{}).
		Where("category <> ''").
		Distinct().
		Order("category ASC").
		Pluck("category", &categories).Error
	if err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving categories.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func GetEvent(c *gin.Context) {
	eventID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	gormDB := middleware.GetDB(c)

	var event models.Event
	if err := gormDB.First(&event, eventID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			helpers.RespondWithError(c, http.StatusNotFound, "Event not found.")
			return
		}
		helpers.RespondWithError(c, http.StatusInternalServerError, "Error retrieving event.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event})
}

// CheckAvailability is the advisory pre-flight check clients call before
// showing a register button. The authoritative check runs under lock during
// registration.
func CheckAvailability(c *gin.Context) {
	eventID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	svc := registration.NewService(middleware.GetDB(c), nil)
	availability, err := svc.CheckAvailability(c.Request.Context(), eventID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, availability)
}

type EventRequest struct {
	Status       string   `json:"status" binding:"omitempty,oneof=draft published cancelled past"`
	Title        string   `json:"title" binding:"required"`
	Description  string   `json:"description"`
	EventImgURL  string   `json:"event_img_url"`
	Location     string   `json:"location"`
	StartTime    string   `json:"start_time" binding:"required"`
	EndTime      string   `json:"end_time" binding:"required"`
	MaxAttendees *int     `json:"max_attendees"`
	Price        *float64 `json:"price"`
	Category     string   `json:"category"`
	IsPublic     *bool    `json:"is_public"`
	TeamID       uint     `json:"team_id" binding:"required"`
}

func (r *EventRequest) parseTimes() (start, end time.Time, errMsg string) {
	start, err := time.Parse(time.RFC3339, r.StartTime)
	if err != nil {
		return start, end, "Invalid start time format."
	}
	end, err = time.Parse(time.RFC3339, r.EndTime)
	if err != nil {
		return start, end, "Invalid end time format."
	}
	if !end.After(start) {
		return start, end, "End time must be after start time."
	}
	if r.MaxAttendees != nil && *r.MaxAttendees <= 0 {
		return start, end, "max_attendees must be a positive integer."
	}
	if r.Price != nil && *r.Price < 0 {
		return start, end, "Price cannot be negative."
	}
	return start, end, ""
}

// CreateEvent creates a draft or published event for a team. The caller must
// be a team admin or event manager of that team. tickets_remaining starts as
// a copy of max_attendees.
func CreateEvent(c *gin.Context) {
	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	startTime, endTime, errMsg := req.parseTimes()
	if errMsg != "" {
		helpers.RespondWithError(c, http.StatusBadRequest, errMsg)
		return
	}

	gormDB := middleware.GetDB(c)

	member := teamMembership(gormDB, req.TeamID, userID)
	if member == nil || !member.CanManageEvents() {
		helpers.RespondWithError(c, http.StatusForbidden, "You must be a team admin or event manager to create events")
		return
	}

	status := req.Status
	if status == "" {
		status = models.EventStatusDraft
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	var ticketsRemaining *int
	if req.MaxAttendees != nil {
		remaining := *req.MaxAttendees
		ticketsRemaining = &remaining
	}

	event := models.Event{
		Status:           status,
		Title:            req.Title,
		Description:      req.Description,
		EventImgURL:      req.EventImgURL,
		Location:         req.Location,
		StartTime:        startTime,
		EndTime:          endTime,
		MaxAttendees:     req.MaxAttendees,
		TicketsRemaining: ticketsRemaining,
		Price:            req.Price,
		Category:         req.Category,
		IsPublic:         isPublic,
		TeamID:           req.TeamID,
		CreatedBy:        userID,
	}

	if err := gormDB.Create(&event).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to create event.")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Event created successfully.",
		"event":   event,
	})
}

// UpdateEvent edits an event, including status transitions
// (draft→published etc). Capacity fields update without resetting
// tickets_remaining: sellable inventory is adjusted independently.
func UpdateEvent(c *gin.Context) {
	eventID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	userID, _ := middleware.CurrentUserID(c)
	gormDB := middleware.GetDB(c)

	var event models.Event
	if err := gormDB.First(&event, eventID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Event not found.")
		return
	}

	member := teamMembership(gormDB, event.TeamID, userID)
	if member == nil || !member.CanManageEvents() {
		helpers.RespondWithError(c, http.StatusForbidden, "You don't have permission to update this event")
		return
	}

	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid input. Please check your fields.")
		return
	}

	startTime, endTime, errMsg := req.parseTimes()
	if errMsg != "" {
		helpers.RespondWithError(c, http.StatusBadRequest, errMsg)
		return
	}

	event.Title = req.Title
	event.Description = req.Description
	event.EventImgURL = req.EventImgURL
	event.Location = req.Location
	event.StartTime = startTime
	event.EndTime = endTime
	event.MaxAttendees = req.MaxAttendees
	event.Price = req.Price
	event.Category = req.Category
	if req.Status != "" {
		event.Status = req.Status
	}
	if req.IsPublic != nil {
		event.IsPublic = *req.IsPublic
	}

	if err := gormDB.Save(&event).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to update event.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Event updated successfully.",
		"event":   event,
	})
}

// DeleteEvent removes an event. Team admins only.
func DeleteEvent(c *gin.Context) {
	eventID, err := helpers.StringToUint(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	userID, _ := middleware.CurrentUserID(c)
	gormDB := middleware.GetDB(c)

	var event models.Event
	if err := gormDB.First(&event, eventID).Error; err != nil {
		helpers.RespondWithError(c, http.StatusNotFound, "Event not found.")
		return
	}

	if !hasTeamRole(gormDB, event.TeamID, userID, models.TeamRoleAdmin) {
		helpers.RespondWithError(c, http.StatusForbidden, "Only team admins can delete events")
		return
	}

	if err := gormDB.Delete(&event).Error; err != nil {
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to delete event.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Event deleted successfully."})
}
