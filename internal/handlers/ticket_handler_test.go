package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/markw53/mt-api/config"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	return db
}

// testRouter wires the handler under test behind the db middleware and a stub
// auth layer impersonating the given user.
func testRouter(db *gorm.DB, userID uint, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.DatabaseMiddleware(db))
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("user_role", role)
		c.Next()
	})
	r.GET("/api/tickets/user/:userId", GetUserTickets)
	return r
}

func TestGetUserTickets(t *testing.T) {
	db := openTestDB(t)

	user := models.User{Username: "holder", Name: "Holder", Email: "holder@example.com", Password: "hashed"}
	require.NoError(t, db.Create(&user).Error)
	other := models.User{Username: "other", Name: "Other", Email: "other@example.com", Password: "hashed"}
	require.NoError(t, db.Create(&other).Error)

	team := models.Team{Name: "Organisers " + t.Name()}
	require.NoError(t, db.Create(&team).Error)
	event := models.Event{
		Status:    models.EventStatusPublished,
		Title:     "Community Meetup",
		StartTime: time.Now().Add(24 * time.Hour),
		EndTime:   time.Now().Add(26 * time.Hour),
		TeamID:    team.ID,
	}
	require.NoError(t, db.Create(&event).Error)

	reg := models.EventRegistration{EventID: event.ID, UserID: user.ID, Status: models.RegistrationStatusRegistered, RegistrationTime: time.Now()}
	require.NoError(t, db.Create(&reg).Error)
	ticket := models.Ticket{
		EventID:        event.ID,
		UserID:         user.ID,
		RegistrationID: reg.ID,
		TicketCode:     "0123456789ABCDEF0123456789ABCDEF",
		Status:         models.TicketStatusValid,
		IssuedAt:       time.Now(),
	}
	require.NoError(t, db.Create(&ticket).Error)

	t.Run("own tickets", func(t *testing.T) {
		r := testRouter(db, user.ID, "user")
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/tickets/user/%d", user.ID), nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), ticket.TicketCode)
	})

	t.Run("someone else's tickets forbidden", func(t *testing.T) {
		r := testRouter(db, other.ID, "user")
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/tickets/user/%d", user.ID), nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("site admin may read anyone", func(t *testing.T) {
		r := testRouter(db, other.ID, "admin")
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/tickets/user/%d", user.ID), nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("bad user id", func(t *testing.T) {
		r := testRouter(db, user.ID, "user")
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/tickets/user/abc", nil)
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
