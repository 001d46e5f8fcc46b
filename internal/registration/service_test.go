package registration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/markw53/mt-api/config"
	"github.com/markw53/mt-api/internal/apperr"
	"github.com/markw53/mt-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
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

	// SQLite support hack: remove FOR UPDATE clauses
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_locking", func(d *gorm.DB) {
		delete(d.Statement.Clauses, "FOR")
	})

	require.NoError(t, config.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, n int) *models.User {
	t.Helper()
	user := models.User{
		Username: fmt.Sprintf("attendee%d", n),
		Name:     fmt.Sprintf("Attendee %d", n),
		Email:    fmt.Sprintf("attendee%d@example.com", n),
		Password: "hashed",
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func seedEvent(t *testing.T, db *gorm.DB, capacity *int) *models.Event {
	t.Helper()

	team := models.Team{Name: "Organisers " + t.Name()}
	require.NoError(t, db.Create(&team).Error)

	var remaining *int
	if capacity != nil {
		r := *capacity
		remaining = &r
	}
	event := models.Event{
		Status:           models.EventStatusPublished,
		Title:            "Community Meetup",
		Location:         "Town Hall",
		StartTime:        time.Now().Add(24 * time.Hour),
		EndTime:          time.Now().Add(26 * time.Hour),
		MaxAttendees:     capacity,
		TicketsRemaining: remaining,
		TeamID:           team.ID,
	}
	require.NoError(t, db.Create(&event).Error)
	return &event
}

func intPtr(n int) *int { return &n }

func remainingTickets(t *testing.T, db *gorm.DB, eventID uint) int {
	t.Helper()
	var event models.Event
	require.NoError(t, db.First(&event, eventID).Error)
	require.NotNil(t, event.TicketsRemaining)
	return *event.TicketsRemaining
}

func TestRegisterClaimsSeat(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(5))
	user := seedUser(t, db, 1)

	result, err := svc.Register(context.Background(), event.ID, user.ID)
	require.NoError(t, err)

	assert.False(t, result.Reactivated)
	assert.Equal(t, models.RegistrationStatusRegistered, result.Registration.Status)
	assert.Len(t, result.TicketInfo.TicketCode, 32)
	assert.Equal(t, strings.ToUpper(result.TicketInfo.TicketCode), result.TicketInfo.TicketCode)
	assert.Equal(t, "Community Meetup", result.TicketInfo.EventTitle)
	assert.Equal(t, user.Email, result.TicketInfo.UserEmail)

	assert.Equal(t, 4, remainingTickets(t, db, event.ID))

	var ticket models.Ticket
	require.NoError(t, db.Where("registration_id = ?", result.Registration.ID).First(&ticket).Error)
	assert.Equal(t, models.TicketStatusValid, ticket.Status)
	assert.False(t, ticket.Paid)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(5))
	user := seedUser(t, db, 1)

	_, err := svc.Register(context.Background(), event.ID, user.ID)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), event.ID, user.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, 4, remainingTickets(t, db, event.ID))
}

func TestRegisterUnknownEvent(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))
	user := seedUser(t, db, 1)

	_, err := svc.Register(context.Background(), 9999, user.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

// Eight users chase three seats; exactly three registrations succeed and the
// inventory never goes below zero.
func TestRegisterNeverOversells(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(3))

	succeeded := 0
	for i := 1; i <= 8; i++ {
		user := seedUser(t, db, i)
		_, err := svc.Register(context.Background(), event.ID, user.ID)
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindValidation), "unexpected error: %v", err)
	}

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 0, remainingTickets(t, db, event.ID))

	var active int64
	require.NoError(t, db.Model(&models.EventRegistration{}).
		Where("event_id = ? AND status = ?", event.ID, models.RegistrationStatusRegistered).
		Count(&active).Error)
	assert.EqualValues(t, 3, active)
}

func TestCancelRestoresInventory(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(2))
	user := seedUser(t, db, 1)

	result, err := svc.Register(context.Background(), event.ID, user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, remainingTickets(t, db, event.ID))

	cancelled, err := svc.Cancel(context.Background(), result.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusCancelled, cancelled.Status)
	assert.Equal(t, 2, remainingTickets(t, db, event.ID))

	var ticket models.Ticket
	require.NoError(t, db.Where("registration_id = ?", result.Registration.ID).First(&ticket).Error)
	assert.Equal(t, models.TicketStatusCancelled, ticket.Status)
}

func TestCancelTwiceRejected(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(2))
	user := seedUser(t, db, 1)

	result, err := svc.Register(context.Background(), event.ID, user.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), result.Registration.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), result.Registration.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	// A rejected double-cancel must not restore inventory again.
	assert.Equal(t, 2, remainingTickets(t, db, event.ID))
}

// The cancelled check must hold at update time, not at the earlier read: when
// another cancel has already committed, the loser gets Conflict and the seat
// is not restored a second time.
func TestCancelLosingRaceRestoresNothing(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(2))
	user := seedUser(t, db, 1)

	result, err := svc.Register(context.Background(), event.ID, user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, remainingTickets(t, db, event.ID))

	// The winning cancel commits behind our back: status flipped, seat
	// restored.
	require.NoError(t, db.Model(&models.EventRegistration{}).
		Where("id = ?", result.Registration.ID).
		Update("status", models.RegistrationStatusCancelled).Error)
	require.NoError(t, db.Model(&models.Event{}).
		Where("id = ?", event.ID).
		UpdateColumn("tickets_remaining", gorm.Expr("tickets_remaining + 1")).Error)

	_, err = svc.Cancel(context.Background(), result.Registration.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, 2, remainingTickets(t, db, event.ID))
}

func TestMintTicketPaid(t *testing.T) {
	db := openTestDB(t)

	event := seedEvent(t, db, intPtr(2))
	user := seedUser(t, db, 1)
	reg := models.EventRegistration{
		EventID:          event.ID,
		UserID:           user.ID,
		Status:           models.RegistrationStatusRegistered,
		RegistrationTime: time.Now(),
	}
	require.NoError(t, db.Create(&reg).Error)

	var minted *models.Ticket
	err := db.Transaction(func(tx *gorm.DB) error {
		ticket, err := MintTicket(tx, event.ID, user.ID, reg.ID, true)
		minted = ticket
		return err
	})
	require.NoError(t, err)

	assert.True(t, minted.Paid)
	assert.Equal(t, models.TicketStatusValid, minted.Status)
	assert.Len(t, minted.TicketCode, 32)
	assert.Equal(t, reg.ID, minted.RegistrationID)
}

// Cancel then re-register reactivates the original row: one registration per
// (event, user), the old ticket valid again, inventory back down by one.
func TestReactivationReusesRegistration(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(2))
	user := seedUser(t, db, 1)

	first, err := svc.Register(context.Background(), event.ID, user.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), first.Registration.ID)
	require.NoError(t, err)

	second, err := svc.Register(context.Background(), event.ID, user.ID)
	require.NoError(t, err)

	assert.True(t, second.Reactivated)
	assert.Equal(t, first.Registration.ID, second.Registration.ID)
	assert.Equal(t, first.TicketInfo.TicketCode, second.TicketInfo.TicketCode)
	assert.Equal(t, 1, remainingTickets(t, db, event.ID))

	var count int64
	require.NoError(t, db.Model(&models.EventRegistration{}).
		Where("event_id = ? AND user_id = ?", event.ID, user.ID).
		Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var ticket models.Ticket
	require.NoError(t, db.Where("registration_id = ?", first.Registration.ID).First(&ticket).Error)
	assert.Equal(t, models.TicketStatusValid, ticket.Status)
}

func TestReactivationBlockedWhenSoldOut(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, intPtr(1))
	first := seedUser(t, db, 1)
	second := seedUser(t, db, 2)

	reg, err := svc.Register(context.Background(), event.ID, first.ID)
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), reg.Registration.ID)
	require.NoError(t, err)

	// The freed seat goes to someone else.
	_, err = svc.Register(context.Background(), event.ID, second.ID)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), event.ID, first.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, 0, remainingTickets(t, db, event.ID))
}

func TestRegisterUnlimitedCapacity(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	event := seedEvent(t, db, nil)

	for i := 1; i <= 5; i++ {
		user := seedUser(t, db, i)
		_, err := svc.Register(context.Background(), event.ID, user.ID)
		require.NoError(t, err)
	}
}

func TestCheckAvailabilityReasons(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, zaptest.NewLogger(t))

	t.Run("open event", func(t *testing.T) {
		event := seedEvent(t, db, intPtr(3))
		availability, err := svc.CheckAvailability(context.Background(), event.ID)
		require.NoError(t, err)
		assert.True(t, availability.Available)
		assert.Empty(t, availability.Reason)
	})

	t.Run("draft event", func(t *testing.T) {
		event := seedEvent(t, db, intPtr(3))
		require.NoError(t, db.Model(event).Update("status", models.EventStatusDraft).Error)

		availability, err := svc.CheckAvailability(context.Background(), event.ID)
		require.NoError(t, err)
		assert.False(t, availability.Available)
		assert.Equal(t, "Event is draft, not published", availability.Reason)
	})

	t.Run("finished event", func(t *testing.T) {
		event := seedEvent(t, db, intPtr(3))
		require.NoError(t, db.Model(event).Updates(map[string]interface{}{
			"start_time": time.Now().Add(-4 * time.Hour),
			"end_time":   time.Now().Add(-2 * time.Hour),
		}).Error)

		availability, err := svc.CheckAvailability(context.Background(), event.ID)
		require.NoError(t, err)
		assert.False(t, availability.Available)
		assert.Equal(t, "Event has already finished", availability.Reason)
	})

	t.Run("started event", func(t *testing.T) {
		event := seedEvent(t, db, intPtr(3))
		require.NoError(t, db.Model(event).Update("start_time", time.Now().Add(-time.Hour)).Error)

		availability, err := svc.CheckAvailability(context.Background(), event.ID)
		require.NoError(t, err)
		assert.False(t, availability.Available)
		assert.Equal(t, "Event has already started", availability.Reason)
	})

	t.Run("sold out", func(t *testing.T) {
		event := seedEvent(t, db, intPtr(3))
		require.NoError(t, db.Model(event).Update("tickets_remaining", 0).Error)

		availability, err := svc.CheckAvailability(context.Background(), event.ID)
		require.NoError(t, err)
		assert.False(t, availability.Available)
		assert.Equal(t, "No tickets remaining for this event", availability.Reason)
	})

	t.Run("missing event", func(t *testing.T) {
		_, err := svc.CheckAvailability(context.Background(), 9999)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
	})
}
