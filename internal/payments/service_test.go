package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/markw53/mt-api/config"
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

func seedPaidEvent(t *testing.T, db *gorm.DB, remaining int) (*models.Event, *models.User) {
	t.Helper()

	team := models.Team{Name: "Organisers " + t.Name()}
	require.NoError(t, db.Create(&team).Error)

	price := 12.50
	r := remaining
	event := models.Event{
		Status:           models.EventStatusPublished,
		Title:            "Gala Dinner",
		StartTime:        time.Now().Add(48 * time.Hour),
		EndTime:          time.Now().Add(52 * time.Hour),
		TicketsRemaining: &r,
		Price:            &price,
		TeamID:           team.ID,
	}
	require.NoError(t, db.Create(&event).Error)

	user := models.User{
		Username: "buyer",
		Name:     "Buyer",
		Email:    "buyer@example.com",
		Password: "hashed",
	}
	require.NoError(t, db.Create(&user).Error)

	return &event, &user
}

func reconcileParams(event *models.Event, user *models.User) ReconcileParams {
	return ReconcileParams{
		SessionID:       "cs_test_123",
		EventID:         event.ID,
		UserID:          user.ID,
		PaymentIntentID: "pi_test_123",
		AmountMinor:     1250,
		Currency:        "gbp",
	}
}

func TestReconcileMaterializesPayment(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	event, user := seedPaidEvent(t, db, 5)

	result, err := svc.Reconcile(context.Background(), reconcileParams(event, user))
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	require.NotZero(t, result.PaymentID)
	require.NotZero(t, result.TicketID)

	var payment models.Payment
	require.NoError(t, db.First(&payment, result.PaymentID).Error)
	assert.Equal(t, "cs_test_123", payment.StripeSessionID)
	assert.Equal(t, "pi_test_123", payment.StripePaymentIntentID)
	assert.Equal(t, models.PaymentStatusSucceeded, payment.Status)
	assert.InDelta(t, 12.50, payment.Amount, 0.001)
	assert.Equal(t, "gbp", payment.Currency)

	var ticket models.Ticket
	require.NoError(t, db.First(&ticket, result.TicketID).Error)
	assert.True(t, ticket.Paid)
	assert.Equal(t, models.TicketStatusValid, ticket.Status)
	require.NotNil(t, ticket.PaymentID)
	assert.Equal(t, payment.ID, *ticket.PaymentID)

	var reg models.EventRegistration
	require.NoError(t, db.Where("event_id = ? AND user_id = ?", event.ID, user.ID).First(&reg).Error)
	assert.Equal(t, models.RegistrationStatusRegistered, reg.Status)

	var updated models.Event
	require.NoError(t, db.First(&updated, event.ID).Error)
	assert.Equal(t, 4, *updated.TicketsRemaining)
}

// The sync endpoint and the webhook both reconcile the same session; the
// second call must observe the first and change nothing.
func TestReconcileIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	event, user := seedPaidEvent(t, db, 5)
	params := reconcileParams(event, user)

	first, err := svc.Reconcile(context.Background(), params)
	require.NoError(t, err)

	second, err := svc.Reconcile(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.TicketID, second.TicketID)

	var payments, tickets int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&payments).Error)
	require.NoError(t, db.Model(&models.Ticket{}).Count(&tickets).Error)
	assert.EqualValues(t, 1, payments)
	assert.EqualValues(t, 1, tickets)

	var updated models.Event
	require.NoError(t, db.First(&updated, event.ID).Error)
	assert.Equal(t, 4, *updated.TicketsRemaining)
}

func TestReconcileReusesExistingRegistration(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	event, user := seedPaidEvent(t, db, 5)

	reg := models.EventRegistration{
		EventID:          event.ID,
		UserID:           user.ID,
		Status:           models.RegistrationStatusRegistered,
		RegistrationTime: time.Now(),
	}
	require.NoError(t, db.Create(&reg).Error)

	result, err := svc.Reconcile(context.Background(), reconcileParams(event, user))
	require.NoError(t, err)

	var regCount int64
	require.NoError(t, db.Model(&models.EventRegistration{}).
		Where("event_id = ? AND user_id = ?", event.ID, user.ID).
		Count(&regCount).Error)
	assert.EqualValues(t, 1, regCount)

	var ticket models.Ticket
	require.NoError(t, db.First(&ticket, result.TicketID).Error)
	assert.Equal(t, reg.ID, ticket.RegistrationID)
}

// A paid admission goes through even when the counter is at zero; the
// decrement clamps instead of going negative.
func TestReconcileSoldOutEventStillAdmits(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	event, user := seedPaidEvent(t, db, 0)

	result, err := svc.Reconcile(context.Background(), reconcileParams(event, user))
	require.NoError(t, err)
	assert.NotZero(t, result.TicketID)

	var updated models.Event
	require.NoError(t, db.First(&updated, event.ID).Error)
	assert.Equal(t, 0, *updated.TicketsRemaining)
}

func TestMarkPaymentFailed(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	event, user := seedPaidEvent(t, db, 5)

	// A failure notice for an unknown intent is a silent no-op.
	require.NoError(t, svc.MarkPaymentFailed(context.Background(), "pi_unknown"))

	payment := models.Payment{
		UserID:                user.ID,
		EventID:               event.ID,
		StripeSessionID:       "cs_test_fail",
		StripePaymentIntentID: "pi_test_fail",
		Amount:                12.50,
		Currency:              "gbp",
		Status:                models.PaymentStatusPending,
	}
	require.NoError(t, db.Create(&payment).Error)

	require.NoError(t, svc.MarkPaymentFailed(context.Background(), "pi_test_fail"))

	var updated models.Payment
	require.NoError(t, db.First(&updated, payment.ID).Error)
	assert.Equal(t, models.PaymentStatusFailed, updated.Status)
}

func TestProcessWebhookEventCompletedSession(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	event, user := seedPaidEvent(t, db, 5)

	session := map[string]interface{}{
		"id":             "cs_test_hook",
		"payment_status": "paid",
		"payment_intent": "pi_test_hook",
		"amount_total":   1250,
		"currency":       "gbp",
		"metadata": map[string]string{
			"eventId": itoa(event.ID),
			"userId":  itoa(user.ID),
		},
	}
	object, err := json.Marshal(session)
	require.NoError(t, err)

	hook := &WebhookEvent{ID: "evt_1", Type: EventCheckoutSessionCompleted}
	hook.Data.Object = object

	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), hook))

	var payment models.Payment
	require.NoError(t, db.Where("stripe_session_id = ?", "cs_test_hook").First(&payment).Error)
	assert.Equal(t, models.PaymentStatusSucceeded, payment.Status)
}

func TestProcessWebhookEventIgnoresUnknownTypes(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	hook := &WebhookEvent{ID: "evt_2", Type: "customer.created"}
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), hook))
}

func TestPaymentStatusLocalRecord(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, zaptest.NewLogger(t))

	event, user := seedPaidEvent(t, db, 5)

	result, err := svc.Reconcile(context.Background(), reconcileParams(event, user))
	require.NoError(t, err)

	status, err := svc.PaymentStatus(context.Background(), "cs_test_123")
	require.NoError(t, err)
	assert.True(t, status.HasBeenProcessed)
	assert.Equal(t, models.PaymentStatusSucceeded, status.Status)
	assert.Equal(t, result.PaymentID, status.PaymentID)
	assert.InDelta(t, 12.50, status.Amount, 0.001)
}

func itoa(n uint) string {
	return fmt.Sprintf("%d", n)
}
