package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/markw53/mt-api/internal/apperr"
	"github.com/markw53/mt-api/internal/models"
	"github.com/markw53/mt-api/internal/registration"
	"github.com/markw53/mt-api/internal/txn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service reconciles completed checkout sessions into registration, ticket
// and payment rows. Two independent triggers call into it for the same
// session: the client-driven sync after the checkout redirect, and Stripe's
// asynchronous webhook. Both converge on Reconcile, which must produce
// exactly one Payment and one paid Ticket per session no matter how the
// triggers race.
type Service struct {
	db     *gorm.DB
	client *Client
	log    *zap.Logger
}

func NewService(db *gorm.DB, client *Client, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L()
	}
	return &Service{db: db, client: client, log: log}
}

// ReconcileParams identifies one successful checkout session.
type ReconcileParams struct {
	SessionID       string
	EventID         uint
	UserID          uint
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
}

// ReconcileResult reports what Reconcile materialized, or found already
// materialized by the other trigger.
type ReconcileResult struct {
	AlreadyProcessed bool `json:"already_processed"`
	PaymentID        uint `json:"payment_id"`
	TicketID         uint `json:"ticket_id"`
}

// Reconcile materializes a successful payment: find-or-create the
// registration, issue a paid ticket, record the payment, link the two, and
// take one unit of inventory. Everything runs in a single transaction so a
// failure leaves no partial ticket/payment state.
//
// Idempotency is anchored on the unique constraint over stripe_session_id:
// the up-front existence check catches the common redundant call, and when
// both triggers race past it the second insert fails with a duplicate key,
// the whole transaction rolls back, and the caller is told the session was
// already processed.
//
// The registration created here deliberately skips the capacity checks that
// gate the free registration path: a completed payment admits the attendee
// unconditionally. The inventory decrement clamps at zero.
func (s *Service) Reconcile(ctx context.Context, p ReconcileParams) (*ReconcileResult, error) {
	if existing, err := s.findBySession(ctx, p.SessionID); err != nil {
		return nil, err
	} else if existing != nil {
		return s.alreadyProcessed(ctx, existing)
	}

	currency := p.Currency
	if currency == "" {
		currency = "gbp"
	}

	var result ReconcileResult
	err := txn.RunInTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var reg models.EventRegistration
		err := tx.Where("event_id = ? AND user_id = ?", p.EventID, p.UserID).First(&reg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			reg = models.EventRegistration{
				EventID:          p.EventID,
				UserID:           p.UserID,
				Status:           models.RegistrationStatusRegistered,
				RegistrationTime: time.Now(),
			}
			err = tx.Create(&reg).Error
		}
		if err != nil {
			return apperr.Internal(err)
		}

		ticket, err := registration.MintTicket(tx, p.EventID, p.UserID, reg.ID, true)
		if err != nil {
			return err
		}

		payment := models.Payment{
			UserID:                p.UserID,
			EventID:               p.EventID,
			StripeSessionID:       p.SessionID,
			StripePaymentIntentID: p.PaymentIntentID,
			Amount:                float64(p.AmountMinor) / 100,
			Currency:              currency,
			Status:                models.PaymentStatusSucceeded,
		}
		if err := tx.Create(&payment).Error; err != nil {
			// Duplicate session id: the other trigger won the race. Roll the
			// whole transaction back and report the surviving row instead.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return err
			}
			return apperr.Internal(err)
		}

		if err := tx.Model(ticket).Update("payment_id", payment.ID).Error; err != nil {
			return apperr.Internal(err)
		}

		err = tx.Model(&models.Event{}).
			Where("id = ? AND tickets_remaining IS NOT NULL AND tickets_remaining > 0", p.EventID).
			UpdateColumn("tickets_remaining", gorm.Expr("tickets_remaining - 1")).Error
		if err != nil {
			return apperr.Internal(err)
		}

		result = ReconcileResult{PaymentID: payment.ID, TicketID: ticket.ID}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		existing, ferr := s.findBySession(ctx, p.SessionID)
		if ferr != nil || existing == nil {
			return nil, apperr.Internal(err)
		}
		return s.alreadyProcessed(ctx, existing)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("payment materialized",
		zap.String("session_id", p.SessionID),
		zap.Uint("payment_id", result.PaymentID),
		zap.Uint("ticket_id", result.TicketID))
	return &result, nil
}

// SyncPayment is the client-driven trigger: after the checkout redirect the
// frontend asks us to confirm the session with Stripe and record the result.
// A session that is not paid yet is reported without side effects.
func (s *Service) SyncPayment(ctx context.Context, sessionID string) (*ReconcileResult, error) {
	session, err := s.client.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.PaymentStatus != "paid" {
		return nil, apperr.Validation("Payment not completed")
	}

	eventID, userID, err := session.EventUserIDs()
	if err != nil {
		return nil, err
	}

	return s.Reconcile(ctx, ReconcileParams{
		SessionID:       session.ID,
		EventID:         eventID,
		UserID:          userID,
		PaymentIntentID: session.PaymentIntent,
		AmountMinor:     session.AmountTotal,
		Currency:        session.Currency,
	})
}

// ProcessWebhookEvent dispatches a verified webhook payload. Processing
// failures on a completed-session event are logged, not returned: the
// sync path or a webhook redelivery will reconcile later, and answering
// non-2xx would make Stripe hammer the endpoint for a payload we did parse.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	switch event.Type {
	case EventCheckoutSessionCompleted:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return apperr.Validation("Malformed checkout session payload")
		}
		eventID, userID, err := session.EventUserIDs()
		if err != nil {
			return err
		}
		if _, err := s.Reconcile(ctx, ReconcileParams{
			SessionID:       session.ID,
			EventID:         eventID,
			UserID:          userID,
			PaymentIntentID: session.PaymentIntent,
			AmountMinor:     session.AmountTotal,
			Currency:        session.Currency,
		}); err != nil {
			s.log.Error("webhook reconciliation failed",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	case EventPaymentIntentFailed:
		var intent PaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return apperr.Validation("Malformed payment intent payload")
		}
		if err := s.MarkPaymentFailed(ctx, intent.ID); err != nil {
			s.log.Error("failed-payment update failed",
				zap.String("payment_intent_id", intent.ID), zap.Error(err))
		}
	}
	return nil
}

// MarkPaymentFailed flips the matching payment to failed, keyed by payment
// intent id. A failure notification that races ahead of any success path
// matches zero rows and is a silent no-op.
func (s *Service) MarkPaymentFailed(ctx context.Context, paymentIntentID string) error {
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		Update("status", models.PaymentStatusFailed).Error
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// StatusResult answers a payment-status poll: the local record when the
// session has been reconciled, otherwise Stripe's live view.
type StatusResult struct {
	Success          bool    `json:"success"`
	Status           string  `json:"status"`
	SessionID        string  `json:"session_id"`
	PaymentID        uint    `json:"payment_id,omitempty"`
	Amount           float64 `json:"amount"`
	HasBeenProcessed bool    `json:"has_been_processed"`
}

func (s *Service) PaymentStatus(ctx context.Context, sessionID string) (*StatusResult, error) {
	existing, err := s.findBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &StatusResult{
			Success:          true,
			Status:           existing.Status,
			SessionID:        existing.StripeSessionID,
			PaymentID:        existing.ID,
			Amount:           existing.Amount,
			HasBeenProcessed: true,
		}, nil
	}

	session, err := s.client.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		Success:   true,
		Status:    session.PaymentStatus,
		SessionID: session.ID,
		Amount:    float64(session.AmountTotal) / 100,
	}, nil
}

// PaymentsByUser lists a user's payment history, newest first.
func (s *Service) PaymentsByUser(ctx context.Context, userID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&payments).Error
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if len(payments) == 0 {
		return nil, apperr.NotFound("No payments found")
	}
	return payments, nil
}

// CreateCheckout opens a Stripe checkout session for one ticket to the
// event, creating the Stripe customer on first use.
func (s *Service) CreateCheckout(ctx context.Context, eventID, userID uint, frontendURL string) (*CheckoutSession, error) {
	var event models.Event
	if err := s.db.WithContext(ctx).First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Event not found")
		}
		return nil, apperr.Internal(err)
	}
	if event.IsFree() {
		return nil, apperr.Validation("Event is free, no payment required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal(err)
	}

	customerID := ""
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	}
	if customerID == "" {
		customer, err := s.client.CreateCustomer(ctx, user.Email, user.ID)
		if err != nil {
			return nil, err
		}
		customerID = customer.ID
		err = s.db.WithContext(ctx).Model(&user).Update("stripe_customer_id", customerID).Error
		if err != nil {
			return nil, apperr.Internal(err)
		}
	}

	session, err := s.client.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID:  customerID,
		EventID:     event.ID,
		UserID:      user.ID,
		Title:       event.Title,
		Description: event.Description,
		AmountMinor: int64(math.Round(*event.Price * 100)),
		Currency:    "gbp",
		SuccessURL:  frontendURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   fmt.Sprintf("%s/events/%d", frontendURL, event.ID),
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) findBySession(ctx context.Context, sessionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("stripe_session_id = ?", sessionID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &payment, nil
}

func (s *Service) alreadyProcessed(ctx context.Context, payment *models.Payment) (*ReconcileResult, error) {
	result := &ReconcileResult{AlreadyProcessed: true, PaymentID: payment.ID}

	var ticket models.Ticket
	err := s.db.WithContext(ctx).Where("payment_id = ?", payment.ID).First(&ticket).Error
	if err == nil {
		result.TicketID = ticket.ID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal(err)
	}
	return result, nil
}
