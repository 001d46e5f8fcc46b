// Package registration implements the capacity-safe registration lifecycle:
// advisory availability checks, locked register/reactivate, and cancellation
// with inventory restore. All counter mutations happen under the event row
// lock so check-then-act sequences cannot interleave.
package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markw53/mt-api/internal/apperr"
	"github.com/markw53/mt-api/internal/helpers"
	"github.com/markw53/mt-api/internal/models"
	"github.com/markw53/mt-api/internal/txn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L()
	}
	return &Service{db: db, log: log}
}

// Availability is the advisory pre-flight answer for an event.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// TicketInfo carries everything the confirmation email and the API response
// need about a freshly issued (or reactivated) ticket.
type TicketInfo struct {
	TicketCode    string `json:"ticket_code"`
	EventTitle    string `json:"event_title"`
	EventDate     string `json:"event_date"`
	EventLocation string `json:"event_location"`
	UserName      string `json:"user_name"`
	UserEmail     string `json:"user_email"`
}

// Result is the outcome of a successful Register call. Reactivated
// distinguishes a revived cancelled registration (HTTP 200) from a fresh one
// (HTTP 201).
type Result struct {
	Registration models.EventRegistration `json:"registration"`
	TicketInfo   TicketInfo               `json:"ticket_info"`
	Reactivated  bool                     `json:"reactivated"`
}

// CheckAvailability answers whether an event can currently accept a
// registration. It takes no lock: the answer is advisory and may be stale by
// the time a registration is attempted. Register repeats the same checks
// under the event row lock.
func (s *Service) CheckAvailability(ctx context.Context, eventID uint) (*Availability, error) {
	db := s.db.WithContext(ctx)

	var event models.Event
	if err := db.First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Event not found")
		}
		return nil, apperr.Internal(err)
	}

	reason, err := unavailabilityReason(db, &event, time.Now())
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &Availability{Available: false, Reason: reason}, nil
	}
	return &Availability{Available: true}, nil
}

// unavailabilityReason returns the first reason the event cannot accept a
// registration, or "" when it can. Check order matches the public contract:
// status, end time, start time, ticket inventory, attendee cap.
func unavailabilityReason(tx *gorm.DB, event *models.Event, now time.Time) (string, error) {
	if event.Status != models.EventStatusPublished {
		return fmt.Sprintf("Event is %s, not published", event.Status), nil
	}
	if !event.EndTime.After(now) {
		return "Event has already finished", nil
	}
	if !event.StartTime.After(now) {
		return "Event has already started", nil
	}
	if event.TicketsRemaining != nil && *event.TicketsRemaining <= 0 {
		return "No tickets remaining for this event", nil
	}
	if event.MaxAttendees != nil {
		var registered int64
		err := tx.Model(&models.EventRegistration{}).
			Where("event_id = ? AND status = ?", event.ID, models.RegistrationStatusRegistered).
			Count(&registered).Error
		if err != nil {
			return "", apperr.Internal(err)
		}
		if registered >= int64(*event.MaxAttendees) {
			return "Event has reached maximum attendee capacity", nil
		}
	}
	return "", nil
}

// Register claims a seat for userID on eventID. The whole operation runs in
// one transaction holding the event row lock, so the capacity re-check and
// the counter decrement are atomic with the registration write: two requests
// racing for the last seat serialize, and the loser gets a capacity error.
//
// A cancelled registration for the same (event, user) is reactivated in
// place, reusing its ticket; an active one is rejected with Conflict.
func (s *Service) Register(ctx context.Context, eventID, userID uint) (*Result, error) {
	var result *Result

	err := txn.RunInTransaction(ctx, s.db, func(tx *gorm.DB) error {
		event, err := txn.LockEvent(tx, eventID)
		if err != nil {
			return err
		}

		reason, err := unavailabilityReason(tx, event, time.Now())
		if err != nil {
			return err
		}
		if reason != "" {
			return apperr.Validation(reason)
		}

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("User not found")
			}
			return apperr.Internal(err)
		}

		var existing models.EventRegistration
		err = tx.Where("event_id = ? AND user_id = ?", eventID, userID).First(&existing).Error
		switch {
		case err == nil && existing.Status == models.RegistrationStatusCancelled:
			result, err = s.reactivate(tx, event, &user, &existing)
			return err
		case err == nil:
			return apperr.Conflict("User is already registered for this event")
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return apperr.Internal(err)
		}

		if err := decrementTicketsRemaining(tx, event); err != nil {
			return err
		}

		reg := models.EventRegistration{
			EventID:          eventID,
			UserID:           userID,
			Status:           models.RegistrationStatusRegistered,
			RegistrationTime: time.Now(),
		}
		if err := tx.Create(&reg).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Conflict("User is already registered for this event")
			}
			return apperr.Internal(err)
		}

		ticket, err := MintTicket(tx, event.ID, user.ID, reg.ID, false)
		if err != nil {
			return err
		}

		result = &Result{
			Registration: reg,
			TicketInfo:   ticketInfo(event, &user, ticket.TicketCode),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("registration created",
		zap.Uint("event_id", eventID),
		zap.Uint("user_id", userID),
		zap.Bool("reactivated", result.Reactivated))
	return result, nil
}

// reactivate revives a cancelled registration in place: same row, refreshed
// registration time, counter decremented again, and the original ticket reset
// to valid (or replaced if it somehow vanished).
func (s *Service) reactivate(tx *gorm.DB, event *models.Event, user *models.User, reg *models.EventRegistration) (*Result, error) {
	if err := decrementTicketsRemaining(tx, event); err != nil {
		return nil, err
	}

	reg.Status = models.RegistrationStatusRegistered
	reg.RegistrationTime = time.Now()
	if err := tx.Model(reg).Updates(map[string]interface{}{
		"status":            reg.Status,
		"registration_time": reg.RegistrationTime,
	}).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	var ticket models.Ticket
	err := tx.Where("registration_id = ?", reg.ID).First(&ticket).Error
	switch {
	case err == nil:
		if ticket.Status != models.TicketStatusValid {
			if err := tx.Model(&ticket).Update("status", models.TicketStatusValid).Error; err != nil {
				return nil, apperr.Internal(err)
			}
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		minted, err := MintTicket(tx, event.ID, user.ID, reg.ID, false)
		if err != nil {
			return nil, err
		}
		ticket = *minted
	default:
		return nil, apperr.Internal(err)
	}

	return &Result{
		Registration: *reg,
		TicketInfo:   ticketInfo(event, user, ticket.TicketCode),
		Reactivated:  true,
	}, nil
}

// Cancel flips a registration to cancelled, restores one unit of inventory
// and retires every ticket tied to the registration. Cancelling twice is an
// error, not a no-op.
func (s *Service) Cancel(ctx context.Context, registrationID uint) (*models.EventRegistration, error) {
	var cancelled models.EventRegistration

	err := txn.RunInTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var reg models.EventRegistration
		if err := tx.First(&reg, registrationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Registration not found")
			}
			return apperr.Internal(err)
		}

		// Lock the event row before touching its counter so a concurrent
		// Register for the same event cannot interleave with the increment.
		event, err := txn.LockEvent(tx, reg.EventID)
		if err != nil {
			return err
		}

		// The flip is conditional so two racing cancels cannot both pass a
		// stale status read and restore the seat twice: only the one whose
		// update changes the row gets to touch the counter.
		flip := tx.Model(&models.EventRegistration{}).
			Where("id = ? AND status <> ?", reg.ID, models.RegistrationStatusCancelled).
			Update("status", models.RegistrationStatusCancelled)
		if flip.Error != nil {
			return apperr.Internal(flip.Error)
		}
		if flip.RowsAffected == 0 {
			return apperr.Conflict("Registration is already cancelled")
		}
		reg.Status = models.RegistrationStatusCancelled

		if event.TicketsRemaining != nil {
			err := tx.Model(&models.Event{}).
				Where("id = ?", event.ID).
				UpdateColumn("tickets_remaining", gorm.Expr("tickets_remaining + 1")).Error
			if err != nil {
				return apperr.Internal(err)
			}
		}

		err = tx.Model(&models.Ticket{}).
			Where("registration_id = ?", reg.ID).
			Update("status", models.TicketStatusCancelled).Error
		if err != nil {
			return apperr.Internal(err)
		}

		cancelled = reg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("registration cancelled", zap.Uint("registration_id", registrationID))
	return &cancelled, nil
}

// GetRegistration fetches a registration by id, for ownership checks at the
// HTTP layer.
func (s *Service) GetRegistration(ctx context.Context, registrationID uint) (*models.EventRegistration, error) {
	var reg models.EventRegistration
	err := s.db.WithContext(ctx).First(&reg, registrationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Registration not found")
		}
		return nil, apperr.Internal(err)
	}
	return &reg, nil
}

// decrementTicketsRemaining takes one unit of inventory. The conditional
// update clamps at zero instead of going negative, which also absorbs the
// rare double-decrement race between the two payment reconciliation triggers.
func decrementTicketsRemaining(tx *gorm.DB, event *models.Event) error {
	if event.TicketsRemaining == nil {
		return nil
	}
	err := tx.Model(&models.Event{}).
		Where("id = ? AND tickets_remaining IS NOT NULL AND tickets_remaining > 0", event.ID).
		UpdateColumn("tickets_remaining", gorm.Expr("tickets_remaining - 1")).Error
	if err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// MintTicket inserts a ticket with a fresh code, retrying once if the code
// collides with an existing one. Shared with the payment reconciliation
// path, which mints paid tickets.
func MintTicket(tx *gorm.DB, eventID, userID, registrationID uint, paid bool) (*models.Ticket, error) {
	for attempt := 0; attempt < 2; attempt++ {
		code, err := helpers.GenerateTicketCode()
		if err != nil {
			return nil, apperr.Internal(err)
		}
		ticket := models.Ticket{
			EventID:        eventID,
			UserID:         userID,
			RegistrationID: registrationID,
			TicketCode:     code,
			Paid:           paid,
			Status:         models.TicketStatusValid,
			IssuedAt:       time.Now(),
		}
		err = tx.Create(&ticket).Error
		if err == nil {
			return &ticket, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || attempt == 1 {
			return nil, apperr.Internal(err)
		}
	}
	return nil, apperr.Internal(errors.New("ticket code collision"))
}

func ticketInfo(event *models.Event, user *models.User, code string) TicketInfo {
	return TicketInfo{
		TicketCode:    code,
		EventTitle:    event.Title,
		EventDate:     event.StartTime.Format("Monday, January 2, 2006 at 3:04 PM"),
		EventLocation: event.Location,
		UserName:      user.Name,
		UserEmail:     user.Email,
	}
}
