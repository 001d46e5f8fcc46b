// Package txn wraps the two database execution modes the registration and
// payment flows rely on: a plain atomic transaction, and a transaction that
// first takes a row-level lock on an event so concurrent writers against the
// same event serialize instead of interleaving.
package txn

import (
	"context"
	"errors"

	"github.com/markw53/mt-api/internal/apperr"
	"github.com/markw53/mt-api/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunInTransaction runs work inside a single transaction. The transaction
// commits when work returns nil and rolls back otherwise; the error is
// propagated unchanged so domain kinds survive.
func RunInTransaction(ctx context.Context, db *gorm.DB, work func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(work)
}

// LockEvent issues SELECT ... FOR UPDATE on the event row and returns it.
// Every later read and write against that event inside the same transaction
// happens under the lock; concurrent callers block until commit or rollback.
// Callers must keep the remaining work short and must not open a second
// independent transaction while holding the lock.
func LockEvent(tx *gorm.DB, eventID uint) (*models.Event, error) {
	var event models.Event
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&event, eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Event not found")
		}
		return nil, apperr.Internal(err)
	}
	return &event, nil
}
