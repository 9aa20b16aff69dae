package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"seatreserve/pkg/errs"
)

var (
	// ErrAlreadyExists is returned by Create when the reservation ID is taken
	ErrAlreadyExists = errs.Mark(errs.New("reservation already exists"), errs.ErrConflict)
	// ErrNotPending is returned when a write requires a Pending reservation
	ErrNotPending = errs.Mark(errs.New("reservation is not pending"), errs.ErrConflict)
)

// Repository persists the reservation ledger. Status changes are conditional
// on the current status so a concurrent confirm and cancel cannot both win.
type Repository interface {
	Create(ctx context.Context, reservation *Reservation) error
	GetByID(ctx context.Context, id string) (*Reservation, error)
	AddSeatRef(ctx context.Context, reservationID string, ref SeatRef) error
	TransitionStatus(ctx context.Context, id string, from, to Status, reason string, at time.Time) (bool, error)

	FindPendingBySeat(ctx context.Context, seatID string) ([]Reservation, error)
	FindPendingByEvent(ctx context.Context, eventID string) ([]Reservation, error)
	ListByOwner(ctx context.Context, ownerID string, exclude ...Status) ([]Reservation, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func withSeatRefs(db *gorm.DB) *gorm.DB {
	return db.Preload("SeatRefs", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("seq ASC")
	})
}

func (r *repository) Create(ctx context.Context, reservation *Reservation) error {
	err := r.db.WithContext(ctx).Create(reservation).Error
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Reservation, error) {
	var reservation Reservation
	err := withSeatRefs(r.db.WithContext(ctx)).First(&reservation, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("reservation %s not found", id)
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &reservation, nil
}

// AddSeatRef appends a seat while the reservation is still Pending. The row
// lock serialises it against a concurrent status change.
func (r *repository) AddSeatRef(ctx context.Context, reservationID string, ref SeatRef) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Reservation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			First(&current, "id = ?", reservationID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("reservation %s not found", reservationID)
			}
			return fmt.Errorf("failed to lock reservation: %w", err)
		}
		if current.Status != StatusPending {
			return ErrNotPending
		}

		var count int64
		if err := tx.Model(&SeatRef{}).Where("reservation_id = ?", reservationID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count seat refs: %w", err)
		}
		ref.ReservationID = reservationID
		ref.Seq = int(count)

		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ref).Error
		if err != nil {
			return fmt.Errorf("failed to add seat ref: %w", err)
		}
		return tx.Model(&Reservation{}).Where("id = ?", reservationID).Update("updated_at", time.Now().UTC()).Error
	})
}

func (r *repository) TransitionStatus(ctx context.Context, id string, from, to Status, reason string, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, errs.Validation("invalid status transition %s -> %s", from, to)
	}

	res := r.db.WithContext(ctx).Model(&Reservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":       to,
			"close_reason": reason,
			"closed_at":    at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to update reservation status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindPendingBySeat(ctx context.Context, seatID string) ([]Reservation, error) {
	var reservations []Reservation
	err := withSeatRefs(r.db.WithContext(ctx)).
		Where("status = ?", StatusPending).
		Where("id IN (?)", r.db.Model(&SeatRef{}).Select("reservation_id").Where("seat_id = ?", seatID)).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find reservations by seat: %w", err)
	}
	return reservations, nil
}

func (r *repository) FindPendingByEvent(ctx context.Context, eventID string) ([]Reservation, error) {
	var reservations []Reservation
	err := withSeatRefs(r.db.WithContext(ctx)).
		Where("event_id = ? AND status = ?", eventID, StatusPending).
		Order("created_at ASC").
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find reservations by event: %w", err)
	}
	return reservations, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID string, exclude ...Status) ([]Reservation, error) {
	query := withSeatRefs(r.db.WithContext(ctx)).Where("owner_id = ?", ownerID)
	if len(exclude) > 0 {
		query = query.Where("status NOT IN ?", exclude)
	}

	var reservations []Reservation
	if err := query.Order("created_at DESC").Find(&reservations).Error; err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}
