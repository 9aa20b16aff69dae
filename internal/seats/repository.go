package seats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"seatreserve/pkg/errs"
)

// Store is the authoritative seat inventory. Every state change goes through
// a conditional write: the row is updated only if its current state still
// satisfies the precondition, and the affected-row count tells the caller
// whether it won.
type Store interface {
	CreateSeats(ctx context.Context, seats []Seat) error
	GetByID(ctx context.Context, id string) (*Seat, error)
	GetByIDs(ctx context.Context, ids []string) ([]Seat, error)
	GetByScenario(ctx context.Context, scenarioID string) ([]Seat, error)
	GetHeldBy(ctx context.Context, scenarioID, owner string) ([]Seat, error)

	TryTransition(ctx context.Context, seatID string, pre Precondition, next SeatState, owner string, expiresAt, now time.Time) (bool, error)
	Release(ctx context.Context, seatID, owner string) (bool, error)
	Commit(ctx context.Context, seatID, owner string) (bool, error)
	Uncommit(ctx context.Context, seatID, owner string, restoreUntil *time.Time) (bool, error)
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]ReleasedHold, error)

	Delete(ctx context.Context, seatID string) (bool, error)
	DeleteByEvent(ctx context.Context, eventID string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns the PostgreSQL-backed store
func NewRepository(db *gorm.DB) Store {
	return &repository{db: db}
}

// SEAT CRUD

func (r *repository) CreateSeats(ctx context.Context, seats []Seat) error {
	if len(seats) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&seats, 100).Error; err != nil {
		return fmt.Errorf("failed to create seats: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Seat, error) {
	var seat Seat
	err := r.db.WithContext(ctx).First(&seat, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("seat %s not found", id)
		}
		return nil, fmt.Errorf("failed to get seat: %w", err)
	}
	return &seat, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []string) ([]Seat, error) {
	var seats []Seat
	if len(ids) == 0 {
		return seats, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("position ASC").
		Find(&seats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get seats: %w", err)
	}
	return seats, nil
}

func (r *repository) GetByScenario(ctx context.Context, scenarioID string) ([]Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).
		Where("scenario_id = ?", scenarioID).
		Order("position ASC").
		Find(&seats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get scenario seats: %w", err)
	}
	return seats, nil
}

func (r *repository) GetHeldBy(ctx context.Context, scenarioID, owner string) ([]Seat, error) {
	var seats []Seat
	err := r.db.WithContext(ctx).
		Where("scenario_id = ? AND state = ? AND hold_owner = ?", scenarioID, StateHeld, owner).
		Order("position ASC").
		Find(&seats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get held seats: %w", err)
	}
	return seats, nil
}

// CONDITIONAL TRANSITIONS

func (r *repository) TryTransition(ctx context.Context, seatID string, pre Precondition, next SeatState, owner string, expiresAt, now time.Time) (bool, error) {
	if pre != Acquirable || next != StateHeld {
		return false, errs.Validation("unsupported transition to %s", next)
	}

	// Under READ COMMITTED a concurrent writer blocks on the row lock and
	// re-evaluates this predicate afterwards, so at most one caller matches.
	res := r.db.WithContext(ctx).Model(&Seat{}).
		Where("id = ? AND (state = ? OR (state = ? AND hold_expires_at < ?))", seatID, StateAvailable, StateHeld, now).
		Updates(map[string]interface{}{
			"state":           StateHeld,
			"hold_owner":      owner,
			"hold_expires_at": expiresAt,
			"booked_by":       nil,
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to transition seat %s: %w", seatID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Release(ctx context.Context, seatID, owner string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Seat{}).
		Where("id = ? AND state = ? AND hold_owner = ?", seatID, StateHeld, owner).
		Updates(map[string]interface{}{
			"state":           StateAvailable,
			"hold_owner":      nil,
			"hold_expires_at": nil,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to release seat %s: %w", seatID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Commit(ctx context.Context, seatID, owner string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Seat{}).
		Where("id = ? AND state = ? AND hold_owner = ?", seatID, StateHeld, owner).
		Updates(map[string]interface{}{
			"state":           StateBooked,
			"hold_owner":      nil,
			"hold_expires_at": nil,
			"booked_by":       owner,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to commit seat %s: %w", seatID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Uncommit(ctx context.Context, seatID, owner string, restoreUntil *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"state":           StateAvailable,
		"hold_owner":      nil,
		"hold_expires_at": nil,
		"booked_by":       nil,
		"updated_at":      time.Now().UTC(),
	}
	if restoreUntil != nil {
		updates["state"] = StateHeld
		updates["hold_owner"] = owner
		updates["hold_expires_at"] = *restoreUntil
	}

	res := r.db.WithContext(ctx).Model(&Seat{}).
		Where("id = ? AND state = ? AND booked_by = ?", seatID, StateBooked, owner).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to uncommit seat %s: %w", seatID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

const releaseExpiredSQL = `
WITH expired AS (
	SELECT id, hold_owner
	FROM seats
	WHERE state = @held AND hold_expires_at < @now
	ORDER BY hold_expires_at
	LIMIT @limit
	FOR UPDATE SKIP LOCKED
)
UPDATE seats AS s
SET state = @available, hold_owner = NULL, hold_expires_at = NULL, updated_at = @now
FROM expired
WHERE s.id = expired.id AND s.state = @held AND s.hold_expires_at < @now
RETURNING s.id AS seat_id, s.scenario_id, s.event_id, s.code, s.category, s.price,
	expired.hold_owner AS reservation_id`

// ReleaseExpired reverts lapsed holds in one statement and reports who lost them
func (r *repository) ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]ReleasedHold, error) {
	if limit <= 0 {
		limit = 500
	}

	var released []ReleasedHold
	err := r.db.WithContext(ctx).Raw(releaseExpiredSQL, map[string]interface{}{
		"held":      StateHeld,
		"available": StateAvailable,
		"now":       now,
		"limit":     limit,
	}).Scan(&released).Error
	if err != nil {
		return nil, fmt.Errorf("failed to release expired holds: %w", err)
	}
	return released, nil
}

func (r *repository) Delete(ctx context.Context, seatID string) (bool, error) {
	res := r.db.WithContext(ctx).Delete(&Seat{}, "id = ?", seatID)
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete seat %s: %w", seatID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&Seat{}, "event_id = ?", eventID)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete event seats: %w", res.Error)
	}
	return res.RowsAffected, nil
}
