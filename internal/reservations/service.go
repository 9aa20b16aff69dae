package reservations

import (
	"context"
	"errors"
	"sort"
	"time"

	"seatreserve/internal/notifications"
	"seatreserve/internal/seats"
	"seatreserve/pkg/clock"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

const defaultStoreTimeout = 3 * time.Second

// Inventory is the slice of the seat coordinator the ledger drives
type Inventory interface {
	AcquireHold(ctx context.Context, req seats.HoldRequest) (*seats.SeatSnapshot, error)
	ReleaseHold(ctx context.Context, seatID, reservationID string) (bool, error)
	CommitHold(ctx context.Context, seatID, reservationID string) (bool, error)
	RevertCommit(ctx context.Context, seatID, reservationID string, restoreUntil *time.Time) (bool, error)
	GetSeats(ctx context.Context, ids []string) ([]seats.Seat, error)
}

type Service interface {
	Hold(ctx context.Context, cmd HoldCommand) (*HoldResult, error)
	AttachHold(ctx context.Context, cmd HoldCommand, snap seats.SeatSnapshot) (*Reservation, bool, error)
	Confirm(ctx context.Context, reservationID, callerID string, seatIDs []string) (*Reservation, error)
	Cancel(ctx context.Context, reservationID, callerID string) (*Reservation, error)

	// Invoked by the seat coordinator
	ForceRelease(ctx context.Context, seatID string) ([]string, error)
	ExpireIfUnheld(ctx context.Context, reservationID string) (bool, error)

	Expire(ctx context.Context, reservationID string) (bool, error)
	CancelByEvent(ctx context.Context, eventID string) (int, error)

	GetReservation(ctx context.Context, id, callerID string) (*Reservation, error)
	GetReservationsByOwner(ctx context.Context, ownerID string) ([]EventReservations, error)
}

// HoldResult is what a successful Hold returns
type HoldResult struct {
	Reservation *Reservation
	Seat        seats.SeatSnapshot
	Created     bool
}

type service struct {
	repo         Repository
	inventory    Inventory
	notifier     notifications.Notifier
	clock        clock.Clock
	logger       *logger.Logger
	storeTimeout time.Duration
}

type ServiceOption func(*service)

func WithClock(c clock.Clock) ServiceOption {
	return func(s *service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// NewService builds the ledger. inventory may be nil when seats live in a
// remote service and only AttachHold, Expire and the reads are used.
func NewService(repo Repository, inventory Inventory, notifier notifications.Notifier, l *logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		repo:         repo,
		inventory:    inventory,
		notifier:     notifier,
		clock:        clock.NewRealClock(),
		logger:       l,
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != errs.KindInternal {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Unavailable(err, op+" timed out")
	}
	return errs.Wrap(err, op)
}

func (s *service) get(ctx context.Context, id string) (*Reservation, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	r, err := s.repo.GetByID(sctx, id)
	return r, storeErr(err, "get reservation")
}

func (s *service) requireInventory() error {
	if s.inventory == nil {
		return errs.Unavailable(nil, "seat inventory is not attached to this ledger")
	}
	return nil
}

// checkOwnedPending rejects strangers before revealing anything about status
func checkOwnedPending(r *Reservation, callerID string) error {
	if r.OwnerID != callerID {
		return errs.Forbidden("reservation %s belongs to another owner", r.ID)
	}
	if r.Status != StatusPending {
		return errs.Conflict("reservation is " + string(r.Status))
	}
	return nil
}

//  HOLD

func (s *service) Hold(ctx context.Context, cmd HoldCommand) (*HoldResult, error) {
	if cmd.ReservationID == "" || cmd.OwnerID == "" || cmd.SeatID == "" {
		return nil, errs.Validation("reservation ID, owner ID and seat ID are required")
	}
	if err := s.requireInventory(); err != nil {
		return nil, err
	}

	existing, err := s.get(ctx, cmd.ReservationID)
	if err != nil && !errs.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if err := checkOwnedPending(existing, cmd.OwnerID); err != nil {
			return nil, err
		}
		if existing.HasSeat(cmd.SeatID) {
			if res, ok := s.replayHold(ctx, existing, cmd.SeatID); ok {
				return res, nil
			}
		}
	}

	snap, err := s.inventory.AcquireHold(ctx, seats.HoldRequest{
		SeatID:        cmd.SeatID,
		ScenarioID:    cmd.ScenarioID,
		ReservationID: cmd.ReservationID,
		TTL:           cmd.TTL,
	})
	if err != nil {
		return nil, err
	}

	reservation, created, err := s.AttachHold(ctx, cmd, *snap)
	if err != nil {
		// The seat is ours but the ledger refused it; give it back
		if _, relErr := s.inventory.ReleaseHold(ctx, cmd.SeatID, cmd.ReservationID); relErr != nil {
			s.logger.ErrorWithContext(ctx, "Failed to compensate hold", relErr, map[string]interface{}{
				"seat_id":        cmd.SeatID,
				"reservation_id": cmd.ReservationID,
			})
		}
		return nil, err
	}

	return &HoldResult{Reservation: reservation, Seat: *snap, Created: created}, nil
}

// replayHold answers a retried hold for a seat the reservation still owns
func (s *service) replayHold(ctx context.Context, r *Reservation, seatID string) (*HoldResult, bool) {
	current, err := s.inventory.GetSeats(ctx, []string{seatID})
	if err != nil || len(current) != 1 || !current[0].IsHeldBy(r.ID, s.clock.Now()) {
		return nil, false
	}
	return &HoldResult{Reservation: r, Seat: current[0].Snapshot()}, true
}

// AttachHold records an already acquired hold in the ledger, creating the
// reservation on its first seat
func (s *service) AttachHold(ctx context.Context, cmd HoldCommand, snap seats.SeatSnapshot) (*Reservation, bool, error) {
	eventID := snap.EventID
	if eventID == "" {
		eventID = cmd.EventID
	}
	if cmd.EventID != "" && eventID != cmd.EventID {
		return nil, false, errs.Validation("seat %s does not belong to event %s", snap.SeatID, cmd.EventID)
	}

	ref := SeatRef{
		SeatID:     snap.SeatID,
		ScenarioID: snap.ScenarioID,
		Code:       snap.Code,
		Category:   snap.Category,
		Price:      snap.Price,
		CreatedAt:  s.clock.Now(),
	}

	created := false
	existing, err := s.get(ctx, cmd.ReservationID)
	switch {
	case errs.Is(err, errs.ErrNotFound):
		reservation := &Reservation{
			ID:       cmd.ReservationID,
			OwnerID:  cmd.OwnerID,
			EventID:  eventID,
			Status:   StatusPending,
			SeatRefs: []SeatRef{ref},
		}
		sctx, cancel := s.storeCtx(ctx)
		err = s.repo.Create(sctx, reservation)
		cancel()
		if err == nil {
			created = true
			break
		}
		if !errs.Is(err, ErrAlreadyExists) {
			return nil, false, storeErr(err, "create reservation")
		}
		// Lost the race to create it; fall through to append
		if existing, err = s.get(ctx, cmd.ReservationID); err != nil {
			return nil, false, err
		}
		if err := s.appendRef(ctx, existing, cmd, eventID, ref); err != nil {
			return nil, false, err
		}
	case err != nil:
		return nil, false, err
	default:
		if err := s.appendRef(ctx, existing, cmd, eventID, ref); err != nil {
			return nil, false, err
		}
	}

	reservation, err := s.get(ctx, cmd.ReservationID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.notifyReservation(ctx, notifications.ReservationCreated, reservation, "")
	}
	return reservation, created, nil
}

func (s *service) appendRef(ctx context.Context, existing *Reservation, cmd HoldCommand, eventID string, ref SeatRef) error {
	if err := checkOwnedPending(existing, cmd.OwnerID); err != nil {
		return err
	}
	if existing.EventID != eventID {
		return errs.Validation("reservation %s is for event %s", existing.ID, existing.EventID)
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return storeErr(s.repo.AddSeatRef(sctx, existing.ID, ref), "add seat to reservation")
}

//  CONFIRM

// Confirm books every seat of a Pending reservation or none of them. Seats are
// verified first, then committed one by one; a failed commit reverts the ones
// already booked back to their original hold and the reservation stays Pending.
func (s *service) Confirm(ctx context.Context, reservationID, callerID string, seatIDs []string) (*Reservation, error) {
	if err := s.requireInventory(); err != nil {
		return nil, err
	}

	r, err := s.get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnedPending(r, callerID); err != nil {
		return nil, err
	}
	if len(r.SeatRefs) == 0 {
		return nil, errs.Conflict("reservation holds no seats")
	}

	held, err := s.verifyHeld(ctx, r, seatIDs)
	if err != nil {
		return nil, err
	}

	committed := make([]seats.Seat, 0, len(held))
	for _, seat := range held {
		ok, err := s.inventory.CommitHold(ctx, seat.ID, r.ID)
		if err != nil || !ok {
			s.revertCommits(ctx, r.ID, committed, true)
			if err != nil {
				return nil, err
			}
			return nil, s.commitConflict(ctx, r.ID, seat.ID)
		}
		committed = append(committed, seat)
	}

	now := s.clock.Now()
	sctx, cancel := s.storeCtx(ctx)
	ok, err := s.repo.TransitionStatus(sctx, r.ID, StatusPending, StatusConfirmed, ReasonConfirmed, now)
	cancel()
	if err != nil {
		s.revertCommits(ctx, r.ID, committed, true)
		return nil, storeErr(err, "confirm reservation")
	}
	if !ok {
		// Cancelled or expired while we were committing; it no longer owns the seats
		s.revertCommits(ctx, r.ID, committed, false)
		return nil, errs.Conflict("reservation is no longer pending")
	}

	confirmed, err := s.get(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	s.logger.LogReservationConfirmed(ctx, r.ID, r.EventID, r.OwnerID, len(committed))
	s.notifyReservation(ctx, notifications.ReservationConfirmed, confirmed, "")
	return confirmed, nil
}

// verifyHeld checks that the requested seats are exactly the reservation's
// seats and that each is still held by it. Every offending seat is reported.
func (s *service) verifyHeld(ctx context.Context, r *Reservation, seatIDs []string) ([]seats.Seat, error) {
	var conflicts []errs.SeatConflict

	if len(seatIDs) > 0 {
		requested := make(map[string]struct{}, len(seatIDs))
		for _, id := range seatIDs {
			requested[id] = struct{}{}
			if !r.HasSeat(id) {
				conflicts = append(conflicts, errs.SeatConflict{SeatID: id, State: "NOT_IN_RESERVATION"})
			}
		}
		for _, ref := range r.SeatRefs {
			if _, ok := requested[ref.SeatID]; !ok {
				conflicts = append(conflicts, errs.SeatConflict{SeatID: ref.SeatID, Code: ref.Code, State: "NOT_REQUESTED"})
			}
		}
	}

	current, err := s.inventory.GetSeats(ctx, r.SeatIDs())
	if err != nil {
		return nil, err
	}
	byID := make(map[string]seats.Seat, len(current))
	for _, seat := range current {
		byID[seat.ID] = seat
	}

	now := s.clock.Now()
	held := make([]seats.Seat, 0, len(r.SeatRefs))
	for _, ref := range r.SeatRefs {
		seat, ok := byID[ref.SeatID]
		if !ok {
			conflicts = append(conflicts, errs.SeatConflict{SeatID: ref.SeatID, Code: ref.Code, State: "REMOVED"})
			continue
		}
		if !seat.IsHeldBy(r.ID, now) {
			conflicts = append(conflicts, observed(&seat, now))
			continue
		}
		held = append(held, seat)
	}

	if len(conflicts) > 0 {
		return nil, errs.Conflict("reservation seats failed verification", conflicts...)
	}
	return held, nil
}

func observed(seat *seats.Seat, now time.Time) errs.SeatConflict {
	c := errs.SeatConflict{SeatID: seat.ID, Code: seat.Code, State: string(seat.State)}
	if seat.HoldOwner != nil {
		c.HoldOwner = *seat.HoldOwner
	}
	if seat.HoldExpiresAt != nil {
		t := *seat.HoldExpiresAt
		c.HoldExpiresAt = &t
		if seat.State == seats.StateHeld && t.Before(now) {
			c.State = "EXPIRED"
		}
	}
	return c
}

func (s *service) commitConflict(ctx context.Context, reservationID, seatID string) error {
	current, err := s.inventory.GetSeats(ctx, []string{seatID})
	if err != nil || len(current) == 0 {
		return errs.Conflict("seat could not be booked", errs.SeatConflict{SeatID: seatID, State: "REMOVED"})
	}
	return errs.Conflict("seat could not be booked", observed(&current[0], s.clock.Now()))
}

// revertCommits undoes bookings made by a confirm that did not complete.
// With restore the seats go back to their original hold, otherwise they are freed.
func (s *service) revertCommits(ctx context.Context, reservationID string, committed []seats.Seat, restore bool) {
	for _, seat := range committed {
		var until *time.Time
		if restore {
			until = seat.HoldExpiresAt
		}
		ok, err := s.inventory.RevertCommit(ctx, seat.ID, reservationID, until)
		if err != nil || !ok {
			violation := errs.InvariantViolation("seat %s booked by %s could not be reverted", seat.ID, reservationID)
			if err != nil {
				violation = errs.Mark(errs.Wrap(err, violation.Error()), errs.ErrInvariantViolation)
			}
			s.logger.LogInvariantViolation(ctx, violation, map[string]interface{}{
				"seat_id":        seat.ID,
				"reservation_id": reservationID,
			})
		}
	}
}

//  CANCEL / EXPIRE

func (s *service) Cancel(ctx context.Context, reservationID, callerID string) (*Reservation, error) {
	if err := s.requireInventory(); err != nil {
		return nil, err
	}

	r, err := s.get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnedPending(r, callerID); err != nil {
		return nil, err
	}

	ok, err := s.close(ctx, r, StatusCancelled, ReasonOwnerCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Conflict("reservation is no longer pending")
	}
	return s.get(ctx, r.ID)
}

// close flips a Pending reservation to a terminal status, frees its holds and
// announces it. It reports false when another writer closed it first.
func (s *service) close(ctx context.Context, r *Reservation, to Status, reason string) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	ok, err := s.repo.TransitionStatus(sctx, r.ID, StatusPending, to, reason, s.clock.Now())
	cancel()
	if err != nil {
		return false, storeErr(err, "close reservation")
	}
	if !ok {
		return false, nil
	}

	if s.inventory != nil {
		for _, ref := range r.SeatRefs {
			if _, err := s.inventory.ReleaseHold(ctx, ref.SeatID, r.ID); err != nil {
				// The sweeper reclaims it once the hold lapses
				s.logger.ErrorWithContext(ctx, "Failed to release seat of closed reservation", err, map[string]interface{}{
					"seat_id":        ref.SeatID,
					"reservation_id": r.ID,
				})
			}
		}
	}

	r.Status = to
	switch to {
	case StatusCancelled:
		s.logger.LogReservationCancelled(ctx, r.ID, r.EventID, reason)
		s.notifyReservation(ctx, notifications.ReservationCancelled, r, reason)
	case StatusExpired:
		s.logger.LogReservationExpired(ctx, r.ID, r.EventID)
		s.notifyReservation(ctx, notifications.ReservationExpired, r, reason)
	}
	return true, nil
}

func (s *service) ForceRelease(ctx context.Context, seatID string) ([]string, error) {
	sctx, cancel := s.storeCtx(ctx)
	pending, err := s.repo.FindPendingBySeat(sctx, seatID)
	cancel()
	if err != nil {
		return nil, storeErr(err, "find reservations by seat")
	}

	cancelled := make([]string, 0, len(pending))
	for i := range pending {
		ok, err := s.close(ctx, &pending[i], StatusCancelled, ReasonSeatRemoved)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled = append(cancelled, pending[i].ID)
		}
	}
	return cancelled, nil
}

// ExpireIfUnheld expires a Pending reservation once none of its seats is
// still held by it. A reservation that keeps at least one live hold survives.
func (s *service) ExpireIfUnheld(ctx context.Context, reservationID string) (bool, error) {
	r, err := s.get(ctx, reservationID)
	if err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if r.Status != StatusPending {
		return false, nil
	}

	if s.inventory != nil && len(r.SeatRefs) > 0 {
		current, err := s.inventory.GetSeats(ctx, r.SeatIDs())
		if err != nil {
			return false, err
		}
		now := s.clock.Now()
		for i := range current {
			if current[i].IsHeldBy(r.ID, now) {
				return false, nil
			}
		}
	}

	return s.close(ctx, r, StatusExpired, ReasonHoldExpired)
}

// Expire unconditionally expires a Pending reservation
func (s *service) Expire(ctx context.Context, reservationID string) (bool, error) {
	r, err := s.get(ctx, reservationID)
	if err != nil {
		return false, err
	}
	if r.Status != StatusPending {
		return false, nil
	}
	return s.close(ctx, r, StatusExpired, ReasonHoldExpired)
}

func (s *service) CancelByEvent(ctx context.Context, eventID string) (int, error) {
	sctx, cancel := s.storeCtx(ctx)
	pending, err := s.repo.FindPendingByEvent(sctx, eventID)
	cancel()
	if err != nil {
		return 0, storeErr(err, "find reservations by event")
	}

	n := 0
	for i := range pending {
		ok, err := s.close(ctx, &pending[i], StatusCancelled, ReasonEventDeleted)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

//  READS

func (s *service) GetReservation(ctx context.Context, id, callerID string) (*Reservation, error) {
	r, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.OwnerID != callerID {
		return nil, errs.Forbidden("reservation %s belongs to another owner", id)
	}
	return r, nil
}

// GetReservationsByOwner returns everything but cancelled reservations,
// grouped by event with the most recently active event first
func (s *service) GetReservationsByOwner(ctx context.Context, ownerID string) ([]EventReservations, error) {
	sctx, cancel := s.storeCtx(ctx)
	list, err := s.repo.ListByOwner(sctx, ownerID, StatusCancelled)
	cancel()
	if err != nil {
		return nil, storeErr(err, "list reservations")
	}

	index := make(map[string]int)
	groups := make([]EventReservations, 0)
	for _, r := range list {
		i, ok := index[r.EventID]
		if !ok {
			i = len(groups)
			index[r.EventID] = i
			groups = append(groups, EventReservations{EventID: r.EventID})
		}
		groups[i].Reservations = append(groups[i].Reservations, r)
	}
	for i := range groups {
		sort.SliceStable(groups[i].Reservations, func(a, b int) bool {
			return groups[i].Reservations[a].CreatedAt.After(groups[i].Reservations[b].CreatedAt)
		})
	}
	return groups, nil
}

func (s *service) notifyReservation(ctx context.Context, eventType notifications.EventType, r *Reservation, reason string) {
	if s.notifier == nil {
		return
	}
	payload := notifications.ReservationPayload{
		ReservationID: r.ID,
		EventID:       r.EventID,
		OwnerID:       r.OwnerID,
		Status:        string(r.Status),
		SeatIDs:       r.SeatIDs(),
		Reason:        reason,
	}
	event := notifications.NewEvent(eventType, r.EventID, payload).WithReservation(r.ID)
	s.notifier.Notify(ctx, event)
}
