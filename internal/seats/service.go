package seats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"

	"seatreserve/internal/notifications"
	"seatreserve/pkg/clock"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

const (
	defaultHoldTTL        = 15 * time.Minute
	defaultMaxHoldTTL     = 30 * time.Minute
	defaultStoreTimeout   = 3 * time.Second
	defaultSweepBatchSize = 500
	maxSweepBatches       = 20
)

// ExpiryHandler recomputes a reservation after the sweeper reclaimed some of its seats
type ExpiryHandler interface {
	ExpireIfUnheld(ctx context.Context, reservationID string) (bool, error)
}

// HoldReleaser cancels in-flight reservations that reference a seat
type HoldReleaser interface {
	ForceRelease(ctx context.Context, seatID string) ([]string, error)
}

type Service interface {
	// Lock coordination
	AcquireHold(ctx context.Context, req HoldRequest) (*SeatSnapshot, error)
	ReleaseHoldsByOwner(ctx context.Context, scenarioID, reservationID string) (int, error)
	ReleaseHold(ctx context.Context, seatID, reservationID string) (bool, error)
	CommitHold(ctx context.Context, seatID, reservationID string) (bool, error)
	RevertCommit(ctx context.Context, seatID, reservationID string, restoreUntil *time.Time) (bool, error)

	// Reads
	GetSeat(ctx context.Context, id string) (*Seat, error)
	GetSeats(ctx context.Context, ids []string) ([]Seat, error)
	GetScenarioSeats(ctx context.Context, scenarioID string) ([]SeatResponse, error)

	// Inventory management
	ProvisionSeats(ctx context.Context, eventID, scenarioID string, specs []SeatSpec) ([]Seat, error)
	DeleteSeat(ctx context.Context, seatID string) error
	DeleteEventSeats(ctx context.Context, eventID string) (int64, error)

	// Expiration
	SweepExpired(ctx context.Context) (*SweepResult, error)

	DefaultHoldTTL() time.Duration
	SetReservationHooks(expiry ExpiryHandler, releaser HoldReleaser)
}

// SweepResult summarises one sweeper cycle
type SweepResult struct {
	SeatsReleased        int
	ReservationsExpired  int
	ReservationsAffected int
}

type service struct {
	store    Store
	notifier notifications.Notifier
	clock    clock.Clock
	logger   *logger.Logger

	holdTTL        time.Duration
	maxHoldTTL     time.Duration
	storeTimeout   time.Duration
	sweepBatchSize int

	expiry   ExpiryHandler
	releaser HoldReleaser
}

type ServiceOption func(*service)

func WithHoldTTL(ttl time.Duration) ServiceOption {
	return func(s *service) {
		if ttl > 0 {
			s.holdTTL = ttl
		}
	}
}

func WithMaxHoldTTL(ttl time.Duration) ServiceOption {
	return func(s *service) {
		if ttl > 0 {
			s.maxHoldTTL = ttl
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

func WithSweepBatchSize(n int) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.sweepBatchSize = n
		}
	}
}

func WithClock(c clock.Clock) ServiceOption {
	return func(s *service) {
		if c != nil {
			s.clock = c
		}
	}
}

func NewService(store Store, notifier notifications.Notifier, l *logger.Logger, opts ...ServiceOption) Service {
	s := &service{
		store:          store,
		notifier:       notifier,
		clock:          clock.NewRealClock(),
		logger:         l,
		holdTTL:        defaultHoldTTL,
		maxHoldTTL:     defaultMaxHoldTTL,
		storeTimeout:   defaultStoreTimeout,
		sweepBatchSize: defaultSweepBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxHoldTTL < s.holdTTL {
		s.maxHoldTTL = s.holdTTL
	}
	return s
}

func (s *service) SetReservationHooks(expiry ExpiryHandler, releaser HoldReleaser) {
	s.expiry = expiry
	s.releaser = releaser
}

func (s *service) DefaultHoldTTL() time.Duration {
	return s.holdTTL
}

// storeCtx bounds a single store call
func (s *service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeErr turns deadline and cancellation into Unavailable so that a timed
// out call is never mistaken for success or for a conflict
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Unavailable(err, op+" timed out")
	}
	return errs.Wrap(err, op)
}

//  LOCK COORDINATION

func (s *service) AcquireHold(ctx context.Context, req HoldRequest) (*SeatSnapshot, error) {
	if req.SeatID == "" || req.ReservationID == "" {
		return nil, errs.Validation("seat ID and reservation ID are required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.holdTTL
	}
	if ttl > s.maxHoldTTL {
		return nil, errs.Validation("hold TTL %s exceeds maximum %s", ttl, s.maxHoldTTL)
	}

	seat, err := s.getSeat(ctx, req.SeatID)
	if err != nil {
		return nil, err
	}
	if req.ScenarioID != "" && seat.ScenarioID != req.ScenarioID {
		return nil, errs.NotFound("seat %s not found in scenario %s", req.SeatID, req.ScenarioID)
	}

	now := s.clock.Now()
	expiresAt := now.Add(ttl)

	sctx, cancel := s.storeCtx(ctx)
	ok, err := s.store.TryTransition(sctx, req.SeatID, Acquirable, StateHeld, req.ReservationID, expiresAt, now)
	cancel()
	if err != nil {
		return nil, storeErr(err, "acquire hold")
	}

	if !ok {
		return nil, s.holdConflict(ctx, req)
	}

	// A lapsed hold was taken over; the previous reservation may have nothing left
	var previousOwner string
	if seat.State == StateHeld && seat.HoldOwner != nil && *seat.HoldOwner != req.ReservationID {
		previousOwner = *seat.HoldOwner
	}

	owner := req.ReservationID
	seat.State = StateHeld
	seat.HoldOwner = &owner
	seat.HoldExpiresAt = &expiresAt
	snap := seat.Snapshot()

	s.logger.LogHoldAcquired(ctx, req.SeatID, req.ReservationID, expiresAt)
	s.notifySeat(ctx, notifications.SeatHeld, snap, req.ReservationID)

	if previousOwner != "" {
		s.expireOwners(ctx, []string{previousOwner})
	}
	return &snap, nil
}

// holdConflict re-reads the seat so the caller learns who has it
func (s *service) holdConflict(ctx context.Context, req HoldRequest) error {
	current, err := s.getSeat(ctx, req.SeatID)
	if err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			// Deleted between the read and the write
			return err
		}
		return errs.Conflict("seat unavailable", errs.SeatConflict{SeatID: req.SeatID, State: "UNKNOWN"})
	}

	if !current.CheckInvariant() {
		violation := errs.InvariantViolation("seat %s in state %s has inconsistent hold fields", current.ID, current.State)
		s.logger.LogInvariantViolation(ctx, violation, map[string]interface{}{"seat_id": current.ID})
		return violation
	}

	s.logger.LogHoldConflict(ctx, req.SeatID, req.ReservationID, string(current.State))
	return errs.Conflict("seat unavailable", conflictFor(current))
}

func conflictFor(seat *Seat) errs.SeatConflict {
	c := errs.SeatConflict{
		SeatID: seat.ID,
		Code:   seat.Code,
		State:  string(seat.State),
	}
	if seat.HoldOwner != nil {
		c.HoldOwner = *seat.HoldOwner
	}
	if seat.HoldExpiresAt != nil {
		t := *seat.HoldExpiresAt
		c.HoldExpiresAt = &t
	}
	return c
}

// ReleaseHoldsByOwner is idempotent: seats already released or booked are skipped
func (s *service) ReleaseHoldsByOwner(ctx context.Context, scenarioID, reservationID string) (int, error) {
	sctx, cancel := s.storeCtx(ctx)
	held, err := s.store.GetHeldBy(sctx, scenarioID, reservationID)
	cancel()
	if err != nil {
		return 0, storeErr(err, "list held seats")
	}

	released := 0
	for i := range held {
		ok, err := s.releaseSeat(ctx, &held[i], reservationID)
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	return released, nil
}

func (s *service) ReleaseHold(ctx context.Context, seatID, reservationID string) (bool, error) {
	seat, err := s.getSeat(ctx, seatID)
	if err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.releaseSeat(ctx, seat, reservationID)
}

func (s *service) releaseSeat(ctx context.Context, seat *Seat, reservationID string) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	ok, err := s.store.Release(sctx, seat.ID, reservationID)
	cancel()
	if err != nil {
		return false, storeErr(err, "release hold")
	}
	if !ok {
		return false, nil
	}

	snap := seat.Snapshot()
	snap.State = StateAvailable
	snap.HoldOwner = ""
	snap.HoldExpiresAt = nil
	s.notifySeat(ctx, notifications.SeatReleased, snap, reservationID)
	return true, nil
}

func (s *service) CommitHold(ctx context.Context, seatID, reservationID string) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.store.Commit(sctx, seatID, reservationID)
	return ok, storeErr(err, "commit hold")
}

func (s *service) RevertCommit(ctx context.Context, seatID, reservationID string, restoreUntil *time.Time) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	ok, err := s.store.Uncommit(sctx, seatID, reservationID, restoreUntil)
	return ok, storeErr(err, "revert commit")
}

//  READS

func (s *service) getSeat(ctx context.Context, id string) (*Seat, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	seat, err := s.store.GetByID(sctx, id)
	if err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		return nil, storeErr(err, "get seat")
	}
	return seat, nil
}

func (s *service) GetSeat(ctx context.Context, id string) (*Seat, error) {
	return s.getSeat(ctx, id)
}

func (s *service) GetSeats(ctx context.Context, ids []string) ([]Seat, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	seats, err := s.store.GetByIDs(sctx, ids)
	return seats, storeErr(err, "get seats")
}

func (s *service) GetScenarioSeats(ctx context.Context, scenarioID string) ([]SeatResponse, error) {
	sctx, cancel := s.storeCtx(ctx)
	seats, err := s.store.GetByScenario(sctx, scenarioID)
	cancel()
	if err != nil {
		return nil, storeErr(err, "get scenario seats")
	}

	now := s.clock.Now()
	out := make([]SeatResponse, 0, len(seats))
	for i := range seats {
		var resp SeatResponse
		if err := copier.Copy(&resp, &seats[i]); err != nil {
			return nil, fmt.Errorf("failed to map seat: %w", err)
		}
		// A lapsed hold is already acquirable, so show it as available
		if seats[i].State == StateHeld && seats[i].IsAcquirable(now) {
			resp.State = StateAvailable
			resp.HoldExpiresAt = nil
		}
		resp.IsHeld = resp.State == StateHeld
		out = append(out, resp)
	}
	return out, nil
}

//  INVENTORY MANAGEMENT

func (s *service) ProvisionSeats(ctx context.Context, eventID, scenarioID string, specs []SeatSpec) ([]Seat, error) {
	if len(specs) == 0 {
		return nil, errs.Validation("no seats to provision")
	}

	seats := make([]Seat, 0, len(specs))
	for _, spec := range specs {
		seats = append(seats, Seat{
			ID:         newSeatID(),
			ScenarioID: scenarioID,
			EventID:    eventID,
			Code:       spec.Code,
			Category:   spec.Category,
			Price:      spec.Price,
			Position:   spec.Position,
			State:      StateAvailable,
		})
	}

	if err := s.store.CreateSeats(ctx, seats); err != nil {
		return nil, storeErr(err, "provision seats")
	}
	return seats, nil
}

// DeleteSeat cancels every in-flight reservation that references the seat
// before removing it
func (s *service) DeleteSeat(ctx context.Context, seatID string) error {
	seat, err := s.getSeat(ctx, seatID)
	if err != nil {
		return err
	}

	if s.releaser != nil {
		if _, err := s.releaser.ForceRelease(ctx, seatID); err != nil {
			return errs.Wrap(err, "force release before delete")
		}
	}

	// A hold with no local reservation (owned by a remote ledger) is released directly
	current, err := s.getSeat(ctx, seatID)
	if err != nil {
		return err
	}
	if current.State == StateHeld && current.HoldOwner != nil {
		if _, err := s.releaseSeat(ctx, current, *current.HoldOwner); err != nil {
			return err
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	deleted, err := s.store.Delete(sctx, seatID)
	cancel()
	if err != nil {
		return storeErr(err, "delete seat")
	}
	if !deleted {
		return errs.NotFound("seat %s not found", seatID)
	}

	snap := seat.Snapshot()
	s.notifySeat(ctx, notifications.SeatRemoved, snap, "")
	return nil
}

func (s *service) DeleteEventSeats(ctx context.Context, eventID string) (int64, error) {
	n, err := s.store.DeleteByEvent(ctx, eventID)
	return n, storeErr(err, "delete event seats")
}

//  EXPIRATION

// SweepExpired reverts lapsed holds in batches, then lets the ledger decide
// which reservations lost all their seats. Owners of seats released before a
// failing batch are still handed to the ledger, since those seats will not be
// reported again.
func (s *service) SweepExpired(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	owners := make([]string, 0)
	seen := make(map[string]struct{})
	now := s.clock.Now()

	var sweepErr error
	for batch := 0; batch < maxSweepBatches; batch++ {
		sctx, cancel := s.storeCtx(ctx)
		released, err := s.store.ReleaseExpired(sctx, now, s.sweepBatchSize)
		cancel()
		if err != nil {
			sweepErr = storeErr(err, "release expired holds")
			break
		}

		for _, r := range released {
			s.notifySeat(ctx, notifications.SeatReleased, SeatSnapshot{
				SeatID:     r.SeatID,
				ScenarioID: r.ScenarioID,
				EventID:    r.EventID,
				Code:       r.Code,
				Category:   r.Category,
				Price:      r.Price,
				State:      StateAvailable,
			}, r.ReservationID)
			if _, ok := seen[r.ReservationID]; !ok {
				seen[r.ReservationID] = struct{}{}
				owners = append(owners, r.ReservationID)
			}
		}
		result.SeatsReleased += len(released)

		if len(released) < s.sweepBatchSize {
			break
		}
	}

	result.ReservationsAffected = len(owners)

	// Recompute only after all batches are done, so a reservation with seats
	// spread over several batches is judged on its final state. The cycle
	// deadline must not strand owners whose seats are already released.
	result.ReservationsExpired = s.expireOwners(context.WithoutCancel(ctx), owners)
	return result, sweepErr
}

// expireOwners asks the ledger to expire each reservation that holds nothing anymore
func (s *service) expireOwners(ctx context.Context, owners []string) int {
	if s.expiry == nil {
		return 0
	}

	expiredCount := 0
	for _, reservationID := range owners {
		expired, err := s.expiry.ExpireIfUnheld(ctx, reservationID)
		if err != nil {
			s.logger.ErrorWithContext(ctx, "Failed to expire reservation", err, map[string]interface{}{
				"reservation_id": reservationID,
			})
			continue
		}
		if expired {
			expiredCount++
		}
	}
	return expiredCount
}

func (s *service) notifySeat(ctx context.Context, eventType notifications.EventType, snap SeatSnapshot, reservationID string) {
	if s.notifier == nil {
		return
	}
	payload := notifications.SeatPayload{
		SeatID:        snap.SeatID,
		ScenarioID:    snap.ScenarioID,
		Code:          snap.Code,
		Category:      snap.Category,
		Price:         snap.Price,
		State:         string(snap.State),
		ReservationID: reservationID,
		HoldExpiresAt: snap.HoldExpiresAt,
	}
	event := notifications.NewEvent(eventType, snap.EventID, payload).
		WithSeat(snap.ScenarioID, snap.SeatID).
		WithReservation(reservationID)
	s.notifier.Notify(ctx, event)
}
