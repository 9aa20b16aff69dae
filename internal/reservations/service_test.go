package reservations_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"seatreserve/internal/notifications"
	"seatreserve/internal/reservations"
	"seatreserve/internal/seats"
	"seatreserve/pkg/clock"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

const (
	eventID    = "7c1f4a52-3b9e-4d7a-9f62-0a1b2c3d4e5f"
	scenarioID = "4b8e2d10-5c6f-4a3b-8e9d-1f2a3b4c5d6e"
	alice      = "user-alice"
	bob        = "user-bob"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notifications.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) types() []notifications.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notifications.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingNotifier) count(t notifications.EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// interceptingInventory lets a test fail or race a specific commit
type interceptingInventory struct {
	seats.Service
	beforeCommit func(seatID string) (fail bool)
}

func (i *interceptingInventory) CommitHold(ctx context.Context, seatID, reservationID string) (bool, error) {
	if i.beforeCommit != nil && i.beforeCommit(seatID) {
		return false, nil
	}
	return i.Service.CommitHold(ctx, seatID, reservationID)
}

type LedgerTestSuite struct {
	suite.Suite
	ctx       context.Context
	clock     *clock.MockClock
	notifier  *recordingNotifier
	seats     seats.Service
	inventory *interceptingInventory
	repo      reservations.Repository
	ledger    reservations.Service
	seatIDs   map[string]string
}

func (s *LedgerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clock.NewMockClock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	s.notifier = &recordingNotifier{}
	s.seats = seats.NewService(seats.NewMemoryRepository(), s.notifier, logger.Discard(), seats.WithClock(s.clock))
	s.inventory = &interceptingInventory{Service: s.seats}
	s.repo = reservations.NewMemoryRepository()
	s.ledger = reservations.NewService(s.repo, s.inventory, s.notifier, logger.Discard(), reservations.WithClock(s.clock))
	s.seats.SetReservationHooks(s.ledger, s.ledger)

	created, err := s.seats.ProvisionSeats(s.ctx, eventID, scenarioID, []seats.SeatSpec{
		{Code: "S1", Category: "VIP", Price: 50, Position: 0},
		{Code: "S2", Category: "VIP", Price: 50, Position: 1},
		{Code: "S3", Category: "GENERAL", Price: 25, Position: 2},
	})
	s.Require().NoError(err)

	s.seatIDs = make(map[string]string)
	for _, seat := range created {
		s.seatIDs[seat.Code] = seat.ID
	}
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (s *LedgerTestSuite) hold(reservationID, owner, code string, ttl time.Duration) (*reservations.HoldResult, error) {
	return s.ledger.Hold(s.ctx, reservations.HoldCommand{
		ReservationID: reservationID,
		OwnerID:       owner,
		ScenarioID:    scenarioID,
		SeatID:        s.seatIDs[code],
		TTL:           ttl,
	})
}

func (s *LedgerTestSuite) mustHold(reservationID, owner string, codes ...string) {
	for _, code := range codes {
		_, err := s.hold(reservationID, owner, code, 0)
		s.Require().NoError(err)
	}
}

func (s *LedgerTestSuite) seat(code string) *seats.Seat {
	seat, err := s.seats.GetSeat(s.ctx, s.seatIDs[code])
	s.Require().NoError(err)
	return seat
}

func (s *LedgerTestSuite) status(reservationID string) reservations.Status {
	r, err := s.repo.GetByID(s.ctx, reservationID)
	s.Require().NoError(err)
	return r.Status
}

//  HOLD

func (s *LedgerTestSuite) TestHoldCreatesThenAppends() {
	first, err := s.hold("R1", alice, "S1", 0)
	s.Require().NoError(err)
	s.True(first.Created)
	s.Equal(eventID, first.Reservation.EventID)
	s.Equal(reservations.StatusPending, first.Reservation.Status)

	second, err := s.hold("R1", alice, "S3", 0)
	s.Require().NoError(err)
	s.False(second.Created)

	got := make([]string, 0)
	for _, ref := range second.Reservation.SeatRefs {
		got = append(got, ref.Code)
	}
	if diff := cmp.Diff([]string{"S1", "S3"}, got); diff != "" {
		s.Failf("unexpected seat refs", "(-want +got):\n%s", diff)
	}
	s.Equal(75.0, second.Reservation.TotalPrice())
	s.Equal(1, s.notifier.count(notifications.ReservationCreated))
	s.Equal(2, s.notifier.count(notifications.SeatHeld))
}

func (s *LedgerTestSuite) TestHoldIsIdempotentForSameSeat() {
	s.mustHold("R1", alice, "S1")

	again, err := s.hold("R1", alice, "S1", 0)
	s.Require().NoError(err)
	s.Len(again.Reservation.SeatRefs, 1)
	s.Equal(1, s.notifier.count(notifications.SeatHeld))
}

func (s *LedgerTestSuite) TestHoldOnSomeoneElsesReservationIsForbidden() {
	s.mustHold("R1", alice, "S1")

	_, err := s.hold("R1", bob, "S2", 0)
	s.Equal(errs.KindForbidden, errs.KindOf(err))

	// Bob's attempt must not leave a hold behind
	s.Equal(seats.StateAvailable, s.seat("S2").State)
}

func (s *LedgerTestSuite) TestHoldOnClosedReservationConflicts() {
	s.mustHold("R1", alice, "S1")
	_, err := s.ledger.Cancel(s.ctx, "R1", alice)
	s.Require().NoError(err)

	_, err = s.hold("R1", alice, "S2", 0)
	s.Equal(errs.KindConflict, errs.KindOf(err))
	s.Equal(seats.StateAvailable, s.seat("S2").State)
}

//  CONFIRM

func (s *LedgerTestSuite) TestConfirmBooksEverySeat() {
	s.mustHold("R1", alice, "S1", "S2")

	confirmed, err := s.ledger.Confirm(s.ctx, "R1", alice, nil)
	s.Require().NoError(err)
	s.Equal(reservations.StatusConfirmed, confirmed.Status)

	for _, code := range []string{"S1", "S2"} {
		seat := s.seat(code)
		s.Equal(seats.StateBooked, seat.State)
		s.True(seat.CheckInvariant())
	}
	s.Equal(1, s.notifier.count(notifications.ReservationConfirmed))

	_, err = s.ledger.Confirm(s.ctx, "R1", alice, nil)
	s.Equal(errs.KindConflict, errs.KindOf(err))
}

func (s *LedgerTestSuite) TestConfirmByStrangerIsForbidden() {
	s.mustHold("R1", alice, "S1")

	_, err := s.ledger.Confirm(s.ctx, "R1", bob, nil)
	s.Equal(errs.KindForbidden, errs.KindOf(err))
	s.Equal(reservations.StatusPending, s.status("R1"))
}

func (s *LedgerTestSuite) TestConfirmUnknownReservation() {
	_, err := s.ledger.Confirm(s.ctx, "missing", alice, nil)
	s.Equal(errs.KindNotFound, errs.KindOf(err))
}

func (s *LedgerTestSuite) TestConfirmFailsWhenOneSeatLostItsHold() {
	_, err := s.hold("R1", alice, "S1", 20*time.Minute)
	s.Require().NoError(err)
	_, err = s.hold("R1", alice, "S2", 5*time.Minute)
	s.Require().NoError(err)

	// S2 lapses and is taken by someone else before the confirm
	s.clock.Add(6 * time.Minute)
	_, err = s.hold("R9", bob, "S2", 0)
	s.Require().NoError(err)

	_, err = s.ledger.Confirm(s.ctx, "R1", alice, nil)
	s.Require().Error(err)
	s.Equal(errs.KindConflict, errs.KindOf(err))

	conflicts := errs.ConflictSeats(err)
	s.Require().Len(conflicts, 1)
	s.Equal(s.seatIDs["S2"], conflicts[0].SeatID)
	s.Equal("R9", conflicts[0].HoldOwner)

	// No partial confirmation
	s.True(s.seat("S1").IsHeldBy("R1", s.clock.Now()))
	s.Equal(reservations.StatusPending, s.status("R1"))
}

func (s *LedgerTestSuite) TestConfirmRejectsSeatListMismatch() {
	s.mustHold("R1", alice, "S1", "S2")

	_, err := s.ledger.Confirm(s.ctx, "R1", alice, []string{s.seatIDs["S1"], s.seatIDs["S3"]})
	s.Require().Error(err)

	states := make(map[string]string)
	for _, c := range errs.ConflictSeats(err) {
		states[c.SeatID] = c.State
	}
	s.Equal("NOT_IN_RESERVATION", states[s.seatIDs["S3"]])
	s.Equal("NOT_REQUESTED", states[s.seatIDs["S2"]])
	s.Equal(seats.StateHeld, s.seat("S1").State)
}

func (s *LedgerTestSuite) TestConfirmRevertsCommittedSeatsOnCommitFailure() {
	s.mustHold("R1", alice, "S1", "S2")
	originalExpiry := *s.seat("S1").HoldExpiresAt

	s.inventory.beforeCommit = func(seatID string) bool {
		return seatID == s.seatIDs["S2"]
	}

	_, err := s.ledger.Confirm(s.ctx, "R1", alice, nil)
	s.Require().Error(err)
	s.Equal(errs.KindConflict, errs.KindOf(err))

	s1 := s.seat("S1")
	s.Equal(seats.StateHeld, s1.State)
	s.True(s1.IsHeldBy("R1", s.clock.Now()))
	s.Equal(originalExpiry, *s1.HoldExpiresAt)
	s.Equal(reservations.StatusPending, s.status("R1"))
	s.Zero(s.notifier.count(notifications.ReservationConfirmed))

	// Once the fault clears the same reservation confirms normally
	s.inventory.beforeCommit = nil
	_, err = s.ledger.Confirm(s.ctx, "R1", alice, nil)
	s.Require().NoError(err)
}

func (s *LedgerTestSuite) TestConfirmLosingToConcurrentCancelFreesSeats() {
	s.mustHold("R1", alice, "S1", "S2")

	// The reservation is cancelled after the seats were verified
	s.inventory.beforeCommit = func(seatID string) bool {
		if seatID == s.seatIDs["S2"] {
			ok, err := s.repo.TransitionStatus(s.ctx, "R1", reservations.StatusPending, reservations.StatusCancelled, reservations.ReasonOwnerCancelled, s.clock.Now())
			s.Require().NoError(err)
			s.Require().True(ok)
		}
		return false
	}

	_, err := s.ledger.Confirm(s.ctx, "R1", alice, nil)
	s.Equal(errs.KindConflict, errs.KindOf(err))
	s.Equal(reservations.StatusCancelled, s.status("R1"))
	s.Equal(seats.StateAvailable, s.seat("S1").State)
	s.Equal(seats.StateAvailable, s.seat("S2").State)
}

//  CANCEL

func (s *LedgerTestSuite) TestCancelReleasesEveryHold() {
	s.mustHold("R1", alice, "S1", "S2")
	s.notifier.reset()

	cancelled, err := s.ledger.Cancel(s.ctx, "R1", alice)
	s.Require().NoError(err)
	s.Equal(reservations.StatusCancelled, cancelled.Status)
	s.Equal(reservations.ReasonOwnerCancelled, cancelled.CloseReason)

	s.Equal(seats.StateAvailable, s.seat("S1").State)
	s.Equal(seats.StateAvailable, s.seat("S2").State)
	s.Equal(2, s.notifier.count(notifications.SeatReleased))
	s.Equal(1, s.notifier.count(notifications.ReservationCancelled))

	_, err = s.ledger.Cancel(s.ctx, "R1", alice)
	s.Equal(errs.KindConflict, errs.KindOf(err))
}

func (s *LedgerTestSuite) TestCancelByStrangerIsForbidden() {
	s.mustHold("R1", alice, "S1")

	_, err := s.ledger.Cancel(s.ctx, "R1", bob)
	s.Equal(errs.KindForbidden, errs.KindOf(err))
	s.Equal(seats.StateHeld, s.seat("S1").State)
}

//  EXPIRY

func (s *LedgerTestSuite) TestExpiredHoldScenario() {
	// S1 held by R1 for 15 minutes
	_, err := s.hold("R1", alice, "S1", 15*time.Minute)
	s.Require().NoError(err)

	s.clock.Add(time.Minute)
	_, err = s.hold("R2", bob, "S1", 0)
	s.Require().Error(err)
	conflicts := errs.ConflictSeats(err)
	s.Require().Len(conflicts, 1)
	s.Equal(string(seats.StateHeld), conflicts[0].State)

	// R2 never got a ledger row
	_, err = s.repo.GetByID(s.ctx, "R2")
	s.Equal(errs.KindNotFound, errs.KindOf(err))

	s.clock.Add(15 * time.Minute)
	result, err := s.seats.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.SeatsReleased)
	s.Equal(1, result.ReservationsExpired)
	s.Equal(seats.StateAvailable, s.seat("S1").State)
	s.Equal(reservations.StatusExpired, s.status("R1"))
	s.Equal(1, s.notifier.count(notifications.ReservationExpired))

	s.clock.Add(time.Second)
	retried, err := s.hold("R2", bob, "S1", 0)
	s.Require().NoError(err)
	s.True(retried.Created)
}

func (s *LedgerTestSuite) TestPartialSweepKeepsReservationPending() {
	_, err := s.hold("R1", alice, "S1", 5*time.Minute)
	s.Require().NoError(err)
	_, err = s.hold("R1", alice, "S2", 20*time.Minute)
	s.Require().NoError(err)

	s.clock.Add(10 * time.Minute)
	result, err := s.seats.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, result.SeatsReleased)
	s.Zero(result.ReservationsExpired)
	s.Equal(reservations.StatusPending, s.status("R1"))
}

func (s *LedgerTestSuite) TestTakeoverOfLapsedHoldExpiresStaleReservation() {
	_, err := s.hold("R1", alice, "S1", time.Minute)
	s.Require().NoError(err)

	s.clock.Add(2 * time.Minute)
	_, err = s.hold("R2", bob, "S1", 0)
	s.Require().NoError(err)

	s.Equal(reservations.StatusExpired, s.status("R1"))
	s.Equal(1, s.notifier.count(notifications.ReservationExpired))
	s.Require().NotNil(s.seat("S1").HoldOwner)
	s.Equal("R2", *s.seat("S1").HoldOwner)

	// The sweep has nothing left to report for R1
	result, err := s.seats.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(result.SeatsReleased)
	s.Equal(reservations.StatusExpired, s.status("R1"))
	s.Equal(reservations.StatusPending, s.status("R2"))
}

func (s *LedgerTestSuite) TestTakeoverKeepsReservationWithLiveHolds() {
	_, err := s.hold("R1", alice, "S1", time.Minute)
	s.Require().NoError(err)
	_, err = s.hold("R1", alice, "S2", 20*time.Minute)
	s.Require().NoError(err)

	s.clock.Add(2 * time.Minute)
	_, err = s.hold("R2", bob, "S1", 0)
	s.Require().NoError(err)

	s.Equal(reservations.StatusPending, s.status("R1"))
	s.True(s.seat("S2").IsHeldBy("R1", s.clock.Now()))

	s.clock.Add(20 * time.Minute)
	_, err = s.seats.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(reservations.StatusExpired, s.status("R1"))
}

func (s *LedgerTestSuite) TestExpireIfUnheldIgnoresTerminalReservations() {
	s.mustHold("R1", alice, "S1")
	_, err := s.ledger.Confirm(s.ctx, "R1", alice, nil)
	s.Require().NoError(err)

	expired, err := s.ledger.ExpireIfUnheld(s.ctx, "R1")
	s.Require().NoError(err)
	s.False(expired)

	expired, err = s.ledger.ExpireIfUnheld(s.ctx, "unknown")
	s.Require().NoError(err)
	s.False(expired)
}

//  FORCED RELEASE

func (s *LedgerTestSuite) TestDeletingHeldSeatCancelsWholeReservation() {
	s.mustHold("R3", alice, "S2", "S3")
	s.notifier.reset()

	s.Require().NoError(s.seats.DeleteSeat(s.ctx, s.seatIDs["S2"]))

	s.Equal(reservations.StatusCancelled, s.status("R3"))
	s.Equal(seats.StateAvailable, s.seat("S3").State)

	r, err := s.repo.GetByID(s.ctx, "R3")
	s.Require().NoError(err)
	s.Equal(reservations.ReasonSeatRemoved, r.CloseReason)

	s.Equal(1, s.notifier.count(notifications.ReservationCancelled))
	s.Equal(1, s.notifier.count(notifications.SeatRemoved))
	for _, e := range s.notifier.events {
		s.Equal(eventID, e.EventID)
	}
}

func (s *LedgerTestSuite) TestCancelByEvent() {
	s.mustHold("R1", alice, "S1")
	s.mustHold("R2", bob, "S2")
	s.mustHold("R3", bob, "S3")
	_, err := s.ledger.Confirm(s.ctx, "R3", bob, nil)
	s.Require().NoError(err)

	n, err := s.ledger.CancelByEvent(s.ctx, eventID)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(reservations.StatusConfirmed, s.status("R3"))
}

//  READS

func (s *LedgerTestSuite) TestGetReservationsByOwnerSkipsCancelled() {
	s.mustHold("R1", alice, "S1")
	s.mustHold("R2", alice, "S2")
	_, err := s.ledger.Cancel(s.ctx, "R2", alice)
	s.Require().NoError(err)

	groups, err := s.ledger.GetReservationsByOwner(s.ctx, alice)
	s.Require().NoError(err)
	s.Require().Len(groups, 1)
	s.Equal(eventID, groups[0].EventID)
	s.Require().Len(groups[0].Reservations, 1)
	s.Equal("R1", groups[0].Reservations[0].ID)

	groups, err = s.ledger.GetReservationsByOwner(s.ctx, bob)
	s.Require().NoError(err)
	s.Empty(groups)
}

func (s *LedgerTestSuite) TestGetReservationChecksOwner() {
	s.mustHold("R1", alice, "S1")

	r, err := s.ledger.GetReservation(s.ctx, "R1", alice)
	s.Require().NoError(err)
	s.Equal("R1", r.ID)

	_, err = s.ledger.GetReservation(s.ctx, "R1", bob)
	s.Equal(errs.KindForbidden, errs.KindOf(err))
}
