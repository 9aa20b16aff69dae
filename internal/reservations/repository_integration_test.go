//go:build integration

package reservations_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seatreserve/internal/notifications"
	"seatreserve/internal/reservations"
	"seatreserve/internal/seats"
	"seatreserve/internal/shared/testutil"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

func newPending(id, owner, event string) *reservations.Reservation {
	now := time.Now().UTC()
	return &reservations.Reservation{
		ID:        id,
		OwnerID:   owner,
		EventID:   event,
		Status:    reservations.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresRepository(t *testing.T) {
	db := testutil.StartPostgres(t)
	repo := reservations.NewRepository(db)
	ctx := context.Background()
	event := uuid.NewString()

	t.Run("create is unique per id", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newPending("R-dup", alice, event)))
		err := repo.Create(ctx, newPending("R-dup", alice, event))
		assert.ErrorIs(t, err, reservations.ErrAlreadyExists)
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	})

	t.Run("seat refs keep insertion order and ignore repeats", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newPending("R-refs", alice, event)))
		s1, s2 := uuid.NewString(), uuid.NewString()
		for _, id := range []string{s1, s2, s1} {
			require.NoError(t, repo.AddSeatRef(ctx, "R-refs", reservations.SeatRef{SeatID: id, ScenarioID: uuid.NewString(), Code: "X"}))
		}

		r, err := repo.GetByID(ctx, "R-refs")
		require.NoError(t, err)
		assert.Equal(t, []string{s1, s2}, r.SeatIDs())

		pending, err := repo.FindPendingBySeat(ctx, s2)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "R-refs", pending[0].ID)
	})

	t.Run("status transition has a single winner", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, newPending("R-race", bob, event)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for _, to := range []reservations.Status{reservations.StatusConfirmed, reservations.StatusCancelled, reservations.StatusExpired} {
			wg.Add(1)
			go func(to reservations.Status) {
				defer wg.Done()
				ok, err := repo.TransitionStatus(ctx, "R-race", reservations.StatusPending, to, "race", time.Now().UTC())
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(to)
		}
		wg.Wait()
		assert.EqualValues(t, 1, wins.Load())

		err := repo.AddSeatRef(ctx, "R-race", reservations.SeatRef{SeatID: uuid.NewString()})
		assert.ErrorIs(t, err, reservations.ErrNotPending)
	})

	t.Run("list by owner skips excluded statuses", func(t *testing.T) {
		owner := "user-" + uuid.NewString()
		require.NoError(t, repo.Create(ctx, newPending("R-keep", owner, event)))
		require.NoError(t, repo.Create(ctx, newPending("R-drop", owner, event)))
		_, err := repo.TransitionStatus(ctx, "R-drop", reservations.StatusPending, reservations.StatusCancelled, "test", time.Now().UTC())
		require.NoError(t, err)

		list, err := repo.ListByOwner(ctx, owner, reservations.StatusCancelled)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "R-keep", list[0].ID)
	})
}

func TestLedgerOverPostgres(t *testing.T) {
	db := testutil.StartPostgres(t)
	ctx := context.Background()

	seatService := seats.NewService(seats.NewRepository(db), notifications.Nop{}, logger.Discard())
	ledger := reservations.NewService(reservations.NewRepository(db), seatService, notifications.Nop{}, logger.Discard())
	seatService.SetReservationHooks(ledger, ledger)

	event, scenario := uuid.NewString(), uuid.NewString()
	created, err := seatService.ProvisionSeats(ctx, event, scenario, []seats.SeatSpec{
		{Code: "A1", Category: "VIP", Price: 50},
		{Code: "A2", Category: "VIP", Price: 50, Position: 1},
	})
	require.NoError(t, err)

	for _, seat := range created {
		_, err := ledger.Hold(ctx, reservations.HoldCommand{
			ReservationID: "R-pg",
			OwnerID:       alice,
			ScenarioID:    scenario,
			SeatID:        seat.ID,
		})
		require.NoError(t, err)
	}

	// A competing hold observes the seat as held
	_, err = ledger.Hold(ctx, reservations.HoldCommand{ReservationID: "R-other", OwnerID: bob, ScenarioID: scenario, SeatID: created[0].ID})
	require.Equal(t, errs.KindConflict, errs.KindOf(err))

	confirmed, err := ledger.Confirm(ctx, "R-pg", alice, nil)
	require.NoError(t, err)
	assert.Equal(t, reservations.StatusConfirmed, confirmed.Status)
	assert.Equal(t, 100.0, confirmed.TotalPrice())

	for _, seat := range created {
		got, err := seatService.GetSeat(ctx, seat.ID)
		require.NoError(t, err)
		assert.Equal(t, seats.StateBooked, got.State)
	}
}
