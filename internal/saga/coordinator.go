package saga

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"seatreserve/internal/reservations"
	"seatreserve/pkg/clock"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

// RetryConfig bounds the retries of a remote release
type RetryConfig struct {
	Initial     time.Duration
	MaxInterval time.Duration
	MaxElapsed  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Initial:     500 * time.Millisecond,
		MaxInterval: 30 * time.Second,
		MaxElapsed:  5 * time.Minute,
	}
}

// Coordinator drives reservations whose seats live in another process:
// remote hold first, local row second, then a deferred expiry that releases
// the remote holds and expires the local row.
type Coordinator struct {
	ledger    reservations.Service
	inventory InventoryClient
	scheduler Scheduler
	clock     clock.Clock
	logger    *logger.Logger
	holdTTL   time.Duration
	retry     RetryConfig
}

type CoordinatorOption func(*Coordinator)

func WithClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

func WithHoldTTL(ttl time.Duration) CoordinatorOption {
	return func(co *Coordinator) {
		if ttl > 0 {
			co.holdTTL = ttl
		}
	}
}

func WithRetry(cfg RetryConfig) CoordinatorOption {
	return func(co *Coordinator) {
		if cfg.Initial > 0 {
			co.retry.Initial = cfg.Initial
		}
		if cfg.MaxInterval > 0 {
			co.retry.MaxInterval = cfg.MaxInterval
		}
		if cfg.MaxElapsed > 0 {
			co.retry.MaxElapsed = cfg.MaxElapsed
		}
	}
}

// NewCoordinator expects ledger to be built over inventory
func NewCoordinator(ledger reservations.Service, inventory InventoryClient, scheduler Scheduler, l *logger.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		ledger:    ledger,
		inventory: inventory,
		scheduler: scheduler,
		clock:     clock.NewRealClock(),
		logger:    l,
		holdTTL:   15 * time.Minute,
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reserve holds a seat remotely and records it locally. A failed or timed out
// remote call leaves no local row behind.
func (c *Coordinator) Reserve(ctx context.Context, cmd reservations.HoldCommand) (*reservations.HoldResult, error) {
	if cmd.TTL <= 0 {
		cmd.TTL = c.holdTTL
	}

	result, err := c.ledger.Hold(ctx, cmd)
	if err != nil {
		return nil, err
	}

	deadline := c.clock.Now().Add(cmd.TTL)
	if result.Seat.HoldExpiresAt != nil {
		deadline = *result.Seat.HoldExpiresAt
	}
	if err := c.scheduler.Schedule(ctx, cmd.ReservationID, result.Seat.ScenarioID, deadline); err != nil {
		// The remote hold still lapses on its own TTL; confirm will then fail verification
		c.logger.ErrorWithContext(ctx, "Failed to schedule reservation expiry", err, map[string]interface{}{
			"reservation_id": cmd.ReservationID,
			"deadline":       deadline,
		})
	}
	return result, nil
}

func (c *Coordinator) Confirm(ctx context.Context, reservationID, callerID string, seatIDs []string) (*reservations.Reservation, error) {
	r, err := c.ledger.Confirm(ctx, reservationID, callerID, seatIDs)
	if err != nil {
		return nil, err
	}
	c.unschedule(ctx, reservationID)
	return r, nil
}

func (c *Coordinator) Cancel(ctx context.Context, reservationID, callerID string) (*reservations.Reservation, error) {
	r, err := c.ledger.Cancel(ctx, reservationID, callerID)
	if err != nil {
		return nil, err
	}
	c.unschedule(ctx, reservationID)
	return r, nil
}

func (c *Coordinator) unschedule(ctx context.Context, reservationID string) {
	if err := c.scheduler.Cancel(ctx, reservationID); err != nil {
		// A stray task finds the reservation closed and only repeats idempotent releases
		c.logger.WarnWithContext(ctx, "Failed to cancel scheduled expiry", map[string]interface{}{
			"reservation_id": reservationID,
			"error":          err.Error(),
		})
	}
}

// HandleExpiry releases the remote holds of a due reservation, retrying with
// backoff, then expires the local row. A release that never succeeds is left
// to the inventory's own sweeper.
func (c *Coordinator) HandleExpiry(ctx context.Context, task ExpiryTask) (bool, error) {
	for _, scenarioID := range task.ScenarioIDs {
		if err := c.releaseWithRetry(ctx, scenarioID, task.ReservationID); err != nil {
			c.logger.ErrorWithContext(ctx, "Giving up on remote hold release", err, map[string]interface{}{
				"reservation_id": task.ReservationID,
				"scenario_id":    scenarioID,
			})
		}
	}

	expired, err := c.ledger.Expire(ctx, task.ReservationID)
	if err != nil {
		if errs.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return expired, nil
}

func (c *Coordinator) releaseWithRetry(ctx context.Context, scenarioID, reservationID string) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retry.Initial
	policy.MaxInterval = c.retry.MaxInterval
	policy.MaxElapsedTime = c.retry.MaxElapsed

	operation := func() error {
		_, err := c.inventory.ReleaseHoldsByOwner(ctx, scenarioID, reservationID)
		if err != nil && errs.KindOf(err) != errs.KindUnavailable {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.WarnWithContext(ctx, "Remote hold release failed, retrying", map[string]interface{}{
			"reservation_id": reservationID,
			"scenario_id":    scenarioID,
			"retry_in":       wait.String(),
			"error":          err.Error(),
		})
	}

	return backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
}
