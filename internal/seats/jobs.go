package seats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"seatreserve/pkg/logger"
)

// Sweeper periodically reclaims seats whose hold has lapsed
type Sweeper struct {
	service  Service
	config   *SweeperConfig
	logger   *logger.Logger
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// SweeperConfig contains configuration for the sweeper
type SweeperConfig struct {
	Interval time.Duration
	// Upper bound for a single cycle; an overrunning cycle is abandoned and retried next tick
	CycleTimeout time.Duration
}

// DefaultSweeperConfig returns default sweeper configuration
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:     time.Minute,
		CycleTimeout: 30 * time.Second,
	}
}

// NewSweeper creates a new sweeper
func NewSweeper(service Service, config *SweeperConfig, l *logger.Logger) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	if config.CycleTimeout <= 0 || config.CycleTimeout > config.Interval {
		config.CycleTimeout = config.Interval
	}

	return &Sweeper{
		service: service,
		config:  config,
		logger:  l,
		done:    make(chan struct{}),
	}
}

// Start runs the sweep loop in the background
func (sw *Sweeper) Start(ctx context.Context) {
	sw.wg.Add(1)
	go sw.run(ctx)
	sw.logger.Info("Expiration sweeper started", "interval", sw.config.Interval.String())
}

// Stop stops the loop and waits for an in-flight cycle to finish
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.done)
	})
	sw.wg.Wait()
	sw.logger.Info("Expiration sweeper stopped")
}

func (sw *Sweeper) run(ctx context.Context) {
	defer sw.wg.Done()

	ticker := time.NewTicker(sw.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.RunOnce(ctx)
		case <-sw.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single cycle. Errors and panics are logged; the next
// tick simply tries again.
func (sw *Sweeper) RunOnce(ctx context.Context) (result *SweepResult) {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, sw.config.CycleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			sw.logger.ErrorWithContext(ctx, "Sweeper cycle panicked", fmt.Errorf("%v", r), nil)
			result = nil
		}
	}()

	result, err := sw.service.SweepExpired(cycleCtx)
	if err != nil {
		sw.logger.ErrorWithContext(ctx, "Error sweeping expired holds", err, nil)
		return result
	}

	if result.SeatsReleased > 0 {
		sw.logger.LogSweep(ctx, result.SeatsReleased, result.ReservationsExpired, time.Since(start))
	}
	return result
}

// GetStatus returns the sweeper configuration for the status endpoint
func (sw *Sweeper) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"interval":      sw.config.Interval.String(),
		"cycle_timeout": sw.config.CycleTimeout.String(),
	}
}
