package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"seatreserve/pkg/clock"
	"seatreserve/pkg/logger"
)

// ExpiryPoller claims due expiry tasks and hands them to the coordinator
type ExpiryPoller struct {
	coordinator *Coordinator
	scheduler   Scheduler
	clock       clock.Clock
	config      *PollerConfig
	logger      *logger.Logger
	done        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

type PollerConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

func DefaultPollerConfig() *PollerConfig {
	return &PollerConfig{
		Interval:    time.Second,
		BatchSize:   100,
		Concurrency: 8,
	}
}

func NewExpiryPoller(coordinator *Coordinator, scheduler Scheduler, config *PollerConfig, l *logger.Logger) *ExpiryPoller {
	if config == nil {
		config = DefaultPollerConfig()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &ExpiryPoller{
		coordinator: coordinator,
		scheduler:   scheduler,
		clock:       coordinator.clock,
		config:      config,
		logger:      l,
		done:        make(chan struct{}),
	}
}

func (p *ExpiryPoller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Info("Saga expiry poller started", "interval", p.config.Interval.String())
}

func (p *ExpiryPoller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
	p.logger.Info("Saga expiry poller stopped")
}

func (p *ExpiryPoller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce fires every task that is due and returns how many reservations expired
func (p *ExpiryPoller) RunOnce(ctx context.Context) int {
	tasks, err := p.scheduler.ClaimDue(ctx, p.clock.Now(), p.config.BatchSize)
	if err != nil {
		p.logger.ErrorWithContext(ctx, "Failed to claim due expiries", err, nil)
	}
	if len(tasks) == 0 {
		return 0
	}

	var (
		mu      sync.Mutex
		expired int
		wg      sync.WaitGroup
		slots   = make(chan struct{}, p.config.Concurrency)
	)
	for _, task := range tasks {
		wg.Add(1)
		slots <- struct{}{}
		go func(task ExpiryTask) {
			defer wg.Done()
			defer func() { <-slots }()
			defer func() {
				if r := recover(); r != nil {
					p.logger.ErrorWithContext(ctx, "Expiry task panicked", fmt.Errorf("%v", r), map[string]interface{}{
						"reservation_id": task.ReservationID,
					})
				}
			}()

			ok, err := p.coordinator.HandleExpiry(ctx, task)
			if err != nil {
				p.logger.ErrorWithContext(ctx, "Failed to expire reservation", err, map[string]interface{}{
					"reservation_id": task.ReservationID,
				})
				return
			}
			if ok {
				mu.Lock()
				expired++
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()
	return expired
}
