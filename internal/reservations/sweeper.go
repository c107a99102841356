package reservations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evently-seats/internal/shared/config"
	"evently-seats/pkg/logger"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// SweepResult counts the outcome of one sweep run
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Sweeper releases checkout holds whose deadline has passed. Any number of
// sweepers may run against the same store; each release is a conditional
// transition, so a hold confirmed or released concurrently is skipped.
type Sweeper struct {
	service    *Service
	repo       Repository
	interval   time.Duration
	batchSize  int
	maxBatches int
	log        *logger.Logger

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

func NewSweeper(service *Service, repo Repository, cfg config.SweeperConfig, log *logger.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Sweeper{
		service:    service,
		repo:       repo,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		maxBatches: cfg.MaxBatches,
		log:        log.WithComponent("sweeper"),
	}
}

// SweepOnce runs up to maxBatches batches of expirations. A failure on one
// hold is logged and counted; the remaining holds are still processed.
func (sw *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	var res SweepResult
	failed := make(map[uuid.UUID]struct{})

	for batch := 0; batch < sw.maxBatches; batch++ {
		ids, err := sw.repo.ListExpiredHolds(ctx, sw.service.clock.Now(), sw.batchSize+len(failed))
		if err != nil {
			return res, fmt.Errorf("list expired holds: %w", err)
		}

		processed := 0
		for _, id := range ids {
			if _, seen := failed[id]; seen {
				continue
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
			processed++
			res.Scanned++

			released, err := sw.service.ExpireHold(ctx, id)
			switch {
			case err == nil && released:
				res.Released++
			case err == nil, errors.Is(err, ErrReservationNotFound):
				res.Skipped++
			default:
				res.Failed++
				failed[id] = struct{}{}
				sw.log.ErrorWithContext(ctx, "Failed to expire hold", err, map[string]any{
					"hold_id": id.String(),
				})
			}
		}

		if processed < sw.batchSize {
			break
		}
	}

	sw.log.LogSweep(ctx, res.Scanned, res.Released, res.Skipped, res.Failed, time.Since(started))
	return res, nil
}

// Start schedules SweepOnce every interval. Runs never overlap within one
// process; a run still going when the next is due pushes it back.
func (sw *Sweeper) Start(ctx context.Context) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.scheduler != nil {
		return nil
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sweeper scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(sw.interval),
		gocron.NewTask(func() {
			if _, err := sw.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				sw.log.ErrorWithContext(ctx, "Sweep run failed", err, nil)
			}
		}),
		gocron.WithName("expire-checkout-holds"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule sweeper: %w", err)
	}

	s.Start()
	sw.scheduler = s
	sw.log.Info("Expiry sweeper started", "interval", sw.interval.String(), "batch_size", sw.batchSize)
	return nil
}

// Stop shuts the scheduler down and waits for a running sweep to finish
func (sw *Sweeper) Stop() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.scheduler == nil {
		return nil
	}
	err := sw.scheduler.Shutdown()
	sw.scheduler = nil
	return err
}
