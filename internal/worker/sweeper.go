package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/service"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const sweeperLockKey = "sweeper"

// Sweeps run by the sweeper
const (
	SweepExpiry       = "expiry"
	SweepAutoComplete = "auto_complete"
	SweepReminder     = "reminder"
)

// LockStore coordinates sweeper replicas; *redisclient.Client implements it
type LockStore interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
	SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// DealSweeper is the part of the deal service the sweeper drives
type DealSweeper interface {
	FindDeals(ctx context.Context, filter store.DealFilter) ([]models.Deal, error)
	ExpireDeal(ctx context.Context, dealID string, cutoff time.Time) (*service.DealResult, error)
	AutoCompleteDeal(ctx context.Context, dealID string, cutoff time.Time) (*service.DealResult, error)
	RemindPayment(ctx context.Context, deal *models.Deal)
}

type SweeperConfig struct {
	Interval          time.Duration
	UnpaidExpiry      time.Duration
	AutoCompleteAfter time.Duration
	ReminderAfter     time.Duration
	Workers           int
	BatchSize         int
	Now               func() time.Time
}

// Report summarises one sweeper run
type Report struct {
	Locked        bool
	Expired       int
	AutoCompleted int
	Reminded      int
	Skipped       int
	Failed        int
}

// Sweeper enforces the unpaid and unconfirmed timeouts. Each candidate deal
// is processed on its own pool task, so one failing deal does not stop the
// rest of the run.
type Sweeper struct {
	deals  DealSweeper
	locks  LockStore
	cfg    SweeperConfig
	pool   *ants.Pool
	logger *zap.Logger
}

// NewSweeper creates a sweeper with a bounded worker pool
func NewSweeper(deals DealSweeper, locks LockStore, cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.UnpaidExpiry <= 0 {
		cfg.UnpaidExpiry = 24 * time.Hour
	}
	if cfg.AutoCompleteAfter <= 0 {
		cfg.AutoCompleteAfter = 72 * time.Hour
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	logger := util.GetLogger()
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("Sweeper task panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create sweeper pool: %w", err)
	}

	return &Sweeper{
		deals:  deals,
		locks:  locks,
		cfg:    cfg,
		pool:   pool,
		logger: logger,
	}, nil
}

// Start runs the sweeper immediately and then every interval until ctx is
// cancelled
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting sweeper",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("workers", s.cfg.Workers))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Sweeper run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop releases the worker pool, waiting for running tasks
func (s *Sweeper) Stop() {
	s.logger.Info("Shutting down sweeper pool", zap.Int("running_workers", s.pool.Running()))
	s.pool.ReleaseTimeout(10 * time.Second)
}

// RunOnce performs one full pass. Without the cross-replica lock the run is
// skipped and the report has Locked false.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	ctx, span := util.StartSpan(ctx, "Sweeper.RunOnce")
	defer span.End()

	var report Report
	acquired, err := s.locks.AcquireLock(ctx, sweeperLockKey, s.cfg.Interval)
	if err != nil {
		util.SweeperRunsTotal.WithLabelValues("error").Inc()
		return report, fmt.Errorf("failed to acquire sweeper lock: %w", err)
	}
	if !acquired {
		util.SweeperRunsTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug("Sweeper lock held elsewhere, skipping run")
		return report, nil
	}
	report.Locked = true
	defer func() {
		if err := s.locks.ReleaseLock(context.Background(), sweeperLockKey); err != nil {
			s.logger.Warn("Failed to release sweeper lock", zap.Error(err))
		}
	}()

	start := time.Now()
	now := s.cfg.Now()
	counts := &tally{}

	errs := []error{
		s.sweepExpired(ctx, now, counts),
		s.sweepShipped(ctx, now, counts),
		s.sweepReminders(ctx, now, counts),
	}
	report.Expired, report.AutoCompleted, report.Reminded = counts.expired, counts.autoCompleted, counts.reminded
	report.Skipped, report.Failed = counts.skipped, counts.failed

	util.SweeperRunDuration.Observe(time.Since(start).Seconds())
	runErr := errors.Join(errs...)
	if runErr != nil {
		util.SweeperRunsTotal.WithLabelValues("error").Inc()
	} else {
		util.SweeperRunsTotal.WithLabelValues("ok").Inc()
	}

	s.logger.Info("Sweeper run finished",
		zap.Int("expired", report.Expired),
		zap.Int("auto_completed", report.AutoCompleted),
		zap.Int("reminded", report.Reminded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(start)))
	return report, runErr
}

type tally struct {
	mu            sync.Mutex
	expired       int
	autoCompleted int
	reminded      int
	skipped       int
	failed        int
}

func (t *tally) add(field *int) {
	t.mu.Lock()
	*field++
	t.mu.Unlock()
}

func (s *Sweeper) sweepExpired(ctx context.Context, now time.Time, t *tally) error {
	cutoff := now.Add(-s.cfg.UnpaidExpiry)
	deals, err := s.deals.FindDeals(ctx, store.DealFilter{
		Statuses:      []string{models.StatusPendingJoin, models.StatusPendingFunding},
		CreatedBefore: &cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list expired deals: %w", err)
	}

	return s.each(ctx, SweepExpiry, deals, func(deal models.Deal) error {
		_, err := s.deals.ExpireDeal(ctx, deal.ID, cutoff)
		return s.outcome(SweepExpiry, deal.ID, err, t, &t.expired)
	})
}

func (s *Sweeper) sweepShipped(ctx context.Context, now time.Time, t *tally) error {
	cutoff := now.Add(-s.cfg.AutoCompleteAfter)
	deals, err := s.deals.FindDeals(ctx, store.DealFilter{
		Statuses:      []string{models.StatusAwaitingConfirm},
		ShippedBefore: &cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list shipped deals: %w", err)
	}

	return s.each(ctx, SweepAutoComplete, deals, func(deal models.Deal) error {
		_, err := s.deals.AutoCompleteDeal(ctx, deal.ID, cutoff)
		return s.outcome(SweepAutoComplete, deal.ID, err, t, &t.autoCompleted)
	})
}

// sweepReminders nudges buyers of unfunded deals once per expiry window
func (s *Sweeper) sweepReminders(ctx context.Context, now time.Time, t *tally) error {
	if s.cfg.ReminderAfter <= 0 || s.cfg.ReminderAfter >= s.cfg.UnpaidExpiry {
		return nil
	}
	cutoff := now.Add(-s.cfg.ReminderAfter)
	expiry := now.Add(-s.cfg.UnpaidExpiry)
	deals, err := s.deals.FindDeals(ctx, store.DealFilter{
		Statuses:      []string{models.StatusPendingFunding},
		CreatedBefore: &cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list unfunded deals: %w", err)
	}

	return s.each(ctx, SweepReminder, deals, func(deal models.Deal) error {
		if deal.CreatedAt.Before(expiry) {
			t.add(&t.skipped)
			return nil
		}
		first, err := s.locks.SetOnce(ctx, "reminder:"+deal.ID, s.cfg.UnpaidExpiry)
		if err != nil {
			t.add(&t.failed)
			util.SweeperTransitionsTotal.WithLabelValues(SweepReminder, "failed").Inc()
			return fmt.Errorf("deal %s: %w", deal.ID, err)
		}
		if !first {
			t.add(&t.skipped)
			return nil
		}
		s.deals.RemindPayment(ctx, &deal)
		t.add(&t.reminded)
		util.SweeperTransitionsTotal.WithLabelValues(SweepReminder, "applied").Inc()
		return nil
	})
}

// each runs fn for every deal on the pool and waits for all of them. Task
// errors are logged per deal; only a submission failure is returned.
func (s *Sweeper) each(ctx context.Context, sweep string, deals []models.Deal, fn func(models.Deal) error) error {
	var wg sync.WaitGroup
	var submitErr error

	for _, deal := range deals {
		if ctx.Err() != nil {
			break
		}
		deal := deal
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if err := fn(deal); err != nil {
				s.logger.Error("Sweep failed for deal",
					zap.String("sweep", sweep),
					zap.String("deal_id", deal.ID),
					zap.Error(err))
			}
		})
		if err != nil {
			wg.Done()
			submitErr = fmt.Errorf("failed to submit %s task: %w", sweep, err)
			break
		}
	}

	wg.Wait()
	return submitErr
}

// outcome classifies a forced transition result. A deal that moved on since
// it was listed is skipped, not failed.
func (s *Sweeper) outcome(sweep, dealID string, err error, t *tally, applied *int) error {
	if err == nil {
		t.add(applied)
		util.SweeperTransitionsTotal.WithLabelValues(sweep, "applied").Inc()
		s.logger.Info("Sweeper transitioned deal", zap.String("sweep", sweep), zap.String("deal_id", dealID))
		return nil
	}

	switch service.KindOf(err) {
	case service.KindInvalidState, service.KindAlreadyDone, service.KindNotFound:
		t.add(&t.skipped)
		util.SweeperTransitionsTotal.WithLabelValues(sweep, "skipped").Inc()
		return nil
	}
	t.add(&t.failed)
	util.SweeperTransitionsTotal.WithLabelValues(sweep, "failed").Inc()
	return err
}
