// Package scanner resolves tasks whose bidding deadline has passed while
// bids on them are still pending.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bidding/internal/models"
)

var ErrScanInProgress = errors.New("scan already in progress")

type PendingLister interface {
	PendingTaskIDs(ctx context.Context) ([]string, error)
}

type StatusSource interface {
	BiddingStatus(ctx context.Context, taskId string) (models.BiddingStatus, error)
}

type Resolver interface {
	ResolveTask(ctx context.Context, taskId string, trigger models.ResolutionTrigger) (models.Resolution, error)
	RetryPropagations(ctx context.Context) (int, error)
}

// Locker excludes other instances from scanning at the same time.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Report summarizes one scan.
type Report struct {
	Candidates int `json:"candidates"`
	Expired    int `json:"expired"`
	Resolved   int `json:"resolved"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	// Repropagated counts winners handed to the task service again.
	Repropagated int  `json:"repropagated"`
	LockSkipped  bool `json:"lockSkipped,omitempty"`
}

type options struct {
	interval      time.Duration
	workers       int
	statusTimeout time.Duration
	logger        *slog.Logger
	lock          Locker
	now           func() time.Time
}

type Option func(*options)

func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithStatusTimeout bounds each deadline lookup.
func WithStatusTimeout(d time.Duration) Option {
	return func(o *options) {
		o.statusTimeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLock(lock Locker) Option {
	return func(o *options) {
		o.lock = lock
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

type Scanner struct {
	ledger   PendingLister
	oracle   StatusSource
	resolver Resolver
	options  options
	logger   *slog.Logger

	running    atomic.Bool
	mu         sync.Mutex
	started    bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

func New(ledger PendingLister, oracle StatusSource, resolver Resolver, opts ...Option) *Scanner {
	o := options{
		interval:      5 * time.Minute,
		workers:       4,
		statusTimeout: 5 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = 1
	}

	return &Scanner{
		ledger:   ledger,
		oracle:   oracle,
		resolver: resolver,
		options:  o,
		logger:   o.logger.With(slog.String("caller", "DeadlineScanner")),
	}
}

// Start runs a scan immediately and then again interval after each scan
// finishes.
func (s *Scanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.started = true
	s.logger.Info("starting deadline scanner",
		slog.Duration("interval", s.options.interval),
		slog.Int("workers", s.options.workers))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("scanner goroutine stopped")

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("deadline scan failed", slog.Any("error", err))
				}
				timer.Reset(s.options.interval)
			}
		}
	}()
}

// Close stops scheduling and waits for the current scan. Resolutions already
// handed to workers run to completion.
func (s *Scanner) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("deadline scanner closed")
}

// RunOnce performs one scan. It returns ErrScanInProgress if another scan is
// still running.
func (s *Scanner) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrScanInProgress
	}
	defer s.running.Store(false)

	var report Report

	if s.options.lock != nil {
		ok, err := s.options.lock.TryLock(ctx)
		if err != nil {
			return report, fmt.Errorf("scanner.Scanner.RunOnce: %w", err)
		}
		if !ok {
			s.logger.Debug("scan lock held by another instance, skipping run")
			report.LockSkipped = true
			return report, nil
		}
		defer func() {
			if err := s.options.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("could not release scan lock", slog.Any("error", err))
			}
		}()
	}

	taskIds, err := s.ledger.PendingTaskIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("scanner.Scanner.RunOnce: %w", err)
	}
	report.Candidates = len(taskIds)

	var resolved, failed atomic.Int64
	workCtx := context.WithoutCancel(ctx)
	g := errgroup.Group{}
	g.SetLimit(s.options.workers)

	for _, taskId := range taskIds {
		if ctx.Err() != nil {
			break
		}

		expired, err := s.expired(ctx, taskId)
		if err != nil {
			s.logger.Warn("could not check task deadline, skipping",
				slog.String("taskId", taskId), slog.Any("error", err))
			report.Skipped++
			continue
		}
		if !expired {
			continue
		}
		report.Expired++

		g.Go(func() error {
			// the scan was cancelled while this task waited for a worker
			if ctx.Err() != nil {
				return nil
			}
			res, err := s.resolver.ResolveTask(workCtx, taskId, models.TriggerDeadline)
			if err != nil {
				s.logger.Error("could not resolve task",
					slog.String("taskId", taskId), slog.Any("error", err))
				failed.Add(1)
				return nil
			}
			if res.Resolved() {
				resolved.Add(1)
			}
			return nil
		})
	}
	g.Wait()

	report.Resolved = int(resolved.Load())
	report.Failed = int(failed.Load())

	if ctx.Err() == nil {
		report.Repropagated, err = s.resolver.RetryPropagations(ctx)
		if err != nil {
			s.logger.Warn("could not retry propagations", slog.Any("error", err))
		}
	}

	s.logger.Info("deadline scan finished",
		slog.Int("candidates", report.Candidates),
		slog.Int("expired", report.Expired),
		slog.Int("resolved", report.Resolved),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("repropagated", report.Repropagated))
	return report, nil
}

func (s *Scanner) expired(ctx context.Context, taskId string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.statusTimeout)
	defer cancel()

	status, err := s.oracle.BiddingStatus(ctx, taskId)
	if err != nil {
		return false, err
	}
	return status.DeadlinePassed(s.options.now()), nil
}
