package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/quote-api/internal/model"
	"github.com/jwalitptl/quote-api/pkg/logger"
	"github.com/jwalitptl/quote-api/pkg/metrics"
)

const (
	DefaultRetryDelay     = 60 * time.Second
	DefaultAttemptTimeout = 10 * time.Second
	DefaultFlagTTL        = 15 * time.Minute
)

var ErrPassInProgress = errors.New("retry pass already running")

type State string

const (
	StateIdle      State = "IDLE"
	StateScheduled State = "SCHEDULED"
	StateRunning   State = "RUNNING"
)

// Deliverer re-attempts delivery of a queued entry to the downstream system.
type Deliverer interface {
	Deliver(ctx context.Context, entry *model.PendingQuote) error
}

type DelivererFunc func(ctx context.Context, entry *model.PendingQuote) error

func (f DelivererFunc) Deliver(ctx context.Context, entry *model.PendingQuote) error {
	return f(ctx, entry)
}

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type SchedulerConfig struct {
	// Delay between scheduling and running a pass.
	Delay time.Duration
	// AttemptTimeout bounds each delivery attempt.
	AttemptTimeout time.Duration
	FlagKey        string
	// FlagTTL bounds how long a crashed process can hold the scheduled flag.
	FlagTTL time.Duration
	// SweepInterval is how often Start looks for entries nobody scheduled.
	// Zero disables the sweep.
	SweepInterval time.Duration
}

// PassResult summarizes one pass over the queue.
type PassResult struct {
	Attempted    int
	Delivered    int
	Failed       int
	Skipped      int
	DeadLettered int
	// Retryable is the number of entries below the cap after the pass.
	Retryable int
}

// Scheduler re-delivers queued entries with one delayed timer at a time.
// Passes are sequential and entries inside a pass are tried one by one in
// queue order.
type Scheduler struct {
	queue     *Queue
	store     Store
	deliverer Deliverer
	config    SchedulerConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
	afterFunc AfterFunc
	now       func() time.Time

	mu      sync.Mutex
	state   State
	timer   Timer
	stopped bool
	baseCtx context.Context
	cancel  context.CancelFunc
	passes  sync.WaitGroup
}

// NewScheduler wires the scheduler to queue so every Enqueue schedules a pass
// when none is pending.
func NewScheduler(queue *Queue, store Store, deliverer Deliverer, config SchedulerConfig, log *logger.Logger, m *metrics.Metrics) *Scheduler {
	if config.Delay <= 0 {
		config.Delay = DefaultRetryDelay
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.FlagKey == "" {
		config.FlagKey = DefaultFlagKey
	}
	if config.FlagTTL <= 0 {
		config.FlagTTL = DefaultFlagTTL
	}
	if config.FlagTTL <= config.Delay {
		config.FlagTTL = config.Delay + DefaultFlagTTL
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		queue:     queue,
		store:     store,
		deliverer: deliverer,
		config:    config,
		logger:    log.WithFields(map[string]interface{}{"component": "retry_scheduler"}),
		metrics:   m,
		afterFunc: realAfterFunc,
		now:       time.Now,
		state:     StateIdle,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	queue.OnEnqueue(s.onEnqueue)
	return s
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) onEnqueue(ctx context.Context) {
	if _, err := s.Schedule(ctx); err != nil {
		s.logger.Warn(err, "Failed to schedule retry pass after enqueue")
	}
}

// Schedule arms the retry timer when the scheduler is idle and the persisted
// flag could be taken. It reports whether a timer was armed.
func (s *Scheduler) Schedule(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.state != StateIdle {
		return false, nil
	}

	acquired, err := s.store.SetNX(ctx, s.config.FlagKey, s.now().UTC().Format(time.RFC3339), s.config.FlagTTL)
	if err != nil {
		return false, fmt.Errorf("failed to set retry flag: %w", err)
	}
	if !acquired {
		// another process already has a pass scheduled
		return false, nil
	}

	s.state = StateScheduled
	s.timer = s.afterFunc(s.config.Delay, s.fire)
	s.logger.Debug("Retry pass scheduled", "delay", s.config.Delay.String())
	return true, nil
}

// Resume schedules a pass if retryable entries are waiting. It recovers
// entries left behind by a restart or by an expired flag.
func (s *Scheduler) Resume(ctx context.Context) (bool, error) {
	entries, err := s.queue.ListRetryable(ctx)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	return s.Schedule(ctx)
}

// Start resumes pending work and then sweeps on SweepInterval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting retry scheduler")
	if _, err := s.Resume(ctx); err != nil {
		s.logger.Warn(err, "Failed to resume retry scheduler")
	}
	if s.config.SweepInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down retry scheduler")
			return
		case <-ticker.C:
			if _, err := s.Resume(ctx); err != nil {
				s.logger.Warn(err, "Retry sweep failed")
			}
		}
	}
}

// Stop disarms a pending timer, releases the flag and waits for a running pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	releaseFlag := false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		if s.state == StateScheduled {
			s.state = StateIdle
			releaseFlag = true
		}
	}
	s.cancel()
	s.mu.Unlock()

	if releaseFlag {
		s.releaseFlag()
	}
	s.passes.Wait()
}

// RunPass runs one pass immediately, outside the timer. A pending timer is
// taken over by the manual pass. It fails with ErrPassInProgress while
// another pass is running.
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return PassResult{}, ErrPassInProgress
	}
	ownsFlag := s.state == StateScheduled
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateRunning
	s.passes.Add(1)
	s.mu.Unlock()
	defer s.passes.Done()

	result, err := s.pass(ctx)
	s.finishPass(ownsFlag, result, err)
	return result, err
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped || s.state != StateScheduled {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.timer = nil
	s.passes.Add(1)
	ctx := s.baseCtx
	s.mu.Unlock()
	defer s.passes.Done()

	result, err := s.pass(ctx)
	if err != nil {
		s.logger.Error(err, "Retry pass failed")
	}
	s.finishPass(true, result, err)
}

// finishPass moves RUNNING back to IDLE and schedules the next pass while
// entries below the cap remain, including ones enqueued during the pass.
func (s *Scheduler) finishPass(ownsFlag bool, result PassResult, err error) {
	if ownsFlag {
		s.releaseFlag()
	}
	s.mu.Lock()
	s.state = StateIdle
	ctx := s.baseCtx
	s.mu.Unlock()

	if err != nil || result.Retryable > 0 {
		if _, err := s.Schedule(ctx); err != nil {
			s.logger.Warn(err, "Failed to reschedule retry pass")
		}
	}
}

func (s *Scheduler) releaseFlag() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, s.config.FlagKey); err != nil {
		s.logger.Warn(err, "Failed to release retry flag")
	}
}

func (s *Scheduler) pass(ctx context.Context) (PassResult, error) {
	var result PassResult
	if s.metrics != nil {
		timer := prometheus.NewTimer(s.metrics.RetryPassDuration)
		defer timer.ObserveDuration()
	}

	entries, err := s.queue.List(ctx)
	if err != nil {
		s.observePass("error")
		return result, fmt.Errorf("failed to load fallback queue: %w", err)
	}

	maxRetries := s.queue.MaxRetries()
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.DeadLettered(maxRetries) {
			result.Skipped++
			continue
		}

		// count the attempt before making it so a crash mid-delivery still
		// uses up budget
		next := entry.RetryCount + 1
		now := s.now().UTC()
		claimed, ok, err := s.queue.Update(ctx, entry.CorrelationID, Patch{RetryCount: &next, LastRetryAt: &now})
		if err != nil {
			s.observePass("error")
			return result, fmt.Errorf("failed to record attempt for %s: %w", entry.CorrelationID, err)
		}
		if !ok {
			continue
		}

		result.Attempted++
		if err := s.deliver(ctx, claimed); err != nil {
			result.Failed++
			s.recordFailure(ctx, claimed, err)
			if claimed.DeadLettered(maxRetries) {
				result.DeadLettered++
				s.logger.Warn(err, "Fallback entry exhausted its retry budget",
					"correlation_id", claimed.CorrelationID,
					"quote_id", claimed.QuoteID,
					"retry_count", claimed.RetryCount)
			}
			continue
		}

		result.Delivered++
		if _, err := s.queue.Remove(ctx, claimed.CorrelationID); err != nil {
			s.logger.Error(err, "Failed to remove delivered entry", "correlation_id", claimed.CorrelationID)
		}
	}

	retryable, err := s.queue.ListRetryable(ctx)
	if err != nil {
		s.observePass("error")
		return result, fmt.Errorf("failed to reload fallback queue: %w", err)
	}
	result.Retryable = len(retryable)

	s.observePass("ok")
	s.logger.Info("Retry pass finished",
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"retryable", result.Retryable)
	return result, nil
}

func (s *Scheduler) deliver(ctx context.Context, entry *model.PendingQuote) error {
	attemptCtx, cancel := context.WithTimeout(ctx, s.config.AttemptTimeout)
	defer cancel()
	return s.deliverer.Deliver(attemptCtx, entry)
}

func (s *Scheduler) recordFailure(ctx context.Context, entry *model.PendingQuote, deliveryErr error) {
	msg := deliveryErr.Error()
	if _, _, err := s.queue.Update(ctx, entry.CorrelationID, Patch{LastError: &msg}); err != nil {
		s.logger.Error(err, "Failed to record delivery error", "correlation_id", entry.CorrelationID)
	}
	entry.LastError = msg
}

func (s *Scheduler) observePass(result string) {
	if s.metrics != nil {
		s.metrics.RetryPasses.WithLabelValues(result).Inc()
	}
}
