package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driving"
	"github.com/watchtower-labs/watchtower/internal/logger"
)

// SchedulerConfig holds fetch scheduler configuration.
type SchedulerConfig struct {
	// MaxConcurrentPolls caps polls in flight across all sources.
	MaxConcurrentPolls int64

	// BaseBackoff is the delay after the first consecutive failure.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential backoff interval. A failing source
	// keeps being polled at this interval, never abandoned.
	MaxBackoff time.Duration
}

// DefaultSchedulerConfig returns sensible defaults for the scheduler.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentPolls: 4,
		BaseBackoff:        30 * time.Second,
		MaxBackoff:         30 * time.Minute,
	}
}

// generation is one round of polling loops. Retiring a generation closes
// its stop channel exactly once, so Stop and Reload can race safely.
type generation struct {
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newGeneration() *generation {
	return &generation{stopCh: make(chan struct{})}
}

func (g *generation) stop() {
	g.once.Do(func() { close(g.stopCh) })
}

// FetchScheduler drives each enabled source on its own cadence. One
// goroutine per source guarantees polls of a single source never overlap;
// a weighted semaphore caps concurrency across sources.
type FetchScheduler struct {
	config    SchedulerConfig
	orch      driving.PollOrchestrator
	publisher driving.Publisher
	sources   driven.SourceStore
	states    driven.StateStore
	alerts    driven.AlertSink
	sem       *semaphore.Weighted

	mu      sync.Mutex
	running bool
	// gen is the current generation of polling loops; Reload swaps it.
	gen *generation
	// stopped is closed by Stop only, releasing Start.
	stopped chan struct{}
}

// NewFetchScheduler creates a scheduler. The publisher may be nil; when
// set, pending versions are published after every poll.
func NewFetchScheduler(
	config SchedulerConfig,
	orch driving.PollOrchestrator,
	publisher driving.Publisher,
	sources driven.SourceStore,
	states driven.StateStore,
	alerts driven.AlertSink,
) *FetchScheduler {
	if config.MaxConcurrentPolls <= 0 {
		config.MaxConcurrentPolls = DefaultSchedulerConfig().MaxConcurrentPolls
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultSchedulerConfig().BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultSchedulerConfig().MaxBackoff
	}
	return &FetchScheduler{
		config:    config,
		orch:      orch,
		publisher: publisher,
		sources:   sources,
		states:    states,
		alerts:    alerts,
		sem:       semaphore.NewWeighted(config.MaxConcurrentPolls),
	}
}

// Start launches one polling loop per enabled source and blocks until the
// context is cancelled or Stop is called.
func (s *FetchScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	gen := newGeneration()
	s.gen = gen
	s.stopped = make(chan struct{})
	stopped := s.stopped
	s.mu.Unlock()

	if err := s.launchLoops(ctx, gen); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.running = false
		current := s.gen
		s.mu.Unlock()

		current.stop()
		current.wg.Wait()
		return ctx.Err()
	case <-stopped:
		return nil
	}
}

// Stop gracefully shuts down the scheduler, waiting for in-flight polls.
func (s *FetchScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	gen := s.gen
	stopped := s.stopped
	s.mu.Unlock()

	gen.stop()
	gen.wg.Wait()
	close(stopped)
	return nil
}

// Reload retires the current polling loops and starts a fresh generation
// against the current source store. Used after an explicit configuration
// reload. Safe to call concurrently with Stop or another Reload.
func (s *FetchScheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	old := s.gen
	next := newGeneration()
	s.gen = next
	s.mu.Unlock()

	old.stop()
	old.wg.Wait()

	return s.launchLoops(ctx, next)
}

// launchLoops starts one goroutine per enabled source for the given
// generation. The loops are registered under the mutex so a concurrent
// Stop either sees them or prevents them, never half of each.
func (s *FetchScheduler) launchLoops(ctx context.Context, gen *generation) error {
	sources, err := s.sources.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.running || s.gen != gen {
		// Stopped or reloaded again while listing; this generation is
		// already retired.
		s.mu.Unlock()
		return nil
	}
	for _, source := range sources {
		if !source.Enabled {
			continue
		}
		gen.wg.Add(1)
		go func(src domain.Source) {
			defer gen.wg.Done()
			s.runSource(ctx, gen, src)
		}(source)
	}
	s.mu.Unlock()

	logger.Info("Scheduler watching %d sources", len(sources))
	return nil
}

// runSource is the polling loop for one source. The first poll happens
// immediately; subsequent polls follow the cadence or, after failures, a
// jittered exponential backoff capped at MaxBackoff.
func (s *FetchScheduler) runSource(ctx context.Context, gen *generation, source domain.Source) {
	delay := time.Duration(0)
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-gen.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		delay = s.pollOnce(ctx, source)
	}
}

// pollOnce runs a single poll under the global concurrency cap and
// returns the delay before the next poll.
func (s *FetchScheduler) pollOnce(ctx context.Context, source domain.Source) time.Duration {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return source.Cadence
	}
	_, err := s.orch.Poll(ctx, source.ID)
	s.sem.Release(1)

	if err == nil {
		s.publishPending(ctx)
		return withJitter(source.Cadence)
	}
	if errors.Is(err, context.Canceled) {
		return source.Cadence
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		// Provenance cannot be recorded; retry the whole run after the
		// base interval without touching failure counts.
		logger.Error("Store unavailable polling %s, retrying run: %v", source.ID, err)
		return withJitter(s.config.BaseBackoff)
	}

	failures := 1
	if state, stateErr := s.states.Get(ctx, source.ID); stateErr == nil {
		failures = state.ConsecutiveFailures
		if state.Degraded(source.MaxConsecutiveFailures) && s.alerts != nil {
			s.alerts.SourceDegraded(ctx, driven.DegradedSource{
				SourceID:            source.ID,
				ConsecutiveFailures: state.ConsecutiveFailures,
				LastError:           state.LastError,
				SignalledAt:         time.Now().UTC(),
			})
		}
	}
	return withJitter(s.backoff(failures))
}

// publishPending hands freshly extracted versions downstream.
func (s *FetchScheduler) publishPending(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	if n, err := s.publisher.PublishPending(ctx); err != nil {
		logger.Error("Publish pending: %v", err)
	} else if n > 0 {
		logger.Info("Published %d versions", n)
	}
}

// backoff returns the uncapped-then-capped exponential delay for the
// given consecutive failure count.
func (s *FetchScheduler) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := s.config.BaseBackoff
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= s.config.MaxBackoff {
			return s.config.MaxBackoff
		}
	}
	if delay > s.config.MaxBackoff {
		return s.config.MaxBackoff
	}
	return delay
}

// withJitter spreads a delay by ±20% so sources drift apart.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int63n(int64(d)*2/5+1)) - d/5
	return d + jitter
}
