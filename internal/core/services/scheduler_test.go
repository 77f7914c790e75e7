package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtower-labs/watchtower/internal/adapters/driven/storage/memory"
	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driving"
)

// Ensure the fakes implement the interfaces.
var (
	_ driving.PollOrchestrator = (*fakeOrchestrator)(nil)
	_ driving.Publisher        = (*countingPublisher)(nil)
	_ driven.AlertSink         = (*captureAlertSink)(nil)
)

// fakeOrchestrator counts polls per source and returns a canned error.
type fakeOrchestrator struct {
	mu      sync.Mutex
	polls   map[string]int
	pollErr error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{polls: make(map[string]int)}
}

func (o *fakeOrchestrator) Poll(_ context.Context, sourceID string) (*domain.PollResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.polls[sourceID]++
	if o.pollErr != nil {
		return nil, o.pollErr
	}
	return &domain.PollResult{SourceID: sourceID, Success: true}, nil
}

func (o *fakeOrchestrator) PollAll(context.Context) error { return nil }

func (o *fakeOrchestrator) RetryFailed(context.Context, string) (int, error) { return 0, nil }

func (o *fakeOrchestrator) Status(_ context.Context, sourceID string) (*driving.PollStatus, error) {
	return &driving.PollStatus{SourceID: sourceID}, nil
}

func (o *fakeOrchestrator) pollCount(sourceID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.polls[sourceID]
}

type countingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPublisher) PublishPending(context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return 0, nil
}

func (p *countingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type captureAlertSink struct {
	mu     sync.Mutex
	alerts []driven.DegradedSource
}

func (s *captureAlertSink) SourceDegraded(_ context.Context, alert driven.DegradedSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *captureAlertSink) captured() []driven.DegradedSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]driven.DegradedSource(nil), s.alerts...)
}

func testSource(id string, cadence time.Duration, enabled bool) domain.Source {
	return domain.Source{
		ID:                     id,
		Kind:                   domain.KindRSS,
		Endpoint:               "https://example.com/" + id,
		Cadence:                cadence,
		MaxConsecutiveFailures: 3,
		Enabled:                enabled,
	}
}

func TestFetchScheduler_PollsOnCadenceAndStops(t *testing.T) {
	ctx := context.Background()
	sources := memory.NewSourceStore()
	require.NoError(t, sources.Save(ctx, testSource("fca-news", 10*time.Millisecond, true)))
	require.NoError(t, sources.Save(ctx, testSource("dormant", time.Hour, false)))

	orch := newFakeOrchestrator()
	pub := &countingPublisher{}
	scheduler := NewFetchScheduler(DefaultSchedulerConfig(), orch, pub, sources, memory.NewStateStore(), nil)

	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	require.Eventually(t, func() bool {
		return orch.pollCount("fca-news") >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, scheduler.Stop())
	require.NoError(t, <-done)

	assert.Zero(t, orch.pollCount("dormant"), "disabled sources are never polled")
	assert.GreaterOrEqual(t, pub.callCount(), 1, "pending versions published after polls")
}

func TestFetchScheduler_StartHonoursContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sources := memory.NewSourceStore()
	require.NoError(t, sources.Save(ctx, testSource("fca-news", 10*time.Millisecond, true)))

	orch := newFakeOrchestrator()
	scheduler := NewFetchScheduler(DefaultSchedulerConfig(), orch, nil, sources, memory.NewStateStore(), nil)

	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	require.Eventually(t, func() bool {
		return orch.pollCount("fca-news") >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPollOnce_SignalsDegradedSource(t *testing.T) {
	ctx := context.Background()
	states := memory.NewStateStore()
	require.NoError(t, states.Save(ctx, domain.ProcessingState{
		SourceID:            "fca-news",
		ConsecutiveFailures: 3,
		LastError:           "listing timed out",
	}))

	orch := newFakeOrchestrator()
	orch.pollErr = domain.ErrSourceUnreachable
	alerts := &captureAlertSink{}
	scheduler := NewFetchScheduler(SchedulerConfig{
		MaxConcurrentPolls: 1,
		BaseBackoff:        time.Second,
		MaxBackoff:         8 * time.Second,
	}, orch, nil, memory.NewSourceStore(), states, alerts)

	delay := scheduler.pollOnce(ctx, testSource("fca-news", time.Minute, true))

	captured := alerts.captured()
	require.Len(t, captured, 1)
	assert.Equal(t, "fca-news", captured[0].SourceID)
	assert.Equal(t, 3, captured[0].ConsecutiveFailures)
	assert.Equal(t, "listing timed out", captured[0].LastError)

	// Degraded sources keep being polled at the capped backoff.
	assert.Greater(t, delay, time.Duration(0))
	assert.LessOrEqual(t, delay, 8*time.Second+time.Second)
}

func TestPollOnce_StoreUnavailableRetriesWholeRun(t *testing.T) {
	ctx := context.Background()
	orch := newFakeOrchestrator()
	orch.pollErr = domain.ErrStoreUnavailable
	alerts := &captureAlertSink{}
	scheduler := NewFetchScheduler(SchedulerConfig{
		MaxConcurrentPolls: 1,
		BaseBackoff:        time.Second,
		MaxBackoff:         time.Minute,
	}, orch, nil, memory.NewSourceStore(), memory.NewStateStore(), alerts)

	delay := scheduler.pollOnce(ctx, testSource("fca-news", time.Minute, true))

	assert.Empty(t, alerts.captured(), "store outages are not source degradation")
	assert.InDelta(t, time.Second, delay, float64(250*time.Millisecond))
}

func TestBackoff_DoublesUntilCap(t *testing.T) {
	scheduler := NewFetchScheduler(SchedulerConfig{
		MaxConcurrentPolls: 1,
		BaseBackoff:        time.Second,
		MaxBackoff:         8 * time.Second,
	}, newFakeOrchestrator(), nil, memory.NewSourceStore(), memory.NewStateStore(), nil)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{failures: 0, want: time.Second},
		{failures: 1, want: time.Second},
		{failures: 2, want: 2 * time.Second},
		{failures: 3, want: 4 * time.Second},
		{failures: 4, want: 8 * time.Second},
		{failures: 10, want: 8 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scheduler.backoff(tt.failures), "failures=%d", tt.failures)
	}
}

func TestWithJitter_StaysWithinBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		jittered := withJitter(base)
		assert.GreaterOrEqual(t, jittered, base-base/5)
		assert.LessOrEqual(t, jittered, base+base/5+time.Nanosecond)
	}
	assert.Equal(t, time.Duration(0), withJitter(0))
}

func TestFetchScheduler_ReloadPicksUpNewSources(t *testing.T) {
	ctx := context.Background()
	sources := memory.NewSourceStore()
	require.NoError(t, sources.Save(ctx, testSource("fca-news", 10*time.Millisecond, true)))

	orch := newFakeOrchestrator()
	scheduler := NewFetchScheduler(DefaultSchedulerConfig(), orch, nil, sources, memory.NewStateStore(), nil)

	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	require.Eventually(t, func() bool {
		return orch.pollCount("fca-news") >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sources.Save(ctx, testSource("sec-releases", 10*time.Millisecond, true)))
	require.NoError(t, scheduler.Reload(ctx))

	require.Eventually(t, func() bool {
		return orch.pollCount("sec-releases") >= 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, scheduler.Stop())
	require.NoError(t, <-done)
}

func TestFetchScheduler_ConcurrentReloadAndStop(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		sources := memory.NewSourceStore()
		require.NoError(t, sources.Save(ctx, testSource("fca-news", time.Millisecond, true)))

		scheduler := NewFetchScheduler(DefaultSchedulerConfig(), newFakeOrchestrator(), nil,
			sources, memory.NewStateStore(), nil)

		done := make(chan error, 1)
		go func() { done <- scheduler.Start(ctx) }()

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			require.NoError(t, scheduler.Reload(ctx))
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, scheduler.Reload(ctx))
		}()
		go func() {
			defer wg.Done()
			require.NoError(t, scheduler.Stop())
		}()
		wg.Wait()

		// Start may not have begun before Stop ran; retire it either way.
		require.NoError(t, scheduler.Stop())
		require.NoError(t, <-done)
	}
}

func TestFetchScheduler_FailingSourceKeepsBeingPolled(t *testing.T) {
	ctx := context.Background()
	sources := memory.NewSourceStore()
	require.NoError(t, sources.Save(ctx, testSource("fca-news", time.Millisecond, true)))

	orch := newFakeOrchestrator()
	orch.pollErr = errors.New("listing timed out")
	scheduler := NewFetchScheduler(SchedulerConfig{
		MaxConcurrentPolls: 1,
		BaseBackoff:        time.Millisecond,
		MaxBackoff:         5 * time.Millisecond,
	}, orch, nil, sources, memory.NewStateStore(), nil)

	done := make(chan error, 1)
	go func() { done <- scheduler.Start(ctx) }()

	require.Eventually(t, func() bool {
		return orch.pollCount("fca-news") >= 3
	}, 2*time.Second, time.Millisecond, "failures back off but never abandon the source")

	require.NoError(t, scheduler.Stop())
	require.NoError(t, <-done)
}
