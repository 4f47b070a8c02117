package show

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmic/showrunner/go/clients/showapi"
)

type fakeSetTimes struct {
	entries []showapi.SetTimeEntry
	err     error
	calls   int
}

func (f *fakeSetTimes) SetTimes(_ context.Context, _ int) ([]showapi.SetTimeEntry, error) {
	f.calls++
	return f.entries, f.err
}

type fakeServerTime struct {
	now time.Time
	err error
}

func (f *fakeServerTime) ServerTime(_ context.Context) (time.Time, error) {
	return f.now, f.err
}

func newTestTimer(clock clockwork.Clock, store *Store, api *fakeSetTimes, offset time.Duration) *Timer {
	timer := NewTimer(clock, store, api, 7, offset)
	timer.settleDelay = 0
	return timer
}

func performingSnap(performerID int, setStart time.Time) RunState {
	return RunState{
		Phase:                   PhasePerforming,
		ActivePerformerID:       performerID,
		ActivePerformerSetStart: setStart,
	}
}

func TestComputeClockOffset(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 20, 0, 10, 0, time.UTC))

	offset := ComputeClockOffset(context.Background(), clock, &fakeServerTime{
		now: time.Date(2026, 8, 31, 20, 0, 0, 0, time.UTC),
	})
	if offset != 10*time.Second {
		t.Errorf("expected 10s offset, got %v", offset)
	}
}

func TestComputeClockOffsetProbeFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()

	offset := ComputeClockOffset(context.Background(), clock, &fakeServerTime{err: errors.New("refused")})
	if offset != 0 {
		t.Errorf("expected zero offset on probe failure, got %v", offset)
	}
}

func TestNewPerformanceFetchesFreshStart(t *testing.T) {
	now := time.Date(2026, 8, 31, 20, 15, 30, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: "2026-08-31T20:15:00Z"},
	}}
	timer := newTestTimer(clock, store, api, 0)

	// Never performed before; a pushed set start must not short-circuit the
	// fresh fetch.
	timer.evaluate(context.Background(), performingSnap(42, now.Add(-time.Hour)))

	if api.calls != 1 {
		t.Fatalf("expected 1 set times fetch, got %d", api.calls)
	}
	elapsed := store.Snapshot().ElapsedTime
	if elapsed == nil {
		t.Fatal("expected elapsed set after first tick")
	}
	if *elapsed != 30*time.Second {
		t.Errorf("expected 30s elapsed, got %v", *elapsed)
	}
}

func TestPerformerChangeForcesRefetch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 20, 15, 30, 0, time.UTC))
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: "2026-08-31T20:15:00Z"},
		{PerformerID: 43, SetStart: "2026-08-31T20:15:20Z"},
	}}
	timer := newTestTimer(clock, store, api, 0)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))
	timer.evaluate(context.Background(), performingSnap(43, time.Time{}))

	if api.calls != 2 {
		t.Fatalf("expected a fetch per performer, got %d", api.calls)
	}
	if *store.Snapshot().ElapsedTime != 10*time.Second {
		t.Errorf("expected elapsed from second performer's start, got %v", *store.Snapshot().ElapsedTime)
	}
}

func TestContinuingPerformancePrefersPushedStart(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 20, 15, 30, 0, time.UTC))
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: "2026-08-31T20:15:00Z"},
	}}
	timer := newTestTimer(clock, store, api, 0)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))

	pushed := time.Date(2026, 8, 31, 20, 15, 10, 0, time.UTC)
	timer.evaluate(context.Background(), performingSnap(42, pushed))

	if api.calls != 1 {
		t.Fatalf("expected no extra fetch for a continuing performance, got %d calls", api.calls)
	}
	timer.tick()
	if got := *store.Snapshot().ElapsedTime; got != 20*time.Second {
		t.Errorf("expected elapsed from pushed start, got %v", got)
	}
}

func TestRebroadcastWithoutStartKeepsSession(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 20, 15, 30, 0, time.UTC))
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: "2026-08-31T20:15:00Z"},
	}}
	timer := newTestTimer(clock, store, api, 0)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))
	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))

	if api.calls != 1 {
		t.Fatalf("expected rebroadcast to not refetch, got %d calls", api.calls)
	}
	if got := *store.Snapshot().ElapsedTime; got != 30*time.Second {
		t.Errorf("expected elapsed unchanged, got %v", got)
	}
}

func TestLeavingPerformingClearsElapsed(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 20, 15, 30, 0, time.UTC))
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: "2026-08-31T20:15:00Z"},
	}}
	timer := newTestTimer(clock, store, api, 0)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))
	timer.evaluate(context.Background(), RunState{Phase: PhaseVoting})

	if store.Snapshot().ElapsedTime != nil {
		t.Fatal("expected elapsed cleared on leaving performing")
	}

	// A late tick must not resurrect the reading.
	timer.tick()
	if store.Snapshot().ElapsedTime != nil {
		t.Fatal("expected no trailing tick after stop")
	}
}

func TestElapsedNeverNegative(t *testing.T) {
	now := time.Date(2026, 8, 31, 20, 15, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: now.Add(time.Minute).Format(time.RFC3339)},
	}}
	timer := newTestTimer(clock, store, api, 0)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))

	if got := *store.Snapshot().ElapsedTime; got != 0 {
		t.Errorf("expected elapsed clamped to 0, got %v", got)
	}
}

func TestElapsedMonotonicWithinSession(t *testing.T) {
	now := time.Date(2026, 8, 31, 20, 15, 30, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: "2026-08-31T20:15:00Z"},
	}}
	timer := newTestTimer(clock, store, api, 0)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))
	first := *store.Snapshot().ElapsedTime

	clock.Advance(tickInterval)
	timer.tick()
	second := *store.Snapshot().ElapsedTime

	if second < first {
		t.Errorf("elapsed went backwards: %v then %v", first, second)
	}
	if second != first+tickInterval {
		t.Errorf("expected %v, got %v", first+tickInterval, second)
	}
}

func TestOffsetCorrectsElapsed(t *testing.T) {
	// Device clock runs 10s ahead of the server.
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 20, 15, 40, 0, time.UTC))
	store := NewStore()
	api := &fakeSetTimes{entries: []showapi.SetTimeEntry{
		{PerformerID: 42, SetStart: "2026-08-31T20:15:00Z"},
	}}
	timer := newTestTimer(clock, store, api, 10*time.Second)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))

	if got := *store.Snapshot().ElapsedTime; got != 30*time.Second {
		t.Errorf("expected offset-corrected 30s, got %v", got)
	}
}

func TestFetchFailureFallsBackToCorrectedNow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 8, 31, 20, 15, 30, 0, time.UTC))
	store := NewStore()
	api := &fakeSetTimes{err: errors.New("backend down")}
	timer := newTestTimer(clock, store, api, 0)

	timer.evaluate(context.Background(), performingSnap(42, time.Time{}))

	if got := *store.Snapshot().ElapsedTime; got != 0 {
		t.Errorf("expected elapsed 0 from fallback start, got %v", got)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewStore()
	timer := newTestTimer(clock, store, &fakeSetTimes{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop on cancel")
	}
}
