package show

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmic/showrunner/go/clients/showapi"
	"github.com/rs/zerolog/log"
)

// setTimesFetcher is the backend slice the timer needs.
type setTimesFetcher interface {
	SetTimes(ctx context.Context, showID int) ([]showapi.SetTimeEntry, error)
}

// serverTimeFetcher provides the one-shot clock probe.
type serverTimeFetcher interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// ComputeClockOffset probes the backend clock once and returns device-time
// minus server-time. A failed probe degrades to zero offset: the timer then
// runs on uncorrected local time instead of failing the session.
func ComputeClockOffset(ctx context.Context, clock clockwork.Clock, api serverTimeFetcher) time.Duration {
	serverNow, err := api.ServerTime(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("server time probe failed, assuming zero clock offset")
		return 0
	}
	offset := clock.Now().Sub(serverNow)
	log.Info().Dur("offset", offset).Msg("clock offset computed")
	return offset
}

type timerState int

const (
	timerIdle timerState = iota
	timerResolving
	timerTicking
)

const (
	tickInterval = 200 * time.Millisecond

	// How long to wait before fetching set_start for a new performance, so
	// the backend has persisted it.
	defaultSettleDelay = 100 * time.Millisecond
)

// Timer derives the elapsed-time reading while a performer is on stage,
// corrected for client/server clock skew. It runs a small state machine:
//
//	idle -> resolving -> ticking -> idle
//
// A new performance (phase entered performing, or the performer changed)
// always re-fetches the authoritative set-start time; a continuing
// performance prefers the value pushed over the channel. This keeps the
// reading stable across harmless re-broadcasts while guaranteeing a fresh
// start value whenever a genuinely new performance begins.
type Timer struct {
	clock       clockwork.Clock
	store       *Store
	api         setTimesFetcher
	showID      int
	offset      time.Duration
	settleDelay time.Duration

	// Loop-owned; only touched from Run (and from same-package tests).
	state           timerState
	lastPhase       Phase
	lastPerformerID int
	sessionStart    time.Time
	ticker          clockwork.Ticker
	tickCh          <-chan time.Time
}

func NewTimer(clock clockwork.Clock, store *Store, api setTimesFetcher, showID int, offset time.Duration) *Timer {
	return &Timer{
		clock:       clock,
		store:       store,
		api:         api,
		showID:      showID,
		offset:      offset,
		settleDelay: defaultSettleDelay,
	}
}

// Run watches the store and maintains the elapsed-time reading until ctx is
// cancelled. The interval and the store watch are torn down together.
func (t *Timer) Run(ctx context.Context) {
	updates, cancelWatch := t.store.Watch()
	defer cancelWatch()
	defer t.stopTicking(false)

	t.evaluate(ctx, t.store.Snapshot())

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			t.evaluate(ctx, snap)
		case <-t.tickCh:
			t.tick()
		}
	}
}

// evaluate reacts to a state snapshot, driving the idle/resolving/ticking
// transitions.
func (t *Timer) evaluate(ctx context.Context, snap RunState) {
	performing := snap.Phase == PhasePerforming && snap.ActivePerformerID != 0

	if !performing {
		if t.state != timerIdle {
			t.stopTicking(true)
		}
		t.lastPhase = snap.Phase
		return
	}

	newPerformance := t.lastPhase != PhasePerforming || t.lastPerformerID != snap.ActivePerformerID

	switch {
	case newPerformance:
		t.state = timerResolving
		t.sessionStart = t.resolveFresh(ctx, snap.ActivePerformerID)
		t.lastPhase = PhasePerforming
		t.lastPerformerID = snap.ActivePerformerID
		t.startTicking()

	case t.state == timerTicking:
		// Continuing performance: adopt the pushed set-start when present,
		// no extra fetch needed.
		if !snap.ActivePerformerSetStart.IsZero() {
			t.sessionStart = snap.ActivePerformerSetStart
		}

	case t.state == timerIdle:
		// Same performer and phase but no interval running (e.g. the timer
		// restarted mid-performance). Prefer the pushed value, fetch only
		// when it is absent.
		if !snap.ActivePerformerSetStart.IsZero() {
			t.sessionStart = snap.ActivePerformerSetStart
		} else {
			t.state = timerResolving
			t.sessionStart = t.resolveFresh(ctx, snap.ActivePerformerID)
		}
		t.startTicking()
	}
}

// resolveFresh fetches the authoritative per-performer set-start, falling
// back to "now corrected for clock offset" when the backend has no value.
func (t *Timer) resolveFresh(ctx context.Context, performerID int) time.Time {
	if t.settleDelay > 0 {
		t.clock.Sleep(t.settleDelay)
	}

	entries, err := t.api.SetTimes(ctx, t.showID)
	if err != nil {
		log.Warn().Err(err).Int("show_id", t.showID).Msg("set times fetch failed, using corrected now")
		return t.serverNow()
	}
	for _, e := range entries {
		if e.PerformerID == performerID {
			if start, ok := e.StartTime(); ok {
				return start
			}
			break
		}
	}
	return t.serverNow()
}

func (t *Timer) serverNow() time.Time {
	return t.clock.Now().Add(-t.offset)
}

func (t *Timer) startTicking() {
	t.state = timerTicking
	if t.ticker == nil {
		t.ticker = t.clock.NewTicker(tickInterval)
	} else {
		t.ticker.Reset(tickInterval)
	}
	t.tickCh = t.ticker.Chan()
	t.tick()
}

// stopTicking cancels the interval. With clearElapsed the reading is nulled
// in the same step, so no trailing tick can resurrect it.
func (t *Timer) stopTicking(clearElapsed bool) {
	if t.ticker != nil {
		t.ticker.Stop()
	}
	t.tickCh = nil
	t.state = timerIdle
	if clearElapsed {
		t.store.SetElapsed(nil)
	}
}

func (t *Timer) tick() {
	if t.state != timerTicking {
		return
	}
	elapsed := t.serverNow().Sub(t.sessionStart)
	if elapsed < 0 {
		elapsed = 0
	}
	t.store.SetElapsed(&elapsed)
}
