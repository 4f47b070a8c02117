package show

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmic/showrunner/go/clients/showapi"
	"github.com/rs/zerolog/log"
)

// sessionAPI is the backend surface a running session needs.
type sessionAPI interface {
	ServerTime(ctx context.Context) (time.Time, error)
	GetShow(ctx context.Context, showID int) (*showapi.Show, error)
	Votes(ctx context.Context, showID int) ([]showapi.Vote, error)
	Picks(ctx context.Context, showID int) ([]showapi.Pick, error)
	SetTimes(ctx context.Context, showID int) ([]showapi.SetTimeEntry, error)
}

// sessionCable is the cable surface a session needs: the connection plus the
// subscription operations the adapter uses.
type sessionCable interface {
	Connect(ctx context.Context) error
	channelSubscriber
}

// Session ties one show run together: clock sync, initial hydration, the
// push subscription and the performance timer share one lifecycle. The cable
// client is injected, so the session never outlives or leaks a connection it
// does not own; End leaves the connection itself open for other subscribers.
type Session struct {
	clock clockwork.Clock
	api   sessionAPI
	cable sessionCable
	store *Store

	mu      sync.Mutex
	showID  int
	adapter *Adapter
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSession(clock clockwork.Clock, api sessionAPI, cable sessionCable, store *Store) *Session {
	return &Session{
		clock: clock,
		api:   api,
		cable: cable,
		store: store,
	}
}

// Start brings up the run for showID: reset the store, sync the clock, load
// the current show state, open the push subscription and start the timer.
// Starting the same show again is a no-op; a different show ends the previous
// run first.
func (s *Session) Start(ctx context.Context, showID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		if s.showID == showID {
			return nil
		}
		s.endLocked()
	}

	s.store.Reset()
	s.store.SetLoading(true)

	offset := ComputeClockOffset(ctx, s.clock, s.api)

	if err := s.hydrate(ctx, showID); err != nil {
		s.store.SetError(genericMessage)
		return fmt.Errorf("load show %d: %w", showID, err)
	}

	if err := s.cable.Connect(ctx); err != nil {
		s.store.SetError(transportMessage)
		return fmt.Errorf("connect cable: %w", err)
	}

	adapter := NewAdapter(s.cable, s.store)
	if err := adapter.Subscribe(showID); err != nil {
		s.store.SetError(transportMessage)
		return fmt.Errorf("subscribe show %d: %w", showID, err)
	}

	timer := NewTimer(s.clock, s.store, s.api, showID, offset)
	runCtx, cancel := context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer.Run(runCtx)
	}()

	s.showID = showID
	s.adapter = adapter
	s.cancel = cancel
	s.store.SetLoading(false)

	log.Info().Int("show_id", showID).Msg("show session started")
	return nil
}

// End tears the run down: timer stopped, subscription closed, store reset.
// Synchronous; when it returns nothing writes to the store anymore.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

func (s *Session) endLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.adapter.Unsubscribe()

	log.Info().Int("show_id", s.showID).Msg("show session ended")

	s.cancel = nil
	s.adapter = nil
	s.showID = 0
	s.store.Reset()
}

// Active reports the show currently being run, if any.
func (s *Session) Active() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showID, s.cancel != nil
}

// hydrate seeds the store from the backend's current view of the show, so
// the UI is correct before the first push arrives.
func (s *Session) hydrate(ctx context.Context, showID int) error {
	sh, err := s.api.GetShow(ctx, showID)
	if err != nil {
		return err
	}
	votes, err := s.api.Votes(ctx, showID)
	if err != nil {
		return err
	}
	picks, err := s.api.Picks(ctx, showID)
	if err != nil {
		return err
	}

	s.store.ApplyAuthoritative(hydrationUpdate(sh))
	s.store.ApplyAuthoritative(StateUpdate{
		VoteCounts: foldVotes(votes),
		PickCounts: foldPicks(picks),
	})
	return nil
}

// hydrationUpdate maps the show resource onto the store. Unlike push frames
// every field is present, so the update overwrites the full contest state.
func hydrationUpdate(sh *showapi.Show) StateUpdate {
	phase := Phase(sh.State)
	votingType := VotingType(sh.VotingType)
	pickingType := PickingType(sh.PickingType)

	u := StateUpdate{
		Phase:                 &phase,
		ActivePerformerID:     &sh.ActivePerformerID,
		ActivePerformerName:   &sh.ActivePerformerName,
		ActiveSlideID:         &sh.ActiveCustomMessageID,
		ActiveSlideName:       &sh.ActiveCustomMessageName,
		CustomMessagesCycling: &sh.CustomMessagesCycling,
		VotingType:            &votingType,
		PickingType:           &pickingType,
		VotingPickOptions:     &sh.VotingPickOptions,
		DrawState:             &sh.DrawState,
		DrawWinners:           &sh.DrawWinners,
		OptInCount:            &sh.OptInCount,
		BuzzerState:           &sh.BuzzerState,
		BuzzerWinners:         &sh.BuzzerWinners,
		BuzzerCount:           &sh.BuzzerCount,
		AudienceCount:         &sh.ShowVoterCount,
	}
	if sh.ActivePerformerSetStart != "" {
		if t, err := time.Parse(time.RFC3339, sh.ActivePerformerSetStart); err == nil {
			u.ActivePerformerSetStart = &t
		} else {
			log.Warn().Str("value", sh.ActivePerformerSetStart).Msg("unparseable set_start in show resource")
		}
	}
	return u
}

// foldVotes aggregates raw star ratings into per-performer tallies.
func foldVotes(votes []showapi.Vote) map[int]VoteTally {
	out := make(map[int]VoteTally, len(votes))
	for _, v := range votes {
		t := out[v.PerformerID]
		t.Count++
		t.Total += v.Rating
		out[v.PerformerID] = t
	}
	return out
}

func foldPicks(picks []showapi.Pick) map[int]int {
	out := make(map[int]int, len(picks))
	for _, p := range picks {
		out[p.PerformerID]++
	}
	return out
}
