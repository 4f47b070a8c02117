package show

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// stateAPI is the slice of the backend client the dispatcher needs.
type stateAPI interface {
	SetShowState(ctx context.Context, showID int, state string, extraParams map[string]any) error
	ResetPicks(ctx context.Context, showID int) error
}

// commandTimeout bounds every state-changing request. On expiry the command
// is reported failed without knowing whether the backend applied it; the
// next authoritative push is the eventual correction either way.
const commandTimeout = 30 * time.Second

// Dispatcher translates user intents into state-changing requests and feeds
// the expected result into the store as an optimistic update. The store is
// only touched on success, so a failed command needs no rollback.
type Dispatcher struct {
	api     stateAPI
	store   *Store
	timeout time.Duration
}

func NewDispatcher(api stateAPI, store *Store) *Dispatcher {
	return &Dispatcher{api: api, store: store, timeout: commandTimeout}
}

// SetState issues the state-transition command for showID. extraParams keys
// are backend-defined wire names (performer_id, buzzer_state, draw_state,
// voting_type, custom_message_id, ...). Dispatching the same command twice
// is safe: the second optimistic apply re-asserts the same fields and the
// backend arbitrates via the next push.
func (d *Dispatcher) SetState(ctx context.Context, showID int, target Phase, extraParams map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.api.SetShowState(ctx, showID, string(target), extraParams); err != nil {
		cmdErr := classifyCommandError(err)
		log.Error().
			Err(err).
			Int("show_id", showID).
			Str("target", string(target)).
			Int("kind", int(cmdErr.Kind)).
			Msg("set state command failed")
		return cmdErr
	}

	d.store.ApplyOptimistic(optimisticUpdate(target, extraParams))

	log.Info().
		Int("show_id", showID).
		Str("target", string(target)).
		Msg("set state command accepted")
	return nil
}

// ResetPicks clears the pick tallies server-side. The recomputed (empty)
// tally arrives via the push channel; nothing is applied locally.
func (d *Dispatcher) ResetPicks(ctx context.Context, showID int) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.api.ResetPicks(ctx, showID); err != nil {
		cmdErr := classifyCommandError(err)
		log.Error().Err(err).Int("show_id", showID).Msg("reset picks command failed")
		return cmdErr
	}
	return nil
}
