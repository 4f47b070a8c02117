package show

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/openmic/showrunner/go/clients/showapi"
	"github.com/openmic/showrunner/go/internal/cable"
	"github.com/rs/zerolog/log"
)

// ShowRunnerChannelName is the backend channel that broadcasts run-show
// updates, parameterized by show_id.
const ShowRunnerChannelName = "ShowRunnerChannel"

// channelSubscriber is the slice of the cable client the adapters need.
type channelSubscriber interface {
	Subscribe(channelName string, params map[string]any, handlers cable.Handlers) (string, error)
	Unsubscribe(key string)
}

// Adapter owns the single show-run subscription and translates inbound
// frames into store updates. At most one show's pushes can reach the store
// at a time: subscribing to a different show tears the previous subscription
// down before the new one opens.
type Adapter struct {
	cable channelSubscriber
	store *Store

	mu     sync.Mutex
	showID int
	subKey string
}

func NewAdapter(c channelSubscriber, store *Store) *Adapter {
	return &Adapter{cable: c, store: store}
}

// Subscribe opens the run-show subscription for showID. Calling again with
// the same show is a no-op, guarding against duplicate subscriptions from
// repeated session starts.
func (a *Adapter) Subscribe(showID int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.subKey != "" && a.showID == showID {
		return nil
	}
	if a.subKey != "" {
		a.cable.Unsubscribe(a.subKey)
		a.subKey = ""
		a.showID = 0
	}

	key, err := a.cable.Subscribe(ShowRunnerChannelName, map[string]any{"show_id": showID}, cable.Handlers{
		Connected: func() {
			log.Info().Int("show_id", showID).Msg("show runner channel connected")
		},
		Disconnected: func() {
			log.Warn().Int("show_id", showID).Msg("show runner channel disconnected")
		},
		Received: a.handleFrame,
	})
	if err != nil {
		return err
	}
	a.subKey = key
	a.showID = showID
	return nil
}

// Unsubscribe closes the current subscription. Idempotent.
func (a *Adapter) Unsubscribe() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subKey == "" {
		return
	}
	a.cable.Unsubscribe(a.subKey)
	a.subKey = ""
	a.showID = 0
}

// Subscribed reports the show currently bound, if any.
func (a *Adapter) Subscribed() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.showID, a.subKey != ""
}

// runnerFrame is one inbound push. All top-level keys are optional; a frame
// may carry any subset.
type runnerFrame struct {
	Contest   *contestFrame          `json:"contest"`
	ShowVotes map[string]VoteTally   `json:"show_votes"`
	ShowPicks map[string]int         `json:"show_picks"`
	SetTimes  []showapi.SetTimeEntry `json:"set_times"`
}

func (a *Adapter) handleFrame(message json.RawMessage) {
	var frame runnerFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Warn().Err(err).Msg("dropping malformed show runner frame")
		return
	}

	// Contest fields land as one combined update so the UI never observes a
	// torn phase transition.
	if frame.Contest != nil {
		a.store.ApplyAuthoritative(frame.Contest.toUpdate())
	}

	if frame.ShowVotes != nil {
		a.store.ApplyAuthoritative(StateUpdate{VoteCounts: keyedByPerformer(frame.ShowVotes)})
	}
	if frame.ShowPicks != nil {
		a.store.ApplyAuthoritative(StateUpdate{PickCounts: keyedByPerformer(frame.ShowPicks)})
	}
	if frame.SetTimes != nil {
		a.store.ApplyAuthoritative(StateUpdate{SetTimes: convertSetTimes(frame.SetTimes)})
	}
}

// keyedByPerformer re-keys a wire tally map (string performer ids) by int.
// Unparseable keys are dropped rather than failing the whole update.
func keyedByPerformer[V any](wire map[string]V) map[int]V {
	out := make(map[int]V, len(wire))
	for k, v := range wire {
		id, err := strconv.Atoi(k)
		if err != nil {
			log.Warn().Str("performer_id", k).Msg("dropping tally with bad performer id")
			continue
		}
		out[id] = v
	}
	return out
}

func convertSetTimes(entries []showapi.SetTimeEntry) []SetTime {
	out := make([]SetTime, 0, len(entries))
	for _, e := range entries {
		st := SetTime{PerformerID: e.PerformerID}
		if d, err := showapi.ParseClockDuration(e.SetTime); err == nil {
			st.SetTime = d
		}
		if d, err := showapi.ParseClockDuration(e.TotalTime); err == nil {
			st.TotalTime = d
		}
		if t, ok := e.StartTime(); ok {
			st.SetStart = t
		}
		out = append(out, st)
	}
	return out
}
