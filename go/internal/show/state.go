package show

import (
	"sync"
	"time"
)

// Phase is the show's current top-level mode.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseMessaging  Phase = "messaging"
	PhasePerforming Phase = "performing"
	PhaseVoting     Phase = "voting"
	PhaseWinner     Phase = "winner"
	PhaseDraw       Phase = "draw"
	PhaseBuzzer     Phase = "buzzer"
)

type VotingType string

const (
	VotingNone       VotingType = ""
	VotingStarRating VotingType = "star_rating"
	VotingPick       VotingType = "pick"
)

type PickingType int

const (
	PickingLockIn PickingType = 0
	PickingFluid  PickingType = 1
)

// VoteTally accumulates star ratings for one performer.
type VoteTally struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// Average returns the mean star rating, 0 when no votes are in.
func (t VoteTally) Average() float64 {
	if t.Count == 0 {
		return 0
	}
	return float64(t.Total) / float64(t.Count)
}

// SetTime is one performer's accumulated and current-session durations.
type SetTime struct {
	PerformerID int
	SetTime     time.Duration
	SetStart    time.Time // zero when the backend has not recorded one
	TotalTime   time.Duration
}

// RunState is the full state of the show being run. Snapshots are values;
// maps and slices inside them are replaced wholesale on update and must not
// be mutated by readers.
type RunState struct {
	Phase                   Phase
	ActivePerformerID       int // 0 = none
	ActivePerformerName     string
	ActivePerformerSetStart time.Time

	ActiveSlideID         int
	ActiveSlideName       string
	CustomMessagesCycling bool

	VotingType        VotingType
	PickingType       PickingType
	VotingPickOptions []int

	DrawState   string
	DrawWinners []string // most-recent-first
	OptInCount  int

	BuzzerState   string
	BuzzerWinners []string // buzz-in order
	BuzzerCount   int

	VoteCounts map[int]VoteTally
	PickCounts map[int]int
	SetTimes   []SetTime

	ElapsedTime   *time.Duration // nil unless performing with a resolved start
	AudienceCount int

	Loading bool
	Err     string
}

// StateUpdate is a partial write against RunState. Nil fields leave the
// corresponding state untouched; non-nil fields overwrite. Tallies are
// replaced wholesale, never merged — the backend always sends the complete
// recomputed mapping.
type StateUpdate struct {
	Phase                   *Phase
	ActivePerformerID       *int
	ActivePerformerName     *string
	ActivePerformerSetStart *time.Time
	ActiveSlideID           *int
	ActiveSlideName         *string
	CustomMessagesCycling   *bool
	VotingType              *VotingType
	PickingType             *PickingType
	VotingPickOptions       *[]int
	DrawState               *string
	DrawWinners             *[]string
	OptInCount              *int
	BuzzerState             *string
	BuzzerWinners           *[]string
	BuzzerCount             *int
	AudienceCount           *int

	VoteCounts map[int]VoteTally
	PickCounts map[int]int
	SetTimes   []SetTime
}

// Store is the single authoritative in-memory container for the running
// show. It accepts optimistic writes from the command dispatcher and
// authoritative writes from the channel adapter; the last authoritative
// write always wins because both paths overwrite field-by-field and
// authoritative updates arrive after the optimistic echo they confirm.
type Store struct {
	mu       sync.RWMutex
	state    RunState
	watchers map[int]chan RunState
	nextID   int
}

func NewStore() *Store {
	return &Store{
		state:    defaultState(),
		watchers: make(map[int]chan RunState),
	}
}

func defaultState() RunState {
	return RunState{
		VoteCounts: map[int]VoteTally{},
		PickCounts: map[int]int{},
	}
}

// Reset returns the store to defaults. Called at session start and teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = defaultState()
	s.mu.Unlock()
	s.notify()
}

// Snapshot returns the current state. Synchronous, no network.
func (s *Store) Snapshot() RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ApplyOptimistic merges a local expected result immediately after a command
// is accepted, before the authoritative push confirms it.
func (s *Store) ApplyOptimistic(u StateUpdate) {
	s.apply(u)
}

// ApplyAuthoritative merges fields from a verified push frame. The update is
// applied atomically so readers never observe a torn phase transition.
func (s *Store) ApplyAuthoritative(u StateUpdate) {
	s.apply(u)
}

func (s *Store) apply(u StateUpdate) {
	s.mu.Lock()
	st := &s.state
	if u.Phase != nil {
		st.Phase = *u.Phase
	}
	if u.ActivePerformerID != nil {
		st.ActivePerformerID = *u.ActivePerformerID
	}
	if u.ActivePerformerName != nil {
		st.ActivePerformerName = *u.ActivePerformerName
	}
	if u.ActivePerformerSetStart != nil {
		st.ActivePerformerSetStart = *u.ActivePerformerSetStart
	}
	if u.ActiveSlideID != nil {
		st.ActiveSlideID = *u.ActiveSlideID
	}
	if u.ActiveSlideName != nil {
		st.ActiveSlideName = *u.ActiveSlideName
	}
	if u.CustomMessagesCycling != nil {
		st.CustomMessagesCycling = *u.CustomMessagesCycling
	}
	if u.VotingType != nil {
		st.VotingType = *u.VotingType
	}
	if u.PickingType != nil {
		st.PickingType = *u.PickingType
	}
	if u.VotingPickOptions != nil {
		st.VotingPickOptions = *u.VotingPickOptions
	}
	if u.DrawState != nil {
		st.DrawState = *u.DrawState
	}
	if u.DrawWinners != nil {
		st.DrawWinners = *u.DrawWinners
	}
	if u.OptInCount != nil {
		st.OptInCount = *u.OptInCount
	}
	if u.BuzzerState != nil {
		st.BuzzerState = *u.BuzzerState
	}
	if u.BuzzerWinners != nil {
		st.BuzzerWinners = *u.BuzzerWinners
	}
	if u.BuzzerCount != nil {
		st.BuzzerCount = *u.BuzzerCount
	}
	if u.AudienceCount != nil {
		st.AudienceCount = *u.AudienceCount
	}
	if u.VoteCounts != nil {
		st.VoteCounts = u.VoteCounts
	}
	if u.PickCounts != nil {
		st.PickCounts = u.PickCounts
	}
	if u.SetTimes != nil {
		st.SetTimes = u.SetTimes
	}
	s.mu.Unlock()
	s.notify()
}

// SetElapsed is the performance timer's dedicated write path for the derived
// elapsed-time value. nil means "not performing".
func (s *Store) SetElapsed(elapsed *time.Duration) {
	s.mu.Lock()
	s.state.ElapsedTime = elapsed
	s.mu.Unlock()
	s.notify()
}

// SetLoading flags an in-flight initial load.
func (s *Store) SetLoading(loading bool) {
	s.mu.Lock()
	s.state.Loading = loading
	if loading {
		s.state.Err = ""
	}
	s.mu.Unlock()
	s.notify()
}

// SetError records a user-presentable load failure.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.state.Loading = false
	s.state.Err = msg
	s.mu.Unlock()
	s.notify()
}

// Watch registers a read subscription. Each state change delivers a snapshot
// on the returned channel; a slow consumer drops intermediate snapshots
// rather than blocking writers. The cancel func removes the watcher.
func (s *Store) Watch() (<-chan RunState, func()) {
	ch := make(chan RunState, 16)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, exists := s.watchers[id]; exists {
			delete(s.watchers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.mu.RLock()
	snapshot := s.state
	for _, ch := range s.watchers {
		select {
		case ch <- snapshot:
		default:
		}
	}
	s.mu.RUnlock()
}
