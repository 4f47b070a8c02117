package show

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmic/showrunner/go/clients/showapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionAPI struct {
	show       *showapi.Show
	showErr    error
	votes      []showapi.Vote
	picks      []showapi.Pick
	serverTime time.Time
	timeErr    error
}

func (f *fakeSessionAPI) ServerTime(_ context.Context) (time.Time, error) {
	return f.serverTime, f.timeErr
}

func (f *fakeSessionAPI) GetShow(_ context.Context, _ int) (*showapi.Show, error) {
	return f.show, f.showErr
}

func (f *fakeSessionAPI) Votes(_ context.Context, _ int) ([]showapi.Vote, error) {
	return f.votes, nil
}

func (f *fakeSessionAPI) Picks(_ context.Context, _ int) ([]showapi.Pick, error) {
	return f.picks, nil
}

func (f *fakeSessionAPI) SetTimes(_ context.Context, _ int) ([]showapi.SetTimeEntry, error) {
	return nil, nil
}

func newSessionFixture() (*Session, *fakeSessionAPI, *fakeCable, *Store) {
	api := &fakeSessionAPI{
		show: &showapi.Show{
			ID:                  7,
			State:               "messaging",
			ActivePerformerName: "Alice",
			ShowVoterCount:      80,
		},
		votes: []showapi.Vote{
			{PerformerID: 42, Rating: 4},
			{PerformerID: 42, Rating: 5},
			{PerformerID: 42, Rating: 4},
			{PerformerID: 7, Rating: 3},
		},
		picks: []showapi.Pick{
			{PerformerID: 42},
			{PerformerID: 42},
			{PerformerID: 7},
		},
		serverTime: time.Now(),
	}
	fc := newFakeCable()
	store := NewStore()
	session := NewSession(clockwork.NewFakeClock(), api, fc, store)
	return session, api, fc, store
}

func TestSessionStartHydratesStore(t *testing.T) {
	session, _, fc, store := newSessionFixture()
	defer session.End()

	require.NoError(t, session.Start(context.Background(), 7))

	snap := store.Snapshot()
	assert.Equal(t, PhaseMessaging, snap.Phase)
	assert.Equal(t, "Alice", snap.ActivePerformerName)
	assert.Equal(t, 80, snap.AudienceCount)
	assert.False(t, snap.Loading)

	assert.Equal(t, VoteTally{Count: 3, Total: 13}, snap.VoteCounts[42])
	assert.Equal(t, VoteTally{Count: 1, Total: 3}, snap.VoteCounts[7])
	assert.Equal(t, 2, snap.PickCounts[42])
	assert.Equal(t, 1, snap.PickCounts[7])

	require.Len(t, fc.subscribes, 1)
	assert.True(t, strings.HasPrefix(fc.subscribes[0], ShowRunnerChannelName))

	showID, active := session.Active()
	assert.True(t, active)
	assert.Equal(t, 7, showID)
}

func TestSessionStartSameShowIsNoOp(t *testing.T) {
	session, _, fc, _ := newSessionFixture()
	defer session.End()

	require.NoError(t, session.Start(context.Background(), 7))
	require.NoError(t, session.Start(context.Background(), 7))

	assert.Len(t, fc.subscribes, 1)
}

func TestSessionStartDifferentShowEndsPrevious(t *testing.T) {
	session, _, fc, _ := newSessionFixture()
	defer session.End()

	require.NoError(t, session.Start(context.Background(), 7))
	require.NoError(t, session.Start(context.Background(), 8))

	assert.Len(t, fc.subscribes, 2)
	assert.Len(t, fc.unsubscribes, 1)

	showID, active := session.Active()
	assert.True(t, active)
	assert.Equal(t, 8, showID)
}

func TestSessionStartLoadFailure(t *testing.T) {
	session, api, fc, store := newSessionFixture()
	api.showErr = errors.New("backend down")

	err := session.Start(context.Background(), 7)
	require.Error(t, err)

	snap := store.Snapshot()
	assert.Equal(t, genericMessage, snap.Err)
	assert.False(t, snap.Loading)
	assert.Empty(t, fc.subscribes)

	_, active := session.Active()
	assert.False(t, active)
}

func TestSessionStartToleratesClockProbeFailure(t *testing.T) {
	session, api, _, _ := newSessionFixture()
	defer session.End()
	api.timeErr = errors.New("no clock")

	require.NoError(t, session.Start(context.Background(), 7))
}

func TestSessionEndResetsEverything(t *testing.T) {
	session, _, fc, store := newSessionFixture()

	require.NoError(t, session.Start(context.Background(), 7))
	session.End()

	assert.Len(t, fc.unsubscribes, 1)
	assert.Equal(t, PhaseNone, store.Snapshot().Phase)
	assert.Empty(t, store.Snapshot().VoteCounts)

	_, active := session.Active()
	assert.False(t, active)

	// A second End must be a no-op.
	session.End()
	assert.Len(t, fc.unsubscribes, 1)
}
