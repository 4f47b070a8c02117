package show

import (
	"encoding/json"
	"sync"

	"github.com/openmic/showrunner/go/internal/cable"
	"github.com/rs/zerolog/log"
)

// ChannelChannelName is the backend channel that broadcasts takeover
// notifications for one venue/user channel, parameterized by channel_id.
const ChannelChannelName = "ChannelChannel"

// TakeoverEvent is one takeover notification. Exactly one of the three
// variants is set: a show took the channel over, one takeover was killed, or
// every takeover was killed.
type TakeoverEvent struct {
	ChannelID int
	ShowID    int
	Label     string
	Killed    bool
	KilledAll bool
}

// TakeoverMonitor watches one channel for takeover pushes and surfaces them
// as events. Like the show adapter it owns at most one subscription; watching
// a different channel tears the previous one down first.
type TakeoverMonitor struct {
	cable  channelSubscriber
	events chan TakeoverEvent

	mu        sync.Mutex
	channelID int
	subKey    string
}

func NewTakeoverMonitor(c channelSubscriber) *TakeoverMonitor {
	return &TakeoverMonitor{
		cable:  c,
		events: make(chan TakeoverEvent, 16),
	}
}

// Events delivers takeover notifications. A slow consumer drops events rather
// than blocking the cable read loop.
func (m *TakeoverMonitor) Events() <-chan TakeoverEvent {
	return m.events
}

// Watch opens the takeover subscription for channelID. Watching the same
// channel again is a no-op.
func (m *TakeoverMonitor) Watch(channelID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subKey != "" && m.channelID == channelID {
		return nil
	}
	if m.subKey != "" {
		m.cable.Unsubscribe(m.subKey)
		m.subKey = ""
		m.channelID = 0
	}

	key, err := m.cable.Subscribe(ChannelChannelName, map[string]any{"channel_id": channelID}, cable.Handlers{
		Connected: func() {
			log.Info().Int("channel_id", channelID).Msg("takeover channel connected")
		},
		Disconnected: func() {
			log.Warn().Int("channel_id", channelID).Msg("takeover channel disconnected")
		},
		Received: func(message json.RawMessage) {
			m.handleFrame(channelID, message)
		},
	})
	if err != nil {
		return err
	}
	m.subKey = key
	m.channelID = channelID
	return nil
}

// Stop closes the subscription. Idempotent.
func (m *TakeoverMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subKey == "" {
		return
	}
	m.cable.Unsubscribe(m.subKey)
	m.subKey = ""
	m.channelID = 0
}

type takeoverFrame struct {
	TakeoverShowID   *int   `json:"takeover_show_id"`
	TakeoverLabel    string `json:"takeover_label"`
	KillTakeover     bool   `json:"kill_takeover"`
	KillAllTakeovers bool   `json:"kill_all_takeovers"`
}

func (m *TakeoverMonitor) handleFrame(channelID int, message json.RawMessage) {
	var frame takeoverFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Warn().Err(err).Msg("dropping malformed takeover frame")
		return
	}

	var event TakeoverEvent
	switch {
	case frame.KillAllTakeovers:
		event = TakeoverEvent{ChannelID: channelID, KilledAll: true}
	case frame.KillTakeover:
		event = TakeoverEvent{ChannelID: channelID, Killed: true}
	case frame.TakeoverShowID != nil:
		event = TakeoverEvent{
			ChannelID: channelID,
			ShowID:    *frame.TakeoverShowID,
			Label:     frame.TakeoverLabel,
		}
	default:
		return
	}

	select {
	case m.events <- event:
	default:
		log.Warn().Int("channel_id", channelID).Msg("dropping takeover event, consumer is behind")
	}
}
