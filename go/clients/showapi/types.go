package showapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ServerTimeResponse is the payload of GET /server_time.
type ServerTimeResponse struct {
	ServerTime string `json:"server_time"`
}

// Show mirrors the backend show resource. Only the fields the run-show
// engine reads are declared; the backend sends more.
type Show struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Code            string `json:"code"`
	State           string `json:"state"`
	VenueID         int    `json:"venue_id"`
	Venue           *Venue `json:"venue,omitempty"`
	PerformerIDs    []int  `json:"performer_ids"`
	HiModuleIDs     []int  `json:"hi_module_ids"`
	ShowDatetime    string `json:"show_datetime"`
	ShowEndDatetime string `json:"show_end_datetime"`

	ActivePerformerID       int      `json:"active_performer_id"`
	ActivePerformerName     string   `json:"active_performer_name"`
	ActivePerformerSetStart string   `json:"active_performer_set_start"`
	ActiveCustomMessageID   int      `json:"active_custom_message_id"`
	ActiveCustomMessageName string   `json:"active_custom_message_name"`
	CustomMessagesCycling   bool     `json:"custom_messages_cycling"`
	VotingType              string   `json:"voting_type"`
	PickingType             int      `json:"picking_type"`
	VotingPickOptions       []int    `json:"voting_pick_options"`
	DrawState               string   `json:"draw_state"`
	DrawWinners             []string `json:"draw_winners"`
	OptInCount              int      `json:"opt_in_count"`
	BuzzerState             string   `json:"buzzer_state"`
	BuzzerWinners           []string `json:"buzzer_winners"`
	BuzzerCount             int      `json:"buzzer_count"`
	ShowVoterCount          int      `json:"show_voter_count"`
}

type Venue struct {
	ID       int       `json:"id"`
	Name     string    `json:"name"`
	Channels []Channel `json:"channels"`
}

type Channel struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// HiModule is a backend capability flag gating a run-show module.
type HiModule struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Performer struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Vote struct {
	PerformerID int `json:"performer_id"`
	Rating      int `json:"rating"`
}

type Pick struct {
	PerformerID int `json:"performer_id"`
}

// SetTimeEntry is one row of GET /shows/:id/set_times. Durations come over
// the wire as "mm:ss", set_start as an ISO8601 timestamp or empty.
type SetTimeEntry struct {
	PerformerID int    `json:"performer_id"`
	SetTime     string `json:"set_time"`
	SetStart    string `json:"set_start"`
	TotalTime   string `json:"total_time"`
}

// StartTime parses the set_start timestamp; ok is false when the backend has
// not recorded one yet.
func (e SetTimeEntry) StartTime() (time.Time, bool) {
	if e.SetStart == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.SetStart)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseClockDuration parses the backend's "mm:ss" duration format.
func ParseClockDuration(s string) (time.Duration, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	mins, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed duration %q: %w", s, err)
	}
	secs, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed duration %q: %w", s, err)
	}
	return time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second, nil
}

// DateCheckResult is the payload of GET /check_show_date.
type DateCheckResult struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}
