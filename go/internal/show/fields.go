package show

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// This file is the single wire <-> store translation point. The channel
// adapter decodes authoritative frames through contestFrame; the command
// dispatcher maps its optimistic echo through commandParams. Keeping both in
// one place guarantees a field is never translated inconsistently between
// the two paths.

// contestFrame mirrors the `contest` object of a ShowRunnerChannel push.
// Pointer fields distinguish "absent" from zero so partial frames only
// overwrite the keys they carry.
type contestFrame struct {
	ShowState               *string   `json:"show_state"`
	ActivePerformerID       *int      `json:"active_performer_id"`
	ActivePerformerName     *string   `json:"active_performer_name"`
	ActivePerformerSetStart *string   `json:"active_performer_set_start"`
	ActiveCustomMessageID   *int      `json:"active_custom_message_id"`
	ActiveCustomMessageName *string   `json:"active_custom_message_name"`
	CustomMessagesCycling   *bool     `json:"custom_messages_cycling"`
	VotingType              *string   `json:"voting_type"`
	VotingPickOptions       *[]int    `json:"voting_pick_options"`
	PickingType             *int      `json:"picking_type"`
	DrawState               *string   `json:"draw_state"`
	DrawWinners             *[]string `json:"draw_winners"`
	OptInCount              *int      `json:"opt_in_count"`
	BuzzerState             *string   `json:"buzzer_state"`
	BuzzerWinners           *[]string `json:"buzzer_winners"`
	BuzzerCount             *int      `json:"buzzer_count"`
	ShowVoterCount          *int      `json:"show_voter_count"`
}

func (f contestFrame) toUpdate() StateUpdate {
	var u StateUpdate
	if f.ShowState != nil {
		phase := Phase(*f.ShowState)
		u.Phase = &phase
	}
	u.ActivePerformerID = f.ActivePerformerID
	u.ActivePerformerName = f.ActivePerformerName
	if f.ActivePerformerSetStart != nil {
		if t, err := time.Parse(time.RFC3339, *f.ActivePerformerSetStart); err == nil {
			u.ActivePerformerSetStart = &t
		} else if *f.ActivePerformerSetStart != "" {
			log.Warn().Str("value", *f.ActivePerformerSetStart).Msg("unparseable set_start in push frame")
		}
	}
	u.ActiveSlideID = f.ActiveCustomMessageID
	u.ActiveSlideName = f.ActiveCustomMessageName
	u.CustomMessagesCycling = f.CustomMessagesCycling
	if f.VotingType != nil {
		vt := VotingType(*f.VotingType)
		u.VotingType = &vt
	}
	u.VotingPickOptions = f.VotingPickOptions
	if f.PickingType != nil {
		pt := PickingType(*f.PickingType)
		u.PickingType = &pt
	}
	u.DrawState = f.DrawState
	u.DrawWinners = f.DrawWinners
	u.OptInCount = f.OptInCount
	u.BuzzerState = f.BuzzerState
	u.BuzzerWinners = f.BuzzerWinners
	u.BuzzerCount = f.BuzzerCount
	u.AudienceCount = f.ShowVoterCount
	return u
}

// commandParams mirrors the extra_params a set_state command carries.
// custom_message_id is untyped because the wire overloads it: an integer
// selects a slide, the literal "cycle" starts cycling.
type commandParams struct {
	PerformerID       *int            `json:"performer_id"`
	VotingType        *string         `json:"voting_type"`
	PickingType       *int            `json:"picking_type"`
	VotingPickOptions *[]int          `json:"voting_pick_options"`
	DrawState         *string         `json:"draw_state"`
	BuzzerState       *string         `json:"buzzer_state"`
	CustomMessageID   json.RawMessage `json:"custom_message_id"`
}

// optimisticUpdate converts a dispatched command into the store update that
// anticipates the authoritative echo. Unknown keys are ignored; the backend
// is the arbiter of what they meant.
func optimisticUpdate(target Phase, extraParams map[string]any) StateUpdate {
	var u StateUpdate
	u.Phase = &target

	encoded, err := json.Marshal(extraParams)
	if err != nil {
		log.Warn().Err(err).Msg("unencodable extra params, applying phase only")
		return u
	}
	var p commandParams
	if err := json.Unmarshal(encoded, &p); err != nil {
		log.Warn().Err(err).Msg("unmappable extra params, applying phase only")
		return u
	}

	u.ActivePerformerID = p.PerformerID
	if p.VotingType != nil {
		vt := VotingType(*p.VotingType)
		u.VotingType = &vt
	}
	if p.PickingType != nil {
		pt := PickingType(*p.PickingType)
		u.PickingType = &pt
	}
	u.VotingPickOptions = p.VotingPickOptions
	u.DrawState = p.DrawState
	u.BuzzerState = p.BuzzerState

	if len(p.CustomMessageID) > 0 {
		var slideID int
		if err := json.Unmarshal(p.CustomMessageID, &slideID); err == nil {
			cycling := false
			u.ActiveSlideID = &slideID
			u.CustomMessagesCycling = &cycling
		} else {
			var mode string
			if err := json.Unmarshal(p.CustomMessageID, &mode); err == nil && mode == "cycle" {
				cycling := true
				u.CustomMessagesCycling = &cycling
			}
		}
	}
	return u
}
