package showapi

import "fmt"

const (
	// Headers
	AcceptHeader    = "Accept"
	ContentType     = "Content-Type"
	JsonContentType = "application/json"
	CsrfTokenHeader = "X-CSRF-Token"

	// Paths
	serverTimePath = "/server_time"
	hiModulesPath  = "/hi_modules"
	showsPath      = "/shows"
	venuesPath     = "/venues"
	performersPath = "/performers"
	votesPath      = "/votes"
	picksPath      = "/picks"
	dateCheckPath  = "/check_show_date"

	// Endpoint used to refresh the CSRF token; the shows listing echoes
	// form_authenticity_token back on JSON requests.
	csrfProbePath = "/shows?date_filter=upcoming&page=1"
)

func showPath(showID int) string {
	return fmt.Sprintf("%s/%d", showsPath, showID)
}

func setStatePath(showID int) string {
	return fmt.Sprintf("%s/%d/set_state", showsPath, showID)
}

func setTimesPath(showID int) string {
	return fmt.Sprintf("%s/%d/set_times", showsPath, showID)
}

func resetPicksPath(showID int) string {
	return fmt.Sprintf("%s/%d/reset_picks", showsPath, showID)
}

func venuePath(venueID int) string {
	return fmt.Sprintf("%s/%d", venuesPath, venueID)
}

func showTakeoverPath(channelID, showID int) string {
	return fmt.Sprintf("/channels/%d/show_takeover?show_id=%d", channelID, showID)
}

func killShowTakeoverPath(channelID, showID int) string {
	return fmt.Sprintf("/channels/%d/kill_show_takeover?show_id=%d", channelID, showID)
}

func killAllTakeoversPath(channelID, showID int) string {
	return fmt.Sprintf("/channels/%d/kill_all_takeovers?show_id=%d", channelID, showID)
}
