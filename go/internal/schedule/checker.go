// Package schedule implements the authoring-time venue availability check:
// while a show's date range is being edited, the backend is asked whether the
// range collides with an existing booking.
package schedule

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmic/showrunner/go/clients/showapi"
	"github.com/openmic/showrunner/go/internal/taskslot"
	"github.com/rs/zerolog/log"
)

// dateChecker is the backend slice the checker needs.
type dateChecker interface {
	CheckShowDate(ctx context.Context, venueID int, start, end time.Time, excludeShowID int) (*showapi.DateCheckResult, error)
}

// Result is the outcome of one availability probe. Err is set on transport
// failure; Available/Message mirror the backend answer otherwise.
type Result struct {
	VenueID   int
	Available bool
	Message   string
	Err       error
}

const (
	debounceDelay = 500 * time.Millisecond
	probeTimeout  = 10 * time.Second
)

// Checker debounces availability probes through a single-occupancy slot:
// while the user is still typing, each new range supersedes the pending
// probe, so at most one request is in flight and only the latest answer is
// reported.
type Checker struct {
	api      dateChecker
	slot     *taskslot.Slot
	onResult func(Result)
}

// NewChecker creates a checker reporting through onResult. The callback runs
// on the probe goroutine and must not block.
func NewChecker(api dateChecker, clock clockwork.Clock, onResult func(Result)) *Checker {
	return &Checker{
		api:      api,
		slot:     taskslot.New(clock, debounceDelay),
		onResult: onResult,
	}
}

// Check schedules an availability probe for the venue and date range,
// superseding any pending one. excludeShowID skips the show being edited so
// it does not collide with itself.
func (c *Checker) Check(venueID int, start, end time.Time, excludeShowID int) {
	c.slot.Submit(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		res, err := c.api.CheckShowDate(ctx, venueID, start, end, excludeShowID)
		if ctx.Err() == context.Canceled {
			// Superseded mid-flight; a newer probe reports instead.
			return
		}
		if err != nil {
			log.Warn().Err(err).Int("venue_id", venueID).Msg("show date check failed")
			c.onResult(Result{VenueID: venueID, Err: err})
			return
		}
		c.onResult(Result{
			VenueID:   venueID,
			Available: res.Available,
			Message:   res.Message,
		})
	})
}

// Stop cancels any pending probe and waits for the slot to drain.
func (c *Checker) Stop() {
	c.slot.Cancel()
	c.slot.Wait()
}
