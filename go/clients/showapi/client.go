package showapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/openmic/showrunner/go/clients"
	"github.com/rs/zerolog/log"
)

// Client talks to the show backend over JSON/HTTP. State-changing requests
// carry the Rails CSRF token; the client refreshes it once and retries when
// the backend rejects a stale one.
type Client struct {
	*clients.BaseClient

	mu        sync.Mutex
	csrfToken string
}

func NewClient(baseURL string) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetHeader(AcceptHeader, JsonContentType)
	client.SetHeader(ContentType, JsonContentType)
	return client
}

// ServerTime fetches the backend clock, used once per session for skew
// correction.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.Get(ctx, serverTimePath)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch server time: %w", err)
	}
	var resp ServerTimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("decode server time: %w", err)
	}
	t, err := time.Parse(time.RFC3339, resp.ServerTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse server time %q: %w", resp.ServerTime, err)
	}
	return t, nil
}

func (c *Client) GetShow(ctx context.Context, showID int) (*Show, error) {
	body, err := c.Get(ctx, showPath(showID))
	if err != nil {
		return nil, fmt.Errorf("fetch show %d: %w", showID, err)
	}
	var show Show
	if err := json.Unmarshal(body, &show); err != nil {
		return nil, fmt.Errorf("decode show %d: %w", showID, err)
	}
	return &show, nil
}

func (c *Client) GetVenue(ctx context.Context, venueID int) (*Venue, error) {
	body, err := c.Get(ctx, venuePath(venueID))
	if err != nil {
		return nil, fmt.Errorf("fetch venue %d: %w", venueID, err)
	}
	var venue Venue
	if err := json.Unmarshal(body, &venue); err != nil {
		return nil, fmt.Errorf("decode venue %d: %w", venueID, err)
	}
	return &venue, nil
}

// HiModules fetches the capability catalog. The caller caches it; the list
// changes only with backend deployments.
func (c *Client) HiModules(ctx context.Context) ([]HiModule, error) {
	body, err := c.Get(ctx, hiModulesPath)
	if err != nil {
		return nil, fmt.Errorf("fetch hi_modules: %w", err)
	}
	var modules []HiModule
	if err := json.Unmarshal(body, &modules); err != nil {
		return nil, fmt.Errorf("decode hi_modules: %w", err)
	}
	return modules, nil
}

func (c *Client) Performers(ctx context.Context, showID int) ([]Performer, error) {
	body, err := c.Get(ctx, performersPath+"?show_id="+fmt.Sprint(showID))
	if err != nil {
		return nil, fmt.Errorf("fetch performers: %w", err)
	}
	var performers []Performer
	if err := json.Unmarshal(body, &performers); err != nil {
		return nil, fmt.Errorf("decode performers: %w", err)
	}
	return performers, nil
}

func (c *Client) Votes(ctx context.Context, showID int) ([]Vote, error) {
	body, err := c.Get(ctx, votesPath+"?show_id="+fmt.Sprint(showID))
	if err != nil {
		return nil, fmt.Errorf("fetch votes: %w", err)
	}
	var votes []Vote
	if err := json.Unmarshal(body, &votes); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	return votes, nil
}

func (c *Client) Picks(ctx context.Context, showID int) ([]Pick, error) {
	body, err := c.Get(ctx, picksPath+"?show_id="+fmt.Sprint(showID))
	if err != nil {
		return nil, fmt.Errorf("fetch picks: %w", err)
	}
	var picks []Pick
	if err := json.Unmarshal(body, &picks); err != nil {
		return nil, fmt.Errorf("decode picks: %w", err)
	}
	return picks, nil
}

func (c *Client) SetTimes(ctx context.Context, showID int) ([]SetTimeEntry, error) {
	body, err := c.Get(ctx, setTimesPath(showID))
	if err != nil {
		return nil, fmt.Errorf("fetch set times: %w", err)
	}
	var entries []SetTimeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode set times: %w", err)
	}
	return entries, nil
}

// SetShowState issues the sole state-transition request. extraParams keys are
// backend-defined and phase-specific (performer_id, buzzer_state, ...).
func (c *Client) SetShowState(ctx context.Context, showID int, state string, extraParams map[string]any) error {
	if extraParams == nil {
		extraParams = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{
		"state":        state,
		"extra_params": extraParams,
	})
	if err != nil {
		return fmt.Errorf("encode set_state payload: %w", err)
	}
	return c.postWithCsrf(ctx, setStatePath(showID), payload)
}

func (c *Client) ResetPicks(ctx context.Context, showID int) error {
	return c.postWithCsrf(ctx, resetPicksPath(showID), nil)
}

func (c *Client) ShowTakeover(ctx context.Context, channelID, showID int) error {
	return c.postWithCsrf(ctx, showTakeoverPath(channelID, showID), nil)
}

func (c *Client) KillShowTakeover(ctx context.Context, channelID, showID int) error {
	return c.postWithCsrf(ctx, killShowTakeoverPath(channelID, showID), nil)
}

func (c *Client) KillAllTakeovers(ctx context.Context, channelID, showID int) error {
	return c.postWithCsrf(ctx, killAllTakeoversPath(channelID, showID), nil)
}

// CheckShowDate asks the backend whether a venue/date-range combination
// collides with an existing show. excludeShowID skips the show being edited.
func (c *Client) CheckShowDate(ctx context.Context, venueID int, start, end time.Time, excludeShowID int) (*DateCheckResult, error) {
	q := url.Values{}
	q.Set("venue_id", fmt.Sprint(venueID))
	q.Set("show_datetime", start.Format(time.RFC3339))
	q.Set("show_end_datetime", end.Format(time.RFC3339))
	if excludeShowID != 0 {
		q.Set("show_id", fmt.Sprint(excludeShowID))
	}
	body, err := c.Get(ctx, dateCheckPath+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("check show date: %w", err)
	}
	var result DateCheckResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode date check: %w", err)
	}
	return &result, nil
}

// postWithCsrf sends a POST carrying the cached CSRF token. On a 401/422 the
// token is refreshed once and the request retried; any second failure is
// returned to the caller.
func (c *Client) postWithCsrf(ctx context.Context, endpoint string, payload []byte) error {
	token, err := c.ensureToken(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("proceeding without CSRF token")
	}

	err = c.postOnce(ctx, endpoint, payload, token)
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) && (statusErr.StatusCode == 401 || statusErr.StatusCode == 422) {
		token, refreshErr := c.refreshToken(ctx)
		if refreshErr != nil {
			return err
		}
		return c.postOnce(ctx, endpoint, payload, token)
	}
	return err
}

func (c *Client) postOnce(ctx context.Context, endpoint string, payload []byte, token string) error {
	// The token rides on this request alone; mutating the shared default
	// headers here would race concurrent reads (timer fetches, other
	// commands).
	var headers map[string]string
	if token != "" {
		headers = map[string]string{CsrfTokenHeader: token}
	}
	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}
	_, err := c.PostWithHeaders(ctx, endpoint, body, headers)
	return err
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	body, err := c.Get(ctx, csrfProbePath)
	if err != nil {
		return "", fmt.Errorf("refresh CSRF token: %w", err)
	}
	var probe struct {
		FormAuthenticityToken string `json:"form_authenticity_token"`
	}
	// The probe endpoint may answer with a bare array when the backend does
	// not echo the token; that is not an error, just no token.
	if err := json.Unmarshal(body, &probe); err != nil || probe.FormAuthenticityToken == "" {
		return "", nil
	}
	c.mu.Lock()
	c.csrfToken = probe.FormAuthenticityToken
	c.mu.Unlock()
	return probe.FormAuthenticityToken, nil
}
