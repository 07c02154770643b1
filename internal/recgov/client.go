// Package recgov is a direct Recreation.gov API client. It implements the
// snipe engine's submit and poll contracts and classifies every HTTP failure
// into the engine's outcome taxonomy, so nothing transport-specific leaks
// upward.
package recgov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/example/recgov-sniper/internal/session"
)

// Client talks to the Recreation.gov API using a captured browser-style
// session (cookies plus bearer token).
type Client struct {
	hc      *http.Client
	baseURL string
	sess    *session.State
}

// New returns a Client. An empty baseURL means production; sess may start
// empty and be populated by Login.
func New(baseURL string, sess *session.State) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if sess == nil {
		sess = &session.State{}
	}
	return &Client{
		hc:      &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		sess:    sess,
	}
}

// Session exposes the live session state so callers can persist it after a
// successful login.
func (c *Client) Session() *session.State { return c.sess }

// Login authenticates with email/password and captures the session cookies
// and token.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	res, status, data, err := c.do(ctx, http.MethodPost, c.loginURL(), body)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("login failed (status=%d): %s", status, apiMessage(data))
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(data, &payload)
	if payload.Token == "" {
		payload.Token = payload.AccessToken
	}

	if c.sess.Cookies == nil {
		c.sess.Cookies = make(map[string]string)
	}
	for _, ck := range res.Cookies() {
		c.sess.Cookies[ck.Name] = ck.Value
	}
	c.sess.AuthToken = payload.Token
	c.sess.LoggedIn = true
	c.sess.LastRefresh = time.Now()
	return nil
}

// Ping verifies the session is still accepted. Used during the prep phase
// before the reservation window opens.
func (c *Client) Ping(ctx context.Context) error {
	_, status, data, err := c.do(ctx, http.MethodGet, c.accountURL(), nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("recgov ping failed (status=%d): %s", status, apiMessage(data))
	}
	c.sess.LastRefresh = time.Now()
	return nil
}

// SiteAvailability is one campsite's per-day availability within a
// campground.
type SiteAvailability struct {
	SiteID string
	Name   string
	Loop   string
	Days   map[string]string // "2026-08-15" -> "Available"
}

// availableStatuses are the API's statuses that can actually be booked.
var availableStatuses = map[string]bool{
	"Available": true,
	"Open":      true,
}

// MonthAvailability fetches availability for all campsites in a campground
// for the month containing day.
func (c *Client) MonthAvailability(ctx context.Context, campgroundID string, day time.Time) (map[string]SiteAvailability, error) {
	_, status, data, err := c.do(ctx, http.MethodGet, c.monthAvailabilityURL(campgroundID, day), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("availability fetch failed (status=%d): %s", status, apiMessage(data))
	}

	var payload struct {
		Campsites map[string]struct {
			Site           string            `json:"site"`
			Loop           string            `json:"loop"`
			Availabilities map[string]string `json:"availabilities"`
		} `json:"campsites"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse availability: %w", err)
	}

	out := make(map[string]SiteAvailability, len(payload.Campsites))
	for id, site := range payload.Campsites {
		days := make(map[string]string, len(site.Availabilities))
		for ts, st := range site.Availabilities {
			// Keys arrive as "2026-08-15T00:00:00Z"; index by date only.
			if len(ts) >= 10 {
				days[ts[:10]] = st
			}
		}
		out[id] = SiteAvailability{SiteID: id, Name: site.Site, Loop: site.Loop, Days: days}
	}
	return out, nil
}

// Target is one reservation goal: a campground, an optional ranked site
// list, and the stay dates (departure exclusive).
type Target struct {
	CampgroundID string
	SiteIDs      []string
	Arrival      time.Time
	Departure    time.Time
}

// AvailableSites returns the IDs of campsites available for the target's
// whole stay. When the target ranks specific sites the result is restricted
// to those and keeps their order; otherwise it is sorted by site ID for
// determinism.
func (c *Client) AvailableSites(ctx context.Context, t Target) ([]string, error) {
	merged := make(map[string]SiteAvailability)
	for _, month := range monthsCovering(t.Arrival, t.Departure) {
		sites, err := c.MonthAvailability(ctx, t.CampgroundID, month)
		if err != nil {
			return nil, err
		}
		for id, site := range sites {
			if existing, ok := merged[id]; ok {
				for d, st := range site.Days {
					existing.Days[d] = st
				}
			} else {
				merged[id] = site
			}
		}
	}

	var open []string
	for id, site := range merged {
		if coversStay(site, t.Arrival, t.Departure) {
			open = append(open, id)
		}
	}

	if len(t.SiteIDs) > 0 {
		wanted := make(map[string]bool, len(open))
		for _, id := range open {
			wanted[id] = true
		}
		var ranked []string
		for _, id := range t.SiteIDs {
			if wanted[id] {
				ranked = append(ranked, id)
			}
		}
		return ranked, nil
	}

	sort.Strings(open)
	return open, nil
}

// AllSiteIDs lists every campsite in the target's campground regardless of
// availability. Used when no preferred sites are configured.
func (c *Client) AllSiteIDs(ctx context.Context, t Target) ([]string, error) {
	sites, err := c.MonthAvailability(ctx, t.CampgroundID, t.Arrival)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sites))
	for id := range sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// coversStay reports whether a site is bookable for every night of the stay.
func coversStay(site SiteAvailability, arrival, departure time.Time) bool {
	for d := arrival; d.Before(departure); d = d.AddDate(0, 0, 1) {
		if !availableStatuses[site.Days[d.Format("2006-01-02")]] {
			return false
		}
	}
	return true
}

// monthsCovering returns the first-of-month instants spanning [arrival,
// departure).
func monthsCovering(arrival, departure time.Time) []time.Time {
	var out []time.Time
	m := time.Date(arrival.Year(), arrival.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := departure.AddDate(0, 0, -1)
	for !m.After(last) {
		out = append(out, m)
		m = m.AddDate(0, 1, 0)
	}
	return out
}

// addToCart submits the critical booking request. The body shape was mapped
// from browser traffic and may be incomplete.
func (c *Client) addToCart(ctx context.Context, campsiteID string, t Target) (int, []byte, error) {
	body, err := json.Marshal(map[string]any{
		"campsiteId":       campsiteID,
		"facilityId":       t.CampgroundID,
		"arrivalDate":      t.Arrival.Format("2006-01-02"),
		"departureDate":    t.Departure.Format("2006-01-02"),
		"numberOfVehicles": 1,
		"isOvernightStay":  true,
		"unitTypeId":       1,
		"inventoryType":    "CAMPING",
	})
	if err != nil {
		return 0, nil, err
	}
	_, status, data, err := c.do(ctx, http.MethodPost, c.addToCartURL(), body)
	return status, data, err
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, nil, err
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ch := c.sess.CookieHeader(); ch != "" {
		req.Header.Set("Cookie", ch)
	}
	if c.sess.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sess.AuthToken)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res, res.StatusCode, nil, err
	}
	return res, res.StatusCode, data, nil
}

// apiMessage extracts the API's human-readable error message, if any.
func apiMessage(data []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(data, &m)
	if m.Message != "" {
		return m.Message
	}
	if m.Error != "" {
		return m.Error
	}
	return "no detail"
}
