package recgov

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultBaseURL is the production Recreation.gov host. Tests point the
// client at an httptest server instead.
const DefaultBaseURL = "https://www.recreation.gov"

// The endpoints below are undocumented and were mapped from browser traffic;
// they may change without notice.
func (c *Client) loginURL() string {
	return c.baseURL + "/api/accounts/login"
}

func (c *Client) accountURL() string {
	return c.baseURL + "/api/accounts/account"
}

// monthAvailabilityURL returns availability for every campsite in a
// campground for the month containing day. start_date must be the first of
// the month at midnight UTC.
func (c *Client) monthAvailabilityURL(campgroundID string, day time.Time) string {
	start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	return fmt.Sprintf("%s/api/camps/availability/campground/%s/month?start_date=%s",
		c.baseURL, campgroundID, url.QueryEscape(start.Format("2006-01-02T15:04:05.000Z")))
}

func (c *Client) addToCartURL() string {
	return c.baseURL + "/api/ticket/reservation"
}

// CartURL is the page the operator must open to finish checkout; cart items
// expire after about 15 minutes.
func (c *Client) CartURL() string {
	return c.baseURL + "/cart"
}

// defaultHeaders mimic a browser session; Recreation.gov rejects obviously
// non-browser user agents.
var defaultHeaders = map[string]string{
	"Accept":          "application/json, text/plain, */*",
	"Accept-Language": "en-US,en;q=0.9",
	"Origin":          "https://www.recreation.gov",
	"Referer":         "https://www.recreation.gov/",
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}
