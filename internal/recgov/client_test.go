package recgov

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/recgov-sniper/internal/session"
	"github.com/example/recgov-sniper/internal/snipe"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		err    error
		want   snipe.OutcomeKind
	}{
		{"transport error", 0, "", errors.New("dial tcp: timeout"), snipe.Transient},
		{"created", 200, `{}`, nil, snipe.Success},
		{"created 201", 201, `{}`, nil, snipe.Success},
		{"conflict", 409, `{"message":"not available"}`, nil, snipe.Unavailable},
		{"throttled", 429, `{}`, nil, snipe.RateLimited},
		{"unauthorized", 401, `{"message":"token expired"}`, nil, snipe.Fatal},
		{"forbidden", 403, `{}`, nil, snipe.Fatal},
		{"server error", 503, ``, nil, snipe.Transient},
		{"bad request", 400, `{"message":"invalid dates"}`, nil, snipe.Fatal},
		{"captcha page", 403, `<html>please complete the reCAPTCHA</html>`, nil, snipe.Captcha},
		{"challenge platform", 200, `{"url":"/challenge-platform/verify"}`, nil, snipe.Captcha},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.status, []byte(tc.body), tc.err)
			assert.Equal(t, tc.want, got.Kind)
			if tc.want != snipe.Success {
				assert.Error(t, got.Err)
			}
		})
	}
}

func TestClassifyAuthErrorUnwraps(t *testing.T) {
	got := classify(401, []byte(`{"message":"expired"}`), nil)
	assert.ErrorIs(t, got.Err, ErrSessionExpired)
}

func TestLoginCapturesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/accounts/login", r.URL.Path)
		http.SetCookie(w, &http.Cookie{Name: "_recgov_session", Value: "abc123"})
		fmt.Fprint(w, `{"token":"jwt-token"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	require.NoError(t, c.Login(context.Background(), "a@b.com", "hunter2"))

	sess := c.Session()
	assert.True(t, sess.LoggedIn)
	assert.Equal(t, "jwt-token", sess.AuthToken)
	assert.Equal(t, "abc123", sess.Cookies["_recgov_session"])
	assert.WithinDuration(t, time.Now(), sess.LastRefresh, time.Second)
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"bad credentials"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	err := c.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestRequestCarriesSession(t *testing.T) {
	var gotCookie, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	sess := &session.State{
		Cookies:   map[string]string{"a": "1", "b": "2"},
		AuthToken: "tok",
	}
	c := New(srv.URL, sess)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "a=1; b=2", gotCookie)
	assert.Equal(t, "Bearer tok", gotAuth)
}

const availabilityBody = `{
  "campsites": {
    "111": {"site": "A01", "loop": "Lower Pines", "availabilities": {
      "2026-08-14T00:00:00Z": "Available",
      "2026-08-15T00:00:00Z": "Available",
      "2026-08-16T00:00:00Z": "Reserved"
    }},
    "222": {"site": "A02", "loop": "Lower Pines", "availabilities": {
      "2026-08-14T00:00:00Z": "Available",
      "2026-08-15T00:00:00Z": "Available",
      "2026-08-16T00:00:00Z": "Available"
    }},
    "333": {"site": "B07", "loop": "Upper Pines", "availabilities": {
      "2026-08-14T00:00:00Z": "Open",
      "2026-08-15T00:00:00Z": "Open",
      "2026-08-16T00:00:00Z": "Open"
    }}
  }
}`

func availabilityServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	calls := new(int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		require.Contains(t, r.URL.Path, "/api/camps/availability/campground/2991/month")
		require.NotEmpty(t, r.URL.Query().Get("start_date"))
		fmt.Fprint(w, availabilityBody)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestAvailableSitesFiltersFullStay(t *testing.T) {
	srv, calls := availabilityServer(t)
	c := New(srv.URL, nil)

	target := Target{
		CampgroundID: "2991",
		Arrival:      time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC),
		Departure:    time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
	}
	ids, err := c.AvailableSites(context.Background(), target)
	require.NoError(t, err)

	// 111 is reserved on the 16th; 222 and 333 cover all three nights.
	assert.Equal(t, []string{"222", "333"}, ids)
	assert.Equal(t, 1, *calls)
}

func TestAvailableSitesKeepsRankedOrder(t *testing.T) {
	srv, _ := availabilityServer(t)
	c := New(srv.URL, nil)

	target := Target{
		CampgroundID: "2991",
		SiteIDs:      []string{"333", "111", "222"},
		Arrival:      time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC),
		Departure:    time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
	}
	ids, err := c.AvailableSites(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, []string{"333", "222"}, ids)
}

func TestAvailableSitesSpansMonths(t *testing.T) {
	srv, calls := availabilityServer(t)
	c := New(srv.URL, nil)

	target := Target{
		CampgroundID: "2991",
		Arrival:      time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		Departure:    time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
	}
	// The fixture has no availability for those dates; we only care that
	// both months were fetched.
	ids, err := c.AvailableSites(context.Background(), target)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 2, *calls)
}

func TestMonthsCovering(t *testing.T) {
	aug := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	sep := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)

	months := monthsCovering(aug, aug.AddDate(0, 0, 3))
	require.Len(t, months, 1)
	assert.Equal(t, time.August, months[0].Month())

	months = monthsCovering(aug.AddDate(0, 0, 16), sep)
	require.Len(t, months, 2)
	assert.Equal(t, time.August, months[0].Month())
	assert.Equal(t, time.September, months[1].Month())
}

func TestBookerSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ticket/reservation", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"message":"someone beat you to it"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	b := c.Booker(Target{
		CampgroundID: "2991",
		Arrival:      time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC),
		Departure:    time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC),
	})

	out := b.Submit(context.Background(), snipe.Candidate{ID: "222", Rank: 1})
	assert.Equal(t, snipe.Unavailable, out.Kind)
	assert.Contains(t, out.Err.Error(), "someone beat you to it")
}
