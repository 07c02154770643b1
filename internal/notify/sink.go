package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/example/recgov-sniper/internal/snipe"
)

// ResultSink turns a finished run into operator notifications. It implements
// snipe.Sink.
type ResultSink struct {
	m            *Manager
	campgroundID string
	arrival      time.Time
	departure    time.Time
	cartURL      string
}

// NewResultSink wires the manager to one reservation target. cartURL is
// included in success messages so the operator can jump straight to checkout.
func NewResultSink(m *Manager, campgroundID string, arrival, departure time.Time, cartURL string) *ResultSink {
	return &ResultSink{
		m:            m,
		campgroundID: campgroundID,
		arrival:      arrival,
		departure:    departure,
		cartURL:      cartURL,
	}
}

func (s *ResultSink) stay() string {
	return fmt.Sprintf("%s to %s", s.arrival.Format("2006-01-02"), s.departure.Format("2006-01-02"))
}

// Deliver composes and sends the terminal-state notification.
func (s *ResultSink) Deliver(ctx context.Context, res snipe.Result) {
	var p Payload
	switch res.Phase {
	case snipe.PhaseSucceeded:
		p = Payload{
			Title: "CAMPSITE SECURED",
			Message: fmt.Sprintf(
				"Added to cart after %d attempt(s).\n\nSite: %s\nCampground: %s\nDates: %s\n\nComplete checkout within 15 minutes.",
				len(res.Attempts), res.Winner.ID, s.campgroundID, s.stay()),
			URL:    s.cartURL,
			Urgent: true,
		}
	case snipe.PhaseExhausted:
		p = Payload{
			Title: "Reservation failed",
			Message: fmt.Sprintf(
				"No campsite could be secured.\n\nCampground: %s\nDates: %s\nAttempts made: %d",
				s.campgroundID, s.stay(), len(res.Attempts)),
		}
	case snipe.PhaseAborted:
		detail := "unknown"
		if res.Err != nil {
			detail = res.Err.Error()
		}
		p = Payload{
			Title: "Reservation aborted",
			Message: fmt.Sprintf(
				"The run stopped before exhausting its candidates.\n\nReason: %s\nCampground: %s\nDates: %s\nAttempts made: %d",
				detail, s.campgroundID, s.stay(), len(res.Attempts)),
			Urgent: true,
		}
	default:
		return
	}
	s.m.Notify(ctx, p)
}

// CaptchaAlert tells the operator a challenge is blocking the run. Sent from
// the captcha resolver, not from Deliver, because the run is still live.
func (s *ResultSink) CaptchaAlert(ctx context.Context, link string) {
	s.m.Notify(ctx, Payload{
		Title:   "CAPTCHA required",
		Message: "Human verification is blocking the booking flow. Solve the challenge to let the run continue.",
		URL:     link,
		Urgent:  true,
	})
}
