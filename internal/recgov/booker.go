package recgov

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/recgov-sniper/internal/snipe"
)

// ErrSessionExpired marks auth failures during the booking flow; the run
// aborts rather than hammering the API with a dead session.
var ErrSessionExpired = errors.New("recgov: session expired or unauthorized")

// Booker binds a Client to one reservation target. It satisfies
// snipe.Submitter and snipe.Poller so a runner can drive it directly.
type Booker struct {
	c      *Client
	target Target
}

// Booker returns a transport adapter for one target.
func (c *Client) Booker(t Target) *Booker {
	return &Booker{c: c, target: t}
}

// Submit performs one add-to-cart attempt for the candidate campsite and
// classifies the result.
func (b *Booker) Submit(ctx context.Context, cand snipe.Candidate) snipe.Outcome {
	status, body, err := b.c.addToCart(ctx, cand.ID, b.target)
	return classify(status, body, err)
}

// Poll is the cheap availability check used to skip already-taken sites.
func (b *Booker) Poll(ctx context.Context) ([]string, error) {
	return b.c.AvailableSites(ctx, b.target)
}

// CartURL is where the operator completes checkout after a win.
func (b *Booker) CartURL() string { return b.c.CartURL() }

// classify maps an add-to-cart response onto the engine's outcome taxonomy.
func classify(status int, body []byte, err error) snipe.Outcome {
	if err != nil {
		return snipe.Outcome{Kind: snipe.Transient, Err: err}
	}
	if looksLikeCaptcha(body) {
		return snipe.Outcome{Kind: snipe.Captcha, Err: fmt.Errorf("captcha challenge (status=%d)", status)}
	}
	switch {
	case status == 200 || status == 201:
		return snipe.Outcome{Kind: snipe.Success}
	case status == 409:
		// Someone else got the site first.
		return snipe.Outcome{Kind: snipe.Unavailable, Err: fmt.Errorf("site no longer available (status=%d)", status)}
	case status == 429:
		return snipe.Outcome{Kind: snipe.RateLimited, Err: fmt.Errorf("rate limited by server (status=%d)", status)}
	case status == 401 || status == 403:
		return snipe.Outcome{Kind: snipe.Fatal, Err: fmt.Errorf("%w (status=%d): %s", ErrSessionExpired, status, apiMessage(body))}
	case status >= 500:
		return snipe.Outcome{Kind: snipe.Transient, Err: fmt.Errorf("server error (status=%d)", status)}
	default:
		return snipe.Outcome{Kind: snipe.Fatal, Err: fmt.Errorf("booking rejected (status=%d): %s", status, apiMessage(body))}
	}
}

// looksLikeCaptcha sniffs challenge markers in an HTML or JSON error body.
func looksLikeCaptcha(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range []string{"captcha", "recaptcha", "hcaptcha", "challenge-platform"} {
		if strings.Contains(string(lower), marker) {
			return true
		}
	}
	return false
}
