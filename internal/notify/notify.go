// Package notify fans a single event out to the operator over every
// configured channel. Delivery is best effort: a failed channel is logged
// and never blocks the others.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/recgov-sniper/internal/config"
	"github.com/example/recgov-sniper/internal/logger"
)

// Payload is one notification event.
type Payload struct {
	Title   string
	Message string
	URL     string // checkout or captcha link, optional
	Urgent  bool
}

// Notifier delivers a payload over one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

const sendTimeout = 15 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: sendTimeout}
}

// Console prints to a writer. Always registered so a run with no channels
// configured still tells the operator what happened.
type Console struct {
	Out io.Writer
}

func (c *Console) Name() string { return "console" }

func (c *Console) Send(_ context.Context, p Payload) error {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(c.Out, "\n%s\n%s\n%s\n%s\n", rule, p.Title, strings.Repeat("-", 60), p.Message)
	if p.URL != "" {
		fmt.Fprintf(c.Out, "\n%s\n", p.URL)
	}
	fmt.Fprintf(c.Out, "%s\n", rule)
	return nil
}

// Webhook posts Slack-compatible block payloads, which Discord and most chat
// tools also accept.
type Webhook struct {
	URL string
	hc  *http.Client
}

func NewWebhook(rawURL string) *Webhook {
	return &Webhook{URL: rawURL, hc: newHTTPClient()}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, p Payload) error {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": p.Title},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": p.Message},
		},
	}
	if p.URL != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("<%s|Complete Checkout>", p.URL)},
		})
	}
	body, err := json.Marshal(map[string]any{"text": p.Title, "blocks": blocks})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", res.StatusCode)
	}
	return nil
}

// Email sends through the SendGrid v3 mail API.
type Email struct {
	APIKey string
	To     string
	From   string
	hc     *http.Client

	endpoint string
}

const sendgridEndpoint = "https://api.sendgrid.com/v3/mail/send"

func NewEmail(apiKey, to, from string) *Email {
	if from == "" {
		from = "noreply@recgov-sniper.local"
	}
	return &Email{APIKey: apiKey, To: to, From: from, hc: newHTTPClient(), endpoint: sendgridEndpoint}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": e.To}}},
		},
		"from":    map[string]string{"email": e.From, "name": "RecGov Sniper"},
		"subject": p.Title,
		"content": []map[string]string{
			{"type": "text/plain", "value": emailBody(p)},
		},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")
	res, err := e.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusAccepted {
		return fmt.Errorf("sendgrid returned status %d", res.StatusCode)
	}
	return nil
}

func emailBody(p Payload) string {
	var b strings.Builder
	b.WriteString(p.Message)
	if p.URL != "" {
		b.WriteString("\n\nComplete checkout: ")
		b.WriteString(p.URL)
		b.WriteString("\nYou have 15 minutes before the cart hold expires.")
	}
	return b.String()
}

// SMS sends through the Twilio messages API.
type SMS struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	hc         *http.Client

	endpoint string
}

const smsMaxLen = 1600

func NewSMS(sid, token, from, to string) *SMS {
	return &SMS{
		AccountSID: sid,
		AuthToken:  token,
		From:       from,
		To:         to,
		hc:         newHTTPClient(),
		endpoint:   fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", sid),
	}
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Send(ctx context.Context, p Payload) error {
	text := p.Title + "\n\n" + p.Message
	if p.URL != "" {
		text += "\n\nCheckout: " + p.URL
	}
	if len(text) > smsMaxLen {
		text = text[:smsMaxLen]
	}

	form := url.Values{}
	form.Set("From", s.From)
	form.Set("To", s.To)
	form.Set("Body", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.AccountSID, s.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		return fmt.Errorf("twilio returned status %d", res.StatusCode)
	}
	return nil
}

// Manager fans one payload out to all registered channels concurrently.
type Manager struct {
	notifiers []Notifier
	log       logger.Logger
}

// NewManager builds a manager from config. Console is always on; a channel
// that is enabled but missing settings is skipped with a warning.
func NewManager(cfg config.Notifications, out io.Writer, log logger.Logger) *Manager {
	m := &Manager{log: log}
	m.notifiers = append(m.notifiers, &Console{Out: out})

	if cfg.Webhook.Enabled {
		if cfg.Webhook.URL != "" {
			m.notifiers = append(m.notifiers, NewWebhook(cfg.Webhook.URL))
		} else {
			log.Warn("webhook notifications enabled but url missing")
		}
	}
	if cfg.Email.Enabled {
		if cfg.Email.SendgridAPIKey != "" && cfg.Email.Address != "" {
			m.notifiers = append(m.notifiers, NewEmail(cfg.Email.SendgridAPIKey, cfg.Email.Address, cfg.Email.From))
		} else {
			log.Warn("email notifications enabled but address or api key missing")
		}
	}
	if cfg.SMS.Enabled {
		s := cfg.SMS
		if s.TwilioAccountSID != "" && s.TwilioAuthToken != "" && s.TwilioFromNumber != "" && s.Phone != "" {
			m.notifiers = append(m.notifiers, NewSMS(s.TwilioAccountSID, s.TwilioAuthToken, s.TwilioFromNumber, s.Phone))
		} else {
			log.Warn("sms notifications enabled but twilio settings incomplete")
		}
	}
	return m
}

// Add registers an extra channel. Used by tests and by callers wiring custom
// notifiers.
func (m *Manager) Add(n Notifier) { m.notifiers = append(m.notifiers, n) }

// Notify delivers the payload over every channel and logs per-channel
// failures. It returns once all channels have finished.
func (m *Manager) Notify(ctx context.Context, p Payload) {
	var wg sync.WaitGroup
	for _, n := range m.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			if err := n.Send(ctx, p); err != nil {
				m.log.Warn("notification failed",
					zap.String("channel", n.Name()),
					zap.Error(err))
			}
		}(n)
	}
	wg.Wait()
}
