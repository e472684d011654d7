// Package notification renders patient-facing SMS messages and hands them to
// a delivery gateway.
package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	TemplateVerificationCode    = "verification-code"
	TemplateReservationBooked   = "reservation-booked"
	TemplateReservationCanceled = "reservation-canceled"
)

var defaultBodies = map[string]string{
	TemplateVerificationCode:    "Your verification code for the appointment with {{doctor}} on {{when}} is {{code}}. It expires in {{ttl}}.",
	TemplateReservationBooked:   "Dear {{patient_name}}, your appointment with {{doctor}} on {{when}} is confirmed.",
	TemplateReservationCanceled: "Dear {{patient_name}}, your appointment with {{doctor}} on {{when}} has been canceled.",
}

// SMSSender delivers one text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Catalog holds message bodies with {{key}} placeholders, keyed by template id.
type Catalog struct {
	mu     sync.RWMutex
	bodies map[string]string
}

// NewCatalog returns a catalog preloaded with the booking messages.
func NewCatalog() *Catalog {
	c := &Catalog{bodies: make(map[string]string, len(defaultBodies))}
	for id, body := range defaultBodies {
		c.bodies[id] = body
	}
	return c
}

// Set replaces the body of id, e.g. with a translated text.
func (c *Catalog) Set(id, body string) {
	c.mu.Lock()
	c.bodies[id] = body
	c.mu.Unlock()
}

// Render fills the placeholders of id from data. Placeholders without a
// value stay in the output.
func (c *Catalog) Render(id string, data map[string]string) (string, error) {
	c.mu.RLock()
	body, ok := c.bodies[id]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown message template %q", id)
	}
	if len(data) == 0 {
		return body, nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", data[k])
	}
	return strings.NewReplacer(pairs...).Replace(body), nil
}

// Notifier renders a template and sends the result by SMS.
type Notifier struct {
	catalog *Catalog
	sms     SMSSender
}

func NewNotifier(catalog *Catalog, sms SMSSender) *Notifier {
	return &Notifier{catalog: catalog, sms: sms}
}

func (n *Notifier) Send(ctx context.Context, templateID, to string, data map[string]string) error {
	body, err := n.catalog.Render(templateID, data)
	if err != nil {
		return err
	}
	if err := n.sms.SendSMS(ctx, to, body); err != nil {
		return fmt.Errorf("send %s sms: %w", templateID, err)
	}
	return nil
}

// LogSender writes messages to the log instead of a gateway. It is used
// when no SMS gateway is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "sms").Logger()}
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Str("body", body).Msg("sms not delivered, no gateway configured")
	return nil
}

// Message is one SMS captured by a RecordingSender.
type Message struct {
	To   string
	Body string
}

// RecordingSender keeps every message in memory. Err, when set, is returned
// from SendSMS after the message is recorded.
type RecordingSender struct {
	Err error

	mu   sync.Mutex
	sent []Message
}

func (r *RecordingSender) SendSMS(_ context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{To: to, Body: body})
	return r.Err
}

// Sent returns the recorded messages in send order.
func (r *RecordingSender) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}
