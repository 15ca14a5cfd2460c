// Package notify delivers new ticket-open notices to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// embedColors picks the sidebar color per source so feeds are scannable.
var embedColors = map[ticket.Source]int{
	"interpark":  0x00AAFF,
	"yes24":      0x00FF00,
	"melon":      0x44CF00,
	"ticketlink": 0xFF5500,
}

const defaultEmbedColor = 0x99AAB5

// Config carries the Discord delivery settings.
type Config struct {
	WebhookURL string
	MinDelay   time.Duration
	Retries    int
	Backoff    time.Duration
}

// Discord posts one embed per ticket to a webhook. Sends are paced by a
// rate limiter so a burst of new tickets does not trip Discord's limits.
type Discord struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	retries    int
	backoff    time.Duration
	clock      ticket.Clock
	logger     *zap.Logger
}

// NewDiscord builds the webhook notifier.
func NewDiscord(cfg Config, clock ticket.Clock, logger *zap.Logger) *Discord {
	minDelay := cfg.MinDelay
	if minDelay <= 0 {
		minDelay = time.Second
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Discord{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(minDelay), 1),
		retries:    max(cfg.Retries, 0),
		backoff:    backoff,
		clock:      clock,
		logger:     logger,
	}
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds"`
}

type embed struct {
	Title     string       `json:"title"`
	URL       string       `json:"url,omitempty"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields,omitempty"`
	Thumbnail *embedImage  `json:"thumbnail,omitempty"`
	Footer    embedFooter  `json:"footer"`
	Timestamp string       `json:"timestamp"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// Send delivers one ticket. It blocks on the pacing limiter, retries
// transient failures with doubling backoff, and returns a DeliveryError
// once attempts are exhausted.
func (d *Discord) Send(ctx context.Context, t ticket.Ticket) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return &ticket.DeliveryError{Err: err}
	}

	body, err := json.Marshal(d.payload(t))
	if err != nil {
		return &ticket.DeliveryError{Err: fmt.Errorf("encode payload: %w", err)}
	}

	backoff := d.backoff
	var lastErr *ticket.DeliveryError
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return &ticket.DeliveryError{Err: ctx.Err()}
			}
			backoff *= 2
		}

		lastErr = d.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if !lastErr.Transient() {
			break
		}
		d.logger.Warn("webhook delivery failed, retrying",
			zap.String("source", string(t.Source)),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

func (d *Discord) post(ctx context.Context, body []byte) *ticket.DeliveryError {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &ticket.DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &ticket.DeliveryError{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &ticket.DeliveryError{
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("webhook returned status %d", resp.StatusCode),
	}
}

func (d *Discord) payload(t ticket.Ticket) webhookPayload {
	color, ok := embedColors[t.Source]
	if !ok {
		color = defaultEmbedColor
	}

	fields := []embedField{
		{Name: "Open", Value: openDateField(t), Inline: true},
		{Name: "Place", Value: t.Place, Inline: true},
		{Name: "Genre", Value: t.Genre, Inline: true},
	}
	if t.PerformanceDateText != "" {
		fields = append(fields, embedField{Name: "Performance", Value: t.PerformanceDateText, Inline: false})
	}

	e := embed{
		Title:     t.Title,
		URL:       t.URL,
		Color:     color,
		Fields:    fields,
		Footer:    embedFooter{Text: string(t.Source)},
		Timestamp: d.clock.Now().Format(time.RFC3339),
	}
	if t.ImageURL != "" {
		e.Thumbnail = &embedImage{URL: t.ImageURL}
	}

	payload := webhookPayload{Embeds: []embed{e}}
	if t.Highlight {
		payload.Content = "@here"
	}
	return payload
}

func openDateField(t ticket.Ticket) string {
	if !t.HasOpenDate() {
		return "undetermined"
	}
	return t.OpenDate.Format("2006-01-02 15:04")
}
