package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Embed colors
const (
	ColorDefault = 3447003
	ColorDaily   = 3066993
	ColorAlert   = 15158332
)

// DailyReport is the summary sent after a successful usage run
type DailyReport struct {
	Date     string // YYYY-MM-DD
	Rate     decimal.Decimal
	UsageKWh float64
	Cost     decimal.Decimal
}

// HighUsageAlert is sent when usage exceeds the rolling average by the threshold
type HighUsageAlert struct {
	Date       string
	UsageKWh   float64
	AverageKWh float64
}

// DifferencePercent returns how far usage is above the average, in percent
func (a HighUsageAlert) DifferencePercent() float64 {
	if a.AverageKWh == 0 {
		return 0
	}
	return (a.UsageKWh - a.AverageKWh) / a.AverageKWh * 100
}

// NotificationError is a failed webhook delivery
type NotificationError struct {
	StatusCode int // 0 if the request never completed
	Err        error
}

func (e *NotificationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("discord webhook returned status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("discord webhook: %v", e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// Embed is a Discord rich embed
type Embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Footer      Footer `json:"footer"`
}

type Footer struct {
	Text string `json:"text"`
}

// Message is the webhook request body
type Message struct {
	Embeds []Embed `json:"embeds"`
}

// Discord posts embeds to a channel webhook
type Discord struct {
	webhookURL string
	footer     string
	client     *http.Client
	logger     *slog.Logger
}

// NewDiscord creates a notifier. With an empty webhook URL every send is a
// logged no-op.
func NewDiscord(webhookURL, provider string, timeout time.Duration, logger *slog.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		footer:     provider + " Bot",
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("module", "notifier")),
	}
}

// SendDailyReport posts the daily rate, usage and cost summary
func (d *Discord) SendDailyReport(ctx context.Context, r DailyReport) {
	lines := []string{
		fmt.Sprintf("**Date:** %s", r.Date),
		fmt.Sprintf("**Rate:** $%s/kWh", r.Rate.StringFixed(5)),
		fmt.Sprintf("**Usage:** %.2f kWh", r.UsageKWh),
		fmt.Sprintf("**Est. Cost:** $%s", r.Cost.StringFixed(2)),
	}
	d.send(ctx, "⚡ Daily Electricity Report", strings.Join(lines, "\n"), ColorDaily)
}

// SendHighUsageAlert posts a usage anomaly warning
func (d *Discord) SendHighUsageAlert(ctx context.Context, a HighUsageAlert) {
	lines := []string{
		fmt.Sprintf("**Date:** %s", a.Date),
		fmt.Sprintf("**Usage:** %.2f kWh", a.UsageKWh),
		fmt.Sprintf("**7-Day Average:** %.2f kWh", a.AverageKWh),
		fmt.Sprintf("**Difference:** +%.1f%%", a.DifferencePercent()),
	}
	d.send(ctx, "⚡ High Electricity Usage Alert", strings.Join(lines, "\n"), ColorAlert)
}

// SendMessage posts a free-form embed
func (d *Discord) SendMessage(ctx context.Context, title, description string) {
	d.send(ctx, title, description, ColorDefault)
}

func (d *Discord) send(ctx context.Context, title, description string, color int) {
	if d.webhookURL == "" {
		d.logger.Warn("discord webhook URL not set, skipping notification", slog.String("title", title))
		return
	}

	msg := Message{Embeds: []Embed{{
		Title:       title,
		Description: description,
		Color:       color,
		Footer:      Footer{Text: d.footer},
	}}}

	if err := d.post(ctx, msg); err != nil {
		d.logger.Error("failed to send discord notification",
			slog.String("title", title),
			slog.Any("error", err))
		return
	}

	d.logger.Info("sent discord notification", slog.String("title", title))
}

func (d *Discord) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("encoding message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("making request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NotificationError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("response: %s", strings.TrimSpace(string(respBody))),
		}
	}

	return nil
}
