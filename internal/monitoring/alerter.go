// Package monitoring evaluates finished sync runs and delivers alerts to a
// webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sync/internal/config"
	"github.com/sells-group/lead-sync/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed     AlertType = "run_failed"
	AlertRowErrorRatio AlertType = "row_error_ratio"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// RunOutcome is what the orchestrator hands over after a run ends.
type RunOutcome struct {
	RunID      string
	Credential string
	Report     model.SyncReport
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Alerter evaluates run outcomes against the row error threshold and sends
// alerts via webhook.
type Alerter struct {
	cfg          config.MonitoringConfig
	maxErrorRate float64
	client       *http.Client
	log          *zap.Logger
	now          func() time.Time
}

// NewAlerter creates a new Alerter. A maxErrorRate of zero disables the
// ratio alert.
func NewAlerter(cfg config.MonitoringConfig, maxErrorRate float64, log *zap.Logger) *Alerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Alerter{
		cfg:          cfg,
		maxErrorRate: maxErrorRate,
		client:       &http.Client{Timeout: 10 * time.Second},
		log:          log,
		now:          time.Now,
	}
}

// Evaluate checks the outcome and returns any alerts.
func (a *Alerter) Evaluate(out RunOutcome) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if out.Err != nil {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			Message:  fmt.Sprintf("Lead sync for %q failed: %v", out.Credential, out.Err),
			Details: map[string]any{
				"run_id":     out.RunID,
				"credential": out.Credential,
			},
			Timestamp: now,
		})
		return alerts
	}

	rate := out.Report.ErrorRate()
	if a.maxErrorRate > 0 && rate > a.maxErrorRate {
		alerts = append(alerts, Alert{
			Type:     AlertRowErrorRatio,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Lead sync for %q: row error rate %.1f%% exceeds threshold %.1f%% (%d errored / %d processed)",
				out.Credential, rate*100, a.maxErrorRate*100,
				len(out.Report.Errors), out.Report.Processed(),
			),
			Details: map[string]any{
				"run_id":     out.RunID,
				"error_rate": rate,
				"threshold":  a.maxErrorRate,
				"created":    out.Report.Created,
				"skipped":    out.Report.Skipped,
				"errored":    len(out.Report.Errors),
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Report evaluates the outcome and sends whatever alerts it produced.
func (a *Alerter) Report(ctx context.Context, out RunOutcome) {
	a.SendAlerts(ctx, a.Evaluate(out))
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			a.log.Warn("monitoring: alert (no webhook configured)",
				zap.String("type", string(alert.Type)),
				zap.String("message", alert.Message),
			)
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			a.log.Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.log.Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
