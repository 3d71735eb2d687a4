/**
 * @description
 * Customer emails for license lifecycle notices, rendered with html/template
 * and sent through the mailer client.
 *
 * @notes
 * - Only refund revocations are emailed. Admin revocations are published as
 *   events but the customer is not written to.
 * - Notices without an address are skipped, not failed.
 */
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
	"github.com/skyvaultex/chrono-license-service/pkg/mailer"
)

// Mailer sends one email.
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) (string, error)
}

var templates = template.Must(template.New("email").Parse(`
{{define "layout_start"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
{{end}}
{{define "layout_end"}}<p style="color: #999; font-size: 12px;">The Chrono Team · <a href="{{.AppURL}}" style="color: #4F46E5;">chrono.app</a></p>
</body>
</html>{{end}}

{{define "issued"}}{{template "layout_start" .}}
<h2 style="color: #111;">Welcome to Chrono {{.Tier}}!</h2>
<p>{{if .Name}}Hi {{.Name}}, thank{{else}}Thank{{end}} you for your purchase. Here is your license key:</p>
<div style="background: #F3F4F6; border-radius: 8px; padding: 16px; text-align: center; margin: 20px 0;">
<code style="font-size: 20px; font-weight: bold; color: #4F46E5; letter-spacing: 1px;">{{.LicenseKey}}</code>
</div>
<p><strong>To activate:</strong> open Chrono, go to <strong>Tools → Settings</strong>, paste the key and click <strong>Activate</strong>.</p>
<p style="color: #666; font-size: 14px;">Keep this email safe. You can use this key on up to {{.MaxActivations}} devices.</p>
{{template "layout_end" .}}{{end}}

{{define "refunded"}}{{template "layout_start" .}}
<h2>License Deactivated</h2>
<p>Your Chrono license <code>{{.LicenseKey}}</code> has been deactivated due to a refund.</p>
<p>The app keeps working in Free mode with limited features. If you believe this is an error, reply to this email.</p>
{{template "layout_end" .}}{{end}}

{{define "expiring"}}{{template "layout_start" .}}
<h2>Subscription Expiring Soon</h2>
<p>Your Chrono {{.Tier}} subscription will expire in <strong>{{.DaysLeft}} days</strong>.</p>
<p>To keep every {{.Tier}} feature, update your payment method or renew your subscription.</p>
<p><a href="{{.AppURL}}/account" style="display: inline-block; background: #4F46E5; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Manage Subscription</a></p>
{{template "layout_end" .}}{{end}}
`))

type emailData struct {
	Name           string
	Tier           string
	LicenseKey     string
	MaxActivations int
	DaysLeft       int
	AppURL         string
}

// EmailNotifier emails customers about their license.
type EmailNotifier struct {
	mailer Mailer
	appURL string
	logger *slog.Logger
}

func NewEmailNotifier(m Mailer, appURL string, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{mailer: m, appURL: strings.TrimRight(appURL, "/"), logger: logger}
}

func (n *EmailNotifier) LicenseIssued(ctx context.Context, notice domain.LicenseNotice) error {
	subject := fmt.Sprintf("Your Chrono %s License Key", notice.License.Tier.DisplayName())
	return n.send(ctx, notice, "issued", subject)
}

func (n *EmailNotifier) LicenseRevoked(ctx context.Context, notice domain.LicenseNotice) error {
	if notice.Reason != domain.ReasonRefund {
		return nil
	}
	return n.send(ctx, notice, "refunded", "Chrono License Deactivated")
}

func (n *EmailNotifier) LicenseExpiring(ctx context.Context, notice domain.LicenseNotice) error {
	subject := fmt.Sprintf("Your Chrono subscription expires in %d days", notice.DaysLeft)
	return n.send(ctx, notice, "expiring", subject)
}

func (n *EmailNotifier) send(ctx context.Context, notice domain.LicenseNotice, tmpl, subject string) error {
	to := strings.TrimSpace(notice.Email)
	if to == "" {
		n.logger.Info("no email on file, skipping", "template", tmpl, "license_id", notice.License.ID)
		return nil
	}

	var body bytes.Buffer
	err := templates.ExecuteTemplate(&body, tmpl, emailData{
		Name:           notice.Name,
		Tier:           notice.License.Tier.DisplayName(),
		LicenseKey:     notice.License.LicenseKey,
		MaxActivations: notice.License.MaxActivations,
		DaysLeft:       notice.DaysLeft,
		AppURL:         n.appURL,
	})
	if err != nil {
		return fmt.Errorf("render %s email: %w", tmpl, err)
	}

	id, err := n.mailer.Send(ctx, mailer.Message{To: to, Subject: subject, HTML: body.String()})
	if err != nil {
		return fmt.Errorf("send %s email: %w", tmpl, err)
	}
	n.logger.Info("email sent", "template", tmpl, "license_id", notice.License.ID, "message_id", id)
	return nil
}
