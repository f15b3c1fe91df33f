// Package notify delivers workflow notification emails over SMTP. Delivery is
// synchronous; the caller (the action executor) already bounds each send with
// a timeout and records failures in the transition's action log.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/audit-portal/audit-portal/internal/config"
	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/workflow"
)

// RecipientFunc resolves the recipient addresses for one notification.
type RecipientFunc func(audit *models.Audit, template string) []string

// DefaultRecipients treats provider and auditor identifiers that look like
// mail addresses as recipients. Deployments with an external directory plug
// in their own resolver instead.
func DefaultRecipients(audit *models.Audit, template string) []string {
	var recipients []string
	if strings.Contains(audit.ProviderID, "@") {
		recipients = append(recipients, audit.ProviderID)
	}
	if template == workflow.TemplateAuditResult && strings.Contains(audit.AuditorID, "@") {
		recipients = append(recipients, audit.AuditorID)
	}
	return recipients
}

// SMTPNotifier implements workflow.NotificationSender on top of a plain SMTP
// server.
type SMTPNotifier struct {
	cfg        *config.NotificationsConfig
	recipients RecipientFunc
	logger     *slog.Logger
}

// NewSMTPNotifier creates a notifier. A nil resolve falls back to
// DefaultRecipients.
func NewSMTPNotifier(cfg *config.NotificationsConfig, resolve RecipientFunc, logger *slog.Logger) *SMTPNotifier {
	if resolve == nil {
		resolve = DefaultRecipients
	}
	return &SMTPNotifier{cfg: cfg, recipients: resolve, logger: logger}
}

// Send composes and delivers the templated notification for an audit. Sends
// with no resolvable recipients are logged and dropped rather than failed so
// a missing contact address never degrades a transition.
func (n *SMTPNotifier) Send(ctx context.Context, audit *models.Audit, template string) error {
	if !n.cfg.Enabled {
		n.logger.Debug("notifications disabled, dropping send", "audit_id", audit.ID, "template", template)
		return nil
	}

	recipients := n.recipients(audit, template)
	if len(recipients) == 0 {
		n.logger.Warn("no recipients resolved for notification", "audit_id", audit.ID, "template", template)
		return nil
	}

	subject, body, err := composeMessage(audit, template)
	if err != nil {
		return err
	}

	if err := n.deliver(ctx, recipients, subject, body); err != nil {
		return fmt.Errorf("failed to deliver %s notification: %w", template, err)
	}
	n.logger.Info("notification sent", "audit_id", audit.ID, "template", template, "recipients", len(recipients))
	return nil
}

// composeMessage renders the plain-text subject and body for a template.
func composeMessage(audit *models.Audit, template string) (string, string, error) {
	switch template {
	case workflow.TemplateAuditScheduled:
		visit := "to be confirmed"
		if audit.VisitAt != nil {
			visit = audit.VisitAt.UTC().Format(time.RFC1123)
		}
		subject := fmt.Sprintf("Technical audit scheduled for site %s", audit.ProviderID)
		body := strings.Join([]string{
			"Hello,",
			"",
			fmt.Sprintf("A technical audit of your site has been scheduled. The on-site visit is planned for %s.", visit),
			"",
			"Before the visit, please prepare:",
			"  1. The on-site presentation documents for each requested section.",
			"  2. A current hardware and software inventory spreadsheet.",
			"  3. Access for the assigned auditor during the visit window.",
			"",
			"You will receive a separate notification once the audit result is available.",
			"",
			"- Audit Portal",
		}, "\r\n")
		return subject, body, nil

	case workflow.TemplateAuditResult:
		subject := fmt.Sprintf("Technical audit result available for site %s", audit.ProviderID)
		outcome := "The audit has completed its validation phase."
		if score, ok := audit.Progress["aggregate_score"].(float64); ok {
			outcome = fmt.Sprintf("The audit has completed its validation phase with an aggregate quality score of %.0f/100.", score)
		}
		body := strings.Join([]string{
			"Hello,",
			"",
			outcome,
			"",
			"The full report is available in the audit portal. Findings marked as",
			"non-compliant include the failing component and the reason for each asset.",
			"",
			"- Audit Portal",
		}, "\r\n")
		return subject, body, nil
	}
	return "", "", fmt.Errorf("unknown notification template: %s", template)
}

// deliver sends one message to all recipients over SMTP.
func (n *SMTPNotifier) deliver(ctx context.Context, to []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	smtpCfg := &n.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, strings.Join(to, ", "), subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, to, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, to, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// For port 587 STARTTLS, smtp.SendMail handles the upgrade automatically, but
// this path is used for both so UseTLS=true always means an encrypted connection.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path (port 587 pattern)
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
