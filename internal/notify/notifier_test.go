package notify

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/audit-portal/audit-portal/internal/config"
	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAudit() *models.Audit {
	visit := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &models.Audit{
		ID:         "audit-1",
		ProviderID: "ops@provider.example.com",
		AuditorID:  "auditor@portal.example.com",
		VisitAt:    &visit,
		Progress:   map[string]interface{}{"aggregate_score": float64(80)},
	}
}

// ---------------------------------------------------------------------------
// DefaultRecipients
// ---------------------------------------------------------------------------

func TestDefaultRecipients(t *testing.T) {
	t.Run("scheduled goes to provider only", func(t *testing.T) {
		got := DefaultRecipients(sampleAudit(), workflow.TemplateAuditScheduled)
		if len(got) != 1 || got[0] != "ops@provider.example.com" {
			t.Errorf("recipients = %v, want provider only", got)
		}
	})

	t.Run("result includes auditor", func(t *testing.T) {
		got := DefaultRecipients(sampleAudit(), workflow.TemplateAuditResult)
		if len(got) != 2 {
			t.Fatalf("recipients = %v, want provider and auditor", got)
		}
		if got[1] != "auditor@portal.example.com" {
			t.Errorf("second recipient = %q, want auditor address", got[1])
		}
	})

	t.Run("non-address identifiers skipped", func(t *testing.T) {
		audit := sampleAudit()
		audit.ProviderID = "provider-42"
		audit.AuditorID = "auditor-7"
		got := DefaultRecipients(audit, workflow.TemplateAuditResult)
		if len(got) != 0 {
			t.Errorf("recipients = %v, want none", got)
		}
	})
}

// ---------------------------------------------------------------------------
// composeMessage
// ---------------------------------------------------------------------------

func TestComposeMessage(t *testing.T) {
	t.Run("scheduled includes visit date", func(t *testing.T) {
		subject, body, err := composeMessage(sampleAudit(), workflow.TemplateAuditScheduled)
		if err != nil {
			t.Fatalf("composeMessage() error: %v", err)
		}
		if !strings.Contains(subject, "scheduled") {
			t.Errorf("subject = %q, want scheduled mention", subject)
		}
		if !strings.Contains(body, "14 Mar 2026") {
			t.Errorf("body does not mention the visit date:\n%s", body)
		}
	})

	t.Run("scheduled without visit date", func(t *testing.T) {
		audit := sampleAudit()
		audit.VisitAt = nil
		_, body, err := composeMessage(audit, workflow.TemplateAuditScheduled)
		if err != nil {
			t.Fatalf("composeMessage() error: %v", err)
		}
		if !strings.Contains(body, "to be confirmed") {
			t.Errorf("body should fall back to a placeholder date:\n%s", body)
		}
	})

	t.Run("result includes aggregate score", func(t *testing.T) {
		_, body, err := composeMessage(sampleAudit(), workflow.TemplateAuditResult)
		if err != nil {
			t.Fatalf("composeMessage() error: %v", err)
		}
		if !strings.Contains(body, "80/100") {
			t.Errorf("body does not mention the score:\n%s", body)
		}
	})

	t.Run("result without score", func(t *testing.T) {
		audit := sampleAudit()
		audit.Progress = nil
		_, body, err := composeMessage(audit, workflow.TemplateAuditResult)
		if err != nil {
			t.Fatalf("composeMessage() error: %v", err)
		}
		if !strings.Contains(body, "completed its validation phase") {
			t.Errorf("body missing generic outcome:\n%s", body)
		}
	})

	t.Run("unknown template errors", func(t *testing.T) {
		if _, _, err := composeMessage(sampleAudit(), "password_reset"); err == nil {
			t.Error("expected error for unknown template, got nil")
		}
	})
}

// ---------------------------------------------------------------------------
// SMTPNotifier.Send
// ---------------------------------------------------------------------------

func TestSend_DisabledIsNoop(t *testing.T) {
	cfg := &config.NotificationsConfig{Enabled: false}
	n := NewSMTPNotifier(cfg, nil, discardLogger())

	if err := n.Send(context.Background(), sampleAudit(), workflow.TemplateAuditScheduled); err != nil {
		t.Errorf("Send() with notifications disabled returned error: %v", err)
	}
}

func TestSend_NoRecipientsIsNoop(t *testing.T) {
	cfg := &config.NotificationsConfig{
		Enabled: true,
		SMTP:    config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "audits@example.com"},
	}
	n := NewSMTPNotifier(cfg, func(*models.Audit, string) []string { return nil }, discardLogger())

	// No recipients means no SMTP connection is attempted, so this must
	// succeed even though the host is unreachable.
	if err := n.Send(context.Background(), sampleAudit(), workflow.TemplateAuditScheduled); err != nil {
		t.Errorf("Send() with no recipients returned error: %v", err)
	}
}

func TestSend_UnknownTemplate(t *testing.T) {
	cfg := &config.NotificationsConfig{
		Enabled: true,
		SMTP:    config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "audits@example.com"},
	}
	n := NewSMTPNotifier(cfg, nil, discardLogger())

	if err := n.Send(context.Background(), sampleAudit(), "bogus"); err == nil {
		t.Error("Send() expected error for unknown template, got nil")
	}
}
