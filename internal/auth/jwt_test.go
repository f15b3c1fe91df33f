package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/audit-portal/audit-portal/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&config.AuthConfig{
		JWTSecret: "test-jwt-secret-that-is-32-chars-!",
		JWTExpiry: time.Hour,
	})
	if err != nil {
		t.Fatal("NewManager:", err)
	}
	return m
}

func TestNewManager(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		if _, err := NewManager(&config.AuthConfig{JWTExpiry: time.Hour}); err == nil {
			t.Error("NewManager() expected error for empty secret, got nil")
		}
	})

	t.Run("zero expiry falls back to default", func(t *testing.T) {
		m, err := NewManager(&config.AuthConfig{JWTSecret: "secret"})
		if err != nil {
			t.Fatalf("NewManager() error: %v", err)
		}
		if m.expiry != 12*time.Hour {
			t.Errorf("expiry = %v, want 12h default", m.expiry)
		}
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	m := newTestManager(t)

	t.Run("round trip", func(t *testing.T) {
		token, err := m.GenerateToken("user-123", RoleAuditor)
		if err != nil {
			t.Fatalf("GenerateToken() error: %v", err)
		}
		if token == "" {
			t.Fatal("GenerateToken() returned empty token")
		}

		claims, err := m.ValidateToken(token)
		if err != nil {
			t.Fatalf("ValidateToken() error: %v", err)
		}
		if claims.UserID != "user-123" {
			t.Errorf("claims.UserID = %q, want user-123", claims.UserID)
		}
		if claims.Role != RoleAuditor {
			t.Errorf("claims.Role = %q, want auditor", claims.Role)
		}
		if claims.Subject != "user-123" {
			t.Errorf("claims.Subject = %q, want user-123", claims.Subject)
		}
		if claims.Issuer != "audit-portal" {
			t.Errorf("claims.Issuer = %q, want audit-portal", claims.Issuer)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		if _, err := m.ValidateToken("not-a-jwt"); err == nil {
			t.Error("ValidateToken() expected error for garbage token, got nil")
		}
	})

	t.Run("token signed with other secret rejected", func(t *testing.T) {
		other, err := NewManager(&config.AuthConfig{JWTSecret: "another-secret-entirely-32-chars!", JWTExpiry: time.Hour})
		if err != nil {
			t.Fatal("NewManager:", err)
		}
		token, err := other.GenerateToken("user-123", RoleAdmin)
		if err != nil {
			t.Fatal("GenerateToken:", err)
		}
		if _, err := m.ValidateToken(token); err == nil {
			t.Error("ValidateToken() accepted token signed with a different secret")
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		short, err := NewManager(&config.AuthConfig{JWTSecret: "test-jwt-secret-that-is-32-chars-!", JWTExpiry: time.Millisecond})
		if err != nil {
			t.Fatal("NewManager:", err)
		}
		token, err := short.GenerateToken("user-123", RoleViewer)
		if err != nil {
			t.Fatal("GenerateToken:", err)
		}
		time.Sleep(10 * time.Millisecond)
		if _, err := m.ValidateToken(token); err == nil {
			t.Error("ValidateToken() accepted an expired token")
		}
	})

	t.Run("tampered token rejected", func(t *testing.T) {
		token, err := m.GenerateToken("user-123", RoleViewer)
		if err != nil {
			t.Fatal("GenerateToken:", err)
		}
		parts := strings.Split(token, ".")
		if len(parts) != 3 {
			t.Fatalf("token has %d parts, want 3", len(parts))
		}
		tampered := parts[0] + "." + parts[1] + "." + "AAAA" + parts[2][4:]
		if _, err := m.ValidateToken(tampered); err == nil {
			t.Error("ValidateToken() accepted a tampered token")
		}
	})
}
