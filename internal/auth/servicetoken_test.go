package auth

import (
	"strings"
	"testing"
)

func TestGenerateServiceToken(t *testing.T) {
	token, hash, err := GenerateServiceToken()
	if err != nil {
		t.Fatalf("GenerateServiceToken() error: %v", err)
	}

	if !strings.HasPrefix(token, ServiceTokenPrefix+"_") {
		t.Errorf("token = %q, want %s_ prefix", token, ServiceTokenPrefix)
	}
	if hash == "" {
		t.Fatal("empty hash")
	}
	if strings.Contains(hash, token) {
		t.Error("hash contains the raw token")
	}

	// Two generations never collide
	token2, _, err := GenerateServiceToken()
	if err != nil {
		t.Fatal("GenerateServiceToken:", err)
	}
	if token == token2 {
		t.Error("two generated tokens are identical")
	}
}

func TestValidateServiceToken(t *testing.T) {
	token, hash, err := GenerateServiceToken()
	if err != nil {
		t.Fatal("GenerateServiceToken:", err)
	}

	tests := []struct {
		name     string
		provided string
		hash     string
		want     bool
	}{
		{"correct token", token, hash, true},
		{"wrong token", "aud_wrong-token", hash, false},
		{"empty token", "", hash, false},
		{"empty hash", token, "", false},
		{"both empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateServiceToken(tt.provided, tt.hash); got != tt.want {
				t.Errorf("ValidateServiceToken() = %v, want %v", got, tt.want)
			}
		})
	}
}
