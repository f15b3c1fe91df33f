// servicetoken.go handles the machine-to-machine service token: a long-lived
// random token whose bcrypt hash is stored in configuration. Callers present
// the raw token; only the hash ever leaves the generator.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// ServiceTokenLength is the length of the random part of the token in bytes
	ServiceTokenLength = 32

	// ServiceTokenPrefix marks portal service tokens so leaked credentials are
	// recognisable in logs and secret scanners
	ServiceTokenPrefix = "aud"

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// GenerateServiceToken creates a new random service token.
// Returns: full token (to show once) and its bcrypt hash (to store in config).
func GenerateServiceToken() (token string, hash string, err error) {
	randomBytes := make([]byte, ServiceTokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken := fmt.Sprintf("%s_%s", ServiceTokenPrefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullToken), BcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash service token: %w", err)
	}

	return fullToken, string(hashBytes), nil
}

// ValidateServiceToken checks if a provided token matches the stored hash.
func ValidateServiceToken(providedToken, storedHash string) bool {
	if providedToken == "" || storedHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedToken)) == nil
}
