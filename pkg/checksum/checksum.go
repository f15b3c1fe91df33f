// Package checksum provides SHA-256 checksum utilities for file integrity.
// The ingestion pipeline hashes every submitted inventory file to detect
// duplicate submissions, and the storage layer records the same hash alongside
// retained files. Keeping this logic in a dedicated package applies consistent
// hashing behaviour across ingestion, storage, and report artifacts without
// duplicating crypto/sha256 wiring throughout the codebase.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// CalculateSHA256 calculates the SHA256 checksum of data from a reader
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SHA256Bytes returns the hex-encoded SHA256 of an in-memory byte slice.
func SHA256Bytes(data []byte) string {
	sum, _ := CalculateSHA256(bytes.NewReader(data))
	return sum
}

// VerifySHA256 verifies that the checksum of data matches the expected checksum
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	return actualChecksum == expectedChecksum, nil
}
