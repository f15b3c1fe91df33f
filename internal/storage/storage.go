// Package storage defines the Storage interface shared by all file backends.
// The portal keeps three kinds of objects: submitted inventory spreadsheets,
// on-site presentation documents, and generated report artifacts. Files are
// small (spreadsheets and JSON reports), so the interface works on whole byte
// slices rather than streams.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"time"
)

// Storage is implemented by every file backend.
type Storage interface {
	// Upload stores a file and returns the storage result with path and checksum
	Upload(ctx context.Context, path string, data []byte) (*UploadResult, error)

	// Download retrieves the full file contents
	Download(ctx context.Context, path string) ([]byte, error)

	// Delete removes a file from storage
	Delete(ctx context.Context, path string) error

	// Exists checks if a file exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata retrieves file metadata without downloading the entire file
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult contains information about an uploaded file
type UploadResult struct {
	// Path is the storage path where the file was stored
	Path string

	// Size is the file size in bytes
	Size int64

	// Checksum is the SHA256 hash of the file contents
	Checksum string
}

// FileMetadata contains metadata about a stored file
type FileMetadata struct {
	// Path is the storage path of the file
	Path string

	// Size is the file size in bytes
	Size int64

	// Checksum is the SHA256 hash of the file contents
	Checksum string

	// LastModified is the timestamp when the file was last modified
	LastModified time.Time
}

// InventoryPath is the canonical object key for an audit's inventory file.
func InventoryPath(auditID, filename string) string {
	return "inventories/" + auditID + "/" + filename
}

// ReportPath is the canonical object key for an audit's report artifact.
func ReportPath(auditID, artifactID string) string {
	return "reports/" + auditID + "/" + artifactID + ".json"
}

// DocumentPath is the canonical object key for a presentation document upload.
func DocumentPath(auditID, section, filename string) string {
	return "documents/" + auditID + "/" + section + "/" + filename
}
