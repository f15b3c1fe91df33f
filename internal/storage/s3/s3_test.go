package s3

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/audit-portal/audit-portal/internal/config"
)

// ---------------------------------------------------------------------------
// New() constructor validation (no AWS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket: "",
		Region: "us-east-1",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_MissingRegion(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket: "my-bucket",
		Region: "",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for missing region")
	}
}

func TestNew_StaticAuth_MissingKeys(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket:      "my-bucket",
		Region:      "us-east-1",
		AuthMethod:  "static",
		AccessKeyID: "", // missing
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for static auth with missing keys")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket:     "my-bucket",
		Region:     "us-east-1",
		AuthMethod: "unsupported-method",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for unsupported auth method")
	}
}

func TestNew_StaticAuth_WithEndpoint(t *testing.T) {
	cfg := &appconfig.S3StorageConfig{
		Bucket:          "my-bucket",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "http://localhost:9000",
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() with custom endpoint error: %v", err)
	}
	if s == nil {
		t.Error("New() returned nil storage")
	}
}

// ---------------------------------------------------------------------------
// Mock S3-compatible HTTP server for operations tests
// ---------------------------------------------------------------------------

type s3MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte            // key → content
	meta    map[string]map[string]string // key → amz-meta headers (lowercase, no prefix)
}

// newS3TestStorage creates an S3Storage backed by a minimal mock HTTP server.
// The server speaks just enough of the S3 REST API (path-style) for CRUD tests.
func newS3TestStorage(t *testing.T) (*S3Storage, *s3MockStore) {
	t.Helper()

	ms := &s3MockStore{
		objects: map[string][]byte{},
		meta:    map[string]map[string]string{},
	}

	const bucket = "test-bucket"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		idx := strings.IndexByte(path, '/')
		if idx < 0 {
			// Bucket-level operation
			w.WriteHeader(http.StatusOK)
			return
		}
		key := path[idx+1:]

		ms.mu.Lock()
		defer ms.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(r.Body); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			ms.objects[key] = buf.Bytes()
			meta := map[string]string{}
			for name, vals := range r.Header {
				lower := strings.ToLower(name)
				if strings.HasPrefix(lower, "x-amz-meta-") && len(vals) > 0 {
					meta[strings.TrimPrefix(lower, "x-amz-meta-")] = vals[0]
				}
			}
			ms.meta[key] = meta
			w.Header().Set("ETag", `"mock-etag"`)
			w.WriteHeader(http.StatusOK)

		case http.MethodGet, http.MethodHead:
			content, ok := ms.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			for k, v := range ms.meta[key] {
				w.Header().Set("x-amz-meta-"+k, v)
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(content)
			}

		case http.MethodDelete:
			delete(ms.objects, key)
			delete(ms.meta, key)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          bucket,
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s, ms
}

// ---------------------------------------------------------------------------
// Operations against the mock server
// ---------------------------------------------------------------------------

func TestUploadAndDownload(t *testing.T) {
	s, ms := newS3TestStorage(t)
	ctx := context.Background()

	content := []byte("site;hostname\nmadrid-01;ws-001\n")
	result, err := s.Upload(ctx, "inventories/audit-1/inventory.csv", content)
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if result.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", result.Size, len(content))
	}
	if len(result.Checksum) != 64 {
		t.Errorf("Checksum len = %d, want 64", len(result.Checksum))
	}
	if ms.meta["inventories/audit-1/inventory.csv"]["sha256"] != result.Checksum {
		t.Error("sha256 metadata header not stored with object")
	}

	got, err := s.Download(ctx, "inventories/audit-1/inventory.csv")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Download() = %q, want %q", got, content)
	}
}

func TestDownload_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)
	if _, err := s.Download(context.Background(), "missing/key"); err == nil {
		t.Error("Download() expected error for missing object, got nil")
	}
}

func TestExists(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "missing/key")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if exists {
		t.Error("Exists() = true for missing object")
	}

	if _, err := s.Upload(ctx, "reports/audit-1/r.json", []byte("{}")); err != nil {
		t.Fatal("Upload:", err)
	}
	exists, err = s.Exists(ctx, "reports/audit-1/r.json")
	if err != nil {
		t.Fatalf("Exists() error: %v", err)
	}
	if !exists {
		t.Error("Exists() = false for uploaded object")
	}
}

func TestDelete(t *testing.T) {
	s, ms := newS3TestStorage(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "documents/audit-1/plan.pdf", []byte("pdf")); err != nil {
		t.Fatal("Upload:", err)
	}
	if err := s.Delete(ctx, "documents/audit-1/plan.pdf"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok := ms.objects["documents/audit-1/plan.pdf"]; ok {
		t.Error("object still present after Delete()")
	}
}

func TestGetMetadata(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	content := []byte("inventory bytes")
	result, err := s.Upload(ctx, "inventories/audit-1/inv.xlsx", content)
	if err != nil {
		t.Fatal("Upload:", err)
	}

	meta, err := s.GetMetadata(ctx, "inventories/audit-1/inv.xlsx")
	if err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if meta.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(content))
	}
	if meta.Checksum != result.Checksum {
		t.Errorf("Checksum = %q, want %q", meta.Checksum, result.Checksum)
	}
}
