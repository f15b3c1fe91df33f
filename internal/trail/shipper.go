// shipper.go implements the external trail destinations. A shipped entry is
// the flattened JSON form of a TrailEvent with an explicit timestamp, one
// JSON object per line for the file shipper and a JSON array per batch for
// the webhook shipper.
package trail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// Shipper sends trail events to one external destination.
type Shipper interface {
	Ship(ctx context.Context, event *models.TrailEvent) error
	Close() error
}

// ShipperConfig selects and configures one shipper.
type ShipperConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Type    string         `mapstructure:"type"`
	File    *FileConfig    `mapstructure:"file"`
	Webhook *WebhookConfig `mapstructure:"webhook"`
}

// FileConfig configures the append-only file shipper.
type FileConfig struct {
	Path      string `mapstructure:"path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// WebhookConfig configures the webhook shipper.
type WebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval"`
}

// BuildShippers constructs the enabled shippers from config.
func BuildShippers(configs []ShipperConfig) ([]Shipper, error) {
	shippers := make([]Shipper, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		switch cfg.Type {
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			s, err := NewFileShipper(cfg.File)
			if err != nil {
				return nil, fmt.Errorf("failed to create file shipper: %w", err)
			}
			shippers = append(shippers, s)
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shippers = append(shippers, NewWebhookShipper(cfg.Webhook))
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
	}
	return shippers, nil
}

// shippedEvent is the wire form of a trail event.
type shippedEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	AuditID   string                 `json:"audit_id"`
	Type      string                 `json:"type"`
	Before    *string                `json:"before,omitempty"`
	After     *string                `json:"after,omitempty"`
	Actor     *string                `json:"actor,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func toWire(event *models.TrailEvent) *shippedEvent {
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &shippedEvent{
		Timestamp: ts,
		AuditID:   event.AuditID,
		Type:      event.Type,
		Before:    event.Before,
		After:     event.After,
		Actor:     event.Actor,
		Metadata:  event.Metadata,
	}
}

// FileShipper appends events to a local file, one JSON object per line, with
// size-based rotation to a single .1 backup.
type FileShipper struct {
	cfg  *FileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the trail file.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open trail file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship appends one event.
func (fs *FileShipper) Ship(_ context.Context, event *models.TrailEvent) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				return fmt.Errorf("failed to rotate trail file: %w", err)
			}
		}
	}

	data, err := json.Marshal(toWire(event))
	if err != nil {
		return fmt.Errorf("failed to marshal trail event: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write trail event: %w", err)
	}
	return nil
}

func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}

// WebhookShipper POSTs events to an HTTP endpoint, optionally batching.
type WebhookShipper struct {
	cfg       *WebhookConfig
	client    *http.Client
	batchCh   chan *shippedEvent
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates a webhook shipper. With BatchSize > 0 events are
// queued and flushed as JSON arrays on size or interval.
func NewWebhookShipper(cfg *WebhookConfig) *WebhookShipper {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		batchCh: make(chan *shippedEvent, 1000),
		closeCh: make(chan struct{}),
	}
	if cfg.BatchSize > 0 {
		go ws.processBatches()
	}
	return ws
}

func (ws *WebhookShipper) processBatches() {
	flushInterval := ws.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*shippedEvent, 0, ws.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		data, err := json.Marshal(batch)
		batch = batch[:0]
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), ws.client.Timeout)
		_ = ws.post(ctx, data)
		cancel()
	}

	for {
		select {
		case entry := <-ws.batchCh:
			batch = append(batch, entry)
			if len(batch) >= ws.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ws.closeCh:
			flush()
			return
		}
	}
}

// Ship queues the event when batching, otherwise POSTs it directly.
func (ws *WebhookShipper) Ship(ctx context.Context, event *models.TrailEvent) error {
	wire := toWire(event)
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- wire:
			return nil
		default:
			// Queue full; fall through and send directly.
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to marshal trail event: %w", err)
	}
	return ws.post(ctx, data)
}

func (ws *WebhookShipper) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send trail webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("trail webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the batch loop, flushing anything queued.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() { close(ws.closeCh) })
	return nil
}
