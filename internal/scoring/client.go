// Package scoring calls the external AI document scoring service. Only the
// result contract matters here: the service receives an audit identifier and
// returns a score out of 100 plus free-form details which the workflow merges
// into the audit's progress projection.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/audit-portal/audit-portal/internal/config"
)

// Client implements workflow.DocumentScorer against an HTTP scoring service.
type Client struct {
	cfg    *config.ScoringConfig
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a scoring client. The request timeout comes from config;
// the caller's context is still honoured so a tighter action timeout wins.
func NewClient(cfg *config.ScoringConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type scoreRequest struct {
	AuditID string `json:"audit_id"`
}

type scoreResponse struct {
	Score   float64                `json:"score"`
	Details map[string]interface{} `json:"details"`
}

// Score requests a document score for the audit. When scoring is disabled the
// call succeeds with a zero score and is marked skipped in the details, so a
// deployment without the model never degrades transitions.
func (c *Client) Score(ctx context.Context, auditID string) (float64, map[string]interface{}, error) {
	if !c.cfg.Enabled {
		c.logger.Debug("document scoring disabled, skipping", "audit_id", auditID)
		return 0, map[string]interface{}{"skipped": true}, nil
	}

	payload, err := json.Marshal(scoreRequest{AuditID: auditID})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("scoring request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, nil, fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, nil, fmt.Errorf("failed to decode scoring response: %w", err)
	}
	if result.Score < 0 || result.Score > 100 {
		return 0, nil, fmt.Errorf("scoring service returned out-of-range score %v", result.Score)
	}

	return result.Score, result.Details, nil
}
