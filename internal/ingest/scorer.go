// scorer.go computes per-asset and per-job quality scores. The formula is
// fixed and must stay stable across releases because external dashboards
// compare scores between audits: 100 minus 20 per failing component, floored
// at 0, with the job aggregate being the rounded mean of the persisted
// records' scores.
package ingest

import (
	"math"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

const componentPenalty = 20

// Score computes the 0-100 quality score for one evaluated record.
func Score(rec *models.AssetRecord) int {
	failures := 0
	for _, pass := range rec.ComponentCompliance {
		if !pass {
			failures++
		}
	}
	score := 100 - componentPenalty*failures
	if score < 0 {
		score = 0
	}
	return score
}

// AggregateScore computes the rounded arithmetic mean of record scores.
// Returns 0 for an empty batch.
func AggregateScore(records []*models.AssetRecord) int {
	if len(records) == 0 {
		return 0
	}
	sum := 0
	for _, rec := range records {
		sum += rec.QualityScore
	}
	return int(math.Round(float64(sum) / float64(len(records))))
}
