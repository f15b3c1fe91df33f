// evaluator.go checks one normalized asset record against an audit's
// threshold snapshot. Five components are evaluated (cpu, ram, storage, os,
// network); each predicate yields pass/fail with a human-readable reason on
// failure, and the overall result is the AND of all five. Evaluation never
// errors: a record whose fields all degraded to unknown simply fails every
// predicate with a "data missing" reason.
package ingest

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/audit-portal/audit-portal/internal/db/models"
)

// Evaluated component names, in reporting order.
var ComponentNames = []string{"cpu", "ram", "storage", "os", "network"}

const reasonDataMissing = "data missing"

// Evaluate fills the record's ComponentCompliance, FailureReasons, and
// OverallCompliant fields in place.
func Evaluate(rec *models.AssetRecord, thresholds *models.ThresholdSet) {
	rec.ComponentCompliance = make(map[string]bool, len(ComponentNames))
	rec.FailureReasons = make(map[string]string)

	checks := map[string]func(*models.AssetRecord, *models.ThresholdSet) (bool, string){
		"cpu":     evaluateCPU,
		"ram":     evaluateRAM,
		"storage": evaluateStorage,
		"os":      evaluateOS,
		"network": evaluateNetwork,
	}

	rec.OverallCompliant = true
	for _, name := range ComponentNames {
		pass, reason := checks[name](rec, thresholds)
		rec.ComponentCompliance[name] = pass
		if !pass {
			rec.FailureReasons[name] = reason
			rec.OverallCompliant = false
		}
	}
}

func evaluateCPU(rec *models.AssetRecord, t *models.ThresholdSet) (bool, string) {
	if rec.CPUBrand == Unknown || rec.CPUSpeedGHz == 0 {
		return false, reasonDataMissing
	}
	if len(t.CPU.ApprovedBrands) > 0 && !containsFold(t.CPU.ApprovedBrands, rec.CPUBrand) {
		return false, fmt.Sprintf("cpu brand %q is not approved", rec.CPUBrand)
	}
	if rec.CPUSpeedGHz < t.CPU.MinSpeedGHz {
		return false, fmt.Sprintf("cpu speed %.1f GHz is below minimum %.1f GHz", rec.CPUSpeedGHz, t.CPU.MinSpeedGHz)
	}
	return true, ""
}

func evaluateRAM(rec *models.AssetRecord, t *models.ThresholdSet) (bool, string) {
	if rec.RAMGB == 0 {
		return false, reasonDataMissing
	}
	if rec.RAMGB < t.RAM.MinGB {
		return false, fmt.Sprintf("ram %.0f GB is below minimum %.0f GB", rec.RAMGB, t.RAM.MinGB)
	}
	return true, ""
}

func evaluateStorage(rec *models.AssetRecord, t *models.ThresholdSet) (bool, string) {
	if rec.DiskType == Unknown || rec.DiskCapacityGB == 0 {
		return false, reasonDataMissing
	}
	if len(t.Storage.AllowedTypes) > 0 && !containsFold(t.Storage.AllowedTypes, rec.DiskType) {
		return false, fmt.Sprintf("disk type %q is not allowed", rec.DiskType)
	}
	if rec.DiskCapacityGB < t.Storage.MinCapacityGB {
		return false, fmt.Sprintf("disk capacity %.0f GB is below minimum %.0f GB", rec.DiskCapacityGB, t.Storage.MinCapacityGB)
	}
	return true, ""
}

func evaluateOS(rec *models.AssetRecord, t *models.ThresholdSet) (bool, string) {
	if rec.OSName == Unknown {
		return false, reasonDataMissing
	}
	if len(t.OS.ApprovedNames) > 0 && !containsFold(t.OS.ApprovedNames, rec.OSName) {
		return false, fmt.Sprintf("operating system %q is not approved", rec.OSName)
	}
	if t.OS.MinVersion == "" {
		return true, ""
	}
	if rec.OSVersion == Unknown {
		return false, reasonDataMissing
	}
	have, err := goversion.NewVersion(rec.OSVersion)
	if err != nil {
		return false, fmt.Sprintf("os version %q is not comparable", rec.OSVersion)
	}
	want, err := goversion.NewVersion(t.OS.MinVersion)
	if err != nil {
		// A malformed threshold should not fail every row; treat the version
		// requirement as unset.
		return true, ""
	}
	if have.LessThan(want) {
		return false, fmt.Sprintf("os version %s is below minimum %s", rec.OSVersion, t.OS.MinVersion)
	}
	return true, ""
}

func evaluateNetwork(rec *models.AssetRecord, t *models.ThresholdSet) (bool, string) {
	if rec.DownloadMbps == 0 || rec.UploadMbps == 0 {
		return false, reasonDataMissing
	}
	attention := rec.AttentionType
	if attention == Unknown || attention == "" {
		attention = t.Network.DefaultAttention
	}
	minDown := t.Network.DownloadFor(attention)
	minUp := t.Network.UploadFor(attention)
	if rec.DownloadMbps < minDown {
		return false, fmt.Sprintf("download %.0f Mbps is below minimum %.0f Mbps for %s", rec.DownloadMbps, minDown, attention)
	}
	if rec.UploadMbps < minUp {
		return false, fmt.Sprintf("upload %.0f Mbps is below minimum %.0f Mbps for %s", rec.UploadMbps, minUp, attention)
	}
	return true, ""
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
