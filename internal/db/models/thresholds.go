// thresholds.go defines the compliance rule set evaluated against normalized
// inventory rows. A ThresholdSet is snapshotted onto each audit at creation
// (JSONB column) and never updated afterwards, so the JSON tags here are part
// of the stored format and must stay backward compatible.
package models

import "time"

// ThresholdSet is one complete compliance rule set covering the five evaluated
// components: CPU, RAM, storage, operating system, and network speed.
type ThresholdSet struct {
	CPU     CPUThreshold     `json:"cpu"`
	RAM     RAMThreshold     `json:"ram"`
	Storage StorageThreshold `json:"storage"`
	OS      OSThreshold      `json:"os"`
	Network NetworkThreshold `json:"network"`
}

// CPUThreshold approves processor brands and requires a minimum clock speed.
type CPUThreshold struct {
	ApprovedBrands []string `json:"approved_brands"`
	MinSpeedGHz    float64  `json:"min_speed_ghz"`
}

// RAMThreshold requires a minimum amount of memory in gigabytes.
type RAMThreshold struct {
	MinGB float64 `json:"min_gb"`
}

// StorageThreshold restricts disk technology and requires a minimum capacity.
type StorageThreshold struct {
	AllowedTypes  []string `json:"allowed_types"`
	MinCapacityGB float64  `json:"min_capacity_gb"`
}

// OSThreshold approves operating system names and optionally requires a
// minimum version (compared as a semantic version, e.g. "10.0.19045").
type OSThreshold struct {
	ApprovedNames []string `json:"approved_names"`
	MinVersion    string   `json:"min_version,omitempty"`
}

// NetworkThreshold keys minimum link speeds by attention type. Rows whose
// attention type has no entry fall back to DefaultAttention's entry.
type NetworkThreshold struct {
	MinDownloadMbps  map[string]float64 `json:"min_download_mbps"`
	MinUploadMbps    map[string]float64 `json:"min_upload_mbps"`
	DefaultAttention string             `json:"default_attention"`
}

// DownloadFor returns the minimum download speed for an attention type,
// falling back to the default attention entry, then to zero.
func (n *NetworkThreshold) DownloadFor(attention string) float64 {
	if v, ok := n.MinDownloadMbps[attention]; ok {
		return v
	}
	return n.MinDownloadMbps[n.DefaultAttention]
}

// UploadFor returns the minimum upload speed for an attention type.
func (n *NetworkThreshold) UploadFor(attention string) float64 {
	if v, ok := n.MinUploadMbps[attention]; ok {
		return v
	}
	return n.MinUploadMbps[n.DefaultAttention]
}

// ThresholdProfile is a named, reusable ThresholdSet stored in the database.
// Audit creation copies the profile's rule set onto the audit as a snapshot.
type ThresholdProfile struct {
	ID        string
	Name      string
	Rules     *ThresholdSet
	CreatedAt time.Time
	UpdatedAt time.Time
}
