// normalizer.go converts raw cell values into canonical typed values. The
// inputs are free text typed by hand at provider sites, so every rule is best
// effort: normalization never returns an error, it degrades to the Unknown
// sentinel (or zero) and lets the evaluator fail that component honestly.
package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

// Unknown is the sentinel for values that could not be normalized with any
// confidence.
const Unknown = "unknown"

// Sanity clamps for numeric fields. Values outside the range are treated as
// unparsable and degrade to zero.
const (
	maxCPUSpeedGHz    = 10
	maxRAMGB          = 2048
	maxDiskCapacityGB = 65536
	maxLinkSpeedMbps  = 10000
)

var knownCPUBrands = []string{"intel", "amd", "apple", "qualcomm", "mediatek"}

var knownDiskTypes = map[string]string{
	"ssd":           "ssd",
	"solido":        "ssd",
	"estado solido": "ssd",
	"solid state":   "ssd",
	"nvme":          "nvme",
	"m.2":           "nvme",
	"m2":            "nvme",
	"hdd":           "hdd",
	"mecanico":      "hdd",
	"magnetico":     "hdd",
	"sata":          "hdd",
}

var knownOSNames = []string{"windows", "macos", "linux", "ubuntu", "chrome os"}

// Attention types recognized for network threshold lookup.
var knownAttentionTypes = []string{"inbound", "outbound", "backoffice", "mixed"}

var attentionSynonyms = map[string]string{
	"entrante":    "inbound",
	"recepcion":   "inbound",
	"saliente":    "outbound",
	"emision":     "outbound",
	"back office": "backoffice",
	"mixto":       "mixed",
	"mixta":       "mixed",
}

var truthySynonyms = map[string]bool{
	"si": true, "s": true, "yes": true, "y": true, "true": true, "1": true,
	"instalado": true, "activo": true, "vigente": true, "x": true,
}

// foldValue lowercases, strips accents and surrounding punctuation, and
// collapses whitespace. Shared by every string rule.
func foldValue(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = foldAccents(s)
	s = strings.Trim(s, ".,;:-_ ")
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeText is the identity rule for free-text fields (site, hostname,
// model). Empty input degrades to Unknown.
func NormalizeText(raw string) string {
	v := foldValue(raw)
	if v == "" {
		return Unknown
	}
	return v
}

// NormalizeCPUBrand matches the value against the known brand list; a cell
// holding a full processor description ("Intel Core i5-8250U") still resolves
// by substring.
func NormalizeCPUBrand(raw string) string {
	v := foldValue(raw)
	if v == "" {
		return Unknown
	}
	for _, brand := range knownCPUBrands {
		if strings.Contains(v, brand) {
			return brand
		}
	}
	return Unknown
}

// NormalizeDiskType maps storage descriptions onto ssd/nvme/hdd.
func NormalizeDiskType(raw string) string {
	v := foldValue(raw)
	if v == "" {
		return Unknown
	}
	// Exact synonym first, then substring so "disco ssd 480gb" still resolves.
	if t, ok := knownDiskTypes[v]; ok {
		return t
	}
	for synonym, t := range knownDiskTypes {
		if strings.Contains(v, synonym) {
			return t
		}
	}
	return Unknown
}

// NormalizeOSName matches against known operating system families.
func NormalizeOSName(raw string) string {
	v := foldValue(raw)
	if v == "" {
		return Unknown
	}
	for _, name := range knownOSNames {
		if strings.Contains(v, name) {
			return name
		}
	}
	return Unknown
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+)*`)

// NormalizeOSVersion extracts a dotted version number from free text. When a
// cell holds several numeric runs ("Windows 10 Pro build 10.0.19045"), the run
// with the most dots wins.
func NormalizeOSVersion(raw string) string {
	v := foldValue(raw)
	if v == "" {
		return Unknown
	}
	matches := versionPattern.FindAllString(v, -1)
	if len(matches) == 0 {
		return Unknown
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if strings.Count(m, ".") > strings.Count(best, ".") {
			best = m
		}
	}
	return best
}

// NormalizeAttentionType maps a position description onto the attention types
// network thresholds are keyed by.
func NormalizeAttentionType(raw string) string {
	v := foldValue(raw)
	if v == "" {
		return Unknown
	}
	for _, t := range knownAttentionTypes {
		if strings.Contains(v, t) {
			return t
		}
	}
	for synonym, t := range attentionSynonyms {
		if strings.Contains(v, synonym) {
			return t
		}
	}
	return Unknown
}

// NormalizeBool maps yes/no synonyms to a boolean. Anything unrecognized is
// false.
func NormalizeBool(raw string) bool {
	return truthySynonyms[foldValue(raw)]
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// NormalizeNumber extracts the first embedded number from free text with
// units ("8 GB" → 8, "3.5GHz" → 3.5, "2,4 ghz" → 2.4) and clamps it to
// (0, max]. Unparsable or out-of-range input degrades to 0.
func NormalizeNumber(raw string, max float64) float64 {
	v := foldValue(raw)
	if v == "" {
		return 0
	}
	match := numberPattern.FindString(v)
	if match == "" {
		return 0
	}
	match = strings.ReplaceAll(match, ",", ".")
	n, err := strconv.ParseFloat(match, 64)
	if err != nil || n <= 0 || n > max {
		return 0
	}
	return n
}

// NormalizeRAMGB parses a memory size, converting values that look like
// megabytes (e.g. "8192 MB") down to gigabytes.
func NormalizeRAMGB(raw string) float64 {
	v := foldValue(raw)
	n := NormalizeNumber(v, 1<<20)
	if n == 0 {
		return 0
	}
	if strings.Contains(v, "mb") || n > maxRAMGB {
		n = n / 1024
	}
	if n > maxRAMGB {
		return 0
	}
	return n
}

// NormalizeDiskCapacityGB parses a disk size, converting terabyte values to
// gigabytes ("1 TB" → 1024).
func NormalizeDiskCapacityGB(raw string) float64 {
	v := foldValue(raw)
	n := NormalizeNumber(v, maxDiskCapacityGB)
	if n == 0 {
		return 0
	}
	if strings.Contains(v, "tb") || (n <= 8 && !strings.Contains(v, "gb")) {
		n = n * 1024
	}
	if n > maxDiskCapacityGB {
		return 0
	}
	return n
}

// NormalizeCPUSpeedGHz parses a clock speed, converting megahertz values
// ("2400 MHz" → 2.4).
func NormalizeCPUSpeedGHz(raw string) float64 {
	v := foldValue(raw)
	n := NormalizeNumber(v, 100000)
	if n == 0 {
		return 0
	}
	if strings.Contains(v, "mhz") || n > maxCPUSpeedGHz {
		n = n / 1000
	}
	if n > maxCPUSpeedGHz {
		return 0
	}
	return n
}

// NormalizeLinkSpeedMbps parses a network speed in Mbps.
func NormalizeLinkSpeedMbps(raw string) float64 {
	return NormalizeNumber(raw, maxLinkSpeedMbps)
}
