// resolver.go maps raw spreadsheet headers to canonical field keys. Provider
// sites submit inventories exported from whatever tooling they have, so the
// same logical column arrives under many spellings ("Marca CPU", "cpu brand",
// "Procesador"). Matching is alias based: each canonical field registers an
// ordered list of keyword patterns, and the first header matching a field's
// alias set is bound to that field.
package ingest

import (
	"regexp"
	"strings"
)

// Canonical field keys of an inventory row.
const (
	FieldSite           = "site"
	FieldEmployeeID     = "employee_id"
	FieldHostname       = "hostname"
	FieldCPUBrand       = "cpu_brand"
	FieldCPUModel       = "cpu_model"
	FieldCPUSpeedGHz    = "cpu_speed_ghz"
	FieldRAMGB          = "ram_gb"
	FieldDiskType       = "disk_type"
	FieldDiskCapacityGB = "disk_capacity_gb"
	FieldOSName         = "os_name"
	FieldOSVersion      = "os_version"
	FieldISPName        = "isp_name"
	FieldConnectionType = "connection_type"
	FieldDownloadMbps   = "download_mbps"
	FieldUploadMbps     = "upload_mbps"
	FieldAntivirus      = "antivirus"
	FieldAttentionType  = "attention_type"
)

// fieldAlias is one canonical field with its header patterns, tried in order.
type fieldAlias struct {
	field    string
	patterns []*regexp.Regexp
}

// aliasRegistry lists canonical fields in registration order. Order matters
// twice: fields registered earlier win contested headers, and patterns within
// a field are tried first to last.
var aliasRegistry = []fieldAlias{
	{FieldSite, compileAliases(`\bsede\b`, `\bsite\b`, `sucursal`, `\blocal\b`)},
	{FieldEmployeeID, compileAliases(`dni`, `documento`, `empleado`, `employee`, `\bagente\b`, `\busuario\b`, `\buser\b`)},
	{FieldHostname, compileAliases(`hostname`, `host`, `equipo`, `\bpc\b`, `maquina`, `machine`)},
	{FieldCPUBrand, compileAliases(`marca.*(procesador|cpu)`, `(procesador|cpu).*marca`, `cpu.*brand`, `brand.*cpu`, `procesador`, `\bcpu\b`)},
	{FieldCPUModel, compileAliases(`modelo.*(procesador|cpu)`, `(procesador|cpu).*modelo`, `cpu.*model`, `model.*cpu`)},
	{FieldCPUSpeedGHz, compileAliases(`velocidad.*(procesador|cpu)`, `(ghz|gigahertz)`, `cpu.*speed`, `clock`, `frecuencia`)},
	{FieldRAMGB, compileAliases(`\bram\b`, `memoria`, `\bmemory\b`)},
	{FieldDiskType, compileAliases(`tipo.*(disco|almacenamiento)`, `disk.*type`, `storage.*type`, `\b(ssd|hdd)\b`)},
	{FieldDiskCapacityGB, compileAliases(`capacidad.*(disco|almacenamiento)`, `(disco|disk|storage).*(capacidad|capacity|size)`, `disco.*duro`, `hard.*(disk|drive)`, `\bdisco\b`)},
	{FieldOSName, compileAliases(`sistema.*operativo`, `operating.*system`, `\bs\.?o\.?\b`, `\bos\b`, `windows`)},
	{FieldOSVersion, compileAliases(`version.*(so|sistema|windows|os)`, `(so|os).*version`, `\bversion\b`, `\bbuild\b`)},
	{FieldISPName, compileAliases(`proveedor.*internet`, `\bisp\b`, `operador`, `carrier`)},
	{FieldConnectionType, compileAliases(`tipo.*(conexion|internet|red)`, `connection.*type`, `(fibra|fiber|adsl)`)},
	{FieldDownloadMbps, compileAliases(`(descarga|download|bajada)`, `velocidad.*internet`)},
	{FieldUploadMbps, compileAliases(`(subida|upload|carga)`)},
	{FieldAntivirus, compileAliases(`antivirus`, `\bav\b`, `defender`)},
	{FieldAttentionType, compileAliases(`tipo.*atencion`, `atencion`, `attention`, `(inbound|outbound|backoffice)`)},
}

func compileAliases(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// ColumnMapping is the result of resolving one header row.
type ColumnMapping struct {
	// Columns maps canonical field key to the zero-based column index it was
	// bound to.
	Columns map[string]int
	// Unresolved lists canonical fields no header matched, in registration
	// order. Their values default downstream rather than erroring.
	Unresolved []string
}

// Resolved reports whether a canonical field was bound to a column.
func (m *ColumnMapping) Resolved(field string) bool {
	_, ok := m.Columns[field]
	return ok
}

// ResolveColumns binds spreadsheet headers to canonical fields. Pure and
// deterministic: identical headers always produce the identical mapping. Each
// header binds at most one field; when two fields' aliases both match a
// header, the field registered first claims it.
func ResolveColumns(headers []string) *ColumnMapping {
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = foldHeader(h)
	}

	mapping := &ColumnMapping{Columns: make(map[string]int, len(aliasRegistry))}
	claimed := make(map[int]bool, len(headers))

	for _, alias := range aliasRegistry {
		idx := -1
		for _, pattern := range alias.patterns {
			for col, header := range folded {
				if claimed[col] || header == "" {
					continue
				}
				if pattern.MatchString(header) {
					idx = col
					break
				}
			}
			if idx >= 0 {
				break
			}
		}
		if idx >= 0 {
			mapping.Columns[alias.field] = idx
			claimed[idx] = true
		} else {
			mapping.Unresolved = append(mapping.Unresolved, alias.field)
		}
	}
	return mapping
}

// foldHeader lowercases, strips accents, and collapses whitespace so alias
// patterns only need to express the unaccented lowercase form.
func foldHeader(header string) string {
	return strings.Join(strings.Fields(foldAccents(strings.ToLower(header))), " ")
}

// accentFold maps the accented letters that show up in Spanish-language
// exports to their base form.
var accentFold = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
	"ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u",
	"Ü", "u", "Ñ", "n",
)

func foldAccents(s string) string {
	return accentFold.Replace(s)
}
