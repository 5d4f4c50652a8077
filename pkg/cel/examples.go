package cel

// FilterExpressionExamples lists feed filters known to compile.
var FilterExpressionExamples = map[string]string{
	"creates_only":     `action == "create"`,
	"skip_deletes":     `action != "delete"`,
	"min_magnitude":    `has(data.properties.mag) && data.properties.mag >= 3.0`,
	"european_bbox":    `data.properties.lat >= 34.0 && data.properties.lat <= 72.0 && data.properties.lon >= -25.0 && data.properties.lon <= 45.0`,
	"region_contains":  `data.properties.flynn_region.contains("GREECE")`,
	"authority_in":     `data.properties.auth in ["EMSC", "INGV", "NOA"]`,
	"shallow":          `data.properties.depth < 70.0`,
	"combined":         `action in ["create", "update"] && data.properties.mag >= 4.5`,
	"envelope_has_key": `has(event.data) && has(data.properties.unid)`,
}
