package filterexpr

import (
	"regexp"
	"strings"
)

// CardFields is the allow-list of filterable attributes on the card
// index. NormalizeFilter only rewrites field:value comparisons whose
// field appears here; anything else passes through untouched so raw
// backend syntax written by power users keeps working.
//
// The same table seeds the card index filterableAttributes setting —
// a field missing here is silently unfilterable, so both consumers read
// one list.
var CardFields = map[string]bool{
	"id":                 true,
	"name":               true,
	"author":             true,
	"creator":            true,
	"source":             true,
	"sourceId":           true,
	"sourcePath":         true,
	"fullPath":           true,
	"language":           true,
	"topics":             true,
	"tags":               true,
	"visibility":         true,
	"favorited":          true,
	"hasLorebook":        true,
	"hasGallery":         true,
	"hasEmbeddedImages":  true,
	"rating":             true,
	"ratingCount":        true,
	"starCount":          true,
	"favoriteCount":      true,
	"chatCount":          true,
	"messageCount":       true,
	"tokenTotal":         true,
	"tokenDescription":   true,
	"tokenPersonality":   true,
	"tokenScenario":      true,
	"tokenFirstMes":      true,
	"tokenMesExample":    true,
	"scoreComposite":     true,
	"scoreVelocity":      true,
	"engagementScore":    true,
	"engagementVelocity": true,
	"createdAt":          true,
	"updatedAt":          true,
	"lastActivityAt":     true,
}

// CardFilterableAttributes returns the allow-list as a sorted-stable
// slice for index settings.
func CardFilterableAttributes() []string {
	out := make([]string, 0, len(CardFields))
	for _, f := range cardFieldOrder {
		out = append(out, f)
	}
	return out
}

// cardFieldOrder keeps settings payloads deterministic across restarts.
var cardFieldOrder = []string{
	"id", "name", "author", "creator", "source", "sourceId", "sourcePath",
	"fullPath", "language", "topics", "tags", "visibility", "favorited",
	"hasLorebook", "hasGallery", "hasEmbeddedImages", "rating",
	"ratingCount", "starCount", "favoriteCount", "chatCount",
	"messageCount", "tokenTotal", "tokenDescription", "tokenPersonality",
	"tokenScenario", "tokenFirstMes", "tokenMesExample", "scoreComposite",
	"scoreVelocity", "engagementScore", "engagementVelocity", "createdAt",
	"updatedAt", "lastActivityAt",
}

var numberRe = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// NormalizeFilter compiles a filter string for the card index: every
// field:value comparison on an allow-listed field becomes field = value
// with the value quoted as needed. An unparsable input is returned
// unchanged (pass-through, never an error).
func NormalizeFilter(s string) string {
	ast := Parse(s)
	if ast == nil {
		return s
	}
	return Render(normalizeNode(ast))
}

func normalizeNode(n Node) Node {
	switch v := n.(type) {
	case Literal:
		return Literal{Text: normalizeLiteral(v.Text)}
	case Not:
		return Not{Child: normalizeNode(v.Child)}
	case And:
		return And{Left: normalizeNode(v.Left), Right: normalizeNode(v.Right)}
	case Or:
		return Or{Left: normalizeNode(v.Left), Right: normalizeNode(v.Right)}
	default:
		return n
	}
}

func normalizeLiteral(text string) string {
	field, rest, ok := splitComparison(text)
	if !ok || !CardFields[field] {
		return text
	}
	rest = strings.TrimLeft(rest, " ")
	if !strings.HasPrefix(rest, ":") {
		// Already backend syntax (=, !=, >, <...): leave untouched.
		return text
	}
	value := strings.TrimSpace(rest[1:])
	if value == "" {
		return text
	}
	return field + " = " + quoteValue(value)
}

// quoteValue quotes value unless it is already quoted, a bare number, or
// a boolean (case-insensitive).
func quoteValue(value string) string {
	if len(value) >= 2 {
		if value[0] == '"' && value[len(value)-1] == '"' {
			return value
		}
		if value[0] == '\'' && value[len(value)-1] == '\'' {
			return value
		}
	}
	if numberRe.MatchString(value) {
		return value
	}
	switch strings.ToLower(value) {
	case "true", "false":
		return strings.ToLower(value)
	}
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}
