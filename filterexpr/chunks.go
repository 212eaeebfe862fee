package filterexpr

import (
	"regexp"
	"strings"
)

// chunkFieldRemap maps card-index field names onto their chunk-index
// equivalents. Fields absent from this table and from the chunk schema's
// native attributes are dropped from the adapted filter.
var chunkFieldRemap = map[string]string{
	"topics":   "tags",
	"tags":     "tags",
	"language": "data.language",
	"creator":  "data.creator",
	"author":   "data.creator",
}

// ChunkFilterableAttributes is the chunk index's filterable attribute
// set. card_id must stay filterable — the hybrid executor also uses it
// as the distinct attribute.
func ChunkFilterableAttributes() []string {
	return []string{"tags", "section", "card_id", "data.language", "data.creator"}
}

func chunkFieldAllowed(field string) bool {
	if _, ok := chunkFieldRemap[field]; ok {
		return true
	}
	if field == "section" || field == "card_id" {
		return true
	}
	return strings.HasPrefix(field, "data.")
}

// chunkFieldDenied reports whether a comparison on field must be dropped
// for the chunk index: the field exists on the card index but has no
// chunk-index counterpart (token counters, feature flags, provenance,
// ranking scores...).
func chunkFieldDenied(field string) bool {
	return CardFields[field] && !chunkFieldAllowed(field)
}

// AdaptForChunks rewrites a card-index filter for the chunk index:
// supported fields are remapped (topics→tags, language→data.language,
// creator/author→data.creator) and comparisons on card-only attributes
// are dropped. Drops propagate upward so that an AND or OR with one
// dropped side degrades to the surviving side — a dropped clause may only
// ever weaken the filter, never flip an OR into something more
// restrictive.
//
// When the input does not parse, a regex-based text rewrite is used
// instead; fallback reports that this best-effort path was taken so the
// caller can log it. The fallback may over- or under-match.
func AdaptForChunks(s string) (filter string, fallback bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	if ast := Parse(trimmed); ast != nil {
		adapted, kept := chunkNode(ast)
		if !kept {
			return "", false
		}
		return Render(adapted), false
	}
	return chunkFallback(trimmed), true
}

// chunkNode transforms one AST node. kept=false means the node (and
// everything under it) was dropped.
func chunkNode(n Node) (Node, bool) {
	switch v := n.(type) {
	case Literal:
		field, rest, ok := splitComparison(v.Text)
		if !ok {
			return v, true
		}
		if chunkFieldDenied(field) {
			return nil, false
		}
		if mapped, ok := chunkFieldRemap[field]; ok {
			return Literal{Text: mapped + rest}, true
		}
		return v, true
	case Not:
		child, kept := chunkNode(v.Child)
		if !kept {
			return nil, false
		}
		return Not{Child: child}, true
	case And:
		left, lk := chunkNode(v.Left)
		right, rk := chunkNode(v.Right)
		switch {
		case lk && rk:
			return And{Left: left, Right: right}, true
		case lk:
			return left, true
		case rk:
			return right, true
		default:
			return nil, false
		}
	case Or:
		left, lk := chunkNode(v.Left)
		right, rk := chunkNode(v.Right)
		switch {
		case lk && rk:
			return Or{Left: left, Right: right}, true
		case lk:
			// Degrading to the surviving side only ever widens the OR,
			// which is the safe direction.
			return left, true
		case rk:
			return right, true
		default:
			return nil, false
		}
	default:
		return nil, false
	}
}

// valueRe matches a comparison's right-hand side: a quoted run or a bare
// token up to whitespace or a parenthesis.
const valueRe = `("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^\s()]+)`

var (
	danglingOpRe  = regexp.MustCompile(`\b(AND|OR)\s+(AND|OR)\b`)
	leadingOpRe   = regexp.MustCompile(`^\s*(AND|OR)\b`)
	trailingOpRe  = regexp.MustCompile(`\b(AND|OR|NOT)\s*$`)
	emptyParensRe = regexp.MustCompile(`\(\s*\)`)
	openOpRe      = regexp.MustCompile(`\(\s*(AND|OR)\b`)
	closeOpRe     = regexp.MustCompile(`\b(AND|OR|NOT)\s*\)`)
	openSpaceRe   = regexp.MustCompile(`\(\s+`)
	closeSpaceRe  = regexp.MustCompile(`\s+\)`)
	spacesRe      = regexp.MustCompile(`\s{2,}`)
)

var deniedCompRes = buildDeniedCompRes()

func buildDeniedCompRes() []*regexp.Regexp {
	var res []*regexp.Regexp
	for _, field := range cardFieldOrder {
		if !chunkFieldDenied(field) {
			continue
		}
		res = append(res, regexp.MustCompile(
			`\b(NOT\s+)?`+regexp.QuoteMeta(field)+`\s*(:|!=|>=|<=|=|>|<)\s*`+valueRe))
	}
	return res
}

var remapCompRes = buildRemapCompRes()

type remapCompRe struct {
	re   *regexp.Regexp
	repl string
}

func buildRemapCompRes() []remapCompRe {
	fields := []string{"topics", "language", "creator", "author"}
	var res []remapCompRe
	for _, f := range fields {
		res = append(res, remapCompRe{
			re:   regexp.MustCompile(`\b` + regexp.QuoteMeta(f) + `(\s*(?::|!=|>=|<=|=|>|<))`),
			repl: chunkFieldRemap[f] + "$1",
		})
	}
	return res
}

// chunkFallback is the best-effort text rewrite used when the filter
// does not parse: remap supported fields, excise comparisons on denied
// fields, then scrub the operators the excision left dangling.
func chunkFallback(s string) string {
	for _, r := range remapCompRes {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	for _, re := range deniedCompRes {
		s = re.ReplaceAllString(s, "")
	}

	// Scrub until stable: each pass can expose new dangling operators.
	for {
		prev := s
		s = danglingOpRe.ReplaceAllString(s, "$2")
		s = emptyParensRe.ReplaceAllString(s, "")
		s = openOpRe.ReplaceAllString(s, "(")
		s = closeOpRe.ReplaceAllString(s, ")")
		s = leadingOpRe.ReplaceAllString(s, "")
		s = trailingOpRe.ReplaceAllString(s, "")
		s = openSpaceRe.ReplaceAllString(s, "(")
		s = closeSpaceRe.ReplaceAllString(s, ")")
		s = spacesRe.ReplaceAllString(s, " ")
		s = strings.TrimSpace(s)
		if s == prev {
			break
		}
	}
	if s == "()" {
		return ""
	}
	return s
}
