// Package filterexpr compiles the archive's boolean filter mini-language
// into backend-native filter syntax.
//
// The language is AND/OR/NOT with parentheses over bare field:value
// comparisons, e.g.
//
//	hasGallery:true AND (topics:elf OR topics:dragon) AND NOT language:unknown
//
// Precedence: AND binds tighter than OR, NOT binds tightest after
// parentheses. Keywords are case-sensitive and only recognised when
// delimited by whitespace, parentheses, or quotes — a tag literally named
// "OR" stays a literal as long as it is quoted.
//
// Parsing is deliberately forgiving: an empty or unparsable input yields
// a nil AST and callers pass the filter string through unmodified. The
// renderers (NormalizeFilter for the card index, AdaptForChunks for the
// chunk index) walk the AST without mutating it, so one parsed tree can
// feed both indexes.
package filterexpr

import "strings"

// Node is one node of a parsed filter expression. Concrete types are
// Literal, Not, And, and Or. Trees are immutable once built.
type Node interface {
	isNode()
}

// Literal is a bare comparison or free-form fragment, e.g. "topics:elf".
type Literal struct {
	Text string
}

// Not negates its child.
type Not struct {
	Child Node
}

// And joins two nodes conjunctively.
type And struct {
	Left, Right Node
}

// Or joins two nodes disjunctively.
type Or struct {
	Left, Right Node
}

func (Literal) isNode() {}
func (Not) isNode()     {}
func (And) isNode()     {}
func (Or) isNode()      {}

// Parse tokenizes and parses s. It returns nil when s is empty or the
// token stream does not form a valid expression; it never panics.
func Parse(s string) Node {
	toks := tokenize(s)
	if len(toks) == 0 {
		return nil
	}
	p := &parser{toks: toks}
	node := p.parseOr()
	if node == nil || p.pos != len(p.toks) {
		return nil
	}
	return node
}

// Render rebuilds a filter string from an AST. Nested AND/OR joins are
// parenthesized explicitly so operator precedence survives a round-trip;
// the outermost join is rendered bare.
func Render(n Node) string {
	return render(n, true)
}

func render(n Node, top bool) string {
	switch v := n.(type) {
	case Literal:
		return v.Text
	case Not:
		return "NOT " + render(v.Child, false)
	case And:
		s := render(v.Left, false) + " AND " + render(v.Right, false)
		if top {
			return s
		}
		return "(" + s + ")"
	case Or:
		s := render(v.Left, false) + " OR " + render(v.Right, false)
		if top {
			return s
		}
		return "(" + s + ")"
	default:
		return ""
	}
}

// splitComparison splits a literal like "field:value" or "field = value"
// into its field name and the remainder starting at the separator.
// ok is false when the literal has no recognisable field prefix.
func splitComparison(text string) (field, rest string, ok bool) {
	i := 0
	for i < len(text) {
		c := text[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' || c == '_' || c == '.' {
			i++
			continue
		}
		break
	}
	if i == 0 {
		return "", "", false
	}
	field = text[:i]
	rest = text[i:]
	trimmed := strings.TrimLeft(rest, " ")
	if strings.HasPrefix(trimmed, ":") || strings.HasPrefix(trimmed, "=") ||
		strings.HasPrefix(trimmed, "<") || strings.HasPrefix(trimmed, ">") ||
		strings.HasPrefix(trimmed, "!=") {
		return field, rest, true
	}
	return "", "", false
}
