package filterexpr

import "strings"

// maxDisjuncts caps the DNF expansion. A query text that expands past
// this is searched as one literal phrase instead of federated.
const maxDisjuncts = 16

// Disjuncts expands a query text written in the boolean grammar into its
// top-level OR of phrases, flattening each AND group into one
// space-joined phrase:
//
//	`a AND b OR c` → ["a b", "c"]
//	`(a OR b) AND c` → ["a c", "b c"]
//
// NOT subtrees contribute nothing — negation is not expressible as a
// lexical phrase. Unparsable or non-boolean text yields the trimmed
// input as a single phrase. Duplicate phrases are removed, first
// occurrence wins.
func Disjuncts(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	ast := Parse(trimmed)
	if ast == nil {
		return []string{collapseSpaces(trimmed)}
	}

	groups := dnf(ast)
	if len(groups) == 0 || len(groups) > maxDisjuncts {
		return []string{collapseSpaces(trimmed)}
	}

	seen := make(map[string]bool, len(groups))
	var phrases []string
	for _, g := range groups {
		phrase := strings.Join(g, " ")
		if phrase == "" || seen[phrase] {
			continue
		}
		seen[phrase] = true
		phrases = append(phrases, phrase)
	}
	if len(phrases) == 0 {
		return []string{collapseSpaces(trimmed)}
	}
	return phrases
}

// dnf returns the disjunctive normal form of n as lists of literal texts.
func dnf(n Node) [][]string {
	switch v := n.(type) {
	case Literal:
		return [][]string{{v.Text}}
	case Not:
		return nil
	case Or:
		return append(dnf(v.Left), dnf(v.Right)...)
	case And:
		left := dnf(v.Left)
		right := dnf(v.Right)
		if len(left) == 0 {
			return right
		}
		if len(right) == 0 {
			return left
		}
		var out [][]string
		for _, l := range left {
			for _, r := range right {
				group := make([]string, 0, len(l)+len(r))
				group = append(group, l...)
				group = append(group, r...)
				out = append(out, group)
			}
		}
		return out
	default:
		return nil
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
