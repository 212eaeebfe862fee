package cardsearch

import (
	"fmt"
	"strings"
)

// StructuredParams are the discrete filter controls the controllers
// expose (checkboxes, range sliders, enum dropdowns). BuildFilter turns
// them into one backend filter string before it reaches the compiler.
type StructuredParams struct {
	// Tags a card must all carry.
	Tags []string
	// Topics a card may match any of.
	Topics []string

	Language string
	Source   string
	Author   string

	Visibility string

	HasLorebook       *bool
	HasGallery        *bool
	HasEmbeddedImages *bool
	Favorited         *bool

	MinRating float64
	MinStars  int64
	MinTokens int64
	MaxTokens int64

	// CreatedAfter / CreatedBefore bound createdAt, ms since epoch.
	CreatedAfter  int64
	CreatedBefore int64

	// Extra is a raw filter clause ANDed in verbatim; it goes through the
	// filter compiler with everything else.
	Extra string
}

// BuildFilter assembles a filter string from structured parameters.
// All clauses are AND-joined; Topics expand to a parenthesized OR.
func BuildFilter(p StructuredParams) string {
	var clauses []string

	for _, tag := range p.Tags {
		clauses = append(clauses, eqLower("tags", tag))
	}
	if len(p.Topics) > 0 {
		or := make([]string, len(p.Topics))
		for i, topic := range p.Topics {
			or[i] = eqLower("topics", topic)
		}
		if len(or) == 1 {
			clauses = append(clauses, or[0])
		} else {
			clauses = append(clauses, "("+strings.Join(or, " OR ")+")")
		}
	}

	if p.Language != "" {
		clauses = append(clauses, eqLower("language", p.Language))
	}
	if p.Source != "" {
		clauses = append(clauses, eq("source", p.Source))
	}
	if p.Author != "" {
		clauses = append(clauses, eq("author", p.Author))
	}
	if p.Visibility != "" {
		clauses = append(clauses, eq("visibility", p.Visibility))
	}

	for _, flag := range []struct {
		field string
		value *bool
	}{
		{"hasLorebook", p.HasLorebook},
		{"hasGallery", p.HasGallery},
		{"hasEmbeddedImages", p.HasEmbeddedImages},
		{"favorited", p.Favorited},
	} {
		if flag.value != nil {
			clauses = append(clauses, fmt.Sprintf("%s = %t", flag.field, *flag.value))
		}
	}

	if p.MinRating > 0 {
		clauses = append(clauses, fmt.Sprintf("rating >= %g", p.MinRating))
	}
	if p.MinStars > 0 {
		clauses = append(clauses, fmt.Sprintf("starCount >= %d", p.MinStars))
	}
	if p.MinTokens > 0 {
		clauses = append(clauses, fmt.Sprintf("tokenTotal >= %d", p.MinTokens))
	}
	if p.MaxTokens > 0 {
		clauses = append(clauses, fmt.Sprintf("tokenTotal <= %d", p.MaxTokens))
	}
	if p.CreatedAfter > 0 {
		clauses = append(clauses, fmt.Sprintf("createdAt >= %d", p.CreatedAfter))
	}
	if p.CreatedBefore > 0 {
		clauses = append(clauses, fmt.Sprintf("createdAt <= %d", p.CreatedBefore))
	}

	if extra := strings.TrimSpace(p.Extra); extra != "" {
		if len(clauses) > 0 {
			extra = "(" + extra + ")"
		}
		clauses = append(clauses, extra)
	}

	return strings.Join(clauses, " AND ")
}

func eq(field, value string) string {
	return fmt.Sprintf("%s = %q", field, strings.TrimSpace(value))
}

// eqLower matches the lower-casing the document builder applies to tag,
// topic and language values.
func eqLower(field, value string) string {
	return eq(field, strings.ToLower(value))
}
