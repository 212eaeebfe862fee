package filterexpr

import (
	"reflect"
	"testing"
)

func TestParse_Precedence(t *testing.T) {
	// WHAT: AND binds tighter than OR.
	// WHY: `a AND b OR c` must mean (a AND b) OR c — the executor's
	// federation logic depends on it.
	ast := Parse("a AND b OR c")
	or, ok := ast.(Or)
	if !ok {
		t.Fatalf("root: got %T, want Or", ast)
	}
	if _, ok := or.Left.(And); !ok {
		t.Errorf("left: got %T, want And", or.Left)
	}
	if lit, ok := or.Right.(Literal); !ok || lit.Text != "c" {
		t.Errorf("right: got %#v, want Literal c", or.Right)
	}
}

func TestParse_NotBindsTightest(t *testing.T) {
	ast := Parse("NOT a AND b")
	and, ok := ast.(And)
	if !ok {
		t.Fatalf("root: got %T, want And", ast)
	}
	if _, ok := and.Left.(Not); !ok {
		t.Errorf("left: got %T, want Not", and.Left)
	}
}

func TestParse_Empty(t *testing.T) {
	if ast := Parse(""); ast != nil {
		t.Errorf("empty: got %#v, want nil", ast)
	}
	if ast := Parse("   "); ast != nil {
		t.Errorf("blank: got %#v, want nil", ast)
	}
}

func TestParse_Unbalanced(t *testing.T) {
	for _, s := range []string{"(a AND b", "a AND", "AND a", "a OR )", "NOT"} {
		if ast := Parse(s); ast != nil {
			t.Errorf("Parse(%q): got %#v, want nil", s, ast)
		}
	}
}

func TestTokenize_QuotedKeyword(t *testing.T) {
	// A tag literally named "OR" inside quotes must stay a literal.
	ast := Parse(`tags:"OR" AND a`)
	and, ok := ast.(And)
	if !ok {
		t.Fatalf("root: got %T, want And", ast)
	}
	lit, ok := and.Left.(Literal)
	if !ok || lit.Text != `tags:"OR"` {
		t.Errorf("left: got %#v, want tags:\"OR\"", and.Left)
	}
}

func TestTokenize_EscapedQuote(t *testing.T) {
	ast := Parse(`name:"say \"hi\"" OR b`)
	or, ok := ast.(Or)
	if !ok {
		t.Fatalf("root: got %T, want Or", ast)
	}
	lit := or.Left.(Literal)
	if lit.Text != `name:"say \"hi\""` {
		t.Errorf("literal: got %q", lit.Text)
	}
}

func TestRender_RoundTrip(t *testing.T) {
	in := "a AND (b OR c) AND NOT d"
	out := Render(Parse(in))
	// Re-parsing the rendered form must produce the same tree.
	if !reflect.DeepEqual(Parse(out), Parse(in)) {
		t.Errorf("round trip changed tree: %q → %q", in, out)
	}
}

func TestNormalizeFilter(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{
			"hasGallery:true AND (topics:elf OR topics:dragon)",
			`hasGallery = true AND (topics = "elf" OR topics = "dragon")`,
		},
		{"starCount:42", "starCount = 42"},
		{"rating:4.5", "rating = 4.5"},
		{"favorited:TRUE", "favorited = true"},
		{`topics:"dark elf"`, `topics = "dark elf"`},
		// Unknown fields pass through untouched.
		{"mystery:thing", "mystery:thing"},
		// Already-normalized comparisons are left alone.
		{`language = "en"`, `language = "en"`},
		{"starCount > 10", "starCount > 10"},
		// NOT survives normalization.
		{"NOT language:unknown", `NOT language = "unknown"`},
	}
	for _, tt := range tests {
		if got := NormalizeFilter(tt.in); got != tt.want {
			t.Errorf("NormalizeFilter(%q):\n got  %q\n want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeFilter_UnparsablePassThrough(t *testing.T) {
	in := "hasGallery:true AND (broken"
	if got := NormalizeFilter(in); got != in {
		t.Errorf("unparsable input must pass through: got %q", got)
	}
}

func TestAdaptForChunks_DropsCardOnlyFields(t *testing.T) {
	// WHAT: hasGallery has no chunk-index counterpart; only the topics
	// comparison survives, remapped to tags.
	got, fallback := AdaptForChunks(NormalizeFilter("hasGallery:true AND topics:elf"))
	if fallback {
		t.Fatal("parse path expected, fallback used")
	}
	if got != `tags = "elf"` {
		t.Errorf("got %q, want %q", got, `tags = "elf"`)
	}
}

func TestAdaptForChunks_OrDegradesToSurvivingSide(t *testing.T) {
	// WHAT: dropping one OR branch degrades to the other branch.
	// WHY: the adapted filter may only widen, never flip an OR into a
	// stricter constraint.
	got, fallback := AdaptForChunks(NormalizeFilter("hasGallery:true OR topics:elf"))
	if fallback {
		t.Fatal("parse path expected")
	}
	if got != `tags = "elf"` {
		t.Errorf("got %q, want %q", got, `tags = "elf"`)
	}
}

func TestAdaptForChunks_FieldRemap(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`topics = "elf"`, `tags = "elf"`},
		{`language = "en"`, `data.language = "en"`},
		{`author = "ashe"`, `data.creator = "ashe"`},
		{`creator = "ashe"`, `data.creator = "ashe"`},
		{`section = "description"`, `section = "description"`},
		{`card_id = "abc"`, `card_id = "abc"`},
		{`data.language = "en"`, `data.language = "en"`},
	}
	for _, tt := range tests {
		got, fallback := AdaptForChunks(tt.in)
		if fallback {
			t.Errorf("AdaptForChunks(%q): unexpected fallback", tt.in)
		}
		if got != tt.want {
			t.Errorf("AdaptForChunks(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAdaptForChunks_AllDropped(t *testing.T) {
	got, fallback := AdaptForChunks(NormalizeFilter("hasGallery:true AND favorited:true"))
	if fallback {
		t.Fatal("parse path expected")
	}
	if got != "" {
		t.Errorf("got %q, want empty filter", got)
	}
}

func TestAdaptForChunks_NestedDegradation(t *testing.T) {
	in := NormalizeFilter("topics:elf AND (hasGallery:true OR language:en)")
	got, fallback := AdaptForChunks(in)
	if fallback {
		t.Fatal("parse path expected")
	}
	// hasGallery drops; the inner OR degrades to its language side.
	want := `tags = "elf" AND data.language = "en"`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAdaptForChunks_Fallback(t *testing.T) {
	// Unbalanced parenthesis defeats the parser; the regex path must
	// still remap and strip without crashing.
	got, fallback := AdaptForChunks(`(hasGallery = true AND topics = "elf"`)
	if !fallback {
		t.Fatal("fallback path expected for unparsable input")
	}
	if got == "" {
		t.Fatal("fallback produced empty filter")
	}
	if want := `(tags = "elf"`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAdaptForChunks_Empty(t *testing.T) {
	got, fallback := AdaptForChunks("")
	if got != "" || fallback {
		t.Errorf("empty input: got (%q, %v)", got, fallback)
	}
}

func TestDisjuncts(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a AND b OR c", []string{"a b", "c"}},
		{"elf warrior", []string{"elf warrior"}},
		{"a OR b OR c", []string{"a", "b", "c"}},
		{"(a OR b) AND c", []string{"a c", "b c"}},
		{"a OR a", []string{"a"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := Disjuncts(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Disjuncts(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDisjuncts_NotContributesNothing(t *testing.T) {
	got := Disjuncts("a OR NOT b")
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("got %v, want [a]", got)
	}
	// Pure negation falls back to the raw text as one phrase.
	got = Disjuncts("NOT b")
	if !reflect.DeepEqual(got, []string{"NOT b"}) {
		t.Errorf("pure NOT: got %v, want [NOT b]", got)
	}
}
