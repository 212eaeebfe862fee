package embedpipe

import (
	"errors"
	"testing"

	"github.com/hazyhaar/carchive/cardstore"
)

func sectionByName(secs []section, name string) (section, bool) {
	for _, s := range secs {
		if s.Name == name {
			return s, true
		}
	}
	return section{}, false
}

func TestGatherSections_Precedence(t *testing.T) {
	p := &Pipeline{log: testLogger(), readFile: func(path string) ([]byte, error) {
		return []byte(`{"data":{"description":"from sidecar","scenario":"sidecar scenario"}}`), nil
	}}

	c := &cardstore.Card{
		ID:          "c1",
		CardJSON:    `{"data":{"description":"from spec"}}`,
		MetaPath:    "/meta/c1.json",
		Description: "from column",
		Scenario:    "column scenario",
		Personality: "column personality",
	}

	secs := p.gatherSections(c)

	// Embedded spec beats sidecar beats column, field by field.
	if s, _ := sectionByName(secs, "description"); s.Text != "from spec" {
		t.Errorf("description = %q", s.Text)
	}
	if s, _ := sectionByName(secs, "scenario"); s.Text != "sidecar scenario" {
		t.Errorf("scenario = %q", s.Text)
	}
	if s, _ := sectionByName(secs, "personality"); s.Text != "column personality" {
		t.Errorf("personality = %q", s.Text)
	}
}

func TestGatherSections_MalformedSpecFallsBack(t *testing.T) {
	p := &Pipeline{log: testLogger(), readFile: func(string) ([]byte, error) {
		return nil, errors.New("no such file")
	}}

	c := &cardstore.Card{
		ID:          "c1",
		CardJSON:    `{not json`,
		MetaPath:    "/meta/missing.json",
		Description: "from column",
	}

	secs := p.gatherSections(c)
	if s, ok := sectionByName(secs, "description"); !ok || s.Text != "from column" {
		t.Errorf("description = %v %v", s, ok)
	}
}

func TestGatherSections_AltGreetingsAreChunkOnly(t *testing.T) {
	p := &Pipeline{log: testLogger()}
	c := &cardstore.Card{
		ID:           "c1",
		Description:  "desc",
		AltGreetings: []string{"hello there", "", "second greeting"},
	}

	secs := p.gatherSections(c)
	g0, ok := sectionByName(secs, "alt_greeting_0")
	if !ok || !g0.AlwaysChunk || g0.Text != "hello there" {
		t.Errorf("alt_greeting_0 = %+v %v", g0, ok)
	}
	// Empty greetings are dropped but the index is positional, so the
	// third greeting keeps its slot.
	if _, ok := sectionByName(secs, "alt_greeting_1"); ok {
		t.Error("empty greeting produced a section")
	}
	if g2, ok := sectionByName(secs, "alt_greeting_2"); !ok || g2.Text != "second greeting" {
		t.Errorf("alt_greeting_2 = %+v %v", g2, ok)
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("  line one\r\nline two\rline three\n\n")
	want := "line one\nline two\nline three"
	if got != want {
		t.Errorf("normalizeText = %q, want %q", got, want)
	}
	// Identical content from different platforms hashes identically.
	if hashText(normalizeText("a\r\nb")) != hashText(normalizeText("a\nb")) {
		t.Error("CRLF and LF content hash differently")
	}
}
