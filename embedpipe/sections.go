package embedpipe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hazyhaar/carchive/cardstore"
)

// Card-level section names, in the order they are embedded and attached
// to the card document's vector payload.
var cardSections = []string{
	"description", "personality", "scenario",
	"first_mes", "mes_example", "system_prompt",
}

// section is one derivable text unit of a card. Alt greetings are
// chunk-only: they never contribute a card-level vector but every one of
// them is chunked and embedded regardless of length.
type section struct {
	Name        string
	Text        string
	AlwaysChunk bool
}

// cardSpec is the subset of the embedded card JSON the pipeline reads.
// The spec nests its payload under "data"; older exports are flat.
type cardSpec struct {
	Data *specFields `json:"data"`
	specFields
}

type specFields struct {
	Description        string   `json:"description"`
	Personality        string   `json:"personality"`
	Scenario           string   `json:"scenario"`
	FirstMes           string   `json:"first_mes"`
	MesExample         string   `json:"mes_example"`
	SystemPrompt       string   `json:"system_prompt"`
	AlternateGreetings []string `json:"alternate_greetings"`
}

func (s *cardSpec) fields() *specFields {
	if s.Data != nil {
		return s.Data
	}
	return &s.specFields
}

// gatherSections derives section texts with source precedence: parsed
// embedded card spec, then the sidecar metadata file, then the row's own
// columns. Only non-empty sections are returned.
func (p *Pipeline) gatherSections(c *cardstore.Card) []section {
	var spec, sidecar *specFields

	if c.CardJSON != "" {
		var parsed cardSpec
		if err := json.Unmarshal([]byte(c.CardJSON), &parsed); err != nil {
			p.log.Warn("malformed embedded card spec, falling back",
				"card", c.ID, "error", err)
		} else {
			spec = parsed.fields()
		}
	}
	if c.MetaPath != "" {
		data, err := p.readFile(c.MetaPath)
		if err != nil {
			p.log.Warn("sidecar metadata unreadable, falling back",
				"card", c.ID, "path", c.MetaPath, "error", err)
		} else {
			var parsed cardSpec
			if err := json.Unmarshal(data, &parsed); err != nil {
				p.log.Warn("malformed sidecar metadata, falling back",
					"card", c.ID, "path", c.MetaPath, "error", err)
			} else {
				sidecar = parsed.fields()
			}
		}
	}

	pick := func(fromSpec, fromSidecar func(*specFields) string, column string) string {
		if spec != nil {
			if v := fromSpec(spec); v != "" {
				return v
			}
		}
		if sidecar != nil {
			if v := fromSidecar(sidecar); v != "" {
				return v
			}
		}
		return column
	}

	texts := map[string]string{
		"description":   pick(func(f *specFields) string { return f.Description }, func(f *specFields) string { return f.Description }, c.Description),
		"personality":   pick(func(f *specFields) string { return f.Personality }, func(f *specFields) string { return f.Personality }, c.Personality),
		"scenario":      pick(func(f *specFields) string { return f.Scenario }, func(f *specFields) string { return f.Scenario }, c.Scenario),
		"first_mes":     pick(func(f *specFields) string { return f.FirstMes }, func(f *specFields) string { return f.FirstMes }, c.FirstMes),
		"mes_example":   pick(func(f *specFields) string { return f.MesExample }, func(f *specFields) string { return f.MesExample }, c.MesExample),
		"system_prompt": pick(func(f *specFields) string { return f.SystemPrompt }, func(f *specFields) string { return f.SystemPrompt }, c.SystemPrompt),
	}

	greetings := c.AltGreetings
	if spec != nil && len(spec.AlternateGreetings) > 0 {
		greetings = spec.AlternateGreetings
	} else if sidecar != nil && len(sidecar.AlternateGreetings) > 0 {
		greetings = sidecar.AlternateGreetings
	}

	var out []section
	for _, name := range cardSections {
		text := normalizeText(texts[name])
		if text == "" {
			continue
		}
		out = append(out, section{Name: name, Text: text})
	}
	for i, g := range greetings {
		text := normalizeText(g)
		if text == "" {
			continue
		}
		out = append(out, section{
			Name:        fmt.Sprintf("alt_greeting_%d", i),
			Text:        text,
			AlwaysChunk: true,
		})
	}
	return out
}

// normalizeText canonicalizes line endings and trims the edges so the
// same content always hashes identically regardless of which source or
// platform it came from.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
