// Package chunk splits long card sections into overlapping character
// windows suitable for per-chunk embedding and semantic retrieval.
//
// Token counts are approximations: the archive never runs a real
// tokenizer, it uses the rune-count/4 heuristic everywhere so that chunk
// boundaries, stored offsets, and the "needs chunking" threshold all
// agree with each other.
package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options configures the chunking behaviour.
type Options struct {
	// WindowChars is the target window size in characters. Default: 2000.
	WindowChars int `json:"window_chars" yaml:"window_chars"`
	// OverlapChars is the number of characters shared between consecutive
	// windows. Default: 200.
	OverlapChars int `json:"overlap_chars" yaml:"overlap_chars"`
}

func (o *Options) defaults() {
	if o.WindowChars <= 0 {
		o.WindowChars = 2000
	}
	if o.OverlapChars < 0 || o.OverlapChars >= o.WindowChars {
		o.OverlapChars = 200
	}
}

// Chunk is one window of a section with its approximate token offsets.
type Chunk struct {
	Index      int    // 0-based position within the section
	Text       string // window text content
	StartToken int    // approximate start offset, chars/4
	EndToken   int    // approximate end offset, chars/4
}

// EstimateTokens approximates the token count of text as runes/4.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// Split divides text into overlapping character windows. Window edges are
// nudged backwards to the nearest whitespace so words are not cut in half,
// unless no whitespace exists in the trailing quarter of the window.
func Split(text string, opts Options) []Chunk {
	opts.defaults()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= opts.WindowChars {
		return []Chunk{{
			Index:      0,
			Text:       text,
			StartToken: 0,
			EndToken:   len(runes) / 4,
		}}
	}

	stride := opts.WindowChars - opts.OverlapChars

	var chunks []Chunk
	for start := 0; start < len(runes); start += stride {
		end := start + opts.WindowChars
		last := end >= len(runes)
		if last {
			end = len(runes)
		} else {
			end = breakAtSpace(runes, start, end)
		}

		window := strings.TrimSpace(string(runes[start:end]))
		if window == "" {
			break
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       window,
			StartToken: start / 4,
			EndToken:   end / 4,
		})
		if last {
			break
		}
		// Recompute stride from the actual break point so overlap stays
		// consistent when the window shrank to a word boundary.
		stride = (end - start) - opts.OverlapChars
		if stride <= 0 {
			stride = (end - start + 1) / 2
		}
	}
	return chunks
}

// breakAtSpace moves end backwards to the nearest whitespace rune, but no
// further than a quarter of the window, so a wall of text still splits.
func breakAtSpace(runes []rune, start, end int) int {
	limit := end - (end-start)/4
	for i := end; i > limit; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
