package chunk

import (
	"strings"
	"testing"
)

func TestSplit_ShortText(t *testing.T) {
	text := "Hello world, this is a short greeting."
	chunks := Split(text, Options{})
	if len(chunks) != 1 {
		t.Fatalf("split short: got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("text: got %q, want %q", chunks[0].Text, text)
	}
	if chunks[0].StartToken != 0 {
		t.Errorf("start token: got %d, want 0", chunks[0].StartToken)
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split("", Options{}); chunks != nil {
		t.Errorf("split empty: got %v, want nil", chunks)
	}
	if chunks := Split("   \n\t  ", Options{}); chunks != nil {
		t.Errorf("split blank: got %v, want nil", chunks)
	}
}

func TestSplit_LongText(t *testing.T) {
	words := make([]string, 500)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ") // 2499 chars

	chunks := Split(text, Options{WindowChars: 400, OverlapChars: 50})
	if len(chunks) < 5 {
		t.Fatalf("split long: got %d chunks, want >= 5", len(chunks))
	}

	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk[%d]: index=%d, want %d", i, c.Index, i)
		}
		if len([]rune(c.Text)) > 400 {
			t.Errorf("chunk[%d]: %d chars > 400 window", i, len([]rune(c.Text)))
		}
		if c.EndToken <= c.StartToken {
			t.Errorf("chunk[%d]: tokens [%d,%d] not increasing", i, c.StartToken, c.EndToken)
		}
	}

	// Offsets must be monotonically increasing across chunks.
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartToken <= chunks[i-1].StartToken {
			t.Errorf("chunk[%d]: start %d not after previous start %d",
				i, chunks[i].StartToken, chunks[i-1].StartToken)
		}
	}
}

func TestSplit_Overlap(t *testing.T) {
	// WHAT: Consecutive windows must share text.
	// WHY: Overlap prevents a sentence on a boundary from being lost to
	// both embeddings.
	words := make([]string, 300)
	for i := range words {
		words[i] = "alpha"
	}
	text := strings.Join(words, " ")

	chunks := Split(text, Options{WindowChars: 400, OverlapChars: 100})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	// The tail of chunk 0 must appear at the head of chunk 1.
	tail := chunks[0].Text[len(chunks[0].Text)-20:]
	if !strings.Contains(chunks[1].Text[:120], strings.TrimSpace(tail)) {
		t.Errorf("no overlap between chunk 0 tail %q and chunk 1 head %q",
			tail, chunks[1].Text[:120])
	}
}

func TestSplit_NoWhitespace(t *testing.T) {
	// A wall of text without spaces still splits at the window boundary.
	text := strings.Repeat("x", 1000)
	chunks := Split(text, Options{WindowChars: 300, OverlapChars: 50})
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want >= 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Text) > 300 {
			t.Errorf("chunk[%d]: %d chars > 300", i, len(c.Text))
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty: got %d, want 0", got)
	}
	if got := EstimateTokens(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("400 chars: got %d, want 100", got)
	}
}
