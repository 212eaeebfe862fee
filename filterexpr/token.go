package filterexpr

import "strings"

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

// tokenize scans s into parenthesis, keyword, and literal tokens.
//
// Quoted runs (single or double quotes, backslash escapes) are kept
// verbatim inside the current literal, quotes included, so a quoted "OR"
// is never promoted to a keyword. Adjacent unquoted words accumulate into
// one whitespace-collapsed literal until a keyword or parenthesis breaks
// the run.
func tokenize(s string) []token {
	var toks []token
	var lit strings.Builder
	pendingSpace := false

	flush := func() {
		pendingSpace = false
		if lit.Len() == 0 {
			return
		}
		toks = append(toks, token{kind: tokLiteral, text: lit.String()})
		lit.Reset()
	}

	// appendPart adds a word or quoted run to the current literal. A
	// space is inserted only when whitespace separated it from the
	// previous part, so `tags:"OR"` stays one undivided comparison.
	appendPart := func(w string) {
		if pendingSpace && lit.Len() > 0 {
			lit.WriteByte(' ')
		}
		pendingSpace = false
		lit.WriteString(w)
	}

	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == '(':
			flush()
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			flush()
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case r == '\'' || r == '"':
			quoted, next := scanQuoted(runes, i)
			appendPart(quoted)
			i = next
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if lit.Len() > 0 {
				pendingSpace = true
			}
			i++
		default:
			start := i
			for i < len(runes) {
				c := runes[i]
				if c == '(' || c == ')' || c == '\'' || c == '"' ||
					c == ' ' || c == '\t' || c == '\n' || c == '\r' {
					break
				}
				i++
			}
			word := string(runes[start:i])
			switch word {
			case "AND":
				flush()
				toks = append(toks, token{kind: tokAnd, text: word})
			case "OR":
				flush()
				toks = append(toks, token{kind: tokOr, text: word})
			case "NOT":
				flush()
				toks = append(toks, token{kind: tokNot, text: word})
			default:
				appendPart(word)
			}
		}
	}
	flush()
	return toks
}

// scanQuoted consumes a quoted run starting at runes[start] (which holds
// the opening quote). Backslash escapes the next rune. The returned text
// includes the surrounding quotes; an unterminated quote swallows the
// rest of the input rather than failing.
func scanQuoted(runes []rune, start int) (string, int) {
	quote := runes[start]
	var b strings.Builder
	b.WriteRune(quote)
	i := start + 1
	for i < len(runes) {
		r := runes[i]
		if r == '\\' && i+1 < len(runes) {
			b.WriteRune(r)
			b.WriteRune(runes[i+1])
			i += 2
			continue
		}
		b.WriteRune(r)
		i++
		if r == quote {
			return b.String(), i
		}
	}
	return b.String(), i
}
