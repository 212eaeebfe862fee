package filterexpr

// parser is a recursive-descent parser over the token stream.
// Grammar, lowest precedence first:
//
//	or      = and { "OR" and }
//	and     = not { "AND" not }
//	not     = "NOT" not | primary
//	primary = "(" or ")" | literal
//
// Every production returns nil on malformed input; Parse turns a nil or
// incomplete parse into a nil AST for the caller.
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() Node {
	left := p.parseAnd()
	if left == nil {
		return nil
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			return left
		}
		p.pos++
		right := p.parseAnd()
		if right == nil {
			return nil
		}
		left = Or{Left: left, Right: right}
	}
}

func (p *parser) parseAnd() Node {
	left := p.parseNot()
	if left == nil {
		return nil
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokAnd {
			return left
		}
		p.pos++
		right := p.parseNot()
		if right == nil {
			return nil
		}
		left = And{Left: left, Right: right}
	}
}

func (p *parser) parseNot() Node {
	t, ok := p.peek()
	if ok && t.kind == tokNot {
		p.pos++
		child := p.parseNot()
		if child == nil {
			return nil
		}
		return Not{Child: child}
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() Node {
	t, ok := p.peek()
	if !ok {
		return nil
	}
	switch t.kind {
	case tokLParen:
		p.pos++
		inner := p.parseOr()
		if inner == nil {
			return nil
		}
		t, ok := p.peek()
		if !ok || t.kind != tokRParen {
			return nil
		}
		p.pos++
		return inner
	case tokLiteral:
		p.pos++
		return Literal{Text: t.text}
	default:
		return nil
	}
}
