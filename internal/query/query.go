// Package query parses the entity search language used by the console.
//
//	login=bob and age>=18
//	name~adm or @group=2-1
//	created=[2024-01-01,2024-12-31]
//	bob
//
// Terms are combined with "and" (binds tighter, also implied between adjacent
// terms) and "or". A bare word matches entities having a string property that
// contains it.
package query

import (
	"fmt"
	"strings"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/entitystore"
)

// SyntaxError describes a malformed query. It wraps apperr.ErrSearchQuery.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s at position %d", apperr.ErrSearchQuery, e.Msg, e.Pos)
}

func (e *SyntaxError) Unwrap() error { return apperr.ErrSearchQuery }

func syntaxErr(pos int, format string, args ...any) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Predicate is a compiled query. The zero value matches every entity.
type Predicate struct {
	src  string
	root node
}

// Parse compiles src. Blank input yields a predicate matching everything.
func Parse(src string) (Predicate, error) {
	if strings.TrimSpace(src) == "" {
		return Predicate{src: src}, nil
	}
	toks, err := tokenize(src)
	if err != nil {
		return Predicate{}, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return Predicate{}, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return Predicate{}, syntaxErr(tok.pos, "unexpected %s", describe(tok))
	}
	return Predicate{src: src, root: root}, nil
}

// Match reports whether e satisfies the query.
func (p Predicate) Match(e *entitystore.Entity) bool {
	if p.root == nil {
		return true
	}
	return p.root.match(e)
}

// Filter adapts the predicate to entitystore.Query. It is nil for the empty
// query so the store can count without decoding entities.
func (p Predicate) Filter() entitystore.Filter {
	if p.root == nil {
		return nil
	}
	return p.Match
}

// Empty reports whether the predicate matches everything.
func (p Predicate) Empty() bool { return p.root == nil }

func (p Predicate) String() string { return p.src }

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for p.peek().keyword("or") {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return orNode(terms), nil
}

func (p *parser) parseAnd() (node, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := []node{first}
	for {
		tok := p.peek()
		if tok.kind == tokEOF || tok.keyword("or") {
			break
		}
		if tok.keyword("and") {
			p.next()
		}
		n, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, n)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return andNode(terms), nil
}

func (p *parser) parseTerm() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokAt:
		return p.parseLink(tok)
	case tokWord, tokString:
		if p.peek().kind == tokOp {
			return p.parseComparison(tok)
		}
		if tok.kind == tokWord && (tok.keyword("and") || tok.keyword("or")) {
			return nil, syntaxErr(tok.pos, "unexpected keyword %q", tok.text)
		}
		return wordNode(strings.ToLower(tok.text)), nil
	case tokEOF:
		return nil, syntaxErr(tok.pos, "unexpected end of query")
	}
	return nil, syntaxErr(tok.pos, "unexpected %s", describe(tok))
}

func (p *parser) parseLink(at token) (node, error) {
	name := p.next()
	if name.kind != tokWord && name.kind != tokString {
		return nil, syntaxErr(name.pos, "expected link name after '@'")
	}
	op := p.next()
	if op.kind != tokOp || op.text != "=" {
		return nil, syntaxErr(op.pos, "expected '=' after link name")
	}
	val := p.next()
	if val.kind != tokWord && val.kind != tokString {
		return nil, syntaxErr(val.pos, "expected entity id")
	}
	id, err := entitystore.ParseID(val.text)
	if err != nil {
		return nil, syntaxErr(val.pos, "malformed entity id %q", val.text)
	}
	return linkNode{name: name.text, target: id}, nil
}

func (p *parser) parseComparison(name token) (node, error) {
	op := p.next()
	if op.text == "=" && p.peek().kind == tokLBracket {
		p.next()
		lo, err := p.value()
		if err != nil {
			return nil, err
		}
		if tok := p.next(); tok.kind != tokComma {
			return nil, syntaxErr(tok.pos, "expected ',' in range")
		}
		hi, err := p.value()
		if err != nil {
			return nil, err
		}
		if tok := p.next(); tok.kind != tokRBracket {
			return nil, syntaxErr(tok.pos, "expected ']' to close range")
		}
		return rangeNode{name: name.text, lo: lo, hi: hi}, nil
	}
	val, err := p.value()
	if err != nil {
		return nil, err
	}
	return cmpNode{name: name.text, op: op.text, raw: val}, nil
}

func (p *parser) value() (string, error) {
	tok := p.next()
	if tok.kind != tokWord && tok.kind != tokString {
		return "", syntaxErr(tok.pos, "expected value, got %s", describe(tok))
	}
	return tok.text, nil
}

func describe(t token) string {
	if t.kind == tokWord || t.kind == tokOp {
		return fmt.Sprintf("%q", t.text)
	}
	return t.kind.String()
}
