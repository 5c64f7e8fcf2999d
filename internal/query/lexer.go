package query

import (
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokOp
	tokAt
	tokLBracket
	tokRBracket
	tokComma
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of query"
	case tokWord:
		return "word"
	case tokString:
		return "quoted string"
	case tokOp:
		return "operator"
	case tokAt:
		return "'@'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokComma:
		return "','"
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// keyword reports whether t is the bare word kw, ignoring case.
func (t token) keyword(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

const specialChars = "=!~<>[],@'\""

func tokenize(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '@':
			out = append(out, token{kind: tokAt, text: "@", pos: i})
			i++
		case c == '[':
			out = append(out, token{kind: tokLBracket, text: "[", pos: i})
			i++
		case c == ']':
			out = append(out, token{kind: tokRBracket, text: "]", pos: i})
			i++
		case c == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '=' || c == '~':
			out = append(out, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				out = append(out, token{kind: tokOp, text: src[i : i+2], pos: i})
				i += 2
				continue
			}
			if c == '!' {
				return nil, syntaxErr(i, "expected '=' after '!'")
			}
			out = append(out, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '\'' || c == '"':
			s, next, err := readQuoted(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokString, text: s, pos: i})
			i = next
		default:
			start := i
			for i < len(src) && !isSpace(src[i]) && !strings.ContainsRune(specialChars, rune(src[i])) {
				i++
			}
			out = append(out, token{kind: tokWord, text: src[start:i], pos: start})
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

// readQuoted reads a string opened by the quote at src[start]. A backslash
// escapes the next character.
func readQuoted(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			if i+1 >= len(src) {
				return "", 0, syntaxErr(i, "dangling escape")
			}
			i++
			b.WriteByte(src[i])
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(src[i])
		}
	}
	return "", 0, syntaxErr(start, "unterminated string")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
