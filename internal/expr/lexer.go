package expr

import (
	"fmt"
	"strconv"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkNum
	tkIdent
	tkOp
	tkLParen
	tkRParen
	tkComma
)

// token is one lexeme. start/end are byte offsets into the source so the
// annotator can rewrite identifiers in place.
type token struct {
	kind  tokenKind
	text  string
	num   float64
	start int
	end   int
}

func (t token) String() string {
	if t.kind == tkEOF {
		return "end of expression"
	}
	return strconv.Quote(t.text)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// lex splits src into tokens, ending with a tkEOF token.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			// exponent: 1e3, 2.5E-4
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					for j < len(src) && isDigit(src[j]) {
						j++
					}
					i = j
				}
			}
			text := src[start:i]
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w at %d: bad number %q", ErrSyntax, start, text)
			}
			toks = append(toks, token{kind: tkNum, text: text, num: v, start: start, end: i})

		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tkIdent, text: src[start:i], start: start, end: i})

		case c == '+' || c == '-' || c == '*' || c == '/' || c == '%' || c == '^':
			toks = append(toks, token{kind: tkOp, text: string(c), start: i, end: i + 1})
			i++

		case c == '(':
			toks = append(toks, token{kind: tkLParen, text: "(", start: i, end: i + 1})
			i++

		case c == ')':
			toks = append(toks, token{kind: tkRParen, text: ")", start: i, end: i + 1})
			i++

		case c == ',':
			toks = append(toks, token{kind: tkComma, text: ",", start: i, end: i + 1})
			i++

		default:
			return nil, fmt.Errorf("%w at %d: unexpected character %q", ErrSyntax, i, c)
		}
	}
	toks = append(toks, token{kind: tkEOF, start: len(src), end: len(src)})
	return toks, nil
}
