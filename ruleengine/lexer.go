// Package ruleengine implements the commit-rule formula grammar of
// spec.md §4.2 and §6.1: parsing, evaluation against an EvalContext, and
// correlation of implied text predicates.
package ruleengine

import (
	"fmt"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokPath
	tokNumber
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes a formula string. Whitespace is ignored outside
// identifiers; identifiers match [A-Za-z_][A-Za-z0-9_./\-]*; a token
// starting with '/' is a path (spec.md §6.1).
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	n := len(src)
	isIdentStart := func(c byte) bool {
		return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	isIdentCont := func(c byte) bool {
		return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.' || c == '/' || c == '-'
	}
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '[':
			toks = append(toks, token{tokLBracket, "[", i})
			i++
		case c == ']':
			toks = append(toks, token{tokRBracket, "]", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '&':
			toks = append(toks, token{tokAnd, "&", i})
			i++
		case c == '|':
			toks = append(toks, token{tokOr, "|", i})
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < n && src[j] >= '0' && src[j] <= '9' {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j
		case c == '/' || isIdentStart(c):
			j := i
			isPath := c == '/'
			if isPath {
				j++
				for j < n && isIdentCont(src[j]) {
					j++
				}
			} else {
				j++
				for j < n && isIdentCont(src[j]) {
					j++
				}
			}
			kind := tokIdent
			if isPath {
				kind = tokPath
			}
			toks = append(toks, token{kind, src[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("ruleengine: unexpected character %q at %d", c, i)
		}
	}
	toks = append(toks, token{tokEOF, "", n})
	return toks, nil
}
