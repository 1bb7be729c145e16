package formula

import (
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of formula"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	default:
		return "unknown token"
	}
}

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// tokenize splits src into whole tokens. Identifiers are matched as complete
// words, so a variable named "a" never matches inside "tax".
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '+':
			tokens = append(tokens, token{kind: tokPlus, text: "+", pos: i})
			i += size
		case r == '-':
			tokens = append(tokens, token{kind: tokMinus, text: "-", pos: i})
			i += size
		case r == '*':
			tokens = append(tokens, token{kind: tokStar, text: "*", pos: i})
			i += size
		case r == '/':
			tokens = append(tokens, token{kind: tokSlash, text: "/", pos: i})
			i += size
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i += size
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i += size
		case isDigit(r) || r == '.':
			tok, next, err := scanNumber(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		case isIdentStart(r):
			start := i
			i += size
			for i < len(src) {
				r, size = utf8.DecodeRuneInString(src[i:])
				if !isIdentPart(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			return nil, newError(src, i, fmt.Errorf("%w: unexpected character %q", ErrSyntax, r))
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

func scanNumber(src string, start int) (token, int, error) {
	i := start
	sawDigit := false
	for i < len(src) && isDigit(rune(src[i])) {
		i++
		sawDigit = true
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && isDigit(rune(src[i])) {
			i++
			sawDigit = true
		}
	}
	if !sawDigit {
		return token{}, 0, newError(src, start, fmt.Errorf("%w: malformed number", ErrSyntax))
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(rune(src[j])) {
			for j < len(src) && isDigit(rune(src[j])) {
				j++
			}
			i = j
		}
	}
	text := src[start:i]
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, 0, newError(src, start, fmt.Errorf("%w: malformed number %q", ErrSyntax, text))
	}
	if i < len(src) {
		if r, _ := utf8.DecodeRuneInString(src[i:]); isIdentStart(r) || r == '.' {
			return token{}, 0, newError(src, i, fmt.Errorf("%w: unexpected %q after number", ErrSyntax, r))
		}
	}
	return token{kind: tokNumber, text: text, num: value, pos: start}, i, nil
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// IsIdentifier reports whether name can be referenced from a formula.
func IsIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if !isIdentStart(r) {
				return false
			}
			continue
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}
