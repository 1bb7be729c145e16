package formula

import (
	"fmt"
	"math"
)

// maxDepth bounds parenthesis and unary-operator nesting.
const maxDepth = 200

type node interface {
	eval(f *Formula, vars map[string]float64) (float64, error)
}

type numberNode struct {
	value float64
}

type identNode struct {
	name string
	pos  int
}

type unaryNode struct {
	op  tokenKind
	pos int
	x   node
}

type binaryNode struct {
	op          tokenKind
	pos         int
	left, right node
}

type parser struct {
	src    string
	tokens []token
	pos    int
	depth  int
	idents map[string]struct{}
}

// Grammar:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/") unary }
//	unary   = ("+" | "-") unary | primary
//	primary = number | identifier | "(" expr ")"
func parse(src string, tokens []token) (node, map[string]struct{}, error) {
	p := &parser{src: src, tokens: tokens, idents: make(map[string]struct{})}
	if p.peek().kind == tokEOF {
		return nil, nil, newError(src, 0, fmt.Errorf("%w: empty formula", ErrSyntax))
	}
	root, err := p.expr()
	if err != nil {
		return nil, nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, nil, p.unexpected(tok)
	}
	return root, p.idents, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) unexpected(tok token) error {
	if tok.kind == tokEOF {
		return newError(p.src, tok.pos, fmt.Errorf("%w: unexpected end of formula", ErrSyntax))
	}
	return newError(p.src, tok.pos, fmt.Errorf("%w: unexpected %s %q", ErrSyntax, tok.kind, tok.text))
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPlus && tok.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, pos: tok.pos, left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokStar && tok.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, pos: tok.pos, left: left, right: right}
	}
}

func (p *parser) unary() (node, error) {
	tok := p.peek()
	if tok.kind != tokPlus && tok.kind != tokMinus {
		return p.primary()
	}
	if err := p.enter(tok); err != nil {
		return nil, err
	}
	defer p.leave()
	p.next()
	x, err := p.unary()
	if err != nil {
		return nil, err
	}
	return &unaryNode{op: tok.kind, pos: tok.pos, x: x}, nil
}

func (p *parser) primary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return &numberNode{value: tok.num}, nil
	case tokIdent:
		p.idents[tok.text] = struct{}{}
		return &identNode{name: tok.text, pos: tok.pos}, nil
	case tokLParen:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer p.leave()
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			if closing.kind == tokEOF {
				return nil, newError(p.src, tok.pos, fmt.Errorf("%w: unclosed '('", ErrSyntax))
			}
			return nil, p.unexpected(closing)
		}
		return inner, nil
	default:
		return nil, p.unexpected(tok)
	}
}

func (p *parser) enter(tok token) error {
	p.depth++
	if p.depth > maxDepth {
		return newError(p.src, tok.pos, fmt.Errorf("%w: nesting deeper than %d", ErrSyntax, maxDepth))
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

func (n *numberNode) eval(_ *Formula, _ map[string]float64) (float64, error) {
	return n.value, nil
}

func (n *identNode) eval(f *Formula, vars map[string]float64) (float64, error) {
	v, ok := vars[n.name]
	if !ok {
		return 0, newError(f.src, n.pos, fmt.Errorf("%w %q", ErrUnknownIdentifier, n.name))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, newError(f.src, n.pos, fmt.Errorf("%w: variable %q", ErrNonFinite, n.name))
	}
	return v, nil
}

func (n *unaryNode) eval(f *Formula, vars map[string]float64) (float64, error) {
	x, err := n.x.eval(f, vars)
	if err != nil {
		return 0, err
	}
	if n.op == tokMinus {
		return -x, nil
	}
	return x, nil
}

func (n *binaryNode) eval(f *Formula, vars map[string]float64) (float64, error) {
	left, err := n.left.eval(f, vars)
	if err != nil {
		return 0, err
	}
	right, err := n.right.eval(f, vars)
	if err != nil {
		return 0, err
	}

	var out float64
	switch n.op {
	case tokPlus:
		out = left + right
	case tokMinus:
		out = left - right
	case tokStar:
		out = left * right
	case tokSlash:
		if right == 0 {
			return 0, newError(f.src, n.pos, ErrDivisionByZero)
		}
		out = left / right
	default:
		return 0, newError(f.src, n.pos, fmt.Errorf("%w: unsupported operator", ErrSyntax))
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, newError(f.src, n.pos, ErrNonFinite)
	}
	return out, nil
}
