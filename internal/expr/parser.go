package expr

import (
	"fmt"
	"math"
)

// ─── AST ──────────────────────────────────────────────────────────────────────

type node interface {
	eval(scope map[string]float64) (float64, error)
}

type numNode struct{ v float64 }

type varNode struct{ name string }

type unaryNode struct {
	op byte
	x  node
}

type binaryNode struct {
	op   byte
	l, r node
}

type callNode struct {
	name string
	fn   function
	args []node
}

func (n numNode) eval(map[string]float64) (float64, error) { return n.v, nil }

func (n varNode) eval(scope map[string]float64) (float64, error) {
	v, ok := scope[n.name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnbound, n.name)
	}
	return v, nil
}

func (n unaryNode) eval(scope map[string]float64) (float64, error) {
	x, err := n.x.eval(scope)
	if err != nil {
		return 0, err
	}
	if n.op == '-' {
		return -x, nil
	}
	return x, nil
}

func (n binaryNode) eval(scope map[string]float64) (float64, error) {
	l, err := n.l.eval(scope)
	if err != nil {
		return 0, err
	}
	r, err := n.r.eval(scope)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		return l / r, nil
	case '%':
		return math.Mod(l, r), nil
	case '^':
		return math.Pow(l, r), nil
	}
	return 0, fmt.Errorf("%w: operator %q", ErrSyntax, n.op)
}

func (n callNode) eval(scope map[string]float64) (float64, error) {
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(scope)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}
	return n.fn.call(args), nil
}

// ─── Parser ───────────────────────────────────────────────────────────────────

// parser is a recursive-descent parser over this grammar:
//
//	expr    = term { ("+" | "-") term }
//	term    = unary { ("*" | "/" | "%") unary }
//	unary   = ("+" | "-") unary | power
//	power   = primary [ "^" unary ]
//	primary = number | ident | ident "(" [ expr { "," expr } ] ")" | "(" expr ")"
// maxDepth bounds nesting of parentheses, calls and unary signs.
const maxDepth = 256

type parser struct {
	toks  []token
	pos   int
	depth int
	refs  []token // variable occurrences, in source order
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops string) (byte, bool) {
	t := p.peek()
	if t.kind != tkOp {
		return 0, false
	}
	for i := 0; i < len(ops); i++ {
		if t.text[0] == ops[i] {
			return ops[i], true
		}
	}
	return 0, false
}

func (p *parser) unexpected(t token) error {
	return fmt.Errorf("%w at %d: unexpected %s", ErrSyntax, t.start, t)
}

func (p *parser) parse() (node, error) {
	if p.peek().kind == tkEOF {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, p.unexpected(t)
	}
	return n, nil
}

func (p *parser) expr() (node, error) {
	l, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("+-")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.term()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: op, l: l, r: r}
	}
}

func (p *parser) term() (node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("*/%")
		if !ok {
			return l, nil
		}
		p.next()
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: op, l: l, r: r}
	}
}

func (p *parser) unary() (node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, fmt.Errorf("%w at %d: expression nested too deeply", ErrSyntax, p.peek().start)
	}
	if op, ok := p.isOp("+-"); ok {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, x: x}, nil
	}
	return p.power()
}

func (p *parser) power() (node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.isOp("^"); ok {
		p.next()
		exp, err := p.unary() // right-associative: 2^3^2 = 2^(3^2)
		if err != nil {
			return nil, err
		}
		return binaryNode{op: '^', l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tkNum:
		return numNode{v: t.num}, nil

	case tkLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tkRParen {
			return nil, fmt.Errorf("%w at %d: expected \")\", got %s", ErrSyntax, c.start, c)
		}
		return n, nil

	case tkIdent:
		if p.peek().kind == tkLParen {
			return p.call(t)
		}
		if v, ok := constants[t.text]; ok {
			return numNode{v: v}, nil
		}
		if IsFunction(t.text) {
			return nil, fmt.Errorf("%w at %d: %s is a function and must be called", ErrSyntax, t.start, t.text)
		}
		p.refs = append(p.refs, t)
		return varNode{name: t.text}, nil
	}
	return nil, p.unexpected(t)
}

func (p *parser) call(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, fmt.Errorf("%w at %d: %s", ErrUnknownFunction, name.start, name.text)
	}
	p.next() // "("
	var args []node
	if p.peek().kind != tkRParen {
		for {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.peek().kind != tkComma {
				break
			}
			p.next()
		}
	}
	if c := p.next(); c.kind != tkRParen {
		return nil, fmt.Errorf("%w at %d: expected \")\" or \",\", got %s", ErrSyntax, c.start, c)
	}
	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, fmt.Errorf("%w: %s takes %s, got %d", ErrSyntax, name.text, arity(fn), len(args))
	}
	return callNode{name: name.text, fn: fn, args: args}, nil
}

func arity(fn function) string {
	switch {
	case fn.maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", fn.minArgs)
	case fn.minArgs == fn.maxArgs:
		return fmt.Sprintf("%d argument(s)", fn.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", fn.minArgs, fn.maxArgs)
}
