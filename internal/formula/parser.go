package formula

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type node interface{ isNode() }

type numberLit struct{ v decimal.Decimal }
type stringLit struct{ s string }
type boolLit struct{ b bool }
type refNode struct{ name string }
type unaryNode struct {
	op string
	x  node
}
type binaryNode struct {
	op   string
	l, r node
}
type ternaryNode struct{ cond, then, els node }
type callNode struct {
	name string
	args []node
}

func (numberLit) isNode()   {}
func (stringLit) isNode()   {}
func (boolLit) isNode()     {}
func (refNode) isNode()     {}
func (unaryNode) isNode()   {}
func (binaryNode) isNode()  {}
func (ternaryNode) isNode() {}
func (callNode) isNode()    {}

// Expr is a parsed formula.
type Expr struct {
	src  string
	root node
	refs []string
}

// Parse compiles src. A leading "=" is accepted and ignored.
func Parse(src string) (*Expr, error) {
	body := strings.TrimSpace(src)
	offset := len(src) - len(strings.TrimLeft(src, " \t\r\n"))
	if strings.HasPrefix(body, "=") {
		body = body[1:]
		offset++
	}
	if strings.TrimSpace(body) == "" {
		return nil, &SyntaxError{Pos: 0, Message: "empty formula"}
	}
	toks, err := lex(body)
	if err != nil {
		shiftPos(err, offset)
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr(0)
	if err == nil && p.peek().kind != tokEOF {
		err = p.errorf("unexpected %q", p.peek().text)
	}
	if err != nil {
		shiftPos(err, offset)
		return nil, err
	}
	return &Expr{src: src, root: root, refs: collectRefs(toks)}, nil
}

func shiftPos(err error, by int) {
	if se, ok := err.(*SyntaxError); ok {
		se.Pos += by
	}
}

// Source returns the formula text as written.
func (e *Expr) Source() string { return e.src }

// Refs returns the distinct column names the formula references, in order
// of first appearance.
func (e *Expr) Refs() []string {
	out := make([]string, len(e.refs))
	copy(out, e.refs)
	return out
}

func collectRefs(toks []token) []string {
	var refs []string
	seen := map[string]bool{}
	for _, t := range toks {
		if t.kind != tokRef {
			continue
		}
		key := strings.ToLower(t.text)
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, t.text)
	}
	return refs
}

// Rename rewrites every reference to oldName in src so it points at
// newName. Names match case-insensitively.
func Rename(src, oldName, newName string) (string, error) {
	toks, err := lex(src)
	if err != nil {
		return src, err
	}
	out := src
	for i := len(toks) - 1; i >= 0; i-- {
		t := toks[i]
		if t.kind == tokRef && strings.EqualFold(t.text, strings.TrimSpace(oldName)) {
			out = out[:t.pos] + "{" + newName + "}" + out[t.end:]
		}
	}
	return out, nil
}

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

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Pos: p.peek().pos, Message: fmt.Sprintf(format, args...)}
}

const prefixPrec = 9

// infix returns the canonical operator and binding power of t.
func infix(t token) (string, int) {
	switch t.kind {
	case tokOp:
		switch t.text {
		case "?":
			return "?", 1
		case "||":
			return "||", 2
		case "&&":
			return "&&", 3
		case "=", "==":
			return "==", 4
		case "!=", "<>":
			return "!=", 4
		case "<", "<=", ">", ">=":
			return t.text, 5
		case "&":
			return "&", 6
		case "+", "-":
			return t.text, 7
		case "*", "/", "%":
			return t.text, 8
		}
	case tokIdent:
		switch strings.ToUpper(t.text) {
		case "OR":
			return "||", 2
		case "AND":
			return "&&", 3
		}
	}
	return "", 0
}

func (p *parser) parseExpr(minPrec int) (node, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}
	for {
		op, prec := infix(p.peek())
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		p.next()
		if op == "?" {
			then, err := p.parseExpr(0)
			if err != nil {
				return nil, err
			}
			if t := p.next(); t.kind != tokOp || t.text != ":" {
				return nil, &SyntaxError{Pos: t.pos, Message: "expected ':' in conditional"}
			}
			els, err := p.parseExpr(prec)
			if err != nil {
				return nil, err
			}
			left = ternaryNode{cond: left, then: then, els: els}
			continue
		}
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, l: left, r: right}
	}
}

func (p *parser) parsePrefix() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("bad number %q", t.text)}
		}
		return numberLit{v: d}, nil
	case tokString:
		return stringLit{s: t.text}, nil
	case tokRef:
		return refNode{name: t.text}, nil
	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, &SyntaxError{Pos: c.pos, Message: "expected ')'"}
		}
		return inner, nil
	case tokOp:
		switch t.text {
		case "-", "!", "+":
			x, err := p.parseExpr(prefixPrec)
			if err != nil {
				return nil, err
			}
			if t.text == "+" {
				return x, nil
			}
			return unaryNode{op: t.text, x: x}, nil
		}
	case tokIdent:
		upper := strings.ToUpper(t.text)
		switch upper {
		case "TRUE":
			return boolLit{b: true}, nil
		case "FALSE":
			return boolLit{b: false}, nil
		case "NOT":
			x, err := p.parseExpr(prefixPrec)
			if err != nil {
				return nil, err
			}
			return unaryNode{op: "!", x: x}, nil
		}
		if p.peek().kind != tokLParen {
			return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("unknown name %q (column references use {braces})", t.text)}
		}
		if _, ok := functions[upper]; !ok {
			return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("unknown function %s", upper)}
		}
		p.next()
		var args []node
		if p.peek().kind != tokRParen {
			for {
				arg, err := p.parseExpr(0)
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, &SyntaxError{Pos: c.pos, Message: "expected ')' after arguments"}
		}
		if err := functions[upper].checkArity(len(args)); err != nil {
			return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("%s: %v", upper, err)}
		}
		return callNode{name: upper, args: args}, nil
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Message: "unexpected end of formula"}
	}
	return nil, &SyntaxError{Pos: t.pos, Message: fmt.Sprintf("unexpected %q", t.text)}
}
