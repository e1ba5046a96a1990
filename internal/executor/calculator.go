package executor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Calculator errors.
var (
	ErrSyntax         = errors.New("syntax error")
	ErrDivisionByZero = errors.New("division by zero")
)

const (
	maxExpressionLen   = 1024
	maxExpressionDepth = 64
)

var calcFunctions = map[string]func(float64) float64{
	"abs":   math.Abs,
	"ceil":  math.Ceil,
	"floor": math.Floor,
	"round": math.Round,
	"sqrt":  math.Sqrt,
	"ln":    math.Log,
	"log":   math.Log10,
}

var calcConstants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// Evaluate computes an arithmetic expression with + - * / % ^, unary
// minus, parentheses, the functions abs ceil floor round sqrt ln log and
// the constants pi and e. ^ is right-associative and binds tighter than
// unary minus, so -2^2 is -4.
func Evaluate(expr string) (float64, error) {
	if len(expr) > maxExpressionLen {
		return 0, fmt.Errorf("%w: expression longer than %d bytes", ErrSyntax, maxExpressionLen)
	}
	p := &calcParser{src: expr}
	p.next()
	v, err := p.expression(0)
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokEOF {
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.tok.text, p.tok.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: result is not a finite number", ErrSyntax)
	}
	return v, nil
}

// FormatNumber renders a result without a trailing ".0" for integers.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokInvalid
)

type token struct {
	kind tokKind
	text string
	num  float64
	pos  int
}

type calcParser struct {
	src string
	pos int
	tok token
}

func (p *calcParser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	ch := p.src[p.pos]
	switch {
	case ch >= '0' && ch <= '9' || ch == '.':
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		// Exponent notation: 1e3, 2.5E-4.
		if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
			save := p.pos
			p.pos++
			if p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
				p.pos++
			}
			if p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
				for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
					p.pos++
				}
			} else {
				p.pos = save
			}
		}
		text := p.src[start:p.pos]
		num, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.tok = token{kind: tokInvalid, text: text, pos: start}
			return
		}
		p.tok = token{kind: tokNumber, text: text, num: num, pos: start}
	case ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z':
		for p.pos < len(p.src) && (p.src[p.pos] >= 'a' && p.src[p.pos] <= 'z' || p.src[p.pos] >= 'A' && p.src[p.pos] <= 'Z') {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: strings.ToLower(p.src[start:p.pos]), pos: start}
	case strings.IndexByte("+-*/%^", ch) >= 0:
		p.pos++
		p.tok = token{kind: tokOp, text: string(ch), pos: start}
	case ch == '(':
		p.pos++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case ch == ')':
		p.pos++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokInvalid, text: string(ch), pos: start}
	}
}

func (p *calcParser) isOp(ops string) bool {
	return p.tok.kind == tokOp && strings.Contains(ops, p.tok.text)
}

// expression := term (('+' | '-') term)*
func (p *calcParser) expression(depth int) (float64, error) {
	if depth > maxExpressionDepth {
		return 0, fmt.Errorf("%w: nesting deeper than %d", ErrSyntax, maxExpressionDepth)
	}
	left, err := p.term(depth)
	if err != nil {
		return 0, err
	}
	for p.isOp("+-") {
		op := p.tok.text
		p.next()
		right, err := p.term(depth)
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

// term := unary (('*' | '/' | '%') unary)*
func (p *calcParser) term(depth int) (float64, error) {
	left, err := p.unary(depth)
	if err != nil {
		return 0, err
	}
	for p.isOp("*/%") {
		op := p.tok.text
		p.next()
		right, err := p.unary(depth)
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left = math.Mod(left, right)
		}
	}
	return left, nil
}

// unary := ('-' | '+') unary | power
func (p *calcParser) unary(depth int) (float64, error) {
	if depth > maxExpressionDepth {
		return 0, fmt.Errorf("%w: nesting deeper than %d", ErrSyntax, maxExpressionDepth)
	}
	if p.isOp("+-") {
		op := p.tok.text
		p.next()
		v, err := p.unary(depth + 1)
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.power(depth)
}

// power := primary ('^' unary)?
func (p *calcParser) power(depth int) (float64, error) {
	base, err := p.primary(depth)
	if err != nil {
		return 0, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.unary(depth + 1)
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

// primary := number | constant | function '(' expression ')' | '(' expression ')'
func (p *calcParser) primary(depth int) (float64, error) {
	switch p.tok.kind {
	case tokNumber:
		v := p.tok.num
		p.next()
		return v, nil
	case tokIdent:
		name := p.tok.text
		pos := p.tok.pos
		p.next()
		if fn, ok := calcFunctions[name]; ok {
			if p.tok.kind != tokLParen {
				return 0, fmt.Errorf("%w: expected ( after %s", ErrSyntax, name)
			}
			v, err := p.parenthesized(depth)
			if err != nil {
				return 0, err
			}
			return fn(v), nil
		}
		if c, ok := calcConstants[name]; ok {
			return c, nil
		}
		return 0, fmt.Errorf("%w: unknown identifier %q at %d", ErrSyntax, name, pos)
	case tokLParen:
		return p.parenthesized(depth)
	case tokEOF:
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	default:
		return 0, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.tok.text, p.tok.pos)
	}
}

func (p *calcParser) parenthesized(depth int) (float64, error) {
	p.next() // consume '('
	v, err := p.expression(depth + 1)
	if err != nil {
		return 0, err
	}
	if p.tok.kind != tokRParen {
		return 0, fmt.Errorf("%w: missing )", ErrSyntax)
	}
	p.next()
	return v, nil
}
