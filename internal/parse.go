package internal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/efp"
)

// ParseFormula parses a formula body (without the leading '=') into a
// Formula. Tokenization is efp's job; the token stream is folded into
// the AST by a recursive descent layered the usual way: term, factor,
// unary, primary. Anything outside the grammar — functions, ranges,
// strings, comparison operators — is an ErrExprParse.
func ParseFormula(body string) (*Formula, error) {
	tokens := prune(efp.ExcelParser().Parse(body))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty formula", ErrExprParse)
	}
	p := &exprParser{tokens: tokens}
	expr, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("%w: unexpected %q", ErrExprParse, p.peek().TValue)
	}
	return &Formula{expr: expr, refs: collectRefs(expr, nil)}, nil
}

// prune drops the blank filler tokens efp keeps around for its own
// operator-context bookkeeping, keeping every token kind the grammar
// inspects (parentheses carry an empty TValue and must survive).
func prune(tokens []efp.Token) []efp.Token {
	out := make([]efp.Token, 0, len(tokens))
	for _, tok := range tokens {
		switch tok.TType {
		case efp.TokenTypeOperand, efp.TokenTypeOperatorInfix, efp.TokenTypeOperatorPrefix,
			efp.TokenTypeSubexpression, efp.TokenTypeFunction, efp.TokenTypeArgument:
			out = append(out, tok)
		default:
			if strings.TrimSpace(tok.TValue) != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

type exprParser struct {
	tokens []efp.Token
	pos    int
}

func (p *exprParser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *exprParser) peek() efp.Token {
	return p.tokens[p.pos]
}

// parseTerm parses addition and subtraction.
func (p *exprParser) parseTerm() (Expr, error) {
	expr, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for !p.done() && isInfix(p.peek(), "+", "-") {
		op := p.peek().TValue[0]
		p.pos++
		y, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		expr = BinaryExpr{Op: op, X: expr, Y: y}
	}
	return expr, nil
}

// parseFactor parses multiplication and division.
func (p *exprParser) parseFactor() (Expr, error) {
	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for !p.done() && isInfix(p.peek(), "*", "/") {
		op := p.peek().TValue[0]
		p.pos++
		y, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expr = BinaryExpr{Op: op, X: expr, Y: y}
	}
	return expr, nil
}

// parseUnary parses prefix '+' and '-'. efp only classifies '-' as a
// prefix operator; a '+' or '-' sitting in operand position is unary
// regardless of how it was tagged.
func (p *exprParser) parseUnary() (Expr, error) {
	if p.done() {
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrExprParse)
	}
	tok := p.peek()
	prefixish := tok.TType == efp.TokenTypeOperatorPrefix || tok.TType == efp.TokenTypeOperatorInfix
	if prefixish && (tok.TValue == "+" || tok.TValue == "-") {
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return UnaryExpr{Op: tok.TValue[0], X: x}, nil
	}
	return p.parsePrimary()
}

// parsePrimary parses literals, cell references and parenthesized
// subexpressions.
func (p *exprParser) parsePrimary() (Expr, error) {
	if p.done() {
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrExprParse)
	}
	tok := p.tokens[p.pos]
	p.pos++
	switch {
	case tok.TType == efp.TokenTypeOperand && tok.TSubType == efp.TokenSubTypeNumber:
		val, err := strconv.ParseFloat(tok.TValue, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrExprParse, tok.TValue)
		}
		return NumberExpr{Value: val}, nil
	case tok.TType == efp.TokenTypeOperand && tok.TSubType == efp.TokenSubTypeRange:
		pos, err := ParsePosition(tok.TValue)
		if err != nil {
			// ranges, $-anchored and cross-sheet references land here
			return nil, fmt.Errorf("%w: unsupported reference %q", ErrExprParse, tok.TValue)
		}
		return RefExpr{Pos: pos}, nil
	case tok.TType == efp.TokenTypeSubexpression && tok.TSubType == efp.TokenSubTypeStart:
		expr, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek().TType != efp.TokenTypeSubexpression || p.peek().TSubType != efp.TokenSubTypeStop {
			return nil, fmt.Errorf("%w: expected ')'", ErrExprParse)
		}
		p.pos++
		return expr, nil
	case tok.TType == efp.TokenTypeFunction:
		return nil, fmt.Errorf("%w: functions are not supported", ErrExprParse)
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrExprParse, tok.TValue)
}

func isInfix(tok efp.Token, ops ...string) bool {
	if tok.TType != efp.TokenTypeOperatorInfix {
		return false
	}
	for _, op := range ops {
		if tok.TValue == op {
			return true
		}
	}
	return false
}
