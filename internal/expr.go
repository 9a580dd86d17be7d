package internal

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// the model used here for representing parse trees is inspired by the
// ast package in Go's standard library.

// Expr is an interface describing a formula expression node.
type Expr interface {
	isExpr() // marker method, just for type-safety.
}

// NumberExpr represents a numeric literal.
type NumberExpr struct {
	Value float64
}

// RefExpr represents a reference to another cell. The position may lie
// outside the sheet bounds; such references evaluate to ErrRef.
type RefExpr struct {
	Pos Position
}

// UnaryExpr represents a unary '+' or '-' applied to an operand.
type UnaryExpr struct {
	Op byte
	X  Expr
}

// BinaryExpr represents one of the four arithmetic operations,
// containing the operator and left and right operands.
type BinaryExpr struct {
	Op byte
	X  Expr
	Y  Expr
}

func (NumberExpr) isExpr() {}
func (RefExpr) isExpr()    {}
func (UnaryExpr) isExpr()  {}
func (BinaryExpr) isExpr() {}

// Formula is a parsed formula body: the expression tree plus the set
// of cell positions it references.
type Formula struct {
	expr Expr
	refs []Position
}

// Evaluate computes the formula over grid. The result is a Number
// unless evaluation hit a FormulaError, which becomes the result
// instead. The first error encountered left-to-right wins.
func (f *Formula) Evaluate(grid CellGrid) Value {
	res, err := evalExpr(f.expr, grid)
	if err != nil {
		var fe FormulaError
		errors.As(err, &fe)
		return fe
	}
	return Number(res)
}

// ReferencedCells lists the valid positions the formula reads,
// deduplicated, in left-to-right order.
func (f *Formula) ReferencedCells() []Position {
	return f.refs
}

func evalExpr(e Expr, grid CellGrid) (float64, error) {
	switch e := e.(type) {
	case NumberExpr:
		return e.Value, nil
	case RefExpr:
		if !e.Pos.IsValid() {
			return 0, ErrRef
		}
		cell := grid.At(e.Pos)
		if cell == nil {
			return 0, nil
		}
		return toNumber(cell.Value())
	case UnaryExpr:
		x, err := evalExpr(e.X, grid)
		if err != nil {
			return 0, err
		}
		if e.Op == '-' {
			x = -x
		}
		return finite(x)
	case BinaryExpr:
		x, err := evalExpr(e.X, grid)
		if err != nil {
			return 0, err
		}
		y, err := evalExpr(e.Y, grid)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case '+':
			return finite(x + y)
		case '-':
			return finite(x - y)
		case '*':
			return finite(x * y)
		case '/':
			if y == 0 {
				return 0, ErrDiv0
			}
			return finite(x / y)
		}
	}
	return 0, nil
}

// finite folds overflow into the division-by-zero error: any
// non-finite intermediate poisons the whole formula.
func finite(x float64) (float64, error) {
	if math.IsInf(x, 0) || math.IsNaN(x) {
		return 0, ErrDiv0
	}
	return x, nil
}

// Expression renders the canonical form of the formula body: no
// whitespace, minimal parentheses, references by canonical name.
// Parsing the result reproduces the same canonical form.
func (f *Formula) Expression() string {
	var sb strings.Builder
	printExpr(&sb, f.expr)
	return sb.String()
}

// precedence levels; atoms bind tightest.
const (
	precAdd = iota + 1
	precMul
	precUnary
	precAtom
)

func precedence(e Expr) int {
	switch e := e.(type) {
	case BinaryExpr:
		if e.Op == '+' || e.Op == '-' {
			return precAdd
		}
		return precMul
	case UnaryExpr:
		return precUnary
	}
	return precAtom
}

func printExpr(sb *strings.Builder, e Expr) {
	switch e := e.(type) {
	case NumberExpr:
		sb.WriteString(strconv.FormatFloat(e.Value, 'G', -1, 64))
	case RefExpr:
		sb.WriteString(e.Pos.String())
	case UnaryExpr:
		sb.WriteByte(e.Op)
		printChild(sb, e.X, precUnary)
	case BinaryExpr:
		min := precAdd
		if e.Op == '*' || e.Op == '/' {
			min = precMul
		}
		printChild(sb, e.X, min)
		sb.WriteByte(e.Op)
		// right operands of the non-associative ops keep parentheses
		// at equal precedence: 1-(2+3) and 1/(2*3) must not flatten.
		if e.Op == '-' || e.Op == '/' {
			min++
		}
		printChild(sb, e.Y, min)
	}
}

func printChild(sb *strings.Builder, e Expr, min int) {
	if precedence(e) < min {
		sb.WriteByte('(')
		printExpr(sb, e)
		sb.WriteByte(')')
		return
	}
	printExpr(sb, e)
}

// collectRefs gathers the valid cell references of an expression in
// left-to-right order, skipping duplicates.
func collectRefs(e Expr, refs []Position) []Position {
	switch e := e.(type) {
	case RefExpr:
		if e.Pos.IsValid() && !slices.Contains(refs, e.Pos) {
			refs = append(refs, e.Pos)
		}
	case UnaryExpr:
		refs = collectRefs(e.X, refs)
	case BinaryExpr:
		refs = collectRefs(e.X, refs)
		refs = collectRefs(e.Y, refs)
	}
	return refs
}
