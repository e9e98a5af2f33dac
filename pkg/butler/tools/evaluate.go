// Package tools – evaluate.go implements the evaluate tool: a restricted
// arithmetic evaluator over numeric literals, + - * / and parentheses.
// A small recursive descent parser keeps the grammar closed; anything
// outside it is a ParseError, never executed.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/songmeo/ButlerDuck/pkg/butler/llm"
)

var (
	errParse   = errors.New("ParseError")
	errDivZero = errors.New("ZeroDivisionError")
)

// NewEvaluate returns the definition and handler for the evaluate tool.
func NewEvaluate() (llm.ToolDefinition, Handler) {
	d := MakeDefinition("evaluate", "calculate an arithmetic expression", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "the expression in string form",
			},
		},
		"required":             []string{"expression"},
		"additionalProperties": false,
	})
	h := func(_ context.Context, args map[string]any) (string, error) {
		expr, _ := args["expression"].(string)
		return Evaluate(expr), nil
	}
	return d, h
}

// Evaluate computes a strictly arithmetic expression and returns the numeric
// result as text. Malformed input yields "ParseError" and division by zero
// "ZeroDivisionError"; the error-kind name is the result, mirroring how the
// tool reports failures to the model.
func Evaluate(expression string) string {
	p := &exprParser{input: expression}
	v, err := p.parse()
	switch {
	case errors.Is(err, errDivZero):
		return "ZeroDivisionError"
	case err != nil:
		return "ParseError"
	}
	return formatNumber(v)
}

// formatNumber renders integral results without a decimal point.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// exprParser is a recursive descent parser for the grammar:
//
//	expr   := term (('+' | '-') term)*
//	term   := unary (('*' | '/') unary)*
//	unary  := ('+' | '-')* primary
//	primary:= NUMBER | '(' expr ')'
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parse() (float64, error) {
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("%w: trailing input at %d", errParse, p.pos)
	}
	return v, nil
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, errDivZero
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	p.skipSpaces()
	switch p.peek() {
	case '+':
		p.pos++
		return p.parseUnary()
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	p.skipSpaces()
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return 0, fmt.Errorf("%w: missing closing parenthesis", errParse)
		}
		p.pos++
		return v, nil
	}
	return p.parseNumber()
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("%w: expected number at %d", errParse, start)
	}
	lit := p.input[start:p.pos]
	if strings.Count(lit, ".") > 1 {
		return 0, fmt.Errorf("%w: malformed number %q", errParse, lit)
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed number %q", errParse, lit)
	}
	return v, nil
}

// peek returns the current byte or 0 at end of input.
func (p *exprParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
