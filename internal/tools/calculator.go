package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// CalculatorTool evaluates arithmetic expressions with a small recursive
// descent parser. No eval, no reflection: just + - * / and parentheses.
type CalculatorTool struct{}

func NewCalculatorTool() *CalculatorTool { return &CalculatorTool{} }

func (t *CalculatorTool) Name() string { return "calculator" }

func (t *CalculatorTool) Description() string {
	return "Perform mathematical calculations"
}

func (t *CalculatorTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"expression": map[string]interface{}{
				"type":        "string",
				"description": "Mathematical expression to evaluate",
			},
		},
		"required": []string{"expression"},
	}
}

func (t *CalculatorTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	expr, _ := args["expression"].(string)
	if strings.TrimSpace(expr) == "" {
		return ErrorResult("expression is required")
	}

	for _, r := range expr {
		if !strings.ContainsRune("0123456789+-*/(). ", r) {
			return ErrorResult("Error: Invalid characters in expression")
		}
	}

	p := &exprParser{input: expr}
	val, err := p.parse()
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	return NewResult(strconv.FormatFloat(val, 'g', -1, 64))
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parse() (float64, error) {
	val, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return val, nil
}

// expr := term (('+' | '-') term)*
func (p *exprParser) expr() (float64, error) {
	val, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return val, nil
		}
		switch p.input[p.pos] {
		case '+':
			p.pos++
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			val += rhs
		case '-':
			p.pos++
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			val -= rhs
		default:
			return val, nil
		}
	}
}

// term := factor (('*' | '/') factor)*
func (p *exprParser) term() (float64, error) {
	val, err := p.factor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return val, nil
		}
		switch p.input[p.pos] {
		case '*':
			p.pos++
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			val *= rhs
		case '/':
			p.pos++
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			val /= rhs
		default:
			return val, nil
		}
	}
}

// factor := '-' factor | '(' expr ')' | number
func (p *exprParser) factor() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	switch p.input[p.pos] {
	case '-':
		p.pos++
		val, err := p.factor()
		return -val, err
	case '(':
		p.pos++
		val, err := p.expr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return val, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	val, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return val, nil
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}
