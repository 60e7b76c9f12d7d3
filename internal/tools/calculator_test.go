package tools

import (
	"context"
	"strings"
	"testing"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculatorTool()

	tests := []struct {
		expr string
		want string
	}{
		{"1+1", "2"},
		{"2 * 3 + 4", "10"},
		{"2 * (3 + 4)", "14"},
		{"10 / 4", "2.5"},
		{"-5 + 3", "-2"},
		{"-(2+3) * 2", "-10"},
		{"3.5 * 2", "7"},
		{"1 + 2 - 3 + 4", "4"},
		{"100 / 10 / 2", "5"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			res := calc.Execute(context.Background(), map[string]interface{}{"expression": tt.expr})
			if res.IsError {
				t.Fatalf("error: %s", res.ForLLM)
			}
			if res.ForLLM != tt.want {
				t.Errorf("%s = %s, want %s", tt.expr, res.ForLLM, tt.want)
			}
		})
	}
}

func TestCalculatorErrors(t *testing.T) {
	calc := NewCalculatorTool()

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"letters", "1 + x", "Invalid characters"},
		{"injection", "__import__('os')", "Invalid characters"},
		{"divide by zero", "1/0", "division by zero"},
		{"unbalanced", "(1 + 2", "parenthesis"},
		{"trailing junk", "1 + 2 )", "unexpected"},
		{"empty", "   ", "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := calc.Execute(context.Background(), map[string]interface{}{"expression": tt.expr})
			if !res.IsError {
				t.Fatalf("expected error, got %s", res.ForLLM)
			}
			if !strings.Contains(res.ForLLM, tt.want) {
				t.Errorf("message %q does not contain %q", res.ForLLM, tt.want)
			}
		})
	}
}
