package tools

import (
	"context"
	"testing"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"123 + 456", "579"},
		{"2 * 3 + 4", "10"},
		{"2 + 3 * 4", "14"},
		{"(2 + 3) * 4", "20"},
		{"6 / 4", "1.5"},
		{"-5 + 2", "-3"},
		{"--4", "4"},
		{"3.5 * 2", "7"},
		{"455 / 0", "ZeroDivisionError"},
		{"1 / (2 - 2)", "ZeroDivisionError"},
		{"455 +_/ 342", "ParseError"},
		{"455 +_( 342", "ParseError"},
		{"", "ParseError"},
		{"()", "ParseError"},
		{"1 +", "ParseError"},
		{"(1 + 2", "ParseError"},
		{"1 2", "ParseError"},
		{"2 ** 3", "ParseError"},
		{"import os", "ParseError"},
		{"1.2.3", "ParseError"},
	}
	for _, tc := range cases {
		if got := Evaluate(tc.expr); got != tc.want {
			t.Errorf("Evaluate(%q) = %q, want %q", tc.expr, got, tc.want)
		}
	}
}

func TestEvaluateToolHandler(t *testing.T) {
	def, handler := NewEvaluate()
	if def.Function.Name != "evaluate" {
		t.Fatalf("unexpected tool name %q", def.Function.Name)
	}

	out, err := handler(context.Background(), map[string]any{"expression": "40 + 2"})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if out != "42" {
		t.Errorf("expected 42, got %q", out)
	}

	// A missing expression is a ParseError result, not a handler error.
	out, err = handler(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if out != "ParseError" {
		t.Errorf("expected ParseError, got %q", out)
	}
}
