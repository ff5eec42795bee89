package app

import (
	"testing"

	"github.com/verdantnursery/marketing-service/internal/domain"
)

func TestEvaluateComparison_Operators(t *testing.T) {
	data := map[string]any{
		"order_total": float64(5000), // JSON numbers decode as float64
		"plan":        "premium",
		"tags":        "vip,repeat",
		"empty":       nil,
	}

	cases := []struct {
		name string
		cfg  domain.ConditionStepConfig
		want bool
	}{
		{"equals number", domain.ConditionStepConfig{Field: "order_total", Operator: domain.OpEquals, Value: 5000}, true},
		{"equals string number", domain.ConditionStepConfig{Field: "order_total", Operator: domain.OpEquals, Value: "5000"}, true},
		{"equals mismatch", domain.ConditionStepConfig{Field: "plan", Operator: domain.OpEquals, Value: "basic"}, false},
		{"not equals", domain.ConditionStepConfig{Field: "plan", Operator: domain.OpNotEquals, Value: "basic"}, true},
		{"not equals on absent field", domain.ConditionStepConfig{Field: "missing", Operator: domain.OpNotEquals, Value: "x"}, true},
		{"greater than", domain.ConditionStepConfig{Field: "order_total", Operator: domain.OpGreaterThan, Value: 4999}, true},
		{"greater than false", domain.ConditionStepConfig{Field: "order_total", Operator: domain.OpGreaterThan, Value: 5000}, false},
		{"less than", domain.ConditionStepConfig{Field: "order_total", Operator: domain.OpLessThan, Value: 10000}, true},
		{"non-numeric comparison", domain.ConditionStepConfig{Field: "plan", Operator: domain.OpGreaterThan, Value: 1}, false},
		{"contains", domain.ConditionStepConfig{Field: "tags", Operator: domain.OpContains, Value: "vip"}, true},
		{"contains miss", domain.ConditionStepConfig{Field: "tags", Operator: domain.OpContains, Value: "wholesale"}, false},
		{"exists", domain.ConditionStepConfig{Field: "plan", Operator: domain.OpExists}, true},
		{"exists nil value", domain.ConditionStepConfig{Field: "empty", Operator: domain.OpExists}, false},
		{"exists absent", domain.ConditionStepConfig{Field: "missing", Operator: domain.OpExists}, false},
	}
	for _, tc := range cases {
		got, err := evaluateComparison(tc.cfg, data)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestEvaluateComparison_UnknownOperator(t *testing.T) {
	_, err := evaluateComparison(domain.ConditionStepConfig{Field: "x", Operator: "between"}, map[string]any{"x": 1})
	if err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestEvaluator_Expressions(t *testing.T) {
	e := NewConditionEvaluator()
	data := map[string]any{
		"order_total": float64(7500),
		"plan":        "premium",
	}

	ok, err := e.Evaluate(domain.ConditionStepConfig{
		Expression: `order_total > 5000 && plan == "premium"`,
	}, data)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected expression to hold")
	}

	// Undefined variables evaluate rather than error.
	ok, err = e.Evaluate(domain.ConditionStepConfig{
		Expression: `missing_field == "anything"`,
	}, data)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if ok {
		t.Fatal("expected expression over an undefined variable to be false")
	}

	// A cached program re-runs against fresh data.
	ok, err = e.Evaluate(domain.ConditionStepConfig{
		Expression: `order_total > 5000 && plan == "premium"`,
	}, map[string]any{"order_total": float64(100), "plan": "premium"})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if ok {
		t.Fatal("expected cached expression to evaluate new data")
	}
}

func TestEvaluator_ExpressionCompileError(t *testing.T) {
	e := NewConditionEvaluator()
	_, err := e.Evaluate(domain.ConditionStepConfig{Expression: `order_total >`}, map[string]any{})
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEvaluator_ExpressionTakesPrecedence(t *testing.T) {
	e := NewConditionEvaluator()
	// The field form alone would be false; the expression wins.
	ok, err := e.Evaluate(domain.ConditionStepConfig{
		Field:      "order_total",
		Operator:   domain.OpGreaterThan,
		Value:      1000000,
		Expression: `true`,
	}, map[string]any{"order_total": float64(1)})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected the expression to take precedence over the comparison")
	}
}

func TestInterpolate(t *testing.T) {
	data := map[string]any{"name": "Monstera", "price": float64(34.5)}
	got := interpolate("New arrival: {{name}} for ${{price}}!", data)
	if got != "New arrival: Monstera for $34.5!" {
		t.Fatalf("unexpected interpolation: %q", got)
	}
	// Unknown placeholders are left in place.
	got = interpolate("Hello {{nickname}}", data)
	if got != "Hello {{nickname}}" {
		t.Fatalf("unexpected interpolation: %q", got)
	}
}
