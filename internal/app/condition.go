/**
 * @description
 * Condition evaluation for CONDITION steps. The closed field/operator/value
 * form covers the common cases; free-form boolean expressions are compiled
 * with expr-lang and cached per expression.
 */

package app

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/verdantnursery/marketing-service/internal/domain"
)

// ConditionEvaluator evaluates CONDITION step configs against a data bag.
type ConditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewConditionEvaluator creates an evaluator with an initialized cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate returns whether the condition holds for the data bag.
func (e *ConditionEvaluator) Evaluate(cfg domain.ConditionStepConfig, data map[string]any) (bool, error) {
	if cfg.Expression != "" {
		return e.evaluateExpression(cfg.Expression, data)
	}
	return evaluateComparison(cfg, data)
}

func (e *ConditionEvaluator) evaluateExpression(expression string, data map[string]any) (bool, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.AllowUndefinedVariables(), expr.AsBool())
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("failed to compile condition expression: %w", err)
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, data)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition expression: %w", err)
	}
	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition expression %q did not evaluate to a boolean, got %T", expression, result)
	}
	return boolResult, nil
}

func evaluateComparison(cfg domain.ConditionStepConfig, data map[string]any) (bool, error) {
	actual, present := data[cfg.Field]

	switch cfg.Operator {
	case domain.OpExists:
		return present && actual != nil, nil
	case domain.OpEquals:
		return present && looseEqual(actual, cfg.Value), nil
	case domain.OpNotEquals:
		return !present || !looseEqual(actual, cfg.Value), nil
	case domain.OpGreaterThan, domain.OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(cfg.Value)
		if !aok || !bok {
			return false, nil
		}
		if cfg.Operator == domain.OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	case domain.OpContains:
		return strings.Contains(toString(actual), toString(cfg.Value)), nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", cfg.Operator)
	}
}

// looseEqual compares across the numeric and string representations the
// JSON data bag round-trips through.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
