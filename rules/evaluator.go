package rules

import "fmt"

// Evaluator evaluates canonical rule sets against business data contexts.
// It holds no mutable state of its own and is safe for concurrent use when its
// ExpressionEvaluator is.
type Evaluator struct {
	expr ExpressionEvaluator
}

// NewEvaluator wraps an expression evaluator
func NewEvaluator(expr ExpressionEvaluator) *Evaluator {
	return &Evaluator{expr: expr}
}

// Evaluate runs every rule in declaration order, without short-circuiting, and aggregates
// the outcomes with the set's logic. A failing rule counts as not satisfied. Only a context
// that cannot be laid out, an empty set or unknown logic fail the whole evaluation.
func (e *Evaluator) Evaluate(set CanonicalRuleSet, ctx *BusinessDataContext) *ConditionEvaluationResult {
	result := &ConditionEvaluationResult{
		RuleResults: make([]RuleEvaluationDetail, 0, len(set.Rules)),
	}
	if len(set.Rules) == 0 {
		result.ErrorMessage = ErrNoRules.Error()
		return result
	}

	logic, err := ParseLogic(string(set.Logic))
	if err != nil {
		return FailedEvaluation(set, err.Error())
	}
	bindings, err := ctx.Bindings()
	if err != nil {
		return FailedEvaluation(set, fmt.Sprintf("failed to build business data context: %v", err))
	}

	met := logic == LogicAnd
	for _, rule := range set.Rules {
		detail := e.evaluateRule(rule, bindings)
		result.RuleResults = append(result.RuleResults, detail)
		if logic == LogicAnd {
			met = met && detail.IsSuccess
		} else {
			met = met || detail.IsSuccess
		}
	}
	result.IsConditionMet = met
	return result
}

func (e *Evaluator) evaluateRule(rule CanonicalRule, bindings map[string]any) RuleEvaluationDetail {
	detail := RuleEvaluationDetail{RuleName: rule.RuleName, Expression: rule.Expression}
	if err := CheckExpression(rule.Expression); err != nil {
		detail.ErrorMessage = err.Error()
		return detail
	}

	ok, err := e.expr.Evaluate(rule.Expression, bindings)
	if err != nil {
		detail.ErrorMessage = err.Error()
	} else {
		detail.IsSuccess = ok
	}

	if ve, isValuer := e.expr.(ValueEvaluator); isValuer {
		if paths := ReferencedPaths(rule.Expression); len(paths) > 0 {
			if v, err := ve.Value(paths[0], bindings); err == nil {
				detail.ActualValue = v
			}
		}
	}
	return detail
}

// FailedEvaluation is the result of an evaluation that could not run: the condition is not
// met, msg is the top-level error and every rule still gets a detail.
func FailedEvaluation(set CanonicalRuleSet, msg string) *ConditionEvaluationResult {
	result := &ConditionEvaluationResult{
		RuleResults:  make([]RuleEvaluationDetail, 0, len(set.Rules)),
		ErrorMessage: msg,
	}
	for _, rule := range set.Rules {
		result.RuleResults = append(result.RuleResults, RuleEvaluationDetail{
			RuleName:     rule.RuleName,
			Expression:   rule.Expression,
			ErrorMessage: msg,
		})
	}
	return result
}
