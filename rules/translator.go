package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// SkippedRule records a frontend rule the translator could not convert
type SkippedRule struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Translator converts frontend rule configs into canonical rule sets.
// It only converts formats: it never evaluates and holds no mutable state.
type Translator struct {
	defaultWorkflowName string
}

// NewTranslator creates a translator. An empty defaultWorkflowName uses DefaultWorkflowName.
func NewTranslator(defaultWorkflowName string) *Translator {
	if strings.TrimSpace(defaultWorkflowName) == "" {
		defaultWorkflowName = DefaultWorkflowName
	}
	return &Translator{defaultWorkflowName: defaultWorkflowName}
}

// DefaultName returns the workflow name given to rule sets without one
func (t *Translator) DefaultName() string {
	return t.defaultWorkflowName
}

// Translate builds one canonical rule per frontend rule, in input order, and carries the
// config's logic as the aggregation mode. Rules that cannot be converted are left out and
// reported in skipped.
func (t *Translator) Translate(cfg FrontendRuleConfig) (set CanonicalRuleSet, skipped []SkippedRule) {
	set.WorkflowName = strings.TrimSpace(cfg.WorkflowName)
	if set.WorkflowName == "" {
		set.WorkflowName = t.defaultWorkflowName
	}

	// An unknown logic keyword is reported by Parse; here it falls back to AND.
	logic, err := ParseLogic(string(cfg.Logic))
	if err != nil {
		logic = LogicAnd
	}
	set.Logic = logic

	set.Rules = make([]CanonicalRule, 0, len(cfg.Rules))
	for i, r := range cfg.Rules {
		expr, err := buildExpression(r)
		if err != nil {
			skipped = append(skipped, SkippedRule{Index: i, Reason: err.Error()})
			continue
		}
		set.Rules = append(set.Rules, CanonicalRule{
			RuleName:   ruleName(r, i),
			Expression: expr,
		})
	}
	return set, skipped
}

var nameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ruleName derives a name from the component and the rule's position, unique within the set
func ruleName(r FrontendRule, index int) string {
	id := nameUnsafe.ReplaceAllString(strings.TrimSpace(string(r.ComponentID)), "_")
	if id == "" {
		id = "0"
	}
	return fmt.Sprintf("%s_%s_%d", r.ComponentType, id, index+1)
}

// operatorAliases maps accepted operator spellings to their canonical form
var operatorAliases = map[string]string{
	"==": "==", "=": "==", "eq": "==", "equals": "==",
	"!=": "!=", "<>": "!=", "ne": "!=", "notequals": "!=",
	">": ">", "gt": ">",
	">=": ">=", "gte": ">=",
	"<": "<", "lt": "<",
	"<=": "<=", "lte": "<=",
	"contains":   "contains",
	"startswith": "startsWith", "starts_with": "startsWith",
	"endswith": "endsWith", "ends_with": "endsWith",
	"in": "in", "notin": "notIn", "not_in": "notIn",
	"isempty": "isEmpty", "is_empty": "isEmpty",
	"isnotempty": "isNotEmpty", "is_not_empty": "isNotEmpty",
}

func normalizeOperator(op string) (string, error) {
	canonical, ok := operatorAliases[strings.ToLower(strings.TrimSpace(op))]
	if !ok {
		return "", fmt.Errorf("unsupported operator %q", op)
	}
	return canonical, nil
}

func buildExpression(r FrontendRule) (string, error) {
	if !r.ComponentType.valid() {
		return "", fmt.Errorf("unsupported component type %q", r.ComponentType)
	}
	path := strings.TrimSpace(r.FieldPath)
	if err := ValidateFieldPath(path); err != nil {
		return "", err
	}
	op, err := normalizeOperator(r.Operator)
	if err != nil {
		return "", err
	}

	switch op {
	case "isEmpty":
		return fmt.Sprintf("size(%s) == 0", path), nil
	case "isNotEmpty":
		return fmt.Sprintf("size(%s) > 0", path), nil
	case "contains", "startsWith", "endsWith":
		s, ok := r.Value.(string)
		if !ok {
			return "", fmt.Errorf("operator %s requires a string value", op)
		}
		return fmt.Sprintf("%s.%s(%s)", path, op, strconv.Quote(s)), nil
	case "in", "notIn":
		list, err := listLiteral(r.Value)
		if err != nil {
			return "", err
		}
		if op == "notIn" {
			return fmt.Sprintf("!(%s in %s)", path, list), nil
		}
		return fmt.Sprintf("%s in %s", path, list), nil
	}

	lit, err := literal(coerceValue(path, op, r.Value))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", path, op, lit), nil
}

// coerceValue converts the string inputs the rule builder sends into the type the
// comparison needs. Ordering always wants a number. Equality follows the type of a known
// input property and leaves author fields alone.
func coerceValue(path, op string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)

	kind := LeafNumber
	if op == "==" || op == "!=" {
		kind = FieldLeafKind(path)
	}
	switch kind {
	case LeafNumber:
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	case LeafBool:
		switch strings.ToLower(trimmed) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return v
}

// literal renders v as an expression literal: strings quoted, numbers and booleans bare
func literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		return strconv.Quote(x), nil
	case json.Number:
		return numberLiteral(x.String())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", errors.New("value must be a finite number")
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return literal(float64(x))
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func numberLiteral(s string) (string, error) {
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", fmt.Errorf("invalid number %q", s)
	}
	return s, nil
}

func listLiteral(v any) (string, error) {
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	default:
		items = []any{v}
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		lit, err := literal(item)
		if err != nil {
			return "", err
		}
		parts = append(parts, lit)
	}
	return "[" + strings.Join(parts, ", ") + "]", nil
}
