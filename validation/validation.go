package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/rules"
)

// ValidationError is a blocking finding
type ValidationError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ValidationWarning is a finding reported to the author that does not block the condition
type ValidationWarning struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Result is the outcome of validating a condition's rules and actions.
// IsValid is true exactly when Errors is empty.
type Result struct {
	IsValid  bool                `json:"isValid"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
	// Format is the shape the rules arrived in, when they could be parsed
	Format rules.Format `json:"format,omitempty"`
	// RuleSet is the canonical form of the rules, when they could be parsed
	RuleSet *rules.CanonicalRuleSet `json:"ruleSet,omitempty"`
	// Actions holds the decoded actions when every entry decoded
	Actions actions.List `json:"-"`
}

func newResult() *Result {
	return &Result{Errors: []ValidationError{}, Warnings: []ValidationWarning{}}
}

// NotFoundResult reports a condition that could not be loaded
func NotFoundResult(what string) *Result {
	r := newResult()
	r.addError(NotFound, "", "%s not found", what)
	return r
}

func (r *Result) addError(code Code, field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Code: code, Message: fmt.Sprintf(format, args...), Field: field})
}

func (r *Result) addWarning(code Code, field, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Code: code, Message: fmt.Sprintf(format, args...), Field: field})
}

// HasError reports whether the result carries an error with code
func (r *Result) HasError(code Code) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// HasWarning reports whether the result carries a warning with code
func (r *Result) HasWarning(code Code) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Validator structurally validates condition definitions before they may run
type Validator struct {
	translator *rules.Translator
	checker    rules.ExpressionChecker
}

// New creates a validator. checker is optional; when set, canonical expressions must also
// compile.
func New(translator *rules.Translator, checker rules.ExpressionChecker) *Validator {
	if translator == nil {
		translator = rules.NewTranslator("")
	}
	return &Validator{translator: translator, checker: checker}
}

// Validate checks rulesJSON and actionsJSON without a known source stage
func (v *Validator) Validate(rulesJSON, actionsJSON []byte) *Result {
	return v.ValidateForStage(0, rulesJSON, actionsJSON)
}

// ValidateForStage checks a condition attached to sourceStageID. A zero sourceStageID skips
// the self-loop check.
func (v *Validator) ValidateForStage(sourceStageID int64, rulesJSON, actionsJSON []byte) *Result {
	r := newResult()
	v.validateRules(r, rulesJSON)
	validateActions(r, sourceStageID, actionsJSON)
	r.IsValid = len(r.Errors) == 0
	return r
}

func isMissing(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

func (v *Validator) validateRules(r *Result, data []byte) {
	if isMissing(data) {
		r.addError(RulesRequired, "rules", "rules are required")
		return
	}

	parsed, err := v.translator.Parse(data)
	switch {
	case errors.Is(err, rules.ErrInvalidJSON):
		r.addError(InvalidJSON, "rules", "rules are not valid JSON")
		return
	case errors.Is(err, rules.ErrNoRules):
		r.addError(RulesEmpty, "rules", "at least one rule is required")
		return
	case err != nil:
		r.addError(InvalidFormat, "rules", "%v", err)
		return
	}

	r.Format = parsed.Format
	r.RuleSet = &parsed.RuleSet
	if parsed.Format == rules.FormatFrontend {
		r.addWarning(FormatConverted, "rules", "rules were converted from the rule builder format")
	}
	if parsed.WorkflowNameDefaulted {
		r.addWarning(WorkflowNameEmpty, "workflowName", "workflow name is empty, using %q", parsed.RuleSet.WorkflowName)
	}
	for _, s := range parsed.Skipped {
		r.addError(InvalidExpression, fmt.Sprintf("rules[%d]", s.Index), "rule could not be translated: %s", s.Reason)
	}

	// Converted rules are reported against their canonical position.
	seen := make(map[string]int, len(parsed.RuleSet.Rules))
	for i, rule := range parsed.RuleSet.Rules {
		name := strings.TrimSpace(rule.RuleName)
		if name == "" {
			r.addError(RuleNameRequired, fmt.Sprintf("rules[%d].ruleName", i), "rule name is required")
		} else if first, dup := seen[name]; dup {
			r.addError(DuplicateRuleName, fmt.Sprintf("rules[%d].ruleName", i), "rule name %q is already used by rules[%d]", name, first)
		} else {
			seen[name] = i
		}

		field := fmt.Sprintf("rules[%d].expression", i)
		if strings.TrimSpace(rule.Expression) == "" {
			r.addError(RuleExpressionRequired, field, "rule expression is required")
			continue
		}
		if err := rules.CheckExpression(rule.Expression); err != nil {
			r.addError(InvalidExpression, field, "%v", err)
			continue
		}
		if v.checker != nil {
			if err := v.checker.Check(rule.Expression); err != nil {
				r.addError(InvalidExpression, field, "%v", err)
			}
		}
	}

	if parsed.RuleSet.Logic != rules.LogicOr {
		checkConflictingRules(r, parsed.RuleSet.Rules)
	}
}

// checkConflictingRules warns when two equality rules under AND pin the same path to
// different literals, which can never both hold
func checkConflictingRules(r *Result, set []rules.CanonicalRule) {
	type pinned struct {
		index   int
		literal string
	}
	byPath := make(map[string]pinned)
	for i, rule := range set {
		path, lit, ok := equalityLiteral(rule.Expression)
		if !ok {
			continue
		}
		prev, seen := byPath[path]
		if !seen {
			byPath[path] = pinned{index: i, literal: lit}
			continue
		}
		if prev.literal != lit {
			r.addWarning(ConflictingRules, fmt.Sprintf("rules[%d]", i),
				"rules[%d] and rules[%d] require %s to equal both %s and %s", prev.index, i, path, prev.literal, lit)
		}
	}
}

// equalityLiteral matches expressions of the form `<path> == <literal>`
func equalityLiteral(expr string) (path, lit string, ok bool) {
	expr = strings.TrimSpace(expr)
	paths := rules.ReferencedPaths(expr)
	if len(paths) != 1 || !strings.HasPrefix(expr, paths[0]) {
		return "", "", false
	}
	rest := strings.TrimSpace(expr[len(paths[0]):])
	if !strings.HasPrefix(rest, "==") {
		return "", "", false
	}
	lit = strings.TrimSpace(rest[2:])
	if !isLiteral(lit) {
		return "", "", false
	}
	return paths[0], lit, true
}

func isLiteral(s string) bool {
	switch s {
	case "true", "false", "null":
		return true
	}
	if _, err := strconv.Unquote(s); err == nil {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func validateActions(r *Result, sourceStageID int64, data []byte) {
	if isMissing(data) {
		r.addError(ActionsRequired, "actions", "actions are required")
		return
	}
	if !json.Valid(data) {
		r.addError(InvalidJSON, "actions", "actions are not valid JSON")
		return
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		r.addError(InvalidFormat, "actions", "actions must be a JSON array")
		return
	}
	if len(raw) == 0 {
		r.addError(ActionsEmpty, "actions", "at least one action is required")
		return
	}

	decoded := make(actions.List, 0, len(raw))
	failed := false
	for i, item := range raw {
		field := fmt.Sprintf("actions[%d]", i)
		a, err := actions.DecodeAction(item)
		switch {
		case errors.Is(err, actions.ErrTypeRequired):
			r.addError(ActionTypeRequired, field+".type", "action type is required")
		case errors.Is(err, actions.ErrUnknownType):
			r.addError(InvalidActionType, field+".type", "%v (must be one of %s)", err, typeNames())
		case err != nil:
			r.addError(InvalidFormat, field, "%v", err)
		}
		if err != nil {
			failed = true
			continue
		}
		for _, name := range actions.MissingParameters(a) {
			r.addWarning(MissingActionParameter, field+"."+name, "%s action is missing %s", a.Type(), name)
		}
		decoded = append(decoded, a)
	}
	if !failed {
		r.Actions = decoded
	}
	checkStageControl(r, sourceStageID, decoded)
}

func checkStageControl(r *Result, sourceStageID int64, list actions.List) {
	var stageControl int
	targets := make(map[actions.StageID]bool)
	for _, a := range list {
		if a.Type().IsStageControl() {
			stageControl++
		}
		g, ok := a.(actions.GoToStageAction)
		if !ok || g.TargetStageID == 0 {
			continue
		}
		targets[g.TargetStageID] = true
		if sourceStageID != 0 && int64(g.TargetStageID) == sourceStageID {
			r.addWarning(CircularReference, "actions", "GoToStage targets its own source stage %d", sourceStageID)
		}
	}

	if stageControl > 1 {
		r.addWarning(ConflictingStageActions, "actions",
			"%d stage-control actions present; only the lowest order runs", stageControl)
	}
	if len(targets) > 1 {
		r.addWarning(MultipleGoToStageTargets, "actions", "GoToStage actions target %d different stages", len(targets))
	}
}

func typeNames() string {
	names := make([]string, len(actions.AllTypes))
	for i, t := range actions.AllTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
