package validation

// Code is a stable identifier for a validation finding
type Code string

// Blocking error codes
const (
	NotFound               Code = "NOT_FOUND"
	RulesRequired          Code = "RULES_REQUIRED"
	RulesEmpty             Code = "RULES_EMPTY"
	ActionsRequired        Code = "ACTIONS_REQUIRED"
	ActionsEmpty           Code = "ACTIONS_EMPTY"
	InvalidJSON            Code = "INVALID_JSON"
	InvalidFormat          Code = "INVALID_FORMAT"
	InvalidExpression      Code = "INVALID_EXPRESSION"
	RuleNameRequired       Code = "RULE_NAME_REQUIRED"
	RuleExpressionRequired Code = "RULE_EXPRESSION_REQUIRED"
	DuplicateRuleName      Code = "DUPLICATE_RULE_NAME"
	ActionTypeRequired     Code = "ACTION_TYPE_REQUIRED"
	InvalidActionType      Code = "INVALID_ACTION_TYPE"
)

// Warning codes. Warnings never affect validity.
const (
	FormatConverted          Code = "FORMAT_CONVERTED"
	WorkflowNameEmpty        Code = "WORKFLOW_NAME_EMPTY"
	ConflictingRules         Code = "CONFLICTING_RULES"
	ConflictingStageActions  Code = "CONFLICTING_STAGE_ACTIONS"
	MultipleGoToStageTargets Code = "MULTIPLE_GOTOSTAGE_TARGETS"
	CircularReference        Code = "CIRCULAR_REFERENCE"
	MissingActionParameter   Code = "MISSING_ACTION_PARAMETER"
)
