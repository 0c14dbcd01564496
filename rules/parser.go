package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Format identifies which rule shape a JSON document used
type Format string

const (
	FormatCanonical Format = "canonical"
	FormatFrontend  Format = "frontend"
)

var (
	ErrInvalidJSON   = errors.New("rules are not valid JSON")
	ErrInvalidFormat = errors.New("rules match neither the canonical nor the frontend format")
	ErrNoRules       = errors.New("rule set has no rules")
)

// ParsedRules is a rule document normalized to the canonical shape
type ParsedRules struct {
	Format  Format
	RuleSet CanonicalRuleSet
	// Skipped lists frontend rules left out of RuleSet
	Skipped []SkippedRule
	// WorkflowNameDefaulted is set when a canonical document carried no workflow name
	WorkflowNameDefaulted bool
}

// Parse reads a rule document in either shape. The canonical shape is tried first, as a
// single object or a one-element array of workflows; the frontend shape is translated.
// Keys match case-insensitively.
func (t *Translator) Parse(data []byte) (*ParsedRules, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrNoRules
	}
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}

	if data[0] == '[' {
		var sets []json.RawMessage
		if err := json.Unmarshal(data, &sets); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		switch len(sets) {
		case 0:
			return nil, ErrNoRules
		case 1:
			data = sets[0]
		default:
			return nil, fmt.Errorf("%w: expected one workflow, got %d", ErrInvalidFormat, len(sets))
		}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	rawRules, ok := lookupKey(top, "rules")
	if !ok {
		return nil, fmt.Errorf("%w: missing rules", ErrInvalidFormat)
	}
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(rawRules, &items); err != nil {
		return nil, fmt.Errorf("%w: rules must be an array of objects", ErrInvalidFormat)
	}
	if len(items) == 0 {
		return nil, ErrNoRules
	}

	switch {
	case allItems(items, "rulename", "expression"):
		return t.parseCanonical(data)
	case allItems(items, "fieldpath", "componenttype", "operator"):
		return t.parseFrontend(data)
	default:
		return nil, fmt.Errorf("%w: rules mix or lack rule fields", ErrInvalidFormat)
	}
}

// ParseRuleSet is Parse reduced to the canonical rule set
func (t *Translator) ParseRuleSet(data []byte) (CanonicalRuleSet, error) {
	parsed, err := t.Parse(data)
	if err != nil {
		return CanonicalRuleSet{}, err
	}
	return parsed.RuleSet, nil
}

func (t *Translator) parseCanonical(data []byte) (*ParsedRules, error) {
	var doc struct {
		WorkflowName string          `json:"workflowName"`
		Logic        string          `json:"logic"`
		Rules        []CanonicalRule `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	logic, err := ParseLogic(doc.Logic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	parsed := &ParsedRules{
		Format: FormatCanonical,
		RuleSet: CanonicalRuleSet{
			WorkflowName: strings.TrimSpace(doc.WorkflowName),
			Logic:        logic,
			Rules:        doc.Rules,
		},
	}
	if parsed.RuleSet.WorkflowName == "" {
		parsed.RuleSet.WorkflowName = t.defaultWorkflowName
		parsed.WorkflowNameDefaulted = true
	}
	return parsed, nil
}

func (t *Translator) parseFrontend(data []byte) (*ParsedRules, error) {
	var doc struct {
		WorkflowName string            `json:"workflowName"`
		Logic        string            `json:"logic"`
		Rules        []json.RawMessage `json:"rules"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	logic, err := ParseLogic(doc.Logic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	// An undecodable row stays in place as an empty rule, which Translate skips, so that
	// rule names and skipped indexes follow document positions.
	cfg := FrontendRuleConfig{
		WorkflowName: doc.WorkflowName,
		Logic:        logic,
		Rules:        make([]FrontendRule, len(doc.Rules)),
	}
	decodeErrs := make(map[int]string)
	for i, raw := range doc.Rules {
		if err := json.Unmarshal(raw, &cfg.Rules[i]); err != nil {
			cfg.Rules[i] = FrontendRule{}
			decodeErrs[i] = fmt.Sprintf("invalid rule: %v", err)
		}
	}

	set, skipped := t.Translate(cfg)
	for i := range skipped {
		if reason, ok := decodeErrs[skipped[i].Index]; ok {
			skipped[i].Reason = reason
		}
	}

	return &ParsedRules{
		Format:  FormatFrontend,
		RuleSet: set,
		Skipped: skipped,
	}, nil
}

func lookupKey(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// allItems reports whether every item has at least one of keys
func allItems(items []map[string]json.RawMessage, keys ...string) bool {
	for _, item := range items {
		found := false
		for _, key := range keys {
			if _, ok := lookupKey(item, key); ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
