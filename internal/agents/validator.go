package agents

import (
	"context"
	"fmt"
	"strings"

	"agent-platform/internal/common/errors"
)

// Rule types understood by the validator agent.
const (
	ruleRequired = "required"
	ruleType     = "type"
	ruleRange    = "range"
)

// ValidationRule is one configured check against a record field.
type ValidationRule struct {
	Field    string
	Type     string
	Expected string
	Min      *float64
	Max      *float64
}

// ValidatorAgent checks records against configured field rules. Rule
// violations are reported as data from Execute; ValidateInput surfaces the
// same violations as an error so a pipeline step can gate on them.
type ValidatorAgent struct {
	BaseAgent
	rules []ValidationRule
}

// NewValidatorAgent builds a validator from its configuration. The config
// key "rules" holds a list of {field, type, expected, min, max} objects.
func NewValidatorAgent(config map[string]interface{}) (Agent, error) {
	rules, err := parseValidationRules(config)
	if err != nil {
		return nil, err
	}
	return &ValidatorAgent{
		BaseAgent: NewBaseAgent("validator", config),
		rules:     rules,
	}, nil
}

// Execute evaluates the configured rules and reports the outcome as data.
func (a *ValidatorAgent) Execute(ctx context.Context, input Record) (Record, error) {
	errs := a.check(input)
	return Record{
		"valid":  len(errs) == 0,
		"errors": errs,
		"data":   input,
	}, nil
}

// ValidateInput fails when any configured rule is violated, so the engine
// short-circuits the step with the rule violations as the error text.
func (a *ValidatorAgent) ValidateInput(ctx context.Context, input Record) error {
	if errs := a.check(input); len(errs) > 0 {
		return errors.ValidationError(strings.Join(errs, "; "))
	}
	return nil
}

func (a *ValidatorAgent) check(input Record) []string {
	errs := []string{}

	for _, rule := range a.rules {
		value, present := input[rule.Field]
		if !present {
			// Missing fields fail regardless of rule type.
			errs = append(errs, fmt.Sprintf("missing required field: %s", rule.Field))
			continue
		}

		switch rule.Type {
		case ruleRequired:
			if isEmptyValue(value) {
				errs = append(errs, fmt.Sprintf("field %s is required", rule.Field))
			}
		case ruleType:
			switch rule.Expected {
			case "string":
				if _, ok := value.(string); !ok {
					errs = append(errs, fmt.Sprintf("field %s must be a string", rule.Field))
				}
			case "number":
				if _, ok := asNumber(value); !ok {
					errs = append(errs, fmt.Sprintf("field %s must be a number", rule.Field))
				}
			}
		case ruleRange:
			// Range checks apply to numeric values only.
			num, ok := asNumber(value)
			if !ok {
				continue
			}
			if rule.Min != nil && num < *rule.Min {
				errs = append(errs, fmt.Sprintf("field %s must be >= %g", rule.Field, *rule.Min))
			}
			if rule.Max != nil && num > *rule.Max {
				errs = append(errs, fmt.Sprintf("field %s must be <= %g", rule.Field, *rule.Max))
			}
		}
	}

	return errs
}

func parseValidationRules(config map[string]interface{}) ([]ValidationRule, error) {
	raw, ok := config["rules"]
	if !ok {
		return nil, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.ConfigError("validator config key \"rules\" must be a list")
	}

	rules := make([]ValidationRule, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.ConfigError(fmt.Sprintf("validator rule %d must be an object", i))
		}

		field, _ := entry["field"].(string)
		if field == "" {
			return nil, errors.ConfigError(fmt.Sprintf("validator rule %d is missing \"field\"", i))
		}

		kind, _ := entry["type"].(string)
		switch kind {
		case ruleRequired, ruleType, ruleRange:
		default:
			return nil, errors.ConfigError(fmt.Sprintf("validator rule %d has unknown type %q", i, kind))
		}

		rule := ValidationRule{Field: field, Type: kind}
		if expected, ok := entry["expected"].(string); ok {
			rule.Expected = expected
		}
		if min, ok := asNumber(entry["min"]); ok {
			rule.Min = &min
		}
		if max, ok := asNumber(entry["max"]); ok {
			rule.Max = &max
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case bool:
		return !val
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		if num, ok := asNumber(v); ok {
			return num == 0
		}
		return false
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
