package agents

import (
	"context"
	"fmt"

	"agent-platform/internal/common/errors"
)

// TransformerAgent projects records through a configured rename map. Fields
// not in the map are dropped unless copy_unmapped is set, in which case they
// pass through untouched. When a copied field's name collides with a mapped
// target, the mapped value wins.
type TransformerAgent struct {
	BaseAgent
	mappings     map[string]string
	copyUnmapped bool
}

// NewTransformerAgent builds a transformer. Config keys: "mappings" (a
// source-to-target field rename map) and "copy_unmapped" (bool).
func NewTransformerAgent(config map[string]interface{}) (Agent, error) {
	mappings, err := parseFieldMappings(config)
	if err != nil {
		return nil, err
	}

	copyUnmapped := false
	if raw, ok := config["copy_unmapped"]; ok {
		flag, ok := raw.(bool)
		if !ok {
			return nil, errors.ConfigError("transformer config key \"copy_unmapped\" must be a bool")
		}
		copyUnmapped = flag
	}

	return &TransformerAgent{
		BaseAgent:    NewBaseAgent("transformer", config),
		mappings:     mappings,
		copyUnmapped: copyUnmapped,
	}, nil
}

// Execute applies the rename map to the input record.
func (a *TransformerAgent) Execute(ctx context.Context, input Record) (Record, error) {
	transformed := make(Record, len(input))

	for source, target := range a.mappings {
		if value, ok := input[source]; ok {
			transformed[target] = value
		}
	}

	if a.copyUnmapped {
		for key, value := range input {
			if _, mapped := a.mappings[key]; mapped {
				continue
			}
			// Mapped targets win over raw copies.
			if _, taken := transformed[key]; taken {
				continue
			}
			transformed[key] = value
		}
	}

	return transformed, nil
}

func parseFieldMappings(config map[string]interface{}) (map[string]string, error) {
	raw, ok := config["mappings"]
	if !ok {
		return map[string]string{}, nil
	}

	var entries map[string]interface{}
	switch m := raw.(type) {
	case map[string]interface{}:
		entries = m
	case map[string]string:
		result := make(map[string]string, len(m))
		for source, target := range m {
			result[source] = target
		}
		return result, nil
	default:
		return nil, errors.ConfigError("transformer config key \"mappings\" must be an object")
	}

	mappings := make(map[string]string, len(entries))
	for source, rawTarget := range entries {
		target, ok := rawTarget.(string)
		if !ok || target == "" {
			return nil, errors.ConfigError(fmt.Sprintf("transformer mapping for %q must be a field name", source))
		}
		mappings[source] = target
	}

	return mappings, nil
}
