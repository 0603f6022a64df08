package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/common/errors"
)

func TestNewValidatorAgent_ConfigParsing(t *testing.T) {
	tests := []struct {
		name        string
		config      map[string]interface{}
		expectError bool
	}{
		{
			name:   "no rules",
			config: map[string]interface{}{},
		},
		{
			name: "valid rules",
			config: map[string]interface{}{
				"rules": []interface{}{
					map[string]interface{}{"field": "name", "type": "required"},
					map[string]interface{}{"field": "age", "type": "range", "min": 0, "max": 120},
				},
			},
		},
		{
			name: "rules not a list",
			config: map[string]interface{}{
				"rules": "required",
			},
			expectError: true,
		},
		{
			name: "rule missing field",
			config: map[string]interface{}{
				"rules": []interface{}{
					map[string]interface{}{"type": "required"},
				},
			},
			expectError: true,
		},
		{
			name: "unknown rule type",
			config: map[string]interface{}{
				"rules": []interface{}{
					map[string]interface{}{"field": "name", "type": "regex"},
				},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, err := NewValidatorAgent(tt.config)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, agent)
		})
	}
}

func TestValidatorAgent_Execute(t *testing.T) {
	ctx := context.Background()

	newAgent := func(t *testing.T, rules ...map[string]interface{}) Agent {
		raw := make([]interface{}, len(rules))
		for i, r := range rules {
			raw[i] = r
		}
		agent, err := NewValidatorAgent(map[string]interface{}{"rules": raw})
		require.NoError(t, err)
		return agent
	}

	t.Run("missing field is always an error", func(t *testing.T) {
		agent := newAgent(t, map[string]interface{}{"field": "name", "type": "type", "expected": "string"})

		result, err := agent.Execute(ctx, Record{})
		require.NoError(t, err)

		assert.Equal(t, false, result["valid"])
		assert.Contains(t, result["errors"], "missing required field: name")
	})

	t.Run("required rejects empty values", func(t *testing.T) {
		agent := newAgent(t, map[string]interface{}{"field": "name", "type": "required"})

		for _, empty := range []interface{}{
			"", false, float64(0),
			[]interface{}{},
			map[string]interface{}{},
		} {
			result, err := agent.Execute(ctx, Record{"name": empty})
			require.NoError(t, err)
			assert.Equal(t, false, result["valid"], "value %#v", empty)
		}

		for _, nonEmpty := range []interface{}{
			"ada", true, float64(1),
			[]interface{}{"x"},
			map[string]interface{}{"k": "v"},
		} {
			result, err := agent.Execute(ctx, Record{"name": nonEmpty})
			require.NoError(t, err)
			assert.Equal(t, true, result["valid"], "value %#v", nonEmpty)
		}
	})

	t.Run("type rule checks string and number", func(t *testing.T) {
		agent := newAgent(t,
			map[string]interface{}{"field": "name", "type": "type", "expected": "string"},
			map[string]interface{}{"field": "age", "type": "type", "expected": "number"},
		)

		result, err := agent.Execute(ctx, Record{"name": 42, "age": "old"})
		require.NoError(t, err)
		assert.Equal(t, false, result["valid"])
		assert.Len(t, result["errors"], 2)

		result, err = agent.Execute(ctx, Record{"name": "ada", "age": float64(36)})
		require.NoError(t, err)
		assert.Equal(t, true, result["valid"])
	})

	t.Run("range rule skips non-numeric values", func(t *testing.T) {
		agent := newAgent(t, map[string]interface{}{"field": "age", "type": "range", "min": 18, "max": 65})

		result, err := agent.Execute(ctx, Record{"age": "not a number"})
		require.NoError(t, err)
		assert.Equal(t, true, result["valid"])

		result, err = agent.Execute(ctx, Record{"age": float64(12)})
		require.NoError(t, err)
		assert.Equal(t, false, result["valid"])
		assert.Contains(t, result["errors"], "field age must be >= 18")
	})
}

func TestValidatorAgent_ValidateInput(t *testing.T) {
	agent, err := NewValidatorAgent(map[string]interface{}{
		"rules": []interface{}{
			map[string]interface{}{"field": "name", "type": "required"},
		},
	})
	require.NoError(t, err)

	err = agent.ValidateInput(context.Background(), Record{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Contains(t, err.Error(), "missing required field: name")

	assert.NoError(t, agent.ValidateInput(context.Background(), Record{"name": "ada"}))
}
