package agents

import (
	"context"
	"fmt"
	"time"
)

// AnalyzerAgent produces a read-only summary of a record without mutating
// it. It always succeeds.
type AnalyzerAgent struct {
	BaseAgent
}

// NewAnalyzerAgent builds an analyzer. It takes no configuration keys.
func NewAnalyzerAgent(config map[string]interface{}) (Agent, error) {
	return &AnalyzerAgent{BaseAgent: NewBaseAgent("analyzer", config)}, nil
}

// Execute summarizes the input record: size heuristics, fields with missing
// values, and a census of numeric fields.
func (a *AnalyzerAgent) Execute(ctx context.Context, input Record) (Record, error) {
	insights := []Record{}

	missing := []string{}
	for key, value := range input {
		if value == nil || value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		insights = append(insights, Record{
			"type":   "missing_data",
			"fields": missing,
		})
	}

	numeric := []string{}
	for key, value := range input {
		if _, ok := asNumber(value); ok {
			numeric = append(numeric, key)
		}
	}
	if len(numeric) > 0 {
		insights = append(insights, Record{
			"type":   "numeric_summary",
			"fields": numeric,
			"count":  len(numeric),
		})
	}

	analysis := Record{
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"data_size":    len(fmt.Sprint(input)),
		"fields_count": len(input),
		"insights":     insights,
	}

	return Record{
		"analysis": analysis,
		"data":     input,
	}, nil
}
