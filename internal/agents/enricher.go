package agents

import (
	"context"
	"fmt"
	"time"

	"agent-platform/internal/common/errors"
)

// EnricherAgent returns a copy of its input extended with a provenance
// stamp and any configured static field additions. It never removes fields.
type EnricherAgent struct {
	BaseAgent
	additions map[string]interface{}
}

// NewEnricherAgent builds an enricher. The config key "rules" holds a list
// of {add_field, value} objects added to every record.
func NewEnricherAgent(config map[string]interface{}) (Agent, error) {
	additions, err := parseEnrichmentRules(config)
	if err != nil {
		return nil, err
	}
	return &EnricherAgent{
		BaseAgent: NewBaseAgent("enricher", config),
		additions: additions,
	}, nil
}

// Execute copies the input and stamps it with provenance metadata plus the
// configured additions.
func (a *EnricherAgent) Execute(ctx context.Context, input Record) (Record, error) {
	enriched := make(Record, len(input)+len(a.additions)+1)
	for key, value := range input {
		enriched[key] = value
	}

	meta := a.Metadata()
	enriched["_enrichment"] = Record{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"agent":     meta.Name,
		"version":   meta.Version,
	}

	for field, value := range a.additions {
		enriched[field] = value
	}

	return enriched, nil
}

func parseEnrichmentRules(config map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := config["rules"]
	if !ok {
		return nil, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.ConfigError("enricher config key \"rules\" must be a list")
	}

	additions := make(map[string]interface{}, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.ConfigError(fmt.Sprintf("enricher rule %d must be an object", i))
		}

		field, _ := entry["add_field"].(string)
		value, hasValue := entry["value"]
		if field == "" || !hasValue {
			return nil, errors.ConfigError(fmt.Sprintf("enricher rule %d needs \"add_field\" and \"value\"", i))
		}

		additions[field] = value
	}

	return additions, nil
}
