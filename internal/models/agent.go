// Package models defines the persisted row types and status enumerations
// shared by the storage layer, the pipeline engine, and the event bus.
package models

import "time"

// AgentType identifies the behavioral family of an agent.
type AgentType string

const (
	AgentTypeValidator   AgentType = "validator"
	AgentTypeAnalyzer    AgentType = "analyzer"
	AgentTypeEnricher    AgentType = "enricher"
	AgentTypeTransformer AgentType = "transformer"
	AgentTypeCustom      AgentType = "custom"
)

// Valid reports whether the type is one of the known agent types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeValidator, AgentTypeAnalyzer, AgentTypeEnricher,
		AgentTypeTransformer, AgentTypeCustom:
		return true
	}
	return false
}

// AgentStatus is the lifecycle status of an agent definition.
type AgentStatus string

const (
	AgentStatusActive      AgentStatus = "active"
	AgentStatusInactive    AgentStatus = "inactive"
	AgentStatusError       AgentStatus = "error"
	AgentStatusMaintenance AgentStatus = "maintenance"
)

// Agent is a registered agent definition. Identity (ID, Name) is immutable;
// status and config are mutable.
type Agent struct {
	ID          int64                  `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Type        AgentType              `json:"agent_type"`
	Status      AgentStatus            `json:"status"`
	Config      map[string]interface{} `json:"config"`
	Version     string                 `json:"version"`
	IsPlugin    bool                   `json:"is_plugin"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}
