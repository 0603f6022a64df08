package models

import "time"

// PipelineStatus is the lifecycle status of a pipeline. Only active
// pipelines accept new executions.
type PipelineStatus string

const (
	PipelineStatusDraft    PipelineStatus = "draft"
	PipelineStatusActive   PipelineStatus = "active"
	PipelineStatusPaused   PipelineStatus = "paused"
	PipelineStatusArchived PipelineStatus = "archived"
)

// Valid reports whether the status is one of the known pipeline statuses.
func (s PipelineStatus) Valid() bool {
	switch s {
	case PipelineStatusDraft, PipelineStatusActive, PipelineStatusPaused,
		PipelineStatusArchived:
		return true
	}
	return false
}

// Pipeline is an ordered chain of agent invocations. Steps are owned by the
// pipeline and are removed with it.
type Pipeline struct {
	ID          int64                  `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Status      PipelineStatus         `json:"status"`
	Config      map[string]interface{} `json:"config"`
	Steps       []*Step                `json:"steps,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Step binds one agent definition into a pipeline at a given position.
// StepOrder is unique within a pipeline and defines execution sequence.
// Config overrides the agent's own config for this invocation.
type Step struct {
	ID         int64                  `json:"id"`
	PipelineID int64                  `json:"pipeline_id"`
	AgentID    int64                  `json:"agent_id"`
	StepOrder  int                    `json:"order"`
	Config     map[string]interface{} `json:"config"`
	CreatedAt  time.Time              `json:"created_at"`
}
