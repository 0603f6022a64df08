// Package agents defines the agent contract, the builtin agent
// implementations, and the process-wide agent registry.
//
// An agent is a configured unit of computation over a generic record:
// given a config and an input record it produces an output record. Expected
// validation failures are reported as data, not errors; errors are reserved
// for conditions that should fail the surrounding pipeline step.
package agents

import (
	"context"

	"agent-platform/internal/models"
)

// Record is the generic payload agents operate on.
type Record = map[string]interface{}

// Agent is implemented by every unit of pipeline computation.
type Agent interface {
	// Execute runs the agent's main logic over the input record.
	Execute(ctx context.Context, input Record) (Record, error)

	// ValidateInput is a pre-check gate. A non-nil error means the input
	// must not be executed; the error text names what was wrong.
	ValidateInput(ctx context.Context, input Record) error

	// OnStart is called before the agent's first invocation.
	OnStart(ctx context.Context) error

	// OnStop is called after the agent's last invocation.
	OnStop(ctx context.Context) error

	// OnError is called when Execute fails, for side-channel telemetry.
	OnError(ctx context.Context, err error, input Record)

	// Metadata describes the agent instance.
	Metadata() Metadata
}

// Metadata describes an agent instance.
type Metadata struct {
	Name    string                 `json:"name"`
	Version string                 `json:"version"`
	Status  models.AgentStatus     `json:"status"`
	Config  map[string]interface{} `json:"config"`
}

// Constructor builds an agent instance from an opaque configuration map.
// Constructors must validate their expected keys and return a descriptive
// config error on malformed input.
type Constructor func(config map[string]interface{}) (Agent, error)

// BaseAgent provides the default lifecycle behavior shared by all agents.
// Concrete agents embed it and override Execute plus whatever hooks they
// need.
type BaseAgent struct {
	name    string
	version string
	status  models.AgentStatus
	config  map[string]interface{}
}

// NewBaseAgent creates the embedded base for a concrete agent.
func NewBaseAgent(name string, config map[string]interface{}) BaseAgent {
	if config == nil {
		config = map[string]interface{}{}
	}
	return BaseAgent{
		name:    name,
		version: "1.0.0",
		status:  models.AgentStatusInactive,
		config:  config,
	}
}

// ValidateInput accepts any input by default.
func (b *BaseAgent) ValidateInput(ctx context.Context, input Record) error {
	return nil
}

// OnStart marks the agent active.
func (b *BaseAgent) OnStart(ctx context.Context) error {
	b.status = models.AgentStatusActive
	return nil
}

// OnStop marks the agent inactive.
func (b *BaseAgent) OnStop(ctx context.Context) error {
	b.status = models.AgentStatusInactive
	return nil
}

// OnError marks the agent's status as errored.
func (b *BaseAgent) OnError(ctx context.Context, err error, input Record) {
	b.status = models.AgentStatusError
}

// Metadata returns the agent's metadata.
func (b *BaseAgent) Metadata() Metadata {
	return Metadata{
		Name:    b.name,
		Version: b.version,
		Status:  b.status,
		Config:  b.config,
	}
}

// Config returns the agent's configuration map.
func (b *BaseAgent) Config() map[string]interface{} {
	return b.config
}

// Status returns the agent's lifecycle status.
func (b *BaseAgent) Status() models.AgentStatus {
	return b.status
}
