// Package storage defines the persistence interface consumed by the agent
// registry, the pipeline engine, and the event bus. Any transactional store
// can implement it; SQLite and PostgreSQL adapters are provided.
package storage

import (
	"context"
	"time"

	"agent-platform/internal/models"
)

// Storage is the system of record for agents, pipelines, executions,
// events, audit logs, and settings.
type Storage interface {
	Close() error
	Health() error

	// Agents
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgentStatus(ctx context.Context, id int64, status models.AgentStatus) error
	DeleteAgent(ctx context.Context, id int64) error

	// Pipelines. GetPipeline loads steps ordered by step_order ascending.
	// DeletePipeline cascades to the pipeline's steps.
	CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error
	GetPipeline(ctx context.Context, id int64) (*models.Pipeline, error)
	GetPipelineByName(ctx context.Context, name string) (*models.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*models.Pipeline, error)
	UpdatePipelineStatus(ctx context.Context, id int64, status models.PipelineStatus) error
	DeletePipeline(ctx context.Context, id int64) error

	// Steps. AddStep rejects a duplicate step_order within a pipeline.
	AddStep(ctx context.Context, step *models.Step) error
	GetSteps(ctx context.Context, pipelineID int64) ([]*models.Step, error)
	DeleteStep(ctx context.Context, id int64) error

	// Executions
	CreateExecution(ctx context.Context, execution *models.Execution) error
	GetExecution(ctx context.Context, id int64) (*models.Execution, error)
	UpdateExecution(ctx context.Context, execution *models.Execution) error
	ListExecutions(ctx context.Context, pipelineID int64, limit, offset int) ([]*models.Execution, error)

	// Events. Status transitions are forward-only; the Mark methods embed
	// the allowed transitions in their conditions. MarkEventFailed also
	// increments the retry counter.
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id int64) (*models.Event, error)
	MarkEventProcessing(ctx context.Context, id int64) error
	MarkEventCompleted(ctx context.Context, id int64, processedAt time.Time) error
	MarkEventFailed(ctx context.Context, id int64) error
	ListEventsByStatus(ctx context.Context, status models.EventStatus, olderThan time.Time, limit int) ([]*models.Event, error)
	ListEventsByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error)

	// Audit log
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}
