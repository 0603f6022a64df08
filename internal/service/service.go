// Package service is the upward API facade: every operation the CRUD layer
// calls goes through here, with permission checks before the work and audit
// rows after it.
package service

import (
	"context"
	"fmt"

	"agent-platform/internal/agents"
	"agent-platform/internal/audit"
	"agent-platform/internal/authz"
	"agent-platform/internal/bus"
	"agent-platform/internal/common/errors"
	"agent-platform/internal/common/logging"
	"agent-platform/internal/models"
	"agent-platform/internal/pipeline"
	"agent-platform/internal/storage"
)

// Service wires storage, the agent registry, the execution engine and the
// event bus behind a single permission-checked surface.
type Service struct {
	storage  storage.Storage
	registry *agents.Registry
	engine   *pipeline.Engine
	bus      *bus.EventBus
	authz    authz.Checker
	audit    *audit.Logger
	logger   logging.Logger
}

// New creates the service facade.
func New(store storage.Storage, registry *agents.Registry, engine *pipeline.Engine, eventBus *bus.EventBus, checker authz.Checker, auditLog *audit.Logger, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{
		storage:  store,
		registry: registry,
		engine:   engine,
		bus:      eventBus,
		authz:    checker,
		audit:    auditLog,
		logger:   logger.WithFields(logging.String("component", "service")),
	}
}

func (s *Service) check(ctx context.Context, resource, action string) (*authz.Principal, error) {
	principal := authz.PrincipalFrom(ctx)
	if err := s.authz.Check(ctx, principal, resource, action); err != nil {
		return nil, err
	}
	return principal, nil
}

// --- Agents ---

// CreateAgent validates and persists an agent definition. Custom agents must
// have a constructor registered under their name; typed agents use their
// builtin constructor.
func (s *Service) CreateAgent(ctx context.Context, agent *models.Agent) error {
	principal, err := s.check(ctx, "agent", authz.ActionCreate)
	if err != nil {
		return err
	}

	if agent.Name == "" {
		return errors.ValidationError("agent name is required")
	}
	if !agent.Type.Valid() {
		return errors.ValidationError(fmt.Sprintf("unknown agent type %q", agent.Type))
	}
	if agent.Type == models.AgentTypeCustom && !s.registry.IsRegistered(agent.Name) {
		return errors.PolicyError(
			fmt.Sprintf("no constructor registered for custom agent %q", agent.Name))
	}

	if err := s.storage.CreateAgent(ctx, agent); err != nil {
		s.audit.Failure(ctx, principal.Name, "agent.create", "agent", 0, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "agent.create", "agent", agent.ID,
		map[string]interface{}{"name": agent.Name, "type": string(agent.Type)})
	return nil
}

// GetAgent returns one agent definition.
func (s *Service) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	if _, err := s.check(ctx, "agent", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.GetAgent(ctx, id)
}

// ListAgents returns all agent definitions.
func (s *Service) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	if _, err := s.check(ctx, "agent", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.ListAgents(ctx)
}

// UpdateAgent persists changes to an agent's mutable fields.
func (s *Service) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	principal, err := s.check(ctx, "agent", authz.ActionUpdate)
	if err != nil {
		return err
	}
	if err := s.storage.UpdateAgent(ctx, agent); err != nil {
		s.audit.Failure(ctx, principal.Name, "agent.update", "agent", agent.ID, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "agent.update", "agent", agent.ID, nil)
	return nil
}

// DeleteAgent removes an agent definition.
func (s *Service) DeleteAgent(ctx context.Context, id int64) error {
	principal, err := s.check(ctx, "agent", authz.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteAgent(ctx, id); err != nil {
		s.audit.Failure(ctx, principal.Name, "agent.delete", "agent", id, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "agent.delete", "agent", id, nil)
	return nil
}

// RegisteredAgentTypes lists the constructor names known to the registry.
func (s *Service) RegisteredAgentTypes(ctx context.Context) ([]string, error) {
	if _, err := s.check(ctx, "agent", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.registry.List(), nil
}

// --- Pipelines ---

// CreatePipeline persists a pipeline in DRAFT status.
func (s *Service) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	principal, err := s.check(ctx, "pipeline", authz.ActionCreate)
	if err != nil {
		return err
	}
	if p.Name == "" {
		return errors.ValidationError("pipeline name is required")
	}

	if err := s.storage.CreatePipeline(ctx, p); err != nil {
		s.audit.Failure(ctx, principal.Name, "pipeline.create", "pipeline", 0, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "pipeline.create", "pipeline", p.ID,
		map[string]interface{}{"name": p.Name})
	return nil
}

// GetPipeline returns a pipeline with its ordered steps.
func (s *Service) GetPipeline(ctx context.Context, id int64) (*models.Pipeline, error) {
	if _, err := s.check(ctx, "pipeline", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.GetPipeline(ctx, id)
}

// ListPipelines returns all pipelines.
func (s *Service) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	if _, err := s.check(ctx, "pipeline", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.ListPipelines(ctx)
}

// AddStep appends a step to a pipeline. The referenced agent must exist;
// duplicate orders within a pipeline are rejected.
func (s *Service) AddStep(ctx context.Context, step *models.Step) error {
	principal, err := s.check(ctx, "pipeline", authz.ActionUpdate)
	if err != nil {
		return err
	}

	if _, err := s.storage.GetAgent(ctx, step.AgentID); err != nil {
		return err
	}
	if _, err := s.storage.GetPipeline(ctx, step.PipelineID); err != nil {
		return err
	}

	if err := s.storage.AddStep(ctx, step); err != nil {
		s.audit.Failure(ctx, principal.Name, "pipeline.add_step", "pipeline", step.PipelineID, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "pipeline.add_step", "pipeline", step.PipelineID,
		map[string]interface{}{"agent_id": step.AgentID, "order": step.StepOrder})
	return nil
}

// DeleteStep removes a step.
func (s *Service) DeleteStep(ctx context.Context, id int64) error {
	principal, err := s.check(ctx, "pipeline", authz.ActionUpdate)
	if err != nil {
		return err
	}
	if err := s.storage.DeleteStep(ctx, id); err != nil {
		return err
	}
	s.audit.Success(ctx, principal.Name, "pipeline.delete_step", "step", id, nil)
	return nil
}

// UpdatePipelineStatus moves a pipeline through its lifecycle.
func (s *Service) UpdatePipelineStatus(ctx context.Context, id int64, status models.PipelineStatus) error {
	principal, err := s.check(ctx, "pipeline", authz.ActionUpdate)
	if err != nil {
		return err
	}
	if !status.Valid() {
		return errors.ValidationError(fmt.Sprintf("unknown pipeline status %q", status))
	}

	if err := s.storage.UpdatePipelineStatus(ctx, id, status); err != nil {
		s.audit.Failure(ctx, principal.Name, "pipeline.update_status", "pipeline", id, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "pipeline.update_status", "pipeline", id,
		map[string]interface{}{"status": string(status)})
	return nil
}

// DeletePipeline removes a pipeline and its steps.
func (s *Service) DeletePipeline(ctx context.Context, id int64) error {
	principal, err := s.check(ctx, "pipeline", authz.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.storage.DeletePipeline(ctx, id); err != nil {
		s.audit.Failure(ctx, principal.Name, "pipeline.delete", "pipeline", id, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "pipeline.delete", "pipeline", id, nil)
	return nil
}

// --- Executions ---

// ExecutePipeline creates and synchronously runs an execution. A non-ACTIVE
// pipeline is rejected before any row is written.
func (s *Service) ExecutePipeline(ctx context.Context, pipelineID int64, input map[string]interface{}) (*models.Execution, error) {
	principal, err := s.check(ctx, "pipeline", authz.ActionExecute)
	if err != nil {
		return nil, err
	}

	execution, err := s.engine.Execute(ctx, pipelineID, input)
	if err != nil {
		s.audit.Failure(ctx, principal.Name, "pipeline.execute", "pipeline", pipelineID, err)
		return nil, err
	}
	s.audit.Success(ctx, principal.Name, "pipeline.execute", "execution", execution.ID,
		map[string]interface{}{"pipeline_id": pipelineID, "status": string(execution.Status)})
	return execution, nil
}

// GetExecution returns one execution.
func (s *Service) GetExecution(ctx context.Context, id int64) (*models.Execution, error) {
	if _, err := s.check(ctx, "execution", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.GetExecution(ctx, id)
}

// ListExecutions returns a pipeline's executions, newest first.
func (s *Service) ListExecutions(ctx context.Context, pipelineID int64, limit, offset int) ([]*models.Execution, error) {
	if _, err := s.check(ctx, "execution", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.ListExecutions(ctx, pipelineID, limit, offset)
}

// CancelExecution requests cancellation of a pending or running execution.
func (s *Service) CancelExecution(ctx context.Context, id int64) error {
	principal, err := s.check(ctx, "execution", authz.ActionUpdate)
	if err != nil {
		return err
	}
	if err := s.engine.Cancel(ctx, id); err != nil {
		s.audit.Failure(ctx, principal.Name, "execution.cancel", "execution", id, err)
		return err
	}
	s.audit.Success(ctx, principal.Name, "execution.cancel", "execution", id, nil)
	return nil
}

// --- Events ---

// Publish records and dispatches an event, returning its durable identity.
func (s *Service) Publish(ctx context.Context, eventType, source string, payload map[string]interface{}) (*models.Event, error) {
	if _, err := s.check(ctx, "event", authz.ActionCreate); err != nil {
		return nil, err
	}
	return s.bus.Publish(ctx, eventType, source, payload)
}

// Subscribe registers an event handler.
func (s *Service) Subscribe(ctx context.Context, eventType string, handler bus.EventHandler) error {
	if _, err := s.check(ctx, "event", authz.ActionCreate); err != nil {
		return err
	}
	return s.bus.Subscribe(ctx, eventType, handler)
}

// GetEvent returns one event row.
func (s *Service) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	if _, err := s.check(ctx, "event", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.GetEvent(ctx, id)
}

// ListEventsByType returns recent events of one type.
func (s *Service) ListEventsByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error) {
	if _, err := s.check(ctx, "event", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.storage.ListEventsByType(ctx, eventType, limit)
}

// AuditTrail returns recorded audit entries, newest first.
func (s *Service) AuditTrail(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	if _, err := s.check(ctx, "event", authz.ActionRead); err != nil {
		return nil, err
	}
	return s.audit.List(ctx, limit, offset)
}
