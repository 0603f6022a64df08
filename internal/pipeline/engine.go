// Package pipeline implements the execution engine: it turns a pipeline
// definition and an input record into an execution row driven through the
// PENDING→RUNNING→{SUCCESS,FAILED,CANCELLED} state machine.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agent-platform/internal/agents"
	"agent-platform/internal/common/errors"
	"agent-platform/internal/common/logging"
	"agent-platform/internal/models"
	"agent-platform/internal/storage"
)

// DefaultStepTimeout bounds how long a single step may run.
const DefaultStepTimeout = 30 * time.Second

// Config controls engine behavior.
type Config struct {
	// StepTimeout is the per-step deadline. Defaults to DefaultStepTimeout.
	StepTimeout time.Duration
}

// Engine executes pipelines.
type Engine struct {
	storage     storage.Storage
	registry    *agents.Registry
	logger      logging.Logger
	stepTimeout time.Duration

	mu        sync.Mutex
	cancelled map[int64]bool
}

// NewEngine creates an execution engine.
func NewEngine(store storage.Storage, registry *agents.Registry, config Config, logger logging.Logger) *Engine {
	if config.StepTimeout <= 0 {
		config.StepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Engine{
		storage:     store,
		registry:    registry,
		logger:      logger.WithFields(logging.String("component", "pipeline_engine")),
		stepTimeout: config.StepTimeout,
		cancelled:   make(map[int64]bool),
	}
}

// CreateExecution validates the request and creates a PENDING execution row.
// A pipeline that is not ACTIVE is rejected with a policy error and no row
// is written.
func (e *Engine) CreateExecution(ctx context.Context, pipelineID int64, input map[string]interface{}) (*models.Execution, error) {
	pipeline, err := e.storage.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if pipeline.Status != models.PipelineStatusActive {
		return nil, errors.PolicyError(
			fmt.Sprintf("pipeline %q is %s, only active pipelines can be executed", pipeline.Name, pipeline.Status))
	}

	execution := &models.Execution{
		PipelineID: pipelineID,
		InputData:  input,
	}
	if err := e.storage.CreateExecution(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// Execute creates and synchronously runs an execution.
func (e *Engine) Execute(ctx context.Context, pipelineID int64, input map[string]interface{}) (*models.Execution, error) {
	execution, err := e.CreateExecution(ctx, pipelineID, input)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, execution.ID)
}

// Run drives a PENDING execution to a terminal state and returns the final
// row. Step failures are captured into the row, not returned as errors; Run
// itself only errors on storage or lookup problems.
func (e *Engine) Run(ctx context.Context, executionID int64) (*models.Execution, error) {
	execution, err := e.storage.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != models.ExecutionStatusPending {
		return nil, errors.PolicyError(
			fmt.Sprintf("execution %d is %s, only pending executions can be run", executionID, execution.Status))
	}

	pipeline, err := e.storage.GetPipeline(ctx, execution.PipelineID)
	if err != nil {
		return nil, err
	}

	defer e.clearCancel(executionID)

	started := time.Now().UTC()
	execution.Status = models.ExecutionStatusRunning
	execution.StartedAt = &started
	if err := e.storage.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}

	log := e.logger.WithFields(
		logging.Int64("execution_id", executionID),
		logging.String("pipeline", pipeline.Name))
	log.Info("execution started", logging.Int("steps", len(pipeline.Steps)))

	data := execution.InputData
	for _, step := range pipeline.Steps {
		if e.isCancelled(executionID) {
			return e.finishCancelled(ctx, execution, log)
		}

		output, err := e.runStep(ctx, step, data)
		if err != nil {
			return e.finishFailed(ctx, execution, err, log)
		}
		data = output
	}

	if e.isCancelled(executionID) {
		return e.finishCancelled(ctx, execution, log)
	}

	completed := time.Now().UTC()
	execution.Status = models.ExecutionStatusSuccess
	execution.OutputData = data
	execution.CompletedAt = &completed
	if err := e.storage.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}
	log.Info("execution succeeded", logging.Duration("elapsed", completed.Sub(started)))
	return execution, nil
}

// Cancel requests cancellation of an execution. A PENDING execution is
// cancelled immediately; a RUNNING one stops before its next step.
func (e *Engine) Cancel(ctx context.Context, executionID int64) error {
	execution, err := e.storage.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() {
		return errors.PolicyError(
			fmt.Sprintf("execution %d is already %s", executionID, execution.Status))
	}

	switch execution.Status {
	case models.ExecutionStatusPending:
		completed := time.Now().UTC()
		execution.Status = models.ExecutionStatusCancelled
		execution.CompletedAt = &completed
		return e.storage.UpdateExecution(ctx, execution)
	case models.ExecutionStatusRunning:
		e.mu.Lock()
		e.cancelled[executionID] = true
		e.mu.Unlock()
		return nil
	default:
		return errors.InternalError(
			fmt.Sprintf("execution %d has unexpected status %s", executionID, execution.Status), nil)
	}
}

func (e *Engine) runStep(ctx context.Context, step *models.Step, input map[string]interface{}) (map[string]interface{}, error) {
	agentRow, err := e.storage.GetAgent(ctx, step.AgentID)
	if err != nil {
		return nil, stepError(step, agentRow, err)
	}

	instance, err := e.buildAgent(agentRow, step)
	if err != nil {
		return nil, stepError(step, agentRow, err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	if err := instance.OnStart(stepCtx); err != nil {
		return nil, stepError(step, agentRow, err)
	}
	defer func() {
		if err := instance.OnStop(context.WithoutCancel(stepCtx)); err != nil {
			e.logger.Warn("agent stop hook failed",
				logging.String("agent", agentRow.Name),
				logging.String("error", err.Error()))
		}
	}()

	if err := instance.ValidateInput(stepCtx, input); err != nil {
		return nil, stepError(step, agentRow, err)
	}

	output, err := instance.Execute(stepCtx, input)
	if err != nil {
		instance.OnError(stepCtx, err, input)
		e.markAgentErrored(ctx, agentRow)
		return nil, stepError(step, agentRow, err)
	}
	return output, nil
}

// markAgentErrored records the failure on the agent row. The execution
// already carries the error, so a failed status write is only logged.
func (e *Engine) markAgentErrored(ctx context.Context, agentRow *models.Agent) {
	if err := e.storage.UpdateAgentStatus(ctx, agentRow.ID, models.AgentStatusError); err != nil {
		e.logger.Warn("agent status update failed",
			logging.String("agent", agentRow.Name),
			logging.String("error", err.Error()))
	}
}

// buildAgent resolves the constructor and instantiates the agent with the
// step config layered over the agent config.
func (e *Engine) buildAgent(agentRow *models.Agent, step *models.Step) (agents.Agent, error) {
	name := string(agentRow.Type)
	if agentRow.Type == models.AgentTypeCustom || e.registry.IsRegistered(agentRow.Name) {
		name = agentRow.Name
	}

	constructor, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return constructor(mergeConfig(agentRow.Config, step.Config))
}

// mergeConfig layers step config over agent config; step keys win.
func mergeConfig(agentConfig, stepConfig map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(agentConfig)+len(stepConfig))
	for k, v := range agentConfig {
		merged[k] = v
	}
	for k, v := range stepConfig {
		merged[k] = v
	}
	return merged
}

func (e *Engine) finishFailed(ctx context.Context, execution *models.Execution, stepErr error, log logging.Logger) (*models.Execution, error) {
	completed := time.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.OutputData = nil
	execution.ErrorMessage = stepErr.Error()
	execution.CompletedAt = &completed
	if err := e.storage.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}
	log.Warn("execution failed", logging.String("error", stepErr.Error()))
	return execution, nil
}

func (e *Engine) finishCancelled(ctx context.Context, execution *models.Execution, log logging.Logger) (*models.Execution, error) {
	completed := time.Now().UTC()
	execution.Status = models.ExecutionStatusCancelled
	execution.OutputData = nil
	execution.CompletedAt = &completed
	if err := e.storage.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}
	log.Info("execution cancelled")
	return execution, nil
}

func (e *Engine) isCancelled(executionID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[executionID]
}

func (e *Engine) clearCancel(executionID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancelled, executionID)
}

func stepError(step *models.Step, agentRow *models.Agent, err error) error {
	name := "unknown"
	if agentRow != nil {
		name = agentRow.Name
	}
	return fmt.Errorf("step %d (%s): %w", step.StepOrder, name, err)
}
