package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/agents"
	"agent-platform/internal/common/errors"
	"agent-platform/internal/common/logging"
	"agent-platform/internal/models"
	"agent-platform/internal/storage/sqlite"
)

type engineFixture struct {
	engine   *Engine
	storage  *sqlite.Adapter
	registry *agents.Registry
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store, err := sqlite.NewAdapter(&sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := agents.NewRegistry(logging.NewNopLogger())
	return &engineFixture{
		engine:   NewEngine(store, registry, Config{}, logging.NewNopLogger()),
		storage:  store,
		registry: registry,
	}
}

func (f *engineFixture) createAgent(t *testing.T, name string, agentType models.AgentType, config map[string]interface{}) *models.Agent {
	t.Helper()

	agent := &models.Agent{Name: name, Type: agentType, Config: config}
	require.NoError(t, f.storage.CreateAgent(context.Background(), agent))
	return agent
}

func (f *engineFixture) createPipeline(t *testing.T, status models.PipelineStatus, stepAgents ...*models.Agent) *models.Pipeline {
	t.Helper()

	pipeline := &models.Pipeline{Name: "test-pipeline", Status: status}
	require.NoError(t, f.storage.CreatePipeline(context.Background(), pipeline))
	for i, agent := range stepAgents {
		require.NoError(t, f.storage.AddStep(context.Background(), &models.Step{
			PipelineID: pipeline.ID,
			AgentID:    agent.ID,
			StepOrder:  i + 1,
		}))
	}
	return pipeline
}

// passthroughAgent requires the field named by its config and echoes its
// input unchanged.
type passthroughAgent struct {
	agents.BaseAgent
	requiredField string
}

func newPassthroughConstructor() agents.Constructor {
	return func(config map[string]interface{}) (agents.Agent, error) {
		field, _ := config["requires"].(string)
		return &passthroughAgent{
			BaseAgent:     agents.NewBaseAgent("passthrough", config),
			requiredField: field,
		}, nil
	}
}

func (a *passthroughAgent) ValidateInput(ctx context.Context, input agents.Record) error {
	if a.requiredField == "" {
		return nil
	}
	if _, ok := input[a.requiredField]; !ok {
		return errors.ValidationError("missing required field: " + a.requiredField)
	}
	return nil
}

func (a *passthroughAgent) Execute(ctx context.Context, input agents.Record) (agents.Record, error) {
	return input, nil
}

func TestExecuteOrderedStepsThreadOutput(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.registry.Register("require-y", newPassthroughConstructor())

	mapper := f.createAgent(t, "x-to-y", models.AgentTypeTransformer,
		map[string]interface{}{"mappings": map[string]interface{}{"x": "y"}})
	gate := f.createAgent(t, "require-y", models.AgentTypeCustom,
		map[string]interface{}{"requires": "y"})
	pipeline := f.createPipeline(t, models.PipelineStatusActive, mapper, gate)

	execution, err := f.engine.Execute(ctx, pipeline.ID, map[string]interface{}{"x": float64(1)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, map[string]interface{}{"y": float64(1)}, execution.OutputData)
	assert.Empty(t, execution.ErrorMessage)
	require.NotNil(t, execution.StartedAt)
	require.NotNil(t, execution.CompletedAt)
}

func TestValidationFailureNamesStepAndField(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	validator := f.createAgent(t, "name-check", models.AgentTypeValidator,
		map[string]interface{}{"rules": []interface{}{
			map[string]interface{}{"field": "name", "type": "required"},
		}})
	pipeline := f.createPipeline(t, models.PipelineStatusActive, validator)

	execution, err := f.engine.Execute(ctx, pipeline.ID, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Nil(t, execution.OutputData)
	assert.Contains(t, execution.ErrorMessage, "step 1")
	assert.Contains(t, execution.ErrorMessage, "name")

	stored, err := f.storage.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Nil(t, stored.OutputData)
}

func TestCreateExecutionRejectsInactivePipeline(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	for _, status := range []models.PipelineStatus{
		models.PipelineStatusDraft,
		models.PipelineStatusPaused,
		models.PipelineStatusArchived,
	} {
		pipeline := &models.Pipeline{Name: "p-" + string(status), Status: status}
		require.NoError(t, f.storage.CreatePipeline(ctx, pipeline))

		_, err := f.engine.CreateExecution(ctx, pipeline.ID, map[string]interface{}{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypePolicy), "status %s", status)

		// rejection must leave no row behind
		list, err := f.storage.ListExecutions(ctx, pipeline.ID, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	}
}

func TestCreateExecutionUnknownPipeline(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.CreateExecution(context.Background(), 9999, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestStepConfigOverridesAgentConfig(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// agent maps x→y, the step remaps x→z
	mapper := f.createAgent(t, "mapper", models.AgentTypeTransformer,
		map[string]interface{}{"mappings": map[string]interface{}{"x": "y"}})
	pipeline := &models.Pipeline{Name: "override", Status: models.PipelineStatusActive}
	require.NoError(t, f.storage.CreatePipeline(ctx, pipeline))
	require.NoError(t, f.storage.AddStep(ctx, &models.Step{
		PipelineID: pipeline.ID,
		AgentID:    mapper.ID,
		StepOrder:  1,
		Config:     map[string]interface{}{"mappings": map[string]interface{}{"x": "z"}},
	}))

	execution, err := f.engine.Execute(ctx, pipeline.ID, map[string]interface{}{"x": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, map[string]interface{}{"z": float64(7)}, execution.OutputData)
}

func TestAgentFailureCapturedIntoRow(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.registry.Register("exploder", func(config map[string]interface{}) (agents.Agent, error) {
		return &explodingAgent{BaseAgent: agents.NewBaseAgent("exploder", config)}, nil
	})

	exploder := f.createAgent(t, "exploder", models.AgentTypeCustom, nil)
	pipeline := f.createPipeline(t, models.PipelineStatusActive, exploder)

	execution, err := f.engine.Execute(ctx, pipeline.ID, map[string]interface{}{"x": float64(1)})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "exploder")
	assert.Contains(t, execution.ErrorMessage, "boom")
	assert.Nil(t, execution.OutputData)

	row, err := f.storage.GetAgent(ctx, exploder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusError, row.Status)
}

type explodingAgent struct {
	agents.BaseAgent
}

func (a *explodingAgent) Execute(ctx context.Context, input agents.Record) (agents.Record, error) {
	return nil, errors.InternalError("boom", nil)
}

func TestUnregisteredAgentFailsExecution(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	ghost := f.createAgent(t, "ghost", models.AgentTypeCustom, nil)
	pipeline := f.createPipeline(t, models.PipelineStatusActive, ghost)

	execution, err := f.engine.Execute(ctx, pipeline.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "ghost")
}

func TestCancelPendingExecution(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	mapper := f.createAgent(t, "mapper", models.AgentTypeTransformer, nil)
	pipeline := f.createPipeline(t, models.PipelineStatusActive, mapper)

	execution, err := f.engine.CreateExecution(ctx, pipeline.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(ctx, execution.ID))

	stored, err := f.storage.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	// cancelled is terminal
	_, err = f.engine.Run(ctx, execution.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypePolicy))
}

func TestCancelBetweenStepsDiscardsPartialOutput(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// first step cancels its own execution; the second step must not run
	var secondRan bool
	f.registry.Register("self-cancel", func(config map[string]interface{}) (agents.Agent, error) {
		id := int64(config["execution_id"].(float64))
		return &hookAgent{
			BaseAgent: agents.NewBaseAgent("self-cancel", config),
			fn: func(ctx context.Context, input agents.Record) (agents.Record, error) {
				require.NoError(t, f.engine.Cancel(ctx, id))
				return agents.Record{"partial": true}, nil
			},
		}, nil
	})
	f.registry.Register("witness", func(config map[string]interface{}) (agents.Agent, error) {
		return &hookAgent{
			BaseAgent: agents.NewBaseAgent("witness", config),
			fn: func(ctx context.Context, input agents.Record) (agents.Record, error) {
				secondRan = true
				return input, nil
			},
		}, nil
	})

	canceller := f.createAgent(t, "self-cancel", models.AgentTypeCustom, nil)
	witness := f.createAgent(t, "witness", models.AgentTypeCustom, nil)
	pipeline := &models.Pipeline{Name: "cancellable", Status: models.PipelineStatusActive}
	require.NoError(t, f.storage.CreatePipeline(ctx, pipeline))

	execution, err := f.engine.CreateExecution(ctx, pipeline.ID, map[string]interface{}{"x": float64(1)})
	require.NoError(t, err)

	require.NoError(t, f.storage.AddStep(ctx, &models.Step{
		PipelineID: pipeline.ID, AgentID: canceller.ID, StepOrder: 1,
		Config: map[string]interface{}{"execution_id": float64(execution.ID)},
	}))
	require.NoError(t, f.storage.AddStep(ctx, &models.Step{
		PipelineID: pipeline.ID, AgentID: witness.ID, StepOrder: 2,
	}))

	final, err := f.engine.Run(ctx, execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, final.Status)
	assert.Nil(t, final.OutputData)
	assert.False(t, secondRan)
}

type hookAgent struct {
	agents.BaseAgent
	fn func(ctx context.Context, input agents.Record) (agents.Record, error)
}

func (a *hookAgent) Execute(ctx context.Context, input agents.Record) (agents.Record, error) {
	return a.fn(ctx, input)
}

func TestCancelTerminalExecutionRejected(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	mapper := f.createAgent(t, "mapper", models.AgentTypeTransformer,
		map[string]interface{}{"copy_unmapped": true})
	pipeline := f.createPipeline(t, models.PipelineStatusActive, mapper)

	execution, err := f.engine.Execute(ctx, pipeline.ID, map[string]interface{}{"x": float64(1)})
	require.NoError(t, err)
	require.Equal(t, models.ExecutionStatusSuccess, execution.Status)

	err = f.engine.Cancel(ctx, execution.ID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypePolicy))
}

func TestStepTimeoutFailsExecution(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.registry.Register("sleeper", func(config map[string]interface{}) (agents.Agent, error) {
		return &hookAgent{
			BaseAgent: agents.NewBaseAgent("sleeper", config),
			fn: func(ctx context.Context, input agents.Record) (agents.Record, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Second):
					return input, nil
				}
			},
		}, nil
	})

	sleeper := f.createAgent(t, "sleeper", models.AgentTypeCustom, nil)
	pipeline := f.createPipeline(t, models.PipelineStatusActive, sleeper)

	engine := NewEngine(f.storage, f.registry, Config{StepTimeout: 10 * time.Millisecond}, logging.NewNopLogger())
	execution, err := engine.Execute(ctx, pipeline.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "context deadline exceeded")
}
