package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/common/errors"
	"agent-platform/internal/models"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	adapter, err := NewAdapter(&Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func createTestAgent(t *testing.T, adapter *Adapter, name string) *models.Agent {
	t.Helper()

	agent := &models.Agent{
		Name:   name,
		Type:   models.AgentTypeTransformer,
		Config: map[string]interface{}{"copy_unmapped": true},
	}
	require.NoError(t, adapter.CreateAgent(context.Background(), agent))
	return agent
}

func createTestPipeline(t *testing.T, adapter *Adapter, name string, status models.PipelineStatus) *models.Pipeline {
	t.Helper()

	pipeline := &models.Pipeline{
		Name:   name,
		Status: status,
		Config: map[string]interface{}{},
	}
	require.NoError(t, adapter.CreatePipeline(context.Background(), pipeline))
	return pipeline
}

func TestAgentCRUD(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	agent := createTestAgent(t, adapter, "mapper")
	assert.NotZero(t, agent.ID)
	assert.Equal(t, models.AgentStatusInactive, agent.Status)
	assert.Equal(t, "1.0.0", agent.Version)

	fetched, err := adapter.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "mapper", fetched.Name)
	assert.Equal(t, models.AgentTypeTransformer, fetched.Type)
	assert.Equal(t, true, fetched.Config["copy_unmapped"])

	byName, err := adapter.GetAgentByName(ctx, "mapper")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byName.ID)

	fetched.Description = "field mapper"
	fetched.Status = models.AgentStatusActive
	require.NoError(t, adapter.UpdateAgent(ctx, fetched))

	updated, err := adapter.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "field mapper", updated.Description)
	assert.Equal(t, models.AgentStatusActive, updated.Status)

	require.NoError(t, adapter.UpdateAgentStatus(ctx, agent.ID, models.AgentStatusMaintenance))
	updated, err = adapter.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusMaintenance, updated.Status)

	require.NoError(t, adapter.DeleteAgent(ctx, agent.ID))
	_, err = adapter.GetAgent(ctx, agent.ID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestAgentNameUnique(t *testing.T) {
	adapter := newTestAdapter(t)

	createTestAgent(t, adapter, "dup")
	err := adapter.CreateAgent(context.Background(), &models.Agent{
		Name: "dup",
		Type: models.AgentTypeAnalyzer,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestPipelineWithOrderedSteps(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	agent := createTestAgent(t, adapter, "step-agent")
	pipeline := createTestPipeline(t, adapter, "ingest", models.PipelineStatusActive)

	// insert out of order; reads must come back ordered
	for _, order := range []int{3, 1, 2} {
		require.NoError(t, adapter.AddStep(ctx, &models.Step{
			PipelineID: pipeline.ID,
			AgentID:    agent.ID,
			StepOrder:  order,
			Config:     map[string]interface{}{"n": float64(order)},
		}))
	}

	fetched, err := adapter.GetPipeline(ctx, pipeline.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Steps, 3)
	assert.Equal(t, 1, fetched.Steps[0].StepOrder)
	assert.Equal(t, 2, fetched.Steps[1].StepOrder)
	assert.Equal(t, 3, fetched.Steps[2].StepOrder)
}

func TestAddStepRejectsDuplicateOrder(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	agent := createTestAgent(t, adapter, "step-agent")
	pipeline := createTestPipeline(t, adapter, "ingest", models.PipelineStatusDraft)

	require.NoError(t, adapter.AddStep(ctx, &models.Step{
		PipelineID: pipeline.ID, AgentID: agent.ID, StepOrder: 1,
	}))

	err := adapter.AddStep(ctx, &models.Step{
		PipelineID: pipeline.ID, AgentID: agent.ID, StepOrder: 1,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	// same order in a different pipeline is fine
	other := createTestPipeline(t, adapter, "other", models.PipelineStatusDraft)
	require.NoError(t, adapter.AddStep(ctx, &models.Step{
		PipelineID: other.ID, AgentID: agent.ID, StepOrder: 1,
	}))
}

func TestDeletePipelineCascadesSteps(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	agent := createTestAgent(t, adapter, "step-agent")
	pipeline := createTestPipeline(t, adapter, "ingest", models.PipelineStatusDraft)
	require.NoError(t, adapter.AddStep(ctx, &models.Step{
		PipelineID: pipeline.ID, AgentID: agent.ID, StepOrder: 1,
	}))

	require.NoError(t, adapter.DeletePipeline(ctx, pipeline.ID))

	steps, err := adapter.GetSteps(ctx, pipeline.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestExecutionLifecycle(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	pipeline := createTestPipeline(t, adapter, "ingest", models.PipelineStatusActive)

	execution := &models.Execution{
		PipelineID: pipeline.ID,
		InputData:  map[string]interface{}{"x": float64(1)},
	}
	require.NoError(t, adapter.CreateExecution(ctx, execution))
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	fetched, err := adapter.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched.StartedAt)
	assert.Nil(t, fetched.OutputData)

	started := time.Now().UTC()
	completed := started.Add(time.Second)
	fetched.Status = models.ExecutionStatusSuccess
	fetched.OutputData = map[string]interface{}{"y": float64(1)}
	fetched.StartedAt = &started
	fetched.CompletedAt = &completed
	require.NoError(t, adapter.UpdateExecution(ctx, fetched))

	final, err := adapter.GetExecution(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, final.Status)
	assert.Equal(t, float64(1), final.OutputData["y"])
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	list, err := adapter.ListExecutions(ctx, pipeline.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEventStatusForwardOnly(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	event := &models.Event{
		EventType: "data.received",
		Source:    "ingest",
		Payload:   map[string]interface{}{"k": "v"},
	}
	require.NoError(t, adapter.CreateEvent(ctx, event))
	assert.Equal(t, models.EventStatusPending, event.Status)

	require.NoError(t, adapter.MarkEventProcessing(ctx, event.ID))
	require.NoError(t, adapter.MarkEventCompleted(ctx, event.ID, time.Now()))

	fetched, err := adapter.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, fetched.Status)
	require.NotNil(t, fetched.ProcessedAt)

	// completed is terminal
	err = adapter.MarkEventFailed(ctx, event.ID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	fetched, err = adapter.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusCompleted, fetched.Status)
	assert.Equal(t, 0, fetched.RetryCount)
}

func TestEventFailureIncrementsRetries(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	event := &models.Event{EventType: "data.received", Source: "ingest"}
	require.NoError(t, adapter.CreateEvent(ctx, event))

	require.NoError(t, adapter.MarkEventProcessing(ctx, event.ID))
	require.NoError(t, adapter.MarkEventFailed(ctx, event.ID))
	require.NoError(t, adapter.MarkEventProcessing(ctx, event.ID))
	require.NoError(t, adapter.MarkEventFailed(ctx, event.ID))

	fetched, err := adapter.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusFailed, fetched.Status)
	assert.Equal(t, 2, fetched.RetryCount)
}

func TestListEventsByStatus(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		event := &models.Event{EventType: "data.received", Source: "ingest"}
		require.NoError(t, adapter.CreateEvent(ctx, event))
		if i == 0 {
			require.NoError(t, adapter.MarkEventProcessing(ctx, event.ID))
			require.NoError(t, adapter.MarkEventCompleted(ctx, event.ID, time.Now()))
		}
	}

	pending, err := adapter.ListEventsByStatus(ctx, models.EventStatusPending, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// cutoff in the past excludes fresh rows
	stale, err := adapter.ListEventsByStatus(ctx, models.EventStatusPending, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	byType, err := adapter.ListEventsByType(ctx, "data.received", 2)
	require.NoError(t, err)
	assert.Len(t, byType, 2)
}

func TestAuditLogs(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	entry := &models.AuditLog{
		Principal:    "operator",
		Action:       "pipeline.create",
		ResourceType: "pipeline",
		ResourceID:   7,
		Details:      map[string]interface{}{"name": "ingest"},
		Outcome:      models.AuditOutcomeSuccess,
	}
	require.NoError(t, adapter.CreateAuditLog(ctx, entry))
	assert.NotZero(t, entry.ID)

	entries, err := adapter.ListAuditLogs(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline.create", entries[0].Action)
	assert.Equal(t, "ingest", entries[0].Details["name"])
}

func TestSettingsUpsert(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	_, err := adapter.GetSetting(ctx, "reconcile_interval")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	require.NoError(t, adapter.SetSetting(ctx, "reconcile_interval", "60"))
	value, err := adapter.GetSetting(ctx, "reconcile_interval")
	require.NoError(t, err)
	assert.Equal(t, "60", value)

	require.NoError(t, adapter.SetSetting(ctx, "reconcile_interval", "120"))
	value, err = adapter.GetSetting(ctx, "reconcile_interval")
	require.NoError(t, err)
	assert.Equal(t, "120", value)
}
