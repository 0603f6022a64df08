package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-platform/internal/agents"
	"agent-platform/internal/audit"
	"agent-platform/internal/authz"
	"agent-platform/internal/bus"
	"agent-platform/internal/common/errors"
	"agent-platform/internal/common/logging"
	"agent-platform/internal/dedup"
	"agent-platform/internal/models"
	"agent-platform/internal/pipeline"
	"agent-platform/internal/storage/sqlite"
	"agent-platform/internal/transport/memory"
)

type serviceFixture struct {
	service *Service
	storage *sqlite.Adapter
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store, err := sqlite.NewAdapter(&sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	cache, err := dedup.NewRedisCache(&dedup.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	tr := memory.New(logging.NewNopLogger())
	t.Cleanup(func() { tr.Close() })

	registry := agents.NewRegistry(logging.NewNopLogger())
	engine := pipeline.NewEngine(store, registry, pipeline.Config{}, logging.NewNopLogger())
	eventBus := bus.NewEventBus(store, cache, tr, logging.NewNopLogger())
	auditLog := audit.NewLogger(store, true, logging.NewNopLogger())

	return &serviceFixture{
		service: New(store, registry, engine, eventBus, authz.NewRoleChecker(), auditLog, logging.NewNopLogger()),
		storage: store,
	}
}

func operatorContext() context.Context {
	return authz.WithPrincipal(context.Background(),
		&authz.Principal{Name: "operator", Roles: []string{"operator"}})
}

func viewerContext() context.Context {
	return authz.WithPrincipal(context.Background(),
		&authz.Principal{Name: "viewer", Roles: []string{"viewer"}})
}

func TestCreateAgentChecksPermission(t *testing.T) {
	f := newServiceFixture(t)

	agent := &models.Agent{Name: "mapper", Type: models.AgentTypeTransformer}
	err := f.service.CreateAgent(viewerContext(), agent)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeForbidden))

	require.NoError(t, f.service.CreateAgent(operatorContext(), agent))
	assert.NotZero(t, agent.ID)
}

func TestCreateAgentValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := operatorContext()

	err := f.service.CreateAgent(ctx, &models.Agent{Type: models.AgentTypeTransformer})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	err = f.service.CreateAgent(ctx, &models.Agent{Name: "x", Type: "mystery"})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	// custom agents need a registered constructor
	err = f.service.CreateAgent(ctx, &models.Agent{Name: "plugin", Type: models.AgentTypeCustom})
	assert.True(t, errors.IsType(err, errors.ErrTypePolicy))
}

func TestMutationsWriteAuditTrail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := operatorContext()

	require.NoError(t, f.service.CreateAgent(ctx, &models.Agent{
		Name: "mapper", Type: models.AgentTypeTransformer,
	}))
	require.NoError(t, f.service.CreatePipeline(ctx, &models.Pipeline{Name: "ingest"}))

	entries, err := f.service.AuditTrail(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pipeline.create", entries[0].Action)
	assert.Equal(t, "agent.create", entries[1].Action)
	assert.Equal(t, "operator", entries[0].Principal)
	assert.Equal(t, models.AuditOutcomeSuccess, entries[0].Outcome)
}

func TestExecutePipelineEndToEnd(t *testing.T) {
	f := newServiceFixture(t)
	ctx := operatorContext()

	agent := &models.Agent{
		Name: "mapper",
		Type: models.AgentTypeTransformer,
		Config: map[string]interface{}{
			"mappings": map[string]interface{}{"x": "y"},
		},
	}
	require.NoError(t, f.service.CreateAgent(ctx, agent))

	p := &models.Pipeline{Name: "ingest"}
	require.NoError(t, f.service.CreatePipeline(ctx, p))
	require.NoError(t, f.service.AddStep(ctx, &models.Step{
		PipelineID: p.ID, AgentID: agent.ID, StepOrder: 1,
	}))

	// draft pipelines cannot run
	_, err := f.service.ExecutePipeline(ctx, p.ID, map[string]interface{}{"x": float64(1)})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypePolicy))

	require.NoError(t, f.service.UpdatePipelineStatus(ctx, p.ID, models.PipelineStatusActive))

	execution, err := f.service.ExecutePipeline(ctx, p.ID, map[string]interface{}{"x": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
	assert.Equal(t, map[string]interface{}{"y": float64(1)}, execution.OutputData)

	fetched, err := f.service.GetExecution(viewerContext(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, fetched.Status)
}

func TestAddStepRequiresExistingAgent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := operatorContext()

	p := &models.Pipeline{Name: "ingest"}
	require.NoError(t, f.service.CreatePipeline(ctx, p))

	err := f.service.AddStep(ctx, &models.Step{PipelineID: p.ID, AgentID: 404, StepOrder: 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestPublishAndSubscribeThroughFacade(t *testing.T) {
	f := newServiceFixture(t)
	ctx := operatorContext()

	var got *models.Event
	require.NoError(t, f.service.Subscribe(ctx, "data.received", func(ctx context.Context, event *models.Event) error {
		got = event
		return nil
	}))

	event, err := f.service.Publish(ctx, "data.received", "api", map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, event.ID, got.ID)

	// viewers may read but not publish
	_, err = f.service.Publish(viewerContext(), "data.received", "api", nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeForbidden))

	events, err := f.service.ListEventsByType(viewerContext(), "data.received", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUpdatePipelineStatusRejectsUnknownStatus(t *testing.T) {
	f := newServiceFixture(t)
	ctx := operatorContext()

	p := &models.Pipeline{Name: "ingest"}
	require.NoError(t, f.service.CreatePipeline(ctx, p))

	err := f.service.UpdatePipelineStatus(ctx, p.ID, "vaporized")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
