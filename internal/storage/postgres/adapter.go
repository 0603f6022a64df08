// Package postgres implements the storage interface on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-platform/internal/common/errors"
	"agent-platform/internal/models"
	"agent-platform/internal/storage"
)

// Adapter is the PostgreSQL-backed storage implementation.
type Adapter struct {
	pool   *pgxpool.Pool
	config *Config
}

var _ storage.Storage = (*Adapter)(nil)

// NewAdapter connects the pool and applies migrations.
func NewAdapter(ctx context.Context, config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	pool, err := pgxpool.New(ctx, config.DSN())
	if err != nil {
		return nil, errors.ConnectionError("failed to create PostgreSQL pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to ping PostgreSQL", err)
	}

	adapter := &Adapter{pool: pool, config: config}
	if err := adapter.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'inactive',
		config JSONB NOT NULL DEFAULT '{}',
		version TEXT NOT NULL DEFAULT '1.0.0',
		is_plugin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pipelines (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pipeline_steps (
		id BIGSERIAL PRIMARY KEY,
		pipeline_id BIGINT NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
		agent_id BIGINT NOT NULL REFERENCES agents(id),
		step_order INTEGER NOT NULL,
		config JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE(pipeline_id, step_order)
	);

	CREATE TABLE IF NOT EXISTS executions (
		id BIGSERIAL PRIMARY KEY,
		pipeline_id BIGINT NOT NULL REFERENCES pipelines(id),
		status TEXT NOT NULL DEFAULT 'pending',
		input_data JSONB,
		output_data JSONB,
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		payload JSONB,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		principal TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id BIGINT NOT NULL DEFAULT 0,
		details JSONB,
		outcome TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_steps_pipeline ON pipeline_steps(pipeline_id, step_order);
	CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_id);
	CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs(action);
	`
	_, err := a.pool.Exec(ctx, schema)
	return err
}

// Close shuts down the pool.
func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// Health pings the database.
func (a *Adapter) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.pool.Ping(ctx)
}

// --- Agents ---

func (a *Adapter) CreateAgent(ctx context.Context, agent *models.Agent) error {
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Status == "" {
		agent.Status = models.AgentStatusInactive
	}
	if agent.Version == "" {
		agent.Version = "1.0.0"
	}

	config, err := marshalMap(agent.Config)
	if err != nil {
		return err
	}

	err = a.pool.QueryRow(ctx,
		`INSERT INTO agents (name, description, agent_type, status, config, version, is_plugin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		agent.Name, agent.Description, string(agent.Type), string(agent.Status),
		config, agent.Version, agent.IsPlugin, now, now).Scan(&agent.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ValidationError(fmt.Sprintf("agent with name %q already exists", agent.Name))
		}
		return errors.InternalError("failed to create agent", err)
	}
	return nil
}

func (a *Adapter) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	return a.queryAgent(ctx,
		`SELECT id, name, description, agent_type, status, config, version, is_plugin, created_at, updated_at
		 FROM agents WHERE id = $1`, id)
}

func (a *Adapter) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	return a.queryAgent(ctx,
		`SELECT id, name, description, agent_type, status, config, version, is_plugin, created_at, updated_at
		 FROM agents WHERE name = $1`, name)
}

func (a *Adapter) queryAgent(ctx context.Context, query string, arg interface{}) (*models.Agent, error) {
	var agent models.Agent
	var agentType, status string
	var config []byte

	err := a.pool.QueryRow(ctx, query, arg).Scan(
		&agent.ID, &agent.Name, &agent.Description, &agentType, &status,
		&config, &agent.Version, &agent.IsPlugin, &agent.CreatedAt, &agent.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("agent")
	}
	if err != nil {
		return nil, errors.InternalError("failed to read agent", err)
	}

	agent.Type = models.AgentType(agentType)
	agent.Status = models.AgentStatus(status)
	if agent.Config, err = unmarshalMap(config); err != nil {
		return nil, err
	}
	return &agent, nil
}

func (a *Adapter) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, name, description, agent_type, status, config, version, is_plugin, created_at, updated_at
		 FROM agents ORDER BY name`)
	if err != nil {
		return nil, errors.InternalError("failed to list agents", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var agent models.Agent
		var agentType, status string
		var config []byte
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.Description, &agentType, &status,
			&config, &agent.Version, &agent.IsPlugin, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
			return nil, errors.InternalError("failed to scan agent", err)
		}
		agent.Type = models.AgentType(agentType)
		agent.Status = models.AgentStatus(status)
		if agent.Config, err = unmarshalMap(config); err != nil {
			return nil, err
		}
		agents = append(agents, &agent)
	}
	return agents, rows.Err()
}

func (a *Adapter) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	config, err := marshalMap(agent.Config)
	if err != nil {
		return err
	}

	agent.UpdatedAt = time.Now().UTC()
	tag, err := a.pool.Exec(ctx,
		`UPDATE agents SET description = $1, status = $2, config = $3, version = $4, updated_at = $5 WHERE id = $6`,
		agent.Description, string(agent.Status), config, agent.Version, agent.UpdatedAt, agent.ID)
	if err != nil {
		return errors.InternalError("failed to update agent", err)
	}
	return requireRow(tag, "agent")
}

func (a *Adapter) UpdateAgentStatus(ctx context.Context, id int64, status models.AgentStatus) error {
	tag, err := a.pool.Exec(ctx,
		`UPDATE agents SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return errors.InternalError("failed to update agent status", err)
	}
	return requireRow(tag, "agent")
}

func (a *Adapter) DeleteAgent(ctx context.Context, id int64) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return errors.InternalError("failed to delete agent", err)
	}
	return requireRow(tag, "agent")
}

// --- Pipelines ---

func (a *Adapter) CreatePipeline(ctx context.Context, pipeline *models.Pipeline) error {
	now := time.Now().UTC()
	pipeline.CreatedAt = now
	pipeline.UpdatedAt = now
	if pipeline.Status == "" {
		pipeline.Status = models.PipelineStatusDraft
	}

	config, err := marshalMap(pipeline.Config)
	if err != nil {
		return err
	}

	err = a.pool.QueryRow(ctx,
		`INSERT INTO pipelines (name, description, status, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		pipeline.Name, pipeline.Description, string(pipeline.Status), config, now, now).Scan(&pipeline.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ValidationError(fmt.Sprintf("pipeline with name %q already exists", pipeline.Name))
		}
		return errors.InternalError("failed to create pipeline", err)
	}
	return nil
}

func (a *Adapter) GetPipeline(ctx context.Context, id int64) (*models.Pipeline, error) {
	return a.queryPipeline(ctx,
		`SELECT id, name, description, status, config, created_at, updated_at FROM pipelines WHERE id = $1`, id)
}

func (a *Adapter) GetPipelineByName(ctx context.Context, name string) (*models.Pipeline, error) {
	return a.queryPipeline(ctx,
		`SELECT id, name, description, status, config, created_at, updated_at FROM pipelines WHERE name = $1`, name)
}

func (a *Adapter) queryPipeline(ctx context.Context, query string, arg interface{}) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	var status string
	var config []byte

	err := a.pool.QueryRow(ctx, query, arg).Scan(
		&pipeline.ID, &pipeline.Name, &pipeline.Description, &status,
		&config, &pipeline.CreatedAt, &pipeline.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("pipeline")
	}
	if err != nil {
		return nil, errors.InternalError("failed to read pipeline", err)
	}

	pipeline.Status = models.PipelineStatus(status)
	if pipeline.Config, err = unmarshalMap(config); err != nil {
		return nil, err
	}
	if pipeline.Steps, err = a.GetSteps(ctx, pipeline.ID); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (a *Adapter) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, name, description, status, config, created_at, updated_at FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, errors.InternalError("failed to list pipelines", err)
	}
	defer rows.Close()

	var pipelines []*models.Pipeline
	for rows.Next() {
		var pipeline models.Pipeline
		var status string
		var config []byte
		if err := rows.Scan(&pipeline.ID, &pipeline.Name, &pipeline.Description, &status,
			&config, &pipeline.CreatedAt, &pipeline.UpdatedAt); err != nil {
			return nil, errors.InternalError("failed to scan pipeline", err)
		}
		pipeline.Status = models.PipelineStatus(status)
		if pipeline.Config, err = unmarshalMap(config); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, &pipeline)
	}
	return pipelines, rows.Err()
}

func (a *Adapter) UpdatePipelineStatus(ctx context.Context, id int64, status models.PipelineStatus) error {
	tag, err := a.pool.Exec(ctx,
		`UPDATE pipelines SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return errors.InternalError("failed to update pipeline status", err)
	}
	return requireRow(tag, "pipeline")
}

func (a *Adapter) DeletePipeline(ctx context.Context, id int64) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return errors.InternalError("failed to delete pipeline", err)
	}
	return requireRow(tag, "pipeline")
}

// --- Steps ---

func (a *Adapter) AddStep(ctx context.Context, step *models.Step) error {
	config, err := marshalMap(step.Config)
	if err != nil {
		return err
	}

	step.CreatedAt = time.Now().UTC()
	err = a.pool.QueryRow(ctx,
		`INSERT INTO pipeline_steps (pipeline_id, agent_id, step_order, config, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		step.PipelineID, step.AgentID, step.StepOrder, config, step.CreatedAt).Scan(&step.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ValidationError(fmt.Sprintf("step order %d already used in pipeline %d", step.StepOrder, step.PipelineID))
		}
		return errors.InternalError("failed to add step", err)
	}
	return nil
}

func (a *Adapter) GetSteps(ctx context.Context, pipelineID int64) ([]*models.Step, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, pipeline_id, agent_id, step_order, config, created_at
		 FROM pipeline_steps WHERE pipeline_id = $1 ORDER BY step_order ASC`, pipelineID)
	if err != nil {
		return nil, errors.InternalError("failed to list steps", err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var step models.Step
		var config []byte
		if err := rows.Scan(&step.ID, &step.PipelineID, &step.AgentID, &step.StepOrder,
			&config, &step.CreatedAt); err != nil {
			return nil, errors.InternalError("failed to scan step", err)
		}
		if step.Config, err = unmarshalMap(config); err != nil {
			return nil, err
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

func (a *Adapter) DeleteStep(ctx context.Context, id int64) error {
	tag, err := a.pool.Exec(ctx, `DELETE FROM pipeline_steps WHERE id = $1`, id)
	if err != nil {
		return errors.InternalError("failed to delete step", err)
	}
	return requireRow(tag, "step")
}

// --- Executions ---

func (a *Adapter) CreateExecution(ctx context.Context, execution *models.Execution) error {
	input, err := marshalMap(execution.InputData)
	if err != nil {
		return err
	}

	execution.CreatedAt = time.Now().UTC()
	if execution.Status == "" {
		execution.Status = models.ExecutionStatusPending
	}

	err = a.pool.QueryRow(ctx,
		`INSERT INTO executions (pipeline_id, status, input_data, error_message, started_at, created_at)
		 VALUES ($1, $2, $3, '', $4, $5) RETURNING id`,
		execution.PipelineID, string(execution.Status), input,
		execution.StartedAt, execution.CreatedAt).Scan(&execution.ID)
	if err != nil {
		return errors.InternalError("failed to create execution", err)
	}
	return nil
}

func (a *Adapter) GetExecution(ctx context.Context, id int64) (*models.Execution, error) {
	row := a.pool.QueryRow(ctx,
		`SELECT id, pipeline_id, status, input_data, output_data, error_message, started_at, completed_at, created_at
		 FROM executions WHERE id = $1`, id)

	execution, err := scanExecution(row.Scan)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("execution")
	}
	return execution, err
}

func (a *Adapter) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	var output []byte
	if execution.OutputData != nil {
		data, err := marshalMap(execution.OutputData)
		if err != nil {
			return err
		}
		output = data
	}

	tag, err := a.pool.Exec(ctx,
		`UPDATE executions SET status = $1, output_data = $2, error_message = $3, started_at = $4, completed_at = $5
		 WHERE id = $6`,
		string(execution.Status), output, execution.ErrorMessage,
		execution.StartedAt, execution.CompletedAt, execution.ID)
	if err != nil {
		return errors.InternalError("failed to update execution", err)
	}
	return requireRow(tag, "execution")
}

func (a *Adapter) ListExecutions(ctx context.Context, pipelineID int64, limit, offset int) ([]*models.Execution, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, pipeline_id, status, input_data, output_data, error_message, started_at, completed_at, created_at
		 FROM executions WHERE pipeline_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		pipelineID, limit, offset)
	if err != nil {
		return nil, errors.InternalError("failed to list executions", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		execution, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

func scanExecution(scan func(...interface{}) error) (*models.Execution, error) {
	var execution models.Execution
	var status string
	var input, output []byte

	err := scan(&execution.ID, &execution.PipelineID, &status, &input, &output,
		&execution.ErrorMessage, &execution.StartedAt, &execution.CompletedAt, &execution.CreatedAt)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	if input != nil {
		if execution.InputData, err = unmarshalMap(input); err != nil {
			return nil, err
		}
	}
	if output != nil {
		if execution.OutputData, err = unmarshalMap(output); err != nil {
			return nil, err
		}
	}
	return &execution, nil
}

// --- Events ---

func (a *Adapter) CreateEvent(ctx context.Context, event *models.Event) error {
	payload, err := marshalMap(event.Payload)
	if err != nil {
		return err
	}

	event.CreatedAt = time.Now().UTC()
	if event.Status == "" {
		event.Status = models.EventStatusPending
	}

	err = a.pool.QueryRow(ctx,
		`INSERT INTO events (event_type, source, payload, status, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5) RETURNING id`,
		event.EventType, event.Source, payload, string(event.Status), event.CreatedAt).Scan(&event.ID)
	if err != nil {
		return errors.InternalError("failed to create event", err)
	}
	return nil
}

func (a *Adapter) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	row := a.pool.QueryRow(ctx,
		`SELECT id, event_type, source, payload, status, retry_count, processed_at, created_at
		 FROM events WHERE id = $1`, id)

	event, err := scanEvent(row.Scan)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundError("event")
	}
	return event, err
}

// eventStatusSet renders the statuses allowed to transition to next as
// numbered placeholders starting at start, so the conditional updates below
// cannot drift from models.EventStatus.CanTransitionTo.
func eventStatusSet(next models.EventStatus, start int) (string, []interface{}) {
	sources := models.EventStatusesAllowing(next)
	marks := make([]string, len(sources))
	args := make([]interface{}, len(sources))
	for i, s := range sources {
		marks[i] = fmt.Sprintf("$%d", start+i)
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}

func (a *Adapter) MarkEventProcessing(ctx context.Context, id int64) error {
	set, statusArgs := eventStatusSet(models.EventStatusProcessing, 3)
	args := append([]interface{}{string(models.EventStatusProcessing), id}, statusArgs...)
	_, err := a.pool.Exec(ctx,
		`UPDATE events SET status = $1 WHERE id = $2 AND status IN (`+set+`)`, args...)
	if err != nil {
		return errors.InternalError("failed to mark event processing", err)
	}
	return nil
}

func (a *Adapter) MarkEventCompleted(ctx context.Context, id int64, processedAt time.Time) error {
	set, statusArgs := eventStatusSet(models.EventStatusCompleted, 4)
	args := append([]interface{}{string(models.EventStatusCompleted), processedAt.UTC(), id}, statusArgs...)
	tag, err := a.pool.Exec(ctx,
		`UPDATE events SET status = $1, processed_at = $2 WHERE id = $3 AND status IN (`+set+`)`, args...)
	if err != nil {
		return errors.InternalError("failed to mark event completed", err)
	}
	return requireRow(tag, "event")
}

func (a *Adapter) MarkEventFailed(ctx context.Context, id int64) error {
	set, statusArgs := eventStatusSet(models.EventStatusFailed, 3)
	args := append([]interface{}{string(models.EventStatusFailed), id}, statusArgs...)
	tag, err := a.pool.Exec(ctx,
		`UPDATE events SET status = $1, retry_count = retry_count + 1 WHERE id = $2 AND status IN (`+set+`)`, args...)
	if err != nil {
		return errors.InternalError("failed to mark event failed", err)
	}
	return requireRow(tag, "event")
}

func (a *Adapter) ListEventsByStatus(ctx context.Context, status models.EventStatus, olderThan time.Time, limit int) ([]*models.Event, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, event_type, source, payload, status, retry_count, processed_at, created_at
		 FROM events WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`,
		string(status), olderThan.UTC(), limit)
	if err != nil {
		return nil, errors.InternalError("failed to list events by status", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (a *Adapter) ListEventsByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, event_type, source, payload, status, retry_count, processed_at, created_at
		 FROM events WHERE event_type = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		eventType, limit)
	if err != nil {
		return nil, errors.InternalError("failed to list events by type", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(scan func(...interface{}) error) (*models.Event, error) {
	var event models.Event
	var status string
	var payload []byte

	err := scan(&event.ID, &event.EventType, &event.Source, &payload, &status,
		&event.RetryCount, &event.ProcessedAt, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	event.Status = models.EventStatus(status)
	if payload != nil {
		if event.Payload, err = unmarshalMap(payload); err != nil {
			return nil, err
		}
	}
	return &event, nil
}

// --- Audit log ---

func (a *Adapter) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	details, err := marshalMap(entry.Details)
	if err != nil {
		return err
	}

	entry.CreatedAt = time.Now().UTC()
	err = a.pool.QueryRow(ctx,
		`INSERT INTO audit_logs (principal, action, resource_type, resource_id, details, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		entry.Principal, entry.Action, entry.ResourceType, entry.ResourceID,
		details, entry.Outcome, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return errors.InternalError("failed to create audit log", err)
	}
	return nil
}

func (a *Adapter) ListAuditLogs(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, principal, action, resource_type, resource_id, details, outcome, created_at
		 FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, errors.InternalError("failed to list audit logs", err)
	}
	defer rows.Close()

	var entries []*models.AuditLog
	for rows.Next() {
		var entry models.AuditLog
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.Principal, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &details, &entry.Outcome, &entry.CreatedAt); err != nil {
			return nil, errors.InternalError("failed to scan audit log", err)
		}
		if details != nil {
			if entry.Details, err = unmarshalMap(details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// --- Settings ---

func (a *Adapter) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := a.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", errors.NotFoundError("setting " + key)
	}
	if err != nil {
		return "", errors.InternalError("failed to read setting", err)
	}
	return value, nil
}

func (a *Adapter) SetSetting(ctx context.Context, key, value string) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return errors.InternalError("failed to set setting", err)
	}
	return nil
}

// --- helpers ---

func marshalMap(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.InternalError("failed to marshal JSON column", err)
	}
	return data, nil
}

func unmarshalMap(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.InternalError("failed to unmarshal JSON column", err)
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

func requireRow(tag pgconn.CommandTag, resource string) error {
	if tag.RowsAffected() == 0 {
		return errors.NotFoundError(resource)
	}
	return nil
}
