// Package sqlite implements the storage interface on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"agent-platform/internal/common/errors"
	"agent-platform/internal/models"
	"agent-platform/internal/storage"
)

// Adapter is the SQLite-backed storage implementation.
type Adapter struct {
	db     *sql.DB
	config *Config
}

var _ storage.Storage = (*Adapter)(nil)

// NewAdapter opens the database and applies migrations.
func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.Path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection, so the pool must not
	// open a second one.
	if config.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{db: db, config: config}
	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'inactive',
		config TEXT NOT NULL DEFAULT '{}',
		version TEXT NOT NULL DEFAULT '1.0.0',
		is_plugin INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pipelines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		config TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pipeline_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id INTEGER NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
		agent_id INTEGER NOT NULL REFERENCES agents(id),
		step_order INTEGER NOT NULL,
		config TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		UNIQUE(pipeline_id, step_order)
	);

	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pipeline_id INTEGER NOT NULL REFERENCES pipelines(id),
		status TEXT NOT NULL DEFAULT 'pending',
		input_data TEXT,
		output_data TEXT,
		error_message TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INTEGER NOT NULL DEFAULT 0,
		processed_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		principal TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id INTEGER NOT NULL DEFAULT 0,
		details TEXT,
		outcome TEXT NOT NULL,
		created_at DATETIME NOT NULL
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
	_, err := a.db.Exec(schema)
	return err
}

// Close closes the database handle.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Health pings the database.
func (a *Adapter) Health() error {
	return a.db.Ping()
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

	result, err := a.db.ExecContext(ctx,
		`INSERT INTO agents (name, description, agent_type, status, config, version, is_plugin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.Name, agent.Description, string(agent.Type), string(agent.Status),
		config, agent.Version, agent.IsPlugin, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ValidationError(fmt.Sprintf("agent with name %q already exists", agent.Name))
		}
		return errors.InternalError("failed to create agent", err)
	}

	agent.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	return a.scanAgent(a.db.QueryRowContext(ctx,
		`SELECT id, name, description, agent_type, status, config, version, is_plugin, created_at, updated_at
		 FROM agents WHERE id = ?`, id))
}

func (a *Adapter) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	return a.scanAgent(a.db.QueryRowContext(ctx,
		`SELECT id, name, description, agent_type, status, config, version, is_plugin, created_at, updated_at
		 FROM agents WHERE name = ?`, name))
}

func (a *Adapter) scanAgent(row *sql.Row) (*models.Agent, error) {
	var agent models.Agent
	var agentType, status, config string

	err := row.Scan(&agent.ID, &agent.Name, &agent.Description, &agentType, &status,
		&config, &agent.Version, &agent.IsPlugin, &agent.CreatedAt, &agent.UpdatedAt)
	if err == sql.ErrNoRows {
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
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, name, description, agent_type, status, config, version, is_plugin, created_at, updated_at
		 FROM agents ORDER BY name`)
	if err != nil {
		return nil, errors.InternalError("failed to list agents", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var agent models.Agent
		var agentType, status, config string
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
	result, err := a.db.ExecContext(ctx,
		`UPDATE agents SET description = ?, status = ?, config = ?, version = ?, updated_at = ? WHERE id = ?`,
		agent.Description, string(agent.Status), config, agent.Version, agent.UpdatedAt, agent.ID)
	if err != nil {
		return errors.InternalError("failed to update agent", err)
	}
	return requireRow(result, "agent")
}

func (a *Adapter) UpdateAgentStatus(ctx context.Context, id int64, status models.AgentStatus) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return errors.InternalError("failed to update agent status", err)
	}
	return requireRow(result, "agent")
}

func (a *Adapter) DeleteAgent(ctx context.Context, id int64) error {
	result, err := a.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return errors.InternalError("failed to delete agent", err)
	}
	return requireRow(result, "agent")
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

	result, err := a.db.ExecContext(ctx,
		`INSERT INTO pipelines (name, description, status, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		pipeline.Name, pipeline.Description, string(pipeline.Status), config, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ValidationError(fmt.Sprintf("pipeline with name %q already exists", pipeline.Name))
		}
		return errors.InternalError("failed to create pipeline", err)
	}

	pipeline.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) GetPipeline(ctx context.Context, id int64) (*models.Pipeline, error) {
	pipeline, err := a.scanPipeline(a.db.QueryRowContext(ctx,
		`SELECT id, name, description, status, config, created_at, updated_at FROM pipelines WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if pipeline.Steps, err = a.GetSteps(ctx, pipeline.ID); err != nil {
		return nil, err
	}
	return pipeline, nil
}

func (a *Adapter) GetPipelineByName(ctx context.Context, name string) (*models.Pipeline, error) {
	pipeline, err := a.scanPipeline(a.db.QueryRowContext(ctx,
		`SELECT id, name, description, status, config, created_at, updated_at FROM pipelines WHERE name = ?`, name))
	if err != nil {
		return nil, err
	}
	if pipeline.Steps, err = a.GetSteps(ctx, pipeline.ID); err != nil {
		return nil, err
	}
	return pipeline, nil
}

func (a *Adapter) scanPipeline(row *sql.Row) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	var status, config string

	err := row.Scan(&pipeline.ID, &pipeline.Name, &pipeline.Description, &status,
		&config, &pipeline.CreatedAt, &pipeline.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("pipeline")
	}
	if err != nil {
		return nil, errors.InternalError("failed to read pipeline", err)
	}

	pipeline.Status = models.PipelineStatus(status)
	if pipeline.Config, err = unmarshalMap(config); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

func (a *Adapter) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, name, description, status, config, created_at, updated_at FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, errors.InternalError("failed to list pipelines", err)
	}
	defer rows.Close()

	var pipelines []*models.Pipeline
	for rows.Next() {
		var pipeline models.Pipeline
		var status, config string
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
	result, err := a.db.ExecContext(ctx,
		`UPDATE pipelines SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return errors.InternalError("failed to update pipeline status", err)
	}
	return requireRow(result, "pipeline")
}

func (a *Adapter) DeletePipeline(ctx context.Context, id int64) error {
	// Steps cascade via the foreign key.
	result, err := a.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return errors.InternalError("failed to delete pipeline", err)
	}
	return requireRow(result, "pipeline")
}

// --- Steps ---

func (a *Adapter) AddStep(ctx context.Context, step *models.Step) error {
	config, err := marshalMap(step.Config)
	if err != nil {
		return err
	}

	step.CreatedAt = time.Now().UTC()
	result, err := a.db.ExecContext(ctx,
		`INSERT INTO pipeline_steps (pipeline_id, agent_id, step_order, config, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		step.PipelineID, step.AgentID, step.StepOrder, config, step.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ValidationError(fmt.Sprintf("step order %d already used in pipeline %d", step.StepOrder, step.PipelineID))
		}
		return errors.InternalError("failed to add step", err)
	}

	step.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) GetSteps(ctx context.Context, pipelineID int64) ([]*models.Step, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, pipeline_id, agent_id, step_order, config, created_at
		 FROM pipeline_steps WHERE pipeline_id = ? ORDER BY step_order ASC`, pipelineID)
	if err != nil {
		return nil, errors.InternalError("failed to list steps", err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var step models.Step
		var config string
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
	result, err := a.db.ExecContext(ctx, `DELETE FROM pipeline_steps WHERE id = ?`, id)
	if err != nil {
		return errors.InternalError("failed to delete step", err)
	}
	return requireRow(result, "step")
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

	result, err := a.db.ExecContext(ctx,
		`INSERT INTO executions (pipeline_id, status, input_data, error_message, started_at, created_at)
		 VALUES (?, ?, ?, '', ?, ?)`,
		execution.PipelineID, string(execution.Status), input, execution.StartedAt, execution.CreatedAt)
	if err != nil {
		return errors.InternalError("failed to create execution", err)
	}

	execution.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) GetExecution(ctx context.Context, id int64) (*models.Execution, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, pipeline_id, status, input_data, output_data, error_message, started_at, completed_at, created_at
		 FROM executions WHERE id = ?`, id)

	execution, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("execution")
	}
	return execution, err
}

func (a *Adapter) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	var output sql.NullString
	if execution.OutputData != nil {
		data, err := marshalMap(execution.OutputData)
		if err != nil {
			return err
		}
		output = sql.NullString{String: data, Valid: true}
	}

	result, err := a.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, output_data = ?, error_message = ?, started_at = ?, completed_at = ?
		 WHERE id = ?`,
		string(execution.Status), output, execution.ErrorMessage,
		execution.StartedAt, execution.CompletedAt, execution.ID)
	if err != nil {
		return errors.InternalError("failed to update execution", err)
	}
	return requireRow(result, "execution")
}

func (a *Adapter) ListExecutions(ctx context.Context, pipelineID int64, limit, offset int) ([]*models.Execution, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, pipeline_id, status, input_data, output_data, error_message, started_at, completed_at, created_at
		 FROM executions WHERE pipeline_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
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
	var input, output sql.NullString

	err := scan(&execution.ID, &execution.PipelineID, &status, &input, &output,
		&execution.ErrorMessage, &execution.StartedAt, &execution.CompletedAt, &execution.CreatedAt)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	if input.Valid {
		if execution.InputData, err = unmarshalMap(input.String); err != nil {
			return nil, err
		}
	}
	if output.Valid {
		if execution.OutputData, err = unmarshalMap(output.String); err != nil {
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

	result, err := a.db.ExecContext(ctx,
		`INSERT INTO events (event_type, source, payload, status, retry_count, created_at)
		 VALUES (?, ?, ?, ?, 0, ?)`,
		event.EventType, event.Source, payload, string(event.Status), event.CreatedAt)
	if err != nil {
		return errors.InternalError("failed to create event", err)
	}

	event.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT id, event_type, source, payload, status, retry_count, processed_at, created_at
		 FROM events WHERE id = ?`, id)

	event, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("event")
	}
	return event, err
}

// eventStatusSet renders the statuses allowed to transition to next as an
// IN-clause placeholder list plus its arguments, so the conditional updates
// below cannot drift from models.EventStatus.CanTransitionTo.
func eventStatusSet(next models.EventStatus) (string, []interface{}) {
	sources := models.EventStatusesAllowing(next)
	marks := make([]string, len(sources))
	args := make([]interface{}, len(sources))
	for i, s := range sources {
		marks[i] = "?"
		args[i] = string(s)
	}
	return strings.Join(marks, ", "), args
}

func (a *Adapter) MarkEventProcessing(ctx context.Context, id int64) error {
	// Forward-only: completed events never move back.
	set, statusArgs := eventStatusSet(models.EventStatusProcessing)
	args := append([]interface{}{string(models.EventStatusProcessing), id}, statusArgs...)
	_, err := a.db.ExecContext(ctx,
		`UPDATE events SET status = ? WHERE id = ? AND status IN (`+set+`)`, args...)
	if err != nil {
		return errors.InternalError("failed to mark event processing", err)
	}
	return nil
}

func (a *Adapter) MarkEventCompleted(ctx context.Context, id int64, processedAt time.Time) error {
	set, statusArgs := eventStatusSet(models.EventStatusCompleted)
	args := append([]interface{}{string(models.EventStatusCompleted), processedAt.UTC(), id}, statusArgs...)
	result, err := a.db.ExecContext(ctx,
		`UPDATE events SET status = ?, processed_at = ? WHERE id = ? AND status IN (`+set+`)`, args...)
	if err != nil {
		return errors.InternalError("failed to mark event completed", err)
	}
	return requireRow(result, "event")
}

func (a *Adapter) MarkEventFailed(ctx context.Context, id int64) error {
	set, statusArgs := eventStatusSet(models.EventStatusFailed)
	args := append([]interface{}{string(models.EventStatusFailed), id}, statusArgs...)
	result, err := a.db.ExecContext(ctx,
		`UPDATE events SET status = ?, retry_count = retry_count + 1 WHERE id = ? AND status IN (`+set+`)`, args...)
	if err != nil {
		return errors.InternalError("failed to mark event failed", err)
	}
	return requireRow(result, "event")
}

func (a *Adapter) ListEventsByStatus(ctx context.Context, status models.EventStatus, olderThan time.Time, limit int) ([]*models.Event, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, event_type, source, payload, status, retry_count, processed_at, created_at
		 FROM events WHERE status = ? AND created_at < ? ORDER BY created_at ASC LIMIT ?`,
		string(status), olderThan.UTC(), limit)
	if err != nil {
		return nil, errors.InternalError("failed to list events by status", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (a *Adapter) ListEventsByType(ctx context.Context, eventType string, limit int) ([]*models.Event, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, event_type, source, payload, status, retry_count, processed_at, created_at
		 FROM events WHERE event_type = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		eventType, limit)
	if err != nil {
		return nil, errors.InternalError("failed to list events by type", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]*models.Event, error) {
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
	var payload sql.NullString

	err := scan(&event.ID, &event.EventType, &event.Source, &payload, &status,
		&event.RetryCount, &event.ProcessedAt, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	event.Status = models.EventStatus(status)
	if payload.Valid {
		if event.Payload, err = unmarshalMap(payload.String); err != nil {
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
	result, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_logs (principal, action, resource_type, resource_id, details, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Principal, entry.Action, entry.ResourceType, entry.ResourceID,
		details, entry.Outcome, entry.CreatedAt)
	if err != nil {
		return errors.InternalError("failed to create audit log", err)
	}

	entry.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) ListAuditLogs(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, principal, action, resource_type, resource_id, details, outcome, created_at
		 FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, errors.InternalError("failed to list audit logs", err)
	}
	defer rows.Close()

	var entries []*models.AuditLog
	for rows.Next() {
		var entry models.AuditLog
		var details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Principal, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &details, &entry.Outcome, &entry.CreatedAt); err != nil {
			return nil, errors.InternalError("failed to scan audit log", err)
		}
		if details.Valid {
			if entry.Details, err = unmarshalMap(details.String); err != nil {
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
	err := a.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.NotFoundError("setting " + key)
	}
	if err != nil {
		return "", errors.InternalError("failed to read setting", err)
	}
	return value, nil
}

func (a *Adapter) SetSetting(ctx context.Context, key, value string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return errors.InternalError("failed to set setting", err)
	}
	return nil
}

// --- helpers ---

func marshalMap(m map[string]interface{}) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", errors.InternalError("failed to marshal JSON column", err)
	}
	return string(data), nil
}

func unmarshalMap(data string) (map[string]interface{}, error) {
	if data == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, errors.InternalError("failed to unmarshal JSON column", err)
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func requireRow(result sql.Result, resource string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to check affected rows", err)
	}
	if affected == 0 {
		return errors.NotFoundError(resource)
	}
	return nil
}
