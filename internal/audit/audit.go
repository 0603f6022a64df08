// Package audit records who did what to which resource.
package audit

import (
	"context"

	"agent-platform/internal/common/logging"
	"agent-platform/internal/models"
	"agent-platform/internal/storage"
)

// Logger writes audit rows. Audit failures are logged, never propagated:
// an unwritable audit row must not fail the operation it describes.
type Logger struct {
	storage storage.Storage
	logger  logging.Logger
	enabled bool
}

// NewLogger creates an audit logger. A disabled logger drops all entries.
func NewLogger(store storage.Storage, enabled bool, logger logging.Logger) *Logger {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Logger{
		storage: store,
		logger:  logger.WithFields(logging.String("component", "audit")),
		enabled: enabled,
	}
}

// Log records one audit entry.
func (l *Logger) Log(ctx context.Context, principal, action, resourceType string, resourceID int64, details map[string]interface{}, outcome string) {
	if !l.enabled {
		return
	}

	entry := &models.AuditLog{
		Principal:    principal,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Outcome:      outcome,
	}
	if err := l.storage.CreateAuditLog(ctx, entry); err != nil {
		l.logger.Error("failed to write audit log", err,
			logging.String("action", action),
			logging.String("resource_type", resourceType))
	}
}

// Success records a successful action.
func (l *Logger) Success(ctx context.Context, principal, action, resourceType string, resourceID int64, details map[string]interface{}) {
	l.Log(ctx, principal, action, resourceType, resourceID, details, models.AuditOutcomeSuccess)
}

// Failure records a failed action with the error text in the details.
func (l *Logger) Failure(ctx context.Context, principal, action, resourceType string, resourceID int64, err error) {
	details := map[string]interface{}{}
	if err != nil {
		details["error"] = err.Error()
	}
	l.Log(ctx, principal, action, resourceType, resourceID, details, models.AuditOutcomeFailure)
}

// List returns recorded entries, newest first.
func (l *Logger) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	return l.storage.ListAuditLogs(ctx, limit, offset)
}
