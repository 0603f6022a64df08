package models

import "time"

// AuditLog is an append-only record of a system action.
type AuditLog struct {
	ID           int64                  `json:"id"`
	Principal    string                 `json:"principal"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   int64                  `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Outcome      string                 `json:"outcome"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Audit outcomes.
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
)
