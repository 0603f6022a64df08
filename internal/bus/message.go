package bus

import (
	"encoding/json"
	"time"

	"agent-platform/internal/common/errors"
	"agent-platform/internal/models"
)

// wireMessage is the JSON body carried on the transport. The durable event
// row is the source of truth; the wire copy exists so consumers do not need
// a storage read before deciding whether the event is a duplicate.
type wireMessage struct {
	EventID   int64                  `json:"event_id"`
	EventType string                 `json:"event_type"`
	Source    string                 `json:"source"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

func encodeMessage(event *models.Event) ([]byte, error) {
	body, err := json.Marshal(wireMessage{
		EventID:   event.ID,
		EventType: event.EventType,
		Source:    event.Source,
		Payload:   event.Payload,
		Timestamp: event.CreatedAt,
	})
	if err != nil {
		return nil, errors.InternalError("failed to encode event message", err)
	}
	return body, nil
}

func decodeMessage(body []byte) (*wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, errors.ValidationError("malformed event message").WithContext("cause", err.Error())
	}
	if msg.EventID == 0 {
		return nil, errors.ValidationError("event message missing event_id")
	}
	if msg.EventType == "" {
		return nil, errors.ValidationError("event message missing event_type")
	}
	return &msg, nil
}
