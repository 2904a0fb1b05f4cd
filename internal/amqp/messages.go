package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RefreshRequest asks the worker to recompute the aggregate tables. It
// carries only the trigger metadata; the worker reads everything it needs
// from storage, so replaying the message is harmless.
type RefreshRequest struct {
	Reason        string    `json:"reason"`
	EntityID      uuid.UUID `json:"entityId,omitempty"`
	CorrelationID uuid.UUID `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewRefreshRequest creates a request tagged with the originating event name.
func NewRefreshRequest(reason string, entityID, correlationID uuid.UUID) *RefreshRequest {
	return &RefreshRequest{
		Reason:        reason,
		EntityID:      entityID,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

// ToJSON converts the request to JSON bytes
func (m *RefreshRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RefreshRequestFromJSON creates a request from JSON bytes
func RefreshRequestFromJSON(data []byte) (*RefreshRequest, error) {
	var msg RefreshRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
