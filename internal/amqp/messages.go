package amqp

import (
	"encoding/json"
	"time"

	"finlux/internal/core"
)

// ChangeMessage carries one committed ledger mutation to mirror consumers.
type ChangeMessage struct {
	Event     core.ChangeEvent `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewChangeMessage wraps an event with the publish time
func NewChangeMessage(ev core.ChangeEvent) *ChangeMessage {
	return &ChangeMessage{
		Event:     ev,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON creates a message from JSON bytes
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
