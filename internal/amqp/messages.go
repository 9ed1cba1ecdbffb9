package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"finary/internal/events"
)

// DataChangedMessage announces that a user's transactions or budgets changed.
// It carries no data; receivers reload from storage.
type DataChangedMessage struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Source    string    `json:"source"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDataChangedMessage wraps e for the broker, stamped with origin.
func NewDataChangedMessage(e events.Event, origin string) *DataChangedMessage {
	ts := e.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &DataChangedMessage{
		Type:      events.TypeDataChanged,
		UserID:    e.UserID,
		Source:    e.Source,
		Origin:    origin,
		Timestamp: ts,
	}
}

// Validate checks the fields a receiver relies on.
func (m *DataChangedMessage) Validate() error {
	if m.Type != events.TypeDataChanged {
		return errors.New("unexpected message type " + m.Type)
	}
	if m.UserID == "" {
		return errors.New("missing user_id")
	}
	return nil
}

// Event converts the message back into a bus event.
func (m *DataChangedMessage) Event() events.Event {
	source := m.Source
	if source == "" {
		source = events.SourceExternal
	}
	return events.Event{
		Type:   events.TypeDataChanged,
		UserID: m.UserID,
		Source: source,
		At:     m.Timestamp,
		Origin: m.Origin,
	}
}

// ToJSON converts the message to JSON bytes
func (m *DataChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DataChangedMessageFromJSON parses and validates a message.
func DataChangedMessageFromJSON(data []byte) (*DataChangedMessage, error) {
	var msg DataChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
