package events

import (
	"encoding/json"
	"time"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// ReadingEvent is a lightweight notification that a monthly reading
// changed. It carries only the key and action; consumers fetch the full
// record from the API if they need it.
type ReadingEvent struct {
	Action    string    `json:"action"`
	Month     string    `json:"month"`
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReadingEvent(action, month string, id int64) *ReadingEvent {
	return &ReadingEvent{
		Action:    action,
		Month:     month,
		ID:        id,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *ReadingEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ReadingEventFromJSON creates an event from JSON bytes
func ReadingEventFromJSON(data []byte) (*ReadingEvent, error) {
	var event ReadingEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
