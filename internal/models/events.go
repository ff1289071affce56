package models

type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventResult   EventType = "result"
)

// Event is the envelope pushed to websocket subscribers and the Redis
// channel of a scope.
type Event struct {
	Type  EventType `json:"type"`
	Scope string    `json:"scope"`
	Data  any       `json:"data"`
}
