package model

// WebSocket message types
const (
	WSMessageTypeState = "state"
	WSMessageTypePing  = "ping"
	WSMessageTypePong  = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSStateMessage carries a job state change to subscribers
type WSStateMessage struct {
	Type string `json:"type"`
	TaskStatusResponse
}
