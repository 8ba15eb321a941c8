package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Fan control messages
	MessageTypeFanStatus      MessageType = "fan_status"
	MessageTypeControlSession MessageType = "control_session"
	MessageTypeProfileChanged MessageType = "profile_changed"

	// Telemetry messages
	MessageTypeTemperatures MessageType = "temperatures"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
	MessageTypeHello        MessageType = "hello"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// ProfileChangedData announces a new active profile.
type ProfileChangedData struct {
	Profile  string `json:"profile"`
	Previous string `json:"previous"`
}

// HelloData is sent to every client right after the upgrade.
type HelloData struct {
	ClientID string `json:"client_id"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewProfileChangedMessage(profile, previous string) Message {
	return NewMessage(MessageTypeProfileChanged, ProfileChangedData{
		Profile:  profile,
		Previous: previous,
	})
}
