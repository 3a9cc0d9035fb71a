package domain

import "time"

type EventType string

const (
	EventConnectionSuccess    EventType = "connectionSuccess"
	EventConnectionFailed     EventType = "connectionFailed"
	EventDisconnected         EventType = "disconnected"
	EventPermissionsDenied    EventType = "permissionsDenied"
	EventPermissionsRationale EventType = "permissionsRationale"
	EventStartStreamingResult EventType = "startStreamingResult"
	EventConfigurationError   EventType = "configurationError"
)

// Event is a one-shot notification from a view to the host.
type Event struct {
	Type      EventType `json:"type"`
	ViewTag   int       `json:"view_tag"`
	RequestID *int      `json:"request_id,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Missing   []string  `json:"missing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
