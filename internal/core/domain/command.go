package domain

type CommandName string

const (
	CommandConfigureAudio        CommandName = "configureAudio"
	CommandConfigureVideo        CommandName = "configureVideo"
	CommandStartStreaming        CommandName = "startStreaming"
	CommandStopStreaming         CommandName = "stopStreaming"
	CommandSetZoomRatio          CommandName = "setZoomRatio"
	CommandSetPinchZoomEnabled   CommandName = "setPinchZoomEnabled"
	CommandSetCamera             CommandName = "setCamera"
	CommandSetMuted              CommandName = "setMuted"
	CommandSetLayout             CommandName = "setLayout"
	CommandSetOrientation        CommandName = "setOrientation"
	CommandPinchBegin            CommandName = "pinchBegin"
	CommandPinchUpdate           CommandName = "pinchUpdate"
	CommandPinchEnd              CommandName = "pinchEnd"
	CommandHostResume            CommandName = "hostResume"
	CommandHostPause             CommandName = "hostPause"
	CommandProceedAfterRationale CommandName = "proceedAfterRationale"
)

// Command is a host instruction addressed to one view.
type Command struct {
	Name        CommandName   `json:"command"`
	ViewTag     int           `json:"view_tag"`
	RequestID   int           `json:"request_id,omitempty"`
	StreamKey   string        `json:"stream_key,omitempty"`
	URL         string        `json:"url,omitempty"`
	Audio       *AudioProfile `json:"audio,omitempty"`
	Video       *VideoProfile `json:"video,omitempty"`
	Zoom        float64       `json:"zoom,omitempty"`
	Scale       float64       `json:"scale,omitempty"`
	Enabled     *bool         `json:"enabled,omitempty"`
	Muted       *bool         `json:"muted,omitempty"`
	Camera      string        `json:"camera,omitempty"`
	Orientation string        `json:"orientation,omitempty"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
}

// KnownCommand reports whether name is part of the command surface.
func KnownCommand(name CommandName) bool {
	switch name {
	case CommandConfigureAudio, CommandConfigureVideo, CommandStartStreaming,
		CommandStopStreaming, CommandSetZoomRatio, CommandSetPinchZoomEnabled,
		CommandSetCamera, CommandSetMuted, CommandSetLayout, CommandSetOrientation,
		CommandPinchBegin, CommandPinchUpdate, CommandPinchEnd,
		CommandHostResume, CommandHostPause, CommandProceedAfterRationale:
		return true
	}
	return false
}
