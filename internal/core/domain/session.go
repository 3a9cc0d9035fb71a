package domain

import "fmt"

type SessionState int

const (
	StateUninitialized SessionState = iota
	StateInitializing
	StateReady
	StateStreaming
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Surface is the preview surface size reported by the host layout pass.
type Surface struct {
	Width  int
	Height int
}

// Laid reports whether the host has given the view a non-empty size.
func (s Surface) Laid() bool {
	return s.Width > 0 && s.Height > 0
}

// PendingStart is a start request waiting for the session to become ready.
type PendingStart struct {
	RequestID  int
	StreamKey  string
	URL        string
	RetryCount int
}

// ZoomGesture holds the zoom ratio captured when a pinch began.
type ZoomGesture struct {
	Baseline float64
	Active   bool
}

type CameraPosition string

const (
	CameraFront CameraPosition = "front"
	CameraBack  CameraPosition = "back"
)

type Orientation string

const (
	OrientationPortrait           Orientation = "portrait"
	OrientationPortraitUpsideDown Orientation = "portraitUpsideDown"
	OrientationLandscapeLeft      Orientation = "landscapeLeft"
	OrientationLandscapeRight     Orientation = "landscapeRight"
)

// ParseOrientation accepts the host's orientation names.
func ParseOrientation(name string) (Orientation, bool) {
	switch o := Orientation(name); o {
	case OrientationPortrait, OrientationPortraitUpsideDown, OrientationLandscapeLeft, OrientationLandscapeRight:
		return o, true
	}
	return "", false
}

// ViewSnapshot is a read-only copy of a view's controller state.
type ViewSnapshot struct {
	ViewTag       int               `json:"view_tag"`
	State         string            `json:"state"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Tier          string            `json:"tier"`
	Zoom          float64           `json:"zoom"`
	PinchEnabled  bool              `json:"pinch_enabled"`
	Camera        CameraPosition    `json:"camera"`
	Muted         bool              `json:"muted"`
	VideoOnly     bool              `json:"video_only"`
	Orientation   Orientation       `json:"orientation"`
	PendingStart  *PendingStart     `json:"pending_start,omitempty"`
	Profile       CapabilityProfile `json:"profile"`
}
