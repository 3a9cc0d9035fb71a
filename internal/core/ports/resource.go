package ports

import "camstream/internal/core/domain"

// Resource is the capture/encode engine behind one view. All calls come from
// the view's owning loop.
type Resource interface {
	ConfigureAudio(profile domain.AudioProfile) error
	ConfigureVideo(profile domain.VideoProfile) error
	SetAudioBitrate(bitrate int) error
	SetVideoBitrate(bitrate int) error

	StartPreview() error
	StopPreview()

	// StartStreaming returns once the request is accepted. Connection
	// progress is reported through the ConnectionListener.
	StartStreaming(streamKey, url string) error
	StopStreaming()

	SetZoomRatio(ratio float64)
	ZoomRatio() float64
	ZoomRange() (min, max float64)

	SetCamera(position domain.CameraPosition) error
	SetMuted(muted bool)

	Release()
}

// ConnectionListener receives ingest connection events. Implementations must
// accept calls from any goroutine.
type ConnectionListener interface {
	OnConnectionSuccess()
	OnConnectionFailed(reason string)
	OnDisconnect()
}

type ResourceFactory interface {
	Create(surface domain.Surface, listener ConnectionListener) (Resource, error)
}
