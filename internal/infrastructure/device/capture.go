package device

import (
	"context"
	"errors"
	"sync"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/validation"

	"go.uber.org/zap"
)

var (
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	ErrNotConfigured         = errors.New("video profile not configured")
	ErrPublishing            = errors.New("already publishing")
	ErrReleased              = errors.New("capture released")
)

// Capture is a software capture/encode engine for one view. Encoding is
// simulated; the ingest connection is real and goes through a Publisher.
type Capture struct {
	logger    *zap.SugaredLogger
	publisher Publisher
	listener  ports.ConnectionListener
	surface   domain.Surface
	micFaulty bool

	mu         sync.Mutex
	audio      *domain.AudioProfile
	video      *domain.VideoProfile
	previewing bool
	muted      bool
	zoom       float64
	minZoom    float64
	maxZoom    float64
	camera     domain.CameraPosition
	released   bool

	gen    uint64
	cancel context.CancelFunc
	pub    Publication
	wg     sync.WaitGroup
}

var _ ports.Resource = (*Capture)(nil)

func (c *Capture) ConfigureAudio(p domain.AudioProfile) error {
	if c.micFaulty {
		return ErrMicrophoneUnavailable
	}
	if err := validation.ValidateSampleRate(p.SampleRate); err != nil {
		return err
	}
	if err := validation.ValidateChannelCount(p.ChannelCount); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = &p
	return nil
}

func (c *Capture) ConfigureVideo(p domain.VideoProfile) error {
	if err := validation.ValidateResolution(p.Width, p.Height); err != nil {
		return err
	}
	if err := validation.ValidateFPS(p.FPS); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.video = &p
	return nil
}

func (c *Capture) SetAudioBitrate(bitrate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.audio == nil {
		return ErrMicrophoneUnavailable
	}
	c.audio.Bitrate = bitrate
	return nil
}

func (c *Capture) SetVideoBitrate(bitrate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.video == nil {
		return ErrNotConfigured
	}
	c.video.Bitrate = bitrate
	return nil
}

func (c *Capture) StartPreview() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	if c.video == nil {
		return ErrNotConfigured
	}
	if !c.previewing {
		c.previewing = true
		c.logger.Debugw("Preview started", "width", c.video.Width, "height", c.video.Height, "camera", c.camera)
	}
	return nil
}

func (c *Capture) StopPreview() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.previewing = false
}

// StartStreaming validates the target and starts publishing in the
// background. The outcome reaches the listener.
func (c *Capture) StartStreaming(streamKey, ingestURL string) error {
	if err := validation.ValidateStreamKey(streamKey); err != nil {
		return err
	}
	if err := validation.ValidateIngestURL(ingestURL); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.released:
		return ErrReleased
	case c.video == nil:
		return ErrNotConfigured
	case c.cancel != nil:
		return ErrPublishing
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.gen++
	c.cancel = cancel
	c.wg.Add(1)
	go c.publish(ctx, c.gen, ingestURL, streamKey)

	c.logger.Infow("Publish requested", "url", ingestURL, "video_bitrate", c.video.Bitrate, "audio", c.audio != nil)
	return nil
}

func (c *Capture) publish(ctx context.Context, gen uint64, ingestURL, streamKey string) {
	defer c.wg.Done()

	pub, err := c.publisher.Publish(ctx, ingestURL, streamKey)
	if ctx.Err() != nil {
		if pub != nil {
			_ = pub.Close()
		}
		return
	}
	if err != nil {
		if c.clear(gen) {
			c.logger.Warnw("Ingest connection failed", "url", ingestURL, "error", err)
			c.listener.OnConnectionFailed(err.Error())
		}
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = pub.Close()
		return
	}
	c.pub = pub
	c.mu.Unlock()
	c.listener.OnConnectionSuccess()

	select {
	case <-ctx.Done():
		_ = pub.Close()
	case <-pub.Done():
		if c.clear(gen) {
			c.logger.Warnw("Ingest connection lost", "url", ingestURL)
			c.listener.OnDisconnect()
		}
	}
}

// clear drops the publish state if gen is still current.
func (c *Capture) clear(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.cancel == nil {
		return false
	}
	c.cancel()
	c.cancel = nil
	c.pub = nil
	return true
}

func (c *Capture) StopStreaming() {
	c.mu.Lock()
	cancel, pub := c.cancel, c.pub
	c.gen++
	c.cancel = nil
	c.pub = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pub != nil {
		_ = pub.Close()
	}
}

func (c *Capture) SetZoomRatio(ratio float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoom = ratio
}

func (c *Capture) ZoomRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

func (c *Capture) ZoomRange() (float64, float64) {
	return c.minZoom, c.maxZoom
}

func (c *Capture) SetCamera(position domain.CameraPosition) error {
	if err := validation.ValidateCameraPosition(string(position)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.camera = position
	return nil
}

func (c *Capture) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

// Release stops publishing and waits for the publish goroutine to exit.
func (c *Capture) Release() {
	c.StopStreaming()
	c.mu.Lock()
	c.released = true
	c.previewing = false
	c.mu.Unlock()
	c.wg.Wait()
	c.logger.Debugw("Capture released")
}

// Publishing reports whether a publish session is open or being opened.
func (c *Capture) Publishing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}
