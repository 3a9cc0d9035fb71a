package services

import (
	"errors"
	"fmt"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/validation"

	"go.uber.org/zap"
)

var devicePermissions = []domain.PermissionID{domain.PermissionCamera, domain.PermissionMicrophone}

const (
	minVideoBitrate = 50_000
	maxVideoBitrate = 50_000_000
	minAudioBitrate = 8_000
	maxAudioBitrate = 512_000
)

type ControllerConfig struct {
	Tier             domain.DeviceTier
	DefaultURL       string
	Profile          domain.CapabilityProfile
	Session          SessionConfig
	PinchZoomEnabled bool
}

type ControllerDeps struct {
	Exec    ports.Executor
	Factory ports.ResourceFactory
	Oracle  ports.PermissionOracle
	Sink    ports.EventSink
	Metrics ports.MetricsRecorder
	Logger  *zap.SugaredLogger
	Now     func() time.Time
	// Negotiator is shared between views of one host. A private one is
	// created when nil.
	Negotiator *PermissionNegotiator
}

// StreamController is the per-view state machine driven by host commands.
// Every exported method must run on the owning executor; connection events
// may arrive from any goroutine.
type StreamController struct {
	tag     int
	cfg     ControllerConfig
	exec    ports.Executor
	oracle  ports.PermissionOracle
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	session       *SessionManager
	negotiator    *PermissionNegotiator
	ownNegotiator bool
	emitter       *EventEmitter

	surface            domain.Surface
	requested          domain.CapabilityProfile
	effective          domain.CapabilityProfile
	orientation        domain.Orientation
	appliedOrientation domain.Orientation
	videoOnly          bool

	acquired   bool
	acquiring  bool
	acqWaiters []func(error)
	rationale  func()

	pending  *domain.PendingStart
	startSeq int

	zoom         float64
	pinchEnabled bool
	gesture      domain.ZoomGesture
	camera       domain.CameraPosition
	muted        bool

	closed bool
}

func NewStreamController(tag int, cfg ControllerConfig, deps ControllerDeps) *StreamController {
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	logger := deps.Logger.With("view_tag", tag)

	c := &StreamController{
		tag:          tag,
		cfg:          cfg,
		exec:         deps.Exec,
		oracle:       deps.Oracle,
		metrics:      deps.Metrics,
		logger:       logger,
		requested:    cfg.Profile,
		orientation:  domain.OrientationPortrait,
		pinchEnabled: cfg.PinchZoomEnabled,
		camera:       domain.CameraBack,
	}

	c.negotiator = deps.Negotiator
	if c.negotiator == nil {
		c.negotiator = NewPermissionNegotiator(deps.Exec, deps.Oracle, deps.Metrics, logger)
		c.ownNegotiator = true
	}
	c.emitter = NewEventEmitter(tag, deps.Sink, deps.Now, deps.Metrics, logger)
	c.session = NewSessionManager(cfg.Session, deps.Exec, deps.Factory, c, c.previewSurface, deps.Metrics, logger)
	return c
}

func (c *StreamController) Tag() int { return c.tag }

func (c *StreamController) State() domain.SessionState { return c.session.State() }

// previewSurface is the size handed to the resource. The constrained tier
// always renders at its fixed preview size once laid out.
func (c *StreamController) previewSurface() domain.Surface {
	if c.surface.Laid() && c.cfg.Tier == domain.TierConstrained {
		return ConstrainedPreviewSurface
	}
	return c.surface
}

// Handle routes a host command. Payload problems are reported as
// configurationError events.
func (c *StreamController) Handle(cmd domain.Command) {
	if c.closed {
		return
	}
	switch cmd.Name {
	case domain.CommandConfigureAudio:
		if cmd.Audio == nil {
			c.emitter.ConfigurationError(fmt.Errorf("%w: audio profile is required", domain.ErrInvalidConfiguration))
			return
		}
		c.ConfigureAudio(*cmd.Audio)
	case domain.CommandConfigureVideo:
		if cmd.Video == nil {
			c.emitter.ConfigurationError(fmt.Errorf("%w: video profile is required", domain.ErrInvalidConfiguration))
			return
		}
		c.ConfigureVideo(*cmd.Video)
	case domain.CommandStartStreaming:
		c.StartStreaming(cmd.RequestID, cmd.StreamKey, cmd.URL)
	case domain.CommandStopStreaming:
		c.StopStreaming()
	case domain.CommandSetZoomRatio:
		c.SetZoomRatio(cmd.Zoom)
	case domain.CommandSetPinchZoomEnabled:
		c.SetPinchZoomEnabled(cmd.Enabled == nil || *cmd.Enabled)
	case domain.CommandSetCamera:
		c.SetCamera(cmd.Camera)
	case domain.CommandSetMuted:
		c.SetMuted(cmd.Muted != nil && *cmd.Muted)
	case domain.CommandSetLayout:
		c.SetLayout(cmd.Width, cmd.Height)
	case domain.CommandSetOrientation:
		o, ok := domain.ParseOrientation(cmd.Orientation)
		if !ok {
			c.emitter.ConfigurationError(fmt.Errorf("%w: unknown orientation %q", domain.ErrInvalidConfiguration, cmd.Orientation))
			return
		}
		c.SetOrientation(o)
	case domain.CommandPinchBegin:
		c.PinchBegin()
	case domain.CommandPinchUpdate:
		c.PinchUpdate(cmd.Scale)
	case domain.CommandPinchEnd:
		c.PinchEnd()
	case domain.CommandHostResume:
		c.HostResume()
	case domain.CommandHostPause:
		c.HostPause()
	case domain.CommandProceedAfterRationale:
		c.ProceedAfterRationale()
	default:
		c.emitter.ConfigurationError(fmt.Errorf("%w: %s", domain.ErrUnknownCommand, cmd.Name))
	}
}

func validateVideo(p domain.VideoProfile) error {
	if err := validation.ValidateBitrate(p.Bitrate, minVideoBitrate, maxVideoBitrate); err != nil {
		return err
	}
	if err := validation.ValidateResolution(p.Width, p.Height); err != nil {
		return err
	}
	if err := validation.ValidateFPS(p.FPS); err != nil {
		return err
	}
	return validation.ValidateKeyframeInterval(p.KeyframeIntervalSeconds)
}

func validateAudio(p domain.AudioProfile) error {
	if err := validation.ValidateBitrate(p.Bitrate, minAudioBitrate, maxAudioBitrate); err != nil {
		return err
	}
	if err := validation.ValidateSampleRate(p.SampleRate); err != nil {
		return err
	}
	return validation.ValidateChannelCount(p.ChannelCount)
}

// ConfigureVideo stores and, when the resource is acquired, applies the
// profile. While streaming only the bitrate may change.
func (c *StreamController) ConfigureVideo(profile domain.VideoProfile) {
	if c.closed {
		return
	}
	if err := validateVideo(profile); err != nil {
		c.emitter.ConfigurationError(fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err))
		return
	}

	effective := SelectVideo(c.cfg.Tier, profile)
	res := c.session.Resource()

	if c.session.State() == domain.StateStreaming {
		if !effective.SameExceptBitrate(c.effective.Video) {
			c.emitter.ConfigurationError(fmt.Errorf("%w: only the video bitrate can change while streaming", domain.ErrInvalidConfiguration))
			return
		}
		if err := res.SetVideoBitrate(effective.Bitrate); err != nil {
			c.emitter.ConfigurationError(fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err))
			return
		}
		c.requested.Video = profile
		c.effective.Video = effective
		return
	}

	c.requested.Video = profile
	if !c.acquired || res == nil {
		return
	}
	if err := c.applyVideo(res); err != nil {
		c.emitter.ConfigurationError(err)
	}
}

// ConfigureAudio stores and applies the profile. Applying needs the
// microphone permission.
func (c *StreamController) ConfigureAudio(profile domain.AudioProfile) {
	if c.closed {
		return
	}
	if err := validateAudio(profile); err != nil {
		c.emitter.ConfigurationError(fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err))
		return
	}

	effective := SelectAudio(c.cfg.Tier, profile)

	if c.session.State() == domain.StateStreaming {
		if !effective.SameExceptBitrate(c.effective.Audio) {
			c.emitter.ConfigurationError(fmt.Errorf("%w: only the audio bitrate can change while streaming", domain.ErrInvalidConfiguration))
			return
		}
		if c.videoOnly {
			c.requested.Audio = profile
			return
		}
		if err := c.session.Resource().SetAudioBitrate(effective.Bitrate); err != nil {
			c.emitter.ConfigurationError(fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err))
			return
		}
		c.requested.Audio = profile
		c.effective.Audio = effective
		return
	}

	c.requested.Audio = profile
	if !c.acquired || c.session.Resource() == nil {
		return
	}

	c.negotiator.Request(PermissionRequest{
		Permissions: []domain.PermissionID{domain.PermissionMicrophone},
		OnGranted: func() {
			if c.closed || c.session.Resource() == nil {
				return
			}
			if err := c.applyAudio(c.session.Resource()); err != nil {
				c.emitter.ConfigurationError(err)
			}
		},
		OnRationale: c.permissionRationale,
		OnDenied:    c.permissionDenied,
	})
}

func (c *StreamController) applyVideo(res ports.Resource) error {
	effective := SelectVideo(c.cfg.Tier, c.requested.Video)
	if err := res.ConfigureVideo(effective); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	c.effective.Video = effective
	c.appliedOrientation = c.orientation
	return nil
}

// applyAudio configures the microphone. On the constrained tier a failure
// leaves the view in video-only mode instead.
func (c *StreamController) applyAudio(res ports.Resource) error {
	effective := SelectAudio(c.cfg.Tier, c.requested.Audio)
	if err := res.ConfigureAudio(effective); err != nil {
		if c.cfg.Tier == domain.TierConstrained {
			c.degradeAudio(err)
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	c.videoOnly = false
	c.effective.Audio = effective
	return nil
}

// reapplyAudio is applyAudio for host resume, where any tier falls back to
// video-only.
func (c *StreamController) reapplyAudio(res ports.Resource) {
	if err := c.applyAudio(res); err != nil {
		c.degradeAudio(err)
	}
}

func (c *StreamController) degradeAudio(err error) {
	c.videoOnly = true
	c.logger.Warnw("Audio unavailable, continuing video-only",
		"tier", c.cfg.Tier.String(),
		"error", fmt.Errorf("%w: %v", domain.ErrAudioUnavailable, err),
	)
}

// prepare brings the session to Ready and acquires camera and microphone.
func (c *StreamController) prepare(done func(error)) {
	c.session.EnsureReady(func(res ports.Resource) {
		if c.closed {
			return
		}
		c.acquire(done)
	}, func(err error) {
		if c.closed {
			return
		}
		done(err)
	})
}

func (c *StreamController) acquire(done func(error)) {
	if c.acquired {
		done(nil)
		return
	}
	c.acqWaiters = append(c.acqWaiters, done)
	if c.acquiring {
		return
	}
	c.acquiring = true
	c.negotiator.Request(PermissionRequest{
		Permissions: devicePermissions,
		OnGranted:   c.onDevicesGranted,
		OnRationale: c.onDevicesRationale,
		OnDenied:    c.onDevicesDenied,
	})
}

func (c *StreamController) onDevicesGranted() {
	if c.closed {
		return
	}
	c.acquiring = false
	if c.acquired {
		c.finishAcquire(nil)
		return
	}

	res := c.session.Resource()
	if res == nil {
		c.finishAcquire(domain.ErrReleased)
		return
	}
	if err := c.applyVideo(res); err != nil {
		c.finishAcquire(err)
		return
	}
	if err := c.applyAudio(res); err != nil {
		c.finishAcquire(err)
		return
	}
	if err := res.StartPreview(); err != nil {
		c.finishAcquire(fmt.Errorf("%w: %v", domain.ErrCameraUnavailable, err))
		return
	}
	if err := res.SetCamera(c.camera); err != nil {
		c.logger.Warnw("Restoring camera facing failed", "camera", c.camera, "error", err)
	}
	res.SetMuted(c.muted)
	if c.zoom > 0 {
		c.setZoom(res, c.zoom)
	}

	c.acquired = true
	c.finishAcquire(nil)
}

func (c *StreamController) onDevicesRationale(missing []domain.PermissionID, proceed func()) {
	if c.closed {
		return
	}
	c.acquiring = false
	c.permissionRationale(missing, proceed)
	c.finishAcquire(fmt.Errorf("%w: %v", domain.ErrRationaleNeeded, domain.PermissionNames(missing)))
}

func (c *StreamController) onDevicesDenied(missing []domain.PermissionID) {
	if c.closed {
		return
	}
	c.acquiring = false
	c.permissionDenied(missing)
	c.finishAcquire(fmt.Errorf("%w: %v", domain.ErrPermissionDenied, domain.PermissionNames(missing)))
}

func (c *StreamController) permissionRationale(missing []domain.PermissionID, proceed func()) {
	if c.closed {
		return
	}
	c.rationale = proceed
	c.emitter.PermissionsRationale(missing)
}

func (c *StreamController) permissionDenied(missing []domain.PermissionID) {
	if c.closed {
		return
	}
	c.emitter.PermissionsDenied(missing)
}

func (c *StreamController) finishAcquire(err error) {
	waiters := c.acqWaiters
	c.acqWaiters = nil
	for _, w := range waiters {
		w(err)
	}
}

// ProceedAfterRationale re-issues the permission request that last needed a
// rationale. The request acquires devices again; it does not start a stream.
func (c *StreamController) ProceedAfterRationale() {
	if c.closed || c.rationale == nil {
		return
	}
	proceed := c.rationale
	c.rationale = nil
	proceed()
}

// StartStreaming emits exactly one startStreamingResult for requestID.
func (c *StreamController) StartStreaming(requestID int, streamKey, url string) {
	if c.closed {
		return
	}
	c.emitter.BeginStart(requestID)

	if c.session.State() == domain.StateStreaming {
		c.emitter.StartResult(requestID, domain.ErrAlreadyStreaming)
		return
	}
	if c.pending != nil {
		c.emitter.StartResult(requestID, fmt.Errorf("start request %d is still pending", c.pending.RequestID))
		return
	}

	start := &domain.PendingStart{RequestID: requestID, StreamKey: streamKey, URL: url}
	c.pending = start
	c.startSeq++
	seq := c.startSeq

	c.prepare(func(err error) {
		if c.closed || seq != c.startSeq {
			return
		}
		c.pending = nil
		start.RetryCount = c.session.Attempts()
		if err != nil {
			c.finishStart(start, err)
			return
		}
		c.doStart(start)
	})
}

func (c *StreamController) doStart(start *domain.PendingStart) {
	res := c.session.Resource()
	if res == nil {
		c.finishStart(start, domain.ErrReleased)
		return
	}
	if c.session.State() == domain.StateStreaming {
		c.finishStart(start, domain.ErrAlreadyStreaming)
		return
	}

	// Force the resource to recompute orientation-dependent parameters.
	if c.cfg.Tier == domain.TierDefault && c.orientation != c.appliedOrientation {
		if err := res.ConfigureVideo(c.effective.Video); err != nil {
			c.logger.Warnw("Reapplying video profile failed", "orientation", c.orientation, "error", err)
		} else {
			c.appliedOrientation = c.orientation
		}
	}

	url := start.URL
	if url == "" {
		url = c.cfg.DefaultURL
	}
	if err := res.StartStreaming(start.StreamKey, url); err != nil {
		c.finishStart(start, fmt.Errorf("%w: %v", domain.ErrStreamStartRejected, err))
		return
	}
	c.session.MarkStreaming()
	c.finishStart(start, nil)
}

func (c *StreamController) finishStart(start *domain.PendingStart, err error) {
	if err != nil {
		c.logger.Warnw("Start streaming failed", "request_id", start.RequestID, "attempts", start.RetryCount, "error", err)
	} else {
		c.logger.Infow("Streaming started", "request_id", start.RequestID, "attempts", start.RetryCount)
	}
	c.emitter.StartResult(start.RequestID, err)
}

// StopStreaming is idempotent. A start still waiting for the session is
// answered with a failure.
func (c *StreamController) StopStreaming() {
	if c.closed {
		return
	}
	if c.pending != nil {
		start := c.pending
		c.pending = nil
		c.startSeq++
		c.finishStart(start, domain.ErrStartCancelled)
	}
	if c.session.State() == domain.StateStreaming {
		c.session.Resource().StopStreaming()
		c.session.MarkStopped()
		c.logger.Infow("Streaming stopped")
	}
}

// SetZoomRatio clamps value to the resource range. Before the resource
// exists the value is kept and applied on acquisition.
func (c *StreamController) SetZoomRatio(value float64) {
	if c.closed {
		return
	}
	if value <= 0 {
		c.emitter.ConfigurationError(fmt.Errorf("%w: zoom ratio must be > 0", domain.ErrInvalidConfiguration))
		return
	}
	c.zoom = value
	if res := c.session.Resource(); res != nil {
		c.setZoom(res, value)
	}
}

func (c *StreamController) setZoom(res ports.Resource, value float64) {
	min, max := res.ZoomRange()
	c.zoom = ClampZoom(value, min, max)
	res.SetZoomRatio(c.zoom)
}

// SetPinchZoomEnabled toggles the whole gesture.
func (c *StreamController) SetPinchZoomEnabled(enabled bool) {
	if c.closed {
		return
	}
	c.pinchEnabled = enabled
	if !enabled {
		c.gesture = domain.ZoomGesture{}
	}
}

func (c *StreamController) PinchBegin() {
	res := c.session.Resource()
	if c.closed || !c.pinchEnabled || res == nil {
		return
	}
	c.gesture = domain.ZoomGesture{Baseline: res.ZoomRatio(), Active: true}
}

func (c *StreamController) PinchUpdate(scale float64) {
	res := c.session.Resource()
	if c.closed || !c.pinchEnabled || !c.gesture.Active || res == nil || scale <= 0 {
		return
	}
	c.setZoom(res, PinchZoom(c.gesture.Baseline, scale))
}

func (c *StreamController) PinchEnd() {
	c.gesture = domain.ZoomGesture{}
}

// SetCamera switches the facing direction. Setting the current one is a no-op.
func (c *StreamController) SetCamera(position string) {
	if c.closed {
		return
	}
	if err := validation.ValidateCameraPosition(position); err != nil {
		c.emitter.ConfigurationError(fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err))
		return
	}
	pos := domain.CameraPosition(position)
	if pos == c.camera {
		return
	}
	c.camera = pos
	if res := c.session.Resource(); res != nil && c.acquired {
		if err := res.SetCamera(pos); err != nil {
			c.emitter.ConfigurationError(fmt.Errorf("%w: %v", domain.ErrCameraUnavailable, err))
		}
	}
}

func (c *StreamController) SetMuted(muted bool) {
	if c.closed || muted == c.muted {
		return
	}
	c.muted = muted
	if res := c.session.Resource(); res != nil && c.acquired {
		res.SetMuted(muted)
	}
}

// SetLayout records the preview surface size. The first non-empty layout
// starts initialization.
func (c *StreamController) SetLayout(width, height int) {
	if c.closed {
		return
	}
	c.surface = domain.Surface{Width: width, Height: height}
	if !c.surface.Laid() || c.session.State() != domain.StateUninitialized || c.session.Initializing() {
		return
	}
	c.prepare(c.logBackground("layout"))
}

func (c *StreamController) SetOrientation(o domain.Orientation) {
	if c.closed {
		return
	}
	c.orientation = o
}

// HostResume restarts the preview and reapplies audio after the host app
// returns to the foreground.
func (c *StreamController) HostResume() {
	if c.closed {
		return
	}
	res := c.session.Resource()
	if res == nil {
		if c.surface.Laid() && c.session.State() == domain.StateUninitialized && !c.session.Initializing() {
			c.prepare(c.logBackground("resume"))
		}
		return
	}
	if !c.acquired {
		c.acquire(c.logBackground("resume"))
		return
	}
	if c.oracle.Check(domain.PermissionCamera) {
		if err := res.StartPreview(); err != nil {
			c.logger.Warnw("Restarting preview failed", "error", err)
		}
	}
	if c.oracle.Check(domain.PermissionMicrophone) {
		c.reapplyAudio(res)
	}
}

// HostPause stops streaming and the preview.
func (c *StreamController) HostPause() {
	if c.closed {
		return
	}
	c.StopStreaming()
	if res := c.session.Resource(); res != nil {
		res.StopPreview()
	}
}

// logBackground handles the outcome of a preparation nobody waits on.
// Permission outcomes were already emitted.
func (c *StreamController) logBackground(trigger string) func(error) {
	return func(err error) {
		switch {
		case err == nil:
			c.logger.Debugw("View prepared", "trigger", trigger)
		case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrRationaleNeeded):
		case errors.Is(err, domain.ErrInvalidConfiguration), errors.Is(err, domain.ErrCameraUnavailable):
			c.emitter.ConfigurationError(err)
		default:
			c.logger.Warnw("View preparation failed", "trigger", trigger, "error", err)
		}
	}
}

// OnConnectionSuccess, OnConnectionFailed and OnDisconnect implement
// ports.ConnectionListener.
func (c *StreamController) OnConnectionSuccess() {
	c.exec.Post(func() {
		if c.closed {
			return
		}
		c.emitter.ConnectionSuccess()
	})
}

func (c *StreamController) OnConnectionFailed(reason string) {
	c.exec.Post(func() {
		if c.closed {
			return
		}
		c.session.MarkStopped()
		c.emitter.ConnectionFailed(reason)
	})
}

func (c *StreamController) OnDisconnect() {
	c.exec.Post(func() {
		if c.closed {
			return
		}
		c.session.MarkStopped()
		c.emitter.Disconnected()
	})
}

// Close tears the view down. Pending retries are cancelled, the stream is
// stopped, and nothing is emitted afterwards.
func (c *StreamController) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	c.startSeq++
	c.rationale = nil
	c.acqWaiters = nil
	c.emitter.Close()
	if c.ownNegotiator {
		c.negotiator.Close()
	}

	if c.session.State() == domain.StateStreaming {
		c.session.Resource().StopStreaming()
	}
	c.session.Release()
}

func (c *StreamController) Snapshot() domain.ViewSnapshot {
	snap := domain.ViewSnapshot{
		ViewTag:      c.tag,
		State:        c.session.State().String(),
		Tier:         c.cfg.Tier.String(),
		Zoom:         c.zoom,
		PinchEnabled: c.pinchEnabled,
		Camera:       c.camera,
		Muted:        c.muted,
		VideoOnly:    c.videoOnly,
		Orientation:  c.orientation,
		Profile:      c.effective,
	}
	if res := c.session.Resource(); res != nil {
		snap.Zoom = res.ZoomRatio()
	}
	if err := c.session.Failure(); err != nil {
		snap.FailureReason = err.Error()
	}
	if c.pending != nil {
		p := *c.pending
		snap.PendingStart = &p
	}
	return snap
}
