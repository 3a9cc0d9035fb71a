package services

import (
	"errors"
	"testing"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/infrastructure/loop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testIngestURL = "rtmp://ingest.example.com/live"

var testProfile = domain.CapabilityProfile{
	Audio: domain.AudioProfile{Bitrate: 128_000, SampleRate: 44100, ChannelCount: 2},
	Video: domain.VideoProfile{Bitrate: 1_500_000, Width: 1280, Height: 720, FPS: 30, KeyframeIntervalSeconds: 1},
}

type controllerHarness struct {
	exec    *loop.Manual
	oracle  *fakeOracle
	factory *MockResourceFactory
	res     *fakeResource
	sink    *recordingSink
	ctrl    *StreamController
}

func newControllerHarness(t *testing.T, tier domain.DeviceTier, granted ...domain.PermissionID) *controllerHarness {
	t.Helper()
	h := &controllerHarness{
		exec:    loop.NewManual(),
		oracle:  newFakeOracle(granted...),
		factory: new(MockResourceFactory),
		res:     newFakeResource(),
		sink:    &recordingSink{},
	}
	h.factory.On("Create", mock.Anything, mock.Anything).Return(h.res, nil).Maybe()

	h.ctrl = NewStreamController(3, ControllerConfig{
		Tier:             tier,
		DefaultURL:       testIngestURL,
		Profile:          testProfile,
		Session:          DefaultSessionConfig(),
		PinchZoomEnabled: true,
	}, ControllerDeps{
		Exec:    h.exec,
		Factory: h.factory,
		Oracle:  h.oracle,
		Sink:    h.sink,
		Logger:  zap.NewNop().Sugar(),
		Now:     h.exec.Now,
	})
	return h
}

func (h *controllerHarness) layout() {
	h.ctrl.SetLayout(720, 1280)
	h.exec.RunPending()
}

func (h *controllerHarness) streaming(t *testing.T) {
	t.Helper()
	h.layout()
	h.ctrl.StartStreaming(1, "stream-key", "")
	h.exec.RunPending()
	require.Equal(t, domain.StateStreaming, h.ctrl.State())
}

func assertOneResult(t *testing.T, sink *recordingSink, requestID int, success bool) domain.Event {
	t.Helper()
	results := sink.startResults(requestID)
	require.Len(t, results, 1, "exactly one result for request %d", requestID)
	require.NotNil(t, results[0].Success)
	assert.Equal(t, success, *results[0].Success)
	return results[0]
}

func TestController_ColdStartWaitsForLayout(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)

	h.ctrl.StartStreaming(7, "stream-key", "")
	h.exec.Advance(300 * time.Millisecond)
	assert.Empty(t, h.sink.startResults(7))

	h.ctrl.SetLayout(720, 1280)
	h.exec.Advance(100 * time.Millisecond)

	assertOneResult(t, h.sink, 7, true)
	assert.Equal(t, domain.StateStreaming, h.ctrl.State())
	assert.Equal(t, testIngestURL, h.res.streamURL, "default ingest URL applies")
	assert.True(t, h.res.previewing)

	h.exec.Advance(10 * time.Second)
	assert.Len(t, h.sink.startResults(7), 1)
	h.factory.AssertNumberOfCalls(t, "Create", 1)
}

func TestController_NeverLaidOutFailsOnce(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)

	h.ctrl.StartStreaming(8, "stream-key", testIngestURL)
	h.exec.Advance(5 * time.Second)

	ev := assertOneResult(t, h.sink, 8, false)
	assert.Equal(t, "initialization timeout", ev.Error)
	assert.Equal(t, domain.StateFailed, h.ctrl.State())

	h.exec.Advance(time.Minute)
	assert.Len(t, h.sink.startResults(8), 1)

	// stored reason is replayed
	h.ctrl.StartStreaming(9, "stream-key", testIngestURL)
	ev = assertOneResult(t, h.sink, 9, false)
	assert.Equal(t, "initialization timeout", ev.Error)
}

func TestController_RejectedStartStaysReady(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.layout()

	h.ctrl.StartStreaming(1, "", testIngestURL)
	ev := assertOneResult(t, h.sink, 1, false)
	assert.Contains(t, ev.Error, "stream start rejected")
	assert.Equal(t, domain.StateReady, h.ctrl.State())

	h.ctrl.StartStreaming(2, "fixed-key", testIngestURL)
	assertOneResult(t, h.sink, 2, true)
	assert.Equal(t, testIngestURL, h.res.streamURL)
}

func TestController_StartWhileStreamingFails(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.streaming(t)

	h.ctrl.StartStreaming(2, "stream-key", "")
	ev := assertOneResult(t, h.sink, 2, false)
	assert.Equal(t, domain.ErrAlreadyStreaming.Error(), ev.Error)
	assert.Equal(t, domain.StateStreaming, h.ctrl.State())
}

func TestController_StopIsIdempotent(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.streaming(t)

	h.ctrl.StopStreaming()
	assert.Equal(t, domain.StateReady, h.ctrl.State())
	h.ctrl.StopStreaming()
	assert.Equal(t, domain.StateReady, h.ctrl.State())
	assert.Equal(t, 1, h.res.stops)
}

func TestController_StopCancelsPendingStart(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)

	h.ctrl.StartStreaming(4, "stream-key", "")
	h.exec.Advance(100 * time.Millisecond)
	h.ctrl.StopStreaming()

	ev := assertOneResult(t, h.sink, 4, false)
	assert.Equal(t, domain.ErrStartCancelled.Error(), ev.Error)

	h.ctrl.SetLayout(720, 1280)
	h.exec.Advance(time.Second)
	assert.Len(t, h.sink.startResults(4), 1)
	assert.False(t, h.res.streaming)
	assert.Equal(t, domain.StateReady, h.ctrl.State())
}

func TestController_TeardownSilencesPendingRetry(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)

	h.ctrl.StartStreaming(5, "stream-key", "")
	h.exec.Advance(200 * time.Millisecond)
	h.ctrl.Close()

	h.ctrl.SetLayout(720, 1280)
	h.exec.Advance(10 * time.Second)

	assert.Empty(t, h.sink.events)
	assert.Equal(t, 0, h.exec.PendingTimers())
	h.factory.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestController_TeardownStopsStreamAndIgnoresLateCallbacks(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.streaming(t)
	before := len(h.sink.events)

	h.ctrl.Close()
	assert.False(t, h.res.streaming)
	assert.True(t, h.res.released)

	h.res.listener.OnDisconnect()
	h.exec.RunPending()
	assert.Len(t, h.sink.events, before)
}

func TestController_MidStreamOnlyBitrateChanges(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.streaming(t)
	configs := len(h.res.videoConfigs)

	faster := testProfile.Video
	faster.Bitrate = 2_500_000
	h.ctrl.ConfigureVideo(faster)
	assert.Equal(t, 2_500_000, h.res.videoBitrate)
	assert.Empty(t, h.sink.ofType(domain.EventConfigurationError))

	bigger := testProfile.Video
	bigger.Width, bigger.Height = 1920, 1080
	h.ctrl.ConfigureVideo(bigger)
	require.Len(t, h.sink.ofType(domain.EventConfigurationError), 1)
	assert.Len(t, h.res.videoConfigs, configs, "resolution never applied mid-stream")

	louder := testProfile.Audio
	louder.Bitrate = 192_000
	h.ctrl.ConfigureAudio(louder)
	assert.Equal(t, 192_000, h.res.audioBitrate)

	mono := testProfile.Audio
	mono.ChannelCount = 1
	h.ctrl.ConfigureAudio(mono)
	assert.Len(t, h.sink.ofType(domain.EventConfigurationError), 2)
}

func TestController_InvalidProfileEmitsConfigurationError(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.layout()

	bad := testProfile.Video
	bad.FPS = 0
	h.ctrl.ConfigureVideo(bad)

	errs := h.sink.ofType(domain.EventConfigurationError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "fps")
	assert.Equal(t, 3, errs[0].ViewTag)
}

func TestController_ConstrainedTierAudioFailureContinuesVideoOnly(t *testing.T) {
	h := newControllerHarness(t, domain.TierConstrained, camera, microphone)
	h.res.audioErr = errors.New("AudioRecord init failed")

	h.layout()
	h.ctrl.StartStreaming(1, "stream-key", "")

	assertOneResult(t, h.sink, 1, true)
	assert.Empty(t, h.sink.ofType(domain.EventConfigurationError))
	assert.True(t, h.ctrl.Snapshot().VideoOnly)

	h.factory.AssertCalled(t, "Create", ConstrainedPreviewSurface, mock.Anything)
	require.NotEmpty(t, h.res.videoConfigs)
	applied := h.res.videoConfigs[0]
	assert.Equal(t, 1280, applied.Width)
	assert.Equal(t, 960, applied.Height)
	assert.Equal(t, 16.0, applied.FPS)
	assert.Equal(t, testProfile.Video.Bitrate, applied.Bitrate)
}

func TestController_DefaultTierAudioFailureIsResourceError(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.res.audioErr = errors.New("microphone busy")

	h.layout()
	h.ctrl.StartStreaming(1, "stream-key", "")

	ev := assertOneResult(t, h.sink, 1, false)
	assert.Contains(t, ev.Error, "microphone busy")
	assert.Empty(t, h.sink.ofType(domain.EventPermissionsDenied), "not a permission error")
	assert.Equal(t, domain.StateReady, h.ctrl.State())
}

func TestController_RationaleThenProceed(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault)

	h.layout()
	require.Len(t, h.oracle.dialogs, 1)
	h.ctrl.StartStreaming(1, "stream-key", "")
	h.exec.RunPending()
	require.Len(t, h.oracle.dialogs, 1, "start joins the open acquisition")

	h.oracle.answer(0, map[domain.PermissionID]domain.PermissionStatus{camera: domain.PermissionRationale})
	h.exec.RunPending()

	rationale := h.sink.ofType(domain.EventPermissionsRationale)
	require.Len(t, rationale, 1)
	assert.Equal(t, []string{"camera"}, rationale[0].Missing)
	assertOneResult(t, h.sink, 1, false)
	assert.False(t, h.res.previewing)

	h.ctrl.ProceedAfterRationale()
	h.exec.RunPending()
	require.Len(t, h.oracle.dialogs, 2)
	h.oracle.grantAll(1)
	h.exec.RunPending()

	assert.True(t, h.res.previewing)
	assert.Len(t, h.sink.startResults(1), 1, "continuation does not start the stream")
	assert.False(t, h.res.streaming)

	h.ctrl.StartStreaming(2, "stream-key", "")
	assertOneResult(t, h.sink, 2, true)
}

func TestController_DeniedPermissions(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera)

	h.ctrl.SetLayout(720, 1280)
	h.ctrl.StartStreaming(1, "stream-key", "")
	h.exec.RunPending()
	require.Len(t, h.oracle.dialogs, 1)
	assert.Equal(t, []domain.PermissionID{microphone}, h.oracle.dialogs[0].perms)

	h.oracle.answer(0, map[domain.PermissionID]domain.PermissionStatus{microphone: domain.PermissionDenied})
	h.exec.RunPending()

	denied := h.sink.ofType(domain.EventPermissionsDenied)
	require.Len(t, denied, 1)
	assert.Equal(t, []string{"microphone"}, denied[0].Missing)
	ev := assertOneResult(t, h.sink, 1, false)
	assert.Contains(t, ev.Error, "permission denied")
	assert.Equal(t, domain.StateReady, h.ctrl.State())
}

func TestController_OrientationReappliedOnDefaultTier(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.layout()
	require.Len(t, h.res.videoConfigs, 1)

	h.ctrl.SetOrientation(domain.OrientationLandscapeLeft)
	h.ctrl.StartStreaming(1, "stream-key", "")

	require.Len(t, h.res.videoConfigs, 2)
	assert.Equal(t, h.res.videoConfigs[0], h.res.videoConfigs[1], "reapplied verbatim")

	h.ctrl.StopStreaming()
	h.ctrl.StartStreaming(2, "stream-key", "")
	assert.Len(t, h.res.videoConfigs, 2, "unchanged orientation is not reapplied")
}

func TestController_OrientationIgnoredOnConstrainedTier(t *testing.T) {
	h := newControllerHarness(t, domain.TierConstrained, camera, microphone)
	h.layout()

	h.ctrl.SetOrientation(domain.OrientationLandscapeRight)
	h.ctrl.StartStreaming(1, "stream-key", "")

	assertOneResult(t, h.sink, 1, true)
	assert.Len(t, h.res.videoConfigs, 1)
}

func TestController_PinchZoom(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.layout()

	h.ctrl.SetZoomRatio(2.0)
	h.ctrl.PinchBegin()
	h.ctrl.PinchUpdate(0.5)
	assert.InDelta(t, 1.0, h.res.zoom, 1e-9)
	h.ctrl.PinchUpdate(1.5)
	assert.InDelta(t, 2.5, h.res.zoom, 1e-9)
	h.ctrl.PinchEnd()

	h.ctrl.SetPinchZoomEnabled(false)
	h.ctrl.PinchBegin()
	h.ctrl.PinchUpdate(3)
	assert.InDelta(t, 2.5, h.res.zoom, 1e-9, "disabled gesture is ignored")

	h.ctrl.SetZoomRatio(20)
	assert.Equal(t, 8.0, h.res.zoom, "clamped to the resource range")
}

func TestController_ZoomBeforeResourceIsAppliedOnAcquire(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.ctrl.SetZoomRatio(3)
	h.layout()
	assert.Equal(t, 3.0, h.res.zoom)
}

func TestController_ConnectionEvents(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.streaming(t)

	h.res.listener.OnConnectionSuccess()
	h.exec.RunPending()
	require.Len(t, h.sink.ofType(domain.EventConnectionSuccess), 1)

	h.res.listener.OnConnectionFailed("handshake timeout")
	h.exec.RunPending()
	failed := h.sink.ofType(domain.EventConnectionFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "handshake timeout", failed[0].Reason)
	assert.Equal(t, domain.StateReady, h.ctrl.State())

	h.ctrl.StartStreaming(2, "stream-key", "")
	h.res.listener.OnDisconnect()
	h.exec.RunPending()
	assert.Len(t, h.sink.ofType(domain.EventDisconnected), 1)
	assert.Equal(t, domain.StateReady, h.ctrl.State())
}

func TestController_InitErrorReplayedOnStart(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.factory.ExpectedCalls = nil
	h.factory.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("camera in use"))

	h.layout()
	assert.Equal(t, domain.StateFailed, h.ctrl.State())

	h.ctrl.StartStreaming(1, "stream-key", "")
	ev := assertOneResult(t, h.sink, 1, false)
	assert.Contains(t, ev.Error, "camera in use")
	h.factory.AssertNumberOfCalls(t, "Create", 1)
}

func TestController_CameraAndMute(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.ctrl.SetCamera("front")
	h.ctrl.SetMuted(true)
	h.layout()

	assert.Equal(t, domain.CameraFront, h.res.camera)
	assert.True(t, h.res.muted)

	h.ctrl.SetCamera("sideways")
	assert.Len(t, h.sink.ofType(domain.EventConfigurationError), 1)
	assert.Equal(t, domain.CameraFront, h.res.camera)

	h.ctrl.SetMuted(false)
	assert.False(t, h.res.muted)
}

func TestController_HostPauseAndResume(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	h.streaming(t)

	h.ctrl.HostPause()
	assert.False(t, h.res.streaming)
	assert.False(t, h.res.previewing)
	assert.Equal(t, domain.StateReady, h.ctrl.State())

	h.res.audioErr = errors.New("audio focus lost")
	h.ctrl.HostResume()
	assert.True(t, h.res.previewing)
	assert.True(t, h.ctrl.Snapshot().VideoOnly, "resume swallows audio failures")
	assert.Empty(t, h.sink.ofType(domain.EventConfigurationError))

	h.res.audioErr = nil
	h.ctrl.HostResume()
	assert.False(t, h.ctrl.Snapshot().VideoOnly, "audio comes back on the next resume")
	assert.Empty(t, h.sink.ofType(domain.EventConfigurationError))
}

func TestController_HandleRoutesCommands(t *testing.T) {
	h := newControllerHarness(t, domain.TierDefault, camera, microphone)
	enabled := false

	h.ctrl.Handle(domain.Command{Name: domain.CommandSetLayout, Width: 720, Height: 1280})
	h.ctrl.Handle(domain.Command{Name: domain.CommandSetPinchZoomEnabled, Enabled: &enabled})
	h.ctrl.Handle(domain.Command{Name: domain.CommandSetOrientation, Orientation: "diagonal"})
	h.ctrl.Handle(domain.Command{Name: domain.CommandConfigureVideo})
	h.ctrl.Handle(domain.Command{Name: domain.CommandStartStreaming, RequestID: 11, StreamKey: "k"})

	snap := h.ctrl.Snapshot()
	assert.False(t, snap.PinchEnabled)
	assert.Equal(t, "streaming", snap.State)
	assert.Len(t, h.sink.ofType(domain.EventConfigurationError), 2)
	assertOneResult(t, h.sink, 11, true)
}
