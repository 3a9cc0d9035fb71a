package services

import (
	"errors"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// fakeOracle holds dialogs open until the test answers them.
type fakeOracle struct {
	granted map[domain.PermissionID]bool
	dialogs []*fakeDialog
}

type fakeDialog struct {
	perms    []domain.PermissionID
	callback func(ports.PermissionResult)
	answered bool
}

func newFakeOracle(granted ...domain.PermissionID) *fakeOracle {
	o := &fakeOracle{granted: make(map[domain.PermissionID]bool)}
	for _, p := range granted {
		o.granted[p] = true
	}
	return o
}

func (o *fakeOracle) Check(p domain.PermissionID) bool { return o.granted[p] }

func (o *fakeOracle) Request(perms []domain.PermissionID, cb func(ports.PermissionResult)) {
	o.dialogs = append(o.dialogs, &fakeDialog{perms: perms, callback: cb})
}

// answer resolves dialog i; permissions absent from statuses are granted.
func (o *fakeOracle) answer(i int, statuses map[domain.PermissionID]domain.PermissionStatus) {
	d := o.dialogs[i]
	result := ports.PermissionResult{}
	for _, p := range d.perms {
		status, ok := statuses[p]
		if !ok {
			status = domain.PermissionGranted
		}
		result[p] = status
		if status == domain.PermissionGranted {
			o.granted[p] = true
		}
	}
	d.answered = true
	d.callback(result)
}

func (o *fakeOracle) grantAll(i int) { o.answer(i, nil) }

// fakeResource records what the controller asks of it.
type fakeResource struct {
	listener ports.ConnectionListener

	videoConfigs []domain.VideoProfile
	audioConfigs []domain.AudioProfile
	videoBitrate int
	audioBitrate int

	videoErr error
	audioErr error
	startErr error

	previewing   bool
	previewStart int
	streaming    bool
	streamKey    string
	streamURL    string
	stops        int

	zoom, zoomMin, zoomMax float64
	camera                 domain.CameraPosition
	muted                  bool
	released               bool
}

func newFakeResource() *fakeResource {
	return &fakeResource{zoom: 1, zoomMin: 1, zoomMax: 8, camera: domain.CameraBack}
}

func (r *fakeResource) ConfigureAudio(p domain.AudioProfile) error {
	if r.audioErr != nil {
		return r.audioErr
	}
	r.audioConfigs = append(r.audioConfigs, p)
	return nil
}

func (r *fakeResource) ConfigureVideo(p domain.VideoProfile) error {
	if r.videoErr != nil {
		return r.videoErr
	}
	r.videoConfigs = append(r.videoConfigs, p)
	return nil
}

func (r *fakeResource) SetAudioBitrate(b int) error { r.audioBitrate = b; return nil }
func (r *fakeResource) SetVideoBitrate(b int) error { r.videoBitrate = b; return nil }

func (r *fakeResource) StartPreview() error {
	r.previewing = true
	r.previewStart++
	return nil
}

func (r *fakeResource) StopPreview() { r.previewing = false }

func (r *fakeResource) StartStreaming(key, url string) error {
	if r.startErr != nil {
		return r.startErr
	}
	if key == "" {
		return errors.New("stream key is required")
	}
	r.streaming = true
	r.streamKey = key
	r.streamURL = url
	return nil
}

func (r *fakeResource) StopStreaming() {
	r.streaming = false
	r.stops++
}

func (r *fakeResource) SetZoomRatio(z float64)        { r.zoom = z }
func (r *fakeResource) ZoomRatio() float64            { return r.zoom }
func (r *fakeResource) ZoomRange() (float64, float64) { return r.zoomMin, r.zoomMax }
func (r *fakeResource) SetMuted(m bool)               { r.muted = m }
func (r *fakeResource) Release()                      { r.released = true }

func (r *fakeResource) SetCamera(p domain.CameraPosition) error {
	r.camera = p
	return nil
}

// MockResourceFactory is a testify mock for ports.ResourceFactory.
type MockResourceFactory struct {
	mock.Mock
}

func (m *MockResourceFactory) Create(surface domain.Surface, listener ports.ConnectionListener) (ports.Resource, error) {
	args := m.Called(surface, listener)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if r, ok := args.Get(0).(*fakeResource); ok {
		r.listener = listener
	}
	return args.Get(0).(ports.Resource), args.Error(1)
}

// recordingSink keeps delivered events in order.
type recordingSink struct {
	events []domain.Event
}

func (s *recordingSink) Deliver(e domain.Event) { s.events = append(s.events, e) }

func (s *recordingSink) ofType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// startResults returns the start results for requestID.
func (s *recordingSink) startResults(requestID int) []domain.Event {
	var out []domain.Event
	for _, e := range s.ofType(domain.EventStartStreamingResult) {
		if e.RequestID != nil && *e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}
