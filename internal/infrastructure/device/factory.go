package device

import (
	"errors"
	"fmt"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"

	"go.uber.org/zap"
)

var ErrNoCamera = errors.New("no camera available")

type FactoryConfig struct {
	CameraAvailable  bool
	MicrophoneFaulty bool
	MinZoom          float64
	MaxZoom          float64
}

// Factory builds Capture resources that share one Publisher.
type Factory struct {
	cfg       FactoryConfig
	publisher Publisher
	logger    *zap.SugaredLogger
}

func NewFactory(cfg FactoryConfig, publisher Publisher, logger *zap.SugaredLogger) *Factory {
	return &Factory{cfg: cfg, publisher: publisher, logger: logger}
}

func (f *Factory) Create(surface domain.Surface, listener ports.ConnectionListener) (ports.Resource, error) {
	if !f.cfg.CameraAvailable {
		return nil, ErrNoCamera
	}
	if !surface.Laid() {
		return nil, fmt.Errorf("preview surface %dx%d is not laid out", surface.Width, surface.Height)
	}

	f.logger.Debugw("Creating capture", "width", surface.Width, "height", surface.Height)
	return &Capture{
		logger:    f.logger.With("surface", fmt.Sprintf("%dx%d", surface.Width, surface.Height)),
		publisher: f.publisher,
		listener:  listener,
		surface:   surface,
		micFaulty: f.cfg.MicrophoneFaulty,
		zoom:      f.cfg.MinZoom,
		minZoom:   f.cfg.MinZoom,
		maxZoom:   f.cfg.MaxZoom,
		camera:    domain.CameraBack,
	}, nil
}
