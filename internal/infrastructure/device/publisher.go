package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"camstream/pkg/circuitbreaker"
	"camstream/pkg/retry"
	"camstream/pkg/tracing"

	rtmp "github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultRTMPPort = "1935"
	flashVersion    = "FMLE/3.0 (compatible; camstream)"
)

var (
	ErrDialTimeout = errors.New("ingest dial timeout")
	// ErrIngestRejected marks a command the ingest answered with a refusal,
	// such as an unknown app or stream key. The server is up, so it is not
	// retried and does not count against the breaker.
	ErrIngestRejected = errors.New("ingest rejected")
)

// Publication is one live publish session on an ingest server.
type Publication interface {
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
	Close() error
}

// Publisher opens publish sessions for stream keys.
type Publisher interface {
	Publish(ctx context.Context, ingestURL, streamKey string) (Publication, error)
}

type PublisherConfig struct {
	DialTimeout     time.Duration
	DialAttempts    int
	DialBaseDelay   time.Duration
	ChunkSize       uint32
	BreakerFailures int
	BreakerTimeout  time.Duration
	// LivenessInterval is how often an open session checks whether the
	// ingest dropped the connection.
	LivenessInterval time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		DialTimeout:      5 * time.Second,
		DialAttempts:     3,
		DialBaseDelay:    500 * time.Millisecond,
		ChunkSize:        128,
		BreakerFailures:  5,
		BreakerTimeout:   30 * time.Second,
		LivenessInterval: time.Second,
	}
}

// RTMPPublisher publishes to RTMP ingest servers. Dials are retried with
// exponential backoff behind a shared circuit breaker.
type RTMPPublisher struct {
	cfg     PublisherConfig
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewRTMPPublisher(cfg PublisherConfig, logger *zap.SugaredLogger) *RTMPPublisher {
	bcfg := circuitbreaker.DefaultConfig()
	bcfg.FailureThreshold = cfg.BreakerFailures
	if cfg.BreakerTimeout > 0 {
		bcfg.Timeout = cfg.BreakerTimeout
	}
	bcfg.ExcludedErrors = []error{ErrIngestRejected}
	if cfg.LivenessInterval <= 0 {
		cfg.LivenessInterval = time.Second
	}

	p := &RTMPPublisher{
		cfg:     cfg,
		breaker: circuitbreaker.New(bcfg),
		logger:  logger,
	}
	p.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Ingest circuit breaker state changed", "from", from.String(), "to", to.String())
	})
	return p
}

// BreakerState exposes the dial breaker for health checks.
func (p *RTMPPublisher) BreakerState() circuitbreaker.State {
	return p.breaker.GetState()
}

type ingestTarget struct {
	addr  string
	app   string
	tcURL string
}

func parseIngestURL(raw string) (ingestTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ingestTarget{}, fmt.Errorf("invalid ingest URL: %w", err)
	}
	if u.Scheme != "rtmp" {
		return ingestTarget{}, fmt.Errorf("unsupported ingest scheme %q", u.Scheme)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), defaultRTMPPort)
	}
	return ingestTarget{
		addr:  addr,
		app:   strings.Trim(u.Path, "/"),
		tcURL: raw,
	}, nil
}

func (p *RTMPPublisher) Publish(ctx context.Context, ingestURL, streamKey string) (Publication, error) {
	ctx, span := tracing.TraceIngest(ctx, "publish", ingestURL)
	defer span.End()
	start := time.Now()
	defer tracing.MeasureDuration(ctx, start, "ingest.publish")

	target, err := parseIngestURL(ingestURL)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	rcfg := retry.DefaultConfig()
	rcfg.MaxAttempts = p.cfg.DialAttempts - 1
	rcfg.InitialDelay = p.cfg.DialBaseDelay
	rcfg.NonRetryableErrors = []error{circuitbreaker.ErrOpen, context.Canceled, ErrIngestRejected}

	attempt := 0
	pub, err := retry.RetryWithResult(ctx, rcfg, func() (*rtmpPublication, error) {
		attempt++
		var pub *rtmpPublication
		err := p.breaker.Execute(ctx, func() error {
			var dialErr error
			pub, dialErr = p.handshake(ctx, target, streamKey)
			return dialErr
		})
		if err != nil {
			p.logger.Debugw("Ingest dial failed", "addr", target.addr, "attempt", attempt, "error", err)
		}
		return pub, err
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	tracing.AddSpanAttributes(ctx, attribute.Int("ingest.attempts", attempt))
	p.logger.Infow("Publishing to ingest", "addr", target.addr, "app", target.app, "attempts", attempt)
	go pub.watch(p.cfg.LivenessInterval)
	return pub, nil
}

// handshake dials, connects, creates a stream and issues publish. The
// connection is closed if ctx ends first. Dial failures are transport
// errors; a failed command after a good dial is ErrIngestRejected.
func (p *RTMPPublisher) handshake(ctx context.Context, target ingestTarget, streamKey string) (*rtmpPublication, error) {
	handler := newClientHandler()
	client, err := p.dial(ctx, target.addr, handler)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	fail := func(step string, err error) (*rtmpPublication, error) {
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: rtmp %s: %v", ErrIngestRejected, step, err)
	}

	if err := client.Connect(&rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      target.app,
			Type:     "nonprivate",
			FlashVer: flashVersion,
			TCURL:    target.tcURL,
		},
	}); err != nil {
		return fail("connect", err)
	}

	stream, err := client.CreateStream(nil, p.cfg.ChunkSize)
	if err != nil {
		return fail("create stream", err)
	}

	if err := stream.Publish(&rtmpmsg.NetStreamPublish{
		PublishingName: streamKey,
		PublishingType: "live",
	}); err != nil {
		return fail("publish", err)
	}
	return &rtmpPublication{client: client, handler: handler, logger: p.logger}, nil
}

type dialResult struct {
	client *rtmp.ClientConn
	err    error
}

func (p *RTMPPublisher) dial(ctx context.Context, addr string, handler rtmp.Handler) (*rtmp.ClientConn, error) {
	ch := make(chan dialResult, 1)
	go func() {
		c, err := rtmp.Dial("rtmp", addr, &rtmp.ConnConfig{Handler: handler})
		ch <- dialResult{client: c, err: err}
	}()

	timer := time.NewTimer(p.cfg.DialTimeout)
	defer timer.Stop()

	abandon := func() {
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("rtmp dial %s: %w", addr, r.err)
		}
		return r.client, nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%w: %s", ErrDialTimeout, addr)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// clientHandler reports the end of the client connection.
type clientHandler struct {
	rtmp.DefaultHandler
	closed chan struct{}
	once   sync.Once
}

func newClientHandler() *clientHandler {
	return &clientHandler{closed: make(chan struct{})}
}

func (h *clientHandler) OnClose() {
	h.once.Do(func() { close(h.closed) })
}

type rtmpPublication struct {
	client    *rtmp.ClientConn
	handler   *clientHandler
	logger    *zap.SugaredLogger
	closeOnce sync.Once
}

func (p *rtmpPublication) Done() <-chan struct{} { return p.handler.closed }

func (p *rtmpPublication) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.client.Close()
	})
	p.handler.OnClose()
	return err
}

// watch ends the session when the client read loop stops, which is how a
// connection dropped by the ingest shows up.
func (p *rtmpPublication) watch(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.handler.closed:
			_ = p.Close()
			return
		case <-ticker.C:
			if err := p.client.LastError(); err != nil {
				p.logger.Infow("Ingest session ended", "error", err)
				_ = p.Close()
				return
			}
		}
	}
}
