package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/internal/core/services"
	httphandlers "camstream/internal/handlers/http"
	"camstream/internal/infrastructure/bridge"
	"camstream/internal/infrastructure/device"
	"camstream/internal/infrastructure/distributed"
	"camstream/internal/infrastructure/loop"
	"camstream/internal/infrastructure/middleware"
	"camstream/internal/infrastructure/monitoring"
	"camstream/pkg/config"
	dlock "camstream/pkg/distributed"
	"camstream/pkg/logger"
	"camstream/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const healthInterval = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	issueToken := flag.String("issue-token", "", "print a bridge token for this host id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "camstreamd: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	if cfg.Logging.Format == "console" {
		zapLogger = logger.NewConsole(cfg.Logging.Level)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	var authService services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	}
	if *issueToken != "" {
		if authService == nil {
			log.Fatal("auth is disabled, no token to issue")
		}
		token, err := authService.GenerateToken(*issueToken)
		if err != nil {
			log.Fatalw("Failed to issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	if err := run(cfg, authService, log); err != nil {
		log.Fatalw("camstreamd failed", "error", err)
	}
}

func run(cfg *config.Config, authService services.AuthService, log *zap.SugaredLogger) error {
	instanceID := uuid.New().String()
	log = log.With("instance_id", instanceID)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "camstream",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	tier := services.ClassifyTier(services.DeviceInfo{
		Platform:  cfg.Device.Platform,
		APILevel:  cfg.Device.APILevel,
		OSVersion: cfg.Device.OSVersion,
		LowPower:  cfg.Device.LowPower,
	})
	profile := services.Select(tier, domain.CapabilityProfile{
		Audio: domain.AudioProfile{
			Bitrate:      cfg.Profiles.Audio.Bitrate,
			SampleRate:   cfg.Profiles.Audio.SampleRate,
			ChannelCount: cfg.Profiles.Audio.ChannelCount,
		},
		Video: domain.VideoProfile{
			Bitrate:                 cfg.Profiles.Video.Bitrate,
			Width:                   cfg.Profiles.Video.Width,
			Height:                  cfg.Profiles.Video.Height,
			FPS:                     cfg.Profiles.Video.FPS,
			KeyframeIntervalSeconds: cfg.Profiles.Video.KeyframeInterval,
		},
	})
	log.Infow("Device classified",
		"platform", cfg.Device.Platform,
		"api_level", cfg.Device.APILevel,
		"tier", tier.String(),
		"video", fmt.Sprintf("%dx%d@%.0f", profile.Video.Width, profile.Video.Height, profile.Video.FPS),
	)

	health := monitoring.NewHealthChecker()

	var busSink ports.EventSink
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = distributed.NewRedisClient(ctx, distributed.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log.Named("redis"))
		if err != nil {
			return err
		}
		defer redisClient.Close()

		bus := distributed.NewEventBus(redisClient, cfg.Redis.Channel, instanceID, log.Named("bus"))
		busSink = bus
		health.AddRedisCheck(redisClient, healthInterval, 2*time.Second)

		g.Go(func() error { return bus.Run(ctx) })
		g.Go(func() error {
			err := bus.Subscribe(ctx, func(env distributed.Envelope) {
				log.Debugw("Remote view event",
					"from", env.InstanceID,
					"type", env.Event.Type,
					"view_tag", env.Event.ViewTag,
				)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	rtmpPublisher := device.NewRTMPPublisher(device.PublisherConfig{
		DialTimeout:      cfg.Ingest.DialTimeout,
		DialAttempts:     cfg.Ingest.DialAttempts,
		DialBaseDelay:    cfg.Ingest.DialBaseDelay,
		ChunkSize:        cfg.Ingest.ChunkSize,
		BreakerFailures:  cfg.Ingest.BreakerFailures,
		BreakerTimeout:   cfg.Ingest.BreakerTimeout,
		LivenessInterval: cfg.Ingest.LivenessInterval,
	}, log.Named("ingest"))
	var publisher device.Publisher = rtmpPublisher
	if redisClient != nil && cfg.Ingest.KeyLockTTL > 0 {
		locks := dlock.NewLockManager(redisClient, "camstream:ingest:", cfg.Ingest.KeyLockTTL)
		publisher = device.NewLockedPublisher(rtmpPublisher, locks, log.Named("ingest"))
	}
	factory := device.NewFactory(device.FactoryConfig{
		CameraAvailable:  cfg.Device.CameraAvailable,
		MicrophoneFaulty: cfg.Device.MicrophoneFaulty,
		MinZoom:          cfg.Device.MinZoom,
		MaxZoom:          cfg.Device.MaxZoom,
	}, publisher, log.Named("device"))
	policy, err := device.PolicyFromNames(cfg.Permissions.Granted, cfg.Permissions.OnRequest, cfg.Permissions.Rationale, cfg.Permissions.Denied)
	if err != nil {
		return fmt.Errorf("permissions: %w", err)
	}

	var metrics ports.MetricsRecorder = ports.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	// The bridge is built after the registry it serves; views only emit
	// events once a host has reached them through it.
	var hub *bridge.Server
	sinks := ports.MultiSink{
		ports.EventSinkFunc(func(ev domain.Event) { hub.Deliver(ev) }),
		ports.EventSinkFunc(func(ev domain.Event) {
			log.Debugw("View event", "type", ev.Type, "view_tag", ev.ViewTag, "error", ev.Error)
		}),
	}
	if busSink != nil {
		sinks = append(sinks, busSink)
	}

	exec := loop.New("views", log.Named("loop"))
	views := services.NewViewManager(exec, services.RegistryConfig{
		LookupAttempts:  cfg.Registry.LookupAttempts,
		LookupBaseDelay: cfg.Registry.LookupBaseDelay,
		TombstoneTTL:    cfg.Registry.TombstoneTTL,
	}, services.ControllerConfig{
		Tier:       tier,
		DefaultURL: cfg.Ingest.DefaultURL,
		Profile:    profile,
		Session: services.SessionConfig{
			InitRetryDelay:  cfg.Session.InitRetryDelay,
			InitMaxAttempts: cfg.Session.InitMaxAttempts,
		},
		PinchZoomEnabled: true,
	}, services.ControllerDeps{
		Factory: factory,
		Oracle:  device.NewStaticOracle(policy),
		Sink:    sinks,
		Metrics: metrics,
		Logger:  log.Named("views"),
	})

	hub = bridge.NewServer(bridge.Config{
		PingInterval:   cfg.Bridge.PingInterval,
		PongTimeout:    cfg.Bridge.PongTimeout,
		WriteTimeout:   cfg.Bridge.WriteTimeout,
		SendBuffer:     cfg.Bridge.SendBuffer,
		AllowedOrigins: cfg.Bridge.AllowedOrigins,
		NewLimiter:     func() *rate.Limiter { return middleware.NewBridgeLimiter(cfg) },
	}, views, authService, log.Named("bridge"))

	health.AddIngestCheck(rtmpPublisher.BreakerState, healthInterval, time.Second)
	health.AddLoopCheck(exec, healthInterval, 2*time.Second)
	health.StartBackgroundChecks(ctx)

	router := newRouter(cfg, log, views, hub, health, authService)
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		log.Infow("Starting camstream server", "address", cfg.Server.Address, "bridge", cfg.Bridge.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down camstream server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			_ = srv.Close()
		}
		if err := views.Close(shutdownCtx); err != nil {
			log.Errorw("Error releasing views", "error", err)
		}
		exec.Close()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down tracer", "error", err)
		}
		return nil
	})

	err = g.Wait()
	log.Infow("camstream server stopped", "dropped_bridge_events", hub.Dropped())
	return err
}

func newRouter(
	cfg *config.Config,
	log *zap.SugaredLogger,
	views ports.ViewCommands,
	hub *bridge.Server,
	health *monitoring.HealthChecker,
	authService services.AuthService,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	httphandlers.NewHealthHandler(health, hub.ConnectionCount).SetupRoutes(router)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	router.GET(cfg.Bridge.Path, gin.WrapF(hub.HandleWebSocket))

	api := router.Group("/api/v1")
	if authService != nil {
		api.Use(middleware.AuthMiddleware(authService))
		httphandlers.NewAuthHandler(authService, cfg.Auth.TokenTTL).SetupRoutes(api)
	}
	httphandlers.NewViewHandler(views).SetupRoutes(api)
	return router
}
