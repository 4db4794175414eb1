package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ocrplatform/extraction-worker/internal/ocrcallback"
	"github.com/ocrplatform/extraction-worker/internal/ocremit"
	"github.com/ocrplatform/extraction-worker/internal/ocrengine"
	"github.com/ocrplatform/extraction-worker/internal/ocrjob"
	"github.com/ocrplatform/extraction-worker/internal/ocrjobctl"
	"github.com/ocrplatform/extraction-worker/internal/ocrjudge"
	"github.com/ocrplatform/extraction-worker/internal/ocrqueue"
	"github.com/ocrplatform/extraction-worker/internal/ocrresolve"
	"github.com/ocrplatform/extraction-worker/internal/ocrstate"
	"github.com/ocrplatform/extraction-worker/internal/ocrtypes"
	"github.com/ocrplatform/extraction-worker/pkg/common"
	"github.com/ocrplatform/extraction-worker/pkg/config"
	"github.com/ocrplatform/extraction-worker/pkg/errors"
	"github.com/ocrplatform/extraction-worker/pkg/health"
	"github.com/ocrplatform/extraction-worker/pkg/logger"
	"github.com/ocrplatform/extraction-worker/pkg/middleware"
	"github.com/ocrplatform/extraction-worker/pkg/ratelimit"
	redisclient "github.com/ocrplatform/extraction-worker/pkg/redis"
	"github.com/ocrplatform/extraction-worker/pkg/tracing"
)

const (
	serviceName = "ocr-extraction-worker"
	version     = "1.0.0"

	// dequeueLoopCount is the number of independent goroutines
	// competing for BRPOP against the same job queue.
	dequeueLoopCount = 4
)

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	defer cfg.Close()

	if err := logger.Init(cfg.Server.Environment); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting OCR extraction worker",
		zap.String("service", serviceName),
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
	)

	sentryConfig := errors.DefaultSentryConfig()
	sentryConfig.ServerName = serviceName
	sentryConfig.Release = version
	if err := errors.InitSentry(sentryConfig); err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", zap.Error(err))
	} else {
		defer errors.Flush(2 * time.Second)
		logger.Info("Sentry error tracking initialized successfully")
	}

	tracerEnabled := os.Getenv("OTEL_ENABLED") == "true"
	if tracerEnabled {
		tracerCfg := tracing.Config{
			ServiceName:    os.Getenv("OTEL_SERVICE_NAME"),
			ServiceVersion: os.Getenv("OTEL_SERVICE_VERSION"),
			Environment:    cfg.Server.Environment,
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Enabled:        true,
		}

		tp, err := tracing.InitTracer(tracerCfg, logger.Get())
		if err != nil {
			logger.Warn("Failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Failed to shutdown tracer", zap.Error(err))
				}
			}()
			logger.Info("OpenTelemetry tracing initialized successfully")
		}
	}

	redisClient, err := redisclient.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}()
	logger.Info("Connected to redis")

	resolver, err := buildResolver(context.Background())
	if err != nil {
		logger.Fatal("Failed to build image resolver", zap.Error(err))
	}
	engines := buildEngineRegistry(context.Background())

	judge := ocrjudge.NewClient(ocrjudge.Config{
		GatewayURL:  cfg.OCR.JudgeGatewayURL,
		AuthHeader1: cfg.OCR.JudgeAuthHeader1,
		AuthValue1:  cfg.OCR.JudgeAuthValue1,
		AuthHeader2: cfg.OCR.JudgeAuthHeader2,
		AuthValue2:  cfg.OCR.JudgeAuthValue2,
		Model:       cfg.OCR.JudgeModel,
	})

	store := ocrstate.NewRedisStore(redisClient)

	controller := ocrjobctl.NewController(resolver, engines, judge, store, ocrjobctl.Config{
		MaxOutputBytes:    cfg.OCR.MaxOutputBytes,
		MinValidChars:     cfg.OCR.MinValidChars,
		MinConfidence:     cfg.OCR.MinConfidence,
		ValidationTTLSecs: cfg.OCR.ValidationTTLSeconds,
	})

	emitter := ocremit.NewEmitter(redisClient, serviceName)

	orchestrator := ocrjob.NewOrchestrator(controller, emitter, ocrjob.Config{
		JobQueueName: cfg.OCR.JobQueueName,
		MaxAttempts:  cfg.OCR.MaxAttempts,
		EnabledTiers: cfg.OCR.EnabledTiers,
	})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	for i := 0; i < dequeueLoopCount; i++ {
		loop := ocrqueue.NewLoop(redisClient, func(ctx context.Context, job ocrtypes.JobEnvelope) {
			orchestrator.Begin(ctx, job)
		}, ocrqueue.Config{
			QueueName:   cfg.OCR.JobQueueName,
			PollTimeout: cfg.OCR.DequeuePollTimeout(),
		})
		go loop.Run(workerCtx)
	}
	logger.Info("Dequeue loops started",
		zap.Int("count", dequeueLoopCount),
		zap.String("queue", cfg.OCR.JobQueueName),
	)

	callbackHandler := ocrcallback.NewHandler(store, orchestrator)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithSentry())
	router.Use(middleware.SentryMiddleware())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(cfg.Timeout.DefaultRequestTimeoutDuration()))
	router.Use(middleware.RequestLogger(serviceName))
	router.Use(middleware.CORS())
	router.Use(middleware.SanitizeRequest())

	if tracerEnabled {
		router.Use(middleware.TracingMiddleware(serviceName))
	}

	router.Use(middleware.ErrorHandler())

	router.GET("/healthz", common.HealthCheck(serviceName, version))
	router.GET("/health/live", common.LivenessProbe(serviceName, version))

	healthChecks := map[string]func() error{
		"redis": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		},
	}
	router.GET("/health/ready", common.ReadinessProbe(serviceName, version, healthChecks))

	deepChecker := health.NewDeepChecker(health.DeepCheckerConfig{
		Version:  version,
		Timeout:  2 * time.Second,
		CacheTTL: 10 * time.Second,
	})
	deepChecker.SetRedis(redisClient.Client)
	if cfg.OCR.JudgeGatewayURL != "" {
		deepChecker.AddEndpoint("judge_gateway", cfg.OCR.JudgeGatewayURL)
	}
	router.GET("/health/deep", gin.WrapF(deepChecker.Handler()))

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit)

	internal := router.Group("/internal")
	internal.Use(middleware.InternalAPIKey())
	internal.Use(middleware.RateLimit(limiter, cfg.RateLimit))
	internal.POST("/validation/callback", middleware.Idempotency(redisClient), callbackHandler.Handle)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// buildResolver wires the dispatcher against every ImageKind the
// extraction worker recognizes. The db kind is left unregistered: no
// persistent-settings blob store is wired into this process, so a
// reference of kind db fails with "no resolver registered" rather than
// silently succeeding against a stub. The s3 and minio kinds share the
// same S3-compatible resolver, pointed at different endpoints, and are
// only registered when their connection env vars are actually set.
func buildResolver(ctx context.Context) (*ocrresolve.Dispatcher, error) {
	baseDir := os.Getenv("OCR_LOCAL_IMAGE_BASE_DIR")
	if baseDir == "" {
		baseDir = "/var/lib/ocrworker/images"
	}

	byKind := map[ocrtypes.ImageKind]ocrresolve.Resolver{
		ocrtypes.ImageKindLocalPath: ocrresolve.NewLocalPathResolver(baseDir),
	}

	if region := os.Getenv("OCR_S3_REGION"); region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config for s3 resolver: %w", err)
		}
		byKind[ocrtypes.ImageKindS3] = ocrresolve.NewS3Resolver(s3.NewFromConfig(awsCfg))
	}

	if endpoint := os.Getenv("OCR_MINIO_ENDPOINT"); endpoint != "" {
		region := os.Getenv("OCR_MINIO_REGION")
		if region == "" {
			region = "us-east-1"
		}
		minioCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				os.Getenv("OCR_MINIO_ACCESS_KEY"), os.Getenv("OCR_MINIO_SECRET_KEY"), "",
			)),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config for minio resolver: %w", err)
		}
		minioClient := s3.NewFromConfig(minioCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
		byKind[ocrtypes.ImageKindMinio] = ocrresolve.NewS3Resolver(minioClient)
	}

	return ocrresolve.NewDispatcher(byKind), nil
}

// buildEngineRegistry wires the engine registry. tesseract runs in-process
// against a local binary; llm_proxy_cloud prefers a direct Google Cloud
// Vision client when an API key is configured; every other tier (and
// llm_proxy_cloud as a fallback) runs as an HTTP sidecar, addressed by a
// per-tier env var.
func buildEngineRegistry(ctx context.Context) *ocrengine.Registry {
	adapters := map[string]ocrengine.Adapter{
		"tesseract": ocrengine.NewTesseractAdapter(os.Getenv("OCR_TESSERACT_BINARY")),
	}

	sidecars := map[string]string{
		"easyocr":          "OCR_EASYOCR_SIDECAR_URL",
		"paddleocr":        "OCR_PADDLEOCR_SIDECAR_URL",
		"rapidocr":         "OCR_RAPIDOCR_SIDECAR_URL",
		"apple_vision":     "OCR_APPLE_VISION_SIDECAR_URL",
		"llm_proxy_vision": "OCR_LLM_PROXY_VISION_SIDECAR_URL",
		"llm_proxy_cloud":  "OCR_LLM_PROXY_CLOUD_SIDECAR_URL",
	}
	for provider, envVar := range sidecars {
		endpoint := os.Getenv(envVar)
		if endpoint == "" {
			continue
		}
		adapters[provider] = ocrengine.NewSidecarAdapter(provider, endpoint, 30*time.Second)
	}

	if apiKey := os.Getenv("OCR_GOOGLE_VISION_API_KEY"); apiKey != "" {
		visionAdapter, err := ocrengine.NewGoogleVisionAdapter(ctx, apiKey)
		if err != nil {
			logger.Warn("failed to build google vision adapter, falling back to sidecar if configured", zap.Error(err))
		} else {
			adapters["llm_proxy_cloud"] = visionAdapter
		}
	}

	return ocrengine.NewRegistry(adapters)
}
