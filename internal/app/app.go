package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "github.com/noah-isme/edunotice/api/swagger"
	"github.com/noah-isme/edunotice/internal/handler"
	"github.com/noah-isme/edunotice/internal/middleware"
	"github.com/noah-isme/edunotice/internal/repository"
	"github.com/noah-isme/edunotice/internal/service"
	"github.com/noah-isme/edunotice/pkg/cache"
	"github.com/noah-isme/edunotice/pkg/config"
	"github.com/noah-isme/edunotice/pkg/database"
	"github.com/noah-isme/edunotice/pkg/jobs"
	"github.com/noah-isme/edunotice/pkg/logger"
	"github.com/noah-isme/edunotice/pkg/mailer"
	corsmiddleware "github.com/noah-isme/edunotice/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/edunotice/pkg/middleware/requestid"
	"github.com/noah-isme/edunotice/pkg/storage"
)

// App wires configuration, infrastructure and services together.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	Metrics  *service.MetricsService
	Ingest   *service.IngestService
	Runs     *service.RunService
	Summary  *service.SummaryService
	Exports  *service.ExportService
	Tokens   *service.TokenService
	RunQueue *service.RunQueueService

	runLock *repository.RunLockRepository
	queue   *jobs.Queue
}

// New connects to Postgres (and Redis when the run lock is on) and builds every service.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.NewRunLockClient(ctx, cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a, err := build(cfg, log, db, redisClient)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, log *zap.Logger, db *sqlx.DB, redisClient *redis.Client) (*App, error) {
	a := &App{Config: cfg, Logger: log, DB: db, Redis: redisClient}

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}
	a.Metrics = metrics

	tx := database.NewTransactionManager(db)
	courses := repository.NewCourseRepository(db)
	labs := repository.NewLabRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	details := repository.NewDetailRepository(db)
	logs := repository.NewLogRepository(db)
	a.runLock = repository.NewRunLockRepository(redisClient, log)

	parser := service.NewCrawlParser(validator.New())
	resolver := service.NewEntityResolver(courses, labs, subs, log)
	a.Ingest = service.NewIngestService(resolver, details, subs, logs, tx, parser, metrics, log)

	renderer, err := service.NewNoticeRenderer(cfg.Notice)
	if err != nil {
		return a, err
	}
	sender := mailer.New(cfg.SMTP, cfg.Email, log)
	notifications := service.NewNotificationService(subs, details, tx, renderer, sender, log)
	dispatch := service.NewDispatchService(notifications, metrics, log).WithDirectories(labs, subs)
	a.Runs = service.NewRunService(parser, a.Ingest, dispatch, a.runLock,
		service.RunConfig{Lock: cfg.Redis.RunLock, LockTTL: cfg.Redis.RunLockTTL}, metrics, log)

	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return a, err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	a.Exports = service.NewExportService(store, signer,
		service.ExportConfig{APIPrefix: cfg.APIPrefix, Retention: cfg.Exports.Retention}, log, nil, nil)
	a.Summary = service.NewSummaryService(details, labs, subs, logs, renderer, sender, a.Exports, cfg.Email.SummaryRecipients, log)
	a.Tokens = service.NewTokenService(cfg.JWT)
	a.RunQueue = service.NewRunQueueService(store, a.Runs, cfg.Exports.MaxUploadBytes, log)

	return a, nil
}

// StartQueue starts the background worker executing uploaded runs.
func (a *App) StartQueue(ctx context.Context) {
	a.queue = jobs.NewQueue("runs", a.RunQueue.Handle, jobs.QueueConfig{
		Workers:    a.Config.Queue.Workers,
		BufferSize: a.Config.Queue.BufferSize,
		MaxRetries: a.Config.Queue.MaxRetries,
		RetryDelay: a.Config.Queue.RetryDelay,
		OnFailure:  a.RunQueue.OnFailure,
		Logger:     a.Logger,
	})
	a.RunQueue.AttachQueue(a.queue)
	a.queue.Start(ctx)
}

// Router builds the HTTP surface of serve mode.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.Logger, "/health", metricsPath))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if a.Metrics != nil {
		r.Use(middleware.Metrics(a.Metrics))
	}

	health := handler.NewMetricsHandler(a.Metrics, a.DB)
	r.GET("/health", health.Health)
	if a.Metrics != nil {
		r.GET(metricsPath, health.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	runs := handler.NewRunHandler(a.RunQueue, a.Logger)
	summary := handler.NewSummaryHandler(a.Summary, a.Ingest)
	exports := handler.NewExportHandler(a.Exports)

	api := r.Group(cfg.APIPrefix)
	api.GET("/exports/:token", exports.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(a.Tokens))
	secured.POST("/runs", runs.Submit)
	secured.GET("/runs/:id", runs.Status)
	secured.POST("/summary", summary.Send)
	secured.GET("/watermark", summary.Watermark)

	return r
}

// Close stops the queue and releases connections.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.queue != nil {
		a.queue.Stop()
	}
	var err error
	if a.runLock != nil {
		err = multierr.Append(err, a.runLock.Close())
	}
	if a.DB != nil {
		if closeErr := a.DB.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close database: %w", closeErr))
		}
	}
	return err
}
