package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/mdraihan27/maildoor/api/swagger"
	"github.com/mdraihan27/maildoor/internal/handler"
	"github.com/mdraihan27/maildoor/internal/middleware"
	"github.com/mdraihan27/maildoor/internal/models"
	"github.com/mdraihan27/maildoor/internal/repository"
	"github.com/mdraihan27/maildoor/internal/service"
	"github.com/mdraihan27/maildoor/pkg/cache"
	"github.com/mdraihan27/maildoor/pkg/config"
	"github.com/mdraihan27/maildoor/pkg/database"
	"github.com/mdraihan27/maildoor/pkg/jobs"
	"github.com/mdraihan27/maildoor/pkg/logger"
	corsmiddleware "github.com/mdraihan27/maildoor/pkg/middleware/cors"
	reqidmiddleware "github.com/mdraihan27/maildoor/pkg/middleware/requestid"
	"github.com/mdraihan27/maildoor/pkg/secrets"
	"github.com/mdraihan27/maildoor/pkg/storage"
)

// @title MailDoor API
// @version 1.0.0
// @description API-key issuance, validation, and audit logging for the mail relay
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	sugar := logr.Sugar()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		sugar.Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	userRepo := repository.NewUserRepository(db)
	keyRepo := repository.NewAPIKeyRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metricsSvc := service.NewMetricsService()

	auditSvc := service.NewAuditService(auditRepo, service.AuditConfig{
		FlushInterval: cfg.Audit.FlushInterval,
		BufferMaxSize: cfg.Audit.BufferMaxSize,
		Retention:     cfg.Audit.Retention,
	}, metricsSvc, logr)

	var encryptor *secrets.Encryptor
	if cfg.Encryption.Secret != "" {
		encryptor, err = secrets.NewEncryptor(cfg.Encryption.Secret)
		if err != nil {
			sugar.Fatalw("failed to init encryptor", "error", err)
		}
	} else {
		sugar.Warnw("ENCRYPTION_SECRET not set, app password storage disabled")
	}

	userSvc := service.NewUserService(userRepo, encryptor, logr)

	codec := secrets.NewCodec(cfg.APIKeys.SecretPrefix)
	keySvc := service.NewAPIKeyService(keyRepo, userRepo, codec, cfg.APIKeys.MaxActivePerUser, logr)

	touches := jobs.NewQueue("apikey-touches", keySvc.TouchQueueHandler, jobs.QueueConfig{
		Workers: 2,
		Logger:  logr,
	})
	keySvc.SetTouchQueue(touches)

	deliveries := jobs.NewQueue("email-deliveries", deliverEmail(userSvc, logr), jobs.QueueConfig{
		Workers:    4,
		BufferSize: 64,
		Logger:     logr,
	})

	authSvc := service.NewAuthService(cfg.JWT, logr)

	exportSvc := service.NewExportService(auditRepo, logr)
	archive, err := storage.NewArchive(cfg.Exports.Dir)
	if err != nil {
		sugar.Warnw("export archive unavailable, downloads disabled", "dir", cfg.Exports.Dir, "error", err)
	} else {
		signer := storage.NewDownloadSigner(cfg.Exports.SigningSecret, cfg.Exports.DownloadTTL)
		exportSvc.SetArchive(archive, signer)
	}

	scheduler := jobs.NewScheduler(logr)
	scheduler.Register("audit-purge", cfg.Audit.PurgeInterval, func(ctx context.Context) error {
		_, err := auditSvc.PurgeExpired(ctx)
		return err
	})
	scheduler.Register("apikey-sweep", 24*time.Hour, func(ctx context.Context) error {
		_, err := keySvc.SweepRevoked(ctx, time.Now().Add(-30*24*time.Hour))
		return err
	})
	if archive != nil {
		scheduler.Register("export-cleanup", time.Hour, func(ctx context.Context) error {
			_, err := exportSvc.CleanupArchivedExports(cfg.Exports.Retention)
			return err
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	touches.Start(ctx)
	deliveries.Start(ctx)
	scheduler.Start(ctx)

	keyHandler := handler.NewAPIKeyHandler(keySvc, auditSvc)
	userHandler := handler.NewUserHandler(userSvc, auditSvc)
	auditHandler := handler.NewAuditHandler(auditSvc, exportSvc)
	relayHandler := handler.NewRelayHandler(userSvc, auditSvc, deliveries)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	// Archived export downloads authenticate via the signed token alone.
	api.GET("/admin/audit/export/download", auditHandler.Download)

	authed := api.Group("", middleware.JWT(authSvc))
	{
		authed.POST("/keys", keyHandler.Create)
		authed.GET("/keys", keyHandler.List)
		authed.GET("/keys/:id", keyHandler.Get)
		authed.POST("/keys/:id/revoke", keyHandler.Revoke)
		authed.DELETE("/keys/:id", keyHandler.Delete)

		authed.GET("/users/me", userHandler.Me)
		authed.GET("/users/:id", middleware.RequireRolesOrSelf(models.RoleAdmin, models.RoleSuperAdmin), userHandler.Get)
		authed.PUT("/users/me", userHandler.UpdateMe)
		authed.PUT("/users/me/app-password", userHandler.SetAppPassword)
		authed.DELETE("/users/me/app-password", userHandler.RemoveAppPassword)

		authed.GET("/audit/me", auditHandler.ListMine)
	}

	admin := authed.Group("/admin", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	{
		admin.GET("/users", userHandler.List)
		admin.GET("/users/:id", userHandler.Get)
		admin.PUT("/users/:id/role", userHandler.ChangeRole)
		admin.POST("/users/:id/suspend", userHandler.Suspend)
		admin.POST("/users/:id/reactivate", userHandler.Reactivate)

		admin.GET("/audit", auditHandler.List)
		admin.GET("/audit/trail/:requestId", auditHandler.Trail)
		admin.GET("/audit/export", auditHandler.Export)
	}

	relay := api.Group("/relay",
		middleware.APIKeyAuth(keySvc, auditSvc, metricsSvc),
		middleware.RateLimitPerKey(redisClient, cfg.APIKeys.RateLimitWindow, cfg.APIKeys.RateLimitMax, metricsSvc, logr),
	)
	relay.POST("/send", relayHandler.Send)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sugar.Infow("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("http shutdown", "error", err)
	}

	scheduler.Stop()
	touches.Stop()
	deliveries.Stop()

	auditSvc.Shutdown(shutdownCtx)

	sugar.Infow("server stopped")
}

// deliverEmail drains the relay queue. Actual SMTP transport lives in a
// separate worker fleet; this handler resolves the sender's app password to
// fail fast on configuration drift and records the handoff.
func deliverEmail(users *service.UserService, logr *zap.Logger) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(handler.RelayMessage)
		if !ok {
			return fmt.Errorf("unexpected payload for job %s", job.ID)
		}

		if _, err := users.AppPassword(ctx, msg.OwnerID); err != nil {
			return fmt.Errorf("resolve app password for %s: %w", msg.OwnerID, err)
		}

		logr.Sugar().Infow("email handed off for delivery",
			"message_id", job.ID,
			"owner_id", msg.OwnerID,
			"to", msg.To,
		)
		return nil
	}
}
