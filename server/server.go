package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/customeros/supportstack/api"
	"github.com/customeros/supportstack/api/handlers"
	"github.com/customeros/supportstack/config"
	"github.com/customeros/supportstack/internal"
	"github.com/customeros/supportstack/internal/cache"
	"github.com/customeros/supportstack/internal/cron"
	"github.com/customeros/supportstack/internal/logger"
	"github.com/customeros/supportstack/internal/repository"
	"github.com/customeros/supportstack/internal/tracing"
	"github.com/customeros/supportstack/services"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config       *config.Config
	log          logger.Logger
	db           *gorm.DB
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	redisClient  *redis.Client
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	repos := repository.InitRepositories(db)

	var redisClient *redis.Client
	if cfg.AppConfig.RedisURL != "" {
		redisClient, err = cache.Connect(context.Background(), cfg.AppConfig.RedisURL, appLogger)
		if err != nil {
			return nil, err
		}
	} else {
		appLogger.Warn("REDIS_URL not set, SNS message dedup is disabled")
	}

	svcs, err := services.InitServices(cfg, appLogger, repos, redisClient)
	if err != nil {
		return nil, err
	}

	cronManager := cron.NewCronManager(cfg, appLogger, kubernetesClient(appLogger), repos.JobRecordRepository, svcs.OutboundService)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		db:           db,
		router:       router,
		services:     svcs,
		repositories: repos,
		redisClient:  redisClient,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// kubernetesClient returns nil outside a cluster, which runs crons without leader election.
func kubernetesClient(log logger.Logger) kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		log.Info("Not running in a cluster, cron leader election disabled")
		return nil
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Warn("Could not create kubernetes client", zap.Error(err))
		return nil
	}
	return clientset
}

func (s *Server) Initialize(ctx context.Context) error {
	s.log.Info("Registering job listeners...")
	internal.InitListeners(s.services.EventsService.Subscriber, s.services, s.log)

	apiHandlers := handlers.InitHandlers(
		s.services.IngestionService,
		s.services.TicketService,
		s.log,
		s.healthDependencies(),
	)
	api.RegisterRoutes(s.router, apiHandlers, s.config.AppConfig.APIKey)

	return nil
}

func (s *Server) healthDependencies() map[string]handlers.Pinger {
	dependencies := map[string]handlers.Pinger{
		"database": handlers.PingFunc(func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if s.redisClient != nil {
		dependencies["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		})
	}
	return dependencies
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)
		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Error("panic recovered",
			zap.String("process", name),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())))
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		return err
	}

	s.log.Info("Starting job workers...")
	if err := s.services.EventsService.Subscriber.Start(ctx); err != nil {
		return err
	}
	s.log.Info("✅ Job workers started")

	if err := s.cronManager.Start(s.config.AppConfig.PodName, s.config.AppConfig.PodNamespace); err != nil {
		s.log.Warn("Cron manager failed to start", zap.Error(err))
	}

	go s.wrapGoroutine("http_server", func() {
		s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("❌ HTTP server error", zap.Error(err))
		}
	})
	s.log.Info("SupportStack is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown(cancel)
}

func (s *Server) waitForShutdown(cancel context.CancelFunc) error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	s.log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// stop accepting webhooks first so nothing new is enqueued
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("❌ HTTP server shutdown error", zap.Error(err))
	} else {
		s.log.Info("✅ HTTP server shut down")
	}

	s.cronManager.Stop()

	cancel()
	if err := s.services.EventsService.Close(); err != nil {
		s.log.Error("❌ Events service shutdown error", zap.Error(err))
	} else {
		s.log.Info("✅ Events service closed")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Redis close error", zap.Error(err))
		}
	}

	if s.tracerCloser != nil {
		_ = s.tracerCloser.Close()
	}
	_ = s.log.Sync()

	return nil
}
