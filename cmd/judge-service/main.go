package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgebox/internal/common/cache"
	commonmw "judgebox/internal/common/http/middleware"
	"judgebox/internal/common/mq"
	"judgebox/internal/common/ratelimit"
	"judgebox/internal/judge/controller"
	"judgebox/internal/judge/repository"
	"judgebox/internal/judge/sandbox"
	"judgebox/internal/judge/sandbox/engine"
	"judgebox/internal/judge/sandbox/limits"
	"judgebox/internal/judge/sandbox/observer"
	"judgebox/internal/judge/sandbox/profile"
	"judgebox/internal/judge/sandbox/runner"
	"judgebox/internal/judge/sandbox/spec"
	"judgebox/internal/judge/sandbox/workspace"
	"judgebox/internal/judge/service"
	"judgebox/pkg/utils/logger"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	policy, err := limits.NewPolicy(appCfg.Limits)
	if err != nil {
		return fmt.Errorf("init resource policy failed: %w", err)
	}
	languages, err := profile.NewRegistry(appCfg.Language.Languages)
	if err != nil {
		return fmt.Errorf("init language registry failed: %w", err)
	}
	taskProfiles := appCfg.Language.Profiles
	if len(taskProfiles) == 0 {
		taskProfiles = profile.DefaultTaskProfiles()
	}

	eng, closeEngine, err := buildEngine(appCfg.Sandbox, policy.OutputMaxBytes(), profile.NewTaskProfiles(taskProfiles))
	if err != nil {
		return err
	}
	defer closeEngine()

	workspaces, err := workspace.NewManager(appCfg.Judge.WorkRoot, workspaceOptions(appCfg.Sandbox.Backend, policy.RunAs(), os.Geteuid())...)
	if err != nil {
		return fmt.Errorf("init workspace manager failed: %w", err)
	}

	metrics := observer.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	evaluator, err := sandbox.NewEvaluator(sandbox.Config{
		Languages:  languages,
		Workspaces: workspaces,
		Runner:     runner.NewRunnerWithObserver(eng, metrics),
		Policy:     policy,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("init evaluator failed: %w", err)
	}

	var redisCache *cache.RedisCache
	var results *repository.ResultRepository
	if appCfg.Redis.Addr != "" {
		redisCache, err = cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		results = repository.NewResultRepository(redisCache, appCfg.Results.TTL)
	} else {
		logger.Warn(ctx, "redis is not configured, results are not stored and rate limits are per process")
	}

	var publisher repository.VerdictEventPublisher
	if appCfg.Events.Enabled {
		producer, err := mq.NewKafkaProducer(appCfg.Events.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka producer failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQVerdictEventPublisher(producer, appCfg.Events.Topic)
	}

	judgeSvc, err := service.NewService(service.Config{
		Judge:           evaluator,
		Results:         results,
		Publisher:       publisher,
		Metrics:         metrics,
		Killer:          eng,
		MaxConcurrent:   appCfg.Judge.MaxConcurrent,
		QueueWait:       appCfg.Judge.QueueWait,
		EvaluateTimeout: appCfg.Judge.EvaluateTimeout,
		StoreTimeout:    appCfg.Results.Timeout,
		MaxCodeBytes:    appCfg.Judge.MaxCodeBytes,
	})
	if err != nil {
		return fmt.Errorf("init judge service failed: %w", err)
	}
	evaluator.SetStatusReporter(judgeSvc)

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	evaluateLimiter, executeLimiter := buildLimiters(bgCtx, appCfg.RateLimit, redisCache)

	httpServer := buildHTTPServer(appCfg.Server, appCfg.CORS, controller.NewJudgeController(judgeSvc, appCfg.Server.ServiceName), evaluateLimiter, executeLimiter)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("backend", string(appCfg.Sandbox.Backend)),
			zap.Strings("languages", languages.IDs()),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	ctxShutdown, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

// workspaceOptions lets the sandbox identity write into workspaces. Only root can chown, so an
// unprivileged service running the docker backend opens the directories up instead.
func workspaceOptions(backend engine.Backend, runAs spec.Identity, euid int) []workspace.Option {
	opts := []workspace.Option{workspace.WithOwner(runAs)}
	if backend == engine.BackendDocker && euid != 0 {
		opts = append(opts, workspace.WithSharedAccess())
	}
	return opts
}

func buildEngine(cfg SandboxConfig, outputMaxBytes int64, resolver engine.ProfileResolver) (engine.Engine, func(), error) {
	switch cfg.Backend {
	case engine.BackendDocker:
		eng, err := engine.NewDockerEngine(cfg.toEngineConfig(outputMaxBytes))
		if err != nil {
			return nil, nil, fmt.Errorf("init docker engine failed: %w", err)
		}
		return eng, func() { _ = eng.Close() }, nil
	default:
		eng, err := engine.NewEngine(cfg.toEngineConfig(outputMaxBytes), resolver)
		if err != nil {
			return nil, nil, fmt.Errorf("init sandbox engine failed: %w", err)
		}
		return eng, func() {}, nil
	}
}

// buildLimiters returns nil limiters when rate limiting is disabled.
func buildLimiters(ctx context.Context, cfg RateLimitConfig, redisCache *cache.RedisCache) (ratelimit.Limiter, ratelimit.Limiter) {
	if !cfg.Enabled {
		return nil, nil
	}
	build := func(policy ratelimit.Policy) ratelimit.Limiter {
		local := ratelimit.NewLocalLimiter(policy)
		go local.Run(ctx, cfg.SweepInterval)
		if redisCache == nil {
			return local
		}
		return ratelimit.NewRedisLimiter(redisCache, policy, cfg.RedisTimeout, local)
	}
	return build(cfg.Evaluate), build(cfg.Execute)
}

func buildHTTPServer(cfg ServerConfig, corsCfg commonmw.CORSConfig, judgeController *controller.JudgeController, evaluateLimiter, executeLimiter ratelimit.Limiter) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger.L(), true))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(corsCfg))
	router.Use(ginMetrics())

	router.GET("/health", judgeController.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/submissions/:id", judgeController.GetResult)
	router.POST("/evaluate", withLimit(evaluateLimiter, "evaluate", judgeController.Evaluate)...)
	router.POST("/execute", withLimit(executeLimiter, "execute", judgeController.Execute)...)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func withLimit(limiter ratelimit.Limiter, route string, handler gin.HandlerFunc) []gin.HandlerFunc {
	if limiter == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{commonmw.RateLimitMiddleware(limiter, route), handler}
}

func ginMetrics() gin.HandlerFunc {
	p := ginprometheus.NewWithConfig(ginprometheus.Config{
		Subsystem:          "gin",
		DisableBodyReading: true,
	})
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
		return c.FullPath()
	}
	return p.HandlerFunc()
}
