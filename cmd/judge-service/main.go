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

	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/consumer"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/language"
	"codejudge/internal/judge/observer"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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
	bg := context.Background()

	var metrics observer.MetricsRecorder = observer.Noop{}
	registry := prometheus.NewRegistry()
	if appCfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec, err := observer.NewPrometheus(registry)
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		metrics = rec
	}

	pool, err := security.NewIdentityPool(appCfg.Judge.Identities)
	if err != nil {
		return fmt.Errorf("init identity pool: %w", err)
	}
	if !pool.Exclusive() {
		logger.Warn(bg, "no restricted identities configured, sandboxed code runs as the service user")
		if !appCfg.Sandbox.EnableCgroup {
			logger.Warn(bg, "cgroups are disabled in dev mode, processes that leave their process group outlive the session")
		}
	}

	eng, err := engine.NewEngine(appCfg.Sandbox.toEngineConfig())
	if err != nil {
		return fmt.Errorf("init sandbox engine: %w", err)
	}
	manager, err := sandbox.NewManager(sandbox.Config{
		WorkRoot:    appCfg.Judge.WorkRoot,
		Limits:      appCfg.Judge.Limits,
		ScratchDirs: appCfg.Sandbox.ScratchDirs,
	}, eng, pool)
	if err != nil {
		return fmt.Errorf("init sandbox manager: %w", err)
	}

	judge, err := service.NewJudge(service.Config{
		Backend:      language.New(appCfg.Language.WithDefaults(language.DefaultConfig())),
		Opener:       service.NewSandboxOpener(manager),
		Metrics:      metrics,
		CloseTimeout: appCfg.Judge.CloseTimeout,
	})
	if err != nil {
		return fmt.Errorf("init judge: %w", err)
	}
	logger.Info(bg, "judge ready",
		zap.String("language", judge.Language()),
		zap.String("work_root", appCfg.Judge.WorkRoot),
		zap.Int("identities", pool.Size()),
	)

	ctx, stop := signal.NotifyContext(bg, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if appCfg.Kafka.enabled() {
		consume, err := newKafkaConsumer(gctx, appCfg, judge)
		if err != nil {
			return err
		}
		g.Go(consume)
	}

	httpServer := buildHTTPServer(appCfg, judge, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	g.Go(func() error {
		logger.Info(bg, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(bg, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(bg, defaultShutdownTimeout)
		defer cancel()
		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

// newKafkaConsumer checks that a broker is reachable and returns the
// consume loop to run under the service errgroup.
func newKafkaConsumer(ctx context.Context, appCfg *AppConfig, judge *service.Judge) (func() error, error) {
	queue, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		return nil, fmt.Errorf("init kafka: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, appCfg.Kafka.DialTimeout)
	defer cancel()
	if err := queue.Ping(pingCtx); err != nil {
		_ = queue.Close()
		return nil, fmt.Errorf("reach kafka brokers: %w", err)
	}
	cons, err := consumer.New(judge, queue, consumer.Config{
		ResultTopic: appCfg.Kafka.ResultTopic,
		Limits:      appCfg.Judge.intakeLimits(),
	})
	if err != nil {
		_ = queue.Close()
		return nil, fmt.Errorf("init consumer: %w", err)
	}
	opts := mq.ConsumeOptions{
		Group:       appCfg.Kafka.ConsumerGroup,
		Concurrency: appCfg.Kafka.Concurrency,
		Prefetch:    appCfg.Kafka.PrefetchCount,
	}
	return func() error {
		logger.Info(ctx, "kafka consumer started",
			zap.String("submit_topic", appCfg.Kafka.SubmitTopic),
			zap.String("result_topic", appCfg.Kafka.ResultTopic),
			zap.Int("concurrency", opts.Concurrency),
		)
		// Results of in-flight submissions are published before the producer closes.
		err := queue.Consume(ctx, appCfg.Kafka.SubmitTopic, cons.HandleMessage, opts)
		if closeErr := queue.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("kafka close: %w", closeErr))
		}
		return err
	}, nil
}

func buildHTTPServer(appCfg *AppConfig, judge controller.Judger, registry *prometheus.Registry) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	judgeController := controller.NewJudgeController(judge, appCfg.Judge.intakeLimits())
	judgeController.Register(router, commonmw.ConcurrencyLimit(appCfg.Server.MaxConcurrent))
	if appCfg.Metrics.Enabled {
		router.GET(appCfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
