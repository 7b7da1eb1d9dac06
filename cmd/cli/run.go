package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/config"
	"tacticaldesk/internal/handlers"
	"tacticaldesk/internal/metrics"
	"tacticaldesk/internal/observability"
	"tacticaldesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the tacticaldesk API server",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// app 运行期依赖
type app struct {
	cfg           *config.Config
	db            *gorm.DB
	registry      *prometheus.Registry
	engine        *automation.Engine
	automations   *services.AutomationService
	tickets       *services.TicketService
	notifications *services.NotificationService
	logger        *logrus.Logger
}

func run(cmd *cobra.Command, args []string) error {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 初始化日志系统
	if err := config.InitLogger(cfg); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := logrus.StandardLogger()

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.Monitoring.Tracing)
	if err != nil {
		logger.Warnf("Tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a := newApp(cfg, db, logger)

	// 设置 Gin 模式
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 启动服务器
	go func() {
		logger.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Errorf("Failed to flush traces: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("Server exited")
	return nil
}

// newApp 组装引擎、动作处理器与业务服务
func newApp(cfg *config.Config, db *gorm.DB, logger *logrus.Logger) *app {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	notifications := services.NewNotificationService(db, cfg.Notifications, logger, services.WithNotificationMetrics(m))
	registry := automation.NewRegistry()
	services.RegisterDefaultHandlers(registry, notifications, services.NewTicketActionService(db, logger))
	if missing := registry.Missing(); len(missing) > 0 {
		logger.Warnf("Actions without handlers: %v", missing)
	}

	engine := automation.NewEngine(
		services.NewAutomationStore(db, logger),
		registry,
		automation.NewEventLog(),
		logger,
		automation.WithMetrics(m),
	)

	return &app{
		cfg:           cfg,
		db:            db,
		registry:      reg,
		engine:        engine,
		automations:   services.NewAutomationService(db, logger),
		tickets:       services.NewTicketService(db, engine, cfg.Automation.DispatchTimeout, logger),
		notifications: notifications,
		logger:        logger,
	}
}

func (a *app) router() *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware())
	if a.cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(a.cfg.Monitoring.Tracing.ServiceName))
	}

	// 健康检查
	healthHandler := handlers.NewEnhancedHealthHandler(a.cfg, a.db, a.notifications.Breakers(), Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// 监控端点
	if a.cfg.Monitoring.Enabled {
		handlers.RegisterMetricsRoute(router, a.cfg.Monitoring.MetricsPath, a.registry)
	}

	// API 路由组
	api := router.Group("/api/v1")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(a.automations, a.engine, a.logger))
	handlers.RegisterTicketRoutes(api, handlers.NewTicketHandler(a.tickets, a.logger))
	handlers.RegisterWebhookRoutes(api, handlers.NewWebhookHandler(a.engine, a.logger))

	return router
}

// requestIDMiddleware 透传或生成 X-Request-ID
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
