package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"tacticaldesk/internal/config"
	"tacticaldesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// EnhancedHealthHandler 增强的健康检查处理器
type EnhancedHealthHandler struct {
	config   *config.Config
	db       *gorm.DB
	breakers []*services.CircuitBreaker
	version  string
	logger   *logrus.Logger
}

// NewEnhancedHealthHandler 创建增强的健康检查处理器
func NewEnhancedHealthHandler(cfg *config.Config, db *gorm.DB, breakers []*services.CircuitBreaker, version string) *EnhancedHealthHandler {
	return &EnhancedHealthHandler{
		config:   cfg,
		db:       db,
		breakers: breakers,
		version:  version,
		logger:   logrus.StandardLogger(),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

var errDatabaseNotInitialized = errors.New("database connection not initialized")

// Health 健康检查端点
func (h *EnhancedHealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	dbHealthy := true
	if h.config.Monitoring.HealthChecks.Database {
		dbHealthy = h.checkDatabase(ctx, &response)
	}
	notificationsHealthy := true
	if h.config.Monitoring.HealthChecks.Notifications {
		notificationsHealthy = h.checkNotifications(&response)
	}

	// 数据库不可用时引擎无法加载自动化；熔断打开只影响通知投递
	statusCode := http.StatusOK
	switch {
	case !dbHealthy:
		response.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case !notificationsHealthy:
		response.Status = "degraded"
	}

	c.JSON(statusCode, response)
}

// Ready 就绪检查端点，只检查数据库
func (h *EnhancedHealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]string)
	if err := h.pingDatabase(ctx); err != nil {
		checks["database"] = "not_ready"
		ready = false
	} else {
		checks["database"] = "ready"
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now().UTC(),
		"services":  checks,
	})
}

func (h *EnhancedHealthHandler) pingDatabase(ctx context.Context) error {
	if h.db == nil {
		return errDatabaseNotInitialized
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// checkDatabase 检查数据库状态
func (h *EnhancedHealthHandler) checkDatabase(ctx context.Context, response *HealthResponse) bool {
	start := time.Now()
	info := ServiceInfo{
		Details: map[string]interface{}{
			"driver": h.config.Database.Driver,
		},
	}

	if err := h.pingDatabase(ctx); err != nil {
		h.logger.WithError(err).Warn("database health check failed")
		info.Status = "unhealthy"
		info.Error = err.Error()
		response.Services["database"] = info
		return false
	}
	info.Status = "healthy"
	info.Latency = time.Since(start).String()
	response.Services["database"] = info
	return true
}

// checkNotifications 汇总通知渠道熔断器状态
func (h *EnhancedHealthHandler) checkNotifications(response *HealthResponse) bool {
	healthy := true
	stats := make([]map[string]any, 0, len(h.breakers))
	for _, breaker := range h.breakers {
		if breaker.State() == services.BreakerOpen {
			healthy = false
		}
		stats = append(stats, breaker.Stats())
	}

	info := ServiceInfo{Status: "healthy", Details: stats}
	if !healthy {
		info.Status = "degraded"
		info.Error = "notification circuit breaker open"
	}
	response.Services["notifications"] = info
	return healthy
}
